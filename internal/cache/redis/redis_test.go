package redis

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	ts := time.Date(2025, 6, 18, 10, 30, 0, 0, time.FixedZone("UTC+2", 2*3600))
	assert.Equal(t, "candles:DOGEUSDT", candleKey("DOGEUSDT"))
	assert.Equal(t, "1750235400", candleField(ts))
	assert.Equal(t, "ratelimit:api:1.2.3.4", rateLimitKey("api:1.2.3.4"))
	assert.Equal(t, "lock:arena:cycle", lockKey("arena:cycle"))
}

func TestPayloadBytes(t *testing.T) {
	b, ok := payloadBytes("abc")
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), b)

	b, ok = payloadBytes([]byte("xyz"))
	assert.True(t, ok)
	assert.Equal(t, []byte("xyz"), b)

	_, ok = payloadBytes(42)
	assert.False(t, ok)
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.True(t, strings.Contains(slidingWindowLua, "ZREMRANGEBYSCORE"))
	assert.True(t, strings.Contains(slidingWindowLua, "ZADD"))
}

func TestReleaseScriptChecksToken(t *testing.T) {
	assert.Contains(t, releaseLua, "redis.call('GET', KEYS[1]) == ARGV[1]")
	assert.Contains(t, releaseLua, "DEL")
}
