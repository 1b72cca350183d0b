package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

// DefaultCandleTTL keeps observed closes long enough to resolve rounds whose
// cycle was missed for a few hours.
const DefaultCandleTTL = 24 * time.Hour

// CandleCache implements domain.CandleCache with one Redis hash per symbol at
// "candles:{symbol}", field = candle open time (unix seconds), value = close.
type CandleCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCandleCache creates a CandleCache. ttl <= 0 uses DefaultCandleTTL.
func NewCandleCache(c *Client, ttl time.Duration) *CandleCache {
	if ttl <= 0 {
		ttl = DefaultCandleTTL
	}
	return &CandleCache{rdb: c.Underlying(), ttl: ttl}
}

func candleKey(symbol string) string {
	return "candles:" + symbol
}

func candleField(ts time.Time) string {
	return strconv.FormatInt(ts.UTC().Unix(), 10)
}

// SetCandles stores the close of every candle and refreshes the key TTL.
func (cc *CandleCache) SetCandles(ctx context.Context, symbol string, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	fields := make(map[string]any, len(candles))
	for _, c := range candles {
		fields[candleField(c.Timestamp)] = c.Close.String()
	}

	key := candleKey(symbol)
	pipe := cc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, cc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set candles %s: %w", symbol, err)
	}
	return nil
}

// GetClose returns the cached close of the candle opening at ts, or
// domain.ErrNotFound.
func (cc *CandleCache) GetClose(ctx context.Context, symbol string, ts time.Time) (decimal.Decimal, error) {
	raw, err := cc.rdb.HGet(ctx, candleKey(symbol), candleField(ts)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, fmt.Errorf("redis: close %s@%s: %w", symbol, ts.UTC().Format(time.RFC3339), domain.ErrNotFound)
		}
		return decimal.Zero, fmt.Errorf("redis: get close %s: %w", symbol, err)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis: parse close %s %q: %w", symbol, raw, err)
	}
	return v, nil
}

var _ domain.CandleCache = (*CandleCache)(nil)
