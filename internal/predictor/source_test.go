package predictor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/modelarena/internal/domain"
	"github.com/alanyoungcy/modelarena/internal/platform/binance"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeKlines struct {
	ks  []binance.Kline
	err error
}

func (f *fakeKlines) Klines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error) {
	return f.ks, f.err
}

type fakeInvoker struct {
	mu      sync.Mutex
	answers map[string]string
	bodies  map[string]string
}

func (f *fakeInvoker) Invoke(ctx context.Context, modelID string, body []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bodies == nil {
		f.bodies = map[string]string{}
	}
	f.bodies[modelID] = string(body)
	a, ok := f.answers[modelID]
	if !ok {
		return nil, fmt.Errorf("throttled: %w", domain.ErrExternal)
	}
	return []byte(a), nil
}

func kline(i int, close string) binance.Kline {
	ts := t0.Add(time.Duration(i) * 5 * time.Minute)
	c := decimal.RequireFromString(close)
	return binance.Kline{
		Candle:    domain.Candle{Timestamp: ts, Open: c, High: c, Low: c, Close: c, Volume: decimal.NewFromInt(1)},
		CloseTime: ts.Add(5*time.Minute - time.Millisecond),
	}
}

func TestModelSourceFetch(t *testing.T) {
	klines := &fakeKlines{ks: []binance.Kline{kline(0, "0.30"), kline(1, "0.31"), kline(2, "0.32")}}
	inv := &fakeInvoker{answers: map[string]string{
		"meta.llama3-8b-instruct-v1:0": `{"generation":" 0.3210."}`,
		"amazon.nova-lite-v1:0":        `{"output":{"message":{"content":[{"text":"0.3199"}]}}}`,
	}}
	src, err := NewModelSource(ModelSourceConfig{
		Symbol:   "DOGEUSDT",
		Interval: "5m",
		Models: []Model{
			{Name: "llama", ID: "meta.llama3-8b-instruct-v1:0"},
			{Name: "nova", ID: "amazon.nova-lite-v1:0"},
			{Name: "jamba", ID: "ai21.jamba-1-5-mini-v1:0"},
		},
	}, klines, inv, nil, nil)
	require.NoError(t, err)
	// The third bar is still forming.
	src.now = func() time.Time { return t0.Add(12 * time.Minute) }

	cycle, err := src.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, t0.Add(15*time.Minute), cycle.TargetTimestamp)
	assert.Equal(t, "0.32", cycle.PreviousClose.String())
	assert.Equal(t, map[string]string{"llama": " 0.3210.", "nova": "0.3199"}, cycle.Predictions)
	require.Len(t, cycle.RecentCandles, 2)
	assert.Equal(t, t0.Add(5*time.Minute), cycle.RecentCandles[1].Timestamp)

	require.Len(t, cycle.Failures, 1)
	assert.Equal(t, "jamba", cycle.Failures[0].ModelName)
	assert.True(t, errors.Is(cycle.Failures[0].Err, domain.ErrExternal))

	assert.Contains(t, inv.bodies["meta.llama3-8b-instruct-v1:0"], "for the last 3 candles")
}

func TestModelSourceMarketDataFailure(t *testing.T) {
	src, err := NewModelSource(ModelSourceConfig{
		Symbol: "DOGEUSDT", Interval: "5m",
		Models: []Model{{Name: "llama", ID: "meta.llama3"}},
	}, &fakeKlines{err: fmt.Errorf("down: %w", domain.ErrExternal)}, &fakeInvoker{}, nil, nil)
	require.NoError(t, err)

	_, err = src.Fetch(context.Background())
	assert.True(t, errors.Is(err, domain.ErrExternal))

	src.klines = &fakeKlines{}
	_, err = src.Fetch(context.Background())
	assert.True(t, errors.Is(err, domain.ErrExternal))
}

func TestNewModelSourceValidation(t *testing.T) {
	base := ModelSourceConfig{Symbol: "DOGEUSDT", Interval: "5m", Models: []Model{{Name: "a", ID: "meta.x"}}}

	bad := base
	bad.Interval = "1M"
	_, err := NewModelSource(bad, nil, nil, nil, nil)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	bad = base
	bad.Models = []Model{{Name: "a", ID: "meta.x"}, {Name: "a", ID: "cohere.y"}}
	_, err = NewModelSource(bad, nil, nil, nil, nil)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	bad = base
	bad.Models = []Model{{Name: "a", ID: "unknown.model"}}
	_, err = NewModelSource(bad, nil, nil, nil, nil)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	bad = base
	bad.Models = nil
	_, err = NewModelSource(bad, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestBuildPrompt(t *testing.T) {
	c := domain.Candle{Timestamp: t0, Open: decimal.RequireFromString("0.3"), Close: decimal.RequireFromString("0.31")}
	p, err := BuildPrompt([]domain.Candle{c})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, "Given the following candlestick data"))
	assert.Contains(t, p, `"timestamp":"2025-01-01T00:00:00Z"`)
	assert.Contains(t, p, `"close":"0.31"`)
	assert.True(t, strings.HasSuffix(p, "no explanation."))
}

func TestParseInterval(t *testing.T) {
	tests := map[string]time.Duration{
		"1m": time.Minute, "5m": 5 * time.Minute, "1h": time.Hour, "1d": 24 * time.Hour, "1w": 7 * 24 * time.Hour,
	}
	for in, want := range tests {
		got, err := ParseInterval(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "m", "0m", "1M", "xm"} {
		_, err := ParseInterval(in)
		assert.Error(t, err, in)
	}
}

func TestHTTPSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		_, _ = w.Write([]byte(`{
			"target_timestamp": "2025-01-01T00:15:00Z",
			"previous_close": "0.32",
			"predictions": {"llama": "0.3210"},
			"recent_candles": [{"timestamp":"2025-01-01T00:10:00Z","open":"0.31","high":"0.33","low":"0.30","close":"0.32","volume":"10"}],
			"failures": {"nova": "throttled", "jamba": "timeout"}
		}`))
	}))
	defer srv.Close()

	cycle, err := NewHTTPSource(srv.URL, "secret", time.Second).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, t0.Add(15*time.Minute), cycle.TargetTimestamp)
	assert.Equal(t, "0.32", cycle.PreviousClose.String())
	assert.Equal(t, "0.3210", cycle.Predictions["llama"])
	got, ok := cycle.CloseAt(t0.Add(10 * time.Minute))
	assert.True(t, ok)
	assert.Equal(t, "0.32", got.String())
	require.Len(t, cycle.Failures, 2)
	assert.Equal(t, "jamba", cycle.Failures[0].ModelName)
	assert.Equal(t, "nova", cycle.Failures[1].ModelName)
}

func TestHTTPSourceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"predictions":{}}`))
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL+"/down", "", time.Second).Fetch(context.Background())
	assert.True(t, errors.Is(err, domain.ErrExternal))

	_, err = NewHTTPSource(srv.URL+"/ok", "", time.Second).Fetch(context.Background())
	assert.True(t, errors.Is(err, domain.ErrExternal))
	assert.Contains(t, err.Error(), "no target timestamp")
}
