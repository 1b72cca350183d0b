package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

// CandleCache implements domain.CandleCache for runs without Redis.
type CandleCache struct {
	mu     sync.RWMutex
	closes map[string]map[int64]decimal.Decimal
}

// NewCandleCache creates an empty CandleCache.
func NewCandleCache() *CandleCache {
	return &CandleCache{closes: make(map[string]map[int64]decimal.Decimal)}
}

// SetCandles records the close of every candle.
func (c *CandleCache) SetCandles(_ context.Context, symbol string, candles []domain.Candle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.closes[symbol]
	if !ok {
		m = make(map[int64]decimal.Decimal)
		c.closes[symbol] = m
	}
	for _, cd := range candles {
		m[cd.Timestamp.UTC().Unix()] = cd.Close
	}
	return nil
}

// GetClose returns the cached close of the candle starting at ts.
func (c *CandleCache) GetClose(_ context.Context, symbol string, ts time.Time) (decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.closes[symbol][ts.UTC().Unix()]
	if !ok {
		return decimal.Zero, fmt.Errorf("memory: close %s@%d: %w", symbol, ts.Unix(), domain.ErrNotFound)
	}
	return v, nil
}
