package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar of the traded symbol.
type Candle struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// ModelFailure records a model that could not produce a prediction for a
// cycle.
type ModelFailure struct {
	ModelName string
	Err       error
}

// Cycle is everything one call to the prediction source returns. The target
// timestamp and previous close travel with the cycle through every step.
type Cycle struct {
	TargetTimestamp time.Time
	PreviousClose   decimal.Decimal
	Predictions     map[string]string
	RecentCandles   []Candle
	Failures        []ModelFailure
}

// CloseAt returns the close of the candle starting at ts, if the cycle
// observed it.
func (c Cycle) CloseAt(ts time.Time) (decimal.Decimal, bool) {
	for _, cd := range c.RecentCandles {
		if cd.Timestamp.Equal(ts) {
			return cd.Close, true
		}
	}
	return decimal.Zero, false
}

// LatestCandle returns the most recent candle of the cycle.
func (c Cycle) LatestCandle() (Candle, bool) {
	if len(c.RecentCandles) == 0 {
		return Candle{}, false
	}
	latest := c.RecentCandles[0]
	for _, cd := range c.RecentCandles[1:] {
		if cd.Timestamp.After(latest.Timestamp) {
			latest = cd
		}
	}
	return latest, true
}
