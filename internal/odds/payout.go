package odds

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Default calculator parameters.
var (
	DefaultMargin        = decimal.RequireFromString("0.01")
	DefaultMaxMultiplier = decimal.NewFromInt(5)
)

// Calculator turns a win rate into a bounded payout multiplier: the inverse
// of the win rate plus a house margin, capped at a maximum. A zero win rate
// maps straight to the maximum.
type Calculator struct {
	margin decimal.Decimal
	max    decimal.Decimal
}

// NewCalculator creates a Calculator. A non-positive max falls back to
// DefaultMaxMultiplier and a negative margin to zero.
func NewCalculator(margin, max decimal.Decimal) *Calculator {
	if !max.IsPositive() {
		max = DefaultMaxMultiplier
	}
	if margin.IsNegative() {
		margin = decimal.Zero
	}
	return &Calculator{margin: margin, max: max}
}

// Max returns the multiplier cap.
func (c *Calculator) Max() decimal.Decimal {
	return c.max
}

// Multiplier returns min(1/w + margin, max), or max when w is not positive.
func (c *Calculator) Multiplier(w decimal.Decimal) decimal.Decimal {
	if !w.IsPositive() {
		return c.max
	}
	m := decimal.NewFromInt(1).Div(w).Add(c.margin)
	return decimal.Min(m, c.max)
}

// Pricer combines a Tracker and a Calculator to quote the multiplier a model
// gets for a new round.
type Pricer struct {
	tracker *Tracker
	calc    *Calculator
}

// NewPricer creates a Pricer.
func NewPricer(tracker *Tracker, calc *Calculator) *Pricer {
	return &Pricer{tracker: tracker, calc: calc}
}

// Quote is a model's current win rate and the multiplier derived from it.
type Quote struct {
	ModelName  string          `json:"model_name"`
	WinRate    decimal.Decimal `json:"win_rate"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// Quote prices modelName from its current track record.
func (p *Pricer) Quote(ctx context.Context, modelName string) (Quote, error) {
	w, err := p.tracker.WinRate(ctx, modelName)
	if err != nil {
		return Quote{}, fmt.Errorf("odds: quote %s: %w", modelName, err)
	}
	return Quote{
		ModelName:  modelName,
		WinRate:    w,
		Multiplier: p.calc.Multiplier(w),
	}, nil
}
