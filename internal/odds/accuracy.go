// Package odds derives per-model payout multipliers from the models' recent
// track record.
package odds

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

// DefaultWindow is the number of most recent resolved rounds that make up a
// model's rolling win rate.
const DefaultWindow = 10

// ResolvedLister is the slice of the prediction store the tracker reads.
type ResolvedLister interface {
	ListResolvedByModel(ctx context.Context, modelName string, limit int) ([]domain.PredictionRecord, error)
}

// Tracker computes rolling win rates.
type Tracker struct {
	records ResolvedLister
	window  int
}

// NewTracker creates a Tracker over the given window. A non-positive window
// falls back to DefaultWindow.
func NewTracker(records ResolvedLister, window int) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{records: records, window: window}
}

// Window returns the number of samples considered.
func (t *Tracker) Window() int {
	return t.window
}

// WinRate returns wins / (wins + losses) over the model's most recent
// resolved records. A model without resolved records has a win rate of 0.
func (t *Tracker) WinRate(ctx context.Context, modelName string) (decimal.Decimal, error) {
	if modelName == "" {
		return decimal.Zero, fmt.Errorf("odds: win rate: %w: empty model name", domain.ErrValidation)
	}

	recs, err := t.records.ListResolvedByModel(ctx, modelName, t.window)
	if err != nil {
		return decimal.Zero, fmt.Errorf("odds: list resolved %s: %w", modelName, err)
	}
	return WinRate(recs, t.window), nil
}

// WinRate computes the win rate of at most window records, which are
// expected newest first. Records without a graded outcome are ignored.
func WinRate(recs []domain.PredictionRecord, window int) decimal.Decimal {
	var wins, losses int64
	for _, r := range recs {
		if wins+losses >= int64(window) {
			break
		}
		switch r.Outcome {
		case domain.OutcomeWin:
			wins++
		case domain.OutcomeLose:
			losses++
		}
	}
	if wins+losses == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(wins).Div(decimal.NewFromInt(wins + losses))
}
