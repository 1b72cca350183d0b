package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is the graded result of a prediction record.
type Outcome string

const (
	OutcomeUnknown Outcome = "unknown"
	OutcomeWin     Outcome = "win"
	OutcomeLose    Outcome = "lose"
)

// Resolved reports whether the outcome has been graded.
func (o Outcome) Resolved() bool {
	return o == OutcomeWin || o == OutcomeLose
}

// PredictionRecord is one model's forecast for a round. PayoutMultiplier is
// frozen when the record is created and is never rewritten.
type PredictionRecord struct {
	RoundID          string              `json:"round_id"`
	ModelName        string              `json:"model_name"`
	TargetTimestamp  time.Time           `json:"target_timestamp"`
	RawPrediction    string              `json:"raw_prediction"`
	PredictedClose   decimal.NullDecimal `json:"predicted_close"`
	PreviousClose    decimal.Decimal     `json:"previous_close"`
	PayoutMultiplier decimal.Decimal     `json:"payout_multiplier"`
	ActualClose      decimal.NullDecimal `json:"actual_close"`
	Accuracy         decimal.NullDecimal `json:"accuracy"`
	Outcome          Outcome             `json:"outcome"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        *time.Time          `json:"updated_at,omitempty"`
}

// Grade is the result of comparing a prediction with the realized close.
type Grade struct {
	ActualClose decimal.Decimal
	Accuracy    decimal.NullDecimal
	Outcome     Outcome
}

// GradePrediction scores predicted against actual. Accuracy is
// 1 - |actual - predicted| / actual and the outcome is a win only when the
// accuracy is strictly above threshold. A zero actual close or a missing
// prediction leaves accuracy undefined and grades the record as a loss.
func GradePrediction(predicted decimal.NullDecimal, actual, threshold decimal.Decimal) Grade {
	g := Grade{ActualClose: actual, Outcome: OutcomeLose}
	if !predicted.Valid || actual.IsZero() {
		return g
	}

	acc := decimal.NewFromInt(1).Sub(actual.Sub(predicted.Decimal).Abs().Div(actual))
	g.Accuracy = decimal.NullDecimal{Decimal: acc, Valid: true}
	if acc.GreaterThan(threshold) {
		g.Outcome = OutcomeWin
	}
	return g
}

// ParsePrice reads a model's raw answer as a price. Surrounding whitespace
// and trailing dots are ignored; anything else that is not a number yields
// an invalid value.
func ParsePrice(raw string) decimal.NullDecimal {
	s := strings.TrimRight(strings.TrimSpace(raw), ".")
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: v, Valid: true}
}
