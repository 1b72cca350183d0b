package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// FailureKind classifies a per-unit failure inside an otherwise completed
// operation.
type FailureKind string

const (
	FailureValidation FailureKind = "validation"
	FailureExternal   FailureKind = "external"
	FailureInternal   FailureKind = "internal"
)

// UnitFailure is one failed unit (a model, a bid, a user payout) of a larger
// operation.
type UnitFailure struct {
	Unit  string      `json:"unit"`
	Kind  FailureKind `json:"kind"`
	Error string      `json:"error"`
}

// NewUnitFailure classifies err by the sentinel it wraps.
func NewUnitFailure(unit string, err error) UnitFailure {
	kind := FailureInternal
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		kind = FailureValidation
	case errors.Is(err, ErrExternal):
		kind = FailureExternal
	}
	return UnitFailure{Unit: unit, Kind: kind, Error: err.Error()}
}

// RecordReport summarises recording the predictions of a round.
type RecordReport struct {
	RoundID  string        `json:"round_id"`
	Recorded []string      `json:"recorded"`
	Existing []string      `json:"existing,omitempty"`
	Failures []UnitFailure `json:"failures,omitempty"`
}

// ResolveReport summarises grading the predictions of a round.
type ResolveReport struct {
	RoundID         string                     `json:"round_id"`
	TargetTimestamp time.Time                  `json:"target_timestamp"`
	ActualClose     decimal.Decimal            `json:"actual_close"`
	Graded          []PredictionRecord         `json:"graded"`
	Skipped         int                        `json:"skipped"`
	Winners         map[string]decimal.Decimal `json:"winners"`
}

// BidReport summarises settling the bids of a round.
type BidReport struct {
	RoundID  string        `json:"round_id"`
	Won      int           `json:"won"`
	Lost     int           `json:"lost"`
	Skipped  int           `json:"skipped"`
	Payouts  []Payout      `json:"payouts"`
	Failures []UnitFailure `json:"failures,omitempty"`
}

// DispatchReport summarises paying out the winners of a round.
type DispatchReport struct {
	RoundID  string        `json:"round_id"`
	Paid     []string      `json:"paid"`
	Skipped  int           `json:"skipped"`
	Failures []UnitFailure `json:"failures,omitempty"`
}

// SettlementReport is the full outcome of settling one round. It is archived
// and published once the round is processed.
type SettlementReport struct {
	RoundID         string         `json:"round_id"`
	TargetTimestamp time.Time      `json:"target_timestamp"`
	Resolve         ResolveReport  `json:"resolve"`
	Bids            BidReport      `json:"bids"`
	Dispatch        DispatchReport `json:"dispatch"`
	SettledAt       time.Time      `json:"settled_at"`
}

// Failures returns every unit failure across all settlement stages.
func (r SettlementReport) Failures() []UnitFailure {
	out := make([]UnitFailure, 0, len(r.Bids.Failures)+len(r.Dispatch.Failures))
	out = append(out, r.Bids.Failures...)
	out = append(out, r.Dispatch.Failures...)
	return out
}

// CycleReport is the outcome of one full invocation: the round opened for
// the new target and every older round settled along the way.
type CycleReport struct {
	Round    Round              `json:"round"`
	Record   RecordReport       `json:"record"`
	Settled  []SettlementReport `json:"settled"`
	Failures []UnitFailure      `json:"failures,omitempty"`
}

// OK reports whether every unit of the cycle succeeded.
func (r CycleReport) OK() bool {
	if len(r.Failures) > 0 || len(r.Record.Failures) > 0 {
		return false
	}
	for _, s := range r.Settled {
		if len(s.Failures()) > 0 {
			return false
		}
	}
	return true
}
