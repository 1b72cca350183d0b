package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nd(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d(s), Valid: true}
}

var threshold = d("0.998")

func TestGradePrediction(t *testing.T) {
	tests := []struct {
		name      string
		predicted decimal.NullDecimal
		actual    string
		accuracy  string
		outcome   Outcome
	}{
		{"close miss wins", nd("99.9"), "100", "0.999", OutcomeWin},
		{"large miss loses", nd("90"), "100", "0.9", OutcomeLose},
		{"overshoot wins", nd("100.05"), "100", "0.9995", OutcomeWin},
		{"exact wins", nd("100"), "100", "1", OutcomeWin},
		{"at threshold loses", nd("99.8"), "100", "0.998", OutcomeLose},
		{"far off goes negative", nd("250"), "100", "-0.5", OutcomeLose},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := GradePrediction(tt.predicted, d(tt.actual), threshold)
			require.True(t, g.Accuracy.Valid)
			assert.True(t, g.Accuracy.Decimal.Equal(d(tt.accuracy)), "accuracy %s", g.Accuracy.Decimal)
			assert.Equal(t, tt.outcome, g.Outcome)
			assert.True(t, g.ActualClose.Equal(d(tt.actual)))
		})
	}
}

func TestGradePrediction_UndefinedAccuracyLoses(t *testing.T) {
	g := GradePrediction(nd("0.1"), decimal.Zero, threshold)
	assert.False(t, g.Accuracy.Valid)
	assert.Equal(t, OutcomeLose, g.Outcome)

	g = GradePrediction(decimal.NullDecimal{}, d("100"), threshold)
	assert.False(t, g.Accuracy.Valid)
	assert.Equal(t, OutcomeLose, g.Outcome)
}

func TestRoundStatus_Transitions(t *testing.T) {
	next, ok := RoundStatusCreated.Next()
	assert.True(t, ok)
	assert.Equal(t, RoundStatusPredictionsRecorded, next)

	next, ok = RoundStatusPredictionsRecorded.Next()
	assert.True(t, ok)
	assert.Equal(t, RoundStatusResolved, next)

	_, ok = RoundStatusResolved.Next()
	assert.False(t, ok)

	assert.True(t, RoundStatusResolved.Reached(RoundStatusPredictionsRecorded))
	assert.False(t, RoundStatusCreated.Reached(RoundStatusResolved))
	assert.False(t, RoundStatus("bogus").Valid())
	assert.False(t, RoundStatusResolved.Reached(RoundStatus("bogus")))
}

func TestSettlement(t *testing.T) {
	winners := map[string]decimal.Decimal{"A": d("2.01")}

	status, payout := Settlement(Bid{ModelName: "A", Stake: d("10")}, winners)
	assert.Equal(t, BidStatusWon, status)
	assert.True(t, payout.Equal(d("20.1")))

	status, payout = Settlement(Bid{ModelName: "B", Stake: d("10")}, winners)
	assert.Equal(t, BidStatusLost, status)
	assert.True(t, payout.IsZero())

	status, _ = Settlement(Bid{ModelName: "A", Stake: d("10")}, nil)
	assert.Equal(t, BidStatusLost, status)
}

func TestAggregatePayouts_OneEntryPerUser(t *testing.T) {
	bids := []Bid{
		{UserID: "u2", Status: BidStatusWon, PayoutAmount: d("5")},
		{UserID: "u1", Status: BidStatusWon, PayoutAmount: d("3")},
		{UserID: "u1", Status: BidStatusWon, PayoutAmount: d("4.5")},
		{UserID: "u3", Status: BidStatusLost},
		{UserID: "u4", Status: BidStatusOpen, PayoutAmount: d("9")},
		{UserID: "", Status: BidStatusWon, PayoutAmount: d("1")},
	}

	got := AggregatePayouts("r1", bids)
	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].UserID)
	assert.True(t, got[0].Amount.Equal(d("7.5")))
	assert.Equal(t, "u2", got[1].UserID)
	assert.Equal(t, "r1", got[1].RoundID)
}

func TestAggregatePayouts_Empty(t *testing.T) {
	assert.Empty(t, AggregatePayouts("r1", nil))
}

func TestCycle_CloseAt(t *testing.T) {
	t0 := time.Date(2025, 6, 18, 10, 30, 0, 0, time.UTC)
	c := Cycle{RecentCandles: []Candle{
		{Timestamp: t0.Add(5 * time.Minute), Close: d("0.19")},
		{Timestamp: t0, Close: d("0.18")},
	}}

	v, ok := c.CloseAt(t0)
	require.True(t, ok)
	assert.True(t, v.Equal(d("0.18")))

	_, ok = c.CloseAt(t0.Add(time.Hour))
	assert.False(t, ok)

	latest, ok := c.LatestCandle()
	require.True(t, ok)
	assert.True(t, latest.Timestamp.Equal(t0.Add(5*time.Minute)))

	_, ok = Cycle{}.LatestCandle()
	assert.False(t, ok)
}

func TestNewUnitFailure_Classifies(t *testing.T) {
	assert.Equal(t, FailureExternal, NewUnitFailure("u1", fmt.Errorf("ledger: %w", ErrExternal)).Kind)
	assert.Equal(t, FailureValidation, NewUnitFailure("u1", fmt.Errorf("x: %w", ErrNotFound)).Kind)
	assert.Equal(t, FailureInternal, NewUnitFailure("u1", fmt.Errorf("boom")).Kind)
}

func TestCycleReport_OK(t *testing.T) {
	assert.True(t, CycleReport{}.OK())
	r := CycleReport{Settled: []SettlementReport{{
		Dispatch: DispatchReport{Failures: []UnitFailure{{Unit: "u1"}}},
	}}}
	assert.False(t, r.OK())
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw   string
		want  string
		valid bool
	}{
		{"0.18123", "0.18123", true},
		{"  0.18123\n", "0.18123", true},
		{"0.18123.", "0.18123", true},
		{"0.18...", "0.18", true},
		{"", "", false},
		{"...", "", false},
		{"about 0.18", "", false},
		{"I cannot predict prices", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := ParsePrice(tt.raw)
			assert.Equal(t, tt.valid, got.Valid)
			if tt.valid {
				assert.True(t, got.Decimal.Equal(d(tt.want)))
			}
		})
	}
}
