package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// BidStatus is the settlement state of a wager. Anything other than open is
// terminal.
type BidStatus string

const (
	BidStatusOpen BidStatus = "open"
	BidStatusWon  BidStatus = "won"
	BidStatusLost BidStatus = "lost"
)

// Terminal reports whether the bid has been settled.
func (s BidStatus) Terminal() bool {
	return s == BidStatusWon || s == BidStatusLost
}

// Bid is a user's wager on which model will be accurate in a round.
type Bid struct {
	RoundID      string          `json:"round_id"`
	UserID       string          `json:"user_id"`
	ModelName    string          `json:"model_name"`
	Stake        decimal.Decimal `json:"stake"`
	Status       BidStatus       `json:"status"`
	PayoutAmount decimal.Decimal `json:"payout_amount"`
	CreatedAt    time.Time       `json:"created_at"`
	SettledAt    *time.Time      `json:"settled_at,omitempty"`
}

// Settlement decides the terminal state of an open bid given the winning
// models of its round and their frozen multipliers.
func Settlement(b Bid, winners map[string]decimal.Decimal) (BidStatus, decimal.Decimal) {
	mult, ok := winners[b.ModelName]
	if !ok {
		return BidStatusLost, decimal.Zero
	}
	return BidStatusWon, b.Stake.Mul(mult)
}

// Payout is the summed amount owed to one user for one round.
type Payout struct {
	RoundID string
	UserID  string
	Amount  decimal.Decimal
}

// AggregatePayouts collapses won bids into one entry per user, summing the
// payout amounts of duplicate rows. Output is ordered by user id.
func AggregatePayouts(roundID string, bids []Bid) []Payout {
	sums := make(map[string]decimal.Decimal)
	for _, b := range bids {
		if b.Status != BidStatusWon || b.UserID == "" {
			continue
		}
		sums[b.UserID] = sums[b.UserID].Add(b.PayoutAmount)
	}

	out := make([]Payout, 0, len(sums))
	for user, amt := range sums {
		if !amt.IsPositive() {
			continue
		}
		out = append(out, Payout{RoundID: roundID, UserID: user, Amount: amt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
