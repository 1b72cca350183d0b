package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/modelarena/internal/domain"
	"github.com/alanyoungcy/modelarena/internal/metrics"
)

// BidResolver settles the open bids of a resolved round and records what
// each winning user is owed.
type BidResolver struct {
	bids          domain.BidStore
	disbursements domain.DisbursementStore
	metrics       *metrics.Manager
	logger        *slog.Logger
	now           func() time.Time
}

// NewBidResolver creates a BidResolver.
func NewBidResolver(
	bids domain.BidStore,
	disbursements domain.DisbursementStore,
	m *metrics.Manager,
	logger *slog.Logger,
) *BidResolver {
	return &BidResolver{
		bids:          bids,
		disbursements: disbursements,
		metrics:       m,
		logger:        logger.With(slog.String("component", "bid_resolver")),
		now:           time.Now,
	}
}

// RoundsWithOpenBids returns the ids of rounds that still have open bids.
func (r *BidResolver) RoundsWithOpenBids(ctx context.Context) ([]string, error) {
	ids, err := r.bids.RoundsWithOpenBids(ctx)
	if err != nil {
		return nil, fmt.Errorf("bid_resolver: rounds with open bids: %w", err)
	}
	return ids, nil
}

// Resolve moves every open bid of the round to won or lost. A bid wins when
// its model is in winners and is paid its stake times that model's frozen
// multiplier. Bids already settled are skipped. Won bids are then summed per
// user into one pending disbursement each.
func (r *BidResolver) Resolve(ctx context.Context, roundID string, winners map[string]decimal.Decimal) (domain.BidReport, error) {
	report := domain.BidReport{RoundID: roundID}
	if roundID == "" {
		return report, fmt.Errorf("bid_resolver: resolve: missing round id: %w", domain.ErrValidation)
	}

	bids, err := r.bids.ListByRound(ctx, roundID)
	if err != nil {
		return report, fmt.Errorf("bid_resolver: list bids %s: %w", roundID, err)
	}

	now := r.now().UTC()
	for _, b := range bids {
		if b.Status.Terminal() {
			report.Skipped++
			continue
		}
		status, payout := domain.Settlement(b, winners)
		if !b.Stake.IsPositive() {
			// Non-positive stakes close out as lost.
			status, payout = domain.BidStatusLost, decimal.Zero
			r.logger.WarnContext(ctx, "bid with non-positive stake settled as lost",
				slog.String("round_id", roundID),
				slog.String("user_id", b.UserID),
				slog.String("stake", b.Stake.String()),
			)
		}
		settled, err := r.bids.Settle(ctx, roundID, b.UserID, status, payout, now)
		if err != nil {
			return report, fmt.Errorf("bid_resolver: settle %s/%s: %w", roundID, b.UserID, err)
		}
		if !settled {
			report.Skipped++
			continue
		}
		if status == domain.BidStatusWon {
			report.Won++
		} else {
			report.Lost++
		}
		r.metrics.BidSettled(string(status))
	}

	// Aggregate from storage so won bids settled by an earlier, interrupted
	// run still get their disbursement.
	settled, err := r.bids.ListByRound(ctx, roundID)
	if err != nil {
		return report, fmt.Errorf("bid_resolver: reload bids %s: %w", roundID, err)
	}
	report.Payouts = domain.AggregatePayouts(roundID, settled)

	created := 0
	for _, p := range report.Payouts {
		ok, err := r.disbursements.CreateIfAbsent(ctx, domain.Disbursement{
			RoundID: roundID,
			UserID:  p.UserID,
			Amount:  p.Amount,
			Status:  domain.DisbursementPending,
		})
		if err != nil {
			return report, fmt.Errorf("bid_resolver: create disbursement %s/%s: %w", roundID, p.UserID, err)
		}
		if ok {
			created++
		}
	}

	r.logger.InfoContext(ctx, "bids resolved",
		slog.String("round_id", roundID),
		slog.Int("won", report.Won),
		slog.Int("lost", report.Lost),
		slog.Int("skipped", report.Skipped),
		slog.Int("disbursements_created", created),
	)
	return report, nil
}
