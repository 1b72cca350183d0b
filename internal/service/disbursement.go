package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/modelarena/internal/domain"
	"github.com/alanyoungcy/modelarena/internal/metrics"
)

// DefaultDispatchConcurrency bounds concurrent ledger calls per round.
const DefaultDispatchConcurrency = 4

// Dispatcher pays out pending disbursements through the ledger. Each
// disbursement is claimed before the ledger is called and the ledger is
// called at most once per claim, so no user is paid twice for a round.
type Dispatcher struct {
	disbursements domain.DisbursementStore
	accounts      domain.AccountStore
	ledger        domain.Ledger
	concurrency   int
	metrics       *metrics.Manager
	logger        *slog.Logger
}

// NewDispatcher creates a Dispatcher. concurrency <= 0 uses
// DefaultDispatchConcurrency.
func NewDispatcher(
	disbursements domain.DisbursementStore,
	accounts domain.AccountStore,
	ledger domain.Ledger,
	concurrency int,
	m *metrics.Manager,
	logger *slog.Logger,
) *Dispatcher {
	if concurrency <= 0 {
		concurrency = DefaultDispatchConcurrency
	}
	return &Dispatcher{
		disbursements: disbursements,
		accounts:      accounts,
		ledger:        ledger,
		concurrency:   concurrency,
		metrics:       m,
		logger:        logger.With(slog.String("component", "dispatcher")),
	}
}

// Dispatch pays every pending disbursement of the round. Users are handled
// independently: a failed payout is marked failed and itemized in the report
// without affecting the others.
func (d *Dispatcher) Dispatch(ctx context.Context, roundID string) (domain.DispatchReport, error) {
	report := domain.DispatchReport{RoundID: roundID}
	if roundID == "" {
		return report, fmt.Errorf("dispatcher: dispatch: missing round id: %w", domain.ErrValidation)
	}

	all, err := d.disbursements.ListByRound(ctx, roundID)
	if err != nil {
		return report, fmt.Errorf("dispatcher: list disbursements %s: %w", roundID, err)
	}

	var pending []domain.Disbursement
	for _, item := range all {
		if item.Status == domain.DisbursementPending {
			pending = append(pending, item)
		} else {
			report.Skipped++
		}
	}
	if len(pending) == 0 {
		return report, nil
	}

	users := make([]string, len(pending))
	for i, item := range pending {
		users[i] = item.UserID
	}
	destinations, err := d.accounts.GetDestinations(ctx, users)
	if err != nil {
		return report, fmt.Errorf("dispatcher: destinations %s: %w", roundID, err)
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(d.concurrency)

	for _, item := range pending {
		g.Go(func() error {
			paid, skipped, failure := d.dispatchOne(ctx, item, destinations[item.UserID])
			mu.Lock()
			defer mu.Unlock()
			switch {
			case failure != nil:
				report.Failures = append(report.Failures, *failure)
			case skipped:
				report.Skipped++
			case paid:
				report.Paid = append(report.Paid, item.UserID)
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(report.Paid)
	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].Unit < report.Failures[j].Unit })

	d.logger.InfoContext(ctx, "disbursements dispatched",
		slog.String("round_id", roundID),
		slog.Int("paid", len(report.Paid)),
		slog.Int("failed", len(report.Failures)),
		slog.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, item domain.Disbursement, destination string) (paid, skipped bool, failure *domain.UnitFailure) {
	log := d.logger.With(
		slog.String("round_id", item.RoundID),
		slog.String("user_id", item.UserID),
	)

	claimed, err := d.disbursements.Claim(ctx, item.RoundID, item.UserID)
	if err != nil {
		f := domain.NewUnitFailure(item.UserID, fmt.Errorf("dispatcher: claim: %w", err))
		return false, false, &f
	}
	if !claimed {
		return false, true, nil
	}

	// The claim is ours: record the outcome even if the caller goes away.
	markCtx := context.WithoutCancel(ctx)

	if destination == "" {
		err := fmt.Errorf("dispatcher: no destination account for %s: %w", item.UserID, domain.ErrNotFound)
		if markErr := d.disbursements.MarkFailed(markCtx, item.RoundID, item.UserID, "", err.Error()); markErr != nil {
			log.ErrorContext(ctx, "mark failed", slog.String("error", markErr.Error()))
		}
		f := domain.NewUnitFailure(item.UserID, err)
		return false, false, &f
	}

	start := time.Now()
	receipt, err := d.ledger.Pay(ctx, domain.PayoutRequest{
		Destination: destination,
		Amount:      item.Amount,
		Reference:   Reference(item.RoundID, item.UserID),
	})
	d.metrics.Disbursed(err == nil, time.Since(start))
	if err != nil {
		log.WarnContext(ctx, "payout failed",
			slog.String("amount", item.Amount.String()),
			slog.String("error", err.Error()),
		)
		if markErr := d.disbursements.MarkFailed(markCtx, item.RoundID, item.UserID, destination, err.Error()); markErr != nil {
			log.ErrorContext(ctx, "mark failed", slog.String("error", markErr.Error()))
		}
		f := domain.NewUnitFailure(item.UserID, err)
		return false, false, &f
	}

	if err := d.disbursements.MarkPaid(markCtx, item.RoundID, item.UserID, destination, receipt.TxID); err != nil {
		// Funds moved; the row stays in dispatching and is never re-sent.
		log.ErrorContext(ctx, "mark paid", slog.String("tx_id", receipt.TxID), slog.String("error", err.Error()))
		f := domain.NewUnitFailure(item.UserID, fmt.Errorf("dispatcher: mark paid: %w", err))
		return false, false, &f
	}

	log.InfoContext(ctx, "payout sent",
		slog.String("amount", item.Amount.String()),
		slog.String("tx_id", receipt.TxID),
	)
	return true, false, nil
}

// RoundsWithPending returns the ids of rounds with pending disbursements.
func (d *Dispatcher) RoundsWithPending(ctx context.Context) ([]string, error) {
	ids, err := d.disbursements.RoundsWithPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: rounds with pending: %w", err)
	}
	return ids, nil
}

// RetryFailed moves the round's failed disbursements back to pending so the
// next Dispatch sends them again. It is only called on operator request.
func (d *Dispatcher) RetryFailed(ctx context.Context, roundID string) (int64, error) {
	if roundID == "" {
		return 0, fmt.Errorf("dispatcher: retry: missing round id: %w", domain.ErrValidation)
	}
	n, err := d.disbursements.ResetFailed(ctx, roundID)
	if err != nil {
		return 0, fmt.Errorf("dispatcher: retry %s: %w", roundID, err)
	}
	d.logger.InfoContext(ctx, "failed disbursements reset",
		slog.String("round_id", roundID),
		slog.Int64("count", n),
	)
	return n, nil
}

// Reference is the idempotency reference sent to the ledger for a user's
// payout of a round.
func Reference(roundID, userID string) string {
	return roundID + ":" + userID
}
