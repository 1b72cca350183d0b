package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/modelarena/internal/domain"
	"github.com/alanyoungcy/modelarena/internal/metrics"
)

// Alerter delivers operator notifications. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SettlementDeps holds the collaborators of a SettlementService. Candles,
// Bus, Archive, Alerter and Metrics are optional.
type SettlementDeps struct {
	Source     domain.PredictionSource
	Rounds     *RoundService
	Bids       *BidResolver
	Dispatcher *Dispatcher
	Candles    domain.CandleCache
	Bus        domain.SignalBus
	Archive    domain.ReportArchive
	Audit      domain.AuditStore
	Alerter    Alerter
	Metrics    *metrics.Manager
	Symbol     string
}

// SettlementService runs the full invocation: fetch a cycle, open and record
// the new round, then settle every earlier round whose target candle has
// been observed.
type SettlementService struct {
	deps   SettlementDeps
	logger *slog.Logger
	now    func() time.Time
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(deps SettlementDeps, logger *slog.Logger) *SettlementService {
	return &SettlementService{
		deps:   deps,
		logger: logger.With(slog.String("component", "settlement")),
		now:    time.Now,
	}
}

// RunCycle performs one invocation. Per-model, per-bid and per-user failures
// are itemized in the report; an error is returned only when the cycle could
// not be fetched or storage failed, in which case the whole cycle is safe to
// retry.
func (s *SettlementService) RunCycle(ctx context.Context) (domain.CycleReport, error) {
	start := s.now()
	var report domain.CycleReport

	cycle, err := s.deps.Source.Fetch(ctx)
	if err != nil {
		s.fail(ctx, err)
		return report, fmt.Errorf("settlement: fetch cycle: %w", err)
	}

	if s.deps.Candles != nil && len(cycle.RecentCandles) > 0 {
		if err := s.deps.Candles.SetCandles(ctx, s.deps.Symbol, cycle.RecentCandles); err != nil {
			s.logger.WarnContext(ctx, "cache candles failed", slog.String("error", err.Error()))
		}
	}

	round, err := s.deps.Rounds.OpenRound(ctx, cycle)
	if err != nil {
		s.fail(ctx, err)
		return report, fmt.Errorf("settlement: %w", err)
	}
	report.Round = round

	rec, err := s.deps.Rounds.RecordPredictions(ctx, round, cycle)
	report.Record = rec
	if err != nil {
		s.fail(ctx, err)
		return report, fmt.Errorf("settlement: %w", err)
	}
	s.publish(ctx, domain.Event{Type: domain.EventRoundOpened, RoundID: round.ID, Data: rec})

	attempted := make(map[string]bool)
	if latest, ok := cycle.LatestCandle(); ok {
		pending, err := s.deps.Rounds.PendingRounds(ctx, latest.Timestamp)
		if err != nil {
			s.fail(ctx, err)
			return report, fmt.Errorf("settlement: %w", err)
		}
		for _, p := range pending {
			actual, ok := s.closeFor(ctx, cycle, p.TargetTimestamp)
			if !ok {
				s.logger.DebugContext(ctx, "close not observed yet",
					slog.String("round_id", p.ID),
					slog.Time("target", p.TargetTimestamp),
				)
				continue
			}
			attempted[p.ID] = true
			sr, err := s.SettleRound(ctx, p.ID, actual)
			if err != nil {
				if !isUnitError(err) {
					s.fail(ctx, err)
					return report, fmt.Errorf("settlement: %w", err)
				}
				report.Failures = append(report.Failures, domain.NewUnitFailure(p.ID, err))
				continue
			}
			report.Settled = append(report.Settled, sr)
		}
	}

	unsettled, err := s.unsettledRounds(ctx)
	if err != nil {
		s.fail(ctx, err)
		return report, fmt.Errorf("settlement: %w", err)
	}
	for _, u := range unsettled {
		if attempted[u.ID] {
			continue
		}
		s.logger.InfoContext(ctx, "resuming interrupted settlement", slog.String("round_id", u.ID))
		sr, err := s.ResumeRound(ctx, u.ID)
		if err != nil {
			if !isUnitError(err) {
				s.fail(ctx, err)
				return report, fmt.Errorf("settlement: %w", err)
			}
			report.Failures = append(report.Failures, domain.NewUnitFailure(u.ID, err))
			continue
		}
		report.Settled = append(report.Settled, sr)
	}

	s.deps.Metrics.ObserveCycle(report.OK(), s.now().Sub(start))
	s.logger.InfoContext(ctx, "cycle complete",
		slog.String("round_id", round.ID),
		slog.Time("target", round.TargetTimestamp),
		slog.Int("recorded", len(rec.Recorded)),
		slog.Int("settled", len(report.Settled)),
		slog.Bool("ok", report.OK()),
		slog.Duration("elapsed", s.now().Sub(start)),
	)
	return report, nil
}

// SettleRound resolves one round with actualClose, settles its bids and pays
// the winners. Every step is idempotent, so it may be repeated for a round
// that was already settled; it then pays only what is still pending.
func (s *SettlementService) SettleRound(ctx context.Context, roundID string, actualClose decimal.Decimal) (domain.SettlementReport, error) {
	report := domain.SettlementReport{RoundID: roundID}

	resolved, err := s.deps.Rounds.ResolveRound(ctx, roundID, actualClose)
	report.Resolve = resolved
	if err != nil {
		return report, fmt.Errorf("settlement: %w", err)
	}
	return s.finish(ctx, report)
}

// ResumeRound completes a resolved round whose settlement was interrupted.
// Open bids are settled against the stored grades and pending disbursements
// are dispatched; no close is needed.
func (s *SettlementService) ResumeRound(ctx context.Context, roundID string) (domain.SettlementReport, error) {
	report := domain.SettlementReport{RoundID: roundID}

	resolved, err := s.deps.Rounds.ResolvedRound(ctx, roundID)
	report.Resolve = resolved
	if err != nil {
		return report, fmt.Errorf("settlement: %w", err)
	}
	return s.finish(ctx, report)
}

// finish settles bids and dispatches payouts for a resolved round.
func (s *SettlementService) finish(ctx context.Context, report domain.SettlementReport) (domain.SettlementReport, error) {
	roundID := report.RoundID
	resolved := report.Resolve
	report.TargetTimestamp = resolved.TargetTimestamp

	bids, err := s.deps.Bids.Resolve(ctx, roundID, resolved.Winners)
	report.Bids = bids
	if err != nil {
		return report, fmt.Errorf("settlement: %w", err)
	}

	dispatch, err := s.deps.Dispatcher.Dispatch(ctx, roundID)
	report.Dispatch = dispatch
	if err != nil {
		return report, fmt.Errorf("settlement: %w", err)
	}
	report.SettledAt = s.now().UTC()

	s.afterSettle(ctx, report)
	return report, nil
}

// RetryPayouts resets the round's failed disbursements and dispatches them
// again.
func (s *SettlementService) RetryPayouts(ctx context.Context, roundID string) (domain.DispatchReport, error) {
	n, err := s.deps.Dispatcher.RetryFailed(ctx, roundID)
	if err != nil {
		return domain.DispatchReport{RoundID: roundID}, fmt.Errorf("settlement: %w", err)
	}
	s.audit(ctx, "payouts_retried", map[string]any{"round_id": roundID, "reset": n})

	report, err := s.deps.Dispatcher.Dispatch(ctx, roundID)
	if err != nil {
		return report, fmt.Errorf("settlement: %w", err)
	}
	if len(report.Failures) > 0 {
		s.alert(ctx, domain.EventPayoutsFailed, roundID, report.Failures)
	}
	return report, nil
}

// unsettledRounds lists resolved rounds that still have open bids or
// pending disbursements, left behind by an interrupted settlement.
func (s *SettlementService) unsettledRounds(ctx context.Context) ([]domain.Round, error) {
	open, err := s.deps.Bids.RoundsWithOpenBids(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := s.deps.Dispatcher.RoundsWithPending(ctx)
	if err != nil {
		return nil, err
	}
	ids := append(open, pending...)
	sort.Strings(ids)
	ids = slices.Compact(ids)
	return s.deps.Rounds.Resolved(ctx, ids)
}

// closeFor finds the realized close of the candle starting at ts, first in
// the cycle and then in the candle cache.
func (s *SettlementService) closeFor(ctx context.Context, cycle domain.Cycle, ts time.Time) (decimal.Decimal, bool) {
	if v, ok := cycle.CloseAt(ts); ok {
		return v, true
	}
	if s.deps.Candles == nil {
		return decimal.Zero, false
	}
	v, err := s.deps.Candles.GetClose(ctx, s.deps.Symbol, ts)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "candle cache lookup failed", slog.String("error", err.Error()))
		}
		return decimal.Zero, false
	}
	return v, true
}

func (s *SettlementService) afterSettle(ctx context.Context, report domain.SettlementReport) {
	s.publish(ctx, domain.Event{Type: domain.EventRoundSettled, RoundID: report.RoundID, Data: report})

	if s.deps.Archive != nil {
		if err := s.deps.Archive.Archive(ctx, report); err != nil {
			s.logger.WarnContext(ctx, "archive settlement report failed",
				slog.String("round_id", report.RoundID),
				slog.String("error", err.Error()),
			)
		}
	}

	winners := make([]string, 0, len(report.Resolve.Winners))
	for m := range report.Resolve.Winners {
		winners = append(winners, m)
	}
	s.audit(ctx, "round_settled", map[string]any{
		"round_id":     report.RoundID,
		"actual_close": report.Resolve.ActualClose.String(),
		"winners":      winners,
		"won":          report.Bids.Won,
		"lost":         report.Bids.Lost,
		"paid":         len(report.Dispatch.Paid),
		"failed":       len(report.Dispatch.Failures),
	})

	if failures := report.Failures(); len(failures) > 0 {
		s.alert(ctx, domain.EventPayoutsFailed, report.RoundID, failures)
	}
}

func (s *SettlementService) publish(ctx context.Context, evt domain.Event) {
	if s.deps.Bus == nil {
		return
	}
	evt.Timestamp = s.now().UTC()
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.WarnContext(ctx, "encode event failed", slog.String("type", evt.Type), slog.String("error", err.Error()))
		return
	}
	if err := s.deps.Bus.Publish(ctx, domain.ChannelSettlements, payload); err != nil {
		s.logger.WarnContext(ctx, "publish event failed", slog.String("type", evt.Type), slog.String("error", err.Error()))
	}
	if err := s.deps.Bus.StreamAppend(ctx, domain.StreamSettlements, payload); err != nil {
		s.logger.WarnContext(ctx, "append event failed", slog.String("type", evt.Type), slog.String("error", err.Error()))
	}
}

func (s *SettlementService) audit(ctx context.Context, event string, detail map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (s *SettlementService) alert(ctx context.Context, event, roundID string, failures []domain.UnitFailure) {
	if s.deps.Alerter == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Round %s: %d failed unit(s)\n", roundID, len(failures))
	for _, f := range failures {
		fmt.Fprintf(&b, "- %s [%s] %s\n", f.Unit, f.Kind, f.Error)
	}
	if err := s.deps.Alerter.Notify(ctx, event, "Settlement failures", b.String()); err != nil {
		s.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
	}
}

func (s *SettlementService) fail(ctx context.Context, err error) {
	s.deps.Metrics.CycleFailed()
	s.logger.ErrorContext(ctx, "cycle failed", slog.String("error", err.Error()))
	if s.deps.Alerter != nil {
		if nerr := s.deps.Alerter.Notify(ctx, domain.EventCycleFailed, "Cycle failed", err.Error()); nerr != nil {
			s.logger.WarnContext(ctx, "notify failed", slog.String("error", nerr.Error()))
		}
	}
}

// isUnitError reports whether err concerns only the round it came from.
func isUnitError(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidTransition)
}
