package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/modelarena/internal/domain"
	"github.com/alanyoungcy/modelarena/internal/metrics"
	"github.com/alanyoungcy/modelarena/internal/odds"
)

// DefaultAccuracyThreshold is the accuracy a prediction must exceed to win.
var DefaultAccuracyThreshold = decimal.RequireFromString("0.998")

// RoundService drives a round through created, predictions_recorded and
// resolved. Every write is conditional, so repeated or concurrent calls for
// the same round converge on the same state.
type RoundService struct {
	rounds      domain.RoundStore
	predictions domain.PredictionStore
	pricer      *odds.Pricer
	threshold   decimal.Decimal
	metrics     *metrics.Manager
	logger      *slog.Logger
	now         func() time.Time
}

// NewRoundService creates a RoundService. A non-positive threshold falls
// back to DefaultAccuracyThreshold.
func NewRoundService(
	rounds domain.RoundStore,
	predictions domain.PredictionStore,
	pricer *odds.Pricer,
	threshold decimal.Decimal,
	m *metrics.Manager,
	logger *slog.Logger,
) *RoundService {
	if !threshold.IsPositive() {
		threshold = DefaultAccuracyThreshold
	}
	return &RoundService{
		rounds:      rounds,
		predictions: predictions,
		pricer:      pricer,
		threshold:   threshold,
		metrics:     m,
		logger:      logger.With(slog.String("component", "round_service")),
		now:         time.Now,
	}
}

// OpenRound creates the round for the cycle's target timestamp, or returns
// the round a previous invocation already created for it.
func (s *RoundService) OpenRound(ctx context.Context, cycle domain.Cycle) (domain.Round, error) {
	if cycle.TargetTimestamp.IsZero() {
		return domain.Round{}, fmt.Errorf("round_service: open round: missing target timestamp: %w", domain.ErrValidation)
	}

	r, created, err := s.rounds.CreateOrGet(ctx, domain.Round{
		ID:              uuid.NewString(),
		TargetTimestamp: cycle.TargetTimestamp.UTC(),
		Status:          domain.RoundStatusCreated,
	})
	if err != nil {
		return domain.Round{}, fmt.Errorf("round_service: open round: %w", err)
	}

	s.logger.InfoContext(ctx, "round opened",
		slog.String("round_id", r.ID),
		slog.Time("target", r.TargetTimestamp),
		slog.Bool("created", created),
		slog.String("status", string(r.Status)),
	)
	return r, nil
}

// RecordPredictions freezes odds for every model in the cycle and stores one
// prediction record per model, then advances the round to
// predictions_recorded. Records that already exist are left untouched.
func (s *RoundService) RecordPredictions(ctx context.Context, round domain.Round, cycle domain.Cycle) (domain.RecordReport, error) {
	report := domain.RecordReport{RoundID: round.ID}
	if round.ID == "" {
		return report, fmt.Errorf("round_service: record predictions: missing round id: %w", domain.ErrValidation)
	}

	for _, f := range cycle.Failures {
		report.Failures = append(report.Failures, domain.UnitFailure{
			Unit:  f.ModelName,
			Kind:  domain.FailureExternal,
			Error: f.Err.Error(),
		})
		s.metrics.ModelFailed(f.ModelName)
	}

	if round.Status.Reached(domain.RoundStatusPredictionsRecorded) {
		recs, err := s.predictions.ListByRound(ctx, round.ID)
		if err != nil {
			return report, fmt.Errorf("round_service: list predictions %s: %w", round.ID, err)
		}
		for _, rec := range recs {
			report.Existing = append(report.Existing, rec.ModelName)
		}
		return report, nil
	}

	models := make([]string, 0, len(cycle.Predictions))
	for name := range cycle.Predictions {
		models = append(models, name)
	}
	sort.Strings(models)

	for _, name := range models {
		raw := cycle.Predictions[name]
		quote, err := s.pricer.Quote(ctx, name)
		if err != nil {
			if errors.Is(err, domain.ErrValidation) {
				report.Failures = append(report.Failures, domain.NewUnitFailure(name, err))
				continue
			}
			return report, fmt.Errorf("round_service: quote %s: %w", name, err)
		}

		rec := domain.PredictionRecord{
			RoundID:          round.ID,
			ModelName:        name,
			TargetTimestamp:  round.TargetTimestamp,
			RawPrediction:    raw,
			PredictedClose:   domain.ParsePrice(raw),
			PreviousClose:    cycle.PreviousClose,
			PayoutMultiplier: quote.Multiplier,
			Outcome:          domain.OutcomeUnknown,
			CreatedAt:        s.now().UTC(),
		}
		inserted, err := s.predictions.InsertIfAbsent(ctx, rec)
		if err != nil {
			return report, fmt.Errorf("round_service: insert prediction %s/%s: %w", round.ID, name, err)
		}
		if !inserted {
			report.Existing = append(report.Existing, name)
			continue
		}
		report.Recorded = append(report.Recorded, name)
		s.metrics.PredictionRecorded(name, quote.WinRate.InexactFloat64(), quote.Multiplier.InexactFloat64())

		if !rec.PredictedClose.Valid {
			s.logger.WarnContext(ctx, "prediction did not parse as a price",
				slog.String("round_id", round.ID),
				slog.String("model", name),
				slog.String("raw", raw),
			)
		}
	}

	err := s.rounds.Transition(ctx, round.ID, domain.RoundStatusCreated, domain.RoundStatusPredictionsRecorded)
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		return report, fmt.Errorf("round_service: advance round %s: %w", round.ID, err)
	}

	s.logger.InfoContext(ctx, "predictions recorded",
		slog.String("round_id", round.ID),
		slog.Int("recorded", len(report.Recorded)),
		slog.Int("existing", len(report.Existing)),
		slog.Int("failures", len(report.Failures)),
	)
	return report, nil
}

// ResolveRound grades every ungraded record of the round against
// actualClose and advances the round to resolved. The returned winners are
// read back from storage, so a retry sees the grades of the first run even
// if it was given a different close.
func (s *RoundService) ResolveRound(ctx context.Context, roundID string, actualClose decimal.Decimal) (domain.ResolveReport, error) {
	report := domain.ResolveReport{RoundID: roundID, ActualClose: actualClose}
	if roundID == "" {
		return report, fmt.Errorf("round_service: resolve: missing round id: %w", domain.ErrValidation)
	}
	if actualClose.IsNegative() {
		return report, fmt.Errorf("round_service: resolve %s: negative close %s: %w", roundID, actualClose, domain.ErrValidation)
	}

	round, err := s.rounds.GetByID(ctx, roundID)
	if err != nil {
		return report, fmt.Errorf("round_service: resolve %s: %w", roundID, err)
	}
	report.TargetTimestamp = round.TargetTimestamp
	if !round.Status.Reached(domain.RoundStatusPredictionsRecorded) {
		return report, fmt.Errorf("round_service: resolve %s: round is %s: %w", roundID, round.Status, domain.ErrInvalidTransition)
	}

	recs, err := s.predictions.ListByRound(ctx, roundID)
	if err != nil {
		return report, fmt.Errorf("round_service: list predictions %s: %w", roundID, err)
	}

	now := s.now().UTC()
	for _, rec := range recs {
		if rec.Outcome.Resolved() {
			report.Skipped++
			continue
		}
		g := domain.GradePrediction(rec.PredictedClose, actualClose, s.threshold)
		written, err := s.predictions.Resolve(ctx, roundID, rec.ModelName, g, now)
		if err != nil {
			return report, fmt.Errorf("round_service: grade %s/%s: %w", roundID, rec.ModelName, err)
		}
		if !written {
			report.Skipped++
			continue
		}
		s.metrics.PredictionGraded(rec.ModelName, string(g.Outcome))
	}

	err = s.rounds.Transition(ctx, roundID, domain.RoundStatusPredictionsRecorded, domain.RoundStatusResolved)
	switch {
	case err == nil:
		s.metrics.RoundResolved()
	case errors.Is(err, domain.ErrConflict):
	default:
		return report, fmt.Errorf("round_service: advance round %s: %w", roundID, err)
	}

	if err := s.readBack(ctx, &report); err != nil {
		return report, err
	}

	s.logger.InfoContext(ctx, "round resolved",
		slog.String("round_id", roundID),
		slog.String("actual_close", report.ActualClose.String()),
		slog.Int("graded", len(report.Graded)-report.Skipped),
		slog.Int("winners", len(report.Winners)),
	)
	return report, nil
}

// ResolvedRound reports the stored grades of a round that is already
// resolved, without grading anything.
func (s *RoundService) ResolvedRound(ctx context.Context, roundID string) (domain.ResolveReport, error) {
	report := domain.ResolveReport{RoundID: roundID}
	round, err := s.rounds.GetByID(ctx, roundID)
	if err != nil {
		return report, fmt.Errorf("round_service: resolved round %s: %w", roundID, err)
	}
	report.TargetTimestamp = round.TargetTimestamp
	if round.Status != domain.RoundStatusResolved {
		return report, fmt.Errorf("round_service: resolved round %s: round is %s: %w", roundID, round.Status, domain.ErrInvalidTransition)
	}
	if err := s.readBack(ctx, &report); err != nil {
		return report, err
	}
	report.Skipped = len(report.Graded)
	return report, nil
}

// Resolved returns the rounds among ids that are resolved, oldest target
// first. Unknown ids are ignored.
func (s *RoundService) Resolved(ctx context.Context, ids []string) ([]domain.Round, error) {
	var out []domain.Round
	for _, id := range ids {
		r, err := s.rounds.GetByID(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("round_service: get round %s: %w", id, err)
		}
		if r.Status == domain.RoundStatusResolved {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetTimestamp.Before(out[j].TargetTimestamp) })
	return out, nil
}

// readBack loads the round's records and derives the winners and the close
// they were graded against from storage.
func (s *RoundService) readBack(ctx context.Context, report *domain.ResolveReport) error {
	graded, err := s.predictions.ListByRound(ctx, report.RoundID)
	if err != nil {
		return fmt.Errorf("round_service: reload predictions %s: %w", report.RoundID, err)
	}
	report.Graded = graded
	report.Winners = make(map[string]decimal.Decimal)
	for _, rec := range graded {
		if rec.ActualClose.Valid {
			report.ActualClose = rec.ActualClose.Decimal
		}
		if rec.Outcome == domain.OutcomeWin {
			report.Winners[rec.ModelName] = rec.PayoutMultiplier
		}
	}
	return nil
}

// PendingRounds lists rounds with recorded predictions whose target candle
// has closed by until, oldest first.
func (s *RoundService) PendingRounds(ctx context.Context, until time.Time) ([]domain.Round, error) {
	rounds, err := s.rounds.ListPending(ctx, until, 0)
	if err != nil {
		return nil, fmt.Errorf("round_service: pending rounds: %w", err)
	}
	return rounds, nil
}
