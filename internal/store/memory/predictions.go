package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

type predictionKey struct {
	roundID string
	model   string
}

// PredictionStore implements domain.PredictionStore.
type PredictionStore struct {
	mu      sync.Mutex
	records map[predictionKey]domain.PredictionRecord
	now     func() time.Time
}

// NewPredictionStore creates an empty PredictionStore.
func NewPredictionStore() *PredictionStore {
	return &PredictionStore{
		records: make(map[predictionKey]domain.PredictionRecord),
		now:     time.Now,
	}
}

// InsertIfAbsent stores rec unless (round, model) already exists.
func (s *PredictionStore) InsertIfAbsent(_ context.Context, rec domain.PredictionRecord) (bool, error) {
	if rec.RoundID == "" || rec.ModelName == "" {
		return false, fmt.Errorf("memory: insert prediction: %w", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := predictionKey{rec.RoundID, rec.ModelName}
	if _, ok := s.records[key]; ok {
		return false, nil
	}
	if rec.Outcome == "" {
		rec.Outcome = domain.OutcomeUnknown
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	s.records[key] = rec
	return true, nil
}

// ListByRound returns the records of a round ordered by model name.
func (s *PredictionStore) ListByRound(_ context.Context, roundID string) ([]domain.PredictionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.PredictionRecord
	for k, rec := range s.records {
		if k.roundID == roundID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelName < out[j].ModelName })
	return out, nil
}

// Resolve grades a record only while its outcome is unknown.
func (s *PredictionStore) Resolve(_ context.Context, roundID, modelName string, g domain.Grade, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := predictionKey{roundID, modelName}
	rec, ok := s.records[key]
	if !ok || rec.Outcome != domain.OutcomeUnknown {
		return false, nil
	}
	rec.ActualClose.Decimal = g.ActualClose
	rec.ActualClose.Valid = true
	rec.Accuracy = g.Accuracy
	rec.Outcome = g.Outcome
	ts := at.UTC()
	rec.UpdatedAt = &ts
	s.records[key] = rec
	return true, nil
}

// ListResolvedByModel returns the model's latest graded records.
func (s *PredictionStore) ListResolvedByModel(_ context.Context, modelName string, limit int) ([]domain.PredictionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.PredictionRecord
	for k, rec := range s.records {
		if k.model == modelName && rec.Outcome.Resolved() {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetTimestamp.After(out[j].TargetTimestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
