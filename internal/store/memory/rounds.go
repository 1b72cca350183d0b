// Package memory implements the domain store interfaces in process memory.
// It backs dry runs and serves as the persistence double in tests; every
// conditional write behaves like its PostgreSQL counterpart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

// RoundStore implements domain.RoundStore.
type RoundStore struct {
	mu       sync.Mutex
	byID     map[string]domain.Round
	byTarget map[int64]string
	now      func() time.Time
}

// NewRoundStore creates an empty RoundStore.
func NewRoundStore() *RoundStore {
	return &RoundStore{
		byID:     make(map[string]domain.Round),
		byTarget: make(map[int64]string),
		now:      time.Now,
	}
}

// CreateOrGet inserts r or returns the round already holding its target.
func (s *RoundStore) CreateOrGet(_ context.Context, r domain.Round) (domain.Round, bool, error) {
	if r.ID == "" || r.TargetTimestamp.IsZero() {
		return domain.Round{}, false, fmt.Errorf("memory: create round: %w", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.TargetTimestamp.UTC().Unix()
	if id, ok := s.byTarget[key]; ok {
		return s.byID[id], false, nil
	}
	if r.Status == "" {
		r.Status = domain.RoundStatusCreated
	}
	now := s.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.TargetTimestamp = r.TargetTimestamp.UTC()
	s.byID[r.ID] = r
	s.byTarget[key] = r.ID
	return r, true, nil
}

// GetByID returns a round by id.
func (s *RoundStore) GetByID(_ context.Context, id string) (domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return domain.Round{}, fmt.Errorf("memory: round %s: %w", id, domain.ErrNotFound)
	}
	return r, nil
}

// Transition moves a round from one status to the next.
func (s *RoundStore) Transition(_ context.Context, id string, from, to domain.RoundStatus) error {
	if next, ok := from.Next(); !ok || next != to {
		return fmt.Errorf("memory: round %s %s->%s: %w", id, from, to, domain.ErrInvalidTransition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("memory: round %s: %w", id, domain.ErrNotFound)
	}
	switch {
	case r.Status == from:
		r.Status = to
		r.UpdatedAt = s.now().UTC()
		s.byID[id] = r
		return nil
	case r.Status.Reached(to):
		return fmt.Errorf("memory: round %s already %s: %w", id, r.Status, domain.ErrConflict)
	default:
		return fmt.Errorf("memory: round %s is %s, not %s: %w", id, r.Status, from, domain.ErrInvalidTransition)
	}
}

// ListPending returns rounds awaiting resolution, oldest target first.
func (s *RoundStore) ListPending(_ context.Context, until time.Time, limit int) ([]domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Round
	for _, r := range s.byID {
		if r.Status == domain.RoundStatusPredictionsRecorded && !r.TargetTimestamp.After(until) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetTimestamp.Before(out[j].TargetTimestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// List returns rounds newest target first.
func (s *RoundStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Round
	for _, r := range s.byID {
		if opts.Since != nil && r.TargetTimestamp.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && r.TargetTimestamp.After(*opts.Until) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetTimestamp.After(out[j].TargetTimestamp) })
	return page(out, opts), nil
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
