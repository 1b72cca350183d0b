package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

// DisbursementStore implements domain.DisbursementStore.
type DisbursementStore struct {
	mu    sync.Mutex
	items map[bidKey]domain.Disbursement
	now   func() time.Time
}

// NewDisbursementStore creates an empty DisbursementStore.
func NewDisbursementStore() *DisbursementStore {
	return &DisbursementStore{
		items: make(map[bidKey]domain.Disbursement),
		now:   time.Now,
	}
}

// CreateIfAbsent stores d unless (round, user) already exists.
func (s *DisbursementStore) CreateIfAbsent(_ context.Context, d domain.Disbursement) (bool, error) {
	if d.RoundID == "" || d.UserID == "" {
		return false, fmt.Errorf("memory: create disbursement: %w", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := bidKey{d.RoundID, d.UserID}
	if _, ok := s.items[key]; ok {
		return false, nil
	}
	now := s.now().UTC()
	d.Status = domain.DisbursementPending
	d.CreatedAt = now
	d.UpdatedAt = now
	s.items[key] = d
	return true, nil
}

// ListByRound returns the disbursements of a round ordered by user.
func (s *DisbursementStore) ListByRound(_ context.Context, roundID string) ([]domain.Disbursement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Disbursement
	for k, d := range s.items {
		if k.roundID == roundID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Claim moves a pending disbursement to dispatching.
func (s *DisbursementStore) Claim(_ context.Context, roundID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bidKey{roundID, userID}
	d, ok := s.items[key]
	if !ok || d.Status != domain.DisbursementPending {
		return false, nil
	}
	d.Status = domain.DisbursementDispatching
	d.Attempts++
	d.UpdatedAt = s.now().UTC()
	s.items[key] = d
	return true, nil
}

// MarkPaid records a successful ledger call.
func (s *DisbursementStore) MarkPaid(_ context.Context, roundID, userID, destination, reference string) error {
	return s.finish(roundID, userID, func(d *domain.Disbursement) {
		d.Status = domain.DisbursementPaid
		d.Destination = destination
		d.Reference = reference
		d.LastError = ""
	})
}

// MarkFailed records a failed ledger call.
func (s *DisbursementStore) MarkFailed(_ context.Context, roundID, userID, destination, reason string) error {
	return s.finish(roundID, userID, func(d *domain.Disbursement) {
		d.Status = domain.DisbursementFailed
		d.Destination = destination
		d.LastError = reason
	})
}

func (s *DisbursementStore) finish(roundID, userID string, apply func(*domain.Disbursement)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bidKey{roundID, userID}
	d, ok := s.items[key]
	if !ok {
		return fmt.Errorf("memory: disbursement %s/%s: %w", roundID, userID, domain.ErrNotFound)
	}
	if d.Status != domain.DisbursementDispatching {
		return fmt.Errorf("memory: disbursement %s/%s is %s: %w", roundID, userID, d.Status, domain.ErrConflict)
	}
	apply(&d)
	d.UpdatedAt = s.now().UTC()
	s.items[key] = d
	return nil
}

// ResetFailed moves failed disbursements of a round back to pending.
func (s *DisbursementStore) ResetFailed(_ context.Context, roundID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, d := range s.items {
		if k.roundID != roundID || d.Status != domain.DisbursementFailed {
			continue
		}
		d.Status = domain.DisbursementPending
		d.UpdatedAt = s.now().UTC()
		s.items[k] = d
		n++
	}
	return n, nil
}

// RoundsWithPending returns the sorted ids of rounds with pending
// disbursements.
func (s *DisbursementStore) RoundsWithPending(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for k, d := range s.items {
		if d.Status == domain.DisbursementPending && !seen[k.roundID] {
			seen[k.roundID] = true
			out = append(out, k.roundID)
		}
	}
	sort.Strings(out)
	return out, nil
}
