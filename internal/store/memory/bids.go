package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

type bidKey struct {
	roundID string
	userID  string
}

// BidStore implements domain.BidStore. Bids are placed with Place, which
// stands in for the external intake service.
type BidStore struct {
	mu    sync.Mutex
	bids  map[bidKey]domain.Bid
	order []bidKey
}

// NewBidStore creates an empty BidStore.
func NewBidStore() *BidStore {
	return &BidStore{bids: make(map[bidKey]domain.Bid)}
}

// Place adds an open bid. A second bid from the same user on the same round
// is rejected.
func (s *BidStore) Place(b domain.Bid) error {
	if b.RoundID == "" || b.UserID == "" || b.ModelName == "" {
		return fmt.Errorf("memory: place bid: %w", domain.ErrValidation)
	}
	if !b.Stake.IsPositive() {
		return fmt.Errorf("memory: place bid: stake %s: %w", b.Stake, domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := bidKey{b.RoundID, b.UserID}
	if _, ok := s.bids[key]; ok {
		return fmt.Errorf("memory: bid %s/%s exists: %w", b.RoundID, b.UserID, domain.ErrConflict)
	}
	b.Status = domain.BidStatusOpen
	b.PayoutAmount = decimal.Zero
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	s.bids[key] = b
	s.order = append(s.order, key)
	return nil
}

// ListByRound returns the bids of a round in placement order.
func (s *BidStore) ListByRound(_ context.Context, roundID string) ([]domain.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Bid
	for _, k := range s.order {
		if k.roundID == roundID {
			out = append(out, s.bids[k])
		}
	}
	return out, nil
}

// Settle moves an open bid to a terminal status.
func (s *BidStore) Settle(_ context.Context, roundID, userID string, status domain.BidStatus, payout decimal.Decimal, at time.Time) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("memory: settle bid to %q: %w", status, domain.ErrInvalidTransition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := bidKey{roundID, userID}
	b, ok := s.bids[key]
	if !ok || b.Status != domain.BidStatusOpen {
		return false, nil
	}
	ts := at.UTC()
	b.Status = status
	b.PayoutAmount = payout
	b.SettledAt = &ts
	s.bids[key] = b
	return true, nil
}

// RoundsWithOpenBids returns the sorted ids of rounds with open bids.
func (s *BidStore) RoundsWithOpenBids(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, k := range s.order {
		if s.bids[k].Status == domain.BidStatusOpen && !seen[k.roundID] {
			seen[k.roundID] = true
			out = append(out, k.roundID)
		}
	}
	sort.Strings(out)
	return out, nil
}
