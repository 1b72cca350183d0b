package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

// AccountStore implements domain.AccountStore.
type AccountStore struct {
	mu   sync.RWMutex
	dest map[string]string
}

// NewAccountStore creates an AccountStore seeded with accounts.
func NewAccountStore(accounts ...domain.Account) *AccountStore {
	s := &AccountStore{dest: make(map[string]string, len(accounts))}
	for _, a := range accounts {
		s.dest[a.UserID] = a.Destination
	}
	return s
}

// Set registers or replaces a user's destination.
func (s *AccountStore) Set(userID, destination string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dest[userID] = destination
}

// GetDestinations returns the known destinations of userIDs. Unknown users
// are absent from the result.
func (s *AccountStore) GetDestinations(_ context.Context, userIDs []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(userIDs))
	for _, id := range userIDs {
		if d, ok := s.dest[id]; ok && d != "" {
			out[id] = d
		}
	}
	return out, nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Log appends an audit entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.AuditEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	return page(out, opts), nil
}
