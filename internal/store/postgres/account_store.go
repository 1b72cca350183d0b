package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

// AccountStore reads payout destinations from the accounts table.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates an AccountStore backed by the given pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// GetDestinations returns the destinations of the given users. Users without
// an account are absent from the map.
func (s *AccountStore) GetDestinations(ctx context.Context, userIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT user_id, destination FROM accounts WHERE user_id = ANY($1) AND destination <> ''`,
		userIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: get destinations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var user, dest string
		if err := rows.Scan(&user, &dest); err != nil {
			return nil, fmt.Errorf("postgres: scan destination: %w", err)
		}
		out[user] = dest
	}
	return out, rows.Err()
}

var _ domain.AccountStore = (*AccountStore)(nil)
