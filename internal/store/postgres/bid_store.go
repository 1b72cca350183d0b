package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

// BidStore implements domain.BidStore using PostgreSQL. Rows are written by
// the bid intake service; this store only settles them.
type BidStore struct {
	pool *pgxpool.Pool
}

// NewBidStore creates a BidStore backed by the given pool.
func NewBidStore(pool *pgxpool.Pool) *BidStore {
	return &BidStore{pool: pool}
}

// ListByRound returns the bids of a round in placement order.
func (s *BidStore) ListByRound(ctx context.Context, roundID string) ([]domain.Bid, error) {
	if err := checkID(roundID); err != nil {
		return nil, err
	}

	const query = `
		SELECT round_id::text, user_id, model_name, stake, status,
			payout_amount, created_at, settled_at
		FROM bids WHERE round_id = $1::uuid
		ORDER BY created_at, user_id`

	rows, err := s.pool.Query(ctx, query, roundID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids %s: %w", roundID, err)
	}
	defer rows.Close()

	var out []domain.Bid
	for rows.Next() {
		var b domain.Bid
		var status string
		if err := rows.Scan(
			&b.RoundID, &b.UserID, &b.ModelName, &b.Stake, &status,
			&b.PayoutAmount, &b.CreatedAt, &b.SettledAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		b.Status = domain.BidStatus(status)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bids %s rows: %w", roundID, err)
	}
	return out, nil
}

// Settle moves an open bid to a terminal status. It reports false when the
// bid was already settled.
func (s *BidStore) Settle(ctx context.Context, roundID, userID string, status domain.BidStatus, payout decimal.Decimal, at time.Time) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("postgres: settle bid to %q: %w", status, domain.ErrInvalidTransition)
	}

	const query = `
		UPDATE bids SET status = $3, payout_amount = $4, settled_at = $5
		WHERE round_id = $1::uuid AND user_id = $2 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, roundID, userID, string(status), payout, at.UTC())
	if err != nil {
		return false, fmt.Errorf("postgres: settle bid %s/%s: %w", roundID, userID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RoundsWithOpenBids returns the ids of rounds that still have open bids.
func (s *BidStore) RoundsWithOpenBids(ctx context.Context) ([]string, error) {
	const query = `
		SELECT DISTINCT round_id::text FROM bids
		WHERE status = 'open'
		ORDER BY 1`

	return queryIDs(ctx, s.pool, query, "rounds with open bids")
}

var _ domain.BidStore = (*BidStore)(nil)
