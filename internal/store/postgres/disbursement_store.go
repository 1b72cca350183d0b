package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

// DisbursementStore implements domain.DisbursementStore using PostgreSQL.
type DisbursementStore struct {
	pool *pgxpool.Pool
}

// NewDisbursementStore creates a DisbursementStore backed by the given pool.
func NewDisbursementStore(pool *pgxpool.Pool) *DisbursementStore {
	return &DisbursementStore{pool: pool}
}

// CreateIfAbsent inserts a pending disbursement unless (round, user) exists.
func (s *DisbursementStore) CreateIfAbsent(ctx context.Context, d domain.Disbursement) (bool, error) {
	const query = `
		INSERT INTO disbursements (round_id, user_id, amount, status)
		VALUES ($1::uuid, $2, $3, 'pending')
		ON CONFLICT (round_id, user_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, d.RoundID, d.UserID, d.Amount)
	if err != nil {
		return false, fmt.Errorf("postgres: create disbursement %s/%s: %w", d.RoundID, d.UserID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByRound returns the disbursements of a round ordered by user.
func (s *DisbursementStore) ListByRound(ctx context.Context, roundID string) ([]domain.Disbursement, error) {
	if err := checkID(roundID); err != nil {
		return nil, err
	}

	const query = `
		SELECT round_id::text, user_id, destination, amount, status, attempts,
			last_error, reference, created_at, updated_at
		FROM disbursements WHERE round_id = $1::uuid
		ORDER BY user_id`

	rows, err := s.pool.Query(ctx, query, roundID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list disbursements %s: %w", roundID, err)
	}
	defer rows.Close()

	var out []domain.Disbursement
	for rows.Next() {
		var d domain.Disbursement
		var status string
		if err := rows.Scan(
			&d.RoundID, &d.UserID, &d.Destination, &d.Amount, &status, &d.Attempts,
			&d.LastError, &d.Reference, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan disbursement: %w", err)
		}
		d.Status = domain.DisbursementStatus(status)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list disbursements %s rows: %w", roundID, err)
	}
	return out, nil
}

// Claim moves a pending disbursement to dispatching. Exactly one concurrent
// caller observes true.
func (s *DisbursementStore) Claim(ctx context.Context, roundID, userID string) (bool, error) {
	const query = `
		UPDATE disbursements
		SET status = 'dispatching', attempts = attempts + 1, updated_at = NOW()
		WHERE round_id = $1::uuid AND user_id = $2 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, query, roundID, userID)
	if err != nil {
		return false, fmt.Errorf("postgres: claim disbursement %s/%s: %w", roundID, userID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkPaid records the ledger reference of a dispatched payout.
func (s *DisbursementStore) MarkPaid(ctx context.Context, roundID, userID, destination, reference string) error {
	const query = `
		UPDATE disbursements
		SET status = 'paid', destination = $3, reference = $4, last_error = '', updated_at = NOW()
		WHERE round_id = $1::uuid AND user_id = $2 AND status = 'dispatching'`

	tag, err := s.pool.Exec(ctx, query, roundID, userID, destination, reference)
	if err != nil {
		return fmt.Errorf("postgres: mark paid %s/%s: %w", roundID, userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark paid %s/%s: not dispatching: %w", roundID, userID, domain.ErrConflict)
	}
	return nil
}

// MarkFailed records why a dispatched payout failed.
func (s *DisbursementStore) MarkFailed(ctx context.Context, roundID, userID, destination, reason string) error {
	const query = `
		UPDATE disbursements
		SET status = 'failed', destination = $3, last_error = $4, updated_at = NOW()
		WHERE round_id = $1::uuid AND user_id = $2 AND status = 'dispatching'`

	tag, err := s.pool.Exec(ctx, query, roundID, userID, destination, reason)
	if err != nil {
		return fmt.Errorf("postgres: mark failed %s/%s: %w", roundID, userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark failed %s/%s: not dispatching: %w", roundID, userID, domain.ErrConflict)
	}
	return nil
}

// ResetFailed moves the round's failed disbursements back to pending.
func (s *DisbursementStore) ResetFailed(ctx context.Context, roundID string) (int64, error) {
	if err := checkID(roundID); err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE disbursements SET status = 'pending', updated_at = NOW()
		WHERE round_id = $1::uuid AND status = 'failed'`, roundID)
	if err != nil {
		return 0, fmt.Errorf("postgres: reset failed disbursements %s: %w", roundID, err)
	}
	return tag.RowsAffected(), nil
}

// RoundsWithPending returns the ids of rounds that still have pending
// disbursements.
func (s *DisbursementStore) RoundsWithPending(ctx context.Context) ([]string, error) {
	const query = `
		SELECT DISTINCT round_id::text FROM disbursements
		WHERE status = 'pending'
		ORDER BY 1`

	return queryIDs(ctx, s.pool, query, "rounds with pending disbursements")
}

var _ domain.DisbursementStore = (*DisbursementStore)(nil)
