package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

// RoundStore implements domain.RoundStore using PostgreSQL.
type RoundStore struct {
	pool *pgxpool.Pool
}

// NewRoundStore creates a RoundStore backed by the given pool.
func NewRoundStore(pool *pgxpool.Pool) *RoundStore {
	return &RoundStore{pool: pool}
}

const roundCols = `id::text, target_ts, status, created_at, updated_at`

func scanRound(row pgx.Row) (domain.Round, error) {
	var r domain.Round
	var status string
	if err := row.Scan(&r.ID, &r.TargetTimestamp, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return domain.Round{}, err
	}
	r.Status = domain.RoundStatus(status)
	r.TargetTimestamp = r.TargetTimestamp.UTC()
	return r, nil
}

func scanRounds(rows pgx.Rows) ([]domain.Round, error) {
	defer rows.Close()
	var out []domain.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateOrGet inserts r, or returns the existing round for its target
// timestamp when another invocation created it first.
func (s *RoundStore) CreateOrGet(ctx context.Context, r domain.Round) (domain.Round, bool, error) {
	if r.Status == "" {
		r.Status = domain.RoundStatusCreated
	}

	const insert = `
		INSERT INTO rounds (id, target_ts, status)
		VALUES ($1::uuid, $2, $3)
		ON CONFLICT (target_ts) DO NOTHING
		RETURNING ` + roundCols

	created, err := scanRound(s.pool.QueryRow(ctx, insert, r.ID, r.TargetTimestamp.UTC(), string(r.Status)))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Round{}, false, fmt.Errorf("postgres: create round: %w", err)
	}

	existing, err := scanRound(s.pool.QueryRow(ctx,
		`SELECT `+roundCols+` FROM rounds WHERE target_ts = $1`, r.TargetTimestamp.UTC()))
	if err != nil {
		return domain.Round{}, false, fmt.Errorf("postgres: get round at %s: %w", r.TargetTimestamp, err)
	}
	return existing, false, nil
}

// GetByID returns a round by id.
func (s *RoundStore) GetByID(ctx context.Context, id string) (domain.Round, error) {
	if err := checkID(id); err != nil {
		return domain.Round{}, err
	}
	r, err := scanRound(s.pool.QueryRow(ctx, `SELECT `+roundCols+` FROM rounds WHERE id = $1::uuid`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Round{}, fmt.Errorf("postgres: round %s: %w", id, domain.ErrNotFound)
		}
		return domain.Round{}, fmt.Errorf("postgres: get round %s: %w", id, err)
	}
	return r, nil
}

// Transition moves a round from one status to the next with a conditional
// update.
func (s *RoundStore) Transition(ctx context.Context, id string, from, to domain.RoundStatus) error {
	if next, ok := from.Next(); !ok || next != to {
		return fmt.Errorf("postgres: round %s %s->%s: %w", id, from, to, domain.ErrInvalidTransition)
	}
	if err := checkID(id); err != nil {
		return err
	}

	const query = `
		UPDATE rounds SET status = $3, updated_at = NOW()
		WHERE id = $1::uuid AND status = $2`

	tag, err := s.pool.Exec(ctx, query, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("postgres: transition round %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status.Reached(to) {
		return fmt.Errorf("postgres: round %s already %s: %w", id, current.Status, domain.ErrConflict)
	}
	return fmt.Errorf("postgres: round %s is %s, not %s: %w", id, current.Status, from, domain.ErrInvalidTransition)
}

// ListPending returns rounds with recorded predictions whose target is at
// or before until, oldest first.
func (s *RoundStore) ListPending(ctx context.Context, until time.Time, limit int) ([]domain.Round, error) {
	query := `SELECT ` + roundCols + ` FROM rounds
		WHERE status = $1 AND target_ts <= $2
		ORDER BY target_ts ASC`
	args := []any{string(domain.RoundStatusPredictionsRecorded), until.UTC()}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending rounds: %w", err)
	}
	out, err := scanRounds(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pending rounds: %w", err)
	}
	return out, nil
}

// List returns rounds newest target first.
func (s *RoundStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Round, error) {
	query, args := listQuery(`SELECT `+roundCols+` FROM rounds WHERE TRUE`, nil, "target_ts", "DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rounds: %w", err)
	}
	out, err := scanRounds(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan rounds: %w", err)
	}
	return out, nil
}

var _ domain.RoundStore = (*RoundStore)(nil)
