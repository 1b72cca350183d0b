package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

// listQuery appends the time window, ordering and paging of opts to query.
// The query must already contain a WHERE clause.
func listQuery(query string, args []any, column, order string, opts domain.ListOpts) (string, []any) {
	n := len(args) + 1
	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", column, n)
		args = append(args, *opts.Since)
		n++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", column, n)
		args = append(args, *opts.Until)
		n++
	}

	query += fmt.Sprintf(" ORDER BY %s %s", column, order)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, opts.Limit)
		n++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, opts.Offset)
	}
	return query, args
}

// checkID rejects ids that cannot be a round id before they reach a uuid
// cast in SQL.
func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("postgres: round id %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

// queryIDs runs a single-column text query and collects the values.
func queryIDs(ctx context.Context, pool *pgxpool.Pool, query, what string, args ...any) ([]string, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list %s: %w", what, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan %s: %w", what, err)
	}
	return ids, nil
}
