package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

// PredictionStore implements domain.PredictionStore using PostgreSQL.
type PredictionStore struct {
	pool *pgxpool.Pool
}

// NewPredictionStore creates a PredictionStore backed by the given pool.
func NewPredictionStore(pool *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

const predictionCols = `round_id::text, model_name, target_ts, raw_prediction,
	predicted_close, previous_close, payout_multiplier,
	actual_close, accuracy, outcome, created_at, updated_at`

func scanPredictions(rows pgx.Rows) ([]domain.PredictionRecord, error) {
	defer rows.Close()
	var out []domain.PredictionRecord
	for rows.Next() {
		var p domain.PredictionRecord
		var outcome string
		if err := rows.Scan(
			&p.RoundID, &p.ModelName, &p.TargetTimestamp, &p.RawPrediction,
			&p.PredictedClose, &p.PreviousClose, &p.PayoutMultiplier,
			&p.ActualClose, &p.Accuracy, &outcome, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		p.Outcome = domain.Outcome(outcome)
		p.TargetTimestamp = p.TargetTimestamp.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertIfAbsent stores rec unless (round, model) exists. The frozen
// multiplier of an existing record is never touched.
func (s *PredictionStore) InsertIfAbsent(ctx context.Context, rec domain.PredictionRecord) (bool, error) {
	const query = `
		INSERT INTO prediction_records (
			round_id, model_name, target_ts, raw_prediction,
			predicted_close, previous_close, payout_multiplier, outcome
		) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, 'unknown')
		ON CONFLICT (round_id, model_name) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		rec.RoundID, rec.ModelName, rec.TargetTimestamp.UTC(), rec.RawPrediction,
		rec.PredictedClose, rec.PreviousClose, rec.PayoutMultiplier,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert prediction %s/%s: %w", rec.RoundID, rec.ModelName, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByRound returns the records of a round ordered by model name.
func (s *PredictionStore) ListByRound(ctx context.Context, roundID string) ([]domain.PredictionRecord, error) {
	if err := checkID(roundID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+predictionCols+` FROM prediction_records WHERE round_id = $1::uuid ORDER BY model_name`,
		roundID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list predictions %s: %w", roundID, err)
	}
	out, err := scanPredictions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan predictions %s: %w", roundID, err)
	}
	return out, nil
}

// Resolve writes a grade while the outcome is still unknown.
func (s *PredictionStore) Resolve(ctx context.Context, roundID, modelName string, g domain.Grade, at time.Time) (bool, error) {
	const query = `
		UPDATE prediction_records
		SET actual_close = $3, accuracy = $4, outcome = $5, updated_at = $6
		WHERE round_id = $1::uuid AND model_name = $2 AND outcome = 'unknown'`

	tag, err := s.pool.Exec(ctx, query, roundID, modelName, g.ActualClose, g.Accuracy, string(g.Outcome), at.UTC())
	if err != nil {
		return false, fmt.Errorf("postgres: resolve prediction %s/%s: %w", roundID, modelName, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListResolvedByModel returns the model's latest graded records by target
// timestamp.
func (s *PredictionStore) ListResolvedByModel(ctx context.Context, modelName string, limit int) ([]domain.PredictionRecord, error) {
	query := `SELECT ` + predictionCols + ` FROM prediction_records
		WHERE model_name = $1 AND outcome <> 'unknown'
		ORDER BY target_ts DESC`
	args := []any{modelName}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: model history %s: %w", modelName, err)
	}
	out, err := scanPredictions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan model history %s: %w", modelName, err)
	}
	return out, nil
}

var _ domain.PredictionStore = (*PredictionStore)(nil)
