package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/smukkama/egg-grader/internal/history"
)

// InsertBatch stores a saved batch
func (db *DB) InsertBatch(ctx context.Context, b *history.Batch) error {
	query := `
		INSERT INTO batches (id, device_id, created_at, weights)
		VALUES ($1, $2, $3, $4)
	`
	_, err := db.ExecContext(ctx, query, b.ID, b.DeviceID, b.CreatedAt, pq.Float64Array(b.Weights))
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

// GetBatch retrieves a batch by ID
func (db *DB) GetBatch(ctx context.Context, id string) (*history.Batch, error) {
	query := `
		SELECT id, device_id, created_at, weights
		FROM batches
		WHERE id = $1
	`

	var b history.Batch
	var weights pq.Float64Array
	err := db.QueryRowContext(ctx, query, id).Scan(&b.ID, &b.DeviceID, &b.CreatedAt, &weights)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	b.Weights = []float64(weights)
	return &b, nil
}

// ListBatches returns every batch, newest first
func (db *DB) ListBatches(ctx context.Context) ([]history.Batch, error) {
	return db.queryBatches(ctx, `
		SELECT id, device_id, created_at, weights
		FROM batches
		ORDER BY created_at DESC
	`)
}

// ListBatchesBetween returns batches created in [from, to), oldest first
func (db *DB) ListBatchesBetween(ctx context.Context, from, to time.Time) ([]history.Batch, error) {
	return db.queryBatches(ctx, `
		SELECT id, device_id, created_at, weights
		FROM batches
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at
	`, from, to)
}

// DeleteBatch removes a batch by ID
func (db *DB) DeleteBatch(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM batches WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (db *DB) queryBatches(ctx context.Context, query string, args ...interface{}) ([]history.Batch, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []history.Batch
	for rows.Next() {
		var b history.Batch
		var weights pq.Float64Array
		if err := rows.Scan(&b.ID, &b.DeviceID, &b.CreatedAt, &weights); err != nil {
			return nil, err
		}
		b.Weights = []float64(weights)
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
