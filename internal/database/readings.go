package database

import (
	"context"
	"fmt"

	"github.com/lib/pq"
)

// UpsertDevice records a device and its slot count, refreshing last_seen_at
func (db *DB) UpsertDevice(ctx context.Context, deviceID string, slots int) error {
	query := `
		INSERT INTO devices (device_id, slots)
		VALUES ($1, $2)
		ON CONFLICT (device_id) DO UPDATE
		SET slots = EXCLUDED.slots,
		    last_seen_at = CURRENT_TIMESTAMP
	`
	_, err := db.ExecContext(ctx, query, deviceID, slots)
	return err
}

// ListDevices returns every known device ordered by ID
func (db *DB) ListDevices(ctx context.Context) ([]*Device, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT device_id, slots, first_seen_at, last_seen_at
		FROM devices
		ORDER BY device_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.DeviceID, &d.Slots, &d.FirstSeenAt, &d.LastSeenAt); err != nil {
			return nil, err
		}
		devices = append(devices, &d)
	}
	return devices, rows.Err()
}

// InsertReadingLogs writes a batch of readings in one transaction
func (db *DB) InsertReadingLogs(ctx context.Context, logs []*ReadingLog) error {
	if len(logs) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reading_log (device_id, timestamp, weights, received_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, l := range logs {
		if err := stmt.QueryRowContext(ctx,
			l.DeviceID,
			l.Timestamp,
			pq.Float64Array(l.Weights),
			l.ReceivedAt,
		).Scan(&l.ID); err != nil {
			return fmt.Errorf("failed to insert reading for %s: %w", l.DeviceID, err)
		}
	}

	return tx.Commit()
}
