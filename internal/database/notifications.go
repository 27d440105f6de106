package database

import (
	"context"

	"github.com/smukkama/egg-grader/internal/grading"
)

// InsertNotification stores a notification. Inserting an existing ID is a
// no-op.
func (db *DB) InsertNotification(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (
			id, device_id, slot, kind, status, title, description, weight, read, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := db.ExecContext(ctx, query,
		n.ID,
		n.DeviceID,
		n.Slot,
		n.Kind,
		string(n.Status),
		n.Title,
		n.Description,
		n.Weight,
		n.Read,
		n.CreatedAt,
	)
	return err
}

// ListNotifications returns the most recent notifications, newest first.
// A limit of zero or less returns all of them.
func (db *DB) ListNotifications(ctx context.Context, limit int) ([]*Notification, error) {
	query := `
		SELECT id, device_id, slot, kind, status, title, description, weight, read, created_at
		FROM notifications
		ORDER BY created_at DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		var status string
		if err := rows.Scan(
			&n.ID,
			&n.DeviceID,
			&n.Slot,
			&n.Kind,
			&status,
			&n.Title,
			&n.Description,
			&n.Weight,
			&n.Read,
			&n.CreatedAt,
		); err != nil {
			return nil, err
		}
		n.Status = grading.Status(status)
		out = append(out, &n)
	}
	return out, rows.Err()
}

// MarkNotificationRead flags one notification as read
func (db *DB) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// MarkAllNotificationsRead flags every notification as read
func (db *DB) MarkAllNotificationsRead(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE read = FALSE`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteNotification removes one notification
func (db *DB) DeleteNotification(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// DeleteAllNotifications removes every notification
func (db *DB) DeleteAllNotifications(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM notifications`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
