package sighting

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/SanayKrishna/serendipity/internal/tracing"
)

// PostgresRecorder stores sightings in PostgreSQL. The unique index on
// (device_id, pin_id) plus ON CONFLICT DO NOTHING makes Record idempotent
// under concurrency.
type PostgresRecorder struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRecorder creates a Postgres-backed recorder.
func NewPostgresRecorder(db *sql.DB, logger *slog.Logger) *PostgresRecorder {
	return &PostgresRecorder{db: db, logger: logger}
}

// Record stores a first encounter; repeats are no-ops.
func (r *PostgresRecorder) Record(ctx context.Context, deviceID, pinID int64, now time.Time) (err error) {
	ctx, end := tracing.StartDBSpan(ctx, "ghost_sightings", tracing.DBOperationInsert)
	defer func() { end(err) }()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO ghost_sightings (device_id, pin_id, seen_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id, pin_id) DO NOTHING`,
		deviceID, pinID, now)
	if err != nil {
		return fmt.Errorf("failed to record sighting: %w", err)
	}
	return nil
}

// ListPinIDsByDevice returns encountered pins, most recent first.
func (r *PostgresRecorder) ListPinIDsByDevice(ctx context.Context, deviceID int64, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT pin_id FROM ghost_sightings
		WHERE device_id = $1
		ORDER BY seen_at DESC, id DESC
		LIMIT $2`,
		deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sightings: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan sighting: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sightings: %w", err)
	}
	return ids, nil
}

// CountByDevice returns how many distinct pins a device has encountered.
func (r *PostgresRecorder) CountByDevice(ctx context.Context, deviceID int64) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ghost_sightings WHERE device_id = $1`, deviceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sightings: %w", err)
	}
	return n, nil
}

// DeleteByPin removes every sighting of a pin.
func (r *PostgresRecorder) DeleteByPin(ctx context.Context, pinID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM ghost_sightings WHERE pin_id = $1`, pinID)
	if err != nil {
		return fmt.Errorf("failed to delete pin sightings: %w", err)
	}
	return nil
}
