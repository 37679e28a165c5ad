package engagement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SanayKrishna/serendipity/internal/tracing"
)

const interactionColumns = `id, device_id, pin_id, kind, created_at`

// PostgresLedger stores interactions in PostgreSQL. The unique index on
// (device_id, pin_id) makes InsertOrGet race-safe.
type PostgresLedger struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresLedger creates a Postgres-backed ledger.
func NewPostgresLedger(db *sql.DB, logger *slog.Logger) *PostgresLedger {
	return &PostgresLedger{db: db, logger: logger}
}

// InsertOrGet records an interaction unless one already exists. The insert
// relies on ON CONFLICT DO NOTHING; a losing racer falls through to the
// fetch and returns the winner's row.
func (l *PostgresLedger) InsertOrGet(ctx context.Context, deviceID, pinID int64, kind string, now time.Time) (_ *Interaction, _ bool, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "pin_interactions", tracing.DBOperationInsert)
	defer func() { end(err) }()

	query := `
		INSERT INTO pin_interactions (device_id, pin_id, kind, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id, pin_id) DO NOTHING
		RETURNING ` + interactionColumns

	var row Interaction
	err = l.db.QueryRowContext(ctx, query, deviceID, pinID, kind, now).Scan(
		&row.ID, &row.DeviceID, &row.PinID, &row.Kind, &row.CreatedAt)
	if err == nil {
		return &row, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert interaction: %w", err)
	}

	// Conflict: another interaction already holds the slot.
	existing, err := l.Get(ctx, deviceID, pinID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Get returns the interaction a device holds on a pin.
func (l *PostgresLedger) Get(ctx context.Context, deviceID, pinID int64) (*Interaction, error) {
	query := `SELECT ` + interactionColumns + ` FROM pin_interactions WHERE device_id = $1 AND pin_id = $2`

	var row Interaction
	err := l.db.QueryRowContext(ctx, query, deviceID, pinID).Scan(
		&row.ID, &row.DeviceID, &row.PinID, &row.Kind, &row.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get interaction: %w", err)
	}
	return &row, nil
}

// SetKind flips an interaction from one kind to another. Matching on the
// current kind keeps the flip single-shot under concurrent requests.
func (l *PostgresLedger) SetKind(ctx context.Context, deviceID, pinID int64, from, to string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE pin_interactions SET kind = $4 WHERE device_id = $1 AND pin_id = $2 AND kind = $3`,
		deviceID, pinID, from, to)
	if err != nil {
		return fmt.Errorf("failed to update interaction: %w", err)
	}
	return requireRow(res)
}

// Delete removes a device's interaction on a pin.
func (l *PostgresLedger) Delete(ctx context.Context, deviceID, pinID int64) error {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM pin_interactions WHERE device_id = $1 AND pin_id = $2`,
		deviceID, pinID)
	if err != nil {
		return fmt.Errorf("failed to delete interaction: %w", err)
	}
	return requireRow(res)
}

// DeleteByPin removes every interaction on a pin.
func (l *PostgresLedger) DeleteByPin(ctx context.Context, pinID int64) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM pin_interactions WHERE pin_id = $1`, pinID)
	if err != nil {
		return fmt.Errorf("failed to delete pin interactions: %w", err)
	}
	return nil
}

// TallyByDevice counts a device's interactions grouped by kind.
func (l *PostgresLedger) TallyByDevice(ctx context.Context, deviceID int64) (Tally, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE kind = $2),
			COUNT(*) FILTER (WHERE kind = $3),
			COUNT(*) FILTER (WHERE kind = $4)
		FROM pin_interactions
		WHERE device_id = $1`

	var t Tally
	err := l.db.QueryRowContext(ctx, query, deviceID, KindLike, KindDislike, KindReport).Scan(
		&t.Likes, &t.Dislikes, &t.Reports)
	if err != nil {
		return Tally{}, fmt.Errorf("failed to tally interactions: %w", err)
	}
	return t, nil
}

// Count returns the total number of recorded interactions.
func (l *PostgresLedger) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pin_interactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count interactions: %w", err)
	}
	return n, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
