package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/SanayKrishna/serendipity/internal/tracing"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// PostgresRepository implements Repository using PostgreSQL.
// Row-level locks serialize concurrent mutations of the same device.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

const deviceColumns = `id, external_id, auth_kind, account_id, created_at, last_seen_at, pins_created_today, quota_reset_at`

// GetOrCreate looks up a device by external identifier, creating it when absent.
// A concurrent first-sight race on the same identifier is resolved by the
// unique constraint: the loser re-reads the winner's row.
func (r *PostgresRepository) GetOrCreate(ctx context.Context, externalID string, kind AuthKind, now time.Time) (_ *Device, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "devices", tracing.DBOperationUpdate)
	defer func() { end(err) }()

	if !kind.Valid() {
		kind = KindDevice
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx, r.logger)

	d, err := scanDevice(tx.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE external_id = $1 FOR UPDATE`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		d, err = scanDevice(tx.QueryRowContext(ctx, `
			INSERT INTO devices (external_id, auth_kind, created_at, last_seen_at, pins_created_today, quota_reset_at)
			VALUES ($1, $2, $3, $3, 0, $3)
			RETURNING `+deviceColumns, externalID, string(kind), now.UTC()))
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
				// Lost the first-sight race; fall back to the winner's row.
				if commitErr := tx.Commit(); commitErr != nil {
					return nil, fmt.Errorf("failed to commit after insert race: %w", commitErr)
				}
				return r.GetOrCreate(ctx, externalID, kind, now)
			}
			return nil, fmt.Errorf("failed to insert device: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit device insert: %w", err)
		}
		r.logger.Info("new device registered",
			slog.String("auth_kind", string(kind)),
			slog.String("device", truncateID(externalID)))
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device: %w", err)
	}

	d.LastSeenAt = now.UTC()
	upgraded := false
	if kind == KindLinkedAccount && d.Kind == KindDevice {
		d.Kind = KindLinkedAccount
		upgraded = true
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE devices SET last_seen_at = $1, auth_kind = $2 WHERE id = $3`,
		d.LastSeenAt, string(d.Kind), d.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update device: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit device update: %w", err)
	}

	if upgraded {
		r.logger.Info("device upgraded to linked account",
			slog.String("device", truncateID(externalID)))
	}
	return d, nil
}

// Get looks up a device without creating it.
func (r *PostgresRepository) Get(ctx context.Context, externalID string) (*Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE external_id = $1`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	return d, nil
}

// GetByID looks up a device by its internal id.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	return d, nil
}

// ConsumeQuota atomically checks and increments the daily pin counter.
func (r *PostgresRepository) ConsumeQuota(ctx context.Context, id int64, now time.Time) (err error) {
	ctx, end := tracing.StartDBSpan(ctx, "devices", tracing.DBOperationUpdate)
	defer func() { end(err) }()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx, r.logger)

	d, err := scanDevice(tx.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock device row: %w", err)
	}

	d.ResetQuotaIfNewDay(now)
	if d.PinsCreatedToday >= DailyPinLimit {
		return ErrQuotaExceeded
	}
	d.PinsCreatedToday++

	_, err = tx.ExecContext(ctx,
		`UPDATE devices SET pins_created_today = $1, quota_reset_at = $2 WHERE id = $3`,
		d.PinsCreatedToday, d.QuotaResetAt, d.ID)
	if err != nil {
		return fmt.Errorf("failed to update quota: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit quota update: %w", err)
	}
	return nil
}

// Count returns the total number of registered devices.
func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", err)
	}
	return n, nil
}

// scanDevice scans a device row from a QueryRow result.
func scanDevice(row *sql.Row) (*Device, error) {
	var d Device
	var kind string
	var accountID sql.NullInt64
	err := row.Scan(&d.ID, &d.ExternalID, &kind, &accountID,
		&d.CreatedAt, &d.LastSeenAt, &d.PinsCreatedToday, &d.QuotaResetAt)
	if err != nil {
		return nil, err
	}
	d.Kind = AuthKind(kind)
	if accountID.Valid {
		v := accountID.Int64
		d.AccountID = &v
	}
	return &d, nil
}

// rollback attempts to roll back a transaction, ignoring ErrTxDone after commit.
func rollback(tx *sql.Tx, logger *slog.Logger) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Warn("failed to rollback transaction", slog.String("error", err.Error()))
	}
}

// truncateID shortens an external identifier for log output.
func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}
