package pin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SanayKrishna/serendipity/internal/tracing"
)

const pinColumns = `id, device_id, content, latitude, longitude,
	created_at, expires_at, likes, dislikes, reports, passes_by,
	is_active, is_suppressed, is_community`

// PostgresRepository stores pins in PostgreSQL with PostGIS for the
// proximity queries.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a Postgres-backed pin repository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	return &PostgresRepository{db: db, logger: logger}
}

// Create stores a new pin and assigns its ID.
func (r *PostgresRepository) Create(ctx context.Context, p *Pin) (err error) {
	ctx, end := tracing.StartDBSpan(ctx, "pins", tracing.DBOperationInsert)
	defer func() { end(err) }()

	query := `
		INSERT INTO pins (device_id, content, latitude, longitude, location,
			created_at, expires_at, likes, dislikes, reports, passes_by,
			is_active, is_suppressed, is_community)
		VALUES ($1, $2, $3, $4,
			ST_SetSRID(ST_MakePoint($4, $3), 4326)::geography,
			$5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	err = r.db.QueryRowContext(ctx, query,
		p.DeviceID, p.Content, p.Latitude, p.Longitude,
		p.CreatedAt, p.ExpiresAt, p.Likes, p.Dislikes, p.Reports, p.PassBys,
		p.IsActive, p.IsSuppressed, p.IsCommunity,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to create pin: %w", err)
	}
	return nil
}

// GetByID returns a pin regardless of its active flag.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*Pin, error) {
	query := `SELECT ` + pinColumns + ` FROM pins WHERE id = $1`
	return scanPin(r.db.QueryRowContext(ctx, query, id))
}

// GetActive returns an active pin, or ErrNotFound.
func (r *PostgresRepository) GetActive(ctx context.Context, id int64) (*Pin, error) {
	query := `SELECT ` + pinColumns + ` FROM pins WHERE id = $1 AND is_active`
	return scanPin(r.db.QueryRowContext(ctx, query, id))
}

// DiscoverNearby returns visible pins within radiusMeters, nearest first.
func (r *PostgresRepository) DiscoverNearby(ctx context.Context, lat, lon float64, radiusMeters, limit int, now time.Time) (_ []Discovered, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "pins", tracing.DBOperationQuery)
	defer func() { end(err) }()

	if limit <= 0 || limit > MaxDiscoveryResults {
		limit = MaxDiscoveryResults
	}

	query := `
		SELECT ` + pinColumns + `,
			ST_Distance(location, ST_SetSRID(ST_MakePoint($2, $1), 4326)::geography) AS distance_meters
		FROM pins
		WHERE is_active
		  AND expires_at > $3
		  AND ST_DWithin(location, ST_SetSRID(ST_MakePoint($2, $1), 4326)::geography, $4)
		ORDER BY distance_meters ASC, id ASC
		LIMIT $5`

	rows, err := r.db.QueryContext(ctx, query, lat, lon, now, radiusMeters, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to discover pins: %w", err)
	}
	defer rows.Close()

	var found []Discovered
	for rows.Next() {
		var d Discovered
		if err := scanPinFields(rows, &d.Pin, &d.DistanceMeters); err != nil {
			return nil, fmt.Errorf("failed to scan discovered pin: %w", err)
		}
		found = append(found, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate discovered pins: %w", err)
	}
	return found, nil
}

// HasRecentNearby reports whether the device pinned nearby since the cutoff.
func (r *PostgresRepository) HasRecentNearby(ctx context.Context, deviceID int64, lat, lon float64, radiusMeters float64, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM pins
			WHERE device_id = $1
			  AND is_active
			  AND created_at >= $2
			  AND ST_DWithin(location, ST_SetSRID(ST_MakePoint($4, $3), 4326)::geography, $5)
		)`

	var exists bool
	err := r.db.QueryRowContext(ctx, query, deviceID, since, lat, lon, radiusMeters).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check for nearby pins: %w", err)
	}
	return exists, nil
}

// UpdateEngagement loads an active pin FOR UPDATE, applies fn, and persists
// the counters, suppression flag, and expiry in the same transaction.
func (r *PostgresRepository) UpdateEngagement(ctx context.Context, id int64, fn func(*Pin) error) (_ *Pin, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "pins", tracing.DBOperationUpdate)
	defer func() { end(err) }()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx, r.logger)

	query := `SELECT ` + pinColumns + ` FROM pins WHERE id = $1 AND is_active FOR UPDATE`
	p, err := scanPin(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}

	if err := fn(p); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE pins
		SET likes = $2, dislikes = $3, reports = $4, passes_by = $5,
			is_suppressed = $6, expires_at = $7
		WHERE id = $1`,
		p.ID, p.Likes, p.Dislikes, p.Reports, p.PassBys, p.IsSuppressed, p.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update pin engagement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return p, nil
}

// Delete removes a pin permanently. Interaction and sighting rows go with
// it via ON DELETE CASCADE.
func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pins WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pin: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CleanupExpired retires or deletes every expired active pin.
func (r *PostgresRepository) CleanupExpired(ctx context.Context, now time.Time, hard bool) (_ []int64, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "pins", tracing.DBOperationExec)
	defer func() { end(err) }()

	query := `
		UPDATE pins SET is_active = FALSE
		WHERE is_active AND expires_at <= $1
		RETURNING id`
	if hard {
		query = `
			DELETE FROM pins
			WHERE is_active AND expires_at <= $1
			RETURNING id`
	}

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to clean up expired pins: %w", err)
	}
	defer rows.Close()

	var affected []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan cleaned-up pin id: %w", err)
		}
		affected = append(affected, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cleaned-up pins: %w", err)
	}
	return affected, nil
}

// ListByDevice returns a device's pins, newest first.
func (r *PostgresRepository) ListByDevice(ctx context.Context, deviceID int64, limit int) ([]*Pin, error) {
	query := `
		SELECT ` + pinColumns + ` FROM pins
		WHERE device_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`
	return r.queryPins(ctx, query, deviceID, limit)
}

// SearchByDevice runs a full-text match over a device's pin content.
func (r *PostgresRepository) SearchByDevice(ctx context.Context, deviceID int64, query string, limit int) ([]*Pin, error) {
	q := `
		SELECT ` + pinColumns + ` FROM pins
		WHERE device_id = $1
		  AND to_tsvector('english', content) @@ plainto_tsquery('english', $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`
	return r.queryPins(ctx, q, deviceID, query, limit)
}

func (r *PostgresRepository) queryPins(ctx context.Context, query string, args ...any) ([]*Pin, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pins: %w", err)
	}
	defer rows.Close()

	var out []*Pin
	for rows.Next() {
		var p Pin
		if err := scanPinFields(rows, &p); err != nil {
			return nil, fmt.Errorf("failed to scan pin: %w", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pins: %w", err)
	}
	return out, nil
}

// Counts returns aggregate totals across all pins.
func (r *PostgresRepository) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE is_active),
			COUNT(*) FILTER (WHERE is_community AND is_active)
		FROM pins`).Scan(&c.Total, &c.Active, &c.Community)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count pins: %w", err)
	}
	return c, nil
}

// CountByDevice returns the number of pins owned by the device.
func (r *PostgresRepository) CountByDevice(ctx context.Context, deviceID int64) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pins WHERE device_id = $1`, deviceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count device pins: %w", err)
	}
	return n, nil
}

// CountCommunityByDevice returns the device's community pin count.
func (r *PostgresRepository) CountCommunityByDevice(ctx context.Context, deviceID int64, activeOnly bool) (int64, error) {
	query := `SELECT COUNT(*) FROM pins WHERE device_id = $1 AND is_community`
	if activeOnly {
		query += ` AND is_active`
	}
	var n int64
	if err := r.db.QueryRowContext(ctx, query, deviceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count community pins: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPin(row rowScanner) (*Pin, error) {
	var p Pin
	if err := scanPinFields(row, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPinFields(row rowScanner, p *Pin, extra ...any) error {
	dest := []any{
		&p.ID, &p.DeviceID, &p.Content, &p.Latitude, &p.Longitude,
		&p.CreatedAt, &p.ExpiresAt, &p.Likes, &p.Dislikes, &p.Reports, &p.PassBys,
		&p.IsActive, &p.IsSuppressed, &p.IsCommunity,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to scan pin: %w", err)
	}
	return nil
}

func rollback(tx *sql.Tx, logger *slog.Logger) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Error("failed to rollback transaction", slog.String("error", err.Error()))
	}
}
