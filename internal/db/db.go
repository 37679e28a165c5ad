// Package db opens and verifies the PostgreSQL connection shared by the
// repositories. PostGIS must be installed for the proximity queries.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
	pingTimeout     = 5 * time.Second
)

// VersionQuery is the SQL query to verify PostGIS is available.
const VersionQuery = "SELECT PostGIS_Version()"

// Open connects to PostgreSQL, applies pool settings, and verifies the
// server is reachable before returning.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(maxOpenConns)
	conn.SetMaxIdleConns(maxIdleConns)
	conn.SetConnMaxLifetime(connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	return conn, nil
}
