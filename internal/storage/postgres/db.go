// Package postgres implements the storage interfaces on PostgreSQL via
// sqlx. All operations run under a per-query timeout; failed writes are
// wrapped errors, absent rows come back as nil without error.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/vigiauto/vigiauto/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Config holds connection settings. DSN is the lib/pq connection string,
// everything else has workable defaults.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// DefaultConfig returns pool settings sized for a single-process scanner.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    30 * time.Second,
	}
}

// Open connects, configures the pool and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// EnsureSchema applies the embedded DDL. Every statement is idempotent so
// this runs unconditionally at startup.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// NewStore wires the repository implementations around one connection.
func NewStore(db *sqlx.DB, queryTimeout time.Duration) *storage.Store {
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	return &storage.Store{
		Annonces: NewAnnonceRepo(db, queryTimeout),
		Scans:    NewScanLogRepo(db, queryTimeout),
		Stats:    NewStatsRepo(db, queryTimeout),
	}
}
