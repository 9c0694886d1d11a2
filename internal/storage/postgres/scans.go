package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vigiauto/vigiauto/internal/domain"
	"github.com/vigiauto/vigiauto/internal/storage"
)

// scanLogRepo implements storage.ScanLogRepo on PostgreSQL.
type scanLogRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewScanLogRepo builds the scan history repository.
func NewScanLogRepo(db *sqlx.DB, timeout time.Duration) storage.ScanLogRepo {
	return &scanLogRepo{db: db, timeout: timeout}
}

func (r *scanLogRepo) Start(ctx context.Context, source domain.Source) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var id int64
	query := `
		INSERT INTO scan_history (source, started_at, status)
		VALUES ($1, $2, $3)
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query, source, time.Now().UTC(), storage.ScanStatusRunning).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to start scan log: %w", err)
	}
	return id, nil
}

// End closes the row. Duration is computed in the database against the
// stored started_at, not from an in-memory start time.
func (r *scanLogRepo) End(ctx context.Context, id int64, found, fresh, errCount int, status, errMsg string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE scan_history
		SET finished_at = $1,
		    status = $2,
		    listings_found = $3,
		    listings_new = $4,
		    errors_count = $5,
		    error_message = $6,
		    duration_seconds = EXTRACT(EPOCH FROM ($1::timestamptz - started_at))
		WHERE id = $7`
	if _, err := r.db.ExecContext(ctx, query, time.Now().UTC(), status, found, fresh, errCount, errMsg, id); err != nil {
		return fmt.Errorf("failed to end scan log: %w", err)
	}
	return nil
}

func (r *scanLogRepo) Log(ctx context.Context, rec storage.ScanRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO scan_history
			(source, started_at, finished_at, status, listings_found, listings_new, errors_count, error_message, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query,
		rec.Source, rec.StartedAt, rec.FinishedAt, rec.Status,
		rec.ListingsFound, rec.ListingsNew, rec.ErrorsCount, rec.ErrorMessage, rec.DurationSeconds)
	if err != nil {
		return fmt.Errorf("failed to log scan: %w", err)
	}
	return nil
}

func (r *scanLogRepo) Recent(ctx context.Context, limit int) ([]storage.ScanRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	var recs []storage.ScanRecord
	query := `
		SELECT id, source, started_at, finished_at, status,
		       listings_found, listings_new, errors_count, error_message, duration_seconds
		FROM scan_history
		ORDER BY started_at DESC
		LIMIT $1`
	if err := r.db.SelectContext(ctx, &recs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to load recent scans: %w", err)
	}
	return recs, nil
}
