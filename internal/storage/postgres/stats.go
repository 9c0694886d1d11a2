package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vigiauto/vigiauto/internal/storage"
)

// statsRepo reads the aggregate views defined in schema.sql.
type statsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStatsRepo builds the aggregate stats reader.
func NewStatsRepo(db *sqlx.DB, timeout time.Duration) storage.StatsRepo {
	return &statsRepo{db: db, timeout: timeout}
}

func (r *statsRepo) Global(ctx context.Context) (storage.GlobalStats, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stats storage.GlobalStats
	query := "SELECT total, urgent, interessant, surveiller, archive, avg_score, notified, last_24h FROM v_stats"
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return storage.GlobalStats{}, fmt.Errorf("failed to load global stats: %w", err)
	}
	return stats, nil
}

func (r *statsRepo) BySource(ctx context.Context) ([]storage.SourceActivity, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []storage.SourceActivity
	query := "SELECT source, total, avg_score, urgent, last_scraped_at FROM v_stats_par_source"
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to load per-source stats: %w", err)
	}
	return rows, nil
}
