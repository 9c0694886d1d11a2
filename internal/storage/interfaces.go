// Package storage defines the persistence interfaces the pipeline works
// against. The postgres subpackage provides the production implementation;
// tests substitute in-memory fakes.
package storage

import (
	"context"
	"time"

	"github.com/vigiauto/vigiauto/internal/domain"
)

// Scan history status values.
const (
	ScanStatusRunning   = "running"
	ScanStatusOK        = "ok"
	ScanStatusCancelled = "cancelled"
	ScanStatusError     = "error"
)

// Filter narrows List and Count queries. Zero values mean "no constraint";
// OrderBy must be one of the whitelisted clauses or it falls back to
// score_total DESC.
type Filter struct {
	Source      domain.Source
	Status      domain.Status
	AlertLevel  domain.AlertLevel
	MinScore    *int
	NotNotified bool
	Limit       int
	Offset      int
	OrderBy     string
}

// DedupKeys is the projection used to warm the in-memory seen-sets at
// startup: every key the strict dedup consults.
type DedupKeys struct {
	Source          domain.Source `db:"source"`
	SourceListingID string        `db:"source_listing_id"`
	URLCanonique    string        `db:"url_canonique"`
	Fingerprint     string        `db:"fingerprint"`
}

// ScanRecord is one row of scan_history.
type ScanRecord struct {
	ID              int64         `db:"id" json:"id"`
	Source          domain.Source `db:"source" json:"source"`
	StartedAt       time.Time     `db:"started_at" json:"started_at"`
	FinishedAt      *time.Time    `db:"finished_at" json:"finished_at,omitempty"`
	Status          string        `db:"status" json:"status"`
	ListingsFound   int           `db:"listings_found" json:"listings_found"`
	ListingsNew     int           `db:"listings_new" json:"listings_new"`
	ErrorsCount     int           `db:"errors_count" json:"errors_count"`
	ErrorMessage    string        `db:"error_message" json:"error_message,omitempty"`
	DurationSeconds float64       `db:"duration_seconds" json:"duration_seconds"`
}

// GlobalStats mirrors the v_stats view.
type GlobalStats struct {
	Total       int     `db:"total" json:"total"`
	Urgent      int     `db:"urgent" json:"urgent"`
	Interessant int     `db:"interessant" json:"interessant"`
	Surveiller  int     `db:"surveiller" json:"surveiller"`
	Archive     int     `db:"archive" json:"archive"`
	AvgScore    float64 `db:"avg_score" json:"avg_score"`
	Notified    int     `db:"notified" json:"notified"`
	Last24h     int     `db:"last_24h" json:"last_24h"`
}

// SourceActivity mirrors one row of the v_stats_par_source view.
type SourceActivity struct {
	Source        string     `db:"source" json:"source"`
	Total         int        `db:"total" json:"total"`
	AvgScore      float64    `db:"avg_score" json:"avg_score"`
	Urgent        int        `db:"urgent" json:"urgent"`
	LastScrapedAt *time.Time `db:"last_scraped_at" json:"last_scraped_at,omitempty"`
}

// AnnonceRepo persists listings. Save is an upsert keyed on the strict
// fingerprint: the first row wins identity (id, created_at), later saves
// refresh everything else.
type AnnonceRepo interface {
	// Save inserts or updates by fingerprint and syncs the record's id and
	// created_at with the stored row.
	Save(ctx context.Context, a *domain.Annonce) error

	// ByID fetches one record, nil when absent.
	ByID(ctx context.Context, id string) (*domain.Annonce, error)

	// ByFingerprint fetches by the strict dedup key, nil when absent.
	ByFingerprint(ctx context.Context, fingerprint string) (*domain.Annonce, error)

	// ByURL matches either the raw or the canonical URL, nil when absent.
	ByURL(ctx context.Context, url string) (*domain.Annonce, error)

	// BySourceListing fetches by (source, native listing id), nil when the
	// listing id is empty or unknown.
	BySourceListing(ctx context.Context, source domain.Source, listingID string) (*domain.Annonce, error)

	// NearDuplicates lists rows sharing the soft fingerprint, newest first.
	NearDuplicates(ctx context.Context, fingerprintSoft string) ([]domain.Annonce, error)

	// IsNearDuplicate reports whether another record shares a's soft
	// fingerprint and returns the most recent one.
	IsNearDuplicate(ctx context.Context, a *domain.Annonce) (bool, *domain.Annonce, error)

	// Exists short-circuits: fingerprint first, then url/url_canonique.
	Exists(ctx context.Context, fingerprint, url string) (bool, error)

	// List applies the filter with the whitelisted ordering.
	List(ctx context.Context, f Filter) ([]domain.Annonce, error)

	// Count counts rows matching the filter (Limit/Offset/OrderBy ignored).
	Count(ctx context.Context, f Filter) (int, error)

	// MarkNotified stamps a successful outbound notification.
	MarkNotified(ctx context.Context, id string, channels []string) error

	// UpdateStatus moves a record through the operator lifecycle.
	UpdateStatus(ctx context.Context, id string, status domain.Status, reason string) error

	// Delete removes one record.
	Delete(ctx context.Context, id string) error

	// RecentFingerprints returns the dedup keys of rows created within the
	// window, newest first, capped at limit.
	RecentFingerprints(ctx context.Context, window time.Duration, limit int) ([]DedupKeys, error)
}

// ScanLogRepo records scan_history rows.
type ScanLogRepo interface {
	// Start opens a running scan row and returns its id.
	Start(ctx context.Context, source domain.Source) (int64, error)

	// End closes a scan row with its outcome.
	End(ctx context.Context, id int64, found, fresh, errCount int, status, errMsg string) error

	// Log writes a completed scan row in one shot.
	Log(ctx context.Context, rec ScanRecord) error

	// Recent returns the latest scan rows, newest first.
	Recent(ctx context.Context, limit int) ([]ScanRecord, error)
}

// StatsRepo reads the aggregate views.
type StatsRepo interface {
	Global(ctx context.Context) (GlobalStats, error)
	BySource(ctx context.Context) ([]SourceActivity, error)
}

// Store aggregates the repositories one pipeline run needs.
type Store struct {
	Annonces AnnonceRepo
	Scans    ScanLogRepo
	Stats    StatsRepo
}
