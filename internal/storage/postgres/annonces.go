package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vigiauto/vigiauto/internal/domain"
	"github.com/vigiauto/vigiauto/internal/storage"
)

// annonceColumns is the canonical column order for inserts and selects.
var annonceColumns = []string{
	"id", "source", "source_listing_id", "url", "url_canonique",
	"fingerprint", "fingerprint_soft",
	"marque", "modele", "version", "motorisation", "carburant", "boite",
	"puissance_ch", "annee", "kilometrage", "prix",
	"ville", "code_postal", "departement", "latitude", "longitude",
	"seller_type", "seller_name", "seller_phone",
	"titre", "description", "images_urls",
	"published_at", "scraped_at", "created_at", "updated_at",
	"score_total", "score_breakdown", "vehicule_cible_id",
	"keywords_opportunite", "keywords_risque",
	"margin_estimate_min", "margin_estimate_max", "repair_cost_estimate",
	"prix_marche_estime",
	"alert_level", "status", "ignore_reason",
	"notified", "notified_at", "notify_channels",
}

// Columns whose stored value survives an upsert: identity belongs to the
// first row that claimed the fingerprint.
var upsertImmutable = map[string]bool{
	"id":          true,
	"fingerprint": true,
	"created_at":  true,
}

var (
	selectAnnonce = "SELECT " + strings.Join(annonceColumns, ", ") + " FROM annonces"
	upsertAnnonce = buildUpsertSQL()
)

func buildUpsertSQL() string {
	values := make([]string, len(annonceColumns))
	for i, col := range annonceColumns {
		values[i] = ":" + col
	}
	var updates []string
	for _, col := range annonceColumns {
		if upsertImmutable[col] {
			continue
		}
		updates = append(updates, col+" = EXCLUDED."+col)
	}
	return fmt.Sprintf(`
		INSERT INTO annonces (%s)
		VALUES (%s)
		ON CONFLICT (fingerprint) DO UPDATE SET %s
		RETURNING id, created_at`,
		strings.Join(annonceColumns, ", "),
		strings.Join(values, ", "),
		strings.Join(updates, ", "))
}

// annonceRow is the scan target: JSONB columns come and go as raw bytes.
type annonceRow struct {
	ID              string        `db:"id"`
	Source          domain.Source `db:"source"`
	SourceListingID string        `db:"source_listing_id"`
	URL             string        `db:"url"`
	URLCanonique    string        `db:"url_canonique"`
	Fingerprint     string        `db:"fingerprint"`
	FingerprintSoft string        `db:"fingerprint_soft"`

	Marque       string         `db:"marque"`
	Modele       string         `db:"modele"`
	Version      string         `db:"version"`
	Motorisation string         `db:"motorisation"`
	Carburant    domain.Fuel    `db:"carburant"`
	Boite        domain.Gearbox `db:"boite"`
	PuissanceCh  *int           `db:"puissance_ch"`
	Annee        *int           `db:"annee"`
	Kilometrage  *int           `db:"kilometrage"`
	Prix         *int           `db:"prix"`

	Ville       string   `db:"ville"`
	CodePostal  string   `db:"code_postal"`
	Departement string   `db:"departement"`
	Latitude    *float64 `db:"latitude"`
	Longitude   *float64 `db:"longitude"`

	SellerType  domain.SellerType `db:"seller_type"`
	SellerName  string            `db:"seller_name"`
	SellerPhone string            `db:"seller_phone"`

	Titre       string `db:"titre"`
	Description string `db:"description"`
	ImagesURLs  []byte `db:"images_urls"`

	PublishedAt *time.Time `db:"published_at"`
	ScrapedAt   time.Time  `db:"scraped_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`

	ScoreTotal      int    `db:"score_total"`
	ScoreBreakdown  []byte `db:"score_breakdown"`
	VehiculeCibleID string `db:"vehicule_cible_id"`

	KeywordsOpportunite []byte `db:"keywords_opportunite"`
	KeywordsRisque      []byte `db:"keywords_risque"`

	MarginEstimateMin  int  `db:"margin_estimate_min"`
	MarginEstimateMax  int  `db:"margin_estimate_max"`
	RepairCostEstimate int  `db:"repair_cost_estimate"`
	PrixMarcheEstime   *int `db:"prix_marche_estime"`

	AlertLevel   domain.AlertLevel `db:"alert_level"`
	Status       domain.Status     `db:"status"`
	IgnoreReason string            `db:"ignore_reason"`

	Notified       bool       `db:"notified"`
	NotifiedAt     *time.Time `db:"notified_at"`
	NotifyChannels []byte     `db:"notify_channels"`
}

func marshalList(items []string) ([]byte, error) {
	if items == nil {
		items = []string{}
	}
	return json.Marshal(items)
}

func unmarshalList(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func rowFromAnnonce(a *domain.Annonce) (*annonceRow, error) {
	images, err := marshalList(a.ImagesURLs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal images_urls: %w", err)
	}
	opps, err := marshalList(a.KeywordsOpportunite)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal keywords_opportunite: %w", err)
	}
	risks, err := marshalList(a.KeywordsRisque)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal keywords_risque: %w", err)
	}
	channels, err := marshalList(a.NotifyChannels)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notify_channels: %w", err)
	}
	breakdown, err := json.Marshal(a.ScoreBreakdown)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal score_breakdown: %w", err)
	}

	return &annonceRow{
		ID:              a.ID,
		Source:          a.Source,
		SourceListingID: a.SourceListingID,
		URL:             a.URL,
		URLCanonique:    a.URLCanonique,
		Fingerprint:     a.Fingerprint,
		FingerprintSoft: a.FingerprintSoft,

		Marque:       a.Marque,
		Modele:       a.Modele,
		Version:      a.Version,
		Motorisation: a.Motorisation,
		Carburant:    a.Carburant,
		Boite:        a.Boite,
		PuissanceCh:  a.PuissanceCh,
		Annee:        a.Annee,
		Kilometrage:  a.Kilometrage,
		Prix:         a.Prix,

		Ville:       a.Ville,
		CodePostal:  a.CodePostal,
		Departement: a.Departement,
		Latitude:    a.Latitude,
		Longitude:   a.Longitude,

		SellerType:  a.SellerType,
		SellerName:  a.SellerName,
		SellerPhone: a.SellerPhone,

		Titre:       a.Titre,
		Description: a.Description,
		ImagesURLs:  images,

		PublishedAt: a.PublishedAt,
		ScrapedAt:   a.ScrapedAt,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,

		ScoreTotal:      a.ScoreTotal,
		ScoreBreakdown:  breakdown,
		VehiculeCibleID: a.VehiculeCibleID,

		KeywordsOpportunite: opps,
		KeywordsRisque:      risks,

		MarginEstimateMin:  a.MarginEstimateMin,
		MarginEstimateMax:  a.MarginEstimateMax,
		RepairCostEstimate: a.RepairCostEstimate,
		PrixMarcheEstime:   a.PrixMarcheEstime,

		AlertLevel:   a.AlertLevel,
		Status:       a.Status,
		IgnoreReason: a.IgnoreReason,

		Notified:       a.Notified,
		NotifiedAt:     a.NotifiedAt,
		NotifyChannels: channels,
	}, nil
}

func (r *annonceRow) toAnnonce() (*domain.Annonce, error) {
	images, err := unmarshalList(r.ImagesURLs)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal images_urls: %w", err)
	}
	opps, err := unmarshalList(r.KeywordsOpportunite)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal keywords_opportunite: %w", err)
	}
	risks, err := unmarshalList(r.KeywordsRisque)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal keywords_risque: %w", err)
	}
	channels, err := unmarshalList(r.NotifyChannels)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal notify_channels: %w", err)
	}

	var breakdown domain.ScoreBreakdown
	if len(r.ScoreBreakdown) > 0 {
		if err := json.Unmarshal(r.ScoreBreakdown, &breakdown); err != nil {
			return nil, fmt.Errorf("failed to unmarshal score_breakdown: %w", err)
		}
	}

	return &domain.Annonce{
		ID:              r.ID,
		Source:          r.Source,
		SourceListingID: r.SourceListingID,
		URL:             r.URL,
		URLCanonique:    r.URLCanonique,
		Fingerprint:     r.Fingerprint,
		FingerprintSoft: r.FingerprintSoft,

		Marque:       r.Marque,
		Modele:       r.Modele,
		Version:      r.Version,
		Motorisation: r.Motorisation,
		Carburant:    r.Carburant,
		Boite:        r.Boite,
		PuissanceCh:  r.PuissanceCh,
		Annee:        r.Annee,
		Kilometrage:  r.Kilometrage,
		Prix:         r.Prix,

		Ville:       r.Ville,
		CodePostal:  r.CodePostal,
		Departement: r.Departement,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,

		SellerType:  r.SellerType,
		SellerName:  r.SellerName,
		SellerPhone: r.SellerPhone,

		Titre:       r.Titre,
		Description: r.Description,
		ImagesURLs:  images,

		PublishedAt: r.PublishedAt,
		ScrapedAt:   r.ScrapedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,

		ScoreTotal:      r.ScoreTotal,
		ScoreBreakdown:  breakdown,
		VehiculeCibleID: r.VehiculeCibleID,

		KeywordsOpportunite: opps,
		KeywordsRisque:      risks,

		MarginEstimateMin:  r.MarginEstimateMin,
		MarginEstimateMax:  r.MarginEstimateMax,
		RepairCostEstimate: r.RepairCostEstimate,
		PrixMarcheEstime:   r.PrixMarcheEstime,

		AlertLevel:   r.AlertLevel,
		Status:       r.Status,
		IgnoreReason: r.IgnoreReason,

		Notified:       r.Notified,
		NotifiedAt:     r.NotifiedAt,
		NotifyChannels: channels,
	}, nil
}

// annonceRepo implements storage.AnnonceRepo on PostgreSQL.
type annonceRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAnnonceRepo builds the listings repository.
func NewAnnonceRepo(db *sqlx.DB, timeout time.Duration) storage.AnnonceRepo {
	return &annonceRepo{db: db, timeout: timeout}
}

// Save upserts by fingerprint and syncs id/created_at with the stored row,
// so callers holding a duplicate end up with the original row's identity.
func (r *annonceRepo) Save(ctx context.Context, a *domain.Annonce) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	a.UpdatedAt = time.Now().UTC()
	row, err := rowFromAnnonce(a)
	if err != nil {
		return err
	}

	rows, err := r.db.NamedQueryContext(ctx, upsertAnnonce, row)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("conflicting annonce row: %w", err)
		}
		return fmt.Errorf("failed to save annonce: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&a.ID, &a.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan saved annonce identity: %w", err)
		}
	}
	return rows.Err()
}

func (r *annonceRepo) getOne(ctx context.Context, query string, args ...interface{}) (*domain.Annonce, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row annonceRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query annonce: %w", err)
	}
	return row.toAnnonce()
}

func (r *annonceRepo) ByID(ctx context.Context, id string) (*domain.Annonce, error) {
	return r.getOne(ctx, selectAnnonce+" WHERE id = $1", id)
}

func (r *annonceRepo) ByFingerprint(ctx context.Context, fingerprint string) (*domain.Annonce, error) {
	return r.getOne(ctx, selectAnnonce+" WHERE fingerprint = $1", fingerprint)
}

func (r *annonceRepo) ByURL(ctx context.Context, url string) (*domain.Annonce, error) {
	return r.getOne(ctx, selectAnnonce+" WHERE url = $1 OR url_canonique = $1 LIMIT 1", url)
}

func (r *annonceRepo) BySourceListing(ctx context.Context, source domain.Source, listingID string) (*domain.Annonce, error) {
	if listingID == "" {
		return nil, nil
	}
	return r.getOne(ctx, selectAnnonce+" WHERE source = $1 AND source_listing_id = $2", source, listingID)
}

func (r *annonceRepo) NearDuplicates(ctx context.Context, fingerprintSoft string) ([]domain.Annonce, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []annonceRow
	query := selectAnnonce + " WHERE fingerprint_soft = $1 ORDER BY created_at DESC"
	if err := r.db.SelectContext(ctx, &rows, query, fingerprintSoft); err != nil {
		return nil, fmt.Errorf("failed to query near duplicates: %w", err)
	}
	return rowsToAnnonces(rows)
}

func (r *annonceRepo) IsNearDuplicate(ctx context.Context, a *domain.Annonce) (bool, *domain.Annonce, error) {
	if a.FingerprintSoft == "" {
		return false, nil, nil
	}

	dupes, err := r.NearDuplicates(ctx, a.FingerprintSoft)
	if err != nil {
		return false, nil, err
	}
	for i := range dupes {
		if dupes[i].ID != a.ID {
			return true, &dupes[i], nil
		}
	}
	return false, nil, nil
}

// Exists checks the strict fingerprint first; a hit skips the url lookup.
func (r *annonceRepo) Exists(ctx context.Context, fingerprint, url string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var one int
	if fingerprint != "" {
		err := r.db.GetContext(ctx, &one, "SELECT 1 FROM annonces WHERE fingerprint = $1 LIMIT 1", fingerprint)
		switch {
		case err == nil:
			return true, nil
		case err != sql.ErrNoRows:
			return false, fmt.Errorf("failed to check fingerprint existence: %w", err)
		}
	}

	if url != "" {
		err := r.db.GetContext(ctx, &one, "SELECT 1 FROM annonces WHERE url = $1 OR url_canonique = $1 LIMIT 1", url)
		switch {
		case err == nil:
			return true, nil
		case err != sql.ErrNoRows:
			return false, fmt.Errorf("failed to check url existence: %w", err)
		}
	}

	return false, nil
}

// orderWhitelist maps the accepted List orderings to their SQL. Anything
// else falls back to score_total DESC.
var orderWhitelist = map[string]string{
	"score_total DESC": "score_total DESC",
	"score_total ASC":  "score_total ASC",
	"created_at DESC":  "created_at DESC",
	"created_at ASC":   "created_at ASC",
	"prix ASC":         "prix ASC",
	"prix DESC":        "prix DESC",
}

func buildFilter(f storage.Filter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if f.Source != "" {
		add("source = $%d", string(f.Source))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.AlertLevel != "" {
		add("alert_level = $%d", string(f.AlertLevel))
	}
	if f.MinScore != nil {
		add("score_total >= $%d", *f.MinScore)
	}
	if f.NotNotified {
		conditions = append(conditions, "notified = FALSE")
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (r *annonceRepo) List(ctx context.Context, f storage.Filter) ([]domain.Annonce, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	where, args := buildFilter(f)

	order, ok := orderWhitelist[f.OrderBy]
	if !ok {
		order = "score_total DESC"
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf("%s%s ORDER BY %s LIMIT $%d OFFSET $%d",
		selectAnnonce, where, order, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	var rows []annonceRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list annonces: %w", err)
	}
	return rowsToAnnonces(rows)
}

func (r *annonceRepo) Count(ctx context.Context, f storage.Filter) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	where, args := buildFilter(f)

	var count int
	query := "SELECT COUNT(*) FROM annonces" + where
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count annonces: %w", err)
	}
	return count, nil
}

func (r *annonceRepo) MarkNotified(ctx context.Context, id string, channels []string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	channelsJSON, err := marshalList(channels)
	if err != nil {
		return fmt.Errorf("failed to marshal notify_channels: %w", err)
	}

	now := time.Now().UTC()
	query := `
		UPDATE annonces
		SET notified = TRUE, notified_at = $1, notify_channels = $2, updated_at = $1
		WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, now, channelsJSON, id); err != nil {
		return fmt.Errorf("failed to mark annonce notified: %w", err)
	}
	return nil
}

func (r *annonceRepo) UpdateStatus(ctx context.Context, id string, status domain.Status, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE annonces
		SET status = $1, ignore_reason = $2, updated_at = $3
		WHERE id = $4`
	if _, err := r.db.ExecContext(ctx, query, status, reason, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to update annonce status: %w", err)
	}
	return nil
}

func (r *annonceRepo) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, "DELETE FROM annonces WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete annonce: %w", err)
	}
	return nil
}

func (r *annonceRepo) RecentFingerprints(ctx context.Context, window time.Duration, limit int) ([]storage.DedupKeys, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 5000
	}
	cutoff := time.Now().UTC().Add(-window)

	var keys []storage.DedupKeys
	query := `
		SELECT source, source_listing_id, url_canonique, fingerprint
		FROM annonces
		WHERE created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2`
	if err := r.db.SelectContext(ctx, &keys, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to load recent fingerprints: %w", err)
	}
	return keys, nil
}

func rowsToAnnonces(rows []annonceRow) ([]domain.Annonce, error) {
	annonces := make([]domain.Annonce, 0, len(rows))
	for i := range rows {
		a, err := rows[i].toAnnonce()
		if err != nil {
			return nil, err
		}
		annonces = append(annonces, *a)
	}
	return annonces, nil
}
