// Package memory implements the storage interfaces in process memory.
// Dry runs use it so a scan works without a database; the pipeline and
// runner tests use it as their store.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vigiauto/vigiauto/internal/domain"
	"github.com/vigiauto/vigiauto/internal/storage"
)

// NewStore builds an empty in-memory store.
func NewStore() storage.Store {
	shared := &state{
		byFingerprint: make(map[string]*domain.Annonce),
	}
	return storage.Store{
		Annonces: &annonceRepo{state: shared},
		Scans:    &scanLogRepo{},
		Stats:    &statsRepo{state: shared},
	}
}

type state struct {
	mu            sync.RWMutex
	byFingerprint map[string]*domain.Annonce
}

type annonceRepo struct {
	state *state
}

func cloneAnnonce(a *domain.Annonce) *domain.Annonce {
	cp := *a
	cp.ImagesURLs = append([]string(nil), a.ImagesURLs...)
	cp.KeywordsOpportunite = append([]string(nil), a.KeywordsOpportunite...)
	cp.KeywordsRisque = append([]string(nil), a.KeywordsRisque...)
	cp.NotifyChannels = append([]string(nil), a.NotifyChannels...)
	return &cp
}

func (r *annonceRepo) Save(_ context.Context, a *domain.Annonce) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	if prev, ok := r.state.byFingerprint[a.Fingerprint]; ok {
		a.ID = prev.ID
		a.CreatedAt = prev.CreatedAt
	}
	a.UpdatedAt = time.Now().UTC()
	r.state.byFingerprint[a.Fingerprint] = cloneAnnonce(a)
	return nil
}

func (r *annonceRepo) ByID(_ context.Context, id string) (*domain.Annonce, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()
	for _, a := range r.state.byFingerprint {
		if a.ID == id {
			return cloneAnnonce(a), nil
		}
	}
	return nil, nil
}

func (r *annonceRepo) ByFingerprint(_ context.Context, fingerprint string) (*domain.Annonce, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()
	if a, ok := r.state.byFingerprint[fingerprint]; ok {
		return cloneAnnonce(a), nil
	}
	return nil, nil
}

func (r *annonceRepo) ByURL(_ context.Context, url string) (*domain.Annonce, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()
	for _, a := range r.state.byFingerprint {
		if a.URL == url || a.URLCanonique == url {
			return cloneAnnonce(a), nil
		}
	}
	return nil, nil
}

func (r *annonceRepo) BySourceListing(_ context.Context, source domain.Source, listingID string) (*domain.Annonce, error) {
	if listingID == "" {
		return nil, nil
	}
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()
	for _, a := range r.state.byFingerprint {
		if a.Source == source && a.SourceListingID == listingID {
			return cloneAnnonce(a), nil
		}
	}
	return nil, nil
}

func (r *annonceRepo) NearDuplicates(_ context.Context, fingerprintSoft string) ([]domain.Annonce, error) {
	if fingerprintSoft == "" {
		return nil, nil
	}
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	var out []domain.Annonce
	for _, a := range r.state.byFingerprint {
		if a.FingerprintSoft == fingerprintSoft {
			out = append(out, *cloneAnnonce(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *annonceRepo) IsNearDuplicate(ctx context.Context, a *domain.Annonce) (bool, *domain.Annonce, error) {
	if a.FingerprintSoft == "" {
		return false, nil, nil
	}
	rows, err := r.NearDuplicates(ctx, a.FingerprintSoft)
	if err != nil {
		return false, nil, err
	}
	for i := range rows {
		if rows[i].ID != a.ID {
			return true, &rows[i], nil
		}
	}
	return false, nil, nil
}

func (r *annonceRepo) Exists(_ context.Context, fingerprint, url string) (bool, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()
	if fingerprint != "" {
		if _, ok := r.state.byFingerprint[fingerprint]; ok {
			return true, nil
		}
	}
	if url != "" {
		for _, a := range r.state.byFingerprint {
			if a.URL == url || a.URLCanonique == url {
				return true, nil
			}
		}
	}
	return false, nil
}

func matches(a *domain.Annonce, f storage.Filter) bool {
	if f.Source != "" && a.Source != f.Source {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.AlertLevel != "" && a.AlertLevel != f.AlertLevel {
		return false
	}
	if f.MinScore != nil && a.ScoreTotal < *f.MinScore {
		return false
	}
	if f.NotNotified && a.Notified {
		return false
	}
	return true
}

func orderRows(rows []domain.Annonce, orderBy string) {
	less := func(i, j int) bool { return rows[i].ScoreTotal > rows[j].ScoreTotal }
	switch strings.ToLower(strings.TrimSpace(orderBy)) {
	case "score_total asc":
		less = func(i, j int) bool { return rows[i].ScoreTotal < rows[j].ScoreTotal }
	case "created_at desc":
		less = func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) }
	case "created_at asc":
		less = func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) }
	case "prix asc":
		less = func(i, j int) bool { return intOr(rows[i].Prix, 1<<30) < intOr(rows[j].Prix, 1<<30) }
	case "prix desc":
		less = func(i, j int) bool { return intOr(rows[i].Prix, -1) > intOr(rows[j].Prix, -1) }
	}
	sort.SliceStable(rows, less)
}

func intOr(p *int, fallback int) int {
	if p == nil {
		return fallback
	}
	return *p
}

func (r *annonceRepo) List(_ context.Context, f storage.Filter) ([]domain.Annonce, error) {
	r.state.mu.RLock()
	var rows []domain.Annonce
	for _, a := range r.state.byFingerprint {
		if matches(a, f) {
			rows = append(rows, *cloneAnnonce(a))
		}
	}
	r.state.mu.RUnlock()

	orderRows(rows, f.OrderBy)

	if f.Offset > 0 {
		if f.Offset >= len(rows) {
			return nil, nil
		}
		rows = rows[f.Offset:]
	}
	if f.Limit > 0 && len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	return rows, nil
}

func (r *annonceRepo) Count(_ context.Context, f storage.Filter) (int, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()
	n := 0
	for _, a := range r.state.byFingerprint {
		if matches(a, f) {
			n++
		}
	}
	return n, nil
}

func (r *annonceRepo) MarkNotified(_ context.Context, id string, channels []string) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	for _, a := range r.state.byFingerprint {
		if a.ID == id {
			a.MarkNotified(channels)
			return nil
		}
	}
	return nil
}

func (r *annonceRepo) UpdateStatus(_ context.Context, id string, status domain.Status, reason string) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	for _, a := range r.state.byFingerprint {
		if a.ID == id {
			a.SetStatus(status, reason)
			return nil
		}
	}
	return nil
}

func (r *annonceRepo) Delete(_ context.Context, id string) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	for fp, a := range r.state.byFingerprint {
		if a.ID == id {
			delete(r.state.byFingerprint, fp)
			return nil
		}
	}
	return nil
}

func (r *annonceRepo) RecentFingerprints(_ context.Context, window time.Duration, limit int) ([]storage.DedupKeys, error) {
	cutoff := time.Now().UTC().Add(-window)

	r.state.mu.RLock()
	var rows []*domain.Annonce
	for _, a := range r.state.byFingerprint {
		if a.CreatedAt.After(cutoff) {
			rows = append(rows, a)
		}
	}
	r.state.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	keys := make([]storage.DedupKeys, 0, len(rows))
	for _, a := range rows {
		keys = append(keys, storage.DedupKeys{
			Source:          a.Source,
			SourceListingID: a.SourceListingID,
			URLCanonique:    a.URLCanonique,
			Fingerprint:     a.Fingerprint,
		})
	}
	return keys, nil
}

type scanLogRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   []storage.ScanRecord
}

func (r *scanLogRepo) Start(_ context.Context, source domain.Source) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.rows = append(r.rows, storage.ScanRecord{
		ID:        r.nextID,
		Source:    source,
		StartedAt: time.Now().UTC(),
		Status:    storage.ScanStatusRunning,
	})
	return r.nextID, nil
}

func (r *scanLogRepo) End(_ context.Context, id int64, found, fresh, errCount int, status, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ID != id {
			continue
		}
		now := time.Now().UTC()
		r.rows[i].FinishedAt = &now
		r.rows[i].Status = status
		r.rows[i].ListingsFound = found
		r.rows[i].ListingsNew = fresh
		r.rows[i].ErrorsCount = errCount
		r.rows[i].ErrorMessage = errMsg
		r.rows[i].DurationSeconds = now.Sub(r.rows[i].StartedAt).Seconds()
		return nil
	}
	return nil
}

func (r *scanLogRepo) Log(_ context.Context, rec storage.ScanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	rec.ID = r.nextID
	r.rows = append(r.rows, rec)
	return nil
}

func (r *scanLogRepo) Recent(_ context.Context, limit int) ([]storage.ScanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := append([]storage.ScanRecord(nil), r.rows...)
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type statsRepo struct {
	state *state
}

func (r *statsRepo) Global(_ context.Context) (storage.GlobalStats, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	var g storage.GlobalStats
	var scoreSum int
	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	for _, a := range r.state.byFingerprint {
		g.Total++
		scoreSum += a.ScoreTotal
		switch a.AlertLevel {
		case domain.AlertUrgent:
			g.Urgent++
		case domain.AlertInteressant:
			g.Interessant++
		case domain.AlertSurveiller:
			g.Surveiller++
		default:
			g.Archive++
		}
		if a.Notified {
			g.Notified++
		}
		if a.CreatedAt.After(cutoff) {
			g.Last24h++
		}
	}
	if g.Total > 0 {
		g.AvgScore = float64(scoreSum) / float64(g.Total)
	}
	return g, nil
}

func (r *statsRepo) BySource(_ context.Context) ([]storage.SourceActivity, error) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()

	bySource := make(map[string]*storage.SourceActivity)
	scoreSums := make(map[string]int)
	for _, a := range r.state.byFingerprint {
		key := string(a.Source)
		act, ok := bySource[key]
		if !ok {
			act = &storage.SourceActivity{Source: key}
			bySource[key] = act
		}
		act.Total++
		scoreSums[key] += a.ScoreTotal
		if a.AlertLevel == domain.AlertUrgent {
			act.Urgent++
		}
		scraped := a.ScrapedAt
		if act.LastScrapedAt == nil || scraped.After(*act.LastScrapedAt) {
			t := scraped
			act.LastScrapedAt = &t
		}
	}

	out := make([]storage.SourceActivity, 0, len(bySource))
	for key, act := range bySource {
		if act.Total > 0 {
			act.AvgScore = float64(scoreSums[key]) / float64(act.Total)
		}
		out = append(out, *act)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}
