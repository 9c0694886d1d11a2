// Package pipeline runs one scan end to end: index scan per source,
// strict dedup, light scoring, prioritized detail fetch, final scoring,
// persistence and notification. The orchestrator owns the in-memory
// seen-sets; everything else is injected.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vigiauto/vigiauto/internal/domain"
	"github.com/vigiauto/vigiauto/internal/metrics"
	"github.com/vigiauto/vigiauto/internal/normalize"
	"github.com/vigiauto/vigiauto/internal/notify"
	"github.com/vigiauto/vigiauto/internal/ratelimit"
	"github.com/vigiauto/vigiauto/internal/scoring"
	"github.com/vigiauto/vigiauto/internal/sources"
	"github.com/vigiauto/vigiauto/internal/storage"
	"github.com/vigiauto/vigiauto/internal/storage/seencache"
)

// Defaults for RunParams zero fields.
const (
	DefaultDetailThreshold = 50
	DefaultNotifyThreshold = 60
	DefaultMaxDetailPerRun = 20
)

const (
	defaultIndexTimeout  = 30 * time.Second
	defaultDetailTimeout = 30 * time.Second
	defaultDetailWorkers = 5
)

// RunParams tunes one pipeline run. Zero values take the production
// defaults; an empty Sources list scans every registered source.
type RunParams struct {
	Sources         []domain.Source
	MaxPages        int
	DetailThreshold int
	NotifyThreshold int
	MaxDetailPerRun int
}

func (p RunParams) withDefaults() RunParams {
	if p.DetailThreshold <= 0 {
		p.DetailThreshold = DefaultDetailThreshold
	}
	if p.NotifyThreshold <= 0 {
		p.NotifyThreshold = DefaultNotifyThreshold
	}
	if p.MaxDetailPerRun <= 0 {
		p.MaxDetailPerRun = DefaultMaxDetailPerRun
	}
	return p
}

// Config wires an Orchestrator. Sources, Store and Scorer are required;
// the rest defaults to inert implementations.
type Config struct {
	Sources  *sources.Registry
	Store    storage.Store
	Scorer   *scoring.Scorer
	Limiter  *ratelimit.Registry
	Notifier notify.Notifier
	Seen     seencache.Cache
	Metrics  *metrics.Registry
	Logger   zerolog.Logger

	// DetailWorkers caps concurrent detail fetches, 5 when zero.
	DetailWorkers int

	// Per-call timeouts, 30 s when zero.
	IndexTimeout  time.Duration
	DetailTimeout time.Duration

	// Clock override for tests.
	Clock func() time.Time
}

type listingKey struct {
	source domain.Source
	id     string
}

// Orchestrator coordinates one pipeline run at a time. Run may be called
// repeatedly; the seen-sets persist across runs so a listing found in run
// N is a duplicate in run N+1.
type Orchestrator struct {
	sources  *sources.Registry
	store    storage.Store
	scorer   *scoring.Scorer
	limiter  *ratelimit.Registry
	notifier notify.Notifier
	seen     seencache.Cache
	metrics  *metrics.Registry
	logger   zerolog.Logger
	now      func() time.Time

	detailWorkers int
	indexTimeout  time.Duration
	detailTimeout time.Duration

	mu           sync.Mutex
	seenURLs     map[string]struct{}
	seenListings map[listingKey]struct{}
}

// New builds an orchestrator from the config, filling inert defaults for
// the optional collaborators.
func New(cfg Config) *Orchestrator {
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.Seen == nil {
		cfg.Seen = seencache.NewDisabled()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewDetached()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NewRegistry(cfg.Logger)
	}
	if cfg.DetailWorkers <= 0 {
		cfg.DetailWorkers = defaultDetailWorkers
	}
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = defaultIndexTimeout
	}
	if cfg.DetailTimeout <= 0 {
		cfg.DetailTimeout = defaultDetailTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Orchestrator{
		sources:       cfg.Sources,
		store:         cfg.Store,
		scorer:        cfg.Scorer,
		limiter:       cfg.Limiter,
		notifier:      cfg.Notifier,
		seen:          cfg.Seen,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger.With().Str("component", "pipeline").Logger(),
		now:           cfg.Clock,
		detailWorkers: cfg.DetailWorkers,
		indexTimeout:  cfg.IndexTimeout,
		detailTimeout: cfg.DetailTimeout,
		seenURLs:      make(map[string]struct{}),
		seenListings:  make(map[listingKey]struct{}),
	}
}

// sourceScan is the per-source bookkeeping one run accumulates so the
// scan-history rows can be closed with real counts once dedup and the
// detail phase settle.
type sourceScan struct {
	source  domain.Source
	scanID  int64
	found   int
	fresh   int
	errs    int
	status  string
	errMsg  string
	elapsed time.Duration
}

// Run executes the full pipeline once and returns its stats. Individual
// source, repository and notification failures are counted, logged and
// never abort the run; the returned error is non-nil only when the
// context is done.
func (o *Orchestrator) Run(ctx context.Context, params RunParams) (stats domain.PipelineStats, err error) {
	params = params.withDefaults()
	stats.StartedAt = o.now()

	o.metrics.RunStarted()
	defer func() {
		stats.Duration = o.now().Sub(stats.StartedAt)
		o.metrics.RunFinished(stats.IndexScanned)
	}()

	names := params.Sources
	if len(names) == 0 {
		names = o.sources.Names()
	}

	// Phase A: index scans, sequential per source.
	timer := o.metrics.StartPhase("index_scan")
	scans := make([]*sourceScan, 0, len(names))
	var all []domain.IndexResult

	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		src, ok := o.sources.Get(name)
		if !ok {
			o.logger.Warn().Str("source", string(name)).Msg("source not registered, skipping")
			continue
		}
		scan, results := o.scanIndex(ctx, src, params.MaxPages)
		scans = append(scans, scan)
		all = append(all, results...)

		stats.IndexScanned += scan.found
		if scan.status != storage.ScanStatusOK {
			stats.IndexErrors++
		}
	}
	timer.Stop(phaseResult(ctx))

	if ctx.Err() != nil {
		o.endScans(scans)
		return stats, ctx.Err()
	}

	// Phase B: strict dedup.
	timer = o.metrics.StartPhase("dedup")
	freshBySource := make(map[domain.Source]int)
	var fresh []domain.IndexResult
	for _, r := range all {
		if o.isDuplicate(ctx, r) {
			stats.IndexDuplicates++
			continue
		}
		fresh = append(fresh, r)
		freshBySource[r.Source]++
		stats.IndexNew++
		o.metrics.ListingsNew.WithLabelValues(string(r.Source)).Inc()
	}
	for _, scan := range scans {
		scan.fresh = freshBySource[scan.source]
	}
	timer.Stop(phaseResult(ctx))

	// Phase C: light scoring and priority ordering.
	o.scoreLightBatch(fresh)
	sortByPriority(fresh)

	var toDetail []domain.IndexResult
	for _, r := range fresh {
		if r.ScoreLight >= params.DetailThreshold {
			toDetail = append(toDetail, r)
		}
	}
	if len(toDetail) > params.MaxDetailPerRun {
		toDetail = toDetail[:params.MaxDetailPerRun]
	}
	stats.AboveThreshold = len(toDetail)

	// Phase D: detail fetch, final scoring, notify, persist.
	timer = o.metrics.StartPhase("detail")
	var (
		statsMu sync.Mutex
		errsBy  = make(map[domain.Source]int)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.detailWorkers)
	for _, r := range toDetail {
		r := r
		g.Go(func() error {
			a, notifyFailed, procErr := o.processWithDetail(gctx, r, params.NotifyThreshold)

			statsMu.Lock()
			defer statsMu.Unlock()
			if notifyFailed {
				stats.NotifyErrors++
			}
			if procErr != nil {
				if gctx.Err() != nil {
					return nil
				}
				o.logger.Error().Err(procErr).Str("url", r.URL).Msg("detail processing failed")
				stats.DetailErrors++
				errsBy[r.Source]++
				return nil
			}
			stats.DetailFetched++
			o.metrics.DetailFetched.WithLabelValues(string(r.Source)).Inc()
			switch a.AlertLevel {
			case domain.AlertUrgent:
				stats.UrgentCount++
			case domain.AlertInteressant:
				stats.InteressantCnt++
			}
			if a.Notified {
				stats.Notified++
			}
			return nil
		})
	}
	_ = g.Wait()
	timer.Stop(phaseResult(ctx))

	// Phase E: close the scan-history rows with settled counts.
	for _, scan := range scans {
		scan.errs += errsBy[scan.source]
	}
	o.endScans(scans)
	o.publishBreakerStates()

	o.logger.Info().
		Int("scanned", stats.IndexScanned).
		Int("new", stats.IndexNew).
		Int("duplicates", stats.IndexDuplicates).
		Int("above_threshold", stats.AboveThreshold).
		Int("detail_fetched", stats.DetailFetched).
		Int("urgent", stats.UrgentCount).
		Int("interessant", stats.InteressantCnt).
		Int("notified", stats.Notified).
		Int("errors", stats.IndexErrors+stats.DetailErrors).
		Msg("pipeline run complete")

	return stats, ctx.Err()
}

// scanIndex runs one source's index scan under its own timeout and opens
// the scan-history row. The row is closed later, in phase E, once the new
// and error counts are known.
func (o *Orchestrator) scanIndex(ctx context.Context, src sources.Source, maxPages int) (*sourceScan, []domain.IndexResult) {
	name := src.Name()
	scan := &sourceScan{source: name, status: storage.ScanStatusOK}
	start := o.now()

	id, err := o.store.Scans.Start(ctx, name)
	if err != nil {
		o.logger.Warn().Err(err).Str("source", string(name)).Msg("failed to open scan history row")
	}
	scan.scanID = id

	scanCtx, cancel := context.WithTimeout(ctx, o.indexTimeout)
	results, err := src.ScanIndex(scanCtx, maxPages)
	cancel()

	scan.elapsed = o.now().Sub(start)
	scan.found = len(results)

	if err != nil {
		scan.status = storage.ScanStatusError
		if ctx.Err() != nil {
			scan.status = storage.ScanStatusCancelled
		}
		scan.errs++
		scan.errMsg = err.Error()
		o.logger.Error().Err(err).Str("source", string(name)).Msg("index scan failed")
	} else {
		o.logger.Info().
			Str("source", string(name)).
			Int("found", scan.found).
			Dur("elapsed", scan.elapsed).
			Msg("index scan done")
	}

	o.metrics.RecordScan(string(name), scan.status, scan.found, scan.elapsed)

	// The adapter stamps its own name, but enforce it so dedup keys stay
	// consistent when an adapter forgets.
	for i := range results {
		results[i].Source = name
	}
	return scan, results
}

// endScans closes every scan-history row opened in phase A. Best effort:
// a failed update is logged and skipped.
func (o *Orchestrator) endScans(scans []*sourceScan) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, scan := range scans {
		if scan.scanID == 0 {
			continue
		}
		err := o.store.Scans.End(ctx, scan.scanID, scan.found, scan.fresh, scan.errs, scan.status, scan.errMsg)
		if err != nil {
			o.logger.Warn().Err(err).
				Str("source", string(scan.source)).
				Int64("scan_id", scan.scanID).
				Msg("failed to close scan history row")
		}
	}
}

// processWithDetail turns one index hit into a persisted, scored and
// possibly notified record. notifyFailed reports a delivery failure that
// did not stop the listing from being saved.
func (o *Orchestrator) processWithDetail(ctx context.Context, r domain.IndexResult, notifyThreshold int) (a *domain.Annonce, notifyFailed bool, err error) {
	source := r.Source

	// Existing row lookup, listing id first.
	var existing *domain.Annonce
	if r.SourceListingID != "" {
		prev, lookupErr := o.store.Annonces.BySourceListing(ctx, source, r.SourceListingID)
		if lookupErr != nil {
			o.logger.Warn().Err(lookupErr).Str("url", r.URL).Msg("source listing lookup failed")
		}
		existing = prev
	}

	a = o.indexToAnnonce(r)

	// Near-duplicate fallback: same vehicle posted under another listing.
	if existing == nil {
		isDup, prev, lookupErr := o.store.Annonces.IsNearDuplicate(ctx, a)
		if lookupErr != nil {
			o.logger.Warn().Err(lookupErr).Str("url", r.URL).Msg("near-duplicate lookup failed")
		} else if isDup && prev != nil {
			existing = prev
		}
	}

	// A matched row keeps its identity and strict key: the upsert must
	// land on it, not open a second row for the same car.
	if existing != nil {
		a.ID = existing.ID
		a.CreatedAt = existing.CreatedAt
		a.Fingerprint = existing.Fingerprint
	}

	// Detail fetch under the per-source limiter. A paused source skips the
	// fetch, not the listing: index data alone still scores and persists.
	if o.limiter.WaitForSlot(ctx, source) {
		if src, ok := o.sources.Get(source); ok {
			detailCtx, cancel := context.WithTimeout(ctx, o.detailTimeout)
			detail, fetchErr := src.FetchDetail(detailCtx, r.URL)
			cancel()
			switch {
			case fetchErr != nil:
				o.limiter.RecordFailure(source)
				if ctx.Err() != nil {
					return nil, false, ctx.Err()
				}
				o.metrics.ScanErrors.WithLabelValues(string(source), "detail").Inc()
				o.logger.Warn().Err(fetchErr).Str("url", r.URL).Msg("detail fetch failed")
			default:
				o.limiter.RecordSuccess(source)
				if detail != nil {
					mergeDetail(a, detail)
				}
			}
		}
	} else if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}

	o.scorer.Score(a)

	decision := notify.Decide(a, existing, notifyThreshold)
	if decision.Notify {
		if sendErr := o.notifier.Send(ctx, a, decision); sendErr != nil {
			notifyFailed = true
			o.metrics.RecordNotifyError(notify.ChannelDiscord)
			o.logger.Warn().Err(sendErr).Str("url", a.URL).Msg("notification failed")
		} else {
			a.MarkNotified([]string{notify.ChannelDiscord})
			o.metrics.RecordNotification(notify.ChannelDiscord, decision.Kind())
		}
	}

	if saveErr := o.store.Annonces.Save(ctx, a); saveErr != nil {
		return nil, notifyFailed, saveErr
	}
	return a, notifyFailed, nil
}

// indexToAnnonce builds the base record from index data, parsing the
// title when the adapter gave no make/model hints.
func (o *Orchestrator) indexToAnnonce(r domain.IndexResult) *domain.Annonce {
	marque, modele, version := r.Marque, r.Modele, r.Version
	if marque == "" || modele == "" {
		pm, pmo, pv := normalize.Title(r.Titre)
		if marque == "" {
			marque = pm
		}
		if modele == "" {
			modele = pmo
		}
		if version == "" {
			version = pv
		}
	}

	a := domain.NewAnnonce(r.Source, r.URL)
	a.SourceListingID = r.SourceListingID
	a.Titre = r.Titre
	a.Marque = marque
	a.Modele = modele
	a.Version = version
	a.Prix = r.Prix
	a.Kilometrage = r.Kilometrage
	a.Annee = r.Annee
	a.Ville = r.Ville
	a.PublishedAt = r.PublishedAt
	if r.Carburant != "" {
		a.Carburant = r.Carburant
	}

	a.Departement = r.Departement
	if a.Departement == "" {
		if dept := normalize.Departement(r.Ville); dept != nil {
			a.Departement = *dept
		}
	}
	if r.ThumbnailURL != "" {
		a.ImagesURLs = []string{r.ThumbnailURL}
	}
	a.ScrapedAt = o.now()

	// Every field feeding the dedup keys is settled here; detail merging
	// only adds description-level data.
	a.RefreshFingerprints()
	return a
}

// mergeDetail folds detail-page fields into the record. Empty detail
// fields never erase index data.
func mergeDetail(a *domain.Annonce, d *domain.DetailResult) {
	if d.Description != "" {
		a.Description = d.Description
	}
	if len(d.ImagesURLs) > 0 {
		a.ImagesURLs = d.ImagesURLs
	}
	if d.SellerType != "" && d.SellerType != domain.SellerUnknown {
		a.SellerType = d.SellerType
	}
	if d.SellerName != "" {
		a.SellerName = d.SellerName
	}
	if d.SellerPhone != "" {
		a.SellerPhone = d.SellerPhone
	}
	if d.Carburant != "" && d.Carburant != domain.FuelUnknown {
		a.Carburant = d.Carburant
	}
	if d.Boite != "" && d.Boite != domain.GearboxUnknown {
		a.Boite = d.Boite
	}
	if d.PuissanceCh != nil {
		a.PuissanceCh = d.PuissanceCh
	}
	if d.Version != "" && a.Version == "" {
		a.Version = d.Version
	}
	if d.Motorisation != "" {
		a.Motorisation = d.Motorisation
	}
}

// publishBreakerStates pushes the per-source limiter states to the gauge.
func (o *Orchestrator) publishBreakerStates() {
	for name, st := range o.limiter.Snapshot() {
		var v float64
		switch st.State {
		case ratelimit.StateHalfOpen.String():
			v = 1
		case ratelimit.StateOpen.String():
			v = 2
		}
		o.metrics.SetBreakerState(name, v)
	}
}

func phaseResult(ctx context.Context) string {
	if ctx.Err() != nil {
		return "cancelled"
	}
	return "ok"
}
