// Package metrics holds the Prometheus instruments for the scan pipeline.
// One Registry is built at startup and threaded through the orchestrator,
// the runner and the notify sink; the ops HTTP server exposes it on
// /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all Prometheus metrics for VigiAuto.
type Registry struct {
	// Pipeline phase timings.
	PhaseDuration *prometheus.HistogramVec

	// Index scan metrics, per source.
	ScanDuration    *prometheus.HistogramVec
	ListingsScanned *prometheus.CounterVec
	ListingsNew     *prometheus.CounterVec
	ScanErrors      *prometheus.CounterVec

	// Dedup metrics, per key kind (listing_id, url, seencache).
	DedupHits *prometheus.CounterVec

	// Detail phase metrics, per source.
	DetailFetched *prometheus.CounterVec

	// Notification metrics, per channel.
	NotificationsSent *prometheus.CounterVec
	NotifyErrors      *prometheus.CounterVec

	// Per-source limiter state (0=closed, 1=half-open, 2=open).
	BreakerState *prometheus.GaugeVec

	// Run-level metrics.
	RunsTotal       prometheus.Counter
	ActiveRuns      prometheus.Gauge
	LastRunListings prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New builds the registry on the default Prometheus registerer, the one
// promhttp serves.
func New() *Registry {
	return build(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWith builds the registry on a private prometheus.Registry. Tests use
// this to avoid duplicate-registration panics across cases.
func NewWith(reg *prometheus.Registry) *Registry {
	return build(reg, reg)
}

// NewDetached builds the registry on a private registry nothing serves.
// Components that require instruments still work when the caller wires no
// /metrics endpoint.
func NewDetached() *Registry {
	return NewWith(prometheus.NewRegistry())
}

func build(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Registry {
	r := &Registry{
		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vigiauto_phase_duration_seconds",
				Help:    "Duration of each pipeline phase in seconds",
				Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"phase", "result"},
		),

		ScanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vigiauto_scan_duration_seconds",
				Help:    "Duration of one index scan in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"source", "status"},
		),

		ListingsScanned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigiauto_listings_scanned_total",
				Help: "Total listings seen on index pages by source",
			},
			[]string{"source"},
		),

		ListingsNew: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigiauto_listings_new_total",
				Help: "Total listings that survived dedup by source",
			},
			[]string{"source"},
		),

		ScanErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigiauto_scan_errors_total",
				Help: "Total scan errors by source and stage",
			},
			[]string{"source", "stage"},
		),

		DedupHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigiauto_dedup_hits_total",
				Help: "Total duplicates caught by dedup key kind",
			},
			[]string{"key"},
		),

		DetailFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigiauto_detail_fetched_total",
				Help: "Total detail pages processed by source",
			},
			[]string{"source"},
		),

		NotificationsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigiauto_notifications_sent_total",
				Help: "Total notifications sent by channel and kind",
			},
			[]string{"channel", "kind"},
		),

		NotifyErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigiauto_notify_errors_total",
				Help: "Total notification failures by channel",
			},
			[]string{"channel"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vigiauto_breaker_state",
				Help: "Per-source limiter state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"source"},
		),

		RunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vigiauto_runs_total",
				Help: "Total pipeline runs started",
			},
		),

		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vigiauto_active_runs",
				Help: "Number of pipeline runs currently executing",
			},
		),

		LastRunListings: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vigiauto_last_run_listings",
				Help: "Index listings found by the most recent run",
			},
		),

		gatherer: gatherer,
	}

	reg.MustRegister(
		r.PhaseDuration,
		r.ScanDuration,
		r.ListingsScanned,
		r.ListingsNew,
		r.ScanErrors,
		r.DedupHits,
		r.DetailFetched,
		r.NotificationsSent,
		r.NotifyErrors,
		r.BreakerState,
		r.RunsTotal,
		r.ActiveRuns,
		r.LastRunListings,
	)

	return r
}

// Gatherer exposes the registry the instruments live on, for promhttp and
// for the stats snapshot.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r.gatherer != nil {
		return r.gatherer
	}
	return prometheus.DefaultGatherer
}

// PhaseTimer tracks execution time for one pipeline phase.
type PhaseTimer struct {
	registry *Registry
	phase    string
	start    time.Time
}

// StartPhase begins timing a pipeline phase.
func (r *Registry) StartPhase(phase string) *PhaseTimer {
	return &PhaseTimer{registry: r, phase: phase, start: time.Now()}
}

// Stop completes the phase timing and records it under the given result.
func (t *PhaseTimer) Stop(result string) {
	if t == nil || t.registry == nil {
		return
	}
	t.registry.PhaseDuration.WithLabelValues(t.phase, result).
		Observe(time.Since(t.start).Seconds())
}

// RecordScan records the outcome of one per-source index scan.
func (r *Registry) RecordScan(source, status string, found int, dur time.Duration) {
	r.ScanDuration.WithLabelValues(source, status).Observe(dur.Seconds())
	r.ListingsScanned.WithLabelValues(source).Add(float64(found))
	if status != "ok" {
		r.ScanErrors.WithLabelValues(source, "index").Inc()
	}
}

// RecordDedupHit counts one duplicate caught by the given key kind.
func (r *Registry) RecordDedupHit(key string) {
	r.DedupHits.WithLabelValues(key).Inc()
}

// RecordNotification counts one delivered notification.
func (r *Registry) RecordNotification(channel, kind string) {
	r.NotificationsSent.WithLabelValues(channel, kind).Inc()
}

// RecordNotifyError counts one failed notification attempt.
func (r *Registry) RecordNotifyError(channel string) {
	r.NotifyErrors.WithLabelValues(channel).Inc()
}

// SetBreakerState publishes a limiter state for one source.
func (r *Registry) SetBreakerState(source string, state float64) {
	r.BreakerState.WithLabelValues(source).Set(state)
}

// RunStarted marks a pipeline run in flight.
func (r *Registry) RunStarted() {
	r.RunsTotal.Inc()
	r.ActiveRuns.Inc()
}

// RunFinished marks a pipeline run done and publishes its yield.
func (r *Registry) RunFinished(indexScanned int) {
	r.ActiveRuns.Dec()
	r.LastRunListings.Set(float64(indexScanned))
}
