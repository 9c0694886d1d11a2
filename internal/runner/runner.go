// Package runner drives the scan pipeline as a daemon: it reloads
// searches.yaml at the start of every cycle, runs the enabled searches
// sequentially, paces itself with a jittered interval and backs off when
// consecutive cycles come back empty, which usually means the sources are
// blocking rather than the market being quiet.
package runner

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigiauto/vigiauto/internal/config"
	"github.com/vigiauto/vigiauto/internal/domain"
	"github.com/vigiauto/vigiauto/internal/pipeline"
	"github.com/vigiauto/vigiauto/internal/ratelimit"
)

// crashAlertThreshold is how many consecutive failed cycles it takes
// before the ops channel hears about it.
const crashAlertThreshold = 3

// defaultMaxPages bounds the index scan of each search when the file does
// not say otherwise.
const defaultMaxPages = 2

// Pipeline is the slice of the orchestrator the runner drives.
type Pipeline interface {
	Run(ctx context.Context, params pipeline.RunParams) (domain.PipelineStats, error)
}

// Alerter receives the daemon's out-of-band notices. *notify.OpsAlerter
// implements it.
type Alerter interface {
	Startup(ctx context.Context, searches []string)
	Shutdown(ctx context.Context, reason string)
	ZeroYield(ctx context.Context, streak int, sources []string)
	CrashStreak(ctx context.Context, count int, err error)
}

type nopAlerter struct{}

func (nopAlerter) Startup(context.Context, []string)        {}
func (nopAlerter) Shutdown(context.Context, string)         {}
func (nopAlerter) ZeroYield(context.Context, int, []string) {}
func (nopAlerter) CrashStreak(context.Context, int, error)  {}

// Config wires a Runner. Pipeline and ConfigPath are required; a nil
// Alerter silences the ops notices and a nil Limiter skips the per-source
// rate overrides.
type Config struct {
	Pipeline   Pipeline
	Limiter    *ratelimit.Registry
	Alerter    Alerter
	Logger     zerolog.Logger
	ConfigPath string
}

// Runner owns the daemon loop. Not safe for concurrent Run calls.
type Runner struct {
	pipeline Pipeline
	limiter  *ratelimit.Registry
	alerter  Alerter
	logger   zerolog.Logger
	path     string

	// Seams for tests: interruptible sleep and the symmetric jitter.
	sleep  func(ctx context.Context, d time.Duration) bool
	jitter func(max time.Duration) time.Duration

	runnerCfg   config.RunnerConfig
	zeroStreak  int
	crashStreak int
	backoff     time.Duration
	lastSources []string
}

// New builds a runner. The runner config starts from the production
// defaults and is replaced by the file's values on every cycle.
func New(cfg Config) *Runner {
	if cfg.Alerter == nil {
		cfg.Alerter = nopAlerter{}
	}
	return &Runner{
		pipeline:  cfg.Pipeline,
		limiter:   cfg.Limiter,
		alerter:   cfg.Alerter,
		logger:    cfg.Logger.With().Str("component", "runner").Logger(),
		path:      cfg.ConfigPath,
		sleep:     sleepCtx,
		jitter:    jitterOffset,
		runnerCfg: config.RunnerConfig{}.WithDefaults(),
	}
}

// Run executes scan cycles until the context is cancelled. The returned
// error is the context's.
func (r *Runner) Run(ctx context.Context) error {
	r.alerter.Startup(ctx, r.enabledSearchNames())
	r.logger.Info().
		Str("config", r.path).
		Dur("interval", r.runnerCfg.ScanInterval()).
		Dur("jitter", r.runnerCfg.Jitter()).
		Msg("daemon started")

	defer func() {
		// The loop context is done here; the farewell gets its own.
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.alerter.Shutdown(sctx, "arrêt normal")
		r.logger.Info().Msg("daemon stopped")
	}()

	for {
		total, ran, err := r.runCycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err != nil {
			r.crashStreak++
			r.backoff = r.nextBackoff()
			r.logger.Error().Err(err).
				Int("streak", r.crashStreak).
				Dur("backoff", r.backoff).
				Msg("cycle failed")
			if r.crashStreak >= crashAlertThreshold {
				r.alerter.CrashStreak(ctx, r.crashStreak, err)
			}
		} else {
			r.crashStreak = 0
			r.observeYield(ctx, total, ran)
		}

		wait := r.runnerCfg.ScanInterval() + r.jitter(r.runnerCfg.Jitter()) + r.backoff
		if wait < time.Second {
			wait = time.Second
		}
		r.logger.Info().Dur("sleep", wait).Msg("next cycle scheduled")
		if !r.sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

// RunOnce executes a single cycle over the enabled searches and returns
// the aggregated stats.
func (r *Runner) RunOnce(ctx context.Context) (domain.PipelineStats, error) {
	total, _, err := r.runCycle(ctx)
	return total, err
}

// runCycle reloads the searches file and runs every enabled search once,
// sequentially, with the configured pause in between. ran reports whether
// at least one search executed, so an intentionally empty file does not
// count as a zero-yield cycle.
func (r *Runner) runCycle(ctx context.Context) (total domain.PipelineStats, ran bool, err error) {
	cfg, err := config.LoadSearchesConfig(r.path)
	if err != nil {
		return total, false, err
	}
	r.runnerCfg = cfg.Runner
	if r.limiter != nil {
		cfg.ApplyRateOverrides(r.limiter)
	}

	searches := cfg.EnabledSearches()
	if len(searches) == 0 {
		r.logger.Warn().Msg("no enabled searches, idle cycle")
		return total, false, nil
	}
	r.lastSources = collectSources(searches)

	for i, s := range searches {
		if ctx.Err() != nil {
			return total, true, ctx.Err()
		}

		stats, runErr := r.pipeline.Run(ctx, r.paramsFor(s))
		if runErr != nil {
			return total, true, runErr
		}
		total.Add(stats)

		r.logger.Info().
			Str("search", s.Name).
			Int("scanned", stats.IndexScanned).
			Int("new", stats.IndexNew).
			Int("notified", stats.Notified).
			Int("errors", stats.IndexErrors+stats.DetailErrors).
			Msg("search complete")

		if i < len(searches)-1 {
			if !r.sleep(ctx, r.runnerCfg.DelayBetweenSearches()) {
				return total, true, ctx.Err()
			}
		}
	}
	return total, true, nil
}

func (r *Runner) paramsFor(s config.SearchSpec) pipeline.RunParams {
	p := pipeline.RunParams{
		Sources:         s.SourceList(),
		MaxPages:        s.MaxPages,
		DetailThreshold: s.DetailThreshold,
		NotifyThreshold: s.NotifyThreshold,
		MaxDetailPerRun: r.runnerCfg.MaxDetailPerRun,
	}
	if p.MaxPages <= 0 {
		p.MaxPages = defaultMaxPages
	}
	return p
}

// observeYield updates the zero-yield streak after a clean cycle. A yield
// clears both the streak and any accumulated backoff; a streak past the
// threshold grows the backoff and pings ops, damped so a long outage does
// not flood the channel.
func (r *Runner) observeYield(ctx context.Context, total domain.PipelineStats, ran bool) {
	if total.Yielded() {
		if r.zeroStreak > 0 {
			r.logger.Info().Int("streak", r.zeroStreak).Msg("listings are flowing again")
		}
		r.zeroStreak = 0
		r.backoff = 0
		return
	}
	if !ran {
		return
	}

	r.zeroStreak++
	if r.zeroStreak < r.runnerCfg.ZeroListingsThreshold {
		return
	}

	r.backoff = r.nextBackoff()
	r.logger.Warn().
		Int("streak", r.zeroStreak).
		Dur("backoff", r.backoff).
		Msg("no listings for several cycles, possible block")

	if r.runnerCfg.ShouldAlertOnZeroListings() && r.shouldPingZero() {
		r.alerter.ZeroYield(ctx, r.zeroStreak, r.lastSources)
	}
}

// shouldPingZero damps the zero-yield alert: once when the threshold is
// hit, then every fifth cycle while the streak lasts.
func (r *Runner) shouldPingZero() bool {
	over := r.zeroStreak - r.runnerCfg.ZeroListingsThreshold
	return over == 0 || over%5 == 0
}

// nextBackoff doubles the current backoff, seeding it with the base
// interval, and caps it at the configured ceiling.
func (r *Runner) nextBackoff() time.Duration {
	next := r.runnerCfg.ScanInterval()
	if r.backoff > 0 {
		next = r.backoff * time.Duration(r.runnerCfg.BackoffMultiplier)
	}
	if ceil := r.runnerCfg.BackoffMax(); next > ceil {
		next = ceil
	}
	return next
}

// enabledSearchNames loads the file once for the startup notice. Best
// effort: a broken file shows up as the first failed cycle instead.
func (r *Runner) enabledSearchNames() []string {
	cfg, err := config.LoadSearchesConfig(r.path)
	if err != nil {
		return nil
	}
	var names []string
	for _, s := range cfg.EnabledSearches() {
		names = append(names, s.Name)
	}
	return names
}

func collectSources(searches []config.SearchSpec) []string {
	seen := make(map[domain.Source]struct{})
	var out []string
	for _, s := range searches {
		for _, src := range s.SourceList() {
			if _, ok := seen[src]; ok {
				continue
			}
			seen[src] = struct{}{}
			out = append(out, string(src))
		}
	}
	return out
}

// sleepCtx waits for d and reports false when the context won instead.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func jitterOffset(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration((rand.Float64()*2 - 1) * float64(max))
}
