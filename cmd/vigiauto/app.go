package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vigiauto/vigiauto/internal/config"
	"github.com/vigiauto/vigiauto/internal/domain"
	opshttp "github.com/vigiauto/vigiauto/internal/interfaces/http"
	"github.com/vigiauto/vigiauto/internal/metrics"
	"github.com/vigiauto/vigiauto/internal/notify"
	"github.com/vigiauto/vigiauto/internal/pipeline"
	"github.com/vigiauto/vigiauto/internal/ratelimit"
	"github.com/vigiauto/vigiauto/internal/scoring"
	"github.com/vigiauto/vigiauto/internal/sources"
	"github.com/vigiauto/vigiauto/internal/sources/mock"
	"github.com/vigiauto/vigiauto/internal/storage"
	"github.com/vigiauto/vigiauto/internal/storage/memory"
	"github.com/vigiauto/vigiauto/internal/storage/postgres"
	"github.com/vigiauto/vigiauto/internal/storage/seencache"
)

// appOptions are the bootstrap knobs shared by scan and daemon.
type appOptions struct {
	configDir string
	dryRun    bool
	sources   []domain.Source
}

// app bundles the wired components a command works with.
type app struct {
	cfg      *config.Config
	db       *sqlx.DB // nil on dry runs
	store    storage.Store
	registry *sources.Registry
	limiter  *ratelimit.Registry
	metrics  *metrics.Registry
	seen     seencache.Cache
	orch     *pipeline.Orchestrator
}

func (a *app) Close() {
	if a.seen != nil {
		_ = a.seen.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// buildApp wires the pipeline: config, rate limiter, scorer, store, dedup
// cache, notifier and source adapters. Dry runs swap Postgres for the
// in-memory store, Discord for a logging notifier and the live adapters
// for mocks, so the whole pipeline can be exercised without credentials.
func buildApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load(opts.configDir)
	if err != nil {
		return nil, err
	}
	settings := cfg.Settings

	limiter := ratelimit.NewRegistry(log.Logger)
	cfg.Searches.ApplyRateOverrides(limiter)

	scorer := scoring.New(cfg.Vehicles, cfg.Keywords.NewMatcher(), log.Logger)
	reg := metrics.New()
	adapters := sources.NewRegistry()

	a := &app{
		cfg:      cfg,
		registry: adapters,
		limiter:  limiter,
		metrics:  reg,
	}

	var notifier notify.Notifier
	var seen seencache.Cache

	if opts.dryRun {
		a.store = memory.NewStore()
		notifier = dryRunNotifier{logger: log.Logger}
		seen = seencache.NewMemory(settings.SeenCacheTTL)
		for _, src := range mockSources(opts, cfg) {
			adapters.Register(mock.New(src))
		}
	} else {
		if settings.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is not set (use --dry-run for a storage-less run)")
		}
		pgCfg := postgres.DefaultConfig(settings.DatabaseURL)
		db, err := postgres.Open(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		a.db = db
		a.store = *postgres.NewStore(db, pgCfg.QueryTimeout)

		if settings.DiscordWebhookURL == "" {
			log.Warn().Msg("DISCORD_WEBHOOK_URL is not set, notifications disabled")
			notifier = notify.Nop{}
		} else {
			notifier = notify.NewDiscord(notify.DiscordConfig{
				WebhookURL:  settings.DiscordWebhookURL,
				MinInterval: settings.NotifyBatchDelay,
			}, log.Logger)
		}
		seen = seencache.NewAuto(settings.RedisAddr, settings.RedisDB, settings.SeenCacheTTL, log.Logger)
	}
	a.seen = seen

	a.orch = pipeline.New(pipeline.Config{
		Sources:  adapters,
		Store:    a.store,
		Scorer:   scorer,
		Limiter:  limiter,
		Notifier: notifier,
		Seen:     seen,
		Metrics:  reg,
		Logger:   log.Logger,
	})
	return a, nil
}

// opsDeps exposes the app's repositories and registries to the ops HTTP
// server.
func (a *app) opsDeps() opshttp.Deps {
	return opshttp.Deps{
		Stats:   a.store.Stats,
		Scans:   a.store.Scans,
		Limiter: a.limiter,
		Metrics: a.metrics,
		Version: version,
		Logger:  log.Logger,
	}
}

// mockSources picks the adapters a dry run registers: the --sources
// selection when given, otherwise every source the enabled searches
// mention, otherwise autoscout24.
func mockSources(opts appOptions, cfg *config.Config) []domain.Source {
	if len(opts.sources) > 0 {
		return opts.sources
	}
	var out []domain.Source
	seen := make(map[domain.Source]bool)
	for _, s := range cfg.Searches.EnabledSearches() {
		for _, src := range s.SourceList() {
			if !seen[src] {
				seen[src] = true
				out = append(out, src)
			}
		}
	}
	if len(out) == 0 {
		out = []domain.Source{domain.SourceAutoScout24}
	}
	return out
}

// parseSources parses a comma-separated --sources value.
func parseSources(raw string) ([]domain.Source, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []domain.Source
	for _, part := range strings.Split(raw, ",") {
		name := domain.Source(strings.ToLower(strings.TrimSpace(part)))
		if name == "" {
			continue
		}
		if !name.Valid() {
			return nil, fmt.Errorf("unknown source %q", part)
		}
		out = append(out, name)
	}
	return out, nil
}

// listenConfig turns an address like ":8090" into an ops server config.
// An empty host keeps the loopback default; the stats endpoint is not
// meant to face the internet.
func listenConfig(addr string) (opshttp.ServerConfig, error) {
	cfg := opshttp.DefaultServerConfig()
	host, portRaw, err := net.SplitHostPort(addr)
	if err != nil {
		return cfg, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil || port <= 0 || port > 65535 {
		return cfg, fmt.Errorf("invalid listen port %q", portRaw)
	}
	if host != "" {
		cfg.Host = host
	}
	cfg.Port = port
	return cfg, nil
}

// dryRunNotifier logs what a live run would have pushed to Discord.
type dryRunNotifier struct {
	logger zerolog.Logger
}

func (n dryRunNotifier) Send(_ context.Context, a *domain.Annonce, d notify.Decision) error {
	evt := n.logger.Info().
		Str("titre", a.Titre).
		Int("score", a.ScoreTotal).
		Str("reason", string(d.Reason)).
		Str("kind", d.Kind()).
		Str("url", a.URL)
	if a.Prix != nil {
		evt = evt.Int("prix", *a.Prix)
	}
	evt.Msg("dry-run: would notify")
	return nil
}
