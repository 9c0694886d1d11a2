package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vigiauto/vigiauto/internal/domain"
	"github.com/vigiauto/vigiauto/internal/ratelimit"
)

// SearchSpec is one saved search in searches.yaml. A search fans out to
// every listed source in one pipeline run.
type SearchSpec struct {
	Name            string   `yaml:"name"`
	Enabled         *bool    `yaml:"enabled"`
	Marque          string   `yaml:"marque"`
	Modele          string   `yaml:"modele"`
	PrixMin         int      `yaml:"prix_min"`
	PrixMax         int      `yaml:"prix_max"`
	KmMin           int      `yaml:"km_min"`
	KmMax           int      `yaml:"km_max"`
	AnneeMin        int      `yaml:"annee_min"`
	AnneeMax        int      `yaml:"annee_max"`
	Carburant       string   `yaml:"carburant"`
	ParticulierOnly *bool    `yaml:"particulier_only"`
	Sources         []string `yaml:"sources"`
	// Legacy single-source key, kept so older files keep working.
	Source string `yaml:"source"`

	// Per-search pipeline overrides; zero keeps the pipeline defaults.
	MaxPages        int `yaml:"max_pages"`
	DetailThreshold int `yaml:"detail_threshold"`
	NotifyThreshold int `yaml:"notify_threshold"`
}

// IsEnabled defaults to true when the key is absent.
func (s SearchSpec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// WantsParticulierOnly defaults to true when the key is absent.
func (s SearchSpec) WantsParticulierOnly() bool {
	return s.ParticulierOnly == nil || *s.ParticulierOnly
}

// SourceList merges the sources list with the legacy single-source key.
func (s SearchSpec) SourceList() []domain.Source {
	raw := s.Sources
	if len(raw) == 0 && s.Source != "" {
		raw = []string{s.Source}
	}
	out := make([]domain.Source, 0, len(raw))
	for _, r := range raw {
		out = append(out, domain.Source(r))
	}
	return out
}

// RunnerConfig tunes the daemon loop.
type RunnerConfig struct {
	ScanIntervalSec         int   `yaml:"scan_interval_sec"`
	JitterSec               int   `yaml:"jitter_sec"`
	BackoffMultiplier       int   `yaml:"backoff_multiplier"`
	BackoffMaxSec           int   `yaml:"backoff_max_sec"`
	DelayBetweenSearchesSec int   `yaml:"delay_between_searches_sec"`
	MaxDetailPerRun         int   `yaml:"max_detail_per_run"`
	AlertOnZeroListings     *bool `yaml:"alert_on_zero_listings"`
	ZeroListingsThreshold   int   `yaml:"zero_listings_threshold"`
}

// WithDefaults fills zero fields with the production defaults.
func (r RunnerConfig) WithDefaults() RunnerConfig {
	if r.ScanIntervalSec == 0 {
		r.ScanIntervalSec = 60
	}
	if r.JitterSec == 0 {
		r.JitterSec = 10
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2
	}
	if r.BackoffMaxSec == 0 {
		r.BackoffMaxSec = 300
	}
	if r.DelayBetweenSearchesSec == 0 {
		r.DelayBetweenSearchesSec = 5
	}
	if r.MaxDetailPerRun == 0 {
		r.MaxDetailPerRun = 10
	}
	if r.ZeroListingsThreshold == 0 {
		r.ZeroListingsThreshold = 3
	}
	return r
}

// ShouldAlertOnZeroListings defaults to true when the key is absent.
func (r RunnerConfig) ShouldAlertOnZeroListings() bool {
	return r.AlertOnZeroListings == nil || *r.AlertOnZeroListings
}

// ScanInterval returns the base loop interval.
func (r RunnerConfig) ScanInterval() time.Duration {
	return time.Duration(r.ScanIntervalSec) * time.Second
}

// Jitter returns the symmetric loop jitter.
func (r RunnerConfig) Jitter() time.Duration {
	return time.Duration(r.JitterSec) * time.Second
}

// BackoffMax returns the ceiling for the zero-yield backoff.
func (r RunnerConfig) BackoffMax() time.Duration {
	return time.Duration(r.BackoffMaxSec) * time.Second
}

// DelayBetweenSearches returns the pause between two saved searches.
func (r RunnerConfig) DelayBetweenSearches() time.Duration {
	return time.Duration(r.DelayBetweenSearchesSec) * time.Second
}

// SourceRateSpec overrides the pacing defaults for one source. Absent keys
// keep the source's defaults; jitter is a pointer so an explicit 0 disables
// it.
type SourceRateSpec struct {
	MinDelaySec        float64  `yaml:"min_delay_sec"`
	JitterSec          *float64 `yaml:"jitter_sec"`
	FailureThreshold   int      `yaml:"failure_threshold"`
	RecoveryTimeoutSec int      `yaml:"recovery_timeout_sec"`
	SuccessThreshold   int      `yaml:"success_threshold"`
}

// RateConfig applies the overrides on top of the source's default config.
func (s SourceRateSpec) RateConfig(base ratelimit.Config) ratelimit.Config {
	if s.MinDelaySec > 0 {
		base.MinDelay = time.Duration(s.MinDelaySec * float64(time.Second))
	}
	if s.JitterSec != nil {
		base.Jitter = time.Duration(*s.JitterSec * float64(time.Second))
	}
	if s.FailureThreshold > 0 {
		base.FailureThreshold = s.FailureThreshold
	}
	if s.RecoveryTimeoutSec > 0 {
		base.RecoveryTimeout = time.Duration(s.RecoveryTimeoutSec) * time.Second
	}
	if s.SuccessThreshold > 0 {
		base.SuccessThreshold = s.SuccessThreshold
	}
	return base
}

// SearchesConfig is the content of searches.yaml. The runner reloads it at
// the start of every cycle so edits apply without a restart.
type SearchesConfig struct {
	Searches []SearchSpec              `yaml:"searches"`
	Runner   RunnerConfig              `yaml:"runner"`
	Sources  map[string]SourceRateSpec `yaml:"sources"`
}

// LoadSearchesConfig reads and validates searches.yaml.
func LoadSearchesConfig(path string) (*SearchesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read searches config: %w", err)
	}

	var cfg SearchesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse searches YAML: %w", err)
	}

	cfg.Runner = cfg.Runner.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects searches that could never run.
func (c *SearchesConfig) Validate() error {
	for i, s := range c.Searches {
		if s.Name == "" {
			return fmt.Errorf("search #%d: name is required", i)
		}
		if !s.IsEnabled() {
			continue
		}
		if len(s.SourceList()) == 0 {
			return fmt.Errorf("search %q: no sources configured", s.Name)
		}
		for _, src := range s.SourceList() {
			if !src.Valid() {
				return fmt.Errorf("search %q: unknown source %q", s.Name, src)
			}
		}
	}
	return nil
}

// EnabledSearches returns the searches the runner should execute, in file
// order.
func (c *SearchesConfig) EnabledSearches() []SearchSpec {
	out := make([]SearchSpec, 0, len(c.Searches))
	for _, s := range c.Searches {
		if s.IsEnabled() {
			out = append(out, s)
		}
	}
	return out
}

// ApplyRateOverrides pushes the per-source overrides into the registry.
func (c *SearchesConfig) ApplyRateOverrides(reg *ratelimit.Registry) {
	defaults := ratelimit.DefaultConfigs()
	for name, spec := range c.Sources {
		src := domain.Source(name)
		reg.SetConfig(src, spec.RateConfig(defaults[src]))
	}
}
