package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigiauto/vigiauto/internal/domain"
)

// Registry paces requests per source and pauses sources that look blocked.
// One instance is shared by every scraper in the process.
type Registry struct {
	mu      sync.Mutex
	states  map[domain.Source]*sourceState
	configs map[domain.Source]Config
	logger  zerolog.Logger

	now func() time.Time
}

// NewRegistry builds a registry pre-configured with the per-source defaults.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		states:  make(map[domain.Source]*sourceState),
		configs: DefaultConfigs(),
		logger:  logger.With().Str("component", "ratelimit").Logger(),
		now:     time.Now,
	}
}

// SetConfig overrides the settings for one source. Calling it after the
// source has already been used resets that source's breaker.
func (r *Registry) SetConfig(source domain.Source, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[source] = cfg.withDefaults()
	delete(r.states, source)
}

func (r *Registry) state(source domain.Source) *sourceState {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[source]
	if !ok {
		cfg, ok := r.configs[source]
		if !ok {
			cfg = fallbackConfig()
		}
		st = newSourceState(source, cfg, r.logTransition)
		r.states[source] = st
	}
	return st
}

func (r *Registry) logTransition(source domain.Source, from, to State) {
	evt := r.logger.Info()
	if to == StateOpen {
		evt = r.logger.Warn()
	}
	evt.Str("source", string(source)).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("circuit state change")
}

// WaitForSlot blocks until the source's next request slot, honouring the
// configured minimum delay with symmetric jitter. It returns false without
// waiting when the source is paused by its breaker, and false when ctx is
// cancelled mid-wait.
func (r *Registry) WaitForSlot(ctx context.Context, source domain.Source) bool {
	st := r.state(source)
	now := r.now()

	if !st.canExecute(now) {
		r.logger.Debug().
			Str("source", string(source)).
			Dur("retry_in", st.timeUntilRetry(now)).
			Msg("source paused, skipping slot")
		return false
	}

	// Reserve the next slot before sleeping so that concurrent callers on
	// the same source space out instead of piling onto the same instant.
	st.mu.Lock()
	required := st.cfg.MinDelay + jitterOffset(st.cfg.Jitter)
	next := st.lastRequest.Add(required)
	var wait time.Duration
	if next.After(now) {
		wait = next.Sub(now)
		st.lastRequest = next
	} else {
		st.lastRequest = now
	}
	st.mu.Unlock()

	if wait <= 0 {
		return true
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// jitterOffset returns a uniform offset in [-jitter, +jitter].
func jitterOffset(jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return 0
	}
	return time.Duration((rand.Float64()*2 - 1) * float64(jitter))
}

// RecordSuccess feeds a successful request into the source's breaker.
func (r *Registry) RecordSuccess(source domain.Source) {
	r.state(source).recordSuccess(r.now())
}

// RecordFailure feeds a failed request into the source's breaker. Enough
// consecutive failures pause the source.
func (r *Registry) RecordFailure(source domain.Source) {
	r.state(source).recordFailure(r.now(), false)
}

// RecordBlock feeds an explicit anti-bot block (403, 429, captcha page)
// into the source's breaker. Blocks escalate the cooldown exponentially.
func (r *Registry) RecordBlock(source domain.Source) {
	r.state(source).recordFailure(r.now(), true)
}

// IsBlocked reports whether the source is currently paused.
func (r *Registry) IsBlocked(source domain.Source) bool {
	return !r.state(source).canExecute(r.now())
}

// TimeUntilRetry returns how long the source stays paused, zero when it is
// available.
func (r *Registry) TimeUntilRetry(source domain.Source) time.Duration {
	return r.state(source).timeUntilRetry(r.now())
}

// StateOf returns the breaker state for one source.
func (r *Registry) StateOf(source domain.Source) State {
	st := r.state(source)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// Snapshot returns the current stats for every source seen so far.
func (r *Registry) Snapshot() map[string]SourceStats {
	r.mu.Lock()
	states := make([]*sourceState, 0, len(r.states))
	for _, st := range r.states {
		states = append(states, st)
	}
	r.mu.Unlock()

	out := make(map[string]SourceStats, len(states))
	for _, st := range states {
		out[string(st.source)] = st.stats()
	}
	return out
}
