package ratelimit

import (
	"sync"
	"time"

	"github.com/vigiauto/vigiauto/internal/domain"
)

// State represents the per-source circuit breaker state.
type State int

const (
	StateClosed   State = iota // Requests allowed
	StateOpen                  // Source paused until blockedUntil
	StateHalfOpen              // Probing recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the pacing and breaker settings for one source.
type Config struct {
	MinDelay         time.Duration // Minimum delay between two requests
	Jitter           time.Duration // Symmetric jitter applied to MinDelay
	FailureThreshold int           // Consecutive failures before the circuit opens
	RecoveryTimeout  time.Duration // Base cooldown when the circuit opens
	SuccessThreshold int           // Successes in half-open before closing
}

const (
	defaultRecoveryTimeout  = 120 * time.Second
	defaultSuccessThreshold = 2
	maxCooldown             = 600 * time.Second
	maxBackoffShift         = 4
)

// DefaultConfigs returns the per-source pacing defaults. Sources scraped
// through an official-looking API tolerate tighter delays than the ones
// known to fingerprint aggressively.
func DefaultConfigs() map[domain.Source]Config {
	return map[domain.Source]Config{
		domain.SourceAutoScout24: {MinDelay: 1500 * time.Millisecond, Jitter: 500 * time.Millisecond, FailureThreshold: 3, RecoveryTimeout: defaultRecoveryTimeout, SuccessThreshold: defaultSuccessThreshold},
		domain.SourceLaCentrale:  {MinDelay: 2 * time.Second, Jitter: 800 * time.Millisecond, FailureThreshold: 3, RecoveryTimeout: defaultRecoveryTimeout, SuccessThreshold: defaultSuccessThreshold},
		domain.SourceParuVendu:   {MinDelay: 1500 * time.Millisecond, Jitter: 500 * time.Millisecond, FailureThreshold: 3, RecoveryTimeout: defaultRecoveryTimeout, SuccessThreshold: defaultSuccessThreshold},
		domain.SourceLeboncoin:   {MinDelay: 3 * time.Second, Jitter: time.Second, FailureThreshold: 2, RecoveryTimeout: defaultRecoveryTimeout, SuccessThreshold: defaultSuccessThreshold},
		domain.SourceMarketplace: {MinDelay: 5 * time.Second, Jitter: 2 * time.Second, FailureThreshold: 2, RecoveryTimeout: defaultRecoveryTimeout, SuccessThreshold: defaultSuccessThreshold},
	}
}

// fallbackConfig covers sources registered at runtime without an entry
// in the defaults table.
func fallbackConfig() Config {
	return Config{
		MinDelay:         1500 * time.Millisecond,
		Jitter:           500 * time.Millisecond,
		FailureThreshold: 3,
		RecoveryTimeout:  defaultRecoveryTimeout,
		SuccessThreshold: defaultSuccessThreshold,
	}
}

func (c Config) withDefaults() Config {
	if c.MinDelay <= 0 {
		c.MinDelay = 1500 * time.Millisecond
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = defaultRecoveryTimeout
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = defaultSuccessThreshold
	}
	return c
}

// sourceState tracks one source. All mutations go through its own mutex so
// a slow source never stalls the others.
type sourceState struct {
	mu sync.Mutex

	source domain.Source
	cfg    Config

	state             State
	failures          int
	successes         int
	consecutiveBlocks int
	lastRequest       time.Time
	lastSuccess       time.Time
	lastFailure       time.Time
	blockedUntil      time.Time

	onTransition func(source domain.Source, from, to State)
}

func newSourceState(source domain.Source, cfg Config, onTransition func(domain.Source, State, State)) *sourceState {
	return &sourceState{
		source:       source,
		cfg:          cfg.withDefaults(),
		state:        StateClosed,
		onTransition: onTransition,
	}
}

// canExecute reports whether a request may go out now. An expired OPEN
// window transitions to HALF_OPEN as a side effect.
func (s *sourceState) canExecute(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return true
	case StateOpen:
		if !now.Before(s.blockedUntil) {
			s.transition(StateHalfOpen)
			s.successes = 0
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

func (s *sourceState) recordSuccess(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.successes++
	s.lastSuccess = now

	switch s.state {
	case StateHalfOpen:
		if s.successes >= s.cfg.SuccessThreshold {
			s.transition(StateClosed)
			s.failures = 0
			s.consecutiveBlocks = 0
		}
	case StateClosed:
		s.failures = 0
	}
}

// recordFailure counts one failed request. A failure while probing in
// HALF_OPEN counts as a block: the source clearly has not recovered, so the
// next cooldown doubles.
func (s *sourceState) recordFailure(now time.Time, isBlock bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures++
	s.lastFailure = now
	if isBlock || s.state == StateHalfOpen {
		s.consecutiveBlocks++
	}

	switch s.state {
	case StateHalfOpen:
		s.open(now)
	case StateClosed:
		if s.failures >= s.cfg.FailureThreshold {
			s.open(now)
		}
	}
}

// open pauses the source with an exponential cooldown driven by the number
// of consecutive blocks, capped at ten minutes.
func (s *sourceState) open(now time.Time) {
	shift := s.consecutiveBlocks
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	cooldown := s.cfg.RecoveryTimeout * (1 << uint(shift))
	if cooldown > maxCooldown {
		cooldown = maxCooldown
	}
	s.blockedUntil = now.Add(cooldown)
	s.successes = 0
	s.transition(StateOpen)
}

func (s *sourceState) transition(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	if s.onTransition != nil {
		s.onTransition(s.source, from, to)
	}
}

// timeUntilRetry returns how long the source stays paused, zero when it is
// not paused.
func (s *sourceState) timeUntilRetry(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen || now.After(s.blockedUntil) {
		return 0
	}
	return s.blockedUntil.Sub(now)
}

// SourceStats is a point-in-time view of one source, exposed through the
// stats endpoint and the cycle logs.
type SourceStats struct {
	State             string     `json:"state"`
	Failures          int        `json:"failures"`
	Successes         int        `json:"successes"`
	ConsecutiveBlocks int        `json:"consecutive_blocks"`
	BlockedUntil      *time.Time `json:"blocked_until,omitempty"`
	LastSuccess       *time.Time `json:"last_success,omitempty"`
	LastFailure       *time.Time `json:"last_failure,omitempty"`
}

func (s *sourceState) stats() SourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SourceStats{
		State:             s.state.String(),
		Failures:          s.failures,
		Successes:         s.successes,
		ConsecutiveBlocks: s.consecutiveBlocks,
	}
	if !s.blockedUntil.IsZero() && s.state == StateOpen {
		t := s.blockedUntil
		st.BlockedUntil = &t
	}
	if !s.lastSuccess.IsZero() {
		t := s.lastSuccess
		st.LastSuccess = &t
	}
	if !s.lastFailure.IsZero() {
		t := s.lastFailure
		st.LastFailure = &t
	}
	return st
}
