package gateway

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig tunes one provider's circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that trips the
	// breaker open.
	FailureThreshold int
	// Cooldown is how long an open breaker rejects traffic before
	// admitting a half-open probe.
	Cooldown time.Duration
}

// DefaultBreakerConfig matches the conservative defaults used for REST
// providers.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
	}
}

// TransitionFunc observes breaker state changes.
type TransitionFunc func(provider string, from, to BreakerState)

// Breaker protects one provider. Failures are counted consecutively;
// any success resets the count. The open-to-half-open transition is
// evaluated lazily at decision time, so no timer goroutine is needed,
// and half-open admits exactly one probe request.
type Breaker struct {
	provider string
	config   BreakerConfig

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	trips               int64
	openedAt            time.Time
	retryAt             time.Time
	lastFailureAt       time.Time
	probing             bool

	now          func() time.Time
	onTransition TransitionFunc
}

// BreakerSnapshot is the JSON-friendly view used by health reporting.
type BreakerSnapshot struct {
	Provider            string     `json:"provider"`
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Trips               int64      `json:"trips"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
	RetryAt             *time.Time `json:"retry_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
}

// NewBreaker creates a closed breaker for a provider.
func NewBreaker(provider string, config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &Breaker{
		provider: provider,
		config:   config,
		state:    BreakerClosed,
		now:      time.Now,
	}
}

// SetOnTransition registers a state change observer. Must be called
// before the breaker sees traffic.
func (b *Breaker) SetOnTransition(fn TransitionFunc) {
	b.onTransition = fn
}

// Allow reports whether a request may proceed. This is the decision
// point where an expired cooldown flips the breaker to half-open; the
// caller that gets true in half-open state is the single probe.
func (b *Breaker) Allow() bool {
	var fired func()
	b.mu.Lock()

	allowed := false
	switch b.state {
	case BreakerClosed:
		allowed = true
	case BreakerOpen:
		if !b.now().Before(b.retryAt) {
			fired = b.transitionLocked(BreakerHalfOpen)
			b.probing = true
			allowed = true
		}
	case BreakerHalfOpen:
		if !b.probing {
			b.probing = true
			allowed = true
		}
	}

	b.mu.Unlock()
	if fired != nil {
		fired()
	}
	return allowed
}

// RecordSuccess resets the failure count and closes the breaker from
// any state. A provider that answered correctly is healthy, whatever
// the breaker thought of it.
func (b *Breaker) RecordSuccess() {
	var fired func()
	b.mu.Lock()

	b.consecutiveFailures = 0
	b.probing = false
	if b.state != BreakerClosed {
		fired = b.transitionLocked(BreakerClosed)
	}

	b.mu.Unlock()
	if fired != nil {
		fired()
	}
}

// RecordFailure bumps the consecutive failure count, tripping the
// breaker when the threshold is reached. A half-open probe failure
// re-opens immediately and restarts the cooldown.
func (b *Breaker) RecordFailure() {
	var fired func()
	b.mu.Lock()

	now := b.now()
	b.consecutiveFailures++
	b.lastFailureAt = now

	switch b.state {
	case BreakerHalfOpen:
		b.probing = false
		fired = b.openLocked(now)
	case BreakerClosed:
		if b.consecutiveFailures >= b.config.FailureThreshold {
			fired = b.openLocked(now)
		}
	}

	b.mu.Unlock()
	if fired != nil {
		fired()
	}
}

// State returns the stored state without evaluating cooldown expiry.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the current breaker view for health endpoints.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := BreakerSnapshot{
		Provider:            b.provider,
		State:               b.state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		Trips:               b.trips,
	}
	if !b.openedAt.IsZero() {
		t := b.openedAt
		snap.OpenedAt = &t
	}
	if b.state == BreakerOpen {
		t := b.retryAt
		snap.RetryAt = &t
	}
	if !b.lastFailureAt.IsZero() {
		t := b.lastFailureAt
		snap.LastFailureAt = &t
	}
	return snap
}

func (b *Breaker) openLocked(now time.Time) func() {
	b.openedAt = now
	b.retryAt = now.Add(b.config.Cooldown)
	b.trips++
	return b.transitionLocked(BreakerOpen)
}

// transitionLocked flips the state and returns the observer invocation
// to run after the lock is released.
func (b *Breaker) transitionLocked(to BreakerState) func() {
	from := b.state
	b.state = to
	if b.onTransition == nil || from == to {
		return nil
	}
	fn, provider := b.onTransition, b.provider
	return func() { fn(provider, from, to) }
}

// BreakerSet manages one breaker per provider.
type BreakerSet struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	configs  map[string]BreakerConfig
	fallback BreakerConfig
	onChange TransitionFunc
}

// NewBreakerSet builds a set with per-provider overrides on top of a
// default config.
func NewBreakerSet(defaults BreakerConfig, overrides map[string]BreakerConfig) *BreakerSet {
	if defaults.FailureThreshold <= 0 {
		defaults = DefaultBreakerConfig()
	}
	return &BreakerSet{
		breakers: make(map[string]*Breaker),
		configs:  overrides,
		fallback: defaults,
	}
}

// SetOnTransition registers the observer applied to every breaker the
// set creates. Must be called before first use.
func (s *BreakerSet) SetOnTransition(fn TransitionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Get returns the breaker for a provider, creating it on first use.
func (s *BreakerSet) Get(provider string) *Breaker {
	s.mu.RLock()
	b, exists := s.breakers[provider]
	s.mu.RUnlock()
	if exists {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, exists := s.breakers[provider]; exists {
		return b
	}

	config, ok := s.configs[provider]
	if !ok {
		config = s.fallback
	}
	b = NewBreaker(provider, config)
	if s.onChange != nil {
		b.SetOnTransition(s.onChange)
	}
	s.breakers[provider] = b
	return b
}

// Snapshots returns the current view of every breaker keyed by
// provider.
func (s *BreakerSet) Snapshots() map[string]BreakerSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]BreakerSnapshot, len(s.breakers))
	for provider, b := range s.breakers {
		out[provider] = b.Snapshot()
	}
	return out
}

// OpenCount returns how many breakers are currently open.
func (s *BreakerSet) OpenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, b := range s.breakers {
		if b.State() == BreakerOpen {
			n++
		}
	}
	return n
}

// Len returns the number of breakers created so far.
func (s *BreakerSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.breakers)
}
