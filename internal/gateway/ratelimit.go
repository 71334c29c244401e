package gateway

import (
	"sync"
	"time"
)

// WindowConfig is one provider's sliding-window rate limit.
type WindowConfig struct {
	// Limit is the maximum number of requests inside the window.
	Limit int
	// Window is the trailing interval the limit applies to.
	Window time.Duration
}

// DefaultWindowConfig is deliberately tight; real limits come from
// per-provider config.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{Limit: 30, Window: time.Minute}
}

// SlidingWindow tracks request timestamps in a trailing window. Allow
// is a pure capacity check; Record consumes a slot. The gateway only
// records after it has decided to dispatch, so a denial or a breaker
// skip never burns capacity.
type SlidingWindow struct {
	provider string
	config   WindowConfig

	mu     sync.Mutex
	stamps []time.Time
	denied int64

	now func() time.Time
}

// WindowSnapshot is the health view of one limiter.
type WindowSnapshot struct {
	Provider  string `json:"provider"`
	Limit     int    `json:"limit"`
	WindowSec int    `json:"window_sec"`
	InWindow  int    `json:"in_window"`
	Remaining int    `json:"remaining"`
	Denied    int64  `json:"denied"`
}

// NewSlidingWindow creates a limiter for a provider.
func NewSlidingWindow(provider string, config WindowConfig) *SlidingWindow {
	if config.Limit <= 0 || config.Window <= 0 {
		config = DefaultWindowConfig()
	}
	return &SlidingWindow{
		provider: provider,
		config:   config,
		now:      time.Now,
	}
}

// Allow reports whether capacity exists right now. It does not consume
// anything.
func (w *SlidingWindow) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked()
	if len(w.stamps) < w.config.Limit {
		return true
	}
	w.denied++
	return false
}

// AllowLow admits background traffic only while at least a quarter of
// the window remains free, so interactive fetches never find it
// exhausted.
func (w *SlidingWindow) AllowLow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked()
	reserve := w.config.Limit / 4
	if reserve < 1 {
		reserve = 1
	}
	if len(w.stamps) < w.config.Limit-reserve {
		return true
	}
	w.denied++
	return false
}

// Record consumes one slot at the current time.
func (w *SlidingWindow) Record() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked()
	w.stamps = append(w.stamps, w.now())
}

// Remaining returns how many slots are free in the current window.
func (w *SlidingWindow) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked()
	return w.config.Limit - len(w.stamps)
}

// Snapshot returns the limiter view for health endpoints.
func (w *SlidingWindow) Snapshot() WindowSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked()
	return WindowSnapshot{
		Provider:  w.provider,
		Limit:     w.config.Limit,
		WindowSec: int(w.config.Window / time.Second),
		InWindow:  len(w.stamps),
		Remaining: w.config.Limit - len(w.stamps),
		Denied:    w.denied,
	}
}

// pruneLocked drops timestamps that fell out of the trailing window.
func (w *SlidingWindow) pruneLocked() {
	cutoff := w.now().Add(-w.config.Window)
	keep := 0
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			w.stamps[keep] = ts
			keep++
		}
	}
	w.stamps = w.stamps[:keep]
}

// LimiterSet manages one sliding window per provider.
type LimiterSet struct {
	mu       sync.RWMutex
	limiters map[string]*SlidingWindow
	configs  map[string]WindowConfig
	fallback WindowConfig
}

// NewLimiterSet builds a set with per-provider overrides on top of a
// default window.
func NewLimiterSet(defaults WindowConfig, overrides map[string]WindowConfig) *LimiterSet {
	if defaults.Limit <= 0 {
		defaults = DefaultWindowConfig()
	}
	return &LimiterSet{
		limiters: make(map[string]*SlidingWindow),
		configs:  overrides,
		fallback: defaults,
	}
}

// Get returns the limiter for a provider, creating it on first use.
func (s *LimiterSet) Get(provider string) *SlidingWindow {
	s.mu.RLock()
	w, exists := s.limiters[provider]
	s.mu.RUnlock()
	if exists {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, exists := s.limiters[provider]; exists {
		return w
	}

	config, ok := s.configs[provider]
	if !ok {
		config = s.fallback
	}
	w = NewSlidingWindow(provider, config)
	s.limiters[provider] = w
	return w
}

// ConfigFor exposes the effective window config for a provider. Batch
// fan-out sizes its concurrency from this.
func (s *LimiterSet) ConfigFor(provider string) WindowConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if config, ok := s.configs[provider]; ok {
		return config
	}
	return s.fallback
}

// Snapshots returns the limiter view for every provider seen so far.
func (s *LimiterSet) Snapshots() map[string]WindowSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]WindowSnapshot, len(s.limiters))
	for provider, w := range s.limiters {
		out[provider] = w.Snapshot()
	}
	return out
}
