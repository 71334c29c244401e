package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/sawpanic/macrorun/internal/cache"
	"github.com/sawpanic/macrorun/internal/indicator"
	"github.com/sawpanic/macrorun/internal/provider"
	"github.com/sawpanic/macrorun/internal/store"
)

// ErrNotFetchable is returned when a calculated indicator is fetched
// directly; those resolve through the calc engine.
var ErrNotFetchable = errors.New("indicator is not provider-backed")

// Priority classifies a fetch for admission purposes. Background
// refreshers should pass PriorityLow: they are admitted only while the
// provider window keeps headroom, and they never spend the retry
// budget.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityLow
)

// FetchOptions modify a single fetch.
type FetchOptions struct {
	// ForceRefresh bypasses the cache read and fetches upstream. The
	// fresh result still lands in the cache.
	ForceRefresh bool
	// Provider pins this call to one provider, overriding both the
	// descriptor pin and the category chain.
	Provider string
	// Priority marks background traffic; see Priority.
	Priority Priority
}

// Config tunes gateway behavior. Zero values pick the defaults.
type Config struct {
	// MaxRetries is the attempt ceiling per provider per fetch.
	MaxRetries int
	// DefaultTTL caches values whose descriptor does not set a TTL.
	DefaultTTL time.Duration
	// FallbackPenalty multiplies confidence when serving a persisted
	// last-known-good value.
	FallbackPenalty float64
	// Backoff shapes retry delays; BackoffByProvider overrides it.
	Backoff           Backoff
	BackoffByProvider map[string]Backoff
	// Confidence is the per-provider base confidence; unknown providers
	// fall back to DefaultConfidence.
	Confidence map[string]float64
	// DefaultChain serves categories with no configured chain.
	DefaultChain []string
	// ChunkDelay is the pause between batch chunks per provider.
	ChunkDelay time.Duration
	// MaxChunkSize caps per-provider concurrency in batch fetches.
	MaxChunkSize int
}

// DefaultConfidence applies to providers missing from the confidence
// map.
const DefaultConfidence = 0.9

// DefaultConfig returns the standard gateway tuning.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		DefaultTTL:      time.Minute,
		FallbackPenalty: 0.8,
		Backoff:         DefaultBackoff(),
		ChunkDelay:      150 * time.Millisecond,
		MaxChunkSize:    8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = d.DefaultTTL
	}
	if c.FallbackPenalty <= 0 || c.FallbackPenalty > 1 {
		c.FallbackPenalty = d.FallbackPenalty
	}
	if c.Backoff.Base <= 0 {
		c.Backoff = d.Backoff
	}
	if c.ChunkDelay <= 0 {
		c.ChunkDelay = d.ChunkDelay
	}
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = d.MaxChunkSize
	}
	return c
}

// Deps bundles everything the gateway needs. Registry, Adapters and
// Cache are required; the rest default to sane in-memory behavior.
type Deps struct {
	Registry *indicator.Registry
	Adapters map[string]provider.Adapter
	Chains   map[indicator.Category][]string
	Cache    *cache.TTLCache
	Breakers *BreakerSet
	Limiters *LimiterSet
	Budget   *Budget
	Store    store.Store
	Metrics  *Metrics
	Logger   zerolog.Logger
	Config   Config
}

// Gateway routes indicator fetches through the cache, per-provider
// circuit breakers, sliding-window rate limits, daily budgets, retry
// with backoff, and finally the persisted last-known-good store. All
// provider traffic in the system funnels through here.
type Gateway struct {
	registry *indicator.Registry
	adapters map[string]provider.Adapter
	chains   map[indicator.Category][]string
	cache    *cache.TTLCache
	breakers *BreakerSet
	limiters *LimiterSet
	budget   *Budget
	store    store.Store
	metrics  *Metrics
	config   Config
	logger   zerolog.Logger
	inflight *inflightGroup

	now       func() time.Time
	startedAt time.Time
}

// New wires a gateway. It validates that fallback chains only name
// known adapters so routing typos die at startup, not at 3am.
func New(d Deps) (*Gateway, error) {
	if d.Registry == nil {
		return nil, errors.New("gateway: registry is required")
	}
	if len(d.Adapters) == 0 {
		return nil, errors.New("gateway: at least one provider adapter is required")
	}
	if d.Cache == nil {
		return nil, errors.New("gateway: cache is required")
	}

	for category, chain := range d.Chains {
		if len(chain) == 0 {
			return nil, fmt.Errorf("gateway: empty fallback chain for category %q", category)
		}
		for _, id := range chain {
			if _, ok := d.Adapters[id]; !ok {
				return nil, fmt.Errorf("gateway: chain for category %q names unknown provider %q", category, id)
			}
		}
	}

	if d.Breakers == nil {
		d.Breakers = NewBreakerSet(DefaultBreakerConfig(), nil)
	}
	if d.Limiters == nil {
		d.Limiters = NewLimiterSet(DefaultWindowConfig(), nil)
	}
	if d.Budget == nil {
		d.Budget = NewBudget(nil)
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(prometheus.NewRegistry())
	}

	g := &Gateway{
		registry:  d.Registry,
		adapters:  d.Adapters,
		chains:    d.Chains,
		cache:     d.Cache,
		breakers:  d.Breakers,
		limiters:  d.Limiters,
		budget:    d.Budget,
		store:     d.Store,
		metrics:   d.Metrics,
		config:    d.Config.withDefaults(),
		logger:    d.Logger.With().Str("component", "gateway").Logger(),
		inflight:  newInflightGroup(),
		now:       time.Now,
		startedAt: time.Now(),
	}

	metrics, logger := g.metrics, g.logger
	g.breakers.SetOnTransition(func(providerID string, from, to BreakerState) {
		metrics.RecordBreakerTransition(providerID, to)
		metrics.SetBreakerState(providerID, to)
		logger.Warn().
			Str("provider", providerID).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit breaker transition")
	})

	return g, nil
}

// Fetch returns the current value of a raw indicator. The cache is
// consulted first; concurrent misses for the same indicator collapse
// into one upstream fetch.
func (g *Gateway) Fetch(ctx context.Context, id string, opts FetchOptions) (indicator.Value, error) {
	desc, err := g.registry.Get(id)
	if err != nil {
		return indicator.Value{}, err
	}
	if desc.IsCalculated() {
		return indicator.Value{}, fmt.Errorf("%w: %s", ErrNotFetchable, id)
	}

	key := quoteKey(id)
	if !opts.ForceRefresh {
		if cached, ok := g.cache.Get(key); ok {
			g.metrics.RecordCacheHit(CacheTypeQuote)
			v := cached.(indicator.Value)
			v.Source = indicator.SourceCache
			return v, nil
		}
		g.metrics.RecordCacheMiss(CacheTypeQuote)
	}

	v, shared, err := g.inflight.do(ctx, key, func() (indicator.Value, error) {
		return g.fetchFresh(ctx, desc, opts)
	})
	if shared && err == nil {
		g.logger.Debug().Str("indicator", id).Msg("joined in-flight fetch")
	}
	return v, err
}

// fetchFresh walks the fallback chain. Exactly one of these runs per
// indicator at a time; see inflightGroup.
func (g *Gateway) fetchFresh(ctx context.Context, desc indicator.Descriptor, opts FetchOptions) (indicator.Value, error) {
	chain := g.chainFor(desc, opts)
	if len(chain) == 0 {
		return indicator.Value{}, provider.NewError("gateway", provider.ErrCodeExhausted,
			fmt.Sprintf("no providers configured for %s (category %s)", desc.ID, desc.Category), false)
	}

	var lastErr error
	for position, providerID := range chain {
		adapter, ok := g.adapters[providerID]
		if !ok {
			g.logger.Debug().Str("provider", providerID).Msg("skipping unconfigured provider in chain")
			continue
		}

		breaker := g.breakers.Get(providerID)
		if !breaker.Allow() {
			g.metrics.RecordSkip(providerID, SkipBreakerOpen)
			lastErr = provider.NewError(providerID, provider.ErrCodeCircuitOpen, "circuit open", true)
			continue
		}
		if !g.budget.Allow(providerID) {
			g.metrics.RecordSkip(providerID, SkipBudgetExhausted)
			lastErr = provider.NewError(providerID, provider.ErrCodeBudget, "daily budget exhausted", true)
			continue
		}
		limiter := g.limiters.Get(providerID)
		var admitted bool
		if opts.Priority == PriorityLow {
			admitted = limiter.AllowLow()
		} else {
			admitted = limiter.Allow()
		}
		if !admitted {
			g.metrics.RecordSkip(providerID, SkipRateLimited)
			lastErr = provider.NewError(providerID, provider.ErrCodeRateLimit, "window limit reached", true)
			continue
		}

		quote, err := g.attempt(ctx, adapter, desc, providerID, opts.Priority)
		if err == nil {
			breaker.RecordSuccess()
			limiter.Record()
			g.budget.Record(providerID)

			value := g.buildValue(desc, providerID, position, quote)
			g.cache.Set(quoteKey(desc.ID), value, g.ttlFor(desc))
			g.persistGood(value)
			return value, nil
		}

		if ctx.Err() != nil {
			// The caller gave up; the provider is not at fault.
			return indicator.Value{}, err
		}

		breaker.RecordFailure()
		lastErr = err
		g.logger.Warn().
			Err(err).
			Str("indicator", desc.ID).
			Str("provider", providerID).
			Int("chain_position", position).
			Msg("provider failed, trying next in chain")
	}

	if v, ok := g.staleFallback(ctx, desc, lastErr); ok {
		return v, nil
	}

	g.metrics.RecordExhausted()
	return indicator.Value{}, &provider.Error{
		Provider:  "gateway",
		Code:      provider.ErrCodeExhausted,
		Message:   fmt.Sprintf("all providers exhausted for %s (chain %v)", desc.ID, chain),
		Transient: true,
		Cause:     lastErr,
	}
}

// attempt runs the retry loop against one adapter. Only transient
// failures are retried; permanent ones fail the adapter immediately.
// Low-priority fetches get a single attempt.
func (g *Gateway) attempt(ctx context.Context, adapter provider.Adapter, desc indicator.Descriptor, providerID string, priority Priority) (provider.RawQuote, error) {
	symbol := desc.SymbolFor(providerID)
	backoff := g.backoffFor(providerID)

	maxAttempts := g.config.MaxRetries
	if priority == PriorityLow {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		quote, err := adapter.FetchOne(ctx, symbol)
		elapsed := time.Since(start)

		if err == nil {
			g.metrics.ObserveFetch(providerID, ResultSuccess, elapsed)
			return quote, nil
		}

		lastErr = err
		if !provider.IsTransient(err) {
			g.metrics.ObserveFetch(providerID, ResultPermanentError, elapsed)
			break
		}
		g.metrics.ObserveFetch(providerID, ResultTransientError, elapsed)

		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}

		delay := backoff.Delay(attempt)
		g.logger.Debug().
			Str("provider", providerID).
			Str("symbol", symbol).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("transient failure, backing off")
		if err := SleepWithContext(ctx, delay); err != nil {
			break
		}
	}
	return provider.RawQuote{}, lastErr
}

// staleFallback serves the last persisted good value with a confidence
// penalty and explicit staleness markers.
func (g *Gateway) staleFallback(ctx context.Context, desc indicator.Descriptor, lastErr error) (indicator.Value, bool) {
	if g.store == nil {
		return indicator.Value{}, false
	}

	v, found, err := g.store.LastKnownGood(ctx, desc.ID)
	if err != nil {
		g.logger.Debug().Err(err).Str("indicator", desc.ID).Msg("last known good lookup failed")
		return indicator.Value{}, false
	}
	if !found {
		return indicator.Value{}, false
	}

	v.Source = indicator.SourceFallback
	v.Confidence *= g.config.FallbackPenalty
	v = v.WithMeta("stale", true)
	if lastErr != nil {
		v = v.WithMeta("last_error", lastErr.Error())
	}

	g.metrics.RecordFallback()
	g.logger.Warn().
		Str("indicator", desc.ID).
		Time("as_of", v.Timestamp).
		Msg("serving last known good value")
	return v, true
}

// chainFor resolves the provider order for one fetch. A call-level pin
// beats the descriptor pin, which beats the category chain.
func (g *Gateway) chainFor(desc indicator.Descriptor, opts FetchOptions) []string {
	if opts.Provider != "" {
		return []string{opts.Provider}
	}
	if desc.PinProvider != "" {
		return []string{desc.PinProvider}
	}
	if chain, ok := g.chains[desc.Category]; ok && len(chain) > 0 {
		return chain
	}
	return g.config.DefaultChain
}

func (g *Gateway) buildValue(desc indicator.Descriptor, providerID string, position int, quote provider.RawQuote) indicator.Value {
	scale := desc.ScaleFor(providerID)
	v := indicator.NewValue(desc.ID, quote.Price*scale, quote.PreviousClose*scale, quote.Time())
	v.Confidence = g.confidenceFor(providerID)
	v.Provider = providerID
	v.Source = indicator.SourceProvider
	if position > 0 {
		v.Source = indicator.SourceFallback
	}
	v.Metadata = map[string]interface{}{
		"provider_symbol": quote.Symbol,
		"chain_position":  position,
		"unit":            desc.Unit,
		"fetched_at":      g.now().UTC(),
	}
	return v
}

func (g *Gateway) confidenceFor(providerID string) float64 {
	if c, ok := g.config.Confidence[providerID]; ok && c > 0 {
		return c
	}
	return DefaultConfidence
}

func (g *Gateway) backoffFor(providerID string) Backoff {
	if b, ok := g.config.BackoffByProvider[providerID]; ok {
		return b
	}
	return g.config.Backoff
}

func (g *Gateway) ttlFor(desc indicator.Descriptor) time.Duration {
	if desc.TTL > 0 {
		return desc.TTL
	}
	return g.config.DefaultTTL
}

// persistGood writes the value to the last-known-good store off the
// hot path. The write races nothing: values are immutable and newer
// writes simply win.
func (g *Gateway) persistGood(v indicator.Value) {
	if g.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.store.SaveGood(ctx, v); err != nil {
			g.logger.Debug().Err(err).Str("indicator", v.Symbol).Msg("persisting last known good failed")
		}
	}()
}

// Registry exposes the descriptor registry for read paths.
func (g *Gateway) Registry() *indicator.Registry {
	return g.registry
}

// Metrics exposes the metric sink so other layers record into the same
// families.
func (g *Gateway) Metrics() *Metrics {
	return g.metrics
}

// CacheStats surfaces cache counters for health reporting.
func (g *Gateway) CacheStats() cache.Stats {
	return g.cache.Stats()
}

func quoteKey(id string) string {
	return "quote:" + id
}
