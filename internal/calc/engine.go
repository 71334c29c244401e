package calc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/sawpanic/macrorun/internal/cache"
	"github.com/sawpanic/macrorun/internal/gateway"
	"github.com/sawpanic/macrorun/internal/indicator"
)

// ErrUnknownTransform is returned when a descriptor names a transform
// nobody registered.
var ErrUnknownTransform = errors.New("unknown transform")

// MissingDependencyError reports the first dependency that could not
// be resolved for a calculated indicator.
type MissingDependencyError struct {
	Indicator  string
	Dependency string
	Cause      error
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("calculating %s: dependency %s unavailable: %v", e.Indicator, e.Dependency, e.Cause)
}

func (e *MissingDependencyError) Unwrap() error {
	return e.Cause
}

// Fetcher supplies raw indicator values. *gateway.Gateway satisfies
// it; tests substitute fakes.
type Fetcher interface {
	Fetch(ctx context.Context, id string, opts gateway.FetchOptions) (indicator.Value, error)
}

// ResolveOptions modify a resolution.
type ResolveOptions struct {
	// ForceRefresh bypasses caches for this indicator and cascades to
	// every dependency underneath it.
	ForceRefresh bool
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Registry *indicator.Registry
	Fetcher  Fetcher
	Cache    *cache.TTLCache
	Metrics  *gateway.Metrics
	Logger   zerolog.Logger
	// CalcTTL caches derived values whose descriptor sets no TTL.
	CalcTTL time.Duration
}

// Engine resolves calculated indicators by recursively resolving their
// dependencies and applying the descriptor's transform. Raw indicators
// pass straight through to the fetcher, so Resolve is the one entry
// point callers need.
type Engine struct {
	registry *indicator.Registry
	fetcher  Fetcher
	cache    *cache.TTLCache
	metrics  *gateway.Metrics
	logger   zerolog.Logger
	calcTTL  time.Duration

	mu         sync.RWMutex
	transforms map[string]Func
}

// New builds an engine with the built-in transforms registered and
// verifies that every calculated descriptor already in the registry
// names a transform that exists.
func New(d Deps) (*Engine, error) {
	if d.Registry == nil {
		return nil, errors.New("calc: registry is required")
	}
	if d.Fetcher == nil {
		return nil, errors.New("calc: fetcher is required")
	}
	if d.Cache == nil {
		return nil, errors.New("calc: cache is required")
	}
	if d.Metrics == nil {
		d.Metrics = gateway.NewMetrics(prometheus.NewRegistry())
	}
	if d.CalcTTL <= 0 {
		d.CalcTTL = time.Minute
	}

	e := &Engine{
		registry:   d.Registry,
		fetcher:    d.Fetcher,
		cache:      d.Cache,
		metrics:    d.Metrics,
		logger:     d.Logger.With().Str("component", "calc").Logger(),
		calcTTL:    d.CalcTTL,
		transforms: builtinTransforms(),
	}

	for _, desc := range d.Registry.List() {
		if !desc.IsCalculated() {
			continue
		}
		if _, ok := e.transforms[desc.Transform]; !ok {
			return nil, fmt.Errorf("calc: indicator %s: %w: %s", desc.ID, ErrUnknownTransform, desc.Transform)
		}
	}
	return e, nil
}

// RegisterTransform adds a named transform. Built-in names cannot be
// replaced; redefining a formula under a known name is always a bug.
func (e *Engine) RegisterTransform(name string, fn Func) error {
	if name == "" {
		return errors.New("calc: transform name is required")
	}
	if fn == nil {
		return errors.New("calc: transform func is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.transforms[name]; ok {
		return fmt.Errorf("calc: transform %s already registered", name)
	}
	e.transforms[name] = fn
	return nil
}

// RegisterIndicator registers a calculated descriptor after checking
// its transform exists. Cycle detection happens inside the registry.
func (e *Engine) RegisterIndicator(desc indicator.Descriptor) error {
	if desc.IsCalculated() {
		e.mu.RLock()
		_, ok := e.transforms[desc.Transform]
		e.mu.RUnlock()
		if !ok {
			return fmt.Errorf("calc: indicator %s: %w: %s", desc.ID, ErrUnknownTransform, desc.Transform)
		}
	}
	return e.registry.Register(desc)
}

// Resolve returns the value of any indicator, raw or calculated.
// Calculated indicators resolve their dependencies concurrently and
// recursively, so a derived-of-derived tree is one call.
func (e *Engine) Resolve(ctx context.Context, id string, opts ResolveOptions) (indicator.Value, error) {
	desc, err := e.registry.Get(id)
	if err != nil {
		return indicator.Value{}, err
	}
	if !desc.IsCalculated() {
		return e.fetcher.Fetch(ctx, id, gateway.FetchOptions{ForceRefresh: opts.ForceRefresh})
	}

	key := calcKey(id)
	if !opts.ForceRefresh {
		if cached, ok := e.cache.Get(key); ok {
			e.metrics.RecordCacheHit(gateway.CacheTypeCalc)
			v := cached.(indicator.Value)
			v.Source = indicator.SourceCache
			return v, nil
		}
		e.metrics.RecordCacheMiss(gateway.CacheTypeCalc)
	}

	start := time.Now()
	v, err := e.calculate(ctx, desc, opts)
	elapsed := time.Since(start)

	if err != nil {
		e.metrics.ObserveCalc(id, gateway.ResultTransientError, elapsed)
		return indicator.Value{}, err
	}
	e.metrics.ObserveCalc(id, gateway.ResultSuccess, elapsed)

	e.cache.Set(key, v, e.ttlFor(desc))
	return v, nil
}

// calculate resolves the dependency fan concurrently, joins, and
// applies the transform. One goroutine per dependency with a join at
// the end; no partial application on error.
func (e *Engine) calculate(ctx context.Context, desc indicator.Descriptor, opts ResolveOptions) (indicator.Value, error) {
	e.mu.RLock()
	fn, ok := e.transforms[desc.Transform]
	e.mu.RUnlock()
	if !ok {
		return indicator.Value{}, fmt.Errorf("calc: indicator %s: %w: %s", desc.ID, ErrUnknownTransform, desc.Transform)
	}

	deps := make([]indicator.Value, len(desc.Dependencies))
	errs := make([]error, len(desc.Dependencies))

	var wg sync.WaitGroup
	for i, depID := range desc.Dependencies {
		wg.Add(1)
		go func(i int, depID string) {
			defer wg.Done()
			deps[i], errs[i] = e.Resolve(ctx, depID, opts)
		}(i, depID)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return indicator.Value{}, &MissingDependencyError{
				Indicator:  desc.ID,
				Dependency: desc.Dependencies[i],
				Cause:      err,
			}
		}
	}

	current, previous, err := fn(deps)
	if err != nil {
		return indicator.Value{}, fmt.Errorf("calculating %s: %w", desc.ID, err)
	}

	v := indicator.NewValue(desc.ID, current, previous, earliestTimestamp(deps))
	v.Source = indicator.SourceCalculated
	v.Confidence = minConfidence(deps)
	v.Metadata = map[string]interface{}{
		"transform":    desc.Transform,
		"dependencies": depSnapshot(deps),
	}
	return v, nil
}

// Transforms lists registered transform names, sorted.
func (e *Engine) Transforms() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.transforms))
	for name := range e.transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) ttlFor(desc indicator.Descriptor) time.Duration {
	if desc.TTL > 0 {
		return desc.TTL
	}
	return e.calcTTL
}

// minConfidence propagates the weakest input: a derived value is only
// as trustworthy as its shakiest dependency.
func minConfidence(deps []indicator.Value) float64 {
	if len(deps) == 0 {
		return 0
	}
	min := deps[0].Confidence
	for _, d := range deps[1:] {
		if d.Confidence < min {
			min = d.Confidence
		}
	}
	return min
}

// earliestTimestamp dates the derived value by its oldest input, so a
// stale dependency is visible in the result's age.
func earliestTimestamp(deps []indicator.Value) time.Time {
	if len(deps) == 0 {
		return time.Now().UTC()
	}
	earliest := deps[0].Timestamp
	for _, d := range deps[1:] {
		if d.Timestamp.Before(earliest) {
			earliest = d.Timestamp
		}
	}
	return earliest
}

func depSnapshot(deps []indicator.Value) map[string]float64 {
	out := make(map[string]float64, len(deps))
	for _, d := range deps {
		out[d.Symbol] = d.Current
	}
	return out
}

func calcKey(id string) string {
	return "calc:" + id
}
