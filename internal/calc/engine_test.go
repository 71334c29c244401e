package calc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/macrorun/internal/cache"
	"github.com/sawpanic/macrorun/internal/gateway"
	"github.com/sawpanic/macrorun/internal/indicator"
)

type fakeFetcher struct {
	mu     sync.Mutex
	values map[string]indicator.Value
	errs   map[string]error
	calls  map[string]int
	forced map[string]bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		values: make(map[string]indicator.Value),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
		forced: make(map[string]bool),
	}
}

func (f *fakeFetcher) set(v indicator.Value) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[v.Symbol] = v
}

func (f *fakeFetcher) fail(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[id] = err
}

func (f *fakeFetcher) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeFetcher) Fetch(_ context.Context, id string, opts gateway.FetchOptions) (indicator.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[id]++
	if opts.ForceRefresh {
		f.forced[id] = true
	}
	if err, ok := f.errs[id]; ok {
		return indicator.Value{}, err
	}
	v, ok := f.values[id]
	if !ok {
		return indicator.Value{}, indicator.ErrUnknownIndicator
	}
	return v, nil
}

func rawValue(id string, current, previous, confidence float64, ts time.Time) indicator.Value {
	v := indicator.NewValue(id, current, previous, ts)
	v.Confidence = confidence
	v.Source = indicator.SourceProvider
	v.Provider = "fred"
	return v
}

func liquidityRegistry(t *testing.T) *indicator.Registry {
	t.Helper()
	reg := indicator.NewRegistry()
	for _, id := range []string{"WALCL", "TGA", "RRP"} {
		require.NoError(t, reg.Register(indicator.Descriptor{
			ID:       id,
			Category: indicator.CategoryLiquidity,
			Kind:     indicator.KindRaw,
		}))
	}
	require.NoError(t, reg.Register(indicator.Descriptor{
		ID:           "NET_LIQ",
		Category:     indicator.CategoryLiquidity,
		Kind:         indicator.KindCalculated,
		Dependencies: []string{"WALCL", "TGA", "RRP"},
		Transform:    indicator.TransformDifference,
	}))
	require.NoError(t, reg.Register(indicator.Descriptor{
		ID:           "NET_LIQ_DELTA",
		Category:     indicator.CategoryLiquidity,
		Kind:         indicator.KindCalculated,
		Dependencies: []string{"NET_LIQ"},
		Transform:    indicator.TransformDelta,
	}))
	return reg
}

func newTestEngine(t *testing.T, reg *indicator.Registry, f Fetcher) *Engine {
	t.Helper()

	c := cache.NewTTLCache(128)
	t.Cleanup(c.Stop)

	e, err := New(Deps{
		Registry: reg,
		Fetcher:  f,
		Cache:    c,
		Logger:   zerolog.Nop(),
		CalcTTL:  time.Minute,
	})
	require.NoError(t, err)
	return e
}

func TestResolveNetLiquidity(t *testing.T) {
	fetcher := newFakeFetcher()
	oldest := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	fetcher.set(rawValue("WALCL", 7500, 7600, 0.98, oldest.Add(48*time.Hour)))
	fetcher.set(rawValue("TGA", 650, 700, 0.97, oldest.Add(24*time.Hour)))
	fetcher.set(rawValue("RRP", 1800, 2000, 0.95, oldest))

	e := newTestEngine(t, liquidityRegistry(t), fetcher)

	v, err := e.Resolve(context.Background(), "NET_LIQ", ResolveOptions{})
	require.NoError(t, err)

	assert.Equal(t, "NET_LIQ", v.Symbol)
	assert.InDelta(t, 5050.0, v.Current, 1e-9)
	assert.InDelta(t, 4900.0, v.Previous, 1e-9)
	assert.InDelta(t, 150.0, v.Change, 1e-9)
	assert.InDelta(t, 0.95, v.Confidence, 1e-9, "confidence is the weakest dependency")
	assert.Equal(t, indicator.SourceCalculated, v.Source)
	assert.True(t, v.Timestamp.Equal(oldest), "timestamp is the oldest dependency")

	deps, ok := v.Metadata["dependencies"].(map[string]float64)
	require.True(t, ok)
	assert.InDelta(t, 7500.0, deps["WALCL"], 1e-9)
	assert.InDelta(t, 650.0, deps["TGA"], 1e-9)
	assert.InDelta(t, 1800.0, deps["RRP"], 1e-9)
}

func TestResolveRawDelegatesToFetcher(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(rawValue("WALCL", 7500, 7600, 0.98, time.Now().UTC()))

	e := newTestEngine(t, liquidityRegistry(t), fetcher)

	v, err := e.Resolve(context.Background(), "WALCL", ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, indicator.SourceProvider, v.Source)
	assert.Equal(t, 1, fetcher.callCount("WALCL"))
}

func TestResolveNestedCalculation(t *testing.T) {
	fetcher := newFakeFetcher()
	now := time.Now().UTC()
	fetcher.set(rawValue("WALCL", 7500, 7600, 0.98, now))
	fetcher.set(rawValue("TGA", 650, 700, 0.97, now))
	fetcher.set(rawValue("RRP", 1800, 2000, 0.95, now))

	e := newTestEngine(t, liquidityRegistry(t), fetcher)

	v, err := e.Resolve(context.Background(), "NET_LIQ_DELTA", ResolveOptions{})
	require.NoError(t, err)

	// NET_LIQ moved from 4900 to 5050.
	assert.InDelta(t, 150.0, v.Current, 1e-9)
	assert.InDelta(t, 0.95, v.Confidence, 1e-9)
	assert.Equal(t, indicator.SourceCalculated, v.Source)
}

func TestResolveCachesDerivedValues(t *testing.T) {
	fetcher := newFakeFetcher()
	now := time.Now().UTC()
	fetcher.set(rawValue("WALCL", 7500, 7600, 0.98, now))
	fetcher.set(rawValue("TGA", 650, 700, 0.97, now))
	fetcher.set(rawValue("RRP", 1800, 2000, 0.95, now))

	e := newTestEngine(t, liquidityRegistry(t), fetcher)

	first, err := e.Resolve(context.Background(), "NET_LIQ", ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, indicator.SourceCalculated, first.Source)

	second, err := e.Resolve(context.Background(), "NET_LIQ", ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, indicator.SourceCache, second.Source)
	assert.InDelta(t, first.Current, second.Current, 1e-9)
	assert.Equal(t, 1, fetcher.callCount("WALCL"), "cached resolve must not refetch deps")
}

func TestForceRefreshCascades(t *testing.T) {
	fetcher := newFakeFetcher()
	now := time.Now().UTC()
	fetcher.set(rawValue("WALCL", 7500, 7600, 0.98, now))
	fetcher.set(rawValue("TGA", 650, 700, 0.97, now))
	fetcher.set(rawValue("RRP", 1800, 2000, 0.95, now))

	e := newTestEngine(t, liquidityRegistry(t), fetcher)

	_, err := e.Resolve(context.Background(), "NET_LIQ", ResolveOptions{})
	require.NoError(t, err)

	_, err = e.Resolve(context.Background(), "NET_LIQ", ResolveOptions{ForceRefresh: true})
	require.NoError(t, err)

	assert.Equal(t, 2, fetcher.callCount("WALCL"))
	assert.True(t, fetcher.forced["WALCL"], "refresh must cascade to dependencies")
	assert.True(t, fetcher.forced["RRP"])
}

func TestResolveMissingDependency(t *testing.T) {
	fetcher := newFakeFetcher()
	now := time.Now().UTC()
	fetcher.set(rawValue("WALCL", 7500, 7600, 0.98, now))
	fetcher.set(rawValue("RRP", 1800, 2000, 0.95, now))
	cause := errors.New("all providers exhausted")
	fetcher.fail("TGA", cause)

	e := newTestEngine(t, liquidityRegistry(t), fetcher)

	_, err := e.Resolve(context.Background(), "NET_LIQ", ResolveOptions{})
	require.Error(t, err)

	var missing *MissingDependencyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "NET_LIQ", missing.Indicator)
	assert.Equal(t, "TGA", missing.Dependency)
	assert.ErrorIs(t, err, cause)
}

func TestResolveUnknownIndicator(t *testing.T) {
	e := newTestEngine(t, liquidityRegistry(t), newFakeFetcher())

	_, err := e.Resolve(context.Background(), "NOPE", ResolveOptions{})
	assert.ErrorIs(t, err, indicator.ErrUnknownIndicator)
}

func TestNewRejectsUnknownCatalogTransform(t *testing.T) {
	reg := indicator.NewRegistry()
	require.NoError(t, reg.Register(indicator.Descriptor{
		ID:       "A",
		Category: indicator.CategoryRates,
		Kind:     indicator.KindRaw,
	}))
	require.NoError(t, reg.Register(indicator.Descriptor{
		ID:           "WEIRD",
		Category:     indicator.CategoryRates,
		Kind:         indicator.KindCalculated,
		Dependencies: []string{"A"},
		Transform:    "fourier",
	}))

	c := cache.NewTTLCache(8)
	t.Cleanup(c.Stop)

	_, err := New(Deps{
		Registry: reg,
		Fetcher:  newFakeFetcher(),
		Cache:    c,
		Logger:   zerolog.Nop(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTransform)
}

func TestRegisterIndicatorChecksTransform(t *testing.T) {
	e := newTestEngine(t, liquidityRegistry(t), newFakeFetcher())

	err := e.RegisterIndicator(indicator.Descriptor{
		ID:           "MYSTERY",
		Category:     indicator.CategoryLiquidity,
		Kind:         indicator.KindCalculated,
		Dependencies: []string{"WALCL"},
		Transform:    "wavelet",
	})
	assert.ErrorIs(t, err, ErrUnknownTransform)

	err = e.RegisterIndicator(indicator.Descriptor{
		ID:           "LIQ_SUM",
		Category:     indicator.CategoryLiquidity,
		Kind:         indicator.KindCalculated,
		Dependencies: []string{"WALCL", "RRP"},
		Transform:    indicator.TransformSum,
	})
	assert.NoError(t, err)
}

func TestRegisterTransform(t *testing.T) {
	fetcher := newFakeFetcher()
	now := time.Now().UTC()
	fetcher.set(rawValue("WALCL", 7500, 7600, 0.98, now))

	e := newTestEngine(t, liquidityRegistry(t), fetcher)

	require.Error(t, e.RegisterTransform("", nil))
	require.Error(t, e.RegisterTransform(indicator.TransformSum, func([]indicator.Value) (float64, float64, error) {
		return 0, 0, nil
	}), "builtins must not be replaceable")

	doubled := func(deps []indicator.Value) (float64, float64, error) {
		return deps[0].Current * 2, deps[0].Previous * 2, nil
	}
	require.NoError(t, e.RegisterTransform("double", doubled))
	assert.Contains(t, e.Transforms(), "double")

	require.NoError(t, e.RegisterIndicator(indicator.Descriptor{
		ID:           "WALCL_X2",
		Category:     indicator.CategoryLiquidity,
		Kind:         indicator.KindCalculated,
		Dependencies: []string{"WALCL"},
		Transform:    "double",
	}))

	v, err := e.Resolve(context.Background(), "WALCL_X2", ResolveOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 15000.0, v.Current, 1e-9)
}

func TestTransformErrorSurfaces(t *testing.T) {
	fetcher := newFakeFetcher()
	now := time.Now().UTC()
	fetcher.set(rawValue("SPX", 5300, 5250, 0.9, now))
	fetcher.set(rawValue("VIX", 0, 25, 0.9, now))

	reg := indicator.NewRegistry()
	for _, id := range []string{"SPX", "VIX"} {
		require.NoError(t, reg.Register(indicator.Descriptor{
			ID:       id,
			Category: indicator.CategoryEquity,
			Kind:     indicator.KindRaw,
		}))
	}
	require.NoError(t, reg.Register(indicator.Descriptor{
		ID:           "SPX_VIX_RATIO",
		Category:     indicator.CategoryEquity,
		Kind:         indicator.KindCalculated,
		Dependencies: []string{"SPX", "VIX"},
		Transform:    indicator.TransformRatio,
	}))

	e := newTestEngine(t, reg, fetcher)

	_, err := e.Resolve(context.Background(), "SPX_VIX_RATIO", ResolveOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zero denominator")
}
