package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/macrorun/internal/indicator"
	"github.com/sawpanic/macrorun/internal/provider"
)

func TestFetchManyPartialFailure(t *testing.T) {
	primary := okAdapter("primary", 7_500_000, 7_600_000)
	backup := failingAdapter("backup", permanentErr("backup"))
	g := newTestGateway(t, twoProviderDeps(primary, backup))

	results := g.FetchMany(context.Background(), []string{"WALCL", "SPX", "NET_LIQ", "NOPE"}, FetchOptions{})
	require.Len(t, results, 4)

	require.NoError(t, results["WALCL"].Err)
	assert.InDelta(t, 7500.0, results["WALCL"].Value.Current, 1e-9)

	require.Error(t, results["SPX"].Err, "equity chain only has the failing backup")
	assert.Equal(t, provider.ErrCodeExhausted, provider.CodeOf(results["SPX"].Err))

	assert.ErrorIs(t, results["NET_LIQ"].Err, ErrNotFetchable)
	assert.ErrorIs(t, results["NOPE"].Err, indicator.ErrUnknownIndicator)
}

func TestFetchManyRoutesByChainHead(t *testing.T) {
	primary := okAdapter("primary", 7_500_000, 7_600_000)
	backup := okAdapter("backup", 5300, 5250)
	g := newTestGateway(t, twoProviderDeps(primary, backup))

	results := g.FetchMany(context.Background(), []string{"WALCL", "SPX"}, FetchOptions{})

	require.NoError(t, results["WALCL"].Err)
	require.NoError(t, results["SPX"].Err)
	assert.Equal(t, "primary", results["WALCL"].Value.Provider)
	assert.Equal(t, "backup", results["SPX"].Value.Provider)
	assert.Equal(t, []string{"FED-WALCL"}, primary.seenSymbols())
	assert.Equal(t, []string{"SPX"}, backup.seenSymbols())
}

func TestFetchManyDeduplicatesIDs(t *testing.T) {
	primary := okAdapter("primary", 7_500_000, 7_600_000)
	backup := okAdapter("backup", 1, 1)
	g := newTestGateway(t, twoProviderDeps(primary, backup))

	results := g.FetchMany(context.Background(), []string{"WALCL", "WALCL", "WALCL"}, FetchOptions{})

	require.Len(t, results, 1)
	require.NoError(t, results["WALCL"].Err)
	assert.Equal(t, 1, primary.callCount())
}

func TestFetchManyChunksPerProviderWindow(t *testing.T) {
	reg := indicator.NewRegistry()
	ids := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("LIQ_%d", i)
		ids = append(ids, id)
		require.NoError(t, reg.Register(indicator.Descriptor{
			ID:       id,
			Category: indicator.CategoryLiquidity,
			Kind:     indicator.KindRaw,
		}))
	}

	slow := &mockAdapter{
		id: "primary",
		fetch: func(_ context.Context, symbol string, _ int) (provider.RawQuote, error) {
			time.Sleep(10 * time.Millisecond)
			return provider.RawQuote{Symbol: symbol, Price: 1, PreviousClose: 1, TimestampMs: time.Now().UnixMilli()}, nil
		},
	}

	d := Deps{
		Registry: reg,
		Adapters: map[string]provider.Adapter{"primary": slow},
		Chains:   map[indicator.Category][]string{indicator.CategoryLiquidity: {"primary"}},
		Limiters: NewLimiterSet(WindowConfig{Limit: 8, Window: time.Hour}, nil),
	}
	g := newTestGateway(t, d)

	results := g.FetchMany(context.Background(), ids, FetchOptions{})

	require.Len(t, results, 6)
	for _, id := range ids {
		require.NoError(t, results[id].Err)
	}
	assert.Equal(t, 6, slow.callCount())
	assert.LessOrEqual(t, slow.peakConcurrency(), 2, "chunk size is a quarter of the window limit")
}

func TestFetchManyCancelled(t *testing.T) {
	primary := okAdapter("primary", 1, 1)
	backup := okAdapter("backup", 1, 1)
	g := newTestGateway(t, twoProviderDeps(primary, backup))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := g.FetchMany(ctx, []string{"WALCL", "SPX"}, FetchOptions{})

	require.Len(t, results, 2)
	for id, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled, "id %s", id)
	}
}

func TestFetchManyEmpty(t *testing.T) {
	g := newTestGateway(t, twoProviderDeps(okAdapter("primary", 1, 1), okAdapter("backup", 1, 1)))
	assert.Empty(t, g.FetchMany(context.Background(), nil, FetchOptions{}))
}
