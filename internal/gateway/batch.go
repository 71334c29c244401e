package gateway

import (
	"context"
	"sync"

	"github.com/samber/lo"

	"github.com/sawpanic/macrorun/internal/indicator"
)

// Result is one entry of a batch fetch. Exactly one of Value and Err
// is meaningful.
type Result struct {
	Value indicator.Value
	Err   error
}

// FetchMany fetches a set of indicators, grouping them by the first
// provider in their chain so each provider sees a bounded, paced
// stream of requests instead of a thundering herd. Failures are
// per-indicator; one bad symbol never sinks the batch.
func (g *Gateway) FetchMany(ctx context.Context, ids []string, opts FetchOptions) map[string]Result {
	results := make(map[string]Result, len(ids))
	if len(ids) == 0 {
		return results
	}

	var mu sync.Mutex
	put := func(id string, r Result) {
		mu.Lock()
		results[id] = r
		mu.Unlock()
	}

	groups := make(map[string][]string)
	for _, id := range lo.Uniq(ids) {
		desc, err := g.registry.Get(id)
		if err != nil {
			put(id, Result{Err: err})
			continue
		}
		if desc.IsCalculated() {
			put(id, Result{Err: ErrNotFetchable})
			continue
		}
		head := "none"
		if chain := g.chainFor(desc, opts); len(chain) > 0 {
			head = chain[0]
		}
		groups[head] = append(groups[head], id)
	}

	var wg sync.WaitGroup
	for head, group := range groups {
		wg.Add(1)
		go func(head string, group []string) {
			defer wg.Done()
			g.fetchGroup(ctx, head, group, opts, put)
		}(head, group)
	}
	wg.Wait()

	// Anything the cancellation cut off still gets an answer.
	mu.Lock()
	defer mu.Unlock()
	for _, id := range ids {
		if _, ok := results[id]; !ok {
			results[id] = Result{Err: ctx.Err()}
		}
	}
	return results
}

// fetchGroup walks one provider's share of the batch in chunks sized
// to a quarter of the provider's window, pausing between chunks.
func (g *Gateway) fetchGroup(ctx context.Context, head string, ids []string, opts FetchOptions, put func(string, Result)) {
	chunkSize := g.batchConcurrency(head)

	for start := 0; start < len(ids); start += chunkSize {
		if ctx.Err() != nil {
			return
		}
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}

		var wg sync.WaitGroup
		for _, id := range ids[start:end] {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				v, err := g.Fetch(ctx, id, opts)
				put(id, Result{Value: v, Err: err})
			}(id)
		}
		wg.Wait()

		if end < len(ids) {
			if err := SleepWithContext(ctx, g.config.ChunkDelay); err != nil {
				return
			}
		}
	}
}

// batchConcurrency caps a chunk at a quarter of the provider's window
// limit so batches leave headroom for interactive fetches.
func (g *Gateway) batchConcurrency(providerID string) int {
	limit := g.limiters.ConfigFor(providerID).Limit
	n := limit / 4
	if n < 1 {
		n = 1
	}
	if n > g.config.MaxChunkSize {
		n = g.config.MaxChunkSize
	}
	return n
}
