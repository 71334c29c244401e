package gateway

import (
	"context"
	"sync"

	"github.com/sawpanic/macrorun/internal/indicator"
)

// inflightCall is one in-progress fetch shared by every waiter.
type inflightCall struct {
	done chan struct{}
	val  indicator.Value
	err  error
}

// inflightGroup collapses concurrent fetches of the same key into one
// upstream call. Followers block on the leader's result but keep their
// own context, so a slow leader cannot hold a caller past its deadline.
// Values are immutable once published, which makes sharing them safe.
type inflightGroup struct {
	mu    sync.Mutex
	calls map[string]*inflightCall
}

func newInflightGroup() *inflightGroup {
	return &inflightGroup{calls: make(map[string]*inflightCall)}
}

// do runs fn at most once per key at a time. The boolean reports
// whether the result was shared from another caller's fetch.
func (g *inflightGroup) do(ctx context.Context, key string, fn func() (indicator.Value, error)) (indicator.Value, bool, error) {
	g.mu.Lock()
	if call, ok := g.calls[key]; ok {
		g.mu.Unlock()
		select {
		case <-call.done:
			return call.val, true, call.err
		case <-ctx.Done():
			return indicator.Value{}, true, ctx.Err()
		}
	}

	call := &inflightCall{done: make(chan struct{})}
	g.calls[key] = call
	g.mu.Unlock()

	call.val, call.err = fn()

	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()
	close(call.done)

	return call.val, false, call.err
}
