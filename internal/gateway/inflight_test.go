package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/macrorun/internal/indicator"
)

func TestInflightCollapsesConcurrentFetches(t *testing.T) {
	g := newInflightGroup()

	var calls int64
	release := make(chan struct{})
	fn := func() (indicator.Value, error) {
		atomic.AddInt64(&calls, 1)
		<-release
		return indicator.Value{Symbol: "BTC", Current: 64000}, nil
	}

	const waiters = 8
	var wg sync.WaitGroup
	sharedCount := int64(0)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, shared, err := g.do(context.Background(), "quote:BTC", fn)
			require.NoError(t, err)
			assert.Equal(t, 64000.0, v.Current)
			if shared {
				atomic.AddInt64(&sharedCount, 1)
			}
		}()
	}

	// Give all goroutines a chance to join the call before releasing.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "only one upstream fetch per key")
	assert.Equal(t, int64(waiters-1), sharedCount, "all but the leader share the result")
}

func TestInflightPropagatesErrors(t *testing.T) {
	g := newInflightGroup()
	sentinel := errors.New("provider down")

	_, shared, err := g.do(context.Background(), "k", func() (indicator.Value, error) {
		return indicator.Value{}, sentinel
	})
	assert.False(t, shared)
	assert.ErrorIs(t, err, sentinel)
}

func TestInflightDistinctKeysRunIndependently(t *testing.T) {
	g := newInflightGroup()

	var calls int64
	fn := func() (indicator.Value, error) {
		atomic.AddInt64(&calls, 1)
		return indicator.Value{}, nil
	}

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			_, _, err := g.do(context.Background(), k, fn)
			require.NoError(t, err)
		}(key)
	}
	wg.Wait()

	assert.Equal(t, int64(3), atomic.LoadInt64(&calls))
}

func TestInflightSequentialCallsFetchAgain(t *testing.T) {
	g := newInflightGroup()

	var calls int64
	fn := func() (indicator.Value, error) {
		atomic.AddInt64(&calls, 1)
		return indicator.Value{}, nil
	}

	_, _, _ = g.do(context.Background(), "k", fn)
	_, _, _ = g.do(context.Background(), "k", fn)

	assert.Equal(t, int64(2), atomic.LoadInt64(&calls), "dedup applies to concurrent calls only")
}

func TestInflightFollowerHonorsOwnContext(t *testing.T) {
	g := newInflightGroup()

	release := make(chan struct{})
	leaderStarted := make(chan struct{})
	go func() {
		_, _, _ = g.do(context.Background(), "k", func() (indicator.Value, error) {
			close(leaderStarted)
			<-release
			return indicator.Value{}, nil
		})
	}()

	<-leaderStarted
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, shared, err := g.do(ctx, "k", func() (indicator.Value, error) {
		t.Fatal("follower must not fetch")
		return indicator.Value{}, nil
	})
	assert.True(t, shared)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}
