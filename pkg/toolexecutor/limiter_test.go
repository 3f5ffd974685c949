package toolexecutor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterRejectPolicy(t *testing.T) {
	l := NewLimiter(LimiterConfig{MaxConcurrent: 2, Overflow: OverflowReject})

	r1, err := l.Acquire(context.Background(), "tool")
	require.NoError(t, err)
	r2, err := l.Acquire(context.Background(), "tool")
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), "tool")
	assert.ErrorIs(t, err, ErrOverloaded)

	r1()
	r1()
	stats := l.LaneStats("tool")
	assert.Equal(t, 1, stats.Running)

	r3, err := l.Acquire(context.Background(), "tool")
	require.NoError(t, err)
	r2()
	r3()
	assert.Equal(t, LaneStats{Tool: "tool", Limit: 2}, l.LaneStats("tool"))
}

func TestLimiterQueueIsFIFO(t *testing.T) {
	l := NewLimiter(LimiterConfig{MaxConcurrent: 1, QueueDepth: 2, Overflow: OverflowQueue})

	first, err := l.Acquire(context.Background(), "tool")
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 1; i <= 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "tool")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			release()
		}(i)
		require.Eventually(t, func() bool { return l.LaneStats("tool").Queued == i }, time.Second, time.Millisecond)
	}

	_, err = l.Acquire(context.Background(), "tool")
	assert.ErrorIs(t, err, ErrOverloaded, "queue depth exhausted")

	first()
	wg.Wait()
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, 0, l.LaneStats("tool").Running)
}

func TestLimiterQueuedCallHonorsContext(t *testing.T) {
	l := NewLimiter(LimiterConfig{MaxConcurrent: 1, QueueDepth: 1})

	held, err := l.Acquire(context.Background(), "tool")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "tool")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, l.LaneStats("tool").Queued)

	held()
	assert.Equal(t, 0, l.LaneStats("tool").Running)
}

func TestLimiterPerToolOverridesAndUnlimited(t *testing.T) {
	l := NewLimiter(LimiterConfig{MaxConcurrent: 0, Overflow: OverflowReject, PerTool: map[string]int{"slow": 1}})

	var releases []func()
	for i := 0; i < 10; i++ {
		r, err := l.Acquire(context.Background(), "fast")
		require.NoError(t, err)
		releases = append(releases, r)
	}
	assert.Equal(t, 10, l.LaneStats("fast").Running)

	r, err := l.Acquire(context.Background(), "slow")
	require.NoError(t, err)
	_, err = l.Acquire(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrOverloaded)
	r()

	for _, release := range releases {
		release()
	}
	stats := l.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "fast", stats[0].Tool)
	assert.Equal(t, 1, stats[1].Limit)
}
