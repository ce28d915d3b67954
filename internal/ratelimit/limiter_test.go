package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryLimiter_Window(t *testing.T) {
	t.Parallel()

	clk := &stepClock{now: time.Unix(1_700_000_000, 0)}
	l := NewMemoryLimiter(clk)
	window := time.Minute

	for i := 0; i < 10; i++ {
		d := l.Check("actor-1", 10, window)
		require.True(t, d.Allowed, "call %d should be allowed", i+1)
		require.Equal(t, 9-i, d.Remaining)
	}

	eleventh := l.Check("actor-1", 10, window)
	require.False(t, eleventh.Allowed)
	require.Equal(t, 0, eleventh.Remaining)

	clk.Advance(window + time.Second)
	next := l.Check("actor-1", 10, window)
	require.True(t, next.Allowed)
	require.Equal(t, 9, next.Remaining)
}

func TestMemoryLimiter_ActorsIsolated(t *testing.T) {
	t.Parallel()

	clk := &stepClock{now: time.Unix(1_700_000_000, 0)}
	l := NewMemoryLimiter(clk)

	require.True(t, l.Check("a", 1, time.Minute).Allowed)
	require.False(t, l.Check("a", 1, time.Minute).Allowed)
	require.True(t, l.Check("b", 1, time.Minute).Allowed)
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	t.Parallel()

	clk := &stepClock{now: time.Unix(1_700_000_000, 0)}
	l := NewMemoryLimiter(clk)

	const calls = 100
	const limit = 40
	allowed := make(chan bool, calls)
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Check("shared", limit, time.Minute).Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}
	require.Equal(t, limit, count, "count must never exceed limit within the window")
}

func TestMemoryLimiter_Prune(t *testing.T) {
	t.Parallel()

	clk := &stepClock{now: time.Unix(1_700_000_000, 0)}
	l := NewMemoryLimiter(clk)
	l.Check("old", 5, time.Minute)

	clk.Advance(2 * time.Minute)
	l.Prune()

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Empty(t, l.windows)
}
