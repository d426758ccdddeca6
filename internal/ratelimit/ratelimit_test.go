package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNoopLimiterAllowsEverything(t *testing.T) {
	l := NewNoopLimiter()
	for i := 0; i < 1000; i++ {
		require.True(t, l.Allow("anyone"))
	}
}

func TestMemoryLimiterEnforcesPerKeyLimit(t *testing.T) {
	l := NewMemoryLimiter(3)
	defer l.Close()

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("1.2.3.4"), "request %d within limit", i+1)
	}
	require.False(t, l.Allow("1.2.3.4"), "fourth request must be rejected")

	// A different caller has its own budget.
	require.True(t, l.Allow("5.6.7.8"))
}

func TestMemoryLimiterZeroLimitDisables(t *testing.T) {
	l := NewMemoryLimiter(0)
	defer l.Close()
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("1.2.3.4"))
	}
}

func TestMemoryLimiterConcurrentCallers(t *testing.T) {
	// Keep the whole burst inside one window.
	if s := time.Now().Second(); s > 57 {
		time.Sleep(time.Duration(61-s) * time.Second)
	}

	const limit = 50
	l := NewMemoryLimiter(limit)
	defer l.Close()

	var wg sync.WaitGroup
	var allowed int64
	var mu sync.Mutex
	for i := 0; i < 2*limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := l.Allow("shared")
			mu.Lock()
			if ok {
				allowed++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, int64(limit), allowed)
}
