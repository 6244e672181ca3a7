package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIncr_CountsPerKey(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return now }))
	ctx := context.Background()
	exp := now.Add(time.Minute)

	for i := int64(1); i <= 3; i++ {
		n, err := s.Incr(ctx, "a", exp)
		require.NoError(t, err)
		require.Equal(t, i, n)
	}

	n, err := s.Incr(ctx, "b", exp)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Equal(t, 2, s.Len())
}

func TestIncr_ExpiredEntryRestarts(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, _ = s.Incr(ctx, "a", now.Add(time.Second))
	_, _ = s.Incr(ctx, "a", now.Add(time.Second))

	now = now.Add(2 * time.Second)
	n, err := s.Incr(ctx, "a", now.Add(time.Second))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestIncr_BoundedEvictsOldest(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var evicted atomic.Int64
	s := New(
		WithMaxEntries(3),
		WithClock(func() time.Time { return now }),
		WithEvictHook(func() { evicted.Add(1) }),
	)
	ctx := context.Background()
	exp := now.Add(time.Minute)

	for i := 0; i < 10; i++ {
		_, err := s.Incr(ctx, fmt.Sprintf("k%d", i), exp)
		require.NoError(t, err)
		require.LessOrEqual(t, s.Len(), 3)
	}
	require.EqualValues(t, 7, evicted.Load())

	// k9 ещё в таблице, k0 вытеснен и начинается заново.
	n, _ := s.Incr(ctx, "k9", exp)
	require.EqualValues(t, 2, n)
	n, _ = s.Incr(ctx, "k0", exp)
	require.EqualValues(t, 1, n)
}

func TestSweep_RemovesExpiredOnly(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, _ = s.Incr(ctx, "old", now.Add(time.Second))
	_, _ = s.Incr(ctx, "fresh", now.Add(time.Hour))

	now = now.Add(time.Minute)
	require.Equal(t, 1, s.Sweep())
	require.Equal(t, 1, s.Len())
	require.Zero(t, s.Sweep())
}

func TestIncr_ConcurrentNoLostUpdates(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	const (
		workers = 50
		perG    = 200
	)

	var wg sync.WaitGroup
	for g := 0; g < workers; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				_, _ = s.Incr(ctx, "shared", exp)
			}
		}()
	}
	wg.Wait()

	n, err := s.Incr(ctx, "shared", exp)
	require.NoError(t, err)
	require.EqualValues(t, workers*perG+1, n)
}

func TestStartJanitor_Sweeps(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	s := New(WithClock(clock))
	_, _ = s.Incr(context.Background(), "a", now.Add(time.Second))

	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartJanitor(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}
