package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRunsJobPeriodically(t *testing.T) {
	s := New()
	defer s.Stop()

	var ticks atomic.Int64
	ok := s.Add(context.Background(), "ticker", 10*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	})
	require.True(t, ok)
	assert.True(t, s.Has("ticker"))

	assert.Eventually(t, func() bool {
		return ticks.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestAddIsIdempotentPerID(t *testing.T) {
	s := New()
	defer s.Stop()

	noop := func(ctx context.Context) error { return nil }

	require.True(t, s.Add(context.Background(), "job", time.Hour, noop))
	assert.False(t, s.Add(context.Background(), "job", time.Hour, noop))
}

func TestRemoveStopsJob(t *testing.T) {
	s := New()
	defer s.Stop()

	var ticks atomic.Int64
	require.True(t, s.Add(context.Background(), "job", 10*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	}))

	assert.Eventually(t, func() bool {
		return ticks.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	s.Remove("job")
	assert.False(t, s.Has("job"))

	// No further ticks after removal.
	after := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, ticks.Load())
}

func TestRemoveUnknownIDIsNoOp(t *testing.T) {
	s := New()
	defer s.Stop()

	s.Remove("missing")
	assert.False(t, s.Has("missing"))
}

func TestJobErrorDoesNotStopJob(t *testing.T) {
	s := New()
	defer s.Stop()

	var ticks atomic.Int64
	require.True(t, s.Add(context.Background(), "flaky", 10*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return assert.AnError
	}))

	assert.Eventually(t, func() bool {
		return ticks.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestContextCancelStopsJob(t *testing.T) {
	s := New()
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())

	var ticks atomic.Int64
	require.True(t, s.Add(ctx, "job", 10*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	}))

	assert.Eventually(t, func() bool {
		return ticks.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(30 * time.Millisecond)

	after := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, ticks.Load())
}

func TestStopRemovesAllJobs(t *testing.T) {
	s := New()

	noop := func(ctx context.Context) error { return nil }
	require.True(t, s.Add(context.Background(), "a", time.Hour, noop))
	require.True(t, s.Add(context.Background(), "b", time.Hour, noop))

	s.Stop()
	assert.False(t, s.Has("a"))
	assert.False(t, s.Has("b"))
}
