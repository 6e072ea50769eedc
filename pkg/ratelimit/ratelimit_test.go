package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFixedWindowAdmitsMaxThenDenies(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewFixedWindow(10, time.Minute)

	for i := 0; i < 10; i++ {
		d := l.CheckAt("client", start.Add(time.Duration(i)*time.Second))
		require.True(t, d.Allowed, "request %d should be admitted", i+1)
		require.Equal(t, 10-(i+1), d.Remaining)
	}

	d := l.CheckAt("client", start.Add(20*time.Second))
	require.False(t, d.Allowed)
	require.Equal(t, 40*time.Second, d.RetryAfter)
	require.Equal(t, start.Add(time.Minute), d.ResetAt)
	require.Equal(t, 0, d.Remaining)
}

func TestFixedWindowResetsAfterWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewFixedWindow(2, time.Minute)

	require.True(t, l.CheckAt("c", start).Allowed)
	require.True(t, l.CheckAt("c", start).Allowed)
	require.False(t, l.CheckAt("c", start.Add(time.Minute)).Allowed, "reset happens only after resetAt")

	d := l.CheckAt("c", start.Add(time.Minute+time.Nanosecond))
	require.True(t, d.Allowed)
	require.Equal(t, 1, d.Remaining)
	require.Equal(t, start.Add(2*time.Minute+time.Nanosecond), d.ResetAt)
}

func TestFixedWindowKeysAreIndependent(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewFixedWindow(1, time.Minute)

	require.True(t, l.CheckAt("a", now).Allowed)
	require.False(t, l.CheckAt("a", now).Allowed)
	require.True(t, l.CheckAt("b", now).Allowed)
	require.Equal(t, 2, l.Len())
}

func TestFixedWindowDeniedRequestsDoNotExtendWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewFixedWindow(1, time.Minute)

	require.True(t, l.CheckAt("c", start).Allowed)
	for i := 1; i <= 5; i++ {
		d := l.CheckAt("c", start.Add(time.Duration(i)*time.Second))
		require.False(t, d.Allowed)
		require.Equal(t, start.Add(time.Minute), d.ResetAt)
	}
}

func TestFixedWindowUsesClock(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewFixedWindow(1, time.Minute)
	l.Clock = func() time.Time { return now }

	require.True(t, l.Check("c").Allowed)
	require.False(t, l.Check("c").Allowed)
	now = now.Add(2 * time.Minute)
	require.True(t, l.Check("c").Allowed)
}

func TestFixedWindowNeverExceedsMaxUnderConcurrency(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewFixedWindow(10, time.Minute)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.CheckAt("shared", now).Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 10, admitted.Load())
}

func TestFixedWindowPrune(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewFixedWindow(5, time.Minute)

	l.CheckAt("old", start)
	l.CheckAt("new", start.Add(30*time.Second))

	require.Equal(t, 0, l.Prune(start.Add(time.Minute)))
	require.Equal(t, 1, l.Prune(start.Add(time.Minute+time.Second)))
	require.Equal(t, 1, l.Len())
}

func TestFixedWindowRunStopsOnCancel(t *testing.T) {
	l := NewFixedWindow(1, time.Millisecond)
	l.CheckAt("c", time.Now().Add(-time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewFixedWindowDefaults(t *testing.T) {
	l := NewFixedWindow(0, 0)
	require.Equal(t, DefaultMaxRequests, l.Max)
	require.Equal(t, DefaultWindow, l.Window)
}
