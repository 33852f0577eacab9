package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTimesAlignsToInterval(t *testing.T) {
	s := NewAlignedScheduler(15*time.Minute, 0)
	now := time.Date(2026, 3, 2, 10, 7, 30, 0, time.UTC)
	at, wait := s.nextTimes(now)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC), at)
	assert.Equal(t, 7*time.Minute+30*time.Second, wait)

	onBoundary := time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)
	at, _ = s.nextTimes(onBoundary)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC), at)

	s.Offset = 10 * time.Second
	at, _ = s.nextTimes(now)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 15, 10, 0, time.UTC), at)
}

func TestRunEmitsImmediateTickAndStops(t *testing.T) {
	s := NewAlignedScheduler(time.Hour, 0)
	s.RunImmediately = true
	ticks := make(chan Tick, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, ticks)
		close(done)
	}()

	select {
	case tk := <-ticks:
		assert.True(t, tk.Immediate)
	case <-time.After(time.Second):
		t.Fatal("no immediate tick")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunDropsTicksWhileBusy(t *testing.T) {
	s := NewAlignedScheduler(20*time.Millisecond, 0)
	ticks := make(chan Tick)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	// Nobody reads ticks: every emit must fall through instead of blocking.
	done := make(chan struct{})
	go func() {
		s.Run(ctx, ticks)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "scheduler blocked on a busy consumer")
	}
}
