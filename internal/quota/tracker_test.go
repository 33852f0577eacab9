package quota

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker(clock *fakeClock) *Tracker {
	return NewTracker(
		[]string{"alpha", "beta", "gamma"},
		map[string]int{"alpha": 2, "beta": 3, "gamma": 3},
		WithClock(clock.Now),
	)
}

func TestRecordStopsAtLimit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	tr := newTestTracker(clock)

	assert.True(t, tr.Record("alpha"))
	assert.True(t, tr.Record("alpha"))
	assert.False(t, tr.Record("alpha"))
	assert.False(t, tr.CanUse("alpha"))

	info := tr.UsageInfo("alpha")
	assert.Equal(t, 2, info.Usage)
	assert.Equal(t, 0, info.Remaining)
	assert.Equal(t, 100.0, info.Percentage)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), info.ResetTime)
}

func TestUnknownProviderIsUnusable(t *testing.T) {
	tr := newTestTracker(&fakeClock{now: time.Now()})
	assert.False(t, tr.CanUse("delta"))
	assert.False(t, tr.Record("delta"))
}

func TestWindowResetsOncePerBoundary(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)}
	tr := newTestTracker(clock)
	require.True(t, tr.Record("alpha"))
	require.True(t, tr.Record("alpha"))

	clock.Advance(2 * time.Hour)
	info := tr.UsageInfo("alpha")
	assert.Equal(t, 0, info.Usage)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), info.ResetTime)

	require.True(t, tr.Record("alpha"))
	clock.Advance(time.Hour)
	assert.Equal(t, 1, tr.UsageInfo("alpha").Usage, "no second reset inside the same window")

	clock.Advance(72 * time.Hour)
	info = tr.UsageInfo("alpha")
	assert.Equal(t, 0, info.Usage)
	assert.True(t, info.ResetTime.After(clock.Now()))
}

func TestUsageMonotonicWithinWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)}
	tr := newTestTracker(clock)
	last := 0
	for i := 0; i < 10; i++ {
		tr.Record("beta")
		clock.Advance(time.Minute)
		u := tr.UsageInfo("beta")
		assert.GreaterOrEqual(t, u.Usage, last)
		assert.LessOrEqual(t, u.Usage, u.Limit)
		last = u.Usage
	}
}

func TestBestAvailable(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)}
	tr := newTestTracker(clock)

	p, ok := tr.BestAvailable("alpha")
	assert.True(t, ok)
	assert.Equal(t, "alpha", p)

	tr.MarkExhausted("alpha")
	require.True(t, tr.Record("beta"))
	p, ok = tr.BestAvailable("alpha")
	assert.True(t, ok)
	assert.Equal(t, "gamma", p, "least used alternative wins")

	tr.MarkExhausted("beta")
	tr.MarkExhausted("gamma")
	_, ok = tr.BestAvailable("alpha")
	assert.False(t, ok)
}

func TestRecordIsRaceSafe(t *testing.T) {
	tr := NewTracker([]string{"alpha"}, map[string]int{"alpha": 25})
	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Record("alpha") {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(25), granted.Load())
	assert.Equal(t, 25, tr.UsageInfo("alpha").Usage)
}

func TestSnapshotRestore(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)}
	tr := newTestTracker(clock)
	tr.Record("beta")
	tr.Record("beta")
	snap := tr.Snapshot()

	restored := NewTracker([]string{"alpha", "beta"}, map[string]int{"alpha": 2, "beta": 1}, WithClock(clock.Now))
	restored.Restore(snap)
	assert.Equal(t, 1, restored.UsageInfo("beta").Usage, "clamped to the configured limit")

	clock.Advance(48 * time.Hour)
	stale := newTestTracker(clock)
	stale.Restore(snap)
	assert.Equal(t, 0, stale.UsageInfo("beta").Usage)
}

func TestChangeHookFires(t *testing.T) {
	var seen []Info
	tr := NewTracker([]string{"alpha"}, map[string]int{"alpha": 1}, WithChangeHook(func(i Info) {
		seen = append(seen, i)
	}))
	tr.Record("alpha")
	tr.Record("alpha")
	require.Len(t, seen, 1)
	assert.Equal(t, 1, seen[0].Usage)
}
