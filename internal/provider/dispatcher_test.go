package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"autotrader/internal/quota"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestDispatcher(limits map[string]int, rec *sleepRecorder, opts ...DispatcherOption) *Dispatcher {
	tr := quota.NewTracker([]string{"alpha", "beta", "gamma"}, limits)
	opts = append(opts, WithSleep(rec.sleep))
	return NewDispatcher(tr, opts...)
}

func TestDoFallsBackWhenPreferredExhausted(t *testing.T) {
	rec := &sleepRecorder{}
	d := newTestDispatcher(map[string]int{"alpha": 5, "beta": 5, "gamma": 5}, rec)
	d.Tracker().MarkExhausted("alpha")

	var called []string
	res, err := Do(context.Background(), d, Options{PreferredProvider: "alpha", EnableFallback: true, RetryAttempts: 3},
		func(_ context.Context, name string) (string, error) {
			called = append(called, name)
			return "ok:" + name, nil
		})
	require.NoError(t, err)
	assert.NotEqual(t, "alpha", res.ProviderUsed)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, "ok:"+res.ProviderUsed, res.Data)
	assert.Equal(t, []string{res.ProviderUsed}, called)
	assert.Equal(t, 1, d.Tracker().UsageInfo(res.ProviderUsed).Usage)
}

func TestDoFailsFastWithoutQuota(t *testing.T) {
	rec := &sleepRecorder{}
	d := newTestDispatcher(map[string]int{"alpha": 1, "beta": 1, "gamma": 1}, rec)
	for _, p := range []string{"alpha", "beta", "gamma"} {
		d.Tracker().MarkExhausted(p)
	}
	calls := 0
	_, err := Do(context.Background(), d, Options{PreferredProvider: "alpha", EnableFallback: true, RetryAttempts: 3},
		func(context.Context, string) (int, error) {
			calls++
			return 0, nil
		})
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.Zero(t, calls)
	assert.Empty(t, rec.waits)
}

func TestDoRetriesWithBackoffWhenFallbackDisabled(t *testing.T) {
	rec := &sleepRecorder{}
	d := newTestDispatcher(map[string]int{"alpha": 10, "beta": 10, "gamma": 10}, rec)
	calls := 0
	res, err := Do(context.Background(), d, Options{PreferredProvider: "alpha", RetryAttempts: 3},
		func(_ context.Context, name string) (string, error) {
			calls++
			if calls < 3 {
				return "", fmt.Errorf("boom: %w", ErrProviderRequestFailed)
			}
			return name, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "alpha", res.ProviderUsed)
	assert.False(t, res.FallbackUsed)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.waits)
	assert.Equal(t, 3, d.Tracker().UsageInfo("alpha").Usage)
}

func TestBackoffIsCapped(t *testing.T) {
	d := NewDispatcher(quota.NewTracker(nil, nil))
	assert.Equal(t, time.Second, d.backoff(1))
	assert.Equal(t, 2*time.Second, d.backoff(2))
	assert.Equal(t, 4*time.Second, d.backoff(3))
	assert.Equal(t, 5*time.Second, d.backoff(4))
	assert.Equal(t, 5*time.Second, d.backoff(10))
}

func TestDoSwitchesProviderOnFailureAndNotifies(t *testing.T) {
	rec := &sleepRecorder{}
	d := newTestDispatcher(map[string]int{"alpha": 10, "beta": 10, "gamma": 10}, rec)
	var changes []string
	d.OnProviderChange(func(from, to string, _ error) {
		changes = append(changes, from+"->"+to)
	})
	res, err := Do(context.Background(), d, Options{PreferredProvider: "alpha", EnableFallback: true, RetryAttempts: 3},
		func(_ context.Context, name string) (string, error) {
			if name == "alpha" {
				return "", errors.New("upstream 500")
			}
			return name, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "beta", res.ProviderUsed)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, []string{"alpha->beta"}, changes)
	assert.Empty(t, rec.waits)
	assert.Equal(t, 1, d.Tracker().UsageInfo("alpha").Usage)
}

func TestDoUpstreamQuotaSwitchesEvenWithoutFallback(t *testing.T) {
	rec := &sleepRecorder{}
	d := newTestDispatcher(map[string]int{"alpha": 10, "beta": 10, "gamma": 10}, rec)
	res, err := Do(context.Background(), d, Options{PreferredProvider: "alpha", RetryAttempts: 2},
		func(_ context.Context, name string) (string, error) {
			if name == "alpha" {
				return "", fmt.Errorf("429: %w", ErrProviderQuota)
			}
			return name, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "beta", res.ProviderUsed)
	assert.False(t, d.Tracker().CanUse("alpha"))
}

func TestDoAllProvidersFailed(t *testing.T) {
	rec := &sleepRecorder{}
	d := newTestDispatcher(map[string]int{"alpha": 10, "beta": 10, "gamma": 10}, rec)
	last := errors.New("still broken")
	calls := map[string]int{}
	_, err := Do(context.Background(), d, Options{PreferredProvider: "alpha", EnableFallback: true, RetryAttempts: 2},
		func(_ context.Context, name string) (int, error) {
			calls[name]++
			return 0, last
		})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderRequestFailed)
	assert.ErrorIs(t, err, last)
	var all *AllProvidersFailedError
	require.ErrorAs(t, err, &all)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, all.Tried)
	// Fallback moves on after one failure per provider; the last one retries.
	assert.Equal(t, map[string]int{"alpha": 1, "beta": 1, "gamma": 2}, calls)
	assert.Len(t, rec.waits, 1)
}

func TestDoAttemptTimeout(t *testing.T) {
	rec := &sleepRecorder{}
	d := newTestDispatcher(map[string]int{"alpha": 10}, rec, WithAttemptTimeout(20*time.Millisecond))
	_, err := Do(context.Background(), d, Options{PreferredProvider: "alpha", RetryAttempts: 1},
		func(ctx context.Context, _ string) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})
	assert.ErrorIs(t, err, ErrProviderRequestFailed)
}

func TestDoRecoversPanics(t *testing.T) {
	rec := &sleepRecorder{}
	d := newTestDispatcher(map[string]int{"alpha": 10}, rec)
	_, err := Do(context.Background(), d, Options{PreferredProvider: "alpha", RetryAttempts: 1},
		func(context.Context, string) (int, error) {
			panic("bad payload")
		})
	assert.ErrorIs(t, err, ErrProviderRequestFailed)
}

func TestDoWithoutPreferredProvider(t *testing.T) {
	rec := &sleepRecorder{}
	d := newTestDispatcher(map[string]int{"alpha": 5, "beta": 5, "gamma": 5}, rec)
	res, err := Do(context.Background(), d, Options{RetryAttempts: 1},
		func(_ context.Context, name string) (string, error) { return name, nil })
	require.NoError(t, err)
	assert.NotEmpty(t, res.ProviderUsed)
	assert.False(t, res.FallbackUsed)

	var first string
	res, err = Do(context.Background(), d, Options{EnableFallback: true, RetryAttempts: 1},
		func(_ context.Context, name string) (string, error) {
			if first == "" {
				first = name
				return "", fmt.Errorf("down: %w", ErrProviderRequestFailed)
			}
			return name, nil
		})
	require.NoError(t, err)
	assert.NotEqual(t, first, res.ProviderUsed)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, 2, res.Attempts)
}
