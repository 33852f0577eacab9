package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"autotrader/internal/logger"
	"autotrader/internal/metrics"
	"autotrader/internal/quota"
)

const (
	defaultAttemptTimeout = 10 * time.Second
	defaultBackoffBase    = time.Second
	defaultBackoffCap     = 5 * time.Second
)

// Options controls a single dispatch.
type Options struct {
	PreferredProvider string
	EnableFallback    bool
	RetryAttempts     int
}

// Result carries the typed payload together with routing facts.
type Result[T any] struct {
	Data         T
	ProviderUsed string
	FallbackUsed bool
	Attempts     int
}

// ChangeListener is notified whenever a dispatch moves away from a provider.
type ChangeListener func(from, to string, cause error)

// Dispatcher routes logical requests across providers with quota accounting,
// per-attempt timeouts, backoff and fallback.
type Dispatcher struct {
	tracker        *quota.Tracker
	attemptTimeout time.Duration
	backoffBase    time.Duration
	backoffCap     time.Duration
	sleep          func(context.Context, time.Duration) error
	log            *logger.Logger

	mu        sync.RWMutex
	listeners []ChangeListener
}

type DispatcherOption func(*Dispatcher)

func WithAttemptTimeout(d time.Duration) DispatcherOption {
	return func(x *Dispatcher) {
		if d > 0 {
			x.attemptTimeout = d
		}
	}
}

func WithBackoff(base, cap time.Duration) DispatcherOption {
	return func(x *Dispatcher) {
		if base > 0 {
			x.backoffBase = base
		}
		if cap > 0 {
			x.backoffCap = cap
		}
	}
}

// WithSleep replaces the context-aware sleep used between retries.
func WithSleep(fn func(context.Context, time.Duration) error) DispatcherOption {
	return func(x *Dispatcher) {
		if fn != nil {
			x.sleep = fn
		}
	}
}

func NewDispatcher(tracker *quota.Tracker, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		tracker:        tracker,
		attemptTimeout: defaultAttemptTimeout,
		backoffBase:    defaultBackoffBase,
		backoffCap:     defaultBackoffCap,
		sleep:          sleepCtx,
		log:            logger.With("dispatcher"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// OnProviderChange registers fn for fallback notifications.
func (d *Dispatcher) OnProviderChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

func (d *Dispatcher) Tracker() *quota.Tracker {
	return d.tracker
}

func (d *Dispatcher) notifyChange(from, to string, cause error) {
	metrics.ProviderFallback(from, to)
	d.mu.RLock()
	listeners := append([]ChangeListener(nil), d.listeners...)
	d.mu.RUnlock()
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.Warnf("provider change listener panic: %v", r)
				}
			}()
			fn(from, to, cause)
		}()
	}
}

// backoff returns base*2^(attempt-1) capped.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	wait := d.backoffBase
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= d.backoffCap {
			return d.backoffCap
		}
	}
	if wait > d.backoffCap {
		wait = d.backoffCap
	}
	return wait
}

// Do runs fn against the best available provider. Callers never add their
// own retry around it.
func Do[T any](ctx context.Context, d *Dispatcher, opts Options, fn func(ctx context.Context, provider string) (T, error)) (Result[T], error) {
	var res Result[T]
	if d == nil || d.tracker == nil {
		return res, fmt.Errorf("dispatcher not configured: %w", ErrProviderRequestFailed)
	}
	retries := opts.RetryAttempts
	if retries <= 0 {
		retries = 1
	}
	preferred := strings.TrimSpace(opts.PreferredProvider)

	current, ok := d.tracker.BestAvailable(preferred)
	if !ok {
		return res, ErrQuotaExhausted
	}
	// Without a preferred provider the first selection is the baseline.
	switched := preferred != "" && current != preferred
	tried := map[string]bool{}
	order := []string{}
	attempt := 0
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !tried[current] {
			tried[current] = true
			order = append(order, current)
		}
		if !d.tracker.Record(current) {
			// Lost the last slot to a concurrent caller.
			next, ok := d.tracker.BestAvailableExcept(preferred, tried)
			if !ok {
				if lastErr == nil {
					return res, ErrQuotaExhausted
				}
				return res, &AllProvidersFailedError{Tried: order, LastError: lastErr}
			}
			d.notifyChange(current, next, ErrQuotaExhausted)
			current, attempt, switched = next, 0, true
			continue
		}
		attempt++
		res.Attempts++
		data, err := invokeSafe(ctx, d.attemptTimeout, current, fn)
		if err == nil {
			metrics.ProviderAttempt(current, "success")
			res.Data = data
			res.ProviderUsed = current
			res.FallbackUsed = switched
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		quotaErr := isQuotaError(err)
		if quotaErr {
			metrics.ProviderAttempt(current, "quota")
			d.tracker.MarkExhausted(current)
		} else {
			metrics.ProviderAttempt(current, "error")
		}
		d.log.Warnf("provider %s attempt %d/%d failed: %v", current, attempt, retries, err)

		if quotaErr || opts.EnableFallback {
			if next, ok := d.tracker.BestAvailableExcept(preferred, tried); ok {
				d.notifyChange(current, next, err)
				current, attempt, switched = next, 0, true
				continue
			}
		}
		if quotaErr || attempt >= retries {
			return res, &AllProvidersFailedError{Tried: order, LastError: lastErr}
		}
		if err := d.sleep(ctx, d.backoff(attempt)); err != nil {
			return res, err
		}
	}
}

// invokeSafe runs one attempt under its own timeout and turns a panic into
// an attempt failure.
func invokeSafe[T any](parent context.Context, timeout time.Duration, name string, fn func(context.Context, string) (T, error)) (out T, err error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider %s panic: %v: %w", name, r, ErrProviderRequestFailed)
		}
	}()
	out, err = fn(ctx, name)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		err = fmt.Errorf("provider %s timed out after %s: %w", name, timeout, ErrProviderRequestFailed)
	}
	return out, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
