package quota

import (
	"sync"
	"time"
)

const window = 24 * time.Hour

// Info is the read-only usage view exposed to status queries.
type Info struct {
	Provider   string    `json:"provider"`
	Usage      int       `json:"usage"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	Percentage float64   `json:"percentage"`
	ResetTime  time.Time `json:"reset_time"`
}

// Usage is the persisted counter for one provider within its window.
type Usage struct {
	Provider    string    `json:"provider"`
	WindowStart time.Time `json:"window_start"`
	UsageCount  int       `json:"usage_count"`
	Limit       int       `json:"limit"`
}

// Tracker counts provider requests in a daily window. Every read that may
// cross the window boundary and every increment happens under mu, so two
// callers can never both observe the last free slot.
type Tracker struct {
	mu        sync.Mutex
	order     []string
	usage     map[string]*Usage
	resetTime time.Time
	resetHour int
	nowFn     func() time.Time
	onChange  func(Info)
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.nowFn = now
		}
	}
}

// WithResetHour aligns the daily boundary to hour:00 UTC.
func WithResetHour(hour int) Option {
	return func(t *Tracker) {
		t.resetHour = hour
	}
}

// WithChangeHook is invoked (outside the lock) after every mutation.
func WithChangeHook(fn func(Info)) Option {
	return func(t *Tracker) { t.onChange = fn }
}

// NewTracker registers providers with their daily limits. The order of
// limits keys is not stable, so callers pass the provider order explicitly.
func NewTracker(order []string, limits map[string]int, opts ...Option) *Tracker {
	t := &Tracker{
		usage: make(map[string]*Usage, len(order)),
		nowFn: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	t.resetTime = nextBoundary(t.nowFn(), t.resetHour)
	start := t.resetTime.Add(-window)
	for _, name := range order {
		if _, dup := t.usage[name]; dup || name == "" {
			continue
		}
		t.order = append(t.order, name)
		t.usage[name] = &Usage{Provider: name, WindowStart: start, Limit: limits[name]}
	}
	return t
}

func nextBoundary(now time.Time, hour int) time.Time {
	now = now.UTC()
	b := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !b.After(now) {
		b = b.Add(window)
	}
	return b
}

// rollLocked resets every counter once when the boundary has passed and
// advances the boundary past now.
func (t *Tracker) rollLocked() {
	now := t.nowFn()
	if now.Before(t.resetTime) {
		return
	}
	for !t.resetTime.After(now) {
		t.resetTime = t.resetTime.Add(window)
	}
	start := t.resetTime.Add(-window)
	for _, u := range t.usage {
		u.UsageCount = 0
		u.WindowStart = start
	}
}

func (t *Tracker) usableLocked(provider string) bool {
	u, ok := t.usage[provider]
	return ok && u.UsageCount < u.Limit
}

// Providers lists registered providers in registration order.
func (t *Tracker) Providers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.order...)
}

func (t *Tracker) CanUse(provider string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()
	return t.usableLocked(provider)
}

// Record consumes one request of provider's allowance. It returns false and
// changes nothing when the allowance is already spent.
func (t *Tracker) Record(provider string) bool {
	t.mu.Lock()
	t.rollLocked()
	if !t.usableLocked(provider) {
		t.mu.Unlock()
		return false
	}
	t.usage[provider].UsageCount++
	info := t.infoLocked(provider)
	t.mu.Unlock()
	t.notify(info)
	return true
}

// MarkExhausted spends the remaining allowance after the upstream reported
// its own quota as exhausted.
func (t *Tracker) MarkExhausted(provider string) {
	t.mu.Lock()
	t.rollLocked()
	u, ok := t.usage[provider]
	if !ok {
		t.mu.Unlock()
		return
	}
	u.UsageCount = u.Limit
	info := t.infoLocked(provider)
	t.mu.Unlock()
	t.notify(info)
}

// BestAvailable returns preferred when usable, otherwise the least-used
// usable provider. Ties keep registration order.
func (t *Tracker) BestAvailable(preferred string) (string, bool) {
	return t.BestAvailableExcept(preferred, nil)
}

// BestAvailableExcept is BestAvailable restricted to providers not in skip.
func (t *Tracker) BestAvailableExcept(preferred string, skip map[string]bool) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()
	if preferred != "" && !skip[preferred] && t.usableLocked(preferred) {
		return preferred, true
	}
	best := ""
	bestCount := 0
	for _, name := range t.order {
		if skip[name] || !t.usableLocked(name) {
			continue
		}
		count := t.usage[name].UsageCount
		if best == "" || count < bestCount {
			best, bestCount = name, count
		}
	}
	return best, best != ""
}

func (t *Tracker) UsageInfo(provider string) Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()
	return t.infoLocked(provider)
}

// AllUsage returns usage for every provider in registration order.
func (t *Tracker) AllUsage() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()
	out := make([]Info, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.infoLocked(name))
	}
	return out
}

func (t *Tracker) infoLocked(provider string) Info {
	info := Info{Provider: provider, ResetTime: t.resetTime}
	u, ok := t.usage[provider]
	if !ok {
		return info
	}
	info.Usage = u.UsageCount
	info.Limit = u.Limit
	info.Remaining = u.Limit - u.UsageCount
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	if u.Limit > 0 {
		info.Percentage = float64(u.UsageCount) / float64(u.Limit) * 100
	}
	return info
}

func (t *Tracker) notify(info Info) {
	if t.onChange != nil {
		t.onChange(info)
	}
}

// Snapshot is the persisted form of the tracker.
type Snapshot struct {
	ResetTime time.Time `json:"reset_time"`
	Usage     []Usage   `json:"usage"`
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()
	snap := Snapshot{ResetTime: t.resetTime, Usage: make([]Usage, 0, len(t.order))}
	for _, name := range t.order {
		snap.Usage = append(snap.Usage, *t.usage[name])
	}
	return snap
}

// Restore reapplies persisted counts to known providers. Limits always come
// from the current configuration and counts are clamped to them; a snapshot
// from an expired window is discarded.
func (t *Tracker) Restore(snap Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if snap.ResetTime.IsZero() || !snap.ResetTime.After(t.nowFn()) {
		return
	}
	t.resetTime = snap.ResetTime
	start := t.resetTime.Add(-window)
	for _, saved := range snap.Usage {
		u, ok := t.usage[saved.Provider]
		if !ok {
			continue
		}
		count := saved.UsageCount
		if count > u.Limit {
			count = u.Limit
		}
		if count < 0 {
			count = 0
		}
		u.UsageCount = count
		u.WindowStart = start
	}
}
