// Package queue holds scheduled trades and drains them one at a time in
// priority order.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"autotrader/internal/logger"
	"autotrader/internal/metrics"
	"autotrader/internal/types"

	"github.com/google/uuid"
)

const defaultHistoryLimit = 500

var (
	ErrDuplicate    = errors.New("a pending trade for this symbol and action already exists")
	ErrInvalidTrade = errors.New("invalid trade")
)

// ExecResult is what the executor reports for a successful fill. A
// positive Quantity overrides the requested quantity, e.g. when a sell was
// clamped to the shares actually held.
type ExecResult struct {
	Price    float64
	Quantity int64
}

// Executor performs one trade against the portfolio ledger.
type Executor func(ctx context.Context, t Trade) (ExecResult, error)

type Queue struct {
	mu           sync.RWMutex
	pending      []*Trade
	history      []Trade
	historyLimit int
	draining     atomic.Bool
	sleep        func(context.Context, time.Duration) error
	newID        func() string
	log          *logger.Logger
}

type Option func(*Queue)

func WithHistoryLimit(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.historyLimit = n
		}
	}
}

// WithSleep replaces the inter-trade wait, mainly for tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(q *Queue) {
		if fn != nil {
			q.sleep = fn
		}
	}
}

func New(opts ...Option) *Queue {
	q := &Queue{
		historyLimit: defaultHistoryLimit,
		sleep:        sleepCtx,
		newID:        func() string { return uuid.NewString() },
		log:          logger.With("queue"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

// Enqueue validates t and adds it as PENDING.
func (q *Queue) Enqueue(t Trade) (Trade, error) {
	return q.enqueue(t, false)
}

// Merge enqueues t, or folds it into the PENDING trade for the same symbol
// and action: quantities add up and the higher priority wins. Protective
// sells use it so a second trigger is never lost to the duplicate guard.
func (q *Queue) Merge(t Trade) (Trade, error) {
	return q.enqueue(t, true)
}

func (q *Queue) enqueue(t Trade, merge bool) (Trade, error) {
	t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
	if t.Symbol == "" || t.Quantity <= 0 {
		return Trade{}, fmt.Errorf("symbol=%q qty=%d: %w", t.Symbol, t.Quantity, ErrInvalidTrade)
	}
	if t.Action != types.ActionBuy && t.Action != types.ActionSell {
		return Trade{}, fmt.Errorf("action %q: %w", t.Action, ErrInvalidTrade)
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Source == "" {
		t.Source = SourceManual
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.ScheduledFor.IsZero() {
		t.ScheduledFor = t.CreatedAt
	}
	t.Status = StatusPending

	q.mu.Lock()
	for _, p := range q.pending {
		if p.Symbol == t.Symbol && p.Action == t.Action && p.Status == StatusPending {
			if !merge {
				q.mu.Unlock()
				return Trade{}, fmt.Errorf("%s %s: %w", t.Action, t.Symbol, ErrDuplicate)
			}
			p.Quantity += t.Quantity
			if t.Priority.Rank() > p.Priority.Rank() {
				p.Priority = t.Priority
			}
			if t.ScheduledFor.Before(p.ScheduledFor) {
				p.ScheduledFor = t.ScheduledFor
			}
			out := *p
			q.mu.Unlock()
			q.log.Infof("trade merged id=%s %s %s qty=%d priority=%s", out.ID, out.Action, out.Symbol, out.Quantity, out.Priority)
			return out, nil
		}
	}
	if t.ID == "" {
		t.ID = q.newID()
	}
	stored := t
	q.pending = append(q.pending, &stored)
	n := len(q.pending)
	q.mu.Unlock()

	metrics.QueuePending(n)
	q.log.Infof("trade queued id=%s %s %d %s priority=%s source=%s", t.ID, t.Action, t.Quantity, t.Symbol, t.Priority, t.Source)
	return t, nil
}

// Cancel cancels a PENDING trade.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.pending {
		if p.ID != id || p.Status != StatusPending {
			continue
		}
		p.Status = StatusCancelled
		p.FailureReason = "cancelled by user"
		q.retireLocked(i)
		return true
	}
	return false
}

// CancelPending cancels every PENDING trade. A trade already EXECUTING is
// left to finish.
func (q *Queue) CancelPending(reason string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for i := len(q.pending) - 1; i >= 0; i-- {
		p := q.pending[i]
		if p.Status != StatusPending {
			continue
		}
		p.Status = StatusCancelled
		p.FailureReason = reason
		q.retireLocked(i)
		n++
	}
	if n > 0 {
		q.log.Infof("cancelled %d pending trades: %s", n, reason)
	}
	return n
}

// retireLocked moves pending[i] into history.
func (q *Queue) retireLocked(i int) {
	t := *q.pending[i]
	q.pending = append(q.pending[:i], q.pending[i+1:]...)
	q.history = append(q.history, t)
	if over := len(q.history) - q.historyLimit; over > 0 {
		q.history = append([]Trade(nil), q.history[over:]...)
	}
	metrics.TradeFinished(string(t.Action), string(t.Status))
	metrics.QueuePending(len(q.pending))
}

// Pending returns non-terminal trades in drain order.
func (q *Queue) Pending() []Trade {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Trade, 0, len(q.pending))
	for _, p := range q.pending {
		out = append(out, *p)
	}
	sortTrades(out)
	return out
}

// History returns terminal trades, newest first.
func (q *Queue) History(limit int) []Trade {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := len(q.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Trade, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, q.history[i])
	}
	return out
}

func (q *Queue) Get(id string) (Trade, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, p := range q.pending {
		if p.ID == id {
			return *p, true
		}
	}
	for i := len(q.history) - 1; i >= 0; i-- {
		if q.history[i].ID == id {
			return q.history[i], true
		}
	}
	return Trade{}, false
}

// HasPending reports whether a PENDING trade exists for symbol and action.
func (q *Queue) HasPending(symbol string, action types.Action) bool {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, p := range q.pending {
		if p.Symbol == symbol && p.Action == action && p.Status == StatusPending {
			return true
		}
	}
	return false
}

// DailyStats counts trades completed on day plus trades still pending that
// were created on day. day is interpreted in its own location.
func (q *Queue) DailyStats(day time.Time) Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var s Stats
	for _, p := range q.pending {
		if sameDay(p.CreatedAt, day) {
			s.Count++
			s.Amount += p.Notional()
		}
	}
	for _, h := range q.history {
		if h.Status == StatusCompleted && h.ExecutedAt != nil && sameDay(*h.ExecutedAt, day) {
			s.Count++
			s.Amount += h.Notional()
		}
	}
	return s
}

func sameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	y1, m1, d1 := a.Date()
	y2, m2, d2 := b.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func sortTrades(ts []Trade) {
	sort.SliceStable(ts, func(i, j int) bool {
		ri, rj := ts[i].Priority.Rank(), ts[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return ts[i].ScheduledFor.Before(ts[j].ScheduledFor)
	})
}

// nextDueLocked picks the highest-priority PENDING trade due at now and marks
// it EXECUTING.
func (q *Queue) nextDueLocked(now time.Time) (Trade, bool) {
	var best *Trade
	for _, p := range q.pending {
		if p.Status != StatusPending || p.ScheduledFor.After(now) {
			continue
		}
		if best == nil {
			best = p
			continue
		}
		rp, rb := p.Priority.Rank(), best.Priority.Rank()
		if rp > rb || (rp == rb && p.ScheduledFor.Before(best.ScheduledFor)) {
			best = p
		}
	}
	if best == nil {
		return Trade{}, false
	}
	best.Status = StatusExecuting
	return *best, true
}

func (q *Queue) hasDue(now time.Time) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, p := range q.pending {
		if p.Status == StatusPending && !p.ScheduledFor.After(now) {
			return true
		}
	}
	return false
}

func (q *Queue) finish(id string, res ExecResult, err error, now time.Time) Trade {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.pending {
		if p.ID != id {
			continue
		}
		if err != nil {
			p.Status = StatusFailed
			p.FailureReason = err.Error()
		} else {
			ts := now
			p.Status = StatusCompleted
			p.ExecutedAt = &ts
			p.ExecutedPrice = res.Price
			if res.Quantity > 0 {
				p.Quantity = res.Quantity
			}
		}
		out := *p
		q.retireLocked(i)
		return out
	}
	return Trade{}
}

// Drain executes due trades sequentially, waiting delay between trades.
// A drain already in flight turns this call into a no-op. Cancelling ctx
// stops between trades; the trade in flight always finishes.
func (q *Queue) Drain(ctx context.Context, now func() time.Time, exec Executor, delay time.Duration) []Trade {
	if !q.draining.CompareAndSwap(false, true) {
		return nil
	}
	defer q.draining.Store(false)
	if now == nil {
		now = time.Now
	}
	var done []Trade
	for {
		if ctx.Err() != nil {
			return done
		}
		if len(done) > 0 && delay > 0 && q.hasDue(now()) {
			if err := q.sleep(ctx, delay); err != nil {
				return done
			}
		}
		q.mu.Lock()
		t, ok := q.nextDueLocked(now())
		q.mu.Unlock()
		if !ok {
			return done
		}
		res, err := q.execSafe(context.WithoutCancel(ctx), exec, t)
		finished := q.finish(t.ID, res, err, now())
		if err != nil {
			q.log.Warnf("trade failed id=%s %s %d %s: %v", t.ID, t.Action, t.Quantity, t.Symbol, err)
		} else {
			q.log.Infof("trade completed id=%s %s %d %s @ %.4f", t.ID, t.Action, t.Quantity, t.Symbol, res.Price)
		}
		done = append(done, finished)
	}
}

func (q *Queue) execSafe(ctx context.Context, exec Executor, t Trade) (res ExecResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return exec(ctx, t)
}

func (q *Queue) Snapshot() Snapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()
	snap := Snapshot{Pending: make([]Trade, 0, len(q.pending)), History: append([]Trade(nil), q.history...)}
	for _, p := range q.pending {
		snap.Pending = append(snap.Pending, *p)
	}
	return snap
}

// Restore replaces the queue content. Trades caught EXECUTING by a restart
// cannot be confirmed and are recorded as FAILED.
func (q *Queue) Restore(snap Snapshot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = q.pending[:0]
	q.history = append([]Trade(nil), snap.History...)
	for _, t := range snap.Pending {
		t := t
		switch t.Status {
		case StatusPending:
			q.pending = append(q.pending, &t)
		case StatusExecuting:
			t.Status = StatusFailed
			t.FailureReason = "interrupted by restart"
			q.history = append(q.history, t)
		default:
			q.history = append(q.history, t)
		}
	}
	if over := len(q.history) - q.historyLimit; over > 0 {
		q.history = append([]Trade(nil), q.history[over:]...)
	}
	metrics.QueuePending(len(q.pending))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
