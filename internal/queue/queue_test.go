package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"autotrader/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return t0 }

type recorder struct {
	waits    []time.Duration
	executed []string
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func (r *recorder) exec(_ context.Context, t Trade) (ExecResult, error) {
	r.executed = append(r.executed, t.Symbol)
	return ExecResult{Price: t.TargetPrice}, nil
}

func newTestQueue(rec *recorder, opts ...Option) *Queue {
	q := New(append([]Option{WithSleep(rec.sleep)}, opts...)...)
	n := 0
	q.newID = func() string {
		n++
		return fmt.Sprintf("t%d", n)
	}
	return q
}

func enqueue(t *testing.T, q *Queue, symbol string, p Priority, at time.Time) Trade {
	t.Helper()
	tr, err := q.Enqueue(Trade{Symbol: symbol, Action: types.ActionBuy, Quantity: 1, TargetPrice: 10, Priority: p, CreatedAt: at, ScheduledFor: at})
	require.NoError(t, err)
	return tr
}

func TestDrainOrdersByPriority(t *testing.T) {
	rec := &recorder{}
	q := newTestQueue(rec)
	enqueue(t, q, "LOW", PriorityLow, t0)
	enqueue(t, q, "URG", PriorityUrgent, t0)
	enqueue(t, q, "MED", PriorityMedium, t0)

	done := q.Drain(context.Background(), fixedNow, rec.exec, 2*time.Second)
	assert.Equal(t, []string{"URG", "MED", "LOW"}, rec.executed)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, rec.waits)
	require.Len(t, done, 3)
	for _, d := range done {
		assert.Equal(t, StatusCompleted, d.Status)
		require.NotNil(t, d.ExecutedAt)
	}
	assert.Empty(t, q.Pending())
}

func TestDrainTieBreaksOnScheduledFor(t *testing.T) {
	rec := &recorder{}
	q := newTestQueue(rec)
	enqueue(t, q, "LATE", PriorityHigh, t0.Add(-time.Minute))
	enqueue(t, q, "EARLY", PriorityHigh, t0.Add(-time.Hour))
	q.Drain(context.Background(), fixedNow, rec.exec, 0)
	assert.Equal(t, []string{"EARLY", "LATE"}, rec.executed)
}

func TestDrainSkipsTradesNotYetDue(t *testing.T) {
	rec := &recorder{}
	q := newTestQueue(rec)
	future := enqueue(t, q, "LATER", PriorityUrgent, t0.Add(time.Minute))
	enqueue(t, q, "NOW", PriorityLow, t0)

	q.Drain(context.Background(), fixedNow, rec.exec, 0)
	assert.Equal(t, []string{"NOW"}, rec.executed)
	got, ok := q.Get(future.ID)
	require.True(t, ok)
	assert.Equal(t, StatusPending, got.Status)
}

func TestDrainRecordsFailureWithoutRetry(t *testing.T) {
	rec := &recorder{}
	q := newTestQueue(rec)
	tr := enqueue(t, q, "AAPL", PriorityMedium, t0)
	calls := 0
	exec := func(context.Context, Trade) (ExecResult, error) {
		calls++
		return ExecResult{}, types.ErrInsufficientFunds
	}
	q.Drain(context.Background(), fixedNow, exec, 0)
	q.Drain(context.Background(), fixedNow, exec, 0)
	assert.Equal(t, 1, calls)
	got, _ := q.Get(tr.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "insufficient funds")
}

func TestDrainIsNotReentrant(t *testing.T) {
	rec := &recorder{}
	q := newTestQueue(rec)
	enqueue(t, q, "AAPL", PriorityMedium, t0)
	var inner []Trade
	exec := func(ctx context.Context, tr Trade) (ExecResult, error) {
		inner = q.Drain(ctx, fixedNow, rec.exec, 0)
		return ExecResult{Price: 1}, nil
	}
	done := q.Drain(context.Background(), fixedNow, exec, 0)
	assert.Len(t, done, 1)
	assert.Nil(t, inner)
	assert.Empty(t, rec.executed)
}

func TestDrainStopsBetweenTradesOnCancel(t *testing.T) {
	rec := &recorder{}
	q := newTestQueue(rec)
	enqueue(t, q, "A", PriorityHigh, t0)
	enqueue(t, q, "B", PriorityLow, t0)
	ctx, cancel := context.WithCancel(context.Background())
	exec := func(c context.Context, tr Trade) (ExecResult, error) {
		cancel()
		assert.NoError(t, c.Err(), "trade in flight keeps a live context")
		return ExecResult{Price: 1}, nil
	}
	done := q.Drain(ctx, fixedNow, exec, 0)
	assert.Len(t, done, 1)
	assert.Len(t, q.Pending(), 1)
}

func TestEnqueueDuplicateGuard(t *testing.T) {
	q := newTestQueue(&recorder{})
	enqueue(t, q, "AAPL", PriorityMedium, t0)
	_, err := q.Enqueue(Trade{Symbol: "aapl", Action: types.ActionBuy, Quantity: 2})
	assert.True(t, errors.Is(err, ErrDuplicate))

	_, err = q.Enqueue(Trade{Symbol: "AAPL", Action: types.ActionSell, Quantity: 2})
	assert.NoError(t, err)
	assert.True(t, q.HasPending("AAPL", types.ActionSell))

	_, err = q.Enqueue(Trade{Symbol: "AAPL", Action: types.ActionHold, Quantity: 2})
	assert.ErrorIs(t, err, ErrInvalidTrade)
	_, err = q.Enqueue(Trade{Symbol: "AAPL", Action: types.ActionBuy})
	assert.ErrorIs(t, err, ErrInvalidTrade)
}

func TestCancelAndCancelPending(t *testing.T) {
	q := newTestQueue(&recorder{})
	a := enqueue(t, q, "A", PriorityMedium, t0)
	enqueue(t, q, "B", PriorityMedium, t0)
	enqueue(t, q, "C", PriorityMedium, t0)

	assert.True(t, q.Cancel(a.ID))
	assert.False(t, q.Cancel(a.ID))
	assert.Equal(t, 2, q.CancelPending("bot stopped"))
	assert.Empty(t, q.Pending())

	hist := q.History(0)
	require.Len(t, hist, 3)
	for _, h := range hist {
		assert.Equal(t, StatusCancelled, h.Status)
	}
	assert.Equal(t, "bot stopped", hist[0].FailureReason)
}

func TestDailyStats(t *testing.T) {
	rec := &recorder{}
	q := newTestQueue(rec)
	_, err := q.Enqueue(Trade{Symbol: "A", Action: types.ActionBuy, Quantity: 10, TargetPrice: 10, CreatedAt: t0, ScheduledFor: t0})
	require.NoError(t, err)
	q.Drain(context.Background(), fixedNow, rec.exec, 0)
	_, err = q.Enqueue(Trade{Symbol: "B", Action: types.ActionBuy, Quantity: 5, TargetPrice: 20, CreatedAt: t0, ScheduledFor: t0.Add(time.Hour)})
	require.NoError(t, err)
	_, err = q.Enqueue(Trade{Symbol: "C", Action: types.ActionBuy, Quantity: 5, TargetPrice: 20, CreatedAt: t0.Add(-48 * time.Hour), ScheduledFor: t0.Add(time.Hour)})
	require.NoError(t, err)

	s := q.DailyStats(t0)
	assert.Equal(t, 2, s.Count)
	assert.Equal(t, 200.0, s.Amount)
}

func TestHistoryIsBounded(t *testing.T) {
	rec := &recorder{}
	q := newTestQueue(rec, WithHistoryLimit(3))
	for i := 0; i < 5; i++ {
		enqueue(t, q, fmt.Sprintf("S%d", i), PriorityMedium, t0)
	}
	q.Drain(context.Background(), fixedNow, rec.exec, 0)
	hist := q.History(0)
	require.Len(t, hist, 3)
	assert.Equal(t, "S4", hist[0].Symbol)
	assert.Len(t, q.History(1), 1)
}

func TestRestoreFailsInterruptedTrades(t *testing.T) {
	q := newTestQueue(&recorder{})
	q.Restore(Snapshot{
		Pending: []Trade{
			{ID: "p1", Symbol: "A", Action: types.ActionBuy, Quantity: 1, Status: StatusPending, ScheduledFor: t0},
			{ID: "e1", Symbol: "B", Action: types.ActionBuy, Quantity: 1, Status: StatusExecuting},
		},
		History: []Trade{{ID: "h1", Symbol: "C", Status: StatusCompleted}},
	})
	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "p1", pending[0].ID)

	e1, ok := q.Get("e1")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, e1.Status)
	assert.Equal(t, "interrupted by restart", e1.FailureReason)

	snap := q.Snapshot()
	assert.Len(t, snap.Pending, 1)
	assert.Len(t, snap.History, 2)
}

func TestMergeFoldsIntoPendingTrade(t *testing.T) {
	q := newTestQueue(&recorder{})
	first, err := q.Merge(Trade{Symbol: "AAPL", Action: types.ActionSell, Quantity: 3, Priority: PriorityMedium, CreatedAt: t0, ScheduledFor: t0.Add(time.Minute)})
	require.NoError(t, err)
	merged, err := q.Merge(Trade{Symbol: "AAPL", Action: types.ActionSell, Quantity: 2, Priority: PriorityUrgent, CreatedAt: t0, ScheduledFor: t0})
	require.NoError(t, err)
	assert.Equal(t, first.ID, merged.ID)
	assert.Equal(t, int64(5), merged.Quantity)
	assert.Equal(t, PriorityUrgent, merged.Priority)
	assert.Equal(t, t0, merged.ScheduledFor)
	assert.Len(t, q.Pending(), 1)
}

func TestExecutedQuantityOverridesRequest(t *testing.T) {
	q := newTestQueue(&recorder{})
	_, err := q.Enqueue(Trade{Symbol: "AAPL", Action: types.ActionSell, Quantity: 5, TargetPrice: 10, CreatedAt: t0})
	require.NoError(t, err)
	done := q.Drain(context.Background(), fixedNow, func(context.Context, Trade) (ExecResult, error) {
		return ExecResult{Price: 9, Quantity: 2}, nil
	}, 0)
	require.Len(t, done, 1)
	assert.Equal(t, StatusCompleted, done[0].Status)
	assert.Equal(t, int64(2), done[0].Quantity)
	assert.Equal(t, 9.0, done[0].ExecutedPrice)
}
