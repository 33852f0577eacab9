package scheduler

import (
	"context"
	"time"

	"autotrader/internal/logger"
)

// Tick is one scan trigger.
type Tick struct {
	At        time.Time
	Immediate bool
}

// AlignedScheduler emits ticks on wall-clock boundaries of Interval (plus
// Offset), so a 15m interval fires at :00, :15, :30 and :45.
type AlignedScheduler struct {
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewAlignedScheduler(interval, offset time.Duration) *AlignedScheduler {
	return &AlignedScheduler{
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
	}
}

// Run sends ticks to out until ctx is cancelled. A tick that finds out still
// full is dropped: a scan that overruns its interval absorbs the missed
// boundary instead of queueing a backlog.
func (s *AlignedScheduler) Run(ctx context.Context, out chan<- Tick) {
	if s == nil || out == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("AlignedScheduler: invalid interval=%s, exit", s.Interval)
		return
	}
	if s.Offset < 0 {
		logger.Warnf("AlignedScheduler: negative offset=%s, clamp to 0", s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("AlignedScheduler: started interval=%s offset=%s run_immediately=%v at=%s",
		s.Interval, s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		s.emit(out, Tick{At: startAt, Immediate: true})
	}

	for {
		now := s.nowFn().UTC()
		wakeAt, wait := s.nextTimes(now)
		logger.Debugf("AlignedScheduler: next scan at %s (in %s) | uptime=%s",
			wakeAt.Format(time.RFC3339), wait.Truncate(time.Second), now.Sub(startAt).Truncate(time.Second))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("AlignedScheduler: ctx done, exit")
			return
		case <-timer.C:
		}
		s.emit(out, Tick{At: wakeAt})
	}
}

func (s *AlignedScheduler) emit(out chan<- Tick, t Tick) {
	select {
	case out <- t:
	default:
		logger.Warnf("AlignedScheduler: previous scan still running, tick at %s skipped", t.At.Format(time.RFC3339))
	}
}

// nextTimes returns the next boundary strictly after now and the wait until it.
func (s *AlignedScheduler) nextTimes(now time.Time) (wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	wakeAt = now.Truncate(s.Interval).Add(s.Offset)
	for !wakeAt.After(now) {
		wakeAt = wakeAt.Add(s.Interval)
	}
	return wakeAt, wakeAt.Sub(now)
}
