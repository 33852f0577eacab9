package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"autotrader/internal/orders"
	"autotrader/internal/queue"
	"autotrader/internal/scheduler"
	"autotrader/internal/types"
)

const minDrainEvery = time.Second

// run is the single goroutine that turns scan ticks, drain ticks and price
// events into state changes. Messages are handled one at a time.
func (o *Orchestrator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	o.log.Infof("run loop started")
	defer o.log.Infof("run loop stopped")

	ticks := make(chan scheduler.Tick, 1)
	stopSched := o.startScheduler(ctx, ticks)
	defer func() { stopSched() }()
	drain := time.NewTicker(o.drainEvery())
	defer drain.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			o.handle("scan", func() {
				if _, err := o.scan(ctx, false); err != nil {
					o.logScanErr(err)
				}
			})
		case ev := <-o.prices:
			o.handle("price", func() { o.onPrice(ctx, ev) })
		case <-drain.C:
			o.handle("drain", func() { o.drain(ctx) })
		case <-o.reschedule:
			stopSched()
			stopSched = o.startScheduler(ctx, ticks)
			drain.Reset(o.drainEvery())
			o.log.Infof("scan schedule updated: every %s", o.Config().ScanInterval)
		}
	}
}

func (o *Orchestrator) startScheduler(ctx context.Context, out chan<- scheduler.Tick) context.CancelFunc {
	schedCtx, cancel := context.WithCancel(ctx)
	s := scheduler.NewAlignedScheduler(o.Config().ScanInterval, 0)
	s.RunImmediately = true
	go s.Run(schedCtx, out)
	return cancel
}

func (o *Orchestrator) drainEvery() time.Duration {
	d := o.Config().ExecutionDelay
	if d < minDrainEvery {
		d = minDrainEvery
	}
	return d
}

// handle runs one message with panic recovery so a bad message cannot kill
// the loop.
func (o *Orchestrator) handle(kind string, fn func()) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.log.Errorf("panic handling %s: %v\n%s", kind, r, debug.Stack())
		}
		if dur := time.Since(start); dur > 30*time.Second {
			o.log.Warnf("slow %s took %v", kind, dur)
		}
	}()
	fn()
}

func (o *Orchestrator) logScanErr(err error) {
	switch {
	case errors.Is(err, ErrMarketClosed), errors.Is(err, ErrDrawdownBreached):
		o.log.Infof("scan gated: %v", err)
	case errors.Is(err, ErrEmergencyStop):
		o.log.Errorf("scan aborted: %v", err)
	default:
		o.log.Warnf("scan failed: %v", err)
	}
}

func (o *Orchestrator) onPrice(ctx context.Context, ev priceEvent) {
	o.scanMu.Lock()
	defer o.scanMu.Unlock()
	fired := o.ledger.OnPrice(ev.symbol, ev.price, ev.at)
	if len(fired) == 0 {
		return
	}
	o.enqueueProtective(fired, ev.at)
	o.persistLedger(ctx)
	o.persistQueue(ctx)
}

// enqueueProtective turns fired ledger orders into URGENT sells.
func (o *Orchestrator) enqueueProtective(fired []orders.SellInstruction, now time.Time) int {
	n := 0
	for _, ins := range fired {
		source := queue.SourceProtective
		switch ins.Kind {
		case orders.KindStopLoss, orders.KindTrailingStop:
			source = queue.SourceStopLoss
		case orders.KindTakeProfit:
			source = queue.SourceTakeProfit
		}
		_, err := o.queue.Merge(queue.Trade{
			Symbol:       ins.Symbol,
			Action:       types.ActionSell,
			Quantity:     ins.Quantity,
			TargetPrice:  ins.Price,
			Priority:     queue.PriorityUrgent,
			CreatedAt:    now,
			ScheduledFor: now,
			Source:       source,
			Reason:       ins.Reason,
			OrderID:      ins.OrderID,
		})
		if err != nil {
			o.log.Errorf("enqueue protective sell %s: %v", ins.Symbol, err)
			continue
		}
		fired := ins
		o.emit(Event{Kind: EventOrderTriggered, At: now, Reason: ins.Reason, Order: &fired})
		n++
	}
	return n
}

// drain executes due trades, then creates protective orders for filled buys
// and retires orders for positions that no longer exist.
func (o *Orchestrator) drain(ctx context.Context) []queue.Trade {
	cfg := o.Config()
	done := o.queue.Drain(ctx, o.now, o.execute, cfg.ExecutionDelay)
	if len(done) == 0 {
		return nil
	}
	for _, t := range done {
		trade := t
		if t.Status != queue.StatusCompleted {
			if t.Status == queue.StatusFailed {
				o.emit(Event{Kind: EventTradeFailed, Reason: t.FailureReason, Trade: &trade})
			}
			continue
		}
		o.emit(Event{Kind: EventTradeCompleted, Trade: &trade})
		switch t.Action {
		case types.ActionBuy:
			created, err := o.ledger.CreateProtective(orders.Fill{
				TradeID:    t.ID,
				Symbol:     t.Symbol,
				Quantity:   t.Quantity,
				EntryPrice: t.ExecutedPrice,
			}, cfg, o.now())
			if err != nil {
				o.log.Errorf("protective orders for %s: %v", t.Symbol, err)
			} else if len(created) > 0 {
				o.log.Infof("created %d protective orders for %s (%s)", len(created), t.Symbol, cfg.ProtectiveMode)
			}
		case types.ActionSell:
			o.retireOrdersIfFlat(ctx, t.Symbol)
		}
	}
	o.persistQueue(ctx)
	o.persistLedger(ctx)
	return done
}

func (o *Orchestrator) retireOrdersIfFlat(ctx context.Context, symbol string) {
	summary, err := o.portfolio.GetSummary(ctx)
	if err != nil {
		o.log.Warnf("summary after sell %s: %v", symbol, err)
		return
	}
	if _, held := summary.Holding(symbol); held {
		return
	}
	if n := o.ledger.CancelBySymbol(symbol); n > 0 {
		o.log.Infof("position %s closed, cancelled %d protective orders", symbol, n)
	}
}

// execute is the queue Executor: it prices the trade from a fresh quote,
// clamps sells to the shares held and records the outcome on the execution
// circuit.
func (o *Orchestrator) execute(ctx context.Context, t queue.Trade) (queue.ExecResult, error) {
	price := t.TargetPrice
	if q, err := o.market.GetQuote(ctx, t.Symbol); err == nil && q.Price > 0 {
		price = q.Price
	} else if err != nil {
		o.log.Warnf("quote for %s unavailable, using target %.4f: %v", t.Symbol, price, err)
	}
	if price <= 0 {
		return queue.ExecResult{}, fmt.Errorf("no price for %s: %w", t.Symbol, types.ErrDataUnavailable)
	}
	qty := t.Quantity
	if t.Action == types.ActionSell {
		summary, err := o.portfolio.GetSummary(ctx)
		if err != nil {
			o.breaker.RecordFailure()
			return queue.ExecResult{}, fmt.Errorf("portfolio summary: %w", err)
		}
		h, ok := summary.Holding(t.Symbol)
		if !ok {
			return queue.ExecResult{}, fmt.Errorf("sell %s: %w", t.Symbol, types.ErrInsufficientShares)
		}
		if h.Quantity < qty {
			qty = h.Quantity
		}
	}
	ok, err := o.portfolio.ExecuteTrade(ctx, types.TradeRequest{
		Symbol:   t.Symbol,
		Action:   t.Action,
		Quantity: qty,
		Price:    price,
		Metadata: map[string]string{
			"trade_id":    t.ID,
			"source":      string(t.Source),
			"priority":    string(t.Priority),
			"decision_id": t.DecisionID,
			"order_id":    t.OrderID,
		},
	})
	if err != nil {
		if !errors.Is(err, types.ErrInsufficientFunds) && !errors.Is(err, types.ErrInsufficientShares) {
			o.breaker.RecordFailure()
		}
		return queue.ExecResult{}, err
	}
	if !ok {
		o.breaker.RecordFailure()
		return queue.ExecResult{}, fmt.Errorf("portfolio ledger rejected %s %d %s", t.Action, qty, t.Symbol)
	}
	o.breaker.RecordSuccess()
	return queue.ExecResult{Price: price, Quantity: qty}, nil
}
