package engine

import (
	"time"

	"autotrader/internal/orders"
	"autotrader/internal/queue"
)

type EventKind string

const (
	EventStateChanged   EventKind = "state_changed"
	EventTradeCompleted EventKind = "trade_completed"
	EventTradeFailed    EventKind = "trade_failed"
	EventOrderTriggered EventKind = "order_triggered"
)

// Event is one notable engine transition published to observers.
type Event struct {
	Kind   EventKind
	At     time.Time
	From   State
	To     State
	Reason string
	Trade  *queue.Trade
	Order  *orders.SellInstruction
}

// Observer receives events on the engine's fan-out goroutine. Observers
// must return quickly; slow work belongs on the observer's own goroutine.
type Observer interface {
	OnEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

const eventBuffer = 128

// Subscribe registers obs for every subsequent event.
func (o *Orchestrator) Subscribe(obs Observer) {
	if obs == nil {
		return
	}
	o.obsMu.Lock()
	o.observers = append(o.observers, obs)
	o.obsMu.Unlock()
}

// emit never blocks the caller; events are dropped when the buffer is full.
func (o *Orchestrator) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = o.now()
	}
	select {
	case o.events <- ev:
	default:
		o.log.Warnf("event buffer full, dropped %s", ev.Kind)
	}
}

func (o *Orchestrator) fanout() {
	for {
		select {
		case <-o.quit:
			return
		case ev := <-o.events:
			o.obsMu.RLock()
			list := append([]Observer(nil), o.observers...)
			o.obsMu.RUnlock()
			for _, obs := range list {
				o.deliver(obs, ev)
			}
		}
	}
}

func (o *Orchestrator) deliver(obs Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Errorf("observer panic on %s: %v", ev.Kind, r)
		}
	}()
	obs.OnEvent(ev)
}
