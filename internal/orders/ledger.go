// Package orders owns the protective order lifecycle: stop-loss, take-profit
// (single or laddered), trailing stops and OCO pairs. The ledger never
// touches balances; it only emits sell instructions for the caller to queue.
package orders

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"autotrader/internal/logger"
	"autotrader/internal/metrics"
	"autotrader/internal/pkg/decmath"

	"github.com/google/uuid"
)

// Ledger is safe for concurrent use. Every transition happens under mu so
// the two legs of an OCO can never both fire.
type Ledger struct {
	mu        sync.RWMutex
	orders    map[string]*Order
	seq       []string
	remaining map[string]int64
	newID     func() string
	log       *logger.Logger
}

func NewLedger() *Ledger {
	return &Ledger{
		orders:    make(map[string]*Order),
		remaining: make(map[string]int64),
		newID:     func() string { return uuid.NewString() },
		log:       logger.With("orders"),
	}
}

func (l *Ledger) addLocked(o *Order) {
	l.orders[o.ID] = o
	l.seq = append(l.seq, o.ID)
}

func (l *Ledger) Get(id string) (Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[id]
	if !ok {
		return Order{}, false
	}
	return o.clone(), true
}

// List returns every order in creation order.
func (l *Ledger) List() []Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Order, 0, len(l.seq))
	for _, id := range l.seq {
		out = append(out, l.orders[id].clone())
	}
	return out
}

// Active returns open orders.
func (l *Ledger) Active() []Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Order, 0)
	for _, id := range l.seq {
		if o := l.orders[id]; o.Status.Open() {
			out = append(out, o.clone())
		}
	}
	return out
}

// ActiveSymbols lists symbols that still have an open order.
func (l *Ledger) ActiveSymbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seen := map[string]bool{}
	out := []string{}
	for _, id := range l.seq {
		o := l.orders[id]
		if o.Status.Open() && !seen[o.Symbol] {
			seen[o.Symbol] = true
			out = append(out, o.Symbol)
		}
	}
	sort.Strings(out)
	return out
}

// Cancel moves an open order to CANCELLED. Cancelling either part of an OCO
// cancels the whole pair.
func (l *Ledger) Cancel(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok || !o.Status.Open() {
		return false
	}
	if o.ParentID != "" {
		if parent, ok := l.orders[o.ParentID]; ok && parent.Status.Open() {
			o = parent
		}
	}
	l.cancelLocked(o)
	return true
}

func (l *Ledger) cancelLocked(o *Order) {
	if !o.Status.Open() {
		return
	}
	o.Status = StatusCancelled
	if o.OCO != nil {
		for _, leg := range []string{o.OCO.StopLossID, o.OCO.TakeProfitID} {
			if child, ok := l.orders[leg]; ok && child.Status.Open() {
				child.Status = StatusCancelled
			}
		}
	}
	l.log.Infof("order cancelled id=%s kind=%s symbol=%s", o.ID, o.Kind, o.Symbol)
}

// CancelBySymbol cancels every open order on symbol, used once the position
// is closed by other means.
func (l *Ledger) CancelBySymbol(symbol string) int {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, id := range l.seq {
		o := l.orders[id]
		if o.Symbol == symbol && o.Status.Open() && o.ParentID == "" {
			l.cancelLocked(o)
			n++
		}
	}
	return n
}

// ExpireDue moves open orders whose expiry has passed to EXPIRED.
func (l *Ledger) ExpireDue(now time.Time) []Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Order
	for _, id := range l.seq {
		o := l.orders[id]
		if !o.Status.Open() || o.ExpiresAt == nil || now.Before(*o.ExpiresAt) {
			continue
		}
		o.Status = StatusExpired
		out = append(out, o.clone())
	}
	return out
}

// expireLocked expires o. An OCO pair expires as a unit, whichever part is due.
func (l *Ledger) expireLocked(o *Order) {
	if o.ParentID != "" {
		if parent, ok := l.orders[o.ParentID]; ok && parent.Status.Open() {
			o = parent
		}
	}
	o.Status = StatusExpired
	if o.OCO != nil {
		for _, leg := range []string{o.OCO.StopLossID, o.OCO.TakeProfitID} {
			if child, ok := l.orders[leg]; ok && child.Status.Open() {
				child.Status = StatusExpired
			}
		}
	}
}

// OnPrice feeds one price observation and returns the sells it caused.
func (l *Ledger) OnPrice(symbol string, price float64, now time.Time) []SellInstruction {
	if price <= 0 {
		return nil
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []SellInstruction
	for _, id := range l.seq {
		o := l.orders[id]
		if o.Symbol != symbol || !o.Status.Open() {
			continue
		}
		if o.ExpiresAt != nil && !now.Before(*o.ExpiresAt) {
			l.expireLocked(o)
			continue
		}
		if o.Kind == KindOCO {
			continue
		}
		switch o.Kind {
		case KindStopLoss:
			if decmath.StopHit(price, o.StopLoss.StopPrice) {
				out = l.fireLocked(out, o, o.Quantity, price, now, "stop-loss hit")
			}
		case KindTakeProfit:
			out = l.takeProfitLocked(out, o, price, now)
		case KindTrailingStop:
			tr := o.Trailing
			if price > tr.HighWaterMark {
				tr.HighWaterMark = price
			}
			if candidate := decmath.Below(tr.HighWaterMark, tr.TrailPercent); decmath.ShouldRaiseStop(candidate, tr.CurrentStopPrice) {
				tr.CurrentStopPrice = candidate
			}
			if decmath.StopHit(price, tr.CurrentStopPrice) {
				out = l.fireLocked(out, o, o.Quantity, price, now, "trailing stop hit")
			}
		}
	}
	return out
}

func (l *Ledger) takeProfitLocked(out []SellInstruction, o *Order, price float64, now time.Time) []SellInstruction {
	tp := o.TakeProfit
	if len(tp.Levels) == 0 {
		if decmath.TargetHit(price, tp.TargetPrice) {
			out = l.fireLocked(out, o, o.Quantity, price, now, "take-profit hit")
		}
		return out
	}
	for i := range tp.Levels {
		lvl := &tp.Levels[i]
		if lvl.Triggered || !decmath.TargetHit(price, lvl.TargetPrice) {
			continue
		}
		ts := now
		lvl.Triggered = true
		lvl.TriggeredAt = &ts
		qty := l.clampLocked(o, lvl.Quantity)
		if qty > 0 {
			out = append(out, l.sellLocked(o, qty, price, fmt.Sprintf("take-profit level %d hit", i+1)))
			l.consumeLocked(o, qty)
		}
		if o.GroupID != "" && l.remaining[o.GroupID] == 0 {
			l.markTriggeredLocked(o, now)
			return out
		}
	}
	for _, lvl := range tp.Levels {
		if !lvl.Triggered {
			return out
		}
	}
	l.markTriggeredLocked(o, now)
	return out
}

// fireLocked triggers o for qty shares, resolving OCO siblings.
func (l *Ledger) fireLocked(out []SellInstruction, o *Order, qty int64, price float64, now time.Time, reason string) []SellInstruction {
	qty = l.clampLocked(o, qty)
	l.markTriggeredLocked(o, now)
	if o.ParentID != "" {
		if parent, ok := l.orders[o.ParentID]; ok && parent.Status.Open() {
			sibling := parent.OCO.TakeProfitID
			if sibling == o.ID {
				sibling = parent.OCO.StopLossID
			}
			if s, ok := l.orders[sibling]; ok && s.Status.Open() {
				s.Status = StatusCancelled
			}
			parent.OCO.TriggeredLeg = o.ID
			parent.Status = StatusTriggered
			parent.TriggeredAt = o.TriggeredAt
		}
	}
	if qty <= 0 {
		return out
	}
	out = append(out, l.sellLocked(o, qty, price, reason))
	l.consumeLocked(o, qty)
	return out
}

func (l *Ledger) markTriggeredLocked(o *Order, now time.Time) {
	ts := now
	o.Status = StatusTriggered
	o.TriggeredAt = &ts
	metrics.OrderTriggered(string(o.Kind))
	l.log.Infof("order triggered id=%s kind=%s symbol=%s", o.ID, o.Kind, o.Symbol)
}

func (l *Ledger) sellLocked(o *Order, qty int64, price float64, reason string) SellInstruction {
	return SellInstruction{
		OrderID:  o.ID,
		GroupID:  o.GroupID,
		Symbol:   o.Symbol,
		Kind:     o.Kind,
		Quantity: qty,
		Price:    price,
		Reason:   reason,
	}
}

// clampLocked limits qty to what the order's group still protects.
func (l *Ledger) clampLocked(o *Order, qty int64) int64 {
	if o.GroupID == "" {
		return qty
	}
	if rem, ok := l.remaining[o.GroupID]; ok && qty > rem {
		return rem
	}
	return qty
}

// consumeLocked books qty against the group. Sibling orders shrink to the
// new remainder and are cancelled once nothing is left.
func (l *Ledger) consumeLocked(o *Order, qty int64) {
	if o.GroupID == "" {
		return
	}
	rem, ok := l.remaining[o.GroupID]
	if !ok {
		return
	}
	rem -= qty
	if rem < 0 {
		rem = 0
	}
	l.remaining[o.GroupID] = rem
	for _, id := range l.seq {
		s := l.orders[id]
		if s.ID == o.ID || s.GroupID != o.GroupID || !s.Status.Open() {
			continue
		}
		if rem == 0 {
			s.Status = StatusCancelled
			continue
		}
		if s.Quantity > rem {
			s.Quantity = rem
		}
	}
}

// Remaining returns the shares still protected by group.
func (l *Ledger) Remaining(group string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.remaining[group]
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap := Snapshot{Orders: make([]Order, 0, len(l.seq)), Remaining: make(map[string]int64, len(l.remaining))}
	for _, id := range l.seq {
		snap.Orders = append(snap.Orders, l.orders[id].clone())
	}
	for k, v := range l.remaining {
		snap.Remaining[k] = v
	}
	return snap
}

// Restore replaces the ledger content with snap.
func (l *Ledger) Restore(snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders = make(map[string]*Order, len(snap.Orders))
	l.seq = l.seq[:0]
	l.remaining = make(map[string]int64, len(snap.Remaining))
	for _, o := range snap.Orders {
		if o.ID == "" {
			continue
		}
		c := o.clone()
		l.addLocked(&c)
	}
	for k, v := range snap.Remaining {
		l.remaining[k] = v
	}
}
