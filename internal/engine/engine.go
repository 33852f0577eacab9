// Package engine owns the bot lifecycle: it runs the scan loop, reacts to
// price events, and coordinates the quota, provider, risk, decision, queue
// and order components it is built from.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"autotrader/internal/config"
	"autotrader/internal/decision"
	"autotrader/internal/logger"
	"autotrader/internal/market"
	"autotrader/internal/metrics"
	"autotrader/internal/orders"
	"autotrader/internal/pkg/circuit"
	"autotrader/internal/provider"
	"autotrader/internal/queue"
	"autotrader/internal/quota"
	"autotrader/internal/risk"
	"autotrader/internal/store"
	"autotrader/internal/types"
)

// Recommender produces one validated recommendation per call.
type Recommender interface {
	Recommend(ctx context.Context, in provider.PromptInput) (provider.Result[types.Recommendation], error)
}

// Deps are the collaborators an Orchestrator is assembled from. Market,
// Portfolio and Advisor are required; the rest default to fresh instances.
type Deps struct {
	Market    types.MarketDataGateway
	Portfolio types.PortfolioLedger
	Advisor   Recommender
	Tracker   *quota.Tracker
	Store     store.Persistence
	Clock     market.Clock
	Queue     *queue.Queue
	Ledger    *orders.Ledger
	Decisions *decision.Engine
	Breaker   *circuit.CircuitBreaker
	Now       func() time.Time
}

type priceEvent struct {
	symbol string
	price  float64
	at     time.Time
}

type Orchestrator struct {
	market    types.MarketDataGateway
	portfolio types.PortfolioLedger
	advisor   Recommender
	tracker   *quota.Tracker
	store     store.Persistence
	clock     market.Clock
	queue     *queue.Queue
	ledger    *orders.Ledger
	decisions *decision.Engine
	breaker   *circuit.CircuitBreaker
	now       func() time.Time
	log       *logger.Logger

	cfgMu sync.RWMutex
	cfg   config.BotConfig

	mu         sync.Mutex
	state      State
	reason     string
	cancel     context.CancelFunc
	done       chan struct{}
	prices     chan priceEvent
	reschedule chan struct{}

	scanMu sync.Mutex

	obsMu     sync.RWMutex
	observers []Observer
	events    chan Event
	quit      chan struct{}
	closeOnce sync.Once

	healthMu  sync.Mutex
	health    risk.EmergencyState
	lastScan  *ScanReport
	scanCount int
	advisory  string
}

func New(cfg config.BotConfig, deps Deps) (*Orchestrator, error) {
	if deps.Market == nil || deps.Portfolio == nil || deps.Advisor == nil {
		return nil, fmt.Errorf("engine requires market, portfolio and advisor collaborators")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		market:     deps.Market,
		portfolio:  deps.Portfolio,
		advisor:    deps.Advisor,
		tracker:    deps.Tracker,
		store:      deps.Store,
		clock:      deps.Clock,
		queue:      deps.Queue,
		ledger:     deps.Ledger,
		decisions:  deps.Decisions,
		breaker:    deps.Breaker,
		now:        deps.Now,
		log:        logger.With("engine"),
		cfg:        cfg.Clone(),
		state:      StateStopped,
		prices:     make(chan priceEvent, 256),
		reschedule: make(chan struct{}, 1),
		events:     make(chan Event, eventBuffer),
		quit:       make(chan struct{}),
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.clock == nil {
		o.clock = market.Always{}
	}
	if o.queue == nil {
		o.queue = queue.New()
	}
	if o.ledger == nil {
		o.ledger = orders.NewLedger()
	}
	if o.decisions == nil {
		o.decisions = decision.NewEngine(o.queue, 0)
	}
	if o.breaker == nil {
		o.breaker = circuit.NewCircuitBreaker("execution", cfg.MaxConsecutiveFailures, 0)
	}
	metrics.BotState(string(StateStopped))
	go o.fanout()
	return o, nil
}

// Config returns a copy of the active bot settings.
func (o *Orchestrator) Config() config.BotConfig {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.cfg.Clone()
}

// UpdateConfig validates and swaps the bot settings. A new scan interval
// takes effect on the running scheduler immediately.
func (o *Orchestrator) UpdateConfig(ctx context.Context, cfg config.BotConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfgMu.Lock()
	prev := o.cfg
	o.cfg = cfg.Clone()
	o.cfgMu.Unlock()

	o.breaker.SetThreshold(cfg.MaxConsecutiveFailures)
	if prev.ScanInterval != cfg.ScanInterval || prev.ExecutionDelay != cfg.ExecutionDelay {
		select {
		case o.reschedule <- struct{}{}:
		default:
		}
	}
	o.persistConfig(ctx)
	o.log.Infof("bot config updated: interval=%s min_conf=%.0f max_pos=%.1f%% daily_trades=%d daily_amount=%.2f",
		cfg.ScanInterval, cfg.MinimumConfidence, cfg.MaxPositionSizePct, cfg.MaxDailyTrades, cfg.MaxDailyAmount)
	return nil
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start launches the run loop. Starting from ERROR is the operator
// acknowledging the fault, so health counters and the execution circuit
// are reset.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.state.Active() {
		o.mu.Unlock()
		return nil
	}
	prev := o.done
	o.mu.Unlock()
	if prev != nil {
		<-prev
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Active() {
		return nil
	}
	o.breaker.Reset()
	o.healthMu.Lock()
	o.health = risk.EmergencyState{}
	o.advisory = ""
	o.healthMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	o.setStateLocked(StateRunning, "")
	go o.run(ctx, o.done)
	return nil
}

// Stop halts the loop, cancels PENDING trades and waits for an in-flight
// trade to finish.
func (o *Orchestrator) Stop(reason string) error {
	if reason == "" {
		reason = "stopped by operator"
	}
	o.halt(StateStopped, reason)
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done != nil {
		<-done
	}
	return nil
}

func (o *Orchestrator) Pause(reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StatePaused {
		return nil
	}
	if o.state != StateRunning {
		return fmt.Errorf("pause from %s: %w", o.state, ErrInvalidTransition)
	}
	if reason == "" {
		reason = "paused by operator"
	}
	o.setStateLocked(StatePaused, reason)
	return nil
}

func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateRunning {
		return nil
	}
	if o.state != StatePaused {
		return fmt.Errorf("resume from %s: %w", o.state, ErrInvalidTransition)
	}
	o.healthMu.Lock()
	o.health.DrawdownBreachScans = 0
	o.healthMu.Unlock()
	o.setStateLocked(StateRunning, "")
	return nil
}

// halt moves to a terminal state without waiting for the loop, so it is safe
// to call from inside it.
func (o *Orchestrator) halt(to State, reason string) {
	o.mu.Lock()
	if !o.state.Active() {
		o.mu.Unlock()
		return
	}
	o.setStateLocked(to, reason)
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.mu.Unlock()

	if n := o.queue.CancelPending(reason); n > 0 {
		o.log.Warnf("cancelled %d pending trades: %s", n, reason)
	}
	o.persistQueue(context.Background())
}

func (o *Orchestrator) setStateLocked(to State, reason string) {
	from := o.state
	o.state = to
	o.reason = reason
	metrics.BotState(string(to))
	if from != to {
		if reason != "" {
			o.log.Infof("bot %s -> %s: %s", from, to, reason)
		} else {
			o.log.Infof("bot %s -> %s", from, to)
		}
		o.emit(Event{Kind: EventStateChanged, From: from, To: to, Reason: reason})
	}
}

// Close stops the bot and flushes state.
func (o *Orchestrator) Close() error {
	_ = o.Stop("shutdown")
	o.persistAll(context.Background())
	o.closeOnce.Do(func() { close(o.quit) })
	return nil
}

// PublishPrice feeds a live price into the protective order ledger.
func (o *Orchestrator) PublishPrice(symbol string, price float64) error {
	if symbol == "" || price <= 0 {
		return fmt.Errorf("invalid price event %q=%v", symbol, price)
	}
	o.mu.Lock()
	active := o.state.Active()
	o.mu.Unlock()
	if !active {
		return ErrNotRunning
	}
	select {
	case o.prices <- priceEvent{symbol: symbol, price: price, at: o.now()}:
		return nil
	default:
		return fmt.Errorf("price channel full, dropped %s", symbol)
	}
}

// RunScan performs a forced scan outside the schedule.
func (o *Orchestrator) RunScan(ctx context.Context) (ScanReport, error) {
	if !o.State().Active() {
		return ScanReport{}, ErrNotRunning
	}
	return o.scan(ctx, true)
}

func (o *Orchestrator) CancelOrder(ctx context.Context, id string) bool {
	ok := o.ledger.Cancel(id)
	if ok {
		o.persistLedger(ctx)
	}
	return ok
}

func (o *Orchestrator) CancelTrade(ctx context.Context, id string) bool {
	ok := o.queue.Cancel(id)
	if ok {
		o.persistQueue(ctx)
	}
	return ok
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	st := Status{State: o.state, Reason: o.reason}
	o.mu.Unlock()

	o.healthMu.Lock()
	st.Advisory = o.advisory
	st.ScanCount = o.scanCount
	st.DataFailures = o.health.DataFailures
	st.DrawdownScans = o.health.DrawdownBreachScans
	if o.lastScan != nil {
		cp := *o.lastScan
		st.LastScan = &cp
	}
	o.healthMu.Unlock()

	st.PendingTrades = len(o.queue.Pending())
	st.ActiveOrders = len(o.ledger.Active())
	st.Today = o.queue.DailyStats(o.now())
	st.Circuit = o.breaker.State().String()
	return st
}

func (o *Orchestrator) QuotaUsage() []quota.Info {
	if o.tracker == nil {
		return nil
	}
	return o.tracker.AllUsage()
}

func (o *Orchestrator) Orders(activeOnly bool) []orders.Order {
	if activeOnly {
		return o.ledger.Active()
	}
	return o.ledger.List()
}

func (o *Orchestrator) Queue() []queue.Trade { return o.queue.Pending() }

func (o *Orchestrator) History(limit int) []queue.Trade { return o.queue.History(limit) }

func (o *Orchestrator) Decisions(limit int) []decision.Decision { return o.decisions.Decisions(limit) }
