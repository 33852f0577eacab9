package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"autotrader/internal/config"
	"autotrader/internal/decision"
	"autotrader/internal/gateway/paper"
	"autotrader/internal/orders"
	"autotrader/internal/provider"
	"autotrader/internal/queue"
	"autotrader/internal/store"
	"autotrader/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type mockAdvisor struct{ mock.Mock }

func (m *mockAdvisor) Recommend(ctx context.Context, in provider.PromptInput) (provider.Result[types.Recommendation], error) {
	args := m.Called(ctx, in.Symbol)
	res, _ := args.Get(0).(provider.Result[types.Recommendation])
	return res, args.Error(1)
}

type mockPortfolio struct{ mock.Mock }

func (m *mockPortfolio) ExecuteTrade(ctx context.Context, req types.TradeRequest) (bool, error) {
	args := m.Called(ctx, req)
	return args.Bool(0), args.Error(1)
}

func (m *mockPortfolio) GetSummary(ctx context.Context) (types.PortfolioSummary, error) {
	args := m.Called(ctx)
	sum, _ := args.Get(0).(types.PortfolioSummary)
	return sum, args.Error(1)
}

type mockClock struct{ mock.Mock }

func (m *mockClock) IsOpen(ctx context.Context, at time.Time) (bool, error) {
	args := m.Called(ctx, at)
	return args.Bool(0), args.Error(1)
}

func testConfig() config.BotConfig {
	cfg := config.DefaultBotConfig()
	cfg.ExecutionDelay = 0
	cfg.TradingHoursOnly = false
	cfg.MinimumConfidence = 80
	return cfg
}

func recommendation(symbol string, action types.Action, conf float64, level types.RiskLevel) provider.Result[types.Recommendation] {
	return provider.Result[types.Recommendation]{
		Data: types.Recommendation{
			Symbol: symbol, Action: action, Confidence: conf, RiskLevel: level,
			TargetPrice: 50, Reasoning: "test", GeneratedAt: t0,
		},
		ProviderUsed: "alpha",
	}
}

type fixture struct {
	orch      *Orchestrator
	market    *paper.Market
	portfolio *paper.Portfolio
	advisor   *mockAdvisor
	store     *store.Memory
}

func newFixture(t *testing.T, cfg config.BotConfig, instruments ...paper.Instrument) *fixture {
	t.Helper()
	if len(instruments) == 0 {
		instruments = []paper.Instrument{{Symbol: "AAPL", Price: 50, DollarVolume: 5e9}}
	}
	f := &fixture{
		market:  paper.NewMarket(instruments),
		advisor: &mockAdvisor{},
		store:   store.NewMemory(),
	}
	f.portfolio = paper.NewPortfolio(10000, f.market, nil)
	o, err := New(cfg, Deps{
		Market:    f.market,
		Portfolio: f.portfolio,
		Advisor:   f.advisor,
		Store:     f.store,
		Now:       func() time.Time { return t0 },
	})
	require.NoError(t, err)
	f.orch = o
	return f
}

// markRunning flips the state without launching the loop so scans can be
// driven synchronously.
func markRunning(o *Orchestrator) {
	o.mu.Lock()
	o.state = StateRunning
	o.cancel = func() {}
	o.mu.Unlock()
}

func TestScanExecutesApprovedRecommendationAndProtectsIt(t *testing.T) {
	f := newFixture(t, testConfig())
	markRunning(f.orch)
	f.advisor.On("Recommend", mock.Anything, "AAPL").Return(recommendation("AAPL", types.ActionBuy, 92, types.RiskMedium), nil).Once()

	report, err := f.orch.scan(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, report.Decisions, 1)
	assert.Equal(t, decision.OutcomeExecute, report.Decisions[0].Outcome)
	require.Len(t, report.Executed, 1)
	trade := report.Executed[0]
	assert.Equal(t, queue.StatusCompleted, trade.Status)
	assert.Equal(t, queue.PriorityHigh, trade.Priority)

	sum, err := f.portfolio.GetSummary(context.Background())
	require.NoError(t, err)
	h, ok := sum.Holding("AAPL")
	require.True(t, ok)
	assert.Equal(t, trade.Quantity, h.Quantity)

	active := f.orch.Orders(true)
	require.Len(t, active, 3, "bracket = OCO parent plus two legs")
	kinds := map[orders.Kind]int{}
	for _, o := range active {
		kinds[o.Kind]++
	}
	assert.Equal(t, map[orders.Kind]int{orders.KindOCO: 1, orders.KindStopLoss: 1, orders.KindTakeProfit: 1}, kinds)

	// A price below the 5% stop fires the stop leg, cancels the take-profit
	// leg and sells the whole position.
	f.orch.onPrice(context.Background(), priceEvent{symbol: "AAPL", price: 47, at: t0})
	pending := f.orch.Queue()
	require.Len(t, pending, 1)
	assert.Equal(t, queue.PriorityUrgent, pending[0].Priority)
	assert.Equal(t, types.ActionSell, pending[0].Action)
	assert.Equal(t, trade.Quantity, pending[0].Quantity)

	require.NoError(t, f.market.SetPrice("AAPL", 47))
	done := f.orch.drain(context.Background())
	require.Len(t, done, 1)
	assert.Equal(t, queue.StatusCompleted, done[0].Status)
	assert.Empty(t, f.orch.Orders(true))
	f.advisor.AssertExpectations(t)
}

func TestScanSkipsLowConfidenceAndDisabledRisk(t *testing.T) {
	f := newFixture(t, testConfig(),
		paper.Instrument{Symbol: "AAPL", Price: 50, DollarVolume: 5e9},
		paper.Instrument{Symbol: "MSFT", Price: 50, DollarVolume: 4e9},
	)
	markRunning(f.orch)
	f.advisor.On("Recommend", mock.Anything, "AAPL").Return(recommendation("AAPL", types.ActionBuy, 70, types.RiskMedium), nil)
	f.advisor.On("Recommend", mock.Anything, "MSFT").Return(recommendation("MSFT", types.ActionBuy, 92, types.RiskHigh), nil)

	report, err := f.orch.scan(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, report.Decisions, 2)
	outcomes := map[string]decision.Outcome{}
	for _, d := range report.Decisions {
		outcomes[d.Symbol] = d.Outcome
	}
	assert.Equal(t, decision.OutcomeSkipConfidence, outcomes["AAPL"])
	assert.Equal(t, decision.OutcomeSkipRisk, outcomes["MSFT"])
	assert.Empty(t, report.Executed)
}

func TestDailyCapSkipsIntakeButStillDrains(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDailyTrades = 1
	f := newFixture(t, cfg)
	markRunning(f.orch)
	_, err := f.orch.queue.Enqueue(queue.Trade{Symbol: "AAPL", Action: types.ActionBuy, Quantity: 2, TargetPrice: 50, CreatedAt: t0})
	require.NoError(t, err)

	report, err := f.orch.scan(context.Background(), false)
	require.NoError(t, err)
	assert.Contains(t, report.IntakeSkipped, "daily trade limit")
	require.Len(t, report.Executed, 1)
	assert.Equal(t, queue.StatusCompleted, report.Executed[0].Status)
	f.advisor.AssertNotCalled(t, "Recommend", mock.Anything, mock.Anything)
}

func TestQuotaExhaustionIsAnAdvisory(t *testing.T) {
	f := newFixture(t, testConfig())
	markRunning(f.orch)
	f.advisor.On("Recommend", mock.Anything, "AAPL").
		Return(provider.Result[types.Recommendation]{}, fmt.Errorf("dispatch: %w", provider.ErrQuotaExhausted))

	report, err := f.orch.scan(context.Background(), false)
	require.NoError(t, err)
	assert.NotEmpty(t, report.Advisory)
	assert.Equal(t, report.Advisory, f.orch.Status().Advisory)
	assert.Equal(t, StateRunning, f.orch.State())
}

func TestMarketClosedGate(t *testing.T) {
	cfg := testConfig()
	cfg.TradingHoursOnly = true
	clock := &mockClock{}
	clock.On("IsOpen", mock.Anything, t0).Return(false, nil)
	advisor := &mockAdvisor{}
	m := paper.NewMarket(nil)
	o, err := New(cfg, Deps{Market: m, Portfolio: paper.NewPortfolio(1000, m, nil), Advisor: advisor, Clock: clock, Now: func() time.Time { return t0 }})
	require.NoError(t, err)
	markRunning(o)

	report, err := o.scan(context.Background(), false)
	assert.ErrorIs(t, err, ErrMarketClosed)
	assert.NotEmpty(t, report.Skipped)
	advisor.AssertNotCalled(t, "Recommend", mock.Anything, mock.Anything)
}

func TestDrawdownPausesThenStops(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPortfolioDrawdownPct = 20
	cfg.EmergencyDrawdownScans = 2
	pf := &mockPortfolio{}
	pf.On("GetSummary", mock.Anything).Return(types.PortfolioSummary{CashBalance: 7500, TotalValue: 7500, TotalProfitLossPercent: -25}, nil)
	advisor := &mockAdvisor{}
	m := paper.NewMarket(nil)
	o, err := New(cfg, Deps{Market: m, Portfolio: pf, Advisor: advisor, Now: func() time.Time { return t0 }})
	require.NoError(t, err)
	markRunning(o)
	_, err = o.queue.Enqueue(queue.Trade{Symbol: "AAPL", Action: types.ActionBuy, Quantity: 1, TargetPrice: 50, CreatedAt: t0, ScheduledFor: t0.Add(time.Hour)})
	require.NoError(t, err)

	_, err = o.scan(context.Background(), false)
	assert.ErrorIs(t, err, ErrDrawdownBreached)
	assert.Equal(t, StatePaused, o.State())

	_, err = o.scan(context.Background(), false)
	assert.ErrorIs(t, err, ErrDrawdownBreached)
	assert.Equal(t, StatePaused, o.State())

	_, err = o.scan(context.Background(), false)
	assert.ErrorIs(t, err, ErrEmergencyStop)
	assert.Equal(t, StateStopped, o.State())
	assert.Empty(t, o.Queue())
	hist := o.History(0)
	require.Len(t, hist, 1)
	assert.Equal(t, queue.StatusCancelled, hist[0].Status)
	advisor.AssertNotCalled(t, "Recommend", mock.Anything, mock.Anything)
}

func TestExecutionCircuitMovesToError(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveFailures = 2
	pf := &mockPortfolio{}
	pf.On("GetSummary", mock.Anything).Return(types.PortfolioSummary{CashBalance: 10000, TotalValue: 10000}, nil)
	pf.On("ExecuteTrade", mock.Anything, mock.Anything).Return(false, errors.New("broker offline"))
	m := paper.NewMarket([]paper.Instrument{{Symbol: "AAPL", Price: 50}, {Symbol: "MSFT", Price: 50}})
	o, err := New(cfg, Deps{Market: m, Portfolio: pf, Advisor: &mockAdvisor{}, Now: func() time.Time { return t0 }})
	require.NoError(t, err)
	markRunning(o)
	for _, sym := range []string{"AAPL", "MSFT"} {
		_, err := o.queue.Enqueue(queue.Trade{Symbol: sym, Action: types.ActionBuy, Quantity: 1, TargetPrice: 50, CreatedAt: t0})
		require.NoError(t, err)
	}
	done := o.drain(context.Background())
	require.Len(t, done, 2)
	for _, tr := range done {
		assert.Equal(t, queue.StatusFailed, tr.Status)
	}
	assert.Equal(t, "OPEN", o.Status().Circuit)

	_, err = o.scan(context.Background(), false)
	assert.ErrorIs(t, err, ErrEmergencyStop)
	assert.Equal(t, StateError, o.State())
}

func TestInsufficientFundsDoesNotTripCircuit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveFailures = 1
	f := newFixture(t, cfg)
	_, err := f.orch.queue.Enqueue(queue.Trade{Symbol: "AAPL", Action: types.ActionBuy, Quantity: 1000, TargetPrice: 50, CreatedAt: t0})
	require.NoError(t, err)
	done := f.orch.drain(context.Background())
	require.Len(t, done, 1)
	assert.Equal(t, queue.StatusFailed, done[0].Status)
	assert.Contains(t, done[0].FailureReason, "insufficient funds")
	assert.Equal(t, "CLOSED", f.orch.Status().Circuit)
}

func TestUnguardedHoldingStopLossSweep(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	_, err := f.portfolio.ExecuteTrade(ctx, types.TradeRequest{Symbol: "AAPL", Action: types.ActionBuy, Quantity: 10, Price: 50})
	require.NoError(t, err)
	require.NoError(t, f.market.SetPrice("AAPL", 45))
	f.orch.mu.Lock()
	f.orch.state = StatePaused
	f.orch.cancel = func() {}
	f.orch.mu.Unlock()

	report, err := f.orch.scan(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ProtectiveSells)
	require.Len(t, report.Executed, 1)
	assert.Equal(t, queue.SourceStopLoss, report.Executed[0].Source)
	assert.Equal(t, queue.StatusCompleted, report.Executed[0].Status)
	f.advisor.AssertNotCalled(t, "Recommend", mock.Anything, mock.Anything)
}

func TestLifecycleTransitions(t *testing.T) {
	f := newFixture(t, testConfig(), paper.Instrument{Symbol: "AAPL", Price: 50, DollarVolume: 10})
	f.advisor.On("Recommend", mock.Anything, mock.Anything).Return(recommendation("AAPL", types.ActionHold, 50, types.RiskLow), nil).Maybe()
	o := f.orch

	assert.ErrorIs(t, o.Pause(""), ErrInvalidTransition)
	assert.ErrorIs(t, o.PublishPrice("AAPL", 10), ErrNotRunning)
	_, err := o.RunScan(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, o.Start())
	assert.Equal(t, StateRunning, o.State())
	require.NoError(t, o.Pause("maintenance"))
	assert.Equal(t, StatePaused, o.State())
	assert.Equal(t, "maintenance", o.Status().Reason)
	require.NoError(t, o.Resume())
	assert.Equal(t, StateRunning, o.State())
	assert.NoError(t, o.PublishPrice("AAPL", 51))

	_, err = o.queue.Enqueue(queue.Trade{Symbol: "MSFT", Action: types.ActionBuy, Quantity: 1, TargetPrice: 10, CreatedAt: t0, ScheduledFor: t0.Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, o.Stop(""))
	assert.Equal(t, StateStopped, o.State())
	assert.Empty(t, o.Queue())
	assert.ErrorIs(t, o.Resume(), ErrInvalidTransition)

	require.NoError(t, o.Start())
	require.NoError(t, o.Close())
	assert.Equal(t, StateStopped, o.State())
}

func TestUpdateConfigValidatesAndPersists(t *testing.T) {
	f := newFixture(t, testConfig())
	bad := testConfig()
	bad.ScanInterval = time.Second
	assert.Error(t, f.orch.UpdateConfig(context.Background(), bad))

	good := testConfig()
	good.MinimumConfidence = 60
	require.NoError(t, f.orch.UpdateConfig(context.Background(), good))
	assert.Equal(t, 60.0, f.orch.Config().MinimumConfidence)

	var saved config.BotConfig
	found, err := store.LoadJSON(context.Background(), f.store, store.KeyBotConfig, &saved)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 60.0, saved.MinimumConfidence)
}

func TestRestoreRebuildsState(t *testing.T) {
	f := newFixture(t, testConfig())
	markRunning(f.orch)
	f.advisor.On("Recommend", mock.Anything, "AAPL").Return(recommendation("AAPL", types.ActionBuy, 92, types.RiskMedium), nil).Once()
	_, err := f.orch.scan(context.Background(), false)
	require.NoError(t, err)

	again := &mockAdvisor{}
	again.On("Recommend", mock.Anything, "AAPL").Return(recommendation("AAPL", types.ActionBuy, 95, types.RiskLow), nil).Maybe()
	o2, err := New(testConfig(), Deps{
		Market: f.market, Portfolio: f.portfolio, Advisor: again, Store: f.store,
		Now: func() time.Time { return t0 },
	})
	require.NoError(t, err)
	o2.Restore(context.Background())
	assert.Len(t, o2.Decisions(0), 1)
	assert.Len(t, o2.History(0), 1)
	assert.Len(t, o2.Orders(true), 3)

	// The same symbol is not judged twice on the same day after a restart.
	markRunning(o2)
	report, err := o2.scan(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, report.Decisions)
}

func collectEvents(o *Orchestrator) chan Event {
	ch := make(chan Event, 64)
	o.Subscribe(ObserverFunc(func(ev Event) { ch <- ev }))
	return ch
}

func nextEvent(t *testing.T, ch chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", kind)
			return Event{}
		}
	}
}

func TestObserversReceiveStateAndTradeEvents(t *testing.T) {
	f := newFixture(t, testConfig())
	events := collectEvents(f.orch)
	f.orch.Subscribe(ObserverFunc(func(Event) { panic("boom") }))

	assert.ErrorIs(t, f.orch.Pause(""), ErrInvalidTransition)

	f.advisor.On("Recommend", mock.Anything, "AAPL").Return(recommendation("AAPL", types.ActionBuy, 92, types.RiskMedium), nil).Once()
	markRunning(f.orch)
	_, err := f.orch.scan(context.Background(), false)
	require.NoError(t, err)

	completed := nextEvent(t, events, EventTradeCompleted)
	require.NotNil(t, completed.Trade)
	assert.Equal(t, "AAPL", completed.Trade.Symbol)

	f.orch.onPrice(context.Background(), priceEvent{symbol: "AAPL", price: 47, at: t0})
	triggered := nextEvent(t, events, EventOrderTriggered)
	require.NotNil(t, triggered.Order)
	assert.Equal(t, orders.KindStopLoss, triggered.Order.Kind)

	f.orch.halt(StateError, "test")
	changed := nextEvent(t, events, EventStateChanged)
	assert.Equal(t, StateRunning, changed.From)
	assert.Equal(t, StateError, changed.To)
	assert.Equal(t, "test", changed.Reason)
	require.NoError(t, f.orch.Close())
}
