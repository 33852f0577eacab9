package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"autotrader/internal/config"
	"autotrader/internal/decision"
	"autotrader/internal/engine"
	"autotrader/internal/gateway/notifier"
	"autotrader/internal/logger"
	"autotrader/internal/market"
	"autotrader/internal/orders"
	"autotrader/internal/pkg/circuit"
	"autotrader/internal/queue"
	"autotrader/internal/quota"
	"autotrader/internal/store"
	"autotrader/internal/store/gormstore"
	apihttp "autotrader/internal/transport/http/api"
)

const (
	decisionLogCapacity = 100
	tradeHistoryLimit   = 500
)

// persistence is a store that also owns a resource to release.
type persistence interface {
	store.Persistence
	io.Closer
}

type AppBuilder struct {
	cfg *config.Config

	storeFn   func(config.StoreConfig) (persistence, error)
	marketFn  func(context.Context, *config.Config, store.Persistence) (*MarketStack, error)
	clockFn   func(config.MarketConfig) (market.Clock, error)
	advisorFn func(config.ProvidersConfig, *quota.Tracker) (engine.Recommender, error)
	httpFn    func(config.AppConfig, apihttp.Controller) (*apihttp.Server, error)
	notifyFn  func(config.NotifyConfig) (notifier.TextNotifier, error)
	now       func() time.Time
}

type AppBuilderOption func(*AppBuilder)

// WithStore replaces the configured persistence backend.
func WithStore(p persistence) AppBuilderOption {
	return func(b *AppBuilder) {
		b.storeFn = func(config.StoreConfig) (persistence, error) { return p, nil }
	}
}

// WithMarketStack replaces the market gateway and portfolio.
func WithMarketStack(ms *MarketStack) AppBuilderOption {
	return func(b *AppBuilder) {
		b.marketFn = func(context.Context, *config.Config, store.Persistence) (*MarketStack, error) { return ms, nil }
	}
}

func WithClock(c market.Clock) AppBuilderOption {
	return func(b *AppBuilder) {
		b.clockFn = func(config.MarketConfig) (market.Clock, error) { return c, nil }
	}
}

// WithAdvisor replaces the provider-backed recommender.
func WithAdvisor(r engine.Recommender) AppBuilderOption {
	return func(b *AppBuilder) {
		b.advisorFn = func(config.ProvidersConfig, *quota.Tracker) (engine.Recommender, error) { return r, nil }
	}
}

// WithNotifier replaces the configured chat notifier.
func WithNotifier(n notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		b.notifyFn = func(config.NotifyConfig) (notifier.TextNotifier, error) { return n, nil }
	}
}

func WithNow(now func() time.Time) AppBuilderOption {
	return func(b *AppBuilder) {
		if now != nil {
			b.now = now
		}
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:       cfg,
		storeFn:   openStore,
		marketFn:  buildMarketStack,
		clockFn:   buildClock,
		advisorFn: buildAdvisor,
		httpFn:    buildHTTPServer,
		notifyFn:  buildNotifier,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	st, err := b.storeFn(cfg.Store)
	if err != nil {
		return nil, err
	}
	app := &App{cfg: cfg, closers: []io.Closer{st}}
	fail := func(err error) (*App, error) {
		_ = app.Close()
		return nil, err
	}

	ms, err := b.marketFn(ctx, cfg, st)
	if err != nil {
		return fail(err)
	}
	clock, err := b.clockFn(cfg.Market)
	if err != nil {
		return fail(err)
	}
	tracker := buildTracker(cfg.Providers, b.now)
	advisor, err := b.advisorFn(cfg.Providers, tracker)
	if err != nil {
		return fail(err)
	}
	if opts, ok := advisor.(advisorOptions); ok {
		app.advisor = opts
	}

	q := queue.New(queue.WithHistoryLimit(tradeHistoryLimit))
	orch, err := engine.New(cfg.Bot, engine.Deps{
		Market:    ms.Gateway,
		Portfolio: ms.Portfolio,
		Advisor:   advisor,
		Tracker:   tracker,
		Store:     st,
		Clock:     clock,
		Queue:     q,
		Ledger:    orders.NewLedger(),
		Decisions: decision.NewEngine(q, decisionLogCapacity),
		Breaker:   circuit.NewCircuitBreaker("execution", cfg.Bot.MaxConsecutiveFailures, 0),
		Now:       b.now,
	})
	if err != nil {
		return fail(err)
	}
	orch.Restore(ctx)
	app.orch = orch

	sender, err := b.notifyFn(cfg.Notify)
	if err != nil {
		return fail(err)
	}
	if sender != nil {
		app.relay = notifier.NewRelay(sender, notifyKinds(cfg.Notify.Events)...)
		orch.Subscribe(app.relay)
	}
	app.ctrl = &priceRelay{Orchestrator: orch, prices: ms.Prices}

	server, err := b.httpFn(cfg.App, app.ctrl)
	if err != nil {
		return fail(err)
	}
	app.http = server
	app.Summary = newStartupSummary(cfg, ms)
	return app, nil
}

func openStore(cfg config.StoreConfig) (persistence, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		logger.Warnf("store.path is empty, engine state will not survive restarts")
		return store.NewMemory(), nil
	}
	st, err := gormstore.NewGormStore(path)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return st, nil
}

func buildClock(cfg config.MarketConfig) (market.Clock, error) {
	switch cfg.Clock {
	case "always":
		return market.Always{}, nil
	case "alpaca":
		return newAlpacaClock(cfg.Alpaca), nil
	default:
		session, err := market.NewYorkSession(cfg.Timezone)
		if err != nil {
			return nil, err
		}
		return market.NewLocal(session), nil
	}
}

func buildHTTPServer(cfg config.AppConfig, ctrl apihttp.Controller) (*apihttp.Server, error) {
	return apihttp.NewServer(apihttp.ServerConfig{Addr: cfg.HTTPAddr, Controller: ctrl})
}

func buildNotifier(cfg config.NotifyConfig) (notifier.TextNotifier, error) {
	if !cfg.Telegram.Enabled {
		return nil, nil
	}
	tg, err := notifier.NewTelegram(notifier.TelegramConfig{
		BotToken: cfg.Telegram.BotToken,
		ChatID:   cfg.Telegram.ChatID,
		BaseURL:  cfg.Telegram.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram notifier: %w", err)
	}
	return tg, nil
}

func notifyKinds(events []string) []engine.EventKind {
	out := make([]engine.EventKind, 0, len(events))
	for _, ev := range events {
		if ev = strings.ToLower(strings.TrimSpace(ev)); ev != "" {
			out = append(out, engine.EventKind(ev))
		}
	}
	return out
}

// priceRelay moves the simulated mark price before the event reaches the
// order ledger, so fills and valuations see the same price.
type priceRelay struct {
	*engine.Orchestrator
	prices PriceBook
}

func (p *priceRelay) PublishPrice(symbol string, price float64) error {
	if p.prices != nil && price > 0 {
		if err := p.prices.SetPrice(symbol, price); err != nil {
			logger.Debugf("price relay skipped %s: %v", symbol, err)
		}
	}
	return p.Orchestrator.PublishPrice(symbol, price)
}
