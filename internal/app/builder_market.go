package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"autotrader/internal/config"
	"autotrader/internal/gateway/alpaca"
	"autotrader/internal/gateway/binance"
	"autotrader/internal/gateway/paper"
	"autotrader/internal/market"
	"autotrader/internal/pkg/symbol"
	"autotrader/internal/store"
	"autotrader/internal/types"
)

// PriceBook is the mark price table the paper portfolio values holdings
// with.
type PriceBook interface {
	Price(symbol string) (float64, bool)
	SetPrice(symbol string, price float64) error
}

// MarketStack groups the market-facing collaborators of the engine.
type MarketStack struct {
	Source      string
	Gateway     types.MarketDataGateway
	Portfolio   types.PortfolioLedger
	Prices      PriceBook
	Instruments int
}

func buildMarketStack(ctx context.Context, cfg *config.Config, st store.Persistence) (*MarketStack, error) {
	var (
		gw     types.MarketDataGateway
		prices PriceBook
		count  int
	)
	switch cfg.Market.Source {
	case "binance":
		remote, err := binance.New(binance.Config{
			RESTBaseURL: cfg.Market.RESTBaseURL,
			HTTPTimeout: cfg.Market.HTTPTimeout,
			QuoteAsset:  cfg.Market.QuoteAsset,
		})
		if err != nil {
			return nil, fmt.Errorf("binance gateway: %w", err)
		}
		cache := newQuoteCache(remote)
		gw, prices = cache, cache
	default:
		instruments, err := paper.LoadUniverse(cfg.Market.UniversePath)
		if err != nil {
			return nil, err
		}
		m := paper.NewMarket(instruments)
		gw, prices, count = m, m, len(instruments)
	}
	portfolio := paper.NewPortfolio(cfg.Paper.StartingCash, prices, st)
	if err := portfolio.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore paper portfolio: %w", err)
	}
	return &MarketStack{
		Source:      cfg.Market.Source,
		Gateway:     gw,
		Portfolio:   portfolio,
		Prices:      prices,
		Instruments: count,
	}, nil
}

func newAlpacaClock(cfg config.AlpacaConfig) market.Clock {
	return alpaca.NewClock(alpaca.Config{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})
}

// quoteCache remembers the last price seen per symbol so a remote feed can
// value a locally simulated portfolio.
type quoteCache struct {
	types.MarketDataGateway

	mu     sync.RWMutex
	prices map[string]float64
}

func newQuoteCache(gw types.MarketDataGateway) *quoteCache {
	return &quoteCache{MarketDataGateway: gw, prices: make(map[string]float64)}
}

func (c *quoteCache) GetQuote(ctx context.Context, sym string) (types.Quote, error) {
	q, err := c.MarketDataGateway.GetQuote(ctx, sym)
	if err != nil {
		return q, err
	}
	if q.Price > 0 {
		c.mu.Lock()
		c.prices[cacheKey(sym)] = q.Price
		c.mu.Unlock()
	}
	return q, nil
}

func (c *quoteCache) Price(sym string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[cacheKey(sym)]
	return p, ok
}

func (c *quoteCache) SetPrice(sym string, price float64) error {
	key := cacheKey(sym)
	if key == "" || price <= 0 {
		return fmt.Errorf("invalid price update %q=%v", sym, price)
	}
	c.mu.Lock()
	c.prices[key] = price
	c.mu.Unlock()
	return nil
}

func cacheKey(sym string) string {
	return symbol.Normalize(strings.TrimSpace(sym))
}
