package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"autotrader/internal/logger"
	symbolpkg "autotrader/internal/pkg/symbol"
	"autotrader/internal/types"

	"github.com/adshao/go-binance/v2/futures"
)

var log = logger.With("binance")

// Gateway implements types.MarketDataGateway on the futures REST API.
// Quotes come from 24h ticker statistics; candidates are the most traded
// pairs in the configured quote asset.
type Gateway struct {
	cfg    Config
	client *futures.Client
	now    func() time.Time
}

var _ types.MarketDataGateway = (*Gateway)(nil)

func New(cfg Config) (*Gateway, error) {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Gateway{cfg: final, client: client, now: time.Now}, nil
}

func (g *Gateway) GetQuote(ctx context.Context, sym string) (types.Quote, error) {
	if g == nil || g.client == nil {
		return types.Quote{}, fmt.Errorf("binance gateway not initialized: %w", types.ErrDataUnavailable)
	}
	exchangeSymbol := symbolpkg.Binance.ToExchange(sym)
	if exchangeSymbol == "" {
		return types.Quote{}, fmt.Errorf("invalid symbol %q: %w", sym, types.ErrDataUnavailable)
	}
	stats, err := g.client.NewListPriceChangeStatsService().Symbol(exchangeSymbol).Do(ctx)
	if err != nil {
		return types.Quote{}, fmt.Errorf("ticker %s: %v: %w", exchangeSymbol, err, types.ErrDataUnavailable)
	}
	for _, st := range stats {
		if st == nil || !strings.EqualFold(st.Symbol, exchangeSymbol) {
			continue
		}
		q := g.toQuote(sym, st)
		if q.Price > 0 {
			return q, nil
		}
	}
	// Stats can lag right after listing; the price endpoint is authoritative.
	prices, err := g.client.NewListPricesService().Symbol(exchangeSymbol).Do(ctx)
	if err != nil {
		return types.Quote{}, fmt.Errorf("price %s: %v: %w", exchangeSymbol, err, types.ErrDataUnavailable)
	}
	for _, p := range prices {
		if p == nil || !strings.EqualFold(p.Symbol, exchangeSymbol) {
			continue
		}
		if price := parseFloat(p.Price); price > 0 {
			return types.Quote{Symbol: sym, Price: price, UpdatedAt: g.stamp(0)}, nil
		}
	}
	return types.Quote{}, fmt.Errorf("no price for %s: %w", exchangeSymbol, types.ErrDataUnavailable)
}

func (g *Gateway) GetCandidates(ctx context.Context, limit int) ([]string, error) {
	if g == nil || g.client == nil {
		return nil, fmt.Errorf("binance gateway not initialized: %w", types.ErrDataUnavailable)
	}
	stats, err := g.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tickers: %v: %w", err, types.ErrDataUnavailable)
	}
	type ranked struct {
		symbol string
		volume float64
	}
	rows := make([]ranked, 0, len(stats))
	for _, st := range stats {
		if st == nil || !strings.HasSuffix(strings.ToUpper(st.Symbol), g.cfg.QuoteAsset) {
			continue
		}
		rows = append(rows, ranked{symbol: symbolpkg.Binance.FromExchange(st.Symbol), volume: parseFloat(st.QuoteVolume)})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].volume > rows[j].volume })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.symbol)
	}
	log.Debugf("candidates: %d of %d tickers", len(out), len(stats))
	return out, nil
}

func (g *Gateway) toQuote(sym string, st *futures.PriceChangeStats) types.Quote {
	return types.Quote{
		Symbol:        sym,
		Price:         parseFloat(st.LastPrice),
		ChangePercent: parseFloat(st.PriceChangePercent),
		Volume:        parseFloat(st.Volume),
		DollarVolume:  parseFloat(st.QuoteVolume),
		UpdatedAt:     g.stamp(st.CloseTime),
	}
}

func (g *Gateway) stamp(ms int64) time.Time {
	if ms <= 0 {
		return g.now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
