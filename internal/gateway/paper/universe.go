// Package paper provides a simulated market and portfolio so the engine can
// run end to end without a broker.
package paper

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"autotrader/internal/pkg/symbol"
	"autotrader/internal/types"

	"gopkg.in/yaml.v3"
)

// Instrument is one row of the universe file.
type Instrument struct {
	Symbol        string  `yaml:"symbol"`
	Price         float64 `yaml:"price"`
	ChangePercent float64 `yaml:"change_percent"`
	Volume        float64 `yaml:"volume"`
	DollarVolume  float64 `yaml:"dollar_volume"`
}

type universeFile struct {
	Instruments []Instrument `yaml:"instruments"`
}

// LoadUniverse reads instruments from a YAML file.
func LoadUniverse(path string) ([]Instrument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read universe %s: %w", path, err)
	}
	var f universeFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse universe %s: %w", path, err)
	}
	if len(f.Instruments) == 0 {
		return nil, fmt.Errorf("universe %s has no instruments", path)
	}
	return f.Instruments, nil
}

// Market is an in-memory MarketDataGateway. Prices move only through
// SetPrice.
type Market struct {
	mu     sync.RWMutex
	quotes map[string]types.Quote
	now    func() time.Time
}

var _ types.MarketDataGateway = (*Market)(nil)

func NewMarket(instruments []Instrument) *Market {
	m := &Market{quotes: make(map[string]types.Quote, len(instruments)), now: time.Now}
	for _, in := range instruments {
		sym := symbol.Normalize(in.Symbol)
		if sym == "" || in.Price <= 0 {
			continue
		}
		m.quotes[sym] = types.Quote{
			Symbol:        sym,
			Price:         in.Price,
			ChangePercent: in.ChangePercent,
			Volume:        in.Volume,
			DollarVolume:  in.DollarVolume,
			UpdatedAt:     m.now().UTC(),
		}
	}
	return m
}

func (m *Market) GetQuote(ctx context.Context, sym string) (types.Quote, error) {
	if err := ctx.Err(); err != nil {
		return types.Quote{}, fmt.Errorf("%v: %w", err, types.ErrDataUnavailable)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[symbol.Normalize(sym)]
	if !ok {
		return types.Quote{}, fmt.Errorf("unknown symbol %q: %w", sym, types.ErrDataUnavailable)
	}
	return q, nil
}

// GetCandidates returns the most liquid instruments first.
func (m *Market) GetCandidates(ctx context.Context, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, types.ErrDataUnavailable)
	}
	m.mu.RLock()
	list := make([]types.Quote, 0, len(m.quotes))
	for _, q := range m.quotes {
		list = append(list, q)
	}
	m.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		li, lj := list[i].Liquidity(), list[j].Liquidity()
		if li != lj {
			return li > lj
		}
		return list[i].Symbol < list[j].Symbol
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]string, 0, len(list))
	for _, q := range list {
		out = append(out, q.Symbol)
	}
	return out, nil
}

// SetPrice moves an instrument, registering it when unknown.
func (m *Market) SetPrice(sym string, price float64) error {
	sym = symbol.Normalize(sym)
	if sym == "" || price <= 0 {
		return fmt.Errorf("invalid price update %q=%v", sym, price)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.quotes[sym]
	if q.Price > 0 {
		q.ChangePercent += (price - q.Price) / q.Price * 100
	}
	q.Symbol = sym
	q.Price = price
	q.UpdatedAt = m.now().UTC()
	m.quotes[sym] = q
	return nil
}

// Price satisfies PriceSource for the paper portfolio.
func (m *Market) Price(sym string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[strings.ToUpper(sym)]
	if !ok {
		q, ok = m.quotes[symbol.Normalize(sym)]
	}
	return q.Price, ok && q.Price > 0
}
