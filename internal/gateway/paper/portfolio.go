package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"autotrader/internal/logger"
	"autotrader/internal/pkg/decmath"
	"autotrader/internal/store"
	"autotrader/internal/types"

	"github.com/shopspring/decimal"
)

var log = logger.With("paper")

// PriceSource marks holdings to market.
type PriceSource interface {
	Price(symbol string) (float64, bool)
}

type position struct {
	Quantity    int64   `json:"quantity"`
	AverageCost float64 `json:"average_cost"`
}

type portfolioState struct {
	StartingCash float64              `json:"starting_cash"`
	Cash         float64              `json:"cash"`
	Positions    map[string]*position `json:"positions"`
}

// Portfolio is an in-memory PortfolioLedger. It is the only writer of its
// cash and holdings and optionally persists them after every fill.
type Portfolio struct {
	mu     sync.Mutex
	state  portfolioState
	prices PriceSource
	store  store.Persistence
}

var _ types.PortfolioLedger = (*Portfolio)(nil)

func NewPortfolio(startingCash float64, prices PriceSource, p store.Persistence) *Portfolio {
	return &Portfolio{
		state: portfolioState{
			StartingCash: startingCash,
			Cash:         startingCash,
			Positions:    make(map[string]*position),
		},
		prices: prices,
		store:  p,
	}
}

// Restore loads previously persisted cash and holdings, if any.
func (p *Portfolio) Restore(ctx context.Context) error {
	var st portfolioState
	found, err := store.LoadJSON(ctx, p.store, store.KeyPaperPortfolio, &st)
	if err != nil || !found {
		return err
	}
	if st.Positions == nil {
		st.Positions = make(map[string]*position)
	}
	p.mu.Lock()
	p.state = st
	p.mu.Unlock()
	log.Infof("restored paper portfolio: cash=%.2f positions=%d", st.Cash, len(st.Positions))
	return nil
}

func (p *Portfolio) ExecuteTrade(ctx context.Context, req types.TradeRequest) (bool, error) {
	if req.Quantity <= 0 || req.Price <= 0 {
		return false, fmt.Errorf("invalid trade %s qty=%d price=%v", req.Symbol, req.Quantity, req.Price)
	}
	p.mu.Lock()
	qty := decimal.NewFromInt(req.Quantity)
	price := decmath.FromFloat(req.Price)
	cash := decmath.FromFloat(p.state.Cash)
	pos := p.state.Positions[req.Symbol]
	switch req.Action {
	case types.ActionBuy:
		cost := qty.Mul(price)
		if cost.GreaterThan(cash) {
			p.mu.Unlock()
			return false, fmt.Errorf("buy %s needs %s, have %s: %w", req.Symbol, cost.StringFixed(2), cash.StringFixed(2), types.ErrInsufficientFunds)
		}
		if pos == nil {
			pos = &position{}
			p.state.Positions[req.Symbol] = pos
		}
		held := decimal.NewFromInt(pos.Quantity)
		basis := held.Mul(decmath.FromFloat(pos.AverageCost)).Add(cost)
		pos.Quantity += req.Quantity
		pos.AverageCost = decmath.ToFloat(basis.Div(decimal.NewFromInt(pos.Quantity)))
		p.state.Cash = decmath.ToFloat(cash.Sub(cost))
	case types.ActionSell:
		if pos == nil || pos.Quantity < req.Quantity {
			p.mu.Unlock()
			return false, fmt.Errorf("sell %s qty=%d: %w", req.Symbol, req.Quantity, types.ErrInsufficientShares)
		}
		pos.Quantity -= req.Quantity
		if pos.Quantity == 0 {
			delete(p.state.Positions, req.Symbol)
		}
		p.state.Cash = decmath.ToFloat(cash.Add(qty.Mul(price)))
	default:
		p.mu.Unlock()
		return false, fmt.Errorf("unsupported action %q", req.Action)
	}
	snapshot := p.cloneLocked()
	p.mu.Unlock()

	log.Infof("filled %s %s qty=%d @ %.4f cash=%.2f", req.Action, req.Symbol, req.Quantity, req.Price, snapshot.Cash)
	if err := store.SaveJSON(ctx, p.store, store.KeyPaperPortfolio, snapshot); err != nil {
		log.Warnf("persist paper portfolio: %v", err)
	}
	return true, nil
}

func (p *Portfolio) GetSummary(context.Context) (types.PortfolioSummary, error) {
	p.mu.Lock()
	st := p.cloneLocked()
	p.mu.Unlock()

	total := decmath.FromFloat(st.Cash)
	holdings := make([]types.Holding, 0, len(st.Positions))
	for sym, pos := range st.Positions {
		h := types.Holding{Symbol: sym, Quantity: pos.Quantity, AverageCost: pos.AverageCost, CurrentPrice: pos.AverageCost}
		if p.prices != nil {
			if px, ok := p.prices.Price(sym); ok {
				h.CurrentPrice = px
			}
		}
		total = total.Add(decmath.FromFloat(h.MarketValue()))
		holdings = append(holdings, h)
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Symbol < holdings[j].Symbol })

	var plPct float64
	if st.StartingCash > 0 {
		start := decmath.FromFloat(st.StartingCash)
		plPct = decmath.ToFloat(total.Sub(start).Div(start).Mul(decmath.Hundred))
	}
	return types.PortfolioSummary{
		CashBalance:            decmath.Round2(st.Cash),
		TotalValue:             decmath.ToFloat(total),
		TotalProfitLossPercent: plPct,
		Holdings:               holdings,
	}, nil
}

func (p *Portfolio) cloneLocked() portfolioState {
	out := portfolioState{
		StartingCash: p.state.StartingCash,
		Cash:         p.state.Cash,
		Positions:    make(map[string]*position, len(p.state.Positions)),
	}
	for k, v := range p.state.Positions {
		cp := *v
		out.Positions[k] = &cp
	}
	return out
}
