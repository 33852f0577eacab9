package orders

import (
	"fmt"
	"strings"
	"time"

	"autotrader/internal/config"
	"autotrader/internal/pkg/decmath"
)

// ladderLevels are the multi-level take-profit tranches: multiplier of the
// configured take-profit percent and the share of quantity each sells.
var ladderLevels = []struct {
	multiplier float64
	share      float64
}{
	{0.6, 0.33},
	{1.0, 0.33},
	{1.5, 0.34},
}

// Fill describes a completed BUY the ledger should protect.
type Fill struct {
	TradeID    string
	Symbol     string
	Quantity   int64
	EntryPrice float64
}

// CreateProtective creates the protective orders for a filled BUY according
// to cfg.ProtectiveMode. All orders of one fill share a group so together
// they never sell more than the filled quantity.
func (l *Ledger) CreateProtective(fill Fill, cfg config.BotConfig, now time.Time) ([]Order, error) {
	fill.Symbol = strings.ToUpper(strings.TrimSpace(fill.Symbol))
	if fill.Symbol == "" || fill.Quantity <= 0 || fill.EntryPrice <= 0 {
		return nil, fmt.Errorf("invalid fill %s qty=%d price=%.4f", fill.Symbol, fill.Quantity, fill.EntryPrice)
	}
	mode := strings.ToLower(strings.TrimSpace(cfg.ProtectiveMode))
	if mode == "" {
		mode = config.ProtectiveBracket
	}
	if mode == config.ProtectiveNone {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	group := l.newID()
	base := func(kind Kind) *Order {
		o := &Order{
			ID:            l.newID(),
			Kind:          kind,
			Symbol:        fill.Symbol,
			Quantity:      fill.Quantity,
			EntryPrice:    fill.EntryPrice,
			Status:        StatusActive,
			CreatedAt:     now,
			SourceTradeID: fill.TradeID,
			GroupID:       group,
		}
		if cfg.OrderTTL > 0 {
			exp := now.Add(cfg.OrderTTL)
			o.ExpiresAt = &exp
		}
		return o
	}
	stop := decmath.Below(fill.EntryPrice, cfg.StopLossPct)
	target := decmath.Above(fill.EntryPrice, cfg.TakeProfitPct)

	var created []*Order
	switch mode {
	case config.ProtectiveBracket:
		parent := base(KindOCO)
		sl := base(KindStopLoss)
		sl.StopLoss = &StopLoss{StopPrice: stop}
		sl.ParentID = parent.ID
		tp := base(KindTakeProfit)
		tp.TakeProfit = &TakeProfit{TargetPrice: target}
		tp.ParentID = parent.ID
		parent.OCO = &OCO{StopLossID: sl.ID, TakeProfitID: tp.ID}
		created = []*Order{parent, sl, tp}
	case config.ProtectiveLadder:
		sl := base(KindStopLoss)
		sl.StopLoss = &StopLoss{StopPrice: stop}
		tp := base(KindTakeProfit)
		tp.TakeProfit = &TakeProfit{TargetPrice: target, Levels: buildLevels(fill, cfg.TakeProfitPct)}
		created = []*Order{sl, tp}
	case config.ProtectiveTrailing:
		tr := base(KindTrailingStop)
		tr.Trailing = &Trailing{
			TrailPercent:     cfg.TrailingStopPct,
			HighWaterMark:    fill.EntryPrice,
			CurrentStopPrice: decmath.Below(fill.EntryPrice, cfg.TrailingStopPct),
		}
		created = []*Order{tr}
	default:
		return nil, fmt.Errorf("unknown protective mode %q", cfg.ProtectiveMode)
	}

	l.remaining[group] = fill.Quantity
	out := make([]Order, 0, len(created))
	for _, o := range created {
		l.addLocked(o)
		out = append(out, o.clone())
	}
	l.log.Infof("protective orders created mode=%s symbol=%s qty=%d entry=%.4f group=%s", mode, fill.Symbol, fill.Quantity, fill.EntryPrice, group)
	return out, nil
}

// buildLevels splits quantity 33/33/34; the last level takes the rounding
// remainder so the ladder always sums to the full quantity.
func buildLevels(fill Fill, tpPct float64) []Level {
	levels := make([]Level, 0, len(ladderLevels))
	var used int64
	for i, def := range ladderLevels {
		qty := decmath.FromFloat(float64(fill.Quantity)).Mul(decmath.FromFloat(def.share)).Floor().IntPart()
		if i == len(ladderLevels)-1 {
			qty = fill.Quantity - used
		}
		used += qty
		levels = append(levels, Level{
			Multiplier:  def.multiplier,
			TargetPrice: decmath.Above(fill.EntryPrice, tpPct*def.multiplier),
			Quantity:    qty,
		})
	}
	return levels
}
