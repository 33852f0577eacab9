// Package decision turns recommendations into queued trades and keeps the
// audit trail of why each recommendation did or did not trade.
package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"autotrader/internal/config"
	"autotrader/internal/logger"
	"autotrader/internal/metrics"
	"autotrader/internal/queue"
	"autotrader/internal/risk"
	"autotrader/internal/types"

	"github.com/google/uuid"
)

const defaultCapacity = 100

type Outcome string

const (
	OutcomeExecute         Outcome = "EXECUTE_TRADE"
	OutcomeSkipRisk        Outcome = "SKIP_RISK"
	OutcomeSkipConfidence  Outcome = "SKIP_CONFIDENCE"
	OutcomeSkipLimits      Outcome = "SKIP_LIMITS"
	OutcomeSkipMarketConds Outcome = "SKIP_MARKET_CONDITIONS"
)

// Decision is an immutable audit record.
type Decision struct {
	ID             string               `json:"id"`
	Timestamp      time.Time            `json:"timestamp"`
	Symbol         string               `json:"symbol"`
	Recommendation types.Recommendation `json:"recommendation"`
	Outcome        Outcome              `json:"outcome"`
	Reason         string               `json:"reason"`
	TradeID        string               `json:"trade_id,omitempty"`
}

// Context is the portfolio and market view one batch is judged against.
type Context struct {
	Config  config.BotConfig
	Summary types.PortfolioSummary
	Quotes  map[string]types.Quote
	Now     time.Time
}

// Engine applies risk policy to recommendations and enqueues approved
// trades. The decision log is a fixed-size ring.
type Engine struct {
	queue *queue.Queue
	newID func() string
	log   *logger.Logger

	mu    sync.RWMutex
	ring  []Decision
	next  int
	count int
	seen  map[string]string
}

func NewEngine(q *queue.Queue, capacity int) *Engine {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Engine{
		queue: q,
		newID: func() string { return uuid.NewString() },
		log:   logger.With("decision"),
		ring:  make([]Decision, capacity),
		seen:  make(map[string]string),
	}
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// claim marks symbol as handled today, returning false for a repeat.
func (e *Engine) claim(symbol string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	today := dayKey(now)
	for s, d := range e.seen {
		if d != today {
			delete(e.seen, s)
		}
	}
	if e.seen[symbol] == today {
		return false
	}
	e.seen[symbol] = today
	return true
}

// Process judges each recommendation in order. Duplicates for a symbol on
// the same day and HOLD verdicts produce no Decision.
func (e *Engine) Process(ctx context.Context, recs []types.Recommendation, dc Context) []Decision {
	if dc.Now.IsZero() {
		dc.Now = time.Now()
	}
	out := make([]Decision, 0, len(recs))
	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		rec.Symbol = strings.ToUpper(strings.TrimSpace(rec.Symbol))
		if rec.Symbol == "" || !e.claim(rec.Symbol, dc.Now) {
			continue
		}
		if rec.Action == types.ActionHold {
			continue
		}
		d := e.judge(rec, dc)
		e.append(d)
		metrics.Decision(string(d.Outcome))
		e.log.Infof("decision %s %s %s conf=%.0f risk=%s: %s", d.Outcome, rec.Action, rec.Symbol, rec.Confidence, rec.RiskLevel, d.Reason)
		out = append(out, d)
	}
	return out
}

func (e *Engine) judge(rec types.Recommendation, dc Context) Decision {
	d := Decision{ID: e.newID(), Timestamp: dc.Now, Symbol: rec.Symbol, Recommendation: rec}
	skip := func(o Outcome, format string, args ...any) Decision {
		d.Outcome = o
		d.Reason = fmt.Sprintf(format, args...)
		return d
	}
	cfg := dc.Config

	price := rec.TargetPrice
	quote, hasQuote := dc.Quotes[rec.Symbol]
	if hasQuote && quote.Price > 0 {
		price = quote.Price
	}
	if price <= 0 {
		return skip(OutcomeSkipMarketConds, "no price available")
	}
	if hasQuote && cfg.MinLiquidity > 0 && quote.Liquidity() < cfg.MinLiquidity {
		return skip(OutcomeSkipMarketConds, "liquidity %.0f below minimum %.0f", quote.Liquidity(), cfg.MinLiquidity)
	}

	var qty int64
	switch rec.Action {
	case types.ActionSell:
		h, ok := dc.Summary.Holding(rec.Symbol)
		if !ok {
			return skip(OutcomeSkipLimits, "no holdings to sell")
		}
		qty = h.Quantity
		a := risk.AssessTradeRisk(risk.TradeProposal{
			Symbol: rec.Symbol, Action: rec.Action, Quantity: qty, Price: price,
			Confidence: rec.Confidence, RiskLevel: rec.RiskLevel,
		}, dc.Summary, cfg)
		if !a.Approved {
			return skip(OutcomeSkipRisk, "%s", a.Reason)
		}
	case types.ActionBuy:
		sizing := risk.PositionSize(risk.SizingInput{
			Symbol:         rec.Symbol,
			Price:          price,
			Confidence:     rec.Confidence,
			RiskLevel:      rec.RiskLevel,
			PortfolioValue: dc.Summary.TotalValue,
			Cash:           dc.Summary.CashBalance,
		}, cfg)
		qty = sizing.Quantity
		a := risk.AssessTradeRisk(risk.TradeProposal{
			Symbol: rec.Symbol, Action: rec.Action, Quantity: qty, Price: price,
			Confidence: rec.Confidence, RiskLevel: rec.RiskLevel,
		}, dc.Summary, cfg)
		if !a.Approved {
			if a.Code == risk.CodeConfidence {
				return skip(OutcomeSkipConfidence, "%s", a.Reason)
			}
			return skip(OutcomeSkipRisk, "%s", a.Reason)
		}
		if _, held := dc.Summary.Holding(rec.Symbol); !held && cfg.DiversificationTarget > 0 && dc.Summary.OpenPositions() >= cfg.DiversificationTarget {
			return skip(OutcomeSkipLimits, "already holding %d positions (target %d)", dc.Summary.OpenPositions(), cfg.DiversificationTarget)
		}
	default:
		return skip(OutcomeSkipRisk, "unsupported action %s", rec.Action)
	}

	notional := float64(qty) * price
	stats := e.queue.DailyStats(dc.Now)
	if cfg.MaxDailyTrades > 0 && stats.Count >= cfg.MaxDailyTrades {
		return skip(OutcomeSkipLimits, "daily trade limit %d reached", cfg.MaxDailyTrades)
	}
	if cfg.MaxDailyAmount > 0 && stats.Amount+notional > cfg.MaxDailyAmount {
		return skip(OutcomeSkipLimits, "daily amount %.2f + %.2f exceeds %.2f", stats.Amount, notional, cfg.MaxDailyAmount)
	}

	priority := queue.PriorityMedium
	if rec.Confidence >= 90 {
		priority = queue.PriorityHigh
	}
	trade, err := e.queue.Enqueue(queue.Trade{
		Symbol:       rec.Symbol,
		Action:       rec.Action,
		Quantity:     qty,
		TargetPrice:  price,
		Priority:     priority,
		CreatedAt:    dc.Now,
		ScheduledFor: dc.Now.Add(cfg.ExecutionDelay),
		Source:       queue.SourceRecommendation,
		Reason:       rec.Reasoning,
		DecisionID:   d.ID,
	})
	if err != nil {
		if errors.Is(err, queue.ErrDuplicate) {
			return skip(OutcomeSkipLimits, "%v", err)
		}
		return skip(OutcomeSkipRisk, "%v", err)
	}
	d.Outcome = OutcomeExecute
	d.TradeID = trade.ID
	d.Reason = fmt.Sprintf("%s %d @ %.2f queued with %s priority", rec.Action, qty, price, priority)
	return d
}

func (e *Engine) append(d Decision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ring[e.next] = d
	e.next = (e.next + 1) % len(e.ring)
	if e.count < len(e.ring) {
		e.count++
	}
}

// Decisions returns up to limit decisions, newest first. limit <= 0 returns all.
func (e *Engine) Decisions(limit int) []Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if limit <= 0 || limit > e.count {
		limit = e.count
	}
	out := make([]Decision, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (e.next - i + len(e.ring)) % len(e.ring)
		out = append(out, e.ring[idx])
	}
	return out
}

// Snapshot returns retained decisions oldest first.
func (e *Engine) Snapshot() []Decision {
	all := e.Decisions(0)
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all
}

// Restore reloads decisions (oldest first) and rebuilds today's duplicate
// guard from them.
func (e *Engine) Restore(list []Decision, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.ring {
		e.ring[i] = Decision{}
	}
	e.next, e.count = 0, 0
	if over := len(list) - len(e.ring); over > 0 {
		list = list[over:]
	}
	today := dayKey(now)
	e.seen = make(map[string]string)
	for _, d := range list {
		e.ring[e.next] = d
		e.next = (e.next + 1) % len(e.ring)
		e.count++
		if dayKey(d.Timestamp) == today {
			e.seen[d.Symbol] = today
		}
	}
}
