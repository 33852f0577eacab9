// Package risk holds the pure policy functions that gate every automated
// trade. Nothing here keeps state; the same inputs always give the same
// answer.
package risk

import (
	"errors"
	"fmt"
	"math"

	"autotrader/internal/config"
	"autotrader/internal/pkg/decmath"
	"autotrader/internal/types"

	"github.com/shopspring/decimal"
)

var ErrRiskLimitExceeded = errors.New("risk limit exceeded")

type Severity string

const (
	SeverityNone   Severity = ""
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Code identifies which rule rejected a trade.
type Code string

const (
	CodeOK            Code = ""
	CodeConfidence    Code = "confidence"
	CodeRiskLevel     Code = "risk_level"
	CodePositionLimit Code = "position_limit"
	CodeInvalid       Code = "invalid"
)

var riskFactors = map[types.RiskLevel]decimal.Decimal{
	types.RiskLow:    decimal.NewFromInt(1),
	types.RiskMedium: decimal.NewFromFloat(0.75),
	types.RiskHigh:   decimal.NewFromFloat(0.5),
}

type SizingInput struct {
	Symbol         string
	Price          float64
	Confidence     float64
	RiskLevel      types.RiskLevel
	PortfolioValue float64
	Cash           float64
}

type Sizing struct {
	Quantity      int64   `json:"quantity"`
	PositionValue float64 `json:"position_value"`
	RiskAmount    float64 `json:"risk_amount"`
	// PositionRatio is the position value as a percent of the portfolio.
	PositionRatio float64 `json:"position_ratio"`
}

// confidenceFactor scales linearly from 0.6 at 50% confidence to 1.0 at 100%.
func confidenceFactor(confidence float64) decimal.Decimal {
	c := math.Max(50, math.Min(100, confidence))
	return decimal.NewFromFloat(0.6).Add(decmath.FromFloat(c - 50).Div(decimal.NewFromInt(50)).Mul(decimal.NewFromFloat(0.4)))
}

// PositionSize computes how many whole shares to buy. A zero quantity means
// the allocation is too small and is not an error.
func PositionSize(in SizingInput, cfg config.BotConfig) Sizing {
	if in.Price <= 0 || in.PortfolioValue <= 0 {
		return Sizing{}
	}
	pv := decmath.FromFloat(in.PortfolioValue)
	alloc := pv.Mul(decmath.Pct(cfg.MaxPositionSizePct))
	factor, ok := riskFactors[in.RiskLevel]
	if !ok {
		factor = riskFactors[types.RiskHigh]
	}
	alloc = alloc.Mul(factor).Mul(confidenceFactor(in.Confidence))

	available := decmath.FromFloat(in.Cash).Sub(pv.Mul(decmath.Pct(cfg.CashReservePct)))
	if available.IsNegative() {
		available = decimal.Zero
	}
	if alloc.GreaterThan(available) {
		alloc = available
	}
	qty := decmath.FloorQuantity(decmath.ToFloat(alloc), in.Price)
	if qty <= 0 {
		return Sizing{}
	}
	value := decimal.NewFromInt(qty).Mul(decmath.FromFloat(in.Price))
	return Sizing{
		Quantity:      qty,
		PositionValue: decmath.ToFloat(value),
		RiskAmount:    decmath.ToFloat(value.Mul(decmath.Pct(cfg.StopLossPct))),
		PositionRatio: decmath.ToFloat(value.Div(pv).Mul(decmath.Hundred)),
	}
}

// TradeProposal is the trade under review together with the recommendation
// fields the policy looks at.
type TradeProposal struct {
	Symbol     string
	Action     types.Action
	Quantity   int64
	Price      float64
	Confidence float64
	RiskLevel  types.RiskLevel
}

type Assessment struct {
	Approved bool     `json:"approved"`
	Severity Severity `json:"severity"`
	Reason   string   `json:"reason"`
	Code     Code     `json:"code"`
}

// Err returns nil for approved trades, otherwise ErrRiskLimitExceeded with the reason.
func (a Assessment) Err() error {
	if a.Approved {
		return nil
	}
	return fmt.Errorf("%s: %w", a.Reason, ErrRiskLimitExceeded)
}

func reject(code Code, format string, args ...any) Assessment {
	return Assessment{Severity: SeverityHigh, Code: code, Reason: fmt.Sprintf(format, args...)}
}

// AssessTradeRisk decides whether a trade may proceed. SELL is always
// approved and only carries a warning severity.
func AssessTradeRisk(p TradeProposal, summary types.PortfolioSummary, cfg config.BotConfig) Assessment {
	switch p.Action {
	case types.ActionSell:
		if p.Quantity <= 0 || p.Price <= 0 {
			return reject(CodeInvalid, "invalid quantity %d or price %.4f", p.Quantity, p.Price)
		}
		return assessSell(p, summary, cfg)
	case types.ActionBuy:
	default:
		return reject(CodeInvalid, "unsupported action %s", p.Action)
	}

	if p.Price <= 0 {
		return reject(CodeInvalid, "invalid price %.4f", p.Price)
	}
	if p.Confidence < cfg.MinimumConfidence {
		return reject(CodeConfidence, "confidence %.1f below minimum %.1f", p.Confidence, cfg.MinimumConfidence)
	}
	if !cfg.RiskLevelEnabled(p.RiskLevel) {
		return reject(CodeRiskLevel, "risk level %s not enabled", p.RiskLevel)
	}
	// Sizing yields zero shares when cash or the allocation cannot cover one.
	if p.Quantity <= 0 {
		return reject(CodeInvalid, "position too small: %d shares at %.4f", p.Quantity, p.Price)
	}
	existing := decimal.Zero
	if h, ok := summary.Holding(p.Symbol); ok {
		existing = decmath.FromFloat(h.MarketValue())
	}
	after := existing.Add(decimal.NewFromInt(p.Quantity).Mul(decmath.FromFloat(p.Price)))
	limit := decmath.FromFloat(summary.TotalValue).Mul(decmath.Pct(cfg.MaxPositionSizePct))
	if after.GreaterThan(limit) {
		return reject(CodePositionLimit, "position %s would be %s, above limit %s (%.1f%% of portfolio)",
			p.Symbol, after.StringFixed(2), limit.StringFixed(2), cfg.MaxPositionSizePct)
	}
	sev := SeverityLow
	if p.RiskLevel == types.RiskHigh {
		sev = SeverityMedium
	}
	return Assessment{Approved: true, Severity: sev, Reason: "within limits"}
}

func assessSell(p TradeProposal, summary types.PortfolioSummary, cfg config.BotConfig) Assessment {
	h, ok := summary.Holding(p.Symbol)
	if !ok || h.AverageCost <= 0 || !decmath.LT(p.Price, h.AverageCost) {
		return Assessment{Approved: true, Severity: SeverityLow, Reason: "sell approved"}
	}
	lossPct := decmath.ToFloat(decmath.FromFloat(h.AverageCost - p.Price).Div(decmath.FromFloat(h.AverageCost)).Mul(decmath.Hundred))
	sev := SeverityMedium
	if cfg.StopLossPct > 0 && lossPct > cfg.StopLossPct {
		sev = SeverityHigh
	}
	return Assessment{Approved: true, Severity: sev, Reason: fmt.Sprintf("selling at a %.2f%% loss", lossPct)}
}

// CheckDrawdown is true while the absolute portfolio P/L stays within the
// configured drawdown limit. Gains beyond the limit also trip it.
func CheckDrawdown(summary types.PortfolioSummary, cfg config.BotConfig) bool {
	return math.Abs(summary.TotalProfitLossPercent) <= cfg.MaxPortfolioDrawdownPct
}

type TargetType string

const (
	TargetStopLoss   TargetType = "STOP_LOSS"
	TargetTakeProfit TargetType = "TAKE_PROFIT"
)

type Target struct {
	Symbol        string     `json:"symbol"`
	Type          TargetType `json:"type"`
	ShouldExecute bool       `json:"should_execute"`
	Quantity      int64      `json:"quantity"`
	CurrentPrice  float64    `json:"current_price"`
	TriggerPrice  float64    `json:"trigger_price"`
}

// CheckStopLossTargets evaluates every open position against the configured
// stop-loss and take-profit percentages. Positions without a price are
// skipped. Type names the boundary the price sits closest to.
func CheckStopLossTargets(holdings []types.Holding, prices map[string]float64, cfg config.BotConfig) []Target {
	out := make([]Target, 0, len(holdings))
	for _, h := range holdings {
		if h.Quantity <= 0 || h.AverageCost <= 0 {
			continue
		}
		price, ok := prices[h.Symbol]
		if !ok || price <= 0 {
			price = h.CurrentPrice
		}
		if price <= 0 {
			continue
		}
		t := Target{Symbol: h.Symbol, Quantity: h.Quantity, CurrentPrice: price}
		stop := decmath.Below(h.AverageCost, cfg.StopLossPct)
		take := decmath.Above(h.AverageCost, cfg.TakeProfitPct)
		if decmath.LT(price, h.AverageCost) {
			t.Type, t.TriggerPrice = TargetStopLoss, stop
			t.ShouldExecute = cfg.StopLossPct > 0 && decmath.StopHit(price, stop)
		} else {
			t.Type, t.TriggerPrice = TargetTakeProfit, take
			t.ShouldExecute = cfg.TakeProfitPct > 0 && decmath.TargetHit(price, take)
		}
		out = append(out, t)
	}
	return out
}

// EmergencyState is the rolling health the orchestrator tracks between scans.
type EmergencyState struct {
	DrawdownBreachScans int
	CircuitOpen         bool
	DataFailures        int
}

type Emergency struct {
	Required bool
	Reason   string
	// Fatal conditions need operator intervention rather than a plain stop.
	Fatal bool
}

func IsEmergencyStopRequired(s EmergencyState, cfg config.BotConfig) Emergency {
	if s.CircuitOpen {
		return Emergency{Required: true, Fatal: true, Reason: "repeated trade execution failures"}
	}
	if cfg.MaxConsecutiveFailures > 0 && s.DataFailures >= cfg.MaxConsecutiveFailures {
		return Emergency{Required: true, Fatal: true, Reason: fmt.Sprintf("market data failed %d scans in a row", s.DataFailures)}
	}
	if cfg.EmergencyDrawdownScans > 0 && s.DrawdownBreachScans >= cfg.EmergencyDrawdownScans {
		return Emergency{Required: true, Reason: fmt.Sprintf("drawdown limit breached for %d consecutive scans", s.DrawdownBreachScans)}
	}
	return Emergency{}
}
