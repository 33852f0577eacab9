package apihttp

import (
	"fmt"
	"strings"
	"time"

	"autotrader/internal/config"
	"autotrader/internal/types"
)

// BotConfigDTO is BotConfig with durations as strings ("15m", "5s").
type BotConfigDTO struct {
	ScanInterval            string            `json:"scan_interval"`
	ExecutionDelay          string            `json:"execution_delay"`
	MinimumConfidence       float64           `json:"minimum_confidence"`
	RiskLevelsEnabled       []types.RiskLevel `json:"risk_levels_enabled"`
	MaxPositionSizePct      float64           `json:"max_position_size_pct"`
	MaxDailyTrades          int               `json:"max_daily_trades"`
	MaxDailyAmount          float64           `json:"max_daily_amount"`
	StopLossPct             float64           `json:"stop_loss_pct"`
	TakeProfitPct           float64           `json:"take_profit_pct"`
	TrailingStopPct         float64           `json:"trailing_stop_pct"`
	MaxPortfolioDrawdownPct float64           `json:"max_portfolio_drawdown_pct"`
	TradingHoursOnly        bool              `json:"trading_hours_only"`
	MinLiquidity            float64           `json:"min_liquidity"`
	DiversificationTarget   int               `json:"diversification_target"`
	CashReservePct          float64           `json:"cash_reserve_pct"`
	CandidateLimit          int               `json:"candidate_limit"`
	ProtectiveMode          string            `json:"protective_mode"`
	OrderTTL                string            `json:"order_ttl"`
	EmergencyDrawdownScans  int               `json:"emergency_drawdown_scans"`
	MaxConsecutiveFailures  int               `json:"max_consecutive_failures"`
}

func toDTO(c config.BotConfig) BotConfigDTO {
	return BotConfigDTO{
		ScanInterval:            c.ScanInterval.String(),
		ExecutionDelay:          c.ExecutionDelay.String(),
		MinimumConfidence:       c.MinimumConfidence,
		RiskLevelsEnabled:       append([]types.RiskLevel(nil), c.RiskLevelsEnabled...),
		MaxPositionSizePct:      c.MaxPositionSizePct,
		MaxDailyTrades:          c.MaxDailyTrades,
		MaxDailyAmount:          c.MaxDailyAmount,
		StopLossPct:             c.StopLossPct,
		TakeProfitPct:           c.TakeProfitPct,
		TrailingStopPct:         c.TrailingStopPct,
		MaxPortfolioDrawdownPct: c.MaxPortfolioDrawdownPct,
		TradingHoursOnly:        c.TradingHoursOnly,
		MinLiquidity:            c.MinLiquidity,
		DiversificationTarget:   c.DiversificationTarget,
		CashReservePct:          c.CashReservePct,
		CandidateLimit:          c.CandidateLimit,
		ProtectiveMode:          c.ProtectiveMode,
		OrderTTL:                c.OrderTTL.String(),
		EmergencyDrawdownScans:  c.EmergencyDrawdownScans,
		MaxConsecutiveFailures:  c.MaxConsecutiveFailures,
	}
}

func (d BotConfigDTO) toConfig() (config.BotConfig, error) {
	parse := func(field, v string) (time.Duration, error) {
		if v == "" {
			return 0, nil
		}
		dur, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", field, err)
		}
		return dur, nil
	}
	scan, err := parse("scan_interval", d.ScanInterval)
	if err != nil {
		return config.BotConfig{}, err
	}
	delay, err := parse("execution_delay", d.ExecutionDelay)
	if err != nil {
		return config.BotConfig{}, err
	}
	ttl, err := parse("order_ttl", d.OrderTTL)
	if err != nil {
		return config.BotConfig{}, err
	}
	levels := make([]types.RiskLevel, 0, len(d.RiskLevelsEnabled))
	for _, l := range d.RiskLevelsEnabled {
		parsed, err := types.ParseRiskLevel(string(l))
		if err != nil {
			return config.BotConfig{}, fmt.Errorf("risk_levels_enabled: %w", err)
		}
		levels = append(levels, parsed)
	}
	return config.BotConfig{
		ScanInterval:            scan,
		ExecutionDelay:          delay,
		MinimumConfidence:       d.MinimumConfidence,
		RiskLevelsEnabled:       levels,
		MaxPositionSizePct:      d.MaxPositionSizePct,
		MaxDailyTrades:          d.MaxDailyTrades,
		MaxDailyAmount:          d.MaxDailyAmount,
		StopLossPct:             d.StopLossPct,
		TakeProfitPct:           d.TakeProfitPct,
		TrailingStopPct:         d.TrailingStopPct,
		MaxPortfolioDrawdownPct: d.MaxPortfolioDrawdownPct,
		TradingHoursOnly:        d.TradingHoursOnly,
		MinLiquidity:            d.MinLiquidity,
		DiversificationTarget:   d.DiversificationTarget,
		CashReservePct:          d.CashReservePct,
		CandidateLimit:          d.CandidateLimit,
		ProtectiveMode:          strings.ToLower(strings.TrimSpace(d.ProtectiveMode)),
		OrderTTL:                ttl,
		EmergencyDrawdownScans:  d.EmergencyDrawdownScans,
		MaxConsecutiveFailures:  d.MaxConsecutiveFailures,
	}, nil
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type priceRequest struct {
	Symbol string  `json:"symbol" binding:"required"`
	Price  float64 `json:"price" binding:"required,gt=0"`
}
