package app

import (
	"fmt"
	"strings"

	"autotrader/internal/config"
	"autotrader/internal/types"
)

type StartupSummary struct {
	Env         string
	HTTPAddr    string
	StorePath   string
	Market      MarketSummary
	Providers   []ProviderSummary
	Preferred   string
	Fallback    bool
	Bot         config.BotConfig
	AutoStarted bool
}

type MarketSummary struct {
	Source      string
	Clock       string
	Instruments int
}

type ProviderSummary struct {
	Name       string
	Model      string
	DailyLimit int
}

func newStartupSummary(cfg *config.Config, ms *MarketStack) *StartupSummary {
	s := &StartupSummary{
		Env:         cfg.App.Env,
		HTTPAddr:    cfg.App.HTTPAddr,
		StorePath:   cfg.Store.Path,
		Preferred:   cfg.Providers.Preferred,
		Fallback:    cfg.Providers.EnableFallback,
		Bot:         cfg.Bot.Clone(),
		AutoStarted: cfg.App.AutoStart,
		Market:      MarketSummary{Source: cfg.Market.Source, Clock: cfg.Market.Clock},
	}
	if ms != nil {
		s.Market.Instruments = ms.Instruments
	}
	for _, e := range cfg.Providers.EnabledEntries() {
		s.Providers = append(s.Providers, ProviderSummary{Name: e.Name, Model: e.Model, DailyLimit: e.DailyLimit})
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Print(s.String())
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	line := strings.Repeat("=", 72)
	fmt.Fprintln(&b, line)
	fmt.Fprintln(&b, "STARTUP SUMMARY")
	fmt.Fprintln(&b, line)

	fmt.Fprintln(&b, "[APP]")
	fmt.Fprintf(&b, "  env: %s\n", s.Env)
	fmt.Fprintf(&b, "  http: %s\n", s.HTTPAddr)
	fmt.Fprintf(&b, "  store: %s\n", orDash(s.StorePath, "(memory)"))
	fmt.Fprintf(&b, "  auto start: %v\n", s.AutoStarted)
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "[MARKET]")
	fmt.Fprintf(&b, "  source: %s\n", s.Market.Source)
	fmt.Fprintf(&b, "  clock: %s\n", s.Market.Clock)
	if s.Market.Instruments > 0 {
		fmt.Fprintf(&b, "  instruments: %d\n", s.Market.Instruments)
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "[PROVIDERS]")
	if len(s.Providers) == 0 {
		fmt.Fprintln(&b, "  - (none)")
	}
	for _, p := range s.Providers {
		marker := ""
		if p.Name == s.Preferred {
			marker = " (preferred)"
		}
		fmt.Fprintf(&b, "  - %s model=%s daily_limit=%d%s\n", p.Name, p.Model, p.DailyLimit, marker)
	}
	fmt.Fprintf(&b, "  fallback: %v\n", s.Fallback)
	fmt.Fprintln(&b)

	bot := s.Bot
	fmt.Fprintln(&b, "[BOT]")
	fmt.Fprintf(&b, "  scan every %s, execution delay %s\n", bot.ScanInterval, bot.ExecutionDelay)
	fmt.Fprintf(&b, "  min confidence %.0f, risk levels %s\n", bot.MinimumConfidence, formatLevels(bot.RiskLevelsEnabled))
	fmt.Fprintf(&b, "  position %.1f%%, cash reserve %.1f%%, max drawdown %.1f%%\n",
		bot.MaxPositionSizePct, bot.CashReservePct, bot.MaxPortfolioDrawdownPct)
	fmt.Fprintf(&b, "  daily trades %s, daily amount %s\n", formatLimit(float64(bot.MaxDailyTrades), "%.0f"), formatLimit(bot.MaxDailyAmount, "%.2f"))
	fmt.Fprintf(&b, "  stop loss %.1f%%, take profit %.1f%%, protective %s\n", bot.StopLossPct, bot.TakeProfitPct, bot.ProtectiveMode)
	fmt.Fprintln(&b, line)
	return b.String()
}

func formatLevels(levels []types.RiskLevel) string {
	if len(levels) == 0 {
		return "-"
	}
	out := make([]string, len(levels))
	for i, l := range levels {
		out[i] = string(l)
	}
	return strings.Join(out, ", ")
}

func formatLimit(v float64, format string) string {
	if v <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf(format, v)
}

func orDash(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
