package config

import (
	"fmt"
	"strings"
	"time"

	"autotrader/internal/types"
)

// validate performs basic range checks on the loaded configuration.
func validate(c *Config) error {
	if err := c.Bot.Validate(); err != nil {
		return err
	}
	if err := c.Providers.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if c.Paper.StartingCash < 0 {
		return fmt.Errorf("paper.starting_cash must be >= 0")
	}
	return c.Notify.validate()
}

var notifyEvents = map[string]bool{
	"state_changed":   true,
	"trade_completed": true,
	"trade_failed":    true,
	"order_triggered": true,
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled && (strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "") {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	for _, ev := range n.Events {
		if !notifyEvents[strings.ToLower(strings.TrimSpace(ev))] {
			return fmt.Errorf("notify.events: unknown event %q", ev)
		}
	}
	return nil
}

// Validate checks a bot configuration before it is applied. Zero daily caps
// mean "unlimited".
func (b BotConfig) Validate() error {
	if b.ScanInterval < time.Minute {
		return fmt.Errorf("bot.scan_interval must be at least 1m, got %s", b.ScanInterval)
	}
	if b.ExecutionDelay < 0 {
		return fmt.Errorf("bot.execution_delay must be >= 0")
	}
	if b.MinimumConfidence < 0 || b.MinimumConfidence > 100 {
		return fmt.Errorf("bot.minimum_confidence must be within [0,100]")
	}
	if len(b.RiskLevelsEnabled) == 0 {
		return fmt.Errorf("bot.risk_levels_enabled requires at least one level")
	}
	for _, l := range b.RiskLevelsEnabled {
		if _, err := types.ParseRiskLevel(string(l)); err != nil {
			return fmt.Errorf("bot.risk_levels_enabled: %w", err)
		}
	}
	pcts := []struct {
		key string
		val float64
	}{
		{"bot.max_position_size_pct", b.MaxPositionSizePct},
		{"bot.stop_loss_pct", b.StopLossPct},
		{"bot.take_profit_pct", b.TakeProfitPct},
		{"bot.max_portfolio_drawdown_pct", b.MaxPortfolioDrawdownPct},
	}
	for _, p := range pcts {
		if p.val <= 0 || p.val > 100 {
			return fmt.Errorf("%s must be within (0,100], got %.2f", p.key, p.val)
		}
	}
	if b.TrailingStopPct < 0 || b.TrailingStopPct >= 100 {
		return fmt.Errorf("bot.trailing_stop_pct must be within [0,100)")
	}
	if b.CashReservePct < 0 || b.CashReservePct >= 100 {
		return fmt.Errorf("bot.cash_reserve_pct must be within [0,100)")
	}
	if b.MaxDailyTrades < 0 || b.MaxDailyAmount < 0 {
		return fmt.Errorf("bot daily limits must be >= 0")
	}
	if b.MinLiquidity < 0 || b.DiversificationTarget < 0 {
		return fmt.Errorf("bot.min_liquidity and bot.diversification_target must be >= 0")
	}
	if b.CandidateLimit <= 0 {
		return fmt.Errorf("bot.candidate_limit must be > 0")
	}
	switch b.ProtectiveMode {
	case ProtectiveBracket, ProtectiveLadder, ProtectiveNone:
	case ProtectiveTrailing:
		if b.TrailingStopPct <= 0 {
			return fmt.Errorf("bot.protective_mode=trailing requires bot.trailing_stop_pct > 0")
		}
	default:
		return fmt.Errorf("bot.protective_mode %q is not one of bracket|ladder|trailing|none", b.ProtectiveMode)
	}
	if b.OrderTTL < 0 {
		return fmt.Errorf("bot.order_ttl must be >= 0")
	}
	if b.EmergencyDrawdownScans <= 0 || b.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("bot emergency thresholds must be > 0")
	}
	return nil
}

func (p *ProvidersConfig) validate() error {
	entries := p.EnabledEntries()
	if len(entries) == 0 {
		return fmt.Errorf("providers.entries requires at least one enabled provider")
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			return fmt.Errorf("providers.entries contains an entry without name")
		}
		if seen[e.Name] {
			return fmt.Errorf("providers.entries has duplicate name %s", e.Name)
		}
		seen[e.Name] = true
		if strings.TrimSpace(e.Model) == "" {
			return fmt.Errorf("providers.%s missing model", e.Name)
		}
		if strings.TrimSpace(e.APIURL) == "" {
			return fmt.Errorf("providers.%s missing api_url", e.Name)
		}
	}
	if p.Preferred != "" && !seen[p.Preferred] {
		return fmt.Errorf("providers.preferred %s is not an enabled provider", p.Preferred)
	}
	if p.RetryAttempts <= 0 {
		return fmt.Errorf("providers.retry_attempts must be > 0")
	}
	if p.ResetHourUTC < 0 || p.ResetHourUTC > 23 {
		return fmt.Errorf("providers.reset_hour_utc must be within [0,23]")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	switch m.Source {
	case "binance":
	case "paper":
		if strings.TrimSpace(m.UniversePath) == "" {
			return fmt.Errorf("market.universe_path is required for the paper source")
		}
	default:
		return fmt.Errorf("market.source %q is not one of binance|paper", m.Source)
	}
	switch m.Clock {
	case "local", "always":
	case "alpaca":
		if m.Alpaca.APIKey == "" || m.Alpaca.APISecret == "" {
			return fmt.Errorf("market.alpaca credentials are required for the alpaca clock")
		}
	default:
		return fmt.Errorf("market.clock %q is not one of local|alpaca|always", m.Clock)
	}
	if _, err := time.LoadLocation(m.Timezone); err != nil {
		return fmt.Errorf("market.timezone: %w", err)
	}
	return nil
}
