package config

import (
	"strings"
	"time"

	"autotrader/internal/types"
)

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9991"

	defaultScanInterval           = 15 * time.Minute
	defaultExecutionDelay         = 5 * time.Second
	defaultMinimumConfidence      = 75
	defaultMaxPositionSizePct     = 10
	defaultMaxDailyTrades         = 10
	defaultMaxDailyAmount         = 10000
	defaultStopLossPct            = 5
	defaultTakeProfitPct          = 10
	defaultTrailingStopPct        = 3
	defaultMaxDrawdownPct         = 20
	defaultMinLiquidity           = 1_000_000
	defaultDiversificationTarget  = 10
	defaultCashReservePct         = 10
	defaultCandidateLimit         = 10
	defaultEmergencyDrawdownScans = 3
	defaultMaxConsecutiveFailures = 5

	defaultRetryAttempts  = 3
	defaultRequestTimeout = 10 * time.Second
	defaultBackoffBase    = time.Second
	defaultBackoffCap     = 5 * time.Second
	defaultProviderKind   = "openai"
	defaultDailyLimit     = 100

	defaultMarketSource = "paper"
	defaultMarketREST   = "https://fapi.binance.com"
	defaultQuoteAsset   = "USDT"
	defaultHTTPTimeout  = 10 * time.Second
	defaultMarketClock  = "local"
	defaultTimezone     = "America/New_York"
	defaultStartingCash = 100000
)

var defaultRiskLevels = []types.RiskLevel{types.RiskLow, types.RiskMedium}

// DefaultBotConfig returns the bot settings used when nothing is configured.
func DefaultBotConfig() BotConfig {
	var b BotConfig
	b.applyDefaults(nil)
	return b
}

// applyDefaults fills every sub-config; keys explicitly set in the file are
// left untouched even when they hold zero values.
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Bot.applyDefaults(keys)
	c.Providers.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Paper.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (b *BotConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		durationFieldDefault("bot.scan_interval", &b.ScanInterval, defaultScanInterval),
		durationFieldDefault("bot.execution_delay", &b.ExecutionDelay, defaultExecutionDelay),
		floatFieldDefault("bot.minimum_confidence", &b.MinimumConfidence, defaultMinimumConfidence),
		fieldDefault{
			key:   "bot.risk_levels_enabled",
			need:  func() bool { return len(b.RiskLevelsEnabled) == 0 },
			apply: func() { b.RiskLevelsEnabled = append([]types.RiskLevel(nil), defaultRiskLevels...) },
		},
		floatFieldDefault("bot.max_position_size_pct", &b.MaxPositionSizePct, defaultMaxPositionSizePct),
		intFieldDefault("bot.max_daily_trades", &b.MaxDailyTrades, defaultMaxDailyTrades),
		floatFieldDefault("bot.max_daily_amount", &b.MaxDailyAmount, defaultMaxDailyAmount),
		floatFieldDefault("bot.stop_loss_pct", &b.StopLossPct, defaultStopLossPct),
		floatFieldDefault("bot.take_profit_pct", &b.TakeProfitPct, defaultTakeProfitPct),
		floatFieldDefault("bot.trailing_stop_pct", &b.TrailingStopPct, defaultTrailingStopPct),
		floatFieldDefault("bot.max_portfolio_drawdown_pct", &b.MaxPortfolioDrawdownPct, defaultMaxDrawdownPct),
		boolFieldDefault("bot.trading_hours_only", &b.TradingHoursOnly, true),
		floatFieldDefault("bot.min_liquidity", &b.MinLiquidity, defaultMinLiquidity),
		intFieldDefault("bot.diversification_target", &b.DiversificationTarget, defaultDiversificationTarget),
		floatFieldDefault("bot.cash_reserve_pct", &b.CashReservePct, defaultCashReservePct),
		intFieldDefault("bot.candidate_limit", &b.CandidateLimit, defaultCandidateLimit),
		stringFieldDefault("bot.protective_mode", &b.ProtectiveMode, ProtectiveBracket),
		intFieldDefault("bot.emergency_drawdown_scans", &b.EmergencyDrawdownScans, defaultEmergencyDrawdownScans),
		intFieldDefault("bot.max_consecutive_failures", &b.MaxConsecutiveFailures, defaultMaxConsecutiveFailures),
	)
	b.ProtectiveMode = strings.ToLower(strings.TrimSpace(b.ProtectiveMode))
	for i, l := range b.RiskLevelsEnabled {
		b.RiskLevelsEnabled[i] = types.RiskLevel(strings.ToUpper(strings.TrimSpace(string(l))))
	}
}

func (p *ProvidersConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("providers.enable_fallback", &p.EnableFallback, true),
		intFieldDefault("providers.retry_attempts", &p.RetryAttempts, defaultRetryAttempts),
		durationFieldDefault("providers.request_timeout", &p.RequestTimeout, defaultRequestTimeout),
		durationFieldDefault("providers.backoff_base", &p.BackoffBase, defaultBackoffBase),
		durationFieldDefault("providers.backoff_cap", &p.BackoffCap, defaultBackoffCap),
	)
	for i := range p.Entries {
		e := &p.Entries[i]
		e.Name = strings.TrimSpace(e.Name)
		if strings.TrimSpace(e.Kind) == "" {
			e.Kind = defaultProviderKind
		}
		e.Kind = strings.ToLower(strings.TrimSpace(e.Kind))
		if e.DailyLimit <= 0 {
			e.DailyLimit = defaultDailyLimit
		}
	}
	if strings.TrimSpace(p.Preferred) == "" {
		for _, e := range p.Entries {
			if e.Enabled {
				p.Preferred = e.Name
				break
			}
		}
	}
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.source", &m.Source, defaultMarketSource),
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		stringFieldDefault("market.quote_asset", &m.QuoteAsset, defaultQuoteAsset),
		durationFieldDefault("market.http_timeout", &m.HTTPTimeout, defaultHTTPTimeout),
		stringFieldDefault("market.clock", &m.Clock, defaultMarketClock),
		stringFieldDefault("market.timezone", &m.Timezone, defaultTimezone),
	)
	m.Source = strings.ToLower(strings.TrimSpace(m.Source))
	m.Clock = strings.ToLower(strings.TrimSpace(m.Clock))
}

func (p *PaperConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("paper.starting_cash", &p.StartingCash, defaultStartingCash),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func durationFieldDefault(key string, target *time.Duration, def time.Duration) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}
