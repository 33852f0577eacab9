package config

import (
	"strings"
	"time"

	"autotrader/internal/types"
)

// Config is the host process configuration. Only Bot is mutable at runtime.
type Config struct {
	App       AppConfig       `yaml:"app" json:"app"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Bot       BotConfig       `yaml:"bot" json:"bot"`
	Providers ProvidersConfig `yaml:"providers" json:"providers"`
	Market    MarketConfig    `yaml:"market" json:"market"`
	Paper     PaperConfig     `yaml:"paper" json:"paper"`
	Notify    NotifyConfig    `yaml:"notify" json:"notify"`
}

type AppConfig struct {
	Env             string `yaml:"env" json:"env"`
	LogLevel        string `yaml:"log_level" json:"log_level"`
	HTTPAddr        string `yaml:"http_addr" json:"http_addr"`
	LogPath         string `yaml:"log_path" json:"log_path"`
	ExchangeLogPath string `yaml:"exchange_log_path" json:"exchange_log_path"`
	AutoStart       bool   `yaml:"auto_start" json:"auto_start"`
}

// StoreConfig selects the persistence backend. An empty path keeps state in
// memory only.
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// BotConfig holds every threshold the engine reads. Percent fields are in
// percent units (10 means 10%).
type BotConfig struct {
	ScanInterval            time.Duration     `yaml:"scan_interval" json:"scan_interval"`
	ExecutionDelay          time.Duration     `yaml:"execution_delay" json:"execution_delay"`
	MinimumConfidence       float64           `yaml:"minimum_confidence" json:"minimum_confidence"`
	RiskLevelsEnabled       []types.RiskLevel `yaml:"risk_levels_enabled" json:"risk_levels_enabled"`
	MaxPositionSizePct      float64           `yaml:"max_position_size_pct" json:"max_position_size_pct"`
	MaxDailyTrades          int               `yaml:"max_daily_trades" json:"max_daily_trades"`
	MaxDailyAmount          float64           `yaml:"max_daily_amount" json:"max_daily_amount"`
	StopLossPct             float64           `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	TakeProfitPct           float64           `yaml:"take_profit_pct" json:"take_profit_pct"`
	TrailingStopPct         float64           `yaml:"trailing_stop_pct" json:"trailing_stop_pct"`
	MaxPortfolioDrawdownPct float64           `yaml:"max_portfolio_drawdown_pct" json:"max_portfolio_drawdown_pct"`
	TradingHoursOnly        bool              `yaml:"trading_hours_only" json:"trading_hours_only"`
	MinLiquidity            float64           `yaml:"min_liquidity" json:"min_liquidity"`
	DiversificationTarget   int               `yaml:"diversification_target" json:"diversification_target"`
	CashReservePct          float64           `yaml:"cash_reserve_pct" json:"cash_reserve_pct"`
	CandidateLimit          int               `yaml:"candidate_limit" json:"candidate_limit"`
	ProtectiveMode          string            `yaml:"protective_mode" json:"protective_mode"`
	OrderTTL                time.Duration     `yaml:"order_ttl" json:"order_ttl"`
	EmergencyDrawdownScans  int               `yaml:"emergency_drawdown_scans" json:"emergency_drawdown_scans"`
	MaxConsecutiveFailures  int               `yaml:"max_consecutive_failures" json:"max_consecutive_failures"`
}

const (
	ProtectiveBracket  = "bracket"
	ProtectiveLadder   = "ladder"
	ProtectiveTrailing = "trailing"
	ProtectiveNone     = "none"
)

// RiskLevelEnabled reports whether recommendations at level may trade.
func (b BotConfig) RiskLevelEnabled(level types.RiskLevel) bool {
	for _, l := range b.RiskLevelsEnabled {
		if strings.EqualFold(string(l), string(level)) {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with b.
func (b BotConfig) Clone() BotConfig {
	out := b
	if len(b.RiskLevelsEnabled) > 0 {
		out.RiskLevelsEnabled = append([]types.RiskLevel(nil), b.RiskLevelsEnabled...)
	}
	return out
}

type ProvidersConfig struct {
	Preferred      string          `yaml:"preferred" json:"preferred"`
	EnableFallback bool            `yaml:"enable_fallback" json:"enable_fallback"`
	RetryAttempts  int             `yaml:"retry_attempts" json:"retry_attempts"`
	RequestTimeout time.Duration   `yaml:"request_timeout" json:"request_timeout"`
	BackoffBase    time.Duration   `yaml:"backoff_base" json:"backoff_base"`
	BackoffCap     time.Duration   `yaml:"backoff_cap" json:"backoff_cap"`
	ResetHourUTC   int             `yaml:"reset_hour_utc" json:"reset_hour_utc"`
	Entries        []ProviderEntry `yaml:"entries" json:"entries"`
}

// ProviderEntry describes one AI vendor endpoint and its daily allowance.
type ProviderEntry struct {
	Name       string            `yaml:"name" json:"name"`
	Kind       string            `yaml:"kind" json:"kind"`
	Enabled    bool              `yaml:"enabled" json:"enabled"`
	APIURL     string            `yaml:"api_url" json:"api_url"`
	APIKey     string            `yaml:"api_key" json:"-"`
	Model      string            `yaml:"model" json:"model"`
	DailyLimit int               `yaml:"daily_limit" json:"daily_limit"`
	Headers    map[string]string `yaml:"headers" json:"-"`
}

// EnabledEntries returns providers that take part in dispatch, in file order.
func (p ProvidersConfig) EnabledEntries() []ProviderEntry {
	out := make([]ProviderEntry, 0, len(p.Entries))
	for _, e := range p.Entries {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out
}

type MarketConfig struct {
	Source       string        `yaml:"source" json:"source"`
	RESTBaseURL  string        `yaml:"rest_base_url" json:"rest_base_url"`
	QuoteAsset   string        `yaml:"quote_asset" json:"quote_asset"`
	HTTPTimeout  time.Duration `yaml:"http_timeout" json:"http_timeout"`
	UniversePath string        `yaml:"universe_path" json:"universe_path"`
	Clock        string        `yaml:"clock" json:"clock"`
	Timezone     string        `yaml:"timezone" json:"timezone"`
	Alpaca       AlpacaConfig  `yaml:"alpaca" json:"alpaca"`
}

type AlpacaConfig struct {
	APIKey    string `yaml:"api_key" json:"-"`
	APISecret string `yaml:"api_secret" json:"-"`
	BaseURL   string `yaml:"base_url" json:"base_url"`
}

// NotifyConfig controls chat notifications of engine events. An empty
// Events list forwards every kind.
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram" json:"telegram"`
	Events   []string       `yaml:"events" json:"events"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	BotToken string `yaml:"bot_token" json:"-"`
	ChatID   string `yaml:"chat_id" json:"chat_id"`
	BaseURL  string `yaml:"base_url" json:"base_url"`
}

type PaperConfig struct {
	StartingCash float64 `yaml:"starting_cash" json:"starting_cash"`
}

// keySet tracks which dotted keys were explicitly present in the file.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes how one field receives its default.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
