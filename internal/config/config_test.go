package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"autotrader/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
market:
  source: paper
  universe_path: universe.yaml
providers:
  entries:
    - name: alpha
      enabled: true
      api_url: https://alpha.example/v1
      model: alpha-1
      daily_limit: 50
    - name: beta
      enabled: true
      api_url: https://beta.example/v1
      model: beta-1
`

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", baseYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Bot.ScanInterval)
	assert.Equal(t, 5*time.Second, cfg.Bot.ExecutionDelay)
	assert.Equal(t, []types.RiskLevel{types.RiskLow, types.RiskMedium}, cfg.Bot.RiskLevelsEnabled)
	assert.True(t, cfg.Bot.TradingHoursOnly)
	assert.Equal(t, ProtectiveBracket, cfg.Bot.ProtectiveMode)
	assert.True(t, cfg.Providers.EnableFallback)
	assert.Equal(t, 3, cfg.Providers.RetryAttempts)
	assert.Equal(t, "alpha", cfg.Providers.Preferred)
	assert.Equal(t, 100, cfg.Providers.Entries[1].DailyLimit)
	assert.Equal(t, "openai", cfg.Providers.Entries[0].Kind)
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	dir := t.TempDir()
	body := baseYAML + `
bot:
  scan_interval: 30m
  trading_hours_only: false
  max_daily_trades: 0
  risk_levels_enabled: [low, medium, high]
  protective_mode: LADDER
`
	path := writeConfig(t, dir, "config.yaml", body)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.Bot.ScanInterval)
	assert.False(t, cfg.Bot.TradingHoursOnly)
	assert.Equal(t, 0, cfg.Bot.MaxDailyTrades)
	assert.True(t, cfg.Bot.RiskLevelEnabled(types.RiskHigh))
	assert.Equal(t, ProtectiveLadder, cfg.Bot.ProtectiveMode)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", baseYAML)
	path := writeConfig(t, dir, "config.yaml", `
include: [base.yaml]
bot:
  minimum_confidence: 90
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90.0, cfg.Bot.MinimumConfidence)
	assert.Len(t, cfg.Providers.Entries, 2)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown preferred": baseYAML + "  preferred: gamma\n",
		"confidence range":  baseYAML + "bot:\n  minimum_confidence: 120\n",
		"protective mode":   baseYAML + "bot:\n  protective_mode: stacked\n",
		"short interval":    baseYAML + "bot:\n  scan_interval: 10s\n",
		"telegram creds":    baseYAML + "notify:\n  telegram:\n    enabled: true\n",
		"notify event":      baseYAML + "notify:\n  events: [lunch_break]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "config.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestBotConfigCloneIsIndependent(t *testing.T) {
	b := DefaultBotConfig()
	c := b.Clone()
	c.RiskLevelsEnabled[0] = types.RiskHigh
	assert.Equal(t, types.RiskLow, b.RiskLevelsEnabled[0])
	assert.NoError(t, b.Validate())
}

func TestLoadExpandsSecretsFromEnv(t *testing.T) {
	t.Setenv("ALPHA_KEY", "sk-test")
	dir := t.TempDir()
	body := `
market:
  source: paper
  universe_path: universe.yaml
providers:
  entries:
    - name: alpha
      enabled: true
      api_url: https://alpha.example/v1
      api_key: ${ALPHA_KEY}
      model: alpha-1
`
	cfg, err := Load(writeConfig(t, dir, "config.yaml", body))
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Providers.Entries[0].APIKey)
}
