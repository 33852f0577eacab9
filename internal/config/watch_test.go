package config

import (
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchRequiresPathAndListener(t *testing.T) {
	assert.Error(t, Watch("", func(*Config) {}))
	assert.Error(t, Watch("config.yaml", nil))
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", baseYAML)

	var trades atomic.Int64
	trades.Store(-1)
	require.NoError(t, Watch(path, func(cfg *Config) {
		trades.Store(int64(cfg.Bot.MaxDailyTrades))
	}))

	body := baseYAML + `
bot:
  max_daily_trades: 7
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	assert.Eventually(t, func() bool { return trades.Load() == 7 }, 5*time.Second, 20*time.Millisecond)
}
