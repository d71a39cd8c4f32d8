package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stock_bot/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
tickers: [AAPL, MSFT]
stream:
  url: ws://localhost:8080/stream
`

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Tickers)
	assert.Equal(t, 5*time.Second, cfg.Stream.StallTimeout)
	assert.Equal(t, 15*time.Minute, cfg.Stream.MaxSession)
	assert.Equal(t, 8*1024, cfg.Window.InitialChunk)
	assert.True(t, cfg.Portfolio.StartingCash.Equal(decimal.NewFromInt(100_000)))
	assert.Equal(t, []string{"_date.txt"}, cfg.Ingest.Retain)

	session, err := cfg.MarketSession()
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour+30*time.Minute, session.Open)
	assert.Equal(t, 16*time.Hour, session.Close)
}

func TestParseConfig_Overrides(t *testing.T) {
	data := minimalYAML + `
ingest:
  queue_capacity: 10
  flush_interval: 250ms
portfolio:
  starting_cash: "2500.50"
bots:
  - { name: rsi_bot, strategy: rsi, risk: 0.05, params: { length: 7 } }
`
	cfg, err := ParseConfig([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Ingest.QueueCapacity)
	assert.Equal(t, 250*time.Millisecond, cfg.Ingest.FlushInterval)
	assert.True(t, cfg.Portfolio.StartingCash.Equal(decimal.RequireFromString("2500.50")))
	require.Len(t, cfg.Bots, 1)
	assert.Equal(t, 7.0, cfg.Bots[0].Params["length"])
}

func TestParseConfig_Env(t *testing.T) {
	t.Setenv("STOCKBOT_STREAM_URL", "wss://example.test/ws")
	t.Setenv("STOCKBOT_TICKERS", "NVDA,AMD")
	t.Setenv("STOCKBOT_LOG_LEVEL", "debug")
	t.Setenv("STOCKBOT_SCREENER_URL", "https://screener.test/most-active")

	cfg, err := ParseConfig([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "wss://example.test/ws", cfg.Stream.URL)
	assert.Equal(t, []string{"NVDA", "AMD"}, cfg.Tickers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "https://screener.test/most-active", cfg.Universe.ScreenerURL)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"missing tickers", "stream: {url: ws://x}", "Config.Tickers"},
		{"bad scheme", "tickers: [A]\nstream: {url: http://x}", "stream.url"},
		{"bad level", minimalYAML + "logging: {level: loud}", "Config.Logging.Level"},
		{"closed market", minimalYAML + "scheduler: {market_open: '17:00'}", "scheduler.market_open"},
		{"backoff max below initial", "tickers: [A]\nstream: {url: ws://x, backoff: {clean: {initial: 10s, max: 1s, multiplier: 2}}}", "Config.Stream.Backoff.Clean.Max"},
		{"bad screener", minimalYAML + "universe: {screener_url: ftp://x}", "universe.screener_url"},
		{"duplicate bots", minimalYAML + "bots: [{name: a, strategy: rsi}, {name: a, strategy: cci}]", "bots"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			require.Error(t, err)

			var cerr *domain.ConfigError
			require.True(t, errors.As(err, &cerr), "expected ConfigError, got %v", err)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, domain.ErrConfigNotFound)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/stream", cfg.Stream.URL)
}
