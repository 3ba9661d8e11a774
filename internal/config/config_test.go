package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketcore/internal/model"
	"marketcore/internal/model/enum"
	"marketcore/internal/ring"
	"marketcore/pkg/exception"
	"marketcore/pkg/websocket"
)

const sampleYAML = `
monitor_interval: 50ms
batch_window: 500ms
exchanges:
  okx:
    ws: wss://ws.okx.test/ws/v5/public
    bootstrap: true
    ping_interval: 20s
reconnect:
  interval: 100ms
  max_interval: 2s
  mode: fixed
  max_attempts: 3
consistency:
  spread_warning_pct: 0.2
  spread_critical_pct: 0.8
  time_sync_warning_ms: 40
book:
  price_scale: 2
  quantity_scale: 6
books:
  - symbol: BTC/USDT
    price_min: 10000
    price_max: 200000
    buckets: 1024
    slots: 32
staging:
  overflow: drop_oldest
affinity:
  enabled: true
  network_cpus: [1, 2]
  process_cpu: 3
subscriptions:
  - {exchange: binance, symbol: BTC/USDT, channel: orderbook}
  - {exchange: okx, symbol: BTC-USDT, channel: trade}
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeFile(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 50*time.Millisecond, cfg.MonitorInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.BatchWindow)
	assert.Equal(t, 5*time.Second, cfg.SnapshotMaxAge)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.Equal(t, 10, cfg.Consistency.VolumeDepth)
	assert.Equal(t, 1<<16, cfg.Staging.Updates)
	assert.Equal(t, ring.OverflowDropOldest, cfg.Staging.Policy())

	subs, err := cfg.SubscriptionList()
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "binance:BTC/USDT:orderbook", subs[0].String())
	assert.Equal(t, enum.ChannelTrade, subs[1].Channel)

	st := cfg.StreamSettings()
	assert.Equal(t, websocket.BackoffFixed, st.Backoff.Mode)
	assert.Equal(t, 100*time.Millisecond, st.Backoff.Min)
	assert.Equal(t, 3, st.Backoff.MaxAttempts)
	assert.Equal(t, []int{1, 2}, st.NetworkCPUs)
	assert.True(t, st.Endpoints["okx"].Bootstrap)
	assert.Equal(t, 20*time.Second, st.Endpoints["okx"].PingInterval)

	th := cfg.Consistency.Thresholds()
	assert.Equal(t, 0.2, th.SpreadWarningPct)
	assert.Equal(t, 40*time.Millisecond, th.TimeSyncWarning)
	assert.Zero(t, th.TimeSyncCritical)
}

func TestBootstrapDefaults(t *testing.T) {
	testCases := []struct {
		desc    string
		content string
		binance bool
		okx     bool
	}{
		{"exchange default", "exchanges:\n  binance:\n    ping_interval: 1s\n  okx: {}\n", true, false},
		{"explicit off", "exchanges:\n  binance:\n    bootstrap: false\n", false, false},
		{"explicit on", "exchanges:\n  okx:\n    bootstrap: true\n", false, true},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg, err := Load(writeFile(t, tc.content))
			require.NoError(t, err)
			st := cfg.StreamSettings()
			assert.Equal(t, tc.binance, st.Endpoints["binance"].Bootstrap)
			assert.Equal(t, tc.okx, st.Endpoints["okx"].Bootstrap)
		})
	}
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, cfg.MonitorInterval)
	assert.Equal(t, "exponential", cfg.Reconnect.Mode)
	assert.Empty(t, cfg.Subscriptions)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MARKETCORE_METRICS_ADDR", ":9999")
	t.Setenv("MARKETCORE_CONSISTENCY_SPREAD_WARNING_PCT", "0.3")

	cfg, err := Load(writeFile(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.MetricsAddr)
	assert.Equal(t, 0.3, cfg.Consistency.SpreadWarningPct)
}

func TestLoadInvalid(t *testing.T) {
	testCases := []struct {
		desc    string
		content string
		want    error
	}{
		{
			desc:    "unknown exchange section",
			content: "exchanges:\n  kraken:\n    ws: wss://ws.kraken.test\n",
			want:    exception.ErrConfigUnknownExchange,
		},
		{
			desc:    "unknown subscription exchange",
			content: "subscriptions:\n  - {exchange: kraken, symbol: BTC/USDT, channel: trade}\n",
			want:    exception.ErrConfigUnknownExchange,
		},
		{
			desc:    "bad websocket scheme",
			content: "exchanges:\n  binance:\n    ws: https://stream.binance.test\n",
			want:    exception.ErrConfigMissingEndpoint,
		},
		{
			desc:    "critical below warning",
			content: "consistency:\n  spread_warning_pct: 1\n  spread_critical_pct: 0.5\n",
			want:    exception.ErrConfigInvalid,
		},
		{
			desc:    "unknown channel",
			content: "subscriptions:\n  - {exchange: okx, symbol: BTC/USDT, channel: ticker}\n",
			want:    exception.ErrConfigInvalid,
		},
		{
			desc:    "inverted price range",
			content: "books:\n  - {symbol: ETH/USDT, price_min: 5000, price_max: 100}\n",
			want:    exception.ErrConfigInvalid,
		},
		{
			desc:    "batch window shorter than skew threshold",
			content: "batch_window: 50ms\nconsistency:\n  time_sync_warning_ms: 100\n",
			want:    exception.ErrConfigInvalid,
		},
		{
			desc:    "bad overflow policy",
			content: "staging:\n  overflow: spill\n",
			want:    exception.ErrConfigInvalid,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestBookResolver(t *testing.T) {
	cfg, err := Load(writeFile(t, sampleYAML))
	require.NoError(t, err)

	resolve := cfg.BookResolver()

	btc := resolve(model.NewSymbol("BTC", "USDT"))
	assert.True(t, btc.UsesBuckets())
	assert.Equal(t, 1024, btc.Buckets)
	assert.Equal(t, 10000.0, btc.MinPrice)

	eth := resolve(model.NewSymbol("ETH", "USDT"))
	assert.False(t, eth.UsesBuckets())
	assert.Equal(t, 2, eth.PriceScale)
	assert.Equal(t, 6, eth.QuantityScale)
}

func TestHolderReload(t *testing.T) {
	path := writeFile(t, sampleYAML)
	h, err := Open(path)
	require.NoError(t, err)

	var calls []float64
	h.OnChange(func(prev, next Config) {
		calls = append(calls, prev.Consistency.SpreadWarningPct, next.Consistency.SpreadWarningPct)
	})

	updated := sampleYAML + "\nmetrics_addr: \":9200\"\n"
	updated = strings.Replace(updated, "spread_warning_pct: 0.2", "spread_warning_pct: 0.4", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	require.NoError(t, h.Reload())

	assert.Equal(t, ":9200", h.Get().MetricsAddr)
	assert.Equal(t, []float64{0.2, 0.4}, calls)

	require.NoError(t, os.WriteFile(path, []byte("staging:\n  overflow: spill\n"), 0o600))
	err = h.Reload()
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrConfigInvalid)
	assert.Equal(t, 0.4, h.Get().Consistency.SpreadWarningPct, "invalid reload keeps previous config")
	assert.Len(t, calls, 2)
}

func TestExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.yaml"))
	require.NoError(t, err)

	subs, err := cfg.SubscriptionList()
	require.NoError(t, err)
	assert.Len(t, subs, 5)
	assert.Contains(t, cfg.Exchanges, "huobi")
	assert.False(t, cfg.Affinity.Enabled)
	assert.Empty(t, cfg.StreamSettings().NetworkCPUs)
}
