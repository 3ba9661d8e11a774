package sink

import (
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketcore/internal/model"
	"marketcore/internal/model/enum"
	"marketcore/pkg/exception"
)

var btc = model.NewSymbol("BTC", "USDT")

func TestEncodeSnapshot(t *testing.T) {
	bid, _ := model.ParseDecimal("50000.5")
	ask, _ := model.ParseDecimal("50001")
	qty, _ := model.ParseDecimal("1.25")

	payload, err := encodeSnapshot(model.NormalizedSnapshot{
		Symbol:        btc,
		TimestampNano: 42,
		WeightedMid:   50000.75,
		Quality:       0.9,
		Books: []model.OrderBook{
			{
				Exchange: model.NewExchange("okx"),
				Symbol:   btc,
				Bids:     []model.Level{{Price: bid, Quantity: qty}},
				Asks:     []model.Level{{Price: ask, Quantity: qty}},
				Sequence: 7,
				Quality:  90,
			},
			{Exchange: model.NewExchange("bybit"), Symbol: btc, Desynced: true},
		},
	})
	require.NoError(t, err)

	var got snapshotMessage
	require.NoError(t, sonic.Unmarshal(payload, &got))
	assert.Equal(t, "BTC/USDT", got.Symbol)
	assert.Equal(t, int64(42), got.Timestamp)
	require.Len(t, got.Books, 2)
	assert.Equal(t, "okx", got.Books[0].Exchange)
	require.NotNil(t, got.Books[0].BestBid)
	assert.Equal(t, 50000.5, got.Books[0].BestBid.Price)
	assert.Equal(t, 1.25, got.Books[0].BestAsk.Quantity)
	assert.Nil(t, got.Books[1].BestBid)
	assert.False(t, got.Books[0].Desynced)
	assert.True(t, got.Books[1].Desynced)
}

func TestEncodeResult(t *testing.T) {
	payload, err := encodeResult(model.ConsistencyResult{
		ID:        "r-1",
		Symbol:    btc,
		Check:     enum.CheckTimeSync,
		Severity:  enum.SeverityWarning,
		Exchanges: []model.Exchange{model.NewExchange("binance"), model.NewExchange("okx")},
		Values:    map[string]float64{"skew_ms": 50},
	})
	require.NoError(t, err)

	var got resultMessage
	require.NoError(t, sonic.Unmarshal(payload, &got))
	assert.Equal(t, "time_sync", got.Check)
	assert.Equal(t, "warning", got.Severity)
	assert.Equal(t, []string{"binance", "okx"}, got.Exchanges)
	assert.Equal(t, 50.0, got.Values["skew_ms"])
}

func TestRedisKeys(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = client.Close() })

	r, err := NewRedis(client, Option{})
	require.NoError(t, err)
	assert.Equal(t, "marketcore:snapshot:BTC/USDT", r.SnapshotChannel(btc))
	assert.Equal(t, "marketcore:results", r.ResultChannel())

	r, err = NewRedis(client, Option{Prefix: "md"})
	require.NoError(t, err)
	assert.Equal(t, "md:results", r.ResultChannel())

	_, err = NewRedis(nil, Option{})
	assert.ErrorIs(t, err, exception.ErrNilInstance)
}

func TestRedisUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	r, err := NewRedis(client, Option{SnapshotTTL: time.Second})
	require.NoError(t, err)

	assert.Error(t, r.PublishSnapshot(t.Context(), model.NormalizedSnapshot{Symbol: btc}))
	assert.Error(t, r.SaveResults(t.Context(), []model.ConsistencyResult{{ID: "x", Symbol: btc}}))
	assert.NoError(t, r.SaveResults(t.Context(), nil))
}
