package binance

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketcore/internal/exchange"
	"marketcore/internal/model"
	"marketcore/internal/model/enum"
	"marketcore/pkg/exception"
	"marketcore/pkg/websocket"
)

var (
	btcusdt = model.NewSymbol("BTC", "USDT")
	subs    = []model.SubscriptionDetail{
		{Symbol: btcusdt, Channel: enum.ChannelOrderBook},
		{Symbol: btcusdt, Channel: enum.ChannelTrade},
	}
)

func TestBuildSubscriptionMessages(t *testing.T) {
	msgs, err := New().BuildSubscriptionMessages(subs)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, websocket.MessageText, msgs[0].Type)
	assert.JSONEq(t, `{"method":"SUBSCRIBE","params":["btcusdt@depth@100ms","btcusdt@trade"],"id":1}`, string(msgs[0].Payload))

	_, err = New().BuildSubscriptionMessages([]model.SubscriptionDetail{{Symbol: btcusdt}})
	assert.ErrorIs(t, err, exception.ErrUnsupportedChannel)
}

func TestParseDepthUpdate(t *testing.T) {
	payload := `{"e":"depthUpdate","E":1700000000123,"s":"BTCUSDT","U":157,"u":160,"b":[["50000.10","1.5"],["49999.00","0"]],"a":[["50001.00","2"]]}`
	events, err := New().ParseMessage(nil, exchange.TextMessage([]byte(payload)), subs, 42)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, enum.EventBookDelta, ev.Kind)
	assert.Equal(t, "binance", ev.Exchange.String())
	assert.Equal(t, btcusdt, ev.Symbol)
	assert.Equal(t, int64(1700000000123_000_000), ev.EventTsNano)
	assert.Equal(t, int64(42), ev.RecvTsNano)
	assert.Equal(t, uint64(160), ev.Sequence)
	assert.Equal(t, uint64(157), ev.PrevSequence)
	assert.Equal(t, []float64{50000.10, 49999.00}, ev.Bids.Prices)
	assert.Equal(t, []float64{1.5, 0}, ev.Bids.Quantities)
	assert.Equal(t, []float64{50001}, ev.Asks.Prices)
}

func TestParseTrade(t *testing.T) {
	payload := `{"e":"trade","E":1700000000200,"s":"BTCUSDT","t":12345,"p":"50000.5","q":"0.01","T":1700000000199,"m":true}`
	events, err := New().ParseMessage(nil, exchange.TextMessage([]byte(payload)), subs, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	tr := events[0].Trade
	assert.Equal(t, enum.EventTrade, events[0].Kind)
	assert.Equal(t, "50000.5", tr.Price.String())
	assert.Equal(t, "0.01", tr.Quantity.String())
	assert.Equal(t, enum.SideAsk, tr.Side)
	assert.Equal(t, "12345", tr.TradeID)
}

func TestParseIgnorable(t *testing.T) {
	testCases := []struct {
		desc    string
		payload string
	}{
		{"subscribe ack", `{"result":null,"id":1}`},
		{"unknown event", `{"e":"kline","s":"BTCUSDT"}`},
		{"unsubscribed symbol", `{"e":"depthUpdate","E":1,"s":"ETHUSDT","U":1,"u":2,"b":[],"a":[]}`},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			events, err := New().ParseMessage(nil, exchange.TextMessage([]byte(tc.payload)), subs, 0)
			assert.NoError(t, err)
			assert.Empty(t, events)
		})
	}
}

func TestParseMalformed(t *testing.T) {
	testCases := []struct {
		desc    string
		payload string
	}{
		{"broken json", `{"e":"depthUpdate","b":[[`},
		{"bad price", `{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":1,"u":2,"b":[["abc","1"]],"a":[]}`},
		{"short level", `{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":1,"u":2,"b":[["1"]],"a":[]}`},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := New().ParseMessage(nil, exchange.TextMessage([]byte(tc.payload)), subs, 0)
			assert.ErrorIs(t, err, exception.ErrParse)
		})
	}
}

func TestHeartbeat(t *testing.T) {
	a := New()
	ping := exchange.Message{Type: websocket.MessagePing, Payload: []byte("x")}
	assert.True(t, a.IsHeartbeat(ping))
	resp, ok := a.HeartbeatResponse(ping)
	require.True(t, ok)
	assert.Equal(t, websocket.MessagePong, resp.Type)
	assert.Equal(t, "x", string(resp.Payload))

	assert.False(t, a.IsHeartbeat(exchange.TextMessage([]byte(`{}`))))
}

func TestInitialSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/depth", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"lastUpdateId":1027024,"bids":[["4.00000000","431.00000000"]],"asks":[["4.00000200","12.00000000"]]}`))
	}))
	defer srv.Close()

	ev, err := New().InitialSnapshot(t.Context(), srv.Client(), subs[0], srv.URL)
	require.NoError(t, err)
	assert.Equal(t, enum.EventBookSnapshot, ev.Kind)
	assert.Equal(t, uint64(1027024), ev.Sequence)
	assert.Equal(t, []float64{4}, ev.Bids.Prices)
	assert.Equal(t, []float64{12}, ev.Asks.Quantities)

	ev, err = New().InitialSnapshot(t.Context(), srv.Client(), subs[1], srv.URL)
	assert.NoError(t, err)
	assert.Nil(t, ev)
}

func TestInitialSnapshotStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New().InitialSnapshot(t.Context(), srv.Client(), subs[0], srv.URL)
	assert.ErrorIs(t, err, exception.ErrSnapshotUnavailable)
}
