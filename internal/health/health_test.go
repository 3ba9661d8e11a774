package health

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"marketcore/internal/model"
	"marketcore/internal/model/enum"
	"marketcore/pkg/websocket"
)

func subscription(t *testing.T, exchange string, channel string) model.Subscription {
	t.Helper()
	s, err := model.NewSubscription(exchange, "BTC/USDT", channel)
	require.NoError(t, err)
	return s
}

func TestStatusDetail(t *testing.T) {
	r := NewRegistry()
	binance := subscription(t, "binance", "orderbook")
	okx := subscription(t, "okx", "orderbook")

	r.ConnectionState(okx, websocket.StateStreaming, 0, 5, nil)
	r.ConnectionState(binance, websocket.StateStreaming, 0, 5, nil)
	r.ConnectionState(binance, websocket.StateReconnecting, 3, 5, errors.New("read: connection reset"))

	status := r.Status()
	require.Len(t, status.Exchanges, 2)
	assert.Equal(t, "binance", status.Exchanges[0].Exchange)
	assert.Equal(t, "binance disconnected, reconnecting attempt 3/5", status.Exchanges[0].Detail)
	assert.Equal(t, []string{"binance disconnected, reconnecting attempt 3/5"}, status.Degraded)
	assert.Equal(t, websocket.StateStreaming, status.Exchanges[1].State)
	assert.InDelta(t, 1.0, status.Exchanges[1].Score, 1e-9)
	assert.Less(t, status.Exchanges[0].Score, 0.5)
	assert.Less(t, status.Score, 1.0)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.reconnTotal.WithLabelValues("binance")))
}

func TestWorstStreamWins(t *testing.T) {
	r := NewRegistry()
	book := subscription(t, "bybit", "orderbook")
	trade := subscription(t, "bybit", "trade")

	r.ConnectionState(book, websocket.StateStreaming, 0, 3, nil)
	r.ConnectionState(trade, websocket.StateFailed, 3, 3, errors.New("retry budget exhausted"))

	st := r.Status().Exchanges[0]
	assert.Equal(t, websocket.StateFailed, st.State)
	assert.Equal(t, 2, st.Streams)
	assert.InDelta(t, 0.5, st.Score, 1e-9)
	assert.Contains(t, st.Detail, "bybit failed after 3 attempts")

	r.Forget(trade)
	st = r.Status().Exchanges[0]
	assert.Equal(t, websocket.StateStreaming, st.State)
	assert.Equal(t, "bybit streaming 1 subscriptions", st.Detail)
}

func TestCounters(t *testing.T) {
	r := NewRegistry()
	ex := model.NewExchange("huobi")
	r.ConnectionState(subscription(t, "huobi", "orderbook"), websocket.StateStreaming, 0, 5, nil)

	for range 3 {
		r.MessageReceived(ex, 2)
	}
	r.ParseFailed(ex)
	r.StagingDropped("updates", 4)
	r.StagingDropped("updates", 0)
	r.ResultEmitted(enum.CheckPriceSpread, enum.SeverityWarning)
	r.BookOverflow(ex, 7)
	r.ObserveProcess(2 * time.Microsecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(r.messagesTotal.WithLabelValues("huobi")))
	assert.Equal(t, 6.0, testutil.ToFloat64(r.eventsTotal.WithLabelValues("huobi")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.parseErrTotal.WithLabelValues("huobi")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.dropsTotal.WithLabelValues("updates")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.resultsTotal.WithLabelValues("price_spread", "warning")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.overflowTotal.WithLabelValues("huobi")))

	status := r.Status()
	st := status.Exchanges[0]
	assert.Equal(t, uint64(3), st.Messages)
	assert.Equal(t, uint64(6), st.Events)
	assert.Equal(t, uint64(1), st.ParseErrors)
	assert.InDelta(t, 0.75, st.Score, 1e-9)
	assert.Equal(t, uint64(4), status.StagingDrops["updates"])
	assert.Equal(t, uint64(1), status.ProcessLatency.Count)
	assert.Equal(t, 0.75, testutil.ToFloat64(r.scoreGauge.WithLabelValues("huobi")))

	n, err := testutil.GatherAndCount(r.Gatherer(), "marketcore_messages_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestForgetLastStream(t *testing.T) {
	r := NewRegistry()
	book := subscription(t, "binance", "orderbook")
	ex := model.NewExchange("binance")

	r.ConnectionState(book, websocket.StateStreaming, 0, 5, nil)
	r.MessageReceived(ex, 1)
	r.Forget(book)

	status := r.Status()
	assert.Empty(t, status.Exchanges)
	assert.Empty(t, status.Degraded)
	assert.Equal(t, 1.0, status.Score)

	r.MessageReceived(ex, 1)
	status = r.Status()
	assert.Empty(t, status.Exchanges, "late messages do not revive a forgotten exchange")
	assert.Empty(t, status.Degraded)
}

func TestInputDiscarded(t *testing.T) {
	r := NewRegistry()
	r.InputDiscarded("non_finite", 2)
	r.InputDiscarded("non_finite", 1)
	r.InputDiscarded("sequence_gap", 0)

	assert.Equal(t, 3.0, testutil.ToFloat64(r.discardTotal.WithLabelValues("non_finite")))
	assert.Equal(t, map[string]uint64{"non_finite": 3}, r.Status().Discarded)
}

func TestEmptyStatus(t *testing.T) {
	status := NewRegistry().Status()
	assert.Empty(t, status.Exchanges)
	assert.Equal(t, 1.0, status.Score)
}

func TestLatencyStats(t *testing.T) {
	var l LatencyStats
	assert.Equal(t, LatencySnapshot{}, l.Snapshot())

	l.Observe(3 * time.Millisecond)
	l.Observe(time.Millisecond)
	l.Observe(-time.Second)
	l.Observe(2 * time.Millisecond)

	s := l.Snapshot()
	assert.Equal(t, uint64(3), s.Count)
	assert.Equal(t, time.Millisecond, s.Min)
	assert.Equal(t, 3*time.Millisecond, s.Max)
	assert.Equal(t, 2*time.Millisecond, s.Avg)
}
