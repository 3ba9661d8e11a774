package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketcore/internal/model"
	"marketcore/internal/model/enum"
	"marketcore/pkg/exception"
	"marketcore/pkg/websocket"
)

type recordSink struct {
	mu     sync.Mutex
	events []*model.Event
}

func (s *recordSink) Ingest(_ context.Context, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordSink) Events() []*model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Event(nil), s.events...)
}

type recordMonitor struct {
	mu       sync.Mutex
	states   []websocket.State
	messages int
	failures int
}

func (m *recordMonitor) ConnectionState(_ model.Subscription, state websocket.State, _, _ int, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
}

func (m *recordMonitor) MessageReceived(_ model.Exchange, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages++
}

func (m *recordMonitor) ParseFailed(model.Exchange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *recordMonitor) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

func binanceServer(t *testing.T, subscribed chan<- string) *httptest.Server {
	t.Helper()
	upgrader := gws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		_, payload, err := c.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- string(payload)

		frames := []string{
			`{"result":null,"id":1}`,
			`{"e":"depthUpdate","E":1700000000123,"s":"BTCUSDT","U":157,"u":160,"b":[["50000.10","1.5"]],"a":[["50001.00","2"]]}`,
			`{"e":"depthUpdate","b":[[`,
		}
		for _, f := range frames {
			if err := c.WriteMessage(gws.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamRunner(t *testing.T) {
	subscribed := make(chan string, 1)
	srv := binanceServer(t, subscribed)

	sink := &recordSink{}
	monitor := &recordMonitor{}
	runner := NewStreamRunner(sink, monitor, Settings{
		Endpoints: map[string]Endpoint{
			"binance": {WebSocket: "ws" + strings.TrimPrefix(srv.URL, "http")},
		},
		Backoff: websocket.Backoff{Mode: websocket.BackoffFixed, Min: time.Millisecond, MaxAttempts: 1},
	})

	s := sub(t, "binance", "BTC/USDT")
	require.NoError(t, runner.Validate(s))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx, s) }()

	select {
	case msg := <-subscribed:
		assert.JSONEq(t, `{"method":"SUBSCRIBE","params":["btcusdt@depth@100ms"],"id":1}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription received")
	}

	require.Eventually(t, func() bool {
		return len(sink.Events()) == 1 && monitor.Failures() == 1
	}, 2*time.Second, time.Millisecond)

	ev := sink.Events()[0]
	assert.Equal(t, enum.EventBookDelta, ev.Kind)
	assert.Equal(t, uint64(160), ev.Sequence)
	assert.Equal(t, []float64{50000.10}, ev.Bids.Prices)

	cancel()
	require.NoError(t, <-done)
}

func TestStreamRunnerValidate(t *testing.T) {
	runner := NewStreamRunner(&recordSink{}, nil, Settings{})
	assert.ErrorIs(t, runner.Validate(sub(t, "kraken", "BTC/USDT")), exception.ErrUnsupportedExchange)
	assert.NoError(t, runner.Validate(sub(t, "okx", "BTC/USDT")))
}

func TestEndpointDefaults(t *testing.T) {
	runner := NewStreamRunner(&recordSink{}, nil, Settings{
		Endpoints: map[string]Endpoint{"okx": {WebSocket: "ws://127.0.0.1:1"}},
	})

	ep, err := runner.endpoint(runner.current(), "binance")
	require.NoError(t, err)
	assert.True(t, ep.Bootstrap, "diff-only streams bootstrap unless configured")
	assert.NotEmpty(t, ep.WebSocket)
	assert.NotEmpty(t, ep.REST)

	ep, err = runner.endpoint(runner.current(), "okx")
	require.NoError(t, err)
	assert.False(t, ep.Bootstrap)
	assert.Equal(t, "ws://127.0.0.1:1", ep.WebSocket)
}
