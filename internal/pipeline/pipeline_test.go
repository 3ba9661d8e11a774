package pipeline

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketcore/internal/collector"
	"marketcore/internal/consistency"
	"marketcore/internal/model"
	"marketcore/internal/model/enum"
	"marketcore/pkg/exception"
)

var btc = model.NewSymbol("BTC", "USDT")

func idleRunner() collector.Runner {
	return collector.RunnerFunc(func(ctx context.Context, _ model.Subscription) error {
		<-ctx.Done()
		return nil
	})
}

func bookEvent(ex string, tsNano int64, bid, ask float64) *model.Event {
	ev := &model.Event{
		Kind:        enum.EventBookSnapshot,
		Exchange:    model.NewExchange(ex),
		Symbol:      btc,
		EventTsNano: tsNano,
		RecvTsNano:  tsNano,
	}
	ev.Bids.Append(bid, 1)
	ev.Asks.Append(ask, 1)
	return ev
}

type recordSink struct {
	mu      sync.Mutex
	results []model.ConsistencyResult
	snaps   int
}

func (r *recordSink) SaveResults(_ context.Context, results []model.ConsistencyResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, results...)
	return nil
}

func (r *recordSink) PublishSnapshot(context.Context, model.NormalizedSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps++
	return nil
}

func (r *recordSink) counts() (results, snaps int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results), r.snaps
}

func newTestService(t *testing.T, sink *recordSink) *Service {
	t.Helper()
	th := consistency.DefaultThresholds()
	th.TimeSyncWarning = 10 * time.Millisecond
	th.TimeSyncCritical = 100 * time.Millisecond

	deps := Deps{
		Checker: consistency.NewChecker(th, consistency.NewHistory(0)),
		Runner:  idleRunner(),
	}
	if sink != nil {
		deps.ResultSinks = []ResultSink{sink}
		deps.SnapshotSinks = []SnapshotSink{sink}
	}
	s := New(Option{MonitorInterval: 5 * time.Millisecond}, deps)
	t.Cleanup(func() { _ = s.Shutdown(time.Second) })
	return s
}

func run(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func TestTimeSkewProducesWarning(t *testing.T) {
	sink := &recordSink{}
	s := newTestService(t, sink)
	run(t, s)

	now := time.Now().UnixNano()
	require.NoError(t, s.Ingest(t.Context(), bookEvent("binance", now, 50000, 50010)))
	require.NoError(t, s.Ingest(t.Context(), bookEvent("okx", now-int64(50*time.Millisecond), 50000, 50010)))

	var got model.ConsistencyResult
	select {
	case got = <-s.Results():
	case <-time.After(2 * time.Second):
		t.Fatal("no consistency result")
	}

	assert.Equal(t, enum.CheckTimeSync, got.Check)
	assert.Equal(t, enum.SeverityWarning, got.Severity)
	assert.ElementsMatch(t, []model.Exchange{model.NewExchange("binance"), model.NewExchange("okx")}, got.Exchanges)
	assert.InDelta(t, 50.0, got.Values["skew_ms"], 1e-6)
	assert.NotEmpty(t, got.ID)

	select {
	case r := <-s.Results():
		t.Fatalf("unchanged books checked twice: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	require.Eventually(t, func() bool {
		results, snaps := sink.counts()
		return results == 1 && snaps > 0
	}, 2*time.Second, 5*time.Millisecond)

	snap, err := s.Snapshot(btc)
	require.NoError(t, err)
	assert.Len(t, snap.Books, 2)
	assert.InDelta(t, 50005.0, snap.WeightedMid, 1e-6)

	ob, err := s.OrderBook(model.NewExchange("okx"), btc)
	require.NoError(t, err)
	bid, ok := ob.BestBid()
	require.True(t, ok)
	assert.Equal(t, 50000.0, bid.Price.Float64())
}

func TestAlignedBooksProduceNothing(t *testing.T) {
	s := newTestService(t, nil)
	run(t, s)

	now := time.Now().UnixNano()
	require.NoError(t, s.Ingest(t.Context(), bookEvent("binance", now, 50000, 50010)))
	require.NoError(t, s.Ingest(t.Context(), bookEvent("bybit", now-int64(time.Millisecond), 50001, 50011)))

	require.Eventually(t, func() bool {
		_, err := s.Snapshot(btc)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case r := <-s.Results():
		t.Fatalf("unexpected result: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTradesForwarded(t *testing.T) {
	s := newTestService(t, nil)
	run(t, s)

	price, err := model.ParseDecimal("50000.5")
	require.NoError(t, err)
	ev := &model.Event{
		Kind:     enum.EventTrade,
		Exchange: model.NewExchange("okx"),
		Symbol:   btc,
		Trade: model.Trade{
			Exchange: model.NewExchange("okx"),
			Symbol:   btc,
			Price:    price,
			Side:     enum.SideBid,
			TradeID:  "t-1",
		},
	}
	require.NoError(t, s.Ingest(t.Context(), ev))

	select {
	case tr := <-s.Trades():
		assert.Equal(t, "t-1", tr.TradeID)
		assert.Equal(t, "50000.5", tr.Price.String())
	case <-time.After(2 * time.Second):
		t.Fatal("trade not forwarded")
	}
}

func TestQueriesNotFound(t *testing.T) {
	s := newTestService(t, nil)

	_, err := s.OrderBook(model.NewExchange("binance"), btc)
	assert.ErrorIs(t, err, exception.ErrNotFound)

	_, err = s.Snapshot(btc)
	assert.ErrorIs(t, err, exception.ErrNotFound)
}

func TestIngestRejects(t *testing.T) {
	s := newTestService(t, nil)

	assert.ErrorIs(t, s.Ingest(t.Context(), nil), exception.ErrNilInstance)
	assert.ErrorIs(t, s.Ingest(t.Context(), &model.Event{}), exception.ErrInvalidArgument)
}

func TestStagingDropsCounted(t *testing.T) {
	s := New(Option{UpdatesCapacity: 2}, Deps{Runner: idleRunner()})
	t.Cleanup(func() { _ = s.Shutdown(time.Second) })

	now := time.Now().UnixNano()
	require.NoError(t, s.Ingest(t.Context(), bookEvent("binance", now, 1, 2)))
	require.NoError(t, s.Ingest(t.Context(), bookEvent("binance", now, 1, 2)))
	assert.ErrorIs(t, s.Ingest(t.Context(), bookEvent("binance", now, 1, 2)), exception.ErrStagingFull)

	st := s.newMonitorState()
	s.tick(t.Context(), st)
	assert.Equal(t, uint64(1), s.Health().StagingDrops[classUpdates])

	s.tick(t.Context(), st)
	assert.Equal(t, uint64(1), s.Health().StagingDrops[classUpdates], "drops are reported once")
}

func TestReconfigureReleasesBooks(t *testing.T) {
	s := newTestService(t, nil)
	run(t, s)

	sub, err := model.NewSubscription("binance", "BTC/USDT", "orderbook")
	require.NoError(t, err)

	results := s.Reconfigure([]model.Subscription{sub})
	require.Len(t, results, 1)
	assert.Equal(t, collector.ActionStarted, results[0].Action)

	require.NoError(t, s.Ingest(t.Context(), bookEvent("binance", time.Now().UnixNano(), 50000, 50010)))
	require.Eventually(t, func() bool {
		_, err := s.OrderBook(sub.Exchange, sub.Symbol)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	results = s.Reconfigure(nil)
	require.Len(t, results, 1)
	assert.Equal(t, collector.ActionStopped, results[0].Action)

	_, err = s.OrderBook(sub.Exchange, sub.Symbol)
	assert.ErrorIs(t, err, exception.ErrNotFound)
}

func TestStagedEventsAfterUnsubscribeDropped(t *testing.T) {
	s := newTestService(t, nil)

	sub, err := model.NewSubscription("binance", "BTC/USDT", "orderbook")
	require.NoError(t, err)

	s.Reconfigure([]model.Subscription{sub})
	require.NoError(t, s.Ingest(t.Context(), bookEvent("binance", time.Now().UnixNano(), 50000, 50010)))
	s.Reconfigure(nil)
	run(t, s)

	require.Eventually(t, func() bool {
		return s.updates.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool {
		_, err := s.OrderBook(sub.Exchange, sub.Symbol)
		return err == nil || len(s.engine.Symbols()) != 0
	}, 100*time.Millisecond, 5*time.Millisecond)

	s.Reconfigure([]model.Subscription{sub})
	require.NoError(t, s.Ingest(t.Context(), bookEvent("binance", time.Now().UnixNano(), 50000, 50010)))
	require.Eventually(t, func() bool {
		_, err := s.OrderBook(sub.Exchange, sub.Symbol)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDiscardedInputReported(t *testing.T) {
	s := newTestService(t, nil)

	now := time.Now().UnixNano()
	bad := bookEvent("binance", now, 50000, 50010)
	bad.Bids.Append(math.NaN(), 1)
	bad.Sequence = 10
	s.apply(bad)

	stale := bookEvent("binance", now, 50000, 50010)
	stale.Kind = enum.EventBookDelta
	stale.Sequence = 9
	s.apply(stale)

	gap := bookEvent("binance", now, 50000, 50010)
	gap.Kind = enum.EventBookDelta
	gap.Sequence = 20
	gap.PrevSequence = 15
	s.apply(gap)

	st := s.newMonitorState()
	s.tick(t.Context(), st)
	s.tick(t.Context(), st)

	discarded := s.Health().Discarded
	assert.Equal(t, uint64(1), discarded[reasonNonFinite])
	assert.Equal(t, uint64(1), discarded[reasonStaleDelta])
	assert.Equal(t, uint64(1), discarded[reasonSequenceGap])

	ob, err := s.OrderBook(model.NewExchange("binance"), btc)
	require.NoError(t, err)
	assert.True(t, ob.Desynced)
}
