/*
Pipeline wires the market-data path end to end.

# Module
  - ingest: network workers push adapter events into bounded staging rings
  - processor: single goroutine draining staging, cleaning levels and applying them to the book engine
  - monitor: periodic fusion of books into snapshots and cross-exchange consistency checks
  - publisher: delivers snapshots and results to the output streams and external sinks

# Source
 1. stream runners started by the collector
 2. REST bootstrap snapshots
 3. tests calling Ingest directly

# Produce
  - normalized snapshots, consistency results and trades
*/
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"golang.org/x/sync/errgroup"

	"marketcore/internal/clean"
	"marketcore/internal/collector"
	"marketcore/internal/consistency"
	"marketcore/internal/health"
	"marketcore/internal/model"
	"marketcore/internal/model/enum"
	"marketcore/internal/orderbook"
	"marketcore/internal/ring"
	"marketcore/pkg/exception"
)

const (
	classUpdates        = "updates"
	classTrades         = "trades"
	classSnapshots      = "snapshots"
	classResults        = "results"
	classTradeStream    = "trade_stream"
	classSnapshotStream = "snapshot_stream"
	classResultStream   = "result_stream"

	defaultMonitorInterval = 100 * time.Millisecond
	defaultBatchWindow     = time.Second
	defaultSnapshotMaxAge  = 5 * time.Second
	defaultStreamBuffer    = 1024

	reasonNonFinite   = "non_finite"
	reasonNegative    = "negative"
	reasonOutlier     = "outlier"
	reasonDuplicate   = "duplicate"
	reasonStaleDelta  = "stale_delta"
	reasonSequenceGap = "sequence_gap"
)

// ResultSink persists or forwards consistency results.
type ResultSink interface {
	SaveResults(ctx context.Context, results []model.ConsistencyResult) error
}

// SnapshotSink forwards fused snapshots.
type SnapshotSink interface {
	PublishSnapshot(ctx context.Context, snap model.NormalizedSnapshot) error
}

// Option holds the tunables of the pipeline. Zero values fall back to defaults.
type Option struct {
	MonitorInterval time.Duration
	BatchWindow     time.Duration
	SnapshotMaxAge  time.Duration

	UpdatesCapacity   int
	TradesCapacity    int
	SnapshotsCapacity int
	Overflow          ring.OverflowPolicy
	BlockTimeout      time.Duration
	StreamBuffer      int

	// CleanBand rejects levels further than this fraction from the last fused mid.
	CleanBand float64
	// ProcessCPUs pins the processor goroutine when not empty.
	ProcessCPUs []int

	// Now returns the current unix time in nanoseconds.
	Now func() int64
}

func (o Option) normalize() Option {
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = defaultMonitorInterval
	}
	if o.BatchWindow <= 0 {
		o.BatchWindow = defaultBatchWindow
	}
	if o.SnapshotMaxAge <= 0 {
		o.SnapshotMaxAge = defaultSnapshotMaxAge
	}
	if o.UpdatesCapacity <= 0 {
		o.UpdatesCapacity = 1 << 16
	}
	if o.TradesCapacity <= 0 {
		o.TradesCapacity = 1 << 14
	}
	if o.SnapshotsCapacity <= 0 {
		o.SnapshotsCapacity = 1 << 10
	}
	if o.StreamBuffer <= 0 {
		o.StreamBuffer = defaultStreamBuffer
	}
	if o.Now == nil {
		o.Now = func() int64 { return time.Now().UnixNano() }
	}
	return o
}

// Deps are the collaborators of a Service.
type Deps struct {
	Engine  *orderbook.Engine
	Checker *consistency.Checker
	Health  *health.Registry
	// Settings configure the default stream runner.
	Settings collector.Settings
	// Runner replaces the stream runner, mainly in tests.
	Runner        collector.Runner
	ResultSinks   []ResultSink
	SnapshotSinks []SnapshotSink
}

// Service is the running market-data core.
type Service struct {
	opt     Option
	engine  *orderbook.Engine
	checker *consistency.Checker
	health  *health.Registry
	stream  *collector.StreamRunner
	tasks   *collector.Collector

	resultSinks   []ResultSink
	snapshotSinks []SnapshotSink

	updates   *ring.Stage[*model.Event]
	trades    *ring.Stage[model.Trade]
	snapshots *ring.Stage[model.NormalizedSnapshot]
	results   *ring.Stage[[]model.ConsistencyResult]

	// bids and asks are only written by the processor; their counters are read by the monitor.
	bids clean.Cleaner
	asks clean.Cleaner

	snapshotOut chan model.NormalizedSnapshot
	resultOut   chan model.ConsistencyResult
	tradeOut    chan model.Trade

	mu     sync.RWMutex
	latest map[model.Symbol]model.NormalizedSnapshot
}

// New builds a Service. Nil Engine, Checker or Health are created with defaults.
func New(opt Option, deps Deps) *Service {
	opt = opt.normalize()
	if deps.Engine == nil {
		deps.Engine = orderbook.NewEngine(nil)
	}
	if deps.Checker == nil {
		deps.Checker = consistency.NewChecker(consistency.DefaultThresholds(), consistency.NewHistory(0))
	}
	if deps.Health == nil {
		deps.Health = health.NewRegistry()
	}

	s := &Service{
		opt:           opt,
		engine:        deps.Engine,
		checker:       deps.Checker,
		health:        deps.Health,
		resultSinks:   deps.ResultSinks,
		snapshotSinks: deps.SnapshotSinks,
		updates:       ring.NewStage[*model.Event](classUpdates, opt.UpdatesCapacity, opt.Overflow, opt.BlockTimeout),
		trades:        ring.NewStage[model.Trade](classTrades, opt.TradesCapacity, opt.Overflow, opt.BlockTimeout),
		snapshots:     ring.NewStage[model.NormalizedSnapshot](classSnapshots, opt.SnapshotsCapacity, ring.OverflowDropOldest, 0),
		results:       ring.NewStage[[]model.ConsistencyResult](classResults, opt.SnapshotsCapacity, ring.OverflowDropOldest, 0),
		snapshotOut:   make(chan model.NormalizedSnapshot, opt.StreamBuffer),
		resultOut:     make(chan model.ConsistencyResult, opt.StreamBuffer),
		tradeOut:      make(chan model.Trade, opt.StreamBuffer),
		latest:        make(map[model.Symbol]model.NormalizedSnapshot),
	}
	s.bids.Band = opt.CleanBand
	s.asks.Band = opt.CleanBand

	runner := deps.Runner
	if runner == nil {
		s.stream = collector.NewStreamRunner(s, s.health, deps.Settings)
		runner = s.stream
	}
	s.tasks = collector.New(context.Background(), runner)
	s.tasks.OnRemoved(s.health.Forget)
	return s
}

// Run drives the processor, monitor and publisher until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.process(ctx) })
	g.Go(func() error { return s.monitor(ctx) })
	g.Go(func() error { return s.publish(ctx) })
	return g.Wait()
}

// Shutdown stops every stream task, waiting at most timeout.
func (s *Service) Shutdown(timeout time.Duration) error {
	return s.tasks.Shutdown(timeout)
}

// Ingest stages one adapter event. Book events share one stage to keep per-stream order.
func (s *Service) Ingest(ctx context.Context, ev *model.Event) error {
	if ev == nil {
		return errors.Wrap(exception.ErrNilInstance, "ingest event")
	}
	if ev.RecvTsNano == 0 {
		ev.RecvTsNano = s.opt.Now()
	}
	switch {
	case ev.Kind.IsBook():
		return s.updates.Push(ctx, ev)
	case ev.Kind == enum.EventTrade:
		return s.trades.Push(ctx, ev.Trade)
	default:
		return errors.Wrap(exception.ErrInvalidArgument, "ingest event kind").With("kind", ev.Kind.String())
	}
}

// Reconfigure diffs the running streams against subs. Books of order-book streams
// that are no longer subscribed are released, and events still staged for them
// are dropped. The health entry of a stopped stream is cleared again once its
// task has exited.
func (s *Service) Reconfigure(subs []model.Subscription) []collector.Result {
	keep := make(map[orderbook.Key]bool, len(subs))
	for _, sub := range subs {
		if sub.Channel == enum.ChannelOrderBook {
			key := orderbook.Key{Exchange: sub.Exchange, Symbol: sub.Symbol}
			keep[key] = true
			s.engine.Retain(key.Exchange, key.Symbol)
		}
	}

	results := s.tasks.Reconfigure(subs)
	for _, r := range results {
		if r.Action != collector.ActionStopped {
			continue
		}
		s.health.Forget(r.Subscription)
		key := orderbook.Key{Exchange: r.Subscription.Exchange, Symbol: r.Subscription.Symbol}
		if r.Subscription.Channel == enum.ChannelOrderBook && !keep[key] {
			s.engine.Release(key.Exchange, key.Symbol)
		}
	}
	return results
}

// UpdateSettings replaces the stream settings used by streams started afterwards.
func (s *Service) UpdateSettings(settings collector.Settings) {
	if s.stream != nil {
		s.stream.Update(settings)
	}
}

// SetThresholds replaces the consistency thresholds.
func (s *Service) SetThresholds(t consistency.Thresholds) error {
	return s.checker.SetThresholds(t)
}

// SetBookResolver replaces the per-symbol book configuration for books created afterwards.
func (s *Service) SetBookResolver(resolve func(model.Symbol) orderbook.Config) {
	s.engine.SetResolver(resolve)
}

func (s *Service) OrderBook(exchange model.Exchange, symbol model.Symbol) (model.OrderBook, error) {
	ob, ok := s.engine.OrderBook(exchange, symbol)
	if !ok {
		return model.OrderBook{}, errors.Wrap(exception.ErrNotFound, "order book").With("key", exchange.String()+":"+symbol.String())
	}
	return ob, nil
}

// Snapshot returns the last fused snapshot of symbol.
func (s *Service) Snapshot(symbol model.Symbol) (model.NormalizedSnapshot, error) {
	s.mu.RLock()
	snap, ok := s.latest[symbol]
	s.mu.RUnlock()
	if !ok {
		return model.NormalizedSnapshot{}, errors.Wrap(exception.ErrNotFound, "snapshot").With("symbol", symbol.String())
	}
	return snap, nil
}

func (s *Service) Snapshots() <-chan model.NormalizedSnapshot {
	return s.snapshotOut
}

func (s *Service) Results() <-chan model.ConsistencyResult {
	return s.resultOut
}

func (s *Service) Trades() <-chan model.Trade {
	return s.tradeOut
}

func (s *Service) Health() health.Status {
	return s.health.Status()
}

func (s *Service) Streams() []collector.TaskStatus {
	return s.tasks.Status()
}

func (s *Service) Checker() *consistency.Checker {
	return s.checker
}

func (s *Service) reference(symbol model.Symbol) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest[symbol].WeightedMid
}
