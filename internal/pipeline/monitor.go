package pipeline

import (
	"context"
	"time"

	"marketcore/internal/consistency"
	"marketcore/internal/fusion"
	"marketcore/internal/model"
	"marketcore/internal/orderbook"
	"marketcore/internal/ring"
)

type stageCounter struct {
	name  string
	stats func() ring.StageStats
	last  uint64
}

type monitorState struct {
	checked   map[model.Symbol]int64
	overflow  map[orderbook.Key]uint64
	stages    []*stageCounter
	discarded map[string]uint64
}

func (s *Service) newMonitorState() *monitorState {
	return &monitorState{
		checked:  make(map[model.Symbol]int64),
		overflow:  make(map[orderbook.Key]uint64),
		discarded: make(map[string]uint64),
		stages: []*stageCounter{
			{name: classUpdates, stats: s.updates.Stats},
			{name: classTrades, stats: s.trades.Stats},
			{name: classSnapshots, stats: s.snapshots.Stats},
			{name: classResults, stats: s.results.Stats},
		},
	}
}

func (s *Service) monitor(ctx context.Context) error {
	ticker := time.NewTicker(s.opt.MonitorInterval)
	defer ticker.Stop()

	st := s.newMonitorState()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx, st)
		}
	}
}

// tick fuses every symbol and checks it once per new exchange timestamp.
func (s *Service) tick(ctx context.Context, st *monitorState) {
	now := s.opt.Now()
	depth := s.checker.Thresholds().VolumeDepth

	for _, sym := range s.engine.Symbols() {
		books := s.engine.Books(sym)
		s.reportOverflow(st, books)

		if snap, ok := fusion.Fuse(sym, books, now, s.opt.SnapshotMaxAge); ok {
			s.mu.Lock()
			s.latest[sym] = snap
			s.mu.Unlock()
			_ = s.snapshots.Push(ctx, snap)
		}

		snaps := make([]consistency.MarketDataSnapshot, 0, len(books))
		for _, ob := range books {
			if now-ob.RecvTsNano > int64(s.opt.SnapshotMaxAge) {
				continue
			}
			if ms, ok := consistency.FromOrderBook(ob, depth); ok {
				snaps = append(snaps, ms)
			}
		}
		batch := consistency.BuildBatch(snaps, s.opt.BatchWindow)
		if len(batch) < 2 {
			continue
		}

		var newest int64
		for _, ms := range batch {
			newest = max(newest, ms.TimestampNano)
		}
		if st.checked[sym] == newest {
			continue
		}
		st.checked[sym] = newest

		results := s.checker.Check(batch)
		if len(results) == 0 {
			continue
		}
		for _, r := range results {
			s.health.ResultEmitted(r.Check, r.Severity)
		}
		_ = s.results.Push(ctx, results)
	}

	for _, c := range st.stages {
		stats := c.stats()
		lost := stats.Dropped + stats.Evicted
		s.health.StagingDropped(c.name, lost-c.last)
		c.last = lost
	}
	s.reportDiscards(st)
}

// reportDiscards forwards the growth of the cleaning and sequence counters.
func (s *Service) reportDiscards(st *monitorState) {
	bids, asks := s.bids.Stats(), s.asks.Stats()
	stale, gaps := s.engine.SequenceStats()
	totals := map[string]uint64{
		reasonNonFinite:   bids.NonFinite + asks.NonFinite,
		reasonNegative:    bids.Negative + asks.Negative,
		reasonOutlier:     bids.Outliers + asks.Outliers,
		reasonDuplicate:   bids.Duplicates + asks.Duplicates,
		reasonStaleDelta:  stale,
		reasonSequenceGap: gaps,
	}
	for reason, n := range totals {
		if prev := st.discarded[reason]; n > prev {
			s.health.InputDiscarded(reason, n-prev)
		}
		st.discarded[reason] = n
	}
}

func (s *Service) reportOverflow(st *monitorState, books []model.OrderBook) {
	for _, ob := range books {
		stats, ok := s.engine.BucketStats(ob.Exchange, ob.Symbol)
		if !ok {
			continue
		}
		key := orderbook.Key{Exchange: ob.Exchange, Symbol: ob.Symbol}
		lost := stats.Overflowed + stats.Dropped
		if prev := st.overflow[key]; lost > prev {
			s.health.BookOverflow(ob.Exchange, lost-prev)
		}
		st.overflow[key] = lost
	}
}
