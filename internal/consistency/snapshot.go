package consistency

import (
	"slices"
	"strings"
	"time"

	"marketcore/internal/model"
)

// MarketDataSnapshot is one exchange's top-of-book view of a symbol.
type MarketDataSnapshot struct {
	Exchange      model.Exchange
	Symbol        model.Symbol
	// TimestampNano is the exchange event time of the book, or its local receive
	// time when the exchange sent none. Time sync compares this clock.
	TimestampNano int64
	BestBid       float64
	BestAsk       float64
	Mid           float64
	// DepthVolume is the summed quantity of the top levels of both sides.
	DepthVolume float64
}

// FromOrderBook reduces a book to a snapshot. Books missing a side are skipped.
func FromOrderBook(ob model.OrderBook, depth int) (MarketDataSnapshot, bool) {
	bid, ok := ob.BestBid()
	if !ok {
		return MarketDataSnapshot{}, false
	}
	ask, ok := ob.BestAsk()
	if !ok {
		return MarketDataSnapshot{}, false
	}
	ts := ob.TimestampNano
	if ts == 0 {
		ts = ob.RecvTsNano
	}
	b, a := bid.Price.Float64(), ask.Price.Float64()
	return MarketDataSnapshot{
		Exchange:      ob.Exchange,
		Symbol:        ob.Symbol,
		TimestampNano: ts,
		BestBid:       b,
		BestAsk:       a,
		Mid:           (b + a) / 2,
		DepthVolume:   ob.DepthVolume(depth),
	}, true
}

// BuildBatch keeps the freshest snapshot per exchange and drops those older than
// window relative to the freshest one overall. The result is sorted by exchange.
func BuildBatch(snaps []MarketDataSnapshot, window time.Duration) []MarketDataSnapshot {
	if len(snaps) == 0 {
		return nil
	}
	latest := make(map[model.Exchange]MarketDataSnapshot, len(snaps))
	var newest int64
	for _, s := range snaps {
		if cur, ok := latest[s.Exchange]; !ok || s.TimestampNano > cur.TimestampNano {
			latest[s.Exchange] = s
		}
		newest = max(newest, s.TimestampNano)
	}

	batch := make([]MarketDataSnapshot, 0, len(latest))
	for _, s := range latest {
		if window > 0 && newest-s.TimestampNano > int64(window) {
			continue
		}
		batch = append(batch, s)
	}
	slices.SortFunc(batch, func(a, b MarketDataSnapshot) int {
		return strings.Compare(a.Exchange.String(), b.Exchange.String())
	})
	return batch
}
