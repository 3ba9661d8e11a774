// Package fusion merges the freshest per-exchange books of a symbol into one
// normalized snapshot.
package fusion

import (
	"slices"
	"strings"
	"time"

	"marketcore/internal/model"
)

func bookTime(ob model.OrderBook) int64 {
	if ob.TimestampNano != 0 {
		return ob.TimestampNano
	}
	return ob.RecvTsNano
}

// Fuse keeps the freshest book per exchange no older than maxAge at nowNano
// (maxAge <= 0 disables the age filter) and aggregates them. The mid is weighted
// by the top-of-book size of each exchange. It returns false when no fresh book
// has both sides.
func Fuse(symbol model.Symbol, books []model.OrderBook, nowNano int64, maxAge time.Duration) (model.NormalizedSnapshot, bool) {
	latest := make(map[model.Exchange]model.OrderBook, len(books))
	for _, ob := range books {
		if ob.Symbol != symbol {
			continue
		}
		if maxAge > 0 && nowNano-bookTime(ob) > int64(maxAge) {
			continue
		}
		if cur, ok := latest[ob.Exchange]; !ok || bookTime(ob) > bookTime(cur) {
			latest[ob.Exchange] = ob
		}
	}
	if len(latest) == 0 {
		return model.NormalizedSnapshot{}, false
	}

	snap := model.NormalizedSnapshot{
		Symbol:        symbol,
		TimestampNano: nowNano,
		Books:         make([]model.OrderBook, 0, len(latest)),
	}
	for _, ob := range latest {
		snap.Books = append(snap.Books, ob)
	}
	slices.SortFunc(snap.Books, func(a, b model.OrderBook) int {
		return strings.Compare(a.Exchange.String(), b.Exchange.String())
	})

	var (
		weighted, weights float64
		plainSum          float64
		mids              int
		quality           float64
	)
	for _, ob := range snap.Books {
		for _, l := range ob.Bids {
			snap.BidVolume += l.Quantity.Float64()
		}
		for _, l := range ob.Asks {
			snap.AskVolume += l.Quantity.Float64()
		}

		freshness := 1.0
		if maxAge > 0 {
			age := float64(nowNano-bookTime(ob)) / float64(maxAge)
			freshness = min(max(1-age, 0), 1)
		}
		quality += ob.Quality / 100 * freshness

		mid, ok := ob.Mid()
		if !ok {
			continue
		}
		w := ob.Bids[0].Quantity.Float64() + ob.Asks[0].Quantity.Float64()
		weighted += mid * w
		weights += w
		plainSum += mid
		mids++
	}
	if mids == 0 {
		return model.NormalizedSnapshot{}, false
	}

	if weights > 0 {
		snap.WeightedMid = weighted / weights
	} else {
		snap.WeightedMid = plainSum / float64(mids)
	}
	snap.Quality = min(max(quality/float64(len(snap.Books)), 0), 1)
	return snap, true
}
