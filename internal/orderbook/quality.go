package orderbook

import (
	"math"

	"marketcore/internal/model"
)

const (
	qualityFullDepth    = 20
	qualityMaxSpreadBps = 100.0
	qualityComponentMax = 25.0
	qualityVolumeLevels = qualityFullDepth
)

// Quality scores a book in [0, 100] from four equally weighted parts:
// depth, spread tightness, liquidity against baseline, and bid/ask balance.
// A non-positive baseline gives full liquidity credit to any non-empty book.
func Quality(ob model.OrderBook, baseline float64) float64 {
	if len(ob.Bids) == 0 && len(ob.Asks) == 0 {
		return 0
	}

	levels := min(len(ob.Bids), len(ob.Asks))
	depth := qualityComponentMax * math.Min(float64(levels)/qualityFullDepth, 1)

	var spread float64
	if mid, ok := ob.Mid(); ok && mid > 0 && !ob.IsCrossed() {
		bid, _ := ob.BestBid()
		ask, _ := ob.BestAsk()
		bps := (ask.Price.Float64() - bid.Price.Float64()) / mid * 10_000
		spread = qualityComponentMax * math.Max(0, 1-bps/qualityMaxSpreadBps)
	}

	var bidVol, askVol float64
	for i := 0; i < len(ob.Bids) && i < qualityVolumeLevels; i++ {
		bidVol += ob.Bids[i].Quantity.Float64()
	}
	for i := 0; i < len(ob.Asks) && i < qualityVolumeLevels; i++ {
		askVol += ob.Asks[i].Quantity.Float64()
	}
	total := bidVol + askVol

	var liquidity float64
	switch {
	case total <= 0:
	case baseline <= 0:
		liquidity = qualityComponentMax
	default:
		liquidity = qualityComponentMax * math.Min(total/baseline, 1)
	}

	var balance float64
	if total > 0 {
		balance = qualityComponentMax * (1 - math.Abs(bidVol-askVol)/total)
	}

	score := depth + spread + liquidity + balance
	return math.Max(0, math.Min(100, score))
}
