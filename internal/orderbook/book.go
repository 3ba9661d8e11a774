package orderbook

// Level is a price level in ticks of the book's price and quantity scales.
type Level struct {
	Price    int64
	Quantity int64
}

// Book stores both sides of one order book. A quantity <= 0 deletes the level.
// Implementations never panic on out-of-range prices.
type Book interface {
	UpdateBid(price, qty int64)
	UpdateAsk(price, qty int64)
	BestBid() (Level, bool)
	BestAsk() (Level, bool)
	// AppendBids appends bids best first (descending price).
	AppendBids(dst []Level) []Level
	// AppendAsks appends asks best first (ascending price).
	AppendAsks(dst []Level) []Level
	Depth() (bids, asks int)
	// TruncateDepth keeps at most max levels per side, dropping the worst prices.
	TruncateDepth(max int)
	// RemoveOutside deletes every level priced below lo or above hi on both sides.
	RemoveOutside(lo, hi int64) int
	Reset()
}

// IsCrossed reports best bid >= best ask.
func IsCrossed(b Book) bool {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	return okBid && okAsk && bid.Price >= ask.Price
}

// Mid returns the midpoint of the best prices in ticks.
func Mid(b Book) (int64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return bid.Price + (ask.Price-bid.Price)/2, true
}

// CleanupAnomalies removes levels further than fraction away from the mid price.
func CleanupAnomalies(b Book, fraction float64) int {
	if fraction <= 0 {
		return 0
	}
	mid, ok := Mid(b)
	if !ok || mid <= 0 {
		return 0
	}
	delta := int64(float64(mid) * fraction)
	return b.RemoveOutside(mid-delta, mid+delta)
}
