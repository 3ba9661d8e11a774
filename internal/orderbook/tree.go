package orderbook

import "github.com/tidwall/btree"

// TreeBook keeps each side in an ordered B-tree. It is the reference
// implementation for BucketBook and the fallback when no price range is known.
type TreeBook struct {
	bids btree.Map[int64, int64]
	asks btree.Map[int64, int64]
}

func NewTreeBook() *TreeBook {
	return &TreeBook{}
}

func (t *TreeBook) UpdateBid(price, qty int64) { update(&t.bids, price, qty) }
func (t *TreeBook) UpdateAsk(price, qty int64) { update(&t.asks, price, qty) }

func update(m *btree.Map[int64, int64], price, qty int64) {
	if qty <= 0 {
		m.Delete(price)
		return
	}
	m.Set(price, qty)
}

func (t *TreeBook) BestBid() (Level, bool) {
	p, q, ok := t.bids.Max()
	return Level{Price: p, Quantity: q}, ok
}

func (t *TreeBook) BestAsk() (Level, bool) {
	p, q, ok := t.asks.Min()
	return Level{Price: p, Quantity: q}, ok
}

func (t *TreeBook) AppendBids(dst []Level) []Level {
	t.bids.Reverse(func(p, q int64) bool {
		dst = append(dst, Level{Price: p, Quantity: q})
		return true
	})
	return dst
}

func (t *TreeBook) AppendAsks(dst []Level) []Level {
	t.asks.Scan(func(p, q int64) bool {
		dst = append(dst, Level{Price: p, Quantity: q})
		return true
	})
	return dst
}

func (t *TreeBook) Depth() (int, int) {
	return t.bids.Len(), t.asks.Len()
}

func (t *TreeBook) TruncateDepth(max int) {
	if max < 0 {
		return
	}
	for t.bids.Len() > max {
		t.bids.PopMin()
	}
	for t.asks.Len() > max {
		t.asks.PopMax()
	}
}

func (t *TreeBook) RemoveOutside(lo, hi int64) int {
	return removeOutside(&t.bids, lo, hi) + removeOutside(&t.asks, lo, hi)
}

func removeOutside(m *btree.Map[int64, int64], lo, hi int64) int {
	var doomed []int64
	m.Scan(func(p, _ int64) bool {
		if p < lo || p > hi {
			doomed = append(doomed, p)
		}
		return true
	})
	for _, p := range doomed {
		m.Delete(p)
	}
	return len(doomed)
}

func (t *TreeBook) Reset() {
	t.bids = btree.Map[int64, int64]{}
	t.asks = btree.Map[int64, int64]{}
}
