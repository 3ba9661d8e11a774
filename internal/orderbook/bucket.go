package orderbook

import (
	"cmp"
	"math/bits"
	"slices"
	"sync/atomic"
)

const (
	DefaultBuckets  = 32768
	DefaultSlots    = 8
	DefaultOverflow = 64
	MaxSlots        = 64
)

// BucketConfig fixes the price range and arena geometry of a BucketBook.
type BucketConfig struct {
	MinPrice int64
	MaxPrice int64
	Buckets  int
	Slots    int
	Overflow int
}

func (c BucketConfig) normalize() BucketConfig {
	if c.Buckets <= 0 {
		c.Buckets = DefaultBuckets
	}
	if c.Slots <= 0 {
		c.Slots = DefaultSlots
	}
	if c.Slots > MaxSlots {
		c.Slots = MaxSlots
	}
	if c.Overflow <= 0 {
		c.Overflow = DefaultOverflow
	}
	if c.MaxPrice < c.MinPrice {
		c.MinPrice, c.MaxPrice = c.MaxPrice, c.MinPrice
	}
	return c
}

// BucketStats counts levels that missed the bucket arena.
type BucketStats struct {
	// Overflowed counts prices outside the configured range.
	Overflowed uint64
	// Collisions counts prices whose bucket had no free slot.
	Collisions uint64
	// Dropped counts updates lost because the overflow buffer was full.
	Dropped uint64
}

type bucketStats struct {
	overflowed atomic.Uint64
	collisions atomic.Uint64
	dropped    atomic.Uint64
}

// BucketBook maps prices to a fixed number of buckets with an affine index.
// Buckets are ordered by price so best-price scans walk a bitset of
// non-empty buckets; each bucket holds a few slots in a flat arena.
// Prices outside the range, or landing in a full bucket, go to a small
// unsorted overflow buffer.
type BucketBook struct {
	cfg   BucketConfig
	bids  bucketSide
	asks  bucketSide
	stats bucketStats
}

func NewBucketBook(cfg BucketConfig) *BucketBook {
	cfg = cfg.normalize()
	b := &BucketBook{cfg: cfg}
	b.bids.init(cfg, &b.stats)
	b.asks.init(cfg, &b.stats)
	return b
}

func (b *BucketBook) Config() BucketConfig {
	return b.cfg
}

func (b *BucketBook) Stats() BucketStats {
	return BucketStats{
		Overflowed: b.stats.overflowed.Load(),
		Collisions: b.stats.collisions.Load(),
		Dropped:    b.stats.dropped.Load(),
	}
}

func (b *BucketBook) UpdateBid(price, qty int64) { b.bids.set(price, qty) }
func (b *BucketBook) UpdateAsk(price, qty int64) { b.asks.set(price, qty) }

func (b *BucketBook) BestBid() (Level, bool) { return b.bids.highest() }
func (b *BucketBook) BestAsk() (Level, bool) { return b.asks.lowest() }

func (b *BucketBook) AppendBids(dst []Level) []Level {
	start := len(dst)
	dst = b.bids.appendAll(dst)
	slices.SortFunc(dst[start:], func(x, y Level) int { return cmp.Compare(y.Price, x.Price) })
	return dst
}

func (b *BucketBook) AppendAsks(dst []Level) []Level {
	start := len(dst)
	dst = b.asks.appendAll(dst)
	slices.SortFunc(dst[start:], func(x, y Level) int { return cmp.Compare(x.Price, y.Price) })
	return dst
}

func (b *BucketBook) Depth() (int, int) {
	return b.bids.count, b.asks.count
}

func (b *BucketBook) TruncateDepth(max int) {
	if max < 0 {
		return
	}
	for b.bids.count > max {
		worst, ok := b.bids.lowest()
		if !ok {
			break
		}
		b.bids.remove(worst.Price)
	}
	for b.asks.count > max {
		worst, ok := b.asks.highest()
		if !ok {
			break
		}
		b.asks.remove(worst.Price)
	}
}

func (b *BucketBook) RemoveOutside(lo, hi int64) int {
	return b.bids.removeOutside(lo, hi) + b.asks.removeOutside(lo, hi)
}

func (b *BucketBook) Reset() {
	b.bids.reset()
	b.asks.reset()
}

type bucketSide struct {
	minPrice int64
	maxPrice int64
	span     uint64
	buckets  int
	slots    int
	slotMask uint64

	prices   []int64
	qtys     []int64
	occupied []uint64
	nonEmpty []uint64

	ovPrice []int64
	ovQty   []int64

	count int
	stats *bucketStats
}

func (s *bucketSide) init(cfg BucketConfig, stats *bucketStats) {
	s.minPrice = cfg.MinPrice
	s.maxPrice = cfg.MaxPrice
	s.span = uint64(cfg.MaxPrice - cfg.MinPrice)
	s.buckets = cfg.Buckets
	s.slots = cfg.Slots
	s.slotMask = ^uint64(0) >> (64 - cfg.Slots)
	s.prices = make([]int64, cfg.Buckets*cfg.Slots)
	s.qtys = make([]int64, cfg.Buckets*cfg.Slots)
	s.occupied = make([]uint64, cfg.Buckets)
	s.nonEmpty = make([]uint64, (cfg.Buckets+63)/64)
	s.ovPrice = make([]int64, 0, cfg.Overflow)
	s.ovQty = make([]int64, 0, cfg.Overflow)
	s.stats = stats
}

// bucketOf computes floor((price-min) * buckets / span), clamped to the last bucket.
func (s *bucketSide) bucketOf(price int64) (int, bool) {
	if price < s.minPrice || price > s.maxPrice {
		return 0, false
	}
	if s.span == 0 {
		return 0, true
	}
	hi, lo := bits.Mul64(uint64(price-s.minPrice), uint64(s.buckets))
	idx, _ := bits.Div64(hi, lo, s.span)
	if idx >= uint64(s.buckets) {
		idx = uint64(s.buckets - 1)
	}
	return int(idx), true
}

func (s *bucketSide) findSlot(bucket int, price int64) int {
	base := bucket * s.slots
	for occ := s.occupied[bucket]; occ != 0; occ &= occ - 1 {
		i := base + bits.TrailingZeros64(occ)
		if s.prices[i] == price {
			return i
		}
	}
	return -1
}

func (s *bucketSide) findOverflow(price int64) int {
	for i, p := range s.ovPrice {
		if p == price {
			return i
		}
	}
	return -1
}

func (s *bucketSide) set(price, qty int64) {
	if qty <= 0 {
		s.remove(price)
		return
	}

	bucket, inRange := s.bucketOf(price)
	if inRange {
		if i := s.findSlot(bucket, price); i >= 0 {
			s.qtys[i] = qty
			return
		}
	}
	if i := s.findOverflow(price); i >= 0 {
		s.ovQty[i] = qty
		return
	}

	if inRange {
		if free := ^s.occupied[bucket] & s.slotMask; free != 0 {
			slot := bits.TrailingZeros64(free)
			i := bucket*s.slots + slot
			s.prices[i] = price
			s.qtys[i] = qty
			s.occupied[bucket] |= 1 << slot
			s.nonEmpty[bucket>>6] |= 1 << (bucket & 63)
			s.count++
			return
		}
		s.stats.collisions.Add(1)
	} else {
		s.stats.overflowed.Add(1)
	}

	if len(s.ovPrice) < cap(s.ovPrice) {
		s.ovPrice = append(s.ovPrice, price)
		s.ovQty = append(s.ovQty, qty)
		s.count++
		return
	}
	s.stats.dropped.Add(1)
}

func (s *bucketSide) remove(price int64) bool {
	if bucket, ok := s.bucketOf(price); ok {
		if i := s.findSlot(bucket, price); i >= 0 {
			s.clearSlot(bucket, i-bucket*s.slots)
			return true
		}
	}
	if i := s.findOverflow(price); i >= 0 {
		s.removeOverflow(i)
		return true
	}
	return false
}

func (s *bucketSide) clearSlot(bucket, slot int) {
	s.occupied[bucket] &^= 1 << slot
	if s.occupied[bucket] == 0 {
		s.nonEmpty[bucket>>6] &^= 1 << (bucket & 63)
	}
	s.count--
}

func (s *bucketSide) removeOverflow(i int) {
	last := len(s.ovPrice) - 1
	s.ovPrice[i] = s.ovPrice[last]
	s.ovQty[i] = s.ovQty[last]
	s.ovPrice = s.ovPrice[:last]
	s.ovQty = s.ovQty[:last]
	s.count--
}

func (s *bucketSide) highest() (Level, bool) {
	var best Level
	found := false
	for w := len(s.nonEmpty) - 1; w >= 0; w-- {
		word := s.nonEmpty[w]
		if word == 0 {
			continue
		}
		bucket := w<<6 + 63 - bits.LeadingZeros64(word)
		base := bucket * s.slots
		for occ := s.occupied[bucket]; occ != 0; occ &= occ - 1 {
			i := base + bits.TrailingZeros64(occ)
			if !found || s.prices[i] > best.Price {
				best = Level{Price: s.prices[i], Quantity: s.qtys[i]}
				found = true
			}
		}
		break
	}
	for i, p := range s.ovPrice {
		if !found || p > best.Price {
			best = Level{Price: p, Quantity: s.ovQty[i]}
			found = true
		}
	}
	return best, found
}

func (s *bucketSide) lowest() (Level, bool) {
	var best Level
	found := false
	for w, word := range s.nonEmpty {
		if word == 0 {
			continue
		}
		bucket := w<<6 + bits.TrailingZeros64(word)
		base := bucket * s.slots
		for occ := s.occupied[bucket]; occ != 0; occ &= occ - 1 {
			i := base + bits.TrailingZeros64(occ)
			if !found || s.prices[i] < best.Price {
				best = Level{Price: s.prices[i], Quantity: s.qtys[i]}
				found = true
			}
		}
		break
	}
	for i, p := range s.ovPrice {
		if !found || p < best.Price {
			best = Level{Price: p, Quantity: s.ovQty[i]}
			found = true
		}
	}
	return best, found
}

func (s *bucketSide) forEachBucket(fn func(bucket int)) {
	for w, word := range s.nonEmpty {
		for ; word != 0; word &= word - 1 {
			fn(w<<6 + bits.TrailingZeros64(word))
		}
	}
}

func (s *bucketSide) appendAll(dst []Level) []Level {
	s.forEachBucket(func(bucket int) {
		base := bucket * s.slots
		for occ := s.occupied[bucket]; occ != 0; occ &= occ - 1 {
			i := base + bits.TrailingZeros64(occ)
			dst = append(dst, Level{Price: s.prices[i], Quantity: s.qtys[i]})
		}
	})
	for i, p := range s.ovPrice {
		dst = append(dst, Level{Price: p, Quantity: s.ovQty[i]})
	}
	return dst
}

func (s *bucketSide) removeOutside(lo, hi int64) int {
	removed := 0
	s.forEachBucket(func(bucket int) {
		base := bucket * s.slots
		for occ := s.occupied[bucket]; occ != 0; occ &= occ - 1 {
			slot := bits.TrailingZeros64(occ)
			if p := s.prices[base+slot]; p < lo || p > hi {
				s.clearSlot(bucket, slot)
				removed++
			}
		}
	})
	for i := len(s.ovPrice) - 1; i >= 0; i-- {
		if p := s.ovPrice[i]; p < lo || p > hi {
			s.removeOverflow(i)
			removed++
		}
	}
	return removed
}

func (s *bucketSide) reset() {
	s.forEachBucket(func(bucket int) {
		s.occupied[bucket] = 0
	})
	clear(s.nonEmpty)
	s.ovPrice = s.ovPrice[:0]
	s.ovQty = s.ovQty[:0]
	s.count = 0
}
