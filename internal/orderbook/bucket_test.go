package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/pkg/sys"
)

func smallBucketBook() *BucketBook {
	return NewBucketBook(BucketConfig{MinPrice: 1000, MaxPrice: 2000, Buckets: 64, Slots: 2, Overflow: 4})
}

func TestBucketConfigDefaults(t *testing.T) {
	cfg := NewBucketBook(BucketConfig{MinPrice: 0, MaxPrice: 1000}).Config()
	assert.Equal(t, 32768, cfg.Buckets)
	assert.Equal(t, 8, cfg.Slots)
	assert.Equal(t, 64, cfg.Overflow)

	cfg = NewBucketBook(BucketConfig{MinPrice: 0, MaxPrice: 1000, Slots: 100}).Config()
	assert.Equal(t, MaxSlots, cfg.Slots)
}

func TestBucketIndexAffine(t *testing.T) {
	b := smallBucketBook()
	testCases := []struct {
		desc    string
		price   int64
		bucket  int
		inRange bool
	}{
		{"min", 1000, 0, true},
		{"max clamps", 2000, 63, true},
		{"mid", 1500, 32, true},
		{"below", 999, 0, false},
		{"above", 2001, 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			bucket, ok := b.bids.bucketOf(tc.price)
			assert.Equal(t, tc.inRange, ok)
			if ok {
				assert.Equal(t, tc.bucket, bucket)
			}
		})
	}
}

func TestBucketIndexMonotonic(t *testing.T) {
	b := NewBucketBook(BucketConfig{MinPrice: 0, MaxPrice: 1 << 40, Buckets: 4096})
	prev := -1
	for p := int64(0); p <= 1<<40; p += 1 << 28 {
		bucket, ok := b.bids.bucketOf(p)
		require.True(t, ok)
		require.GreaterOrEqual(t, bucket, prev)
		prev = bucket
	}
}

func TestBucketBookBestPrices(t *testing.T) {
	b := smallBucketBook()
	b.UpdateBid(1500, 10)
	b.UpdateBid(1490, 5)
	b.UpdateAsk(1510, 3)
	b.UpdateAsk(1600, 1)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, Level{1500, 10}, bid)

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, Level{1510, 3}, ask)

	b.UpdateBid(1500, 0)
	bid, _ = b.BestBid()
	assert.Equal(t, Level{1490, 5}, bid)

	nb, na := b.Depth()
	assert.Equal(t, 1, nb)
	assert.Equal(t, 2, na)
}

func TestBucketBookOutOfRangeGoesToOverflow(t *testing.T) {
	b := smallBucketBook()
	b.UpdateBid(5000, 1) // above range: still the best bid
	b.UpdateBid(1500, 1)
	b.UpdateAsk(10, 2) // below range: still the best ask
	b.UpdateAsk(1600, 1)

	bid, _ := b.BestBid()
	assert.Equal(t, int64(5000), bid.Price)
	ask, _ := b.BestAsk()
	assert.Equal(t, int64(10), ask.Price)
	assert.Equal(t, uint64(2), b.Stats().Overflowed)

	b.UpdateBid(5000, 0)
	bid, _ = b.BestBid()
	assert.Equal(t, int64(1500), bid.Price)
}

func TestBucketBookCollisionAndDrop(t *testing.T) {
	b := smallBucketBook()
	// 1000..1015 map to bucket 0 with 2 slots; the rest spill over.
	for p := int64(1000); p < 1008; p++ {
		b.UpdateBid(p, 1)
	}
	stats := b.Stats()
	assert.Equal(t, uint64(6), stats.Collisions)
	assert.Equal(t, uint64(2), stats.Dropped)

	nb, _ := b.Depth()
	assert.Equal(t, 6, nb)

	levels := b.AppendBids(nil)
	require.Len(t, levels, 6)
	for i := 1; i < len(levels); i++ {
		assert.Greater(t, levels[i-1].Price, levels[i].Price)
	}
}

func TestBucketBookTruncateDepth(t *testing.T) {
	b := smallBucketBook()
	for p := int64(1100); p <= 1900; p += 100 {
		b.UpdateBid(p, 1)
		b.UpdateAsk(p, 1)
	}
	b.TruncateDepth(3)

	assert.Equal(t, []Level{{1900, 1}, {1800, 1}, {1700, 1}}, b.AppendBids(nil))
	assert.Equal(t, []Level{{1100, 1}, {1200, 1}, {1300, 1}}, b.AppendAsks(nil))
}

func TestBucketBookCleanupAnomalies(t *testing.T) {
	b := smallBucketBook()
	b.UpdateBid(1500, 1)
	b.UpdateBid(1100, 1)
	b.UpdateAsk(1510, 1)
	b.UpdateAsk(1990, 1)
	b.UpdateAsk(9000, 1)

	removed := CleanupAnomalies(b, 0.1)
	assert.Equal(t, 3, removed)
	nb, na := b.Depth()
	assert.Equal(t, 1, nb)
	assert.Equal(t, 1, na)
}

func TestBucketBookCrossed(t *testing.T) {
	b := smallBucketBook()
	b.UpdateBid(1500, 1)
	b.UpdateAsk(1500, 1)
	assert.True(t, IsCrossed(b))

	b.UpdateAsk(1500, 0)
	b.UpdateAsk(1501, 1)
	assert.False(t, IsCrossed(b))
}

func TestBucketBookReset(t *testing.T) {
	b := smallBucketBook()
	b.UpdateBid(1500, 1)
	b.UpdateAsk(3000, 1)
	b.Reset()

	_, ok := b.BestBid()
	assert.False(t, ok)
	_, ok = b.BestAsk()
	assert.False(t, ok)
	nb, na := b.Depth()
	assert.Zero(t, nb+na)
}

func TestBucketBookUpdateNoAlloc(t *testing.T) {
	b := NewBucketBook(BucketConfig{MinPrice: 0, MaxPrice: 1_000_000, Buckets: 4096, Slots: 16})
	alloc, _ := sys.MeasureMem(func() {
		for i := range int64(10_000) {
			b.UpdateBid(400_000+i%500, i+1)
			b.UpdateAsk(500_000+i%500, i+1)
			b.BestBid()
			b.BestAsk()
		}
	})
	t.Logf("alloc during updates: %d", alloc)
}

func BenchmarkBucketBookUpdate(b *testing.B) {
	book := NewBucketBook(BucketConfig{MinPrice: 0, MaxPrice: 1_000_000, Buckets: 4096, Slots: 16})
	var i int64
	for b.Loop() {
		book.UpdateBid(400_000+i%1000, i%7)
		book.UpdateAsk(500_000+i%1000, i%5)
		i++
	}
}

func BenchmarkTreeBookUpdate(b *testing.B) {
	book := NewTreeBook()
	var i int64
	for b.Loop() {
		book.UpdateBid(400_000+i%1000, i%7)
		book.UpdateAsk(500_000+i%1000, i%5)
		i++
	}
}
