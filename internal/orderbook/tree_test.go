package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeBook(t *testing.T) {
	b := NewTreeBook()
	b.UpdateBid(100, 1)
	b.UpdateBid(99, 2)
	b.UpdateBid(101, 3)
	b.UpdateAsk(105, 1)
	b.UpdateAsk(103, 4)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, Level{101, 3}, bid)
	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, Level{103, 4}, ask)

	assert.Equal(t, []Level{{101, 3}, {100, 1}, {99, 2}}, b.AppendBids(nil))
	assert.Equal(t, []Level{{103, 4}, {105, 1}}, b.AppendAsks(nil))

	b.UpdateBid(101, -1)
	bid, _ = b.BestBid()
	assert.Equal(t, int64(100), bid.Price)

	b.TruncateDepth(1)
	assert.Equal(t, []Level{{100, 1}}, b.AppendBids(nil))
	assert.Equal(t, []Level{{103, 4}}, b.AppendAsks(nil))

	b.Reset()
	nb, na := b.Depth()
	assert.Zero(t, nb+na)
}
