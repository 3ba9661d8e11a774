package clean

import (
	"math"
	"sync/atomic"
)

const dedupQuadraticLimit = 128

// FiniteMask writes whether each value is finite into dst and returns it,
// growing dst when it is too short.
func FiniteMask(dst []bool, src []float64) []bool {
	dst = grow(dst, len(src))
	active.Load().finite(dst, src)
	return dst
}

// Sanitize replaces every non-finite value with zero and returns how many were replaced.
func Sanitize(values []float64, mask []bool) int {
	replaced := 0
	for i := range values {
		if i < len(mask) && mask[i] {
			continue
		}
		if !isFinite(values[i]) {
			values[i] = 0
			replaced++
		}
	}
	return replaced
}

// And clears dst[i] wherever other[i] is false.
func And(dst, other []bool) {
	n := min(len(dst), len(other))
	for i := 0; i < n; i++ {
		dst[i] = dst[i] && other[i]
	}
}

// RequirePositive clears the mask for values <= 0.
func RequirePositive(mask []bool, values []float64) int {
	removed := 0
	for i := 0; i < len(mask) && i < len(values); i++ {
		if mask[i] && values[i] <= 0 {
			mask[i] = false
			removed++
		}
	}
	return removed
}

// RequireNonNegative clears the mask for values < 0.
func RequireNonNegative(mask []bool, values []float64) int {
	removed := 0
	for i := 0; i < len(mask) && i < len(values); i++ {
		if mask[i] && values[i] < 0 {
			mask[i] = false
			removed++
		}
	}
	return removed
}

// WithinBand clears the mask for values deviating from ref by more than fraction.
// A non-positive ref or fraction disables the filter.
func WithinBand(mask []bool, values []float64, ref, fraction float64) int {
	if ref <= 0 || fraction <= 0 {
		return 0
	}
	lo, hi := ref*(1-fraction), ref*(1+fraction)
	removed := 0
	for i := 0; i < len(mask) && i < len(values); i++ {
		if mask[i] && (values[i] < lo || values[i] > hi) {
			mask[i] = false
			removed++
		}
	}
	return removed
}

// Dedup keeps only the last occurrence of each price among masked entries.
func Dedup(mask []bool, prices []float64) int {
	n := min(len(mask), len(prices))
	removed := 0
	if n <= dedupQuadraticLimit {
		for i := n - 1; i >= 0; i-- {
			if !mask[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if mask[j] && prices[j] == prices[i] {
					mask[i] = false
					removed++
					break
				}
			}
		}
		return removed
	}

	seen := make(map[uint64]struct{}, n)
	for i := n - 1; i >= 0; i-- {
		if !mask[i] {
			continue
		}
		key := math.Float64bits(prices[i])
		if _, ok := seen[key]; ok {
			mask[i] = false
			removed++
			continue
		}
		seen[key] = struct{}{}
	}
	return removed
}

func grow(dst []bool, n int) []bool {
	if cap(dst) < n {
		return make([]bool, n)
	}
	return dst[:n]
}

// Stats are cumulative counts of discarded levels.
type Stats struct {
	NonFinite  uint64
	Negative   uint64
	Outliers   uint64
	Duplicates uint64
}

// Cleaner validates level columns in place. It keeps scratch masks and is
// not safe for concurrent use; counters may be read from any goroutine.
type Cleaner struct {
	// Band is the maximum relative deviation from the reference price; zero disables it.
	Band float64

	priceMask []bool
	qtyMask   []bool

	nonFinite  atomic.Uint64
	negative   atomic.Uint64
	outliers   atomic.Uint64
	duplicates atomic.Uint64
}

// Levels returns the mask of usable levels, valid until the next call.
// Non-finite entries are sanitized to zero.
func (c *Cleaner) Levels(prices, quantities []float64, ref float64) []bool {
	n := min(len(prices), len(quantities))
	prices, quantities = prices[:n], quantities[:n]

	c.priceMask = FiniteMask(c.priceMask, prices)
	c.qtyMask = FiniteMask(c.qtyMask, quantities)
	And(c.priceMask, c.qtyMask)

	if bad := countFalse(c.priceMask); bad > 0 {
		c.nonFinite.Add(uint64(bad))
		Sanitize(prices, c.priceMask)
		Sanitize(quantities, c.priceMask)
	}

	neg := RequirePositive(c.priceMask, prices) + RequireNonNegative(c.priceMask, quantities)
	if neg > 0 {
		c.negative.Add(uint64(neg))
	}
	if out := WithinBand(c.priceMask, prices, ref, c.Band); out > 0 {
		c.outliers.Add(uint64(out))
	}
	if dup := Dedup(c.priceMask, prices); dup > 0 {
		c.duplicates.Add(uint64(dup))
	}
	return c.priceMask
}

func (c *Cleaner) Stats() Stats {
	return Stats{
		NonFinite:  c.nonFinite.Load(),
		Negative:   c.negative.Load(),
		Outliers:   c.outliers.Load(),
		Duplicates: c.duplicates.Load(),
	}
}

func countFalse(mask []bool) int {
	n := 0
	for _, ok := range mask {
		if !ok {
			n++
		}
	}
	return n
}
