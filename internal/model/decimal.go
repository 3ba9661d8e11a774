package model

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"marketcore/pkg/exception"
)

// MaxScale is the largest supported number of fractional digits.
const MaxScale = 18

var pow10 = [MaxScale + 1]int64{
	1, 10, 100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000, 100_000_000,
	1_000_000_000, 10_000_000_000, 100_000_000_000, 1_000_000_000_000,
	10_000_000_000_000, 100_000_000_000_000, 1_000_000_000_000_000,
	10_000_000_000_000_000, 100_000_000_000_000_000, 1_000_000_000_000_000_000,
}

var (
	maxInt64Decimal = decimal.NewFromInt(math.MaxInt64)
	minInt64Decimal = decimal.NewFromInt(math.MinInt64)
)

// Decimal is a scaled integer: Integer / 10^Scale.
type Decimal struct {
	Integer int64
	Scale   int
}

// NewDecimal builds a decimal from a scaled integer.
func NewDecimal(integer int64, scale int) Decimal {
	return Decimal{Integer: integer, Scale: scale}
}

// ParseDecimal parses a decimal string keeping its natural scale.
func ParseDecimal(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, errors.Wrap(exception.ErrParse, err.Error()).With("value", s)
	}
	scale := 0
	if exp := d.Exponent(); exp < 0 {
		scale = int(-exp)
	}
	if scale > MaxScale {
		d = d.Round(MaxScale)
		scale = MaxScale
	}
	return fromShopspring(d, scale, s)
}

// ParseDecimalScale parses a decimal string and rounds it to scale digits.
func ParseDecimalScale(s string, scale int) (Decimal, error) {
	if scale < 0 || scale > MaxScale {
		return Decimal{}, errors.Wrap(exception.ErrInvalidArgument, "scale out of range").With("scale", scale)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, errors.Wrap(exception.ErrParse, err.Error()).With("value", s)
	}
	return fromShopspring(d.Round(int32(scale)), scale, s)
}

func fromShopspring(d decimal.Decimal, scale int, raw string) (Decimal, error) {
	shifted := d.Shift(int32(scale))
	if shifted.GreaterThan(maxInt64Decimal) || shifted.LessThan(minInt64Decimal) {
		return Decimal{}, errors.Wrap(exception.ErrParse, "decimal overflows int64").With("value", raw)
	}
	return Decimal{Integer: shifted.IntPart(), Scale: scale}, nil
}

// DecimalFromFloat converts a finite float to a decimal at the given scale.
func DecimalFromFloat(f float64, scale int) (Decimal, bool) {
	if scale < 0 || scale > MaxScale || math.IsNaN(f) || math.IsInf(f, 0) {
		return Decimal{}, false
	}
	v := math.Round(f * float64(pow10[scale]))
	if v >= math.MaxInt64 || v <= math.MinInt64 {
		return Decimal{}, false
	}
	return Decimal{Integer: int64(v), Scale: scale}, true
}

// Rescale returns the value expressed with scale digits, rounding half away from zero.
// It reports false when the result does not fit an int64.
func (d Decimal) Rescale(scale int) (Decimal, bool) {
	if scale < 0 || scale > MaxScale || d.Scale < 0 || d.Scale > MaxScale {
		return Decimal{}, false
	}
	if scale == d.Scale {
		return d, true
	}
	if scale > d.Scale {
		mul := pow10[scale-d.Scale]
		if d.Integer > math.MaxInt64/mul || d.Integer < math.MinInt64/mul {
			return Decimal{}, false
		}
		return Decimal{Integer: d.Integer * mul, Scale: scale}, true
	}
	div := pow10[d.Scale-scale]
	q, r := d.Integer/div, d.Integer%div
	if r >= div/2 && r > 0 {
		q++
	} else if -r >= div/2 && r < 0 {
		q--
	}
	return Decimal{Integer: q, Scale: scale}, true
}

// Cmp compares two decimals: -1 when d < o, 0 when equal, 1 when d > o.
func (d Decimal) Cmp(o Decimal) int {
	scale := max(d.Scale, o.Scale)
	a, okA := d.Rescale(scale)
	b, okB := o.Rescale(scale)
	if !okA || !okB {
		fa, fb := d.Float64(), o.Float64()
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	switch {
	case a.Integer < b.Integer:
		return -1
	case a.Integer > b.Integer:
		return 1
	default:
		return 0
	}
}

func (d Decimal) IsZero() bool {
	return d.Integer == 0
}

func (d Decimal) Sign() int {
	switch {
	case d.Integer < 0:
		return -1
	case d.Integer > 0:
		return 1
	default:
		return 0
	}
}

// Float64 returns the nearest float to the decimal value.
func (d Decimal) Float64() float64 {
	if d.Scale <= 0 || d.Scale > MaxScale {
		return float64(d.Integer)
	}
	return float64(d.Integer) / float64(pow10[d.Scale])
}

func (d Decimal) AppendString(buf []byte) []byte {
	return appendScaledInt(buf, d.Integer, d.Scale)
}

func (d Decimal) String() string {
	var buf [32]byte
	return string(d.AppendString(buf[:0]))
}

func appendScaledInt(buf []byte, value int64, scale int) []byte {
	if scale <= 0 {
		return strconv.AppendInt(buf, value, 10)
	}

	neg := value < 0
	u := uint64(value)
	if neg {
		u = uint64(^value) + 1
	}

	var tmp [32]byte
	digits := strconv.AppendUint(tmp[:0], u, 10)

	if neg {
		buf = append(buf, '-')
	}

	if len(digits) <= scale {
		buf = append(buf, '0', '.')
		for i := 0; i < scale-len(digits); i++ {
			buf = append(buf, '0')
		}
		buf = append(buf, digits...)
		return buf
	}

	idx := len(digits) - scale
	buf = append(buf, digits[:idx]...)
	buf = append(buf, '.')
	buf = append(buf, digits[idx:]...)
	return buf
}
