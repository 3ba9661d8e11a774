package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketcore/pkg/exception"
)

func TestParseDecimal(t *testing.T) {
	testCases := []struct {
		desc    string
		input   string
		integer int64
		scale   int
	}{
		{"integer", "50000", 50000, 0},
		{"fraction", "50000.25", 5000025, 2},
		{"trailing zeros kept", "0.10000000", 10000000, 8},
		{"negative", "-1.5", -15, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			d, err := ParseDecimal(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.integer, d.Integer)
			assert.Equal(t, tc.scale, d.Scale)
		})
	}
}

func TestParseDecimalErrors(t *testing.T) {
	for _, input := range []string{"", "abc", "1.2.3", "99999999999999999999"} {
		_, err := ParseDecimal(input)
		assert.ErrorIs(t, err, exception.ErrParse, input)
	}
}

func TestParseDecimalScale(t *testing.T) {
	d, err := ParseDecimalScale("50000.125", 2)
	require.NoError(t, err)
	assert.Equal(t, NewDecimal(5000013, 2), d)
}

func TestDecimalRescale(t *testing.T) {
	d := NewDecimal(12345, 3) // 12.345

	up, ok := d.Rescale(5)
	require.True(t, ok)
	assert.Equal(t, int64(1234500), up.Integer)

	down, ok := d.Rescale(2)
	require.True(t, ok)
	assert.Equal(t, int64(1235), down.Integer)

	neg, ok := NewDecimal(-12345, 3).Rescale(2)
	require.True(t, ok)
	assert.Equal(t, int64(-1235), neg.Integer)

	_, ok = NewDecimal(1<<62, 0).Rescale(4)
	assert.False(t, ok)
}

func TestDecimalCmp(t *testing.T) {
	assert.Equal(t, 0, NewDecimal(150, 2).Cmp(NewDecimal(15, 1)))
	assert.Equal(t, -1, NewDecimal(149, 2).Cmp(NewDecimal(15, 1)))
	assert.Equal(t, 1, NewDecimal(2, 0).Cmp(NewDecimal(15, 1)))
}

func TestDecimalFromFloat(t *testing.T) {
	d, ok := DecimalFromFloat(50000.12, 8)
	require.True(t, ok)
	assert.Equal(t, int64(5000012000000), d.Integer)
	assert.Equal(t, "50000.12000000", d.String())

	_, ok = DecimalFromFloat(1e300, 8)
	assert.False(t, ok)
}

func TestDecimalAppendString(t *testing.T) {
	assert.Equal(t, "0.005", NewDecimal(5, 3).String())
	assert.Equal(t, "-12.30", NewDecimal(-1230, 2).String())
	assert.Equal(t, "42", NewDecimal(42, 0).String())
}
