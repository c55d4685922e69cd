package math

import (
	stdmath "math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulDiv_Truncates(t *testing.T) {
	tests := []struct {
		name    string
		a, b, d int64
		want    int64
	}{
		{"exact", 10, 10, 4, 25},
		{"truncates", 7, 1, 2, 3},
		{"just below next", 5, 1, 3, 1},
		{"negative toward zero", -7, 1, 2, -3},
		{"negative divisor", 7, 1, -2, -3},
		{"zero operand", 0, stdmath.MaxInt64, 3, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := MulDiv(tc.a, tc.b, tc.d)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMulDiv_WideIntermediate(t *testing.T) {
	// 1e15 * 1e15 overflows int64 but the quotient fits.
	got, err := MulDiv(1_000_000_000_000_000, 1_000_000_000_000_000, 1_000_000_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000_000_000), got)
}

func TestMulDiv_Overflow(t *testing.T) {
	_, err := MulDiv(stdmath.MaxInt64, 2, 1)
	assert.ErrorIs(t, err, ErrOverflow)

	got, err := MulDiv(stdmath.MinInt64, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(stdmath.MinInt64), got)
}

func TestMulDiv_DivisionByZero(t *testing.T) {
	_, err := MulDiv(1, 1, 0)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestCompareProducts(t *testing.T) {
	assert.Equal(t, 0, CompareProducts(2, 3, 3, 2))
	assert.Equal(t, -1, CompareProducts(1, 5, 2, 3))
	assert.Equal(t, 1, CompareProducts(stdmath.MaxInt64, stdmath.MaxInt64, stdmath.MaxInt64, stdmath.MaxInt64-1))
	assert.Panics(t, func() { CompareProducts(-1, 1, 1, 1) })
}

func TestCheckedAddSub(t *testing.T) {
	s, err := Add(1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), s)

	_, err = Add(stdmath.MaxInt64, 1)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Sub(stdmath.MinInt64, 1)
	assert.ErrorIs(t, err, ErrOverflow)

	d, err := Sub(5, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), d)
}

func TestScaleRatio(t *testing.T) {
	n, d := ScaleRatio(100, 1750, 90, 1000, 1_000_000_000_000_000, ShrinkPlusOne)
	// 175000 / 90000 reduces to 35/18
	assert.Equal(t, int64(35), n)
	assert.Equal(t, int64(18), d)

	n, d = ScaleRatio(0, 1750, 90, 1000, 1_000_000_000_000_000, ShrinkPlusOne)
	assert.Equal(t, int64(0), n)
	assert.Equal(t, int64(1), d)
}

func TestScaleRatio_ShrinksToLimit(t *testing.T) {
	limit := uint64(1000)
	n, d := ScaleRatio(999_999, 7, 3, 1, limit, ShrinkCeil)
	assert.LessOrEqual(t, n, int64(limit))
	assert.LessOrEqual(t, d, int64(limit))
	assert.Positive(t, n)
	// 6999993/3 reduces to 2333331/1; halving keeps the denominator at one
	assert.Equal(t, int64(1), d)
}
