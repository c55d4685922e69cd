package math

import (
	"errors"
	"fmt"
	stdmath "math"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow       = errors.New("arithmetic overflow")
	ErrDivisionByZero = errors.New("division by zero")
)

// magnitude returns |v| as uint64. Safe for math.MinInt64.
func magnitude(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}

// MulDiv computes a * b / d with a 256-bit intermediate, truncating toward
// zero. The result must fit in int64.
func MulDiv(a, b, d int64) (int64, error) {
	if d == 0 {
		return 0, fmt.Errorf("%w: %d * %d / 0", ErrDivisionByZero, a, b)
	}
	negative := (a < 0) != (b < 0) != (d < 0)
	if a == 0 || b == 0 {
		return 0, nil
	}

	product := new(uint256.Int).Mul(uint256.NewInt(magnitude(a)), uint256.NewInt(magnitude(b)))
	divisor := uint256.NewInt(magnitude(d))
	quotient := new(uint256.Int).Div(product, divisor)

	limit := uint64(stdmath.MaxInt64)
	if negative {
		limit++
	}
	if !quotient.IsUint64() || quotient.Uint64() > limit {
		return 0, fmt.Errorf("%w: %d * %d / %d", ErrOverflow, a, b, d)
	}
	q := quotient.Uint64()
	if negative {
		return -int64(q - 1) - 1, nil
	}
	return int64(q), nil
}

// CompareProducts compares a*b against c*d without overflow.
// All operands must be non-negative.
func CompareProducts(a, b, c, d int64) int {
	if a < 0 || b < 0 || c < 0 || d < 0 {
		panic(fmt.Sprintf("FATAL: CompareProducts on negative operand (%d, %d, %d, %d)", a, b, c, d))
	}
	left := new(uint256.Int).Mul(uint256.NewInt(uint64(a)), uint256.NewInt(uint64(b)))
	right := new(uint256.Int).Mul(uint256.NewInt(uint64(c)), uint256.NewInt(uint64(d)))
	return left.Cmp(right)
}

// Add returns a + b or ErrOverflow.
func Add(a, b int64) (int64, error) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	return s, nil
}

// Sub returns a - b or ErrOverflow.
func Sub(a, b int64) (int64, error) {
	s := a - b
	if (b < 0 && s < a) || (b > 0 && s > a) {
		return 0, fmt.Errorf("%w: %d - %d", ErrOverflow, a, b)
	}
	return s, nil
}
