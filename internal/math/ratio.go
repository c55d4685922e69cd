package math

import (
	"github.com/holiman/uint256"
)

// ShrinkMode selects how a ratio is halved when a side exceeds the limit.
type ShrinkMode int

const (
	// ShrinkPlusOne halves as (x >> 1) + 1.
	ShrinkPlusOne ShrinkMode = iota
	// ShrinkCeil halves as (x >> 1) + (x & 1).
	ShrinkCeil
)

func gcd(a, b *uint256.Int) *uint256.Int {
	x := new(uint256.Int).Set(a)
	y := new(uint256.Int).Set(b)
	for !y.IsZero() {
		x, y = y, new(uint256.Int).Mod(x, y)
	}
	return x
}

func reduce(num, den *uint256.Int) {
	g := gcd(num, den)
	if g.IsZero() || g.IsUint64() && g.Uint64() == 1 {
		return
	}
	num.Div(num, g)
	den.Div(den, g)
}

// ScaleRatio returns (n1*n2) / (d1*d2) reduced to lowest terms and, while
// either side exceeds limit, halved according to mode. Inputs are
// non-negative and the denominators non-zero.
func ScaleRatio(n1, n2, d1, d2 uint64, limit uint64, mode ShrinkMode) (num, den int64) {
	n := new(uint256.Int).Mul(uint256.NewInt(n1), uint256.NewInt(n2))
	d := new(uint256.Int).Mul(uint256.NewInt(d1), uint256.NewInt(d2))
	if n.IsZero() {
		return 0, 1
	}
	reduce(n, d)

	max := uint256.NewInt(limit)
	one := uint256.NewInt(1)
	for n.Gt(max) || d.Gt(max) {
		nodd := new(uint256.Int).And(n, one)
		dodd := new(uint256.Int).And(d, one)
		n.Rsh(n, 1)
		d.Rsh(d, 1)
		switch mode {
		case ShrinkPlusOne:
			n.Add(n, one)
			d.Add(d, one)
		case ShrinkCeil:
			n.Add(n, nodd)
			d.Add(d, dodd)
		}
		reduce(n, d)
	}
	return int64(n.Uint64()), int64(d.Uint64())
}
