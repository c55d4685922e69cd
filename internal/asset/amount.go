package asset

import (
	"errors"
	"fmt"

	fp "MarketLedger/internal/math"
)

// ID identifies an asset. The core asset is ID 0.
type ID uint32

const CoreAssetID ID = 0

const (
	// MaxShareSupply bounds any stored quantity and the numerator of MaxPrice.
	MaxShareSupply int64 = 1_000_000_000_000_000

	// HundredPercent is the denominator for percentage parameters (basis points).
	HundredPercent = 10000

	// CollateralRatioDenom is the denominator for collateral and squeeze ratios.
	CollateralRatioDenom = 1000
)

var ErrAssetMismatch = errors.New("asset id mismatch")

// Amount is a quantity tagged with the asset it is denominated in.
type Amount struct {
	Amount  int64 `json:"amount"`
	AssetID ID    `json:"asset_id"`
}

func New(amount int64, id ID) Amount {
	return Amount{Amount: amount, AssetID: id}
}

func (a Amount) String() string {
	return fmt.Sprintf("%d@%d", a.Amount, a.AssetID)
}

func (a Amount) Add(b Amount) (Amount, error) {
	if a.AssetID != b.AssetID {
		return Amount{}, fmt.Errorf("%w: %s + %s", ErrAssetMismatch, a, b)
	}
	s, err := fp.Add(a.Amount, b.Amount)
	if err != nil {
		return Amount{}, err
	}
	return New(s, a.AssetID), nil
}

func (a Amount) Sub(b Amount) (Amount, error) {
	if a.AssetID != b.AssetID {
		return Amount{}, fmt.Errorf("%w: %s - %s", ErrAssetMismatch, a, b)
	}
	s, err := fp.Sub(a.Amount, b.Amount)
	if err != nil {
		return Amount{}, err
	}
	return New(s, a.AssetID), nil
}

func (a Amount) Neg() Amount {
	return New(-a.Amount, a.AssetID)
}

// Cmp compares two amounts of the same asset. Comparing different assets is
// a logic error.
func (a Amount) Cmp(b Amount) int {
	if a.AssetID != b.AssetID {
		panic(fmt.Sprintf("FATAL: comparing %s with %s", a, b))
	}
	switch {
	case a.Amount < b.Amount:
		return -1
	case a.Amount > b.Amount:
		return 1
	}
	return 0
}

// Mul converts a through p, rounding down. If a is in p's base asset the
// result is in p's quote asset, and vice versa.
func (a Amount) Mul(p Price) (Amount, error) {
	var (
		out ID
		num int64
		den int64
	)
	switch a.AssetID {
	case p.Base.AssetID:
		out, num, den = p.Quote.AssetID, p.Quote.Amount, p.Base.Amount
	case p.Quote.AssetID:
		out, num, den = p.Base.AssetID, p.Base.Amount, p.Quote.Amount
	default:
		return Amount{}, fmt.Errorf("%w: %s * %s", ErrAssetMismatch, a, p)
	}
	v, err := fp.MulDiv(a.Amount, num, den)
	if err != nil {
		return Amount{}, fmt.Errorf("%s * %s: %w", a, p, err)
	}
	if v > MaxShareSupply {
		return Amount{}, fmt.Errorf("%w: %s * %s exceeds max supply", fp.ErrOverflow, a, p)
	}
	return New(v, out), nil
}

// Over builds the price a/b.
func (a Amount) Over(b Amount) Price {
	return Price{Base: a, Quote: b}
}
