package asset

import (
	"errors"
	"fmt"

	fp "MarketLedger/internal/math"
)

var ErrInvalidPrice = errors.New("invalid price")

// Price is the exchange rate Base/Quote. Two prices over the same pair are
// equal when their cross products are equal.
type Price struct {
	Base  Amount `json:"base"`
	Quote Amount `json:"quote"`
}

func (p Price) String() string {
	return fmt.Sprintf("%s/%s", p.Base, p.Quote)
}

// MaxPrice is the highest representable price of base in quote.
func MaxPrice(base, quote ID) Price {
	return Price{Base: New(MaxShareSupply, base), Quote: New(1, quote)}
}

// MinPrice is the lowest representable price of base in quote.
func MinPrice(base, quote ID) Price {
	return Price{Base: New(1, base), Quote: New(MaxShareSupply, quote)}
}

// Max is the highest representable price of p's pair.
func (p Price) Max() Price { return MaxPrice(p.Base.AssetID, p.Quote.AssetID) }

// Invert returns ~p.
func (p Price) Invert() Price {
	return Price{Base: p.Quote, Quote: p.Base}
}

func (p Price) IsNull() bool {
	return p.Base.Amount == 0 || p.Quote.Amount == 0
}

func (p Price) Validate() error {
	if p.Base.Amount <= 0 || p.Quote.Amount <= 0 {
		return fmt.Errorf("%w: %s has non-positive side", ErrInvalidPrice, p)
	}
	if p.Base.AssetID == p.Quote.AssetID {
		return fmt.Errorf("%w: %s uses one asset on both sides", ErrInvalidPrice, p)
	}
	if p.Base.Amount > MaxShareSupply || p.Quote.Amount > MaxShareSupply {
		return fmt.Errorf("%w: %s exceeds max supply", ErrInvalidPrice, p)
	}
	return nil
}

// Compare orders prices by base asset, then quote asset, then value.
func (p Price) Compare(q Price) int {
	switch {
	case p.Base.AssetID < q.Base.AssetID:
		return -1
	case p.Base.AssetID > q.Base.AssetID:
		return 1
	case p.Quote.AssetID < q.Quote.AssetID:
		return -1
	case p.Quote.AssetID > q.Quote.AssetID:
		return 1
	}
	// p.base/p.quote vs q.base/q.quote
	return fp.CompareProducts(p.Base.Amount, q.Quote.Amount, q.Base.Amount, p.Quote.Amount)
}

func (p Price) Less(q Price) bool    { return p.Compare(q) < 0 }
func (p Price) Greater(q Price) bool { return p.Compare(q) > 0 }
func (p Price) Equal(q Price) bool   { return p.Compare(q) == 0 }

func MaxOf(a, b Price) Price {
	if a.Less(b) {
		return b
	}
	return a
}

// Scaled returns p * num / den, reduced and shrunk so neither side exceeds
// MaxShareSupply.
func (p Price) Scaled(num, den int64, mode fp.ShrinkMode) Price {
	n, d := fp.ScaleRatio(uint64(p.Base.Amount), uint64(num), uint64(p.Quote.Amount), uint64(den), uint64(MaxShareSupply), mode)
	return Price{Base: New(n, p.Base.AssetID), Quote: New(d, p.Quote.AssetID)}
}

// CallPrice is the collateral/debt price at which a position with the given
// maintenance collateral ratio becomes callable.
func CallPrice(debt, collateral Amount, collateralRatio uint16) Price {
	if collateral.Amount == 0 {
		return MinPrice(collateral.AssetID, debt.AssetID)
	}
	if debt.Amount == 0 {
		return MaxPrice(collateral.AssetID, debt.AssetID)
	}
	return debt.Over(collateral).Scaled(int64(collateralRatio), CollateralRatioDenom, fp.ShrinkPlusOne).Invert()
}
