package market

import (
	"errors"
	"fmt"

	"MarketLedger/internal/asset"
)

var (
	ErrBlackSwan              = errors.New("black swan")
	ErrAlreadySettled         = errors.New("asset already globally settled")
	ErrNotMarketIssued        = errors.New("asset is not market issued")
	ErrUnknownObject          = errors.New("unknown object")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrInvalidOperation       = errors.New("invalid operation")
	ErrNotFilled              = errors.New("fill or kill order was not filled")
)

// BlackSwanError reports a position that cannot cover its debt at the price
// it would be matched at, in a context that may not settle the asset.
type BlackSwanError struct {
	AssetID    asset.ID
	Debt       asset.Amount
	Collateral asset.Amount
	Price      asset.Price
}

func (e *BlackSwanError) Error() string {
	return fmt.Sprintf("black swan on asset %d: debt %s collateral %s at %s",
		e.AssetID, e.Debt, e.Collateral, e.Price)
}

func (e *BlackSwanError) Unwrap() error {
	return ErrBlackSwan
}

func unknownAsset(id asset.ID) error {
	return fmt.Errorf("%w: asset %d", ErrUnknownObject, id)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, fmt.Sprintf(format, args...))
}
