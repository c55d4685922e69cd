package state

import (
	"MarketLedger/internal/asset"
	"MarketLedger/internal/ledger"
)

type CallID uint64

// CallOrder is a debt position backed by collateral.
type CallOrder struct {
	ID              CallID           `json:"id"`
	Borrower        ledger.AccountID `json:"borrower"`
	Debt            int64            `json:"debt"`
	DebtAsset       asset.ID         `json:"debt_asset"`
	Collateral      int64            `json:"collateral"`
	CollateralAsset asset.ID         `json:"collateral_asset"`
	CallPrice       asset.Price      `json:"call_price"`
}

func (c *CallOrder) DebtAmount() asset.Amount {
	return asset.New(c.Debt, c.DebtAsset)
}

func (c *CallOrder) CollateralAmount() asset.Amount {
	return asset.New(c.Collateral, c.CollateralAsset)
}

// Collateralization is collateral / debt.
func (c *CallOrder) Collateralization() asset.Price {
	return c.CollateralAmount().Over(c.DebtAmount())
}

// UpdateCallPrice recomputes CallPrice for the given maintenance ratio.
func (c *CallOrder) UpdateCallPrice(collateralRatio uint16) {
	c.CallPrice = asset.CallPrice(c.DebtAmount(), c.CollateralAmount(), collateralRatio)
}
