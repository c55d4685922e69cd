package market

import (
	"MarketLedger/internal/asset"
	"MarketLedger/internal/ledger"
	"MarketLedger/internal/state"
)

// FeeSchedule resolves exchange fee rates, scaled by state.ExchangeRateScale.
type FeeSchedule interface {
	ExchangeFeeRate(receiver ledger.AccountID, receive, pay asset.ID) uint32
}

// TollHook deducts a toll from resting orders before they are matched or
// cancelled. Toll reports the amount to deduct from o.ForSale and records
// that o has been tolled; the engine clamps it to [0, o.ForSale].
type TollHook interface {
	Toll(o *state.LimitOrder) int64

	// Sweep returns up to limit order ids that are still due a toll and
	// advances past them.
	Sweep(limit int) []state.OrderID
}
