package state

import (
	"MarketLedger/internal/asset"
	"MarketLedger/internal/ledger"
)

type SettleID uint64

// ForceSettlement is a pending request to redeem Balance against the
// least collateralized positions once SettlementDate is reached.
type ForceSettlement struct {
	ID             SettleID         `json:"id"`
	Owner          ledger.AccountID `json:"owner"`
	Balance        asset.Amount     `json:"balance"`
	SettlementDate int64            `json:"settlement_date"`
}
