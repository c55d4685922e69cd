package ledger

import (
	"fmt"

	"MarketLedger/internal/asset"
)

// AccountID identifies a ledger account.
type AccountID uint64

// BalanceKey is the in-memory key for balance tracking.
type BalanceKey struct {
	Account AccountID
	Asset   asset.ID
}

// AccountPath returns the string representation for storage/logging
func (k BalanceKey) AccountPath() string {
	return fmt.Sprintf("account:%d:asset:%d", k.Account, k.Asset)
}

// Statistics holds per-account counters maintained alongside balances.
type Statistics struct {
	// Core asset currently locked in open orders and collateral.
	CoreInOrders int64 `json:"core_in_orders"`

	// Deferred order fees awaiting vesting.
	PendingFees int64 `json:"pending_fees"`

	LifetimeFeesPaid int64 `json:"lifetime_fees_paid"`
}

// PayFee moves a fee into the vesting bucket.
func (s *Statistics) PayFee(fee int64) {
	s.PendingFees += fee
	s.LifetimeFeesPaid += fee
}
