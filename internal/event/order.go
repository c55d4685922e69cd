package event

import (
	"MarketLedger/internal/asset"
	"MarketLedger/internal/ledger"
)

// LimitOrderCreate places an order selling AmountToSell for at least
// MinToReceive. Fee is charged in the core asset and refunded on cancel.
type LimitOrderCreate struct {
	Header
	Seller              ledger.AccountID  `json:"seller"`
	AmountToSell        asset.Amount      `json:"amount_to_sell"`
	MinToReceive        asset.Amount      `json:"min_to_receive"`
	Expiration          int64             `json:"expiration"`
	FillOrKill          bool              `json:"fill_or_kill"`
	Fee                 int64             `json:"fee"`
	ExchangeFeeReceiver *ledger.AccountID `json:"exchange_fee_receiver,omitempty"`
}

func (o *LimitOrderCreate) EventType() EventType {
	return EventTypeLimitOrderCreate
}

type LimitOrderCancel struct {
	Header
	Owner   ledger.AccountID `json:"owner"`
	OrderID uint64           `json:"order_id"`
}

func (o *LimitOrderCancel) EventType() EventType {
	return EventTypeLimitOrderCancel
}

// CallOrderUpdate borrows, repays or moves collateral. Positive deltas add
// to the position.
type CallOrderUpdate struct {
	Header
	Borrower        ledger.AccountID `json:"borrower"`
	DeltaCollateral asset.Amount     `json:"delta_collateral"`
	DeltaDebt       asset.Amount     `json:"delta_debt"`
}

func (o *CallOrderUpdate) EventType() EventType {
	return EventTypeCallOrderUpdate
}
