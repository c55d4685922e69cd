package state

import (
	"MarketLedger/internal/asset"
	"MarketLedger/internal/ledger"
)

type OrderID uint64

// LimitOrder is a resting order selling SellPrice.Base for SellPrice.Quote.
type LimitOrder struct {
	ID                  OrderID           `json:"id"`
	Seller              ledger.AccountID  `json:"seller"`
	ForSale             int64             `json:"for_sale"`
	SellPrice           asset.Price       `json:"sell_price"`
	DeferredFee         int64             `json:"deferred_fee"`
	ExchangeFeeReceiver *ledger.AccountID `json:"exchange_fee_receiver,omitempty"`
	Expiration          int64             `json:"expiration"`
}

func (o *LimitOrder) AmountForSale() asset.Amount {
	return asset.New(o.ForSale, o.SellPrice.Base.AssetID)
}

// AmountToReceive is what the order asks for its remaining quantity.
func (o *LimitOrder) AmountToReceive() (asset.Amount, error) {
	return o.AmountForSale().Mul(o.SellPrice)
}
