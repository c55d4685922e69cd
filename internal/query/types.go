package query

import "time"

// FillResponse is one fill of an account.
type FillResponse struct {
	FillID         string    `json:"fill_id,omitempty"`
	Sequence       int64     `json:"sequence"`
	Kind           string    `json:"kind"`
	OrderID        uint64    `json:"order_id"`
	Account        uint64    `json:"account"`
	PaysAsset      uint32    `json:"pays_asset"`
	PaysAmount     int64     `json:"pays_amount"`
	ReceivesAsset  uint32    `json:"receives_asset"`
	ReceivesAmount int64     `json:"receives_amount"`
	FeeAsset       uint32    `json:"fee_asset"`
	FeeAmount      int64     `json:"fee_amount"`
	Price          string    `json:"price"` // receives per pays
	Timestamp      time.Time `json:"timestamp"`
	AsOfSequence   int64     `json:"as_of_sequence"`

	ExchangeFeeReceiver *uint64 `json:"exchange_fee_receiver,omitempty"`
	ExchangeFeeRate     uint32  `json:"exchange_fee_rate,omitempty"`
	ExchangeFeeAmount   int64   `json:"exchange_fee_amount,omitempty"`
}

// AssetStatusResponse summarises the read-model state of one asset.
type AssetStatusResponse struct {
	AssetID         uint32 `json:"asset_id"`
	GloballySettled bool   `json:"globally_settled"`
	SettlementPrice string `json:"settlement_price,omitempty"`
	SettlementFund  int64  `json:"settlement_fund,omitempty"`
	TolledTotal     int64  `json:"tolled_total"`
	FillCount       int64  `json:"fill_count"`
	LastSequence    int64  `json:"last_sequence"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	LastSequence    int64   `json:"last_sequence"`
}
