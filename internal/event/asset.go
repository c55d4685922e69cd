package event

import (
	"fmt"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/ledger"
)

// BitassetOptions configure a market-issued asset at creation.
type BitassetOptions struct {
	BackingAsset                 asset.ID `json:"backing_asset"`
	IsPredictionMarket           bool     `json:"is_prediction_market"`
	ForceSettlementDelaySec      int64    `json:"force_settlement_delay_sec"`
	ForceSettlementOffsetPercent uint16   `json:"force_settlement_offset_percent"`
	MaxForceSettlementVolume     uint16   `json:"max_force_settlement_volume"`
}

// AssetCreate registers a new asset. Bitasset is set for market-issued assets.
type AssetCreate struct {
	Header
	AssetID          asset.ID         `json:"asset_id"`
	Symbol           string           `json:"symbol"`
	Issuer           ledger.AccountID `json:"issuer"`
	MaxSupply        int64            `json:"max_supply"`
	MarketFeePercent uint16           `json:"market_fee_percent"`
	MaxMarketFee     int64            `json:"max_market_fee"`
	Flags            uint16           `json:"flags"`
	Bitasset         *BitassetOptions `json:"bitasset,omitempty"`
}

func (a *AssetCreate) EventType() EventType {
	return EventTypeAssetCreate
}

// Deposit issues Amount to Account. Market-issued assets can only be
// issued by borrowing.
type Deposit struct {
	Header
	Account ledger.AccountID `json:"account"`
	Amount  asset.Amount     `json:"amount"`
}

func (d *Deposit) EventType() EventType {
	return EventTypeDeposit
}

// PriceFeedPublish replaces the current feed of a market-issued asset.
// Feeds are gap tolerant and ordered per asset.
type PriceFeedPublish struct {
	Header
	AssetID                    asset.ID    `json:"asset_id"`
	SettlementPrice            asset.Price `json:"settlement_price"`
	MaintenanceCollateralRatio uint16      `json:"maintenance_collateral_ratio"`
	MaximumShortSqueezeRatio   uint16      `json:"maximum_short_squeeze_ratio"`
}

func (p *PriceFeedPublish) EventType() EventType {
	return EventTypePriceFeedPublish
}

func (p *PriceFeedPublish) Partition() string {
	return fmt.Sprintf("feed:%d", p.AssetID)
}

// AssetSettle asks to redeem Amount of a market-issued asset for collateral.
type AssetSettle struct {
	Header
	Account ledger.AccountID `json:"account"`
	Amount  asset.Amount     `json:"amount"`
}

func (s *AssetSettle) EventType() EventType {
	return EventTypeAssetSettle
}

// AssetGlobalSettle is the issuer forcing a global settlement at SettlePrice.
type AssetGlobalSettle struct {
	Header
	Issuer      ledger.AccountID `json:"issuer"`
	AssetID     asset.ID         `json:"asset_id"`
	SettlePrice asset.Price      `json:"settle_price"`
}

func (g *AssetGlobalSettle) EventType() EventType {
	return EventTypeAssetGlobalSettle
}
