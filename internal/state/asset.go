package state

import (
	"fmt"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/ledger"
	fp "MarketLedger/internal/math"
)

// AssetFlags toggles optional asset behavior.
type AssetFlags uint16

const (
	FlagChargeMarketFee AssetFlags = 1 << iota
	FlagDisableForceSettle
	FlagGlobalSettle
)

const (
	DefaultMaintenanceCollateralRatio uint16 = 1750
	DefaultMaximumShortSqueezeRatio   uint16 = 1500
	MinCollateralRatio                uint16 = 1001
	MaxCollateralRatio                uint16 = 32000
)

// Asset is a registered asset. Bitasset is set for market-issued assets only.
type Asset struct {
	ID               asset.ID         `json:"id"`
	Symbol           string           `json:"symbol"`
	Issuer           ledger.AccountID `json:"issuer"`
	MaxSupply        int64            `json:"max_supply"`
	MarketFeePercent uint16           `json:"market_fee_percent"`
	MaxMarketFee     int64            `json:"max_market_fee"`
	Flags            AssetFlags       `json:"flags"`
	Dynamic          DynamicData      `json:"dynamic"`
	Bitasset         *BitassetData    `json:"bitasset,omitempty"`
}

// DynamicData tracks values that change with every trade.
type DynamicData struct {
	CurrentSupply   int64 `json:"current_supply"`
	AccumulatedFees int64 `json:"accumulated_fees"`
}

// BitassetData is the market-issued part of an asset.
type BitassetData struct {
	BackingAsset       asset.ID  `json:"backing_asset"`
	IsPredictionMarket bool      `json:"is_prediction_market"`
	Feed               PriceFeed `json:"feed"`

	ForceSettlementDelaySec      int64  `json:"force_settlement_delay_sec"`
	ForceSettlementOffsetPercent uint16 `json:"force_settlement_offset_percent"`
	MaxForceSettlementVolume     uint16 `json:"max_force_settlement_volume"`
	ForceSettledVolume           int64  `json:"force_settled_volume"`

	Settled         bool        `json:"settled"`
	SettlementPrice asset.Price `json:"settlement_price"`
	SettlementFund  int64       `json:"settlement_fund"`
}

// PriceFeed is the current feed of a market-issued asset. SettlementPrice is
// expressed as debt asset / backing asset.
type PriceFeed struct {
	SettlementPrice            asset.Price `json:"settlement_price"`
	MaintenanceCollateralRatio uint16      `json:"maintenance_collateral_ratio"`
	MaximumShortSqueezeRatio   uint16      `json:"maximum_short_squeeze_ratio"`
}

func (f PriceFeed) IsNull() bool {
	return f.SettlementPrice.IsNull()
}

// MaxShortSqueezePrice is the least favorable price at which a margin call is
// still forced.
func (f PriceFeed) MaxShortSqueezePrice() asset.Price {
	return f.SettlementPrice.Scaled(asset.CollateralRatioDenom, int64(f.MaximumShortSqueezeRatio), fp.ShrinkCeil)
}

// ValidateFeed checks a feed against the asset it is published for.
func ValidateFeed(f PriceFeed, debt, backing asset.ID) error {
	if err := f.SettlementPrice.Validate(); err != nil {
		return err
	}
	if f.SettlementPrice.Base.AssetID != debt || f.SettlementPrice.Quote.AssetID != backing {
		return fmt.Errorf("feed price %s must be asset %d / asset %d", f.SettlementPrice, debt, backing)
	}
	if f.MaintenanceCollateralRatio < MinCollateralRatio || f.MaintenanceCollateralRatio > MaxCollateralRatio {
		return fmt.Errorf("maintenance_collateral_ratio must be in [%d, %d], got %d",
			MinCollateralRatio, MaxCollateralRatio, f.MaintenanceCollateralRatio)
	}
	if f.MaximumShortSqueezeRatio < MinCollateralRatio || f.MaximumShortSqueezeRatio > MaxCollateralRatio {
		return fmt.Errorf("maximum_short_squeeze_ratio must be in [%d, %d], got %d",
			MinCollateralRatio, MaxCollateralRatio, f.MaximumShortSqueezeRatio)
	}
	return nil
}

func (a *Asset) IsMarketIssued() bool { return a.Bitasset != nil }

func (a *Asset) ChargesMarketFees() bool { return a.Flags&FlagChargeMarketFee != 0 }

func (a *Asset) CanForceSettle() bool { return a.Flags&FlagDisableForceSettle == 0 }

func (a *Asset) CanGlobalSettle() bool { return a.Flags&FlagGlobalSettle != 0 }

func (a *Asset) Amount(v int64) asset.Amount { return asset.New(v, a.ID) }

// MaxForceSettlementVolumeFor is the amount that may be force settled per
// maintenance interval.
func (b *BitassetData) MaxForceSettlementVolumeFor(supply int64) (int64, error) {
	return fp.MulDiv(supply, int64(b.MaxForceSettlementVolume), asset.HundredPercent)
}

func (a *Asset) clone() *Asset {
	c := *a
	if a.Bitasset != nil {
		b := *a.Bitasset
		c.Bitasset = &b
	}
	return &c
}
