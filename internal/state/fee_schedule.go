package state

import (
	"fmt"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/ledger"
)

// ExchangeRateScale is the denominator of exchange fee rates.
const ExchangeRateScale = 10000

// AssetPair keys an exchange fee rate by the asset the seller receives and
// the asset it pays.
type AssetPair struct {
	Receive asset.ID
	Pay     asset.ID
}

// ExchangeFeeConfig is the rate table of one fee receiver.
type ExchangeFeeConfig struct {
	Receiver ledger.AccountID
	Rates    map[AssetPair]uint32
}

// FeeScheduleManager holds exchange fee configuration per receiver.
type FeeScheduleManager struct {
	configs map[ledger.AccountID]*ExchangeFeeConfig
}

func NewFeeScheduleManager() *FeeScheduleManager {
	return &FeeScheduleManager{
		configs: make(map[ledger.AccountID]*ExchangeFeeConfig),
	}
}

// ValidateExchangeFeeRate checks 0 <= rate < ExchangeRateScale.
func ValidateExchangeFeeRate(rate uint32) error {
	if rate >= ExchangeRateScale {
		return fmt.Errorf("exchange fee rate must be < %d, got %d", ExchangeRateScale, rate)
	}
	return nil
}

func (m *FeeScheduleManager) SetExchangeFeeRate(receiver ledger.AccountID, pair AssetPair, rate uint32) error {
	if err := ValidateExchangeFeeRate(rate); err != nil {
		return fmt.Errorf("invalid exchange fee for receiver %d: %w", receiver, err)
	}
	if pair.Receive == pair.Pay {
		return fmt.Errorf("invalid exchange fee for receiver %d: pair uses asset %d twice", receiver, pair.Pay)
	}
	conf, ok := m.configs[receiver]
	if !ok {
		conf = &ExchangeFeeConfig{Receiver: receiver, Rates: make(map[AssetPair]uint32)}
		m.configs[receiver] = conf
	}
	conf.Rates[pair] = rate
	return nil
}

// ExchangeFeeRate returns the configured rate, or 0.
func (m *FeeScheduleManager) ExchangeFeeRate(receiver ledger.AccountID, receive, pay asset.ID) uint32 {
	conf, ok := m.configs[receiver]
	if !ok {
		return 0
	}
	return conf.Rates[AssetPair{Receive: receive, Pay: pay}]
}
