package market

import (
	"fmt"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/event"
	"MarketLedger/internal/ledger"
	fp "MarketLedger/internal/math"
	"MarketLedger/internal/state"
)

// CalculateMarketFee is the issuer's cut of amount, in a's units.
func CalculateMarketFee(a *state.Asset, amount asset.Amount) (asset.Amount, error) {
	if a.ID != amount.AssetID {
		return asset.Amount{}, fmt.Errorf("%w: fee of asset %d on %s", asset.ErrAssetMismatch, a.ID, amount)
	}
	if !a.ChargesMarketFees() || a.MarketFeePercent == 0 {
		return a.Amount(0), nil
	}
	fee, err := fp.MulDiv(amount.Amount, int64(a.MarketFeePercent), asset.HundredPercent)
	if err != nil {
		return asset.Amount{}, fmt.Errorf("market fee on %s: %w", amount, err)
	}
	if fee > a.MaxMarketFee {
		fee = a.MaxMarketFee
	}
	return a.Amount(fee), nil
}

func (e *Engine) payMarketFees(a *state.Asset, receives asset.Amount) (asset.Amount, error) {
	fee, err := CalculateMarketFee(a, receives)
	if err != nil {
		return asset.Amount{}, err
	}
	if fee.Amount > receives.Amount {
		panic(fmt.Sprintf("FATAL: market fee %s exceeds %s", fee, receives))
	}
	if fee.Amount > 0 {
		next, err := fp.Add(a.Dynamic.AccumulatedFees, fee.Amount)
		if err != nil {
			return asset.Amount{}, fmt.Errorf("accumulated fees of asset %d: %w", a.ID, err)
		}
		e.store.ModifyAsset(a, func(a *state.Asset) { a.Dynamic.AccumulatedFees = next })
	}
	return fee, nil
}

func (e *Engine) payOrder(receiver ledger.AccountID, receives, pays asset.Amount) error {
	if pays.AssetID == asset.CoreAssetID {
		e.adjustCoreInOrders(receiver, -pays.Amount)
	}
	return e.store.AdjustBalance(receiver, receives)
}

func (e *Engine) countFill(kind event.OrderKind) {
	if e.metrics != nil {
		e.metrics.MarketFills.WithLabelValues(kind.String()).Inc()
	}
}

// payExchangeFee moves the receiver's cut of net from the seller of o.
func (e *Engine) payExchangeFee(o *state.LimitOrder, receiver ledger.AccountID, net asset.Amount, paid asset.ID) (asset.Amount, uint32, error) {
	if e.fees == nil {
		return asset.New(0, net.AssetID), 0, nil
	}
	rate := e.fees.ExchangeFeeRate(receiver, net.AssetID, paid)
	if rate == 0 {
		return asset.New(0, net.AssetID), 0, nil
	}
	cut, err := fp.MulDiv(net.Amount, int64(rate), state.ExchangeRateScale)
	if err != nil {
		return asset.Amount{}, 0, err
	}
	if err := e.store.AdjustBalance(o.Seller, asset.New(-cut, net.AssetID)); err != nil {
		return asset.Amount{}, 0, err
	}
	if err := e.store.AdjustBalance(receiver, asset.New(cut, net.AssetID)); err != nil {
		return asset.Amount{}, 0, err
	}
	return asset.New(cut, net.AssetID), rate, nil
}

// fillLimitOrder settles one side of a trade on a limit order. It reports
// whether the order is gone.
func (e *Engine) fillLimitOrder(o *state.LimitOrder, pays, receives asset.Amount, cullIfSmall bool) (bool, error) {
	cullIfSmall = cullIfSmall || e.policy.EagerCull()

	if pays.AssetID != o.SellPrice.Base.AssetID {
		panic(fmt.Sprintf("FATAL: order %d sells asset %d but pays %s", o.ID, o.SellPrice.Base.AssetID, pays))
	}
	if pays.AssetID == receives.AssetID {
		panic(fmt.Sprintf("FATAL: order %d pays and receives asset %d", o.ID, pays.AssetID))
	}
	if pays.Amount > o.ForSale {
		panic(fmt.Sprintf("FATAL: order %d pays %s with only %d for sale", o.ID, pays, o.ForSale))
	}

	fee, err := e.payMarketFees(e.mustAsset(receives.AssetID), receives)
	if err != nil {
		return false, err
	}
	net := asset.New(receives.Amount-fee.Amount, receives.AssetID)
	if err := e.payOrder(o.Seller, net, pays); err != nil {
		return false, fmt.Errorf("pay order %d: %w", o.ID, err)
	}

	fill := &event.FillOrder{
		Kind:        event.OrderKindLimit,
		OrderID:     uint64(o.ID),
		Account:     o.Seller,
		Pays:        pays,
		Receives:    receives,
		Fee:         fee,
		FillPrice:   pays.Over(receives),
		ExchangeFee: asset.New(0, net.AssetID),
	}
	if o.ExchangeFeeReceiver != nil {
		receiver := *o.ExchangeFeeReceiver
		fill.ExchangeFeeReceiver = &receiver
		cut, rate, err := e.payExchangeFee(o, receiver, net, pays.AssetID)
		if err != nil {
			return false, fmt.Errorf("exchange fee of order %d: %w", o.ID, err)
		}
		fill.ExchangeFeeRate = rate
		fill.ExchangeFee = cut
	}
	e.emit(fill)
	e.countFill(event.OrderKindLimit)

	if o.DeferredFee > 0 {
		deferred := o.DeferredFee
		e.store.ModifyStatistics(o.Seller, func(st *ledger.Statistics) { st.PayFee(deferred) })
	}

	if pays.Amount == o.ForSale {
		e.store.RemoveOrder(o)
		return true, nil
	}
	e.store.ModifyOrder(o, func(o *state.LimitOrder) {
		o.ForSale -= pays.Amount
		o.DeferredFee = 0
	})
	if cullIfSmall {
		return e.maybeCull(o)
	}
	return false, nil
}

// fillCallOrder takes pays of collateral and retires receives of debt. It
// reports whether the position was closed.
func (e *Engine) fillCallOrder(c *state.CallOrder, pays, receives asset.Amount) (bool, error) {
	if receives.AssetID != c.DebtAsset || pays.AssetID != c.CollateralAsset {
		panic(fmt.Sprintf("FATAL: call %d filled with %s for %s", c.ID, pays, receives))
	}
	if pays.Amount > c.Collateral || receives.Amount > c.Debt {
		panic(fmt.Sprintf("FATAL: call %d (debt %d, collateral %d) filled with %s for %s",
			c.ID, c.Debt, c.Collateral, pays, receives))
	}

	mia := e.mustAsset(c.DebtAsset)
	ratio := state.DefaultMaintenanceCollateralRatio
	if mia.Bitasset != nil && mia.Bitasset.Feed.MaintenanceCollateralRatio != 0 {
		ratio = mia.Bitasset.Feed.MaintenanceCollateralRatio
	}

	var freed int64
	e.store.ModifyCall(c, func(c *state.CallOrder) {
		c.Debt -= receives.Amount
		c.Collateral -= pays.Amount
		if c.Debt == 0 {
			freed = c.Collateral
			c.Collateral = 0
		}
		c.UpdateCallPrice(ratio)
	})
	closed := c.Debt == 0

	if err := e.adjustSupply(mia, -receives.Amount); err != nil {
		return false, err
	}

	if freed > 0 {
		if err := e.store.AdjustBalance(c.Borrower, asset.New(freed, c.CollateralAsset)); err != nil {
			return false, fmt.Errorf("free collateral of call %d: %w", c.ID, err)
		}
	}
	if c.CollateralAsset == asset.CoreAssetID {
		e.adjustCoreInOrders(c.Borrower, -(freed + pays.Amount))
	}

	e.emit(&event.FillOrder{
		Kind:      event.OrderKindCall,
		OrderID:   uint64(c.ID),
		Account:   c.Borrower,
		Pays:      pays,
		Receives:  receives,
		Fee:       asset.New(0, pays.AssetID),
		FillPrice: pays.Over(receives),
	})
	e.countFill(event.OrderKindCall)

	if closed {
		e.store.RemoveCall(c)
	}
	return closed, nil
}

// fillSettlement pays receives of collateral to a force settlement request
// that gives up pays of the market-issued asset.
func (e *Engine) fillSettlement(s *state.ForceSettlement, pays, receives asset.Amount) (bool, error) {
	if pays.AssetID != s.Balance.AssetID || pays.Amount > s.Balance.Amount {
		panic(fmt.Sprintf("FATAL: settlement %d holding %s pays %s", s.ID, s.Balance, pays))
	}

	fee, err := e.payMarketFees(e.mustAsset(receives.AssetID), receives)
	if err != nil {
		return false, err
	}

	filled := pays.Amount == s.Balance.Amount
	if !filled {
		e.store.ModifySettlement(s, func(s *state.ForceSettlement) { s.Balance.Amount -= pays.Amount })
	}
	if err := e.store.AdjustBalance(s.Owner, asset.New(receives.Amount-fee.Amount, receives.AssetID)); err != nil {
		return false, fmt.Errorf("pay settlement %d: %w", s.ID, err)
	}

	e.emit(&event.FillOrder{
		Kind:      event.OrderKindSettle,
		OrderID:   uint64(s.ID),
		Account:   s.Owner,
		Pays:      pays,
		Receives:  receives,
		Fee:       fee,
		FillPrice: pays.Over(receives),
	})
	e.countFill(event.OrderKindSettle)

	if filled {
		e.store.RemoveSettlement(s)
	}
	return filled, nil
}
