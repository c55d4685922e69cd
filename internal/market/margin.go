package market

import (
	"errors"
	"fmt"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/event"
	fp "MarketLedger/internal/math"
	"MarketLedger/internal/state"
)

// CheckCallOrders fills the least collateralized positions of a
// market-issued asset against the book for as long as the book pays at
// least their call price. It reports whether a margin call executed.
//
// A position whose collateral cannot cover its debt at the match price
// settles the asset globally, or fails with a *BlackSwanError when
// allowGlobalSettlement is false.
func (e *Engine) CheckCallOrders(id asset.ID, allowGlobalSettlement bool) (bool, error) {
	mia, ok := e.store.Asset(id)
	if !ok {
		return false, unknownAsset(id)
	}
	if !mia.IsMarketIssued() {
		return false, nil
	}

	swanned, err := e.checkForBlackSwan(mia, allowGlobalSettlement)
	if err != nil || swanned {
		return false, err
	}
	if mia.Bitasset.IsPredictionMarket || mia.Bitasset.Feed.IsNull() {
		return false, nil
	}

	backing := mia.Bitasset.BackingAsset
	callLo := asset.MinPrice(backing, id)
	callHi := asset.MaxPrice(backing, id)

	var limit *state.LimitOrder
	bids := e.store.Orders().AtOrBetter(mia.Bitasset.Feed.MaxShortSqueezePrice())
	marginCalled := false
	for {
		if marginCalled {
			swanned, err := e.checkForBlackSwan(mia, allowGlobalSettlement)
			if err != nil {
				return marginCalled, err
			}
			if swanned {
				return marginCalled, nil
			}
		}

		feed := mia.Bitasset.Feed
		call := e.store.Calls().Front(callLo, callHi)
		if call == nil {
			return marginCalled, nil
		}
		limit, bids = e.nextResting(bids)
		if limit == nil {
			return marginCalled, nil
		}

		matchPrice := limit.SellPrice
		if err := matchPrice.Validate(); err != nil {
			panic(fmt.Sprintf("FATAL: resting order %d has invalid price: %v", limit.ID, err))
		}
		callLimit := call.CallPrice.Invert()

		feedProtected := feed.SettlementPrice.Greater(callLimit)
		if feedProtected && e.policy.FeedProtectionHalts() {
			return marginCalled, nil
		}
		if matchPrice.Greater(callLimit) {
			return marginCalled, nil
		}
		if feedProtected {
			e.logger.Info().
				Uint64("call_id", uint64(call.ID)).
				Uint64("order_id", uint64(limit.ID)).
				Str("call_price", call.CallPrice.String()).
				Str("feed", feed.SettlementPrice.String()).
				Msg("feed protected margin call executing")
		}

		marginCalled = true

		debt := call.DebtAmount()
		cost, err := debt.Mul(matchPrice)
		if err != nil && !errors.Is(err, fp.ErrOverflow) {
			return marginCalled, err
		}
		if err != nil || cost.Amount > call.Collateral {
			e.logger.Error().
				Uint32("asset_id", uint32(id)).
				Uint64("call_id", uint64(call.ID)).
				Str("debt", debt.String()).
				Str("collateral", call.CollateralAmount().String()).
				Str("match_price", matchPrice.String()).
				Bool("allowed", allowGlobalSettlement).
				Msg("black swan detected")
			if e.metrics != nil {
				e.metrics.BlackSwans.Inc()
			}
			if !allowGlobalSettlement {
				return marginCalled, &BlackSwanError{
					AssetID:    id,
					Debt:       debt,
					Collateral: call.CollateralAmount(),
					Price:      matchPrice,
				}
			}
			if err := e.GloballySettleAsset(id, feed.SettlementPrice); err != nil {
				return marginCalled, err
			}
			return true, nil
		}

		forSale := limit.AmountForSale()
		var callPays, callReceives, orderPays, orderReceives asset.Amount
		if debt.Amount >= forSale.Amount {
			callReceives = forSale
			orderPays = forSale
		} else {
			callReceives = debt
			orderPays = debt
		}
		if orderReceives, err = callReceives.Mul(matchPrice); err != nil {
			return marginCalled, err
		}
		callPays = orderReceives

		if _, err := e.fillCallOrder(call, callPays, callReceives); err != nil {
			return marginCalled, err
		}
		if _, err := e.fillLimitOrder(limit, orderPays, orderReceives, true); err != nil {
			return marginCalled, err
		}
		if e.metrics != nil {
			e.metrics.MarginCalls.Inc()
		}
	}
}

// checkForBlackSwan settles mia when its least collateralized position is
// worth less than both the best bid and the feed. It reports whether mia is
// settled afterwards.
func (e *Engine) checkForBlackSwan(mia *state.Asset, allowGlobalSettlement bool) (bool, error) {
	if !mia.IsMarketIssued() {
		return false, nil
	}
	bd := mia.Bitasset
	if bd.Settled {
		return true, nil
	}
	if bd.IsPredictionMarket || bd.Feed.IsNull() {
		return false, nil
	}

	backing := bd.BackingAsset
	call := e.store.Calls().Front(asset.MinPrice(backing, mia.ID), asset.MaxPrice(backing, mia.ID))
	if call == nil {
		return false, nil
	}

	highest := bd.Feed.SettlementPrice
	if bid := e.store.Orders().Front(asset.MaxPrice(mia.ID, backing), asset.MinPrice(mia.ID, backing)); bid != nil {
		highest = asset.MaxOf(bid.SellPrice, highest)
	}

	least := call.Collateralization().Invert()
	if least.Less(highest) {
		return false, nil
	}

	e.logger.Error().
		Uint32("asset_id", uint32(mia.ID)).
		Uint64("call_id", uint64(call.ID)).
		Str("least_collateralization", least.String()).
		Str("highest", highest.String()).
		Bool("allowed", allowGlobalSettlement).
		Msg("black swan detected")
	if e.metrics != nil {
		e.metrics.BlackSwans.Inc()
	}
	if !allowGlobalSettlement {
		return false, &BlackSwanError{
			AssetID:    mia.ID,
			Debt:       call.DebtAmount(),
			Collateral: call.CollateralAmount(),
			Price:      least,
		}
	}
	if err := e.GloballySettleAsset(mia.ID, least); err != nil {
		return false, err
	}
	return true, nil
}

// GloballySettleAsset closes every position of a market-issued asset at
// price (debt / collateral) and freezes the asset. Holders redeem from the
// collected fund afterwards.
func (e *Engine) GloballySettleAsset(id asset.ID, price asset.Price) error {
	mia, ok := e.store.Asset(id)
	if !ok {
		return unknownAsset(id)
	}
	if !mia.IsMarketIssued() {
		return fmt.Errorf("%w: asset %d", ErrNotMarketIssued, id)
	}
	if mia.Bitasset.Settled {
		return fmt.Errorf("%w: asset %d", ErrAlreadySettled, id)
	}

	backing := mia.Bitasset.BackingAsset
	originalSupply := mia.Dynamic.CurrentSupply
	var gathered int64

	for _, cid := range e.store.Calls().ForDebtAsset(id, backing) {
		call, ok := e.store.Calls().Get(cid)
		if !ok {
			continue
		}
		pays, err := call.DebtAmount().Mul(price)
		if err != nil && !errors.Is(err, fp.ErrOverflow) {
			return fmt.Errorf("settle call %d: %w", call.ID, err)
		}
		if err != nil || pays.Amount > call.Collateral {
			pays = call.CollateralAmount()
		}
		if gathered, err = fp.Add(gathered, pays.Amount); err != nil {
			return fmt.Errorf("settlement fund of asset %d: %w", id, err)
		}
		closed, err := e.fillCallOrder(call, pays, call.DebtAmount())
		if err != nil {
			return err
		}
		if !closed {
			panic(fmt.Sprintf("FATAL: call %d still open after global settlement", call.ID))
		}
	}

	settlementPrice := asset.New(originalSupply, id).Over(asset.New(gathered, backing))
	e.store.ModifyAsset(mia, func(a *state.Asset) {
		a.Bitasset.Settled = true
		a.Bitasset.SettlementPrice = settlementPrice
		a.Bitasset.SettlementFund = gathered
		a.Dynamic.CurrentSupply = originalSupply
	})

	e.logger.Warn().
		Uint32("asset_id", uint32(id)).
		Str("price", price.String()).
		Str("settlement_price", settlementPrice.String()).
		Int64("fund", gathered).
		Msg("asset globally settled")

	e.emit(&event.GlobalSettled{
		AssetID:         id,
		SettlementPrice: settlementPrice,
		Fund:            gathered,
	})
	return nil
}
