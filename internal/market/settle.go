package market

import (
	"errors"
	"fmt"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/event"
	fp "MarketLedger/internal/math"
	"MarketLedger/internal/state"
)

func (e *Engine) forceSettle(op *event.AssetSettle) error {
	mia, ok := e.store.Asset(op.Amount.AssetID)
	if !ok {
		return unknownAsset(op.Amount.AssetID)
	}
	if !mia.IsMarketIssued() {
		return fmt.Errorf("%w: asset %d", ErrNotMarketIssued, mia.ID)
	}
	if op.Amount.Amount <= 0 {
		return invalid("settle amount %s", op.Amount)
	}
	bd := mia.Bitasset

	if bd.Settled {
		return e.redeem(mia, op)
	}
	if !mia.CanForceSettle() {
		return invalid("force settlement of asset %d is disabled", mia.ID)
	}
	if bd.IsPredictionMarket {
		return invalid("prediction market %d settles only globally", mia.ID)
	}

	if err := e.store.AdjustBalance(op.Account, op.Amount.Neg()); err != nil {
		return fmt.Errorf("settle %s: %w", op.Amount, err)
	}
	due, err := fp.Add(op.HeadTime(), bd.ForceSettlementDelaySec)
	if err != nil {
		return fmt.Errorf("settlement date: %w", err)
	}
	e.store.InsertSettlement(&state.ForceSettlement{
		Owner:          op.Account,
		Balance:        op.Amount,
		SettlementDate: due,
	})
	return nil
}

// redeem pays out of a globally settled asset's fund at the frozen price.
func (e *Engine) redeem(mia *state.Asset, op *event.AssetSettle) error {
	bd := mia.Bitasset
	if bd.SettlementFund == 0 || bd.SettlementPrice.IsNull() {
		return invalid("asset %d has nothing left to redeem", mia.ID)
	}
	pays, err := op.Amount.Mul(bd.SettlementPrice)
	if err != nil {
		return fmt.Errorf("redeem %s: %w", op.Amount, err)
	}
	if pays.Amount > bd.SettlementFund {
		return invalid("redeeming %s pays %s, fund holds %d", op.Amount, pays, bd.SettlementFund)
	}
	if pays.Amount == 0 {
		return invalid("redeeming %s pays nothing", op.Amount)
	}

	if err := e.store.AdjustBalance(op.Account, op.Amount.Neg()); err != nil {
		return fmt.Errorf("redeem %s: %w", op.Amount, err)
	}
	if err := e.adjustSupply(mia, -op.Amount.Amount); err != nil {
		return err
	}
	fund := bd.SettlementFund - pays.Amount
	e.store.ModifyAsset(mia, func(a *state.Asset) { a.Bitasset.SettlementFund = fund })
	if err := e.store.AdjustBalance(op.Account, pays); err != nil {
		return fmt.Errorf("redeem %s: %w", op.Amount, err)
	}

	e.emit(&event.FillOrder{
		Kind:      event.OrderKindSettle,
		Account:   op.Account,
		Pays:      op.Amount,
		Receives:  pays,
		Fee:       asset.New(0, pays.AssetID),
		FillPrice: op.Amount.Over(pays),
	})
	e.countFill(event.OrderKindSettle)
	return nil
}

func (e *Engine) maintenance(op *event.Maintenance) error {
	now := op.HeadTime()

	for _, id := range e.store.Orders().Expired(now) {
		o, ok := e.store.Order(id)
		if !ok {
			continue
		}
		if err := e.CancelOrder(o); err != nil {
			return fmt.Errorf("expire order %d: %w", id, err)
		}
	}

	for _, a := range e.store.Assets() {
		if a.IsMarketIssued() && a.Bitasset.ForceSettledVolume != 0 {
			e.store.ModifyAsset(a, func(a *state.Asset) { a.Bitasset.ForceSettledVolume = 0 })
		}
	}

	for _, id := range e.store.Settlements().Assets() {
		if err := e.processSettlements(id, now); err != nil {
			return err
		}
	}

	if e.toll != nil {
		for _, id := range e.toll.Sweep(e.sweepBatch) {
			o, ok := e.store.Order(id)
			if !ok {
				continue
			}
			if _, err := e.applyToll(o); err != nil {
				return err
			}
		}
	}
	return nil
}

// processSettlements executes the due settlement requests of one asset
// against its least collateralized positions.
func (e *Engine) processSettlements(id asset.ID, now int64) error {
	mia := e.mustAsset(id)
	bd := mia.Bitasset
	if bd == nil {
		panic(fmt.Sprintf("FATAL: settlement pending on asset %d which is not market issued", id))
	}

	maxVolume, err := bd.MaxForceSettlementVolumeFor(mia.Dynamic.CurrentSupply)
	if err != nil {
		return fmt.Errorf("settlement volume of asset %d: %w", id, err)
	}

	for {
		s := e.store.Settlements().Front(id)
		if s == nil || s.SettlementDate > now {
			return nil
		}

		if bd.Settled {
			e.logger.Info().Uint64("settle_id", uint64(s.ID)).Msg("cancelling force settlement of settled asset")
			if err := e.cancelSettlement(s); err != nil {
				return err
			}
			continue
		}
		if bd.Feed.IsNull() {
			e.logger.Info().Uint64("settle_id", uint64(s.ID)).Msg("cancelling force settlement without feed")
			if err := e.cancelSettlement(s); err != nil {
				return err
			}
			continue
		}
		if bd.ForceSettledVolume >= maxVolume {
			e.logger.Debug().
				Uint32("asset_id", uint32(id)).
				Int64("volume", bd.ForceSettledVolume).
				Msg("force settlement volume exhausted")
			return nil
		}

		receives, err := s.Balance.Mul(bd.Feed.SettlementPrice)
		if err != nil {
			return fmt.Errorf("settle %d at feed: %w", s.ID, err)
		}
		receives.Amount, err = fp.MulDiv(receives.Amount, asset.HundredPercent-int64(bd.ForceSettlementOffsetPercent), asset.HundredPercent)
		if err != nil {
			return fmt.Errorf("settlement offset of %d: %w", s.ID, err)
		}
		if receives.Amount == 0 {
			e.logger.Info().Uint64("settle_id", uint64(s.ID)).Msg("cancelling force settlement worth nothing")
			if err := e.cancelSettlement(s); err != nil {
				return err
			}
			continue
		}
		price := s.Balance.Over(receives)

		settleID := s.ID
		for bd.ForceSettledVolume < maxVolume {
			cur, ok := e.store.Settlements().Get(settleID)
			if !ok {
				break
			}
			call := e.store.Calls().Front(asset.MinPrice(bd.BackingAsset, id), asset.MaxPrice(bd.BackingAsset, id))
			if call == nil {
				if err := e.cancelSettlement(cur); err != nil {
					return err
				}
				break
			}
			settled, err := e.matchCallSettle(call, cur, price, asset.New(maxVolume-bd.ForceSettledVolume, id))
			if errors.Is(err, ErrBlackSwan) {
				e.logger.Warn().
					Uint64("settle_id", uint64(settleID)).
					Uint64("call_id", uint64(call.ID)).
					Err(err).
					Msg("cancelling force settlement, call cannot cover")
				if err := e.cancelSettlement(cur); err != nil {
					return err
				}
				break
			}
			if err != nil {
				return err
			}
			volume := bd.ForceSettledVolume + settled.Amount
			e.store.ModifyAsset(mia, func(a *state.Asset) { a.Bitasset.ForceSettledVolume = volume })
		}
	}
}

// matchCallSettle fills a force settlement against a call position at price
// (debt / collateral), settling at most maxSettlement. It returns the debt
// retired.
func (e *Engine) matchCallSettle(call *state.CallOrder, s *state.ForceSettlement, price asset.Price, maxSettlement asset.Amount) (asset.Amount, error) {
	if call.DebtAsset != s.Balance.AssetID {
		panic(fmt.Sprintf("FATAL: call %d borrows asset %d, settlement %d holds %s",
			call.ID, call.DebtAsset, s.ID, s.Balance))
	}
	if call.Debt <= 0 || call.Collateral <= 0 || s.Balance.Amount <= 0 {
		panic(fmt.Sprintf("FATAL: matching empty call %d or settlement %d", call.ID, s.ID))
	}

	forSale := s.Balance
	if maxSettlement.Amount < forSale.Amount {
		forSale = maxSettlement
	}
	callReceives := forSale
	if call.Debt < callReceives.Amount {
		callReceives = call.DebtAmount()
	}
	callPays, err := callReceives.Mul(price)
	if err != nil && !errors.Is(err, fp.ErrOverflow) {
		return asset.Amount{}, err
	}
	if err != nil || callPays.Amount >= call.Collateral {
		return asset.Amount{}, &BlackSwanError{
			AssetID:    call.DebtAsset,
			Debt:       call.DebtAmount(),
			Collateral: call.CollateralAmount(),
			Price:      price,
		}
	}

	if _, err := e.fillCallOrder(call, callPays, callReceives); err != nil {
		return asset.Amount{}, err
	}
	if _, err := e.fillSettlement(s, callReceives, callPays); err != nil {
		return asset.Amount{}, err
	}
	return callReceives, nil
}

// cancelSettlement returns a request's balance to its owner.
func (e *Engine) cancelSettlement(s *state.ForceSettlement) error {
	if err := e.store.AdjustBalance(s.Owner, s.Balance); err != nil {
		return fmt.Errorf("refund settlement %d: %w", s.ID, err)
	}
	e.emit(&event.SettleCancelled{
		SettleID: uint64(s.ID),
		Owner:    s.Owner,
		Refunded: s.Balance,
	})
	e.store.RemoveSettlement(s)
	return nil
}
