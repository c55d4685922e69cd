package market

import (
	"fmt"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/event"
	"MarketLedger/internal/ledger"
	fp "MarketLedger/internal/math"
	"MarketLedger/internal/state"
)

// Apply executes one market operation and returns the virtual ops it
// produced. On error the caller must roll back the store session; the
// partial ops are discarded.
func (e *Engine) Apply(evt event.Event) ([]event.VirtualOp, error) {
	e.ops = nil
	e.SetHeadTime(evt.HeadTime())

	var err error
	switch op := evt.(type) {
	case *event.AssetCreate:
		err = e.createAsset(op)
	case *event.Deposit:
		err = e.deposit(op)
	case *event.LimitOrderCreate:
		err = e.createLimitOrder(op)
	case *event.LimitOrderCancel:
		err = e.cancelLimitOrder(op)
	case *event.CallOrderUpdate:
		err = e.updateCallOrder(op)
	case *event.PriceFeedPublish:
		err = e.publishFeed(op)
	case *event.AssetSettle:
		err = e.forceSettle(op)
	case *event.AssetGlobalSettle:
		err = e.globalSettle(op)
	case *event.Maintenance:
		err = e.maintenance(op)
	default:
		err = invalid("unsupported operation %T", evt)
	}

	ops := e.TakeOps()
	if err != nil {
		return nil, err
	}
	return ops, nil
}

func (e *Engine) createAsset(op *event.AssetCreate) error {
	if _, exists := e.store.Asset(op.AssetID); exists {
		return invalid("asset %d already exists", op.AssetID)
	}
	if op.Symbol == "" {
		return invalid("asset %d has no symbol", op.AssetID)
	}
	maxSupply := op.MaxSupply
	if maxSupply == 0 {
		maxSupply = asset.MaxShareSupply
	}
	if maxSupply < 0 || maxSupply > asset.MaxShareSupply {
		return invalid("max supply %d out of range", op.MaxSupply)
	}
	if op.MarketFeePercent > asset.HundredPercent {
		return invalid("market fee percent %d above 100%%", op.MarketFeePercent)
	}
	if op.MaxMarketFee < 0 || op.MaxMarketFee > asset.MaxShareSupply {
		return invalid("max market fee %d out of range", op.MaxMarketFee)
	}

	a := &state.Asset{
		ID:               op.AssetID,
		Symbol:           op.Symbol,
		Issuer:           op.Issuer,
		MaxSupply:        maxSupply,
		MarketFeePercent: op.MarketFeePercent,
		MaxMarketFee:     op.MaxMarketFee,
		Flags:            state.AssetFlags(op.Flags),
	}

	if b := op.Bitasset; b != nil {
		if op.AssetID == asset.CoreAssetID {
			return invalid("the core asset cannot be market issued")
		}
		backing, ok := e.store.Asset(b.BackingAsset)
		if !ok {
			return unknownAsset(b.BackingAsset)
		}
		if backing.ID == op.AssetID {
			return invalid("asset %d cannot back itself", op.AssetID)
		}
		if backing.IsMarketIssued() && backing.Bitasset.BackingAsset == op.AssetID {
			return invalid("asset %d and %d would back each other", op.AssetID, backing.ID)
		}
		if b.ForceSettlementOffsetPercent > asset.HundredPercent || b.MaxForceSettlementVolume > asset.HundredPercent {
			return invalid("force settlement percentages must not exceed 100%%")
		}
		if b.ForceSettlementDelaySec < 0 {
			return invalid("negative force settlement delay")
		}
		a.Bitasset = &state.BitassetData{
			BackingAsset:                 b.BackingAsset,
			IsPredictionMarket:           b.IsPredictionMarket,
			ForceSettlementDelaySec:      b.ForceSettlementDelaySec,
			ForceSettlementOffsetPercent: b.ForceSettlementOffsetPercent,
			MaxForceSettlementVolume:     b.MaxForceSettlementVolume,
			Feed: state.PriceFeed{
				MaintenanceCollateralRatio: state.DefaultMaintenanceCollateralRatio,
				MaximumShortSqueezeRatio:   state.DefaultMaximumShortSqueezeRatio,
			},
		}
	}

	return e.store.CreateAsset(a)
}

func (e *Engine) deposit(op *event.Deposit) error {
	a, ok := e.store.Asset(op.Amount.AssetID)
	if !ok {
		return unknownAsset(op.Amount.AssetID)
	}
	if op.Amount.Amount <= 0 {
		return invalid("deposit of %s", op.Amount)
	}
	if a.IsMarketIssued() {
		return fmt.Errorf("%w: asset %d is issued by borrowing only", ErrInvalidOperation, a.ID)
	}
	if err := e.checkMaxSupply(a, op.Amount.Amount); err != nil {
		return err
	}
	if err := e.adjustSupply(a, op.Amount.Amount); err != nil {
		return err
	}
	return e.store.AdjustBalance(op.Account, op.Amount)
}

func (e *Engine) checkMaxSupply(a *state.Asset, add int64) error {
	next, err := fp.Add(a.Dynamic.CurrentSupply, add)
	if err != nil || next > a.MaxSupply {
		return invalid("issuing %d of asset %d exceeds max supply %d", add, a.ID, a.MaxSupply)
	}
	return nil
}

func (e *Engine) createLimitOrder(op *event.LimitOrderCreate) error {
	sell, receive := op.AmountToSell, op.MinToReceive
	if sell.Amount <= 0 || receive.Amount <= 0 {
		return invalid("order must sell and receive positive amounts, got %s for %s", sell, receive)
	}
	if _, ok := e.store.Asset(sell.AssetID); !ok {
		return unknownAsset(sell.AssetID)
	}
	if _, ok := e.store.Asset(receive.AssetID); !ok {
		return unknownAsset(receive.AssetID)
	}
	price := sell.Over(receive)
	if err := price.Validate(); err != nil {
		return err
	}
	if op.Expiration != 0 && op.Expiration <= op.HeadTime() {
		return invalid("order expires at %d, head time is %d", op.Expiration, op.HeadTime())
	}
	if op.Fee < 0 {
		return invalid("negative fee %d", op.Fee)
	}

	if err := e.store.AdjustBalance(op.Seller, asset.New(-op.Fee, asset.CoreAssetID)); err != nil {
		return fmt.Errorf("order fee: %w", err)
	}
	if err := e.store.AdjustBalance(op.Seller, sell.Neg()); err != nil {
		return fmt.Errorf("sell %s: %w", sell, err)
	}
	if sell.AssetID == asset.CoreAssetID {
		e.adjustCoreInOrders(op.Seller, sell.Amount)
	}

	o := &state.LimitOrder{
		Seller:              op.Seller,
		ForSale:             sell.Amount,
		SellPrice:           price,
		DeferredFee:         op.Fee,
		ExchangeFeeReceiver: op.ExchangeFeeReceiver,
		Expiration:          op.Expiration,
	}
	e.store.InsertOrder(o)

	filled, err := e.ApplyOrder(o, true)
	if err != nil {
		return err
	}
	if op.FillOrKill && !filled {
		return fmt.Errorf("%w: order of %s", ErrNotFilled, sell)
	}
	return nil
}

func (e *Engine) cancelLimitOrder(op *event.LimitOrderCancel) error {
	o, ok := e.store.Order(state.OrderID(op.OrderID))
	if !ok {
		return fmt.Errorf("%w: order %d", ErrUnknownObject, op.OrderID)
	}
	if o.Seller != op.Owner {
		return invalid("order %d belongs to account %d, not %d", o.ID, o.Seller, op.Owner)
	}
	base, quote := o.SellPrice.Base.AssetID, o.SellPrice.Quote.AssetID
	if err := e.CancelOrder(o); err != nil {
		return err
	}
	return e.checkCallsForPair(base, quote, true)
}

func (e *Engine) updateCallOrder(op *event.CallOrderUpdate) error {
	debtAsset := op.DeltaDebt.AssetID
	mia, ok := e.store.Asset(debtAsset)
	if !ok {
		return unknownAsset(debtAsset)
	}
	if !mia.IsMarketIssued() {
		return fmt.Errorf("%w: asset %d", ErrNotMarketIssued, debtAsset)
	}
	bd := mia.Bitasset
	if bd.Settled {
		return fmt.Errorf("%w: asset %d takes no new debt", ErrAlreadySettled, debtAsset)
	}
	if op.DeltaCollateral.AssetID != bd.BackingAsset {
		return fmt.Errorf("%w: asset %d is backed by %d, collateral given in %d",
			asset.ErrAssetMismatch, debtAsset, bd.BackingAsset, op.DeltaCollateral.AssetID)
	}
	if op.DeltaCollateral.Amount == 0 && op.DeltaDebt.Amount == 0 {
		return invalid("call order update changes nothing")
	}
	if bd.IsPredictionMarket {
		if op.DeltaCollateral.Amount != op.DeltaDebt.Amount {
			return invalid("prediction market debt and collateral must change together")
		}
	} else if bd.Feed.IsNull() {
		return invalid("asset %d has no price feed", debtAsset)
	}

	if op.DeltaDebt.Amount > 0 {
		if err := e.checkMaxSupply(mia, op.DeltaDebt.Amount); err != nil {
			return err
		}
	}
	if err := e.store.AdjustBalance(op.Borrower, op.DeltaDebt); err != nil {
		return fmt.Errorf("repay %s: %w", op.DeltaDebt.Neg(), err)
	}
	if err := e.adjustSupply(mia, op.DeltaDebt.Amount); err != nil {
		return err
	}
	if err := e.store.AdjustBalance(op.Borrower, op.DeltaCollateral.Neg()); err != nil {
		return fmt.Errorf("post collateral %s: %w", op.DeltaCollateral, err)
	}
	if bd.BackingAsset == asset.CoreAssetID {
		e.adjustCoreInOrders(op.Borrower, op.DeltaCollateral.Amount)
	}

	ratio := bd.Feed.MaintenanceCollateralRatio
	call, exists := e.store.Calls().ByBorrower(op.Borrower, debtAsset)
	if !exists {
		if op.DeltaCollateral.Amount <= 0 || op.DeltaDebt.Amount <= 0 {
			return invalid("a new position needs positive debt and collateral")
		}
		call = &state.CallOrder{
			Borrower:        op.Borrower,
			Debt:            op.DeltaDebt.Amount,
			DebtAsset:       debtAsset,
			Collateral:      op.DeltaCollateral.Amount,
			CollateralAsset: bd.BackingAsset,
		}
		call.UpdateCallPrice(ratio)
		e.store.InsertCall(call)
	} else {
		debt, err := fp.Add(call.Debt, op.DeltaDebt.Amount)
		if err != nil {
			return fmt.Errorf("debt of call %d: %w", call.ID, err)
		}
		collateral, err := fp.Add(call.Collateral, op.DeltaCollateral.Amount)
		if err != nil {
			return fmt.Errorf("collateral of call %d: %w", call.ID, err)
		}
		if debt < 0 || collateral < 0 {
			return invalid("call %d would hold debt %d and collateral %d", call.ID, debt, collateral)
		}
		if debt == 0 {
			if collateral != 0 {
				return invalid("closing call %d must withdraw all collateral", call.ID)
			}
			e.store.ModifyCall(call, func(c *state.CallOrder) {
				c.Debt, c.Collateral = 0, 0
				c.UpdateCallPrice(ratio)
			})
			e.store.RemoveCall(call)
			return nil
		}
		e.store.ModifyCall(call, func(c *state.CallOrder) {
			c.Debt, c.Collateral = debt, collateral
			c.UpdateCallPrice(ratio)
		})
	}

	callID := call.ID
	called, err := e.CheckCallOrders(debtAsset, false)
	if err != nil {
		return err
	}
	if called {
		if _, still := e.store.Calls().Get(callID); still {
			return fmt.Errorf("%w: updating call %d triggered a margin call that left it open",
				ErrInsufficientCollateral, callID)
		}
		return nil
	}
	if bd.IsPredictionMarket {
		return nil
	}
	call, _ = e.store.Calls().Get(callID)
	if !call.CallPrice.Invert().Less(bd.Feed.SettlementPrice) {
		return fmt.Errorf("%w: call %d (debt %d, collateral %d) is callable at feed %s",
			ErrInsufficientCollateral, callID, call.Debt, call.Collateral, bd.Feed.SettlementPrice)
	}
	return nil
}

func (e *Engine) publishFeed(op *event.PriceFeedPublish) error {
	mia, ok := e.store.Asset(op.AssetID)
	if !ok {
		return unknownAsset(op.AssetID)
	}
	if !mia.IsMarketIssued() {
		return fmt.Errorf("%w: asset %d", ErrNotMarketIssued, op.AssetID)
	}
	if mia.Bitasset.Settled {
		return fmt.Errorf("%w: asset %d takes no feed updates", ErrAlreadySettled, op.AssetID)
	}
	feed := state.PriceFeed{
		SettlementPrice:            op.SettlementPrice,
		MaintenanceCollateralRatio: op.MaintenanceCollateralRatio,
		MaximumShortSqueezeRatio:   op.MaximumShortSqueezeRatio,
	}
	if err := state.ValidateFeed(feed, op.AssetID, mia.Bitasset.BackingAsset); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	e.store.ModifyAsset(mia, func(a *state.Asset) { a.Bitasset.Feed = feed })

	_, err := e.CheckCallOrders(op.AssetID, true)
	return err
}

func (e *Engine) globalSettle(op *event.AssetGlobalSettle) error {
	mia, ok := e.store.Asset(op.AssetID)
	if !ok {
		return unknownAsset(op.AssetID)
	}
	if !mia.IsMarketIssued() {
		return fmt.Errorf("%w: asset %d", ErrNotMarketIssued, op.AssetID)
	}
	if !mia.CanGlobalSettle() {
		return invalid("asset %d does not allow issuer global settlement", op.AssetID)
	}
	if op.Issuer != mia.Issuer {
		return invalid("account %d is not the issuer of asset %d", op.Issuer, op.AssetID)
	}
	if err := op.SettlePrice.Validate(); err != nil {
		return err
	}
	if op.SettlePrice.Base.AssetID != op.AssetID || op.SettlePrice.Quote.AssetID != mia.Bitasset.BackingAsset {
		return fmt.Errorf("%w: settle price %s is not asset %d / asset %d",
			asset.ErrAssetMismatch, op.SettlePrice, op.AssetID, mia.Bitasset.BackingAsset)
	}
	return e.GloballySettleAsset(op.AssetID, op.SettlePrice)
}

// Statistics exposes an account's order and fee bookkeeping.
func (e *Engine) Statistics(account ledger.AccountID) ledger.Statistics {
	return e.store.Statistics(account)
}
