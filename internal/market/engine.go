package market

import (
	"errors"
	"fmt"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/event"
	"MarketLedger/internal/ledger"
	fp "MarketLedger/internal/math"
	"MarketLedger/internal/observability"
	"MarketLedger/internal/state"

	"github.com/rs/zerolog"
)

// DefaultTollSweepBatch is the number of orders swept per maintenance.
const DefaultTollSweepBatch = 100

// Engine applies market operations to a store. It is not safe for
// concurrent use; the caller owns the store session around each operation.
type Engine struct {
	store   *state.Store
	fees    FeeSchedule
	toll    TollHook
	forks   Hardforks
	policy  Policy
	logger  zerolog.Logger
	metrics *observability.Metrics

	sweepBatch int
	ops        []event.VirtualOp
}

// NewEngine wires an engine. fees, toll and metrics may be nil.
func NewEngine(
	store *state.Store,
	fees FeeSchedule,
	toll TollHook,
	forks Hardforks,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Engine {
	return &Engine{
		store:      store,
		fees:       fees,
		toll:       toll,
		forks:      forks,
		policy:     forks.At(0),
		logger:     logger,
		metrics:    metrics,
		sweepBatch: DefaultTollSweepBatch,
	}
}

// SetHeadTime fixes the policy for the operations that follow.
func (e *Engine) SetHeadTime(head int64) {
	e.policy = e.forks.At(head)
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// TakeOps returns the virtual ops emitted since the last call and resets
// the list.
func (e *Engine) TakeOps() []event.VirtualOp {
	ops := e.ops
	e.ops = nil
	return ops
}

func (e *Engine) emit(op event.VirtualOp) {
	e.ops = append(e.ops, op)
}

func (e *Engine) mustAsset(id asset.ID) *state.Asset {
	a, ok := e.store.Asset(id)
	if !ok {
		panic(fmt.Sprintf("FATAL: asset %d referenced by state does not exist", id))
	}
	return a
}

func (e *Engine) adjustSupply(a *state.Asset, delta int64) error {
	next, err := fp.Add(a.Dynamic.CurrentSupply, delta)
	if err != nil {
		return fmt.Errorf("supply of asset %d: %w", a.ID, err)
	}
	if next < 0 {
		panic(fmt.Sprintf("FATAL: supply of asset %d went negative: %d", a.ID, next))
	}
	e.store.ModifyAsset(a, func(a *state.Asset) { a.Dynamic.CurrentSupply = next })
	return nil
}

func (e *Engine) adjustCoreInOrders(account ledger.AccountID, delta int64) {
	e.store.ModifyStatistics(account, func(st *ledger.Statistics) {
		st.CoreInOrders += delta
	})
}

// ApplyOrder matches a freshly inserted order against the book. It reports
// whether the order is gone afterwards (filled or culled).
func (e *Engine) ApplyOrder(o *state.LimitOrder, allowGlobalSettlement bool) (bool, error) {
	id := o.ID
	sellAsset := o.SellPrice.Base.AssetID
	receiveAsset := o.SellPrice.Quote.AssetID

	if err := e.checkCallsForPair(sellAsset, receiveAsset, allowGlobalSettlement); err != nil {
		return false, err
	}
	if !e.store.HasOrder(id) {
		return true, nil
	}

	var book *state.LimitOrder
	candidates := e.store.Orders().AtOrBetter(o.SellPrice.Invert())
	for {
		book, candidates = e.nextResting(candidates)
		if book == nil {
			break
		}
		gone, err := e.applyToll(book)
		if err != nil {
			return false, err
		}
		if gone {
			continue
		}
		result, err := e.matchLimits(o, book, book.SellPrice)
		if err != nil {
			return false, err
		}
		// keep going only while the book side alone was filled
		if result != 2 {
			break
		}
	}

	if err := e.checkCallsForPair(sellAsset, receiveAsset, allowGlobalSettlement); err != nil {
		return false, err
	}

	cur, ok := e.store.Order(id)
	if !ok {
		return true, nil
	}
	if e.policy.DeferDustCull() {
		return false, nil
	}
	return e.maybeCull(cur)
}

// nextResting skips ids that left the book since the snapshot was taken.
func (e *Engine) nextResting(ids []state.OrderID) (*state.LimitOrder, []state.OrderID) {
	for len(ids) > 0 {
		if o, ok := e.store.Order(ids[0]); ok {
			return o, ids
		}
		ids = ids[1:]
	}
	return nil, nil
}

func (e *Engine) checkCallsForPair(a, b asset.ID, allowGlobalSettlement bool) error {
	if _, err := e.CheckCallOrders(a, allowGlobalSettlement); err != nil {
		return err
	}
	if _, err := e.CheckCallOrders(b, allowGlobalSettlement); err != nil {
		return err
	}
	return nil
}

// matchLimits fills taker against maker at price. The result has bit 1 set
// when the taker was filled and bit 2 when the maker was.
func (e *Engine) matchLimits(taker, maker *state.LimitOrder, price asset.Price) (int, error) {
	if taker.SellPrice.Quote.AssetID != maker.SellPrice.Base.AssetID ||
		taker.SellPrice.Base.AssetID != maker.SellPrice.Quote.AssetID {
		panic(fmt.Sprintf("FATAL: matching orders %d and %d of different markets", taker.ID, maker.ID))
	}
	if taker.ForSale <= 0 || maker.ForSale <= 0 {
		panic(fmt.Sprintf("FATAL: matching empty order: %d has %d, %d has %d",
			taker.ID, taker.ForSale, maker.ID, maker.ForSale))
	}

	takerForSale := taker.AmountForSale()
	makerForSale := maker.AmountForSale()

	// a maker worth more than the max supply is always the larger side
	makerValue, err := makerForSale.Mul(price)
	if err != nil && !errors.Is(err, fp.ErrOverflow) {
		return 0, err
	}
	takerSmaller := err != nil || takerForSale.Amount <= makerValue.Amount

	var takerReceives, makerReceives asset.Amount
	if takerSmaller {
		makerReceives = takerForSale
		if takerReceives, err = takerForSale.Mul(price); err != nil {
			return 0, err
		}
	} else {
		takerReceives = makerForSale
		makerReceives = makerValue
	}
	makerPays := takerReceives
	takerPays := makerReceives

	result := 0
	filled, err := e.fillLimitOrder(taker, takerPays, takerReceives, false)
	if err != nil {
		return 0, err
	}
	if filled {
		result |= 1
	}
	filled, err = e.fillLimitOrder(maker, makerPays, makerReceives, true)
	if err != nil {
		return 0, err
	}
	if filled {
		result |= 2
	}
	if result == 0 {
		panic(fmt.Sprintf("FATAL: match of %d and %d filled neither order", taker.ID, maker.ID))
	}
	return result, nil
}

// maybeCull cancels o when what it still asks for rounds to nothing.
func (e *Engine) maybeCull(o *state.LimitOrder) (bool, error) {
	wants, err := o.AmountToReceive()
	if errors.Is(err, fp.ErrOverflow) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if wants.Amount != 0 {
		return false, nil
	}
	e.logger.Debug().
		Uint64("order_id", uint64(o.ID)).
		Int64("for_sale", o.ForSale).
		Str("sell_price", o.SellPrice.String()).
		Msg("culling dust order")
	if e.metrics != nil {
		e.metrics.OrdersCulled.Inc()
	}
	return true, e.CancelOrder(o)
}

// tollFor asks the hook for o's toll, clamped to what o has for sale.
func (e *Engine) tollFor(o *state.LimitOrder) int64 {
	if e.toll == nil {
		return 0
	}
	t := e.toll.Toll(o)
	if t < 0 {
		return 0
	}
	if t > o.ForSale {
		return o.ForSale
	}
	return t
}

// burnToll removes toll from circulation on behalf of o's seller.
func (e *Engine) burnToll(o *state.LimitOrder, toll int64) error {
	sold := e.mustAsset(o.SellPrice.Base.AssetID)
	if err := e.adjustSupply(sold, -toll); err != nil {
		return err
	}
	if sold.ID == asset.CoreAssetID {
		e.adjustCoreInOrders(o.Seller, -toll)
	}
	e.emit(&event.OrderTolled{
		OrderID: uint64(o.ID),
		Seller:  o.Seller,
		Toll:    asset.New(toll, sold.ID),
	})
	if e.metrics != nil {
		e.metrics.OrdersTolled.Inc()
	}
	return nil
}

// applyToll deducts a toll from a resting order. It reports whether the
// order was emptied and cancelled.
func (e *Engine) applyToll(o *state.LimitOrder) (bool, error) {
	toll := e.tollFor(o)
	if toll == 0 {
		return false, nil
	}
	e.store.ModifyOrder(o, func(o *state.LimitOrder) { o.ForSale -= toll })
	if err := e.burnToll(o, toll); err != nil {
		return false, err
	}
	if o.ForSale == 0 {
		return true, e.CancelOrder(o)
	}
	return false, nil
}

// CancelOrder refunds what o has left, less any toll, plus its deferred
// fee, and removes it.
func (e *Engine) CancelOrder(o *state.LimitOrder) error {
	sold := o.SellPrice.Base.AssetID
	toll := e.tollFor(o)
	if toll > 0 {
		if err := e.burnToll(o, toll); err != nil {
			return err
		}
	}
	refund := o.ForSale - toll

	if sold == asset.CoreAssetID {
		// the toll was already taken out of the core-in-orders total
		e.adjustCoreInOrders(o.Seller, -refund)
	}
	if err := e.store.AdjustBalance(o.Seller, asset.New(refund, sold)); err != nil {
		return fmt.Errorf("refund order %d: %w", o.ID, err)
	}
	if err := e.store.AdjustBalance(o.Seller, asset.New(o.DeferredFee, asset.CoreAssetID)); err != nil {
		return fmt.Errorf("refund fee of order %d: %w", o.ID, err)
	}

	e.emit(&event.LimitOrderCancelled{
		OrderID:  uint64(o.ID),
		Seller:   o.Seller,
		Refunded: asset.New(refund, sold),
		Toll:     asset.New(toll, sold),
	})
	e.store.RemoveOrder(o)
	return nil
}
