// Package deflation burns a fixed share of every core asset limit order
// once per deflation window. Orders are tolled lazily, when they next
// trade or are cancelled, and swept in batches by maintenance.
package deflation

import (
	"errors"
	"fmt"
	"sort"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/ledger"
	fp "MarketLedger/internal/math"
	"MarketLedger/internal/state"

	"github.com/rs/zerolog"
)

// RateScale is the denominator of a deflation rate.
const RateScale int64 = 100_000_000

// DefaultMinInterval is the minimum number of seconds between two
// deflations.
const DefaultMinInterval int64 = 7 * 24 * 3600

var (
	ErrInvalidRate   = errors.New("deflation rate out of range")
	ErrInProgress    = errors.New("deflation in progress")
	ErrTooSoon       = errors.New("deflation issued too soon")
	ErrNotIssuer     = errors.New("account may not issue deflation")
	ErrNothingToToll = errors.New("no orders to deflate")
)

// Deflation is one toll window over the orders [OrderCursor, LastOrder].
type Deflation struct {
	ID           uint64        `json:"id"`
	Timestamp    int64         `json:"timestamp"`
	Rate         int64         `json:"rate"`
	OrderCursor  state.OrderID `json:"order_cursor"`
	LastOrder    state.OrderID `json:"last_order"`
	OrderCleared bool          `json:"order_cleared"`
	TotalAmount  int64         `json:"total_amount"`
}

// Tracker holds the current deflation and the orders it has tolled. Every
// mutation joins the store's undo session.
type Tracker struct {
	store       *state.Store
	issuer      ledger.AccountID
	minInterval int64
	logger      zerolog.Logger

	current *Deflation
	nextID  uint64
	tolled  map[state.OrderID]struct{}
}

func NewTracker(store *state.Store, issuer ledger.AccountID, minInterval int64, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:       store,
		issuer:      issuer,
		minInterval: minInterval,
		logger:      logger,
		nextID:      1,
		tolled:      map[state.OrderID]struct{}{},
	}
}

// Current returns a copy of the latest deflation, if any.
func (t *Tracker) Current() (Deflation, bool) {
	if t.current == nil {
		return Deflation{}, false
	}
	return *t.current, true
}

// Start opens a new deflation over every order created so far.
func (t *Tracker) Start(issuer ledger.AccountID, rate, now int64) error {
	if issuer != t.issuer {
		return fmt.Errorf("%w: %d", ErrNotIssuer, issuer)
	}
	if rate <= 0 || rate >= RateScale {
		return fmt.Errorf("%w: %d not in (0, %d)", ErrInvalidRate, rate, RateScale)
	}
	if prev := t.current; prev != nil {
		if !prev.OrderCleared {
			return fmt.Errorf("%w: deflation %d at order %d of %d", ErrInProgress, prev.ID, prev.OrderCursor, prev.LastOrder)
		}
		if prev.Timestamp+t.minInterval >= now {
			return fmt.Errorf("%w: next deflation allowed after %d", ErrTooSoon, prev.Timestamp+t.minInterval)
		}
	}
	last := t.store.LastOrderID()
	if last == 0 {
		return ErrNothingToToll
	}

	prev, prevTolled := t.current, t.tolled
	t.current = &Deflation{
		ID:          t.nextID,
		Timestamp:   now,
		Rate:        rate,
		OrderCursor: 1,
		LastOrder:   last,
	}
	t.nextID++
	t.tolled = map[state.OrderID]struct{}{}
	t.store.RecordUndo(func() {
		t.current, t.tolled = prev, prevTolled
		t.nextID--
	})

	t.logger.Info().
		Uint64("deflation_id", t.current.ID).
		Int64("rate", rate).
		Uint64("last_order", uint64(last)).
		Msg("deflation started")
	return nil
}

// Toll returns what o owes to the running deflation and marks it paid.
// Only core asset orders created before the deflation started are tolled,
// and each of them once. A cleared deflation has handed every such order to
// Sweep, so it only ever answers for orders already in its last batch.
func (t *Tracker) Toll(o *state.LimitOrder) int64 {
	d := t.current
	if d == nil {
		return 0
	}
	if o.SellPrice.Base.AssetID != asset.CoreAssetID || o.ID > d.LastOrder {
		return 0
	}
	if _, done := t.tolled[o.ID]; done {
		return 0
	}

	toll, err := fp.MulDiv(o.ForSale, d.Rate, RateScale)
	if err != nil {
		// rate < RateScale keeps toll below for_sale
		panic(fmt.Sprintf("FATAL: toll of order %d: %v", o.ID, err))
	}

	id, prevTotal := o.ID, d.TotalAmount
	t.tolled[id] = struct{}{}
	d.TotalAmount += toll
	t.store.RecordUndo(func() {
		delete(t.tolled, id)
		d.TotalAmount = prevTotal
	})
	return toll
}

// Sweep hands out the next batch of orders still owing a toll and moves
// the cursor past them. The deflation is cleared once the cursor passes
// LastOrder.
func (t *Tracker) Sweep(limit int) []state.OrderID {
	d := t.current
	if d == nil || d.OrderCleared || limit <= 0 {
		return nil
	}

	var due []state.OrderID
	cursor := d.OrderCursor
	for cursor <= d.LastOrder && len(due) < limit {
		ids := t.store.Orders().From(cursor, limit-len(due))
		if len(ids) == 0 {
			cursor = d.LastOrder + 1
			break
		}
		for _, id := range ids {
			if id > d.LastOrder {
				cursor = d.LastOrder + 1
				break
			}
			cursor = id + 1
			o, _ := t.store.Order(id)
			if o.SellPrice.Base.AssetID != asset.CoreAssetID {
				continue
			}
			if _, done := t.tolled[id]; !done {
				due = append(due, id)
			}
		}
	}

	prevCursor, prevCleared := d.OrderCursor, d.OrderCleared
	d.OrderCursor = cursor
	d.OrderCleared = cursor > d.LastOrder
	t.store.RecordUndo(func() {
		d.OrderCursor, d.OrderCleared = prevCursor, prevCleared
	})

	if d.OrderCleared {
		t.logger.Info().
			Uint64("deflation_id", d.ID).
			Int64("total_amount", d.TotalAmount).
			Msg("deflation cleared")
	}
	return due
}

// Snapshot is the tracker's persisted state.
type Snapshot struct {
	Current *Deflation      `json:"current,omitempty"`
	NextID  uint64          `json:"next_id"`
	Tolled  []state.OrderID `json:"tolled,omitempty"`
}

func (t *Tracker) Export() *Snapshot {
	snap := &Snapshot{NextID: t.nextID}
	if t.current != nil {
		d := *t.current
		snap.Current = &d
	}
	for id := range t.tolled {
		snap.Tolled = append(snap.Tolled, id)
	}
	sort.Slice(snap.Tolled, func(i, j int) bool { return snap.Tolled[i] < snap.Tolled[j] })
	return snap
}

func (t *Tracker) Restore(snap *Snapshot) {
	t.current = nil
	if snap.Current != nil {
		d := *snap.Current
		t.current = &d
	}
	t.nextID = snap.NextID
	if t.nextID == 0 {
		t.nextID = 1
	}
	t.tolled = make(map[state.OrderID]struct{}, len(snap.Tolled))
	for _, id := range snap.Tolled {
		t.tolled[id] = struct{}{}
	}
}
