package state

import (
	"fmt"
	"sort"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/ledger"
)

// Store is the authoritative in-memory ledger state. It is owned by a single
// goroutine. Mutations made between Begin and Commit are undone by Rollback.
type Store struct {
	assets      map[asset.ID]*Asset
	book        *OrderBook
	calls       *CallIndex
	settlements *SettlementIndex
	balances    *ledger.BalanceTracker
	stats       map[ledger.AccountID]*ledger.Statistics

	nextOrderID  OrderID
	nextCallID   CallID
	nextSettleID SettleID

	inSession bool
	undo      []func()
}

func NewStore() *Store {
	return &Store{
		assets:       map[asset.ID]*Asset{},
		book:         NewOrderBook(),
		calls:        NewCallIndex(),
		settlements:  NewSettlementIndex(),
		balances:     ledger.NewBalanceTracker(),
		stats:        map[ledger.AccountID]*ledger.Statistics{},
		nextOrderID:  1,
		nextCallID:   1,
		nextSettleID: 1,
	}
}

// --- Sessions ---

func (s *Store) Begin() {
	if s.inSession {
		panic("FATAL: nested store session")
	}
	s.inSession = true
	s.undo = s.undo[:0]
}

func (s *Store) Commit() {
	s.inSession = false
	s.undo = s.undo[:0]
}

// Rollback reverts every mutation since Begin, newest first.
func (s *Store) Rollback() {
	s.inSession = false
	for i := len(s.undo) - 1; i >= 0; i-- {
		s.undo[i]()
	}
	s.undo = s.undo[:0]
}

// RecordUndo registers fn to run on Rollback. Collaborators that keep state
// outside the store use it to join the session.
func (s *Store) RecordUndo(fn func()) {
	if s.inSession {
		s.undo = append(s.undo, fn)
	}
}

// --- Reads ---

func (s *Store) Asset(id asset.ID) (*Asset, bool) {
	a, ok := s.assets[id]
	return a, ok
}

// Assets returns all assets ordered by id.
func (s *Store) Assets() []*Asset {
	out := make([]*Asset, 0, len(s.assets))
	for _, a := range s.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Orders() *OrderBook { return s.book }

func (s *Store) Calls() *CallIndex { return s.calls }

func (s *Store) Settlements() *SettlementIndex { return s.settlements }

func (s *Store) Order(id OrderID) (*LimitOrder, bool) { return s.book.Get(id) }

// LastOrderID is the id most recently assigned to an order, 0 if none.
func (s *Store) LastOrderID() OrderID { return s.nextOrderID - 1 }

func (s *Store) HasOrder(id OrderID) bool {
	_, ok := s.book.Get(id)
	return ok
}

func (s *Store) Balance(account ledger.AccountID, id asset.ID) asset.Amount {
	return s.balances.GetBalance(account, id)
}

func (s *Store) Balances() *ledger.BalanceTracker { return s.balances }

func (s *Store) Statistics(account ledger.AccountID) ledger.Statistics {
	if st, ok := s.stats[account]; ok {
		return *st
	}
	return ledger.Statistics{}
}

// --- Assets ---

func (s *Store) CreateAsset(a *Asset) error {
	if _, exists := s.assets[a.ID]; exists {
		return fmt.Errorf("asset %d already exists", a.ID)
	}
	s.assets[a.ID] = a
	s.RecordUndo(func() { delete(s.assets, a.ID) })
	return nil
}

func (s *Store) ModifyAsset(a *Asset, fn func(*Asset)) {
	prev := a.clone()
	fn(a)
	if a.ID != prev.ID {
		panic(fmt.Sprintf("FATAL: asset id changed from %d to %d", prev.ID, a.ID))
	}
	s.RecordUndo(func() { *a = *prev })
}

// --- Limit orders ---

// InsertOrder assigns the next order id and adds o to the book.
func (s *Store) InsertOrder(o *LimitOrder) OrderID {
	o.ID = s.nextOrderID
	s.nextOrderID++
	s.book.insert(o)
	s.RecordUndo(func() {
		s.book.remove(o)
		s.nextOrderID--
	})
	return o.ID
}

func (s *Store) ModifyOrder(o *LimitOrder, fn func(*LimitOrder)) {
	prev := *o
	fn(o)
	if o.ID != prev.ID || o.Seller != prev.Seller || o.Expiration != prev.Expiration || !o.SellPrice.Equal(prev.SellPrice) {
		panic(fmt.Sprintf("FATAL: indexed fields of order %d modified", prev.ID))
	}
	if o.ForSale < 0 {
		panic(fmt.Sprintf("FATAL: order %d for_sale went negative: %d", o.ID, o.ForSale))
	}
	s.RecordUndo(func() { *o = prev })
}

func (s *Store) RemoveOrder(o *LimitOrder) {
	if _, ok := s.book.Get(o.ID); !ok {
		panic(fmt.Sprintf("FATAL: removing unknown order %d", o.ID))
	}
	s.book.remove(o)
	s.RecordUndo(func() { s.book.insert(o) })
}

// --- Call orders ---

func (s *Store) InsertCall(c *CallOrder) CallID {
	if _, exists := s.calls.ByBorrower(c.Borrower, c.DebtAsset); exists {
		panic(fmt.Sprintf("FATAL: borrower %d already has a position in asset %d", c.Borrower, c.DebtAsset))
	}
	c.ID = s.nextCallID
	s.nextCallID++
	s.calls.insert(c)
	s.RecordUndo(func() {
		s.calls.remove(c)
		s.nextCallID--
	})
	return c.ID
}

// ModifyCall applies fn and re-sorts the position by its new call price.
func (s *Store) ModifyCall(c *CallOrder, fn func(*CallOrder)) {
	prev := *c
	fn(c)
	if c.ID != prev.ID || c.Borrower != prev.Borrower || c.DebtAsset != prev.DebtAsset {
		panic(fmt.Sprintf("FATAL: identity of call %d modified", prev.ID))
	}
	if c.Debt < 0 || c.Collateral < 0 {
		panic(fmt.Sprintf("FATAL: call %d went negative: debt=%d collateral=%d", c.ID, c.Debt, c.Collateral))
	}
	s.calls.reprice(prev.CallPrice, c)
	s.RecordUndo(func() {
		cur := c.CallPrice
		*c = prev
		s.calls.reprice(cur, c)
	})
}

func (s *Store) RemoveCall(c *CallOrder) {
	if _, ok := s.calls.Get(c.ID); !ok {
		panic(fmt.Sprintf("FATAL: removing unknown call %d", c.ID))
	}
	s.calls.remove(c)
	s.RecordUndo(func() { s.calls.insert(c) })
}

// --- Force settlements ---

func (s *Store) InsertSettlement(fs *ForceSettlement) SettleID {
	fs.ID = s.nextSettleID
	s.nextSettleID++
	s.settlements.insert(fs)
	s.RecordUndo(func() {
		s.settlements.remove(fs)
		s.nextSettleID--
	})
	return fs.ID
}

func (s *Store) ModifySettlement(fs *ForceSettlement, fn func(*ForceSettlement)) {
	prev := *fs
	fn(fs)
	if fs.ID != prev.ID || fs.SettlementDate != prev.SettlementDate || fs.Balance.AssetID != prev.Balance.AssetID {
		panic(fmt.Sprintf("FATAL: indexed fields of settlement %d modified", prev.ID))
	}
	s.RecordUndo(func() { *fs = prev })
}

func (s *Store) RemoveSettlement(fs *ForceSettlement) {
	s.settlements.remove(fs)
	s.RecordUndo(func() { s.settlements.insert(fs) })
}

// --- Balances ---

// AdjustBalance applies delta, failing if the balance would go negative.
func (s *Store) AdjustBalance(account ledger.AccountID, delta asset.Amount) error {
	if delta.Amount == 0 {
		return nil
	}
	prev, err := s.balances.Adjust(account, delta)
	if err != nil {
		return err
	}
	key := ledger.BalanceKey{Account: account, Asset: delta.AssetID}
	s.RecordUndo(func() { s.balances.Restore(key, prev) })
	return nil
}

func (s *Store) ModifyStatistics(account ledger.AccountID, fn func(*ledger.Statistics)) {
	st, ok := s.stats[account]
	if !ok {
		st = &ledger.Statistics{}
		s.stats[account] = st
	}
	prev := *st
	fn(st)
	s.RecordUndo(func() {
		if !ok {
			delete(s.stats, account)
			return
		}
		*st = prev
	})
}
