package state

import (
	"fmt"
	"sort"

	"MarketLedger/internal/ledger"
)

// AccountStatistics pairs an account with its statistics for snapshots.
type AccountStatistics struct {
	Account ledger.AccountID  `json:"account"`
	Stats   ledger.Statistics `json:"stats"`
}

// Snapshot is a deterministic, fully ordered copy of the store.
type Snapshot struct {
	Assets       []Asset               `json:"assets"`
	Orders       []LimitOrder          `json:"orders"`
	Calls        []CallOrder           `json:"calls"`
	Settlements  []ForceSettlement     `json:"settlements"`
	Balances     []ledger.BalanceEntry `json:"balances"`
	Statistics   []AccountStatistics   `json:"statistics"`
	NextOrderID  OrderID               `json:"next_order_id"`
	NextCallID   CallID                `json:"next_call_id"`
	NextSettleID SettleID              `json:"next_settle_id"`
}

// Export copies the store. Must not be called inside a session.
func (s *Store) Export() *Snapshot {
	if s.inSession {
		panic("FATAL: export during an open session")
	}
	snap := &Snapshot{
		Balances:     s.balances.Snapshot(),
		NextOrderID:  s.nextOrderID,
		NextCallID:   s.nextCallID,
		NextSettleID: s.nextSettleID,
	}
	for _, a := range s.Assets() {
		snap.Assets = append(snap.Assets, *a.clone())
	}
	for _, o := range s.book.orders {
		snap.Orders = append(snap.Orders, *o)
	}
	sort.Slice(snap.Orders, func(i, j int) bool { return snap.Orders[i].ID < snap.Orders[j].ID })
	for _, c := range s.calls.calls {
		snap.Calls = append(snap.Calls, *c)
	}
	sort.Slice(snap.Calls, func(i, j int) bool { return snap.Calls[i].ID < snap.Calls[j].ID })
	for _, fs := range s.settlements.settles {
		snap.Settlements = append(snap.Settlements, *fs)
	}
	sort.Slice(snap.Settlements, func(i, j int) bool { return snap.Settlements[i].ID < snap.Settlements[j].ID })
	for acct, st := range s.stats {
		snap.Statistics = append(snap.Statistics, AccountStatistics{Account: acct, Stats: *st})
	}
	sort.Slice(snap.Statistics, func(i, j int) bool { return snap.Statistics[i].Account < snap.Statistics[j].Account })
	return snap
}

// RestoreStore rebuilds a store from a snapshot.
func RestoreStore(snap *Snapshot) (*Store, error) {
	s := NewStore()
	for i := range snap.Assets {
		a := snap.Assets[i].clone()
		if err := s.CreateAsset(a); err != nil {
			return nil, err
		}
	}
	for i := range snap.Orders {
		o := snap.Orders[i]
		if _, ok := s.assets[o.SellPrice.Base.AssetID]; !ok {
			return nil, fmt.Errorf("order %d sells unknown asset %d", o.ID, o.SellPrice.Base.AssetID)
		}
		s.book.insert(&o)
	}
	for i := range snap.Calls {
		c := snap.Calls[i]
		s.calls.insert(&c)
	}
	for i := range snap.Settlements {
		fs := snap.Settlements[i]
		s.settlements.insert(&fs)
	}
	for _, b := range snap.Balances {
		s.balances.Restore(ledger.BalanceKey{Account: b.Account, Asset: b.Asset}, b.Amount)
	}
	for _, st := range snap.Statistics {
		v := st.Stats
		s.stats[st.Account] = &v
	}
	s.nextOrderID = snap.NextOrderID
	s.nextCallID = snap.NextCallID
	s.nextSettleID = snap.NextSettleID
	return s, nil
}
