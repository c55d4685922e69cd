package state

import (
	"fmt"
	"sort"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/ledger"
)

// AuditSupply checks that every unit of every asset is accounted for:
// balances, amounts locked in orders, collateral, pending settlements,
// settlement funds and collected fees must add up to the current supply.
func (s *Store) AuditSupply() error {
	held := s.balances.ComputeGlobalBalance()
	add := func(id asset.ID, v int64) { held[id] += v }

	for _, o := range s.book.orders {
		add(o.SellPrice.Base.AssetID, o.ForSale)
		add(asset.CoreAssetID, o.DeferredFee)
	}
	for _, c := range s.calls.calls {
		add(c.CollateralAsset, c.Collateral)
	}
	for _, fs := range s.settlements.settles {
		add(fs.Balance.AssetID, fs.Balance.Amount)
	}
	for _, st := range s.stats {
		add(asset.CoreAssetID, st.PendingFees)
	}
	for _, a := range s.assets {
		add(a.ID, a.Dynamic.AccumulatedFees)
		if a.Bitasset != nil && a.Bitasset.Settled {
			add(a.Bitasset.BackingAsset, a.Bitasset.SettlementFund)
		}
	}

	ids := make([]asset.ID, 0, len(held))
	for id := range held {
		ids = append(ids, id)
	}
	for id := range s.assets {
		if _, ok := held[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		a, ok := s.assets[id]
		if !ok {
			if held[id] != 0 {
				return fmt.Errorf("unknown asset %d holds %d", id, held[id])
			}
			continue
		}
		if held[id] != a.Dynamic.CurrentSupply {
			return fmt.Errorf("asset %d: accounted %d, current supply %d", id, held[id], a.Dynamic.CurrentSupply)
		}
	}
	return nil
}

// AuditCoreInOrders checks each account's core-in-orders statistic against
// the core it has for sale on the book plus the core it has posted as
// collateral.
func (s *Store) AuditCoreInOrders() error {
	locked := map[ledger.AccountID]int64{}
	for _, c := range s.calls.calls {
		if c.CollateralAsset == asset.CoreAssetID {
			locked[c.Borrower] += c.Collateral
		}
	}

	accounts := make([]ledger.AccountID, 0, len(s.stats)+len(locked))
	for acct := range s.stats {
		accounts = append(accounts, acct)
	}
	for acct := range locked {
		if _, ok := s.stats[acct]; !ok {
			accounts = append(accounts, acct)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })

	for _, acct := range accounts {
		want := locked[acct]
		for _, id := range s.book.BySeller(acct) {
			if o := s.book.orders[id]; o.SellPrice.Base.AssetID == asset.CoreAssetID {
				want += o.ForSale
			}
		}
		if got := s.Statistics(acct).CoreInOrders; got != want {
			return fmt.Errorf("account %d: core in orders %d, book and collateral hold %d", acct, got, want)
		}
	}
	return nil
}
