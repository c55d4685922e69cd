package state

import (
	"MarketLedger/internal/asset"
	"MarketLedger/internal/ledger"

	"github.com/google/btree"
)

type callAtPrice struct {
	price asset.Price
	id    CallID
}

// least collateralized first
func lessFuncCallsAtPrice(a, b callAtPrice) bool {
	if c := a.price.Compare(b.price); c != 0 {
		return c < 0
	}
	return a.id < b.id
}

type borrowerKey struct {
	borrower ledger.AccountID
	debt     asset.ID
}

// CallIndex owns debt positions, ordered by call price ascending.
// A borrower holds at most one position per debt asset.
type CallIndex struct {
	calls      map[CallID]*CallOrder
	byPrice    *btree.BTreeG[callAtPrice]
	byBorrower map[borrowerKey]CallID
}

func NewCallIndex() *CallIndex {
	return &CallIndex{
		calls:      map[CallID]*CallOrder{},
		byPrice:    btree.NewG(2, lessFuncCallsAtPrice),
		byBorrower: map[borrowerKey]CallID{},
	}
}

func (ci *CallIndex) Len() int { return len(ci.calls) }

func (ci *CallIndex) Get(id CallID) (*CallOrder, bool) {
	c, ok := ci.calls[id]
	return c, ok
}

func (ci *CallIndex) ByBorrower(borrower ledger.AccountID, debt asset.ID) (*CallOrder, bool) {
	id, ok := ci.byBorrower[borrowerKey{borrower: borrower, debt: debt}]
	if !ok {
		return nil, false
	}
	return ci.calls[id], true
}

func (ci *CallIndex) insert(c *CallOrder) {
	ci.calls[c.ID] = c
	ci.byPrice.ReplaceOrInsert(callAtPrice{price: c.CallPrice, id: c.ID})
	ci.byBorrower[borrowerKey{borrower: c.Borrower, debt: c.DebtAsset}] = c.ID
}

func (ci *CallIndex) remove(c *CallOrder) {
	ci.byPrice.Delete(callAtPrice{price: c.CallPrice, id: c.ID})
	delete(ci.byBorrower, borrowerKey{borrower: c.Borrower, debt: c.DebtAsset})
	delete(ci.calls, c.ID)
}

// reprice moves c from its old call price to its current one.
func (ci *CallIndex) reprice(old asset.Price, c *CallOrder) {
	ci.byPrice.Delete(callAtPrice{price: old, id: c.ID})
	ci.byPrice.ReplaceOrInsert(callAtPrice{price: c.CallPrice, id: c.ID})
}

// Front returns the least collateralized position priced within [lo, hi].
func (ci *CallIndex) Front(lo, hi asset.Price) *CallOrder {
	var found *CallOrder
	ci.byPrice.AscendGreaterOrEqual(callAtPrice{price: lo}, func(k callAtPrice) bool {
		if k.price.Greater(hi) {
			return false
		}
		found = ci.calls[k.id]
		return false
	})
	return found
}

// Range returns the ids of positions priced within [lo, hi], least
// collateralized first.
func (ci *CallIndex) Range(lo, hi asset.Price) []CallID {
	var ids []CallID
	ci.byPrice.AscendGreaterOrEqual(callAtPrice{price: lo}, func(k callAtPrice) bool {
		if k.price.Greater(hi) {
			return false
		}
		ids = append(ids, k.id)
		return true
	})
	return ids
}

// ForDebtAsset returns every position borrowing debt against backing.
func (ci *CallIndex) ForDebtAsset(debt, backing asset.ID) []CallID {
	return ci.Range(asset.MinPrice(backing, debt), asset.MaxPrice(backing, debt))
}
