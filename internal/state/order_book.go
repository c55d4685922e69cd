package state

import (
	"MarketLedger/internal/asset"
	"MarketLedger/internal/ledger"

	"github.com/google/btree"
)

type orderAtPrice struct {
	price asset.Price
	id    OrderID
}

// best price first, then oldest order
func lessFuncOrdersAtPrice(a, b orderAtPrice) bool {
	if c := a.price.Compare(b.price); c != 0 {
		return c > 0
	}
	return a.id < b.id
}

type orderOfSeller struct {
	seller ledger.AccountID
	id     OrderID
}

func lessFuncOrdersOfSeller(a, b orderOfSeller) bool {
	if a.seller != b.seller {
		return a.seller < b.seller
	}
	return a.id < b.id
}

type orderAtExpiry struct {
	expiration int64
	id         OrderID
}

func lessFuncOrdersAtExpiry(a, b orderAtExpiry) bool {
	if a.expiration != b.expiration {
		return a.expiration < b.expiration
	}
	return a.id < b.id
}

// OrderBook owns resting limit orders and indexes them by price, seller,
// expiration and id. Indexes hold ids only.
type OrderBook struct {
	orders   map[OrderID]*LimitOrder
	byPrice  *btree.BTreeG[orderAtPrice]
	bySeller *btree.BTreeG[orderOfSeller]
	byExpiry *btree.BTreeG[orderAtExpiry]
	byID     *btree.BTreeG[OrderID]
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		orders:   map[OrderID]*LimitOrder{},
		byPrice:  btree.NewG(2, lessFuncOrdersAtPrice),
		bySeller: btree.NewG(2, lessFuncOrdersOfSeller),
		byExpiry: btree.NewG(2, lessFuncOrdersAtExpiry),
		byID:     btree.NewG[OrderID](2, func(a, b OrderID) bool { return a < b }),
	}
}

func (b *OrderBook) Len() int { return len(b.orders) }

func (b *OrderBook) Get(id OrderID) (*LimitOrder, bool) {
	o, ok := b.orders[id]
	return o, ok
}

func (b *OrderBook) insert(o *LimitOrder) {
	b.orders[o.ID] = o
	b.index(o)
}

func (b *OrderBook) remove(o *LimitOrder) {
	b.unindex(o)
	delete(b.orders, o.ID)
}

func (b *OrderBook) index(o *LimitOrder) {
	b.byPrice.ReplaceOrInsert(orderAtPrice{price: o.SellPrice, id: o.ID})
	b.bySeller.ReplaceOrInsert(orderOfSeller{seller: o.Seller, id: o.ID})
	b.byID.ReplaceOrInsert(o.ID)
	if o.Expiration > 0 {
		b.byExpiry.ReplaceOrInsert(orderAtExpiry{expiration: o.Expiration, id: o.ID})
	}
}

func (b *OrderBook) unindex(o *LimitOrder) {
	b.byPrice.Delete(orderAtPrice{price: o.SellPrice, id: o.ID})
	b.bySeller.Delete(orderOfSeller{seller: o.Seller, id: o.ID})
	b.byID.Delete(o.ID)
	if o.Expiration > 0 {
		b.byExpiry.Delete(orderAtExpiry{expiration: o.Expiration, id: o.ID})
	}
}

// Front returns the best order priced within [lo, hi], or nil.
func (b *OrderBook) Front(hi, lo asset.Price) *LimitOrder {
	var found *LimitOrder
	b.byPrice.AscendGreaterOrEqual(orderAtPrice{price: hi}, func(k orderAtPrice) bool {
		if k.price.Less(lo) {
			return false
		}
		found = b.orders[k.id]
		return false
	})
	return found
}

// AtOrBetter returns the ids of orders priced at p or better, best first.
// The ids are a copy; callers re-check each one before use since an order
// may be gone by the time they reach it.
func (b *OrderBook) AtOrBetter(p asset.Price) []OrderID {
	var ids []OrderID
	b.byPrice.AscendGreaterOrEqual(orderAtPrice{price: p.Max()}, func(k orderAtPrice) bool {
		if k.price.Less(p) {
			return false
		}
		ids = append(ids, k.id)
		return true
	})
	return ids
}

// BySeller returns the ids of seller's orders, oldest first.
func (b *OrderBook) BySeller(seller ledger.AccountID) []OrderID {
	var ids []OrderID
	b.bySeller.AscendGreaterOrEqual(orderOfSeller{seller: seller}, func(k orderOfSeller) bool {
		if k.seller != seller {
			return false
		}
		ids = append(ids, k.id)
		return true
	})
	return ids
}

// Expired returns orders whose expiration is at or before now.
func (b *OrderBook) Expired(now int64) []OrderID {
	var ids []OrderID
	b.byExpiry.Ascend(func(k orderAtExpiry) bool {
		if k.expiration > now {
			return false
		}
		ids = append(ids, k.id)
		return true
	})
	return ids
}

// From returns up to limit order ids at or above from, ascending.
func (b *OrderBook) From(from OrderID, limit int) []OrderID {
	var ids []OrderID
	b.byID.AscendGreaterOrEqual(from, func(id OrderID) bool {
		if len(ids) >= limit {
			return false
		}
		ids = append(ids, id)
		return true
	})
	return ids
}
