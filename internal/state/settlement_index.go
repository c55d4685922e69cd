package state

import (
	"math"

	"MarketLedger/internal/asset"

	"github.com/google/btree"
)

type settleAtDate struct {
	asset asset.ID
	date  int64
	id    SettleID
}

func lessFuncSettlesAtDate(a, b settleAtDate) bool {
	if a.asset != b.asset {
		return a.asset < b.asset
	}
	if a.date != b.date {
		return a.date < b.date
	}
	return a.id < b.id
}

// SettlementIndex owns pending force settlement requests, ordered by
// (asset, settlement date, id).
type SettlementIndex struct {
	settles map[SettleID]*ForceSettlement
	byDate  *btree.BTreeG[settleAtDate]
}

func NewSettlementIndex() *SettlementIndex {
	return &SettlementIndex{
		settles: map[SettleID]*ForceSettlement{},
		byDate:  btree.NewG(2, lessFuncSettlesAtDate),
	}
}

func (si *SettlementIndex) Len() int { return len(si.settles) }

func (si *SettlementIndex) Get(id SettleID) (*ForceSettlement, bool) {
	s, ok := si.settles[id]
	return s, ok
}

func keyOf(s *ForceSettlement) settleAtDate {
	return settleAtDate{asset: s.Balance.AssetID, date: s.SettlementDate, id: s.ID}
}

func (si *SettlementIndex) insert(s *ForceSettlement) {
	si.settles[s.ID] = s
	si.byDate.ReplaceOrInsert(keyOf(s))
}

func (si *SettlementIndex) remove(s *ForceSettlement) {
	si.byDate.Delete(keyOf(s))
	delete(si.settles, s.ID)
}

// Front returns the earliest request for the asset, or nil.
func (si *SettlementIndex) Front(id asset.ID) *ForceSettlement {
	var found *ForceSettlement
	si.byDate.AscendGreaterOrEqual(settleAtDate{asset: id, date: math.MinInt64}, func(k settleAtDate) bool {
		if k.asset == id {
			found = si.settles[k.id]
		}
		return false
	})
	return found
}

// Assets returns the assets with pending requests, ascending.
func (si *SettlementIndex) Assets() []asset.ID {
	var ids []asset.ID
	si.byDate.Ascend(func(k settleAtDate) bool {
		if len(ids) == 0 || ids[len(ids)-1] != k.asset {
			ids = append(ids, k.asset)
		}
		return true
	})
	return ids
}
