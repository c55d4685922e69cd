package projection

import (
	"sync"
	"time"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/event"
	"MarketLedger/internal/ledger"
)

// FillEntry is one fill as seen by an account.
type FillEntry struct {
	Sequence            int64
	Kind                event.OrderKind
	OrderID             uint64
	Account             ledger.AccountID
	Pays                asset.Amount
	Receives            asset.Amount
	Fee                 asset.Amount
	FillPrice           asset.Price
	ExchangeFeeReceiver *ledger.AccountID
	ExchangeFeeRate     uint32
	ExchangeFee         asset.Amount
	Timestamp           time.Time
}

// FillHistory keeps the most recent fills of every account in memory so
// hot queries skip the database. Each account holds at most perAccount
// entries; older ones are overwritten.
type FillHistory struct {
	mu         sync.RWMutex
	perAccount int
	rings      map[ledger.AccountID]*fillRing
}

type fillRing struct {
	entries []FillEntry
	next    int
	full    bool
}

func NewFillHistory(perAccount int) *FillHistory {
	if perAccount <= 0 {
		perAccount = 100
	}
	return &FillHistory{
		perAccount: perAccount,
		rings:      make(map[ledger.AccountID]*fillRing),
	}
}

// Add records a fill.
func (h *FillHistory) Add(e FillEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rings[e.Account]
	if !ok {
		r = &fillRing{entries: make([]FillEntry, h.perAccount)}
		h.rings[e.Account] = r
	}
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns up to limit fills of account, newest first.
func (h *FillHistory) Recent(account ledger.AccountID, limit int) []FillEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.rings[account]
	if !ok {
		return nil
	}
	n := r.next
	if r.full {
		n = len(r.entries)
	}
	if limit > n {
		limit = n
	}

	out := make([]FillEntry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}

// Len returns how many fills are held for account.
func (h *FillHistory) Len(account ledger.AccountID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.rings[account]
	if !ok {
		return 0
	}
	if r.full {
		return len(r.entries)
	}
	return r.next
}
