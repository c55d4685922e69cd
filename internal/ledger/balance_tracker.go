package ledger

import (
	"errors"
	"fmt"
	"sort"

	"MarketLedger/internal/asset"
	fp "MarketLedger/internal/math"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[BalanceKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[BalanceKey]int64),
	}
}

// GetBalance returns the current balance of account in the given asset.
func (bt *BalanceTracker) GetBalance(account AccountID, id asset.ID) asset.Amount {
	return asset.New(bt.balances[BalanceKey{Account: account, Asset: id}], id)
}

// Adjust applies delta to the account and returns the previous balance.
// A result below zero is rejected and leaves the balance untouched.
func (bt *BalanceTracker) Adjust(account AccountID, delta asset.Amount) (int64, error) {
	key := BalanceKey{Account: account, Asset: delta.AssetID}
	prev := bt.balances[key]
	next, err := fp.Add(prev, delta.Amount)
	if err != nil {
		return prev, fmt.Errorf("adjust %s by %s: %w", key.AccountPath(), delta, err)
	}
	if next < 0 {
		return prev, fmt.Errorf("%w: account %d has %d of asset %d, needs %d",
			ErrInsufficientBalance, account, prev, delta.AssetID, -delta.Amount)
	}
	bt.set(key, next)
	return prev, nil
}

// Restore sets a balance directly. Used by undo and snapshot restore.
func (bt *BalanceTracker) Restore(key BalanceKey, value int64) {
	bt.set(key, value)
}

func (bt *BalanceTracker) set(key BalanceKey, value int64) {
	if value == 0 {
		delete(bt.balances, key)
		return
	}
	bt.balances[key] = value
}

// ComputeGlobalBalance sums all account balances per asset.
func (bt *BalanceTracker) ComputeGlobalBalance() map[asset.ID]int64 {
	totals := make(map[asset.ID]int64)
	for key, balance := range bt.balances {
		totals[key.Asset] += balance
	}
	return totals
}

// BalanceEntry is one row of a balance snapshot.
type BalanceEntry struct {
	Account AccountID `json:"account"`
	Asset   asset.ID  `json:"asset"`
	Amount  int64     `json:"amount"`
}

// Snapshot returns all non-zero balances ordered by (account, asset).
func (bt *BalanceTracker) Snapshot() []BalanceEntry {
	out := make([]BalanceEntry, 0, len(bt.balances))
	for k, v := range bt.balances {
		out = append(out, BalanceEntry{Account: k.Account, Asset: k.Asset, Amount: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}
