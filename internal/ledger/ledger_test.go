package ledger_test

import (
	"errors"
	"math"
	"testing"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/ledger"
)

// ============================================================================
// Test: BalanceKey
// ============================================================================

func TestBalanceKey_AccountPath(t *testing.T) {
	key := ledger.BalanceKey{Account: 17, Asset: 3}
	if got := key.AccountPath(); got != "account:17:asset:3" {
		t.Errorf("got %q, want %q", got, "account:17:asset:3")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_AdjustCreditsAndDebits(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	if _, err := bt.Adjust(1, asset.New(100, 2)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	prev, err := bt.Adjust(1, asset.New(-40, 2))
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if prev != 100 {
		t.Errorf("previous balance: got %d, want 100", prev)
	}
	if got := bt.GetBalance(1, 2).Amount; got != 60 {
		t.Errorf("balance: got %d, want 60", got)
	}
}

func TestBalanceTracker_RejectsNegative(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	bt.Adjust(1, asset.New(10, 2))

	_, err := bt.Adjust(1, asset.New(-11, 2))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := bt.GetBalance(1, 2).Amount; got != 10 {
		t.Errorf("balance changed on rejected debit: got %d, want 10", got)
	}
}

func TestBalanceTracker_OverflowRejected(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	bt.Adjust(1, asset.New(math.MaxInt64, 2))

	if _, err := bt.Adjust(1, asset.New(1, 2)); err == nil {
		t.Fatal("expected overflow error")
	}
}

func TestBalanceTracker_SnapshotOrdered(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	bt.Adjust(2, asset.New(5, 1))
	bt.Adjust(1, asset.New(7, 3))
	bt.Adjust(1, asset.New(9, 0))

	snap := bt.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap))
	}
	if snap[0].Account != 1 || snap[0].Asset != 0 {
		t.Errorf("first entry: got %+v", snap[0])
	}
	if snap[2].Account != 2 {
		t.Errorf("last entry: got %+v", snap[2])
	}
}

func TestBalanceTracker_ZeroBalancesDropped(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	bt.Adjust(1, asset.New(5, 1))
	bt.Adjust(1, asset.New(-5, 1))

	if n := len(bt.Snapshot()); n != 0 {
		t.Errorf("expected empty snapshot, got %d entries", n)
	}
}

func TestBalanceTracker_ComputeGlobalBalance(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	bt.Adjust(1, asset.New(5, 1))
	bt.Adjust(2, asset.New(6, 1))
	bt.Adjust(2, asset.New(1, 2))

	totals := bt.ComputeGlobalBalance()
	if totals[1] != 11 || totals[2] != 1 {
		t.Errorf("got %v", totals)
	}
}

// ============================================================================
// Test: Statistics
// ============================================================================

func TestStatistics_PayFee(t *testing.T) {
	var s ledger.Statistics
	s.PayFee(3)
	s.PayFee(4)
	if s.PendingFees != 7 || s.LifetimeFeesPaid != 7 {
		t.Errorf("got %+v", s)
	}
}
