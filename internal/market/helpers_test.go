package market

import (
	"testing"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/event"
	"MarketLedger/internal/ledger"
	"MarketLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	core asset.ID = 0
	usd  asset.ID = 1
	xts  asset.ID = 2
	yts  asset.ID = 3
)

const (
	alice ledger.AccountID = 1
	bob   ledger.AccountID = 2
	carol ledger.AccountID = 3
	dave  ledger.AccountID = 4
)

// harness drives an engine the way the core does: one store session per
// operation, rolled back on error.
type harness struct {
	t     *testing.T
	store *state.Store
	eng   *Engine
	seq   int64
	head  int64
}

func newHarness(t *testing.T, forks Hardforks, toll TollHook) *harness {
	t.Helper()
	s := state.NewStore()
	return &harness{
		t:     t,
		store: s,
		eng:   NewEngine(s, nil, toll, forks, zerolog.Nop(), nil),
		head:  100,
	}
}

func (h *harness) hdr() event.Header {
	h.seq++
	return event.Header{OpID: uuid.New(), Sequence: h.seq, Time: h.head}
}

func (h *harness) apply(evt event.Event) ([]event.VirtualOp, error) {
	h.store.Begin()
	ops, err := h.eng.Apply(evt)
	if err != nil {
		h.store.Rollback()
		return nil, err
	}
	h.store.Commit()
	return ops, nil
}

func (h *harness) must(evt event.Event) []event.VirtualOp {
	h.t.Helper()
	ops, err := h.apply(evt)
	require.NoError(h.t, err)
	return ops
}

func (h *harness) userAsset(id asset.ID, symbol string) {
	h.t.Helper()
	h.must(&event.AssetCreate{Header: h.hdr(), AssetID: id, Symbol: symbol})
}

func (h *harness) bitAsset(id asset.ID, opts event.BitassetOptions, flags state.AssetFlags) {
	h.t.Helper()
	opts.BackingAsset = core
	h.must(&event.AssetCreate{Header: h.hdr(), AssetID: id, Symbol: "USD", Issuer: dave, Flags: uint16(flags), Bitasset: &opts})
}

func (h *harness) deposit(who ledger.AccountID, amount int64, id asset.ID) {
	h.t.Helper()
	h.must(&event.Deposit{Header: h.hdr(), Account: who, Amount: asset.New(amount, id)})
}

func (h *harness) sell(who ledger.AccountID, sell, receive asset.Amount) (*event.LimitOrderCreate, []event.VirtualOp, error) {
	op := &event.LimitOrderCreate{Header: h.hdr(), Seller: who, AmountToSell: sell, MinToReceive: receive}
	ops, err := h.apply(op)
	return op, ops, err
}

// feed publishes usd/core at usdAmount/coreAmount with default ratios.
func (h *harness) feed(usdAmount, coreAmount int64) ([]event.VirtualOp, error) {
	return h.apply(&event.PriceFeedPublish{
		Header:                     h.hdr(),
		AssetID:                    usd,
		SettlementPrice:            asset.New(usdAmount, usd).Over(asset.New(coreAmount, core)),
		MaintenanceCollateralRatio: state.DefaultMaintenanceCollateralRatio,
		MaximumShortSqueezeRatio:   state.DefaultMaximumShortSqueezeRatio,
	})
}

func (h *harness) borrow(who ledger.AccountID, debt, collateral int64) error {
	_, err := h.apply(&event.CallOrderUpdate{
		Header:          h.hdr(),
		Borrower:        who,
		DeltaCollateral: asset.New(collateral, core),
		DeltaDebt:       asset.New(debt, usd),
	})
	return err
}

func (h *harness) balance(who ledger.AccountID, id asset.ID) int64 {
	return h.store.Balance(who, id).Amount
}

func (h *harness) supply(id asset.ID) int64 {
	a, ok := h.store.Asset(id)
	require.True(h.t, ok)
	return a.Dynamic.CurrentSupply
}

func (h *harness) call(who ledger.AccountID) (*state.CallOrder, bool) {
	return h.store.Calls().ByBorrower(who, usd)
}

func (h *harness) audit() {
	h.t.Helper()
	require.NoError(h.t, h.store.AuditSupply())
	require.NoError(h.t, h.store.AuditCoreInOrders())
}

func opsOf[T event.VirtualOp](ops []event.VirtualOp) []T {
	var out []T
	for _, op := range ops {
		if v, ok := op.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// marketSetup creates core, usd (backed by core, feed 1:1) and two
// user-issued assets, and funds every account with core.
func marketSetup(t *testing.T, forks Hardforks, opts event.BitassetOptions, flags state.AssetFlags) *harness {
	h := newHarness(t, forks, nil)
	h.userAsset(core, "CORE")
	h.bitAsset(usd, opts, flags)
	h.userAsset(xts, "XTS")
	h.userAsset(yts, "YTS")
	for _, who := range []ledger.AccountID{alice, bob, carol, dave} {
		h.deposit(who, 10_000, core)
	}
	_, err := h.feed(1, 1)
	require.NoError(t, err)
	return h
}
