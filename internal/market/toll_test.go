package market

import (
	"testing"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/deflation"
	"MarketLedger/internal/event"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deflationIssuer = dave

// tollSetup rests a 1000 core order from alice and starts a 1% deflation.
func tollSetup(t *testing.T) (*harness, *deflation.Tracker) {
	h := newHarness(t, Hardforks{}, nil)
	tracker := deflation.NewTracker(h.store, deflationIssuer, deflation.DefaultMinInterval, zerolog.Nop())
	h.eng.toll = tracker

	h.userAsset(core, "CORE")
	h.userAsset(xts, "XTS")
	h.deposit(alice, 10_000, core)
	h.deposit(bob, 10_000, xts)
	h.must(&event.LimitOrderCreate{
		Header:       h.hdr(),
		Seller:       alice,
		AmountToSell: asset.New(1000, core),
		MinToReceive: asset.New(1000, xts),
	})

	h.store.Begin()
	require.NoError(t, tracker.Start(deflationIssuer, deflation.RateScale/100, h.head))
	h.store.Commit()
	return h, tracker
}

func TestToll_CancelBurnsToll(t *testing.T) {
	h, _ := tollSetup(t)

	ops := h.must(&event.LimitOrderCancel{Header: h.hdr(), Owner: alice, OrderID: 1})
	tolled := opsOf[*event.OrderTolled](ops)
	require.Len(t, tolled, 1)
	assert.Equal(t, asset.New(10, core), tolled[0].Toll)
	cancels := opsOf[*event.LimitOrderCancelled](ops)
	require.Len(t, cancels, 1)
	assert.Equal(t, asset.New(990, core), cancels[0].Refunded)
	assert.Equal(t, asset.New(10, core), cancels[0].Toll)

	assert.Equal(t, int64(9990), h.balance(alice, core))
	assert.Equal(t, int64(9990), h.supply(core))
	assert.Zero(t, h.store.Statistics(alice).CoreInOrders)
	h.audit()
}

func TestToll_AppliedBeforeMatching(t *testing.T) {
	h, tracker := tollSetup(t)

	_, ops, err := h.sell(bob, asset.New(2000, xts), asset.New(2000, core))
	require.NoError(t, err)
	require.Len(t, opsOf[*event.OrderTolled](ops), 1)
	fills := opsOf[*event.FillOrder](ops)
	require.Len(t, fills, 2)
	assert.Equal(t, asset.New(990, core), fills[0].Receives)

	d, ok := tracker.Current()
	require.True(t, ok)
	assert.Equal(t, int64(10), d.TotalAmount)
	h.audit()
}

func TestToll_MaintenanceSweepsBook(t *testing.T) {
	h, tracker := tollSetup(t)

	ops := h.maintain()
	require.Len(t, opsOf[*event.OrderTolled](ops), 1)
	o, ok := h.store.Order(1)
	require.True(t, ok)
	assert.Equal(t, int64(990), o.ForSale)
	d, _ := tracker.Current()
	assert.True(t, d.OrderCleared)

	// once swept an order is not tolled again
	ops = h.must(&event.LimitOrderCancel{Header: h.hdr(), Owner: alice, OrderID: 1})
	assert.Empty(t, opsOf[*event.OrderTolled](ops))
	assert.Equal(t, int64(9990), h.balance(alice, core))
	h.audit()
}
