package deflation

import (
	"testing"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/ledger"
	"MarketLedger/internal/state"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const issuer ledger.AccountID = 99

func order(s *state.Store, sell asset.ID, forSale int64) *state.LimitOrder {
	o := &state.LimitOrder{
		Seller:    1,
		ForSale:   forSale,
		SellPrice: asset.New(forSale, sell).Over(asset.New(forSale, sell+1)),
	}
	s.InsertOrder(o)
	return o
}

func newTracker(s *state.Store) *Tracker {
	return NewTracker(s, issuer, DefaultMinInterval, zerolog.Nop())
}

func TestStart_Validation(t *testing.T) {
	s := state.NewStore()
	tr := newTracker(s)

	assert.ErrorIs(t, tr.Start(issuer, 1000, 10), ErrNothingToToll)
	order(s, asset.CoreAssetID, 100)

	assert.ErrorIs(t, tr.Start(7, 1000, 10), ErrNotIssuer)
	assert.ErrorIs(t, tr.Start(issuer, 0, 10), ErrInvalidRate)
	assert.ErrorIs(t, tr.Start(issuer, RateScale, 10), ErrInvalidRate)

	require.NoError(t, tr.Start(issuer, 1000, 10))
	assert.ErrorIs(t, tr.Start(issuer, 1000, 20), ErrInProgress)

	tr.Sweep(10)
	d, ok := tr.Current()
	require.True(t, ok)
	assert.True(t, d.OrderCleared)
	assert.ErrorIs(t, tr.Start(issuer, 1000, 10+DefaultMinInterval), ErrTooSoon)
	assert.NoError(t, tr.Start(issuer, 1000, 11+DefaultMinInterval))
}

func TestToll_CoreOrdersOnceEach(t *testing.T) {
	s := state.NewStore()
	tr := newTracker(s)
	coreOrder := order(s, asset.CoreAssetID, 1_000_000)
	other := order(s, 5, 1_000_000)

	require.NoError(t, tr.Start(issuer, RateScale/100, 1)) // 1%
	late := order(s, asset.CoreAssetID, 1_000_000)

	assert.Equal(t, int64(10_000), tr.Toll(coreOrder))
	assert.Zero(t, tr.Toll(coreOrder), "second toll")
	assert.Zero(t, tr.Toll(other), "non-core order")
	assert.Zero(t, tr.Toll(late), "created after the deflation started")

	d, _ := tr.Current()
	assert.Equal(t, int64(10_000), d.TotalAmount)
}

func TestToll_NeverExceedsForSale(t *testing.T) {
	s := state.NewStore()
	tr := newTracker(s)
	sizes := []int64{1, 2, 99, 12345, asset.MaxShareSupply}
	var orders []*state.LimitOrder
	for _, n := range sizes {
		orders = append(orders, order(s, asset.CoreAssetID, n))
	}
	require.NoError(t, tr.Start(issuer, RateScale-1, 1))
	for _, o := range orders {
		toll := tr.Toll(o)
		assert.GreaterOrEqual(t, toll, int64(0))
		assert.Less(t, toll, o.ForSale+1)
	}
}

func TestSweep_AdvancesCursorAndClears(t *testing.T) {
	s := state.NewStore()
	tr := newTracker(s)
	var ids []state.OrderID
	for i := 0; i < 5; i++ {
		ids = append(ids, order(s, asset.CoreAssetID, 100).ID)
	}
	order(s, 5, 100)
	require.NoError(t, tr.Start(issuer, 1000, 1))

	first := tr.Sweep(2)
	assert.Equal(t, ids[:2], first)
	d, _ := tr.Current()
	assert.Equal(t, ids[2], d.OrderCursor)
	assert.False(t, d.OrderCleared)

	// an order tolled on its own is not handed out again
	o, _ := s.Order(ids[2])
	tr.Toll(o)

	rest := tr.Sweep(10)
	assert.Equal(t, ids[3:], rest)
	d, _ = tr.Current()
	assert.True(t, d.OrderCleared)
	assert.Nil(t, tr.Sweep(10))
}

func TestTracker_JoinsRollback(t *testing.T) {
	s := state.NewStore()
	tr := newTracker(s)
	o := order(s, asset.CoreAssetID, 1000)

	s.Begin()
	require.NoError(t, tr.Start(issuer, RateScale/10, 1))
	assert.Equal(t, int64(100), tr.Toll(o))
	s.Rollback()

	_, ok := tr.Current()
	assert.False(t, ok)

	s.Begin()
	require.NoError(t, tr.Start(issuer, RateScale/10, 1))
	s.Commit()
	d, ok := tr.Current()
	require.True(t, ok)
	assert.Equal(t, uint64(1), d.ID)

	s.Begin()
	assert.Equal(t, int64(100), tr.Toll(o))
	s.Rollback()
	assert.Equal(t, int64(100), tr.Toll(o), "rolled back toll is owed again")
}

func TestTracker_SnapshotRoundTrip(t *testing.T) {
	s := state.NewStore()
	tr := newTracker(s)
	a := order(s, asset.CoreAssetID, 1000)
	order(s, asset.CoreAssetID, 1000)
	require.NoError(t, tr.Start(issuer, RateScale/10, 1))
	tr.Toll(a)

	restored := newTracker(s)
	restored.Restore(tr.Export())

	want, _ := tr.Current()
	got, ok := restored.Current()
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Zero(t, restored.Toll(a))
}
