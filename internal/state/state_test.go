package state

import (
	"testing"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	core asset.ID = 0
	usd  asset.ID = 1
)

func sellUSD(seller ledger.AccountID, amount, wantCore int64) *LimitOrder {
	return &LimitOrder{
		Seller:    seller,
		ForSale:   amount,
		SellPrice: asset.New(amount, usd).Over(asset.New(wantCore, core)),
	}
}

func TestOrderBook_BestPriceFirstThenOldest(t *testing.T) {
	s := NewStore()
	cheap := s.InsertOrder(sellUSD(1, 100, 100)) // 1 usd per core
	rich := s.InsertOrder(sellUSD(1, 300, 100))  // 3 usd per core
	richLater := s.InsertOrder(sellUSD(1, 600, 200))

	var popped []OrderID
	for {
		front := s.Orders().Front(asset.MaxPrice(usd, core), asset.MinPrice(usd, core))
		if front == nil {
			break
		}
		popped = append(popped, front.ID)
		s.RemoveOrder(front)
	}
	assert.Equal(t, []OrderID{rich, richLater, cheap}, popped)
}

func TestOrderBook_FrontBounds(t *testing.T) {
	s := NewStore()
	s.InsertOrder(sellUSD(1, 100, 100))
	two := s.InsertOrder(sellUSD(1, 200, 100))
	three := s.InsertOrder(sellUSD(1, 300, 100))

	p := asset.New(2, usd).Over(asset.New(1, core))

	front := s.Orders().Front(p, asset.MinPrice(usd, core))
	require.NotNil(t, front)
	assert.Equal(t, two, front.ID, "orders priced above hi are skipped")

	front = s.Orders().Front(p.Max(), p)
	require.NotNil(t, front)
	assert.Equal(t, three, front.ID)

	above := asset.New(5, usd).Over(asset.New(1, core))
	assert.Nil(t, s.Orders().Front(above.Max(), above))

	// the other side of the market is a different pair and never in range
	assert.Nil(t, s.Orders().Front(p.Invert().Max(), p.Invert()))
}

func TestOrderBook_AtOrBetter(t *testing.T) {
	s := NewStore()
	one := s.InsertOrder(sellUSD(1, 100, 100))
	two := s.InsertOrder(sellUSD(2, 200, 100))
	three := s.InsertOrder(sellUSD(1, 300, 100))
	twoLater := s.InsertOrder(sellUSD(3, 400, 200))

	p := asset.New(2, usd).Over(asset.New(1, core))
	assert.Equal(t, []OrderID{three, two, twoLater}, s.Orders().AtOrBetter(p))
	assert.Equal(t, []OrderID{three, two, twoLater, one}, s.Orders().AtOrBetter(asset.MinPrice(usd, core)))
	assert.Empty(t, s.Orders().AtOrBetter(asset.New(5, usd).Over(asset.New(1, core))))
	assert.Empty(t, s.Orders().AtOrBetter(p.Invert()))

	// the result is a copy and does not follow later removals
	ids := s.Orders().AtOrBetter(p)
	o, _ := s.Orders().Get(three)
	s.RemoveOrder(o)
	assert.Equal(t, []OrderID{three, two, twoLater}, ids)
	assert.Equal(t, []OrderID{two, twoLater}, s.Orders().AtOrBetter(p))
}

func TestOrderBook_BySeller(t *testing.T) {
	s := NewStore()
	a := s.InsertOrder(sellUSD(7, 100, 100))
	s.InsertOrder(sellUSD(8, 100, 100))
	c := s.InsertOrder(sellUSD(7, 300, 100))

	assert.Equal(t, []OrderID{a, c}, s.Orders().BySeller(7))
	assert.Empty(t, s.Orders().BySeller(9))

	s.Begin()
	o, _ := s.Orders().Get(a)
	s.RemoveOrder(o)
	assert.Equal(t, []OrderID{c}, s.Orders().BySeller(7))
	s.Rollback()
	assert.Equal(t, []OrderID{a, c}, s.Orders().BySeller(7))
}

func TestOrderBook_ExpiryAndIDIndexes(t *testing.T) {
	s := NewStore()
	a := &LimitOrder{Seller: 7, ForSale: 1, SellPrice: asset.New(1, usd).Over(asset.New(1, core)), Expiration: 50}
	b := &LimitOrder{Seller: 8, ForSale: 1, SellPrice: asset.New(1, usd).Over(asset.New(1, core)), Expiration: 10}
	c := &LimitOrder{Seller: 7, ForSale: 1, SellPrice: asset.New(1, usd).Over(asset.New(1, core))}
	s.InsertOrder(a)
	s.InsertOrder(b)
	s.InsertOrder(c)

	assert.Equal(t, []OrderID{b.ID}, s.Orders().Expired(10))
	assert.Equal(t, []OrderID{b.ID, a.ID}, s.Orders().Expired(100))

	assert.Equal(t, []OrderID{a.ID, b.ID}, s.Orders().From(a.ID, 2))
	assert.Equal(t, []OrderID{c.ID}, s.Orders().From(c.ID, 10))

	s.RemoveOrder(b)
	assert.Equal(t, []OrderID{a.ID, c.ID}, s.Orders().From(0, 10))
	assert.Empty(t, s.Orders().Expired(10))
}

func newCall(borrower ledger.AccountID, debt, collateral int64) *CallOrder {
	c := &CallOrder{
		Borrower:        borrower,
		Debt:            debt,
		DebtAsset:       usd,
		Collateral:      collateral,
		CollateralAsset: core,
	}
	c.UpdateCallPrice(DefaultMaintenanceCollateralRatio)
	return c
}

func TestCallIndex_LeastCollateralizedFirst(t *testing.T) {
	s := NewStore()
	safe := s.InsertCall(newCall(1, 100, 1000))
	risky := s.InsertCall(newCall(2, 100, 200))

	ids := s.Calls().ForDebtAsset(usd, core)
	assert.Equal(t, []CallID{risky, safe}, ids)

	c, ok := s.Calls().ByBorrower(2, usd)
	require.True(t, ok)
	assert.Equal(t, risky, c.ID)
}

func TestCallIndex_ModifyReprices(t *testing.T) {
	s := NewStore()
	a := newCall(1, 100, 1000)
	b := newCall(2, 100, 500)
	s.InsertCall(a)
	s.InsertCall(b)

	s.ModifyCall(a, func(c *CallOrder) {
		c.Collateral = 300
		c.UpdateCallPrice(DefaultMaintenanceCollateralRatio)
	})
	front := s.Calls().Front(asset.MinPrice(core, usd), asset.MaxPrice(core, usd))
	require.NotNil(t, front)
	assert.Equal(t, a.ID, front.ID)
}

func TestStore_RollbackRestoresEverything(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.CreateAsset(&Asset{ID: usd, Symbol: "USD"}))
	require.NoError(t, s.AdjustBalance(1, asset.New(500, usd)))
	kept := sellUSD(1, 100, 100)
	s.InsertOrder(kept)
	call := newCall(3, 100, 1000)
	s.InsertCall(call)
	before := s.Export()

	s.Begin()
	require.NoError(t, s.AdjustBalance(1, asset.New(-200, usd)))
	s.ModifyOrder(kept, func(o *LimitOrder) { o.ForSale = 10 })
	s.RemoveOrder(kept)
	s.InsertOrder(sellUSD(1, 5, 5))
	s.ModifyCall(call, func(c *CallOrder) {
		c.Debt = 50
		c.UpdateCallPrice(DefaultMaintenanceCollateralRatio)
	})
	s.RemoveCall(call)
	a, _ := s.Asset(usd)
	s.ModifyAsset(a, func(a *Asset) { a.Dynamic.CurrentSupply = 99 })
	s.ModifyStatistics(1, func(st *ledger.Statistics) { st.PayFee(4) })
	s.Rollback()

	assert.Equal(t, before, s.Export())
	assert.True(t, s.HasOrder(kept.ID))
	assert.Equal(t, int64(100), kept.ForSale)
}

func TestStore_CommitKeepsChanges(t *testing.T) {
	s := NewStore()
	s.Begin()
	require.NoError(t, s.AdjustBalance(1, asset.New(5, usd)))
	s.Commit()
	s.Rollback()
	assert.Equal(t, int64(5), s.Balance(1, usd).Amount)
}

func TestStore_NestedSessionPanics(t *testing.T) {
	s := NewStore()
	s.Begin()
	assert.Panics(t, func() { s.Begin() })
}

func TestStore_ModifyOrderRejectsIndexedFieldChange(t *testing.T) {
	s := NewStore()
	o := sellUSD(1, 100, 100)
	s.InsertOrder(o)
	assert.Panics(t, func() {
		s.ModifyOrder(o, func(o *LimitOrder) { o.SellPrice = asset.New(1, usd).Over(asset.New(5, core)) })
	})
}

func TestSnapshot_RestoreRoundTrip(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.CreateAsset(&Asset{ID: core, Symbol: "CORE"}))
	require.NoError(t, s.CreateAsset(&Asset{ID: usd, Symbol: "USD", Bitasset: &BitassetData{BackingAsset: core}}))
	s.InsertOrder(sellUSD(1, 100, 100))
	s.InsertCall(newCall(2, 100, 1000))
	s.InsertSettlement(&ForceSettlement{Owner: 4, Balance: asset.New(5, usd), SettlementDate: 10})
	require.NoError(t, s.AdjustBalance(4, asset.New(1, core)))

	restored, err := RestoreStore(s.Export())
	require.NoError(t, err)
	assert.Equal(t, s.Export(), restored.Export())

	// id allocation continues where it left off
	next := restored.InsertOrder(sellUSD(1, 1, 1))
	assert.Equal(t, OrderID(2), next)
}

func TestSettlementIndex_FrontPerAsset(t *testing.T) {
	s := NewStore()
	late := &ForceSettlement{Owner: 1, Balance: asset.New(5, usd), SettlementDate: 20}
	early := &ForceSettlement{Owner: 2, Balance: asset.New(5, usd), SettlementDate: 10}
	other := &ForceSettlement{Owner: 3, Balance: asset.New(5, 9), SettlementDate: 1}
	s.InsertSettlement(late)
	s.InsertSettlement(early)
	s.InsertSettlement(other)

	assert.Equal(t, early, s.Settlements().Front(usd))
	assert.Equal(t, []asset.ID{usd, 9}, s.Settlements().Assets())
	assert.Nil(t, s.Settlements().Front(core))
}

func TestPriceFeed_MaxShortSqueezePrice(t *testing.T) {
	f := PriceFeed{
		SettlementPrice:          asset.New(150, usd).Over(asset.New(100, core)),
		MaximumShortSqueezeRatio: 1500,
	}
	// 1.5 usd/core * 1000/1500 = 1 usd/core
	assert.True(t, f.MaxShortSqueezePrice().Equal(asset.New(1, usd).Over(asset.New(1, core))))
}

func TestValidateFeed(t *testing.T) {
	good := PriceFeed{
		SettlementPrice:            asset.New(1, usd).Over(asset.New(1, core)),
		MaintenanceCollateralRatio: DefaultMaintenanceCollateralRatio,
		MaximumShortSqueezeRatio:   DefaultMaximumShortSqueezeRatio,
	}
	assert.NoError(t, ValidateFeed(good, usd, core))
	assert.Error(t, ValidateFeed(good, core, usd))

	bad := good
	bad.MaintenanceCollateralRatio = 1000
	assert.Error(t, ValidateFeed(bad, usd, core))
}

func TestFeeScheduleManager(t *testing.T) {
	m := NewFeeScheduleManager()
	require.NoError(t, m.SetExchangeFeeRate(9, AssetPair{Receive: usd, Pay: core}, 25))
	assert.Equal(t, uint32(25), m.ExchangeFeeRate(9, usd, core))
	assert.Zero(t, m.ExchangeFeeRate(9, core, usd))
	assert.Zero(t, m.ExchangeFeeRate(8, usd, core))

	assert.Error(t, m.SetExchangeFeeRate(9, AssetPair{Receive: usd, Pay: core}, ExchangeRateScale))
	assert.Error(t, m.SetExchangeFeeRate(9, AssetPair{Receive: usd, Pay: usd}, 1))
}
