package state

import (
	"testing"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditSupply_CountsEveryHolding(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.CreateAsset(&Asset{ID: core, Symbol: "CORE", MaxSupply: asset.MaxShareSupply}))
	require.NoError(t, s.CreateAsset(&Asset{
		ID: usd, Symbol: "USD", MaxSupply: asset.MaxShareSupply,
		Bitasset: &BitassetData{BackingAsset: core},
	}))

	coreAsset, _ := s.Asset(core)
	usdAsset, _ := s.Asset(usd)

	// 1000 core deposited, 300 posted as collateral for 100 usd
	require.NoError(t, s.AdjustBalance(1, asset.New(700, core)))
	s.InsertCall(&CallOrder{Borrower: 1, Debt: 100, DebtAsset: usd, Collateral: 300, CollateralAsset: core})
	require.NoError(t, s.AdjustBalance(1, asset.New(60, usd)))

	// 30 usd for sale, 10 usd pending settlement
	s.InsertOrder(&LimitOrder{Seller: 1, ForSale: 30, SellPrice: asset.New(30, usd).Over(asset.New(30, core))})
	s.InsertSettlement(&ForceSettlement{Owner: 1, Balance: asset.New(10, usd), SettlementDate: 5})

	s.ModifyAsset(coreAsset, func(a *Asset) { a.Dynamic.CurrentSupply = 1000 })
	s.ModifyAsset(usdAsset, func(a *Asset) { a.Dynamic.CurrentSupply = 100 })
	require.NoError(t, s.AuditSupply())

	// a unit that appears from nowhere is caught
	require.NoError(t, s.AdjustBalance(2, asset.New(1, usd)))
	err := s.AuditSupply()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "asset 1")
}

func TestAuditSupply_SettlementFundAndFees(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.CreateAsset(&Asset{ID: core, Symbol: "CORE"}))
	require.NoError(t, s.CreateAsset(&Asset{
		ID: usd, Symbol: "USD",
		Bitasset: &BitassetData{BackingAsset: core, Settled: true, SettlementFund: 40},
	}))
	coreAsset, _ := s.Asset(core)
	usdAsset, _ := s.Asset(usd)

	require.NoError(t, s.AdjustBalance(1, asset.New(50, usd)))
	require.NoError(t, s.AdjustBalance(1, asset.New(55, core)))
	s.ModifyAsset(usdAsset, func(a *Asset) {
		a.Dynamic.CurrentSupply = 52
		a.Dynamic.AccumulatedFees = 2
	})
	s.ModifyAsset(coreAsset, func(a *Asset) { a.Dynamic.CurrentSupply = 100 })
	s.ModifyStatistics(1, func(st *ledger.Statistics) { st.PayFee(5) })

	assert.NoError(t, s.AuditSupply())
}

func TestAuditCoreInOrders_MatchesBookAndCollateral(t *testing.T) {
	s := NewStore()
	sellCore := func(seller ledger.AccountID, amount int64) *LimitOrder {
		return &LimitOrder{Seller: seller, ForSale: amount, SellPrice: asset.New(amount, core).Over(asset.New(amount, usd))}
	}

	s.InsertOrder(sellCore(1, 40))
	s.InsertOrder(sellCore(1, 60))
	s.InsertOrder(sellUSD(1, 500, 100)) // usd for sale does not count
	s.InsertCall(newCall(1, 100, 300))
	s.InsertCall(newCall(2, 10, 50))
	s.ModifyStatistics(1, func(st *ledger.Statistics) { st.CoreInOrders = 400 })
	s.ModifyStatistics(2, func(st *ledger.Statistics) { st.CoreInOrders = 50 })
	require.NoError(t, s.AuditCoreInOrders())

	s.ModifyStatistics(2, func(st *ledger.Statistics) { st.CoreInOrders++ })
	err := s.AuditCoreInOrders()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account 2")
}

func TestAuditCoreInOrders_CollateralWithoutStatistics(t *testing.T) {
	s := NewStore()
	s.InsertCall(newCall(3, 10, 50))

	err := s.AuditCoreInOrders()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account 3")
}
