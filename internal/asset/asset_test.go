package asset

import (
	"testing"

	fp "MarketLedger/internal/math"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	usd ID = 1
	btc ID = 2
)

func TestAmount_AddSubRequireSameAsset(t *testing.T) {
	sum, err := New(5, usd).Add(New(7, usd))
	require.NoError(t, err)
	assert.Equal(t, New(12, usd), sum)

	_, err = New(5, usd).Add(New(7, btc))
	assert.ErrorIs(t, err, ErrAssetMismatch)

	_, err = New(5, usd).Sub(New(7, btc))
	assert.ErrorIs(t, err, ErrAssetMismatch)
}

func TestAmount_CmpPanicsOnMismatch(t *testing.T) {
	assert.Equal(t, -1, New(1, usd).Cmp(New(2, usd)))
	assert.Panics(t, func() { New(1, usd).Cmp(New(1, btc)) })
}

func TestAmount_MulConvertsBothDirections(t *testing.T) {
	// 2 usd per 1 btc
	p := New(2, usd).Over(New(1, btc))

	got, err := New(100, usd).Mul(p)
	require.NoError(t, err)
	assert.Equal(t, New(50, btc), got)

	got, err = New(40, btc).Mul(p)
	require.NoError(t, err)
	assert.Equal(t, New(80, usd), got)
}

func TestAmount_MulRoundsDown(t *testing.T) {
	p := New(3, usd).Over(New(1, btc))
	got, err := New(5, usd).Mul(p)
	require.NoError(t, err)
	assert.Equal(t, New(1, btc), got)

	got, err = New(2, usd).Mul(p)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Amount)
}

func TestAmount_MulRejectsForeignAsset(t *testing.T) {
	p := New(2, usd).Over(New(1, btc))
	_, err := New(1, 9).Mul(p)
	assert.ErrorIs(t, err, ErrAssetMismatch)
}

func TestAmount_MulOverflowFailsLoudly(t *testing.T) {
	p := MaxPrice(usd, btc)
	_, err := New(MaxShareSupply, btc).Mul(p)
	assert.ErrorIs(t, err, fp.ErrOverflow)
}

func TestPrice_EqualityIsCrossMultiplication(t *testing.T) {
	a := New(2, usd).Over(New(1, btc))
	b := New(200, usd).Over(New(100, btc))
	assert.True(t, a.Equal(b))
	assert.NotEqual(t, a, b)
}

func TestPrice_OrderingAndBounds(t *testing.T) {
	low := New(1, usd).Over(New(1, btc))
	high := New(3, usd).Over(New(2, btc))
	assert.True(t, low.Less(high))
	assert.True(t, high.Greater(low))
	assert.Equal(t, high, MaxOf(low, high))

	assert.True(t, low.Max().Greater(high))
	assert.True(t, MinPrice(usd, btc).Less(low))

	// asset ids order first
	other := New(1, btc).Over(New(1_000_000, usd))
	assert.True(t, high.Less(other))
}

func TestPrice_Invert(t *testing.T) {
	p := New(2, usd).Over(New(1, btc))
	inv := p.Invert()
	assert.Equal(t, btc, inv.Base.AssetID)
	assert.Equal(t, p, inv.Invert())
}

func TestPrice_Validate(t *testing.T) {
	assert.NoError(t, New(2, usd).Over(New(1, btc)).Validate())
	assert.ErrorIs(t, New(0, usd).Over(New(1, btc)).Validate(), ErrInvalidPrice)
	assert.ErrorIs(t, New(1, usd).Over(New(1, usd)).Validate(), ErrInvalidPrice)
	assert.True(t, Price{}.IsNull())
}

func TestCallPrice(t *testing.T) {
	// debt 100 usd, collateral 350 btc, ratio 1.75:
	// call price = collateral / (debt * 1.75) = 2 btc per usd
	cp := CallPrice(New(100, usd), New(350, btc), 1750)
	assert.Equal(t, btc, cp.Base.AssetID)
	assert.Equal(t, usd, cp.Quote.AssetID)
	assert.True(t, cp.Equal(New(350, btc).Over(New(175, usd))))

	// less collateral means a lower call price
	weaker := CallPrice(New(100, usd), New(200, btc), 1750)
	assert.True(t, weaker.Less(cp))
}
