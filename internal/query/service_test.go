package query

import (
	"testing"
	"time"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/event"
	"MarketLedger/internal/ledger"
	"MarketLedger/internal/projection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRatioString(t *testing.T) {
	cases := []struct {
		quote, base int64
		want        string
	}{
		{quote: 100, base: 50, want: "2"},
		{quote: 1, base: 3, want: "0.33333333"},
		{quote: 2, base: 3, want: "0.66666667"},
		{quote: 7, base: 0, want: "0"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, RatioString(c.quote, c.base), "%d/%d", c.quote, c.base)
	}
}

func TestFillsFromHistory(t *testing.T) {
	history := projection.NewFillHistory(8)
	for seq := int64(1); seq <= 3; seq++ {
		history.Add(projection.FillEntry{
			Sequence:  seq,
			Kind:      event.OrderKindLimit,
			Account:   5,
			Pays:      asset.New(3, 0),
			Receives:  asset.New(seq, 1),
			Timestamp: time.Unix(seq, 0),
		})
	}
	qs := NewQueryService(nil, history, nil)

	fills := qs.fillsFromHistory(5, 2, 9)
	require.Len(t, fills, 2)
	assert.Equal(t, int64(3), fills[0].Sequence)
	assert.Equal(t, "1", fills[0].Price)
	assert.Equal(t, "0.66666667", fills[1].Price)
	assert.Equal(t, int64(9), fills[0].AsOfSequence)
	assert.Equal(t, "limit", fills[0].Kind)
	assert.Equal(t, uint32(1), fills[0].ReceivesAsset)
}

func TestFillsFromHistory_ExchangeFee(t *testing.T) {
	history := projection.NewFillHistory(4)
	receiver := ledger.AccountID(12)
	history.Add(projection.FillEntry{
		Sequence:            1,
		Kind:                event.OrderKindLimit,
		Account:             5,
		Pays:                asset.New(100, 0),
		Receives:            asset.New(200, 1),
		ExchangeFeeReceiver: &receiver,
		ExchangeFeeRate:     250,
		ExchangeFee:         asset.New(5, 1),
	})
	history.Add(projection.FillEntry{Sequence: 2, Kind: event.OrderKindCall, Account: 5})
	qs := NewQueryService(nil, history, nil)

	fills := qs.fillsFromHistory(5, 2, 2)
	require.Len(t, fills, 2)
	assert.Nil(t, fills[0].ExchangeFeeReceiver)
	assert.Zero(t, fills[0].ExchangeFeeAmount)

	require.NotNil(t, fills[1].ExchangeFeeReceiver)
	assert.Equal(t, uint64(12), *fills[1].ExchangeFeeReceiver)
	assert.Equal(t, uint32(250), fills[1].ExchangeFeeRate)
	assert.Equal(t, int64(5), fills[1].ExchangeFeeAmount)
}
