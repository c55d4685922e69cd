package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/event"
	"MarketLedger/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var feeReceiver = ledger.AccountID(6)

func sampleEnvelope() *event.EventEnvelope {
	env := &event.EventEnvelope{
		Sequence:       42,
		IdempotencyKey: "op-42",
		EventType:      event.EventTypeLimitOrderCreate,
		Timestamp:      time.Unix(1_700_000_000, 0).UTC(),
		SourceSequence: 40,
		Payload:        []byte(`{"seller":1}`),
		Vops: []event.VirtualOp{
			&event.OrderTolled{OrderID: 3, Seller: 2, Toll: asset.New(1, 0)},
			&event.FillOrder{
				Kind:     event.OrderKindLimit,
				OrderID:  7,
				Account:  1,
				Pays:     asset.New(100, 2),
				Receives: asset.New(50, 3),
				Fee:      asset.New(1, 3),
			},
			&event.FillOrder{
				Kind:                event.OrderKindLimit,
				OrderID:             9,
				Account:             4,
				Pays:                asset.New(50, 3),
				Receives:            asset.New(100, 2),
				FillPrice:           asset.New(50, 3).Over(asset.New(100, 2)),
				ExchangeFeeReceiver: &feeReceiver,
				ExchangeFeeRate:     200,
				ExchangeFee:         asset.New(2, 2),
			},
		},
	}
	env.StateHash[0] = 0xAB
	env.PrevHash[31] = 0xCD
	return env
}

func TestNewCoreOutput_FlattensFills(t *testing.T) {
	out, err := NewCoreOutput(sampleEnvelope())
	require.NoError(t, err)

	assert.Equal(t, "LimitOrderCreate", out.EventRow.EventType)
	assert.Nil(t, out.EventRow.Rejection)
	require.Len(t, out.FillRows, 2)

	f := out.FillRows[0]
	assert.Equal(t, FillID(42, 1), f.FillID, "id follows the vop index")
	assert.Equal(t, "limit", f.Kind)
	assert.Equal(t, int64(100), f.PaysAmount)
	assert.Equal(t, uint32(3), f.ReceivesAsset)
	assert.Equal(t, int64(1), f.FeeAmount)
	assert.Nil(t, f.ExchangeFeeReceiver)

	withFee := out.FillRows[1]
	require.NotNil(t, withFee.ExchangeFeeReceiver)
	assert.Equal(t, int64(6), *withFee.ExchangeFeeReceiver)
	assert.Equal(t, uint32(200), withFee.ExchangeFeeRate)
	assert.Equal(t, int64(2), withFee.ExchangeFeeAmount)
}

func TestEventRow_EnvelopeRoundTrip(t *testing.T) {
	env := sampleEnvelope()
	env.Rejection = "insufficient balance"
	out, err := NewCoreOutput(env)
	require.NoError(t, err)

	back, err := out.EventRow.Envelope()
	require.NoError(t, err)
	assert.Equal(t, env.StateHash, back.StateHash)
	assert.Equal(t, env.PrevHash, back.PrevHash)
	assert.Equal(t, env.Rejection, back.Rejection)
	assert.Equal(t, env.EventType, back.EventType)
	assert.Equal(t, env.Vops, back.Vops)
}

func TestFillID_Deterministic(t *testing.T) {
	assert.Equal(t, FillID(1, 0), FillID(1, 0))
	assert.NotEqual(t, FillID(1, 0), FillID(1, 1))
	assert.NotEqual(t, FillID(1, 0), FillID(2, 0))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "($1, $2, $3)", placeholders(0, 3))
	assert.Equal(t, "($11, $12)", placeholders(10, 2))
}

func TestMigrator_ListsUpFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"000002_fills.up.sql", "000001_event_log.up.sql", "000001_event_log.down.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o600))
	}
	m := &Migrator{migrationsDir: dir}

	files, err := m.listMigrationFiles(".up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_event_log.up.sql", "000002_fills.up.sql"}, files)
	assert.Equal(t, "000002", extractVersion(files[1]))
}
