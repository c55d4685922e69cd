package persistence_test

import (
	"context"
	"testing"
	"time"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/event"
	"MarketLedger/internal/persistence"
	"MarketLedger/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loggedEnvelope(seq int64, key string) *event.EventEnvelope {
	env := &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: key,
		EventType:      event.EventTypeLimitOrderCreate,
		Timestamp:      time.Unix(1_700_000_000+seq, 0).UTC(),
		SourceSequence: seq,
		Payload:        []byte(`{"seller":1}`),
		Vops: []event.VirtualOp{
			&event.FillOrder{
				Kind:     event.OrderKindLimit,
				OrderID:  uint64(seq),
				Account:  1,
				Pays:     asset.New(10, 0),
				Receives: asset.New(5, 1),
				Fee:      asset.New(0, 1),
			},
		},
	}
	env.StateHash[0] = byte(seq + 1)
	env.PrevHash[0] = byte(seq)
	return env
}

func TestPostgres_WriteReplayAndSnapshot(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	in := make(chan persistence.CoreOutput, 4)
	worker := persistence.NewPersistenceWorker(db, in, 10, 5*time.Millisecond, zerolog.Nop(), nil)
	for seq, key := range []string{"a", "b"} {
		out, err := persistence.NewCoreOutput(loggedEnvelope(int64(seq), key))
		require.NoError(t, err)
		in <- out
	}
	close(in)
	require.NoError(t, worker.Run(ctx))

	sm := persistence.NewSnapshotManager(db)
	rows, err := sm.LoadEventsFrom(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	env, err := rows[1].Envelope()
	require.NoError(t, err)
	assert.Equal(t, loggedEnvelope(1, "b").StateHash, env.StateHash)
	require.Len(t, env.Vops, 1)

	latest, err := sm.GetLatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest)

	keys, err := sm.LoadRecentKeys(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"LimitOrderCreate:a", "LimitOrderCreate:b"}, keys)

	dup, err := persistence.NewPostgresIdempotencyChecker(db).IsDuplicate("LimitOrderCreate", "a")
	require.NoError(t, err)
	assert.True(t, dup)

	snap, err := sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap, "nothing saved yet")

	_, err = sm.SaveSnapshot(ctx, 1, env.StateHash[:], map[string]int{"x": 1})
	require.NoError(t, err)
	snap, err = sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap, "unverified snapshots are ignored")

	require.NoError(t, sm.MarkVerified(ctx, 1))
	snap, err = sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(1), snap.Sequence)
	assert.JSONEq(t, `{"x":1}`, string(snap.Data))
}
