package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"MarketLedger/internal/event"

	"github.com/google/uuid"
)

// fillNamespace seeds deterministic fill ids, so a re-written batch maps
// onto the same rows.
var fillNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("marketledger.fills"))

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes operations and fills to Postgres using multi-row INSERT.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Payload        []byte // JSON-encoded operation
	Vops           []byte // JSON-encoded virtual operations
	Rejection      *string
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// FillRow represents a row in event_log.fills
type FillRow struct {
	FillID         uuid.UUID
	Sequence       int64
	Kind           string
	OrderID        uint64
	Account        uint64
	PaysAsset      uint32
	PaysAmount     int64
	ReceivesAsset  uint32
	ReceivesAmount int64
	FeeAsset       uint32
	FeeAmount      int64

	// ExchangeFeeReceiver is nil when the order named no receiver.
	ExchangeFeeReceiver *int64
	ExchangeFeeRate     uint32
	ExchangeFeeAmount   int64
	Timestamp           time.Time
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of operations to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, events []EventRow, ex execer) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, payload, vops, rejection, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	const cols = 10
	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*cols)
	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Payload, e.Vops,
			e.Rejection, e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteFillBatch writes fills to event_log.fills.
func (w *EventLogWriter) WriteFillBatch(ctx context.Context, fills []FillRow, ex execer) error {
	if len(fills) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.fills
		(fill_id, sequence, kind, order_id, account, pays_asset, pays_amount,
		 receives_asset, receives_amount, fee_asset, fee_amount,
		 exchange_fee_receiver, exchange_fee_rate, exchange_fee_amount, timestamp)
		VALUES `

	const cols = 15
	values := make([]string, 0, len(fills))
	args := make([]any, 0, len(fills)*cols)
	for i, f := range fills {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			f.FillID, f.Sequence, f.Kind, int64(f.OrderID), int64(f.Account),
			int64(f.PaysAsset), f.PaysAmount, int64(f.ReceivesAsset), f.ReceivesAmount,
			int64(f.FeeAsset), f.FeeAmount,
			f.ExchangeFeeReceiver, int64(f.ExchangeFeeRate), f.ExchangeFeeAmount, f.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (fill_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+i)
	}
	b.WriteByte(')')
	return b.String()
}

// NewCoreOutput flattens a logged envelope into rows.
func NewCoreOutput(env *event.EventEnvelope) (CoreOutput, error) {
	vops, err := event.MarshalVops(env.Vops)
	if err != nil {
		return CoreOutput{}, fmt.Errorf("seq %d: %w", env.Sequence, err)
	}
	out := CoreOutput{
		EventRow: EventRow{
			Sequence:       env.Sequence,
			EventType:      env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Payload:        env.Payload,
			Vops:           vops,
			StateHash:      append([]byte(nil), env.StateHash[:]...),
			PrevHash:       append([]byte(nil), env.PrevHash[:]...),
			Timestamp:      env.Timestamp,
			SourceSequence: env.SourceSequence,
		},
	}
	if env.Rejection != "" {
		r := env.Rejection
		out.EventRow.Rejection = &r
	}

	for i, op := range env.Vops {
		f, ok := op.(*event.FillOrder)
		if !ok {
			continue
		}
		row := FillRow{
			FillID:            FillID(env.Sequence, i),
			Sequence:          env.Sequence,
			Kind:              f.Kind.String(),
			OrderID:           f.OrderID,
			Account:           uint64(f.Account),
			PaysAsset:         uint32(f.Pays.AssetID),
			PaysAmount:        f.Pays.Amount,
			ReceivesAsset:     uint32(f.Receives.AssetID),
			ReceivesAmount:    f.Receives.Amount,
			FeeAsset:          uint32(f.Fee.AssetID),
			FeeAmount:         f.Fee.Amount,
			ExchangeFeeRate:   f.ExchangeFeeRate,
			ExchangeFeeAmount: f.ExchangeFee.Amount,
			Timestamp:         env.Timestamp,
		}
		if f.ExchangeFeeReceiver != nil {
			receiver := int64(*f.ExchangeFeeReceiver)
			row.ExchangeFeeReceiver = &receiver
		}
		out.FillRows = append(out.FillRows, row)
	}
	return out, nil
}

// FillID is the id of the vop at index in the operation at seq.
func FillID(seq int64, index int) uuid.UUID {
	return uuid.NewSHA1(fillNamespace, []byte(fmt.Sprintf("%d:%d", seq, index)))
}

// Envelope rebuilds the logged envelope from a stored row.
func (e EventRow) Envelope() (*event.EventEnvelope, error) {
	et, err := event.ParseEventType(e.EventType)
	if err != nil {
		return nil, fmt.Errorf("seq %d: %w", e.Sequence, err)
	}
	vops, err := event.UnmarshalVops(e.Vops)
	if err != nil {
		return nil, fmt.Errorf("seq %d: %w", e.Sequence, err)
	}
	env := &event.EventEnvelope{
		Sequence:       e.Sequence,
		IdempotencyKey: e.IdempotencyKey,
		EventType:      et,
		Timestamp:      e.Timestamp.UTC(),
		SourceSequence: e.SourceSequence,
		Payload:        e.Payload,
		Vops:           vops,
	}
	if e.Rejection != nil {
		env.Rejection = *e.Rejection
	}
	if len(e.StateHash) != len(env.StateHash) || len(e.PrevHash) != len(env.PrevHash) {
		return nil, fmt.Errorf("seq %d: malformed hash", e.Sequence)
	}
	copy(env.StateHash[:], e.StateHash)
	copy(env.PrevHash[:], e.PrevHash)
	return env, nil
}
