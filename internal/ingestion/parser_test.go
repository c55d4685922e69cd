package ingestion_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"MarketLedger/internal/asset"
	"MarketLedger/internal/event"
	"MarketLedger/internal/ingestion"
	"MarketLedger/internal/ledger"
)

const limitOrderJSON = `{
	"op_id": "550e8400-e29b-41d4-a716-446655440000",
	"sequence": 42,
	"time": 1700000000,
	"seller": 7,
	"amount_to_sell": {"amount": 1000, "asset_id": 0},
	"min_to_receive": {"amount": 250, "asset_id": 1},
	"expiration": 1800000000
}`

func raw(data string) ingestion.RawEvent {
	return ingestion.RawEvent{
		Subject:   ingestion.SubjectPrefix + "test",
		Data:      []byte(data),
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
		TermFunc:  func() {},
	}
}

func TestParseLimitOrderCreate(t *testing.T) {
	evt, err := ingestion.ParseRawEvent(raw(limitOrderJSON), "LimitOrderCreate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	o, ok := evt.(*event.LimitOrderCreate)
	if !ok {
		t.Fatalf("expected *event.LimitOrderCreate, got %T", evt)
	}
	if o.Seller != ledger.AccountID(7) {
		t.Errorf("seller: got %d, want 7", o.Seller)
	}
	if o.AmountToSell != asset.New(1000, 0) {
		t.Errorf("amount_to_sell: got %v", o.AmountToSell)
	}
	if o.MinToReceive.AssetID != 1 {
		t.Errorf("min_to_receive asset: got %d, want 1", o.MinToReceive.AssetID)
	}
	if o.SourceSequence() != 42 {
		t.Errorf("sequence: got %d, want 42", o.SourceSequence())
	}
	if o.IdempotencyKey() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("idempotency key: got %s", o.IdempotencyKey())
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []struct {
		name, eventType, data string
	}{
		{"unknown type", "TradeFill", limitOrderJSON},
		{"bad json", "LimitOrderCreate", `{"seller":`},
		{"missing op id", "Maintenance", `{"sequence": 1, "time": 5}`},
		{"missing time", "Maintenance", `{"op_id": "550e8400-e29b-41d4-a716-446655440000", "sequence": 1}`},
		{"negative sequence", "Maintenance", `{"op_id": "550e8400-e29b-41d4-a716-446655440000", "sequence": -1, "time": 5}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ingestion.ParseRawEvent(raw(c.data), c.eventType)
			if !errors.Is(err, ingestion.ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestParseFeedUsesAssetPartition(t *testing.T) {
	evt, err := ingestion.ParseRawEvent(raw(`{
		"op_id": "660e8400-e29b-41d4-a716-446655440001",
		"sequence": 3,
		"time": 1700000000,
		"asset_id": 4,
		"settlement_price": {"base": {"amount": 1, "asset_id": 4}, "quote": {"amount": 2, "asset_id": 0}},
		"maintenance_collateral_ratio": 1750,
		"maximum_short_squeeze_ratio": 1500
	}`), "PriceFeedPublish")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := evt.Partition(); got != "feed:4" {
		t.Errorf("partition: got %s, want feed:4", got)
	}
}

func TestEventTypeFromSubject(t *testing.T) {
	got, err := ingestion.EventTypeFromSubject("market.ops.AssetSettle")
	if err != nil || got != "AssetSettle" {
		t.Fatalf("got %q, %v", got, err)
	}
	for _, bad := range []string{"market.ops.", "perp.trades.x", "market.ops.a.b"} {
		if _, err := ingestion.EventTypeFromSubject(bad); !errors.Is(err, ingestion.ErrMalformed) {
			t.Errorf("%s: expected ErrMalformed, got %v", bad, err)
		}
	}
}

func TestInjectWaitsForOutcome(t *testing.T) {
	submit := make(chan ingestion.Submission, 1)
	svc := ingestion.NewGRPCIngestService(submit)

	rejected := errors.New("insufficient balance")
	go func() {
		s := <-submit
		if _, ok := s.Event.(*event.LimitOrderCreate); !ok {
			s.Result <- errors.New("wrong type")
			return
		}
		s.Result <- rejected
	}()

	err := svc.Inject(context.Background(), "LimitOrderCreate", []byte(limitOrderJSON))
	if !errors.Is(err, rejected) {
		t.Fatalf("expected core outcome, got %v", err)
	}
}

func TestInjectMalformedNeverReachesCore(t *testing.T) {
	submit := make(chan ingestion.Submission)
	svc := ingestion.NewGRPCIngestService(submit)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Inject(ctx, "LimitOrderCreate", []byte(`nope`)); !errors.Is(err, ingestion.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestFillsFromEnvelope(t *testing.T) {
	env := &event.EventEnvelope{
		Sequence:  9,
		EventType: event.EventTypeLimitOrderCreate,
		Vops: []event.VirtualOp{
			&event.OrderTolled{OrderID: 1},
			&event.FillOrder{OrderID: 2, Account: 11},
			&event.FillOrder{OrderID: 3, Account: 12},
		},
	}
	fills := ingestion.FillsFromEnvelope(env)
	if len(fills) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(fills))
	}
	if fills[0].Index != 1 || fills[0].Subject() != "market.fills.11" {
		t.Errorf("first fill: index %d subject %s", fills[0].Index, fills[0].Subject())
	}
	if fills[0].MsgID() == fills[1].MsgID() {
		t.Error("message ids must differ per fill")
	}
}
