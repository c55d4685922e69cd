package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"MarketLedger/internal/event"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// FillsStream carries fills for downstream consumers.
	FillsStream = "MARKET_FILLS"
	// FillsSubjectPrefix is followed by the account id.
	FillsSubjectPrefix = "market.fills."
)

// fillMsgNamespace derives JetStream message ids so a republished fill is
// deduplicated by the server.
var fillMsgNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("marketledger.fills.msg"))

// PublishableFill is one fill as published on market.fills.<account>.
type PublishableFill struct {
	Sequence  int64            `json:"sequence"`
	Index     int              `json:"index"`
	EventType string           `json:"event_type"`
	Fill      *event.FillOrder `json:"fill"`
	Timestamp time.Time        `json:"timestamp"`
}

// MsgID is the deduplication id of the fill.
func (f PublishableFill) MsgID() string {
	return uuid.NewSHA1(fillMsgNamespace, []byte(fmt.Sprintf("%d:%d", f.Sequence, f.Index))).String()
}

// Subject is the subject the fill is published on.
func (f PublishableFill) Subject() string {
	return fmt.Sprintf("%s%d", FillsSubjectPrefix, f.Fill.Account)
}

// FillsFromEnvelope extracts the fills of a logged operation.
func FillsFromEnvelope(env *event.EventEnvelope) []PublishableFill {
	var out []PublishableFill
	for i, op := range env.Vops {
		f, ok := op.(*event.FillOrder)
		if !ok {
			continue
		}
		out = append(out, PublishableFill{
			Sequence:  env.Sequence,
			Index:     i,
			EventType: env.EventType.String(),
			Fill:      f,
			Timestamp: env.Timestamp,
		})
	}
	return out
}

// OutboundPublisher publishes fills to NATS for downstream consumers.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableFill
	logger    zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableFill, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case f, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, f); err != nil {
				// downstream can read event_log.fills instead
				op.logger.Warn().Err(err).Int64("seq", f.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, f PublishableFill) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal fill: %w", err)
	}
	_, err = op.js.Publish(ctx, f.Subject(), data, jetstream.WithMsgID(f.MsgID()))
	return err
}

// EnsureOutboundStream creates the outbound fills stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       FillsStream,
		Subjects:   []string{FillsSubjectPrefix + ">"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", FillsStream).Msg("ensured outbound stream")
	return nil
}
