package ingestion

import (
	"context"

	"MarketLedger/internal/event"
)

// Submission is an operation injected through the admin API. The core loop
// sends the outcome of ProcessEvent on Result.
type Submission struct {
	Event  event.Event
	Result chan<- error
}

// GRPCIngestService provides admin/manual operation injection. It is not
// a high-throughput path; bulk traffic goes through NATS.
type GRPCIngestService struct {
	submitChan chan<- Submission
}

func NewGRPCIngestService(submitChan chan<- Submission) *GRPCIngestService {
	return &GRPCIngestService{submitChan: submitChan}
}

// Inject decodes payload as an operation of eventType, hands it to the
// core and waits for the outcome. Rejections come back as errors.
func (s *GRPCIngestService) Inject(ctx context.Context, eventType string, payload []byte) error {
	evt, err := ParseRawEvent(RawEvent{Subject: SubjectPrefix + eventType, Data: payload}, eventType)
	if err != nil {
		return err
	}

	result := make(chan error, 1)
	select {
	case s.submitChan <- Submission{Event: evt, Result: result}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
