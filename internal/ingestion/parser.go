package ingestion

import (
	"errors"
	"fmt"
	"strings"

	"MarketLedger/internal/event"

	"github.com/google/uuid"
)

// SubjectPrefix is the inbound subject namespace; the last token names the
// operation type, e.g. market.ops.LimitOrderCreate.
const SubjectPrefix = "market.ops."

// ErrMalformed marks input that can never be applied: unknown type, bad
// JSON or a missing header. Redelivering it cannot help.
var ErrMalformed = errors.New("malformed operation")

// EventTypeFromSubject resolves the operation type carried by a subject.
func EventTypeFromSubject(subject string) (string, error) {
	name, ok := strings.CutPrefix(subject, SubjectPrefix)
	if !ok || name == "" || strings.Contains(name, ".") {
		return "", fmt.Errorf("%w: subject %q", ErrMalformed, subject)
	}
	return name, nil
}

// ParseRawEvent converts the JSON payload of raw into a typed operation.
// Only the envelope is checked here; business rules are enforced by the
// core, which logs a rejected operation so its sequence is still consumed.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	et, err := event.ParseEventType(eventType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	evt, err := event.Decode(et, raw.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := validateHeader(evt); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, eventType, err)
	}
	return evt, nil
}

func validateHeader(evt event.Event) error {
	key := evt.IdempotencyKey()
	if key == "" || key == uuid.Nil.String() {
		return errors.New("missing op_id")
	}
	if evt.SourceSequence() < 0 {
		return fmt.Errorf("negative sequence %d", evt.SourceSequence())
	}
	if evt.HeadTime() <= 0 {
		return fmt.Errorf("missing time")
	}
	return nil
}
