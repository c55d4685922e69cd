package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for operation payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeAssetCreate
	EventTypeDeposit
	EventTypeLimitOrderCreate
	EventTypeLimitOrderCancel
	EventTypeCallOrderUpdate
	EventTypePriceFeedPublish
	EventTypeAssetSettle
	EventTypeAssetGlobalSettle
	EventTypeDeflationStart
	EventTypeMaintenance
)

var eventTypeNames = map[EventType]string{
	EventTypeAssetCreate:       "AssetCreate",
	EventTypeDeposit:           "Deposit",
	EventTypeLimitOrderCreate:  "LimitOrderCreate",
	EventTypeLimitOrderCancel:  "LimitOrderCancel",
	EventTypeCallOrderUpdate:   "CallOrderUpdate",
	EventTypePriceFeedPublish:  "PriceFeedPublish",
	EventTypeAssetSettle:       "AssetSettle",
	EventTypeAssetGlobalSettle: "AssetGlobalSettle",
	EventTypeDeflationStart:    "DeflationStart",
	EventTypeMaintenance:       "Maintenance",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType is the inverse of String.
func ParseEventType(name string) (EventType, error) {
	for et, n := range eventTypeNames {
		if n == name {
			return et, nil
		}
	}
	return EventTypeUnknown, fmt.Errorf("unknown event type: %s", name)
}

// PartitionOps is the sequence partition shared by all ordered operations.
const PartitionOps = "ops"

// EventEnvelope wraps every applied operation in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	// Head time of the operation (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded operation
	Payload []byte

	// Virtual operations produced while applying the operation
	Vops []VirtualOp

	// Set when the operation was rejected; a rejected operation changes no state
	Rejection string

	// SHA-256 over the previous hash and this envelope's content
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all operations implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// Partition returns the sequence partition the operation is ordered in
	Partition() string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// HeadTime is the deterministic time the operation applies at, in unix seconds
	HeadTime() int64
}

// Header carries the fields every operation shares.
type Header struct {
	OpID     uuid.UUID `json:"op_id"`
	Sequence int64     `json:"sequence"`
	Time     int64     `json:"time"`
}

func (h Header) IdempotencyKey() string {
	return h.OpID.String()
}

func (h Header) Partition() string {
	return PartitionOps
}

func (h Header) SourceSequence() int64 {
	return h.Sequence
}

func (h Header) HeadTime() int64 {
	return h.Time
}
