package core

import (
	"fmt"
	"strings"

	"MarketLedger/internal/event"
	"MarketLedger/internal/observability"
)

// feedPartitionPrefix marks partitions where gaps are tolerated: a feed
// replaces the previous one, so a missed feed is superseded by the next.
const feedPartitionPrefix = "feed:"

// SequenceValidator validates source sequences per partition.
// Not thread-safe — only accessed from the single-threaded deterministic core.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         metrics,
	}
}

// Validate checks source sequence ordering. It reports stale=true for a
// feed older than one already applied, which the caller drops.
func (sv *SequenceValidator) Validate(
	partition string,
	sourceSequence int64,
	isDuplicate bool,
) (stale bool, err error) {
	if strings.HasPrefix(partition, feedPartitionPrefix) {
		return sv.validateFeed(partition, sourceSequence), nil
	}

	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			return false, nil
		}
		if sv.metrics != nil {
			sv.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
		}
		return false, fmt.Errorf("out-of-order event: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		sv.expectedNextSeq[partition] = expected + 1
		return false, nil
	}

	if sv.metrics != nil {
		sv.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
	}
	return false, fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
		partition, expected, sourceSequence)
}

func (sv *SequenceValidator) validateFeed(partition string, seq int64) bool {
	expected := sv.expectedNextSeq[partition]
	if seq < expected {
		return true
	}
	if seq > expected && sv.metrics != nil {
		sv.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
	}
	sv.expectedNextSeq[partition] = seq + 1
	return false
}

// Partitions copies the expected sequence of every partition.
func (sv *SequenceValidator) Partitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for p, seq := range sv.expectedNextSeq {
		out[p] = seq
	}
	return out
}

// RestorePartition sets the expected sequence (used during recovery)
func (sv *SequenceValidator) RestorePartition(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// partitionOf is the partition an operation is ordered in.
func partitionOf(evt event.Event) string {
	if p := evt.Partition(); p != "" {
		return p
	}
	return event.PartitionOps
}
