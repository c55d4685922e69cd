package main

import (
	"context"
	"errors"
	"fmt"

	"MarketLedger/internal/core"
	"MarketLedger/internal/ingestion"
	"MarketLedger/internal/observability"
	"MarketLedger/internal/persistence"

	"github.com/rs/zerolog"
)

type snapshotResult struct {
	sequence int64
	err      error
}

type snapshotRequest struct {
	reply chan snapshotResult
}

// snapshotTrigger lets the admin API request a snapshot from the core loop.
func snapshotTrigger(reqs chan<- snapshotRequest) func(ctx context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		req := snapshotRequest{reply: make(chan snapshotResult, 1)}
		select {
		case reqs <- req:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		select {
		case res := <-req.reply:
			return res.sequence, res.err
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// coreLoop owns the core. Every operation and every snapshot runs on its
// goroutine, so snapshots always see the state between two operations.
type coreLoop struct {
	core             *core.DeterministicCore
	snapMgr          *persistence.SnapshotManager
	snapshotInterval int64
	lastSnapshotSeq  int64
	metrics          *observability.Metrics
	logger           zerolog.Logger
}

func (l *coreLoop) run(
	ctx context.Context,
	rawChan <-chan ingestion.RawEvent,
	submitChan <-chan ingestion.Submission,
	snapReqChan <-chan snapshotRequest,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case raw := <-rawChan:
			l.handleRaw(raw)

		case sub := <-submitChan:
			sub.Result <- l.core.ProcessEvent(sub.Event)

		case req := <-snapReqChan:
			seq, err := l.takeSnapshot(ctx)
			req.reply <- snapshotResult{sequence: seq, err: err}
			continue
		}

		if l.snapshotInterval > 0 && l.core.GetSequence()-l.lastSnapshotSeq >= l.snapshotInterval {
			if _, err := l.takeSnapshot(ctx); err != nil {
				l.logger.Warn().Err(err).Msg("periodic snapshot failed")
			}
		}
	}
}

// handleRaw applies a NATS message and settles its ack. Applied and
// rejected operations are acked; a malformed one is terminated; anything
// else (a sequence gap) is redelivered.
func (l *coreLoop) handleRaw(raw ingestion.RawEvent) {
	eventType, err := ingestion.EventTypeFromSubject(raw.Subject)
	if err != nil {
		l.logger.Warn().Err(err).Msg("unknown subject")
		raw.TermFunc()
		return
	}
	evt, err := ingestion.ParseRawEvent(raw, eventType)
	if err != nil {
		l.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse operation failed")
		raw.TermFunc()
		return
	}

	err = l.core.ProcessEvent(evt)
	switch {
	case err == nil, errors.Is(err, core.ErrRejected):
		raw.AckFunc()
	default:
		l.logger.Error().
			Err(err).
			Str("event_type", eventType).
			Str("idempotency_key", evt.IdempotencyKey()).
			Msg("operation not applied")
		raw.NakFunc()
	}
}

// takeSnapshot saves the core state. It is marked verified only when the
// event log already covers it, so recovery never starts past the log.
func (l *coreLoop) takeSnapshot(ctx context.Context) (int64, error) {
	snap := l.core.CreateSnapshotState()
	if snap.Sequence < 0 {
		return -1, errors.New("nothing to snapshot")
	}

	size, err := l.snapMgr.SaveSnapshot(ctx, snap.Sequence, snap.StateHash[:], snap)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	l.lastSnapshotSeq = l.core.GetSequence()

	logged, err := l.snapMgr.GetLatestSequence(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest logged sequence: %w", err)
	}
	if logged >= snap.Sequence {
		if err := l.snapMgr.MarkVerified(ctx, snap.Sequence); err != nil {
			return 0, fmt.Errorf("mark snapshot verified: %w", err)
		}
	} else {
		l.logger.Info().
			Int64("sequence", snap.Sequence).
			Int64("logged", logged).
			Msg("snapshot ahead of the event log, left unverified")
	}

	if l.metrics != nil {
		l.metrics.SnapshotTaken.Inc()
		l.metrics.SnapshotSizeBytes.Set(float64(size))
		l.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	l.logger.Info().Int64("sequence", snap.Sequence).Int("bytes", size).Msg("snapshot saved")
	return snap.Sequence, nil
}
