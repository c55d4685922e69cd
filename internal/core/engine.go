package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"MarketLedger/internal/deflation"
	"MarketLedger/internal/event"
	"MarketLedger/internal/ledger"
	"MarketLedger/internal/market"
	"MarketLedger/internal/observability"
	"MarketLedger/internal/state"

	"github.com/rs/zerolog"
)

// ErrRejected marks an operation that was logged but changed no state.
// Redelivering it is a duplicate, so transports treat it as terminal.
var ErrRejected = errors.New("operation rejected")

// DefaultAuditInterval is how many operations pass between full supply audits.
const DefaultAuditInterval = 1000

// Config fixes the deterministic parameters of a core. Two cores built
// from the same Config and fed the same operations reach the same hash.
type Config struct {
	StartSequence        int64
	Hardforks            market.Hardforks
	Fees                 market.FeeSchedule
	DeflationIssuer      ledger.AccountID
	DeflationMinInterval int64
	LRUCapacity          int
	AuditInterval        int64
}

// DeterministicCore is the single-threaded operation processor
type DeterministicCore struct {
	cfg               Config
	sequence          int64
	hasher            *StateHasher
	store             *state.Store
	engine            *market.Engine
	deflation         *deflation.Tracker
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	logger            zerolog.Logger
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

type CoreOutput struct {
	Envelope *event.EventEnvelope
}

func NewDeterministicCore(
	cfg Config,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *DeterministicCore {
	if cfg.LRUCapacity <= 0 {
		cfg.LRUCapacity = 1_000_000
	}
	if cfg.AuditInterval <= 0 {
		cfg.AuditInterval = DefaultAuditInterval
	}
	if cfg.DeflationMinInterval <= 0 {
		cfg.DeflationMinInterval = deflation.DefaultMinInterval
	}

	c := &DeterministicCore{
		cfg:               cfg,
		sequence:          cfg.StartSequence,
		hasher:            NewStateHasher(),
		idempotency:       NewIdempotencyChecker(cfg.LRUCapacity, dbChecker, logger, metrics),
		sequenceValidator: NewSequenceValidator(metrics),
		logger:            logger,
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
	c.bind(state.NewStore())
	return c
}

// bind points the engine and the deflation tracker at store.
func (c *DeterministicCore) bind(store *state.Store) {
	c.store = store
	c.deflation = deflation.NewTracker(store, c.cfg.DeflationIssuer, c.cfg.DeflationMinInterval,
		c.logger.With().Str("component", "deflation").Logger())
	c.engine = market.NewEngine(store, c.cfg.Fees, c.deflation, c.cfg.Hardforks,
		c.logger.With().Str("component", "market").Logger(), c.metrics)
}

// ProcessEvent is the main processing pipeline. A rejected operation is
// still logged and hashed; the returned error then wraps ErrRejected.
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation
	stale, err := c.sequenceValidator.Validate(partitionOf(evt), evt.SourceSequence(), isDuplicate)
	if err != nil {
		c.recordRejected(eventType, "sequence")
		return fmt.Errorf("sequence validation failed: %w", err)
	}
	if isDuplicate {
		c.recordRejected(eventType, "duplicate")
		return nil
	}
	if stale {
		c.recordRejected(eventType, "stale_feed")
		return nil
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}

	// Step 3: Apply inside an undo session
	vops, applyErr := c.apply(evt)

	// Step 4: Log entry and hash chain
	envelope := c.seal(evt, payload, vops, applyErr)

	// Step 5: Post-checks
	if err := c.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 6: Emit outputs. The persist send blocks, so no logged operation
	// is lost; projections can rebuild from the log and are dropped when full.
	output := CoreOutput{Envelope: envelope}
	c.persistChan <- output
	select {
	case c.projectionChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.WithLabelValues("projection").Inc()
		}
	}

	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(envelope.Sequence))
		c.metrics.RestingOrders.Set(float64(c.store.Orders().Len()))
		c.metrics.OpenCallPositions.Set(float64(c.store.Calls().Len()))
		c.metrics.PendingSettlements.Set(float64(c.store.Settlements().Len()))
		for _, op := range vops {
			c.metrics.CoreVopsEmitted.WithLabelValues(op.VopType().String()).Inc()
		}
	}

	if applyErr != nil {
		c.recordRejected(eventType, "invalid")
		c.logger.Debug().
			Err(applyErr).
			Int64("sequence", envelope.Sequence).
			Str("event_type", eventType).
			Str("idempotency_key", idempotencyKey).
			Msg("operation rejected")
		return fmt.Errorf("%w: %w", ErrRejected, applyErr)
	}
	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
	}
	return nil
}

// apply runs evt in one store session; on error every mutation is undone.
func (c *DeterministicCore) apply(evt event.Event) ([]event.VirtualOp, error) {
	c.store.Begin()
	var (
		vops []event.VirtualOp
		err  error
	)
	if d, ok := evt.(*event.DeflationStart); ok {
		err = c.deflation.Start(d.Issuer, d.Rate, d.HeadTime())
	} else {
		vops, err = c.engine.Apply(evt)
	}
	if err != nil {
		c.store.Rollback()
		return nil, err
	}
	c.store.Commit()
	return vops, nil
}

// seal assigns the next global sequence to evt and extends the hash chain.
func (c *DeterministicCore) seal(evt event.Event, payload []byte, vops []event.VirtualOp, applyErr error) *event.EventEnvelope {
	var rejection string
	if applyErr != nil {
		rejection = applyErr.Error()
	}
	encodedVops, err := event.MarshalVops(vops)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode vops at seq %d: %v", c.sequence, err))
	}

	prevHash := c.hasher.GetPrevHash()
	digest := operationDigest(evt.EventType().String(), evt.IdempotencyKey(), rejection, encodedVops)
	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		Timestamp:      time.Unix(evt.HeadTime(), 0).UTC(),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		Vops:           vops,
		Rejection:      rejection,
		StateHash:      c.hasher.ComputeHash(c.sequence, digest),
		PrevHash:       prevHash,
	}
	c.sequence++
	return envelope
}

// postCheckInvariants audits every asset's supply and every account's
// core-in-orders statistic at a fixed interval.
func (c *DeterministicCore) postCheckInvariants() error {
	if c.sequence > 0 && c.sequence%c.cfg.AuditInterval == 0 {
		if err := c.store.AuditSupply(); err != nil {
			return fmt.Errorf("supply audit at seq %d: %w", c.sequence, err)
		}
		if err := c.store.AuditCoreInOrders(); err != nil {
			return fmt.Errorf("core in orders audit at seq %d: %w", c.sequence, err)
		}
	}
	return nil
}

func (c *DeterministicCore) recordRejected(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

// ReplayEnvelope re-applies a logged operation during recovery. It emits
// nothing and panics when the recomputed hash differs from the logged one.
func (c *DeterministicCore) ReplayEnvelope(env *event.EventEnvelope) error {
	if env.Sequence != c.sequence {
		return fmt.Errorf("replay out of order: expected seq %d, got %d", c.sequence, env.Sequence)
	}
	evt, err := event.Decode(env.EventType, env.Payload)
	if err != nil {
		return fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}
	if _, err := c.sequenceValidator.Validate(partitionOf(evt), evt.SourceSequence(), false); err != nil {
		return fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}

	vops, applyErr := c.apply(evt)
	sealed := c.seal(evt, env.Payload, vops, applyErr)
	if sealed.StateHash != env.StateHash {
		panic(fmt.Sprintf("FATAL: replay diverged at seq %d: logged %x, computed %x",
			env.Sequence, env.StateHash, sealed.StateHash))
	}
	c.idempotency.MarkProcessed(evt.EventType().String(), evt.IdempotencyKey())
	if c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState is the serializable in-memory state of the core.
type SnapshotState struct {
	Sequence        int64               `json:"sequence"`
	StateHash       [32]byte            `json:"state_hash"`
	Store           *state.Snapshot     `json:"store"`
	Deflation       *deflation.Snapshot `json:"deflation"`
	SequenceState   map[string]int64    `json:"sequence_state"`
	IdempotencyKeys []string            `json:"idempotency_keys"`
}

// CreateSnapshotState captures the current in-memory state for persistence.
// Only call it between operations, from the goroutine driving the core.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence - 1, // last processed
		StateHash:       c.hasher.GetPrevHash(),
		Store:           c.store.Export(),
		Deflation:       c.deflation.Export(),
		SequenceState:   c.sequenceValidator.Partitions(),
		IdempotencyKeys: c.idempotency.lru.Keys(),
	}
}

// RestoreFromSnapshot replaces the core's state with snap. Logged
// operations after snap.Sequence are then replayed with ReplayEnvelope.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	store, err := state.RestoreStore(snap.Store)
	if err != nil {
		return fmt.Errorf("restore store: %w", err)
	}
	c.bind(store)
	if snap.Deflation != nil {
		c.deflation.Restore(snap.Deflation)
	}

	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	for partition, next := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, next)
	}
	c.WarmLRU(snap.IdempotencyKeys)

	c.logger.Info().
		Int64("sequence", snap.Sequence).
		Int("assets", len(snap.Store.Assets)).
		Int("orders", len(snap.Store.Orders)).
		Msg("state restored from snapshot")
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	for _, k := range keys {
		c.idempotency.lru.Add(k)
	}
}

// GetSequence returns the next global sequence number.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}
