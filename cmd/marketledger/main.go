package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MarketLedger/internal/config"
	"MarketLedger/internal/core"
	"MarketLedger/internal/ingestion"
	"MarketLedger/internal/observability"
	"MarketLedger/internal/persistence"
	"MarketLedger/internal/projection"
	"MarketLedger/internal/query"
	"MarketLedger/internal/server"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

func main() {
	logger := observability.NewLogger("marketledger")
	logger.Info().Msg("MarketLedger starting")

	cfg, err := config.Load(os.Getenv("MARKET_CONFIG"))
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	fees, err := cfg.FeeSchedule()
	if err != nil {
		logger.Fatal().Err(err).Msg("fee schedule")
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("Postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, logger.With().Str("component", "migrator").Logger())
	if err := migrator.Up(ctx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	snapMgr := persistence.NewSnapshotManager(db)
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker(db)

	// --- Channels ---
	// persist blocks (backpressure), projection drops
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableFill, 4096)

	// --- Deterministic Core ---
	deterministicCore := core.NewDeterministicCore(
		core.Config{
			Hardforks:            cfg.Hardforks(),
			Fees:                 fees,
			DeflationIssuer:      cfg.DeflationIssuer,
			DeflationMinInterval: cfg.DeflationMinInterval,
			LRUCapacity:          cfg.IdempotencyLRUCapacity,
			AuditInterval:        cfg.AuditInterval,
		},
		persistCoreChan,
		projectionCoreChan,
		persistence.NewPostgresIdempotencyChecker(db),
		logger.With().Str("component", "core").Logger(),
		metrics,
	)

	// --- Recovery: snapshot + replay ---
	if err := recoverCore(ctx, deterministicCore, snapMgr, cfg.IdempotencyLRUCapacity, logger); err != nil {
		logger.Fatal().Err(err).Msg("recovery failed")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger.With().Str("component", "nats").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
		logger.Fatal().Err(err).Msg("ensure NATS streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, logger); err != nil {
		logger.Fatal().Err(err).Msg("ensure outbound stream")
	}

	rawEventChan := make(chan ingestion.RawEvent, 4096)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan, logger.With().Str("component", "subscriber").Logger())
	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan, logger.With().Str("component", "publisher").Logger())

	// --- Services ---
	fillHistory := projection.NewFillHistory(256)
	queryService := query.NewQueryService(db, fillHistory, metrics)
	submitChan := make(chan ingestion.Submission, 64)
	ingestService := ingestion.NewGRPCIngestService(submitChan)
	snapReqChan := make(chan snapshotRequest)

	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		QueryService:    queryService,
		IngestService:   ingestService,
		SnapshotMgr:     snapMgr,
		TriggerSnapshot: snapshotTrigger(snapReqChan),
		StartTime:       time.Now(),
		HealthChecker:   healthChecker,
		Logger:          logger.With().Str("component", "server").Logger(),
	})

	// --- Start goroutines ---
	// Workers outlive the ingestion context so they can drain on shutdown.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	errChan := make(chan error, 10)
	workersDone := make(chan struct{}, 3)

	// 1. Persistence worker
	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.PersistBatchSize,
		cfg.PersistFlushTimeout, logger.With().Str("component", "persistence").Logger(), metrics)
	go func() {
		if err := persistWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
		workersDone <- struct{}{}
	}()

	// 2. Projection worker
	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan, fillHistory,
		logger.With().Str("component", "projection").Logger())
	go func() {
		projWorker.Run(workerCtx)
		workersDone <- struct{}{}
	}()

	// 3. Outbound publisher
	go func() {
		outboundPublisher.Run(workerCtx)
		workersDone <- struct{}{}
	}()

	// 4. Core output bridge
	bridgeDone := make(chan struct{})
	go func() {
		bridgeCoreOutputs(persistCoreChan, projectionCoreChan, persistWorkerChan, projectionWorkerChan, publishChan, metrics, logger)
		close(bridgeDone)
	}()

	// 5. Core loop: the only goroutine that touches the core
	coreDone := make(chan struct{})
	loop := &coreLoop{
		core:             deterministicCore,
		snapMgr:          snapMgr,
		snapshotInterval: cfg.SnapshotInterval,
		lastSnapshotSeq:  deterministicCore.GetSequence(),
		metrics:          metrics,
		logger:           logger.With().Str("component", "core-loop").Logger(),
	}
	go func() {
		loop.run(ctx, rawEventChan, submitChan, snapReqChan)
		close(coreDone)
	}()

	if err := natsSubscriber.Subscribe(ctx); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}

	// 6. gRPC server
	go func() {
		if err := grpcServer.StartGRPC(ctx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// 7. HTTP/JSON gateway
	go func() {
		if err := grpcServer.StartHTTPGateway(ctx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()

	// 8. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)

	logger.Info().
		Int64("sequence", deterministicCore.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("MarketLedger ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// stop intake, let the core finish its current operation, snapshot,
	// then drain outputs through the workers
	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	natsSubscriber.Stop()
	cancel()
	<-coreDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	close(persistCoreChan)
	close(projectionCoreChan)
	<-bridgeDone

	for i := 0; i < 3; i++ {
		select {
		case <-workersDone:
		case <-shutdownCtx.Done():
			logger.Warn().Msg("workers did not drain in time")
		}
	}
	stopWorkers()

	// the log now covers every applied operation, so the snapshot verifies
	if seq, err := loop.takeSnapshot(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}

	logger.Info().Msg("MarketLedger shutdown complete")
}

// recoverCore restores the latest verified snapshot, replays the log after
// it and warms the idempotency LRU.
func recoverCore(
	ctx context.Context,
	deterministicCore *core.DeterministicCore,
	snapMgr *persistence.SnapshotManager,
	lruCapacity int,
	logger zerolog.Logger,
) error {
	rec, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	if rec != nil {
		var snap core.SnapshotState
		if err := json.Unmarshal(rec.Data, &snap); err != nil {
			return fmt.Errorf("decode snapshot at seq %d: %w", rec.Sequence, err)
		}
		if string(snap.StateHash[:]) != string(rec.StateHash) {
			return fmt.Errorf("snapshot at seq %d: stored hash does not match its state", rec.Sequence)
		}
		if err := deterministicCore.RestoreFromSnapshot(&snap); err != nil {
			return err
		}
	} else {
		logger.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	replayed, err := replayEventsFromLog(ctx, snapMgr, deterministicCore)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	if replayed > 0 {
		logger.Info().
			Int64("replayed", replayed).
			Int64("sequence", deterministicCore.GetSequence()).
			Msg("replayed operations from the event log")
	}

	// the snapshot only carries its own LRU; the log has what came after
	keys, err := snapMgr.LoadRecentKeys(ctx, lruCapacity)
	if err != nil {
		return fmt.Errorf("load recent keys: %w", err)
	}
	deterministicCore.WarmLRU(keys)
	logger.Info().Int("keys", len(keys)).Msg("idempotency LRU warmed")
	return nil
}

// replayEventsFromLog re-applies logged operations after the core's
// current sequence. A divergent hash panics inside the core.
func replayEventsFromLog(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	deterministicCore *core.DeterministicCore,
) (int64, error) {
	var total int64
	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, deterministicCore.GetSequence(), replayBatchSize)
		if err != nil {
			return total, fmt.Errorf("load events from seq %d: %w", deterministicCore.GetSequence(), err)
		}
		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return total, err
			}
			if err := deterministicCore.ReplayEnvelope(env); err != nil {
				return total, err
			}
			total++
		}
		if len(rows) < replayBatchSize {
			return total, nil
		}
	}
}

// bridgeCoreOutputs converts core outputs for the workers. It returns once
// both core channels are closed, closing the worker channels behind it.
func bridgeCoreOutputs(
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	projectionOut chan<- projection.ProjectionOutput,
	publishOut chan<- ingestion.PublishableFill,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	defer close(persistOut)
	defer close(projectionOut)
	defer close(publishOut)

	for persistIn != nil || projectionIn != nil {
		select {
		case output, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}
			row, err := persistence.NewCoreOutput(output.Envelope)
			if err != nil {
				panic(fmt.Sprintf("FATAL: encode logged operation: %v", err))
			}
			persistOut <- row

			for _, f := range ingestion.FillsFromEnvelope(output.Envelope) {
				select {
				case publishOut <- f:
				default:
					metrics.ProjectionDrops.WithLabelValues("publish").Inc()
				}
			}

		case output, ok := <-projectionIn:
			if !ok {
				projectionIn = nil
				continue
			}
			select {
			case projectionOut <- projection.FromEnvelope(output.Envelope):
			default:
				metrics.ProjectionDrops.WithLabelValues("projection_bridge").Inc()
				logger.Debug().Int64("seq", output.Envelope.Sequence).Msg("projection output dropped")
			}
		}
	}
}
