package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"MarketLedger/internal/event"
	"MarketLedger/internal/ledger"
	"MarketLedger/internal/persistence"

	"github.com/rs/zerolog"
)

// ProjectionOutput is the slice of a logged operation the read model needs.
type ProjectionOutput struct {
	Sequence  int64
	Timestamp time.Time
	Vops      []event.VirtualOp
}

// FromEnvelope builds the projection input for a logged operation. Rejected
// operations carry no vops and only advance the watermark.
func FromEnvelope(env *event.EventEnvelope) ProjectionOutput {
	return ProjectionOutput{
		Sequence:  env.Sequence,
		Timestamp: env.Timestamp,
		Vops:      env.Vops,
	}
}

// ProjectionWorker updates projection tables from processed operations.
// The projection channel is non-blocking with drop; a lagging read model
// is rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	history   *FillHistory
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, history *FillHistory, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		history:   history,
		logger:    logger,
		lastSeq:   -1,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if err := pw.processOutput(ctx, output); err != nil {
				// eventually consistent; rebuild recovers
				pw.logger.Warn().Err(err).Int64("seq", output.Sequence).Msg("projection update failed")
				continue
			}
			pw.lastSeq = output.Sequence
		}
	}
}

// LastSequence returns the last sequence applied to the projections.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var fills []FillEntry
	for i, op := range output.Vops {
		switch v := op.(type) {
		case *event.FillOrder:
			if err := pw.insertFill(ctx, tx, output, i, v); err != nil {
				return fmt.Errorf("fill projection: %w", err)
			}
			fills = append(fills, FillEntry{
				Sequence:            output.Sequence,
				Kind:                v.Kind,
				OrderID:             v.OrderID,
				Account:             v.Account,
				Pays:                v.Pays,
				Receives:            v.Receives,
				Fee:                 v.Fee,
				FillPrice:           v.FillPrice,
				ExchangeFeeReceiver: v.ExchangeFeeReceiver,
				ExchangeFeeRate:     v.ExchangeFeeRate,
				ExchangeFee:         v.ExchangeFee,
				Timestamp:           output.Timestamp,
			})
		case *event.OrderTolled:
			if err := pw.addToll(ctx, tx, output, v); err != nil {
				return fmt.Errorf("toll projection: %w", err)
			}
		case *event.LimitOrderCancelled:
			if v.Toll.Amount == 0 {
				continue
			}
			tolled := &event.OrderTolled{OrderID: v.OrderID, Seller: v.Seller, Toll: v.Toll}
			if err := pw.addToll(ctx, tx, output, tolled); err != nil {
				return fmt.Errorf("toll projection: %w", err)
			}
		case *event.GlobalSettled:
			if err := pw.markSettled(ctx, tx, output, v); err != nil {
				return fmt.Errorf("settlement projection: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.history != nil {
		for _, f := range fills {
			pw.history.Add(f)
		}
	}
	return nil
}

func (pw *ProjectionWorker) insertFill(ctx context.Context, tx *sql.Tx, output ProjectionOutput, index int, f *event.FillOrder) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.fills
			(fill_id, sequence, kind, order_id, account, pays_asset, pays_amount,
			 receives_asset, receives_amount, fee_asset, fee_amount,
			 exchange_fee_receiver, exchange_fee_rate, exchange_fee_amount, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (fill_id) DO NOTHING
	`, persistence.FillID(output.Sequence, index), output.Sequence, f.Kind.String(),
		int64(f.OrderID), int64(f.Account),
		int64(f.Pays.AssetID), f.Pays.Amount,
		int64(f.Receives.AssetID), f.Receives.Amount,
		int64(f.Fee.AssetID), f.Fee.Amount,
		nullAccount(f.ExchangeFeeReceiver), int64(f.ExchangeFeeRate), f.ExchangeFee.Amount,
		output.Timestamp,
	); err != nil {
		return err
	}

	for _, id := range []int64{int64(f.Pays.AssetID), int64(f.Receives.AssetID)} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.asset_status (asset_id, fill_count, last_sequence, updated_at)
			VALUES ($1, 1, $2, NOW())
			ON CONFLICT (asset_id) DO UPDATE SET
				fill_count = projections.asset_status.fill_count + 1,
				last_sequence = $2, updated_at = NOW()
		`, id, output.Sequence); err != nil {
			return err
		}
	}
	return nil
}

func nullAccount(id *ledger.AccountID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

func (pw *ProjectionWorker) addToll(ctx context.Context, tx *sql.Tx, output ProjectionOutput, t *event.OrderTolled) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.asset_status (asset_id, tolled_total, last_sequence, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (asset_id) DO UPDATE SET
			tolled_total = projections.asset_status.tolled_total + $2,
			last_sequence = $3, updated_at = NOW()
	`, int64(t.Toll.AssetID), t.Toll.Amount, output.Sequence)
	return err
}

func (pw *ProjectionWorker) markSettled(ctx context.Context, tx *sql.Tx, output ProjectionOutput, g *event.GlobalSettled) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.asset_status
			(asset_id, globally_settled, settlement_base, settlement_quote, settlement_fund, last_sequence, updated_at)
		VALUES ($1, TRUE, $2, $3, $4, $5, NOW())
		ON CONFLICT (asset_id) DO UPDATE SET
			globally_settled = TRUE,
			settlement_base = $2, settlement_quote = $3, settlement_fund = $4,
			last_sequence = $5, updated_at = NOW()
	`, int64(g.AssetID), g.SettlementPrice.Base.Amount, g.SettlementPrice.Quote.Amount,
		g.Fund, output.Sequence)
	return err
}

// Rebuild truncates the projection tables and replays the event log into
// them. It runs before the worker starts.
func (pw *ProjectionWorker) Rebuild(ctx context.Context, sm *persistence.SnapshotManager) error {
	for _, stmt := range []string{
		`TRUNCATE projections.fills`,
		`TRUNCATE projections.asset_status`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	} {
		if _, err := pw.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	const batch = 1000
	from := int64(0)
	total := 0
	for {
		rows, err := sm.LoadEventsFrom(ctx, from, batch)
		if err != nil {
			return fmt.Errorf("load events from %d: %w", from, err)
		}
		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return err
			}
			if err := pw.processOutput(ctx, FromEnvelope(env)); err != nil {
				return fmt.Errorf("rebuild seq %d: %w", env.Sequence, err)
			}
			pw.lastSeq = env.Sequence
			from = env.Sequence + 1
		}
		total += len(rows)
		if len(rows) < batch {
			break
		}
	}

	pw.logger.Info().Int("events", total).Int64("last_seq", pw.lastSeq).Msg("projection rebuild complete")
	return nil
}
