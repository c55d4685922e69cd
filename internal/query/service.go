package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"MarketLedger/internal/ledger"
	"MarketLedger/internal/observability"
	"MarketLedger/internal/projection"
)

// ErrNotFound is returned when the read model has nothing for the key.
var ErrNotFound = errors.New("not found")

// QueryService provides read-only access to projection tables. Every
// response carries as_of_sequence, the last operation the read model has
// applied.
type QueryService struct {
	db      *sql.DB
	history *projection.FillHistory
	metrics *observability.Metrics
}

// NewQueryService creates the service. history may be nil.
func NewQueryService(db *sql.DB, history *projection.FillHistory, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, history: history, metrics: metrics}
}

// GetFills returns the fills of account, newest first. beforeSequence is
// an exclusive cursor. The first page is served from memory when the
// recent history holds enough of it.
func (qs *QueryService) GetFills(
	ctx context.Context,
	account ledger.AccountID,
	limit int,
	beforeSequence *int64,
) (fills []FillResponse, err error) {
	defer qs.observe("fills", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	if beforeSequence == nil && qs.history != nil && qs.history.Len(account) >= limit {
		return qs.fillsFromHistory(account, limit, asOfSeq), nil
	}

	query := `
		SELECT fill_id, sequence, kind, order_id, account, pays_asset, pays_amount,
		       receives_asset, receives_amount, fee_asset, fee_amount,
		       exchange_fee_receiver, exchange_fee_rate, exchange_fee_amount, timestamp
		FROM projections.fills
		WHERE account = $1
	`
	args := []any{int64(account)}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, fill_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			f        FillResponse
			receiver sql.NullInt64
		)
		f.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&f.FillID, &f.Sequence, &f.Kind, &f.OrderID, &f.Account,
			&f.PaysAsset, &f.PaysAmount, &f.ReceivesAsset, &f.ReceivesAmount,
			&f.FeeAsset, &f.FeeAmount,
			&receiver, &f.ExchangeFeeRate, &f.ExchangeFeeAmount, &f.Timestamp,
		); err != nil {
			return nil, err
		}
		if receiver.Valid {
			id := uint64(receiver.Int64)
			f.ExchangeFeeReceiver = &id
		}
		f.Price = RatioString(f.ReceivesAmount, f.PaysAmount)
		fills = append(fills, f)
	}

	return fills, rows.Err()
}

// GetAssetStatus returns fill, toll and settlement state of an asset.
func (qs *QueryService) GetAssetStatus(ctx context.Context, assetID uint32) (resp *AssetStatusResponse, err error) {
	defer qs.observe("asset_status", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var (
		s                 AssetStatusResponse
		base, quote, fund sql.NullInt64
	)
	err = qs.db.QueryRowContext(ctx, `
		SELECT asset_id, globally_settled, settlement_base, settlement_quote,
		       settlement_fund, tolled_total, fill_count, last_sequence
		FROM projections.asset_status
		WHERE asset_id = $1
	`, int64(assetID)).Scan(
		&s.AssetID, &s.GloballySettled, &base, &quote,
		&fund, &s.TolledTotal, &s.FillCount, &s.LastSequence,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %d: %w", assetID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if s.GloballySettled && base.Valid && quote.Valid {
		s.SettlementPrice = RatioString(quote.Int64, base.Int64)
		s.SettlementFund = fund.Int64
	}
	s.AsOfSequence = asOfSeq
	return &s, nil
}

// VerifyIntegrity walks the event log hash chain and reports every
// sequence whose prev_hash does not match its predecessor's state_hash.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer qs.observe("integrity", time.Now(), &err)

	report = &IntegrityReport{LastSequence: -1}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 100
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var last sql.NullInt64
	if err := qs.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&last); err != nil {
		return nil, err
	}
	if last.Valid {
		report.LastSequence = last.Int64
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) fillsFromHistory(account ledger.AccountID, limit int, asOfSeq int64) []FillResponse {
	recent := qs.history.Recent(account, limit)
	fills := make([]FillResponse, 0, len(recent))
	for _, e := range recent {
		var receiver *uint64
		if e.ExchangeFeeReceiver != nil {
			id := uint64(*e.ExchangeFeeReceiver)
			receiver = &id
		}
		fills = append(fills, FillResponse{
			Sequence:       e.Sequence,
			Kind:           e.Kind.String(),
			OrderID:        e.OrderID,
			Account:        uint64(e.Account),
			PaysAsset:      uint32(e.Pays.AssetID),
			PaysAmount:     e.Pays.Amount,
			ReceivesAsset:  uint32(e.Receives.AssetID),
			ReceivesAmount: e.Receives.Amount,
			FeeAsset:       uint32(e.Fee.AssetID),
			FeeAmount:      e.Fee.Amount,
			Price:          RatioString(e.Receives.Amount, e.Pays.Amount),
			Timestamp:      e.Timestamp,
			AsOfSequence:   asOfSeq,

			ExchangeFeeReceiver: receiver,
			ExchangeFeeRate:     e.ExchangeFeeRate,
			ExchangeFeeAmount:   e.ExchangeFee.Amount,
		})
	}
	return fills
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

func (qs *QueryService) observe(endpoint string, start time.Time, err *error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case *err == nil:
	case errors.Is(*err, ErrNotFound):
		status = "not_found"
	default:
		status = "error"
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
