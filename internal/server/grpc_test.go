package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"MarketLedger/internal/core"
	"MarketLedger/internal/ingestion"
	"MarketLedger/internal/observability"
	"MarketLedger/internal/query"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maintenanceBody = `{"op_id": "550e8400-e29b-41d4-a716-446655440000", "sequence": 3, "time": 1700000000}`

// newTestServer wires the admin ingest path to a fake core that answers
// every submission with outcome.
func newTestServer(t *testing.T, outcome error) http.Handler {
	t.Helper()
	submit := make(chan ingestion.Submission)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for {
			select {
			case s := <-submit:
				s.Result <- outcome
			case <-ctx.Done():
				return
			}
		}
	}()

	health := observability.NewHealthChecker(nil)
	health.SetReady(true)
	srv := NewGRPCServer(":0", ":0", &ServerDeps{
		IngestService: ingestion.NewGRPCIngestService(submit),
		TriggerSnapshot: func(context.Context) (int64, error) {
			return 41, nil
		},
		StartTime:     time.Now(),
		HealthChecker: health,
		Logger:        zerolog.Nop(),
	})
	h, err := srv.Handler()
	require.NoError(t, err)
	return h
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitOp_Accepted(t *testing.T) {
	h := newTestServer(t, nil)
	rec := do(h, http.MethodPost, "/v1/admin/ops/Maintenance", maintenanceBody)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"accepted": true}`, rec.Body.String())
}

func TestSubmitOp_StatusMapping(t *testing.T) {
	rejected := fmt.Errorf("%w: %w", core.ErrRejected, errors.New("insufficient balance"))
	h := newTestServer(t, rejected)

	rec := do(h, http.MethodPost, "/v1/admin/ops/Maintenance", maintenanceBody)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient balance")

	rec = do(h, http.MethodPost, "/v1/admin/ops/TradeFill", maintenanceBody)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSnapshotAndHealth(t *testing.T) {
	h := newTestServer(t, nil)

	rec := do(h, http.MethodPost, "/v1/admin/snapshot", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sequence": 41}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/readyz", "").Code)
}

func TestQueryRoutes_RejectBadParams(t *testing.T) {
	h := newTestServer(t, nil)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/v1/accounts/alice/fills", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/v1/accounts/1/fills?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/v1/assets/-1/status", "").Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("asset 3: %w", query.ErrNotFound)))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestPageSize(t *testing.T) {
	n, err := pageSize("")
	require.NoError(t, err)
	assert.Equal(t, defaultPageSize, n)

	n, err = pageSize("10000")
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, n)

	_, err = pageSize("x")
	assert.Error(t, err)
}
