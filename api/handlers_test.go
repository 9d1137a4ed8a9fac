/*
handlers_test.go - End-to-end tests for the HTTP surface

Runs the real router over an in-memory SQLite store:
- movements, sale replay and oversell status codes
- request validation
- position, history and event queries
- transfer and count flows
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/storeledger/count"
	"github.com/warp/storeledger/ledger"
	"github.com/warp/storeledger/metrics"
	"github.com/warp/storeledger/store/sqlite"
	"github.com/warp/storeledger/transfer"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := metrics.New(metrics.DefaultConfig())
	engine := ledger.NewEngine(store, ledger.WithMetrics(m))
	h := NewHandler(engine, transfer.NewService(engine), count.NewService(engine), zerolog.Nop())
	return NewRouter(h, RouterConfig{AllowedOrigins: []string{"*"}, Metrics: m.Handler()})
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ActorHeader, "tester")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func receive(t *testing.T, router http.Handler, store, product string, qty, cost int64) TransactionDTO {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/inventory/receipts", map[string]any{
		"store_id": store, "product_id": product, "quantity": qty, "unit_cost_cents": cost,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[TransactionDTO](t, rec)
}

// =============================================================================
// MOVEMENTS
// =============================================================================

func TestSell_CreatedThenReplayed(t *testing.T) {
	// GIVEN: 10 units received at 500¢
	// WHEN: The same sale line is submitted twice
	// THEN: 201 then 200 with the same row, stock drops once

	router := newTestRouter(t)
	receive(t, router, "s1", "p1", 10, 500)

	sale := map[string]any{"store_id": "s1", "product_id": "p1", "quantity": 3, "sale_id": "S-1", "sale_line_id": "1"}

	first := do(t, router, http.MethodPost, "/api/inventory/sales", sale)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	created := decode[SaleDTO](t, first)
	assert.False(t, created.Replayed)
	assert.Equal(t, int64(-3), created.Transaction.Quantity)
	require.NotNil(t, created.Transaction.COGSCents)
	assert.Equal(t, int64(1500), *created.Transaction.COGSCents)
	assert.Equal(t, "tester", created.Transaction.CreatedBy)

	second := do(t, router, http.MethodPost, "/api/inventory/sales", sale)
	require.Equal(t, http.StatusOK, second.Code)
	replayed := decode[SaleDTO](t, second)
	assert.True(t, replayed.Replayed)
	assert.Equal(t, created.Transaction.ID, replayed.Transaction.ID)

	pos := decode[PositionDTO](t, do(t, router, http.MethodGet, "/api/stores/s1/products/p1/position", nil))
	assert.Equal(t, int64(7), pos.OnHand)
	assert.Equal(t, int64(500), pos.UnitCostCents)
	assert.Equal(t, int64(3500), pos.ValueCents)
}

func TestSell_Oversell(t *testing.T) {
	router := newTestRouter(t)
	receive(t, router, "s1", "p1", 2, 100)

	rec := do(t, router, http.MethodPost, "/api/inventory/sales", map[string]any{
		"store_id": "s1", "product_id": "p1", "quantity": 5, "sale_id": "S-1", "sale_line_id": "1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "oversell", resp.Code)
	assert.Equal(t, map[string]any{"available": float64(2), "requested": float64(5)}, resp.Details)
}

func TestReceive_Validation(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/inventory/receipts", map[string]any{
		"store_id": "s1", "quantity": 0,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "validation", resp.Code)
	fields, ok := resp.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "required", fields["ProductID"])
	assert.Equal(t, "gt", fields["Quantity"])
	assert.Equal(t, "required", fields["UnitCostCents"])

	rec = do(t, router, http.MethodPost, "/api/inventory/receipts", map[string]any{
		"store_id": "s1", "product_id": "p1", "quantity": 1, "unit_cost_cents": 1, "status": "APPROVED",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/inventory/receipts", strings.NewReader("{"))
	raw := httptest.NewRecorder()
	router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestDraftLifecycle(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/inventory/adjustments", map[string]any{
		"store_id": "s1", "product_id": "p1", "delta": 4, "status": "DRAFT", "reason": "found",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	draft := decode[TransactionDTO](t, rec)
	assert.Equal(t, "DRAFT", draft.Status)

	path := "/api/inventory/transactions/" + draft.ID
	approved := decode[TransactionDTO](t, do(t, router, http.MethodPost, path+"/approve", nil))
	assert.Equal(t, "APPROVED", approved.Status)
	assert.Equal(t, "tester", approved.ApprovedBy)
	assert.False(t, approved.Final)

	posted := decode[TransactionDTO](t, do(t, router, http.MethodPost, path+"/post", nil))
	assert.Equal(t, "POSTED", posted.Status)
	require.NotNil(t, posted.PostedAt)
	assert.True(t, posted.Final)

	rec = do(t, router, http.MethodPost, path+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[ErrorResponse](t, rec).Code)

	got := decode[TransactionDTO](t, do(t, router, http.MethodGet, path, nil))
	assert.Equal(t, "POSTED", got.Status)

	rec = do(t, router, http.MethodGet, "/api/inventory/transactions/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestHistoryAndEvents(t *testing.T) {
	router := newTestRouter(t)
	receive(t, router, "s1", "p1", 1, 400)
	receive(t, router, "s1", "p1", 3, 800)
	receive(t, router, "s2", "p1", 1, 100)

	history := decode[[]TransactionDTO](t, do(t, router, http.MethodGet, "/api/stores/s1/products/p1/history", nil))
	require.Len(t, history, 2)
	assert.Equal(t, int64(1), history[0].Quantity)
	assert.Equal(t, int64(3), history[1].Quantity)

	pos := decode[PositionDTO](t, do(t, router, http.MethodGet, "/api/stores/s1/products/p1/position", nil))
	assert.Equal(t, int64(700), pos.UnitCostCents)

	events := decode[[]EventDTO](t, do(t, router, http.MethodGet, "/api/events?store_id=s1", nil))
	require.Len(t, events, 2)
	assert.Equal(t, ledger.EventTransactionPosted, events[0].EventType)
	assert.Equal(t, "RECEIVE", events[0].Payload["type"])

	limited := decode[[]EventDTO](t, do(t, router, http.MethodGet, "/api/events?limit=1", nil))
	assert.Len(t, limited, 1)

	rec := do(t, router, http.MethodGet, "/api/events?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, router, http.MethodGet, "/api/stores/s1/products/p1/position?as_of=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// DOCUMENTS
// =============================================================================

func TestTransferFlow(t *testing.T) {
	router := newTestRouter(t)
	receive(t, router, "a", "p1", 10, 250)

	rec := do(t, router, http.MethodPost, "/api/transfers", map[string]any{
		"source_store_id": "a", "destination_store_id": "b",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	trf := decode[TransferDTO](t, rec)
	assert.Equal(t, "TRF-000001", trf.Number)

	base := "/api/transfers/" + trf.ID
	rec = do(t, router, http.MethodPost, base+"/lines", map[string]any{"product_id": "p1", "quantity": 6})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, base+"/lines", map[string]any{"product_id": "p1", "quantity": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, router, http.MethodPost, base+"/ship", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "ship while PENDING")
	assert.Equal(t, "transfer_rule", decode[ErrorResponse](t, rec).Code)

	require.Equal(t, http.StatusOK, do(t, router, http.MethodPost, base+"/approve", nil).Code)

	shipped := decode[TransferDTO](t, do(t, router, http.MethodPost, base+"/ship", nil))
	assert.Equal(t, "IN_TRANSIT", shipped.Status)
	assert.False(t, shipped.Final)
	require.Len(t, shipped.Lines, 1)
	assert.Equal(t, int64(250), *shipped.Lines[0].UnitCostCents)

	received := decode[TransferDTO](t, do(t, router, http.MethodPost, base+"/receive", nil))
	assert.Equal(t, "RECEIVED", received.Status)
	assert.True(t, received.Final)

	src := decode[PositionDTO](t, do(t, router, http.MethodGet, "/api/stores/a/products/p1/position", nil))
	dst := decode[PositionDTO](t, do(t, router, http.MethodGet, "/api/stores/b/products/p1/position", nil))
	assert.Equal(t, int64(4), src.OnHand)
	assert.Equal(t, int64(6), dst.OnHand)

	got := decode[TransferDTO](t, do(t, router, http.MethodGet, base, nil))
	assert.Equal(t, "RECEIVED", got.Status)
	require.NotNil(t, got.Lines[0].InboundTxID)

	rec = do(t, router, http.MethodPost, "/api/transfers", map[string]any{
		"source_store_id": "a", "destination_store_id": "a",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCountFlow(t *testing.T) {
	router := newTestRouter(t)
	receive(t, router, "s1", "p1", 100, 50)

	c := decode[CountDTO](t, do(t, router, http.MethodPost, "/api/counts", map[string]any{"store_id": "s1"}))
	assert.Equal(t, "CNT-000001", c.Number)

	base := "/api/counts/" + c.ID
	rec := do(t, router, http.MethodPost, base+"/lines", map[string]any{"product_id": "p1", "actual_quantity": 92})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	line := decode[CountLineDTO](t, rec)
	assert.Equal(t, int64(-8), line.Variance)

	rec = do(t, router, http.MethodPost, base+"/lines", map[string]any{"product_id": "p2"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "actual_quantity is required")

	approved := decode[CountDTO](t, do(t, router, http.MethodPost, base+"/approve", nil))
	assert.Equal(t, int64(-400), approved.TotalVarianceCents)

	assert.False(t, approved.Final)

	posted := decode[CountDTO](t, do(t, router, http.MethodPost, base+"/post", nil))
	assert.Equal(t, "POSTED", posted.Status)
	assert.True(t, posted.Final)
	require.Len(t, posted.Lines, 1)
	require.NotNil(t, posted.Lines[0].AdjustmentTxID)

	pos := decode[PositionDTO](t, do(t, router, http.MethodGet, "/api/stores/s1/products/p1/position", nil))
	assert.Equal(t, int64(92), pos.OnHand)

	rec = do(t, router, http.MethodPost, base+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// INFRASTRUCTURE
// =============================================================================

func TestHealthzAndMetrics(t *testing.T) {
	router := newTestRouter(t)
	receive(t, router, "s1", "p1", 1, 1)

	rec := do(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "storeledger_")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&ledger.ValidationError{Field: "quantity", Message: "bad"}, http.StatusBadRequest},
		{ledger.NewNotFound("transfer", "x"), http.StatusNotFound},
		{&ledger.OversellError{}, http.StatusConflict},
		{ledger.ErrLifecycle, http.StatusConflict},
		{&ledger.TransferError{Reason: "x"}, http.StatusUnprocessableEntity},
		{&ledger.CountError{Reason: "x"}, http.StatusUnprocessableEntity},
		{&ledger.TransferError{Reason: "cannot ship", Err: ledger.ErrLifecycle}, http.StatusUnprocessableEntity},
		{&ledger.ConflictError{Attempts: 5, Last: ledger.ErrConflict}, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%T", tt.err), func(t *testing.T) {
			got, _ := statusFor(tt.err)
			assert.Equal(t, tt.want, got)
		})
	}
}
