/*
handlers.go - HTTP API handlers for the inventory ledger

PURPOSE:
  Exposes the ledger engine and the transfer and count workflows as JSON
  over HTTP. Handlers parse, validate, delegate, and serialize; no stock
  rule lives here.

ENDPOINTS:
  Movements:
    POST   /api/inventory/receipts                      Receive stock
    POST   /api/inventory/sales                         Record a sale line (idempotent)
    POST   /api/inventory/adjustments                   Manual adjustment
    GET    /api/inventory/transactions/{id}             One row
    POST   /api/inventory/transactions/{id}/approve     DRAFT → APPROVED
    POST   /api/inventory/transactions/{id}/post        → POSTED
    POST   /api/inventory/transactions/{id}/cancel      → CANCELLED

  Queries:
    GET    /api/stores/{store}/products/{product}/position?as_of=
    GET    /api/stores/{store}/products/{product}/history
    GET    /api/events?store_id=&entity_type=&entity_id=&from=&to=&limit=

  Transfers and counts: see documents.go.

ACTOR:
  The acting user is read from the X-Actor-ID header and recorded on every
  row and event. It is trusted as given.

ERROR HANDLING:
  writeError maps error kinds to HTTP status in one place:
  - 400: validation
  - 404: not found
  - 409: oversell, invalid lifecycle transition
  - 422: transfer or count rule, including ship/receive/post from the
         wrong state
  - 503: conflict retries exhausted (safe to retry)
  - 500: anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - documents.go: Transfer and count handlers
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/warp/storeledger/count"
	"github.com/warp/storeledger/ledger"
	"github.com/warp/storeledger/transfer"
)

// ActorHeader names the request header carrying the acting user id.
const ActorHeader = "X-Actor-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *ledger.Engine
	Transfers *transfer.Service
	Counts    *count.Service

	log      zerolog.Logger
	validate *validator.Validate
}

func NewHandler(engine *ledger.Engine, transfers *transfer.Service, counts *count.Service, log zerolog.Logger) *Handler {
	return &Handler{
		Engine:    engine,
		Transfers: transfers,
		Counts:    counts,
		log:       log,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// =============================================================================
// MOVEMENT ENDPOINTS
// =============================================================================

func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	var req ReceiveRequest
	if !h.bind(w, r, &req) {
		return
	}

	tx, err := h.Engine.Receive(r.Context(), ledger.ReceiveInput{
		StoreID:       ledger.StoreID(req.StoreID),
		ProductID:     ledger.ProductID(req.ProductID),
		Quantity:      req.Quantity,
		UnitCostCents: *req.UnitCostCents,
		OccurredAt:    timeOrZero(req.OccurredAt),
		Status:        ledger.Status(req.Status),
		ActorID:       actor(r),
		Reason:        req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// Sell answers 201 for a new sale line and 200 when the key was seen before.
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if !h.bind(w, r, &req) {
		return
	}

	res, err := h.Engine.Sell(r.Context(), ledger.SaleInput{
		StoreID:    ledger.StoreID(req.StoreID),
		ProductID:  ledger.ProductID(req.ProductID),
		Quantity:   req.Quantity,
		SaleID:     req.SaleID,
		SaleLineID: req.SaleLineID,
		OccurredAt: timeOrZero(req.OccurredAt),
		ActorID:    actor(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, SaleDTO{Transaction: toTransactionDTO(res.Transaction), Replayed: res.Replayed})
}

func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if !h.bind(w, r, &req) {
		return
	}

	tx, err := h.Engine.Adjust(r.Context(), ledger.AdjustInput{
		StoreID:       ledger.StoreID(req.StoreID),
		ProductID:     ledger.ProductID(req.ProductID),
		Delta:         req.Delta,
		OccurredAt:    timeOrZero(req.OccurredAt),
		Status:        ledger.Status(req.Status),
		ActorID:       actor(r),
		Reason:        req.Reason,
		AllowNegative: req.AllowNegative,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Engine.GetTransaction(r.Context(), ledger.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

func (h *Handler) ApproveTransaction(w http.ResponseWriter, r *http.Request) {
	h.transitionTransaction(w, r, h.Engine.Approve)
}

func (h *Handler) PostTransaction(w http.ResponseWriter, r *http.Request) {
	h.transitionTransaction(w, r, h.Engine.Post)
}

func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	h.transitionTransaction(w, r, h.Engine.Cancel)
}

type transactionTransition func(ctx context.Context, id ledger.TransactionID, actorID string) (ledger.InventoryTransaction, error)

func (h *Handler) transitionTransaction(w http.ResponseWriter, r *http.Request, fn transactionTransition) {
	tx, err := fn(r.Context(), ledger.TransactionID(chi.URLParam(r, "id")), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// =============================================================================
// QUERY ENDPOINTS
// =============================================================================

func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseTimeParam(r, "as_of")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	pos, err := h.Engine.Position(r.Context(),
		ledger.StoreID(chi.URLParam(r, "store")),
		ledger.ProductID(chi.URLParam(r, "product")),
		asOf,
	)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionDTO(pos))
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Engine.History(r.Context(),
		ledger.StoreID(chi.URLParam(r, "store")),
		ledger.ProductID(chi.URLParam(r, "product")),
	)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.EventFilter{
		StoreID:    ledger.StoreID(q.Get("store_id")),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}

	var err error
	if filter.From, err = parseTimeParam(r, "from"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.To, err = parseTimeParam(r, "to"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if raw := q.Get("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil {
			h.writeError(w, r, &ledger.ValidationError{Field: "limit", Message: "must be an integer"})
			return
		}
	}

	events, err := h.Engine.Events(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTOs(events))
}

// Healthz reports whether the store answers.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Engine.Store().(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// bind decodes and validates a JSON body. On failure it has already written
// the response and the caller must return.
func (h *Handler) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body", Code: "validation", Details: err.Error()})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Code: "validation", Details: fields})
			return false
		}
		h.writeError(w, r, err)
		return false
	}
	return true
}

func actor(r *http.Request) string {
	return r.Header.Get(ActorHeader)
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, &ledger.ValidationError{Field: name, Message: fmt.Sprintf("expected RFC 3339 time, got %q", raw)}
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps an error kind to its HTTP status and a short code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrOversell):
		return http.StatusConflict, "oversell"
	case errors.Is(err, ledger.ErrTransfer):
		return http.StatusUnprocessableEntity, "transfer_rule"
	case errors.Is(err, ledger.ErrCount):
		return http.StatusUnprocessableEntity, "count_rule"
	case errors.Is(err, ledger.ErrLifecycle):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, ledger.ErrConflict):
		return http.StatusServiceUnavailable, "conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)

	resp := ErrorResponse{Error: err.Error(), Code: code}
	var oe *ledger.OversellError
	if errors.As(err, &oe) {
		resp.Details = map[string]int64{"available": oe.Available, "requested": oe.Requested}
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
		if status == http.StatusInternalServerError {
			resp.Error = "internal error"
		}
	}
	writeJSON(w, status, resp)
}
