/*
documents.go - HTTP handlers for transfer and count documents

ENDPOINTS:
  Transfers:
    POST   /api/transfers                  Create (PENDING)
    GET    /api/transfers/{id}             Header and lines
    POST   /api/transfers/{id}/lines       Add a line
    POST   /api/transfers/{id}/approve
    POST   /api/transfers/{id}/ship        Stock leaves the source
    POST   /api/transfers/{id}/receive     Stock lands at the destination
    POST   /api/transfers/{id}/cancel

  Counts:
    POST   /api/counts                     Create (PENDING)
    GET    /api/counts/{id}                Header and lines
    POST   /api/counts/{id}/lines          Record a counted quantity
    POST   /api/counts/{id}/approve
    POST   /api/counts/{id}/post           Variances become ADJUST rows
    POST   /api/counts/{id}/cancel
*/
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/storeledger/ledger"
	"github.com/warp/storeledger/transfer"
)

// =============================================================================
// TRANSFER ENDPOINTS
// =============================================================================

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req CreateTransferRequest
	if !h.bind(w, r, &req) {
		return
	}

	t, err := h.Transfers.Create(r.Context(),
		ledger.StoreID(req.SourceStoreID),
		ledger.StoreID(req.DestinationStoreID),
		actor(r), req.Notes,
	)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransferDTO(t))
}

func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Transfers.Get(r.Context(), transferID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDocumentDTO(doc))
}

func (h *Handler) AddTransferLine(w http.ResponseWriter, r *http.Request) {
	var req TransferLineRequest
	if !h.bind(w, r, &req) {
		return
	}

	line, err := h.Transfers.AddLine(r.Context(), transferID(r), ledger.ProductID(req.ProductID), req.Quantity, actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransferLineDTO(line))
}

func (h *Handler) ApproveTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.Transfers.Approve(r.Context(), transferID(r), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTO(t))
}

func (h *Handler) ShipTransfer(w http.ResponseWriter, r *http.Request) {
	h.moveTransfer(w, r, h.Transfers.Ship)
}

func (h *Handler) ReceiveTransfer(w http.ResponseWriter, r *http.Request) {
	h.moveTransfer(w, r, h.Transfers.Receive)
}

func (h *Handler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.Transfers.Cancel(r.Context(), transferID(r), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTO(t))
}

func (h *Handler) moveTransfer(w http.ResponseWriter, r *http.Request,
	fn func(context.Context, ledger.TransferID, string) (transfer.Document, error),
) {
	doc, err := fn(r.Context(), transferID(r), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDocumentDTO(doc))
}

func transferID(r *http.Request) ledger.TransferID {
	return ledger.TransferID(chi.URLParam(r, "id"))
}

// =============================================================================
// COUNT ENDPOINTS
// =============================================================================

func (h *Handler) CreateCount(w http.ResponseWriter, r *http.Request) {
	var req CreateCountRequest
	if !h.bind(w, r, &req) {
		return
	}

	c, err := h.Counts.Create(r.Context(), ledger.StoreID(req.StoreID), actor(r), req.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCountDTO(c))
}

func (h *Handler) GetCount(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Counts.Get(r.Context(), countID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCountDocumentDTO(doc))
}

func (h *Handler) AddCountLine(w http.ResponseWriter, r *http.Request) {
	var req CountLineRequest
	if !h.bind(w, r, &req) {
		return
	}

	line, err := h.Counts.AddLine(r.Context(), countID(r), ledger.ProductID(req.ProductID), *req.ActualQuantity, actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCountLineDTO(line))
}

func (h *Handler) ApproveCount(w http.ResponseWriter, r *http.Request) {
	h.transitionCount(w, r, h.Counts.Approve)
}

func (h *Handler) CancelCount(w http.ResponseWriter, r *http.Request) {
	h.transitionCount(w, r, h.Counts.Cancel)
}

func (h *Handler) PostCount(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Counts.Post(r.Context(), countID(r), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCountDocumentDTO(doc))
}

func (h *Handler) transitionCount(w http.ResponseWriter, r *http.Request,
	fn func(context.Context, ledger.CountID, string) (ledger.Count, error),
) {
	c, err := fn(r.Context(), countID(r), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCountDTO(c))
}

func countID(r *http.Request) ledger.CountID {
	return ledger.CountID(chi.URLParam(r, "id"))
}
