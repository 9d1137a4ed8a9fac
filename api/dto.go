/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes for the HTTP surface. Domain types stay free of json tags;
  everything crossing the wire is converted here.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request structs carry go-playground/validator tags. Handlers run them
  before calling the ledger, which validates again on its own terms.

TIMES:
  RFC 3339 in UTC. Optional timestamps are omitted when unset.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/storeledger/count"
	"github.com/warp/storeledger/ledger"
	"github.com/warp/storeledger/transfer"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type ReceiveRequest struct {
	StoreID       string     `json:"store_id" validate:"required"`
	ProductID     string     `json:"product_id" validate:"required"`
	Quantity      int64      `json:"quantity" validate:"gt=0"`
	UnitCostCents *int64     `json:"unit_cost_cents" validate:"required,gte=0"`
	OccurredAt    *time.Time `json:"occurred_at,omitempty"`
	Status        string     `json:"status,omitempty" validate:"omitempty,oneof=DRAFT POSTED"`
	Reason        string     `json:"reason,omitempty"`
}

type SaleRequest struct {
	StoreID    string     `json:"store_id" validate:"required"`
	ProductID  string     `json:"product_id" validate:"required"`
	Quantity   int64      `json:"quantity" validate:"gt=0"`
	SaleID     string     `json:"sale_id" validate:"required"`
	SaleLineID string     `json:"sale_line_id" validate:"required"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

type AdjustRequest struct {
	StoreID       string     `json:"store_id" validate:"required"`
	ProductID     string     `json:"product_id" validate:"required"`
	Delta         int64      `json:"delta" validate:"ne=0"`
	OccurredAt    *time.Time `json:"occurred_at,omitempty"`
	Status        string     `json:"status,omitempty" validate:"omitempty,oneof=DRAFT POSTED"`
	Reason        string     `json:"reason" validate:"required"`
	AllowNegative bool       `json:"allow_negative,omitempty"`
}

type CreateTransferRequest struct {
	SourceStoreID      string `json:"source_store_id" validate:"required"`
	DestinationStoreID string `json:"destination_store_id" validate:"required,nefield=SourceStoreID"`
	Notes              string `json:"notes,omitempty"`
}

type TransferLineRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"gt=0"`
}

type CreateCountRequest struct {
	StoreID string `json:"store_id" validate:"required"`
	Notes   string `json:"notes,omitempty"`
}

type CountLineRequest struct {
	ProductID      string `json:"product_id" validate:"required"`
	ActualQuantity *int64 `json:"actual_quantity" validate:"required,gte=0"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type TransactionDTO struct {
	ID                  string  `json:"id"`
	StoreID             string  `json:"store_id"`
	ProductID           string  `json:"product_id"`
	Type                string  `json:"type"`
	Quantity            int64   `json:"quantity"`
	UnitCostCents       *int64  `json:"unit_cost_cents,omitempty"`
	Status              string  `json:"status"`
	Final               bool    `json:"final"`
	InventoryState      string  `json:"inventory_state"`
	OccurredAt          string  `json:"occurred_at"`
	CreatedAt           string  `json:"created_at"`
	SaleID              *string `json:"sale_id,omitempty"`
	SaleLineID          *string `json:"sale_line_id,omitempty"`
	UnitCostCentsAtSale *int64  `json:"unit_cost_cents_at_sale,omitempty"`
	COGSCents           *int64  `json:"cogs_cents,omitempty"`
	ReferenceType       string  `json:"reference_type,omitempty"`
	ReferenceID         string  `json:"reference_id,omitempty"`
	Reason              string  `json:"reason,omitempty"`
	CreatedBy           string  `json:"created_by,omitempty"`
	ApprovedBy          string  `json:"approved_by,omitempty"`
	ApprovedAt          *string `json:"approved_at,omitempty"`
	PostedBy            string  `json:"posted_by,omitempty"`
	PostedAt            *string `json:"posted_at,omitempty"`
	CancelledBy         string  `json:"cancelled_by,omitempty"`
	CancelledAt         *string `json:"cancelled_at,omitempty"`
	VersionID           int64   `json:"version_id"`
}

// SaleDTO reports whether the sale was recorded now or replayed.
type SaleDTO struct {
	Transaction TransactionDTO `json:"transaction"`
	Replayed    bool           `json:"replayed"`
}

type PositionDTO struct {
	StoreID       string `json:"store_id"`
	ProductID     string `json:"product_id"`
	AsOf          string `json:"as_of"`
	OnHand        int64  `json:"on_hand"`
	UnitCostCents int64  `json:"unit_cost_cents"`
	HasCostBasis  bool   `json:"has_cost_basis"`
	ValueCents    int64  `json:"value_cents"`
}

type EventDTO struct {
	ID         string            `json:"id"`
	StoreID    string            `json:"store_id"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	EventType  string            `json:"event_type"`
	Category   string            `json:"category"`
	ActorID    string            `json:"actor_id,omitempty"`
	OccurredAt string            `json:"occurred_at"`
	RecordedAt string            `json:"recorded_at"`
	Payload    map[string]string `json:"payload,omitempty"`
}

type TransferDTO struct {
	ID                 string            `json:"id"`
	Number             string            `json:"number"`
	SourceStoreID      string            `json:"source_store_id"`
	DestinationStoreID string            `json:"destination_store_id"`
	Status             string            `json:"status"`
	Final              bool              `json:"final"`
	Notes              string            `json:"notes,omitempty"`
	CreatedBy          string            `json:"created_by,omitempty"`
	CreatedAt          string            `json:"created_at"`
	ApprovedBy         string            `json:"approved_by,omitempty"`
	ApprovedAt         *string           `json:"approved_at,omitempty"`
	ShippedBy          string            `json:"shipped_by,omitempty"`
	ShippedAt          *string           `json:"shipped_at,omitempty"`
	ReceivedBy         string            `json:"received_by,omitempty"`
	ReceivedAt         *string           `json:"received_at,omitempty"`
	CancelledBy        string            `json:"cancelled_by,omitempty"`
	CancelledAt        *string           `json:"cancelled_at,omitempty"`
	Lines              []TransferLineDTO `json:"lines,omitempty"`
}

type TransferLineDTO struct {
	ID            string  `json:"id"`
	ProductID     string  `json:"product_id"`
	Quantity      int64   `json:"quantity"`
	UnitCostCents *int64  `json:"unit_cost_cents,omitempty"`
	OutboundTxID  *string `json:"outbound_tx_id,omitempty"`
	InboundTxID   *string `json:"inbound_tx_id,omitempty"`
}

type CountDTO struct {
	ID                    string         `json:"id"`
	Number                string         `json:"number"`
	StoreID               string         `json:"store_id"`
	Status                string         `json:"status"`
	Final                 bool           `json:"final"`
	Notes                 string         `json:"notes,omitempty"`
	TotalVarianceQuantity int64          `json:"total_variance_quantity"`
	TotalVarianceCents    int64          `json:"total_variance_cents"`
	CreatedBy             string         `json:"created_by,omitempty"`
	CreatedAt             string         `json:"created_at"`
	ApprovedBy            string         `json:"approved_by,omitempty"`
	ApprovedAt            *string        `json:"approved_at,omitempty"`
	PostedBy              string         `json:"posted_by,omitempty"`
	PostedAt              *string        `json:"posted_at,omitempty"`
	CancelledBy           string         `json:"cancelled_by,omitempty"`
	CancelledAt           *string        `json:"cancelled_at,omitempty"`
	Lines                 []CountLineDTO `json:"lines,omitempty"`
}

type CountLineDTO struct {
	ID                string  `json:"id"`
	ProductID         string  `json:"product_id"`
	ExpectedQuantity  int64   `json:"expected_quantity"`
	ActualQuantity    int64   `json:"actual_quantity"`
	Variance          int64   `json:"variance"`
	UnitCostCents     int64   `json:"unit_cost_cents"`
	VarianceCostCents int64   `json:"variance_cost_cents"`
	AdjustmentTxID    *string `json:"adjustment_tx_id,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func txIDString(id *ledger.TransactionID) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}

func toTransactionDTO(tx ledger.InventoryTransaction) TransactionDTO {
	return TransactionDTO{
		ID:                  string(tx.ID),
		StoreID:             string(tx.StoreID),
		ProductID:           string(tx.ProductID),
		Type:                string(tx.Type),
		Quantity:            tx.Quantity,
		UnitCostCents:       tx.UnitCostCents,
		Status:              string(tx.Status),
		Final:               ledger.TransactionLifecycle.Terminal(tx.Status),
		InventoryState:      string(tx.InventoryState),
		OccurredAt:          formatTime(tx.OccurredAt),
		CreatedAt:           formatTime(tx.CreatedAt),
		SaleID:              tx.SaleID,
		SaleLineID:          tx.SaleLineID,
		UnitCostCentsAtSale: tx.UnitCostCentsAtSale,
		COGSCents:           tx.COGSCents,
		ReferenceType:       tx.Reference.Type,
		ReferenceID:         tx.Reference.ID,
		Reason:              tx.Reason,
		CreatedBy:           tx.CreatedBy,
		ApprovedBy:          tx.ApprovedBy,
		ApprovedAt:          formatTimePtr(tx.ApprovedAt),
		PostedBy:            tx.PostedBy,
		PostedAt:            formatTimePtr(tx.PostedAt),
		CancelledBy:         tx.CancelledBy,
		CancelledAt:         formatTimePtr(tx.CancelledAt),
		VersionID:           tx.VersionID,
	}
}

func toTransactionDTOs(txs []ledger.InventoryTransaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toPositionDTO(p ledger.Position) PositionDTO {
	return PositionDTO{
		StoreID:       string(p.StoreID),
		ProductID:     string(p.ProductID),
		AsOf:          formatTime(p.AsOf),
		OnHand:        p.OnHand,
		UnitCostCents: p.UnitCostCents,
		HasCostBasis:  p.HasCostBasis,
		ValueCents:    ledger.ExtendedCost(p.OnHand, p.UnitCostCents),
	}
}

func toEventDTOs(events []ledger.MasterLedgerEvent) []EventDTO {
	dtos := make([]EventDTO, len(events))
	for i, ev := range events {
		dtos[i] = EventDTO{
			ID:         ev.ID,
			StoreID:    string(ev.StoreID),
			EntityType: ev.EntityType,
			EntityID:   ev.EntityID,
			EventType:  ev.EventType,
			Category:   string(ev.Category),
			ActorID:    ev.ActorID,
			OccurredAt: formatTime(ev.OccurredAt),
			RecordedAt: formatTime(ev.RecordedAt),
			Payload:    ev.Payload,
		}
	}
	return dtos
}

func toTransferDTO(t ledger.Transfer) TransferDTO {
	return TransferDTO{
		ID:                 string(t.ID),
		Number:             t.Number,
		SourceStoreID:      string(t.SourceStoreID),
		DestinationStoreID: string(t.DestinationStoreID),
		Status:             string(t.Status),
		Final:              ledger.TransferLifecycle.Terminal(t.Status),
		Notes:              t.Notes,
		CreatedBy:          t.CreatedBy,
		CreatedAt:          formatTime(t.CreatedAt),
		ApprovedBy:         t.ApprovedBy,
		ApprovedAt:         formatTimePtr(t.ApprovedAt),
		ShippedBy:          t.ShippedBy,
		ShippedAt:          formatTimePtr(t.ShippedAt),
		ReceivedBy:         t.ReceivedBy,
		ReceivedAt:         formatTimePtr(t.ReceivedAt),
		CancelledBy:        t.CancelledBy,
		CancelledAt:        formatTimePtr(t.CancelledAt),
	}
}

func toTransferLineDTO(l ledger.TransferLine) TransferLineDTO {
	return TransferLineDTO{
		ID:            l.ID,
		ProductID:     string(l.ProductID),
		Quantity:      l.Quantity,
		UnitCostCents: l.UnitCostCents,
		OutboundTxID:  txIDString(l.OutboundTxID),
		InboundTxID:   txIDString(l.InboundTxID),
	}
}

func toTransferDocumentDTO(doc transfer.Document) TransferDTO {
	dto := toTransferDTO(doc.Transfer)
	dto.Lines = make([]TransferLineDTO, len(doc.Lines))
	for i, l := range doc.Lines {
		dto.Lines[i] = toTransferLineDTO(l)
	}
	return dto
}

func toCountDTO(c ledger.Count) CountDTO {
	return CountDTO{
		ID:                    string(c.ID),
		Number:                c.Number,
		StoreID:               string(c.StoreID),
		Status:                string(c.Status),
		Final:                 ledger.CountLifecycle.Terminal(c.Status),
		Notes:                 c.Notes,
		TotalVarianceQuantity: c.TotalVarianceQuantity,
		TotalVarianceCents:    c.TotalVarianceCents,
		CreatedBy:             c.CreatedBy,
		CreatedAt:             formatTime(c.CreatedAt),
		ApprovedBy:            c.ApprovedBy,
		ApprovedAt:            formatTimePtr(c.ApprovedAt),
		PostedBy:              c.PostedBy,
		PostedAt:              formatTimePtr(c.PostedAt),
		CancelledBy:           c.CancelledBy,
		CancelledAt:           formatTimePtr(c.CancelledAt),
	}
}

func toCountLineDTO(l ledger.CountLine) CountLineDTO {
	return CountLineDTO{
		ID:                l.ID,
		ProductID:         string(l.ProductID),
		ExpectedQuantity:  l.ExpectedQuantity,
		ActualQuantity:    l.ActualQuantity,
		Variance:          l.Variance,
		UnitCostCents:     l.UnitCostCents,
		VarianceCostCents: l.VarianceCostCents,
		AdjustmentTxID:    txIDString(l.AdjustmentTxID),
	}
}

func toCountDocumentDTO(doc count.Document) CountDTO {
	dto := toCountDTO(doc.Count)
	dto.Lines = make([]CountLineDTO, len(doc.Lines))
	for i, l := range doc.Lines {
		dto.Lines[i] = toCountLineDTO(l)
	}
	return dto
}
