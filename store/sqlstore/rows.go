package sqlstore

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/warp/storeledger/ledger"
)

// =============================================================================
// ROW TYPES - Column mapping for sqlx
// =============================================================================
// Times are stored as UTC unix nanoseconds so ordering and range filters are
// plain integer comparisons on every dialect.

const transactionColumns = `id, store_id, product_id, tx_type, quantity, unit_cost_cents, status,
	inventory_state, occurred_at, created_at, sale_id, sale_line_id, unit_cost_cents_at_sale,
	cogs_cents, reference_type, reference_id, reason, created_by, approved_by, approved_at,
	posted_by, posted_at, cancelled_by, cancelled_at, version_id`

type transactionRow struct {
	ID                  string         `db:"id"`
	StoreID             string         `db:"store_id"`
	ProductID           string         `db:"product_id"`
	TxType              string         `db:"tx_type"`
	Quantity            int64          `db:"quantity"`
	UnitCostCents       sql.NullInt64  `db:"unit_cost_cents"`
	Status              string         `db:"status"`
	InventoryState      string         `db:"inventory_state"`
	OccurredAt          int64          `db:"occurred_at"`
	CreatedAt           int64          `db:"created_at"`
	SaleID              sql.NullString `db:"sale_id"`
	SaleLineID          sql.NullString `db:"sale_line_id"`
	UnitCostCentsAtSale sql.NullInt64  `db:"unit_cost_cents_at_sale"`
	COGSCents           sql.NullInt64  `db:"cogs_cents"`
	ReferenceType       sql.NullString `db:"reference_type"`
	ReferenceID         sql.NullString `db:"reference_id"`
	Reason              string         `db:"reason"`
	CreatedBy           string         `db:"created_by"`
	ApprovedBy          string         `db:"approved_by"`
	ApprovedAt          sql.NullInt64  `db:"approved_at"`
	PostedBy            string         `db:"posted_by"`
	PostedAt            sql.NullInt64  `db:"posted_at"`
	CancelledBy         string         `db:"cancelled_by"`
	CancelledAt         sql.NullInt64  `db:"cancelled_at"`
	VersionID           int64          `db:"version_id"`
}

func fromTransaction(t ledger.InventoryTransaction) transactionRow {
	return transactionRow{
		ID:                  string(t.ID),
		StoreID:             string(t.StoreID),
		ProductID:           string(t.ProductID),
		TxType:              string(t.Type),
		Quantity:            t.Quantity,
		UnitCostCents:       nullInt(t.UnitCostCents),
		Status:              string(t.Status),
		InventoryState:      string(t.InventoryState),
		OccurredAt:          t.OccurredAt.UnixNano(),
		CreatedAt:           t.CreatedAt.UnixNano(),
		SaleID:              nullStringPtr(t.SaleID),
		SaleLineID:          nullStringPtr(t.SaleLineID),
		UnitCostCentsAtSale: nullInt(t.UnitCostCentsAtSale),
		COGSCents:           nullInt(t.COGSCents),
		ReferenceType:       nullString(t.Reference.Type),
		ReferenceID:         nullString(t.Reference.ID),
		Reason:              t.Reason,
		CreatedBy:           t.CreatedBy,
		ApprovedBy:          t.ApprovedBy,
		ApprovedAt:          nullTime(t.ApprovedAt),
		PostedBy:            t.PostedBy,
		PostedAt:            nullTime(t.PostedAt),
		CancelledBy:         t.CancelledBy,
		CancelledAt:         nullTime(t.CancelledAt),
		VersionID:           t.VersionID,
	}
}

func (r transactionRow) toTransaction() ledger.InventoryTransaction {
	return ledger.InventoryTransaction{
		ID:                  ledger.TransactionID(r.ID),
		StoreID:             ledger.StoreID(r.StoreID),
		ProductID:           ledger.ProductID(r.ProductID),
		Type:                ledger.TransactionType(r.TxType),
		Quantity:            r.Quantity,
		UnitCostCents:       intPtr(r.UnitCostCents),
		Status:              ledger.Status(r.Status),
		InventoryState:      ledger.InventoryState(r.InventoryState),
		OccurredAt:          fromNanos(r.OccurredAt),
		CreatedAt:           fromNanos(r.CreatedAt),
		SaleID:              stringPtr(r.SaleID),
		SaleLineID:          stringPtr(r.SaleLineID),
		UnitCostCentsAtSale: intPtr(r.UnitCostCentsAtSale),
		COGSCents:           intPtr(r.COGSCents),
		Reference:           ledger.Reference{Type: r.ReferenceType.String, ID: r.ReferenceID.String},
		Reason:              r.Reason,
		CreatedBy:           r.CreatedBy,
		ApprovedBy:          r.ApprovedBy,
		ApprovedAt:          timePtr(r.ApprovedAt),
		PostedBy:            r.PostedBy,
		PostedAt:            timePtr(r.PostedAt),
		CancelledBy:         r.CancelledBy,
		CancelledAt:         timePtr(r.CancelledAt),
		VersionID:           r.VersionID,
	}
}

const eventColumns = `id, store_id, entity_type, entity_id, event_type, category, actor_id,
	occurred_at, recorded_at, payload_json`

type eventRow struct {
	ID          string `db:"id"`
	StoreID     string `db:"store_id"`
	EntityType  string `db:"entity_type"`
	EntityID    string `db:"entity_id"`
	EventType   string `db:"event_type"`
	Category    string `db:"category"`
	ActorID     string `db:"actor_id"`
	OccurredAt  int64  `db:"occurred_at"`
	RecordedAt  int64  `db:"recorded_at"`
	PayloadJSON string `db:"payload_json"`
}

func fromEvent(ev ledger.MasterLedgerEvent) (eventRow, error) {
	payload := ev.Payload
	if payload == nil {
		payload = map[string]string{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return eventRow{}, err
	}
	return eventRow{
		ID:          ev.ID,
		StoreID:     string(ev.StoreID),
		EntityType:  ev.EntityType,
		EntityID:    ev.EntityID,
		EventType:   ev.EventType,
		Category:    string(ev.Category),
		ActorID:     ev.ActorID,
		OccurredAt:  ev.OccurredAt.UnixNano(),
		RecordedAt:  ev.RecordedAt.UnixNano(),
		PayloadJSON: string(raw),
	}, nil
}

func (r eventRow) toEvent() (ledger.MasterLedgerEvent, error) {
	ev := ledger.MasterLedgerEvent{
		ID:         r.ID,
		StoreID:    ledger.StoreID(r.StoreID),
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		EventType:  r.EventType,
		Category:   ledger.EventCategory(r.Category),
		ActorID:    r.ActorID,
		OccurredAt: fromNanos(r.OccurredAt),
		RecordedAt: fromNanos(r.RecordedAt),
	}
	if r.PayloadJSON != "" {
		if err := json.Unmarshal([]byte(r.PayloadJSON), &ev.Payload); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

const transferColumns = `id, number, source_store_id, destination_store_id, status, notes,
	created_by, created_at, approved_by, approved_at, shipped_by, shipped_at,
	received_by, received_at, cancelled_by, cancelled_at, version_id`

type transferRow struct {
	ID                 string        `db:"id"`
	Number             string        `db:"number"`
	SourceStoreID      string        `db:"source_store_id"`
	DestinationStoreID string        `db:"destination_store_id"`
	Status             string        `db:"status"`
	Notes              string        `db:"notes"`
	CreatedBy          string        `db:"created_by"`
	CreatedAt          int64         `db:"created_at"`
	ApprovedBy         string        `db:"approved_by"`
	ApprovedAt         sql.NullInt64 `db:"approved_at"`
	ShippedBy          string        `db:"shipped_by"`
	ShippedAt          sql.NullInt64 `db:"shipped_at"`
	ReceivedBy         string        `db:"received_by"`
	ReceivedAt         sql.NullInt64 `db:"received_at"`
	CancelledBy        string        `db:"cancelled_by"`
	CancelledAt        sql.NullInt64 `db:"cancelled_at"`
	VersionID          int64         `db:"version_id"`
}

func fromTransfer(t ledger.Transfer) transferRow {
	return transferRow{
		ID:                 string(t.ID),
		Number:             t.Number,
		SourceStoreID:      string(t.SourceStoreID),
		DestinationStoreID: string(t.DestinationStoreID),
		Status:             string(t.Status),
		Notes:              t.Notes,
		CreatedBy:          t.CreatedBy,
		CreatedAt:          t.CreatedAt.UnixNano(),
		ApprovedBy:         t.ApprovedBy,
		ApprovedAt:         nullTime(t.ApprovedAt),
		ShippedBy:          t.ShippedBy,
		ShippedAt:          nullTime(t.ShippedAt),
		ReceivedBy:         t.ReceivedBy,
		ReceivedAt:         nullTime(t.ReceivedAt),
		CancelledBy:        t.CancelledBy,
		CancelledAt:        nullTime(t.CancelledAt),
		VersionID:          t.VersionID,
	}
}

func (r transferRow) toTransfer() ledger.Transfer {
	return ledger.Transfer{
		ID:                 ledger.TransferID(r.ID),
		Number:             r.Number,
		SourceStoreID:      ledger.StoreID(r.SourceStoreID),
		DestinationStoreID: ledger.StoreID(r.DestinationStoreID),
		Status:             ledger.TransferStatus(r.Status),
		Notes:              r.Notes,
		CreatedBy:          r.CreatedBy,
		CreatedAt:          fromNanos(r.CreatedAt),
		ApprovedBy:         r.ApprovedBy,
		ApprovedAt:         timePtr(r.ApprovedAt),
		ShippedBy:          r.ShippedBy,
		ShippedAt:          timePtr(r.ShippedAt),
		ReceivedBy:         r.ReceivedBy,
		ReceivedAt:         timePtr(r.ReceivedAt),
		CancelledBy:        r.CancelledBy,
		CancelledAt:        timePtr(r.CancelledAt),
		VersionID:          r.VersionID,
	}
}

const transferLineColumns = `id, transfer_id, product_id, quantity, unit_cost_cents,
	outbound_tx_id, inbound_tx_id, created_at, version_id`

type transferLineRow struct {
	ID            string         `db:"id"`
	TransferID    string         `db:"transfer_id"`
	ProductID     string         `db:"product_id"`
	Quantity      int64          `db:"quantity"`
	UnitCostCents sql.NullInt64  `db:"unit_cost_cents"`
	OutboundTxID  sql.NullString `db:"outbound_tx_id"`
	InboundTxID   sql.NullString `db:"inbound_tx_id"`
	CreatedAt     int64          `db:"created_at"`
	VersionID     int64          `db:"version_id"`
}

func fromTransferLine(l ledger.TransferLine) transferLineRow {
	return transferLineRow{
		ID:            l.ID,
		TransferID:    string(l.TransferID),
		ProductID:     string(l.ProductID),
		Quantity:      l.Quantity,
		UnitCostCents: nullInt(l.UnitCostCents),
		OutboundTxID:  nullTxID(l.OutboundTxID),
		InboundTxID:   nullTxID(l.InboundTxID),
		CreatedAt:     l.CreatedAt.UnixNano(),
		VersionID:     l.VersionID,
	}
}

func (r transferLineRow) toTransferLine() ledger.TransferLine {
	return ledger.TransferLine{
		ID:            r.ID,
		TransferID:    ledger.TransferID(r.TransferID),
		ProductID:     ledger.ProductID(r.ProductID),
		Quantity:      r.Quantity,
		UnitCostCents: intPtr(r.UnitCostCents),
		OutboundTxID:  txIDPtr(r.OutboundTxID),
		InboundTxID:   txIDPtr(r.InboundTxID),
		CreatedAt:     fromNanos(r.CreatedAt),
		VersionID:     r.VersionID,
	}
}

const countColumns = `id, number, store_id, status, notes, total_variance_quantity,
	total_variance_cents, created_by, created_at, approved_by, approved_at, posted_by,
	posted_at, cancelled_by, cancelled_at, version_id`

type countRow struct {
	ID                    string        `db:"id"`
	Number                string        `db:"number"`
	StoreID               string        `db:"store_id"`
	Status                string        `db:"status"`
	Notes                 string        `db:"notes"`
	TotalVarianceQuantity int64         `db:"total_variance_quantity"`
	TotalVarianceCents    int64         `db:"total_variance_cents"`
	CreatedBy             string        `db:"created_by"`
	CreatedAt             int64         `db:"created_at"`
	ApprovedBy            string        `db:"approved_by"`
	ApprovedAt            sql.NullInt64 `db:"approved_at"`
	PostedBy              string        `db:"posted_by"`
	PostedAt              sql.NullInt64 `db:"posted_at"`
	CancelledBy           string        `db:"cancelled_by"`
	CancelledAt           sql.NullInt64 `db:"cancelled_at"`
	VersionID             int64         `db:"version_id"`
}

func fromCount(c ledger.Count) countRow {
	return countRow{
		ID:                    string(c.ID),
		Number:                c.Number,
		StoreID:               string(c.StoreID),
		Status:                string(c.Status),
		Notes:                 c.Notes,
		TotalVarianceQuantity: c.TotalVarianceQuantity,
		TotalVarianceCents:    c.TotalVarianceCents,
		CreatedBy:             c.CreatedBy,
		CreatedAt:             c.CreatedAt.UnixNano(),
		ApprovedBy:            c.ApprovedBy,
		ApprovedAt:            nullTime(c.ApprovedAt),
		PostedBy:              c.PostedBy,
		PostedAt:              nullTime(c.PostedAt),
		CancelledBy:           c.CancelledBy,
		CancelledAt:           nullTime(c.CancelledAt),
		VersionID:             c.VersionID,
	}
}

func (r countRow) toCount() ledger.Count {
	return ledger.Count{
		ID:                    ledger.CountID(r.ID),
		Number:                r.Number,
		StoreID:               ledger.StoreID(r.StoreID),
		Status:                ledger.CountStatus(r.Status),
		Notes:                 r.Notes,
		TotalVarianceQuantity: r.TotalVarianceQuantity,
		TotalVarianceCents:    r.TotalVarianceCents,
		CreatedBy:             r.CreatedBy,
		CreatedAt:             fromNanos(r.CreatedAt),
		ApprovedBy:            r.ApprovedBy,
		ApprovedAt:            timePtr(r.ApprovedAt),
		PostedBy:              r.PostedBy,
		PostedAt:              timePtr(r.PostedAt),
		CancelledBy:           r.CancelledBy,
		CancelledAt:           timePtr(r.CancelledAt),
		VersionID:             r.VersionID,
	}
}

const countLineColumns = `id, count_id, product_id, expected_quantity, actual_quantity,
	variance, unit_cost_cents, variance_cost_cents, adjustment_tx_id, created_at, version_id`

type countLineRow struct {
	ID                string         `db:"id"`
	CountID           string         `db:"count_id"`
	ProductID         string         `db:"product_id"`
	ExpectedQuantity  int64          `db:"expected_quantity"`
	ActualQuantity    int64          `db:"actual_quantity"`
	Variance          int64          `db:"variance"`
	UnitCostCents     int64          `db:"unit_cost_cents"`
	VarianceCostCents int64          `db:"variance_cost_cents"`
	AdjustmentTxID    sql.NullString `db:"adjustment_tx_id"`
	CreatedAt         int64          `db:"created_at"`
	VersionID         int64          `db:"version_id"`
}

func fromCountLine(l ledger.CountLine) countLineRow {
	return countLineRow{
		ID:                l.ID,
		CountID:           string(l.CountID),
		ProductID:         string(l.ProductID),
		ExpectedQuantity:  l.ExpectedQuantity,
		ActualQuantity:    l.ActualQuantity,
		Variance:          l.Variance,
		UnitCostCents:     l.UnitCostCents,
		VarianceCostCents: l.VarianceCostCents,
		AdjustmentTxID:    nullTxID(l.AdjustmentTxID),
		CreatedAt:         l.CreatedAt.UnixNano(),
		VersionID:         l.VersionID,
	}
}

func (r countLineRow) toCountLine() ledger.CountLine {
	return ledger.CountLine{
		ID:                r.ID,
		CountID:           ledger.CountID(r.CountID),
		ProductID:         ledger.ProductID(r.ProductID),
		ExpectedQuantity:  r.ExpectedQuantity,
		ActualQuantity:    r.ActualQuantity,
		Variance:          r.Variance,
		UnitCostCents:     r.UnitCostCents,
		VarianceCostCents: r.VarianceCostCents,
		AdjustmentTxID:    txIDPtr(r.AdjustmentTxID),
		CreatedAt:         fromNanos(r.CreatedAt),
		VersionID:         r.VersionID,
	}
}

// =============================================================================
// NULL HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullTxID(id *ledger.TransactionID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func txIDPtr(n sql.NullString) *ledger.TransactionID {
	if !n.Valid {
		return nil
	}
	id := ledger.TransactionID(n.String)
	return &id
}
