/*
Package ledger provides the store inventory ledger engine.

PURPOSE:
  This package holds the append-only inventory transaction log and the
  engine that computes stock positions from it. Receiving, selling,
  adjusting, transferring and counting all end up as InventoryTransaction
  rows; on-hand quantity and weighted average cost are always replayed from
  POSTED rows, never cached.

KEY CONCEPTS IN THIS FILE (types.go):
  - InventoryTransaction: one signed movement in a (store, product) stream
  - TransactionType: RECEIVE, SALE, ADJUST, TRANSFER
  - Status: DRAFT → APPROVED → POSTED (or CANCELLED)
  - InventoryState: SELLABLE or IN_TRANSIT

DESIGN PRINCIPLES:
  1. Append-only: rows are never deleted; corrections are new rows
  2. Immutable once POSTED: cost snapshots on SALE rows never change
  3. Explicit transitions: status only moves through TransactionLifecycle
  4. Integer money: costs are cents; division happens in valuation.go

USAGE:
  engine := ledger.NewEngine(store)
  tx, err := engine.Receive(ctx, ledger.ReceiveInput{
      StoreID:       "store-1",
      ProductID:     "sku-42",
      Quantity:      10,
      UnitCostCents: 100,
  })

SEE ALSO:
  - engine.go: operations on the ledger
  - valuation.go: on-hand and WAC replay
  - store.go: persistence contract
*/
package ledger

import (
	"time"

	"github.com/warp/storeledger/lifecycle"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type StoreID string
type ProductID string
type TransactionID string

// =============================================================================
// ENUMS
// =============================================================================

type TransactionType string

const (
	TxReceive  TransactionType = "RECEIVE"
	TxSale     TransactionType = "SALE"
	TxAdjust   TransactionType = "ADJUST"
	TxTransfer TransactionType = "TRANSFER"
)

// Status is the lifecycle state of an inventory transaction.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusApproved  Status = "APPROVED"
	StatusPosted    Status = "POSTED"
	StatusCancelled Status = "CANCELLED"
)

// TransactionLifecycle is the only path a transaction status may take.
var TransactionLifecycle = lifecycle.New("inventory_transaction",
	lifecycle.Edge[Status]{From: StatusDraft, To: StatusApproved},
	lifecycle.Edge[Status]{From: StatusApproved, To: StatusPosted},
	lifecycle.Edge[Status]{From: StatusDraft, To: StatusCancelled},
	lifecycle.Edge[Status]{From: StatusApproved, To: StatusCancelled},
)

// InventoryState tags where the moved units physically are.
type InventoryState string

const (
	StateSellable  InventoryState = "SELLABLE"
	StateInTransit InventoryState = "IN_TRANSIT"
)

// Reference links a transaction back to the document that generated it.
type Reference struct {
	Type string // "transfer", "count"
	ID   string
}

// =============================================================================
// INVENTORY TRANSACTION - Atomic movement in a (store, product) stream
// =============================================================================

type InventoryTransaction struct {
	ID        TransactionID
	StoreID   StoreID
	ProductID ProductID
	Type      TransactionType

	// Signed quantity delta: positive adds stock, negative removes it.
	Quantity int64

	// Set on RECEIVE rows and on TRANSFER rows (cost frozen at ship time).
	UnitCostCents *int64

	Status         Status
	InventoryState InventoryState

	OccurredAt time.Time // business time
	CreatedAt  time.Time // system time

	// Idempotency key for SALE rows, unique per store when both are set.
	SaleID     *string
	SaleLineID *string

	// SALE cost snapshot, frozen at sale time.
	UnitCostCentsAtSale *int64
	COGSCents           *int64

	Reference Reference
	Reason    string

	CreatedBy   string
	ApprovedBy  string
	ApprovedAt  *time.Time
	PostedBy    string
	PostedAt    *time.Time
	CancelledBy string
	CancelledAt *time.Time

	// Optimistic concurrency counter, bumped by the store on every update.
	VersionID int64
}

// IsPosted reports whether the row counts toward inventory math.
func (t InventoryTransaction) IsPosted() bool { return t.Status == StatusPosted }

// Approve returns the approved copy of t. Requires DRAFT.
func (t InventoryTransaction) Approve(actor string, at time.Time) (InventoryTransaction, error) {
	if err := TransactionLifecycle.Check(string(t.ID), t.Status, StatusApproved); err != nil {
		return t, err
	}
	t.Status = StatusApproved
	t.ApprovedBy = actor
	t.ApprovedAt = &at
	return t, nil
}

// Post returns the posted copy of t. Requires APPROVED.
func (t InventoryTransaction) Post(actor string, at time.Time) (InventoryTransaction, error) {
	if err := TransactionLifecycle.Check(string(t.ID), t.Status, StatusPosted); err != nil {
		return t, err
	}
	t.Status = StatusPosted
	t.PostedBy = actor
	t.PostedAt = &at
	return t, nil
}

// Cancel returns the cancelled copy of t. Requires DRAFT or APPROVED.
func (t InventoryTransaction) Cancel(actor string, at time.Time) (InventoryTransaction, error) {
	if err := TransactionLifecycle.Check(string(t.ID), t.Status, StatusCancelled); err != nil {
		return t, err
	}
	t.Status = StatusCancelled
	t.CancelledBy = actor
	t.CancelledAt = &at
	return t, nil
}

// =============================================================================
// POSITION - Computed stock state at a point in time
// =============================================================================

type Position struct {
	StoreID   StoreID
	ProductID ProductID
	AsOf      time.Time

	OnHand int64

	// Weighted average cost in cents; zero when HasCostBasis is false.
	UnitCostCents int64
	HasCostBasis  bool

	ReceivedUnits int64
	ReceivedCents int64
}

// =============================================================================
// HELPERS
// =============================================================================

func int64Ptr(v int64) *int64 { return &v }

func stringPtr(s string) *string { return &s }
