/*
documents.go - Transfer and count documents

PURPOSE:
  Transfers and counts are multi-line documents that generate inventory
  transactions when they reach the right state. The documents own their
  lines; a line points one-way at the transaction(s) it produced.

TRANSFER:
  PENDING (lines added) → APPROVED → IN_TRANSIT (source decremented, cost
  frozen on each line) → RECEIVED (destination incremented at the frozen
  cost). CANCELLED is reachable from PENDING or APPROVED only.

COUNT:
  PENDING (lines capture expected vs actual) → APPROVED (totals frozen) →
  POSTED (one ADJUST per non-zero variance line). CANCELLED is reachable
  from PENDING or APPROVED only.

SEE ALSO:
  - transfer/service.go: transfer workflow
  - count/service.go: count workflow
*/
package ledger

import (
	"time"

	"github.com/warp/storeledger/lifecycle"
)

// Document types used by the sequencer, the master ledger and references.
const (
	DocumentTransfer = "transfer"
	DocumentCount    = "count"
)

// =============================================================================
// TRANSFER
// =============================================================================

type TransferID string

type TransferStatus string

const (
	TransferPending   TransferStatus = "PENDING"
	TransferApproved  TransferStatus = "APPROVED"
	TransferInTransit TransferStatus = "IN_TRANSIT"
	TransferReceived  TransferStatus = "RECEIVED"
	TransferCancelled TransferStatus = "CANCELLED"
)

var TransferLifecycle = lifecycle.New(DocumentTransfer,
	lifecycle.Edge[TransferStatus]{From: TransferPending, To: TransferApproved},
	lifecycle.Edge[TransferStatus]{From: TransferApproved, To: TransferInTransit},
	lifecycle.Edge[TransferStatus]{From: TransferInTransit, To: TransferReceived},
	lifecycle.Edge[TransferStatus]{From: TransferPending, To: TransferCancelled},
	lifecycle.Edge[TransferStatus]{From: TransferApproved, To: TransferCancelled},
)

type Transfer struct {
	ID                 TransferID
	Number             string
	SourceStoreID      StoreID
	DestinationStoreID StoreID
	Status             TransferStatus
	Notes              string

	CreatedBy   string
	CreatedAt   time.Time
	ApprovedBy  string
	ApprovedAt  *time.Time
	ShippedBy   string
	ShippedAt   *time.Time
	ReceivedBy  string
	ReceivedAt  *time.Time
	CancelledBy string
	CancelledAt *time.Time

	VersionID int64
}

// Transition returns a copy of t moved to status `to`, stamped with the actor.
func (t Transfer) Transition(to TransferStatus, actor string, at time.Time) (Transfer, error) {
	if err := TransferLifecycle.Check(string(t.ID), t.Status, to); err != nil {
		return t, err
	}
	t.Status = to
	switch to {
	case TransferApproved:
		t.ApprovedBy, t.ApprovedAt = actor, &at
	case TransferInTransit:
		t.ShippedBy, t.ShippedAt = actor, &at
	case TransferReceived:
		t.ReceivedBy, t.ReceivedAt = actor, &at
	case TransferCancelled:
		t.CancelledBy, t.CancelledAt = actor, &at
	}
	return t, nil
}

type TransferLine struct {
	ID         string
	TransferID TransferID
	ProductID  ProductID
	Quantity   int64

	// Frozen at ship time and reused unchanged at receive time.
	UnitCostCents *int64

	OutboundTxID *TransactionID
	InboundTxID  *TransactionID

	CreatedAt time.Time
	VersionID int64
}

// =============================================================================
// COUNT
// =============================================================================

type CountID string

type CountStatus string

const (
	CountPending   CountStatus = "PENDING"
	CountApproved  CountStatus = "APPROVED"
	CountPosted    CountStatus = "POSTED"
	CountCancelled CountStatus = "CANCELLED"
)

var CountLifecycle = lifecycle.New(DocumentCount,
	lifecycle.Edge[CountStatus]{From: CountPending, To: CountApproved},
	lifecycle.Edge[CountStatus]{From: CountApproved, To: CountPosted},
	lifecycle.Edge[CountStatus]{From: CountPending, To: CountCancelled},
	lifecycle.Edge[CountStatus]{From: CountApproved, To: CountCancelled},
)

type Count struct {
	ID      CountID
	Number  string
	StoreID StoreID
	Status  CountStatus
	Notes   string

	// Frozen at approval.
	TotalVarianceQuantity int64
	TotalVarianceCents    int64

	CreatedBy   string
	CreatedAt   time.Time
	ApprovedBy  string
	ApprovedAt  *time.Time
	PostedBy    string
	PostedAt    *time.Time
	CancelledBy string
	CancelledAt *time.Time

	VersionID int64
}

// Transition returns a copy of c moved to status `to`, stamped with the actor.
func (c Count) Transition(to CountStatus, actor string, at time.Time) (Count, error) {
	if err := CountLifecycle.Check(string(c.ID), c.Status, to); err != nil {
		return c, err
	}
	c.Status = to
	switch to {
	case CountApproved:
		c.ApprovedBy, c.ApprovedAt = actor, &at
	case CountPosted:
		c.PostedBy, c.PostedAt = actor, &at
	case CountCancelled:
		c.CancelledBy, c.CancelledAt = actor, &at
	}
	return c, nil
}

type CountLine struct {
	ID        string
	CountID   CountID
	ProductID ProductID

	ExpectedQuantity int64
	ActualQuantity   int64
	Variance         int64

	UnitCostCents     int64
	VarianceCostCents int64

	AdjustmentTxID *TransactionID

	CreatedAt time.Time
	VersionID int64
}
