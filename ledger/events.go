/*
events.go - Master ledger (cross-domain audit spine)

PURPOSE:
  Every business-significant state change appends one MasterLedgerEvent in
  the same unit of work that made the change. Reporting and UI layers read
  these rows filtered by store, entity and time; nothing ever updates them.

EMISSION RULES:
  - Inventory transaction: exactly one "inventory_transaction.posted" event
    at the moment the row becomes POSTED (created POSTED, or via Post).
    Approving or cancelling a raw transaction has no inventory effect and
    emits nothing.
  - Transfer and count: one event per lifecycle transition and per added
    line, scoped to the acting store.
  - Replayed sales emit nothing.

SEE ALSO:
  - engine.go: EmitTx, emitPosted
  - store.go: Tx.AppendEvent, Reader.ListEvents
*/
package ledger

import "time"

type EventCategory string

const (
	CategoryInventory EventCategory = "inventory"
	CategoryTransfer  EventCategory = "transfer"
	CategoryCount     EventCategory = "count"
)

// Entity types referenced by events.
const (
	EntityInventoryTransaction = "inventory_transaction"
	EntityTransfer             = DocumentTransfer
	EntityCount                = DocumentCount
)

// Event types.
const (
	EventTransactionPosted = "inventory_transaction.posted"

	EventTransferCreated   = "transfer.created"
	EventTransferLineAdded = "transfer.line_added"
	EventTransferApproved  = "transfer.approved"
	EventTransferShipped   = "transfer.shipped"
	EventTransferReceived  = "transfer.received"
	EventTransferCancelled = "transfer.cancelled"

	EventCountCreated   = "count.created"
	EventCountLineAdded = "count.line_added"
	EventCountApproved  = "count.approved"
	EventCountPosted    = "count.posted"
	EventCountCancelled = "count.cancelled"
)

type MasterLedgerEvent struct {
	ID         string
	StoreID    StoreID
	EntityType string
	EntityID   string
	EventType  string
	Category   EventCategory
	ActorID    string
	OccurredAt time.Time // business time of the fact
	RecordedAt time.Time // system time of the append
	Payload    map[string]string
}

// EventFilter selects master ledger rows. Zero fields match everything.
type EventFilter struct {
	StoreID    StoreID
	EntityType string
	EntityID   string
	From       *time.Time
	To         *time.Time
	Limit      int
}

// Matches reports whether ev passes the filter (Limit is ignored).
func (f EventFilter) Matches(ev MasterLedgerEvent) bool {
	if f.StoreID != "" && ev.StoreID != f.StoreID {
		return false
	}
	if f.EntityType != "" && ev.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && ev.EntityID != f.EntityID {
		return false
	}
	if f.From != nil && ev.OccurredAt.Before(*f.From) {
		return false
	}
	if f.To != nil && ev.OccurredAt.After(*f.To) {
		return false
	}
	return true
}
