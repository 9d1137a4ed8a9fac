/*
store.go - Persistence interface for the ledger

PURPOSE:
  Defines the boundary between ledger logic and the database. Every mutating
  operation runs inside exactly one unit of work (Store.WithTx) and receives
  an explicit Tx handle; there is no ambient session.

KEY INTERFACES:
  Reader: read-only queries, usable on the Store or inside a Tx
  Tx:     Reader plus locks and writes, valid only inside WithTx
  Store:  Reader plus WithTx

APPEND-ONLY CONTRACT:
  Inventory transactions and master ledger events are inserted, never
  deleted. UpdateTransaction may only carry lifecycle fields forward; the
  engine never passes a POSTED row to it.

LOCKING:
  LockTransaction / LockTransfer / LockCount take a row lock on one document
  for the rest of the unit of work (SELECT ... FOR UPDATE or equivalent).
  LockStream serialises check-then-insert on one (store, product) stream.

OPTIMISTIC VERSIONS:
  Update* methods compare VersionID and bump it. A mismatch, a database
  serialization failure, or a raced unique key surfaces as ErrConflict so
  RunWithRetry can replay the whole unit of work.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and dev
  - store/sqlite: SQLite via database/sql
  - store/postgres: PostgreSQL via pgx

SEE ALSO:
  - engine.go: consumer of this interface
  - retry.go: the retry wrapper around WithTx
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// READER - Queries shared by Store and Tx
// =============================================================================

type Reader interface {
	// GetTransaction returns a *NotFoundError if id is unknown.
	GetTransaction(ctx context.Context, id TransactionID) (InventoryTransaction, error)

	// FindSale looks up the row holding the (store, sale, line) idempotency key.
	FindSale(ctx context.Context, storeID StoreID, saleID, saleLineID string) (InventoryTransaction, bool, error)

	// ListStream returns every row of a stream, any status, ordered by
	// OccurredAt then CreatedAt.
	ListStream(ctx context.Context, storeID StoreID, productID ProductID) ([]InventoryTransaction, error)

	// ListPosted returns POSTED rows with OccurredAt <= asOf, same ordering.
	ListPosted(ctx context.Context, storeID StoreID, productID ProductID, asOf time.Time) ([]InventoryTransaction, error)

	// ListEvents returns master ledger rows ordered by OccurredAt then RecordedAt.
	ListEvents(ctx context.Context, filter EventFilter) ([]MasterLedgerEvent, error)

	GetTransfer(ctx context.Context, id TransferID) (Transfer, error)
	ListTransferLines(ctx context.Context, id TransferID) ([]TransferLine, error)

	GetCount(ctx context.Context, id CountID) (Count, error)
	ListCountLines(ctx context.Context, id CountID) ([]CountLine, error)
}

// =============================================================================
// TX - One unit of work
// =============================================================================

type Tx interface {
	Reader

	// LockStream serialises writers on one (store, product) stream.
	LockStream(ctx context.Context, storeID StoreID, productID ProductID) error

	LockTransaction(ctx context.Context, id TransactionID) (InventoryTransaction, error)
	InsertTransaction(ctx context.Context, tx InventoryTransaction) error
	UpdateTransaction(ctx context.Context, tx InventoryTransaction) (InventoryTransaction, error)

	AppendEvent(ctx context.Context, ev MasterLedgerEvent) error

	// NextSequence atomically increments and returns the counter for
	// (store, document type), starting at 1.
	NextSequence(ctx context.Context, storeID StoreID, documentType string) (int64, error)

	InsertTransfer(ctx context.Context, t Transfer) error
	LockTransfer(ctx context.Context, id TransferID) (Transfer, error)
	UpdateTransfer(ctx context.Context, t Transfer) (Transfer, error)
	InsertTransferLine(ctx context.Context, line TransferLine) error
	UpdateTransferLine(ctx context.Context, line TransferLine) (TransferLine, error)

	InsertCount(ctx context.Context, c Count) error
	LockCount(ctx context.Context, id CountID) (Count, error)
	UpdateCount(ctx context.Context, c Count) (Count, error)
	InsertCountLine(ctx context.Context, line CountLine) error
	UpdateCountLine(ctx context.Context, line CountLine) (CountLine, error)
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	Reader

	// WithTx executes fn within one unit of work.
	// If fn returns error, every write is rolled back.
	// If fn returns nil, the unit of work is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error
}
