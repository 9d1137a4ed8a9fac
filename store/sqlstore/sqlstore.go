/*
Package sqlstore implements ledger.Store on top of database/sql via sqlx.

PURPOSE:
  SQLite and PostgreSQL share one implementation. A Dialect supplies the
  small differences: the row-lock suffix, the auto-increment column and the
  classification of driver errors into ledger.ErrConflict.

UNIT OF WORK:
  WithTx opens one database transaction, hands fn a Tx bound to it, and
  commits only if fn returns nil. Every read inside fn goes through the same
  transaction so it sees its own writes and holds its locks.

APPEND-ONLY ENFORCEMENT:
  - No DELETE statements on any table
  - UPDATE on inventory_transactions touches lifecycle columns only and
    refuses POSTED rows
  - Master ledger rows are insert-only

LOCKING:
  LockStream upserts a row in inventory_streams and, where the dialect has
  row locks, selects it FOR UPDATE. Document locks select the document row
  FOR UPDATE. SQLite takes the database write lock at BEGIN instead.

OPTIMISTIC VERSIONS:
  Every UPDATE carries "WHERE version_id = ?" and bumps it. Zero affected
  rows means another writer won; the unit of work fails with ErrConflict.

SEE ALSO:
  - store/sqlite: SQLite dialect and opener
  - store/postgres: PostgreSQL dialect and opener
  - ledger/store.go: the interface implemented here
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/warp/storeledger/ledger"
)

// Dialect captures what differs between database engines.
type Dialect struct {
	Name string

	// ForUpdate is appended to SELECTs that must row-lock, e.g. " FOR UPDATE".
	ForUpdate string

	// SerialPrimaryKey declares an auto-increment primary key column.
	SerialPrimaryKey string

	// IsConflict reports driver errors that a replay may resolve:
	// serialization failures, deadlocks, busy databases, raced unique keys.
	IsConflict func(error) bool

	// TxOptions are passed to BeginTxx; nil uses the driver default.
	TxOptions *sql.TxOptions
}

func (d Dialect) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if d.IsConflict != nil && d.IsConflict(err) {
		return fmt.Errorf("%w: %s: %v", ledger.ErrConflict, op, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// =============================================================================
// STORE
// =============================================================================

type Store struct {
	queries
	db *sqlx.DB
}

// New wraps an open database. Call Migrate before first use.
func New(db *sqlx.DB, dialect Dialect) *Store {
	return &Store{
		queries: queries{ext: db, dialect: dialect},
		db:      db,
	}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range Schema(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return nil
}

func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Ping checks connectivity, for health endpoints.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, s.dialect.TxOptions)
	if err != nil {
		return s.dialect.wrap("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries: queries{ext: sqlTx, dialect: s.dialect}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return s.dialect.wrap("commit transaction", err)
	}
	return nil
}

// =============================================================================
// QUERIES (ledger.Reader) - Shared by Store and txStore
// =============================================================================

type queries struct {
	ext     sqlx.ExtContext
	dialect Dialect
}

func (q queries) get(ctx context.Context, op string, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return q.dialect.wrap(op, err)
	}
	return err
}

func (q queries) selectRows(ctx context.Context, op string, dest any, query string, args ...any) error {
	if err := sqlx.SelectContext(ctx, q.ext, dest, q.ext.Rebind(query), args...); err != nil {
		return q.dialect.wrap(op, err)
	}
	return nil
}

func (q queries) exec(ctx context.Context, op string, query string, args ...any) (sql.Result, error) {
	res, err := q.ext.ExecContext(ctx, q.ext.Rebind(query), args...)
	if err != nil {
		return nil, q.dialect.wrap(op, err)
	}
	return res, nil
}

func (q queries) namedExec(ctx context.Context, op string, query string, arg any) (sql.Result, error) {
	res, err := sqlx.NamedExecContext(ctx, q.ext, query, arg)
	if err != nil {
		return nil, q.dialect.wrap(op, err)
	}
	return res, nil
}

func (q queries) GetTransaction(ctx context.Context, id ledger.TransactionID) (ledger.InventoryTransaction, error) {
	return q.getTransaction(ctx, id, "")
}

func (q queries) getTransaction(ctx context.Context, id ledger.TransactionID, suffix string) (ledger.InventoryTransaction, error) {
	var row transactionRow
	err := q.get(ctx, "get inventory transaction", &row,
		`SELECT `+transactionColumns+` FROM inventory_transactions WHERE id = ?`+suffix, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.InventoryTransaction{}, ledger.NewNotFound(ledger.EntityInventoryTransaction, string(id))
	}
	if err != nil {
		return ledger.InventoryTransaction{}, err
	}
	return row.toTransaction(), nil
}

func (q queries) FindSale(ctx context.Context, storeID ledger.StoreID, saleID, saleLineID string) (ledger.InventoryTransaction, bool, error) {
	var row transactionRow
	err := q.get(ctx, "find sale", &row,
		`SELECT `+transactionColumns+` FROM inventory_transactions
		 WHERE store_id = ? AND sale_id = ? AND sale_line_id = ?`,
		string(storeID), saleID, saleLineID)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.InventoryTransaction{}, false, nil
	}
	if err != nil {
		return ledger.InventoryTransaction{}, false, err
	}
	return row.toTransaction(), true, nil
}

func (q queries) ListStream(ctx context.Context, storeID ledger.StoreID, productID ledger.ProductID) ([]ledger.InventoryTransaction, error) {
	var rows []transactionRow
	err := q.selectRows(ctx, "list stream", &rows,
		`SELECT `+transactionColumns+` FROM inventory_transactions
		 WHERE store_id = ? AND product_id = ?
		 ORDER BY occurred_at ASC, created_at ASC, seq ASC`,
		string(storeID), string(productID))
	if err != nil {
		return nil, err
	}
	return toTransactions(rows), nil
}

func (q queries) ListPosted(ctx context.Context, storeID ledger.StoreID, productID ledger.ProductID, asOf time.Time) ([]ledger.InventoryTransaction, error) {
	var rows []transactionRow
	err := q.selectRows(ctx, "list posted", &rows,
		`SELECT `+transactionColumns+` FROM inventory_transactions
		 WHERE store_id = ? AND product_id = ? AND status = ? AND occurred_at <= ?
		 ORDER BY occurred_at ASC, created_at ASC, seq ASC`,
		string(storeID), string(productID), string(ledger.StatusPosted), asOf.UnixNano())
	if err != nil {
		return nil, err
	}
	return toTransactions(rows), nil
}

func toTransactions(rows []transactionRow) []ledger.InventoryTransaction {
	out := make([]ledger.InventoryTransaction, len(rows))
	for i, r := range rows {
		out[i] = r.toTransaction()
	}
	return out
}

func (q queries) ListEvents(ctx context.Context, filter ledger.EventFilter) ([]ledger.MasterLedgerEvent, error) {
	var (
		where []string
		args  []any
	)
	if filter.StoreID != "" {
		where = append(where, "store_id = ?")
		args = append(args, string(filter.StoreID))
	}
	if filter.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.From != nil {
		where = append(where, "occurred_at >= ?")
		args = append(args, filter.From.UnixNano())
	}
	if filter.To != nil {
		where = append(where, "occurred_at <= ?")
		args = append(args, filter.To.UnixNano())
	}

	query := `SELECT ` + eventColumns + ` FROM master_ledger_events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY occurred_at ASC, recorded_at ASC, seq ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []eventRow
	if err := q.selectRows(ctx, "list events", &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]ledger.MasterLedgerEvent, 0, len(rows))
	for _, r := range rows {
		ev, err := r.toEvent()
		if err != nil {
			return nil, fmt.Errorf("failed to decode event %s: %w", r.ID, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (q queries) GetTransfer(ctx context.Context, id ledger.TransferID) (ledger.Transfer, error) {
	return q.getTransfer(ctx, id, "")
}

func (q queries) getTransfer(ctx context.Context, id ledger.TransferID, suffix string) (ledger.Transfer, error) {
	var row transferRow
	err := q.get(ctx, "get transfer", &row,
		`SELECT `+transferColumns+` FROM transfers WHERE id = ?`+suffix, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transfer{}, ledger.NewNotFound(ledger.EntityTransfer, string(id))
	}
	if err != nil {
		return ledger.Transfer{}, err
	}
	return row.toTransfer(), nil
}

func (q queries) ListTransferLines(ctx context.Context, id ledger.TransferID) ([]ledger.TransferLine, error) {
	var rows []transferLineRow
	err := q.selectRows(ctx, "list transfer lines", &rows,
		`SELECT `+transferLineColumns+` FROM transfer_lines
		 WHERE transfer_id = ? ORDER BY created_at ASC, id ASC`, string(id))
	if err != nil {
		return nil, err
	}
	out := make([]ledger.TransferLine, len(rows))
	for i, r := range rows {
		out[i] = r.toTransferLine()
	}
	return out, nil
}

func (q queries) GetCount(ctx context.Context, id ledger.CountID) (ledger.Count, error) {
	return q.getCount(ctx, id, "")
}

func (q queries) getCount(ctx context.Context, id ledger.CountID, suffix string) (ledger.Count, error) {
	var row countRow
	err := q.get(ctx, "get count", &row,
		`SELECT `+countColumns+` FROM stock_counts WHERE id = ?`+suffix, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Count{}, ledger.NewNotFound(ledger.EntityCount, string(id))
	}
	if err != nil {
		return ledger.Count{}, err
	}
	return row.toCount(), nil
}

func (q queries) ListCountLines(ctx context.Context, id ledger.CountID) ([]ledger.CountLine, error) {
	var rows []countLineRow
	err := q.selectRows(ctx, "list count lines", &rows,
		`SELECT `+countLineColumns+` FROM stock_count_lines
		 WHERE count_id = ? ORDER BY created_at ASC, id ASC`, string(id))
	if err != nil {
		return nil, err
	}
	out := make([]ledger.CountLine, len(rows))
	for i, r := range rows {
		out[i] = r.toCountLine()
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.Tx)
// =============================================================================

type txStore struct {
	queries
}

func (ts *txStore) LockStream(ctx context.Context, storeID ledger.StoreID, productID ledger.ProductID) error {
	if _, err := ts.exec(ctx, "lock stream",
		`INSERT INTO inventory_streams (store_id, product_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		string(storeID), string(productID)); err != nil {
		return err
	}
	if ts.dialect.ForUpdate == "" {
		return nil
	}
	var locked string
	return ts.get(ctx, "lock stream", &locked,
		`SELECT store_id FROM inventory_streams WHERE store_id = ? AND product_id = ?`+ts.dialect.ForUpdate,
		string(storeID), string(productID))
}

func (ts *txStore) LockTransaction(ctx context.Context, id ledger.TransactionID) (ledger.InventoryTransaction, error) {
	return ts.getTransaction(ctx, id, ts.dialect.ForUpdate)
}

func (ts *txStore) InsertTransaction(ctx context.Context, tx ledger.InventoryTransaction) error {
	_, err := ts.namedExec(ctx, "insert inventory transaction",
		insertSQL("inventory_transactions", transactionColumns), fromTransaction(tx))
	return err
}

func (ts *txStore) UpdateTransaction(ctx context.Context, tx ledger.InventoryTransaction) (ledger.InventoryTransaction, error) {
	res, err := ts.namedExec(ctx, "update inventory transaction", `
		UPDATE inventory_transactions SET
			status = :status,
			approved_by = :approved_by, approved_at = :approved_at,
			posted_by = :posted_by, posted_at = :posted_at,
			cancelled_by = :cancelled_by, cancelled_at = :cancelled_at,
			version_id = version_id + 1
		WHERE id = :id AND version_id = :version_id AND status <> 'POSTED'`,
		fromTransaction(tx))
	if err != nil {
		return ledger.InventoryTransaction{}, err
	}
	if err := ts.checkUpdated(res); err != nil {
		cur, getErr := ts.GetTransaction(ctx, tx.ID)
		if getErr != nil {
			return ledger.InventoryTransaction{}, getErr
		}
		if cur.IsPosted() {
			return ledger.InventoryTransaction{}, fmt.Errorf("%w: inventory transaction %s is posted", ledger.ErrLifecycle, tx.ID)
		}
		return ledger.InventoryTransaction{}, versionConflict(ledger.EntityInventoryTransaction, string(tx.ID), cur.VersionID, tx.VersionID)
	}
	tx.VersionID++
	return tx, nil
}

func (ts *txStore) AppendEvent(ctx context.Context, ev ledger.MasterLedgerEvent) error {
	row, err := fromEvent(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}
	_, err = ts.namedExec(ctx, "append event", insertSQL("master_ledger_events", eventColumns), row)
	return err
}

func (ts *txStore) NextSequence(ctx context.Context, storeID ledger.StoreID, documentType string) (int64, error) {
	var n int64
	err := ts.get(ctx, "next sequence", &n, `
		INSERT INTO document_sequences (store_id, document_type, last_value) VALUES (?, ?, 1)
		ON CONFLICT (store_id, document_type)
		DO UPDATE SET last_value = document_sequences.last_value + 1
		RETURNING last_value`,
		string(storeID), documentType)
	return n, err
}

func (ts *txStore) InsertTransfer(ctx context.Context, t ledger.Transfer) error {
	_, err := ts.namedExec(ctx, "insert transfer", insertSQL("transfers", transferColumns), fromTransfer(t))
	return err
}

func (ts *txStore) LockTransfer(ctx context.Context, id ledger.TransferID) (ledger.Transfer, error) {
	return ts.getTransfer(ctx, id, ts.dialect.ForUpdate)
}

func (ts *txStore) UpdateTransfer(ctx context.Context, t ledger.Transfer) (ledger.Transfer, error) {
	res, err := ts.namedExec(ctx, "update transfer", `
		UPDATE transfers SET
			status = :status, notes = :notes,
			approved_by = :approved_by, approved_at = :approved_at,
			shipped_by = :shipped_by, shipped_at = :shipped_at,
			received_by = :received_by, received_at = :received_at,
			cancelled_by = :cancelled_by, cancelled_at = :cancelled_at,
			version_id = version_id + 1
		WHERE id = :id AND version_id = :version_id`,
		fromTransfer(t))
	if err != nil {
		return ledger.Transfer{}, err
	}
	if err := ts.checkUpdated(res); err != nil {
		return ledger.Transfer{}, versionConflict(ledger.EntityTransfer, string(t.ID), -1, t.VersionID)
	}
	t.VersionID++
	return t, nil
}

func (ts *txStore) InsertTransferLine(ctx context.Context, line ledger.TransferLine) error {
	_, err := ts.namedExec(ctx, "insert transfer line",
		insertSQL("transfer_lines", transferLineColumns), fromTransferLine(line))
	return err
}

func (ts *txStore) UpdateTransferLine(ctx context.Context, line ledger.TransferLine) (ledger.TransferLine, error) {
	res, err := ts.namedExec(ctx, "update transfer line", `
		UPDATE transfer_lines SET
			quantity = :quantity, unit_cost_cents = :unit_cost_cents,
			outbound_tx_id = :outbound_tx_id, inbound_tx_id = :inbound_tx_id,
			version_id = version_id + 1
		WHERE id = :id AND version_id = :version_id`,
		fromTransferLine(line))
	if err != nil {
		return ledger.TransferLine{}, err
	}
	if err := ts.checkUpdated(res); err != nil {
		return ledger.TransferLine{}, versionConflict("transfer_line", line.ID, -1, line.VersionID)
	}
	line.VersionID++
	return line, nil
}

func (ts *txStore) InsertCount(ctx context.Context, c ledger.Count) error {
	_, err := ts.namedExec(ctx, "insert count", insertSQL("stock_counts", countColumns), fromCount(c))
	return err
}

func (ts *txStore) LockCount(ctx context.Context, id ledger.CountID) (ledger.Count, error) {
	return ts.getCount(ctx, id, ts.dialect.ForUpdate)
}

func (ts *txStore) UpdateCount(ctx context.Context, c ledger.Count) (ledger.Count, error) {
	res, err := ts.namedExec(ctx, "update count", `
		UPDATE stock_counts SET
			status = :status, notes = :notes,
			total_variance_quantity = :total_variance_quantity,
			total_variance_cents = :total_variance_cents,
			approved_by = :approved_by, approved_at = :approved_at,
			posted_by = :posted_by, posted_at = :posted_at,
			cancelled_by = :cancelled_by, cancelled_at = :cancelled_at,
			version_id = version_id + 1
		WHERE id = :id AND version_id = :version_id`,
		fromCount(c))
	if err != nil {
		return ledger.Count{}, err
	}
	if err := ts.checkUpdated(res); err != nil {
		return ledger.Count{}, versionConflict(ledger.EntityCount, string(c.ID), -1, c.VersionID)
	}
	c.VersionID++
	return c, nil
}

func (ts *txStore) InsertCountLine(ctx context.Context, line ledger.CountLine) error {
	_, err := ts.namedExec(ctx, "insert count line",
		insertSQL("stock_count_lines", countLineColumns), fromCountLine(line))
	return err
}

func (ts *txStore) UpdateCountLine(ctx context.Context, line ledger.CountLine) (ledger.CountLine, error) {
	res, err := ts.namedExec(ctx, "update count line", `
		UPDATE stock_count_lines SET
			expected_quantity = :expected_quantity, actual_quantity = :actual_quantity,
			variance = :variance, unit_cost_cents = :unit_cost_cents,
			variance_cost_cents = :variance_cost_cents, adjustment_tx_id = :adjustment_tx_id,
			version_id = version_id + 1
		WHERE id = :id AND version_id = :version_id`,
		fromCountLine(line))
	if err != nil {
		return ledger.CountLine{}, err
	}
	if err := ts.checkUpdated(res); err != nil {
		return ledger.CountLine{}, versionConflict("count_line", line.ID, -1, line.VersionID)
	}
	line.VersionID++
	return line, nil
}

// =============================================================================
// HELPERS
// =============================================================================

var errNotUpdated = errors.New("no row updated")

func (ts *txStore) checkUpdated(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errNotUpdated
	}
	return nil
}

// insertSQL builds a named INSERT from a column list.
func insertSQL(table, columns string) string {
	cols := strings.Split(columns, ",")
	names := make([]string, len(cols))
	for i, c := range cols {
		cols[i] = strings.TrimSpace(c)
		names[i] = ":" + cols[i]
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(names, ", "))
}

func versionConflict(kind, id string, have, want int64) error {
	if have < 0 {
		return fmt.Errorf("%w: %s %s changed since version %d", ledger.ErrConflict, kind, id, want)
	}
	return fmt.Errorf("%w: %s %s is at version %d, update expected %d", ledger.ErrConflict, kind, id, have, want)
}
