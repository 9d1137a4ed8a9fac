// Package store provides an in-memory ledger.Store.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/storeledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every table in maps guarded by one RWMutex. A unit of work
// holds the write lock for its whole duration, so LockStream and the
// document locks are implied; rollback restores a snapshot.
type Memory struct {
	mu sync.RWMutex
	state
}

type streamKey struct {
	StoreID   ledger.StoreID
	ProductID ledger.ProductID
}

type saleKey struct {
	StoreID    ledger.StoreID
	SaleID     string
	SaleLineID string
}

type sequenceKey struct {
	StoreID      ledger.StoreID
	DocumentType string
}

type state struct {
	transactions map[ledger.TransactionID]ledger.InventoryTransaction
	streams      map[streamKey][]ledger.TransactionID // ordered by OccurredAt, CreatedAt
	sales        map[saleKey]ledger.TransactionID
	events       []ledger.MasterLedgerEvent
	sequences    map[sequenceKey]int64

	transfers     map[ledger.TransferID]ledger.Transfer
	transferLines map[ledger.TransferID][]ledger.TransferLine
	counts        map[ledger.CountID]ledger.Count
	countLines    map[ledger.CountID][]ledger.CountLine
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

func newState() state {
	return state{
		transactions:  make(map[ledger.TransactionID]ledger.InventoryTransaction),
		streams:       make(map[streamKey][]ledger.TransactionID),
		sales:         make(map[saleKey]ledger.TransactionID),
		sequences:     make(map[sequenceKey]int64),
		transfers:     make(map[ledger.TransferID]ledger.Transfer),
		transferLines: make(map[ledger.TransferID][]ledger.TransferLine),
		counts:        make(map[ledger.CountID]ledger.Count),
		countLines:    make(map[ledger.CountID][]ledger.CountLine),
	}
}

// WithTx executes fn within a unit of work.
// For the memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&memoryTx{state: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s *state) clone() state {
	c := newState()
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.streams {
		c.streams[k] = append([]ledger.TransactionID(nil), v...)
	}
	for k, v := range s.sales {
		c.sales[k] = v
	}
	c.events = append([]ledger.MasterLedgerEvent(nil), s.events...)
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	for k, v := range s.transfers {
		c.transfers[k] = v
	}
	for k, v := range s.transferLines {
		c.transferLines[k] = append([]ledger.TransferLine(nil), v...)
	}
	for k, v := range s.counts {
		c.counts[k] = v
	}
	for k, v := range s.countLines {
		c.countLines[k] = append([]ledger.CountLine(nil), v...)
	}
	return c
}

// =============================================================================
// READS OUTSIDE A UNIT OF WORK
// =============================================================================

func (m *Memory) GetTransaction(ctx context.Context, id ledger.TransactionID) (ledger.InventoryTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getTransaction(id)
}

func (m *Memory) FindSale(ctx context.Context, storeID ledger.StoreID, saleID, saleLineID string) (ledger.InventoryTransaction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.findSale(storeID, saleID, saleLineID)
}

func (m *Memory) ListStream(ctx context.Context, storeID ledger.StoreID, productID ledger.ProductID) ([]ledger.InventoryTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listStream(storeID, productID, nil), nil
}

func (m *Memory) ListPosted(ctx context.Context, storeID ledger.StoreID, productID ledger.ProductID, asOf time.Time) ([]ledger.InventoryTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listStream(storeID, productID, &asOf), nil
}

func (m *Memory) ListEvents(ctx context.Context, filter ledger.EventFilter) ([]ledger.MasterLedgerEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listEvents(filter), nil
}

func (m *Memory) GetTransfer(ctx context.Context, id ledger.TransferID) (ledger.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getTransfer(id)
}

func (m *Memory) ListTransferLines(ctx context.Context, id ledger.TransferID) ([]ledger.TransferLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ledger.TransferLine(nil), m.state.transferLines[id]...), nil
}

func (m *Memory) GetCount(ctx context.Context, id ledger.CountID) (ledger.Count, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getCount(id)
}

func (m *Memory) ListCountLines(ctx context.Context, id ledger.CountID) ([]ledger.CountLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ledger.CountLine(nil), m.state.countLines[id]...), nil
}

// =============================================================================
// STATE QUERIES - Caller holds the lock
// =============================================================================

func (s *state) getTransaction(id ledger.TransactionID) (ledger.InventoryTransaction, error) {
	tx, ok := s.transactions[id]
	if !ok {
		return ledger.InventoryTransaction{}, ledger.NewNotFound(ledger.EntityInventoryTransaction, string(id))
	}
	return tx, nil
}

func (s *state) findSale(storeID ledger.StoreID, saleID, saleLineID string) (ledger.InventoryTransaction, bool, error) {
	id, ok := s.sales[saleKey{StoreID: storeID, SaleID: saleID, SaleLineID: saleLineID}]
	if !ok {
		return ledger.InventoryTransaction{}, false, nil
	}
	return s.transactions[id], true, nil
}

// listStream returns the stream in order. With asOf set, only POSTED rows
// at or before asOf are returned.
func (s *state) listStream(storeID ledger.StoreID, productID ledger.ProductID, asOf *time.Time) []ledger.InventoryTransaction {
	ids := s.streams[streamKey{StoreID: storeID, ProductID: productID}]
	result := make([]ledger.InventoryTransaction, 0, len(ids))
	for _, id := range ids {
		tx := s.transactions[id]
		if asOf != nil && (!tx.IsPosted() || tx.OccurredAt.After(*asOf)) {
			continue
		}
		result = append(result, tx)
	}
	return result
}

func (s *state) listEvents(filter ledger.EventFilter) []ledger.MasterLedgerEvent {
	var result []ledger.MasterLedgerEvent
	for _, ev := range s.events {
		if filter.Matches(ev) {
			result = append(result, ev)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].OccurredAt.Equal(result[j].OccurredAt) {
			return result[i].OccurredAt.Before(result[j].OccurredAt)
		}
		return result[i].RecordedAt.Before(result[j].RecordedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result
}

func (s *state) getTransfer(id ledger.TransferID) (ledger.Transfer, error) {
	t, ok := s.transfers[id]
	if !ok {
		return ledger.Transfer{}, ledger.NewNotFound(ledger.EntityTransfer, string(id))
	}
	return t, nil
}

func (s *state) getCount(id ledger.CountID) (ledger.Count, error) {
	c, ok := s.counts[id]
	if !ok {
		return ledger.Count{}, ledger.NewNotFound(ledger.EntityCount, string(id))
	}
	return c, nil
}

// =============================================================================
// UNIT OF WORK VIEW
// =============================================================================

type memoryTx struct {
	state *state
}

func (tx *memoryTx) GetTransaction(_ context.Context, id ledger.TransactionID) (ledger.InventoryTransaction, error) {
	return tx.state.getTransaction(id)
}

func (tx *memoryTx) FindSale(_ context.Context, storeID ledger.StoreID, saleID, saleLineID string) (ledger.InventoryTransaction, bool, error) {
	return tx.state.findSale(storeID, saleID, saleLineID)
}

func (tx *memoryTx) ListStream(_ context.Context, storeID ledger.StoreID, productID ledger.ProductID) ([]ledger.InventoryTransaction, error) {
	return tx.state.listStream(storeID, productID, nil), nil
}

func (tx *memoryTx) ListPosted(_ context.Context, storeID ledger.StoreID, productID ledger.ProductID, asOf time.Time) ([]ledger.InventoryTransaction, error) {
	return tx.state.listStream(storeID, productID, &asOf), nil
}

func (tx *memoryTx) ListEvents(_ context.Context, filter ledger.EventFilter) ([]ledger.MasterLedgerEvent, error) {
	return tx.state.listEvents(filter), nil
}

func (tx *memoryTx) GetTransfer(_ context.Context, id ledger.TransferID) (ledger.Transfer, error) {
	return tx.state.getTransfer(id)
}

func (tx *memoryTx) ListTransferLines(_ context.Context, id ledger.TransferID) ([]ledger.TransferLine, error) {
	return append([]ledger.TransferLine(nil), tx.state.transferLines[id]...), nil
}

func (tx *memoryTx) GetCount(_ context.Context, id ledger.CountID) (ledger.Count, error) {
	return tx.state.getCount(id)
}

func (tx *memoryTx) ListCountLines(_ context.Context, id ledger.CountID) ([]ledger.CountLine, error) {
	return append([]ledger.CountLine(nil), tx.state.countLines[id]...), nil
}

// LockStream is implied by the store-wide write lock.
func (tx *memoryTx) LockStream(context.Context, ledger.StoreID, ledger.ProductID) error {
	return nil
}

func (tx *memoryTx) LockTransaction(_ context.Context, id ledger.TransactionID) (ledger.InventoryTransaction, error) {
	return tx.state.getTransaction(id)
}

func (tx *memoryTx) InsertTransaction(_ context.Context, row ledger.InventoryTransaction) error {
	s := tx.state
	if _, exists := s.transactions[row.ID]; exists {
		return fmt.Errorf("%w: inventory transaction %s already exists", ledger.ErrConflict, row.ID)
	}

	var sk saleKey
	hasSaleKey := row.SaleID != nil && row.SaleLineID != nil
	if hasSaleKey {
		sk = saleKey{StoreID: row.StoreID, SaleID: *row.SaleID, SaleLineID: *row.SaleLineID}
		if _, exists := s.sales[sk]; exists {
			return fmt.Errorf("%w: sale %s line %s already recorded", ledger.ErrConflict, sk.SaleID, sk.SaleLineID)
		}
	}

	k := streamKey{StoreID: row.StoreID, ProductID: row.ProductID}
	ids := s.streams[k]

	// Binary search for insertion point, keeping (OccurredAt, CreatedAt) order
	i := sort.Search(len(ids), func(i int) bool {
		cur := s.transactions[ids[i]]
		if !cur.OccurredAt.Equal(row.OccurredAt) {
			return cur.OccurredAt.After(row.OccurredAt)
		}
		return cur.CreatedAt.After(row.CreatedAt)
	})
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = row.ID
	s.streams[k] = ids

	s.transactions[row.ID] = row
	if hasSaleKey {
		s.sales[sk] = row.ID
	}
	return nil
}

func (tx *memoryTx) UpdateTransaction(_ context.Context, row ledger.InventoryTransaction) (ledger.InventoryTransaction, error) {
	cur, err := tx.state.getTransaction(row.ID)
	if err != nil {
		return ledger.InventoryTransaction{}, err
	}
	if cur.IsPosted() {
		return ledger.InventoryTransaction{}, fmt.Errorf("%w: inventory transaction %s is posted", ledger.ErrLifecycle, row.ID)
	}
	if cur.VersionID != row.VersionID {
		return ledger.InventoryTransaction{}, versionConflict(ledger.EntityInventoryTransaction, string(row.ID), cur.VersionID, row.VersionID)
	}
	row.VersionID++
	tx.state.transactions[row.ID] = row
	return row, nil
}

func (tx *memoryTx) AppendEvent(_ context.Context, ev ledger.MasterLedgerEvent) error {
	tx.state.events = append(tx.state.events, ev)
	return nil
}

func (tx *memoryTx) NextSequence(_ context.Context, storeID ledger.StoreID, documentType string) (int64, error) {
	k := sequenceKey{StoreID: storeID, DocumentType: documentType}
	tx.state.sequences[k]++
	return tx.state.sequences[k], nil
}

// =============================================================================
// TRANSFERS
// =============================================================================

func (tx *memoryTx) InsertTransfer(_ context.Context, t ledger.Transfer) error {
	s := tx.state
	if _, exists := s.transfers[t.ID]; exists {
		return fmt.Errorf("%w: transfer %s already exists", ledger.ErrConflict, t.ID)
	}
	for _, other := range s.transfers {
		if other.SourceStoreID == t.SourceStoreID && other.Number == t.Number {
			return fmt.Errorf("%w: transfer number %s already issued", ledger.ErrConflict, t.Number)
		}
	}
	s.transfers[t.ID] = t
	return nil
}

func (tx *memoryTx) LockTransfer(_ context.Context, id ledger.TransferID) (ledger.Transfer, error) {
	return tx.state.getTransfer(id)
}

func (tx *memoryTx) UpdateTransfer(_ context.Context, t ledger.Transfer) (ledger.Transfer, error) {
	cur, err := tx.state.getTransfer(t.ID)
	if err != nil {
		return ledger.Transfer{}, err
	}
	if cur.VersionID != t.VersionID {
		return ledger.Transfer{}, versionConflict(ledger.EntityTransfer, string(t.ID), cur.VersionID, t.VersionID)
	}
	t.VersionID++
	tx.state.transfers[t.ID] = t
	return t, nil
}

func (tx *memoryTx) InsertTransferLine(_ context.Context, line ledger.TransferLine) error {
	s := tx.state
	if _, ok := s.transfers[line.TransferID]; !ok {
		return ledger.NewNotFound(ledger.EntityTransfer, string(line.TransferID))
	}
	for _, other := range s.transferLines[line.TransferID] {
		if other.ID == line.ID || other.ProductID == line.ProductID {
			return fmt.Errorf("%w: transfer %s already has a line for %s", ledger.ErrConflict, line.TransferID, line.ProductID)
		}
	}
	s.transferLines[line.TransferID] = append(s.transferLines[line.TransferID], line)
	return nil
}

func (tx *memoryTx) UpdateTransferLine(_ context.Context, line ledger.TransferLine) (ledger.TransferLine, error) {
	lines := tx.state.transferLines[line.TransferID]
	for i, cur := range lines {
		if cur.ID != line.ID {
			continue
		}
		if cur.VersionID != line.VersionID {
			return ledger.TransferLine{}, versionConflict("transfer_line", line.ID, cur.VersionID, line.VersionID)
		}
		line.VersionID++
		lines[i] = line
		return line, nil
	}
	return ledger.TransferLine{}, ledger.NewNotFound("transfer_line", line.ID)
}

// =============================================================================
// COUNTS
// =============================================================================

func (tx *memoryTx) InsertCount(_ context.Context, c ledger.Count) error {
	s := tx.state
	if _, exists := s.counts[c.ID]; exists {
		return fmt.Errorf("%w: count %s already exists", ledger.ErrConflict, c.ID)
	}
	for _, other := range s.counts {
		if other.StoreID == c.StoreID && other.Number == c.Number {
			return fmt.Errorf("%w: count number %s already issued", ledger.ErrConflict, c.Number)
		}
	}
	s.counts[c.ID] = c
	return nil
}

func (tx *memoryTx) LockCount(_ context.Context, id ledger.CountID) (ledger.Count, error) {
	return tx.state.getCount(id)
}

func (tx *memoryTx) UpdateCount(_ context.Context, c ledger.Count) (ledger.Count, error) {
	cur, err := tx.state.getCount(c.ID)
	if err != nil {
		return ledger.Count{}, err
	}
	if cur.VersionID != c.VersionID {
		return ledger.Count{}, versionConflict(ledger.EntityCount, string(c.ID), cur.VersionID, c.VersionID)
	}
	c.VersionID++
	tx.state.counts[c.ID] = c
	return c, nil
}

func (tx *memoryTx) InsertCountLine(_ context.Context, line ledger.CountLine) error {
	s := tx.state
	if _, ok := s.counts[line.CountID]; !ok {
		return ledger.NewNotFound(ledger.EntityCount, string(line.CountID))
	}
	for _, other := range s.countLines[line.CountID] {
		if other.ID == line.ID || other.ProductID == line.ProductID {
			return fmt.Errorf("%w: count %s already has a line for %s", ledger.ErrConflict, line.CountID, line.ProductID)
		}
	}
	s.countLines[line.CountID] = append(s.countLines[line.CountID], line)
	return nil
}

func (tx *memoryTx) UpdateCountLine(_ context.Context, line ledger.CountLine) (ledger.CountLine, error) {
	lines := tx.state.countLines[line.CountID]
	for i, cur := range lines {
		if cur.ID != line.ID {
			continue
		}
		if cur.VersionID != line.VersionID {
			return ledger.CountLine{}, versionConflict("count_line", line.ID, cur.VersionID, line.VersionID)
		}
		line.VersionID++
		lines[i] = line
		return line, nil
	}
	return ledger.CountLine{}, ledger.NewNotFound("count_line", line.ID)
}

func versionConflict(kind, id string, have, want int64) error {
	return fmt.Errorf("%w: %s %s is at version %d, update expected %d", ledger.ErrConflict, kind, id, have, want)
}
