// Package storetest holds the conformance suite every ledger.Store must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/storeledger/ledger"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) ledger.Store

var base = time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("ReceiveSellReplay", func(t *testing.T) { testReceiveSellReplay(t, newStore(t)) })
	t.Run("BackdatedReceiveKeepsSnapshot", func(t *testing.T) { testBackdatedReceive(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("SequencesPerStoreAndType", func(t *testing.T) { testSequences(t, newStore(t)) })
	t.Run("SaleKeyUnique", func(t *testing.T) { testSaleKeyUnique(t, newStore(t)) })
	t.Run("UpdateChecksVersion", func(t *testing.T) { testUpdateVersion(t, newStore(t)) })
	t.Run("EventsFilterAndPayload", func(t *testing.T) { testEvents(t, newStore(t)) })
	t.Run("DocumentsRoundTrip", func(t *testing.T) { testDocuments(t, newStore(t)) })
	t.Run("ConcurrentSells", func(t *testing.T) { testConcurrentSells(t, newStore(t)) })
}

func newEngine(s ledger.Store) *ledger.Engine {
	return ledger.NewEngine(s,
		ledger.WithClock(func() time.Time { return base }),
		ledger.WithRetryPolicy(ledger.RetryPolicy{
			MaxAttempts:   10,
			InitialDelay:  time.Millisecond,
			MaxDelay:      20 * time.Millisecond,
			BackoffFactor: 2,
		}),
	)
}

func testReceiveSellReplay(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	e := newEngine(s)

	_, err := e.Receive(ctx, ledger.ReceiveInput{StoreID: "s1", ProductID: "p1", Quantity: 10, UnitCostCents: 100})
	require.NoError(t, err)

	first, err := e.Sell(ctx, ledger.SaleInput{StoreID: "s1", ProductID: "p1", Quantity: 2, SaleID: "sale-1", SaleLineID: "1"})
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, int64(200), *first.Transaction.COGSCents)

	again, err := e.Sell(ctx, ledger.SaleInput{StoreID: "s1", ProductID: "p1", Quantity: 2, SaleID: "sale-1", SaleLineID: "1"})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Transaction.ID, again.Transaction.ID)

	q, err := e.QuantityOnHand(ctx, "s1", "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(8), q)

	stored, err := s.GetTransaction(ctx, first.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Transaction.OccurredAt, stored.OccurredAt)
	assert.Equal(t, "sale-1", *stored.SaleID)
	assert.Equal(t, int64(100), *stored.UnitCostCentsAtSale)
	assert.Equal(t, int64(1), stored.VersionID)
}

func testBackdatedReceive(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	e := newEngine(s)

	_, err := e.Receive(ctx, ledger.ReceiveInput{StoreID: "s1", ProductID: "p1", Quantity: 10, UnitCostCents: 100, OccurredAt: base.Add(-2 * time.Hour)})
	require.NoError(t, err)
	sale, err := e.Sell(ctx, ledger.SaleInput{StoreID: "s1", ProductID: "p1", Quantity: 2, SaleID: "sale-1", SaleLineID: "1"})
	require.NoError(t, err)
	_, err = e.Receive(ctx, ledger.ReceiveInput{StoreID: "s1", ProductID: "p1", Quantity: 10, UnitCostCents: 1000, OccurredAt: base.Add(-time.Hour)})
	require.NoError(t, err)

	wac, err := e.WeightedAverageCost(ctx, "s1", "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(550), wac)

	stored, err := s.GetTransaction(ctx, sale.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), *stored.UnitCostCentsAtSale)
	assert.Equal(t, int64(200), *stored.COGSCents)

	rows, err := s.ListStream(ctx, "s1", "p1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, ledger.TxReceive, rows[0].Type)
	assert.Equal(t, ledger.TxReceive, rows[1].Type)
	assert.Equal(t, ledger.TxSale, rows[2].Type)
}

func testRollback(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		cost := int64(5)
		if err := tx.InsertTransaction(ctx, ledger.InventoryTransaction{
			ID: "tx-1", StoreID: "s1", ProductID: "p1", Type: ledger.TxReceive, Quantity: 1,
			UnitCostCents: &cost, Status: ledger.StatusPosted, InventoryState: ledger.StateSellable,
			OccurredAt: base, CreatedAt: base, VersionID: 1,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetTransaction(ctx, "tx-1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testSequences(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seq := ledger.NewSequencer(s, ledger.DefaultRetryPolicy())

	n1, err := seq.NextNumber(ctx, "s1", ledger.DocumentTransfer, "TRF-")
	require.NoError(t, err)
	n2, err := seq.NextNumber(ctx, "s1", ledger.DocumentTransfer, "TRF-")
	require.NoError(t, err)
	other, err := seq.NextNumber(ctx, "s2", ledger.DocumentTransfer, "TRF-")
	require.NoError(t, err)
	count, err := seq.NextNumber(ctx, "s1", ledger.DocumentCount, "CNT-")
	require.NoError(t, err)

	assert.Equal(t, "TRF-000001", n1)
	assert.Equal(t, "TRF-000002", n2)
	assert.Equal(t, "TRF-000001", other)
	assert.Equal(t, "CNT-000001", count)
}

func testSaleKeyUnique(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	saleID, lineID := "sale-9", "1"
	row := ledger.InventoryTransaction{
		ID: "tx-a", StoreID: "s1", ProductID: "p1", Type: ledger.TxSale, Quantity: -1,
		Status: ledger.StatusPosted, InventoryState: ledger.StateSellable,
		OccurredAt: base, CreatedAt: base, SaleID: &saleID, SaleLineID: &lineID, VersionID: 1,
	}
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Tx) error { return tx.InsertTransaction(ctx, row) }))

	row.ID = "tx-b"
	err := s.WithTx(ctx, func(tx ledger.Tx) error { return tx.InsertTransaction(ctx, row) })
	assert.ErrorIs(t, err, ledger.ErrConflict)

	found, ok, err := s.FindSale(ctx, "s1", saleID, lineID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ledger.TransactionID("tx-a"), found.ID)
}

func testUpdateVersion(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	e := newEngine(s)

	draft, err := e.Adjust(ctx, ledger.AdjustInput{StoreID: "s1", ProductID: "p1", Delta: 3, Status: ledger.StatusDraft})
	require.NoError(t, err)

	approved, err := e.Approve(ctx, draft.ID, "boss")
	require.NoError(t, err)
	assert.Equal(t, int64(2), approved.VersionID)
	require.NotNil(t, approved.ApprovedAt)

	// A stale copy loses
	stale, err := draft.Cancel("other", base)
	require.NoError(t, err)
	err = s.WithTx(ctx, func(tx ledger.Tx) error {
		_, err := tx.UpdateTransaction(ctx, stale)
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrConflict)

	posted, err := e.Post(ctx, draft.ID, "boss")
	require.NoError(t, err)

	// POSTED rows are immutable at the storage layer too
	err = s.WithTx(ctx, func(tx ledger.Tx) error {
		posted.Quantity = 99
		_, err := tx.UpdateTransaction(ctx, posted)
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrLifecycle)
}

func testEvents(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	e := newEngine(s)

	for i, store := range []ledger.StoreID{"s1", "s2", "s1"} {
		_, err := e.Receive(ctx, ledger.ReceiveInput{
			StoreID: store, ProductID: "p1", Quantity: int64(i + 1), UnitCostCents: 10,
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	events, err := e.Events(ctx, ledger.EventFilter{StoreID: "s1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "1", events[0].Payload["quantity"])
	assert.Equal(t, "3", events[1].Payload["quantity"])
	assert.Equal(t, ledger.EventTransactionPosted, events[0].EventType)
	assert.Equal(t, base, events[0].RecordedAt)

	limited, err := e.Events(ctx, ledger.EventFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	from := base.Add(time.Hour)
	none, err := e.Events(ctx, ledger.EventFilter{From: &from})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testDocuments(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	cost := int64(250)
	txID := ledger.TransactionID("tx-out")

	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		if err := tx.InsertTransfer(ctx, ledger.Transfer{
			ID: "trf-1", Number: "TRF-000001", SourceStoreID: "s1", DestinationStoreID: "s2",
			Status: ledger.TransferPending, CreatedAt: base, VersionID: 1,
		}); err != nil {
			return err
		}
		if err := tx.InsertTransferLine(ctx, ledger.TransferLine{
			ID: "tl-1", TransferID: "trf-1", ProductID: "p1", Quantity: 4, CreatedAt: base, VersionID: 1,
		}); err != nil {
			return err
		}
		if err := tx.InsertCount(ctx, ledger.Count{
			ID: "cnt-1", Number: "CNT-000001", StoreID: "s1", Status: ledger.CountPending, CreatedAt: base, VersionID: 1,
		}); err != nil {
			return err
		}
		return tx.InsertCountLine(ctx, ledger.CountLine{
			ID: "cl-1", CountID: "cnt-1", ProductID: "p1", ExpectedQuantity: 10, ActualQuantity: 7,
			Variance: -3, UnitCostCents: 100, VarianceCostCents: -300, CreatedAt: base, VersionID: 1,
		})
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx ledger.Tx) error {
		trf, err := tx.LockTransfer(ctx, "trf-1")
		if err != nil {
			return err
		}
		trf, err = trf.Transition(ledger.TransferApproved, "boss", base)
		if err != nil {
			return err
		}
		if _, err := tx.UpdateTransfer(ctx, trf); err != nil {
			return err
		}

		lines, err := tx.ListTransferLines(ctx, "trf-1")
		if err != nil {
			return err
		}
		line := lines[0]
		line.UnitCostCents = &cost
		line.OutboundTxID = &txID
		_, err = tx.UpdateTransferLine(ctx, line)
		return err
	})
	require.NoError(t, err)

	trf, err := s.GetTransfer(ctx, "trf-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.TransferApproved, trf.Status)
	assert.Equal(t, "boss", trf.ApprovedBy)
	assert.Equal(t, int64(2), trf.VersionID)

	lines, err := s.ListTransferLines(ctx, "trf-1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(250), *lines[0].UnitCostCents)
	assert.Equal(t, txID, *lines[0].OutboundTxID)
	assert.Nil(t, lines[0].InboundTxID)

	// Duplicate product on the same transfer is rejected by the store
	err = s.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.InsertTransferLine(ctx, ledger.TransferLine{
			ID: "tl-2", TransferID: "trf-1", ProductID: "p1", Quantity: 1, CreatedAt: base, VersionID: 1,
		})
	})
	assert.ErrorIs(t, err, ledger.ErrConflict)

	cnt, err := s.GetCount(ctx, "cnt-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.CountPending, cnt.Status)

	countLines, err := s.ListCountLines(ctx, "cnt-1")
	require.NoError(t, err)
	require.Len(t, countLines, 1)
	assert.Equal(t, int64(-3), countLines[0].Variance)
	assert.Equal(t, int64(-300), countLines[0].VarianceCostCents)

	_, err = s.GetCount(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testConcurrentSells(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	e := newEngine(s)

	_, err := e.Receive(ctx, ledger.ReceiveInput{StoreID: "s1", ProductID: "p1", Quantity: 6, UnitCostCents: 100, OccurredAt: base.Add(-time.Hour)})
	require.NoError(t, err)

	const n = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Sell(ctx, ledger.SaleInput{
				StoreID: "s1", ProductID: "p1", Quantity: 6,
				SaleID: fmt.Sprintf("sale-%d", i), SaleLineID: "1",
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ledger.ErrOversell)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	q, err := e.QuantityOnHand(ctx, "s1", "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), q)
}
