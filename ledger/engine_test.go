package ledger_test

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
	"github.com/warp/storeledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var t0 = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func newTestEngine(t *testing.T, opts ...ledger.Option) (*ledger.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	opts = append([]ledger.Option{
		ledger.WithClock(fixedClock(t0)),
		ledger.WithRetryPolicy(ledger.RetryPolicy{MaxAttempts: 3}),
	}, opts...)
	return ledger.NewEngine(mem, opts...), mem
}

func receive(t *testing.T, e *ledger.Engine, qty, cost int64, at time.Time) ledger.InventoryTransaction {
	t.Helper()
	row, err := e.Receive(context.Background(), ledger.ReceiveInput{
		StoreID:       "store-a",
		ProductID:     "sku-1",
		Quantity:      qty,
		UnitCostCents: cost,
		OccurredAt:    at,
		ActorID:       "clerk",
	})
	require.NoError(t, err)
	return row
}

func sell(e *ledger.Engine, qty int64, saleID, lineID string) (ledger.SaleResult, error) {
	return e.Sell(context.Background(), ledger.SaleInput{
		StoreID:    "store-a",
		ProductID:  "sku-1",
		Quantity:   qty,
		SaleID:     saleID,
		SaleLineID: lineID,
		ActorID:    "pos",
	})
}

func onHand(t *testing.T, e *ledger.Engine) int64 {
	t.Helper()
	q, err := e.QuantityOnHand(context.Background(), "store-a", "sku-1", nil)
	require.NoError(t, err)
	return q
}

func wac(t *testing.T, e *ledger.Engine) int64 {
	t.Helper()
	c, err := e.WeightedAverageCost(context.Background(), "store-a", "sku-1", nil)
	require.NoError(t, err)
	return c
}

// =============================================================================
// RECEIVE / SELL
// =============================================================================

func TestReceiveThenSell_SnapshotsCost(t *testing.T) {
	// GIVEN: 10 units received at 100¢
	// WHEN: Selling 2, then replaying the same sale line
	// THEN: On-hand is 8, COGS is 200, and the replay returns the same row

	e, _ := newTestEngine(t)
	receive(t, e, 10, 100, time.Time{})

	assert.Equal(t, int64(10), onHand(t, e))
	assert.Equal(t, int64(100), wac(t, e))

	first, err := sell(e, 2, "sale-1", "line-1")
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, ledger.TxSale, first.Transaction.Type)
	assert.Equal(t, int64(-2), first.Transaction.Quantity)
	assert.Equal(t, ledger.StatusPosted, first.Transaction.Status)
	require.NotNil(t, first.Transaction.UnitCostCentsAtSale)
	require.NotNil(t, first.Transaction.COGSCents)
	assert.Equal(t, int64(100), *first.Transaction.UnitCostCentsAtSale)
	assert.Equal(t, int64(200), *first.Transaction.COGSCents)
	assert.Equal(t, int64(8), onHand(t, e))

	again, err := sell(e, 2, "sale-1", "line-1")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Transaction.ID, again.Transaction.ID)
	assert.Equal(t, int64(8), onHand(t, e))
}

func TestBackdatedReceive_DoesNotRewriteCOGS(t *testing.T) {
	// GIVEN: Sale of 2 at WAC 100
	// WHEN: 10 more units at 1000¢ are received, backdated before the sale
	// THEN: WAC becomes 550, the sale keeps cost 100 / cogs 200

	e, _ := newTestEngine(t)
	receive(t, e, 10, 100, t0.Add(-2*time.Hour))
	sale, err := sell(e, 2, "sale-1", "line-1")
	require.NoError(t, err)

	receive(t, e, 10, 1000, t0.Add(-time.Hour))

	assert.Equal(t, int64(550), wac(t, e))
	assert.Equal(t, int64(18), onHand(t, e))

	stored, err := e.GetTransaction(context.Background(), sale.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), *stored.UnitCostCentsAtSale)
	assert.Equal(t, int64(200), *stored.COGSCents)
}

func TestWeightedAverageCost_IsNonDepleting(t *testing.T) {
	// GIVEN: 100 @ 500, a sale of 50, then a backdated 100 @ 1000
	// THEN: WAC is 750 over the full 200-unit receive pool

	e, _ := newTestEngine(t)
	receive(t, e, 100, 500, t0.Add(-2*time.Hour))
	_, err := sell(e, 50, "sale-1", "line-1")
	require.NoError(t, err)
	receive(t, e, 100, 1000, t0.Add(-time.Hour))

	assert.Equal(t, int64(750), wac(t, e))
	assert.Equal(t, int64(150), onHand(t, e))
}

func TestQuantityOnHand_AsOf(t *testing.T) {
	e, _ := newTestEngine(t)
	receive(t, e, 5, 100, t0.Add(-48*time.Hour))
	receive(t, e, 7, 300, t0.Add(-24*time.Hour))

	ctx := context.Background()
	before := t0.Add(-36 * time.Hour)

	q, err := e.QuantityOnHand(ctx, "store-a", "sku-1", &before)
	require.NoError(t, err)
	assert.Equal(t, int64(5), q)

	c, err := e.WeightedAverageCost(ctx, "store-a", "sku-1", &before)
	require.NoError(t, err)
	assert.Equal(t, int64(100), c)

	assert.Equal(t, int64(12), onHand(t, e))
	// (500 + 2100) / 12 = 216.67
	assert.Equal(t, int64(217), wac(t, e))
}

func TestSell_Oversell(t *testing.T) {
	e, _ := newTestEngine(t)
	receive(t, e, 3, 100, time.Time{})

	_, err := sell(e, 4, "sale-1", "line-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrOversell))

	var oe *ledger.OversellError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, int64(3), oe.Available)
	assert.Equal(t, int64(4), oe.Requested)
	assert.Equal(t, int64(3), onHand(t, e))
}

func TestSell_ChecksStockAtOccurredAt(t *testing.T) {
	// Stock received after the sale's business time does not cover it.
	e, _ := newTestEngine(t)
	receive(t, e, 5, 100, t0)

	_, err := e.Sell(context.Background(), ledger.SaleInput{
		StoreID:    "store-a",
		ProductID:  "sku-1",
		Quantity:   1,
		SaleID:     "sale-early",
		SaleLineID: "1",
		OccurredAt: t0.Add(-time.Hour),
	})
	assert.True(t, errors.Is(err, ledger.ErrOversell))
}

func TestSell_BackdatedCannotUndercutLaterSales(t *testing.T) {
	// GIVEN: 10 received three hours ago and all 10 sold now
	e, _ := newTestEngine(t)
	ctx := context.Background()
	receive(t, e, 10, 100, t0.Add(-3*time.Hour))
	_, err := sell(e, 10, "sale-now", "1")
	require.NoError(t, err)

	// WHEN: a sale backdated to one hour ago asks for the same 10
	_, err = e.Sell(ctx, ledger.SaleInput{
		StoreID:    "store-a",
		ProductID:  "sku-1",
		Quantity:   10,
		SaleID:     "sale-backdated",
		SaleLineID: "1",
		OccurredAt: t0.Add(-time.Hour),
	})

	// THEN: rejected, because the later sale already consumed the stock
	var oe *ledger.OversellError
	require.True(t, errors.As(err, &oe), "got %v", err)
	assert.Equal(t, int64(0), oe.Available)
	assert.Equal(t, int64(10), oe.Requested)
	assert.Equal(t, int64(0), onHand(t, e))
}

func TestSell_BackdatedWithinLaterHeadroom(t *testing.T) {
	// GIVEN: 10 received, 6 sold now, leaving 4 from then on
	e, _ := newTestEngine(t)
	receive(t, e, 10, 100, t0.Add(-3*time.Hour))
	_, err := sell(e, 6, "sale-now", "1")
	require.NoError(t, err)

	// WHEN: a backdated sale takes 4
	res, err := e.Sell(context.Background(), ledger.SaleInput{
		StoreID:    "store-a",
		ProductID:  "sku-1",
		Quantity:   4,
		SaleID:     "sale-backdated",
		SaleLineID: "1",
		OccurredAt: t0.Add(-time.Hour),
	})

	// THEN: it fits and the snapshot uses WAC at its own time
	require.NoError(t, err)
	assert.Equal(t, int64(100), *res.Transaction.UnitCostCentsAtSale)
	assert.Equal(t, int64(0), onHand(t, e))
}

func TestAdjust_BackdatedDecrementChecksLaterRows(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	receive(t, e, 3, 100, t0.Add(-2*time.Hour))
	_, err := sell(e, 3, "sale-now", "1")
	require.NoError(t, err)

	_, err = e.Adjust(ctx, ledger.AdjustInput{
		StoreID: "store-a", ProductID: "sku-1", Delta: -1,
		OccurredAt: t0.Add(-time.Hour), Reason: "damaged",
	})
	assert.True(t, errors.Is(err, ledger.ErrOversell), "got %v", err)

	// AllowNegative still lets a deliberate write-off through.
	_, err = e.Adjust(ctx, ledger.AdjustInput{
		StoreID: "store-a", ProductID: "sku-1", Delta: -1,
		OccurredAt: t0.Add(-time.Hour), Reason: "damaged", AllowNegative: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-1), onHand(t, e))
}

func TestSell_NoCostBasisSnapshotsZero(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Adjust(context.Background(), ledger.AdjustInput{
		StoreID: "store-a", ProductID: "sku-1", Delta: 4, Reason: "found",
	})
	require.NoError(t, err)

	res, err := sell(e, 1, "sale-1", "line-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), *res.Transaction.UnitCostCentsAtSale)
	assert.Equal(t, int64(0), *res.Transaction.COGSCents)
}

func TestValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"receive zero quantity", func() error {
			_, err := e.Receive(ctx, ledger.ReceiveInput{StoreID: "s", ProductID: "p", Quantity: 0, UnitCostCents: 1})
			return err
		}},
		{"receive negative cost", func() error {
			_, err := e.Receive(ctx, ledger.ReceiveInput{StoreID: "s", ProductID: "p", Quantity: 1, UnitCostCents: -1})
			return err
		}},
		{"receive approved status", func() error {
			_, err := e.Receive(ctx, ledger.ReceiveInput{StoreID: "s", ProductID: "p", Quantity: 1, Status: ledger.StatusApproved})
			return err
		}},
		{"sell missing sale id", func() error {
			_, err := e.Sell(ctx, ledger.SaleInput{StoreID: "s", ProductID: "p", Quantity: 1, SaleLineID: "1"})
			return err
		}},
		{"sell negative quantity", func() error {
			_, err := e.Sell(ctx, ledger.SaleInput{StoreID: "s", ProductID: "p", Quantity: -1, SaleID: "x", SaleLineID: "1"})
			return err
		}},
		{"adjust zero delta", func() error {
			_, err := e.Adjust(ctx, ledger.AdjustInput{StoreID: "s", ProductID: "p"})
			return err
		}},
		{"missing store", func() error {
			_, err := e.QuantityOnHand(ctx, "", "p", nil)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ledger.ErrValidation), "got %v", err)
		})
	}
}

// =============================================================================
// ADJUST
// =============================================================================

func TestAdjust_NegativeGuard(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	receive(t, e, 2, 100, time.Time{})

	_, err := e.Adjust(ctx, ledger.AdjustInput{StoreID: "store-a", ProductID: "sku-1", Delta: -3, Reason: "damaged"})
	assert.True(t, errors.Is(err, ledger.ErrOversell))

	row, err := e.Adjust(ctx, ledger.AdjustInput{
		StoreID: "store-a", ProductID: "sku-1", Delta: -3, Reason: "shrink", AllowNegative: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.TxAdjust, row.Type)
	assert.Nil(t, row.UnitCostCents)
	assert.Equal(t, int64(-1), onHand(t, e))
}

func TestAdjust_DoesNotMoveCost(t *testing.T) {
	e, _ := newTestEngine(t)
	receive(t, e, 10, 100, time.Time{})

	_, err := e.Adjust(context.Background(), ledger.AdjustInput{StoreID: "store-a", ProductID: "sku-1", Delta: 10})
	require.NoError(t, err)

	assert.Equal(t, int64(20), onHand(t, e))
	assert.Equal(t, int64(100), wac(t, e))
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestDraftReceive_HasNoEffectUntilPosted(t *testing.T) {
	// GIVEN: A DRAFT receive
	// WHEN: It is approved, then posted
	// THEN: Stock and events appear only at POSTED

	e, _ := newTestEngine(t)
	ctx := context.Background()

	draft, err := e.Receive(ctx, ledger.ReceiveInput{
		StoreID: "store-a", ProductID: "sku-1", Quantity: 4, UnitCostCents: 250, Status: ledger.StatusDraft,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDraft, draft.Status)
	assert.Equal(t, int64(0), onHand(t, e))

	approved, err := e.Approve(ctx, draft.ID, "manager")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, approved.Status)
	assert.Equal(t, "manager", approved.ApprovedBy)
	assert.Equal(t, int64(0), onHand(t, e))

	events, err := e.Events(ctx, ledger.EventFilter{EntityID: string(draft.ID)})
	require.NoError(t, err)
	assert.Empty(t, events)

	posted, err := e.Post(ctx, draft.ID, "manager")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPosted, posted.Status)
	assert.Equal(t, int64(4), onHand(t, e))
	assert.Equal(t, int64(250), wac(t, e))

	events, err = e.Events(ctx, ledger.EventFilter{EntityID: string(draft.ID)})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ledger.EventTransactionPosted, events[0].EventType)
	assert.Equal(t, "manager", events[0].ActorID)
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	posted := receive(t, e, 1, 100, time.Time{})

	_, err := e.Cancel(ctx, posted.ID, "manager")
	assert.True(t, errors.Is(err, ledger.ErrLifecycle), "cancel POSTED: %v", err)

	_, err = e.Approve(ctx, posted.ID, "manager")
	assert.True(t, errors.Is(err, ledger.ErrLifecycle), "approve POSTED: %v", err)

	draft, err := e.Adjust(ctx, ledger.AdjustInput{StoreID: "store-a", ProductID: "sku-1", Delta: 1, Status: ledger.StatusDraft})
	require.NoError(t, err)

	_, err = e.Post(ctx, draft.ID, "manager")
	assert.True(t, errors.Is(err, ledger.ErrLifecycle), "post DRAFT: %v", err)

	cancelled, err := e.Cancel(ctx, draft.ID, "manager")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCancelled, cancelled.Status)

	_, err = e.Approve(ctx, draft.ID, "manager")
	assert.True(t, errors.Is(err, ledger.ErrLifecycle), "approve CANCELLED: %v", err)

	_, err = e.Approve(ctx, "missing", "manager")
	assert.True(t, errors.Is(err, ledger.ErrNotFound))
}

func TestPost_RechecksOversell(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	receive(t, e, 2, 100, time.Time{})

	draft, err := e.Adjust(ctx, ledger.AdjustInput{StoreID: "store-a", ProductID: "sku-1", Delta: -2, Status: ledger.StatusDraft})
	require.NoError(t, err)
	_, err = e.Approve(ctx, draft.ID, "manager")
	require.NoError(t, err)

	_, err = sell(e, 1, "sale-1", "1")
	require.NoError(t, err)

	_, err = e.Post(ctx, draft.ID, "manager")
	assert.True(t, errors.Is(err, ledger.ErrOversell))

	row, err := e.GetTransaction(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, row.Status)
}

func TestPost_BackdatedDraftChecksLaterRows(t *testing.T) {
	// GIVEN: an approved backdated decrement, then a sale that empties the stream
	e, _ := newTestEngine(t)
	ctx := context.Background()
	receive(t, e, 5, 100, t0.Add(-3*time.Hour))

	draft, err := e.Adjust(ctx, ledger.AdjustInput{
		StoreID: "store-a", ProductID: "sku-1", Delta: -2,
		OccurredAt: t0.Add(-time.Hour), Status: ledger.StatusDraft,
	})
	require.NoError(t, err)
	_, err = e.Approve(ctx, draft.ID, "manager")
	require.NoError(t, err)

	_, err = sell(e, 5, "sale-now", "1")
	require.NoError(t, err)

	// WHEN: the draft is posted
	_, err = e.Post(ctx, draft.ID, "manager")

	// THEN: on-hand at its own time is 5, but the later sale leaves no room
	var oe *ledger.OversellError
	require.True(t, errors.As(err, &oe), "got %v", err)
	assert.Equal(t, int64(0), oe.Available)
	assert.Equal(t, int64(0), onHand(t, e))
}

// =============================================================================
// MASTER LEDGER
// =============================================================================

func TestEvents_OnePerPostedMovement(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	rcv := receive(t, e, 10, 100, time.Time{})
	sale, err := sell(e, 2, "sale-1", "line-1")
	require.NoError(t, err)
	_, err = sell(e, 2, "sale-1", "line-1")
	require.NoError(t, err)

	events, err := e.Events(ctx, ledger.EventFilter{StoreID: "store-a"})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, string(rcv.ID), events[0].EntityID)
	assert.Equal(t, ledger.EntityInventoryTransaction, events[0].EntityType)
	assert.Equal(t, ledger.CategoryInventory, events[0].Category)
	assert.Equal(t, "RECEIVE", events[0].Payload["type"])

	assert.Equal(t, string(sale.Transaction.ID), events[1].EntityID)
	assert.Equal(t, "200", events[1].Payload["cogs_cents"])

	limited, err := e.Events(ctx, ledger.EventFilter{StoreID: "store-a", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	other, err := e.Events(ctx, ledger.EventFilter{StoreID: "store-b"})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestHistory_IncludesEveryStatus(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	receive(t, e, 1, 100, t0.Add(-time.Hour))
	_, err := e.Adjust(ctx, ledger.AdjustInput{StoreID: "store-a", ProductID: "sku-1", Delta: 1, Status: ledger.StatusDraft})
	require.NoError(t, err)

	rows, err := e.History(ctx, "store-a", "sku-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ledger.TxReceive, rows[0].Type)
	assert.Equal(t, ledger.StatusDraft, rows[1].Status)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrentSells_NeverOversell(t *testing.T) {
	// GIVEN: On-hand 6
	// WHEN: 10 distinct sales of 6 race
	// THEN: Exactly one succeeds and on-hand ends at 0

	e, _ := newTestEngine(t)
	receive(t, e, 6, 100, t0.Add(-time.Hour))

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		oversold  int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := sell(e, 6, fmt.Sprintf("sale-%d", i), "1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ledger.ErrOversell):
				oversold++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, oversold)
	assert.Equal(t, int64(0), onHand(t, e))
}

func TestConcurrentReplays_RecordOneSale(t *testing.T) {
	e, mem := newTestEngine(t)
	receive(t, e, 10, 100, t0.Add(-time.Hour))

	var wg sync.WaitGroup
	ids := make([]ledger.TransactionID, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := sell(e, 1, "sale-1", "line-1")
			if assert.NoError(t, err) {
				ids[i] = res.Transaction.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	rows, err := mem.ListStream(context.Background(), "store-a", "sku-1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, int64(9), onHand(t, e))
}

// =============================================================================
// RETRY
// =============================================================================

// flakyStore fails the first n units of work with a conflict.
type flakyStore struct {
	*store.Memory
	mu    sync.Mutex
	fails int
	calls int
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.fails
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: simulated serialization failure", ledger.ErrConflict)
	}
	return f.Memory.WithTx(ctx, fn)
}

func TestRun_RetriesConflicts(t *testing.T) {
	fs := &flakyStore{Memory: store.NewMemory(), fails: 2}
	var retried []int
	e := ledger.NewEngine(fs,
		ledger.WithClock(fixedClock(t0)),
		ledger.WithRetryPolicy(ledger.RetryPolicy{
			MaxAttempts: 3,
			OnRetry:     func(attempt int, _ error) { retried = append(retried, attempt) },
		}),
	)

	row := receive(t, e, 1, 100, time.Time{})
	assert.Equal(t, ledger.StatusPosted, row.Status)
	assert.Equal(t, 3, fs.calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRun_ExhaustedConflictSurfaces(t *testing.T) {
	fs := &flakyStore{Memory: store.NewMemory(), fails: 10}
	e := ledger.NewEngine(fs, ledger.WithRetryPolicy(ledger.RetryPolicy{MaxAttempts: 2}))

	_, err := e.Receive(context.Background(), ledger.ReceiveInput{
		StoreID: "store-a", ProductID: "sku-1", Quantity: 1, UnitCostCents: 1,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrConflict))

	var ce *ledger.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 2, ce.Attempts)
	assert.False(t, ledger.IsRetryable(err))
	assert.Equal(t, 2, fs.calls)
}
