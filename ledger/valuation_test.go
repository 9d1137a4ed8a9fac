package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(typ TransactionType, qty int64, cost *int64, status Status, at time.Time) InventoryTransaction {
	return InventoryTransaction{Type: typ, Quantity: qty, UnitCostCents: cost, Status: status, OccurredAt: at}
}

func TestReplay_SkipsUnpostedAndFutureRows(t *testing.T) {
	at := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	rows := []InventoryTransaction{
		row(TxReceive, 10, int64Ptr(100), StatusPosted, at.Add(-time.Hour)),
		row(TxReceive, 50, int64Ptr(900), StatusDraft, at.Add(-time.Hour)),
		row(TxReceive, 10, int64Ptr(300), StatusCancelled, at.Add(-time.Hour)),
		row(TxSale, -4, nil, StatusPosted, at),
		row(TxReceive, 10, int64Ptr(500), StatusPosted, at.Add(time.Hour)),
	}

	pos := Replay("s", "p", rows, at)
	assert.Equal(t, int64(6), pos.OnHand)
	assert.True(t, pos.HasCostBasis)
	assert.Equal(t, int64(100), pos.UnitCostCents)
	assert.Equal(t, int64(10), pos.ReceivedUnits)
	assert.Equal(t, int64(1000), pos.ReceivedCents)
}

func TestReplay_TransferRowsMoveQuantityOnly(t *testing.T) {
	at := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	rows := []InventoryTransaction{
		row(TxReceive, 10, int64Ptr(100), StatusPosted, at),
		row(TxTransfer, 5, int64Ptr(900), StatusPosted, at),
		row(TxAdjust, -2, nil, StatusPosted, at),
	}

	pos := Replay("s", "p", rows, at)
	assert.Equal(t, int64(13), pos.OnHand)
	assert.Equal(t, int64(100), pos.UnitCostCents)
}

func TestReplay_NoReceivesMeansNoCostBasis(t *testing.T) {
	pos := Replay("s", "p", nil, time.Now())
	assert.Equal(t, int64(0), pos.OnHand)
	assert.False(t, pos.HasCostBasis)
	assert.Equal(t, int64(0), pos.UnitCostCents)
}

func TestHeadroom_CountsLaterRows(t *testing.T) {
	at := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	rows := []InventoryTransaction{
		row(TxReceive, 10, int64Ptr(100), StatusPosted, at.Add(-3*time.Hour)),
		row(TxSale, -6, nil, StatusPosted, at.Add(time.Hour)),
		row(TxReceive, 5, int64Ptr(100), StatusPosted, at.Add(2*time.Hour)),
		row(TxSale, -8, nil, StatusPosted, at.Add(3*time.Hour)),
		row(TxAdjust, -50, nil, StatusDraft, at.Add(4*time.Hour)),
	}

	tests := []struct {
		name string
		at   time.Time
		want int64
	}{
		{"before any row", at.Add(-4 * time.Hour), 0},
		{"between receive and first sale", at, 1},
		{"after the last posted row", at.Add(5 * time.Hour), 1},
		{"equal to a row's time includes it", at.Add(time.Hour), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Headroom(rows, tt.at))
		})
	}
}

func TestHeadroom_EmptyStream(t *testing.T) {
	assert.Equal(t, int64(0), Headroom(nil, time.Now()))
}

func TestAverageCost_RoundsHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, int64(550), AverageCost(11000, 20))
	assert.Equal(t, int64(750), AverageCost(150000, 200))
	assert.Equal(t, int64(2), AverageCost(5, 3))  // 1.67
	assert.Equal(t, int64(2), AverageCost(3, 2))  // 1.5
	assert.Equal(t, int64(1), AverageCost(4, 3))  // 1.33
	assert.Equal(t, int64(0), AverageCost(100, 0))
}

func TestExtendedCost(t *testing.T) {
	assert.Equal(t, int64(200), ExtendedCost(2, 100))
	assert.Equal(t, int64(-800), ExtendedCost(-8, 100))
}

// =============================================================================
// RETRY
// =============================================================================

func TestRunWithRetry(t *testing.T) {
	ctx := context.Background()
	policy := RetryPolicy{MaxAttempts: 4, InitialDelay: time.Microsecond, MaxDelay: 2 * time.Microsecond, BackoffFactor: 2}

	t.Run("succeeds after conflicts", func(t *testing.T) {
		calls := 0
		err := RunWithRetry(ctx, policy, func() error {
			calls++
			if calls < 3 {
				return ErrConflict
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		calls := 0
		err := RunWithRetry(ctx, policy, func() error {
			calls++
			return &OversellError{}
		})
		assert.True(t, errors.Is(err, ErrOversell))
		assert.Equal(t, 1, calls)
	})

	t.Run("wraps the last conflict when exhausted", func(t *testing.T) {
		calls := 0
		err := RunWithRetry(ctx, policy, func() error {
			calls++
			return ErrConflict
		})
		var ce *ConflictError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, 4, ce.Attempts)
		assert.Equal(t, 4, calls)
		assert.False(t, IsRetryable(err))
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := RunWithRetry(cctx, policy, func() error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "TRF-000001", FormatNumber("TRF-", 1))
	assert.Equal(t, "CNT-000042", FormatNumber("CNT-", 42))
	assert.Equal(t, "1234567", FormatNumber("", 1234567))
}

func TestTransactionTransitions_ReturnNewRecords(t *testing.T) {
	at := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	draft := InventoryTransaction{ID: "tx-1", Status: StatusDraft}

	approved, err := draft.Approve("boss", at)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, draft.Status)
	assert.Equal(t, StatusApproved, approved.Status)
	assert.Equal(t, at, *approved.ApprovedAt)

	_, err = draft.Post("boss", at)
	assert.ErrorIs(t, err, ErrLifecycle)

	posted, err := approved.Post("boss", at)
	require.NoError(t, err)
	assert.True(t, posted.IsPosted())

	_, err = posted.Cancel("boss", at)
	assert.ErrorIs(t, err, ErrLifecycle)
}
