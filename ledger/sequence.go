package ledger

import (
	"context"
	"fmt"
)

// Sequencer issues gapless, store-scoped document numbers.
//
// Numbers are unique per (store, document type) because the counter is
// incremented by the store inside the caller's unit of work; two concurrent
// issuers serialise on the counter row, and a rolled-back unit of work
// releases its number.
type Sequencer struct {
	store Store
	retry RetryPolicy
}

func NewSequencer(store Store, retry RetryPolicy) *Sequencer {
	return &Sequencer{store: store, retry: retry}
}

// NextNumber issues a number in its own unit of work.
func (s *Sequencer) NextNumber(ctx context.Context, storeID StoreID, documentType, prefix string) (string, error) {
	if storeID == "" {
		return "", invalid("store_id", "required")
	}
	if documentType == "" {
		return "", invalid("document_type", "required")
	}

	var number string
	err := RunWithRetry(ctx, s.retry, func() error {
		return s.store.WithTx(ctx, func(tx Tx) error {
			n, err := NextNumberTx(ctx, tx, storeID, documentType, prefix)
			if err != nil {
				return err
			}
			number = n
			return nil
		})
	})
	return number, err
}

// NextNumberTx issues a number inside an existing unit of work.
func NextNumberTx(ctx context.Context, tx Tx, storeID StoreID, documentType, prefix string) (string, error) {
	n, err := tx.NextSequence(ctx, storeID, documentType)
	if err != nil {
		return "", fmt.Errorf("next %s number for %s: %w", documentType, storeID, err)
	}
	return FormatNumber(prefix, n), nil
}

// FormatNumber renders a human-readable document number, e.g. TRF-000042.
func FormatNumber(prefix string, n int64) string {
	return fmt.Sprintf("%s%06d", prefix, n)
}
