/*
Package transfer moves stock between two stores of the same chain.

PURPOSE:
  A transfer is a numbered document with one line per product. Stock leaves
  the source when the transfer ships and lands at the destination when it is
  received; in between it is IN_TRANSIT and belongs to neither shelf.

LIFECYCLE:
  Create ─▶ PENDING ──AddLine*──▶ Approve ─▶ APPROVED ─▶ Ship ─▶ IN_TRANSIT
                                                                   │
                                                       Receive ◀───┘
                                                          │
                                                          ▼
                                                       RECEIVED
  Cancel is allowed from PENDING or APPROVED only. Once shipped, stock has
  physically moved and the transfer must be received.

SHIP:
  For each line, in product order (stable lock order across transfers):
    1. lock the source stream and replay it at ship time
    2. on-hand < quantity       → TransferError (nothing is written)
    3. no cost basis            → TransferError
    4. freeze WAC onto the line
    5. post TRANSFER -qty at the source, tagged IN_TRANSIT

RECEIVE:
  For each line post TRANSFER +qty at the destination at the frozen cost,
  tagged SELLABLE. Inbound TRANSFER rows move quantity but do not join the
  destination's RECEIVE cost pool.

MASTER LEDGER:
  One event per transition and per added line. Events are scoped to the
  source store, except "transfer.received" which belongs to the destination.

SEE ALSO:
  - ledger/documents.go: Transfer, TransferLine, TransferLifecycle
  - ledger/engine.go: Run, RecordTx, PositionTx
*/
package transfer

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/warp/storeledger/ledger"
)

// NumberPrefix precedes every transfer document number.
const NumberPrefix = "TRF-"

type Service struct {
	engine *ledger.Engine
	log    zerolog.Logger
}

type Option func(*Service)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func NewService(engine *ledger.Engine, opts ...Option) *Service {
	s := &Service{engine: engine, log: engine.Logger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Document is a transfer with its lines.
type Document struct {
	Transfer ledger.Transfer
	Lines    []ledger.TransferLine
}

// =============================================================================
// CREATE / ADD LINE
// =============================================================================

func (s *Service) Create(ctx context.Context, source, destination ledger.StoreID, actorID, notes string) (ledger.Transfer, error) {
	if source == "" {
		return ledger.Transfer{}, &ledger.ValidationError{Field: "source_store_id", Message: "required"}
	}
	if destination == "" {
		return ledger.Transfer{}, &ledger.ValidationError{Field: "destination_store_id", Message: "required"}
	}
	if source == destination {
		return ledger.Transfer{}, &ledger.ValidationError{Field: "destination_store_id", Message: "must differ from source store"}
	}

	var created ledger.Transfer
	err := s.engine.Run(ctx, "transfer.create", func(tx ledger.Tx) error {
		number, err := ledger.NextNumberTx(ctx, tx, source, ledger.DocumentTransfer, NumberPrefix)
		if err != nil {
			return err
		}
		t := ledger.Transfer{
			ID:                 ledger.TransferID(s.engine.NewID()),
			Number:             number,
			SourceStoreID:      source,
			DestinationStoreID: destination,
			Status:             ledger.TransferPending,
			Notes:              notes,
			CreatedBy:          actorID,
			CreatedAt:          s.engine.Now(),
			VersionID:          1,
		}
		if err := tx.InsertTransfer(ctx, t); err != nil {
			return err
		}
		created = t
		return s.emit(ctx, tx, t, source, ledger.EventTransferCreated, actorID, nil)
	})
	if err != nil {
		return ledger.Transfer{}, err
	}

	s.observe(created)
	return created, nil
}

// AddLine appends a product to a PENDING transfer. The stock check here is
// advisory; Ship re-checks under the stream lock.
func (s *Service) AddLine(ctx context.Context, id ledger.TransferID, productID ledger.ProductID, quantity int64, actorID string) (ledger.TransferLine, error) {
	if id == "" {
		return ledger.TransferLine{}, &ledger.ValidationError{Field: "transfer_id", Message: "required"}
	}
	if productID == "" {
		return ledger.TransferLine{}, &ledger.ValidationError{Field: "product_id", Message: "required"}
	}
	if quantity <= 0 {
		return ledger.TransferLine{}, &ledger.ValidationError{Field: "quantity", Message: fmt.Sprintf("must be positive, got %d", quantity)}
	}

	var line ledger.TransferLine
	err := s.engine.Run(ctx, "transfer.add_line", func(tx ledger.Tx) error {
		t, err := tx.LockTransfer(ctx, id)
		if err != nil {
			return err
		}
		if t.Status != ledger.TransferPending {
			return &ledger.TransferError{TransferID: id, Reason: fmt.Sprintf("lines can only be added while PENDING, status is %s", t.Status)}
		}

		lines, err := tx.ListTransferLines(ctx, id)
		if err != nil {
			return err
		}
		for _, l := range lines {
			if l.ProductID == productID {
				return &ledger.TransferError{TransferID: id, Reason: fmt.Sprintf("product %s is already on this transfer", productID)}
			}
		}

		pos, err := s.engine.PositionTx(ctx, tx, t.SourceStoreID, productID, s.engine.Now())
		if err != nil {
			return err
		}
		if pos.OnHand < quantity {
			return &ledger.TransferError{TransferID: id, Reason: fmt.Sprintf(
				"insufficient stock for %s at %s: available %d, requested %d",
				productID, t.SourceStoreID, pos.OnHand, quantity)}
		}

		line = ledger.TransferLine{
			ID:         s.engine.NewID(),
			TransferID: id,
			ProductID:  productID,
			Quantity:   quantity,
			CreatedAt:  s.engine.Now(),
			VersionID:  1,
		}
		if err := tx.InsertTransferLine(ctx, line); err != nil {
			return err
		}
		return s.emit(ctx, tx, t, t.SourceStoreID, ledger.EventTransferLineAdded, actorID, map[string]string{
			"product_id": string(productID),
			"quantity":   strconv.FormatInt(quantity, 10),
		})
	})
	if err != nil {
		return ledger.TransferLine{}, err
	}
	return line, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func (s *Service) Approve(ctx context.Context, id ledger.TransferID, actorID string) (ledger.Transfer, error) {
	if id == "" {
		return ledger.Transfer{}, &ledger.ValidationError{Field: "transfer_id", Message: "required"}
	}

	var approved ledger.Transfer
	err := s.engine.Run(ctx, "transfer.approve", func(tx ledger.Tx) error {
		t, err := tx.LockTransfer(ctx, id)
		if err != nil {
			return err
		}
		next, err := t.Transition(ledger.TransferApproved, actorID, s.engine.Now())
		if err != nil {
			return err
		}
		lines, err := tx.ListTransferLines(ctx, id)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return &ledger.TransferError{TransferID: id, Reason: "cannot approve a transfer without lines"}
		}

		approved, err = tx.UpdateTransfer(ctx, next)
		if err != nil {
			return err
		}
		return s.emit(ctx, tx, approved, approved.SourceStoreID, ledger.EventTransferApproved, actorID, map[string]string{
			"lines": strconv.Itoa(len(lines)),
		})
	})
	if err != nil {
		return ledger.Transfer{}, err
	}

	s.observe(approved)
	return approved, nil
}

// Ship removes stock from the source at the WAC in effect now and freezes
// that cost on each line.
func (s *Service) Ship(ctx context.Context, id ledger.TransferID, actorID string) (Document, error) {
	if id == "" {
		return Document{}, &ledger.ValidationError{Field: "transfer_id", Message: "required"}
	}

	var (
		doc  Document
		rows []ledger.InventoryTransaction
	)
	err := s.engine.Run(ctx, "transfer.ship", func(tx ledger.Tx) error {
		doc, rows = Document{}, nil

		t, err := tx.LockTransfer(ctx, id)
		if err != nil {
			return err
		}
		now := s.engine.Now()
		next, err := t.Transition(ledger.TransferInTransit, actorID, now)
		if err != nil {
			return &ledger.TransferError{TransferID: id, Reason: "cannot ship", Err: err}
		}

		lines, err := tx.ListTransferLines(ctx, id)
		if err != nil {
			return err
		}
		sortByProduct(lines)

		var units int64
		for i, line := range lines {
			if err := tx.LockStream(ctx, t.SourceStoreID, line.ProductID); err != nil {
				return err
			}
			pos, err := s.engine.PositionTx(ctx, tx, t.SourceStoreID, line.ProductID, now)
			if err != nil {
				return err
			}
			if pos.OnHand < line.Quantity {
				return &ledger.TransferError{TransferID: id, Reason: fmt.Sprintf(
					"insufficient stock for %s at %s at ship time: available %d, requested %d",
					line.ProductID, t.SourceStoreID, pos.OnHand, line.Quantity)}
			}
			if !pos.HasCostBasis {
				return &ledger.TransferError{TransferID: id, Reason: fmt.Sprintf(
					"product %s has no cost basis at %s", line.ProductID, t.SourceStoreID)}
			}

			cost := pos.UnitCostCents
			row, err := s.engine.RecordTx(ctx, tx, ledger.Movement{
				StoreID:        t.SourceStoreID,
				ProductID:      line.ProductID,
				Type:           ledger.TxTransfer,
				Quantity:       -line.Quantity,
				UnitCostCents:  &cost,
				InventoryState: ledger.StateInTransit,
				OccurredAt:     now,
				Reference:      ledger.Reference{Type: ledger.DocumentTransfer, ID: string(id)},
				Reason:         "transfer " + t.Number + " shipped",
				ActorID:        actorID,
				AllowNegative:  true, // checked above under the same lock
			})
			if err != nil {
				return err
			}
			rows = append(rows, row)

			line.UnitCostCents = &cost
			line.OutboundTxID = &row.ID
			if lines[i], err = tx.UpdateTransferLine(ctx, line); err != nil {
				return err
			}
			units += line.Quantity
		}

		shipped, err := tx.UpdateTransfer(ctx, next)
		if err != nil {
			return err
		}
		doc = Document{Transfer: shipped, Lines: lines}
		return s.emit(ctx, tx, shipped, shipped.SourceStoreID, ledger.EventTransferShipped, actorID, map[string]string{
			"lines": strconv.Itoa(len(lines)),
			"units": strconv.FormatInt(units, 10),
		})
	})
	if err != nil {
		return Document{}, err
	}

	s.engine.ObservePosted(rows...)
	s.observe(doc.Transfer)
	return doc, nil
}

// Receive lands in-transit stock at the destination at the frozen cost.
func (s *Service) Receive(ctx context.Context, id ledger.TransferID, actorID string) (Document, error) {
	if id == "" {
		return Document{}, &ledger.ValidationError{Field: "transfer_id", Message: "required"}
	}

	var (
		doc  Document
		rows []ledger.InventoryTransaction
	)
	err := s.engine.Run(ctx, "transfer.receive", func(tx ledger.Tx) error {
		doc, rows = Document{}, nil

		t, err := tx.LockTransfer(ctx, id)
		if err != nil {
			return err
		}
		now := s.engine.Now()
		next, err := t.Transition(ledger.TransferReceived, actorID, now)
		if err != nil {
			return &ledger.TransferError{TransferID: id, Reason: "cannot receive", Err: err}
		}

		lines, err := tx.ListTransferLines(ctx, id)
		if err != nil {
			return err
		}
		sortByProduct(lines)

		var units int64
		for i, line := range lines {
			if line.UnitCostCents == nil {
				return &ledger.TransferError{TransferID: id, Reason: fmt.Sprintf("line for %s has no frozen cost", line.ProductID)}
			}
			row, err := s.engine.RecordTx(ctx, tx, ledger.Movement{
				StoreID:        t.DestinationStoreID,
				ProductID:      line.ProductID,
				Type:           ledger.TxTransfer,
				Quantity:       line.Quantity,
				UnitCostCents:  line.UnitCostCents,
				InventoryState: ledger.StateSellable,
				OccurredAt:     now,
				Reference:      ledger.Reference{Type: ledger.DocumentTransfer, ID: string(id)},
				Reason:         "transfer " + t.Number + " received",
				ActorID:        actorID,
			})
			if err != nil {
				return err
			}
			rows = append(rows, row)

			line.InboundTxID = &row.ID
			if lines[i], err = tx.UpdateTransferLine(ctx, line); err != nil {
				return err
			}
			units += line.Quantity
		}

		received, err := tx.UpdateTransfer(ctx, next)
		if err != nil {
			return err
		}
		doc = Document{Transfer: received, Lines: lines}
		return s.emit(ctx, tx, received, received.DestinationStoreID, ledger.EventTransferReceived, actorID, map[string]string{
			"lines": strconv.Itoa(len(lines)),
			"units": strconv.FormatInt(units, 10),
		})
	})
	if err != nil {
		return Document{}, err
	}

	s.engine.ObservePosted(rows...)
	s.observe(doc.Transfer)
	return doc, nil
}

func (s *Service) Cancel(ctx context.Context, id ledger.TransferID, actorID string) (ledger.Transfer, error) {
	if id == "" {
		return ledger.Transfer{}, &ledger.ValidationError{Field: "transfer_id", Message: "required"}
	}

	var cancelled ledger.Transfer
	err := s.engine.Run(ctx, "transfer.cancel", func(tx ledger.Tx) error {
		t, err := tx.LockTransfer(ctx, id)
		if err != nil {
			return err
		}
		next, err := t.Transition(ledger.TransferCancelled, actorID, s.engine.Now())
		if err != nil {
			return err
		}
		cancelled, err = tx.UpdateTransfer(ctx, next)
		if err != nil {
			return err
		}
		return s.emit(ctx, tx, cancelled, cancelled.SourceStoreID, ledger.EventTransferCancelled, actorID, nil)
	})
	if err != nil {
		return ledger.Transfer{}, err
	}

	s.observe(cancelled)
	return cancelled, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) Get(ctx context.Context, id ledger.TransferID) (Document, error) {
	if id == "" {
		return Document{}, &ledger.ValidationError{Field: "transfer_id", Message: "required"}
	}
	store := s.engine.Store()
	t, err := store.GetTransfer(ctx, id)
	if err != nil {
		return Document{}, err
	}
	lines, err := store.ListTransferLines(ctx, id)
	if err != nil {
		return Document{}, err
	}
	return Document{Transfer: t, Lines: lines}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) emit(ctx context.Context, tx ledger.Tx, t ledger.Transfer, storeID ledger.StoreID, eventType, actorID string, extra map[string]string) error {
	payload := map[string]string{
		"number":               t.Number,
		"status":               string(t.Status),
		"source_store_id":      string(t.SourceStoreID),
		"destination_store_id": string(t.DestinationStoreID),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return s.engine.EmitTx(ctx, tx, ledger.MasterLedgerEvent{
		StoreID:    storeID,
		EntityType: ledger.EntityTransfer,
		EntityID:   string(t.ID),
		EventType:  eventType,
		Category:   ledger.CategoryTransfer,
		ActorID:    actorID,
		Payload:    payload,
	})
}

func (s *Service) observe(t ledger.Transfer) {
	s.engine.Metrics().DocumentTransition(ledger.DocumentTransfer, string(t.Status))
	s.log.Info().
		Str("document", ledger.DocumentTransfer).
		Str("transfer_id", string(t.ID)).
		Str("number", t.Number).
		Str("status", string(t.Status)).
		Msg("transfer transitioned")
}

func sortByProduct(lines []ledger.TransferLine) {
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
}
