/*
Package count reconciles the ledger with a physical stock count.

PURPOSE:
  A count is a numbered, single-store document. Each line records what the
  ledger expected and what was actually on the shelf. Posting the count
  turns every non-zero variance into one ADJUST row, so that after posting
  the ledger agrees with the shelf.

LIFECYCLE:
  Create ─▶ PENDING ──AddLine*──▶ Approve ─▶ APPROVED ─▶ Post ─▶ POSTED
  Cancel is allowed from PENDING or APPROVED only.

LINE SNAPSHOT (taken at AddLine):
  expected       = on-hand now
  variance       = actual - expected
  unit cost      = WAC now
  variance cost  = variance × WAC

  Example: expected 100, actual 92 → variance -8 → ADJUST -8 on post.

APPROVE:
  Freezes total variance quantity and cost on the header.

POST:
  ADJUST rows are recorded with AllowNegative: a count is a correction and
  may take a stream below zero if later sales already consumed the stock.
  Lines with zero variance produce no row.

SEE ALSO:
  - ledger/documents.go: Count, CountLine, CountLifecycle
  - ledger/engine.go: Run, RecordTx, PositionTx
*/
package count

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/warp/storeledger/ledger"
)

// NumberPrefix precedes every count document number.
const NumberPrefix = "CNT-"

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

// Document is a count with its lines.
type Document struct {
	Count ledger.Count
	Lines []ledger.CountLine
}

func (s *Service) Create(ctx context.Context, storeID ledger.StoreID, actorID, notes string) (ledger.Count, error) {
	if storeID == "" {
		return ledger.Count{}, &ledger.ValidationError{Field: "store_id", Message: "required"}
	}

	var created ledger.Count
	err := s.engine.Run(ctx, "count.create", func(tx ledger.Tx) error {
		number, err := ledger.NextNumberTx(ctx, tx, storeID, ledger.DocumentCount, NumberPrefix)
		if err != nil {
			return err
		}
		c := ledger.Count{
			ID:        ledger.CountID(s.engine.NewID()),
			Number:    number,
			StoreID:   storeID,
			Status:    ledger.CountPending,
			Notes:     notes,
			CreatedBy: actorID,
			CreatedAt: s.engine.Now(),
			VersionID: 1,
		}
		if err := tx.InsertCount(ctx, c); err != nil {
			return err
		}
		created = c
		return s.emit(ctx, tx, c, ledger.EventCountCreated, actorID, nil)
	})
	if err != nil {
		return ledger.Count{}, err
	}

	s.observe(created)
	return created, nil
}

// AddLine records the counted quantity of one product and snapshots the
// ledger's view of it.
func (s *Service) AddLine(ctx context.Context, id ledger.CountID, productID ledger.ProductID, actual int64, actorID string) (ledger.CountLine, error) {
	if id == "" {
		return ledger.CountLine{}, &ledger.ValidationError{Field: "count_id", Message: "required"}
	}
	if productID == "" {
		return ledger.CountLine{}, &ledger.ValidationError{Field: "product_id", Message: "required"}
	}
	if actual < 0 {
		return ledger.CountLine{}, &ledger.ValidationError{Field: "actual_quantity", Message: fmt.Sprintf("must not be negative, got %d", actual)}
	}

	var line ledger.CountLine
	err := s.engine.Run(ctx, "count.add_line", func(tx ledger.Tx) error {
		c, err := tx.LockCount(ctx, id)
		if err != nil {
			return err
		}
		if c.Status != ledger.CountPending {
			return &ledger.CountError{CountID: id, Reason: fmt.Sprintf("lines can only be added while PENDING, status is %s", c.Status)}
		}

		lines, err := tx.ListCountLines(ctx, id)
		if err != nil {
			return err
		}
		for _, l := range lines {
			if l.ProductID == productID {
				return &ledger.CountError{CountID: id, Reason: fmt.Sprintf("product %s is already counted", productID)}
			}
		}

		now := s.engine.Now()
		pos, err := s.engine.PositionTx(ctx, tx, c.StoreID, productID, now)
		if err != nil {
			return err
		}
		variance := actual - pos.OnHand

		line = ledger.CountLine{
			ID:                s.engine.NewID(),
			CountID:           id,
			ProductID:         productID,
			ExpectedQuantity:  pos.OnHand,
			ActualQuantity:    actual,
			Variance:          variance,
			UnitCostCents:     pos.UnitCostCents,
			VarianceCostCents: ledger.ExtendedCost(variance, pos.UnitCostCents),
			CreatedAt:         now,
			VersionID:         1,
		}
		if err := tx.InsertCountLine(ctx, line); err != nil {
			return err
		}
		return s.emit(ctx, tx, c, ledger.EventCountLineAdded, actorID, map[string]string{
			"product_id": string(productID),
			"expected":   strconv.FormatInt(line.ExpectedQuantity, 10),
			"actual":     strconv.FormatInt(actual, 10),
			"variance":   strconv.FormatInt(variance, 10),
		})
	})
	if err != nil {
		return ledger.CountLine{}, err
	}
	return line, nil
}

// Approve freezes the variance totals.
func (s *Service) Approve(ctx context.Context, id ledger.CountID, actorID string) (ledger.Count, error) {
	if id == "" {
		return ledger.Count{}, &ledger.ValidationError{Field: "count_id", Message: "required"}
	}

	var approved ledger.Count
	err := s.engine.Run(ctx, "count.approve", func(tx ledger.Tx) error {
		c, err := tx.LockCount(ctx, id)
		if err != nil {
			return err
		}
		next, err := c.Transition(ledger.CountApproved, actorID, s.engine.Now())
		if err != nil {
			return err
		}
		lines, err := tx.ListCountLines(ctx, id)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return &ledger.CountError{CountID: id, Reason: "cannot approve a count without lines"}
		}

		next.TotalVarianceQuantity, next.TotalVarianceCents = 0, 0
		for _, l := range lines {
			next.TotalVarianceQuantity += l.Variance
			next.TotalVarianceCents += l.VarianceCostCents
		}

		approved, err = tx.UpdateCount(ctx, next)
		if err != nil {
			return err
		}
		return s.emit(ctx, tx, approved, ledger.EventCountApproved, actorID, map[string]string{
			"lines":                   strconv.Itoa(len(lines)),
			"total_variance_quantity": strconv.FormatInt(approved.TotalVarianceQuantity, 10),
			"total_variance_cents":    strconv.FormatInt(approved.TotalVarianceCents, 10),
		})
	})
	if err != nil {
		return ledger.Count{}, err
	}

	s.observe(approved)
	return approved, nil
}

// Post writes one ADJUST per non-zero variance line.
func (s *Service) Post(ctx context.Context, id ledger.CountID, actorID string) (Document, error) {
	if id == "" {
		return Document{}, &ledger.ValidationError{Field: "count_id", Message: "required"}
	}

	var (
		doc  Document
		rows []ledger.InventoryTransaction
	)
	err := s.engine.Run(ctx, "count.post", func(tx ledger.Tx) error {
		doc, rows = Document{}, nil

		c, err := tx.LockCount(ctx, id)
		if err != nil {
			return err
		}
		now := s.engine.Now()
		next, err := c.Transition(ledger.CountPosted, actorID, now)
		if err != nil {
			return &ledger.CountError{CountID: id, Reason: "cannot post", Err: err}
		}

		lines, err := tx.ListCountLines(ctx, id)
		if err != nil {
			return err
		}
		for i, line := range lines {
			if line.Variance == 0 {
				continue
			}
			row, err := s.engine.RecordTx(ctx, tx, ledger.Movement{
				StoreID:        c.StoreID,
				ProductID:      line.ProductID,
				Type:           ledger.TxAdjust,
				Quantity:       line.Variance,
				InventoryState: ledger.StateSellable,
				OccurredAt:     now,
				Reference:      ledger.Reference{Type: ledger.DocumentCount, ID: string(id)},
				Reason:         "count " + c.Number,
				ActorID:        actorID,
				AllowNegative:  true,
			})
			if err != nil {
				return err
			}
			rows = append(rows, row)

			line.AdjustmentTxID = &row.ID
			if lines[i], err = tx.UpdateCountLine(ctx, line); err != nil {
				return err
			}
		}

		posted, err := tx.UpdateCount(ctx, next)
		if err != nil {
			return err
		}
		doc = Document{Count: posted, Lines: lines}
		return s.emit(ctx, tx, posted, ledger.EventCountPosted, actorID, map[string]string{
			"adjustments": strconv.Itoa(len(rows)),
		})
	})
	if err != nil {
		return Document{}, err
	}

	s.engine.ObservePosted(rows...)
	s.observe(doc.Count)
	return doc, nil
}

func (s *Service) Cancel(ctx context.Context, id ledger.CountID, actorID string) (ledger.Count, error) {
	if id == "" {
		return ledger.Count{}, &ledger.ValidationError{Field: "count_id", Message: "required"}
	}

	var cancelled ledger.Count
	err := s.engine.Run(ctx, "count.cancel", func(tx ledger.Tx) error {
		c, err := tx.LockCount(ctx, id)
		if err != nil {
			return err
		}
		next, err := c.Transition(ledger.CountCancelled, actorID, s.engine.Now())
		if err != nil {
			return err
		}
		cancelled, err = tx.UpdateCount(ctx, next)
		if err != nil {
			return err
		}
		return s.emit(ctx, tx, cancelled, ledger.EventCountCancelled, actorID, nil)
	})
	if err != nil {
		return ledger.Count{}, err
	}

	s.observe(cancelled)
	return cancelled, nil
}

func (s *Service) Get(ctx context.Context, id ledger.CountID) (Document, error) {
	if id == "" {
		return Document{}, &ledger.ValidationError{Field: "count_id", Message: "required"}
	}
	store := s.engine.Store()
	c, err := store.GetCount(ctx, id)
	if err != nil {
		return Document{}, err
	}
	lines, err := store.ListCountLines(ctx, id)
	if err != nil {
		return Document{}, err
	}
	return Document{Count: c, Lines: lines}, nil
}

func (s *Service) emit(ctx context.Context, tx ledger.Tx, c ledger.Count, eventType, actorID string, extra map[string]string) error {
	payload := map[string]string{
		"number": c.Number,
		"status": string(c.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return s.engine.EmitTx(ctx, tx, ledger.MasterLedgerEvent{
		StoreID:    c.StoreID,
		EntityType: ledger.EntityCount,
		EntityID:   string(c.ID),
		EventType:  eventType,
		Category:   ledger.CategoryCount,
		ActorID:    actorID,
		Payload:    payload,
	})
}

func (s *Service) observe(c ledger.Count) {
	s.engine.Metrics().DocumentTransition(ledger.DocumentCount, string(c.Status))
	s.log.Info().
		Str("document", ledger.DocumentCount).
		Str("count_id", string(c.ID)).
		Str("number", c.Number).
		Str("status", string(c.Status)).
		Msg("count transitioned")
}
