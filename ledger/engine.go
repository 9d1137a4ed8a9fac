/*
engine.go - Inventory ledger engine

PURPOSE:
  The Engine records RECEIVE / SALE / ADJUST / TRANSFER movements and answers
  on-hand and weighted-average-cost questions by replaying POSTED rows. It
  owns the unit-of-work boundary: every mutating call opens one Tx through
  Store.WithTx, takes its locks, reads, writes, and commits or rolls back as
  a whole, replayed by RunWithRetry on write-write conflicts.

OPERATIONS:
  Receive   +qty at a unit cost, DRAFT or POSTED
  Sell      -qty, idempotent on (store, sale id, sale line id), POSTED,
            freezes WAC and COGS on the row
  Adjust    signed delta, DRAFT or POSTED, no cost
  Approve   DRAFT → APPROVED
  Post      APPROVED → POSTED (only transition with inventory effect)
  Cancel    DRAFT | APPROVED → CANCELLED

SALE FLOW (one unit of work):
  lock stream ─▶ find (store, sale, line) ─┬─ found ─▶ return {Replayed: true}
                                           └─ absent ─▶ position @ occurred_at
                                                       ─▶ oversell check @ occurred_at
                                                          and every later row
                                                       ─▶ insert SALE + snapshot
                                                       ─▶ master ledger event

COGS IMMUTABILITY:
  The snapshot is computed once from the WAC in effect at the sale's own
  OccurredAt and written with the row. POSTED rows are never updated, so a
  later (even backdated) RECEIVE changes future WAC reads but never the
  stored snapshot.

WORKFLOW BUILDING BLOCKS:
  Run, PositionTx, RecordTx and EmitTx let the transfer and count workflows
  compose engine effects inside their own unit of work.

SEE ALSO:
  - valuation.go: Replay
  - store.go: Tx contract
  - retry.go: RunWithRetry
*/
package ledger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/storeledger/metrics"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store   Store
	retry   RetryPolicy
	clock   func() time.Time
	newID   func() string
	log     zerolog.Logger
	metrics *metrics.Metrics
}

type Option func(*Engine)

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		retry: DefaultRetryPolicy(),
		clock: func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Store() Store { return e.store }
func (e *Engine) Now() time.Time { return e.clock() }
func (e *Engine) NewID() string { return e.newID() }
func (e *Engine) Logger() zerolog.Logger { return e.log }
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }
func (e *Engine) RetryPolicy() RetryPolicy { return e.retry }

// Run executes fn as one unit of work, replayed on conflict.
func (e *Engine) Run(ctx context.Context, operation string, fn func(Tx) error) error {
	start := time.Now()

	policy := e.retry
	hook := policy.OnRetry
	policy.OnRetry = func(attempt int, err error) {
		e.metrics.RetryAttempted(operation)
		e.log.Debug().Str("operation", operation).Int("attempt", attempt).Err(err).Msg("retrying unit of work")
		if hook != nil {
			hook(attempt, err)
		}
	}

	err := RunWithRetry(ctx, policy, func() error {
		return e.store.WithTx(ctx, fn)
	})

	var ce *ConflictError
	if errors.As(err, &ce) {
		e.metrics.ConflictExhausted(operation)
		e.log.Warn().Str("operation", operation).Int("attempts", ce.Attempts).Err(ce.Last).Msg("retry budget exhausted")
	}
	e.metrics.ObserveUnitOfWork(operation, time.Since(start), err)
	return err
}

// ObservePosted logs and counts rows after their unit of work committed.
func (e *Engine) ObservePosted(rows ...InventoryTransaction) {
	for _, row := range rows {
		if !row.IsPosted() {
			continue
		}
		e.metrics.MovementPosted(string(row.Type))
		e.log.Info().
			Str("tx_id", string(row.ID)).
			Str("store_id", string(row.StoreID)).
			Str("product_id", string(row.ProductID)).
			Str("type", string(row.Type)).
			Int64("quantity", row.Quantity).
			Msg("inventory movement posted")
	}
}

// =============================================================================
// INPUTS AND RESULTS
// =============================================================================

type ReceiveInput struct {
	StoreID       StoreID
	ProductID     ProductID
	Quantity      int64
	UnitCostCents int64
	OccurredAt    time.Time // zero means now
	Status        Status    // DRAFT or POSTED; empty means POSTED
	ActorID       string
	Reason        string
}

type SaleInput struct {
	StoreID    StoreID
	ProductID  ProductID
	Quantity   int64
	SaleID     string
	SaleLineID string
	OccurredAt time.Time // zero means now
	ActorID    string
}

// SaleResult distinguishes a newly posted sale from a replayed one.
// When Replayed is true, Transaction is the row created by the first call
// and nothing was written.
type SaleResult struct {
	Transaction InventoryTransaction
	Replayed    bool
}

type AdjustInput struct {
	StoreID    StoreID
	ProductID  ProductID
	Delta      int64
	OccurredAt time.Time // zero means now
	Status     Status    // DRAFT or POSTED; empty means POSTED
	ActorID    string
	Reason     string

	// AllowNegative skips the oversell guard for negative deltas.
	AllowNegative bool
}

// Movement is a POSTED row recorded on behalf of a workflow.
type Movement struct {
	StoreID        StoreID
	ProductID      ProductID
	Type           TransactionType
	Quantity       int64
	UnitCostCents  *int64
	InventoryState InventoryState
	OccurredAt     time.Time
	Reference      Reference
	Reason         string
	ActorID        string
	AllowNegative  bool
}

// =============================================================================
// RECEIVE
// =============================================================================

func (e *Engine) Receive(ctx context.Context, in ReceiveInput) (InventoryTransaction, error) {
	if err := validateStream(in.StoreID, in.ProductID); err != nil {
		return InventoryTransaction{}, err
	}
	if in.Quantity <= 0 {
		return InventoryTransaction{}, invalid("quantity", "must be positive, got %d", in.Quantity)
	}
	if in.UnitCostCents < 0 {
		return InventoryTransaction{}, invalid("unit_cost_cents", "must not be negative, got %d", in.UnitCostCents)
	}
	status, err := creationStatus(in.Status)
	if err != nil {
		return InventoryTransaction{}, err
	}

	occurred := e.occurredAt(in.OccurredAt)
	cost := in.UnitCostCents

	var row InventoryTransaction
	err = e.Run(ctx, "receive", func(tx Tx) error {
		if status == StatusPosted {
			r, err := e.RecordTx(ctx, tx, Movement{
				StoreID:        in.StoreID,
				ProductID:      in.ProductID,
				Type:           TxReceive,
				Quantity:       in.Quantity,
				UnitCostCents:  &cost,
				InventoryState: StateSellable,
				OccurredAt:     occurred,
				Reason:         in.Reason,
				ActorID:        in.ActorID,
			})
			row = r
			return err
		}

		r, err := e.insert(ctx, tx, InventoryTransaction{
			ID:             TransactionID(e.newID()),
			StoreID:        in.StoreID,
			ProductID:      in.ProductID,
			Type:           TxReceive,
			Quantity:       in.Quantity,
			UnitCostCents:  &cost,
			Status:         StatusDraft,
			InventoryState: StateSellable,
			OccurredAt:     occurred,
			CreatedAt:      e.clock(),
			Reason:         in.Reason,
			CreatedBy:      in.ActorID,
		})
		row = r
		return err
	})
	if err != nil {
		return InventoryTransaction{}, err
	}

	e.ObservePosted(row)
	return row, nil
}

// =============================================================================
// SELL
// =============================================================================

// Sell records a SALE, or returns the existing one for a repeated key.
func (e *Engine) Sell(ctx context.Context, in SaleInput) (SaleResult, error) {
	if err := validateStream(in.StoreID, in.ProductID); err != nil {
		return SaleResult{}, err
	}
	if in.Quantity <= 0 {
		return SaleResult{}, invalid("quantity", "must be positive, got %d", in.Quantity)
	}
	if in.SaleID == "" {
		return SaleResult{}, invalid("sale_id", "required")
	}
	if in.SaleLineID == "" {
		return SaleResult{}, invalid("sale_line_id", "required")
	}

	occurred := e.occurredAt(in.OccurredAt)

	var result SaleResult
	err := e.Run(ctx, "sell", func(tx Tx) error {
		result = SaleResult{}

		if err := tx.LockStream(ctx, in.StoreID, in.ProductID); err != nil {
			return err
		}

		existing, found, err := tx.FindSale(ctx, in.StoreID, in.SaleID, in.SaleLineID)
		if err != nil {
			return err
		}
		if found {
			result = SaleResult{Transaction: existing, Replayed: true}
			return nil
		}

		pos, err := e.guardDecrementTx(ctx, tx, in.StoreID, in.ProductID, occurred, in.Quantity)
		if err != nil {
			return err
		}

		unitCost := pos.UnitCostCents
		cogs := ExtendedCost(in.Quantity, unitCost)
		now := e.clock()

		row, err := e.insert(ctx, tx, InventoryTransaction{
			ID:                  TransactionID(e.newID()),
			StoreID:             in.StoreID,
			ProductID:           in.ProductID,
			Type:                TxSale,
			Quantity:            -in.Quantity,
			Status:              StatusPosted,
			InventoryState:      StateSellable,
			OccurredAt:          occurred,
			CreatedAt:           now,
			SaleID:              stringPtr(in.SaleID),
			SaleLineID:          stringPtr(in.SaleLineID),
			UnitCostCentsAtSale: &unitCost,
			COGSCents:           &cogs,
			CreatedBy:           in.ActorID,
			PostedBy:            in.ActorID,
			PostedAt:            &now,
		})
		if err != nil {
			return err
		}
		result = SaleResult{Transaction: row}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOversell) {
			e.metrics.OversellRejected()
		}
		return SaleResult{}, err
	}

	if result.Replayed {
		e.metrics.SaleReplayed()
		existing := result.Transaction
		if existing.ProductID != in.ProductID || -existing.Quantity != in.Quantity {
			e.log.Warn().
				Str("tx_id", string(existing.ID)).
				Str("sale_id", in.SaleID).
				Str("sale_line_id", in.SaleLineID).
				Msg("sale replay differs from the recorded line; returning recorded line")
		}
		return result, nil
	}

	e.ObservePosted(result.Transaction)
	return result, nil
}

// =============================================================================
// ADJUST
// =============================================================================

func (e *Engine) Adjust(ctx context.Context, in AdjustInput) (InventoryTransaction, error) {
	if err := validateStream(in.StoreID, in.ProductID); err != nil {
		return InventoryTransaction{}, err
	}
	if in.Delta == 0 {
		return InventoryTransaction{}, invalid("delta", "must not be zero")
	}
	status, err := creationStatus(in.Status)
	if err != nil {
		return InventoryTransaction{}, err
	}

	occurred := e.occurredAt(in.OccurredAt)

	var row InventoryTransaction
	err = e.Run(ctx, "adjust", func(tx Tx) error {
		if status == StatusPosted {
			r, err := e.RecordTx(ctx, tx, Movement{
				StoreID:        in.StoreID,
				ProductID:      in.ProductID,
				Type:           TxAdjust,
				Quantity:       in.Delta,
				InventoryState: StateSellable,
				OccurredAt:     occurred,
				Reason:         in.Reason,
				ActorID:        in.ActorID,
				AllowNegative:  in.AllowNegative,
			})
			row = r
			return err
		}

		r, err := e.insert(ctx, tx, InventoryTransaction{
			ID:             TransactionID(e.newID()),
			StoreID:        in.StoreID,
			ProductID:      in.ProductID,
			Type:           TxAdjust,
			Quantity:       in.Delta,
			Status:         StatusDraft,
			InventoryState: StateSellable,
			OccurredAt:     occurred,
			CreatedAt:      e.clock(),
			Reason:         in.Reason,
			CreatedBy:      in.ActorID,
		})
		row = r
		return err
	})
	if err != nil {
		if errors.Is(err, ErrOversell) {
			e.metrics.OversellRejected()
		}
		return InventoryTransaction{}, err
	}

	e.ObservePosted(row)
	return row, nil
}

// =============================================================================
// LIFECYCLE - DRAFT → APPROVED → POSTED, or CANCELLED
// =============================================================================

func (e *Engine) Approve(ctx context.Context, id TransactionID, actorID string) (InventoryTransaction, error) {
	return e.transition(ctx, "approve", id, func(cur InventoryTransaction, at time.Time) (InventoryTransaction, error) {
		return cur.Approve(actorID, at)
	})
}

func (e *Engine) Cancel(ctx context.Context, id TransactionID, actorID string) (InventoryTransaction, error) {
	return e.transition(ctx, "cancel", id, func(cur InventoryTransaction, at time.Time) (InventoryTransaction, error) {
		return cur.Cancel(actorID, at)
	})
}

// Post is the only transition with inventory effect. Negative rows are
// re-checked against on-hand at their OccurredAt, and against every later
// POSTED row, before they become real.
func (e *Engine) Post(ctx context.Context, id TransactionID, actorID string) (InventoryTransaction, error) {
	if id == "" {
		return InventoryTransaction{}, invalid("id", "required")
	}

	var posted InventoryTransaction
	err := e.Run(ctx, "post", func(tx Tx) error {
		cur, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		next, err := cur.Post(actorID, e.clock())
		if err != nil {
			return err
		}

		if err := tx.LockStream(ctx, next.StoreID, next.ProductID); err != nil {
			return err
		}
		if next.Quantity < 0 {
			if _, err := e.guardDecrementTx(ctx, tx, next.StoreID, next.ProductID, next.OccurredAt, -next.Quantity); err != nil {
				return err
			}
		}

		updated, err := tx.UpdateTransaction(ctx, next)
		if err != nil {
			return err
		}
		if err := e.emitPosted(ctx, tx, updated); err != nil {
			return err
		}
		posted = updated
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOversell) {
			e.metrics.OversellRejected()
		}
		return InventoryTransaction{}, err
	}

	e.ObservePosted(posted)
	return posted, nil
}

func (e *Engine) transition(
	ctx context.Context,
	operation string,
	id TransactionID,
	apply func(cur InventoryTransaction, at time.Time) (InventoryTransaction, error),
) (InventoryTransaction, error) {
	if id == "" {
		return InventoryTransaction{}, invalid("id", "required")
	}

	var out InventoryTransaction
	err := e.Run(ctx, operation, func(tx Tx) error {
		cur, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		next, err := apply(cur, e.clock())
		if err != nil {
			return err
		}
		out, err = tx.UpdateTransaction(ctx, next)
		return err
	})
	if err != nil {
		return InventoryTransaction{}, err
	}

	e.log.Debug().Str("tx_id", string(id)).Str("status", string(out.Status)).Msg("inventory transaction transitioned")
	return out, nil
}

// =============================================================================
// QUERIES - Always replayed from the log
// =============================================================================

func (e *Engine) QuantityOnHand(ctx context.Context, storeID StoreID, productID ProductID, asOf *time.Time) (int64, error) {
	pos, err := e.Position(ctx, storeID, productID, asOf)
	if err != nil {
		return 0, err
	}
	return pos.OnHand, nil
}

func (e *Engine) WeightedAverageCost(ctx context.Context, storeID StoreID, productID ProductID, asOf *time.Time) (int64, error) {
	pos, err := e.Position(ctx, storeID, productID, asOf)
	if err != nil {
		return 0, err
	}
	return pos.UnitCostCents, nil
}

// Position returns on-hand and WAC together. A nil asOf means now.
func (e *Engine) Position(ctx context.Context, storeID StoreID, productID ProductID, asOf *time.Time) (Position, error) {
	if err := validateStream(storeID, productID); err != nil {
		return Position{}, err
	}
	at := e.clock()
	if asOf != nil {
		at = *asOf
	}
	return e.PositionTx(ctx, e.store, storeID, productID, at)
}

func (e *Engine) GetTransaction(ctx context.Context, id TransactionID) (InventoryTransaction, error) {
	if id == "" {
		return InventoryTransaction{}, invalid("id", "required")
	}
	return e.store.GetTransaction(ctx, id)
}

// History lists every row of a stream regardless of status.
func (e *Engine) History(ctx context.Context, storeID StoreID, productID ProductID) ([]InventoryTransaction, error) {
	if err := validateStream(storeID, productID); err != nil {
		return nil, err
	}
	return e.store.ListStream(ctx, storeID, productID)
}

// Events reads the master ledger.
func (e *Engine) Events(ctx context.Context, filter EventFilter) ([]MasterLedgerEvent, error) {
	if filter.Limit < 0 {
		return nil, invalid("limit", "must not be negative")
	}
	return e.store.ListEvents(ctx, filter)
}

// =============================================================================
// WORKFLOW BUILDING BLOCKS - For use inside Run
// =============================================================================

// PositionTx replays a stream through r, which may be a Tx or the Store.
func (e *Engine) PositionTx(ctx context.Context, r Reader, storeID StoreID, productID ProductID, asOf time.Time) (Position, error) {
	rows, err := r.ListPosted(ctx, storeID, productID, asOf)
	if err != nil {
		return Position{}, err
	}
	return Replay(storeID, productID, rows, asOf), nil
}

// RecordTx locks the stream, guards against oversell unless AllowNegative,
// inserts a POSTED row and emits its master ledger event.
func (e *Engine) RecordTx(ctx context.Context, tx Tx, m Movement) (InventoryTransaction, error) {
	if err := validateStream(m.StoreID, m.ProductID); err != nil {
		return InventoryTransaction{}, err
	}
	if m.Quantity == 0 {
		return InventoryTransaction{}, invalid("quantity", "must not be zero")
	}
	if m.UnitCostCents != nil && *m.UnitCostCents < 0 {
		return InventoryTransaction{}, invalid("unit_cost_cents", "must not be negative, got %d", *m.UnitCostCents)
	}

	occurred := e.occurredAt(m.OccurredAt)
	state := m.InventoryState
	if state == "" {
		state = StateSellable
	}

	if err := tx.LockStream(ctx, m.StoreID, m.ProductID); err != nil {
		return InventoryTransaction{}, err
	}
	if m.Quantity < 0 && !m.AllowNegative {
		if _, err := e.guardDecrementTx(ctx, tx, m.StoreID, m.ProductID, occurred, -m.Quantity); err != nil {
			return InventoryTransaction{}, err
		}
	}

	now := e.clock()
	return e.insert(ctx, tx, InventoryTransaction{
		ID:             TransactionID(e.newID()),
		StoreID:        m.StoreID,
		ProductID:      m.ProductID,
		Type:           m.Type,
		Quantity:       m.Quantity,
		UnitCostCents:  m.UnitCostCents,
		Status:         StatusPosted,
		InventoryState: state,
		OccurredAt:     occurred,
		CreatedAt:      now,
		Reference:      m.Reference,
		Reason:         m.Reason,
		CreatedBy:      m.ActorID,
		PostedBy:       m.ActorID,
		PostedAt:       &now,
	})
}

// guardDecrementTx rejects taking requested units at `at` when that would
// leave the stream short at `at` or at any later POSTED row. It returns the
// position as of `at` for cost snapshots.
func (e *Engine) guardDecrementTx(ctx context.Context, r Reader, storeID StoreID, productID ProductID, at time.Time, requested int64) (Position, error) {
	rows, err := r.ListPosted(ctx, storeID, productID, EndOfTime)
	if err != nil {
		return Position{}, err
	}
	pos := Replay(storeID, productID, rows, at)

	if available := Headroom(rows, at); available-requested < 0 {
		return Position{}, &OversellError{
			StoreID:   storeID,
			ProductID: productID,
			Available: available,
			Requested: requested,
		}
	}
	return pos, nil
}

// EmitTx appends one master ledger event, filling ID and timestamps.
func (e *Engine) EmitTx(ctx context.Context, tx Tx, ev MasterLedgerEvent) error {
	now := e.clock()
	if ev.ID == "" {
		ev.ID = e.newID()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = now
	}
	ev.RecordedAt = now
	return tx.AppendEvent(ctx, ev)
}

func (e *Engine) insert(ctx context.Context, tx Tx, row InventoryTransaction) (InventoryTransaction, error) {
	row.VersionID = 1
	if err := tx.InsertTransaction(ctx, row); err != nil {
		return InventoryTransaction{}, err
	}
	if row.IsPosted() {
		if err := e.emitPosted(ctx, tx, row); err != nil {
			return InventoryTransaction{}, err
		}
	}
	return row, nil
}

func (e *Engine) emitPosted(ctx context.Context, tx Tx, row InventoryTransaction) error {
	payload := map[string]string{
		"type":            string(row.Type),
		"product_id":      string(row.ProductID),
		"quantity":        strconv.FormatInt(row.Quantity, 10),
		"inventory_state": string(row.InventoryState),
		"occurred_at":     row.OccurredAt.Format(time.RFC3339Nano),
	}
	if row.UnitCostCents != nil {
		payload["unit_cost_cents"] = strconv.FormatInt(*row.UnitCostCents, 10)
	}
	if row.COGSCents != nil {
		payload["cogs_cents"] = strconv.FormatInt(*row.COGSCents, 10)
	}
	if row.Reference.ID != "" {
		payload["reference_type"] = row.Reference.Type
		payload["reference_id"] = row.Reference.ID
	}

	var postedAt time.Time
	if row.PostedAt != nil {
		postedAt = *row.PostedAt
	}
	return e.EmitTx(ctx, tx, MasterLedgerEvent{
		StoreID:    row.StoreID,
		EntityType: EntityInventoryTransaction,
		EntityID:   string(row.ID),
		EventType:  EventTransactionPosted,
		Category:   CategoryInventory,
		ActorID:    row.PostedBy,
		OccurredAt: postedAt,
		Payload:    payload,
	})
}

// =============================================================================
// VALIDATION HELPERS
// =============================================================================

func validateStream(storeID StoreID, productID ProductID) error {
	if storeID == "" {
		return invalid("store_id", "required")
	}
	if productID == "" {
		return invalid("product_id", "required")
	}
	return nil
}

// creationStatus maps the requested initial status; rows start DRAFT or POSTED.
func creationStatus(s Status) (Status, error) {
	switch s {
	case "", StatusPosted:
		return StatusPosted, nil
	case StatusDraft:
		return StatusDraft, nil
	default:
		return "", invalid("status", "new transactions start as DRAFT or POSTED, got %q", s)
	}
}

func (e *Engine) occurredAt(t time.Time) time.Time {
	if t.IsZero() {
		return e.clock()
	}
	return t.UTC()
}
