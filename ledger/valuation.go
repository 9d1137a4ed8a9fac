/*
valuation.go - On-hand quantity and weighted average cost

PURPOSE:
  Computes a Position by replaying a stream. There is no stored running
  balance anywhere: every read walks the POSTED rows up to the as-of time.

ON-HAND:
  Sum of Quantity over POSTED rows with OccurredAt <= asOf. DRAFT, APPROVED
  and CANCELLED rows never count.

WEIGHTED AVERAGE COST:
  WAC = Σ(receive_qty × receive_cost) / Σ(receive_qty) over POSTED RECEIVE
  rows up to asOf, rounded half away from zero to whole cents.

  The pool is NON-DEPLETING: sales and adjustments change quantity but never
  remove cost from the pool. WAC therefore changes only when a new POSTED
  RECEIVE lands at or before asOf.

  Example:
    RECEIVE 100 @ 500¢, RECEIVE 100 @ 1000¢ (backdated), SELL 50
    WAC = (50000 + 100000) / 200 = 750¢

HEADROOM:
  A decrement placed at time T must fit the balance at T and every later
  running balance, or a backdated sale would push today's stock negative.

    RECEIVE 10 @ t-3h, SELL 10 @ t   → headroom at t-1h is min(10, 0) = 0

SEE ALSO:
  - engine.go: Sell snapshots WAC at the sale's OccurredAt
*/
package ledger

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Replay folds a stream into a Position as of asOf.
// Rows that are not POSTED or are later than asOf are skipped, so callers
// may pass an unfiltered stream.
func Replay(storeID StoreID, productID ProductID, rows []InventoryTransaction, asOf time.Time) Position {
	pos := Position{StoreID: storeID, ProductID: productID, AsOf: asOf}

	for _, row := range rows {
		if !row.IsPosted() || row.OccurredAt.After(asOf) {
			continue
		}
		pos.OnHand += row.Quantity

		if row.Type == TxReceive && row.UnitCostCents != nil && row.Quantity > 0 {
			pos.ReceivedUnits += row.Quantity
			pos.ReceivedCents += row.Quantity * *row.UnitCostCents
		}
	}

	if pos.ReceivedUnits > 0 {
		pos.HasCostBasis = true
		pos.UnitCostCents = AverageCost(pos.ReceivedCents, pos.ReceivedUnits)
	}
	return pos
}

// EndOfTime bounds a read that must see every POSTED row, future-dated
// ones included.
var EndOfTime = time.Unix(0, math.MaxInt64).UTC()

// Headroom returns the lowest on-hand the stream reaches from at onward:
// the balance at at itself, then each running balance after a later POSTED
// row. rows must be in replay order.
func Headroom(rows []InventoryTransaction, at time.Time) int64 {
	var balance int64
	i := 0
	for ; i < len(rows) && !rows[i].OccurredAt.After(at); i++ {
		if rows[i].IsPosted() {
			balance += rows[i].Quantity
		}
	}

	lowest := balance
	for ; i < len(rows); i++ {
		if !rows[i].IsPosted() {
			continue
		}
		balance += rows[i].Quantity
		if balance < lowest {
			lowest = balance
		}
	}
	return lowest
}

// AverageCost divides a cost pool by its units, rounding to whole cents.
func AverageCost(totalCents, units int64) int64 {
	if units == 0 {
		return 0
	}
	avg := decimal.NewFromInt(totalCents).Div(decimal.NewFromInt(units))
	return avg.Round(0).IntPart()
}

// ExtendedCost returns quantity × unit cost. Quantity may be negative.
func ExtendedCost(quantity, unitCostCents int64) int64 {
	return decimal.NewFromInt(quantity).Mul(decimal.NewFromInt(unitCostCents)).IntPart()
}
