// Package position implements the cost-basis accounting shared by the
// simulated exchange and the market-maker engine's own position mirror, so
// both apply a fill to a *types.Position the same way (spec §4.3/§4.7).
package position

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/arcturus/perpmm/pkg/types"
)

func sameSign(a, b decimal.Decimal) bool {
	return (a.IsPositive() && b.IsPositive()) || (a.IsNegative() && b.IsNegative())
}

// ApplyFill mutates pos in place for a fill of qty at fillPrice on side,
// marking it at markPrice, and returns the realized PnL produced by this
// fill (zero unless the fill closes some or all of an existing position).
//
// Four cases, in order: same-direction increase (including opening from
// flat); partial close that preserves the remaining position's entry
// price; full close (cost resets to zero, entry becomes undefined); flip,
// which realizes PnL on the old position's entire size and starts a fresh
// cost basis from only the remainder that crossed through zero.
func ApplyFill(pos *types.Position, side types.OrderSide, qty, fillPrice, markPrice decimal.Decimal, now time.Time) decimal.Decimal {
	signedQty := qty
	if side == types.OrderSideSell {
		signedQty = qty.Neg()
	}
	signedCost := fillPrice.Mul(signedQty)

	oldQ := pos.Quantity
	oldCost := pos.Cost
	var oldEntry decimal.Decimal
	if !oldQ.IsZero() {
		oldEntry = oldCost.Div(oldQ)
	}

	newQ := oldQ.Add(signedQty)
	realized := decimal.Zero

	sameDirection := oldQ.IsZero() || sameSign(oldQ, signedQty)

	switch {
	case sameDirection:
		pos.Cost = oldCost.Add(signedCost)
	case !newQ.IsZero() && sameSign(newQ, oldQ):
		closeQty := decimal.Min(oldQ.Abs(), signedQty.Abs())
		if oldQ.IsPositive() {
			realized = fillPrice.Sub(oldEntry).Mul(closeQty)
		} else {
			realized = oldEntry.Sub(fillPrice).Mul(closeQty)
		}
		pos.Cost = oldEntry.Mul(newQ)
	case newQ.IsZero():
		closeQty := oldQ.Abs()
		if oldQ.IsPositive() {
			realized = fillPrice.Sub(oldEntry).Mul(closeQty)
		} else {
			realized = oldEntry.Sub(fillPrice).Mul(closeQty)
		}
		pos.Cost = decimal.Zero
	default:
		closeQty := oldQ.Abs()
		if oldQ.IsPositive() {
			realized = fillPrice.Sub(oldEntry).Mul(closeQty)
		} else {
			realized = oldEntry.Sub(fillPrice).Mul(closeQty)
		}
		pos.Cost = fillPrice.Mul(newQ)
	}

	pos.Quantity = newQ
	pos.RealizedPL = pos.RealizedPL.Add(realized)
	pos.MarkPrice = markPrice
	if !newQ.IsZero() {
		entry := pos.Cost.Div(newQ)
		pos.UnrealizedPL = markPrice.Sub(entry).Mul(newQ)
	} else {
		pos.UnrealizedPL = decimal.Zero
	}
	pos.Timestamp = now

	return realized
}
