// Package risk implements the stateless risk-limit predicates (this file),
// the ATR/drawdown risk-scaling engine (scaling.go), the kill-switch and
// toxicity guardian (guardian.go), and shared performance-metric formulas
// (metrics.go).
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/arcturus/perpmm/pkg/types"
)

// LimitsConfig holds the stateless limit thresholds of spec §4.4.
type LimitsConfig struct {
	DailyLossLimitPct       decimal.Decimal
	DrawdownSoftPct         decimal.Decimal
	DrawdownHardPct         decimal.Decimal
	MaxNetNotional          decimal.Decimal
	MaxOrderNotional        decimal.Decimal
	MaxPriceDistancePct     decimal.Decimal
}

// Violation describes a single failed predicate. Hard is true when the
// violation is severe enough to latch the kill-switch (daily loss,
// drawdown-hard, position-hard); false for order-level rejects that do not
// affect the kill-switch.
type Violation struct {
	Reason string
	Hard   bool
}

// CheckDailyLoss returns a Violation when today's realized PnL has breached
// -equity*daily_loss_limit_pct.
func CheckDailyLoss(cfg LimitsConfig, pnl *types.PnLState, equity decimal.Decimal) (Violation, bool) {
	threshold := equity.Mul(cfg.DailyLossLimitPct).Neg()
	if pnl.DailyRealizedPnL.LessThanOrEqual(threshold) {
		return Violation{Reason: "daily loss limit exceeded", Hard: true}, true
	}
	return Violation{}, false
}

// CheckDrawdown returns (violation, violated); violation.Hard tells which
// threshold was hit. Hard at drawdown>=equity*hard_pct; soft at
// drawdown>=equity*soft_pct.
func CheckDrawdown(cfg LimitsConfig, pnl *types.PnLState, equity decimal.Decimal) (Violation, bool) {
	hardThreshold := equity.Mul(cfg.DrawdownHardPct)
	softThreshold := equity.Mul(cfg.DrawdownSoftPct)

	if pnl.Drawdown.GreaterThanOrEqual(hardThreshold) {
		return Violation{Reason: "drawdown hard limit exceeded", Hard: true}, true
	}
	if pnl.Drawdown.GreaterThanOrEqual(softThreshold) {
		return Violation{Reason: "drawdown soft limit exceeded", Hard: false}, true
	}
	return Violation{}, false
}

// CheckPositionNotional returns a Violation when |position.notional| exceeds
// max_net_notional.
func CheckPositionNotional(cfg LimitsConfig, pos *types.Position) (Violation, bool) {
	if pos == nil {
		return Violation{}, false
	}
	if pos.Notional().GreaterThan(cfg.MaxNetNotional) {
		return Violation{Reason: "position net notional exceeds limit", Hard: true}, true
	}
	return Violation{}, false
}

// CheckOrderSize returns a Violation when order.notional exceeds
// max_order_notional.
func CheckOrderSize(cfg LimitsConfig, order *types.Order) (Violation, bool) {
	notional := order.Price.Mul(order.Quantity)
	if notional.GreaterThan(cfg.MaxOrderNotional) {
		return Violation{Reason: "order notional exceeds max_order_notional"}, true
	}
	return Violation{}, false
}

// CheckPriceBand rejects an order whose price lies too far from the current
// best bid/ask: price < best_bid - mid*max_price_distance_pct, or
// price > best_ask + mid*max_price_distance_pct.
func CheckPriceBand(cfg LimitsConfig, order *types.Order, bestBid, bestAsk, mid decimal.Decimal) (Violation, bool) {
	band := mid.Mul(cfg.MaxPriceDistancePct)
	lower := bestBid.Sub(band)
	upper := bestAsk.Add(band)

	if order.Price.LessThan(lower) || order.Price.GreaterThan(upper) {
		return Violation{Reason: "order price outside allowed band from best bid/ask"}, true
	}
	return Violation{}, false
}
