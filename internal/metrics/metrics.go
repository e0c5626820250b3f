// Package metrics aggregates system state into point-in-time snapshots
// (equity, PnL decomposition, Sharpe, drawdown, cancel/trade ratio) and
// exports them live over Prometheus (spec §4.9). Persisting trades and the
// session summary to disk is internal/journal's job, not this package's.
package metrics

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/arcturus/perpmm/internal/risk"
	"github.com/arcturus/perpmm/pkg/types"
)

// Snapshot is a single point-in-time aggregation of the whole system's
// state, suitable for logging, the Prometheus exporter, or the session
// summary.
type Snapshot struct {
	Timestamp time.Time

	Equity       decimal.Decimal
	RealizedPnL  decimal.Decimal
	UnrealizedPnL decimal.Decimal
	TotalPnL     decimal.Decimal

	Positions          []*types.Position
	TotalPositionValue decimal.Decimal

	OpenOrders         []*types.Order
	OpenOrdersCount    int
	OpenOrdersPerSymbol map[string]int

	TotalTrades       int
	TradesToday       int
	CancelToTradeRatio decimal.Decimal
	HasCancelToTrade  bool

	DailyPnL       decimal.Decimal
	PeakEquity     decimal.Decimal
	MaxDrawdown    decimal.Decimal
	MaxDrawdownPct decimal.Decimal
	SharpeRatio    decimal.Decimal
	HasSharpe      bool

	KillSwitchActive bool
	KillSwitchReason string
}

// Collector accumulates the running series (equity curve, per-trade
// returns, cancel/trade counters) needed to compute the derived metrics in
// a Snapshot.
type Collector struct {
	initialEquity decimal.Decimal

	equityHistory []decimal.Decimal
	peakEquity    decimal.Decimal

	tradeReturns    []decimal.Decimal
	tradeTimestamps []time.Time

	totalTrades   int
	totalCancels  int
	currentDay    time.Time
	dailyTrades   int
}

const equityHistoryCap = 1000

// NewCollector seeds a Collector at initialEquity.
func NewCollector(initialEquity decimal.Decimal, now time.Time) *Collector {
	return &Collector{
		initialEquity: initialEquity,
		equityHistory: []decimal.Decimal{initialEquity},
		peakEquity:    initialEquity,
		currentDay:    now.UTC().Truncate(24 * time.Hour),
	}
}

// RecordTrade folds a fill's realized PnL into the return series and the
// daily/total trade counters.
func (c *Collector) RecordTrade(timestamp time.Time, pnl decimal.Decimal) {
	c.tradeTimestamps = append(c.tradeTimestamps, timestamp)
	c.tradeReturns = append(c.tradeReturns, pnl)

	day := timestamp.UTC().Truncate(24 * time.Hour)
	if day.After(c.currentDay) {
		c.currentDay = day
		c.dailyTrades = 0
	}
	c.dailyTrades++
	c.totalTrades++
}

// RecordCancel increments the cancel counter.
func (c *Collector) RecordCancel() {
	c.totalCancels++
}

// UpdateEquity appends to the bounded equity history and tracks the peak.
func (c *Collector) UpdateEquity(equity decimal.Decimal) {
	c.equityHistory = append(c.equityHistory, equity)
	if equity.GreaterThan(c.peakEquity) {
		c.peakEquity = equity
	}
	if len(c.equityHistory) > equityHistoryCap {
		c.equityHistory = c.equityHistory[len(c.equityHistory)-equityHistoryCap:]
	}
}

// SharpeRatio computes the Sharpe ratio over the returns recorded within
// windowHours of now, or false if fewer than two qualify.
func (c *Collector) SharpeRatio(now time.Time, windowHours int) (decimal.Decimal, bool) {
	cutoff := now.Add(-time.Duration(windowHours) * time.Hour)
	var recent []decimal.Decimal
	for i, ts := range c.tradeTimestamps {
		if !ts.Before(cutoff) {
			recent = append(recent, c.tradeReturns[i])
		}
	}
	if len(recent) < 2 {
		return decimal.Zero, false
	}
	return risk.SharpeRatio(recent, decimal.Zero, 365)
}

// MaxDrawdown delegates to risk.MaxDrawdown over the recorded equity
// history.
func (c *Collector) MaxDrawdown() (decimal.Decimal, decimal.Decimal) {
	if len(c.equityHistory) < 2 {
		return decimal.Zero, decimal.Zero
	}
	return risk.MaxDrawdown(c.equityHistory)
}

// CancelToTradeRatio delegates to risk.CancelToTradeRatio.
func (c *Collector) CancelToTradeRatio() (decimal.Decimal, bool) {
	return risk.CancelToTradeRatio(c.totalCancels, c.totalTrades)
}

// GuardianStatus is the subset of Guardian state the snapshot needs,
// expressed as an interface so metrics does not depend on internal/risk's
// concrete Guardian beyond this narrow read.
type GuardianStatus interface {
	IsKillSwitchActive() bool
	KillSwitchReason() string
}

// Collect builds a Snapshot from current state. now is passed in rather
// than read from the wall clock so backtests produce deterministic
// snapshots.
func Collect(
	now time.Time,
	equity decimal.Decimal,
	positions []*types.Position,
	openOrders []*types.Order,
	totalTrades int,
	collector *Collector,
	guardian GuardianStatus,
) Snapshot {
	var realized, unrealized, totalPositionValue decimal.Decimal
	for _, p := range positions {
		realized = realized.Add(p.RealizedPL)
		unrealized = unrealized.Add(p.UnrealizedPL)
		totalPositionValue = totalPositionValue.Add(p.Notional())
	}

	ordersPerSymbol := make(map[string]int)
	for _, o := range openOrders {
		ordersPerSymbol[o.Symbol]++
	}

	tradesToday := 0
	today := now.UTC().Truncate(24 * time.Hour)
	for _, ts := range collector.tradeTimestamps {
		if ts.UTC().Truncate(24 * time.Hour).Equal(today) {
			tradesToday++
		}
	}

	cancelToTrade, hasCancelToTrade := collector.CancelToTradeRatio()
	maxDD, maxDDPct := collector.MaxDrawdown()
	sharpe, hasSharpe := collector.SharpeRatio(now, 24)

	snap := Snapshot{
		Timestamp:           now,
		Equity:              equity,
		RealizedPnL:         realized,
		UnrealizedPnL:       unrealized,
		TotalPnL:            realized.Add(unrealized),
		Positions:           positions,
		TotalPositionValue:  totalPositionValue,
		OpenOrders:          openOrders,
		OpenOrdersCount:     len(openOrders),
		OpenOrdersPerSymbol: ordersPerSymbol,
		TotalTrades:         totalTrades,
		TradesToday:         tradesToday,
		CancelToTradeRatio:  cancelToTrade,
		HasCancelToTrade:    hasCancelToTrade,
		DailyPnL:            realized.Add(unrealized),
		PeakEquity:          collector.peakEquity,
		MaxDrawdown:         maxDD,
		MaxDrawdownPct:      maxDDPct,
		SharpeRatio:         sharpe,
		HasSharpe:           hasSharpe,
	}
	if guardian != nil {
		snap.KillSwitchActive = guardian.IsKillSwitchActive()
		if snap.KillSwitchActive {
			snap.KillSwitchReason = guardian.KillSwitchReason()
		}
	}
	return snap
}
