package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PnLState decomposes a running book's profit and loss and tracks the
// equity curve used for drawdown and risk-scaling feedback.
type PnLState struct {
	SpreadPnL        decimal.Decimal `json:"spread_pnl"`
	SpreadPnLNet     decimal.Decimal `json:"spread_pnl_net"`
	InventoryPnL     decimal.Decimal `json:"inventory_pnl"`
	MakerCommission  decimal.Decimal `json:"maker_commission"`
	TakerCommission  decimal.Decimal `json:"taker_commission"`
	SlippageCost     decimal.Decimal `json:"slippage_cost"`
	FundingPnL       decimal.Decimal `json:"funding_pnl"`
	NetPnL           decimal.Decimal `json:"net_pnl"`
	InitialEquity    decimal.Decimal `json:"initial_equity"`
	CurrentEquity    decimal.Decimal `json:"current_equity"`
	PeakEquity       decimal.Decimal `json:"peak_equity"`
	Drawdown         decimal.Decimal `json:"drawdown"`
	DrawdownPct      decimal.Decimal `json:"drawdown_pct"`
	DailyRealizedPnL decimal.Decimal `json:"daily_realized_pnl"`
	DailyTrades      int             `json:"daily_trades"`
	DailyVolume      decimal.Decimal `json:"daily_volume"`
	DailyResetTime   time.Time       `json:"daily_reset_time"`
}

// NewPnLState returns a freshly initialized state for the given starting
// equity, with peak equity seeded to the same value.
func NewPnLState(initialEquity decimal.Decimal, now time.Time) *PnLState {
	return &PnLState{
		InitialEquity:  initialEquity,
		CurrentEquity:  initialEquity,
		PeakEquity:     initialEquity,
		DailyResetTime: dailyResetBoundary(now),
	}
}

// UpdateEquity sets current equity and maintains peak/drawdown monotonically.
func (p *PnLState) UpdateEquity(equity decimal.Decimal) {
	p.CurrentEquity = equity
	if equity.GreaterThan(p.PeakEquity) {
		p.PeakEquity = equity
	}
	if p.PeakEquity.IsZero() {
		p.Drawdown = decimal.Zero
		p.DrawdownPct = decimal.Zero
		return
	}
	dd := p.PeakEquity.Sub(equity)
	if dd.IsNegative() {
		dd = decimal.Zero
	}
	p.Drawdown = dd
	p.DrawdownPct = dd.Div(p.PeakEquity).Mul(decimal.NewFromInt(100))
}

// CheckDailyReset resets the daily counters if now has crossed the next UTC
// midnight boundary since the last reset.
func (p *PnLState) CheckDailyReset(now time.Time) {
	boundary := dailyResetBoundary(now)
	if !boundary.After(p.DailyResetTime) {
		return
	}
	p.DailyRealizedPnL = decimal.Zero
	p.DailyTrades = 0
	p.DailyVolume = decimal.Zero
	p.DailyResetTime = boundary
}

// RecordTrade folds a fill's realized PnL and volume into the daily
// counters and running commission total.
func (p *PnLState) RecordTrade(realizedPnL, notional, fee decimal.Decimal, isMaker bool) {
	p.DailyRealizedPnL = p.DailyRealizedPnL.Add(realizedPnL)
	p.DailyTrades++
	p.DailyVolume = p.DailyVolume.Add(notional)
	if isMaker {
		p.MakerCommission = p.MakerCommission.Add(fee)
	} else {
		p.TakerCommission = p.TakerCommission.Add(fee)
	}
}

func dailyResetBoundary(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
