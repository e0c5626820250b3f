// Package alerts evaluates post-trade soft thresholds on a metrics
// snapshot and emits human-readable notifications — a supplemented
// feature not named by the distilled spec but present in the reference
// implementation's monitoring layer. The kill-switch itself remains
// internal/risk's responsibility; alerts only reports on approach toward
// hard limits and on streaks, it never enforces anything.
package alerts

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/arcturus/perpmm/internal/metrics"
)

// Thresholds configures the soft-alert boundaries.
type Thresholds struct {
	MinFillRatio         decimal.Decimal // default 0.05
	MaxCancelToTrade     decimal.Decimal // default 50
	SoftDailyLossPct     decimal.Decimal // default 0.005
	SoftDrawdownPct      decimal.Decimal // default 0.10
	ConsecutiveLossCount int             // default 5
}

// DefaultThresholds returns the reference implementation's defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinFillRatio:         decimal.NewFromFloat(0.05),
		MaxCancelToTrade:     decimal.NewFromInt(50),
		SoftDailyLossPct:     decimal.NewFromFloat(0.005),
		SoftDrawdownPct:      decimal.NewFromFloat(0.10),
		ConsecutiveLossCount: 5,
	}
}

// Notifier routes an alert message. A nil Notifier falls back to logging
// at warn level.
type Notifier func(message string)

// Manager evaluates snapshots and a running consecutive-loss streak,
// raising alerts through notify.
type Manager struct {
	thresholds Thresholds
	notify     Notifier
	logger     *logrus.Entry

	consecutiveLosses int
	killSwitchAlerted bool
}

// NewManager returns a Manager. A nil notify logs through logrus instead.
func NewManager(thresholds Thresholds, notify Notifier) *Manager {
	logger := logrus.WithField("component", "alerts")
	if notify == nil {
		notify = func(msg string) { logger.Warn(msg) }
	}
	return &Manager{thresholds: thresholds, notify: notify, logger: logger}
}

func (m *Manager) alert(format string, args ...interface{}) {
	m.notify(fmt.Sprintf(format, args...))
}

// EvaluateSnapshot checks the cancel-to-trade, soft daily loss, and soft
// drawdown thresholds against a metrics.Snapshot, and alerts once when the
// kill-switch becomes active. MinFillRatio is not evaluated: the snapshot
// carries no fill-ratio figure.
func (m *Manager) EvaluateSnapshot(snap metrics.Snapshot, initialEquity decimal.Decimal) {
	if snap.HasCancelToTrade && snap.CancelToTradeRatio.GreaterThan(m.thresholds.MaxCancelToTrade) {
		m.alert("high cancel-to-trade ratio: %s > %s", snap.CancelToTradeRatio.StringFixed(1), m.thresholds.MaxCancelToTrade.String())
	}

	if !initialEquity.IsZero() {
		lossPct := snap.DailyPnL.Div(initialEquity)
		if lossPct.IsNegative() && lossPct.Abs().GreaterThanOrEqual(m.thresholds.SoftDailyLossPct) {
			m.alert("soft daily loss alert: %s%% (threshold %s%%)",
				lossPct.Mul(decimal.NewFromInt(100)).StringFixed(2),
				m.thresholds.SoftDailyLossPct.Mul(decimal.NewFromInt(100)).StringFixed(2))
		}
	}

	if snap.MaxDrawdownPct.GreaterThanOrEqual(m.thresholds.SoftDrawdownPct.Mul(decimal.NewFromInt(100))) {
		m.alert("soft drawdown alert: %s%% >= %s%%",
			snap.MaxDrawdownPct.StringFixed(2),
			m.thresholds.SoftDrawdownPct.Mul(decimal.NewFromInt(100)).StringFixed(2))
	}

	if snap.KillSwitchActive && !m.killSwitchAlerted {
		m.killSwitchAlerted = true
		m.alert("kill-switch triggered: %s", snap.KillSwitchReason)
	}
	if !snap.KillSwitchActive {
		m.killSwitchAlerted = false
	}
}

// RecordTradeOutcome folds a single trade's realized PnL into the
// consecutive-loss streak counter, alerting once the streak reaches the
// configured threshold.
func (m *Manager) RecordTradeOutcome(realizedPnL decimal.Decimal) {
	if realizedPnL.IsNegative() {
		m.consecutiveLosses++
		if m.consecutiveLosses == m.thresholds.ConsecutiveLossCount {
			m.alert("consecutive loss streak: %d losing trades in a row", m.consecutiveLosses)
		}
		return
	}
	m.consecutiveLosses = 0
}
