package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/arcturus/perpmm/pkg/types"
)

// ToxicityAction is the result of evaluating order-book toxicity.
type ToxicityAction string

const (
	ToxicityNormal  ToxicityAction = "normal"
	ToxicityDegrade ToxicityAction = "degrade"
	ToxicityPause   ToxicityAction = "pause"
)

// GuardianConfig bundles the limit thresholds and toxicity thresholds the
// guardian enforces.
type GuardianConfig struct {
	Limits        LimitsConfig
	ToxicitySoft  decimal.Decimal // default 0.70
	ToxicityHard  decimal.Decimal // default 0.90
	SoftVolBps    decimal.Decimal
	HardVolBps    decimal.Decimal
}

// Guardian owns the kill-switch latch and orchestrates every risk check the
// market-maker loop must pass before it may submit an order. Once the
// kill-switch trips, only an explicit Reset clears it — no internal path
// may auto-reset it.
type Guardian struct {
	cfg GuardianConfig

	mu          sync.Mutex
	killed      bool
	killReason  string
}

// NewGuardian returns a Guardian for cfg.
func NewGuardian(cfg GuardianConfig) *Guardian {
	return &Guardian{cfg: cfg}
}

// IsKillSwitchActive reports the current kill-switch state.
func (g *Guardian) IsKillSwitchActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.killed
}

// KillSwitchReason returns the stored trigger reason, if any.
func (g *Guardian) KillSwitchReason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.killReason
}

// TriggerKillSwitch latches the kill-switch with reason, if not already
// active.
func (g *Guardian) TriggerKillSwitch(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.killed {
		return
	}
	g.killed = true
	g.killReason = reason
}

// Reset clears the kill-switch. Only an operator-initiated call may invoke
// this; no internal check in CheckAllLimits ever calls it.
func (g *Guardian) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.killed = false
	g.killReason = ""
}

// CheckResult is the outcome of CheckAllLimits.
type CheckResult struct {
	Allowed bool
	Reason  string
}

// CheckAllLimits runs the guardian's full precedence chain (spec §4.6):
// kill-switch -> daily loss (latches) -> drawdown (hard latches, soft
// rejects) -> position notional (latches) -> order-level checks (reject
// only). order may be nil when only position/PnL state is being evaluated
// (e.g. a periodic health check with no pending order).
func (g *Guardian) CheckAllLimits(order *types.Order, pos *types.Position, pnl *types.PnLState, bestBid, bestAsk decimal.Decimal) CheckResult {
	if g.IsKillSwitchActive() {
		return CheckResult{Allowed: false, Reason: g.KillSwitchReason()}
	}

	if v, violated := CheckDailyLoss(g.cfg.Limits, pnl, pnl.CurrentEquity); violated {
		g.TriggerKillSwitch(v.Reason)
		return CheckResult{Allowed: false, Reason: v.Reason}
	}

	if v, violated := CheckDrawdown(g.cfg.Limits, pnl, pnl.CurrentEquity); violated {
		if v.Hard {
			g.TriggerKillSwitch(v.Reason)
		}
		return CheckResult{Allowed: false, Reason: v.Reason}
	}

	if v, violated := CheckPositionNotional(g.cfg.Limits, pos); violated {
		g.TriggerKillSwitch(v.Reason)
		return CheckResult{Allowed: false, Reason: v.Reason}
	}

	if order != nil {
		if v, violated := CheckOrderSize(g.cfg.Limits, order); violated {
			return CheckResult{Allowed: false, Reason: v.Reason}
		}
		mid := bestBid.Add(bestAsk).Div(decimal.NewFromInt(2))
		if v, violated := CheckPriceBand(g.cfg.Limits, order, bestBid, bestAsk, mid); violated {
			return CheckResult{Allowed: false, Reason: v.Reason}
		}
	}

	return CheckResult{Allowed: true}
}

// ToxicityResult is the outcome of EvaluateToxicity.
type ToxicityResult struct {
	Action    ToxicityAction
	Reason    string
	Imbalance decimal.Decimal
	HasImbalance bool
}

// EvaluateToxicity computes order-book imbalance and compares it (and
// short-term volatility) against the configured soft/hard thresholds.
func (g *Guardian) EvaluateToxicity(volBps decimal.Decimal, hasVol bool, bidDepth, askDepth decimal.Decimal) ToxicityResult {
	total := bidDepth.Add(askDepth)
	var imbalance decimal.Decimal
	hasImbalance := false
	if total.IsPositive() {
		imbalance = bidDepth.Sub(askDepth).Div(total)
		hasImbalance = true
	}

	absImbalance := imbalance.Abs()

	hardImbalance := g.cfg.ToxicityHard
	if hardImbalance.IsZero() {
		hardImbalance = decimal.NewFromFloat(0.90)
	}
	softImbalance := g.cfg.ToxicitySoft
	if softImbalance.IsZero() {
		softImbalance = decimal.NewFromFloat(0.70)
	}

	if (hasImbalance && absImbalance.GreaterThanOrEqual(hardImbalance)) ||
		(hasVol && volBps.GreaterThanOrEqual(g.cfg.HardVolBps)) {
		return ToxicityResult{Action: ToxicityPause, Reason: "imbalance or volatility breached hard threshold", Imbalance: imbalance, HasImbalance: hasImbalance}
	}

	if (hasImbalance && absImbalance.GreaterThanOrEqual(softImbalance)) ||
		(hasVol && volBps.GreaterThanOrEqual(g.cfg.SoftVolBps)) {
		return ToxicityResult{Action: ToxicityDegrade, Reason: "imbalance or volatility breached soft threshold", Imbalance: imbalance, HasImbalance: hasImbalance}
	}

	return ToxicityResult{Action: ToxicityNormal, Imbalance: imbalance, HasImbalance: hasImbalance}
}
