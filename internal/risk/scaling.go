package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// ScalingConfig holds the risk-scaling engine's parameters (spec §4.5).
type ScalingConfig struct {
	ATRLength       int
	DDLookbackHours int
	VolLow          decimal.Decimal
	VolHigh         decimal.Decimal
	DDSoft          decimal.Decimal
	DDHard          decimal.Decimal
	RiskMin         decimal.Decimal
	RiskMax         decimal.Decimal
}

// DefaultScalingConfig returns the defaults used by the original engine:
// atr_length=14, dd_lookback_hours=240, vol_low=0.5, vol_high=2.0,
// dd_soft=0.05, dd_hard=0.15, risk_min=0.1, risk_max=2.0.
func DefaultScalingConfig() ScalingConfig {
	return ScalingConfig{
		ATRLength:       14,
		DDLookbackHours: 240,
		VolLow:          decimal.NewFromFloat(0.5),
		VolHigh:         decimal.NewFromFloat(2.0),
		DDSoft:          decimal.NewFromFloat(0.05),
		DDHard:          decimal.NewFromFloat(0.15),
		RiskMin:         decimal.NewFromFloat(0.1),
		RiskMax:         decimal.NewFromFloat(2.0),
	}
}

type bar struct {
	high, low, close decimal.Decimal
}

type equityPoint struct {
	at     time.Time
	equity decimal.Decimal
}

// ScalingEngine computes a risk multiplier from recent price volatility
// (ATR) and a rolling drawdown window. One instance is owned by a single
// symbol's market-maker task.
type ScalingEngine struct {
	cfg ScalingConfig

	bars       []bar
	atr        decimal.Decimal
	haveATR    bool
	prevClose  decimal.Decimal
	havePrev   bool

	equitySeries []equityPoint
	equityPeak   decimal.Decimal
}

// NewScalingEngine returns a ScalingEngine for cfg.
func NewScalingEngine(cfg ScalingConfig) *ScalingEngine {
	return &ScalingEngine{cfg: cfg}
}

// UpdatePrice feeds the current bar's (high, low, close) into the ATR
// window.
func (e *ScalingEngine) UpdatePrice(high, low, close decimal.Decimal) {
	e.bars = append(e.bars, bar{high: high, low: low, close: close})
	maxBars := e.cfg.ATRLength * 3
	if maxBars > 0 && len(e.bars) > maxBars {
		e.bars = e.bars[len(e.bars)-maxBars:]
	}
	e.recomputeATR(high, low, close)
}

func (e *ScalingEngine) recomputeATR(high, low, close decimal.Decimal) {
	n := e.cfg.ATRLength
	if n <= 0 {
		n = 14
	}

	if !e.havePrev {
		e.prevClose = close
		e.havePrev = true
		return
	}

	tr := trueRange(high, low, e.prevClose)
	e.prevClose = close

	if !e.haveATR {
		if len(e.bars) < n {
			return // still seeding: wait for a full window of bars
		}
		// Seed with the simple average of the first window of true ranges.
		sum := decimal.Zero
		prev := e.bars[0].close
		count := 0
		for _, b := range e.bars[:n] {
			sum = sum.Add(trueRange(b.high, b.low, prev))
			prev = b.close
			count++
		}
		if count > 0 {
			e.atr = sum.Div(decimal.NewFromInt(int64(count)))
			e.haveATR = true
		}
		return
	}

	alpha := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(n)))
	e.atr = e.atr.Mul(decimal.NewFromInt(1).Sub(alpha)).Add(tr.Mul(alpha))
}

func trueRange(high, low, prevClose decimal.Decimal) decimal.Decimal {
	hl := high.Sub(low)
	hc := high.Sub(prevClose).Abs()
	lc := low.Sub(prevClose).Abs()
	tr := hl
	if hc.GreaterThan(tr) {
		tr = hc
	}
	if lc.GreaterThan(tr) {
		tr = lc
	}
	return tr
}

// ATR returns the current Average True Range estimate, or false if not yet
// seeded.
func (e *ScalingEngine) ATR() (decimal.Decimal, bool) {
	return e.atr, e.haveATR
}

// UpdateEquity records a new equity observation at `at`, pruning the series
// to the configured lookback window and updating the running peak.
func (e *ScalingEngine) UpdateEquity(at time.Time, equity decimal.Decimal) {
	e.equitySeries = append(e.equitySeries, equityPoint{at: at, equity: equity})

	cutoff := at.Add(-time.Duration(e.cfg.DDLookbackHours) * time.Hour)
	pruned := e.equitySeries[:0:0]
	for _, p := range e.equitySeries {
		if !p.at.Before(cutoff) {
			pruned = append(pruned, p)
		}
	}
	e.equitySeries = pruned

	e.equityPeak = decimal.Zero
	for _, p := range e.equitySeries {
		if p.equity.GreaterThan(e.equityPeak) {
			e.equityPeak = p.equity
		}
	}
}

// ComputeDrawdown returns the maximum fractional drawdown over the retained
// equity window.
func (e *ScalingEngine) ComputeDrawdown() decimal.Decimal {
	if len(e.equitySeries) == 0 {
		return decimal.Zero
	}
	peak := e.equitySeries[0].equity
	maxDD := decimal.Zero
	for _, p := range e.equitySeries {
		if p.equity.GreaterThan(peak) {
			peak = p.equity
		}
		if peak.IsZero() {
			continue
		}
		dd := peak.Sub(p.equity).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

// VolMultiplier maps atr_pct = atr/price*100 to a multiplier in [0.5,1.5]:
// below vol_low -> 1.5; above vol_high -> 0.5; else linear interpolation.
func (e *ScalingEngine) VolMultiplier(price decimal.Decimal) decimal.Decimal {
	atr, ok := e.ATR()
	if !ok || price.IsZero() {
		return decimal.NewFromFloat(1.0)
	}
	atrPct := atr.Div(price).Mul(decimal.NewFromInt(100))

	if atrPct.LessThan(e.cfg.VolLow) {
		return decimal.NewFromFloat(1.5)
	}
	if atrPct.GreaterThan(e.cfg.VolHigh) {
		return decimal.NewFromFloat(0.5)
	}
	return lerp(atrPct, e.cfg.VolLow, e.cfg.VolHigh, decimal.NewFromFloat(1.5), decimal.NewFromFloat(0.5))
}

// DDMultiplier maps current drawdown to a multiplier in [0.1,1.0]: at or
// below dd_soft -> 1.0; at or above dd_hard -> 0.1; else linear
// interpolation.
func (e *ScalingEngine) DDMultiplier() decimal.Decimal {
	dd := e.ComputeDrawdown()
	if dd.LessThanOrEqual(e.cfg.DDSoft) {
		return decimal.NewFromFloat(1.0)
	}
	if dd.GreaterThanOrEqual(e.cfg.DDHard) {
		return decimal.NewFromFloat(0.1)
	}
	return lerp(dd, e.cfg.DDSoft, e.cfg.DDHard, decimal.NewFromFloat(1.0), decimal.NewFromFloat(0.1))
}

// lerp linearly interpolates x from [x0,x1] onto [y0,y1].
func lerp(x, x0, x1, y0, y1 decimal.Decimal) decimal.Decimal {
	if x1.Equal(x0) {
		return y0
	}
	t := x.Sub(x0).Div(x1.Sub(x0))
	return y0.Add(t.Mul(y1.Sub(y0)))
}

// ComputeRiskMultiplier returns clamp(vol_mult*dd_mult, risk_min, risk_max).
func (e *ScalingEngine) ComputeRiskMultiplier(price decimal.Decimal) decimal.Decimal {
	m := e.VolMultiplier(price).Mul(e.DDMultiplier())
	if m.LessThan(e.cfg.RiskMin) {
		return e.cfg.RiskMin
	}
	if m.GreaterThan(e.cfg.RiskMax) {
		return e.cfg.RiskMax
	}
	return m
}

// IsRiskOff reports whether the current risk multiplier is below threshold
// (spec default 0.3).
func (e *ScalingEngine) IsRiskOff(price, threshold decimal.Decimal) bool {
	return e.ComputeRiskMultiplier(price).LessThan(threshold)
}

// SpreadMultiplier derives clamp(1+(1-risk_mult), 1.0, 3.0) — lower risk
// widens spreads.
func SpreadMultiplier(riskMult decimal.Decimal) decimal.Decimal {
	m := decimal.NewFromInt(1).Add(decimal.NewFromInt(1).Sub(riskMult))
	if m.LessThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	if m.GreaterThan(decimal.NewFromInt(3)) {
		return decimal.NewFromInt(3)
	}
	return m
}

// FrequencyMultiplier derives 1+(1-risk_mult)*2 when risk_mult<1, else 1.
func FrequencyMultiplier(riskMult decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if riskMult.LessThan(one) {
		return one.Add(one.Sub(riskMult).Mul(decimal.NewFromInt(2)))
	}
	return one
}
