package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

// SharpeRatio computes an annualized Sharpe ratio from a series of period
// returns. Returns false for fewer than 2 samples or zero variance.
func SharpeRatio(returns []decimal.Decimal, riskFreeRate decimal.Decimal, periodsPerYear int) (decimal.Decimal, bool) {
	if len(returns) < 2 {
		return decimal.Zero, false
	}

	n := decimal.NewFromInt(int64(len(returns)))
	sum := decimal.Zero
	for _, r := range returns {
		sum = sum.Add(r)
	}
	mean := sum.Div(n)

	variance := decimal.Zero
	for _, r := range returns {
		d := r.Sub(mean)
		variance = variance.Add(d.Mul(d))
	}
	variance = variance.Div(decimal.NewFromInt(int64(len(returns) - 1)))

	stdevF, _ := variance.Float64()
	stdev := decimal.NewFromFloat(math.Sqrt(stdevF))
	if stdev.IsZero() {
		return decimal.Zero, false
	}

	ppy := decimal.NewFromInt(int64(periodsPerYear))
	annualizedReturn := mean.Mul(ppy)
	annualizedStdev := stdev.Mul(decimal.NewFromFloat(math.Sqrt(float64(periodsPerYear))))

	sharpe := annualizedReturn.Sub(riskFreeRate).Div(annualizedStdev)
	return sharpe, true
}

// MaxDrawdown computes the running-peak drawdown over an equity series,
// returning (absolute, percentage).
func MaxDrawdown(equitySeries []decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if len(equitySeries) == 0 {
		return decimal.Zero, decimal.Zero
	}

	peak := equitySeries[0]
	maxDD := decimal.Zero
	maxDDPct := decimal.Zero

	for _, equity := range equitySeries {
		if equity.GreaterThan(peak) {
			peak = equity
		}
		dd := peak.Sub(equity)
		ddPct := decimal.Zero
		if peak.IsPositive() {
			ddPct = dd.Div(peak).Mul(decimal.NewFromInt(100))
		}
		if dd.GreaterThan(maxDD) {
			maxDD = dd
			maxDDPct = ddPct
		}
	}
	return maxDD, maxDDPct
}

// CancelToTradeRatio returns cancels/fills, or false if there have been no
// fills yet.
func CancelToTradeRatio(totalCancels, totalFills int) (decimal.Decimal, bool) {
	if totalFills == 0 {
		return decimal.Zero, false
	}
	return decimal.NewFromInt(int64(totalCancels)).Div(decimal.NewFromInt(int64(totalFills))), true
}

// OrderBookImbalance computes (bid-ask)/(bid+ask) in [-1,1], or false if
// both sides are empty.
func OrderBookImbalance(bidNotional, askNotional decimal.Decimal) (decimal.Decimal, bool) {
	total := bidNotional.Add(askNotional)
	if total.IsZero() {
		return decimal.Zero, false
	}
	return bidNotional.Sub(askNotional).Div(total), true
}
