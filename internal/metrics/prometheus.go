package metrics

import "github.com/prometheus/client_golang/prometheus"

// Package-level Prometheus collectors, registered in init() and updated by
// PublishSnapshot/IncTrade — the live dashboard feed served over /metrics
// alongside the CSV/Markdown journal, which remains the authoritative
// record. Grounded on the pack's chidi150c-coinbase/metrics.go: plain
// package-level prometheus.New*Vec values registered once in init(), with
// small setter helpers rather than a wrapped registry type.
var (
	promEquity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mm_equity_usdt",
		Help: "Current account equity in USDT.",
	})
	promNetPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mm_net_pnl_usdt",
		Help: "Realized plus unrealized PnL in USDT.",
	})
	promDrawdownPct = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mm_drawdown_pct",
		Help: "Maximum drawdown from peak equity over the collector's equity history, in percent.",
	})
	promCancelToTradeRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mm_cancel_to_trade_ratio",
		Help: "Cancel-to-trade ratio over the collector's recorded history.",
	})
	promKillSwitchActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mm_kill_switch_active",
		Help: "1 if the guardian's kill-switch is latched, 0 otherwise.",
	})
	promTradesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_trades_total",
		Help: "Fills recorded, by symbol.",
	}, []string{"symbol"})
)

func init() {
	prometheus.MustRegister(promEquity, promNetPnL, promDrawdownPct,
		promCancelToTradeRatio, promKillSwitchActive, promTradesTotal)
}

// PublishSnapshot updates the package-level gauges from snap. Safe to call
// on every report tick; Prometheus gauges are last-write-wins.
func PublishSnapshot(snap Snapshot) {
	equity, _ := snap.Equity.Float64()
	promEquity.Set(equity)

	netPnL, _ := snap.TotalPnL.Float64()
	promNetPnL.Set(netPnL)

	ddPct, _ := snap.MaxDrawdownPct.Float64()
	promDrawdownPct.Set(ddPct)

	if snap.HasCancelToTrade {
		ratio, _ := snap.CancelToTradeRatio.Float64()
		promCancelToTradeRatio.Set(ratio)
	}

	if snap.KillSwitchActive {
		promKillSwitchActive.Set(1)
	} else {
		promKillSwitchActive.Set(0)
	}
}

// IncTrade increments the per-symbol trade counter. Called once per
// detected fill, alongside the journal's RecordTrade.
func IncTrade(symbol string) {
	promTradesTotal.WithLabelValues(symbol).Inc()
}
