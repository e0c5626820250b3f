package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/arcturus/perpmm/internal/config"
	"github.com/arcturus/perpmm/internal/engine"
	"github.com/arcturus/perpmm/internal/ratelimit"
	"github.com/arcturus/perpmm/internal/simexchange"
	"github.com/arcturus/perpmm/pkg/types"
)

// sweepResult is one grid point's outcome.
type sweepResult struct {
	baseSpreadBps decimal.Decimal
	skewStrength  decimal.Decimal
	riskMin       decimal.Decimal
	trades        int
	finalEquity   decimal.Decimal
	returnPct     decimal.Decimal
	maxDrawdownPct decimal.Decimal
}

// sweepCommand grid-searches (base_spread_bps, inventory_skew_strength,
// risk_min) by replaying a recorded order-book CSV through a fresh
// simulated exchange and engine per combination — the backtest driver
// reused as a library call for each grid point, never shelled out to as a
// subprocess. One symbol per invocation, since a sweep compares strategy
// tunings, not portfolios.
func sweepCommand(args []string) int {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a base configuration file (required)")
	feedDir := fs.String("feed-dir", "./data/backtest", "directory containing <SYMBOL>_orderbook.csv files")
	symbol := fs.String("symbol", "", "symbol to sweep (defaults to the first entry of general.symbols)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "sweep: --config is required")
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep: %v\n", err)
		return exitError
	}

	sym := *symbol
	if sym == "" {
		if len(cfg.General.Symbols) == 0 {
			fmt.Fprintln(os.Stderr, "sweep: --symbol is required when the config has no general.symbols entries")
			return exitUsage
		}
		sym = cfg.General.Symbols[0]
	}

	baseSpreads := []string{"10", "20", "40"}
	skews := []string{"0.5", "1", "2"}
	riskMins := []string{"0.1", "0.25", "0.5"}

	var results []sweepResult
	for _, bs := range baseSpreads {
		for _, sk := range skews {
			for _, rm := range riskMins {
				res, err := runSweepPoint(cfg, sym, *feedDir, d(bs), d(sk), d(rm))
				if err != nil {
					fmt.Fprintf(os.Stderr, "sweep: grid point base=%s skew=%s risk_min=%s: %v\n", bs, sk, rm, err)
					continue
				}
				results = append(results, res)
			}
		}
	}

	if len(results) == 0 {
		fmt.Fprintln(os.Stderr, "sweep: no grid point produced a result")
		return exitError
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "base_spread_bps\tskew\trisk_min\ttrades\tfinal_equity\treturn_pct\tmax_drawdown_pct")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.baseSpreadBps.String(), r.skewStrength.String(), r.riskMin.String(),
			r.trades, r.finalEquity.StringFixed(2), r.returnPct.StringFixed(4), r.maxDrawdownPct.StringFixed(4))
	}
	w.Flush()
	return exitOK
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// runSweepPoint replays the recorded feed once through a fresh simulated
// exchange and engine configured with the given tuning, synchronously
// (no goroutines, no real-time pacing) since nothing here needs to run
// concurrently with anything else.
func runSweepPoint(cfg *config.Config, symbol, feedDir string, baseSpreadBps, skew, riskMin decimal.Decimal) (sweepResult, error) {
	strategy := cfg.Strategy
	strategy.BaseSpreadBps = baseSpreadBps
	strategy.InventorySkewStrength = skew

	risk := cfg.Risk
	risk.Scaling.RiskMin = riskMin

	clock := types.RealClock{}
	symCfg := types.SymbolConfig{Symbol: symbol, TickSize: decimalDefault("0.01"), StepSize: decimalDefault("0.0001")}
	sim := simexchange.New(cfg.General.BotEquityUSDT, map[string]types.SymbolConfig{symbol: symCfg}, clock)
	limiters := ratelimit.NewLimiters(cfg.Risk.MaxNewOrdersPerSecond, cfg.Risk.MaxCancelsPerSecond)

	e := engine.New(engine.Params{
		Symbol:        symbol,
		SymbolInfo:    symCfg,
		Strategy:      strategy,
		Risk:          risk,
		InitialEquity: cfg.General.BotEquityUSDT,
	}, sim, limiters, nil, clock)

	ctx := context.Background()
	feed := newCSVBookFeed(feedDir, 0)
	updates, err := feed.Subscribe(ctx, []string{symbol})
	if err != nil {
		return sweepResult{}, err
	}

	trades := 0
	peakEquity := cfg.General.BotEquityUSDT
	maxDrawdown := decimal.Zero

	for update := range updates {
		if update.Snapshot == nil {
			continue
		}
		before := e.ActiveOrders()
		sim.OnOrderBookUpdate(symbol, *update.Snapshot)

		if openNow, err := sim.GetOpenOrders(ctx, symbol); err == nil {
			stillOpen := make(map[string]bool, len(openNow))
			for _, o := range openNow {
				stillOpen[o.OrderID] = true
			}
			for _, o := range before {
				if stillOpen[o.OrderID] {
					continue
				}
				tr, terr := sim.GetTrades(ctx, symbol, 1)
				if terr != nil || len(tr) == 0 || tr[0].OrderID != o.OrderID {
					continue
				}
				e.OnFill(ctx, tr[0])
				trades++
			}
		}

		e.ApplyBookSnapshot(ctx, update.Snapshot.Bids, update.Snapshot.Asks, update.Snapshot.Timestamp)

		equity := sim.GetEquity()
		e.UpdateEquity(ctx, equity)
		if equity.GreaterThan(peakEquity) {
			peakEquity = equity
		}
		if peakEquity.IsPositive() {
			dd := peakEquity.Sub(equity).Div(peakEquity)
			if dd.GreaterThan(maxDrawdown) {
				maxDrawdown = dd
			}
		}
	}

	finalEquity := sim.GetEquity()
	returnPct := decimal.Zero
	if cfg.General.BotEquityUSDT.IsPositive() {
		returnPct = finalEquity.Sub(cfg.General.BotEquityUSDT).Div(cfg.General.BotEquityUSDT)
	}

	return sweepResult{
		baseSpreadBps:  baseSpreadBps,
		skewStrength:   skew,
		riskMin:        riskMin,
		trades:         trades,
		finalEquity:    finalEquity,
		returnPct:      returnPct,
		maxDrawdownPct: maxDrawdown,
	}, nil
}
