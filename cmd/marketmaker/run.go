package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/arcturus/perpmm/internal/alerts"
	"github.com/arcturus/perpmm/internal/bus"
	"github.com/arcturus/perpmm/internal/config"
	"github.com/arcturus/perpmm/internal/engine"
	"github.com/arcturus/perpmm/internal/journal"
	"github.com/arcturus/perpmm/internal/metrics"
	"github.com/arcturus/perpmm/internal/ratelimit"
	"github.com/arcturus/perpmm/internal/simexchange"
	"github.com/arcturus/perpmm/pkg/types"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2

	snapshotInterval = 30 * time.Second
)

// errFeedComplete signals a normal end of replay (the feed channel closed),
// not a failure. engine.Engine.Run ticks forever on its own timer with no
// way to learn the feed is exhausted, so consumeFeed returning this error
// is what makes errgroup cancel the per-symbol goroutines and let run exit
// on its own once a finite CSV replay finishes, rather than hanging until
// an external SIGINT/SIGTERM.
var errFeedComplete = errors.New("market-data feed exhausted")

func runCommand(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the configuration file (required)")
	dataDir := fs.String("data-dir", "./data/journal", "base directory; each run gets a runs/<UTC-timestamp>/ subdirectory for trades.csv/state.json/summary.md")
	feedDir := fs.String("feed-dir", "./data/backtest", "directory containing <SYMBOL>_orderbook.csv files")
	paceMs := fs.String("pace-ms", "0", "milliseconds between replayed book rows (0 = as fast as possible)")
	metricsAddr := fs.String("metrics-addr", ":9090", "address to serve Prometheus /metrics on (empty disables it)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "run: --config is required")
		return exitUsage
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Error("failed to load configuration")
		return exitError
	}

	switch cfg.General.TradingMode {
	case config.TradingModeLive:
		// The concrete live venue connector (transport code) is out of this
		// core's scope (spec §1); exchangeclient.Wrap exists to resiliency-
		// wrap one once it is supplied, but this binary has none to wrap.
		logger.Error("trading_mode=live requires a live exchange connector, which this build does not include")
		return exitError
	case config.TradingModePaperExchange, config.TradingModeDryRun:
	case config.TradingModeBacktest:
		logger.Error("trading_mode=backtest: use a dedicated backtest/sweep invocation, not run")
		return exitUsage
	default:
		logger.WithField("trading_mode", cfg.General.TradingMode).Error("unsupported trading_mode")
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := writePidFile(*dataDir); err != nil {
		logger.WithError(err).Warn("failed to write pid file; stop command will be unable to find this process")
	}
	defer removePidFile(*dataDir)

	clock := types.RealClock{}
	symbolCfgs := make(map[string]types.SymbolConfig, len(cfg.General.Symbols))
	for _, symbol := range cfg.General.Symbols {
		// Tick/step sizes are venue metadata the core never hardcodes in a
		// live deployment (GetSymbolInfo supplies them); the simulator has
		// no venue to ask, so it is seeded with conservative generic
		// defaults here, documented rather than silently assumed exact.
		symbolCfgs[symbol] = types.SymbolConfig{Symbol: symbol, TickSize: decimalDefault("0.01"), StepSize: decimalDefault("0.0001")}
	}
	sim := simexchange.New(cfg.General.BotEquityUSDT, symbolCfgs, clock)

	limiters := ratelimit.NewLimiters(cfg.Risk.MaxNewOrdersPerSecond, cfg.Risk.MaxCancelsPerSecond)

	var eventBus *bus.Bus
	if url := os.Getenv("MM_NATS_URL"); url != "" {
		b, err := bus.Connect(bus.Config{URL: url, ClientID: "marketmaker"})
		if err != nil {
			logger.WithError(err).Warn("failed to connect event bus, continuing without it")
		} else {
			eventBus = b
			defer eventBus.Close()
		}
	}

	sessionStart := clock.Now()
	runDir := filepath.Join(*dataDir, "runs", sessionStart.UTC().Format("20060102T150405Z"))
	suppressTrades := cfg.General.TradingMode == config.TradingModeDryRun
	jrnl, err := journal.Open(runDir, suppressTrades, cfg.General.BotEquityUSDT, sessionStart)
	if err != nil {
		logger.WithError(err).Error("failed to open journal")
		return exitError
	}
	defer jrnl.Close()

	engines := make(map[string]*engine.Engine, len(cfg.General.Symbols))
	for _, symbol := range cfg.General.Symbols {
		symCfg, err := sim.GetSymbolInfo(ctx, symbol)
		if err != nil {
			logger.WithError(err).WithField("symbol", symbol).Error("failed to read symbol info")
			return exitError
		}
		e := engine.New(engine.Params{
			Symbol:        symbol,
			SymbolInfo:    *symCfg,
			Strategy:      cfg.Strategy,
			Risk:          cfg.Risk,
			InitialEquity: cfg.General.BotEquityUSDT,
		}, sim, limiters, eventBus, clock)
		engines[symbol] = e
	}

	collector := metrics.NewCollector(cfg.General.BotEquityUSDT, clock.Now())
	alertMgr := alerts.NewManager(alerts.DefaultThresholds(), nil)

	feed := newCSVBookFeed(*feedDir, parsePaceFlag(*paceMs))
	updates, err := feed.Subscribe(ctx, cfg.General.Symbols)
	if err != nil {
		logger.WithError(err).Error("failed to subscribe to market-data feed")
		return exitError
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Warn("metrics server stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, e := range engines {
		e := e
		g.Go(func() error { return e.Run(gctx) })
	}

	g.Go(func() error {
		return consumeFeed(gctx, updates, sim, engines, jrnl, alertMgr, logger)
	})

	g.Go(func() error {
		return reportLoop(gctx, cfg, sim, engines, collector, jrnl, alertMgr, logger)
	})

	if err := g.Wait(); err != nil && err != context.Canceled && !errors.Is(err, errFeedComplete) {
		logger.WithError(err).Error("market-maker loop exited with error")
	}

	if err := jrnl.WriteSummary(sessionStart, clock.Now()); err != nil {
		logger.WithError(err).Warn("failed to write session summary")
	}
	logger.Info("shutdown complete")
	return exitOK
}

// consumeFeed applies each book update to its engine and, since the
// exchange interface has no asynchronous fill callback, detects fills by
// diffing the simulator's open-order set against what the engine had
// resting before the update (the simulator's matcher runs synchronously
// inside OnOrderBookUpdate).
func consumeFeed(ctx context.Context, updates <-chan types.BookUpdate, sim *simexchange.Exchange, engines map[string]*engine.Engine, jrnl *journal.Journal, alertMgr *alerts.Manager, logger *logrus.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return errFeedComplete
			}
			e, known := engines[update.Symbol]
			if !known || update.Snapshot == nil {
				continue
			}

			before := e.ActiveOrders()
			sim.OnOrderBookUpdate(update.Symbol, *update.Snapshot)

			openNow, err := sim.GetOpenOrders(ctx, update.Symbol)
			if err != nil {
				logger.WithError(err).Warn("failed to read open orders after book update")
			} else {
				stillOpen := make(map[string]bool, len(openNow))
				for _, o := range openNow {
					stillOpen[o.OrderID] = true
				}
				for _, o := range before {
					if o.Symbol != update.Symbol || stillOpen[o.OrderID] {
						continue
					}
					trades, terr := sim.GetTrades(ctx, update.Symbol, 1)
					if terr != nil || len(trades) == 0 || trades[0].OrderID != o.OrderID {
						continue
					}
					trade := trades[0]
					beforePos := e.Position()
					e.OnFill(ctx, trade)
					afterPos := e.Position()
					realized := afterPos.RealizedPL.Sub(beforePos.RealizedPL)

					if err := jrnl.RecordTrade(trade); err != nil {
						logger.WithError(err).Warn("failed to record trade in journal")
					}
					metrics.IncTrade(trade.Symbol)
					alertMgr.RecordTradeOutcome(realized)
				}
			}

			e.ApplyBookSnapshot(ctx, update.Snapshot.Bids, update.Snapshot.Asks, update.Snapshot.Timestamp)
		}
	}
}

// reportLoop periodically aggregates a metrics snapshot across all engines,
// publishes it to the Prometheus gauges, and runs the alerts manager over
// it. It also rewrites state.json, which holds only the run's recovery
// record (initial_equity, started_at), not the snapshot.
func reportLoop(ctx context.Context, cfg *config.Config, sim *simexchange.Exchange, engines map[string]*engine.Engine, collector *metrics.Collector, jrnl *journal.Journal, alertMgr *alerts.Manager, logger *logrus.Logger) error {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// Metrics collection gets its own short deadline so a wedged
			// exchange call can't stall the report loop indefinitely; an
			// exceeded tick is skipped rather than retried.
			tickCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			now := types.RealClock{}.Now()
			equity := sim.GetEquity()
			collector.UpdateEquity(equity)

			var positions []*types.Position
			var openOrders []*types.Order
			totalTrades := 0
			for symbol, e := range engines {
				e.UpdateEquity(tickCtx, equity)
				positions = append(positions, e.Position())
				openOrders = append(openOrders, e.ActiveOrders()...)
				trades, _ := sim.GetTrades(tickCtx, symbol, 0)
				totalTrades += len(trades)
			}

			if tickCtx.Err() != nil {
				cancel()
				logger.Warn("metrics collection exceeded its deadline; skipping this tick")
				continue
			}
			cancel()

			jrnl.UpdatePositionTotals(positions)

			var guardian metrics.GuardianStatus
			for _, e := range engines {
				guardian = e.Guardian()
				break
			}
			snap := metrics.Collect(now, equity, positions, openOrders, totalTrades, collector, guardian)
			if err := jrnl.WriteState(); err != nil {
				logger.WithError(err).Warn("failed to write state snapshot")
			}
			metrics.PublishSnapshot(snap)
			alertMgr.EvaluateSnapshot(snap, cfg.General.BotEquityUSDT)
		}
	}
}
