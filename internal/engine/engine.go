// Package engine implements the per-symbol market-maker loop (spec §4.8):
// it owns one symbol's order-book mirror, pricing engine, inventory
// manager, risk guardian and risk-scaling engine, and drives them through
// the update_quotes cycle on book updates, fills, and a periodic tick.
// One Engine is created per traded symbol; Supervisor runs a set of them
// concurrently the way the teacher's strategy package runs per-strategy
// worker goroutines, generalized to an errgroup-supervised task pool.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/arcturus/perpmm/internal/book"
	"github.com/arcturus/perpmm/internal/bus"
	"github.com/arcturus/perpmm/internal/config"
	"github.com/arcturus/perpmm/internal/inventory"
	"github.com/arcturus/perpmm/internal/position"
	"github.com/arcturus/perpmm/internal/pricing"
	"github.com/arcturus/perpmm/internal/ratelimit"
	"github.com/arcturus/perpmm/internal/risk"
	"github.com/arcturus/perpmm/pkg/types"
)

// TradeSignal is a visibility-only classification of current market
// conditions vs. position; it never drives order placement directly.
type TradeSignal string

const (
	SignalNone       TradeSignal = "NONE"
	SignalEnterLong  TradeSignal = "ENTER_LONG"
	SignalEnterShort TradeSignal = "ENTER_SHORT"
	SignalExitLong   TradeSignal = "EXIT_LONG"
	SignalExitShort  TradeSignal = "EXIT_SHORT"
)

const (
	// timeRefreshThreshold is the default forced cancel/replace interval;
	// it is scaled down by the current frequency multiplier.
	timeRefreshThreshold = 5 * time.Second
	// forceCancelMidDriftBps forces a cancel/replace cycle independent of
	// the timer when the mid has moved this far since the last refresh.
	forceCancelMidDriftBps = 5
	// reconcileOrderMaxWait bounds how long a single cancel or new-order
	// call will wait on the shared rate limiter before giving up for this
	// cycle (it retries next cycle rather than blocking the loop).
	reconcileOrderMaxWait = 2 * time.Second
	// toxicityPauseLogInterval throttles the repeated "quoting paused"
	// warning while toxicity stays at the pause threshold.
	toxicityPauseLogInterval = 10 * time.Second

	// defaultSoftVolBps/defaultHardVolBps are the realized-volatility
	// toxicity thresholds. The spec assigns toxicity's primary signal to
	// order-book imbalance and leaves the volatility co-signal's exact
	// bps cutoffs as an implementation choice; 50/150bps documented here
	// (and in the design ledger) rather than invented silently.
	defaultSoftVolBps = 50
	defaultHardVolBps = 150

	// defaultShallowDepthEquityMult/defaultShallowDepthWidenBps size the
	// pricing engine's shallow-depth widening relative to bot equity,
	// again an implementation choice not pinned down by configuration.
	defaultShallowDepthEquityMult = 0.05
	defaultShallowDepthWidenBps   = 3
)

// Params bundles the configuration an Engine needs for one symbol.
type Params struct {
	Symbol        string
	SymbolInfo    types.SymbolConfig
	Strategy      config.Strategy
	Risk          config.Risk
	InitialEquity decimal.Decimal
}

// Engine drives one symbol's quoting cycle. All mutable state is owned by
// mu; the teacher's strategy worker holds its single mutex across exchange
// calls too (see market_maker.go's refreshQuotes), so this engine follows
// the same single-writer-per-symbol idiom rather than splitting the lock
// finer for throughput it does not need.
type Engine struct {
	mu sync.Mutex

	symbol     string
	symbolInfo types.SymbolConfig
	strategy   config.Strategy
	riskCfg    config.Risk

	book     *book.Manager
	pricer   *pricing.Engine
	inv      *inventory.Manager
	guardian *risk.Guardian
	scaling  *risk.ScalingEngine

	exchange types.Exchange
	limiters *ratelimit.Limiters
	eventBus *bus.Bus
	clock    types.Clock
	logger   *logrus.Entry

	initialEquity decimal.Decimal
	equity        decimal.Decimal
	position      *types.Position
	pnl           *types.PnLState

	activeOrders map[types.OrderSide]*types.Order

	lastQuotedMid         decimal.Decimal
	lastRefreshMid        decimal.Decimal
	lastRefreshTime       time.Time
	lastToxicity          risk.ToxicityAction
	lastSignal            TradeSignal
	toxicityPauseLoggedAt time.Time
	killSwitchPublished   bool
}

// New builds an Engine for one symbol from params, wired to exchange (a
// live venue client or the simulated exchange, interchangeably),
// the shared rate limiters, the event bus (nil is allowed: publishing is
// then a no-op), and a clock (nil defaults to the real wall clock).
func New(params Params, exchange types.Exchange, limiters *ratelimit.Limiters, eventBus *bus.Bus, clock types.Clock) *Engine {
	if clock == nil {
		clock = types.RealClock{}
	}
	now := clock.Now()

	guardianCfg := risk.GuardianConfig{
		Limits: risk.LimitsConfig{
			DailyLossLimitPct:   params.Risk.DailyLossLimitPct,
			DrawdownSoftPct:     params.Risk.MaxDrawdownSoftPct,
			DrawdownHardPct:     params.Risk.MaxDrawdownHardPct,
			MaxNetNotional:      params.InitialEquity.Mul(params.Risk.MaxNetNotionalPctPerSymbol),
			MaxOrderNotional:    params.InitialEquity.Mul(params.Risk.MaxGrossNotionalPctPerSymbol),
			MaxPriceDistancePct: params.Risk.MaxPriceDistanceFromBestPct,
		},
		ToxicitySoft: params.Risk.ToxicitySoftThreshold,
		ToxicityHard: params.Risk.ToxicityHardThreshold,
		SoftVolBps:   decimal.NewFromInt(defaultSoftVolBps),
		HardVolBps:   decimal.NewFromInt(defaultHardVolBps),
	}

	pricingCfg := pricing.Config{
		BaseSpreadBps:           params.Strategy.BaseSpreadBps,
		MinSpreadBps:            params.Strategy.MinSpreadBps,
		MaxSpreadBps:            params.Strategy.MaxSpreadBps,
		VolSpreadFactor:         params.Strategy.VolSpreadFactor,
		InventorySkewStrength:   params.Strategy.InventorySkewStrength,
		MaxInventoryNotionalPct: params.Risk.MaxNetNotionalPctPerSymbol,
		ShallowDepthThreshold:   params.InitialEquity.Mul(decimal.NewFromFloat(defaultShallowDepthEquityMult)),
		ShallowDepthWidenBps:    decimal.NewFromInt(defaultShallowDepthWidenBps),
		TickSize:                params.SymbolInfo.TickSize,
	}

	inventoryCfg := inventory.Config{
		TargetQty:    params.Strategy.TargetInventory,
		SoftBandPct:  params.Strategy.InventorySoftBandPct,
		HardLimitPct: params.Strategy.InventoryHardLimitPct,
	}

	scalingCfg := risk.ScalingConfig{
		ATRLength:       params.Risk.Scaling.ATRLength,
		DDLookbackHours: params.Risk.Scaling.DDLookbackHours,
		VolLow:          params.Risk.Scaling.VolLow,
		VolHigh:         params.Risk.Scaling.VolHigh,
		DDSoft:          params.Risk.Scaling.DDSoft,
		DDHard:          params.Risk.Scaling.DDHard,
		RiskMin:         params.Risk.Scaling.RiskMin,
		RiskMax:         params.Risk.Scaling.RiskMax,
	}

	return &Engine{
		symbol:        params.Symbol,
		symbolInfo:    params.SymbolInfo,
		strategy:      params.Strategy,
		riskCfg:       params.Risk,
		book:          book.NewManager(params.Symbol),
		pricer:        pricing.New(pricingCfg),
		inv:           inventory.New(inventoryCfg),
		guardian:      risk.NewGuardian(guardianCfg),
		scaling:       risk.NewScalingEngine(scalingCfg),
		exchange:      exchange,
		limiters:      limiters,
		eventBus:      eventBus,
		clock:         clock,
		logger:        logrus.WithFields(logrus.Fields{"component": "engine", "symbol": params.Symbol}),
		initialEquity: params.InitialEquity,
		equity:        params.InitialEquity,
		position:      &types.Position{Symbol: params.Symbol},
		pnl:           types.NewPnLState(params.InitialEquity, now),
		activeOrders:  make(map[types.OrderSide]*types.Order),
	}
}

// Symbol returns the symbol this engine trades.
func (e *Engine) Symbol() string { return e.symbol }

// Guardian exposes the engine's kill-switch guardian (for operator-issued
// Reset and for metrics collection).
func (e *Engine) Guardian() *risk.Guardian { return e.guardian }

// Position returns a copy of the current position mirror.
func (e *Engine) Position() *types.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *e.position
	return &cp
}

// PnL returns a copy of the current PnL/equity state.
func (e *Engine) PnL() *types.PnLState {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *e.pnl
	return &cp
}

// ActiveOrders returns a copy of the currently tracked resting orders.
func (e *Engine) ActiveOrders() []*types.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*types.Order, 0, len(e.activeOrders))
	for _, o := range e.activeOrders {
		cp := *o
		out = append(out, &cp)
	}
	return out
}

// UpdateEquity records a fresh equity reading (from a balance poll),
// feeding both the PnL state's peak/drawdown tracking and the risk-scaling
// engine's drawdown window.
func (e *Engine) UpdateEquity(ctx context.Context, equity decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	e.equity = equity
	e.pnl.UpdateEquity(equity)
	e.pnl.CheckDailyReset(now)
	e.scaling.UpdateEquity(now, equity)
}

// ApplyBookSnapshot feeds a full order-book snapshot into the local book
// mirror and, if the mid moved far enough, triggers update_quotes.
func (e *Engine) ApplyBookSnapshot(ctx context.Context, bids, asks []types.OrderBookLevel, ts time.Time) {
	e.book.ApplyFull(bids, asks, ts)
	e.onBookChanged(ctx)
}

// ApplyBookDiff feeds an incremental order-book update into the local book
// mirror and, if the mid moved far enough, triggers update_quotes.
func (e *Engine) ApplyBookDiff(ctx context.Context, bidUpdates, askUpdates []types.OrderBookLevel, ts time.Time) {
	e.book.ApplyDiff(bidUpdates, askUpdates, ts)
	e.onBookChanged(ctx)
}

func (e *Engine) onBookChanged(ctx context.Context) {
	mid, ok := e.book.Mid()
	if !ok {
		return
	}

	if e.eventBus != nil {
		spreadBps, _ := e.book.SpreadBps()
		if err := e.eventBus.PublishBookUpdate(bus.BookUpdateEvent{
			Symbol: e.symbol, Mid: mid, SpreadBps: spreadBps, Timestamp: e.clock.Now(),
		}); err != nil {
			e.logger.WithError(err).Debug("failed to publish book update event")
		}
	}

	e.mu.Lock()
	lastMid := e.lastQuotedMid
	e.mu.Unlock()

	if lastMid.IsZero() || priceDeltaBps(mid, lastMid).GreaterThanOrEqual(e.strategy.PriceChangeTriggerBps) {
		e.updateQuotes(ctx)
	}
}

// OnFill applies a reported trade to the position mirror and PnL state,
// then re-runs update_quotes (a fill changes inventory, which can change
// which sides should quote).
func (e *Engine) OnFill(ctx context.Context, trade *types.Trade) {
	e.mu.Lock()
	mark, ok := e.book.Mid()
	if !ok {
		mark = trade.Price
	}
	now := e.clock.Now()
	realized := position.ApplyFill(e.position, trade.Side, trade.Quantity, trade.Price, mark, now)
	e.pnl.CheckDailyReset(now)
	e.pnl.RecordTrade(realized, trade.Notional(), trade.Fee, trade.IsMaker)
	for side, resting := range e.activeOrders {
		if resting.OrderID == trade.OrderID {
			delete(e.activeOrders, side)
		}
	}
	e.mu.Unlock()

	if e.eventBus != nil {
		if err := e.eventBus.PublishFill(bus.FillEvent{
			Symbol: e.symbol, OrderID: trade.OrderID, Side: trade.Side,
			Price: trade.Price, Quantity: trade.Quantity, Timestamp: now,
		}); err != nil {
			e.logger.WithError(err).Debug("failed to publish fill event")
		}
	}

	e.updateQuotes(ctx)
}

// tickInterval computes the current periodic-tick interval: the
// configured refresh_interval_ms scaled down by the current frequency
// multiplier (higher risk -> faster refresh).
func (e *Engine) tickInterval() time.Duration {
	base := time.Duration(e.strategy.RefreshIntervalMs) * time.Millisecond
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	mid, ok := e.book.Mid()
	if !ok {
		return base
	}
	freqMult := risk.FrequencyMultiplier(e.scaling.ComputeRiskMultiplier(mid))
	f, _ := freqMult.Float64()
	if f <= 0 {
		return base
	}
	return time.Duration(float64(base) / f)
}

// Run drives the periodic-tick event for this symbol until ctx is
// canceled. It always attempts an initial quote pass, then ticks at
// tickInterval (re-evaluated after every pass, since it depends on the
// current risk multiplier). On return it cancels every resting order this
// engine placed, bounded by a 10s timeout independent of the caller's
// already-canceled ctx (spec §5's shutdown cancellation bound).
func (e *Engine) Run(ctx context.Context) error {
	defer e.shutdown()

	e.updateQuotes(ctx)

	timer := time.NewTimer(e.tickInterval())
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			e.updateQuotes(ctx)
			timer.Reset(e.tickInterval())
		case <-ctx.Done():
			return nil
		}
	}
}

func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := e.cancelAllOwnOrders(ctx); err != nil {
		e.logger.WithError(err).Warn("failed to cancel all orders during shutdown")
	}
}

// Supervisor runs a fixed set of per-symbol Engines concurrently under a
// single errgroup, matching spec §5's task-per-symbol scheduling model: any
// one engine's Run returning an error cancels the shared context for all of
// them.
type Supervisor struct {
	engines []*Engine
}

// NewSupervisor returns a Supervisor for the given engines.
func NewSupervisor(engines ...*Engine) *Supervisor {
	return &Supervisor{engines: engines}
}

// Run blocks until ctx is canceled or one engine's Run returns an error.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range s.engines {
		e := e
		g.Go(func() error { return e.Run(gctx) })
	}
	return g.Wait()
}

// cancelAllOwnOrders cancels every order this engine currently tracks as
// resting, respecting the shared cancel rate limiter, and returns how many
// were actually canceled.
func (e *Engine) cancelAllOwnOrders(ctx context.Context) (int, error) {
	e.mu.Lock()
	orders := make([]*types.Order, 0, len(e.activeOrders))
	for _, o := range e.activeOrders {
		orders = append(orders, o)
	}
	e.mu.Unlock()

	canceled := 0
	for _, o := range orders {
		if e.limiters != nil && !e.limiters.Cancels.Take(ctx, reconcileOrderMaxWait) {
			continue
		}
		ok, err := e.exchange.CancelOrder(ctx, e.symbol, o.OrderID)
		if err != nil {
			e.logger.WithError(err).Warn("cancel order failed")
			continue
		}
		e.mu.Lock()
		delete(e.activeOrders, o.Side)
		e.mu.Unlock()
		if ok {
			canceled++
		}
	}
	return canceled, nil
}

// priceDeltaBps returns |newPrice-oldPrice|/oldPrice*10000, or zero if
// oldPrice is zero (treated as "no baseline yet" by callers).
func priceDeltaBps(newPrice, oldPrice decimal.Decimal) decimal.Decimal {
	if oldPrice.IsZero() {
		return decimal.Zero
	}
	return newPrice.Sub(oldPrice).Abs().Div(oldPrice).Mul(decimal.NewFromInt(10000))
}

func roundDownToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	return price.Div(tick).Floor().Mul(tick)
}

func roundUpToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	return price.Div(tick).Ceil().Mul(tick)
}

// computeTradeSignal classifies current conditions for visibility/logging
// only (spec §4.8 step 10): paused or tight spreads suppress any signal;
// flat with strong one-sided imbalance suggests a directional entry; an
// open position whose imbalance has faded toward neutral suggests an exit.
func computeTradeSignal(action risk.ToxicityAction, spreadBps, positionQty, imbalance decimal.Decimal, hasImbalance bool) TradeSignal {
	if action == risk.ToxicityPause {
		return SignalNone
	}
	if spreadBps.LessThan(decimal.NewFromInt(3)) {
		return SignalNone
	}
	if !hasImbalance {
		return SignalNone
	}

	switch {
	case positionQty.IsZero() && imbalance.GreaterThanOrEqual(decimal.NewFromFloat(0.75)):
		return SignalEnterLong
	case positionQty.IsZero() && imbalance.LessThanOrEqual(decimal.NewFromFloat(-0.75)):
		return SignalEnterShort
	case positionQty.IsPositive() && imbalance.Abs().LessThan(decimal.NewFromFloat(0.40)):
		return SignalExitLong
	case positionQty.IsNegative() && imbalance.Abs().LessThan(decimal.NewFromFloat(0.40)):
		return SignalExitShort
	default:
		return SignalNone
	}
}

// updateQuotes is the full per-cycle algorithm of spec §4.8. It holds mu
// for its entire body, including the exchange calls inside reconciliation:
// the teacher's own strategy worker holds its single mutex the same way
// across order placement (market_maker.go's refreshQuotes/placeQuote), so
// every cycle for this symbol is strictly serialized rather than allowing
// concurrent reconciliation races against itself.
func (e *Engine) updateQuotes(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()

	active := e.guardian.IsKillSwitchActive()
	if !active {
		e.killSwitchPublished = false
	}
	if active {
		if !e.killSwitchPublished {
			e.killSwitchPublished = true
			reason := e.guardian.KillSwitchReason()
			e.logger.WithField("reason", reason).Error("kill switch active, quoting halted")
			if e.eventBus != nil {
				_ = e.eventBus.PublishKillSwitch(bus.KillSwitchEvent{Symbol: e.symbol, Reason: reason, Timestamp: now})
			}
		}
		return
	}

	snap, ok := e.book.Snapshot()
	if !ok {
		return
	}
	mid, ok := snap.Mid()
	if !ok {
		return
	}

	e.scaling.UpdatePrice(mid, mid, mid)
	e.scaling.UpdateEquity(now, e.equity)
	riskMult := e.scaling.ComputeRiskMultiplier(mid)
	spreadMult := risk.SpreadMultiplier(riskMult)
	freqMult := risk.FrequencyMultiplier(riskMult)
	isRiskOff := e.scaling.IsRiskOff(mid, e.riskCfg.RiskOffThreshold)

	volBps, hasVol := e.book.RealizedVolatility(e.riskCfg.Scaling.ATRLength)
	depthBid := e.book.DepthWithinBps("bid", decimal.NewFromInt(50))
	depthAsk := e.book.DepthWithinBps("ask", decimal.NewFromInt(50))

	tox := e.guardian.EvaluateToxicity(volBps, hasVol, depthBid, depthAsk)
	if tox.Action != e.lastToxicity {
		e.lastToxicity = tox.Action
		if e.eventBus != nil {
			if err := e.eventBus.PublishToxicity(bus.ToxicityEvent{Symbol: e.symbol, Action: string(tox.Action), Timestamp: now}); err != nil {
				e.logger.WithError(err).Debug("failed to publish toxicity event")
			}
		}
	}

	if tox.Action == risk.ToxicityPause {
		e.cancelAllOwnOrdersLocked(ctx)
		if now.Sub(e.toxicityPauseLoggedAt) >= toxicityPauseLogInterval {
			e.toxicityPauseLoggedAt = now
			e.logger.Warn("order-book toxicity at pause threshold, quoting suspended")
		}
		e.lastQuotedMid = mid
		return
	}

	degradeMult := decimal.NewFromInt(1)
	if tox.Action == risk.ToxicityDegrade {
		degradeMult = decimal.NewFromFloat(0.5)
	}

	effectiveThreshold := timeRefreshThreshold
	if f, _ := freqMult.Float64(); f > 0 {
		effectiveThreshold = time.Duration(float64(timeRefreshThreshold) / f)
	}
	midDrift := priceDeltaBps(mid, e.lastRefreshMid)
	forced := e.lastRefreshTime.IsZero() ||
		now.Sub(e.lastRefreshTime) >= effectiveThreshold ||
		midDrift.GreaterThanOrEqual(decimal.NewFromInt(forceCancelMidDriftBps))
	if forced {
		e.cancelAllOwnOrdersLocked(ctx)
		e.lastRefreshTime = now
		e.lastRefreshMid = mid
	}

	positionQty := e.position.Quantity
	invState := e.inv.Evaluate(e.position, e.equity)

	quote, err := e.pricer.Quote(pricing.Inputs{
		Snapshot: snap, InventoryQty: positionQty, VolBps: volBps, HasVol: hasVol,
		DepthBid: depthBid, DepthAsk: depthAsk, HasDepth: true,
	})
	if err != nil {
		e.logger.WithError(err).Warn("pricing engine failed to produce a quote")
		return
	}

	baseNotional := e.riskCfg.BaseNotionalPerSide.Mul(riskMult)
	maxNotional := e.equity.Mul(e.strategy.MaxOrderNotionalPct)
	size := pricing.OrderSize(baseNotional, mid, e.strategy.MinOrderNotional, maxNotional, e.symbolInfo.StepSize)
	size = size.Mul(degradeMult)
	if e.symbolInfo.StepSize.IsPositive() {
		size = size.Div(e.symbolInfo.StepSize).Floor().Mul(e.symbolInfo.StepSize)
	}

	if !spreadMult.Equal(decimal.NewFromInt(1)) {
		half := quote.AskPrice.Sub(quote.BidPrice).Div(decimal.NewFromInt(2))
		extra := half.Mul(spreadMult.Sub(decimal.NewFromInt(1)))
		quote.BidPrice = roundDownToTick(quote.BidPrice.Sub(extra), e.symbolInfo.TickSize)
		quote.AskPrice = roundUpToTick(quote.AskPrice.Add(extra), e.symbolInfo.TickSize)
	}

	shouldBid := invState.ShouldQuoteBid
	shouldAsk := invState.ShouldQuoteAsk
	if isRiskOff {
		// Risk-off still quotes the one side that reduces |inventory|: a
		// long position reduces via selling (ask only), a short position
		// via buying (bid only); flat has no inventory to reduce, so
		// neither side quotes.
		switch {
		case positionQty.IsPositive():
			shouldBid = false
		case positionQty.IsNegative():
			shouldAsk = false
		default:
			shouldBid = false
			shouldAsk = false
		}
	}
	if tox.Action == risk.ToxicityDegrade && tox.HasImbalance {
		if tox.Imbalance.IsPositive() {
			shouldBid = false
		} else if tox.Imbalance.IsNegative() {
			shouldAsk = false
		}
	}

	spreadBps, _ := snap.SpreadBps()
	signal := computeTradeSignal(tox.Action, spreadBps, positionQty, tox.Imbalance, tox.HasImbalance)
	if signal != e.lastSignal {
		e.lastSignal = signal
		e.logger.WithField("signal", signal).Info("trade signal changed")
	}

	e.reconcileOrdersLocked(ctx, snap, quote, size, shouldBid, shouldAsk)
	e.lastQuotedMid = mid
}

// cancelAllOwnOrdersLocked is cancelAllOwnOrders for callers that already
// hold mu; it releases mu for the exchange calls and reacquires it before
// returning, since mu is held by updateQuotes across this call.
func (e *Engine) cancelAllOwnOrdersLocked(ctx context.Context) {
	orders := make([]*types.Order, 0, len(e.activeOrders))
	for _, o := range e.activeOrders {
		orders = append(orders, o)
	}
	e.mu.Unlock()
	defer e.mu.Lock()

	for _, o := range orders {
		if e.limiters != nil && !e.limiters.Cancels.Take(ctx, reconcileOrderMaxWait) {
			continue
		}
		ok, err := e.exchange.CancelOrder(ctx, e.symbol, o.OrderID)
		if err != nil {
			e.logger.WithError(err).Warn("cancel order failed")
			continue
		}
		if ok {
			e.mu.Lock()
			delete(e.activeOrders, o.Side)
			e.mu.Unlock()
		}
	}
}

// reconcileOrdersLocked implements spec §4.8 step 11: cancel any resting
// order whose side is no longer wanted or whose price has drifted more
// than 5bps from the freshly computed quote, then submit a replacement for
// any wanted side that now lacks an in-tolerance resting order. The cancel
// for a given side always completes before that side's replacement is
// submitted (never concurrently).
func (e *Engine) reconcileOrdersLocked(ctx context.Context, snap types.OrderBookSnapshot, quote types.Quote, size decimal.Decimal, shouldBid, shouldAsk bool) {
	type sideWant struct {
		side  types.OrderSide
		want  bool
		price decimal.Decimal
	}
	sides := []sideWant{
		{types.OrderSideBuy, shouldBid, quote.BidPrice},
		{types.OrderSideSell, shouldAsk, quote.AskPrice},
	}

	bestBid, _ := snap.BestBid()
	bestAsk, _ := snap.BestAsk()

	for _, s := range sides {
		if existing, has := e.activeOrders[s.side]; has {
			deviated := priceDeltaBps(s.price, existing.Price).GreaterThan(decimal.NewFromInt(5))
			if !s.want || deviated {
				e.mu.Unlock()
				takeOK := e.limiters == nil || e.limiters.Cancels.Take(ctx, reconcileOrderMaxWait)
				var cancelErr error
				if takeOK {
					_, cancelErr = e.exchange.CancelOrder(ctx, e.symbol, existing.OrderID)
				}
				e.mu.Lock()
				switch {
				case !takeOK:
					// rate limited: leave the stale order resting, retry next cycle
				case cancelErr != nil:
					e.logger.WithError(cancelErr).Warn("cancel order failed during reconciliation")
				default:
					delete(e.activeOrders, s.side)
				}
			}
		}

		if !s.want {
			continue
		}
		if _, stillResting := e.activeOrders[s.side]; stillResting {
			continue
		}

		candidate := &types.Order{
			Symbol:    e.symbol,
			Side:      s.side,
			Type:      types.OrderTypeLimit,
			Price:     s.price,
			Quantity:  size,
			Status:    types.OrderStatusNew,
			Timestamp: e.clock.Now(),
		}
		check := e.guardian.CheckAllLimits(candidate, e.position, e.pnl, bestBid.Price, bestAsk.Price)
		if !check.Allowed {
			e.logger.WithField("reason", check.Reason).Debug("order rejected by risk guardian")
			continue
		}

		e.mu.Unlock()
		takeOK := e.limiters == nil || e.limiters.NewOrders.Take(ctx, reconcileOrderMaxWait)
		var placed *types.Order
		var submitErr error
		if takeOK {
			placed, submitErr = e.exchange.SubmitOrder(ctx, candidate)
		}
		e.mu.Lock()
		switch {
		case !takeOK:
			// rate limited: try again next cycle
		case submitErr != nil:
			e.logger.WithError(submitErr).Warn("submit order failed during reconciliation")
		default:
			e.activeOrders[s.side] = placed
		}
	}
}
