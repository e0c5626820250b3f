package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcturus/perpmm/internal/config"
	"github.com/arcturus/perpmm/internal/ratelimit"
	"github.com/arcturus/perpmm/internal/simexchange"
	"github.com/arcturus/perpmm/pkg/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testStrategy() config.Strategy {
	return config.Strategy{
		BaseSpreadBps:         d("20"),
		MinSpreadBps:          d("5"),
		MaxSpreadBps:          d("100"),
		VolSpreadFactor:       d("1"),
		InventorySkewStrength: d("1"),
		MinOrderNotional:      d("0.01"),
		MaxOrderNotionalPct:   d("1"),
		RefreshIntervalMs:     1000,
		PriceChangeTriggerBps: d("10"),
		TargetInventory:       d("0"),
		InventorySoftBandPct:  d("0.5"),
		InventoryHardLimitPct: d("1.0"),
	}
}

func testRisk() config.Risk {
	return config.Risk{
		MaxNetNotionalPctPerSymbol:   d("1"),
		MaxGrossNotionalPctPerSymbol: d("1"),
		DailyLossLimitPct:            d("0.5"),
		MaxDrawdownSoftPct:           d("0.5"),
		MaxDrawdownHardPct:           d("0.9"),
		MaxPriceDistanceFromBestPct:  d("1"),
		RiskOffThreshold:             d("0.01"),
		BaseNotionalPerSide:          d("100"),
		ToxicitySoftThreshold:        d("0.95"),
		ToxicityHardThreshold:        d("0.99"),
		Scaling: config.RiskScaling{
			ATRLength:       14,
			DDLookbackHours: 240,
			VolLow:          d("0.5"),
			VolHigh:         d("2.0"),
			DDSoft:          d("0.05"),
			DDHard:          d("0.15"),
			RiskMin:         d("0.1"),
			RiskMax:         d("2.0"),
		},
	}
}

func testSymbolInfo() types.SymbolConfig {
	return types.SymbolConfig{Symbol: "BTCUSDT", TickSize: d("0.1"), StepSize: d("0.001")}
}

func newTestExchange() *simexchange.Exchange {
	symbols := map[string]types.SymbolConfig{"BTCUSDT": testSymbolInfo()}
	return simexchange.New(d("100000"), symbols, fixedClock{t: time.Unix(0, 0)})
}

func newTestEngine(exchange types.Exchange) *Engine {
	params := Params{
		Symbol:        "BTCUSDT",
		SymbolInfo:    testSymbolInfo(),
		Strategy:      testStrategy(),
		Risk:          testRisk(),
		InitialEquity: d("100000"),
	}
	limiters := ratelimit.NewLimiters(1000, 1000)
	return New(params, exchange, limiters, nil, fixedClock{t: time.Unix(0, 0)})
}

func bookLevels(price, qty string) []types.OrderBookLevel {
	return []types.OrderBookLevel{{Price: d(price), Quantity: d(qty)}}
}

// recordingExchange wraps the simulated exchange, logging the order in
// which CancelOrder and SubmitOrder are invoked so tests can assert
// cancel-before-replace ordering (Testable Property 7).
type recordingExchange struct {
	*simexchange.Exchange
	mu    sync.Mutex
	calls []string
}

func (r *recordingExchange) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	ok, err := r.Exchange.CancelOrder(ctx, symbol, orderID)
	r.mu.Lock()
	r.calls = append(r.calls, "cancel:"+orderID)
	r.mu.Unlock()
	return ok, err
}

func (r *recordingExchange) SubmitOrder(ctx context.Context, order *types.Order) (*types.Order, error) {
	placed, err := r.Exchange.SubmitOrder(ctx, order)
	r.mu.Lock()
	r.calls = append(r.calls, "submit:"+order.Side)
	r.mu.Unlock()
	return placed, err
}

func indexOf(calls []string, prefix string) int {
	for i, c := range calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			return i
		}
	}
	return -1
}

func TestEngine_InitialBookUpdate_PlacesBothSides(t *testing.T) {
	ex := newTestExchange()
	e := newTestEngine(ex)
	ctx := context.Background()

	ex.OnOrderBookUpdate("BTCUSDT", types.OrderBookSnapshot{
		Symbol: "BTCUSDT",
		Bids:   bookLevels("49900", "1"),
		Asks:   bookLevels("50100", "1"),
	})
	e.ApplyBookSnapshot(ctx, bookLevels("49900", "1"), bookLevels("50100", "1"), time.Unix(1, 0))

	orders := e.ActiveOrders()
	require.Len(t, orders, 2)

	var hasBuy, hasSell bool
	for _, o := range orders {
		if o.Side == types.OrderSideBuy {
			hasBuy = true
			assert.True(t, o.Price.LessThan(d("50000")))
		}
		if o.Side == types.OrderSideSell {
			hasSell = true
			assert.True(t, o.Price.GreaterThan(d("50000")))
		}
	}
	assert.True(t, hasBuy)
	assert.True(t, hasSell)
}

// TestEngine_CancelBeforeReplace exercises Testable Property 7: when the
// mid drifts far enough to force reconciliation, the stale order on a side
// is always canceled before its replacement is submitted.
func TestEngine_CancelBeforeReplace(t *testing.T) {
	inner := newTestExchange()
	rec := &recordingExchange{Exchange: inner}
	e := newTestEngine(rec)
	ctx := context.Background()

	inner.OnOrderBookUpdate("BTCUSDT", types.OrderBookSnapshot{
		Symbol: "BTCUSDT",
		Bids:   bookLevels("49900", "1"),
		Asks:   bookLevels("50100", "1"),
	})
	e.ApplyBookSnapshot(ctx, bookLevels("49900", "1"), bookLevels("50100", "1"), time.Unix(1, 0))
	before := e.ActiveOrders()
	require.Len(t, before, 2)

	// Move the book well beyond both the price-change trigger and the
	// 5bps reconciliation tolerance.
	inner.OnOrderBookUpdate("BTCUSDT", types.OrderBookSnapshot{
		Symbol: "BTCUSDT",
		Bids:   bookLevels("51900", "1"),
		Asks:   bookLevels("52100", "1"),
	})
	e.ApplyBookSnapshot(ctx, bookLevels("51900", "1"), bookLevels("52100", "1"), time.Unix(2, 0))

	after := e.ActiveOrders()
	require.Len(t, after, 2)

	rec.mu.Lock()
	calls := append([]string(nil), rec.calls...)
	rec.mu.Unlock()

	cancelIdx := indexOf(calls, "cancel:")
	submitIdx := indexOf(calls, "submit:")
	require.GreaterOrEqual(t, cancelIdx, 0, "expected at least one cancel call, got %v", calls)
	require.GreaterOrEqual(t, submitIdx, 0, "expected at least one submit call, got %v", calls)
	assert.Less(t, cancelIdx, submitIdx, "cancel must precede replacement submit: %v", calls)

	for _, o := range before {
		for _, n := range after {
			assert.NotEqual(t, o.OrderID, n.OrderID, "stale order must not survive reconciliation")
		}
	}
}

// TestEngine_RiskScaling_DrawdownShrinksOrderSize exercises Testable
// Property 8 at the engine level: a scaling engine observing a hard
// drawdown clamps the risk multiplier to risk_min, which must propagate
// through to a strictly smaller resting order size than an otherwise
// identical engine with no drawdown.
func TestEngine_RiskScaling_DrawdownShrinksOrderSize(t *testing.T) {
	ctx := context.Background()
	snapshot := types.OrderBookSnapshot{
		Symbol: "BTCUSDT",
		Bids:   bookLevels("49900", "1"),
		Asks:   bookLevels("50100", "1"),
	}

	noDD := newTestEngine(newTestExchange())
	noDD.UpdateEquity(ctx, d("100000"))
	noDD.ApplyBookSnapshot(ctx, snapshot.Bids, snapshot.Asks, time.Unix(1, 0))

	withDD := newTestEngine(newTestExchange())
	withDD.UpdateEquity(ctx, d("100000"))
	withDD.UpdateEquity(ctx, d("80000")) // 20% drawdown, beyond dd_hard=0.15
	withDD.ApplyBookSnapshot(ctx, snapshot.Bids, snapshot.Asks, time.Unix(1, 0))

	ordersNoDD := noDD.ActiveOrders()
	ordersDD := withDD.ActiveOrders()
	require.Len(t, ordersNoDD, 2)
	require.Len(t, ordersDD, 2)

	for _, a := range ordersNoDD {
		for _, b := range ordersDD {
			if a.Side == b.Side {
				assert.True(t, b.Quantity.LessThan(a.Quantity),
					"drawdown-scaled %s size %s must be smaller than baseline %s", a.Side, b.Quantity, a.Quantity)
			}
		}
	}
}

// TestEngine_KillSwitch_HaltsFurtherQuoting verifies that once the
// guardian's kill-switch is active, update_quotes returns immediately and
// never attempts to place or cancel orders.
func TestEngine_KillSwitch_HaltsFurtherQuoting(t *testing.T) {
	ex := newTestExchange()
	e := newTestEngine(ex)
	ctx := context.Background()

	e.Guardian().TriggerKillSwitch("test: forced halt")

	e.ApplyBookSnapshot(ctx, bookLevels("49900", "1"), bookLevels("50100", "1"), time.Unix(1, 0))

	assert.Empty(t, e.ActiveOrders())
	assert.True(t, e.Guardian().IsKillSwitchActive())
}

// TestEngine_OnFill_UpdatesPositionAndClearsOrder verifies a reported
// trade updates the position mirror and drops the filled order from the
// active set.
func TestEngine_OnFill_UpdatesPositionAndClearsOrder(t *testing.T) {
	ex := newTestExchange()
	e := newTestEngine(ex)
	ctx := context.Background()

	ex.OnOrderBookUpdate("BTCUSDT", types.OrderBookSnapshot{
		Symbol: "BTCUSDT",
		Bids:   bookLevels("49900", "1"),
		Asks:   bookLevels("50100", "1"),
	})
	e.ApplyBookSnapshot(ctx, bookLevels("49900", "1"), bookLevels("50100", "1"), time.Unix(1, 0))
	orders := e.ActiveOrders()
	require.Len(t, orders, 2)
	buyOrder := orders[0]
	for _, o := range orders {
		if o.Side == types.OrderSideBuy {
			buyOrder = o
		}
	}

	e.OnFill(ctx, &types.Trade{
		TradeID: "t1", OrderID: buyOrder.OrderID, Symbol: "BTCUSDT",
		Side: types.OrderSideBuy, Quantity: buyOrder.Quantity, Price: buyOrder.Price,
		Timestamp: time.Unix(2, 0),
	})

	pos := e.Position()
	assert.True(t, pos.Quantity.Equal(buyOrder.Quantity))

	for _, o := range e.ActiveOrders() {
		assert.NotEqual(t, buyOrder.OrderID, o.OrderID)
	}
}

// TestEngine_RiskOff_QuotesOnlyInventoryReducingSide exercises spec §4.8
// step 9: once risk-off, a non-flat engine must keep quoting the single
// side that reduces |inventory| rather than halting both sides.
func TestEngine_RiskOff_QuotesOnlyInventoryReducingSide(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange()

	risk := testRisk()
	risk.RiskOffThreshold = d("0.5") // risk_min (0.1) clamp on hard drawdown falls below this
	params := Params{
		Symbol:        "BTCUSDT",
		SymbolInfo:    testSymbolInfo(),
		Strategy:      testStrategy(),
		Risk:          risk,
		InitialEquity: d("100000"),
	}
	limiters := ratelimit.NewLimiters(1000, 1000)
	e := New(params, ex, limiters, nil, fixedClock{t: time.Unix(0, 0)})

	ex.OnOrderBookUpdate("BTCUSDT", types.OrderBookSnapshot{
		Symbol: "BTCUSDT",
		Bids:   bookLevels("49900", "1"),
		Asks:   bookLevels("50100", "1"),
	})
	e.ApplyBookSnapshot(ctx, bookLevels("49900", "1"), bookLevels("50100", "1"), time.Unix(1, 0))

	orders := e.ActiveOrders()
	require.Len(t, orders, 2)
	var buyOrder *types.Order
	for _, o := range orders {
		if o.Side == types.OrderSideBuy {
			buyOrder = o
		}
	}
	require.NotNil(t, buyOrder)

	// Fill the buy to build a long position, then force a hard drawdown so
	// the risk multiplier clamps to risk_min (0.1), below the 0.5 threshold.
	e.OnFill(ctx, &types.Trade{
		TradeID: "t1", OrderID: buyOrder.OrderID, Symbol: "BTCUSDT",
		Side: types.OrderSideBuy, Quantity: buyOrder.Quantity, Price: buyOrder.Price,
		Timestamp: time.Unix(2, 0),
	})
	require.True(t, e.Position().Quantity.IsPositive())

	e.UpdateEquity(ctx, d("100000"))
	e.UpdateEquity(ctx, d("80000")) // 20% drawdown, beyond dd_hard=0.15

	// Move the book well beyond the price-change trigger so updateQuotes
	// definitely re-runs under the now-risk-off state.
	ex.OnOrderBookUpdate("BTCUSDT", types.OrderBookSnapshot{
		Symbol: "BTCUSDT",
		Bids:   bookLevels("51900", "1"),
		Asks:   bookLevels("52100", "1"),
	})
	e.ApplyBookSnapshot(ctx, bookLevels("51900", "1"), bookLevels("52100", "1"), time.Unix(3, 0))

	after := e.ActiveOrders()
	for _, o := range after {
		assert.Equal(t, types.OrderSideSell, o.Side,
			"risk-off with a long position must quote only the inventory-reducing (sell) side, got %v", o.Side)
	}
}
