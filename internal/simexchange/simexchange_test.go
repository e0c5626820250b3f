package simexchange

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcturus/perpmm/pkg/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func book(symbol string, bidPrice, bidQty, askPrice, askQty string) types.OrderBookSnapshot {
	return types.OrderBookSnapshot{
		Symbol: symbol,
		Bids:   []types.OrderBookLevel{{Price: d(bidPrice), Quantity: d(bidQty)}},
		Asks:   []types.OrderBookLevel{{Price: d(askPrice), Quantity: d(askQty)}},
	}
}

func newExchange(t *testing.T, initialEquity string) *Exchange {
	t.Helper()
	symbols := map[string]types.SymbolConfig{
		"BTCUSDT": {Symbol: "BTCUSDT", TickSize: d("0.1"), StepSize: d("0.001")},
	}
	return New(d(initialEquity), symbols, fixedClock{t: time.Unix(0, 0)})
}

// S1: round-trip PnL across an opening buy and a full-closing sell.
func TestS1_RoundTripPnL(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t, "200")

	ex.OnOrderBookUpdate("BTCUSDT", book("BTCUSDT", "49900", "0.1", "50100", "0.1"))

	buy := &types.Order{Symbol: "BTCUSDT", Side: types.OrderSideBuy, Type: types.OrderTypeLimit, Quantity: d("0.001"), Price: d("50100")}
	filled, err := ex.SubmitOrder(ctx, buy)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, filled.Status)
	assert.True(t, filled.FilledPrice.Equal(d("50100")))

	ex.OnOrderBookUpdate("BTCUSDT", book("BTCUSDT", "50400", "0.1", "50600", "0.1"))

	sell := &types.Order{Symbol: "BTCUSDT", Side: types.OrderSideSell, Type: types.OrderTypeLimit, Quantity: d("0.001"), Price: d("50400")}
	filled2, err := ex.SubmitOrder(ctx, sell)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, filled2.Status)
	assert.True(t, filled2.FilledPrice.Equal(d("50400")))

	positions, err := ex.GetPositions(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	pos := positions[0]

	assert.True(t, pos.Quantity.IsZero())
	assert.True(t, pos.RealizedPL.Equal(d("0.30")), "realized pnl: %s", pos.RealizedPL)
	assert.True(t, pos.UnrealizedPL.IsZero())

	equity := ex.GetEquity()
	assert.True(t, equity.Equal(d("200.30")), "equity: %s", equity)
}

// S6: limit orders fill at the resting best price, not the submitted limit.
func TestS6_FillsAtBestPriceNotLimitPrice(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t, "1000")
	ex.OnOrderBookUpdate("BTCUSDT", book("BTCUSDT", "49900", "1", "50100", "1"))

	buy := &types.Order{Symbol: "BTCUSDT", Side: types.OrderSideBuy, Type: types.OrderTypeLimit, Quantity: d("0.001"), Price: d("50200")}
	filledBuy, err := ex.SubmitOrder(ctx, buy)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, filledBuy.Status)
	assert.True(t, filledBuy.FilledPrice.Equal(d("50100")), "buy should fill at best ask: %s", filledBuy.FilledPrice)

	sell := &types.Order{Symbol: "BTCUSDT", Side: types.OrderSideSell, Type: types.OrderTypeLimit, Quantity: d("0.001"), Price: d("49800")}
	filledSell, err := ex.SubmitOrder(ctx, sell)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, filledSell.Status)
	assert.True(t, filledSell.FilledPrice.Equal(d("49900")), "sell should fill at best bid: %s", filledSell.FilledPrice)
}

func TestSubmit_UnmarketableOrderRests(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t, "1000")
	ex.OnOrderBookUpdate("BTCUSDT", book("BTCUSDT", "49900", "1", "50100", "1"))

	buy := &types.Order{Symbol: "BTCUSDT", Side: types.OrderSideBuy, Type: types.OrderTypeLimit, Quantity: d("0.001"), Price: d("49000")}
	resting, err := ex.SubmitOrder(ctx, buy)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusNew, resting.Status)

	open, err := ex.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, open, 1)

	ok, err := ex.CancelOrder(ctx, "BTCUSDT", resting.OrderID)
	require.NoError(t, err)
	assert.True(t, ok)

	open, err = ex.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, open, 0)
}

func TestPositionUpdate_OpeningIncrease(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t, "1000")
	ex.OnOrderBookUpdate("BTCUSDT", book("BTCUSDT", "100", "10", "100", "10"))

	// Two successive buys in the same direction: case 1 twice.
	_, err := ex.SubmitOrder(ctx, &types.Order{Symbol: "BTCUSDT", Side: types.OrderSideBuy, Quantity: d("1"), Price: d("100")})
	require.NoError(t, err)
	_, err = ex.SubmitOrder(ctx, &types.Order{Symbol: "BTCUSDT", Side: types.OrderSideBuy, Quantity: d("1"), Price: d("100")})
	require.NoError(t, err)

	positions, _ := ex.GetPositions(ctx, "BTCUSDT")
	pos := positions[0]
	assert.True(t, pos.Quantity.Equal(d("2")))
	assert.True(t, pos.RealizedPL.IsZero())
	entry, ok := pos.EntryPrice()
	require.True(t, ok)
	assert.True(t, entry.Equal(d("100")))
}

func TestPositionUpdate_PartialClose(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t, "1000")

	ex.OnOrderBookUpdate("BTCUSDT", book("BTCUSDT", "100", "10", "100", "10"))
	_, err := ex.SubmitOrder(ctx, &types.Order{Symbol: "BTCUSDT", Side: types.OrderSideBuy, Quantity: d("2"), Price: d("100")})
	require.NoError(t, err)

	ex.OnOrderBookUpdate("BTCUSDT", book("BTCUSDT", "110", "10", "110", "10"))
	_, err = ex.SubmitOrder(ctx, &types.Order{Symbol: "BTCUSDT", Side: types.OrderSideSell, Quantity: d("1"), Price: d("110")})
	require.NoError(t, err)

	positions, _ := ex.GetPositions(ctx, "BTCUSDT")
	pos := positions[0]
	assert.True(t, pos.Quantity.Equal(d("1")), "remaining qty: %s", pos.Quantity)
	assert.True(t, pos.RealizedPL.Equal(d("10")), "realized: %s", pos.RealizedPL) // (110-100)*1
	entry, ok := pos.EntryPrice()
	require.True(t, ok)
	assert.True(t, entry.Equal(d("100")), "entry preserved on remainder: %s", entry)
}

func TestPositionUpdate_FullClose(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t, "1000")

	ex.OnOrderBookUpdate("BTCUSDT", book("BTCUSDT", "100", "10", "100", "10"))
	_, err := ex.SubmitOrder(ctx, &types.Order{Symbol: "BTCUSDT", Side: types.OrderSideBuy, Quantity: d("1"), Price: d("100")})
	require.NoError(t, err)

	ex.OnOrderBookUpdate("BTCUSDT", book("BTCUSDT", "105", "10", "105", "10"))
	_, err = ex.SubmitOrder(ctx, &types.Order{Symbol: "BTCUSDT", Side: types.OrderSideSell, Quantity: d("1"), Price: d("105")})
	require.NoError(t, err)

	positions, _ := ex.GetPositions(ctx, "BTCUSDT")
	pos := positions[0]
	assert.True(t, pos.Quantity.IsZero())
	assert.True(t, pos.Cost.IsZero())
	assert.True(t, pos.RealizedPL.Equal(d("5")))
	assert.True(t, pos.UnrealizedPL.IsZero())
	_, ok := pos.EntryPrice()
	assert.False(t, ok, "entry price undefined when flat")
}

func TestPositionUpdate_Flip(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t, "1000")

	ex.OnOrderBookUpdate("BTCUSDT", book("BTCUSDT", "100", "10", "100", "10"))
	_, err := ex.SubmitOrder(ctx, &types.Order{Symbol: "BTCUSDT", Side: types.OrderSideBuy, Quantity: d("1"), Price: d("100")})
	require.NoError(t, err)

	ex.OnOrderBookUpdate("BTCUSDT", book("BTCUSDT", "110", "10", "110", "10"))
	_, err = ex.SubmitOrder(ctx, &types.Order{Symbol: "BTCUSDT", Side: types.OrderSideSell, Quantity: d("3"), Price: d("110")})
	require.NoError(t, err)

	positions, _ := ex.GetPositions(ctx, "BTCUSDT")
	pos := positions[0]
	assert.True(t, pos.Quantity.Equal(d("-2")), "flipped short qty: %s", pos.Quantity)
	assert.True(t, pos.RealizedPL.Equal(d("10")), "realized on old 1-lot: %s", pos.RealizedPL) // (110-100)*1
	entry, ok := pos.EntryPrice()
	require.True(t, ok)
	assert.True(t, entry.Equal(d("110")), "new cost basis only reflects flip remainder: %s", entry)
}

func TestTradesRing_BoundedAtCapacity(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t, "1000000")
	ex.OnOrderBookUpdate("BTCUSDT", book("BTCUSDT", "100", "1000000", "100", "1000000"))

	for i := 0; i < tradesRingCapacity+5; i++ {
		_, err := ex.SubmitOrder(ctx, &types.Order{Symbol: "BTCUSDT", Side: types.OrderSideBuy, Quantity: d("0.0001"), Price: d("100")})
		require.NoError(t, err)
	}

	assert.Len(t, ex.trades, tradesRingCapacity)
}
