package book

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcturus/perpmm/pkg/types"
)

func lvl(price, qty string) types.OrderBookLevel {
	return types.OrderBookLevel{Price: decimal.RequireFromString(price), Quantity: decimal.RequireFromString(qty)}
}

func TestApplyFull_Invariants(t *testing.T) {
	m := NewManager("BTCUSDT")
	m.ApplyFull(
		[]types.OrderBookLevel{lvl("49900", "0.1"), lvl("49800", "0.2")},
		[]types.OrderBookLevel{lvl("50100", "0.1"), lvl("50200", "0.2")},
		time.Now(),
	)

	snap, ok := m.Snapshot()
	assert.True(t, ok)
	assert.True(t, snap.Bids[0].Price.GreaterThan(snap.Bids[1].Price))
	assert.True(t, snap.Asks[0].Price.LessThan(snap.Asks[1].Price))

	bb, _ := m.BestBid()
	ba, _ := m.BestAsk()
	assert.True(t, bb.Price.LessThan(ba.Price))

	mid, ok := m.Mid()
	assert.True(t, ok)
	assert.True(t, mid.Equal(decimal.RequireFromString("50000")))
}

func TestApplyDiff_BeforeFullSnapshot_Ignored(t *testing.T) {
	m := NewManager("BTCUSDT")
	m.ApplyDiff([]types.OrderBookLevel{lvl("100", "1")}, nil, time.Now())

	_, ok := m.Snapshot()
	assert.False(t, ok)
}

func TestApplyDiff_RemovesZeroQuantityLevel(t *testing.T) {
	m := NewManager("BTCUSDT")
	m.ApplyFull(
		[]types.OrderBookLevel{lvl("49900", "0.1")},
		[]types.OrderBookLevel{lvl("50100", "0.1")},
		time.Now(),
	)
	m.ApplyDiff(
		[]types.OrderBookLevel{lvl("49900", "0")},
		nil,
		time.Now(),
	)

	snap, _ := m.Snapshot()
	assert.Empty(t, snap.Bids)
}

func TestApplyDiff_RejectsMalformedLevels(t *testing.T) {
	m := NewManager("BTCUSDT")
	m.ApplyFull(
		[]types.OrderBookLevel{lvl("49900", "0.1")},
		[]types.OrderBookLevel{lvl("50100", "0.1")},
		time.Now(),
	)
	m.ApplyDiff(
		[]types.OrderBookLevel{lvl("-5", "1"), lvl("49800", "-1")},
		nil,
		time.Now(),
	)

	snap, _ := m.Snapshot()
	assert.Len(t, snap.Bids, 1)
	assert.True(t, snap.Bids[0].Price.Equal(decimal.RequireFromString("49900")))
}

func TestApplyFull_RejectsMalformedLevels(t *testing.T) {
	m := NewManager("BTCUSDT")
	m.ApplyFull(
		[]types.OrderBookLevel{lvl("49900", "0.1"), lvl("-5", "1"), lvl("49800", "-1"), lvl("0", "1")},
		[]types.OrderBookLevel{lvl("50100", "0.1"), lvl("50200", "0")},
		time.Now(),
	)

	snap, ok := m.Snapshot()
	require.True(t, ok)
	require.Len(t, snap.Bids, 1)
	assert.True(t, snap.Bids[0].Price.Equal(decimal.RequireFromString("49900")))
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Price.Equal(decimal.RequireFromString("50100")))
}

func TestSpreadBps(t *testing.T) {
	m := NewManager("BTCUSDT")
	m.ApplyFull(
		[]types.OrderBookLevel{lvl("49900", "0.1")},
		[]types.OrderBookLevel{lvl("50100", "0.1")},
		time.Now(),
	)

	bps, ok := m.SpreadBps()
	assert.True(t, ok)
	// spread=200, mid=50000 -> 200/50000*10000 = 40bps
	assert.True(t, bps.Equal(decimal.RequireFromString("40")))
}

func TestDepthWithinBps(t *testing.T) {
	m := NewManager("BTCUSDT")
	m.ApplyFull(
		[]types.OrderBookLevel{lvl("49990", "1"), lvl("49000", "5")},
		[]types.OrderBookLevel{lvl("50010", "1")},
		time.Now(),
	)

	// mid = 50000; within 10bps = 50 price units -> only 49990 qualifies
	depth := m.DepthWithinBps("bid", decimal.RequireFromString("10"))
	assert.True(t, depth.Equal(decimal.RequireFromString("49990")))
}

func TestRealizedVolatility_RequiresAtLeastThreePoints(t *testing.T) {
	m := NewManager("BTCUSDT")
	m.ApplyFull([]types.OrderBookLevel{lvl("100", "1")}, []types.OrderBookLevel{lvl("102", "1")}, time.Now())

	_, ok := m.RealizedVolatility(10)
	assert.False(t, ok)

	m.ApplyFull([]types.OrderBookLevel{lvl("101", "1")}, []types.OrderBookLevel{lvl("103", "1")}, time.Now())
	m.ApplyFull([]types.OrderBookLevel{lvl("99", "1")}, []types.OrderBookLevel{lvl("101", "1")}, time.Now())

	vol, ok := m.RealizedVolatility(10)
	assert.True(t, ok)
	assert.True(t, vol.IsPositive())
}

func TestIsStale(t *testing.T) {
	m := NewManager("BTCUSDT")
	now := time.Now()
	m.ApplyFull([]types.OrderBookLevel{lvl("100", "1")}, []types.OrderBookLevel{lvl("102", "1")}, now)

	assert.False(t, m.IsStale(now.Add(time.Second), 5*time.Second))
	assert.True(t, m.IsStale(now.Add(10*time.Second), 5*time.Second))
}
