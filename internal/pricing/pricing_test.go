package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/arcturus/perpmm/pkg/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func baseConfig() Config {
	return Config{
		BaseSpreadBps:           d("8"),
		MinSpreadBps:            d("4"),
		MaxSpreadBps:            d("30"),
		VolSpreadFactor:         d("1"),
		InventorySkewStrength:   d("1.2"),
		MaxInventoryNotionalPct: d("0.30"),
		ShallowDepthThreshold:   d("0"),
		ShallowDepthWidenBps:    d("2"),
		TickSize:                d("0.01"),
	}
}

func flatBook(mid string) types.OrderBookSnapshot {
	m := d(mid)
	half := d("100")
	return types.OrderBookSnapshot{
		Symbol: "BTCUSDT",
		Bids:   []types.OrderBookLevel{{Price: m.Sub(half), Quantity: d("0.1")}},
		Asks:   []types.OrderBookLevel{{Price: m.Add(half), Quantity: d("0.1")}},
	}
}

func TestQuote_BidLessThanAsk(t *testing.T) {
	e := New(baseConfig())
	q, err := e.Quote(Inputs{Snapshot: flatBook("50000"), InventoryQty: decimal.Zero})
	assert.NoError(t, err)
	assert.True(t, q.BidPrice.LessThan(q.AskPrice))
}

func TestQuote_NoMid_Errors(t *testing.T) {
	e := New(baseConfig())
	_, err := e.Quote(Inputs{Snapshot: types.OrderBookSnapshot{Symbol: "BTCUSDT"}})
	assert.Error(t, err)
}

// S2: inventory skew direction.
func TestQuote_InventorySkew_LongSkewsDown(t *testing.T) {
	cfg := baseConfig()
	e := New(cfg)

	neutral, err := e.Quote(Inputs{Snapshot: flatBook("50000"), InventoryQty: decimal.Zero})
	assert.NoError(t, err)

	long, err := e.Quote(Inputs{Snapshot: flatBook("50000"), InventoryQty: d("0.1")})
	assert.NoError(t, err)

	assert.True(t, long.BidPrice.LessThan(neutral.BidPrice))
	assert.True(t, long.AskPrice.LessThan(neutral.AskPrice))
}

// S3: spread clamp.
func TestSpreadBps_ClampsToMax(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxSpreadBps = d("30")
	e := New(cfg)

	spread := e.spreadBps(Inputs{HasVol: true, VolBps: d("1000")})
	assert.True(t, spread.Equal(d("30")))
}

func TestOrderSize_ClampsToMinMax(t *testing.T) {
	size := OrderSize(d("1"), d("50000"), d("10"), d("1000"), d("0.0001"))
	// notional clamps to min=10 -> size = 10/50000 = 0.0002
	assert.True(t, size.Equal(d("0.0002")))
}
