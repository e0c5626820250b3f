package inventory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/arcturus/perpmm/pkg/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func cfg() Config {
	return Config{
		TargetQty:    decimal.Zero,
		SoftBandPct:  d("0.10"),
		HardLimitPct: d("0.30"),
	}
}

func TestEvaluate_Flat(t *testing.T) {
	m := New(cfg())
	s := m.Evaluate(nil, d("1000"))
	assert.True(t, s.WithinSoftBand)
	assert.True(t, s.ShouldQuoteBid)
	assert.True(t, s.ShouldQuoteAsk)
	assert.True(t, s.Deviation.IsZero())
}

func TestEvaluate_LongBeyondHardLimit_BlocksBid(t *testing.T) {
	m := New(cfg())
	pos := &types.Position{Quantity: d("10"), MarkPrice: d("100")} // notional=1000, equity=1000 -> 100%
	s := m.Evaluate(pos, d("1000"))

	assert.False(t, s.WithinHardLimit)
	assert.False(t, s.ShouldQuoteBid)
	assert.True(t, s.ShouldQuoteAsk)
}

func TestEvaluate_ShortBeyondHardLimit_BlocksAsk(t *testing.T) {
	m := New(cfg())
	pos := &types.Position{Quantity: d("-10"), MarkPrice: d("100")}
	s := m.Evaluate(pos, d("1000"))

	assert.False(t, s.ShouldQuoteAsk)
	assert.True(t, s.ShouldQuoteBid)
}

func TestEvaluate_SkewFactorClampedToOne(t *testing.T) {
	m := New(cfg())
	pos := &types.Position{Quantity: d("100"), MarkPrice: d("100")} // notional=10000 >> hardLimit=300
	s := m.Evaluate(pos, d("1000"))
	assert.True(t, s.SkewFactor.Equal(decimal.NewFromInt(1)))
}
