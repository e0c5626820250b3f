// Package pricing computes bid/ask quotes from an order-book mid price,
// applying spread widening (volatility + depth imbalance) and inventory
// skew. It never decides order size: the Quote it returns carries
// placeholder sizes that the market-maker loop overwrites after risk
// scaling (see spec design note on pricing-engine placeholder sizes).
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/arcturus/perpmm/pkg/types"
)

// Config holds the strategy parameters the pricing engine needs. It is a
// subset of the global configuration value object, passed in explicitly
// rather than read from a singleton.
type Config struct {
	BaseSpreadBps            decimal.Decimal
	MinSpreadBps             decimal.Decimal
	MaxSpreadBps             decimal.Decimal
	VolSpreadFactor          decimal.Decimal
	InventorySkewStrength    decimal.Decimal
	MaxInventoryNotionalPct  decimal.Decimal
	ShallowDepthThreshold    decimal.Decimal
	ShallowDepthWidenBps     decimal.Decimal
	TickSize                 decimal.Decimal
}

// Engine computes quotes. It is stateless across calls; all inputs needed
// for a single quote are passed to Quote.
type Engine struct {
	cfg Config
}

// New returns a pricing Engine for the given configuration.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Inputs bundles the per-call market state the engine needs.
type Inputs struct {
	Snapshot      types.OrderBookSnapshot
	InventoryQty  decimal.Decimal
	VolBps        decimal.Decimal
	HasVol        bool
	DepthBid      decimal.Decimal
	DepthAsk      decimal.Decimal
	HasDepth      bool
}

// Quote computes a two-sided Quote per spec §4.2. It returns an error if
// the snapshot has no mid price.
func (e *Engine) Quote(in Inputs) (types.Quote, error) {
	mid, ok := in.Snapshot.Mid()
	if !ok {
		return types.Quote{}, fmt.Errorf("pricing: no mid price available for %s", in.Snapshot.Symbol)
	}

	spreadBps := e.spreadBps(in)
	skewedMid := e.applyInventorySkew(mid, in.InventoryQty)

	half := skewedMid.Mul(spreadBps).Div(decimal.NewFromInt(20000))
	bid := roundDownToTick(skewedMid.Sub(half), e.cfg.TickSize)
	ask := roundUpToTick(skewedMid.Add(half), e.cfg.TickSize)

	// If clamping collapsed the half-spread below a tick, widen by one
	// tick on each side so bid < ask always holds.
	if !bid.LessThan(ask) {
		tick := e.cfg.TickSize
		if tick.IsZero() {
			tick = decimal.NewFromFloat(0.01)
		}
		bid = roundDownToTick(skewedMid, tick).Sub(tick)
		ask = roundUpToTick(skewedMid, tick).Add(tick)
	}

	return types.Quote{
		Symbol:   in.Snapshot.Symbol,
		BidPrice: bid,
		AskPrice: ask,
		// Placeholder sizes: the market-maker loop always overwrites these.
		BidSize: decimal.Zero,
		AskSize: decimal.Zero,
	}, nil
}

func (e *Engine) spreadBps(in Inputs) decimal.Decimal {
	spread := e.cfg.BaseSpreadBps

	if in.HasVol {
		spread = spread.Add(in.VolBps.Mul(e.cfg.VolSpreadFactor))
	}

	if in.HasDepth {
		total := in.DepthBid.Add(in.DepthAsk)
		if total.LessThan(e.cfg.ShallowDepthThreshold) {
			spread = spread.Add(e.cfg.ShallowDepthWidenBps)
		}
		if total.IsPositive() {
			imbalance := in.DepthBid.Sub(in.DepthAsk).Abs().Div(total)
			spread = spread.Add(imbalance.Mul(decimal.NewFromInt(10)))
		}
	}

	if spread.LessThan(e.cfg.MinSpreadBps) {
		spread = e.cfg.MinSpreadBps
	} else if spread.GreaterThan(e.cfg.MaxSpreadBps) {
		spread = e.cfg.MaxSpreadBps
	}
	return spread
}

// applyInventorySkew shifts mid away from the held-position direction:
// long inventory skews down (encourages sells), short skews up.
func (e *Engine) applyInventorySkew(mid, inventoryQty decimal.Decimal) decimal.Decimal {
	if inventoryQty.IsZero() || e.cfg.MaxInventoryNotionalPct.IsZero() {
		return mid
	}
	denom := decimal.NewFromInt(100).Mul(e.cfg.MaxInventoryNotionalPct)
	inventoryRatio := inventoryQty.Div(denom)
	skewPct := inventoryRatio.Neg().Mul(e.cfg.InventorySkewStrength).Mul(decimal.NewFromFloat(0.01))
	return mid.Mul(decimal.NewFromInt(1).Add(skewPct))
}

func roundDownToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	ticks := price.Div(tick).Floor()
	return ticks.Mul(tick)
}

func roundUpToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	ticks := price.Div(tick).Ceil()
	return ticks.Mul(tick)
}

// OrderSize computes an order's base-asset size from a target notional,
// clamped to [min_order_notional, max_order_notional_pct*equity] and
// rounded down to the symbol's step size. No minimum-quantity check is
// applied.
func OrderSize(targetNotional, price, minNotional, maxNotional, stepSize decimal.Decimal) decimal.Decimal {
	notional := targetNotional
	if notional.LessThan(minNotional) {
		notional = minNotional
	} else if notional.GreaterThan(maxNotional) {
		notional = maxNotional
	}
	if price.IsZero() {
		return decimal.Zero
	}
	size := notional.Div(price)
	if stepSize.IsPositive() {
		size = size.Div(stepSize).Floor().Mul(stepSize)
	}
	return size
}
