// Package inventory tracks desired vs. actual position size for a symbol
// and exposes the signals the pricing engine and market-maker loop need to
// decide which side(s) may quote.
package inventory

import (
	"github.com/shopspring/decimal"

	"github.com/arcturus/perpmm/pkg/types"
)

// Config holds the inventory-management parameters.
type Config struct {
	TargetQty          decimal.Decimal // defaults to zero (delta-neutral)
	SoftBandPct        decimal.Decimal
	HardLimitPct       decimal.Decimal
}

// Manager evaluates a position against the configured bands. It holds no
// mutable state of its own; every method is a pure function of its
// arguments.
type Manager struct {
	cfg Config
}

// New returns an inventory Manager for cfg.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// State is the full set of derived inventory signals for one evaluation.
type State struct {
	WithinSoftBand  bool
	WithinHardLimit bool
	SkewFactor      decimal.Decimal
	ShouldQuoteBid  bool
	ShouldQuoteAsk  bool
	Deviation       decimal.Decimal
}

// Evaluate computes the full inventory State from the current position and
// bot equity.
func (m *Manager) Evaluate(pos *types.Position, equity decimal.Decimal) State {
	notional := decimal.Zero
	qty := decimal.Zero
	if pos != nil {
		notional = pos.Notional()
		qty = pos.Quantity
	}

	softLimit := equity.Mul(m.cfg.SoftBandPct)
	hardLimit := equity.Mul(m.cfg.HardLimitPct)

	withinSoft := notional.LessThanOrEqual(softLimit)
	withinHard := notional.LessThanOrEqual(hardLimit)

	skew := decimal.Zero
	if hardLimit.IsPositive() {
		skew = notional.Div(hardLimit)
		if skew.GreaterThan(decimal.NewFromInt(1)) {
			skew = decimal.NewFromInt(1)
		}
	}

	isLong := qty.IsPositive()
	isShort := qty.IsNegative()

	shouldQuoteBid := true
	shouldQuoteAsk := true
	if isLong && !withinHard {
		shouldQuoteBid = false // long beyond hard limit: stop buying more
	}
	if isShort && !withinHard {
		shouldQuoteAsk = false // short beyond hard limit: stop selling more
	}

	target := m.cfg.TargetQty
	return State{
		WithinSoftBand:  withinSoft,
		WithinHardLimit: withinHard,
		SkewFactor:      skew,
		ShouldQuoteBid:  shouldQuoteBid,
		ShouldQuoteAsk:  shouldQuoteAsk,
		Deviation:       qty.Sub(target),
	}
}
