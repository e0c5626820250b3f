// Package book maintains the local L2 order-book mirror for a single
// symbol, plus the bounded mid-price ring used to estimate realized
// volatility. One Manager is owned by exactly one symbol's market-maker
// task; callers outside that task only ever read consistent snapshots.
package book

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arcturus/perpmm/pkg/types"
)

const midRingCapacity = 200

// Manager holds the current snapshot for one symbol and a bounded history
// of mid prices for volatility estimation.
type Manager struct {
	mu sync.RWMutex

	symbol   string
	snapshot types.OrderBookSnapshot
	hasBook  bool
	mids     []decimal.Decimal // ring, newest at the end, capped at midRingCapacity
	updated  time.Time
}

// NewManager creates an empty Manager for symbol.
func NewManager(symbol string) *Manager {
	return &Manager{symbol: symbol}
}

// ApplyFull replaces the snapshot entirely and pushes the new mid (if any)
// onto the ring. Malformed levels (non-positive price, negative quantity)
// are rejected individually, the same as ApplyDiff.
func (m *Manager) ApplyFull(bids, asks []types.OrderBookLevel, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshot = types.OrderBookSnapshot{
		Symbol:    m.symbol,
		Bids:      sortedDescending(filterValidLevels(bids)),
		Asks:      sortedAscending(filterValidLevels(asks)),
		Timestamp: ts,
	}
	m.hasBook = true
	m.updated = ts
	m.pushMidLocked()
}

// filterValidLevels drops malformed levels (non-positive price, negative
// quantity); a zero-quantity level is meaningless outside a diff's
// remove-this-price signal, so it's dropped here too.
func filterValidLevels(levels []types.OrderBookLevel) []types.OrderBookLevel {
	out := make([]types.OrderBookLevel, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Price.IsNegative() || lvl.Price.IsZero() {
			continue
		}
		if lvl.Quantity.IsNegative() || lvl.Quantity.IsZero() {
			continue
		}
		out = append(out, lvl)
	}
	return out
}

// ApplyDiff applies an incremental update: entries with zero quantity
// remove the level at that price, all others insert-or-replace it. A diff
// arriving before any full snapshot is ignored (cannot be applied).
// Malformed levels (non-positive price, negative quantity) are rejected
// individually; processing continues with the remaining entries.
func (m *Manager) ApplyDiff(bidUpdates, askUpdates []types.OrderBookLevel, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasBook {
		return
	}

	m.snapshot.Bids = applySide(m.snapshot.Bids, bidUpdates, true)
	m.snapshot.Asks = applySide(m.snapshot.Asks, askUpdates, false)
	m.snapshot.Timestamp = ts
	m.updated = ts
	m.pushMidLocked()
}

func applySide(existing, updates []types.OrderBookLevel, descending bool) []types.OrderBookLevel {
	byPrice := make(map[string]decimal.Decimal, len(existing))
	order := make([]decimal.Decimal, 0, len(existing))
	for _, lvl := range existing {
		key := lvl.Price.String()
		if _, ok := byPrice[key]; !ok {
			order = append(order, lvl.Price)
		}
		byPrice[key] = lvl.Quantity
	}

	for _, u := range updates {
		if u.Price.IsNegative() || u.Price.IsZero() {
			continue // malformed: non-positive price, reject and continue
		}
		if u.Quantity.IsNegative() {
			continue // malformed: negative quantity, reject and continue
		}
		key := u.Price.String()
		if u.Quantity.IsZero() {
			delete(byPrice, key)
			continue
		}
		if _, existed := byPrice[key]; !existed {
			order = append(order, u.Price)
		}
		byPrice[key] = u.Quantity
	}

	out := make([]types.OrderBookLevel, 0, len(order))
	for _, p := range order {
		if qty, ok := byPrice[p.String()]; ok {
			out = append(out, types.OrderBookLevel{Price: p, Quantity: qty})
		}
	}
	if descending {
		return sortedDescending(out)
	}
	return sortedAscending(out)
}

func sortedDescending(levels []types.OrderBookLevel) []types.OrderBookLevel {
	out := append([]types.OrderBookLevel(nil), levels...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Price.GreaterThan(out[j-1].Price); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func sortedAscending(levels []types.OrderBookLevel) []types.OrderBookLevel {
	out := append([]types.OrderBookLevel(nil), levels...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Price.LessThan(out[j-1].Price); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (m *Manager) pushMidLocked() {
	mid, ok := m.snapshot.Mid()
	if !ok {
		return
	}
	m.mids = append(m.mids, mid)
	if len(m.mids) > midRingCapacity {
		m.mids = m.mids[len(m.mids)-midRingCapacity:]
	}
}

// Snapshot returns a copy of the current book state.
func (m *Manager) Snapshot() (types.OrderBookSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot, m.hasBook
}

// BestBid returns the current best bid level.
func (m *Manager) BestBid() (types.OrderBookLevel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.BestBid()
}

// BestAsk returns the current best ask level.
func (m *Manager) BestAsk() (types.OrderBookLevel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.BestAsk()
}

// Mid returns the current mid price.
func (m *Manager) Mid() (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.Mid()
}

// SpreadBps returns the current spread in basis points.
func (m *Manager) SpreadBps() (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.SpreadBps()
}

// DepthWithinBps sums price*quantity across levels on side ("bid" or "ask")
// whose price lies within bps/10000 of mid.
func (m *Manager) DepthWithinBps(side string, bps decimal.Decimal) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mid, ok := m.snapshot.Mid()
	if !ok {
		return decimal.Zero
	}
	band := mid.Mul(bps).Div(decimal.NewFromInt(10000))

	var levels []types.OrderBookLevel
	if side == "bid" {
		levels = m.snapshot.Bids
	} else {
		levels = m.snapshot.Asks
	}

	total := decimal.Zero
	for _, lvl := range levels {
		dist := mid.Sub(lvl.Price).Abs()
		if dist.GreaterThan(band) {
			if side == "bid" {
				break // bids sorted descending: once outside, all deeper are too
			}
			continue
		}
		total = total.Add(lvl.Price.Mul(lvl.Quantity))
	}
	return total
}

// RealizedVolatility computes the sample standard deviation of the
// successive percent returns across the last n mids of the mid-price ring
// (n is raised to 3 if smaller), scaled to bps. Returns false if fewer than
// 3 points of history are available.
func (m *Manager) RealizedVolatility(n int) (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n < 3 {
		n = 3
	}
	if len(m.mids) < 3 {
		return decimal.Zero, false
	}
	window := m.mids
	if len(window) > n {
		window = window[len(window)-n:]
	}
	if len(window) < 3 {
		return decimal.Zero, false
	}

	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		prev := window[i-1]
		if prev.IsZero() {
			continue
		}
		ret, _ := window[i].Sub(prev).Div(prev).Float64()
		returns = append(returns, ret)
	}
	if len(returns) < 2 {
		return decimal.Zero, false
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	stdev := math.Sqrt(variance)
	return decimal.NewFromFloat(stdev * 10000), true
}

// IsStale reports whether the book hasn't been updated within maxAge of
// now.
func (m *Manager) IsStale(now time.Time, maxAge time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.updated.IsZero() {
		return true
	}
	return now.Sub(m.updated) > maxAge
}
