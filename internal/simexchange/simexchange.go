// Package simexchange implements a deterministic, in-process matching
// exchange used by the paper-trading and backtest execution modes. It
// implements the same types.Exchange contract a live venue connector would,
// so the market-maker loop cannot tell them apart (spec §6 interchangeability
// requirement).
//
// Matching is single-level, full-quantity only: an order either fills
// entirely against the opposing best price or it rests. This is a
// deliberate, documented simplification inherited from the reference
// implementation, not a specification gap.
package simexchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arcturus/perpmm/internal/position"
	"github.com/arcturus/perpmm/pkg/types"
)

const tradesRingCapacity = 10_000

// Exchange is the simulated matcher. All public methods complete atomically
// from the caller's perspective, serialized behind mu.
type Exchange struct {
	mu sync.Mutex

	symbols map[string]types.SymbolConfig

	openOrders    map[string][]*types.Order // symbol -> orders, insertion order
	positions     map[string]*types.Position
	lastSnapshot  map[string]types.OrderBookSnapshot

	trades    []types.Trade // bounded ring, oldest evicted first
	nextOrder uint64
	nextTrade uint64

	initialEquity decimal.Decimal
	clock         types.Clock
}

// New returns an Exchange seeded with initialEquity and the given symbol
// configs (keyed by symbol).
func New(initialEquity decimal.Decimal, symbols map[string]types.SymbolConfig, clock types.Clock) *Exchange {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Exchange{
		symbols:       symbols,
		openOrders:    make(map[string][]*types.Order),
		positions:     make(map[string]*types.Position),
		lastSnapshot:  make(map[string]types.OrderBookSnapshot),
		initialEquity: initialEquity,
		clock:         clock,
	}
}

// GetOrderBook returns the last snapshot received via OnOrderBookUpdate.
func (e *Exchange) GetOrderBook(_ context.Context, symbol string, _ int) (*types.OrderBookSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap, ok := e.lastSnapshot[symbol]
	if !ok {
		return nil, fmt.Errorf("simexchange: no order book received yet for %s", symbol)
	}
	return &snap, nil
}

// OnOrderBookUpdate stores the latest snapshot for symbol and attempts to
// match any resting orders against it.
func (e *Exchange) OnOrderBookUpdate(symbol string, snapshot types.OrderBookSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSnapshot[symbol] = snapshot
	e.match(symbol, snapshot)
}

// SubmitOrder assigns an order id if absent, marks it NEW, appends it to
// the symbol's open-order list, then synchronously attempts to match it
// against the last known snapshot so marketable orders fill immediately.
func (e *Exchange) SubmitOrder(_ context.Context, order *types.Order) (*types.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o := *order
	if o.OrderID == "" {
		e.nextOrder++
		o.OrderID = fmt.Sprintf("%d", e.nextOrder)
	}
	o.Status = types.OrderStatusNew
	o.FilledQuantity = decimal.Zero
	if o.Timestamp.IsZero() {
		o.Timestamp = e.clock.Now()
	}

	e.openOrders[o.Symbol] = append(e.openOrders[o.Symbol], &o)

	// match mutates the shared *Order in place (fills it and drops it from
	// the open list), so o already reflects the outcome either way.
	if snap, ok := e.lastSnapshot[o.Symbol]; ok {
		e.match(o.Symbol, snap)
	}

	return &o, nil
}

// CancelOrder removes a single resting order by id.
func (e *Exchange) CancelOrder(_ context.Context, symbol, orderID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	orders := e.openOrders[symbol]
	for i, o := range orders {
		if o.OrderID == orderID {
			o.Status = types.OrderStatusCanceled
			e.openOrders[symbol] = append(orders[:i:i], orders[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// CancelAllOrders removes every resting order for symbol, or every symbol
// when symbol is empty, returning the count removed.
func (e *Exchange) CancelAllOrders(_ context.Context, symbol string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	count := 0
	if symbol != "" {
		count = len(e.openOrders[symbol])
		delete(e.openOrders, symbol)
		return count, nil
	}
	for sym, orders := range e.openOrders {
		count += len(orders)
		delete(e.openOrders, sym)
	}
	return count, nil
}

// GetOpenOrders lists resting orders for symbol, or all symbols when empty.
func (e *Exchange) GetOpenOrders(_ context.Context, symbol string) ([]*types.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if symbol != "" {
		return copyOrders(e.openOrders[symbol]), nil
	}
	var out []*types.Order
	for _, orders := range e.openOrders {
		out = append(out, copyOrders(orders)...)
	}
	return out, nil
}

func copyOrders(orders []*types.Order) []*types.Order {
	out := make([]*types.Order, len(orders))
	for i, o := range orders {
		cp := *o
		out[i] = &cp
	}
	return out
}

// GetPositions lists current positions for symbol, or all symbols when
// empty.
func (e *Exchange) GetPositions(_ context.Context, symbol string) ([]*types.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if symbol != "" {
		if p, ok := e.positions[symbol]; ok {
			cp := *p
			return []*types.Position{&cp}, nil
		}
		return nil, nil
	}
	var out []*types.Position
	for _, p := range e.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// GetTrades returns up to limit of the most recent trades for symbol, or
// all symbols when empty.
func (e *Exchange) GetTrades(_ context.Context, symbol string, limit int) ([]*types.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*types.Trade
	for i := len(e.trades) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		t := e.trades[i]
		if symbol == "" || t.Symbol == symbol {
			out = append(out, &t)
		}
	}
	return out, nil
}

// GetSymbolInfo returns the configured SymbolConfig for symbol.
func (e *Exchange) GetSymbolInfo(_ context.Context, symbol string) (*types.SymbolConfig, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg, ok := e.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("simexchange: unknown symbol %s", symbol)
	}
	return &cfg, nil
}

// GetBalance returns the current equity as a single synthetic quote-asset
// balance; the simulator has no notion of multi-asset wallets.
func (e *Exchange) GetBalance(_ context.Context, asset string) (*types.Balance, error) {
	equity := e.GetEquity()
	return &types.Balance{Asset: asset, Free: equity, Locked: decimal.Zero}, nil
}

// Close is a no-op; present for interface parity with a live client.
func (e *Exchange) Close() error { return nil }

// GetEquity returns initial_equity + sum(realized+unrealized) across all
// positions.
func (e *Exchange) GetEquity() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.equityLocked()
}

func (e *Exchange) equityLocked() decimal.Decimal {
	equity := e.initialEquity
	for _, p := range e.positions {
		equity = equity.Add(p.RealizedPL).Add(p.UnrealizedPL)
	}
	return equity
}

// match attempts to fill every resting order for symbol against snapshot.
// BUY fills iff price >= best_ask at fill_price=best_ask; SELL fills iff
// price <= best_bid at fill_price=best_bid. Fills are processed in
// insertion order.
func (e *Exchange) match(symbol string, snapshot types.OrderBookSnapshot) {
	bestBid, hasBid := snapshot.BestBid()
	bestAsk, hasAsk := snapshot.BestAsk()

	orders := e.openOrders[symbol]
	var remaining []*types.Order
	for _, o := range orders {
		filled := false
		if o.Side == types.OrderSideBuy && hasAsk && o.Price.GreaterThanOrEqual(bestAsk.Price) {
			e.applyFill(o, bestAsk.Price, snapshot)
			filled = true
		} else if o.Side == types.OrderSideSell && hasBid && o.Price.LessThanOrEqual(bestBid.Price) {
			e.applyFill(o, bestBid.Price, snapshot)
			filled = true
		}
		if !filled {
			remaining = append(remaining, o)
		}
	}
	e.openOrders[symbol] = remaining
}

// applyFill marks order FILLED, appends a Trade (maker, zero fee per the
// simulator's documented simplification), and updates the position.
func (e *Exchange) applyFill(order *types.Order, fillPrice decimal.Decimal, snapshot types.OrderBookSnapshot) {
	order.Status = types.OrderStatusFilled
	order.FilledQuantity = order.Quantity
	order.FilledPrice = fillPrice
	order.UpdateTime = e.clock.Now()

	e.nextTrade++
	trade := types.Trade{
		TradeID:   uuid.NewString(),
		OrderID:   order.OrderID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Quantity:  order.Quantity,
		Price:     fillPrice,
		Fee:       decimal.Zero,
		IsMaker:   true,
		Timestamp: order.UpdateTime,
	}
	e.trades = append(e.trades, trade)
	if len(e.trades) > tradesRingCapacity {
		e.trades = e.trades[len(e.trades)-tradesRingCapacity:]
	}

	mark, ok := snapshot.Mid()
	if !ok {
		mark = fillPrice
	}
	e.updatePosition(order.Symbol, order.Side, order.Quantity, fillPrice, mark)
}

// updatePosition applies a fill to the symbol's position mirror using the
// four-branch cost-basis algorithm in internal/position (spec §4.7,
// "critical correctness section"). All four branches must be exercised by
// tests.
func (e *Exchange) updatePosition(symbol string, side types.OrderSide, qty, fillPrice, markPrice decimal.Decimal) {
	pos, ok := e.positions[symbol]
	if !ok {
		pos = &types.Position{Symbol: symbol}
		e.positions[symbol] = pos
	}
	position.ApplyFill(pos, side, qty, fillPrice, markPrice, e.clock.Now())
}
