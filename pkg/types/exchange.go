package types

import (
	"context"
	"time"
)

// Exchange is the exchange-client contract the core depends on. A live
// implementation (talking to a real venue) and the simulated implementation
// used for paper trading and backtests must be interchangeable behind this
// interface: the market-maker loop never type-switches on which one it has.
type Exchange interface {
	// GetOrderBook returns the current top-`limit` levels per side.
	GetOrderBook(ctx context.Context, symbol string, limit int) (*OrderBookSnapshot, error)

	// SubmitOrder sends a new order and returns it with an assigned
	// OrderID (and, for a simulated/paper venue, possibly already filled).
	SubmitOrder(ctx context.Context, order *Order) (*Order, error)

	// CancelOrder cancels a single resting order. Returns false if it was
	// already gone (filled, canceled, or unknown).
	CancelOrder(ctx context.Context, symbol, orderID string) (bool, error)

	// CancelAllOrders cancels every resting order for symbol, or for all
	// symbols when symbol is empty, and returns the count canceled.
	CancelAllOrders(ctx context.Context, symbol string) (int, error)

	// GetOpenOrders lists resting orders for symbol, or for all symbols
	// when symbol is empty.
	GetOpenOrders(ctx context.Context, symbol string) ([]*Order, error)

	// GetPositions lists current positions for symbol, or for all symbols
	// when symbol is empty.
	GetPositions(ctx context.Context, symbol string) ([]*Position, error)

	// GetTrades lists the most recent limit trades for symbol, or for all
	// symbols when symbol is empty.
	GetTrades(ctx context.Context, symbol string, limit int) ([]*Trade, error)

	// GetSymbolInfo returns the immutable trading-rule set for symbol.
	GetSymbolInfo(ctx context.Context, symbol string) (*SymbolConfig, error)

	// GetBalance returns the account balance for asset.
	GetBalance(ctx context.Context, asset string) (*Balance, error)

	// Close releases any held resources. Idempotent.
	Close() error
}

// MarketDataFeed pushes order-book updates for the subscribed symbols.
// Implementations may deliver either full snapshots or incremental diffs;
// callers distinguish them via the Diff field.
type MarketDataFeed interface {
	// Subscribe starts pushing updates for symbols onto the returned
	// channel. The channel is closed when ctx is done or the feed fails
	// permanently.
	Subscribe(ctx context.Context, symbols []string) (<-chan BookUpdate, error)
}

// BookUpdate is a single order-book event delivered by a MarketDataFeed.
// Exactly one of Snapshot or Diff is set.
type BookUpdate struct {
	Symbol   string
	Snapshot *OrderBookSnapshot
	Diff     *OrderBookDiff
}

// OrderBookDiff is an incremental update: entries with zero quantity
// remove the level at that price; all others insert-or-replace it.
type OrderBookDiff struct {
	Bids []OrderBookLevel
	Asks []OrderBookLevel
}

// Clock abstracts wall-clock time so the backtest driver can replay at a
// synthetic pace while the live/paper paths use the real clock.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock with the actual wall clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }
