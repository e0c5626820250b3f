package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order sides.
const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"
)

// Order status.
const (
	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusRejected        = "REJECTED"
	OrderStatusExpired         = "EXPIRED"
)

// Order type. The core only ever sends LIMIT; other values are accepted on
// the data model for interchangeability with a live exchange client.
const (
	OrderTypeLimit  = "LIMIT"
	OrderTypeMarket = "MARKET"
)

// Type aliases matching the teacher's convention of loose string typing for
// wire-adjacent enums instead of int-backed iota types.
type (
	OrderSide   = string
	OrderType   = string
	OrderStatus = string
)

// SymbolConfig is the immutable per-symbol trading-rule set the venue
// publishes: tick/step sizes and the base/quote asset pair.
type SymbolConfig struct {
	Symbol      string          `json:"symbol"`
	BaseAsset   string          `json:"base_asset"`
	QuoteAsset  string          `json:"quote_asset"`
	TickSize    decimal.Decimal `json:"tick_size"`
	StepSize    decimal.Decimal `json:"step_size"`
	MinQuantity decimal.Decimal `json:"min_quantity"`
	MinNotional decimal.Decimal `json:"min_notional"`
}

// OrderBookLevel is a single price/quantity rung of an order book side.
type OrderBookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderBookSnapshot is a full L2 view of one symbol's book at a point in
// time. Bids must be sorted strictly descending by price; asks strictly
// ascending. Callers never mutate a snapshot in place.
type OrderBookSnapshot struct {
	Symbol    string           `json:"symbol"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Timestamp time.Time        `json:"timestamp"`
}

// BestBid returns the highest bid level, or false if the book is empty on
// that side.
func (s *OrderBookSnapshot) BestBid() (OrderBookLevel, bool) {
	if len(s.Bids) == 0 {
		return OrderBookLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask level, or false if the book is empty on
// that side.
func (s *OrderBookSnapshot) BestAsk() (OrderBookLevel, bool) {
	if len(s.Asks) == 0 {
		return OrderBookLevel{}, false
	}
	return s.Asks[0], true
}

// Mid returns the arithmetic mean of best bid and best ask. ok is false if
// either side is empty.
func (s *OrderBookSnapshot) Mid() (decimal.Decimal, bool) {
	bb, ok1 := s.BestBid()
	ba, ok2 := s.BestAsk()
	if !ok1 || !ok2 {
		return decimal.Zero, false
	}
	return bb.Price.Add(ba.Price).Div(decimal.NewFromInt(2)), true
}

// Spread returns ask-bid. ok is false if either side is empty.
func (s *OrderBookSnapshot) Spread() (decimal.Decimal, bool) {
	bb, ok1 := s.BestBid()
	ba, ok2 := s.BestAsk()
	if !ok1 || !ok2 {
		return decimal.Zero, false
	}
	return ba.Price.Sub(bb.Price), true
}

// SpreadBps returns spread/mid * 10000. ok is false if mid is unavailable or
// zero.
func (s *OrderBookSnapshot) SpreadBps() (decimal.Decimal, bool) {
	spread, ok := s.Spread()
	if !ok {
		return decimal.Zero, false
	}
	mid, ok := s.Mid()
	if !ok || mid.IsZero() {
		return decimal.Zero, false
	}
	return spread.Div(mid).Mul(decimal.NewFromInt(10000)), true
}

// Order represents a single resting or historical limit order.
type Order struct {
	OrderID        string          `json:"order_id,omitempty"`
	ClientOrderID  string          `json:"client_order_id,omitempty"`
	Symbol         string          `json:"symbol"`
	Side           OrderSide       `json:"side"`
	Type           OrderType       `json:"type"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	Status         OrderStatus     `json:"status"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	FilledPrice    decimal.Decimal `json:"filled_price,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	UpdateTime     time.Time       `json:"update_time,omitempty"`
}

// IsOpen reports whether the order can still receive fills or a cancel.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusNew || o.Status == OrderStatusPartiallyFilled
}

// Trade is an immutable fill record.
type Trade struct {
	TradeID   string          `json:"trade_id"`
	OrderID   string          `json:"order_id"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Fee       decimal.Decimal `json:"fee"`
	IsMaker   bool            `json:"is_maker"`
	Timestamp time.Time       `json:"timestamp"`
}

// Notional returns price*quantity in quote currency.
func (t *Trade) Notional() decimal.Decimal {
	return t.Price.Mul(t.Quantity)
}

// Position is the per-symbol cost-basis accounting record. Quantity is
// signed: positive is long, negative is short. Cost is the signed dollar
// cost basis in quote currency; EntryPrice is derived, never stored
// independently.
type Position struct {
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	Cost         decimal.Decimal `json:"cost"`
	MarkPrice    decimal.Decimal `json:"mark_price"`
	UnrealizedPL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPL   decimal.Decimal `json:"realized_pnl"`
	Timestamp    time.Time       `json:"timestamp"`
}

// EntryPrice returns cost/quantity, and false when flat (quantity==0), in
// which case entry price is undefined.
func (p *Position) EntryPrice() (decimal.Decimal, bool) {
	if p.Quantity.IsZero() {
		return decimal.Zero, false
	}
	return p.Cost.Div(p.Quantity), true
}

// Notional returns |quantity| * mark price.
func (p *Position) Notional() decimal.Decimal {
	return p.Quantity.Abs().Mul(p.MarkPrice)
}

// Quote is a two-sided price/size pair produced by the pricing engine.
// Sizes carry no authoritative meaning: the market-maker loop always
// recomputes them from risk-scaled notional before submitting orders.
type Quote struct {
	Symbol    string          `json:"symbol"`
	BidPrice  decimal.Decimal `json:"bid_price"`
	BidSize   decimal.Decimal `json:"bid_size"`
	AskPrice  decimal.Decimal `json:"ask_price"`
	AskSize   decimal.Decimal `json:"ask_size"`
	Timestamp time.Time       `json:"timestamp"`
}

// Balance is a single-asset account balance, as reported by an exchange
// client (live or simulated).
type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}
