// Package exchangeclient wraps a types.Exchange with bounded retry and
// circuit breaking so a transient venue failure (spec §7's TransportError)
// degrades gracefully instead of wedging the market-maker loop. The
// simulated exchange never needs this wrapper — it is for the live venue
// adapter only, but implements the same interface so callers never care
// which one they were handed.
package exchangeclient

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/arcturus/perpmm/pkg/types"
)

// TransportError marks an error as a transient, retryable failure (network
// timeout, 5xx, connection reset) as opposed to a rejection the venue
// returned deliberately (insufficient balance, invalid price) which must
// never be retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return "exchangeclient: " + e.Op + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err as a TransportError for op.
func NewTransportError(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

// IsTransportError reports whether err (or anything it wraps) is a
// TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Config tunes the retry/circuit-breaker behavior.
type Config struct {
	MaxElapsedTime   time.Duration // bound on cumulative retry time; default 5s
	BreakerThreshold uint32        // consecutive failures before the breaker opens; default 5
	BreakerTimeout   time.Duration // how long the breaker stays open before probing; default 30s
}

// DefaultConfig returns sane defaults for a quote-cycle-latency-sensitive
// caller: retries must not stall the loop for long.
func DefaultConfig() Config {
	return Config{
		MaxElapsedTime:   5 * time.Second,
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
	}
}

// Client wraps an underlying types.Exchange, retrying TransportErrors with
// exponential backoff (bounded by MaxElapsedTime) behind a circuit breaker
// that trips after BreakerThreshold consecutive failures.
type Client struct {
	underlying types.Exchange
	breaker    *gobreaker.CircuitBreaker[any]
	cfg        Config
	logger     *logrus.Entry
}

// Wrap returns a Client delegating to underlying.
func Wrap(underlying types.Exchange, cfg Config) *Client {
	logger := logrus.WithField("component", "exchange-client")

	settings := gobreaker.Settings{
		Name:        "exchange-client",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("circuit breaker %s: %s -> %s", name, from, to)
		},
	}

	return &Client{
		underlying: underlying,
		breaker:    gobreaker.NewCircuitBreaker[any](settings),
		cfg:        cfg,
		logger:     logger,
	}
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.cfg.MaxElapsedTime
	return backoff.WithContext(b, ctx)
}

// call runs fn through the circuit breaker, retrying only while fn returns
// a TransportError, up to MaxElapsedTime.
func call[T any](c *Client, ctx context.Context, fn func() (T, error)) (T, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		var out T
		op := func() error {
			var innerErr error
			out, innerErr = fn()
			if innerErr != nil && IsTransportError(innerErr) {
				return innerErr
			}
			if innerErr != nil {
				return backoff.Permanent(innerErr)
			}
			return nil
		}
		if err := backoff.Retry(op, c.retryPolicy(ctx)); err != nil {
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				return out, perm.Err
			}
			return out, err
		}
		return out, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

func (c *Client) GetOrderBook(ctx context.Context, symbol string, limit int) (*types.OrderBookSnapshot, error) {
	return call(c, ctx, func() (*types.OrderBookSnapshot, error) { return c.underlying.GetOrderBook(ctx, symbol, limit) })
}

func (c *Client) SubmitOrder(ctx context.Context, order *types.Order) (*types.Order, error) {
	return call(c, ctx, func() (*types.Order, error) { return c.underlying.SubmitOrder(ctx, order) })
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	return call(c, ctx, func() (bool, error) { return c.underlying.CancelOrder(ctx, symbol, orderID) })
}

func (c *Client) CancelAllOrders(ctx context.Context, symbol string) (int, error) {
	return call(c, ctx, func() (int, error) { return c.underlying.CancelAllOrders(ctx, symbol) })
}

func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]*types.Order, error) {
	return call(c, ctx, func() ([]*types.Order, error) { return c.underlying.GetOpenOrders(ctx, symbol) })
}

func (c *Client) GetPositions(ctx context.Context, symbol string) ([]*types.Position, error) {
	return call(c, ctx, func() ([]*types.Position, error) { return c.underlying.GetPositions(ctx, symbol) })
}

func (c *Client) GetTrades(ctx context.Context, symbol string, limit int) ([]*types.Trade, error) {
	return call(c, ctx, func() ([]*types.Trade, error) { return c.underlying.GetTrades(ctx, symbol, limit) })
}

func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (*types.SymbolConfig, error) {
	return call(c, ctx, func() (*types.SymbolConfig, error) { return c.underlying.GetSymbolInfo(ctx, symbol) })
}

func (c *Client) GetBalance(ctx context.Context, asset string) (*types.Balance, error) {
	return call(c, ctx, func() (*types.Balance, error) { return c.underlying.GetBalance(ctx, asset) })
}

func (c *Client) Close() error { return c.underlying.Close() }

var _ types.Exchange = (*Client)(nil)
