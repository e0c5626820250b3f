package exchangeclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcturus/perpmm/pkg/types"
)

// stubExchange lets tests script GetBalance's behavior across calls.
type stubExchange struct {
	balanceFn func(call int) (*types.Balance, error)
	calls     int
}

func (s *stubExchange) GetOrderBook(context.Context, string, int) (*types.OrderBookSnapshot, error) {
	return nil, nil
}
func (s *stubExchange) SubmitOrder(context.Context, *types.Order) (*types.Order, error) { return nil, nil }
func (s *stubExchange) CancelOrder(context.Context, string, string) (bool, error)        { return false, nil }
func (s *stubExchange) CancelAllOrders(context.Context, string) (int, error)             { return 0, nil }
func (s *stubExchange) GetOpenOrders(context.Context, string) ([]*types.Order, error)    { return nil, nil }
func (s *stubExchange) GetPositions(context.Context, string) ([]*types.Position, error)  { return nil, nil }
func (s *stubExchange) GetTrades(context.Context, string, int) ([]*types.Trade, error)   { return nil, nil }
func (s *stubExchange) GetSymbolInfo(context.Context, string) (*types.SymbolConfig, error) {
	return nil, nil
}
func (s *stubExchange) Close() error { return nil }

func (s *stubExchange) GetBalance(ctx context.Context, asset string) (*types.Balance, error) {
	s.calls++
	return s.balanceFn(s.calls)
}

func TestClient_RetriesTransportErrorThenSucceeds(t *testing.T) {
	stub := &stubExchange{
		balanceFn: func(call int) (*types.Balance, error) {
			if call < 3 {
				return nil, NewTransportError("get_balance", errors.New("timeout"))
			}
			return &types.Balance{Asset: "USDT", Free: decimal.NewFromInt(100)}, nil
		},
	}
	cfg := DefaultConfig()
	cfg.MaxElapsedTime = time.Second
	client := Wrap(stub, cfg)

	bal, err := client.GetBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.True(t, bal.Free.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 3, stub.calls)
}

func TestClient_DoesNotRetryNonTransportError(t *testing.T) {
	wantErr := errors.New("insufficient balance")
	stub := &stubExchange{
		balanceFn: func(call int) (*types.Balance, error) { return nil, wantErr },
	}
	client := Wrap(stub, DefaultConfig())

	_, err := client.GetBalance(context.Background(), "USDT")
	require.Error(t, err)
	assert.Equal(t, 1, stub.calls, "a non-transport error must not be retried")
}

func TestClient_CircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	stub := &stubExchange{
		balanceFn: func(call int) (*types.Balance, error) {
			return nil, NewTransportError("get_balance", errors.New("down"))
		},
	}
	cfg := Config{MaxElapsedTime: 10 * time.Millisecond, BreakerThreshold: 2, BreakerTimeout: time.Minute}
	client := Wrap(stub, cfg)

	_, err1 := client.GetBalance(context.Background(), "USDT")
	require.Error(t, err1)
	_, err2 := client.GetBalance(context.Background(), "USDT")
	require.Error(t, err2)

	callsBeforeOpen := stub.calls
	_, err3 := client.GetBalance(context.Background(), "USDT")
	require.Error(t, err3)
	assert.Equal(t, callsBeforeOpen, stub.calls, "breaker open: underlying must not be called again")
}
