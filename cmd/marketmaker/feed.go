package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arcturus/perpmm/pkg/types"
)

// csvBookFeed implements types.MarketDataFeed by replaying recorded
// single-level order-book snapshots from one CSV file per symbol, found by
// glob under dataDir (grounded on the teacher's
// internal/backtest/data_provider.go FileDataProvider's
// glob-by-symbol-under-a-data-directory pattern, generalized from its
// multi-exchange MarketDataPoint rows down to the single-level snapshot
// shape this module's simulated exchange understands).
//
// Row format: timestamp(RFC3339),bid_price,bid_qty,ask_price,ask_qty
type csvBookFeed struct {
	dataDir string
	pace    time.Duration // real-time pacing between rows; 0 replays as fast as possible
}

func newCSVBookFeed(dataDir string, pace time.Duration) *csvBookFeed {
	return &csvBookFeed{dataDir: dataDir, pace: pace}
}

func (f *csvBookFeed) Subscribe(ctx context.Context, symbols []string) (<-chan types.BookUpdate, error) {
	files := make(map[string]string, len(symbols))
	for _, symbol := range symbols {
		matches, err := filepath.Glob(filepath.Join(f.dataDir, fmt.Sprintf("*%s*.csv", symbol)))
		if err != nil {
			return nil, fmt.Errorf("csvfeed: glob %s: %w", symbol, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("csvfeed: no order-book file found for %s under %s", symbol, f.dataDir)
		}
		files[symbol] = matches[0]
	}

	out := make(chan types.BookUpdate, 64)
	go func() {
		defer close(out)
		for _, symbol := range symbols {
			if err := f.replaySymbol(ctx, symbol, files[symbol], out); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}()
	return out, nil
}

func (f *csvBookFeed) replaySymbol(ctx context.Context, symbol, path string, out chan<- types.BookUpdate) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("csvfeed: open %s: %w", path, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	// A header row, if present, is skipped here: a first row whose first
	// field is not an RFC3339 timestamp is dropped (as is any later such
	// row), so recorded fixtures that carry a header line need no flag.
	first := true
	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		if len(record) < 5 {
			continue
		}
		if first {
			first = false
			if _, perr := time.Parse(time.RFC3339, record[0]); perr != nil {
				continue
			}
		}

		ts, err := time.Parse(time.RFC3339, record[0])
		if err != nil {
			continue
		}
		bidPrice, err1 := decimal.NewFromString(record[1])
		bidQty, err2 := decimal.NewFromString(record[2])
		askPrice, err3 := decimal.NewFromString(record[3])
		askQty, err4 := decimal.NewFromString(record[4])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}

		snap := &types.OrderBookSnapshot{
			Symbol:    symbol,
			Bids:      []types.OrderBookLevel{{Price: bidPrice, Quantity: bidQty}},
			Asks:      []types.OrderBookLevel{{Price: askPrice, Quantity: askQty}},
			Timestamp: ts,
		}

		select {
		case out <- types.BookUpdate{Symbol: symbol, Snapshot: snap}:
		case <-ctx.Done():
			return ctx.Err()
		}

		if f.pace > 0 {
			select {
			case <-time.After(f.pace):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// parsePaceFlag turns a millisecond count into a Duration, treating <=0 as
// "replay as fast as possible".
func parsePaceFlag(ms string) time.Duration {
	n, err := strconv.Atoi(ms)
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Millisecond
}
