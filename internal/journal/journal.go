// Package journal persists the trade log, a minimal state.json recovery
// record, and the end-of-session summary to disk (spec §6 Persisted state;
// supplemented by original_source/src/monitoring/journal.py's per-symbol
// summary). Grounded on the teacher's pkg/storage/file_storage.go: plain
// os/encoding-json file writes under a directory tree created on demand,
// no third-party persistence library in the pack covers this narrow a need
// better than the standard library.
package journal

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arcturus/perpmm/pkg/types"
)

const tradesFileName = "trades.csv"

var tradesHeader = []string{"timestamp", "trade_id", "order_id", "symbol", "side", "quantity", "price", "fee", "is_maker"}

// Journal writes trades.csv, state.json, and summary.md under dir.
type Journal struct {
	mu sync.Mutex

	dir                 string
	suppressTrades      bool // dry_run mode: no real capital, no trade-history pollution
	tradesFile          *os.File
	tradesWriter        *csv.Writer
	tradesHeaderWritten bool
	seenTradeIDs        map[string]bool

	initialEquity decimal.Decimal
	startedAt     time.Time

	symbolTotals map[string]*SymbolSummary
}

// recoveryState is the minimal state.json payload: just enough to reconstruct
// equity accounting across a restart into the same run directory.
type recoveryState struct {
	InitialEquity decimal.Decimal `json:"initial_equity"`
	StartedAt     time.Time       `json:"started_at"`
}

// SymbolSummary aggregates one symbol's activity for the session summary.
type SymbolSummary struct {
	Symbol       string
	BuyVolume    decimal.Decimal
	SellVolume   decimal.Decimal
	TradeCount   int
	RealizedPL   decimal.Decimal
	UnrealizedPL decimal.Decimal
}

// Open prepares dir (creating it if needed), writes the minimal state.json
// recovery record, and, unless suppressTrades is set, opens trades.csv for
// appending — loading any trade_ids already present so a restart into the
// same run directory doesn't duplicate rows.
func Open(dir string, suppressTrades bool, initialEquity decimal.Decimal, startedAt time.Time) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("journal: create dir %s: %w", dir, err)
	}

	j := &Journal{
		dir:            dir,
		suppressTrades: suppressTrades,
		seenTradeIDs:   make(map[string]bool),
		initialEquity:  initialEquity,
		startedAt:      startedAt,
		symbolTotals:   make(map[string]*SymbolSummary),
	}

	if err := j.WriteState(); err != nil {
		return nil, err
	}

	if suppressTrades {
		return j, nil
	}

	path := filepath.Join(dir, tradesFileName)
	existed := fileExists(path)
	if existed {
		ids, err := loadTradeIDs(path)
		if err != nil {
			return nil, fmt.Errorf("journal: read existing %s: %w", path, err)
		}
		j.seenTradeIDs = ids
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	j.tradesFile = f
	j.tradesWriter = csv.NewWriter(f)
	if existed {
		j.tradesHeaderWritten = true
	}
	return j, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

// loadTradeIDs reads the trade_id column of an existing trades.csv so
// RecordTrade can dedup against it after a restart into the same directory.
func loadTradeIDs(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ids := make(map[string]bool)
	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if i == 0 || len(row) < 2 {
			continue // header row
		}
		ids[row[1]] = true
	}
	return ids, nil
}

// RecordTrade appends a fill row to trades.csv (a no-op in dry_run mode),
// skipping trade_ids already written (append-only with dedup, spec §6) —
// and folds it into the in-memory per-symbol summary regardless of mode.
func (j *Journal) RecordTrade(trade *types.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.seenTradeIDs[trade.TradeID] {
		return nil
	}
	j.seenTradeIDs[trade.TradeID] = true

	sum, ok := j.symbolTotals[trade.Symbol]
	if !ok {
		sum = &SymbolSummary{Symbol: trade.Symbol}
		j.symbolTotals[trade.Symbol] = sum
	}
	sum.TradeCount++
	if trade.Side == types.OrderSideBuy {
		sum.BuyVolume = sum.BuyVolume.Add(trade.Quantity)
	} else {
		sum.SellVolume = sum.SellVolume.Add(trade.Quantity)
	}

	if j.suppressTrades {
		return nil
	}

	if !j.tradesHeaderWritten {
		if err := j.tradesWriter.Write(tradesHeader); err != nil {
			return fmt.Errorf("journal: write trades header: %w", err)
		}
		j.tradesHeaderWritten = true
	}

	row := []string{
		trade.Timestamp.UTC().Format(time.RFC3339Nano),
		trade.TradeID,
		trade.OrderID,
		trade.Symbol,
		trade.Side,
		trade.Quantity.String(),
		trade.Price.String(),
		trade.Fee.String(),
		fmt.Sprintf("%t", trade.IsMaker),
	}
	if err := j.tradesWriter.Write(row); err != nil {
		return fmt.Errorf("journal: write trade row: %w", err)
	}
	j.tradesWriter.Flush()
	return j.tradesWriter.Error()
}

// UpdatePositionTotals folds each position's realized/unrealized PnL into
// the per-symbol summary, replacing the previous reading (positions are
// cumulative state, not incremental events).
func (j *Journal) UpdatePositionTotals(positions []*types.Position) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, p := range positions {
		sum, ok := j.symbolTotals[p.Symbol]
		if !ok {
			sum = &SymbolSummary{Symbol: p.Symbol}
			j.symbolTotals[p.Symbol] = sum
		}
		sum.RealizedPL = p.RealizedPL
		sum.UnrealizedPL = p.UnrealizedPL
	}
}

// WriteState overwrites state.json with the minimal recovery record —
// initial_equity and started_at (spec §6) — distinct from the richer
// metrics.Snapshot served over Prometheus and folded into summary.md.
// Neither field changes after Open, so repeated calls are idempotent; it's
// safe to call again on every report tick.
func (j *Journal) WriteState() error {
	j.mu.Lock()
	state := recoveryState{InitialEquity: j.initialEquity, StartedAt: j.startedAt}
	j.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: marshal state: %w", err)
	}
	path := filepath.Join(j.dir, "state.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("journal: write %s: %w", path, err)
	}
	return nil
}

// WriteSummary writes summary.md on shutdown: per-symbol buy/sell volume
// and trade counts, realized/unrealized PnL, in the teacher's
// human-readable report style.
func (j *Journal) WriteSummary(sessionStart, sessionEnd time.Time) error {
	j.mu.Lock()
	symbols := make([]string, 0, len(j.symbolTotals))
	for s := range j.symbolTotals {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var totalRealized, totalUnrealized decimal.Decimal
	lines := []string{
		"# Session summary",
		"",
		fmt.Sprintf("Start: %s", sessionStart.UTC().Format(time.RFC3339)),
		fmt.Sprintf("End: %s", sessionEnd.UTC().Format(time.RFC3339)),
		"",
		"| Symbol | Trades | Buy Vol | Sell Vol | Realized PnL | Unrealized PnL |",
		"|---|---|---|---|---|---|",
	}
	for _, s := range symbols {
		sum := j.symbolTotals[s]
		lines = append(lines, fmt.Sprintf("| %s | %d | %s | %s | %s | %s |",
			sum.Symbol, sum.TradeCount, sum.BuyVolume.String(), sum.SellVolume.String(),
			sum.RealizedPL.String(), sum.UnrealizedPL.String()))
		totalRealized = totalRealized.Add(sum.RealizedPL)
		totalUnrealized = totalUnrealized.Add(sum.UnrealizedPL)
	}
	lines = append(lines, "",
		fmt.Sprintf("Total realized PnL: %s", totalRealized.String()),
		fmt.Sprintf("Total unrealized PnL: %s", totalUnrealized.String()),
		"")
	j.mu.Unlock()

	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	path := filepath.Join(j.dir, "summary.md")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("journal: write %s: %w", path, err)
	}
	return nil
}

// Close flushes and closes the trades file, if open.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.tradesWriter != nil {
		j.tradesWriter.Flush()
	}
	if j.tradesFile != nil {
		return j.tradesFile.Close()
	}
	return nil
}
