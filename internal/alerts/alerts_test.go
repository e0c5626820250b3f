package alerts

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/arcturus/perpmm/internal/metrics"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEvaluateSnapshot_SoftDailyLossAlert(t *testing.T) {
	var messages []string
	m := NewManager(DefaultThresholds(), func(msg string) { messages = append(messages, msg) })

	snap := metrics.Snapshot{Timestamp: time.Now(), DailyPnL: d("-10")}
	m.EvaluateSnapshot(snap, d("1000")) // -1% > 0.5% soft threshold

	assert.NotEmpty(t, messages)
	assert.Contains(t, messages[0], "soft daily loss")
}

func TestEvaluateSnapshot_NoAlertBelowThreshold(t *testing.T) {
	var messages []string
	m := NewManager(DefaultThresholds(), func(msg string) { messages = append(messages, msg) })

	snap := metrics.Snapshot{Timestamp: time.Now(), DailyPnL: d("-1")}
	m.EvaluateSnapshot(snap, d("1000")) // -0.1%, below 0.5% soft threshold

	assert.Empty(t, messages)
}

func TestEvaluateSnapshot_KillSwitchAlertsOnce(t *testing.T) {
	var messages []string
	m := NewManager(DefaultThresholds(), func(msg string) { messages = append(messages, msg) })

	snap := metrics.Snapshot{KillSwitchActive: true, KillSwitchReason: "daily loss limit exceeded"}
	m.EvaluateSnapshot(snap, d("1000"))
	m.EvaluateSnapshot(snap, d("1000"))

	count := 0
	for _, msg := range messages {
		if msg == "kill-switch triggered: daily loss limit exceeded" {
			count++
		}
	}
	assert.Equal(t, 1, count, "kill-switch alert must not repeat every snapshot")
}

func TestRecordTradeOutcome_ConsecutiveLossStreak(t *testing.T) {
	var messages []string
	thresholds := DefaultThresholds()
	thresholds.ConsecutiveLossCount = 3
	m := NewManager(thresholds, func(msg string) { messages = append(messages, msg) })

	m.RecordTradeOutcome(d("-1"))
	m.RecordTradeOutcome(d("-1"))
	assert.Empty(t, messages)
	m.RecordTradeOutcome(d("-1"))
	assert.Len(t, messages, 1)
	assert.Contains(t, messages[0], "consecutive loss streak")

	m.RecordTradeOutcome(d("2")) // win resets the streak
	m.RecordTradeOutcome(d("-1"))
	m.RecordTradeOutcome(d("-1"))
	assert.Len(t, messages, 1, "streak was reset by the winning trade")
}
