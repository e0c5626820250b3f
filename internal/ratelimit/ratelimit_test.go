package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBucket_TryTake_ExhaustsAtCapacity(t *testing.T) {
	fixedNow := time.Now()
	b := NewBucket(1, 2)
	b.now = func() time.Time { return fixedNow }

	assert.True(t, b.TryTake())
	assert.True(t, b.TryTake())
	assert.False(t, b.TryTake(), "capacity of 2 tokens should be exhausted after two takes")
}

func TestBucket_RefillsOverTime(t *testing.T) {
	fixedNow := time.Now()
	b := NewBucket(10, 1) // 10/s, capacity 1
	b.now = func() time.Time { return fixedNow }

	assert.True(t, b.TryTake())
	assert.False(t, b.TryTake())

	fixedNow = fixedNow.Add(200 * time.Millisecond) // 2 tokens worth at 10/s, capped at 1
	assert.True(t, b.TryTake())
}

func TestBucket_Take_RespectsMaxWait(t *testing.T) {
	b := NewBucket(1, 1)
	assert.True(t, b.TryTake())

	ctx := context.Background()
	ok := b.Take(ctx, time.Millisecond) // next token is ~1s away, far beyond maxWait
	assert.False(t, ok)
}

func TestBucket_Take_SucceedsWithinMaxWait(t *testing.T) {
	b := NewBucket(1000, 1) // fast refill so the test doesn't sleep long
	assert.True(t, b.TryTake())

	ctx := context.Background()
	ok := b.Take(ctx, 50*time.Millisecond)
	assert.True(t, ok)
}

func TestNewLimiters_IndependentBuckets(t *testing.T) {
	l := NewLimiters(5, 2)
	assert.True(t, l.NewOrders.TryTake())
	assert.True(t, l.Cancels.TryTake())
}
