package hls

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReorderBufferEmitsInOrderDespiteOutOfOrderCompletion(t *testing.T) {
	rb := NewReorderBuffer[string](DefaultVODPolicy(), 0)
	defer rb.Close()

	assert.NoError(t, rb.Complete(2, "c"))
	assert.NoError(t, rb.Complete(0, "a"))
	assert.NoError(t, rb.Complete(1, "b"))

	items, msns, skipped := rb.Drain(time.Now())
	assert.Equal(t, []string{"a", "b", "c"}, items)
	assert.Equal(t, []uint64{0, 1, 2}, msns)
	assert.Empty(t, skipped)
}

func TestReorderBufferWaitsIndefinitelyOnGapUnderVODPolicy(t *testing.T) {
	rb := NewReorderBuffer[string](DefaultVODPolicy(), 0)
	defer rb.Close()

	assert.NoError(t, rb.Complete(0, "a"))
	assert.NoError(t, rb.Complete(2, "c"))

	items, _, skipped := rb.Drain(time.Now())
	assert.Equal(t, []string{"a"}, items)
	assert.Empty(t, skipped)
	assert.Equal(t, 1, rb.BufferedCount())
}

func TestReorderBufferSkipsAfterCountUnderLivePolicy(t *testing.T) {
	rb := NewReorderBuffer[string](GapSkipPolicy{Kind: GapSkipAfterCount, Count: 2}, 0)
	defer rb.Close()

	assert.NoError(t, rb.Complete(0, "a"))
	assert.NoError(t, rb.Complete(1, "b"))
	assert.NoError(t, rb.Complete(3, "d"))
	assert.NoError(t, rb.Complete(4, "e"))

	items, msns, skipped := rb.Drain(time.Now())
	assert.Equal(t, []string{"a", "b", "d", "e"}, items)
	assert.Equal(t, []uint64{0, 1, 3, 4}, msns)
	assert.Equal(t, []uint64{2}, skipped)
}

func TestReorderBufferSkipsAfterDurationUnderLivePolicy(t *testing.T) {
	rb := NewReorderBuffer[string](GapSkipPolicy{Kind: GapSkipAfterDuration, Duration: time.Second}, 0)
	defer rb.Close()

	start := time.Now()
	assert.NoError(t, rb.Complete(0, "a"))
	assert.NoError(t, rb.Complete(2, "c"))

	items, _, skipped := rb.Drain(start)
	assert.Equal(t, []string{"a"}, items)
	assert.Empty(t, skipped)

	items, msns, skipped := rb.Drain(start.Add(2 * time.Second))
	assert.Equal(t, []string{"c"}, items)
	assert.Equal(t, []uint64{2}, msns)
	assert.Equal(t, []uint64{1}, skipped)
}

func TestReorderBufferSpillsToDiskBeyondInMemoryCap(t *testing.T) {
	rb := NewReorderBuffer[string](DefaultVODPolicy(), 1)
	defer rb.Close()

	assert.NoError(t, rb.Complete(5, "f"))
	assert.NoError(t, rb.Complete(6, "g"))
	assert.NoError(t, rb.Complete(7, "h"))
	assert.Equal(t, 3, rb.BufferedCount())

	rb2 := NewReorderBuffer[string](DefaultVODPolicy(), 1)
	defer rb2.Close()
	assert.NoError(t, rb2.Complete(0, "a"))
	assert.NoError(t, rb2.Complete(1, "b"))
	assert.NoError(t, rb2.Complete(2, "c"))
	items, msns, _ := rb2.Drain(time.Now())
	assert.Equal(t, []string{"a", "b", "c"}, items)
	assert.Equal(t, []uint64{0, 1, 2}, msns)
}

func TestReorderBufferDuplicateCompletionIgnored(t *testing.T) {
	rb := NewReorderBuffer[string](DefaultVODPolicy(), 0)
	defer rb.Close()

	assert.NoError(t, rb.Complete(0, "a"))
	assert.NoError(t, rb.Complete(0, "a-retry"))

	items, _, _ := rb.Drain(time.Now())
	assert.Equal(t, []string{"a"}, items)
}

func TestReorderBufferNextExpectedBeforeAnyCompletion(t *testing.T) {
	rb := NewReorderBuffer[string](DefaultVODPolicy(), 0)
	defer rb.Close()

	_, have := rb.NextExpected()
	assert.False(t, have)
}
