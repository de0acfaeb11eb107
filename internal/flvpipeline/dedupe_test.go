package flvpipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/streamkeep/corerec/pkg/flvcodec"
)

func videoTag(tsMS int32, data []byte) flvcodec.Tag {
	return flvcodec.Tag{Type: flvcodec.TagVideo, TimestampMS: tsMS, Data: data}
}

func TestDuplicateFilterKeepsFirstOccurrence(t *testing.T) {
	f := NewDuplicateFilter(8, 5000, true)
	assert.True(t, f.Keep(videoTag(0, []byte("frame-1"))))
}

func TestDuplicateFilterDropsExactRepeat(t *testing.T) {
	f := NewDuplicateFilter(8, 5000, true)
	tag := videoTag(100, []byte("frame-1"))
	assert.True(t, f.Keep(tag))
	assert.False(t, f.Keep(tag), "identical (type, timestamp, crc) must be dropped")
}

func TestDuplicateFilterKeepsDistinctTimestamps(t *testing.T) {
	f := NewDuplicateFilter(8, 5000, true)
	assert.True(t, f.Keep(videoTag(100, []byte("frame-1"))))
	assert.True(t, f.Keep(videoTag(133, []byte("frame-1"))), "same payload at a new timestamp is not a duplicate")
}

func TestDuplicateFilterEvictsOldestBeyondWindow(t *testing.T) {
	f := NewDuplicateFilter(2, 5000, true)
	first := videoTag(0, []byte("a"))
	assert.True(t, f.Keep(first))
	assert.True(t, f.Keep(videoTag(33, []byte("b"))))
	assert.True(t, f.Keep(videoTag(66, []byte("c"))))
	// window size 2: "a" has been evicted, so an identical resend is no
	// longer recognized as a duplicate.
	assert.True(t, f.Keep(first))
}

func TestDuplicateFilterReplayJumpFallsBackToLength(t *testing.T) {
	f := NewDuplicateFilter(8, 1000, true)
	assert.True(t, f.Keep(videoTag(50_000, []byte("abcdef"))))
	// a reconnect resets the clock: timestamp regresses by far more than
	// the threshold, so matching falls back to (type, length, crc)
	// instead of (type, timestamp, crc) — the same payload replayed
	// under the reset clock is still recognized as a duplicate.
	assert.False(t, f.Keep(videoTag(10, []byte("abcdef"))))
}

func TestDuplicateFilterReplayJumpWithoutLengthFallbackKeeps(t *testing.T) {
	f := NewDuplicateFilter(8, 1000, false)
	assert.True(t, f.Keep(videoTag(50_000, []byte("abcdef"))))
	// fallback disabled: matching still requires the timestamp to agree,
	// so the same payload under a reset clock reads as new.
	assert.True(t, f.Keep(videoTag(10, []byte("abcdef"))))
}
