package monitor

import (
	"time"

	"github.com/streamkeep/corerec/internal/models"
)

// StreamerState is one tracked streamer's position in the per-streamer
// state machine described in spec.md §4.13.
type StreamerState string

const (
	StateNotLive StreamerState = "not_live"
	StateLive    StreamerState = "live"

	// Terminal states: once reached, the streamer drops out of all future
	// probe batches. Add on the same id is a no-op and does not reset it.
	StateNotFound  StreamerState = "not_found"
	StateBanned    StreamerState = "banned"
	StateCancelled StreamerState = "cancelled"

	// Error states: transient (FatalError) or backed off
	// (TemporalDisabled); both remain eligible to recover back to
	// NotLive/Live on a later successful probe.
	StateFatalError       StreamerState = "fatal_error"
	StateTemporalDisabled StreamerState = "temporal_disabled"
)

func (s StreamerState) terminal() bool {
	return s == StateNotFound || s == StateBanned || s == StateCancelled
}

// StateEvent is emitted whenever a tracked streamer's state changes.
type StateEvent struct {
	StreamerID string
	From       StreamerState
	To         StreamerState
	Info       models.MediaInfo
	Timestamp  time.Time
}
