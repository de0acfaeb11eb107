package monitor

import (
	"context"
	"time"

	"github.com/streamkeep/corerec/internal/models"
)

// ProbeOutcome is one streamer's result within a batch Probe call.
// Exactly one of {Info populated, NotFound, Banned, Err != nil} applies.
type ProbeOutcome struct {
	Info     models.MediaInfo
	NotFound bool
	Banned   bool
	Err      error
}

// Prober is the platform-extractor collaborator (spec.md §6.1): given a
// batch of streamer IDs (size bounded by Config.MaxBatchSize), it
// returns each one's live-status snapshot. A non-nil overall error
// indicates the whole batch request failed at the transport level (use
// *RateLimitedError for HTTP 429); per-streamer failures that don't
// affect the rest of the batch are instead reported via
// ProbeOutcome.Err.
type Prober interface {
	Probe(ctx context.Context, streamerIDs []string) (map[string]ProbeOutcome, error)
}

// RateLimitedError signals the platform's HTTP 429 equivalent.
// RetryAfter is the server-advised wait; zero means none was given, so
// the Monitor falls back to its own jittered exponential backoff.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return "monitor: rate limited"
}
