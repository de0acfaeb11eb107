package hls

import "errors"

// ErrInvalidPlaylist is returned when a playlist fails to parse into a
// sensible master or media structure.
var ErrInvalidPlaylist = errors.New("hls: invalid playlist")

// ErrNoVariantMatched is returned by SelectVariant when no variant in a
// master playlist satisfies the configured selection policy.
var ErrNoVariantMatched = errors.New("hls: no variant matched selection policy")

// ErrStalled is returned by Run when no segment has been emitted for
// longer than the configured overall stall duration.
var ErrStalled = errors.New("hls: stream stalled")

// ErrCancelled names a cancelled download. Run does not return it: a
// cancelled Run returns a *FailedError with Kind FailedCancelled that
// wraps the cancellation error.
var ErrCancelled = errors.New("hls: cancelled")
