package hls

import "time"

// GapSkipKind identifies a gap-skip strategy, per spec.md §4.10.
type GapSkipKind string

const (
	GapSkipWaitIndefinitely GapSkipKind = "wait_indefinitely"
	GapSkipAfterCount       GapSkipKind = "skip_after_count"
	GapSkipAfterDuration    GapSkipKind = "skip_after_duration"
	GapSkipAfterBoth        GapSkipKind = "skip_after_both"
)

// GapSkipPolicy configures when the reorder buffer gives up waiting for
// a missing MSN and emits ahead of it.
type GapSkipPolicy struct {
	Kind     GapSkipKind
	Count    int           // SkipAfterCount / SkipAfterBoth: newer segments observed
	Duration time.Duration // SkipAfterDuration / SkipAfterBoth: elapsed since gap opened
}

// DefaultLivePolicy is the spec.md-documented live default:
// SkipAfterBoth{10, 5s}.
func DefaultLivePolicy() GapSkipPolicy {
	return GapSkipPolicy{Kind: GapSkipAfterBoth, Count: 10, Duration: 5 * time.Second}
}

// DefaultVODPolicy is the spec.md-documented VOD default:
// WaitIndefinitely (a VOD playlist's full segment set is already known,
// so there is never a genuine gap to skip past).
func DefaultVODPolicy() GapSkipPolicy {
	return GapSkipPolicy{Kind: GapSkipWaitIndefinitely}
}

// ShouldSkip reports whether a gap at the expected MSN should be
// skipped, given how many strictly-newer segments have completed since
// the gap opened (newerCount) and how long the gap has been open
// (elapsed).
func (p GapSkipPolicy) ShouldSkip(newerCount int, elapsed time.Duration) bool {
	switch p.Kind {
	case GapSkipAfterCount:
		return p.Count > 0 && newerCount >= p.Count
	case GapSkipAfterDuration:
		return p.Duration > 0 && elapsed >= p.Duration
	case GapSkipAfterBoth:
		return (p.Count > 0 && newerCount >= p.Count) || (p.Duration > 0 && elapsed >= p.Duration)
	case GapSkipWaitIndefinitely:
		fallthrough
	default:
		return false
	}
}

// ParseGapSkipKind maps config.HLSConfig.GapSkipStrategy's string value
// onto a GapSkipKind.
func ParseGapSkipKind(s string) GapSkipKind {
	switch GapSkipKind(s) {
	case GapSkipAfterCount, GapSkipAfterDuration, GapSkipAfterBoth:
		return GapSkipKind(s)
	default:
		return GapSkipWaitIndefinitely
	}
}
