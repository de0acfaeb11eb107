package danmu

import "errors"

// ErrNoActiveSegment is returned when EndSegment is called with no
// segment currently open, or when a message arrives before the first
// StartSegment. Stop with no open segment returns nil instead.
var ErrNoActiveSegment = errors.New("danmu: no active segment")

// ErrSegmentAlreadyActive reports that a segment is already open.
// StartSegment does not return it: starting a segment while another is
// open flushes and finalizes the open one first.
var ErrSegmentAlreadyActive = errors.New("danmu: segment already active")
