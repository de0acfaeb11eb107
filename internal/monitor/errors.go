package monitor

import "errors"

// ErrUnknownStreamer is returned by operations addressing a streamer id
// the Monitor isn't currently tracking.
var ErrUnknownStreamer = errors.New("monitor: unknown streamer")

// ErrAlreadyTracked reports that a streamer id is already tracked. Add
// does not return it: adding an id that is already tracked is a no-op.
var ErrAlreadyTracked = errors.New("monitor: streamer already tracked")
