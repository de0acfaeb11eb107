package flvpipeline

import "errors"

// ErrDemuxFailed wraps a parse failure surfaced by the optional demux
// stage when fed malformed raw bytes.
var ErrDemuxFailed = errors.New("flvpipeline: demux failed")
