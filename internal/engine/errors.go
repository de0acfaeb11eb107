package engine

import "errors"

// ErrBinaryNotFound is returned when an adapter's external binary (ffmpeg,
// streamlink) cannot be located via internal/util.FindBinary.
var ErrBinaryNotFound = errors.New("engine: binary not found")

// ErrUnsupportedKind is returned by New when the configured engine kind
// does not match any known adapter.
var ErrUnsupportedKind = errors.New("engine: unsupported kind")

// ErrNotRunning is returned by Wait/Stop when called on an Adapter that
// was never successfully started.
var ErrNotRunning = errors.New("engine: not running")
