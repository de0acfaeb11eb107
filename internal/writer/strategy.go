// Package writer implements WriterCore, a generic rotating-file sink
// pipeline shared by the FLV and HLS recording paths: it owns file
// rotation, collision-safe naming, and throttled progress reporting,
// while a Strategy[T] supplies the format-specific serialization.
package writer

import (
	"context"
	"time"
)

// Action is the per-item rotation signal a Strategy can return after
// writing an item.
type Action int

const (
	// ActionNone means no rotation is requested.
	ActionNone Action = iota
	// ActionRotate requests rotation before the next item is written.
	ActionRotate
)

// Sink is the minimal file-like destination a Strategy writes into.
// *os.File satisfies this.
type Sink interface {
	Write(p []byte) (int, error)
	Close() error
}

// State is the rotation/progress bookkeeping WriterCore exposes to a
// Strategy's hooks. It is owned by the single writer task driving
// WriterCore and must not be shared across goroutines.
type State struct {
	SequenceNumber       int
	ItemsWrittenTotal    int64
	ItemsWrittenThisFile int64
	BytesWrittenTotal    int64
	BytesWrittenThisFile int64
	CurrentFilePath      string
	FileOpenedAt         time.Time
}

// Config holds the rotation/naming/progress parameters common to every
// Strategy.
type Config struct {
	// PathTemplate is expanded per new file via ExpandTemplate: %i for
	// the sequence number and the strftime-style date/time tokens
	// %Y %m %d %H %M %S, plus %t for a Unix timestamp.
	PathTemplate string

	// MaxFileSize triggers rotation once BytesWrittenThisFile reaches
	// this many bytes and at least one item has been written. Zero
	// disables size-based rotation.
	MaxFileSize int64

	// ProgressMinInterval and ProgressMinBytes gate how often the
	// progress callback fires: both thresholds must be satisfied
	// since the last callback.
	ProgressMinInterval time.Duration
	ProgressMinBytes    int64
}

// Strategy supplies the format-specific behavior WriterCore drives. T is
// the item type flowing through the pipeline (an FLV tag, an HLS
// segment payload, etc).
type Strategy[T any] interface {
	// CreateWriter atomically creates (or truncates) the sink at path.
	CreateWriter(ctx context.Context, path string) (Sink, error)

	// WriteItem serializes item to w and returns the number of bytes
	// written.
	WriteItem(ctx context.Context, w Sink, item T) (int64, error)

	// ShouldRotateFile is consulted before each item is written; it
	// must never request rotation mid-item.
	ShouldRotateFile(cfg Config, state State) bool

	// NextFilePath names the next file, before collision-avoidance is
	// applied by WriterCore.
	NextFilePath(cfg Config, state State) string

	// OnFileOpen is called immediately after CreateWriter succeeds; it
	// may write a format prelude and returns the number of bytes it
	// wrote. The FLV strategy writes nothing here: its file header goes
	// out with the first tag.
	OnFileOpen(ctx context.Context, w Sink, path string, cfg Config, state State) (int64, error)

	// OnFileClose is called before a sink is closed (both on rotation
	// and on final shutdown); it may write trailing fixups and returns
	// the number of bytes it wrote.
	OnFileClose(ctx context.Context, w Sink, path string, cfg Config, state State) (int64, error)

	// AfterItemWritten is called after WriteItem and may request
	// rotation via ActionRotate (e.g. an FLV sequence header arriving mid-file,
	// or an HLS EndMarker).
	AfterItemWritten(item T, bytesWritten int64, state *State) Action

	// CurrentMediaDurationSecs reports the strategy's notion of playback
	// position in the current file, for progress reporting. It must be
	// monotone per file.
	CurrentMediaDurationSecs(state State) float64
}
