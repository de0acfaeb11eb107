// Package hlsstrategy implements writer.Strategy[Item], the HLS
// recording path: a sequence of TS or fMP4 segment payloads written to
// a single growing file, with an explicit end-of-stream marker (rather
// than a sequence-header change, as in flvstrategy) triggering the final
// rotation/close. A leading end marker with no payload ever written
// produces zero output files.
package hlsstrategy

import (
	"context"
	"time"

	"github.com/streamkeep/corerec/internal/storage"
	"github.com/streamkeep/corerec/internal/writer"
)

// Kind identifies what an Item carries.
type Kind int

const (
	// KindInit is an initialization segment (fMP4 "init.mp4", or a TS
	// PAT/PMT pair materialized as bytes); it contributes no media
	// duration.
	KindInit Kind = iota
	// KindSegment is a regular media segment and advances the strategy's
	// notion of playback duration by DurationSecs.
	KindSegment
	// KindEndMarker carries no payload; it signals that the current
	// output file should be finalized once at least one payload has
	// been written to it.
	KindEndMarker
)

// Item is one unit flowing through the HLS writer pipeline.
type Item struct {
	Kind         Kind
	Payload      []byte
	DurationSecs float64
}

// Strategy drives writer.Core[Item] for HLS output.
type Strategy struct {
	creator writer.SandboxCreator

	durationThisFile float64
	payloadsThisFile int64
}

// New returns a Strategy writing through sandbox.
func New(sandbox *storage.Sandbox) *Strategy {
	return &Strategy{creator: writer.SandboxCreator{Sandbox: sandbox}}
}

func (s *Strategy) CreateWriter(ctx context.Context, path string) (writer.Sink, error) {
	return s.creator.Create(path)
}

// RequiresFile implements writer.FileGate: a leading KindEndMarker with
// no payload written yet must not create an empty output file.
func (s *Strategy) RequiresFile(item Item) bool {
	return item.Kind != KindEndMarker || s.payloadsThisFile > 0
}

// WriteItem writes an Item's payload verbatim; KindEndMarker carries no
// bytes and is a no-op here (its rotation effect happens in
// AfterItemWritten). A KindInit payload that looks like an ISOBMFF init
// segment (fMP4 renditions) is sanity-checked for its required ftyp/moov
// boxes before being written; TS init segments (raw PAT/PMT bytes) don't
// match the ISOBMFF box shape and skip this check entirely.
func (s *Strategy) WriteItem(ctx context.Context, w writer.Sink, item Item) (int64, error) {
	if item.Kind == KindEndMarker || len(item.Payload) == 0 {
		return 0, nil
	}
	if item.Kind == KindInit && looksLikeISOBMFF(item.Payload) {
		if err := validateInitSegment(item.Payload); err != nil {
			return 0, err
		}
	}
	n, err := w.Write(item.Payload)
	return int64(n), err
}

// ShouldRotateFile never forces rotation ahead of an item. Size-based
// rotation is applied by writer.Core, and a KindEndMarker rotates via
// AfterItemWritten; an init segment does not start a new file.
func (s *Strategy) ShouldRotateFile(cfg writer.Config, state writer.State) bool {
	return false
}

func (s *Strategy) NextFilePath(cfg writer.Config, state writer.State) string {
	return writer.ExpandTemplate(cfg.PathTemplate, state.SequenceNumber, time.Now())
}

func (s *Strategy) OnFileOpen(ctx context.Context, w writer.Sink, path string, cfg writer.Config, state writer.State) (int64, error) {
	s.durationThisFile = 0
	s.payloadsThisFile = 0
	return 0, nil
}

func (s *Strategy) OnFileClose(ctx context.Context, w writer.Sink, path string, cfg writer.Config, state writer.State) (int64, error) {
	return 0, nil
}

// AfterItemWritten requests rotation on a KindEndMarker, but only once
// at least one payload has actually reached the current file — an end
// marker arriving before any segment (the very first item of a capture
// that immediately ends) must not create an empty file.
func (s *Strategy) AfterItemWritten(item Item, bytesWritten int64, state *writer.State) writer.Action {
	if item.Kind == KindSegment {
		s.durationThisFile += item.DurationSecs
	}
	if item.Kind != KindEndMarker {
		s.payloadsThisFile++
	}
	if item.Kind == KindEndMarker && s.payloadsThisFile > 0 {
		return writer.ActionRotate
	}
	return writer.ActionNone
}

func (s *Strategy) CurrentMediaDurationSecs(state writer.State) float64 {
	return s.durationThisFile
}
