// Package flvstrategy implements writer.Strategy[flvcodec.Tag], the FLV
// recording path: a file header is stashed and only emitted once a real
// tag follows it (so an empty capture never produces a bare 13-byte
// file), a mid-stream sequence header triggers rotation into a new file,
// and when a file closes an onMetaData tag built from the running
// analyzer rollup is appended at its end. An onMetaData tag already in
// the file is not rewritten.
package flvstrategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/streamkeep/corerec/internal/analyzer"
	"github.com/streamkeep/corerec/internal/storage"
	"github.com/streamkeep/corerec/internal/writer"
	"github.com/streamkeep/corerec/pkg/flvcodec"
	"github.com/streamkeep/corerec/pkg/mediatypes"
)

// Strategy drives writer.Core[flvcodec.Tag] for FLV output. One Strategy
// instance is owned by a single writer task for the lifetime of a
// recording; its analyzer rollup is reset on every rotation.
type Strategy struct {
	creator writer.SandboxCreator
	logger  *slog.Logger

	pendingHeader *flvcodec.Header
	analyzer      *analyzer.Analyzer
	bytesThisFile int64
}

// New returns a Strategy writing through sandbox. logger defaults to
// slog.Default() if nil.
func New(sandbox *storage.Sandbox, logger *slog.Logger) *Strategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Strategy{
		creator:  writer.SandboxCreator{Sandbox: sandbox},
		logger:   logger,
		analyzer: analyzer.New(),
	}
}

// StashHeader records the file header to be emitted lazily, on the next
// call to WriteItem, rather than written eagerly on file open — this is
// what lets a header-only rotation (no tags followed) produce zero
// bytes beyond what OnFileOpen itself writes.
func (s *Strategy) StashHeader(h flvcodec.Header) {
	s.pendingHeader = &h
}

func (s *Strategy) CreateWriter(ctx context.Context, path string) (writer.Sink, error) {
	return s.creator.Create(path)
}

// WriteItem emits the stashed header (if any, and not yet flushed this
// file) immediately before the tag it precedes, then the tag itself,
// feeding the tag into the running analyzer rollup.
func (s *Strategy) WriteItem(ctx context.Context, w writer.Sink, item flvcodec.Tag) (int64, error) {
	var total int64

	if s.pendingHeader != nil {
		hdrBytes := flvcodec.MarshalHeader(*s.pendingHeader)
		n, err := w.Write(hdrBytes)
		if err != nil {
			s.bytesThisFile += int64(n)
			return int64(n), err
		}
		total += int64(n)
		s.pendingHeader = nil
	}

	tagOffset := s.bytesThisFile + total
	tagBytes := flvcodec.MarshalTag(item)
	n, err := w.Write(tagBytes)
	total += int64(n)
	s.bytesThisFile += total
	if err != nil {
		return total, err
	}

	s.analyzer.Ingest(item, tagOffset)
	return total, nil
}

// ShouldRotateFile never forces rotation ahead of an item; rotation is
// entirely item-signaled through AfterItemWritten.
func (s *Strategy) ShouldRotateFile(cfg writer.Config, state writer.State) bool {
	return false
}

func (s *Strategy) NextFilePath(cfg writer.Config, state writer.State) string {
	return writer.ExpandTemplate(cfg.PathTemplate, state.SequenceNumber, time.Now())
}

// OnFileOpen writes nothing directly: the file header is deferred to the
// first WriteItem call via the stashed-header mechanism, so a file that
// never receives a tag never grows past zero bytes.
func (s *Strategy) OnFileOpen(ctx context.Context, w writer.Sink, path string, cfg writer.Config, state writer.State) (int64, error) {
	s.analyzer.Reset()
	s.bytesThisFile = 0
	return 0, nil
}

// OnFileClose appends an onMetaData tag built from the analyzer's final
// rollup at the end of the file; an onMetaData tag written earlier in the
// file is left as it is. This is a best-effort operation: a failure to write it
// is logged but does not fail the close, since the recording itself
// (the tag stream) is already complete and correct on disk.
func (s *Strategy) OnFileClose(ctx context.Context, w writer.Sink, path string, cfg writer.Config, state writer.State) (int64, error) {
	stats := s.analyzer.Stats()

	times := make([]float64, len(stats.Keyframes))
	positions := make([]float64, len(stats.Keyframes))
	for i, kf := range stats.Keyframes {
		times[i] = kf.Seconds
		positions[i] = float64(kf.ByteOffset)
	}
	kfIndex := flvcodec.KeyframeIndex{Times: times, FilePositions: positions}

	meta := map[string]flvcodec.AMF0Value{
		"duration":      stats.DurationSeconds(),
		"videocodecid":  float64(mediatypes.FLVCodecIDFromVideo(stats.VideoCodec)),
		"audiocodecid":  float64(mediatypes.FLVCodecIDFromAudio(stats.AudioCodec)),
		"width":         float64(stats.Width),
		"height":        float64(stats.Height),
		"videodatarate": stats.BitrateBitsPerSecond() / 1000,
		"framerate":     stats.FrameRate(),
	}
	meta["keyframes"] = kfIndex.ToAMF0()

	tag := flvcodec.OnMetaDataTag(meta, 0)
	n, err := w.Write(flvcodec.MarshalTag(tag))
	if err != nil {
		s.logger.Warn("flvstrategy: failed writing onMetaData on close",
			slog.String("path", path), slog.Any("error", err))
		return 0, nil
	}
	return int64(n), nil
}

// AfterItemWritten requests rotation when a sequence header arrives
// mid-file after at least one tag has already landed: this marks a
// codec/resolution change the analyzer's rollup can't represent within a
// single file's onMetaData block.
func (s *Strategy) AfterItemWritten(item flvcodec.Tag, bytesWritten int64, state *writer.State) writer.Action {
	if state.ItemsWrittenThisFile <= 1 {
		return writer.ActionNone
	}
	if flvcodec.IsVideoSequenceHeader(item) || flvcodec.IsAudioSequenceHeader(item) {
		return writer.ActionRotate
	}
	return writer.ActionNone
}

func (s *Strategy) CurrentMediaDurationSecs(state writer.State) float64 {
	return s.analyzer.Stats().DurationSeconds()
}
