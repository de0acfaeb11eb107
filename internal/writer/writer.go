package writer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/renameio/v2"

	"github.com/streamkeep/corerec/internal/storage"
)

// atomicSink adapts a renameio pending file to Sink: Close commits the
// replace, so a reader never observes a partially written file even if
// the process is killed mid-write.
type atomicSink struct {
	pending *renameio.PendingFile
}

func (a *atomicSink) Write(p []byte) (int, error) { return a.pending.Write(p) }

func (a *atomicSink) Close() error {
	return a.pending.CloseAtomicallyReplace()
}

// SandboxCreator builds Sinks rooted at a storage.Sandbox, giving every
// Strategy atomic, path-traversal-safe file creation without having to
// know about renameio itself.
type SandboxCreator struct {
	Sandbox *storage.Sandbox
}

// Create opens an atomic Sink at relativePath within the sandbox.
func (c SandboxCreator) Create(relativePath string) (Sink, error) {
	pending, err := c.Sandbox.CreateAtomicSink(relativePath)
	if err != nil {
		return nil, err
	}
	return &atomicSink{pending: pending}, nil
}

// Core drives a Strategy[T] through the open/write/rotate/close
// lifecycle: it owns rotation policy, collision-safe naming, and
// throttled progress reporting, while the Strategy supplies
// format-specific serialization and sink creation.
type Core[T any] struct {
	cfg        Config
	strategy   Strategy[T]
	sandbox    *storage.Sandbox
	logger     *slog.Logger
	onProgress ProgressFunc

	state State
	sink  Sink

	throttle        *progressThrottle
	prevSpeedBytes  int64
	prevSpeedTime   time.Time
	haveSpeedSample bool
}

// NewCore constructs a Core for strategy. sandbox is used only to
// resolve collision-avoidance existence checks against the same root the
// Strategy's CreateWriter writes into; logger defaults to
// slog.Default() if nil.
func NewCore[T any](cfg Config, strategy Strategy[T], sandbox *storage.Sandbox, logger *slog.Logger, onProgress ProgressFunc) *Core[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Core[T]{
		cfg:        cfg,
		strategy:   strategy,
		sandbox:    sandbox,
		logger:     logger,
		onProgress: onProgress,
		throttle:   newProgressThrottle(cfg.ProgressMinInterval, cfg.ProgressMinBytes),
	}
}

// Write submits one item to the pipeline. It opens the first file lazily
// on the first call, rotates when the Strategy or the size policy
// demands it, and reports throttled progress after the item lands.
func (c *Core[T]) Write(ctx context.Context, item T) error {
	if c.sink == nil {
		if !c.requiresFile(item) {
			return nil
		}
		if err := c.openNext(ctx); err != nil {
			return fmt.Errorf("writer: opening initial file: %w", err)
		}
	} else if c.strategy.ShouldRotateFile(c.cfg, c.state) ||
		(c.cfg.MaxFileSize > 0 && c.state.BytesWrittenThisFile >= c.cfg.MaxFileSize && c.state.ItemsWrittenThisFile > 0) {
		if err := c.rotate(ctx); err != nil {
			return fmt.Errorf("writer: rotating file: %w", err)
		}
	}

	n, err := c.strategy.WriteItem(ctx, c.sink, item)
	if err != nil {
		return fmt.Errorf("writer: writing item: %w", err)
	}
	c.state.ItemsWrittenTotal++
	c.state.ItemsWrittenThisFile++
	c.state.BytesWrittenTotal += n
	c.state.BytesWrittenThisFile += n

	action := c.strategy.AfterItemWritten(item, n, &c.state)

	c.reportProgress()

	if action == ActionRotate && c.state.ItemsWrittenThisFile > 0 {
		if err := c.rotate(ctx); err != nil {
			return fmt.Errorf("writer: post-item rotation: %w", err)
		}
	}

	return nil
}

// Close flushes and closes the current file, if one is open. It is safe
// to call on a Core that never received any items (a no-op: spec.md's
// leading-end-marker case produces zero files).
func (c *Core[T]) Close(ctx context.Context) error {
	if c.sink == nil {
		return nil
	}
	return c.closeCurrent(ctx)
}

func (c *Core[T]) openNext(ctx context.Context) error {
	raw := c.strategy.NextFilePath(c.cfg, c.state)
	path := ResolveCollision(raw, c.state.SequenceNumber, c.existsFn())

	sink, err := c.strategy.CreateWriter(ctx, path)
	if err != nil {
		return err
	}

	c.state.SequenceNumber++
	c.state.CurrentFilePath = path
	c.state.FileOpenedAt = time.Now()
	c.state.ItemsWrittenThisFile = 0
	c.state.BytesWrittenThisFile = 0
	c.sink = sink

	n, err := c.strategy.OnFileOpen(ctx, sink, path, c.cfg, c.state)
	if err != nil {
		sink.Close()
		c.sink = nil
		return err
	}
	c.state.BytesWrittenTotal += n
	c.state.BytesWrittenThisFile += n

	c.logger.Debug("writer: opened file", slog.String("path", path))
	return nil
}

func (c *Core[T]) closeCurrent(ctx context.Context) error {
	n, err := c.strategy.OnFileClose(ctx, c.sink, c.state.CurrentFilePath, c.cfg, c.state)
	c.state.BytesWrittenTotal += n
	c.state.BytesWrittenThisFile += n

	closeErr := c.sink.Close()
	c.logger.Debug("writer: closed file",
		slog.String("path", c.state.CurrentFilePath),
		slog.Int64("items", c.state.ItemsWrittenThisFile),
		slog.Int64("bytes", c.state.BytesWrittenThisFile))
	c.sink = nil

	if err != nil {
		return err
	}
	return closeErr
}

func (c *Core[T]) rotate(ctx context.Context) error {
	if err := c.closeCurrent(ctx); err != nil {
		return err
	}
	return c.openNext(ctx)
}

// ForceRotate closes the current file and opens the next one immediately,
// independent of any item-triggered rotation signal. It is a no-op when
// no file is open yet, or when the current file hasn't received any
// items yet — matching the "rotation never produces an empty file" rule
// that governs every other rotation path.
func (c *Core[T]) ForceRotate(ctx context.Context) error {
	if c.sink == nil || c.state.ItemsWrittenThisFile == 0 {
		return nil
	}
	return c.rotate(ctx)
}

// FileGate is an optional Strategy extension letting it defer opening
// the very first file until an item arrives that actually needs one —
// e.g. HLS's end-of-stream marker preceding any payload must not
// create an empty output file. A Strategy that does not implement
// FileGate always opens on its first item, as before.
type FileGate[T any] interface {
	RequiresFile(item T) bool
}

func (c *Core[T]) requiresFile(item T) bool {
	if gate, ok := c.strategy.(FileGate[T]); ok {
		return gate.RequiresFile(item)
	}
	return true
}

func (c *Core[T]) existsFn() func(string) bool {
	if c.sandbox == nil {
		return pathExists
	}
	return func(p string) bool {
		resolved, err := c.sandbox.ResolvePath(p)
		if err != nil {
			return false
		}
		_, statErr := os.Stat(resolved)
		return statErr == nil
	}
}

func (c *Core[T]) reportProgress() {
	if c.onProgress == nil {
		return
	}
	now := time.Now()
	if !c.throttle.ready(now, c.state.BytesWrittenTotal) {
		return
	}

	speed := speedBytesPerSec(c.prevSpeedBytes, c.state.BytesWrittenTotal, c.prevSpeedTime, now, !c.haveSpeedSample)
	c.prevSpeedBytes = c.state.BytesWrittenTotal
	c.prevSpeedTime = now
	c.haveSpeedSample = true

	c.throttle.record(now, c.state.BytesWrittenTotal)

	c.onProgress(Progress{
		BytesTotal:            c.state.BytesWrittenTotal,
		BytesCurrentFile:      c.state.BytesWrittenThisFile,
		ItemsTotal:            c.state.ItemsWrittenTotal,
		CurrentMediaDurationS: c.strategy.CurrentMediaDurationSecs(c.state),
		SpeedBytesPerSec:      speed,
		PlaybackRatio:         playbackRatio(c.strategy.CurrentMediaDurationSecs(c.state), c.state.FileOpenedAt, now),
	})
}

// playbackRatio compares media duration progressed against wall-clock
// time elapsed since the file opened: close to 1.0 means the writer is
// keeping up with realtime.
func playbackRatio(mediaDurationSecs float64, openedAt, now time.Time) float64 {
	wall := now.Sub(openedAt).Seconds()
	if wall <= 0 {
		return 0
	}
	return mediaDurationSecs / wall
}
