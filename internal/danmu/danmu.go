// Package danmu implements DanmuCollector: a segment-aligned chat
// collection state machine. It owns a bounded, periodically-flushed
// buffer of chat messages and writes them, sorted by timestamp, to the
// currently open recording segment's companion sink. It is
// platform-agnostic: a concrete chat transport (e.g. the Douyu STT wire
// framing in pkg/sttframe) feeds it already-unframed message payloads.
package danmu

import (
	"fmt"
	"sort"
	"time"

	"github.com/streamkeep/corerec/internal/writer"
)

// Message is one chat message payload observed at a point in time. The
// payload is opaque to the collector; it is whatever bytes the upstream
// transport produced after unframing (e.g. an unescaped STT payload, or
// a JSON chat event).
type Message struct {
	Timestamp time.Time
	Payload   []byte
}

// EventKind identifies the kind of Event the collector emits.
type EventKind int

const (
	EventSegmentStarted EventKind = iota
	EventSegmentCompleted
	EventError
)

// Event is the collector's output stream, consumed by the orchestrator
// driving it.
type Event struct {
	Kind      EventKind
	SegmentID string
	Err       error
}

// Config holds the buffering/flush/sampling policy.
type Config struct {
	FlushInterval time.Duration
	FlushCount    int
	Sampler       Sampler
}

// segmentState is the bookkeeping for the currently open segment.
type segmentState struct {
	id        string
	path      string
	startTime time.Time
	sink      writer.Sink
	buffer    []Message
	lastFlush time.Time
}

// Collector drives the StartSegment/EndSegment/Stop state machine. It is
// owned by a single goroutine; Tick must be called periodically by that
// owner to honor the time-based flush threshold (there is no internal
// ticker, matching the rest of this module's owner-drives-time style).
type Collector struct {
	creator writer.SandboxCreator
	cfg     Config
	onEvent func(Event)

	cur *segmentState
}

// New returns a Collector writing segment companion files through
// creator and reporting state changes via onEvent.
func New(creator writer.SandboxCreator, cfg Config, onEvent func(Event)) *Collector {
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	return &Collector{creator: creator, cfg: cfg, onEvent: onEvent}
}

// StartSegment opens a new segment, flushing and finalizing any prior
// segment first.
func (c *Collector) StartSegment(id, path string, start time.Time) error {
	if c.cur != nil {
		if err := c.EndSegment(); err != nil {
			return err
		}
	}

	sink, err := c.creator.Create(path)
	if err != nil {
		err = fmt.Errorf("danmu: creating segment sink: %w", err)
		c.onEvent(Event{Kind: EventError, SegmentID: id, Err: err})
		return err
	}

	c.cur = &segmentState{id: id, path: path, startTime: start, sink: sink, lastFlush: start}
	c.onEvent(Event{Kind: EventSegmentStarted, SegmentID: id})
	return nil
}

// Handle appends msg to the active segment's buffer, observes the
// sampler, and flushes immediately if the buffer has reached
// cfg.FlushCount.
func (c *Collector) Handle(msg Message) error {
	if c.cur == nil {
		return ErrNoActiveSegment
	}
	if c.cfg.Sampler != nil {
		c.cfg.Sampler.Observe(msg.Timestamp)
	}
	c.cur.buffer = append(c.cur.buffer, msg)
	if c.cfg.FlushCount > 0 && len(c.cur.buffer) >= c.cfg.FlushCount {
		return c.flush()
	}
	return nil
}

// Tick checks the time-based flush threshold against now and flushes if
// due. Call this periodically (e.g. every 100ms) from the owning loop.
func (c *Collector) Tick(now time.Time) error {
	if c.cur == nil || len(c.cur.buffer) == 0 {
		return nil
	}
	if now.Sub(c.cur.lastFlush) >= c.cfg.FlushInterval {
		return c.flush()
	}
	return nil
}

// flush sorts the current segment's buffer by timestamp and writes each
// message's payload, newline-delimited, to the segment sink.
func (c *Collector) flush() error {
	s := c.cur
	sort.SliceStable(s.buffer, func(i, j int) bool {
		return s.buffer[i].Timestamp.Before(s.buffer[j].Timestamp)
	})
	for _, msg := range s.buffer {
		if _, err := s.sink.Write(msg.Payload); err != nil {
			err = fmt.Errorf("danmu: writing segment %s: %w", s.id, err)
			c.onEvent(Event{Kind: EventError, SegmentID: s.id, Err: err})
			return err
		}
		if _, err := s.sink.Write([]byte("\n")); err != nil {
			err = fmt.Errorf("danmu: writing segment %s: %w", s.id, err)
			c.onEvent(Event{Kind: EventError, SegmentID: s.id, Err: err})
			return err
		}
	}
	s.buffer = s.buffer[:0]
	s.lastFlush = time.Now()
	return nil
}

// EndSegment flushes any buffered messages and finalizes the active
// segment.
func (c *Collector) EndSegment() error {
	if c.cur == nil {
		return ErrNoActiveSegment
	}
	if err := c.flush(); err != nil {
		return err
	}
	id := c.cur.id
	if err := c.cur.sink.Close(); err != nil {
		err = fmt.Errorf("danmu: closing segment %s: %w", id, err)
		c.onEvent(Event{Kind: EventError, SegmentID: id, Err: err})
		c.cur = nil
		return err
	}
	c.cur = nil
	c.onEvent(Event{Kind: EventSegmentCompleted, SegmentID: id})
	return nil
}

// Stop flushes and finalizes the active segment, if any. Unlike
// EndSegment it is not an error to call Stop with no active segment.
func (c *Collector) Stop() error {
	if c.cur == nil {
		return nil
	}
	return c.EndSegment()
}
