// Package flvpipeline implements the FLV repair pipeline described in
// spec.md §4.11: raw tags pass through a sliding-window duplicate
// filter and a sequence-header change gate before reaching the
// existing flvstrategy/writer.Core mux, which already owns
// header-stashing, rotation-on-sequence-header, and close-time
// onMetaData rewriting.
package flvpipeline

import (
	"context"
	"fmt"

	"github.com/streamkeep/corerec/internal/writer"
	"github.com/streamkeep/corerec/internal/writer/flvstrategy"
	"github.com/streamkeep/corerec/pkg/flvcodec"
)

// Config holds the duplicate-filter and sequence-header-gate policy,
// sourced from config.FLVConfig.
type Config struct {
	DuplicateWindowSize          int
	ReplayJumpThresholdMS        int64
	MatchOnLengthAfterJump       bool
	SequenceHeaderMode           Mode
	DropDuplicateSequenceHeaders bool
}

// Pipeline wires the duplicate filter and sequence-header gate ahead of
// a writer.Core[flvcodec.Tag]. One Pipeline is owned by a single
// recording task for its lifetime.
type Pipeline struct {
	dedupe    *DuplicateFilter
	seqHeader *SequenceHeaderGate
	strategy  *flvstrategy.Strategy
	core      *writer.Core[flvcodec.Tag]

	tagsIn      int64
	tagsDropped int64
}

// New returns a Pipeline feeding surviving tags to core through strategy.
// strategy is also the StashHeader target a re-embedded file header (see
// feedHeader) is routed to directly, ahead of the Core's item-typed
// write path.
func New(cfg Config, strategy *flvstrategy.Strategy, core *writer.Core[flvcodec.Tag]) *Pipeline {
	return &Pipeline{
		dedupe:    NewDuplicateFilter(cfg.DuplicateWindowSize, cfg.ReplayJumpThresholdMS, cfg.MatchOnLengthAfterJump),
		seqHeader: NewSequenceHeaderGate(cfg.SequenceHeaderMode, cfg.DropDuplicateSequenceHeaders),
		strategy:  strategy,
		core:      core,
	}
}

// Feed runs tag through the duplicate filter and sequence-header gate,
// in that order, and writes it to the underlying Core if both stages
// keep it.
func (p *Pipeline) Feed(ctx context.Context, tag flvcodec.Tag) error {
	p.tagsIn++
	if !p.dedupe.Keep(tag) {
		p.tagsDropped++
		return nil
	}
	if !p.seqHeader.Keep(tag) {
		p.tagsDropped++
		return nil
	}
	if err := p.core.Write(ctx, tag); err != nil {
		return fmt.Errorf("flvpipeline: writing tag: %w", err)
	}
	return nil
}

// FeedRaw demuxes raw bytes (as read from an engine.Adapter's stdout)
// into items via demux and feeds each one through the pipeline in turn:
// a Header goes to feedHeader, a Tag goes through Feed.
func (p *Pipeline) FeedRaw(ctx context.Context, demux *flvcodec.Demuxer, data []byte) error {
	items, err := demux.Feed(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDemuxFailed, err)
	}
	for _, item := range items {
		if item.Header != nil {
			if err := p.feedHeader(ctx, *item.Header); err != nil {
				return err
			}
			continue
		}
		if err := p.Feed(ctx, *item.Tag); err != nil {
			return err
		}
	}
	return nil
}

// feedHeader stashes a newly observed FLV file header so flvstrategy
// emits it before the next tag, and — when the current file already
// holds tags — forces immediate rotation into a fresh file. This is the
// "rotation is triggered when a new Header arrives and the current file
// already has tags" boundary from spec.md §4.7: an upstream reconnect
// re-embeds a fresh container into the same byte stream, and that must
// not be spliced into the file already in progress.
func (p *Pipeline) feedHeader(ctx context.Context, h flvcodec.Header) error {
	p.strategy.StashHeader(h)
	if err := p.core.ForceRotate(ctx); err != nil {
		return fmt.Errorf("flvpipeline: rotating on new header: %w", err)
	}
	return nil
}

// Close finalizes the underlying Core.
func (p *Pipeline) Close(ctx context.Context) error {
	return p.core.Close(ctx)
}

// TagsIn and TagsDropped report running totals, exposed for metrics.
func (p *Pipeline) TagsIn() int64      { return p.tagsIn }
func (p *Pipeline) TagsDropped() int64 { return p.tagsDropped }
