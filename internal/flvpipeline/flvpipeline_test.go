package flvpipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamkeep/corerec/internal/storage"
	"github.com/streamkeep/corerec/internal/writer"
	"github.com/streamkeep/corerec/internal/writer/flvstrategy"
	"github.com/streamkeep/corerec/pkg/flvcodec"
)

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, *storage.Sandbox) {
	t.Helper()
	sb, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)

	strat := flvstrategy.New(sb, nil)
	strat.StashHeader(flvcodec.Header{HasVideo: true, HasAudio: true})

	wcfg := writer.Config{PathTemplate: "out.flv"}
	core := writer.NewCore[flvcodec.Tag](wcfg, strat, sb, nil, nil)

	return New(cfg, strat, core), sb
}

func defaultConfig() Config {
	return Config{
		DuplicateWindowSize:    8,
		ReplayJumpThresholdMS:  5000,
		MatchOnLengthAfterJump: true,
		SequenceHeaderMode:     ModeCRC32,
	}
}

func TestPipelineFeedWritesKeptTagsToDisk(t *testing.T) {
	p, sb := newTestPipeline(t, defaultConfig())
	ctx := context.Background()

	require.NoError(t, p.Feed(ctx, avcSeqHeader([]byte{1, 2, 3})))
	require.NoError(t, p.Feed(ctx, flvcodec.Tag{Type: flvcodec.TagVideo, TimestampMS: 33, Data: []byte{0x27, 0x01, 0xaa}}))
	require.NoError(t, p.Close(ctx))

	data, err := os.ReadFile(filepath.Join(sb.BaseDir(), "out.flv"))
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, int64(2), p.TagsIn())
	assert.Equal(t, int64(0), p.TagsDropped())
}

func TestPipelineDropsDuplicateTags(t *testing.T) {
	p, _ := newTestPipeline(t, defaultConfig())
	ctx := context.Background()

	tag := flvcodec.Tag{Type: flvcodec.TagVideo, TimestampMS: 100, Data: []byte{0x27, 0x01, 0xaa}}
	require.NoError(t, p.Feed(ctx, avcSeqHeader([]byte{1, 2, 3})))
	require.NoError(t, p.Feed(ctx, tag))
	require.NoError(t, p.Feed(ctx, tag))
	require.NoError(t, p.Close(ctx))

	assert.Equal(t, int64(3), p.TagsIn())
	assert.Equal(t, int64(1), p.TagsDropped())
}

func TestPipelineDropsRepeatedSequenceHeader(t *testing.T) {
	p, _ := newTestPipeline(t, defaultConfig())
	ctx := context.Background()

	h := avcSeqHeader([]byte{1, 2, 3})
	require.NoError(t, p.Feed(ctx, h))
	require.NoError(t, p.Feed(ctx, flvcodec.Tag{Type: flvcodec.TagVideo, TimestampMS: 33, Data: []byte{0x27, 0x01, 0xaa}}))
	// resend of the active sequence header at a new timestamp: the
	// duplicate filter alone would let this through (different
	// timestamp), so only the sequence-header gate catches it.
	resend := avcSeqHeader([]byte{1, 2, 3})
	resend.TimestampMS = 66
	require.NoError(t, p.Feed(ctx, resend))
	require.NoError(t, p.Close(ctx))

	assert.Equal(t, int64(1), p.TagsDropped())
}

func TestPipelineFeedRawDemuxesAndFilters(t *testing.T) {
	p, sb := newTestPipeline(t, defaultConfig())
	ctx := context.Background()
	demux := flvcodec.NewDemuxer()

	tag := flvcodec.Tag{Type: flvcodec.TagVideo, TimestampMS: 0, Data: []byte{0x27, 0x01, 0xaa, 0xbb}}
	raw := flvcodec.MarshalTag(tag)

	require.NoError(t, p.FeedRaw(ctx, demux, raw))
	require.NoError(t, p.Close(ctx))

	data, err := os.ReadFile(filepath.Join(sb.BaseDir(), "out.flv"))
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, int64(1), p.TagsIn())
}

// TestPipelineFeedRawRotatesOnReembeddedHeader reproduces spec.md §4.7's
// "rotation is triggered when a new Header arrives and the current file
// already has tags" boundary: an upstream reconnect re-embeds a fresh
// FLV container mid-stream, which FeedRaw must turn into a rotation
// instead of splicing the new container's tags into the file already in
// progress.
func TestPipelineFeedRawRotatesOnReembeddedHeader(t *testing.T) {
	sb, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)

	strat := flvstrategy.New(sb, nil)
	wcfg := writer.Config{PathTemplate: "out-%i.flv"}
	core := writer.NewCore[flvcodec.Tag](wcfg, strat, sb, nil, nil)
	p := New(defaultConfig(), strat, core)

	ctx := context.Background()
	demux := flvcodec.NewDemuxer()

	var stream []byte
	stream = append(stream, flvcodec.MarshalHeader(flvcodec.Header{HasVideo: true})...)
	stream = append(stream, flvcodec.MarshalTag(avcSeqHeader([]byte{1, 2, 3}))...)
	stream = append(stream, flvcodec.MarshalTag(flvcodec.Tag{Type: flvcodec.TagVideo, TimestampMS: 33, Data: []byte{0x27, 0x01, 0xaa}})...)
	// Reconnect: a fresh container arrives mid-stream.
	stream = append(stream, flvcodec.MarshalHeader(flvcodec.Header{HasVideo: true, HasAudio: true})...)
	stream = append(stream, flvcodec.MarshalTag(avcSeqHeader([]byte{4, 5, 6}))...)

	require.NoError(t, p.FeedRaw(ctx, demux, stream))
	require.NoError(t, p.Close(ctx))

	entries, err := os.ReadDir(sb.BaseDir())
	require.NoError(t, err)
	require.Len(t, entries, 2, "reconnect header must rotate into a second file")
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(sb.BaseDir(), e.Name()))
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	}
}
