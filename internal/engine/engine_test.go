package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/streamkeep/corerec/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUnsupportedKind(t *testing.T) {
	_, err := New(config.EngineConfig{Kind: "bogus"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestNewNativeAdapter(t *testing.T) {
	a, err := New(config.EngineConfig{Kind: "native"})
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background(), Source{URL: "https://example.com/live.flv"}))
	assert.Nil(t, a.Stdout())
	assert.ErrorIs(t, a.Wait(), ErrNotRunning)
	assert.NoError(t, a.Stop())
}

func TestNewFFmpegMissingBinary(t *testing.T) {
	t.Setenv("CORREC_FFMPEG_PATH", "")
	t.Setenv("PATH", "")
	_, err := New(config.EngineConfig{Kind: "ffmpeg"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBinaryNotFound))
}

func TestFFmpegArgsIncludesHeaders(t *testing.T) {
	args := ffmpegArgs(Source{URL: "https://example.com/live.m3u8", Headers: map[string]string{"Cookie": "a=b"}})
	assert.Contains(t, args, "-i")
	assert.Contains(t, args, "https://example.com/live.m3u8")
	found := false
	for _, a := range args {
		if a == "Cookie: a=b\r\n" {
			found = true
		}
	}
	assert.True(t, found, "expected encoded header arg, got %v", args)
}

func TestStreamlinkArgs(t *testing.T) {
	args := streamlinkArgs(Source{URL: "https://example.com/live"})
	assert.Equal(t, []string{"--stdout", "https://example.com/live", "best"}, args)
}
