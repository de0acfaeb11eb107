package flvpipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/streamkeep/corerec/pkg/flvcodec"
)

func avcSeqHeader(data []byte) flvcodec.Tag {
	payload := append([]byte{0x17, 0x00}, data...)
	return flvcodec.Tag{Type: flvcodec.TagVideo, Data: payload}
}

func TestSequenceHeaderGateKeepsFirstHeader(t *testing.T) {
	g := NewSequenceHeaderGate(ModeCRC32, false)
	assert.True(t, g.Keep(avcSeqHeader([]byte{1, 2, 3})))
}

func TestSequenceHeaderGateDropsIdenticalResend(t *testing.T) {
	g := NewSequenceHeaderGate(ModeCRC32, false)
	h := avcSeqHeader([]byte{1, 2, 3})
	assert.True(t, g.Keep(h))
	assert.False(t, g.Keep(h))
}

func TestSequenceHeaderGateForwardsGenuineChange(t *testing.T) {
	g := NewSequenceHeaderGate(ModeCRC32, false)
	assert.True(t, g.Keep(avcSeqHeader([]byte{1, 2, 3})))
	assert.True(t, g.Keep(avcSeqHeader([]byte{9, 9, 9})), "a real resolution/profile change must pass through to trigger rotation")
}

func TestSequenceHeaderGateSuppressesChangeWhenDropDuplicatesSet(t *testing.T) {
	g := NewSequenceHeaderGate(ModeCRC32, true)
	assert.True(t, g.Keep(avcSeqHeader([]byte{1, 2, 3})))
	assert.False(t, g.Keep(avcSeqHeader([]byte{9, 9, 9})))
	// the suppressed header never became of record, so a later resend of
	// the original is still recognized as identical and also dropped.
	assert.False(t, g.Keep(avcSeqHeader([]byte{1, 2, 3})))
}

func TestSequenceHeaderGateSemanticModeIgnoresTrailingPadding(t *testing.T) {
	g := NewSequenceHeaderGate(ModeSemanticSignature, false)
	assert.True(t, g.Keep(avcSeqHeader([]byte{1, 2, 3})))
	assert.False(t, g.Keep(avcSeqHeader([]byte{1, 2, 3, 0, 0})), "trailing zero padding must not count as a change under semantic comparison")
}

func TestSequenceHeaderGatePassesThroughNonHeaderTags(t *testing.T) {
	g := NewSequenceHeaderGate(ModeCRC32, false)
	frame := flvcodec.Tag{Type: flvcodec.TagVideo, Data: []byte{0x27, 0x01, 0xaa, 0xbb}}
	assert.True(t, g.Keep(frame))
	assert.True(t, g.Keep(frame), "ordinary frame data is never deduplicated by this gate")
}

func TestSequenceHeaderGateTracksAudioAndVideoIndependently(t *testing.T) {
	g := NewSequenceHeaderGate(ModeCRC32, false)
	video := avcSeqHeader([]byte{1, 2, 3})
	audio := flvcodec.Tag{Type: flvcodec.TagAudio, Data: []byte{0xaf, 0x00, 0x11, 0x22}}

	assert.True(t, g.Keep(video))
	assert.True(t, g.Keep(audio), "a first audio sequence header must not be treated as a video repeat")
}
