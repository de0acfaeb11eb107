package flvpipeline

import (
	"hash/crc32"

	"github.com/streamkeep/corerec/pkg/flvcodec"
)

// Mode selects how SequenceHeaderGate compares two sequence headers for
// equality.
type Mode int

const (
	// ModeCRC32 compares the raw CRC32 of the sequence header tag's
	// payload: any byte difference is a change.
	ModeCRC32 Mode = iota
	// ModeSemanticSignature compares the payload with trailing zero
	// padding stripped first, so two encoder-config records that differ
	// only in alignment padding are treated as identical. This is the
	// "codec configuration record ignoring padding" comparison spec.md
	// §4.11 describes, approximated without a full AVCDecoderConfigurationRecord
	// parse since FLVCodec doesn't expose one publicly.
	ModeSemanticSignature
)

func signature(mode Mode, data []byte) uint32 {
	if mode == ModeSemanticSignature {
		data = trimTrailingZeros(data)
	}
	return crc32.ChecksumIEEE(data)
}

func trimTrailingZeros(data []byte) []byte {
	end := len(data)
	for end > 0 && data[end-1] == 0 {
		end--
	}
	return data[:end]
}

// SequenceHeaderGate watches audio/video sequence header tags for
// changes. Non-sequence-header tags always pass through untouched; a
// resend identical to the currently active header is always dropped
// (nothing downstream needs it twice). A genuine change is forwarded —
// flvstrategy.Strategy already rotates the output file the moment a
// sequence header tag with a prior tag in the same file reaches it, so
// forwarding is all that's needed to trigger that rotation — unless
// DropDuplicates is set, in which case the change is suppressed and the
// previously active header remains of record.
type SequenceHeaderGate struct {
	mode           Mode
	dropDuplicates bool
	haveVideo      bool
	videoSig       uint32
	haveAudio      bool
	audioSig       uint32
}

// NewSequenceHeaderGate returns a gate comparing headers with mode and
// suppressing detected changes when dropDuplicates is set.
func NewSequenceHeaderGate(mode Mode, dropDuplicates bool) *SequenceHeaderGate {
	return &SequenceHeaderGate{mode: mode, dropDuplicates: dropDuplicates}
}

// Keep reports whether tag should continue downstream. Tags that are
// not audio/video sequence headers always return true.
func (g *SequenceHeaderGate) Keep(tag flvcodec.Tag) bool {
	isVideo := flvcodec.IsVideoSequenceHeader(tag)
	isAudio := flvcodec.IsAudioSequenceHeader(tag)
	if !isVideo && !isAudio {
		return true
	}

	have, stored := &g.haveAudio, &g.audioSig
	if isVideo {
		have, stored = &g.haveVideo, &g.videoSig
	}

	sig := signature(g.mode, tag.Data)
	if !*have {
		*have = true
		*stored = sig
		return true
	}
	if *stored == sig {
		return false
	}
	if g.dropDuplicates {
		return false
	}
	*stored = sig
	return true
}
