package hlsstrategy

import (
	"bytes"
	"fmt"

	mp4 "github.com/abema/go-mp4"
)

// looksLikeISOBMFF reports whether payload opens with a plausible ISOBMFF
// box header (4-byte big-endian size, 4-byte ASCII box type), which is
// enough to tell an fMP4 init segment apart from TS PAT/PMT bytes
// materialized into the same KindInit slot without attempting a full parse.
func looksLikeISOBMFF(payload []byte) bool {
	if len(payload) < 8 {
		return false
	}
	for _, c := range payload[4:8] {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

// validateInitSegment walks an fMP4 initialization segment's box tree and
// confirms the two boxes every player-compatible init segment needs:
// ftyp (brand/compatibility) and moov (track and sample-description
// metadata). It never validates track-level detail — HLSOrchestrator's
// upstream fetch/decrypt path is responsible for byte integrity; this is
// a last line of defense against writing a truncated or non-ISOBMFF blob
// into the init slot of a fragmented-MP4 HLS rendition.
func validateInitSegment(payload []byte) error {
	var sawFtyp, sawMoov bool

	_, err := mp4.ReadBoxStructure(bytes.NewReader(payload), func(h *mp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type {
		case mp4.BoxTypeFtyp():
			sawFtyp = true
		case mp4.BoxTypeMoov():
			sawMoov = true
			return h.Expand()
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("hlsstrategy: reading init segment box structure: %w", err)
	}
	if !sawFtyp {
		return fmt.Errorf("hlsstrategy: init segment missing ftyp box")
	}
	if !sawMoov {
		return fmt.Errorf("hlsstrategy: init segment missing moov box")
	}
	return nil
}
