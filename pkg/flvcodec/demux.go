package flvcodec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
)

// Item is one event recovered from a demuxed FLV byte stream: either a
// file header — present at the very start of every stream, and again
// whenever an upstream source reconnects and re-embeds a fresh FLV
// container into the same byte stream — or an ordinary tag. Exactly one
// of Header or Tag is non-nil.
type Item struct {
	Header *Header
	Tag    *Tag
}

// Demuxer walks an FLV byte stream tag by tag, applying a
// PrevTagSizePolicy to the trailing PreviousTagSize field between tags,
// and recognizing a re-embedded file header wherever one appears in the
// stream rather than only at the very start.
type Demuxer struct {
	Logger            *slog.Logger
	PrevTagSizePolicy PrevTagSizePolicy

	// OnTagSizeMismatch is called under PrevTagSizeWarn when a
	// PreviousTagSize field doesn't match the tag it follows.
	OnTagSizeMismatch func(expected, got uint32)

	buf []byte
}

// NewDemuxer constructs a Demuxer that warns (rather than rejects or
// ignores) PreviousTagSize mismatches by default.
func NewDemuxer() *Demuxer {
	return &Demuxer{
		Logger:            slog.Default(),
		PrevTagSizePolicy: PrevTagSizeWarn,
	}
}

// looksLikeFileHeader reports whether buf begins with the fixed
// signature/version bytes ParseHeader requires ("FLV" followed by
// version 1). It is checked before every tag parse so a reconnect that
// re-embeds a fresh container mid-stream is recognized as a Header item
// instead of being misparsed as a corrupt tag.
func looksLikeFileHeader(buf []byte) bool {
	return len(buf) >= 4 && buf[0] == 'F' && buf[1] == 'L' && buf[2] == 'V' && buf[3] == 1
}

// Feed appends data to the demuxer's buffer and returns every complete
// Item it can extract: a Header for the stream's opening signature (and
// for any later re-embedded signature signaling an upstream reconnect),
// and a Tag for everything else.
func (d *Demuxer) Feed(data []byte) ([]Item, error) {
	d.buf = append(d.buf, data...)

	var out []Item
	for {
		if len(d.buf) < 4 {
			break
		}

		if looksLikeFileHeader(d.buf) {
			h, headerSize, err := ParseHeader(d.buf)
			if err != nil {
				return out, err
			}
			if headerSize < 9 {
				return out, ErrInvalidData
			}
			if len(d.buf) < headerSize+4 {
				break // header + PreviousTagSize0 not fully buffered yet
			}
			d.buf = d.buf[headerSize+4:] // skip header + PreviousTagSize0
			out = append(out, Item{Header: &h})
			continue
		}

		if len(d.buf) < tagHeaderSize {
			break
		}
		t, consumed, err := ParseTag(d.buf)
		if err != nil {
			if errors.Is(err, ErrNeedMoreData) {
				break
			}
			return out, err // a corrupted data_size field, not just a short buffer
		}
		if len(d.buf) < consumed+4 {
			break // PreviousTagSize trailer not fully buffered yet
		}

		// The trailer following a tag declares that same tag's own size,
		// not the size of whatever preceded it.
		trailer := binary.BigEndian.Uint32(d.buf[consumed : consumed+4])
		if err := d.checkPrevTagSize(uint32(consumed), trailer); err != nil {
			return out, err
		}

		out = append(out, Item{Tag: &t})
		d.buf = d.buf[consumed+4:]
	}
	return out, nil
}

func (d *Demuxer) checkPrevTagSize(expected, got uint32) error {
	if d.PrevTagSizePolicy == PrevTagSizeIgnore {
		return nil
	}
	if expected == got {
		return nil
	}
	switch d.PrevTagSizePolicy {
	case PrevTagSizeStrict:
		return fmt.Errorf("%w: previous tag size mismatch: expected %d got %d", ErrInvalidData, expected, got)
	case PrevTagSizeWarn:
		if d.OnTagSizeMismatch != nil {
			d.OnTagSizeMismatch(expected, got)
		}
	}
	return nil
}
