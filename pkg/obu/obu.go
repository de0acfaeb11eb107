// Package obu parses and muxes AV1 Open Bitstream Unit headers per the
// AV1 Bitstream & Decoding Process Specification §5.3.2-5.3.3, and
// validates ISOBMFF/FLV AV1 sample framing where the final OBU in a
// sample is permitted to omit its size field.
package obu

import (
	"errors"
	"fmt"

	"github.com/streamkeep/corerec/pkg/bitio"
)

// ErrUnexpectedEOF is returned when an OBU header or its declared size
// field runs past the end of the buffer.
var ErrUnexpectedEOF = errors.New("obu: unexpected end of data")

// Type is the obu_type field (AV1 spec §6.2.2, table).
type Type uint8

const (
	TypeSequenceHeader        Type = 1
	TypeTemporalDelimiter     Type = 2
	TypeFrameHeader           Type = 3
	TypeTileGroup             Type = 4
	TypeMetadata              Type = 5
	TypeFrame                 Type = 6
	TypeRedundantFrameHeader  Type = 7
	TypeTileList              Type = 8
	TypePadding               Type = 15
)

// Header is a parsed obu_header() (AV1 spec §5.3.2).
type Header struct {
	Type             Type
	ExtensionFlag    bool
	HasSizeField     bool
	TemporalID       uint8 // only meaningful if ExtensionFlag
	SpatialID        uint8 // only meaningful if ExtensionFlag
}

// HeaderSize returns the number of bytes Header occupies on the wire: 1
// plus 1 if ExtensionFlag is set.
func (h Header) HeaderSize() int {
	if h.ExtensionFlag {
		return 2
	}
	return 1
}

// OBU is one parsed open bitstream unit: its header, declared payload
// size (if HasSizeField was set), and the raw payload bytes.
type OBU struct {
	Header  Header
	Payload []byte
}

// ParseHeader parses a single obu_header() from the front of buf. It does
// not consume the leb128 obu_size field that may follow — use ParseOBU
// for that.
func ParseHeader(buf []byte) (Header, int, error) {
	if len(buf) < 1 {
		return Header{}, 0, ErrUnexpectedEOF
	}
	r := bitio.NewReader(buf[:1])
	forbidden, _ := r.ReadBit()
	if forbidden != 0 {
		return Header{}, 0, fmt.Errorf("obu: forbidden bit set")
	}
	typeBits, _ := r.ReadBits(4)
	extFlag, _ := r.ReadFlag()
	hasSize, _ := r.ReadFlag()
	_, _ = r.ReadBit() // obu_reserved_1bit

	h := Header{
		Type:          Type(typeBits),
		ExtensionFlag: extFlag,
		HasSizeField:  hasSize,
	}

	consumed := 1
	if extFlag {
		if len(buf) < 2 {
			return Header{}, 0, ErrUnexpectedEOF
		}
		er := bitio.NewReader(buf[1:2])
		temporalID, _ := er.ReadBits(3)
		spatialID, _ := er.ReadBits(2)
		h.TemporalID = uint8(temporalID)
		h.SpatialID = uint8(spatialID)
		consumed = 2
	}
	return h, consumed, nil
}

// MarshalHeader serializes Header back to its 1- or 2-byte wire form.
func MarshalHeader(h Header) []byte {
	w := bitio.NewWriter()
	w.WriteBit(0) // forbidden
	w.WriteBits(uint64(h.Type), 4)
	w.WriteFlag(h.ExtensionFlag)
	w.WriteFlag(h.HasSizeField)
	w.WriteBit(0) // reserved
	out := w.Finish()

	if h.ExtensionFlag {
		ew := bitio.NewWriter()
		ew.WriteBits(uint64(h.TemporalID), 3)
		ew.WriteBits(uint64(h.SpatialID), 2)
		ew.WriteBits(0, 3) // obu_extension_header reserved
		out = append(out, ew.Finish()...)
	}
	return out
}

// ParseOBU parses one OBU (header + optional leb128 size + payload) from
// the front of buf. If the header has no size field, lastOBU must be
// true and the remainder of buf (after the header) is taken as the
// payload in full, per the "last OBU in a temporal unit may omit its
// size field" rule used by ISOBMFF/FLV AV1 sample framing.
func ParseOBU(buf []byte, lastOBU bool) (OBU, int, error) {
	h, hdrLen, err := ParseHeader(buf)
	if err != nil {
		return OBU{}, 0, err
	}
	rest := buf[hdrLen:]

	if h.HasSizeField {
		size, n, err := bitio.ReadLEB128(rest)
		if err != nil {
			return OBU{}, 0, ErrUnexpectedEOF
		}
		rest = rest[n:]
		if uint64(len(rest)) < size {
			return OBU{}, 0, ErrUnexpectedEOF
		}
		payload := rest[:size]
		return OBU{Header: h, Payload: payload}, hdrLen + n + int(size), nil
	}

	if !lastOBU {
		return OBU{}, 0, fmt.Errorf("obu: obu_has_size_field is false on a non-last OBU")
	}
	return OBU{Header: h, Payload: rest}, hdrLen + len(rest), nil
}

// MarshalOBU serializes an OBU, always setting obu_has_size_field so the
// output is self-delimiting; this module's writer paths never emit the
// omit-size form (only external encoders producing the last OBU of an
// ISOBMFF sample do).
func MarshalOBU(o OBU) []byte {
	h := o.Header
	h.HasSizeField = true
	out := MarshalHeader(h)
	out = bitio.AppendLEB128(out, uint64(len(o.Payload)))
	out = append(out, o.Payload...)
	return out
}

// SamplePolicy controls which OBU types ParseSample rejects when found
// inside an ISOBMFF/FLV sample, where only coded-video OBU types are
// normally expected.
type SamplePolicy struct {
	RejectTileList              bool
	RejectTemporalDelimiter     bool
	RejectPadding                bool
	RejectRedundantFrameHeader  bool
	RejectReserved               bool
}

// DefaultSamplePolicy rejects TileList unconditionally, rejects
// TemporalDelimiter/Padding/RedundantFrameHeader because the strict knob
// defaults on, and leaves reserved (9-14) obu_type values accepted
// because that knob defaults off.
func DefaultSamplePolicy() SamplePolicy {
	return SamplePolicy{
		RejectTileList:             true,
		RejectTemporalDelimiter:    true,
		RejectPadding:              true,
		RejectRedundantFrameHeader: true,
		RejectReserved:             false,
	}
}

func isReserved(t Type) bool {
	return t >= 9 && t <= 14
}

// ParseSample parses an entire ISOBMFF/FLV AV1 sample: a sequence of
// OBUs where every OBU except possibly the last carries an explicit
// size field, and the last OBU may omit it (consuming the remainder of
// the buffer). It enforces policy against disallowed OBU types.
func ParseSample(buf []byte, policy SamplePolicy) ([]OBU, error) {
	var obus []OBU
	for len(buf) > 0 {
		h, hdrLen, err := ParseHeader(buf)
		if err != nil {
			return nil, err
		}

		// obu_has_size_field==0 means "consume the remainder of the
		// buffer"; buf here is already the sample's own bounded byte
		// range, so that remainder unambiguously ends where the sample
		// ends. A size field omitted on anything but the true last OBU
		// is therefore indistinguishable on the wire from a legitimate
		// last OBU — the bitstream format itself carries no way to tell
		// them apart.
		isLast := !h.HasSizeField
		o, consumed, err := ParseOBU(buf, isLast)
		if err != nil {
			return nil, err
		}
		if err := checkPolicy(h.Type, policy); err != nil {
			return nil, err
		}

		obus = append(obus, o)
		buf = buf[consumed:]
		_ = hdrLen
	}
	return obus, nil
}

func checkPolicy(t Type, policy SamplePolicy) error {
	switch {
	case policy.RejectTileList && t == TypeTileList:
		return fmt.Errorf("obu: TILE_LIST not permitted in a sample")
	case policy.RejectTemporalDelimiter && t == TypeTemporalDelimiter:
		return fmt.Errorf("obu: TEMPORAL_DELIMITER not permitted in a sample")
	case policy.RejectPadding && t == TypePadding:
		return fmt.Errorf("obu: PADDING not permitted in a sample")
	case policy.RejectRedundantFrameHeader && t == TypeRedundantFrameHeader:
		return fmt.Errorf("obu: REDUNDANT_FRAME_HEADER not permitted in a sample")
	case policy.RejectReserved && isReserved(t):
		return fmt.Errorf("obu: reserved obu_type %d not permitted in a sample", t)
	}
	return nil
}
