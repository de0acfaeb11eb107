// Package tscodec parses and remuxes MPEG-TS packet streams across the
// three packet-size variants seen in the wild (188-byte plain, 192-byte
// with a 4-byte timestamp prefix, 204-byte with a 16-byte Reed-Solomon
// FEC trailer), locking onto the detected variant and resyncing on
// transient corruption the way a long-running HLS/TS capture has to.
package tscodec

import (
	"errors"
	"fmt"

	"github.com/streamkeep/corerec/pkg/bitio"
)

const (
	syncByte = 0x47

	// PacketSize188 is the plain MPEG-TS packet size.
	PacketSize188 = 188
	// PacketSize192 prefixes each packet with a 4-byte timestamp (DVB-ASI / M2TS).
	PacketSize192 = 192
	// PacketSize204 appends a 16-byte Reed-Solomon FEC block.
	PacketSize204 = 204
)

var candidateSizes = []int{PacketSize188, PacketSize192, PacketSize204}

// ErrUnexpectedSyncLoss is returned when the packet-size lock was
// established but resync failed to find a new sync byte within the
// bounded search window.
var ErrUnexpectedSyncLoss = errors.New("tscodec: unexpected sync byte loss")

// ErrTruncatedAdaptationField is returned when an adaptation field's
// declared length runs past the end of the packet.
var ErrTruncatedAdaptationField = errors.New("tscodec: truncated adaptation field")

// ContinuityMode selects how the demuxer reacts to a continuity_counter
// discontinuity on a PID it is already tracking.
type ContinuityMode int

const (
	// ContinuityOff performs no continuity tracking at all.
	ContinuityOff ContinuityMode = iota
	// ContinuityWarn reports discontinuities via the Demuxer's OnDiscontinuity
	// callback but keeps parsing.
	ContinuityWarn
	// ContinuityStrict returns an error from Feed on the first discontinuity.
	ContinuityStrict
)

// PID well-known values.
const (
	PIDPAT  uint16 = 0x0000
	PIDNull uint16 = 0x1FFF
)

// AdaptationField holds the optional per-packet fields that can follow
// the 4-byte TS header (ISO/IEC 13818-1 §2.4.3.5).
type AdaptationField struct {
	DiscontinuityIndicator    bool
	RandomAccessIndicator     bool
	ElementaryStreamPriority  bool
	PCRFlag                   bool
	OPCRFlag                  bool
	SplicingPointFlag         bool
	TransportPrivateDataFlag  bool
	AdaptationFieldExtension  bool
	PCR                       uint64 // 33-bit base * 300 + 9-bit extension, in 27MHz ticks
	OPCR                      uint64
	SpliceCountdown           int8
	TransportPrivateData      []byte
}

// pcrFrom27MHz packs a 33-bit base and 9-bit extension into a single
// 27MHz-tick value: base*300 + extension.
func pcrFrom27MHz(base uint64, ext uint16) uint64 {
	return base*300 + uint64(ext)
}

// PCRToBaseExt splits a combined 27MHz PCR value back into its 33-bit
// base (90kHz) and 9-bit extension components.
func PCRToBaseExt(pcr uint64) (base uint64, ext uint16) {
	return pcr / 300, uint16(pcr % 300)
}

// Packet is one parsed 188-byte TS packet payload plus its header fields.
// Packet.Payload always holds exactly the post-adaptation-field payload
// bytes, regardless of which on-wire packet size variant was detected.
type Packet struct {
	TransportErrorIndicator   bool
	PayloadUnitStartIndicator bool
	TransportPriority         bool
	PID                       uint16
	ScramblingControl         uint8
	HasAdaptationField        bool
	HasPayload                bool
	ContinuityCounter         uint8
	Adaptation                *AdaptationField
	Payload                   []byte
}

// ParsePacket parses a single logical 188-byte TS packet (the portion
// after any 192-byte timestamp prefix and before any 204-byte FEC
// trailer has already been sliced off by the caller/Demuxer).
func ParsePacket(buf []byte) (*Packet, error) {
	if len(buf) != PacketSize188 {
		return nil, fmt.Errorf("tscodec: packet must be %d bytes, got %d", PacketSize188, len(buf))
	}
	if buf[0] != syncByte {
		return nil, ErrUnexpectedSyncLoss
	}

	r := bitio.NewReader(buf[1:4])
	tei, _ := r.ReadFlag()
	pusi, _ := r.ReadFlag()
	tp, _ := r.ReadFlag()
	pid, _ := r.ReadBits(13)
	sc, _ := r.ReadBits(2)
	afc, _ := r.ReadBits(2)
	cc, _ := r.ReadBits(4)

	p := &Packet{
		TransportErrorIndicator:   tei,
		PayloadUnitStartIndicator: pusi,
		TransportPriority:         tp,
		PID:                       uint16(pid),
		ScramblingControl:         uint8(sc),
		HasAdaptationField:       afc == 2 || afc == 3,
		HasPayload:               afc == 1 || afc == 3,
		ContinuityCounter:        uint8(cc),
	}

	rest := buf[4:]
	if p.HasAdaptationField {
		if len(rest) < 1 {
			return nil, ErrTruncatedAdaptationField
		}
		afLen := int(rest[0])
		if afLen > len(rest)-1 {
			return nil, ErrTruncatedAdaptationField
		}
		af, err := parseAdaptationField(rest[1 : 1+afLen])
		if err != nil {
			return nil, err
		}
		p.Adaptation = af
		rest = rest[1+afLen:]
	}

	if p.HasPayload {
		p.Payload = rest
	}

	return p, nil
}

func parseAdaptationField(buf []byte) (*AdaptationField, error) {
	af := &AdaptationField{}
	if len(buf) == 0 {
		return af, nil
	}

	flags := buf[0]
	af.DiscontinuityIndicator = flags&0x80 != 0
	af.RandomAccessIndicator = flags&0x40 != 0
	af.ElementaryStreamPriority = flags&0x20 != 0
	af.PCRFlag = flags&0x10 != 0
	af.OPCRFlag = flags&0x08 != 0
	af.SplicingPointFlag = flags&0x04 != 0
	af.TransportPrivateDataFlag = flags&0x02 != 0
	af.AdaptationFieldExtension = flags&0x01 != 0

	off := 1
	if af.PCRFlag {
		if off+6 > len(buf) {
			return nil, ErrTruncatedAdaptationField
		}
		base, ext := decodePCRBytes(buf[off : off+6])
		af.PCR = pcrFrom27MHz(base, ext)
		off += 6
	}
	if af.OPCRFlag {
		if off+6 > len(buf) {
			return nil, ErrTruncatedAdaptationField
		}
		base, ext := decodePCRBytes(buf[off : off+6])
		af.OPCR = pcrFrom27MHz(base, ext)
		off += 6
	}
	if af.SplicingPointFlag {
		if off+1 > len(buf) {
			return nil, ErrTruncatedAdaptationField
		}
		af.SpliceCountdown = int8(buf[off])
		off++
	}
	if af.TransportPrivateDataFlag {
		if off+1 > len(buf) {
			return nil, ErrTruncatedAdaptationField
		}
		n := int(buf[off])
		off++
		if off+n > len(buf) {
			return nil, ErrTruncatedAdaptationField
		}
		af.TransportPrivateData = buf[off : off+n]
		off += n
	}
	return af, nil
}

// decodePCRBytes unpacks the 6-byte PCR field: 33-bit base, 6 reserved
// bits, 9-bit extension.
func decodePCRBytes(b []byte) (base uint64, ext uint16) {
	r := bitio.NewReader(b)
	base, _ = r.ReadBits(33)
	_, _ = r.ReadBits(6) // reserved
	e, _ := r.ReadBits(9)
	return base, uint16(e)
}

// MarshalPacket serializes a Packet back into a 188-byte TS packet.
func MarshalPacket(p *Packet) []byte {
	out := make([]byte, 0, PacketSize188)
	out = append(out, syncByte)

	w := bitio.NewWriter()
	w.WriteFlag(p.TransportErrorIndicator)
	w.WriteFlag(p.PayloadUnitStartIndicator)
	w.WriteFlag(p.TransportPriority)
	w.WriteBits(uint64(p.PID), 13)
	w.WriteBits(uint64(p.ScramblingControl), 2)

	afc := uint64(0)
	switch {
	case p.HasAdaptationField && p.HasPayload:
		afc = 3
	case p.HasAdaptationField:
		afc = 2
	case p.HasPayload:
		afc = 1
	}
	w.WriteBits(afc, 2)
	w.WriteBits(uint64(p.ContinuityCounter), 4)
	out = append(out, w.Finish()...)

	if p.HasAdaptationField {
		afBytes := marshalAdaptationField(p.Adaptation)
		out = append(out, byte(len(afBytes)))
		out = append(out, afBytes...)
	}
	if p.HasPayload {
		out = append(out, p.Payload...)
	}

	if len(out) < PacketSize188 {
		pad := make([]byte, PacketSize188-len(out))
		for i := range pad {
			pad[i] = 0xFF
		}
		out = append(out, pad...)
	}
	return out[:PacketSize188]
}

func marshalAdaptationField(af *AdaptationField) []byte {
	if af == nil {
		return nil
	}
	var buf []byte
	flags := byte(0)
	if af.DiscontinuityIndicator {
		flags |= 0x80
	}
	if af.RandomAccessIndicator {
		flags |= 0x40
	}
	if af.ElementaryStreamPriority {
		flags |= 0x20
	}
	if af.PCRFlag {
		flags |= 0x10
	}
	if af.OPCRFlag {
		flags |= 0x08
	}
	if af.SplicingPointFlag {
		flags |= 0x04
	}
	if af.TransportPrivateDataFlag {
		flags |= 0x02
	}
	if af.AdaptationFieldExtension {
		flags |= 0x01
	}
	buf = append(buf, flags)

	if af.PCRFlag {
		buf = append(buf, encodePCRBytes(af.PCR)...)
	}
	if af.OPCRFlag {
		buf = append(buf, encodePCRBytes(af.OPCR)...)
	}
	if af.SplicingPointFlag {
		buf = append(buf, byte(af.SpliceCountdown))
	}
	if af.TransportPrivateDataFlag {
		buf = append(buf, byte(len(af.TransportPrivateData)))
		buf = append(buf, af.TransportPrivateData...)
	}
	return buf
}

func encodePCRBytes(pcr uint64) []byte {
	base, ext := PCRToBaseExt(pcr)
	w := bitio.NewWriter()
	w.WriteBits(base, 33)
	w.WriteBits(0x3F, 6) // reserved, all ones by convention
	w.WriteBits(uint64(ext), 9)
	return w.Finish()
}
