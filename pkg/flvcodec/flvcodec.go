// Package flvcodec parses and muxes the FLV container: the file header,
// tag header and previous-tag-size trailer, AMF0 script data, and the
// AVC/HEVC codec configuration records needed to recover a track's
// resolution from its sequence header.
package flvcodec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/streamkeep/corerec/pkg/mediatypes"
)

// ErrInvalidData is returned for structurally malformed FLV data: a bad
// file signature, a data_size field declaring an implausibly large tag,
// or a previous-tag-size field that disagrees with the preceding tag
// under PrevTagSizeStrict.
var ErrInvalidData = errors.New("flvcodec: invalid data")

// ErrNeedMoreData is returned by ParseTag when buf holds a tag header or
// body that is merely incomplete so far, not corrupted — the caller
// should buffer more bytes and retry rather than treat this as a fatal
// parse failure.
var ErrNeedMoreData = errors.New("flvcodec: need more data")

// MaxTagDataSize bounds the data_size field ParseTag accepts before
// treating it as corrupted rather than merely incomplete. It sits well
// above any real FLV tag (even a 4K keyframe rarely exceeds a few MB),
// so a legitimate tag never trips it, but a wildly corrupted size field
// is caught immediately instead of stalling the demuxer forever waiting
// for bytes that will never complete a tag this large.
const MaxTagDataSize = 8 * 1024 * 1024

const fileSignature = "FLV"

// Header is the 9-byte FLV file header.
type Header struct {
	HasVideo bool
	HasAudio bool
}

// ParseHeader parses the 9-byte FLV signature/flags/header-size block.
// It returns the header and the number of bytes consumed (always 9 for
// well-formed input, but callers should still use the returned count
// since HeaderSize is nominally variable per the FLV spec).
func ParseHeader(buf []byte) (Header, int, error) {
	if len(buf) < 9 || string(buf[0:3]) != fileSignature {
		return Header{}, 0, ErrInvalidData
	}
	if buf[3] != 1 {
		return Header{}, 0, fmt.Errorf("%w: unsupported FLV version %d", ErrInvalidData, buf[3])
	}
	flags := buf[4]
	headerSize := binary.BigEndian.Uint32(buf[5:9])
	return Header{
		HasVideo: flags&0x01 != 0,
		HasAudio: flags&0x04 != 0,
	}, int(headerSize), nil
}

// MarshalHeader serializes Header to its 9-byte wire form plus the
// mandatory 4-byte PreviousTagSize0 (always 0) that follows it.
func MarshalHeader(h Header) []byte {
	var flags byte
	if h.HasAudio {
		flags |= 0x04
	}
	if h.HasVideo {
		flags |= 0x01
	}
	out := make([]byte, 13)
	copy(out[0:3], fileSignature)
	out[3] = 1
	out[4] = flags
	binary.BigEndian.PutUint32(out[5:9], 9)
	binary.BigEndian.PutUint32(out[9:13], 0)
	return out
}

// TagType identifies the three FLV tag kinds (Adobe FLV spec §E.4.1).
type TagType uint8

const (
	TagAudio      TagType = 8
	TagVideo      TagType = 9
	TagScriptData TagType = 18
)

// Tag is one parsed FLV tag: its header fields plus the payload bytes.
type Tag struct {
	Type          TagType
	TimestampMS   int32
	StreamID      uint32 // always 0 on the wire, kept for round-trip fidelity
	Data          []byte
}

// PrevTagSizePolicy controls how ParseStream reacts to a PreviousTagSize
// field that doesn't match the actual size of the tag it follows — a
// common form of corruption in recordings interrupted mid-write.
type PrevTagSizePolicy int

const (
	// PrevTagSizeIgnore never checks the field; the stream is parsed
	// purely from each tag's own TagSize.
	PrevTagSizeIgnore PrevTagSizePolicy = iota
	// PrevTagSizeWarn validates the field and reports a mismatch through
	// the Demuxer's OnTagSizeMismatch callback but keeps parsing.
	PrevTagSizeWarn
	// PrevTagSizeStrict returns ErrInvalidData on the first mismatch.
	PrevTagSizeStrict
)

// tagHeaderSize is the fixed 11-byte FLV tag header.
const tagHeaderSize = 11

// ParseTag parses one tag (header + payload) from the front of buf,
// not including the trailing 4-byte PreviousTagSize field. It returns
// the tag and the number of bytes consumed from buf.
func ParseTag(buf []byte) (Tag, int, error) {
	if len(buf) < tagHeaderSize {
		return Tag{}, 0, ErrNeedMoreData
	}

	tagType := TagType(buf[0] & 0x1F)
	dataSize := uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	tsLower := uint32(buf[4])<<16 | uint32(buf[5])<<8 | uint32(buf[6])
	tsUpper := uint32(buf[7])
	timestamp := int32(tsUpper<<24 | tsLower)
	streamID := uint32(buf[8])<<16 | uint32(buf[9])<<8 | uint32(buf[10])

	if dataSize > MaxTagDataSize {
		return Tag{}, 0, fmt.Errorf("%w: tag data_size %d exceeds %d byte bound", ErrInvalidData, dataSize, MaxTagDataSize)
	}

	total := tagHeaderSize + int(dataSize)
	if len(buf) < total {
		return Tag{}, 0, ErrNeedMoreData
	}

	return Tag{
		Type:        tagType,
		TimestampMS: timestamp,
		StreamID:    streamID,
		Data:        buf[tagHeaderSize:total],
	}, total, nil
}

// MarshalTag serializes a Tag to its wire form, including the trailing
// 4-byte PreviousTagSize of this tag (TagSize = 11 + len(Data)).
func MarshalTag(t Tag) []byte {
	dataSize := uint32(len(t.Data))
	out := make([]byte, tagHeaderSize, tagHeaderSize+len(t.Data)+4)
	out[0] = byte(t.Type) & 0x1F
	out[1] = byte(dataSize >> 16)
	out[2] = byte(dataSize >> 8)
	out[3] = byte(dataSize)
	ts := uint32(t.TimestampMS)
	out[4] = byte(ts >> 16)
	out[5] = byte(ts >> 8)
	out[6] = byte(ts)
	out[7] = byte(ts >> 24)
	out[8] = byte(t.StreamID >> 16)
	out[9] = byte(t.StreamID >> 8)
	out[10] = byte(t.StreamID)
	out = append(out, t.Data...)

	prevSize := uint32(len(out))
	var sizeField [4]byte
	binary.BigEndian.PutUint32(sizeField[:], prevSize)
	return append(out, sizeField[:]...)
}

// IsVideoSequenceHeader reports whether a video tag carries an
// AVCDecoderConfigurationRecord / HEVCDecoderConfigurationRecord
// (AVCPacketType / packet type == 0) rather than coded frame data.
func IsVideoSequenceHeader(t Tag) bool {
	if t.Type != TagVideo || len(t.Data) < 2 {
		return false
	}
	return t.Data[1] == 0
}

// IsAudioSequenceHeader reports whether an audio tag carries an
// AudioSpecificConfig (AAC packet type 0) rather than coded audio data.
// Non-AAC codecs have no sequence header and always return false.
func IsAudioSequenceHeader(t Tag) bool {
	if t.Type != TagAudio || len(t.Data) < 2 {
		return false
	}
	soundFormat := t.Data[0] >> 4
	return soundFormat == mediatypes.FLVAudioCodecAAC && t.Data[1] == 0
}

// IsKeyFrame reports whether a video tag is a key frame (FrameType 1),
// per Adobe FLV spec §E.4.3.1.
func IsKeyFrame(t Tag) bool {
	if t.Type != TagVideo || len(t.Data) < 1 {
		return false
	}
	frameType := (t.Data[0] >> 4) & 0x0F
	return frameType == 1
}

// VideoCodecID returns the FLV CodecID nibble from a video tag's first
// byte, or 0 if t is not a video tag.
func VideoCodecID(t Tag) uint8 {
	if t.Type != TagVideo || len(t.Data) < 1 {
		return 0
	}
	return t.Data[0] & 0x0F
}

// AudioCodecID returns the FLV SoundFormat nibble from an audio tag's
// first byte, or 0 if t is not an audio tag.
func AudioCodecID(t Tag) uint8 {
	if t.Type != TagAudio || len(t.Data) < 1 {
		return 0
	}
	return t.Data[0] >> 4
}

// soundRateTable maps the 2-bit SoundRate field to a sample rate in Hz
// (Adobe FLV spec §E.4.2.1). AAC ignores this field (its real rate lives
// in the AudioSpecificConfig) but it is still meaningful for MP3/PCM.
var soundRateTable = [4]int{5500, 11025, 22050, 44100}

// AudioSampleRate returns the sample rate in Hz encoded in an audio
// tag's first byte's SoundRate field.
func AudioSampleRate(t Tag) int {
	if t.Type != TagAudio || len(t.Data) < 1 {
		return 0
	}
	return soundRateTable[(t.Data[0]>>2)&0x03]
}

// AudioSampleSize returns 8 or 16, the bit depth encoded in an audio
// tag's first byte's SoundSize field.
func AudioSampleSize(t Tag) int {
	if t.Type != TagAudio || len(t.Data) < 1 {
		return 0
	}
	if t.Data[0]&0x02 != 0 {
		return 16
	}
	return 8
}

// AudioChannels returns 1 (mono) or 2 (stereo), decoded from an audio
// tag's first byte's SoundType field.
func AudioChannels(t Tag) int {
	if t.Type != TagAudio || len(t.Data) < 1 {
		return 0
	}
	if t.Data[0]&0x01 != 0 {
		return 2
	}
	return 1
}

// Resolution is a decoded video frame size.
type Resolution struct {
	Width  int
	Height int
}

// VideoResolution parses a video sequence header tag's embedded
// AVCDecoderConfigurationRecord or HEVCDecoderConfigurationRecord to
// recover the SPS-coded frame dimensions. It returns the zero
// Resolution if t is not a sequence header or the codec isn't
// AVC/HEVC.
func VideoResolution(t Tag) (Resolution, error) {
	if !IsVideoSequenceHeader(t) || len(t.Data) < 5 {
		return Resolution{}, nil
	}
	codecID := VideoCodecID(t)
	record := t.Data[5:] // skip FrameType/CodecID, AVCPacketType, CompositionTime(3)

	switch mediatypes.VideoFromFLVCodecID(codecID) {
	case mediatypes.VideoH264:
		sps, err := extractAVCSPS(record)
		if err != nil || sps == nil {
			return Resolution{}, err
		}
		var spsp h264.SPS
		if err := spsp.Unmarshal(sps); err != nil {
			return Resolution{}, fmt.Errorf("flvcodec: parsing h264 sps: %w", err)
		}
		return Resolution{Width: spsp.Width(), Height: spsp.Height()}, nil

	case mediatypes.VideoH265:
		sps, err := extractHEVCSPS(record)
		if err != nil || sps == nil {
			return Resolution{}, err
		}
		var spsp h265.SPS
		if err := spsp.Unmarshal(sps); err != nil {
			return Resolution{}, fmt.Errorf("flvcodec: parsing h265 sps: %w", err)
		}
		return Resolution{Width: spsp.Width(), Height: spsp.Height()}, nil

	default:
		return Resolution{}, nil
	}
}

// extractAVCSPS pulls the first SPS NAL unit out of an
// AVCDecoderConfigurationRecord (ISO/IEC 14496-15 §5.2.4.1).
func extractAVCSPS(record []byte) ([]byte, error) {
	if len(record) < 6 {
		return nil, fmt.Errorf("%w: AVCDecoderConfigurationRecord too short", ErrInvalidData)
	}
	numSPS := int(record[5] & 0x1F)
	off := 6
	for i := 0; i < numSPS; i++ {
		if off+2 > len(record) {
			return nil, fmt.Errorf("%w: truncated AVCDecoderConfigurationRecord", ErrInvalidData)
		}
		length := int(binary.BigEndian.Uint16(record[off : off+2]))
		off += 2
		if off+length > len(record) {
			return nil, fmt.Errorf("%w: truncated SPS in AVCDecoderConfigurationRecord", ErrInvalidData)
		}
		if i == 0 {
			return record[off : off+length], nil
		}
		off += length
	}
	return nil, nil
}

// extractHEVCSPS pulls the first SPS NAL unit out of an
// HEVCDecoderConfigurationRecord (ISO/IEC 14496-15 §8.3.3.1.2).
func extractHEVCSPS(record []byte) ([]byte, error) {
	if len(record) < 23 {
		return nil, fmt.Errorf("%w: HEVCDecoderConfigurationRecord too short", ErrInvalidData)
	}
	numArrays := int(record[22])
	off := 23
	for a := 0; a < numArrays; a++ {
		if off+3 > len(record) {
			return nil, fmt.Errorf("%w: truncated HEVCDecoderConfigurationRecord", ErrInvalidData)
		}
		nalType := record[off] & 0x3F
		numNalus := int(binary.BigEndian.Uint16(record[off+1 : off+3]))
		off += 3
		for n := 0; n < numNalus; n++ {
			if off+2 > len(record) {
				return nil, fmt.Errorf("%w: truncated HEVCDecoderConfigurationRecord", ErrInvalidData)
			}
			length := int(binary.BigEndian.Uint16(record[off : off+2]))
			off += 2
			if off+length > len(record) {
				return nil, fmt.Errorf("%w: truncated NAL in HEVCDecoderConfigurationRecord", ErrInvalidData)
			}
			if nalType == 33 && n == 0 { // NAL type 33 = SPS_NUT
				return record[off : off+length], nil
			}
			off += length
		}
	}
	return nil, nil
}
