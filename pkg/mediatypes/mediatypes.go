// Package mediatypes holds the codec and container identifiers shared by
// the TS, OBU, and FLV codecs: MPEG-TS stream_type values, FLV CodecID
// nibbles, and the small Video/Audio enums used to tag a recorded track
// without pulling in any encoder or transcoding concern.
package mediatypes

// Video identifies a video codec carried in a TS, FLV, or HLS stream.
type Video string

const (
	VideoUnknown Video = ""
	VideoH264    Video = "h264"
	VideoH265    Video = "h265"
	VideoAV1     Video = "av1"
)

// Audio identifies an audio codec.
type Audio string

const (
	AudioUnknown Audio = ""
	AudioAAC     Audio = "aac"
	AudioMP3     Audio = "mp3"
	AudioAC3     Audio = "ac3"
	AudioEAC3    Audio = "eac3"
	AudioOpus    Audio = "opus"
)

// MPEG-TS stream_type values (ISO/IEC 13818-1 table 2-34, plus the
// registered private values used by the codecs this module handles).
const (
	StreamTypeMPEG1Video uint8 = 0x01
	StreamTypeMPEG2Video uint8 = 0x02
	StreamTypeMP3        uint8 = 0x03
	StreamTypeAAC        uint8 = 0x0F
	StreamTypeAACLATM    uint8 = 0x11
	StreamTypeH264       uint8 = 0x1B
	StreamTypeHEVC       uint8 = 0x24
	StreamTypeAV1        uint8 = 0x06 // registration descriptor "AV01" required to disambiguate from 0x06 generic private data
	StreamTypeAC3        uint8 = 0x81
	StreamTypeEAC3       uint8 = 0x87
)

// VideoFromStreamType maps an MPEG-TS stream_type to a Video codec, or
// VideoUnknown if the type is not a video codec this module understands.
func VideoFromStreamType(st uint8) Video {
	switch st {
	case StreamTypeH264:
		return VideoH264
	case StreamTypeHEVC:
		return VideoH265
	case StreamTypeAV1:
		return VideoAV1
	default:
		return VideoUnknown
	}
}

// AudioFromStreamType maps an MPEG-TS stream_type to an Audio codec, or
// AudioUnknown if the type is not an audio codec this module understands.
func AudioFromStreamType(st uint8) Audio {
	switch st {
	case StreamTypeAAC, StreamTypeAACLATM:
		return AudioAAC
	case StreamTypeMP3:
		return AudioMP3
	case StreamTypeAC3:
		return AudioAC3
	case StreamTypeEAC3:
		return AudioEAC3
	default:
		return AudioUnknown
	}
}

// FLV CodecID nibble values (Adobe FLV spec §E.4.3.1) for the video tag
// header, and SoundFormat nibble values (§E.4.2.1) for the audio tag
// header.
const (
	FLVVideoCodecAVC  uint8 = 7
	FLVVideoCodecHEVC uint8 = 12 // enhanced RTMP / FLV HEVC extension, ex-FourCC "hvc1"
	FLVVideoCodecAV1  uint8 = 13 // enhanced RTMP / FLV AV1 extension, ex-FourCC "av01"

	FLVAudioCodecAAC  uint8 = 10
	FLVAudioCodecMP3  uint8 = 2
	FLVAudioCodecPCM  uint8 = 0
)

// VideoFromFLVCodecID maps an FLV video CodecID nibble to a Video codec.
func VideoFromFLVCodecID(id uint8) Video {
	switch id {
	case FLVVideoCodecAVC:
		return VideoH264
	case FLVVideoCodecHEVC:
		return VideoH265
	case FLVVideoCodecAV1:
		return VideoAV1
	default:
		return VideoUnknown
	}
}

// AudioFromFLVCodecID maps an FLV audio SoundFormat nibble to an Audio codec.
func AudioFromFLVCodecID(id uint8) Audio {
	switch id {
	case FLVAudioCodecAAC:
		return AudioAAC
	case FLVAudioCodecMP3:
		return AudioMP3
	default:
		return AudioUnknown
	}
}

// FLVCodecIDFromVideo is the inverse of VideoFromFLVCodecID, used when
// building an onMetaData block's videocodecid property from a rollup's
// observed codec.
func FLVCodecIDFromVideo(v Video) uint8 {
	switch v {
	case VideoH264:
		return FLVVideoCodecAVC
	case VideoH265:
		return FLVVideoCodecHEVC
	case VideoAV1:
		return FLVVideoCodecAV1
	default:
		return 0
	}
}

// FLVCodecIDFromAudio is the inverse of AudioFromFLVCodecID.
func FLVCodecIDFromAudio(a Audio) uint8 {
	switch a {
	case AudioAAC:
		return FLVAudioCodecAAC
	case AudioMP3:
		return FLVAudioCodecMP3
	default:
		return 0
	}
}
