// Package analyzer rolls up a stream of parsed FLV tags into summary
// statistics: tag counts and sizes, duration, bitrate, frame rate,
// resolution, and a keyframe index for fast seeking. It is owned by a
// single writer task and is not safe for concurrent use.
package analyzer

import (
	"github.com/streamkeep/corerec/pkg/flvcodec"
	"github.com/streamkeep/corerec/pkg/mediatypes"
)

// KeyframeEntry is one entry in the ordered keyframe index: a playback
// offset in seconds and the byte offset of the tag in the output file.
type KeyframeEntry struct {
	Seconds    float64
	ByteOffset int64
}

// Stats is the statistics rollup produced by an Analyzer.
type Stats struct {
	VideoTagCount int
	AudioTagCount int
	TotalBytes    int64

	FirstKeyframeTimestampMS int64
	LastVideoTimestampMS     int64
	LastTimestampMS          int64
	haveFirstKeyframe        bool

	VideoCodec mediatypes.Video
	AudioCodec mediatypes.Audio
	Width      int
	Height     int

	Keyframes []KeyframeEntry
}

// DurationSeconds is the rollup's duration, converted from the last seen
// tag timestamp (milliseconds) to seconds.
func (s Stats) DurationSeconds() float64 {
	return float64(s.LastTimestampMS) / 1000.0
}

// BitrateBitsPerSecond is TotalBytes*8/duration, or 0 if no duration has
// elapsed yet (avoids a divide-by-zero on the very first tag).
func (s Stats) BitrateBitsPerSecond() float64 {
	dur := s.DurationSeconds()
	if dur <= 0 {
		return 0
	}
	return float64(s.TotalBytes) * 8 / dur
}

// FrameRate is video_tag_count*1000/(last_video_ts - first_keyframe_ts).
// The denominator is the plain difference of the two timestamps; no
// clamp is applied to either timestamp before subtracting. It returns 0
// when no keyframe has been seen yet or the span is non-positive, rather
// than dividing by zero or returning a negative rate.
func (s Stats) FrameRate() float64 {
	if !s.haveFirstKeyframe {
		return 0
	}
	span := s.LastVideoTimestampMS - s.FirstKeyframeTimestampMS
	if span <= 0 || s.VideoTagCount == 0 {
		return 0
	}
	return float64(s.VideoTagCount) * 1000 / float64(span)
}

// Analyzer ingests tags one at a time and maintains a running Stats.
type Analyzer struct {
	stats Stats
}

// New returns a freshly reset Analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// Ingest folds one tag into the running statistics. byteOffset is the
// tag's starting offset in the output file, used to build the keyframe
// index.
func (a *Analyzer) Ingest(tag flvcodec.Tag, byteOffset int64) {
	tagSize := int64(len(tag.Data))
	a.stats.TotalBytes += tagSize
	if int64(tag.TimestampMS) > a.stats.LastTimestampMS {
		a.stats.LastTimestampMS = int64(tag.TimestampMS)
	}

	switch tag.Type {
	case flvcodec.TagVideo:
		a.stats.VideoTagCount++
		if int64(tag.TimestampMS) > a.stats.LastVideoTimestampMS {
			a.stats.LastVideoTimestampMS = int64(tag.TimestampMS)
		}

		if a.stats.VideoCodec == mediatypes.VideoUnknown {
			a.stats.VideoCodec = mediatypes.VideoFromFLVCodecID(flvcodec.VideoCodecID(tag))
		}
		if a.stats.Width == 0 {
			if res, err := flvcodec.VideoResolution(tag); err == nil && res.Width > 0 {
				a.stats.Width = res.Width
				a.stats.Height = res.Height
			}
		}

		if flvcodec.IsKeyFrame(tag) && !flvcodec.IsVideoSequenceHeader(tag) {
			if !a.stats.haveFirstKeyframe {
				a.stats.FirstKeyframeTimestampMS = int64(tag.TimestampMS)
				a.stats.haveFirstKeyframe = true
			}
			a.stats.Keyframes = append(a.stats.Keyframes, KeyframeEntry{
				Seconds:    float64(tag.TimestampMS) / 1000.0,
				ByteOffset: byteOffset,
			})
		}

	case flvcodec.TagAudio:
		a.stats.AudioTagCount++
		if a.stats.AudioCodec == mediatypes.AudioUnknown {
			a.stats.AudioCodec = mediatypes.AudioFromFLVCodecID(flvcodec.AudioCodecID(tag))
		}
	}
}

// Stats returns a snapshot of the current rollup.
func (a *Analyzer) Stats() Stats {
	return a.stats
}

// Reset clears all accumulated statistics, returning the Analyzer to its
// initial state. Idempotent: calling Reset on a fresh Analyzer is a
// no-op.
func (a *Analyzer) Reset() {
	a.stats = Stats{}
}
