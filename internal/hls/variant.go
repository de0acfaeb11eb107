package hls

import (
	"sort"
	"strings"

	"github.com/bluenviron/gohlslib/v2/pkg/codecs"
)

// VariantPolicy selects a rendition from a master playlist, per
// spec.md §4.10's Bootstrap state.
type VariantPolicy string

const (
	VariantHighestBitrate      VariantPolicy = "highest_bitrate"
	VariantLowestBitrate       VariantPolicy = "lowest_bitrate"
	VariantClosestToBitrate    VariantPolicy = "closest_to_bitrate"
	VariantAudioOnly           VariantPolicy = "audio_only"
	VariantVideoOnly           VariantPolicy = "video_only"
	VariantMatchingResolution  VariantPolicy = "matching_resolution"
	VariantCustom              VariantPolicy = "custom"
)

// SelectVariant picks one Variant from variants per policy. targetBitrate
// is consulted by VariantClosestToBitrate; targetWidth/targetHeight by
// VariantMatchingResolution. VariantCustom always delegates to custom,
// which must be non-nil.
func SelectVariant(policy VariantPolicy, variants []Variant, targetBitrate, targetWidth, targetHeight int, custom func([]Variant) (Variant, error)) (Variant, error) {
	if len(variants) == 0 {
		return Variant{}, ErrNoVariantMatched
	}

	switch policy {
	case VariantHighestBitrate:
		best := variants[0]
		for _, v := range variants[1:] {
			if v.Bandwidth > best.Bandwidth {
				best = v
			}
		}
		return best, nil

	case VariantLowestBitrate:
		best := variants[0]
		for _, v := range variants[1:] {
			if v.Bandwidth < best.Bandwidth {
				best = v
			}
		}
		return best, nil

	case VariantClosestToBitrate:
		best := variants[0]
		bestDelta := abs(best.Bandwidth - targetBitrate)
		for _, v := range variants[1:] {
			if d := abs(v.Bandwidth - targetBitrate); d < bestDelta {
				best, bestDelta = v, d
			}
		}
		return best, nil

	case VariantAudioOnly:
		candidates := filterVariants(variants, func(v Variant) bool { return v.AudioOnly })
		if len(candidates) == 0 {
			return Variant{}, ErrNoVariantMatched
		}
		return lowestBitrate(candidates), nil

	case VariantVideoOnly:
		candidates := filterVariants(variants, func(v Variant) bool { return !v.AudioOnly })
		if len(candidates) == 0 {
			return Variant{}, ErrNoVariantMatched
		}
		return highestBitrate(candidates), nil

	case VariantMatchingResolution:
		best := Variant{}
		bestDelta := -1
		for _, v := range variants {
			if v.Width == 0 || v.Height == 0 {
				continue
			}
			d := abs(v.Width-targetWidth) + abs(v.Height-targetHeight)
			if bestDelta < 0 || d < bestDelta {
				best, bestDelta = v, d
			}
		}
		if bestDelta < 0 {
			return Variant{}, ErrNoVariantMatched
		}
		return best, nil

	case VariantCustom:
		if custom == nil {
			return Variant{}, ErrNoVariantMatched
		}
		return custom(variants)

	default:
		return Variant{}, ErrNoVariantMatched
	}
}

// ParseVariantPolicy maps config.HLSConfig.VariantSelection's string
// value to a VariantPolicy, defaulting to VariantHighestBitrate for an
// unrecognized value.
func ParseVariantPolicy(s string) VariantPolicy {
	switch VariantPolicy(s) {
	case VariantLowestBitrate, VariantClosestToBitrate, VariantAudioOnly,
		VariantVideoOnly, VariantMatchingResolution, VariantCustom:
		return VariantPolicy(s)
	default:
		return VariantHighestBitrate
	}
}

func filterVariants(variants []Variant, keep func(Variant) bool) []Variant {
	out := make([]Variant, 0, len(variants))
	for _, v := range variants {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func highestBitrate(variants []Variant) Variant {
	sorted := append([]Variant(nil), variants...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Bandwidth > sorted[j].Bandwidth })
	return sorted[0]
}

func lowestBitrate(variants []Variant) Variant {
	sorted := append([]Variant(nil), variants...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Bandwidth < sorted[j].Bandwidth })
	return sorted[0]
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// DescribeCodecs maps a master playlist variant's CODECS attribute (RFC
// 8216 §4.4.5.2, e.g. "avc1.640028,mp4a.40.2") to gohlslib's track codec
// vocabulary, for logging and diagnostics only — the orchestrator's own
// segment handling never depends on the returned values' fields, only on
// which concrete type a given entry was recognized as.
func DescribeCodecs(codecsAttr string) []codecs.Codec {
	if codecsAttr == "" {
		return nil
	}

	var out []codecs.Codec
	for _, entry := range strings.Split(codecsAttr, ",") {
		entry = strings.TrimSpace(entry)
		switch {
		case strings.HasPrefix(entry, "avc1"), strings.HasPrefix(entry, "avc3"):
			out = append(out, &codecs.H264{})
		case strings.HasPrefix(entry, "hvc1"), strings.HasPrefix(entry, "hev1"):
			out = append(out, &codecs.H265{})
		case strings.HasPrefix(entry, "mp4a"):
			out = append(out, &codecs.MPEG4Audio{})
		case strings.HasPrefix(entry, "opus"), strings.HasPrefix(entry, "Opus"):
			out = append(out, &codecs.Opus{})
		}
	}
	return out
}

// CodecNames renders DescribeCodecs' output as short human-readable names
// (h264, h265, aac, opus), skipping entries the CODECS string didn't let
// us recognize.
func CodecNames(codecsAttr string) []string {
	described := DescribeCodecs(codecsAttr)
	names := make([]string, 0, len(described))
	for _, c := range described {
		switch c.(type) {
		case *codecs.H264:
			names = append(names, "h264")
		case *codecs.H265:
			names = append(names, "h265")
		case *codecs.MPEG4Audio:
			names = append(names, "aac")
		case *codecs.Opus:
			names = append(names, "opus")
		}
	}
	return names
}
