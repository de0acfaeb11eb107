// Package hls implements HLSOrchestrator: playlist refresh, segment
// scheduling, concurrent fetch with retry/backoff, decryption,
// prefetch, reorder, and gap-skip policy, per spec.md §4.10. The
// playlist parsing in this file follows the line-scanning idiom of the
// teacher's own internal/relay/hls_demuxer.go parsePlaylist, extended
// to cover master-playlist variant selection, AES-128 key info,
// byte-range addressing, discontinuities, and fMP4 init segments,
// which that single-variant live-relay demuxer never needed.
package hls

import (
	"bufio"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// KeyMethod identifies an EXT-X-KEY encryption method.
type KeyMethod string

const (
	KeyMethodNone      KeyMethod = "NONE"
	KeyMethodAES128    KeyMethod = "AES-128"
	KeyMethodSampleAES KeyMethod = "SAMPLE-AES"
)

// KeyInfo describes the decryption key governing one or more segments.
type KeyInfo struct {
	Method KeyMethod
	URI    string
	IV     []byte // 16 bytes if present in the playlist, else nil (derive from MSN)
}

// ByteRange is an HLS EXT-X-BYTERANGE addressed sub-range of a
// resource.
type ByteRange struct {
	Length int64
	Offset int64
}

// SegmentInfo is one scheduled media segment, constant once parsed.
type SegmentInfo struct {
	MSN           uint64
	DurationS     float32
	URI           string
	ByteRange     *ByteRange
	Key           *KeyInfo
	Discontinuity bool
	MapURI        string // non-empty when an EXT-X-MAP init segment governs this segment
}

// MediaPlaylist is a parsed media (leaf) playlist.
type MediaPlaylist struct {
	TargetDurationS float64
	MediaSequence   uint64
	Segments        []SegmentInfo
	EndList         bool // true for VOD ("#EXT-X-ENDLIST" present)
	Independent     bool // EXT-X-INDEPENDENT-SEGMENTS present
}

// Variant is one rendition listed in a master playlist's
// EXT-X-STREAM-INF.
type Variant struct {
	URI        string
	Bandwidth  int
	Codecs     string
	Resolution string // "WxH", empty if unspecified
	Width      int
	Height     int
	AudioOnly  bool
}

// MasterPlaylist is a parsed master playlist: a menu of Variants, each
// resolving to a MediaPlaylist.
type MasterPlaylist struct {
	Variants []Variant
}

// IsMaster reports whether data looks like a master playlist (contains
// at least one EXT-X-STREAM-INF tag) rather than a media playlist.
func IsMaster(data []byte) bool {
	return strings.Contains(string(data), "#EXT-X-STREAM-INF:")
}

// resolveURI resolves a possibly-relative URI against baseURL.
func resolveURI(baseURL, uri string) string {
	if uri == "" {
		return ""
	}
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return uri
	}
	ref, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return base.ResolveReference(ref).String()
}

// attr extracts a quoted or bare attribute value from an HLS tag's
// attribute list, e.g. attr(`BANDWIDTH=1280000,CODECS="avc1.4d401f"`, "CODECS") == `avc1.4d401f`.
func attr(attrs, name string) string {
	idx := 0
	for idx < len(attrs) {
		eq := strings.IndexByte(attrs[idx:], '=')
		if eq < 0 {
			break
		}
		key := strings.TrimSpace(attrs[idx : idx+eq])
		rest := attrs[idx+eq+1:]

		var value string
		var consumed int
		if len(rest) > 0 && rest[0] == '"' {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				break
			}
			value = rest[1 : 1+end]
			consumed = end + 2
		} else {
			end := strings.IndexByte(rest, ',')
			if end < 0 {
				end = len(rest)
			}
			value = rest[:end]
			consumed = end
		}

		if strings.EqualFold(key, name) {
			return value
		}

		idx = idx + eq + 1 + consumed
		for idx < len(attrs) && attrs[idx] == ',' {
			idx++
		}
	}
	return ""
}

// ParseMaster parses a master playlist, resolving variant URIs against
// baseURL.
func ParseMaster(data []byte, baseURL string) (*MasterPlaylist, error) {
	mp := &MasterPlaylist{}
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var pending *Variant
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			attrs := strings.TrimPrefix(line, "#EXT-X-STREAM-INF:")
			v := Variant{Codecs: attr(attrs, "CODECS")}
			if bw := attr(attrs, "BANDWIDTH"); bw != "" {
				v.Bandwidth, _ = strconv.Atoi(bw)
			}
			if res := attr(attrs, "RESOLUTION"); res != "" {
				v.Resolution = res
				if w, h, ok := strings.Cut(res, "x"); ok {
					v.Width, _ = strconv.Atoi(w)
					v.Height, _ = strconv.Atoi(h)
				}
			}
			v.AudioOnly = v.Resolution == "" && !strings.Contains(v.Codecs, "avc") && !strings.Contains(v.Codecs, "hvc") && !strings.Contains(v.Codecs, "hev")
			pending = &v
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if pending != nil {
			pending.URI = resolveURI(baseURL, line)
			mp.Variants = append(mp.Variants, *pending)
			pending = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("hls: scanning master playlist: %w", err)
	}
	if len(mp.Variants) == 0 {
		return nil, fmt.Errorf("hls: %w: no variants found", ErrInvalidPlaylist)
	}
	return mp, nil
}

// ParseMedia parses a media (leaf) playlist, resolving segment and key
// URIs against baseURL.
func ParseMedia(data []byte, baseURL string) (*MediaPlaylist, error) {
	mpl := &MediaPlaylist{}
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		mediaSequence  uint64
		haveFirstMSN   bool
		currentDur     float64
		currentDiscont bool
		currentKey     *KeyInfo
		currentMap     string
		byteRangeNext  *ByteRange
		byteRangeBase  int64
		nextMSN        uint64
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			v, err := strconv.ParseUint(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"), 10, 64)
			if err == nil {
				mediaSequence = v
				haveFirstMSN = true
				nextMSN = v
			}
			continue

		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			v, err := strconv.ParseFloat(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"), 64)
			if err == nil {
				mpl.TargetDurationS = v
			}
			continue

		case strings.HasPrefix(line, "#EXT-X-ENDLIST"):
			mpl.EndList = true
			continue

		case strings.HasPrefix(line, "#EXT-X-INDEPENDENT-SEGMENTS"):
			mpl.Independent = true
			continue

		case strings.HasPrefix(line, "#EXT-X-DISCONTINUITY"):
			currentDiscont = true
			continue

		case strings.HasPrefix(line, "#EXT-X-KEY:"):
			attrs := strings.TrimPrefix(line, "#EXT-X-KEY:")
			method := KeyMethod(attr(attrs, "METHOD"))
			if method == "" || method == KeyMethodNone {
				currentKey = nil
				continue
			}
			ki := &KeyInfo{Method: method, URI: resolveURI(baseURL, attr(attrs, "URI"))}
			if ivHex := attr(attrs, "IV"); ivHex != "" {
				iv, err := parseHexIV(ivHex)
				if err == nil {
					ki.IV = iv
				}
			}
			currentKey = ki
			continue

		case strings.HasPrefix(line, "#EXT-X-MAP:"):
			attrs := strings.TrimPrefix(line, "#EXT-X-MAP:")
			currentMap = resolveURI(baseURL, attr(attrs, "URI"))
			continue

		case strings.HasPrefix(line, "#EXT-X-BYTERANGE:"):
			spec := strings.TrimPrefix(line, "#EXT-X-BYTERANGE:")
			length, offset, ok := parseByteRange(spec, byteRangeBase)
			if ok {
				byteRangeNext = &ByteRange{Length: length, Offset: offset}
			}
			continue

		case strings.HasPrefix(line, "#EXTINF:"):
			durStr := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.IndexByte(durStr, ','); idx >= 0 {
				durStr = durStr[:idx]
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(durStr), 64)
			if err == nil {
				currentDur = v
			}
			continue

		case strings.HasPrefix(line, "#"):
			continue

		default:
			msn := nextMSN
			if !haveFirstMSN {
				msn = mediaSequence + uint64(len(mpl.Segments))
			}
			seg := SegmentInfo{
				MSN:           msn,
				DurationS:     float32(currentDur),
				URI:           resolveURI(baseURL, line),
				Key:           currentKey,
				Discontinuity: currentDiscont,
				MapURI:        currentMap,
			}
			if byteRangeNext != nil {
				seg.ByteRange = byteRangeNext
				byteRangeBase = byteRangeNext.Offset + byteRangeNext.Length
				byteRangeNext = nil
			}
			mpl.Segments = append(mpl.Segments, seg)

			currentDur = 0
			currentDiscont = false
			nextMSN = msn + 1
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("hls: scanning media playlist: %w", err)
	}

	mpl.MediaSequence = mediaSequence
	return mpl, nil
}

// parseByteRange parses an EXT-X-BYTERANGE value "length[@offset]". When
// offset is omitted, it continues from prevEnd (the end of the
// previously addressed range), per the HLS spec.
func parseByteRange(spec string, prevEnd int64) (length, offset int64, ok bool) {
	parts := strings.SplitN(spec, "@", 2)
	l, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if len(parts) == 2 {
		o, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return 0, 0, false
		}
		return l, o, true
	}
	return l, prevEnd, true
}

func parseHexIV(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("hls: odd-length IV hex")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		var b int
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return nil, err
		}
		out[i] = byte(b)
	}
	return out, nil
}
