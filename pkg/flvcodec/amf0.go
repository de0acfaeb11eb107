package flvcodec

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// AMF0 type markers (Adobe AMF0 spec §2.1).
const (
	amf0Number      = 0x00
	amf0Boolean     = 0x01
	amf0String      = 0x02
	amf0Object      = 0x03
	amf0Null        = 0x05
	amf0ECMAArray   = 0x08
	amf0ObjectEnd   = 0x09
	amf0StrictArray = 0x0A
)

var objectEndMarker = []byte{0x00, 0x00, amf0ObjectEnd}

// AMF0Value is a decoded AMF0 value: one of nil, bool, float64, string,
// map[string]AMF0Value (object/ECMA array), or []AMF0Value (strict array).
type AMF0Value any

// DecodeAMF0 decodes a sequence of AMF0 values from buf, returning all of
// them (an onMetaData script-data tag is two values: the string
// "onMetaData" and the metadata object/ECMA array).
func DecodeAMF0(buf []byte) ([]AMF0Value, error) {
	var values []AMF0Value
	for len(buf) > 0 {
		v, n, err := decodeAMF0Value(buf)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		buf = buf[n:]
	}
	return values, nil
}

func decodeAMF0Value(buf []byte) (AMF0Value, int, error) {
	if len(buf) < 1 {
		return nil, 0, fmt.Errorf("%w: empty AMF0 buffer", ErrInvalidData)
	}
	marker := buf[0]
	buf = buf[1:]

	switch marker {
	case amf0Number:
		if len(buf) < 8 {
			return nil, 0, fmt.Errorf("%w: truncated AMF0 number", ErrInvalidData)
		}
		bits := binary.BigEndian.Uint64(buf[:8])
		return math.Float64frombits(bits), 9, nil

	case amf0Boolean:
		if len(buf) < 1 {
			return nil, 0, fmt.Errorf("%w: truncated AMF0 boolean", ErrInvalidData)
		}
		return buf[0] != 0, 2, nil

	case amf0String:
		s, n, err := decodeAMF0String(buf)
		if err != nil {
			return nil, 0, err
		}
		return s, n + 1, nil

	case amf0Null:
		return nil, 1, nil

	case amf0Object:
		m, n, err := decodeAMF0Object(buf)
		if err != nil {
			return nil, 0, err
		}
		return m, n + 1, nil

	case amf0ECMAArray:
		if len(buf) < 4 {
			return nil, 0, fmt.Errorf("%w: truncated AMF0 ECMA array", ErrInvalidData)
		}
		m, n, err := decodeAMF0Object(buf[4:])
		if err != nil {
			return nil, 0, err
		}
		return m, n + 5, nil

	case amf0StrictArray:
		if len(buf) < 4 {
			return nil, 0, fmt.Errorf("%w: truncated AMF0 strict array", ErrInvalidData)
		}
		count := binary.BigEndian.Uint32(buf[:4])
		off := 4
		arr := make([]AMF0Value, 0, count)
		for i := uint32(0); i < count; i++ {
			v, n, err := decodeAMF0Value(buf[off:])
			if err != nil {
				return nil, 0, err
			}
			arr = append(arr, v)
			off += n
		}
		return arr, off + 1, nil

	default:
		return nil, 0, fmt.Errorf("%w: unsupported AMF0 marker 0x%02x", ErrInvalidData, marker)
	}
}

func decodeAMF0String(buf []byte) (string, int, error) {
	if len(buf) < 2 {
		return "", 0, fmt.Errorf("%w: truncated AMF0 string length", ErrInvalidData)
	}
	length := binary.BigEndian.Uint16(buf[:2])
	if len(buf) < 2+int(length) {
		return "", 0, fmt.Errorf("%w: truncated AMF0 string", ErrInvalidData)
	}
	return string(buf[2 : 2+int(length)]), 2 + int(length), nil
}

func decodeAMF0Object(buf []byte) (map[string]AMF0Value, int, error) {
	m := make(map[string]AMF0Value)
	off := 0
	for {
		if off+3 <= len(buf) && buf[off] == 0 && buf[off+1] == 0 && buf[off+2] == amf0ObjectEnd {
			return m, off + 3, nil
		}
		key, n, err := decodeAMF0String(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		v, n, err := decodeAMF0Value(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		m[key] = v
		off += n
	}
}

// EncodeAMF0String encodes s as an AMF0 string value.
func EncodeAMF0String(s string) []byte {
	out := make([]byte, 0, 3+len(s))
	out = append(out, amf0String)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	out = append(out, lenBuf[:]...)
	out = append(out, s...)
	return out
}

// EncodeAMF0Number encodes v as an AMF0 number value.
func EncodeAMF0Number(v float64) []byte {
	out := make([]byte, 9)
	out[0] = amf0Number
	binary.BigEndian.PutUint64(out[1:], math.Float64bits(v))
	return out
}

// EncodeAMF0ECMAArray encodes m as an AMF0 ECMA array, with keys emitted
// in sorted order for deterministic output.
func EncodeAMF0ECMAArray(m map[string]AMF0Value) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []byte{amf0ECMAArray}
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(m)))
	out = append(out, countBuf[:]...)
	for _, k := range keys {
		out = append(out, encodeAMF0PropertyName(k)...)
		out = append(out, encodeAMF0Value(m[k])...)
	}
	out = append(out, objectEndMarker...)
	return out
}

func encodeAMF0PropertyName(k string) []byte {
	out := make([]byte, 2, 2+len(k))
	binary.BigEndian.PutUint16(out, uint16(len(k)))
	return append(out, k...)
}

func encodeAMF0Value(v AMF0Value) []byte {
	switch val := v.(type) {
	case float64:
		return EncodeAMF0Number(val)
	case int:
		return EncodeAMF0Number(float64(val))
	case string:
		return EncodeAMF0String(val)
	case bool:
		b := byte(0)
		if val {
			b = 1
		}
		return []byte{amf0Boolean, b}
	case map[string]AMF0Value:
		return EncodeAMF0ECMAArray(val)
	case []AMF0Value:
		out := []byte{amf0StrictArray}
		var countBuf [4]byte
		binary.BigEndian.PutUint32(countBuf[:], uint32(len(val)))
		out = append(out, countBuf[:]...)
		for _, item := range val {
			out = append(out, encodeAMF0Value(item)...)
		}
		return out
	case nil:
		return []byte{amf0Null}
	default:
		return []byte{amf0Null}
	}
}

// OnMetaDataTag builds a complete FLV script-data tag containing the
// "onMetaData" AMF0 marker followed by an ECMA array of properties.
func OnMetaDataTag(props map[string]AMF0Value, timestampMS int32) Tag {
	data := append(EncodeAMF0String("onMetaData"), EncodeAMF0ECMAArray(props)...)
	return Tag{Type: TagScriptData, TimestampMS: timestampMS, Data: data}
}

// KeyframeIndex is the "keyframes" property of an onMetaData object: two
// parallel arrays of file offsets and their playback times, used by FLV
// players to seek without a full linear scan.
type KeyframeIndex struct {
	Times      []float64
	FilePositions []float64
}

// ToAMF0 converts a KeyframeIndex to the nested AMF0 object onMetaData
// expects under the "keyframes" key.
func (k KeyframeIndex) ToAMF0() map[string]AMF0Value {
	times := make([]AMF0Value, len(k.Times))
	for i, t := range k.Times {
		times[i] = t
	}
	positions := make([]AMF0Value, len(k.FilePositions))
	for i, p := range k.FilePositions {
		positions[i] = p
	}
	return map[string]AMF0Value{
		"times":         times,
		"filepositions": positions,
	}
}

// KeyframeIndexFromAMF0 extracts a KeyframeIndex from a decoded
// onMetaData object's "keyframes" property, if present.
func KeyframeIndexFromAMF0(meta map[string]AMF0Value) (KeyframeIndex, bool) {
	raw, ok := meta["keyframes"]
	if !ok {
		return KeyframeIndex{}, false
	}
	kfObj, ok := raw.(map[string]AMF0Value)
	if !ok {
		return KeyframeIndex{}, false
	}
	times := toFloatSlice(kfObj["times"])
	positions := toFloatSlice(kfObj["filepositions"])
	return KeyframeIndex{Times: times, FilePositions: positions}, true
}

func toFloatSlice(v AMF0Value) []float64 {
	arr, ok := v.([]AMF0Value)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(arr))
	for _, item := range arr {
		if f, ok := item.(float64); ok {
			out = append(out, f)
		}
	}
	return out
}
