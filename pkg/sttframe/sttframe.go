// Package sttframe implements the Douyu "STT" danmu (chat) wire framing:
// a length-prefixed, escaped packet format carried over a persistent
// TCP connection, used to submit and receive chat commands.
package sttframe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
	"strings"
)

// Magic is the fixed 4-byte client/server protocol tag that follows the
// two length fields in every packet.
const Magic uint32 = 689

// ErrInvalidData is returned when a packet's two length fields disagree,
// or declare a size inconsistent with the buffer.
var ErrInvalidData = errors.New("sttframe: invalid packet framing")

const headerSize = 4 + 4 + 4 // msg_len, msg_len (repeated), magic
const minPacketSize = headerSize + 1  // +1 for the mandatory trailing NUL

// escape/unescape rules: '@' in a key or value is escaped as "@A" and
// '/' as "@S", so data bytes are never mistaken for the "@=" and "/"
// separators of an Encode body.
const (
	escapeChar   = '@'
	atEscaped    = 'A'
	slashChar    = '/'
	slashEscaped = 'S'
)

// Escape applies the STT escaping rules to one key or value; Encode calls
// it before joining the entries of a body.
func Escape(payload []byte) []byte {
	out := make([]byte, 0, len(payload))
	for _, b := range payload {
		switch b {
		case escapeChar:
			out = append(out, escapeChar, atEscaped)
		case slashChar:
			out = append(out, escapeChar, slashEscaped)
		default:
			out = append(out, b)
		}
	}
	return out
}

// Unescape reverses Escape, decoding "@A" back to '@' and "@S" back to
// '/'. A trailing lone '@' (an incomplete escape sequence) is passed
// through unchanged rather than dropped, so Unescape never loses bytes.
func Unescape(payload []byte) []byte {
	out := make([]byte, 0, len(payload))
	for i := 0; i < len(payload); i++ {
		if payload[i] == escapeChar && i+1 < len(payload) {
			switch payload[i+1] {
			case atEscaped:
				out = append(out, escapeChar)
				i++
				continue
			case slashEscaped:
				out = append(out, slashChar)
				i++
				continue
			}
		}
		out = append(out, payload[i])
	}
	return out
}

// CreatePacket wraps a command payload into a complete wire packet:
// [msg_len u32 LE][msg_len u32 LE][magic u32 LE][payload][0x00].
// msg_len is the length of everything after the two length fields,
// i.e. 4 (magic) + len(payload) + 1 (trailing NUL). The payload is
// written unchanged: an Encode body already carries its escaping.
func CreatePacket(payload []byte) []byte {
	msgLen := uint32(4 + len(payload) + 1)

	buf := make([]byte, 0, 8+msgLen)
	var lenField [4]byte
	binary.LittleEndian.PutUint32(lenField[:], msgLen)
	buf = append(buf, lenField[:]...)
	buf = append(buf, lenField[:]...)

	var magicField [4]byte
	binary.LittleEndian.PutUint32(magicField[:], Magic)
	buf = append(buf, magicField[:]...)

	buf = append(buf, payload...)
	buf = append(buf, 0x00)
	return buf
}

// ParsePacket attempts to parse one complete packet from the front of
// buf. It returns the payload as carried in the packet (not unescaped;
// Decode unescapes each key and value), the number of bytes
// consumed from buf, and ok=false if buf does not yet contain a
// complete packet (the caller should read more data and retry) or if
// the framing is malformed, which can be distinguished by checking the
// buffer length against minPacketSize/the declared msg_len: a short
// buffer means "need more data", a buffer long enough to contain the
// declared length but with disagreeing fields means corruption.
func ParsePacket(buf []byte) (payload []byte, consumed int, ok bool, err error) {
	if len(buf) < headerSize {
		return nil, 0, false, nil
	}

	msgLen1 := binary.LittleEndian.Uint32(buf[0:4])
	msgLen2 := binary.LittleEndian.Uint32(buf[4:8])
	magic := binary.LittleEndian.Uint32(buf[8:12])

	total := 8 + int(msgLen1)
	if len(buf) < total {
		return nil, 0, false, nil
	}

	if msgLen1 != msgLen2 {
		return nil, 0, false, ErrInvalidData
	}
	if magic != Magic {
		return nil, 0, false, ErrInvalidData
	}
	if msgLen1 < 5 { // must hold at least magic-sized remainder... already consumed; check trailing NUL instead
		return nil, 0, false, ErrInvalidData
	}
	if buf[total-1] != 0x00 {
		return nil, 0, false, ErrInvalidData
	}

	payload = append([]byte(nil), buf[12:total-1]...)
	return payload, total, true, nil
}

// SplitPackets repeatedly parses packets from buf until no complete
// packet remains, returning the decoded payloads and any unconsumed
// trailing bytes (a partial packet awaiting more data).
func SplitPackets(buf []byte) (payloads [][]byte, remainder []byte, err error) {
	for {
		p, n, ok, perr := ParsePacket(buf)
		if perr != nil {
			return payloads, buf, perr
		}
		if !ok {
			return payloads, buf, nil
		}
		payloads = append(payloads, p)
		buf = buf[n:]
	}
}

// Encode serializes a string-to-string mapping into the STT wire body
// "key@=value/key@=value/…", escaping each key and value independently
// so that a literal '@' or '/' in the data can never be mistaken for the
// "@=" pair delimiter or the "/" entry terminator. Keys are emitted in
// sorted order so Encode is deterministic.
func Encode(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		buf.Write(Escape([]byte(k)))
		buf.WriteString("@=")
		buf.Write(Escape([]byte(m[k])))
		buf.WriteByte('/')
	}
	return buf.String()
}

// Decode reverses Encode, splitting the body on its unescaped "/" entry
// terminators and its unescaped "@=" key/value delimiters, then
// unescaping each key and value. A malformed entry with no "@=" is
// skipped rather than erroring, matching the framer's general tolerance
// for partial/garbled chat traffic.
func Decode(body string) map[string]string {
	m := make(map[string]string)
	for _, entry := range strings.Split(body, "/") {
		if entry == "" {
			continue
		}
		idx := strings.Index(entry, "@=")
		if idx < 0 {
			continue
		}
		key := Unescape([]byte(entry[:idx]))
		val := Unescape([]byte(entry[idx+2:]))
		m[string(key)] = string(val)
	}
	return m
}

// HeartbeatPayload is the command body Douyu clients send as a keep-alive
// on an idle connection: the single-entry mapping {"type": "mrkl"}.
var HeartbeatPayload = []byte(Encode(map[string]string{"type": "mrkl"}))

// HeartbeatPacket returns the exact byte sequence of a heartbeat packet,
// for connections that need to send one on a fixed interval.
func HeartbeatPacket() []byte {
	return CreatePacket(HeartbeatPayload)
}

// IsHeartbeat reports whether a packet payload is the heartbeat command.
func IsHeartbeat(payload []byte) bool {
	return bytes.Equal(payload, HeartbeatPayload)
}
