package sttframe

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	cases := []string{
		"plain text",
		"has @ at sign",
		"has / slash",
		"mix @/@/ of both",
		"type@=mrkl/",
	}
	for _, c := range cases {
		escaped := Escape([]byte(c))
		got := Unescape(escaped)
		assert.Equal(t, c, string(got))
	}
}

func TestEscapeUnescapeFullUnicodeRange(t *testing.T) {
	var buf []byte
	for r := rune(0); r <= 0x2FFF; r++ {
		if !utf8.ValidRune(r) {
			continue
		}
		var tmp [4]byte
		n := utf8.EncodeRune(tmp[:], r)
		buf = append(buf, tmp[:n]...)
	}
	escaped := Escape(buf)
	got := Unescape(escaped)
	assert.Equal(t, buf, got)
}

func TestEncodeDecodeMapRoundTrip(t *testing.T) {
	cases := []map[string]string{
		{},
		{"type": "mrkl"},
		{"type": "chatmsg", "cid": "123", "txt": "hello world"},
		{"type": "chatmsg", "txt": "has @ at sign and / slash"},
		{"nc": "1", "txt": "mix @/@/ of both @ and / chars"},
	}
	for _, m := range cases {
		got := Decode(Encode(m))
		assert.Equal(t, m, got)
	}
}

func TestEncodeProducesKeyEqualsValueSlashFormat(t *testing.T) {
	got := Encode(map[string]string{"type": "mrkl"})
	assert.Equal(t, "type@=mrkl/", got)
}

func TestCreateParsePacketRoundTrip(t *testing.T) {
	payload := []byte("type@=chatmsg/cid@=123/txt@=hello world/")
	packet := CreatePacket(payload)

	got, consumed, ok, err := ParsePacket(packet)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, len(packet), consumed)
	assert.Equal(t, payload, got)
}

func TestParsePacketNeedsMoreData(t *testing.T) {
	packet := CreatePacket([]byte("hello"))
	_, _, ok, err := ParsePacket(packet[:len(packet)-2])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParsePacketRejectsBadMagic(t *testing.T) {
	packet := CreatePacket([]byte("hello"))
	packet[8] ^= 0xFF
	_, _, _, err := ParsePacket(packet)
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestSplitPacketsMultiple(t *testing.T) {
	var stream []byte
	stream = append(stream, CreatePacket([]byte("a"))...)
	stream = append(stream, CreatePacket([]byte("b"))...)
	stream = append(stream, []byte{0x01, 0x02}...) // partial trailing packet

	payloads, remainder, err := SplitPackets(stream)
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	assert.Equal(t, []byte("a"), payloads[0])
	assert.Equal(t, []byte("b"), payloads[1])
	assert.Equal(t, []byte{0x01, 0x02}, remainder)
}

func TestHeartbeatPacketBytesAndDetection(t *testing.T) {
	packet := HeartbeatPacket()
	payload, _, ok, err := ParsePacket(packet)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, IsHeartbeat(payload))
}
