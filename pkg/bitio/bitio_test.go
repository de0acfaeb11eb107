package bitio

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderWriterRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteBits(0x1, 1)   // forbidden bit
	w.WriteBits(0x2, 4)   // obu_type
	w.WriteFlag(true)     // extension_flag
	w.WriteFlag(false)    // has_size_field
	w.WriteBit(0)         // reserved

	buf := w.Finish()
	require.Len(t, buf, 1)

	r := NewReader(buf)
	forbidden, err := r.ReadBits(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), forbidden)

	obuType, err := r.ReadBits(4)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), obuType)

	ext, err := r.ReadFlag()
	require.NoError(t, err)
	assert.True(t, ext)

	hasSize, err := r.ReadFlag()
	require.NoError(t, err)
	assert.False(t, hasSize)
}

func TestReaderUnexpectedEOFMidByte(t *testing.T) {
	r := NewReader([]byte{0xFF})
	_, err := r.ReadBits(4)
	require.NoError(t, err)
	_, err = r.ReadBits(8)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestAlignToByte(t *testing.T) {
	r := NewReader([]byte{0xFF, 0xAA})
	_, err := r.ReadBits(3)
	require.NoError(t, err)
	assert.False(t, r.IsAligned())
	r.AlignToByte()
	assert.True(t, r.IsAligned())
	b, err := r.ReadBytes(1)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAA), b[0])
}

func TestLEB128RoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40}
	for _, v := range cases {
		buf := AppendLEB128(nil, v)
		assert.Len(t, buf, LEB128Size(v))
		got, n, err := ReadLEB128(buf)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, len(buf), n)
	}
}

func TestReadLEB128TruncatedIsUnexpectedEOF(t *testing.T) {
	_, _, err := ReadLEB128([]byte{0x80, 0x80})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCRC32Deterministic(t *testing.T) {
	a := CRC32([]byte("hello"))
	b := CRC32([]byte("hello"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, CRC32([]byte("hello!")))
}
