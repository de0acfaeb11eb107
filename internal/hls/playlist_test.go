package hls

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const mediaPlaylistFixture = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:100
#EXT-X-KEY:METHOD=AES-128,URI="https://example.com/key1"
#EXTINF:6.006,
seg100.ts
#EXTINF:6.006,
seg101.ts
#EXT-X-DISCONTINUITY
#EXTINF:5.994,
seg102.ts
#EXT-X-ENDLIST
`

const masterPlaylistFixture = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1280x720,CODECS="avc1.4d401f,mp4a.40.2"
720p/playlist.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360,CODECS="avc1.4d401f,mp4a.40.2"
360p/playlist.m3u8
`

func TestIsMasterDistinguishesPlaylistKinds(t *testing.T) {
	assert.True(t, IsMaster([]byte(masterPlaylistFixture)))
	assert.False(t, IsMaster([]byte(mediaPlaylistFixture)))
}

func TestParseMasterExtractsVariants(t *testing.T) {
	mp, err := ParseMaster([]byte(masterPlaylistFixture), "https://example.com/stream/index.m3u8")
	assert.NoError(t, err)
	assert.Len(t, mp.Variants, 2)

	assert.Equal(t, "https://example.com/stream/720p/playlist.m3u8", mp.Variants[0].URI)
	assert.Equal(t, 2800000, mp.Variants[0].Bandwidth)
	assert.Equal(t, 1280, mp.Variants[0].Width)
	assert.Equal(t, 720, mp.Variants[0].Height)
	assert.False(t, mp.Variants[0].AudioOnly)
}

func TestParseMasterRejectsPlaylistWithNoVariants(t *testing.T) {
	_, err := ParseMaster([]byte("#EXTM3U\n"), "https://example.com/index.m3u8")
	assert.ErrorIs(t, err, ErrInvalidPlaylist)
}

func TestParseMediaExtractsSegmentsKeyAndDiscontinuity(t *testing.T) {
	mpl, err := ParseMedia([]byte(mediaPlaylistFixture), "https://example.com/stream/")
	assert.NoError(t, err)

	assert.Equal(t, uint64(100), mpl.MediaSequence)
	assert.Equal(t, 6.0, mpl.TargetDurationS)
	assert.True(t, mpl.EndList)
	assert.Len(t, mpl.Segments, 3)

	first := mpl.Segments[0]
	assert.Equal(t, uint64(100), first.MSN)
	assert.Equal(t, "https://example.com/stream/seg100.ts", first.URI)
	assert.InDelta(t, 6.006, first.DurationS, 0.001)
	assert.NotNil(t, first.Key)
	assert.Equal(t, KeyMethodAES128, first.Key.Method)
	assert.Equal(t, "https://example.com/key1", first.Key.URI)
	assert.False(t, first.Discontinuity)

	third := mpl.Segments[2]
	assert.Equal(t, uint64(102), third.MSN)
	assert.True(t, third.Discontinuity)
	assert.NotNil(t, third.Key, "key carries forward until a new EXT-X-KEY or METHOD=NONE")
}

func TestParseMediaByteRangeContinuesFromPreviousEnd(t *testing.T) {
	data := `#EXTM3U
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-MAP:URI="init.mp4"
#EXT-X-BYTERANGE:1000@0
#EXTINF:4,
fmp4.mp4
#EXT-X-BYTERANGE:2000
#EXTINF:4,
fmp4.mp4
`
	mpl, err := ParseMedia([]byte(data), "https://example.com/")
	assert.NoError(t, err)
	assert.Len(t, mpl.Segments, 2)

	assert.Equal(t, int64(0), mpl.Segments[0].ByteRange.Offset)
	assert.Equal(t, int64(1000), mpl.Segments[0].ByteRange.Length)
	assert.Equal(t, "https://example.com/init.mp4", mpl.Segments[0].MapURI)

	assert.Equal(t, int64(1000), mpl.Segments[1].ByteRange.Offset)
	assert.Equal(t, int64(2000), mpl.Segments[1].ByteRange.Length)
}

func TestParseMediaKeyMethodNoneClearsCurrentKey(t *testing.T) {
	data := `#EXTM3U
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-KEY:METHOD=AES-128,URI="https://example.com/key"
#EXTINF:2,
a.ts
#EXT-X-KEY:METHOD=NONE
#EXTINF:2,
b.ts
`
	mpl, err := ParseMedia([]byte(data), "https://example.com/")
	assert.NoError(t, err)
	assert.NotNil(t, mpl.Segments[0].Key)
	assert.Nil(t, mpl.Segments[1].Key)
}
