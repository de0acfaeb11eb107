package hls

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func fixtureVariants() []Variant {
	return []Variant{
		{URI: "1080p", Bandwidth: 5000000, Width: 1920, Height: 1080},
		{URI: "720p", Bandwidth: 2800000, Width: 1280, Height: 720},
		{URI: "360p", Bandwidth: 800000, Width: 640, Height: 360},
		{URI: "audio", Bandwidth: 128000, AudioOnly: true},
	}
}

func TestSelectVariantHighestBitrate(t *testing.T) {
	v, err := SelectVariant(VariantHighestBitrate, fixtureVariants(), 0, 0, 0, nil)
	assert.NoError(t, err)
	assert.Equal(t, "1080p", v.URI)
}

func TestSelectVariantLowestBitrate(t *testing.T) {
	v, err := SelectVariant(VariantLowestBitrate, fixtureVariants(), 0, 0, 0, nil)
	assert.NoError(t, err)
	assert.Equal(t, "audio", v.URI)
}

func TestSelectVariantClosestToBitrate(t *testing.T) {
	v, err := SelectVariant(VariantClosestToBitrate, fixtureVariants(), 3000000, 0, 0, nil)
	assert.NoError(t, err)
	assert.Equal(t, "720p", v.URI)
}

func TestSelectVariantAudioOnly(t *testing.T) {
	v, err := SelectVariant(VariantAudioOnly, fixtureVariants(), 0, 0, 0, nil)
	assert.NoError(t, err)
	assert.Equal(t, "audio", v.URI)
}

func TestSelectVariantAudioOnlyNoMatch(t *testing.T) {
	_, err := SelectVariant(VariantAudioOnly, fixtureVariants()[:3], 0, 0, 0, nil)
	assert.ErrorIs(t, err, ErrNoVariantMatched)
}

func TestSelectVariantMatchingResolution(t *testing.T) {
	v, err := SelectVariant(VariantMatchingResolution, fixtureVariants(), 0, 1300, 730, nil)
	assert.NoError(t, err)
	assert.Equal(t, "720p", v.URI)
}

func TestSelectVariantCustom(t *testing.T) {
	v, err := SelectVariant(VariantCustom, fixtureVariants(), 0, 0, 0, func(vs []Variant) (Variant, error) {
		return vs[2], nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "360p", v.URI)
}

func TestSelectVariantCustomRequiresFunc(t *testing.T) {
	_, err := SelectVariant(VariantCustom, fixtureVariants(), 0, 0, 0, nil)
	assert.ErrorIs(t, err, ErrNoVariantMatched)
}

func TestSelectVariantEmptyList(t *testing.T) {
	_, err := SelectVariant(VariantHighestBitrate, nil, 0, 0, 0, nil)
	assert.ErrorIs(t, err, ErrNoVariantMatched)
}

func TestParseVariantPolicyRecognizesEachValue(t *testing.T) {
	assert.Equal(t, VariantLowestBitrate, ParseVariantPolicy("lowest_bitrate"))
	assert.Equal(t, VariantClosestToBitrate, ParseVariantPolicy("closest_to_bitrate"))
	assert.Equal(t, VariantAudioOnly, ParseVariantPolicy("audio_only"))
	assert.Equal(t, VariantVideoOnly, ParseVariantPolicy("video_only"))
	assert.Equal(t, VariantMatchingResolution, ParseVariantPolicy("matching_resolution"))
	assert.Equal(t, VariantCustom, ParseVariantPolicy("custom"))
}

func TestParseVariantPolicyFallsBackToHighestBitrate(t *testing.T) {
	assert.Equal(t, VariantHighestBitrate, ParseVariantPolicy("highest_bitrate"))
	assert.Equal(t, VariantHighestBitrate, ParseVariantPolicy("nonsense"))
	assert.Equal(t, VariantHighestBitrate, ParseVariantPolicy(""))
}
