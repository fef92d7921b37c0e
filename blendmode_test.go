package unblending

import (
	"testing"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeparableBlends(t *testing.T) {
	cb := colorful.Color{R: 0.5, G: 0.2, B: 1}
	cs := colorful.Color{R: 0.4, G: 0.8, B: 0}
	tests := []struct {
		mode BlendMode
		want colorful.Color
	}{
		{Normal, cs},
		{Multiply, colorful.Color{R: 0.2, G: 0.16, B: 0}},
		{Screen, colorful.Color{R: 0.7, G: 0.84, B: 1}},
		{Darken, colorful.Color{R: 0.4, G: 0.2, B: 0}},
		{Lighten, colorful.Color{R: 0.5, G: 0.8, B: 1}},
		{Difference, colorful.Color{R: 0.1, G: 0.6, B: 1}},
		{Exclusion, colorful.Color{R: 0.5, G: 0.68, B: 1}},
		{HardLight, colorful.Color{R: 0.4, G: 0.68, B: 0}},
		{Overlay, colorful.Color{R: 0.4, G: 0.32, B: 1}},
		{ColorDodge, colorful.Color{R: 0.5 / 0.6, G: 1, B: 1}},
		{ColorBurn, colorful.Color{R: 0, G: 0, B: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			got := tt.mode.blend(cb, cs)
			assert.InDelta(t, tt.want.R, got.R, 1e-12)
			assert.InDelta(t, tt.want.G, got.G, 1e-12)
			assert.InDelta(t, tt.want.B, got.B, 1e-12)
		})
	}
}

func TestSoftLight(t *testing.T) {
	assert.InDelta(t, 0.5-0.6*0.25, softLight(0.5, 0.2), 1e-12)
	assert.InDelta(t, 0.5+0.6*(0.70710678118654757-0.5), softLight(0.5, 0.8), 1e-12)
	assert.InDelta(t, 0.0, softLight(0, 1), 1e-12)
}

func TestNonSeparableBlends(t *testing.T) {
	cb := colorful.Color{R: 0.2, G: 0.4, B: 0.6}
	cs := colorful.Color{R: 0.5, G: 0.5, B: 0.5}

	got := Luminosity.blend(cb, cs)
	assert.InDelta(t, lum(cs), lum(got), 1e-9)

	for _, m := range []BlendMode{Hue, Saturation, Color} {
		got := m.blend(cb, colorful.Color{R: 0.9, G: 0.1, B: 0.3})
		assert.InDelta(t, lum(cb), lum(got), 1e-9, m.String())
	}

	// A gray source has no saturation to give.
	got = Saturation.blend(cb, cs)
	assert.InDelta(t, got.R, got.G, 1e-12)
	assert.InDelta(t, got.G, got.B, 1e-12)
}

func TestClipColorStaysInGamut(t *testing.T) {
	c := setLum(colorful.Color{R: 1, G: 0, B: 0}, 0.9)
	for _, v := range []float64{c.R, c.G, c.B} {
		assert.GreaterOrEqual(t, v, -1e-12)
		assert.LessOrEqual(t, v, 1+1e-12)
	}
	assert.InDelta(t, 0.9, lum(c), 1e-9)
}

func TestParseBlendMode(t *testing.T) {
	for _, m := range BlendModes() {
		got, err := ParseBlendMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	for _, s := range []string{"color-dodge", "Color Dodge", "COLOR_DODGE"} {
		got, err := ParseBlendMode(s)
		require.NoError(t, err, s)
		assert.Equal(t, ColorDodge, got)
	}
	_, err := ParseBlendMode("vivid-light")
	assert.ErrorIs(t, err, ErrUnknownBlendMode)
	assert.Equal(t, "BlendMode(42)", BlendMode(42).String())
}

func TestParseCompOp(t *testing.T) {
	got, err := ParseCompOp("source-atop")
	require.NoError(t, err)
	assert.Equal(t, SourceAtop, got)

	var op CompOp
	require.NoError(t, op.UnmarshalText([]byte("destination_over")))
	assert.Equal(t, DestinationOver, op)

	_, err = ParseCompOp("xor")
	assert.ErrorIs(t, err, ErrUnknownCompOp)
	_, err = CompOp(7).MarshalText()
	assert.ErrorIs(t, err, ErrUnknownCompOp)
}
