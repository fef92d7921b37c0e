package unblending

import (
	"image"
	"image/color"
	"testing"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColorImageFromImage(t *testing.T) {
	src := image.NewNRGBA(image.Rect(10, 20, 13, 22))
	src.SetNRGBA(10, 20, color.NRGBA{R: 255, G: 0, B: 51, A: 255})
	src.SetNRGBA(12, 21, color.NRGBA{R: 0, G: 255, B: 0, A: 0})

	ci := ColorImageFromImage(src)
	require.Equal(t, 3, ci.W)
	require.Equal(t, 2, ci.H)

	c, a := ci.At(0, 0)
	assert.InDelta(t, 1, c.R, 1e-9)
	assert.InDelta(t, 0.2, c.B, 1e-9)
	assert.InDelta(t, 1, a, 1e-9)
	assert.Zero(t, ci.Alpha(2, 1))

	out := ci.NRGBA()
	assert.Equal(t, color.NRGBA{R: 255, G: 0, B: 51, A: 255}, out.NRGBAAt(0, 0))
}

func TestColorImageSetClamps(t *testing.T) {
	ci := NewColorImage(1, 1)
	ci.Set(0, 0, colorful.Color{R: 1.2, G: -0.1, B: 0.5}, 2)
	assert.Equal(t, []float64{1, 0, 0.5, 1}, ci.Pix)
	assert.Equal(t, uint8(255), ci.Matte().GrayAt(0, 0).Y)
}

func TestColorImageChannels(t *testing.T) {
	ci := NewColorImage(2, 1)
	ci.Set(0, 0, white, 0.25)
	ci.Set(1, 0, green, 1)
	assert.Equal(t, []float64{0.25, 1}, ci.AlphaChannel())
	assert.InDeltaSlice(t, []float64{1, 0.7152}, ci.Luminance(), 1e-12)

	clone := ci.Clone()
	clone.Pix[0] = 0
	assert.Equal(t, 1.0, ci.Pix[0])

	var empty *ColorImage
	assert.True(t, empty.Empty())
	assert.False(t, ci.Empty())
}
