package unblending

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecomposerBuild(t *testing.T) {
	// 128/255 red plus 127/255 blue lies on the red-blue segment: blue at
	// alpha 127/255 over opaque red.
	src := image.NewNRGBA(image.Rect(0, 0, 6, 4))
	for y := range 4 {
		for x := range 6 {
			src.SetNRGBA(x, y, color.NRGBA{R: 128, B: 127, A: 255})
		}
	}
	for _, opaque := range []bool{true, false} {
		d := NewDecomposer(src, NormalStack([]colorful.Color{red, blue}))
		assert.Nil(t, d.Layers())

		opt := OptionsFromSize(src.Bounds().Size())
		opt.HasOpaqueBackground = opaque
		require.NoError(t, d.Build(opt))

		require.Len(t, d.Layers(), 2)
		assert.Equal(t, d.Refined, d.Layers())
		recon, err := d.Reconstruct(d.Layers())
		require.NoError(t, err)
		assertPixInDelta(t, d.Input, recon, 1e-6)

		assert.Len(t, d.RGBALayers(), 2)
		mattes := d.GrayLayers()
		require.Len(t, mattes, 2)
		assert.Equal(t, uint8(255), mattes[0].GrayAt(0, 0).Y, "opaque=%v", opaque)
		assert.Equal(t, uint8(127), mattes[1].GrayAt(3, 2).Y, "opaque=%v", opaque)
	}
}

func TestDecomposerBuildCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	d := NewDecomposer(image.NewNRGBA(image.Rect(0, 0, 4, 4)), NormalStack([]colorful.Color{red, blue}))
	assert.ErrorIs(t, d.BuildContext(ctx, DefaultOptions()), context.Canceled)
	assert.Nil(t, d.Raw)
	assert.Nil(t, d.Refined)
}

func TestDecomposerBuildRejectsBadStack(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	d := NewDecomposer(src, nil)
	assert.ErrorIs(t, d.Build(DefaultOptions()), ErrNoLayers)
	assert.Nil(t, d.Raw)
}

func TestOptionsFromSize(t *testing.T) {
	assert.Equal(t, 2, OptionsFromSize(image.Pt(64, 64)).Radius)
	assert.Equal(t, 17, OptionsFromSize(image.Pt(1920, 1080)).Radius)
	assert.Equal(t, 32, OptionsFromSize(image.Pt(10000, 10000)).Radius)
	assert.Equal(t, DefaultOptions(), OptionsFromSize(image.Point{}))
}
