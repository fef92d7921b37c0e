package unblending

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noisyLayers returns layers with the given colors and random alphas.
func noisyLayers(w, h int, seed uint64, colors ...colorful.Color) []*ColorImage {
	rng := rand.New(rand.NewPCG(seed, 42))
	out := make([]*ColorImage, len(colors))
	for k, c := range colors {
		out[k] = fillImage(w, h, func(x, y int) (colorful.Color, float64) {
			return c, rng.Float64()
		})
	}
	return out
}

func TestRefinementKeepsBackground(t *testing.T) {
	img := noisyImage(10, 8, 4)
	stack := NormalStack([]colorful.Color{red, blue})
	layers := noisyLayers(10, 8, 1, red, blue)

	opt := DefaultOptions()
	opt.Radius = 2
	refined, err := PerformMatteRefinement(img, layers, stack, opt)
	require.NoError(t, err)
	assert.Equal(t, layers[0].Pix, refined[0].Pix)
	assert.NotEqual(t, layers[1].Pix, refined[1].Pix)

	opt.ForceSmoothBackground = true
	refined, err = PerformMatteRefinement(img, layers, stack, opt)
	require.NoError(t, err)
	assert.NotEqual(t, layers[0].Pix, refined[0].Pix)
}

func TestRefinementDoesNotModifyInput(t *testing.T) {
	img := noisyImage(6, 6, 8)
	stack := NormalStack([]colorful.Color{red, blue})
	layers := noisyLayers(6, 6, 2, red, blue)
	before := layers[1].Clone()

	_, err := PerformMatteRefinement(img, layers, stack, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, before.Pix, layers[1].Pix)
}

func TestRefinementAlphaBounds(t *testing.T) {
	img := noisyImage(11, 9, 5)
	stack := LayerStack{
		{Mode: Normal, CompOp: SourceOver, Model: NewSingleColorModel(black)},
		{Mode: Screen, CompOp: SourceOver, Model: NewClusterColorModel([]colorful.Color{red, green}, nil)},
		{Mode: Normal, CompOp: SourceOver, Model: NewSingleColorModel(blue)},
	}
	for _, guide := range []GuideMode{GuideColor, GuideLuminance} {
		opt := DefaultOptions()
		opt.Radius = 3
		opt.Epsilon = 1e-6
		opt.Guide = guide
		opt.ForceSmoothBackground = true
		u, err := ComputeColorUnmixing(img, stack, opt)
		require.NoError(t, err)
		refined, err := PerformMatteRefinement(img, u.Layers, stack, opt)
		require.NoError(t, err)
		assertAlphaBounds(t, refined)
		for k := 1; k < len(stack); k++ {
			for y := range img.H {
				for x := range img.W {
					c, _ := refined[k].At(x, y)
					assert.True(t, stack[k].Model.Contains(c, 1e-6))
				}
			}
		}
	}
}

func TestRefinementIdentityOnConstantMatte(t *testing.T) {
	img := noisyImage(9, 9, 6)
	stack := NormalStack([]colorful.Color{red, blue})
	layers := []*ColorImage{
		fillImage(9, 9, func(x, y int) (colorful.Color, float64) { return red, 1 }),
		fillImage(9, 9, func(x, y int) (colorful.Color, float64) { return blue, 0.3 }),
	}
	opt := DefaultOptions()
	opt.Radius = 2
	opt.ForceSmoothBackground = true
	refined, err := PerformMatteRefinement(img, layers, stack, opt)
	require.NoError(t, err)
	for k := range layers {
		assert.InDeltaSlice(t, layers[k].Pix, refined[k].Pix, 1e-6)
	}
}

func TestRefinementHarmonizesClusterColors(t *testing.T) {
	purple := colorful.Color{R: 0.5, B: 0.5}
	img := fillImage(5, 5, func(x, y int) (colorful.Color, float64) { return purple, 1 })
	stack := LayerStack{
		{Mode: Normal, CompOp: SourceOver, Model: NewSingleColorModel(black)},
		{Mode: Normal, CompOp: SourceOver, Model: NewClusterColorModel([]colorful.Color{red, blue}, nil)},
	}
	// Opaque top layer with the wrong endpoint color.
	layers := []*ColorImage{
		fillImage(5, 5, func(x, y int) (colorful.Color, float64) { return black, 1 }),
		fillImage(5, 5, func(x, y int) (colorful.Color, float64) { return red, 1 }),
	}
	opt := DefaultOptions()
	opt.ModelCostWeight = 0
	refined, err := PerformMatteRefinement(img, layers, stack, opt)
	require.NoError(t, err)
	c, _ := refined[1].At(2, 2)
	assert.InDelta(t, 0.5, c.R, 1e-3)
	assert.InDelta(t, 0.5, c.B, 1e-3)

	opt.HarmonizeColors = false
	refined, err = PerformMatteRefinement(img, layers, stack, opt)
	require.NoError(t, err)
	c, _ = refined[1].At(2, 2)
	assert.Equal(t, red, c)
}

func TestRefinementErrors(t *testing.T) {
	img := noisyImage(4, 4, 1)
	stack := NormalStack([]colorful.Color{red, blue})

	_, err := PerformMatteRefinement(img, noisyLayers(4, 4, 1, red), stack, DefaultOptions())
	assert.ErrorIs(t, err, ErrSizeMismatch)

	layers := []*ColorImage{NewColorImage(4, 4), NewColorImage(4, 3)}
	_, err = PerformMatteRefinement(img, layers, stack, DefaultOptions())
	assert.ErrorIs(t, err, ErrSizeMismatch)

	_, err = PerformMatteRefinement(NewColorImage(0, 4), nil, stack, DefaultOptions())
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = PerformMatteRefinement(img, nil, nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrNoLayers)
}

func TestRefinementCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	img := noisyImage(6, 6, 3)
	stack := NormalStack([]colorful.Color{red, blue})
	_, err := PerformMatteRefinementContext(ctx, img, noisyLayers(6, 6, 3, red, blue), stack, DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
}
