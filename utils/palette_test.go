package utils

import (
	"image"
	"image/color"
	"testing"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/setanarut/unblending"
)

var (
	red   = colorful.Color{R: 1}
	blue  = colorful.Color{B: 1}
	white = colorful.Color{R: 1, G: 1, B: 1}
)

// twoToneImage is left half red, right half blue.
func twoToneImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			c := color.NRGBA{R: 255, A: 255}
			if x >= w/2 {
				c = color.NRGBA{B: 255, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestSortPaletteByBrightness(t *testing.T) {
	p := []colorful.Color{white, red, {}, blue}
	SortPaletteByBrightness(p)
	assert.Equal(t, []colorful.Color{{}, blue, red, white}, p)
}

func TestSelectDiverseWeightedColors(t *testing.T) {
	cands := []weightedColor{
		{Col: red, Weight: 10},
		{Col: colorful.Color{R: 0.95, G: 0.05}, Weight: 9},
		{Col: blue, Weight: 1},
	}
	got := SelectDiverseWeightedColors(cands, 2)
	assert.Equal(t, []colorful.Color{red, blue}, got)

	assert.Len(t, SelectDiverseWeightedColors(cands, 10), 3)
	assert.Nil(t, SelectDiverseWeightedColors(cands, 0))
	assert.Nil(t, SelectDiverseWeightedColors(nil, 3))
}

func TestExtractPalette(t *testing.T) {
	img := twoToneImage(16, 8)
	for _, method := range []PaletteMethod{PaletteMethodDominantColor, PaletteMethodKMeans} {
		t.Run(method.String(), func(t *testing.T) {
			p, err := ExtractPalette(img, 2, method)
			require.NoError(t, err)
			assert.NotEmpty(t, p)
			assert.LessOrEqual(t, len(p), 2)
		})
	}
}

func TestExtractGaussianModels(t *testing.T) {
	models, err := ExtractGaussianModels(twoToneImage(16, 8), 2)
	require.NoError(t, err)
	require.NotEmpty(t, models)
	assert.LessOrEqual(t, len(models), 2)
	for i, m := range models {
		assert.Equal(t, unblending.GaussianColor, m.Kind)
		assert.NoError(t, m.Validate())
		if i > 0 {
			assert.LessOrEqual(t, relativeLuminance(models[i-1].Mean), relativeLuminance(m.Mean))
		}
	}

	_, err = ExtractGaussianModels(twoToneImage(4, 4), 0)
	assert.ErrorIs(t, err, ErrEmptyPalette)
	_, err = ExtractGaussianModels(image.NewNRGBA(image.Rect(0, 0, 4, 4)), 2)
	assert.ErrorIs(t, err, ErrEmptyPalette)
}

func TestFitGaussian(t *testing.T) {
	obs := clusters.Observations{
		clusters.Coordinates{0.4, 0.5, 0.6},
		clusters.Coordinates{0.6, 0.5, 0.4},
		clusters.Coordinates{0.5, 0.4, 0.5},
		clusters.Coordinates{0.5, 0.6, 0.5},
	}
	m := fitGaussian(obs)
	require.NoError(t, m.Validate())
	assert.InDelta(t, 0.5, m.Mean.R, 1e-12)
	assert.InDelta(t, 0.5, m.Mean.G, 1e-12)
	assert.InDelta(t, 0.5, m.Mean.B, 1e-12)
	// Sample variance of {0.4, 0.6, 0.5, 0.5} plus the ridge.
	assert.InDelta(t, 0.02/3+covarianceRidge, m.Covariance[0], 1e-12)
	assert.InDelta(t, m.Covariance[2], m.Covariance[6], 1e-12)

	single := fitGaussian(clusters.Observations{clusters.Coordinates{0.2, 0.3, 0.4}})
	require.NoError(t, single.Validate())
	assert.Equal(t, covarianceRidge, single.Covariance[4])
}

func TestLayerInfosFromPalette(t *testing.T) {
	stack := LayerInfosFromPalette([]colorful.Color{{}, red, blue}, unblending.Multiply)
	require.NoError(t, stack.Validate())
	assert.Equal(t, []unblending.BlendMode{unblending.Normal, unblending.Multiply, unblending.Multiply}, stack.BlendModes())
	assert.Equal(t, red, stack[1].Model.Colors[0])
}

func TestParsePaletteMethod(t *testing.T) {
	for _, m := range []PaletteMethod{PaletteMethodDominantColor, PaletteMethodKMeans, PaletteMethodGaussian} {
		got, err := ParsePaletteMethod(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParsePaletteMethod("median-cut")
	assert.Error(t, err)
}
