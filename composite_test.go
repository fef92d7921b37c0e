package unblending

import (
	"testing"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompositeLayers(t *testing.T) {
	stack := NormalStack([]colorful.Color{red, blue})
	layers := []*ColorImage{
		fillImage(2, 2, func(x, y int) (colorful.Color, float64) { return red, 1 }),
		fillImage(2, 2, func(x, y int) (colorful.Color, float64) { return blue, 0.5 }),
	}
	out, err := CompositeLayers(layers, stack, 0)
	require.NoError(t, err)
	for y := range 2 {
		for x := range 2 {
			c, a := out.At(x, y)
			assert.InDelta(t, 0.5, c.R, 1e-12)
			assert.InDelta(t, 0, c.G, 1e-12)
			assert.InDelta(t, 0.5, c.B, 1e-12)
			assert.InDelta(t, 1, a, 1e-12)
		}
	}
}

func TestCompositeTransparentStack(t *testing.T) {
	stack := NormalStack([]colorful.Color{red, blue})
	layers := []*ColorImage{
		fillImage(1, 1, func(x, y int) (colorful.Color, float64) { return red, 0.5 }),
		fillImage(1, 1, func(x, y int) (colorful.Color, float64) { return blue, 0.5 }),
	}
	out, err := CompositeLayers(layers, stack, 1)
	require.NoError(t, err)
	c, a := out.At(0, 0)
	assert.InDelta(t, 0.75, a, 1e-12)
	// Premultiplied (0.25, 0, 0.5) over coverage 0.75.
	assert.InDelta(t, 1.0/3, c.R, 1e-12)
	assert.InDelta(t, 2.0/3, c.B, 1e-12)
}

func TestCompositeMultiply(t *testing.T) {
	stack := LayerStack{
		{Mode: Normal, CompOp: SourceOver, Model: NewSingleColorModel(white)},
		{Mode: Multiply, CompOp: SourceOver, Model: NewSingleColorModel(colorful.Color{R: 0.5, G: 0.5, B: 0.5})},
	}
	layers := []*ColorImage{
		fillImage(1, 1, func(x, y int) (colorful.Color, float64) { return colorful.Color{R: 0.8, G: 0.4, B: 1}, 1 }),
		fillImage(1, 1, func(x, y int) (colorful.Color, float64) { return colorful.Color{R: 0.5, G: 0.5, B: 0.5}, 1 }),
	}
	out, err := CompositeLayers(layers, stack, 1)
	require.NoError(t, err)
	c, _ := out.At(0, 0)
	assert.InDelta(t, 0.4, c.R, 1e-12)
	assert.InDelta(t, 0.2, c.G, 1e-12)
	assert.InDelta(t, 0.5, c.B, 1e-12)
}

func TestCompositeErrors(t *testing.T) {
	stack := NormalStack([]colorful.Color{red, blue})
	one := NewColorImage(2, 2)

	_, err := CompositeLayers([]*ColorImage{one}, stack, 1)
	assert.ErrorIs(t, err, ErrSizeMismatch)

	_, err = CompositeLayers([]*ColorImage{one, NewColorImage(3, 2)}, stack, 1)
	assert.ErrorIs(t, err, ErrSizeMismatch)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, 1, cfgErr.Layer)

	_, err = CompositeLayers(nil, nil, 1)
	assert.ErrorIs(t, err, ErrNoLayers)
}
