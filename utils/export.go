package utils

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"path/filepath"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/setanarut/unblending"
)

// LayerFileName returns "<prefix>-NN.png", or "<prefix>-NN-<mode>.png" when
// explicit is set. Layer numbers start at 1.
func LayerFileName(prefix string, index int, mode unblending.BlendMode, explicit bool) string {
	name := fmt.Sprintf("%s-%02d", prefix, index+1)
	if explicit {
		name += "-" + strings.ToLower(mode.String())
	}
	return name + ".png"
}

// ExportLayers saves each layer as RGBA PNG into dir. With mattes set, the
// alpha channel is also written as "<name>-matte.png".
func ExportLayers(layers []*unblending.ColorImage, dir, prefix string, mattes, explicit bool, stack unblending.LayerStack) error {
	if len(layers) != len(stack) {
		return fmt.Errorf("%w: %d layers for %d layer infos", unblending.ErrSizeMismatch, len(layers), len(stack))
	}
	for i, l := range layers {
		name := LayerFileName(prefix, i, stack[i].Mode, explicit)
		if err := SaveImage(l.NRGBA(), filepath.Join(dir, name)); err != nil {
			return err
		}
		if mattes {
			matte := strings.TrimSuffix(name, ".png") + "-matte.png"
			if err := SaveImage(l.Matte(), filepath.Join(dir, matte)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ExportModels writes a swatch image per color model as "<prefix>-NN.png".
func ExportModels(models []unblending.ColorModel, dir, prefix string) error {
	for i, m := range models {
		name := filepath.Join(dir, fmt.Sprintf("%s-%02d.png", prefix, i+1))
		if err := SaveImage(ModelSwatch(m, 64), name); err != nil {
			return err
		}
	}
	return nil
}

// ModelSwatch visualizes a color model. Single and cluster models render as a
// row of tiles; Gaussian models render one row per channel sweeping the mean
// from -2 to +2 standard deviations.
func ModelSwatch(m unblending.ColorModel, tileSize int) *image.NRGBA {
	if tileSize <= 0 {
		tileSize = 64
	}
	if m.Kind != unblending.GaussianColor {
		return PaletteImage(m.Colors, tileSize)
	}

	const steps = 9
	img := image.NewNRGBA(image.Rect(0, 0, steps*tileSize/2, 3*tileSize/2))
	rowH := tileSize / 2
	for ch := range 3 {
		sigma := 0.0
		if len(m.Covariance) == 9 {
			sigma = math.Sqrt(max(m.Covariance[ch*3+ch], 0))
		}
		for s := range steps {
			t := -2 + 4*float64(s)/float64(steps-1)
			c := m.Mean
			switch ch {
			case 0:
				c.R += t * sigma
			case 1:
				c.G += t * sigma
			default:
				c.B += t * sigma
			}
			fillTile(img, s*tileSize/2, ch*rowH, tileSize/2, rowH, c.Clamped())
		}
	}
	return img
}

// PaletteImage lays the colors out as square tiles side by side.
func PaletteImage(palette []colorful.Color, tileSize int) *image.NRGBA {
	if tileSize <= 0 {
		tileSize = 64
	}
	img := image.NewNRGBA(image.Rect(0, 0, tileSize*max(len(palette), 1), tileSize))
	for i, c := range palette {
		fillTile(img, i*tileSize, 0, tileSize, tileSize, c)
	}
	return img
}

func SavePalette(palette []colorful.Color, tileSize int, filename string) error {
	if len(palette) == 0 {
		return ErrEmptyPalette
	}
	return SaveImage(PaletteImage(palette, tileSize), filename)
}

func fillTile(img *image.NRGBA, x0, y0, w, h int, c colorful.Color) {
	r, g, b := c.Clamped().RGB255()
	col := color.NRGBA{R: r, G: g, B: b, A: 255}
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			img.SetNRGBA(x, y, col)
		}
	}
}
