package unblending

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// ColorImage is a dense RGBA image with straight (non-premultiplied) alpha.
// Every channel value is normalized to [0,1].
type ColorImage struct {
	W, H int
	Pix  []float64 // Interleaved RGBA, len = W*H*4
}

func NewColorImage(w, h int) *ColorImage {
	return &ColorImage{
		W:   w,
		H:   h,
		Pix: make([]float64, w*h*4),
	}
}

// ColorImageFromImage converts any image.Image into a ColorImage. The origin
// of the result is always (0, 0).
func ColorImageFromImage(img image.Image) *ColorImage {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := NewColorImage(w, h)
	for y := range h {
		for x := range w {
			c := color.NRGBA64Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA64)
			off := pixOffset(w, x, y)
			out.Pix[off] = float64(c.R) / 65535.0
			out.Pix[off+1] = float64(c.G) / 65535.0
			out.Pix[off+2] = float64(c.B) / 65535.0
			out.Pix[off+3] = float64(c.A) / 65535.0
		}
	}
	return out
}

func pixOffset(w, x, y int) int {
	return (y*w + x) * 4
}

func (ci *ColorImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, ci.W, ci.H)
}

func (ci *ColorImage) Empty() bool {
	return ci == nil || ci.W <= 0 || ci.H <= 0
}

// At returns the color and alpha stored at (x, y).
func (ci *ColorImage) At(x, y int) (colorful.Color, float64) {
	off := pixOffset(ci.W, x, y)
	return colorful.Color{R: ci.Pix[off], G: ci.Pix[off+1], B: ci.Pix[off+2]}, ci.Pix[off+3]
}

// Set stores c and a at (x, y), clamping every channel to [0,1].
func (ci *ColorImage) Set(x, y int, c colorful.Color, a float64) {
	off := pixOffset(ci.W, x, y)
	ci.Pix[off] = clamp01(c.R)
	ci.Pix[off+1] = clamp01(c.G)
	ci.Pix[off+2] = clamp01(c.B)
	ci.Pix[off+3] = clamp01(a)
}

func (ci *ColorImage) Alpha(x, y int) float64 {
	return ci.Pix[pixOffset(ci.W, x, y)+3]
}

func (ci *ColorImage) Clone() *ColorImage {
	out := &ColorImage{W: ci.W, H: ci.H, Pix: make([]float64, len(ci.Pix))}
	copy(out.Pix, ci.Pix)
	return out
}

// AlphaChannel copies the alpha channel into a W*H slice.
func (ci *ColorImage) AlphaChannel() []float64 {
	n := ci.W * ci.H
	out := make([]float64, n)
	for i := range n {
		out[i] = ci.Pix[i*4+3]
	}
	return out
}

// Luminance returns the Rec. 709 luma of every pixel, alpha ignored.
func (ci *ColorImage) Luminance() []float64 {
	n := ci.W * ci.H
	out := make([]float64, n)
	for i := range n {
		off := i * 4
		out[i] = 0.2126*ci.Pix[off] + 0.7152*ci.Pix[off+1] + 0.0722*ci.Pix[off+2]
	}
	return out
}

func (ci *ColorImage) NRGBA() *image.NRGBA {
	out := image.NewNRGBA(ci.Bounds())
	for y := range ci.H {
		for x := range ci.W {
			off := pixOffset(ci.W, x, y)
			out.SetNRGBA(x, y, color.NRGBA{
				R: toByte(ci.Pix[off]),
				G: toByte(ci.Pix[off+1]),
				B: toByte(ci.Pix[off+2]),
				A: toByte(ci.Pix[off+3]),
			})
		}
	}
	return out
}

// Matte renders the alpha channel as a grayscale image.
func (ci *ColorImage) Matte() *image.Gray {
	out := image.NewGray(ci.Bounds())
	for y := range ci.H {
		for x := range ci.W {
			out.SetGray(x, y, color.Gray{Y: toByte(ci.Alpha(x, y))})
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func toByte(v float64) uint8 {
	return uint8(clamp01(v)*255 + 0.5)
}
