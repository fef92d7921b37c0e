package unblending

import (
	"fmt"
	"math"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// BlendMode selects the color mixing function B(Cb, Cs) of a layer.
// Formulas follow W3C Compositing and Blending Level 1.
type BlendMode int

const (
	Normal BlendMode = iota
	Multiply
	Screen
	Overlay
	Darken
	Lighten
	ColorDodge
	ColorBurn
	HardLight
	SoftLight
	Difference
	Exclusion
	Hue
	Saturation
	Color
	Luminosity

	numBlendModes
)

var blendModeNames = [numBlendModes]string{
	Normal:     "Normal",
	Multiply:   "Multiply",
	Screen:     "Screen",
	Overlay:    "Overlay",
	Darken:     "Darken",
	Lighten:    "Lighten",
	ColorDodge: "ColorDodge",
	ColorBurn:  "ColorBurn",
	HardLight:  "HardLight",
	SoftLight:  "SoftLight",
	Difference: "Difference",
	Exclusion:  "Exclusion",
	Hue:        "Hue",
	Saturation: "Saturation",
	Color:      "Color",
	Luminosity: "Luminosity",
}

// BlendModes lists every supported blend mode in declaration order.
func BlendModes() []BlendMode {
	out := make([]BlendMode, numBlendModes)
	for i := range out {
		out[i] = BlendMode(i)
	}
	return out
}

func (m BlendMode) Valid() bool {
	return m >= 0 && m < numBlendModes
}

func (m BlendMode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("BlendMode(%d)", int(m))
	}
	return blendModeNames[m]
}

// ParseBlendMode accepts names case-insensitively and ignores separators,
// so "color-dodge", "Color Dodge" and "ColorDodge" are the same mode.
func ParseBlendMode(s string) (BlendMode, error) {
	key := normalizeName(s)
	for i, name := range blendModeNames {
		if normalizeName(name) == key {
			return BlendMode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownBlendMode, s)
}

func (m BlendMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBlendMode, int(m))
	}
	return []byte(m.String()), nil
}

func (m *BlendMode) UnmarshalText(text []byte) error {
	v, err := ParseBlendMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)
}

// blend evaluates B(cb, cs) for mode m.
func (m BlendMode) blend(cb, cs colorful.Color) colorful.Color {
	switch m {
	case Hue:
		return setLum(setSat(cs, sat(cb)), lum(cb))
	case Saturation:
		return setLum(setSat(cb, sat(cs)), lum(cb))
	case Color:
		return setLum(cs, lum(cb))
	case Luminosity:
		return setLum(cb, lum(cs))
	}
	f := separableBlends[m]
	if f == nil {
		return cs
	}
	return colorful.Color{R: f(cb.R, cs.R), G: f(cb.G, cs.G), B: f(cb.B, cs.B)}
}

var separableBlends = [numBlendModes]func(b, s float64) float64{
	Normal:     func(b, s float64) float64 { return s },
	Multiply:   func(b, s float64) float64 { return b * s },
	Screen:     screen,
	Overlay:    func(b, s float64) float64 { return hardLight(s, b) },
	Darken:     math.Min,
	Lighten:    math.Max,
	ColorDodge: colorDodge,
	ColorBurn:  colorBurn,
	HardLight:  hardLight,
	SoftLight:  softLight,
	Difference: func(b, s float64) float64 { return math.Abs(b - s) },
	Exclusion:  func(b, s float64) float64 { return b + s - 2*b*s },
}

func screen(b, s float64) float64 {
	return b + s - b*s
}

func colorDodge(b, s float64) float64 {
	if b == 0 {
		return 0
	}
	if s >= 1 {
		return 1
	}
	return math.Min(1, b/(1-s))
}

func colorBurn(b, s float64) float64 {
	if b >= 1 {
		return 1
	}
	if s <= 0 {
		return 0
	}
	return 1 - math.Min(1, (1-b)/s)
}

func hardLight(b, s float64) float64 {
	if s <= 0.5 {
		return b * 2 * s
	}
	return screen(b, 2*s-1)
}

func softLight(b, s float64) float64 {
	if s <= 0.5 {
		return b - (1-2*s)*b*(1-b)
	}
	var d float64
	if b <= 0.25 {
		d = ((16*b-12)*b + 4) * b
	} else {
		d = math.Sqrt(b)
	}
	return b + (2*s-1)*(d-b)
}

// ============ NON-SEPARABLE HELPERS ============

func lum(c colorful.Color) float64 {
	return 0.3*c.R + 0.59*c.G + 0.11*c.B
}

func sat(c colorful.Color) float64 {
	return max(c.R, c.G, c.B) - min(c.R, c.G, c.B)
}

func clipColor(c colorful.Color) colorful.Color {
	l := lum(c)
	n := min(c.R, c.G, c.B)
	x := max(c.R, c.G, c.B)
	if n < 0 && l-n > 1e-12 {
		k := l / (l - n)
		c = colorful.Color{R: l + (c.R-l)*k, G: l + (c.G-l)*k, B: l + (c.B-l)*k}
	}
	if x > 1 && x-l > 1e-12 {
		k := (1 - l) / (x - l)
		c = colorful.Color{R: l + (c.R-l)*k, G: l + (c.G-l)*k, B: l + (c.B-l)*k}
	}
	return c
}

func setLum(c colorful.Color, l float64) colorful.Color {
	d := l - lum(c)
	return clipColor(colorful.Color{R: c.R + d, G: c.G + d, B: c.B + d})
}

func setSat(c colorful.Color, s float64) colorful.Color {
	ch := [3]float64{c.R, c.G, c.B}
	lo, mid, hi := 0, 1, 2
	if ch[lo] > ch[mid] {
		lo, mid = mid, lo
	}
	if ch[mid] > ch[hi] {
		mid, hi = hi, mid
	}
	if ch[lo] > ch[mid] {
		lo, mid = mid, lo
	}
	var out [3]float64
	if ch[hi] > ch[lo] {
		out[mid] = (ch[mid] - ch[lo]) * s / (ch[hi] - ch[lo])
		out[hi] = s
	}
	return colorful.Color{R: out[0], G: out[1], B: out[2]}
}
