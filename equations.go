package unblending

import (
	"fmt"

	"github.com/lucasb-eyer/go-colorful"
)

// Premultiplied is an RGBA value whose color channels are already multiplied
// by A. The running composite of a layer stack is carried in this form.
type Premultiplied struct {
	R, G, B, A float64
}

func premultiply(c colorful.Color, a float64) Premultiplied {
	return Premultiplied{R: c.R * a, G: c.G * a, B: c.B * a, A: a}
}

// Straight divides the color channels by alpha. A fully transparent value
// yields black.
func (p Premultiplied) Straight() (colorful.Color, float64) {
	if p.A <= 1e-12 {
		return colorful.Color{}, 0
	}
	inv := 1.0 / p.A
	return colorful.Color{
		R: clamp01(p.R * inv),
		G: clamp01(p.G * inv),
		B: clamp01(p.B * inv),
	}, clamp01(p.A)
}

func (p Premultiplied) sub(q Premultiplied) Premultiplied {
	return Premultiplied{R: p.R - q.R, G: p.G - q.G, B: p.B - q.B, A: p.A - q.A}
}

func (p Premultiplied) dot(q Premultiplied) float64 {
	return p.R*q.R + p.G*q.G + p.B*q.B + p.A*q.A
}

func (p Premultiplied) dist2(q Premultiplied) float64 {
	d := p.sub(q)
	return d.dot(d)
}

// ForwardFunc composites a layer with straight color c and coverage alpha onto
// the premultiplied backdrop below.
type ForwardFunc func(below Premultiplied, alpha float64, c colorful.Color) Premultiplied

// InverseFunc solves for the alpha that makes compositing c onto below come
// closest to target. ok is false when the layer has no effect on the result
// for any alpha, in which case the returned alpha is meaningless. The alpha
// is not clamped; callers decide feasibility.
type InverseFunc func(target, below Premultiplied, c colorful.Color) (alpha float64, ok bool)

// Equation is the forward/inverse pair for one (BlendMode, CompOp).
type Equation struct {
	Mode    BlendMode
	Op      CompOp
	Forward ForwardFunc
	Inverse InverseFunc
}

// Feasible reports whether an inverted alpha can be used without clamping.
func Feasible(alpha float64, ok bool) bool {
	return ok && alpha >= -feasibilityTol && alpha <= 1+feasibilityTol
}

const (
	// Below this squared length the full and zero coverage composites are
	// indistinguishable and the equation cannot be inverted.
	inverseEps     = 1e-12
	feasibilityTol = 1e-9
)

var equations [numBlendModes][numCompOps]Equation

func init() {
	for m := range numBlendModes {
		for op := range numCompOps {
			equations[m][op] = newEquation(m, op)
		}
	}
}

// LookupEquation returns the equation registered for the pair.
func LookupEquation(mode BlendMode, op CompOp) (Equation, error) {
	if !mode.Valid() {
		return Equation{}, fmt.Errorf("%w: %d", ErrUnknownBlendMode, int(mode))
	}
	if !op.Valid() {
		return Equation{}, fmt.Errorf("%w: %d", ErrUnknownCompOp, int(op))
	}
	return equations[mode][op], nil
}

func newEquation(mode BlendMode, op CompOp) Equation {
	fwd := forwardFunc(mode, op)
	return Equation{
		Mode:    mode,
		Op:      op,
		Forward: fwd,
		Inverse: inverseFunc(fwd),
	}
}

// forwardFunc implements the W3C general compositing formula
//
//	Cs' = (1 - ab)*Cs + ab*B(Cb, Cs)
//	co  = as*Fa*Cs' + ab*Fb*Cb
//	ao  = as*Fa + ab*Fb
func forwardFunc(mode BlendMode, op CompOp) ForwardFunc {
	return func(below Premultiplied, alpha float64, c colorful.Color) Premultiplied {
		as := clamp01(alpha)
		ab := clamp01(below.A)
		mixed := c
		if ab > 0 {
			cb, _ := below.Straight()
			b := mode.blend(cb, c)
			mixed = colorful.Color{
				R: (1-ab)*c.R + ab*b.R,
				G: (1-ab)*c.G + ab*b.G,
				B: (1-ab)*c.B + ab*b.B,
			}
		}
		fa, fb := op.factors(as, ab)
		sa := as * fa
		return Premultiplied{
			R: clamp01(sa*mixed.R + fb*below.R),
			G: clamp01(sa*mixed.G + fb*below.G),
			B: clamp01(sa*mixed.B + fb*below.B),
			A: clamp01(sa + ab*fb),
		}
	}
}

// inverseFunc inverts a forward function. B(Cb, Cs) does not depend on the
// layer alpha and every supported operator has Fa independent of as and Fb
// affine in as, so the composite moves on the segment from P = f(0) to
// Q = f(1). The least-squares alpha is the projection of T onto that segment,
// which per channel is the ratio (T - P)/(Q - P). For an opaque backdrop this
// gives the familiar closed forms:
//
//	normal:   (C - Cb) / (Cs - Cb)
//	multiply: (Cb - C) / (Cb*(1 - Cs))
//	screen:   (C - Cb) / (Cs*(1 - Cb))
func inverseFunc(fwd ForwardFunc) InverseFunc {
	return func(target, below Premultiplied, c colorful.Color) (float64, bool) {
		p := fwd(below, 0, c)
		q := fwd(below, 1, c)
		d := q.sub(p)
		den := d.dot(d)
		if den < inverseEps {
			return 0, false
		}
		return target.sub(p).dot(d) / den, true
	}
}
