package unblending

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// evaluation is what the caller learns about one candidate color: the alpha
// it would take, the compositing residual at that alpha, and whether the
// alpha came out of the inversion inside [0,1].
type evaluation struct {
	alpha    float64
	residual float64
	feasible bool
}

type evaluator func(c colorful.Color) evaluation

// fit is the chosen (alpha, color) of one layer at one pixel.
type fit struct {
	color    colorful.Color
	alpha    float64
	residual float64
	cost     float64
	score    float64
	feasible bool
}

// better prefers feasible fits, then lower scores. Ties keep the incumbent
// so results do not depend on evaluation order beyond candidate order.
func (f fit) better(than fit) bool {
	if f.feasible != than.feasible {
		return f.feasible
	}
	return f.score < than.score
}

const goldenIters = 24

var invPhi = (math.Sqrt(5) - 1) / 2

// goldenSection minimizes f on [lo, hi] and returns the best point found,
// endpoints included.
func goldenSection(f func(float64) float64, lo, hi float64, iters int) (float64, float64) {
	bestT, bestF := lo, f(lo)
	if fh := f(hi); fh < bestF {
		bestT, bestF = hi, fh
	}
	if hi-lo < 1e-12 {
		return bestT, bestF
	}
	a, b := lo, hi
	c := b - invPhi*(b-a)
	d := a + invPhi*(b-a)
	fc, fd := f(c), f(d)
	for range iters {
		if fc < fd {
			b, d, fd = d, c, fc
			c = b - invPhi*(b-a)
			fc = f(c)
		} else {
			a, c, fc = c, d, fd
			d = a + invPhi*(b-a)
			fd = f(d)
		}
	}
	if fc < bestF {
		bestT, bestF = c, fc
	}
	if fd < bestF {
		bestT, bestF = d, fd
	}
	return bestT, bestF
}

// bestFit searches the representable set of a prepared model for the
// candidate with the lowest score = residual + weight*cost. Continuous models
// are searched along the ray from the mean toward each hint, and at the
// projection of each hint.
func (m *ColorModel) bestFit(eval evaluator, weight float64, hints ...colorful.Color) fit {
	score := func(c colorful.Color, cost float64) fit {
		e := eval(c)
		return fit{
			color:    c,
			alpha:    e.alpha,
			residual: e.residual,
			cost:     cost,
			score:    e.residual + weight*cost,
			feasible: e.feasible,
		}
	}
	// Golden section sees infeasible points as costlier so the search stays
	// inside the region where the inversion is exact when it can.
	penalized := func(f fit) float64 {
		if f.feasible {
			return f.score
		}
		return f.score + 1
	}

	switch m.Kind {
	case ClusterColor:
		best := score(m.Colors[0], m.costs[0])
		for i := 1; i < len(m.Colors); i++ {
			if f := score(m.Colors[i], m.costs[i]); f.better(best) {
				best = f
			}
		}
		for _, e := range m.edges {
			a, b := m.Colors[e[0]], m.Colors[e[1]]
			ca, cb := m.costs[e[0]], m.costs[e[1]]
			at := func(t float64) fit {
				return score(lerpColor(a, b, t), (1-t)*ca+t*cb)
			}
			t, _ := goldenSection(func(t float64) float64 { return penalized(at(t)) }, 0, 1, goldenIters)
			if f := at(t); f.better(best) {
				best = f
			}
		}
		return best
	case GaussianColor:
		best := score(m.Mean, 0)
		for _, hint := range hints {
			if f := score(m.project(hint)); f.better(best) {
				best = f
			}
			dir := colorful.Color{R: hint.R - m.Mean.R, G: hint.G - m.Mean.G, B: hint.B - m.Mean.B}
			tMax := m.rayLimit(dir)
			if tMax <= 1e-9 {
				continue
			}
			at := func(t float64) fit {
				c := colorful.Color{R: m.Mean.R + t*dir.R, G: m.Mean.G + t*dir.G, B: m.Mean.B + t*dir.B}
				return score(c, m.mahalanobis2(c))
			}
			t, _ := goldenSection(func(t float64) float64 { return penalized(at(t)) }, 0, tMax, goldenIters)
			if f := at(t); f.better(best) {
				best = f
			}
		}
		return best
	default:
		return score(m.Colors[0], 0)
	}
}

// impliedColor returns the straight color a layer would need so that
// compositing it onto below at coverage alpha lands on target. Blend modes
// that are affine in the source color are inverted exactly; the others
// return the mixed color. ok is false when the layer covers too little of
// the result to tell.
func impliedColor(eq Equation, target, below Premultiplied, alpha float64) (colorful.Color, bool) {
	as := clamp01(alpha)
	ab := clamp01(below.A)
	fa, fb := eq.Op.factors(as, ab)
	sa := as * fa
	if sa < impliedMinCoverage {
		return colorful.Color{}, false
	}
	cb, _ := below.Straight()
	mixed := [3]float64{
		(target.R - fb*below.R) / sa,
		(target.G - fb*below.G) / sa,
		(target.B - fb*below.B) / sa,
	}
	src := [3]float64{}
	for i, b := range [3]float64{cb.R, cb.G, cb.B} {
		src[i] = unblendChannel(eq.Mode, b, mixed[i], ab)
	}
	return colorful.Color{R: src[0], G: src[1], B: src[2]}.Clamped(), true
}

const impliedMinCoverage = 1e-6

// unblendChannel solves v = (1-ab)*s + ab*B(b, s) for s.
func unblendChannel(mode BlendMode, b, v, ab float64) float64 {
	switch mode {
	case Multiply:
		if d := 1 - ab + ab*b; d > 1e-9 {
			return v / d
		}
	case Screen:
		if d := 1 - ab*b; d > 1e-9 {
			return (v - ab*b) / d
		}
	case Exclusion:
		if d := 1 - 2*ab*b; math.Abs(d) > 1e-9 {
			return (v - ab*b) / d
		}
	}
	return v
}

// coverageHint estimates the alpha of a layer from the alpha channel alone.
// Operators whose output alpha does not depend on the layer give 1.
func coverageHint(op CompOp, target, below Premultiplied) float64 {
	ab := clamp01(below.A)
	_, fb0 := op.factors(0, ab)
	fa1, fb1 := op.factors(1, ab)
	a0 := ab * fb0
	a1 := fa1 + ab*fb1
	if a1-a0 < 1e-6 {
		return 1
	}
	return clamp01((target.A - a0) / (a1 - a0))
}

// rayLimit returns how far mean + t*dir may go before leaving either the
// Mahalanobis ellipsoid or the RGB cube.
func (m *ColorModel) rayLimit(dir colorful.Color) float64 {
	unit := colorful.Color{R: m.Mean.R + dir.R, G: m.Mean.G + dir.G, B: m.Mean.B + dir.B}
	d2 := m.mahalanobis2(unit)
	if d2 < 1e-18 {
		return 0
	}
	t := m.radius / math.Sqrt(d2)
	for _, p := range [3][2]float64{{m.Mean.R, dir.R}, {m.Mean.G, dir.G}, {m.Mean.B, dir.B}} {
		switch {
		case p[1] > 1e-12:
			t = min(t, (1-p[0])/p[1])
		case p[1] < -1e-12:
			t = min(t, -p[0]/p[1])
		}
	}
	return max(t, 0)
}
