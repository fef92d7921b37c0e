package unblending

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lucasb-eyer/go-colorful"
)

// Unmixing is the raw result of ComputeColorUnmixing.
type Unmixing struct {
	// One image per layer, bottom to top, same size as the input.
	Layers []*ColorImage
	// Squared premultiplied RGBA reconstruction error per pixel, len = W*H.
	Residual []float64
	// Number of (pixel, layer) pairs where no candidate could be inverted
	// inside [0,1] and a clamped candidate was used instead.
	Fallbacks int64
}

func (u *Unmixing) MeanResidual() float64 {
	if len(u.Residual) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range u.Residual {
		sum += r
	}
	return sum / float64(len(u.Residual))
}

func (u *Unmixing) MaxResidual() float64 {
	m := 0.0
	for _, r := range u.Residual {
		m = max(m, r)
	}
	return m
}

// ComputeColorUnmixing decomposes img into one layer per entry of stack.
// Every pixel is solved independently: layers are fitted bottom to top by
// inverting each layer's equation for the candidates of its color model,
// then all free alphas are polished jointly. Only configuration errors are
// returned; pixels that cannot be reproduced exactly still get a complete
// layer stack.
func ComputeColorUnmixing(img *ColorImage, stack LayerStack, opt Options) (*Unmixing, error) {
	return ComputeColorUnmixingContext(context.Background(), img, stack, opt)
}

// ComputeColorUnmixingContext is ComputeColorUnmixing with cancellation.
// ctx is checked between rows; a canceled run returns ctx.Err() and no
// result.
func ComputeColorUnmixingContext(ctx context.Context, img *ColorImage, stack LayerStack, opt Options) (*Unmixing, error) {
	if img.Empty() {
		return nil, ErrEmptyImage
	}
	layers, err := stack.compile()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	w, h := img.W, img.H
	out := &Unmixing{
		Layers:   make([]*ColorImage, len(layers)),
		Residual: make([]float64, w*h),
	}
	for k := range layers {
		out.Layers[k] = NewColorImage(w, h)
	}

	var fallbacks atomic.Int64
	err = parallelRange(ctx, h, opt.Workers, func(lo, hi int) error {
		s := newPixelSolver(layers, opt)
		defer func() { fallbacks.Add(s.fallbacks) }()
		for y := lo; y < hi; y++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			for x := range w {
				c, a := img.At(x, y)
				out.Residual[y*w+x] = s.solve(premultiply(c, a), c)
				for k := range layers {
					out.Layers[k].Set(x, y, s.colors[k], s.alphas[k])
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.Fallbacks = fallbacks.Load()

	log := Logger()
	log.Debug("color unmixing done",
		slog.Int("width", w), slog.Int("height", h), slog.Int("layers", len(layers)),
		slog.Duration("elapsed", time.Since(start)))
	log.Info("color unmixing",
		slog.Float64("mean_residual", out.MeanResidual()),
		slog.Float64("max_residual", out.MaxResidual()))
	if out.Fallbacks > 0 {
		log.Warn("color unmixing used clamped candidates", slog.Int64("count", out.Fallbacks))
	}
	return out, nil
}

const (
	// Residuals below this are treated as an exact reconstruction.
	polishTol = 1e-14
	// Forward difference step for the polish Jacobian.
	jacobianStep = 1e-7
	maxHalvings  = 12
)

// pixelSolver holds the scratch state of one worker. It is not shared.
type pixelSolver struct {
	layers    []compiledLayer
	opt       Options
	alphas    []float64
	colors    []colorful.Color
	trial     []float64
	grad      []float64
	jac       []Premultiplied
	normal    []float64
	step      []float64
	free      []int
	fallbacks int64
}

func newPixelSolver(layers []compiledLayer, opt Options) *pixelSolver {
	n := len(layers)
	return &pixelSolver{
		layers: layers,
		opt:    opt,
		alphas: make([]float64, n),
		colors: make([]colorful.Color, n),
		trial:  make([]float64, n),
		grad:   make([]float64, n),
		jac:    make([]Premultiplied, n),
		normal: make([]float64, n*n),
		step:   make([]float64, n),
		free:   make([]int, 0, n),
	}
}

// solve fills s.alphas and s.colors for one pixel and returns the residual.
func (s *pixelSolver) solve(target Premultiplied, observed colorful.Color) float64 {
	below := Premultiplied{}
	for k, l := range s.layers {
		fixed := k == 0 && s.opt.HasOpaqueBackground
		eval := func(c colorful.Color) evaluation {
			if fixed {
				return evaluation{alpha: 1, residual: target.dist2(l.eq.Forward(below, 1, c)), feasible: true}
			}
			a, ok := l.eq.Inverse(target, below, c)
			feasible := Feasible(a, ok)
			if !ok {
				// The layer cannot change the composite; zero coverage is
				// the nearest harmless boundary.
				a = 0
			}
			a = clamp01(a)
			return evaluation{alpha: a, residual: target.dist2(l.eq.Forward(below, a, c)), feasible: feasible}
		}
		hints := [2]colorful.Color{observed}
		n := 1
		if l.model.Kind == GaussianColor {
			cover := 1.0
			if !fixed {
				cover = coverageHint(l.eq.Op, target, below)
			}
			if c, ok := impliedColor(l.eq, target, below, cover); ok {
				hints[n] = c
				n++
			}
		}
		f := l.model.bestFit(eval, s.opt.ModelCostWeight, hints[:n]...)
		if !f.feasible {
			s.fallbacks++
		}
		s.alphas[k] = f.alpha
		s.colors[k] = f.color
		below = l.eq.Forward(below, f.alpha, f.color)
	}
	res := target.dist2(below)
	if s.opt.PolishIterations > 0 && res > polishTol {
		res = s.polish(target, res)
	}
	return res
}

func (s *pixelSolver) composite(alphas []float64) Premultiplied {
	return s.compositeBelow(alphas, len(s.layers))
}

// compositeBelow composites layers [0, k).
func (s *pixelSolver) compositeBelow(alphas []float64, k int) Premultiplied {
	acc := Premultiplied{}
	for i, l := range s.layers[:k] {
		acc = l.eq.Forward(acc, alphas[i], s.colors[i])
	}
	return acc
}

// polish refines the free alphas jointly by projected Gauss-Newton with the
// colors held fixed. The Jacobian of the composite is taken by forward
// differences. Alphas on a bound whose gradient points outward are frozen
// for the step, and steps are halved until the residual decreases.
func (s *pixelSolver) polish(target Premultiplied, res float64) float64 {
	n := len(s.layers)
	first := 0
	if s.opt.HasOpaqueBackground {
		first = 1
	}
	if first >= n {
		return res
	}
	for range s.opt.PolishIterations {
		if res <= polishTol {
			break
		}
		r := s.composite(s.alphas).sub(target)
		for k := first; k < n; k++ {
			a := s.alphas[k]
			h := jacobianStep
			if a+h > 1 {
				h = -h
			}
			s.alphas[k] = a + h
			d := s.composite(s.alphas).sub(target).sub(r)
			s.alphas[k] = a
			s.jac[k] = Premultiplied{R: d.R / h, G: d.G / h, B: d.B / h, A: d.A / h}
			s.grad[k] = s.jac[k].dot(r)
		}

		s.free = s.free[:0]
		for k := first; k < n; k++ {
			a, g := s.alphas[k], s.grad[k]
			if (a <= 0 && g > 0) || (a >= 1 && g < 0) {
				continue
			}
			s.free = append(s.free, k)
		}
		m := len(s.free)
		if m == 0 {
			break
		}
		normal := s.normal[:m*m]
		trace := 0.0
		for i, ki := range s.free {
			for j, kj := range s.free {
				normal[i*m+j] = s.jac[ki].dot(s.jac[kj])
			}
			trace += normal[i*m+i]
			s.step[i] = -s.grad[ki]
		}
		// Layers hidden by full coverage above have zero columns.
		damping := 1e-9 * max(trace, 1e-12)
		for i := range m {
			normal[i*m+i] += damping
		}
		if !solveSPDInPlace(normal, s.step[:m], m) {
			break
		}

		t := 1.0
		accepted := false
		for range maxHalvings {
			copy(s.trial, s.alphas)
			for i, k := range s.free {
				s.trial[k] = clamp01(s.alphas[k] + t*s.step[i])
			}
			if r := target.dist2(s.composite(s.trial)); r < res {
				copy(s.alphas, s.trial)
				res = r
				accepted = true
				break
			}
			t *= 0.5
		}
		if !accepted {
			break
		}
	}
	return res
}
