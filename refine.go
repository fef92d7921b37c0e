package unblending

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucasb-eyer/go-colorful"
)

// Epsilon used when Options.Epsilon is not positive. It only keeps the local
// regressions well-posed.
const minEpsilon = 1e-8

// Alphas below this leave a layer's color invisible, so harmonization skips
// the layer at that pixel.
const harmonizeMinAlpha = 1e-4

// PerformMatteRefinement smooths every layer's alpha with a guided filter
// driven by the original image and returns new layer images. The bottom layer
// is copied unchanged unless opt.ForceSmoothBackground is set. With
// opt.HarmonizeColors, model colors are re-selected afterwards so that the
// recomposite stays close to img.
func PerformMatteRefinement(img *ColorImage, layers []*ColorImage, stack LayerStack, opt Options) ([]*ColorImage, error) {
	return PerformMatteRefinementContext(context.Background(), img, layers, stack, opt)
}

// PerformMatteRefinementContext is PerformMatteRefinement with cancellation.
// ctx is checked between filter passes and between harmonization rows.
func PerformMatteRefinementContext(ctx context.Context, img *ColorImage, layers []*ColorImage, stack LayerStack, opt Options) ([]*ColorImage, error) {
	if img.Empty() {
		return nil, ErrEmptyImage
	}
	compiled, err := stack.compile()
	if err != nil {
		return nil, err
	}
	if len(layers) != len(compiled) {
		return nil, fmt.Errorf("%w: %d layer images for %d layer infos", ErrSizeMismatch, len(layers), len(compiled))
	}
	for i, l := range layers {
		if l == nil || l.W != img.W || l.H != img.H {
			return nil, &ConfigError{Layer: i, Err: ErrSizeMismatch}
		}
	}
	start := time.Now()
	eps := opt.Epsilon
	if eps <= 0 {
		eps = minEpsilon
	}
	gf, err := newGuidedFilter(ctx, img, opt.Radius, eps, opt.Guide, opt.Workers)
	if err != nil {
		return nil, err
	}

	refined := make([]*ColorImage, len(layers))
	for k, layer := range layers {
		out := layer.Clone()
		refined[k] = out
		if k == 0 && !opt.ForceSmoothBackground {
			continue
		}
		alpha, err := gf.filter(ctx, layer.AlphaChannel())
		if err != nil {
			return nil, err
		}
		for i, a := range alpha {
			out.Pix[i*4+3] = clamp01(a)
		}
		Logger().Debug("refined matte", slog.Int("layer", k))
	}

	if opt.HarmonizeColors {
		if err := harmonizeColors(ctx, img, refined, compiled, opt); err != nil {
			return nil, err
		}
	}
	Logger().Debug("matte refinement done",
		slog.Int("radius", opt.Radius), slog.Float64("epsilon", eps),
		slog.String("guide", opt.Guide.String()),
		slog.Duration("elapsed", time.Since(start)))
	return refined, nil
}

// harmonizeColors re-fits the colors of non-single models in place with the
// refined alphas fixed, bottom to top.
func harmonizeColors(ctx context.Context, img *ColorImage, layers []*ColorImage, compiled []compiledLayer, opt Options) error {
	adjustable := false
	for _, l := range compiled {
		if l.model.Kind != SingleColor {
			adjustable = true
			break
		}
	}
	if !adjustable {
		return nil
	}
	w := img.W
	return parallelRange(ctx, img.H, opt.Workers, func(lo, hi int) error {
		s := newPixelSolver(compiled, opt)
		for y := lo; y < hi; y++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			for x := range w {
				for k, layer := range layers {
					s.colors[k], s.alphas[k] = layer.At(x, y)
				}
				c, a := img.At(x, y)
				s.harmonize(premultiply(c, a), c)
				for k, layer := range layers {
					layer.Set(x, y, s.colors[k], s.alphas[k])
				}
			}
		}
		return nil
	})
}

// harmonize re-selects the color of each non-single layer, keeping alphas,
// to minimize the residual of the full recomposite.
func (s *pixelSolver) harmonize(target Premultiplied, observed colorful.Color) {
	for k, l := range s.layers {
		if l.model.Kind == SingleColor || s.alphas[k] < harmonizeMinAlpha {
			continue
		}
		prev := s.colors[k]
		eval := func(c colorful.Color) evaluation {
			s.colors[k] = c
			r := target.dist2(s.composite(s.alphas))
			s.colors[k] = prev
			return evaluation{alpha: s.alphas[k], residual: r, feasible: true}
		}
		hints := [2]colorful.Color{observed}
		n := 1
		if l.model.Kind == GaussianColor {
			below := s.compositeBelow(s.alphas, k)
			if c, ok := impliedColor(l.eq, target, below, s.alphas[k]); ok {
				hints[n] = c
				n++
			}
		}
		f := l.model.bestFit(eval, s.opt.ModelCostWeight, hints[:n]...)
		_, prevCost := l.model.project(prev)
		if f.score < eval(prev).residual+s.opt.ModelCostWeight*prevCost {
			s.colors[k] = f.color
		}
	}
}
