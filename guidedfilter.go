package unblending

import (
	"context"
	"math"
)

// boxFilter computes windowed means over W*H float buffers. Windows are
// clipped at the border and normalized by the number of pixels they cover.
type boxFilter struct {
	w, h, r int
	workers int
	count   []float64
}

func newBoxFilter(w, h, r, workers int) *boxFilter {
	r = max(r, 0)
	b := &boxFilter{w: w, h: h, r: r, workers: workers, count: make([]float64, w*h)}
	for y := range h {
		ny := min(y+r, h-1) - max(y-r, 0) + 1
		for x := range w {
			nx := min(x+r, w-1) - max(x-r, 0) + 1
			b.count[y*w+x] = float64(nx * ny)
		}
	}
	return b
}

// mean runs a horizontal then a vertical running sum. Each row (then each
// column) is owned by one worker, so the result does not depend on the
// partition.
func (b *boxFilter) mean(ctx context.Context, src []float64) ([]float64, error) {
	w, h, r := b.w, b.h, b.r
	tmp := make([]float64, w*h)
	err := parallelRange(ctx, h, b.workers, func(lo, hi int) error {
		for y := lo; y < hi; y++ {
			row := src[y*w : (y+1)*w]
			dst := tmp[y*w : (y+1)*w]
			sum := 0.0
			for x := 0; x <= min(r, w-1); x++ {
				sum += row[x]
			}
			for x := range w {
				dst[x] = sum
				if x+r+1 < w {
					sum += row[x+r+1]
				}
				if x-r >= 0 {
					sum -= row[x-r]
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]float64, w*h)
	err = parallelRange(ctx, w, b.workers, func(lo, hi int) error {
		for x := lo; x < hi; x++ {
			sum := 0.0
			for y := 0; y <= min(r, h-1); y++ {
				sum += tmp[y*w+x]
			}
			for y := range h {
				i := y*w + x
				out[i] = sum / b.count[i]
				if y+r+1 < h {
					sum += tmp[(y+r+1)*w+x]
				}
				if y-r >= 0 {
					sum -= tmp[(y-r)*w+x]
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func product(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] * b[i]
	}
	return out
}

// guidedFilter is the edge-preserving filter of He et al. The statistics of
// the guide are computed once and reused for every layer.
type guidedFilter struct {
	box  *boxFilter
	eps  float64
	mode GuideMode

	// GuideLuminance
	lum, meanL, varL []float64

	// GuideColor: channels, their means and the 6 unique entries of the
	// local covariance (rr, rg, rb, gg, gb, bb).
	ch    [3][]float64
	meanC [3][]float64
	cov   [6][]float64
}

func newGuidedFilter(ctx context.Context, guide *ColorImage, radius int, eps float64, mode GuideMode, workers int) (*guidedFilter, error) {
	g := &guidedFilter{
		box:  newBoxFilter(guide.W, guide.H, radius, workers),
		eps:  eps,
		mode: mode,
	}
	var err error
	if mode == GuideLuminance {
		g.lum = guide.Luminance()
		if g.meanL, err = g.box.mean(ctx, g.lum); err != nil {
			return nil, err
		}
		corr, err := g.box.mean(ctx, product(g.lum, g.lum))
		if err != nil {
			return nil, err
		}
		g.varL = make([]float64, len(corr))
		for i := range corr {
			g.varL[i] = corr[i] - g.meanL[i]*g.meanL[i]
		}
		return g, nil
	}

	n := guide.W * guide.H
	for c := range 3 {
		g.ch[c] = make([]float64, n)
		for i := range n {
			g.ch[c][i] = guide.Pix[i*4+c]
		}
		if g.meanC[c], err = g.box.mean(ctx, g.ch[c]); err != nil {
			return nil, err
		}
	}
	pairs := [6][2]int{{0, 0}, {0, 1}, {0, 2}, {1, 1}, {1, 2}, {2, 2}}
	for k, p := range pairs {
		corr, err := g.box.mean(ctx, product(g.ch[p[0]], g.ch[p[1]]))
		if err != nil {
			return nil, err
		}
		g.cov[k] = make([]float64, n)
		for i := range n {
			g.cov[k][i] = corr[i] - g.meanC[p[0]][i]*g.meanC[p[1]][i]
		}
	}
	return g, nil
}

// filter smooths p using the guide. Non-finite outputs fall back to the
// input value.
func (g *guidedFilter) filter(ctx context.Context, p []float64) ([]float64, error) {
	if g.mode == GuideLuminance {
		return g.filterLuminance(ctx, p)
	}
	return g.filterColor(ctx, p)
}

// means runs the box filter over every source in order.
func (g *guidedFilter) means(ctx context.Context, srcs ...[]float64) ([][]float64, error) {
	out := make([][]float64, len(srcs))
	for i, src := range srcs {
		m, err := g.box.mean(ctx, src)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

func (g *guidedFilter) filterLuminance(ctx context.Context, p []float64) ([]float64, error) {
	n := len(p)
	m, err := g.means(ctx, p, product(g.lum, p))
	if err != nil {
		return nil, err
	}
	meanP, corrLP := m[0], m[1]
	a := make([]float64, n)
	b := make([]float64, n)
	err = parallelRange(ctx, n, g.box.workers, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			cov := corrLP[i] - g.meanL[i]*meanP[i]
			a[i] = cov / (g.varL[i] + g.eps)
			b[i] = meanP[i] - a[i]*g.meanL[i]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if m, err = g.means(ctx, a, b); err != nil {
		return nil, err
	}
	meanA, meanB := m[0], m[1]
	q := make([]float64, n)
	err = parallelRange(ctx, n, g.box.workers, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			q[i] = finiteOr(meanA[i]*g.lum[i]+meanB[i], p[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (g *guidedFilter) filterColor(ctx context.Context, p []float64) ([]float64, error) {
	n := len(p)
	m, err := g.means(ctx, p, product(g.ch[0], p), product(g.ch[1], p), product(g.ch[2], p))
	if err != nil {
		return nil, err
	}
	meanP := m[0]
	covP := [3][]float64{m[1], m[2], m[3]}
	var a [3][]float64
	for c := range 3 {
		a[c] = make([]float64, n)
	}
	b := make([]float64, n)
	err = parallelRange(ctx, n, g.box.workers, func(lo, hi int) error {
		var sigma [9]float64
		var rhs [3]float64
		for i := lo; i < hi; i++ {
			for c := range 3 {
				rhs[c] = covP[c][i] - g.meanC[c][i]*meanP[i]
			}
			rr, rg, rb := g.cov[0][i]+g.eps, g.cov[1][i], g.cov[2][i]
			gg, gb, bb := g.cov[3][i]+g.eps, g.cov[4][i], g.cov[5][i]+g.eps
			sigma = [9]float64{
				rr, rg, rb,
				rg, gg, gb,
				rb, gb, bb,
			}
			if !solveSPDInPlace(sigma[:], rhs[:], 3) {
				// Degenerate window: fall back to the local mean.
				rhs = [3]float64{}
			}
			bi := meanP[i]
			for c := range 3 {
				a[c][i] = rhs[c]
				bi -= rhs[c] * g.meanC[c][i]
			}
			b[i] = bi
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if m, err = g.means(ctx, a[0], a[1], a[2], b); err != nil {
		return nil, err
	}
	meanB := m[3]
	q := make([]float64, n)
	err = parallelRange(ctx, n, g.box.workers, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			v := meanB[i]
			for c := range 3 {
				v += m[c][i] * g.ch[c][i]
			}
			q[i] = finiteOr(v, p[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}
