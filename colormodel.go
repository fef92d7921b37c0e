package unblending

import (
	"errors"
	"fmt"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

type ModelKind int

const (
	// SingleColor models a layer painted with exactly one color.
	SingleColor ModelKind = iota
	// ClusterColor models a small palette. Colors may be mixed along the
	// adjacency edges, so the representable set is the vertices plus the
	// segments between adjacent colors.
	ClusterColor
	// GaussianColor models a color distribution by its mean and covariance.
	// Colors within MaxDistance (Mahalanobis) of the mean are representable.
	GaussianColor
)

var modelKindNames = [...]string{
	SingleColor:   "single",
	ClusterColor:  "cluster",
	GaussianColor: "gaussian",
}

func (k ModelKind) String() string {
	if k < 0 || int(k) >= len(modelKindNames) {
		return fmt.Sprintf("ModelKind(%d)", int(k))
	}
	return modelKindNames[k]
}

func ParseModelKind(s string) (ModelKind, error) {
	key := normalizeName(s)
	for i, name := range modelKindNames {
		if name == key {
			return ModelKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidColorModel, s)
}

// DefaultMaxDistance is the Mahalanobis radius used when a Gaussian model
// leaves MaxDistance unset.
const DefaultMaxDistance = 3.0

// ColorModel is a tagged variant. Kind selects which fields are meaningful:
//
//	SingleColor:   Colors[0]
//	ClusterColor:  Colors, Weights (optional), Edges (optional, nil = all pairs)
//	GaussianColor: Mean, Covariance (row-major 3x3), MaxDistance
type ColorModel struct {
	Kind        ModelKind
	Colors      []colorful.Color
	Weights     []float64
	Edges       [][2]int
	Mean        colorful.Color
	Covariance  []float64
	MaxDistance float64

	// Derived by prepare.
	costs  []float64
	edges  [][2]int
	chol   *mat.Cholesky
	invCov [9]float64
	radius float64
}

func NewSingleColorModel(c colorful.Color) ColorModel {
	return ColorModel{Kind: SingleColor, Colors: []colorful.Color{c}}
}

// NewClusterColorModel builds a palette model. weights may be nil.
func NewClusterColorModel(colors []colorful.Color, weights []float64) ColorModel {
	return ColorModel{Kind: ClusterColor, Colors: colors, Weights: weights}
}

func NewGaussianColorModel(mean colorful.Color, cov [9]float64) ColorModel {
	return ColorModel{Kind: GaussianColor, Mean: mean, Covariance: cov[:], MaxDistance: DefaultMaxDistance}
}

// Validate reports whether the model is well formed.
func (m ColorModel) Validate() error {
	_, err := m.prepare()
	return err
}

// Representative returns the color that best summarizes the model.
func (m ColorModel) Representative() colorful.Color {
	switch m.Kind {
	case GaussianColor:
		return m.Mean
	default:
		if len(m.Colors) == 0 {
			return colorful.Color{}
		}
		best := 0
		for i := 1; i < len(m.Weights) && i < len(m.Colors); i++ {
			if m.Weights[i] > m.Weights[best] {
				best = i
			}
		}
		return m.Colors[best]
	}
}

// prepare returns a copy of m with derived fields filled in. The receiver is
// never modified, so callers' layer stacks stay untouched.
func (m ColorModel) prepare() (ColorModel, error) {
	switch m.Kind {
	case SingleColor:
		if len(m.Colors) != 1 {
			return m, fmt.Errorf("%w: single color model needs exactly one color, got %d", ErrInvalidColorModel, len(m.Colors))
		}
		if !inGamut(m.Colors[0]) {
			return m, fmt.Errorf("%w: color %v out of range", ErrInvalidColorModel, m.Colors[0])
		}
		return m, nil
	case ClusterColor:
		return m.prepareCluster()
	case GaussianColor:
		return m.prepareGaussian()
	default:
		return m, fmt.Errorf("%w: unknown kind %d", ErrInvalidColorModel, int(m.Kind))
	}
}

func (m ColorModel) prepareCluster() (ColorModel, error) {
	n := len(m.Colors)
	if n == 0 {
		return m, fmt.Errorf("%w: empty cluster model", ErrInvalidColorModel)
	}
	for _, c := range m.Colors {
		if !inGamut(c) {
			return m, fmt.Errorf("%w: color %v out of range", ErrInvalidColorModel, c)
		}
	}
	if m.Weights != nil && len(m.Weights) != n {
		return m, fmt.Errorf("%w: %d weights for %d colors", ErrInvalidColorModel, len(m.Weights), n)
	}
	maxW := 0.0
	for _, w := range m.Weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return m, fmt.Errorf("%w: weight %v", ErrInvalidColorModel, w)
		}
		maxW = max(maxW, w)
	}
	if m.Weights != nil && maxW <= 0 {
		return m, fmt.Errorf("%w: all weights are zero", ErrInvalidColorModel)
	}

	m.costs = make([]float64, n)
	for i := range n {
		if m.Weights == nil {
			continue
		}
		w := m.Weights[i]
		if w <= 0 {
			// Zero affinity: representable, but never preferred.
			m.costs[i] = 1e3
			continue
		}
		m.costs[i] = -math.Log(w / maxW)
	}

	if m.Edges == nil {
		m.edges = make([][2]int, 0, n*(n-1)/2)
		for i := range n {
			for j := i + 1; j < n; j++ {
				m.edges = append(m.edges, [2]int{i, j})
			}
		}
		return m, nil
	}
	m.edges = make([][2]int, 0, len(m.Edges))
	for _, e := range m.Edges {
		if e[0] < 0 || e[0] >= n || e[1] < 0 || e[1] >= n || e[0] == e[1] {
			return m, fmt.Errorf("%w: bad edge %v", ErrInvalidColorModel, e)
		}
		m.edges = append(m.edges, e)
	}
	return m, nil
}

func (m ColorModel) prepareGaussian() (ColorModel, error) {
	if !inGamut(m.Mean) {
		return m, fmt.Errorf("%w: mean %v out of range", ErrInvalidColorModel, m.Mean)
	}
	if len(m.Covariance) != 9 {
		return m, fmt.Errorf("%w: covariance needs 9 values, got %d", ErrInvalidColorModel, len(m.Covariance))
	}
	for i := range 3 {
		for j := i + 1; j < 3; j++ {
			if math.Abs(m.Covariance[i*3+j]-m.Covariance[j*3+i]) > 1e-9 {
				return m, fmt.Errorf("%w: covariance is not symmetric", ErrInvalidColorModel)
			}
		}
	}
	if m.MaxDistance < 0 || math.IsNaN(m.MaxDistance) {
		return m, fmt.Errorf("%w: max distance %v", ErrInvalidColorModel, m.MaxDistance)
	}
	m.radius = m.MaxDistance
	if m.radius == 0 {
		m.radius = DefaultMaxDistance
	}

	cov := mat.NewSymDense(3, append([]float64(nil), m.Covariance...))
	chol := new(mat.Cholesky)
	if ok := chol.Factorize(cov); !ok {
		return m, fmt.Errorf("%w: covariance is not positive definite", ErrInvalidColorModel)
	}
	m.chol = chol
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return m, errors.Join(ErrInvalidColorModel, err)
	}
	for i := range 3 {
		for j := range 3 {
			m.invCov[i*3+j] = inv.At(i, j)
		}
	}
	return m, nil
}

// mahalanobis2 returns the squared Mahalanobis distance of c from the mean
// using the cached inverse. Only valid on a prepared Gaussian model.
func (m *ColorModel) mahalanobis2(c colorful.Color) float64 {
	d := [3]float64{c.R - m.Mean.R, c.G - m.Mean.G, c.B - m.Mean.B}
	sum := 0.0
	for i := range 3 {
		for j := range 3 {
			sum += d[i] * m.invCov[i*3+j] * d[j]
		}
	}
	return max(sum, 0)
}

// distance2 is mahalanobis2 computed through the Cholesky factor. The public
// queries use it; the per-pixel search uses the cached inverse.
func (m *ColorModel) distance2(c colorful.Color) float64 {
	x := mat.NewVecDense(3, []float64{c.R, c.G, c.B})
	mu := mat.NewVecDense(3, []float64{m.Mean.R, m.Mean.G, m.Mean.B})
	d := stat.Mahalanobis(x, mu, m.chol)
	return d * d
}

// Project returns the representable color closest to c and the Euclidean
// RGB distance between the two. Gaussian models project along the ray to
// the mean.
func (m ColorModel) Project(c colorful.Color) (colorful.Color, float64) {
	pm, err := m.prepare()
	if err != nil {
		return c, math.Inf(1)
	}
	p, _ := pm.projectExact(c)
	return p, rgbDistance(p, c)
}

// Contains reports whether c is within tol of the representable set.
func (m ColorModel) Contains(c colorful.Color, tol float64) bool {
	_, d := m.Project(c)
	return d <= tol
}

// Cost returns the model cost of the representable color nearest to c.
func (m ColorModel) Cost(c colorful.Color) float64 {
	pm, err := m.prepare()
	if err != nil {
		return math.Inf(1)
	}
	_, cost := pm.projectExact(c)
	return cost
}

func (m *ColorModel) projectExact(c colorful.Color) (colorful.Color, float64) {
	if m.Kind == GaussianColor {
		return m.clampToRadius(c, m.distance2(c))
	}
	return m.project(c)
}

// project assumes a prepared model and returns the projection and its cost.
func (m *ColorModel) project(c colorful.Color) (colorful.Color, float64) {
	switch m.Kind {
	case ClusterColor:
		best := m.Colors[0]
		bestCost := m.costs[0]
		bestD := rgbDistance(c, best)
		for i := 1; i < len(m.Colors); i++ {
			if d := rgbDistance(c, m.Colors[i]); d < bestD {
				best, bestCost, bestD = m.Colors[i], m.costs[i], d
			}
		}
		for _, e := range m.edges {
			t := segmentParam(c, m.Colors[e[0]], m.Colors[e[1]])
			p := lerpColor(m.Colors[e[0]], m.Colors[e[1]], t)
			if d := rgbDistance(c, p); d < bestD {
				best, bestD = p, d
				bestCost = (1-t)*m.costs[e[0]] + t*m.costs[e[1]]
			}
		}
		return best, bestCost
	case GaussianColor:
		return m.clampToRadius(c, m.mahalanobis2(c))
	default:
		return m.Colors[0], 0
	}
}

// clampToRadius pulls c toward the mean onto the ellipsoid when its squared
// distance d2 exceeds the radius.
func (m *ColorModel) clampToRadius(c colorful.Color, d2 float64) (colorful.Color, float64) {
	if d2 <= m.radius*m.radius {
		return c, d2
	}
	s := m.radius / math.Sqrt(d2)
	return lerpColor(m.Mean, c, s), m.radius * m.radius
}

func inGamut(c colorful.Color) bool {
	for _, v := range [3]float64{c.R, c.G, c.B} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return false
		}
	}
	return true
}

func rgbDistance(a, b colorful.Color) float64 {
	dr, dg, db := a.R-b.R, a.G-b.G, a.B-b.B
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

func lerpColor(a, b colorful.Color, t float64) colorful.Color {
	return colorful.Color{
		R: a.R + t*(b.R-a.R),
		G: a.G + t*(b.G-a.G),
		B: a.B + t*(b.B-a.B),
	}
}

// segmentParam returns the parameter in [0,1] of the point on segment ab
// closest to c.
func segmentParam(c, a, b colorful.Color) float64 {
	dr, dg, db := b.R-a.R, b.G-a.G, b.B-a.B
	den := dr*dr + dg*dg + db*db
	if den < 1e-18 {
		return 0
	}
	t := ((c.R-a.R)*dr + (c.G-a.G)*dg + (c.B-a.B)*db) / den
	return clamp01(t)
}
