package utils

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"slices"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/setanarut/unblending"
)

type PaletteMethod int

const (
	PaletteMethodDominantColor PaletteMethod = iota
	PaletteMethodKMeans
	// PaletteMethodGaussian fits one Gaussian color model per k-means cluster.
	PaletteMethodGaussian
)

var ErrEmptyPalette = errors.New("utils: empty palette")

type weightedColor struct {
	Col    colorful.Color
	Weight float64
}

func (m PaletteMethod) String() string {
	switch m {
	case PaletteMethodKMeans:
		return "kmeans"
	case PaletteMethodGaussian:
		return "gaussian"
	default:
		return "dominantcolor"
	}
}

func ParsePaletteMethod(s string) (PaletteMethod, error) {
	for _, m := range []PaletteMethod{PaletteMethodDominantColor, PaletteMethodKMeans, PaletteMethodGaussian} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("utils: unknown palette method %q", s)
}

// SortPaletteByBrightness orders colors from darkest to brightest.
// The first palette entry becomes the darkest color (background).
func SortPaletteByBrightness(palette []colorful.Color) {
	slices.SortStableFunc(palette, func(a, b colorful.Color) int {
		return compareLuminance(a, b)
	})
}

func compareLuminance(a, b colorful.Color) int {
	ya, yb := relativeLuminance(a), relativeLuminance(b)
	if ya < yb {
		return -1
	}
	if ya > yb {
		return 1
	}
	return 0
}

func relativeLuminance(c colorful.Color) float64 {
	r, g, b := c.LinearRgb()
	return 0.2126*r + 0.7152*g + 0.0722*b
}

func ExtractDominantPalette(img image.Image, k int) []colorful.Color {
	if k <= 0 {
		return nil
	}

	nCandidates := max(24, k*8)
	candidates := dominantcolor.FindWeight(img, nCandidates)
	if len(candidates) == 0 {
		// Last resort: avoid an empty palette that would leave no layers.
		candidates = append(candidates, dominantcolor.Color{
			RGBA:   color.RGBA{R: 128, G: 128, B: 128, A: 255},
			Weight: 1.0,
		})
	}

	weighted := make([]weightedColor, 0, len(candidates))
	for _, c := range candidates {
		col, _ := colorful.MakeColor(c.RGBA)
		weighted = append(weighted, weightedColor{Col: col.Clamped(), Weight: max(c.Weight, 1e-6)})
	}
	return SelectDiverseWeightedColors(weighted, k)
}

// SelectDiverseWeightedColors greedily picks k colors that are far apart in
// Lab while favoring heavy candidates.
func SelectDiverseWeightedColors(cands []weightedColor, k int) []colorful.Color {
	if k <= 0 || len(cands) == 0 {
		return nil
	}
	type item struct {
		col colorful.Color
		lab [3]float64
		w   float64
	}
	items := make([]item, 0, len(cands))
	maxW := 0.0
	for _, c := range cands {
		col := c.Col.Clamped()
		l, a, b := col.Lab()
		w := max(c.Weight, 1e-6)
		maxW = max(maxW, w)
		items = append(items, item{col: col, lab: [3]float64{l, a, b}, w: w})
	}
	k = min(k, len(items))

	selectedIdx := make([]int, 0, k)
	selected := make([]bool, len(items))

	// Seed with the strongest color to stay close to dominant tones.
	bestSeed := 0
	for i := 1; i < len(items); i++ {
		if items[i].w > items[bestSeed].w {
			bestSeed = i
		}
	}
	selectedIdx = append(selectedIdx, bestSeed)
	selected[bestSeed] = true

	for len(selectedIdx) < k {
		bestIdx := -1
		bestScore := -1.0
		for i := range items {
			if selected[i] {
				continue
			}
			minD2 := math.MaxFloat64
			for _, s := range selectedIdx {
				d0 := items[i].lab[0] - items[s].lab[0]
				d1 := items[i].lab[1] - items[s].lab[1]
				d2 := items[i].lab[2] - items[s].lab[2]
				minD2 = min(minD2, d0*d0+d1*d1+d2*d2)
			}
			normW := items[i].w / maxW
			score := math.Sqrt(minD2) * (0.55 + 0.45*math.Sqrt(normW))
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		selected[bestIdx] = true
		selectedIdx = append(selectedIdx, bestIdx)
	}

	out := make([]colorful.Color, 0, len(selectedIdx))
	for _, idx := range selectedIdx {
		out = append(out, items[idx].col)
	}
	return out
}

// sampleObservations subsamples opaque pixels to keep k-means tractable on
// large images.
func sampleObservations(img image.Image) clusters.Observations {
	const maxSamples = 12000
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width == 0 || height == 0 {
		return nil
	}
	step := 1
	if width*height > maxSamples {
		step = int(math.Sqrt(float64(width*height)/float64(maxSamples))) + 1
	}

	dataset := make(clusters.Observations, 0, min(width*height, maxSamples))
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.A == 0 {
				continue
			}
			dataset = append(dataset, clusters.Coordinates{
				float64(c.R) / 255.0,
				float64(c.G) / 255.0,
				float64(c.B) / 255.0,
			})
		}
	}
	return dataset
}

// partition runs k-means and sorts clusters by population, largest first.
func partition(dataset clusters.Observations, k int) (clusters.Clusters, error) {
	if len(dataset) == 0 {
		return nil, ErrEmptyPalette
	}
	k = min(k, len(dataset))
	km := kmeans.New()
	cc, err := km.Partition(dataset, k)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(cc, func(a, b clusters.Cluster) int {
		return len(b.Observations) - len(a.Observations)
	})
	return cc, nil
}

func ExtractKMeansPalette(img image.Image, k int) []colorful.Color {
	if k <= 0 {
		return nil
	}
	dataset := sampleObservations(img)
	cc, err := partition(dataset, max(k*4, k+2))
	if err != nil || len(cc) == 0 {
		return nil
	}

	weighted := make([]weightedColor, 0, len(cc))
	for _, c := range cc {
		if len(c.Center) < 3 {
			continue
		}
		col := colorful.Color{R: c.Center[0], G: c.Center[1], B: c.Center[2]}.Clamped()
		weighted = append(weighted, weightedColor{Col: col, Weight: max(float64(len(c.Observations)), 1e-6)})
	}
	return SelectDiverseWeightedColors(weighted, k)
}

// ExtractPalette returns k colors using the given method. Gaussian is treated
// as k-means here; use ExtractGaussianModels for the models themselves.
func ExtractPalette(img image.Image, k int, method PaletteMethod) ([]colorful.Color, error) {
	var p []colorful.Color
	switch method {
	case PaletteMethodKMeans, PaletteMethodGaussian:
		p = ExtractKMeansPalette(img, k)
		if len(p) == 0 {
			unblending.Logger().Warn("kmeans returned an empty palette, falling back to dominantcolor")
			p = ExtractDominantPalette(img, k)
		}
	default:
		p = ExtractDominantPalette(img, k)
	}
	if len(p) == 0 {
		return nil, ErrEmptyPalette
	}
	return p, nil
}

// ExtractGaussianModels clusters the image colors with k-means and fits a
// Gaussian color model to each cluster, darkest mean first.
func ExtractGaussianModels(img image.Image, k int) ([]unblending.ColorModel, error) {
	if k <= 0 {
		return nil, ErrEmptyPalette
	}
	cc, err := partition(sampleObservations(img), k)
	if err != nil {
		return nil, err
	}
	models := make([]unblending.ColorModel, 0, len(cc))
	for _, c := range cc {
		if len(c.Observations) == 0 {
			continue
		}
		models = append(models, fitGaussian(c.Observations))
	}
	if len(models) == 0 {
		return nil, ErrEmptyPalette
	}
	slices.SortStableFunc(models, func(a, b unblending.ColorModel) int {
		return compareLuminance(a.Mean, b.Mean)
	})
	return models, nil
}

// Ridge added to fitted covariances so that flat clusters stay positive
// definite.
const covarianceRidge = 1e-4

func fitGaussian(obs clusters.Observations) unblending.ColorModel {
	n := len(obs)
	data := mat.NewDense(n, 3, nil)
	for i, o := range obs {
		c := o.Coordinates()
		data.Set(i, 0, c[0])
		data.Set(i, 1, c[1])
		data.Set(i, 2, c[2])
	}
	mean := colorful.Color{
		R: stat.Mean(mat.Col(nil, 0, data), nil),
		G: stat.Mean(mat.Col(nil, 1, data), nil),
		B: stat.Mean(mat.Col(nil, 2, data), nil),
	}.Clamped()

	var cov [9]float64
	if n >= 2 {
		var sym mat.SymDense
		stat.CovarianceMatrix(&sym, data, nil)
		for i := range 3 {
			for j := range 3 {
				cov[i*3+j] = sym.At(i, j)
			}
		}
	}
	for i := range 3 {
		cov[i*3+i] += covarianceRidge
	}
	return unblending.NewGaussianColorModel(mean, cov)
}

// LayerInfosFromPalette builds one single-color layer per palette entry. The
// first entry becomes a Normal background; the others use mode.
func LayerInfosFromPalette(palette []colorful.Color, mode unblending.BlendMode) unblending.LayerStack {
	stack := unblending.NormalStack(palette)
	for i := 1; i < len(stack); i++ {
		stack[i].Mode = mode
	}
	return stack
}

// LayerInfosFromModels wraps prepared color models into a Normal/SourceOver
// stack, bottom to top in slice order.
func LayerInfosFromModels(models []unblending.ColorModel) unblending.LayerStack {
	stack := make(unblending.LayerStack, len(models))
	for i, m := range models {
		stack[i] = unblending.LayerInfo{Mode: unblending.Normal, CompOp: unblending.SourceOver, Model: m}
	}
	return stack
}
