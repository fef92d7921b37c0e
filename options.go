package unblending

import (
	"image"
	"math"
)

type GuideMode int

const (
	// GuideColor regresses alpha on the RGB guide (3x3 local covariance).
	GuideColor GuideMode = iota
	// GuideLuminance regresses alpha on the Rec. 709 luma of the guide.
	GuideLuminance
)

func (g GuideMode) String() string {
	if g == GuideLuminance {
		return "luminance"
	}
	return "color"
}

type Options struct {
	// The bottom layer is forced to alpha 1 at every pixel.
	// Set to false to let upper layers absorb more coverage (Aksoy-like results).
	HasOpaqueBackground bool
	// Run the guided filter on the bottom layer as well.
	ForceSmoothBackground bool
	// Worker goroutines for the per-pixel stages. 0 means GOMAXPROCS.
	Workers int
	// Weight of the color model cost against the compositing residual.
	// Ideal start: 1e-3. Higher pulls colors toward the model's preferred
	// colors at the expense of reconstruction.
	ModelCostWeight float64
	// Joint projected-gradient steps on all alphas after the greedy pass.
	// 0 disables the polish. Ideal start: 8-16.
	PolishIterations int
	// Guided filter window radius in pixels.
	// Larger radius trades edge fidelity for noise suppression.
	Radius int
	// Guided filter regularization. Ideal start: 1e-4 (color) to 1e-3 (luminance).
	// Too high blurs across edges, too low passes noise through.
	Epsilon float64
	Guide   GuideMode
	// Re-select model colors with the refined alphas fixed so that the
	// recomposite stays close to the input.
	HarmonizeColors bool
}

func DefaultOptions() Options {
	return Options{
		HasOpaqueBackground: false,
		Workers:             0,
		ModelCostWeight:     1e-3,
		PolishIterations:    12,
		Radius:              8,
		Epsilon:             1e-4,
		Guide:               GuideColor,
		HarmonizeColors:     true,
	}
}

// OptionsFromSize scales the guided filter radius with the image area.
func OptionsFromSize(size image.Point) Options {
	opt := DefaultOptions()
	if size.X <= 0 || size.Y <= 0 {
		return opt
	}
	// Roughly 1/128 of the image diagonal, kept within a sane window.
	diag := math.Hypot(float64(size.X), float64(size.Y))
	opt.Radius = max(2, min(32, int(diag/128)))
	return opt
}
