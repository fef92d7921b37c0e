package unblending

import (
	"context"
	"image"
	"log/slog"
)

// Decomposer runs the full pipeline on one image: color unmixing, matte
// refinement and recompositing.
type Decomposer struct {
	InputImage image.Image
	Input      *ColorImage
	Stack      LayerStack
	Raw        *Unmixing
	Refined    []*ColorImage
}

func NewDecomposer(input image.Image, stack LayerStack) *Decomposer {
	return &Decomposer{
		InputImage: input,
		Stack:      stack,
	}
}

// Build converts the input and runs unmixing followed by refinement.
func (d *Decomposer) Build(opt Options) error {
	return d.BuildContext(context.Background(), opt)
}

// BuildContext is Build with cancellation.
func (d *Decomposer) BuildContext(ctx context.Context, opt Options) error {
	if err := d.Stack.Validate(); err != nil {
		return err
	}
	d.Input = ColorImageFromImage(d.InputImage)
	raw, err := ComputeColorUnmixingContext(ctx, d.Input, d.Stack, opt)
	if err != nil {
		return err
	}
	d.Raw = raw
	refined, err := PerformMatteRefinementContext(ctx, d.Input, raw.Layers, d.Stack, opt)
	if err != nil {
		return err
	}
	d.Refined = refined
	Logger().Info("decomposition built",
		slog.Int("layers", len(d.Stack)),
		slog.Bool("opaque_background", opt.HasOpaqueBackground),
		slog.Bool("smooth_background", opt.ForceSmoothBackground))
	return nil
}

// Layers returns the refined layers, or the raw ones if refinement has not
// run.
func (d *Decomposer) Layers() []*ColorImage {
	if d.Refined != nil {
		return d.Refined
	}
	if d.Raw != nil {
		return d.Raw.Layers
	}
	return nil
}

// Reconstruct composites layers with the decomposer's stack.
func (d *Decomposer) Reconstruct(layers []*ColorImage) (*ColorImage, error) {
	return CompositeLayers(layers, d.Stack, 0)
}

func (d *Decomposer) RGBALayers() []*image.NRGBA {
	layers := d.Layers()
	if len(layers) == 0 {
		return nil
	}
	out := make([]*image.NRGBA, len(layers))
	for i, l := range layers {
		out[i] = l.NRGBA()
	}
	return out
}

// GrayLayers returns the mattes (alpha channels) of the current layers.
func (d *Decomposer) GrayLayers() []*image.Gray {
	layers := d.Layers()
	if len(layers) == 0 {
		return nil
	}
	out := make([]*image.Gray, len(layers))
	for i, l := range layers {
		out[i] = l.Matte()
	}
	return out
}
