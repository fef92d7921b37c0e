package unblending

import (
	"fmt"

	"github.com/lucasb-eyer/go-colorful"
)

// LayerInfo describes one layer of the decomposition. Its stack position is
// its index in the LayerStack.
type LayerInfo struct {
	Mode   BlendMode
	CompOp CompOp
	Model  ColorModel
}

// LayerStack is ordered bottom to top; index 0 is the background layer.
type LayerStack []LayerInfo

// Validate checks that every layer references an implemented equation and a
// well-formed color model.
func (s LayerStack) Validate() error {
	_, err := s.compile()
	return err
}

func (s LayerStack) BlendModes() []BlendMode {
	out := make([]BlendMode, len(s))
	for i, l := range s {
		out[i] = l.Mode
	}
	return out
}

func (s LayerStack) CompOps() []CompOp {
	out := make([]CompOp, len(s))
	for i, l := range s {
		out[i] = l.CompOp
	}
	return out
}

func (s LayerStack) ColorModels() []ColorModel {
	out := make([]ColorModel, len(s))
	for i, l := range s {
		out[i] = l.Model
	}
	return out
}

// compiledLayer carries the looked-up equation and prepared model so the
// per-pixel loops never touch the tables or re-validate.
type compiledLayer struct {
	eq    Equation
	model ColorModel
}

func (s LayerStack) compile() ([]compiledLayer, error) {
	if len(s) == 0 {
		return nil, ErrNoLayers
	}
	out := make([]compiledLayer, len(s))
	for i, l := range s {
		eq, err := LookupEquation(l.Mode, l.CompOp)
		if err != nil {
			return nil, &ConfigError{Layer: i, Err: err}
		}
		m, err := l.Model.prepare()
		if err != nil {
			return nil, &ConfigError{Layer: i, Err: err}
		}
		out[i] = compiledLayer{eq: eq, model: m}
	}
	return out, nil
}

// NormalStack builds a stack of single-color layers composited with Normal
// and SourceOver, bottom to top in palette order.
func NormalStack(palette []colorful.Color) LayerStack {
	out := make(LayerStack, len(palette))
	for i, c := range palette {
		out[i] = LayerInfo{Mode: Normal, CompOp: SourceOver, Model: NewSingleColorModel(c)}
	}
	return out
}

func (l LayerInfo) String() string {
	return fmt.Sprintf("(%s, %s, %s)", l.Mode, l.CompOp, l.Model.Kind)
}
