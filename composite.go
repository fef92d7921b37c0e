package unblending

import (
	"context"
	"fmt"
)

// CompositeLayers evaluates the stack bottom to top with each layer's forward
// equation and returns the straight-alpha result.
func CompositeLayers(layers []*ColorImage, stack LayerStack, workers int) (*ColorImage, error) {
	compiled, err := stack.compile()
	if err != nil {
		return nil, err
	}
	if len(layers) != len(compiled) {
		return nil, fmt.Errorf("%w: %d layer images for %d layer infos", ErrSizeMismatch, len(layers), len(compiled))
	}
	if layers[0].Empty() {
		return nil, ErrEmptyImage
	}
	w, h := layers[0].W, layers[0].H
	for i, l := range layers {
		if l == nil || l.W != w || l.H != h {
			return nil, &ConfigError{Layer: i, Err: ErrSizeMismatch}
		}
	}

	out := NewColorImage(w, h)
	err = parallelRange(context.Background(), h, workers, func(lo, hi int) error {
		for y := lo; y < hi; y++ {
			for x := range w {
				acc := Premultiplied{}
				for k, l := range compiled {
					c, a := layers[k].At(x, y)
					acc = l.eq.Forward(acc, a, c)
				}
				c, a := acc.Straight()
				out.Set(x, y, c, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
