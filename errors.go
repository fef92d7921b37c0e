package unblending

import (
	"errors"
	"fmt"
)

// Configuration errors. They are reported before any per-pixel work starts.
var (
	ErrNoLayers          = errors.New("unblending: no layers")
	ErrUnknownBlendMode  = errors.New("unblending: unknown blend mode")
	ErrUnknownCompOp     = errors.New("unblending: unknown compositing operator")
	ErrInvalidColorModel = errors.New("unblending: invalid color model")
	ErrEmptyImage        = errors.New("unblending: empty image")
	ErrSizeMismatch      = errors.New("unblending: layer size mismatch")
)

// ConfigError ties a configuration error to the layer that caused it.
type ConfigError struct {
	Layer int
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("layer %d: %v", e.Layer, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
