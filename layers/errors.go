package layers

import (
	"errors"
	"fmt"
)

// ErrUnsupportedLayer matches every *UnsupportedLayerError via errors.Is.
var ErrUnsupportedLayer = errors.New("unsupported layer type")

// UnsupportedLayerError is returned when an architecture names a layer tag
// outside the closed registry.
type UnsupportedLayerError struct {
	Tag string
}

func (e *UnsupportedLayerError) Error() string {
	return fmt.Sprintf("unsupported layer type: %q", e.Tag)
}

// Is lets errors.Is(err, ErrUnsupportedLayer) match.
func (e *UnsupportedLayerError) Is(target error) bool {
	return target == ErrUnsupportedLayer
}
