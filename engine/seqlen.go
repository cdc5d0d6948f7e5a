package engine

import (
	"fmt"

	"github.com/tsawler/go-htr/layers"
)

// Downsample divides every sequence length by stride, rounding as requested.
// The input slice is never modified. A nil input yields nil.
func Downsample(lengths []int32, stride int, rounding layers.Rounding) ([]int32, error) {
	if stride < 1 {
		return nil, fmt.Errorf("downsample stride must be >= 1, got %d", stride)
	}
	if rounding != layers.RoundFloor && rounding != layers.RoundCeil {
		return nil, fmt.Errorf("unsupported rounding %d", int(rounding))
	}
	if lengths == nil {
		return nil, nil
	}

	s := int32(stride)
	out := make([]int32, len(lengths))
	for i, l := range lengths {
		if l < 0 {
			return nil, fmt.Errorf("negative sequence length %d at example %d", l, i)
		}
		if rounding == layers.RoundCeil {
			out[i] = (l + s - 1) / s
		} else {
			out[i] = l / s
		}
	}
	return out, nil
}

// Tracker counts the downsampling transforms applied during one execution.
type Tracker struct {
	applied int
}

// Downsample applies Downsample and records the call.
func (t *Tracker) Downsample(lengths []int32, stride int, rounding layers.Rounding) ([]int32, error) {
	out, err := Downsample(lengths, stride, rounding)
	if err != nil {
		return nil, err
	}
	t.applied++
	return out, nil
}

// Applied returns the number of successful Downsample calls.
func (t *Tracker) Applied() int {
	return t.applied
}
