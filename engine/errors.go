package engine

import (
	"errors"
	"fmt"
)

// ErrSequenceAlignmentMismatch is matched by every *SequenceAlignmentMismatchError.
var ErrSequenceAlignmentMismatch = errors.New("sequence alignment mismatch")

// SequenceAlignmentMismatchError reports that the sequence length vector was
// downsampled a different number of times than the architecture has strided
// pooling layers.
type SequenceAlignmentMismatchError struct {
	Expected int
	Applied  int
}

func (e *SequenceAlignmentMismatchError) Error() string {
	return fmt.Sprintf("sequence lengths downsampled %d times, architecture has %d downsampling layers", e.Applied, e.Expected)
}

func (e *SequenceAlignmentMismatchError) Is(target error) bool {
	return target == ErrSequenceAlignmentMismatch
}
