package ctc

import (
	"fmt"

	"github.com/tsawler/go-htr/tensor"
)

// LogitsLayerName names the projection to class scores added by ToAlignmentLayout.
const LogitsLayerName = "logits"

// Alignment is network output in the time-major layout the CTC primitives expect.
type Alignment struct {
	// Logits has shape [steps, batch, classes].
	Logits  tensor.Tensor
	Steps   int
	Batch   int
	Classes int
}

// ToAlignmentLayout projects [batch, steps, features] onto numClasses scores
// and transposes the result to [steps, batch, classes].
func ToAlignmentLayout(b tensor.Backend, x tensor.Tensor, numClasses int) (*Alignment, error) {
	shape := x.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("alignment layout needs [batch, steps, features], got shape %v; end the architecture with collapse_to_sequence", shape)
	}
	if numClasses <= 0 {
		return nil, fmt.Errorf("num_classes must be positive, got %d", numClasses)
	}
	batch, steps, features := shape[0], shape[1], shape[2]

	flat, err := b.Reshape(x, []int{batch * steps, features})
	if err != nil {
		return nil, fmt.Errorf("flatten time steps: %w", err)
	}
	logits, err := b.Dense(flat, tensor.DenseParams{Name: LogitsLayerName, Units: numClasses, Activation: tensor.Linear})
	if err != nil {
		return nil, fmt.Errorf("project logits: %w", err)
	}
	seq, err := b.Reshape(logits, []int{batch, steps, numClasses})
	if err != nil {
		return nil, fmt.Errorf("restore time steps: %w", err)
	}
	timeMajor, err := b.Transpose(seq, []int{1, 0, 2})
	if err != nil {
		return nil, fmt.Errorf("transpose to time-major: %w", err)
	}
	return &Alignment{Logits: timeMajor, Steps: steps, Batch: batch, Classes: numClasses}, nil
}

// FullSequenceLengths reports every example as using all steps.
func (a *Alignment) FullSequenceLengths() []int32 {
	out := make([]int32, a.Batch)
	for i := range out {
		out[i] = int32(a.Steps)
	}
	return out
}

// CheckSequenceLengths verifies there is one length per example and none exceeds the step count.
func (a *Alignment) CheckSequenceLengths(seqLens []int32) error {
	if len(seqLens) != a.Batch {
		return fmt.Errorf("%d sequence lengths for batch of %d", len(seqLens), a.Batch)
	}
	for i, l := range seqLens {
		if l < 0 || int(l) > a.Steps {
			return fmt.Errorf("sequence length %d of example %d outside [0, %d]", l, i, a.Steps)
		}
	}
	return nil
}

// Loss computes the CTC loss of sparse labels against the aligned logits.
func Loss(b tensor.Backend, a *Alignment, labels tensor.SparseTensor, seqLens []int32) (tensor.Tensor, error) {
	if err := a.CheckSequenceLengths(seqLens); err != nil {
		return nil, err
	}
	if labels.DenseShape[0] != a.Batch {
		return nil, fmt.Errorf("labels for %d examples, logits for %d", labels.DenseShape[0], a.Batch)
	}
	if err := CheckClasses(labels, a.Classes); err != nil {
		return nil, err
	}
	return b.CTCLoss(a.Logits, labels, seqLens)
}

// Decoded is the best beam-search path per example.
type Decoded struct {
	Sparse tensor.SparseTensor
	// Dense holds one label row per example.
	Dense [][]int32
	// LogProbabilities has shape [batch, topPaths].
	LogProbabilities tensor.Tensor
}

// Decode runs the runtime's beam-search decoder and converts its output to dense rows.
func Decode(b tensor.Backend, a *Alignment, seqLens []int32, beamWidth, topPaths int) (*Decoded, error) {
	if err := a.CheckSequenceLengths(seqLens); err != nil {
		return nil, err
	}
	if beamWidth <= 0 {
		return nil, fmt.Errorf("beam width must be positive, got %d", beamWidth)
	}
	if topPaths <= 0 || topPaths > beamWidth {
		return nil, fmt.Errorf("top paths must be in [1, %d], got %d", beamWidth, topPaths)
	}
	sp, logProbs, err := b.CTCBeamSearchDecoder(a.Logits, seqLens, beamWidth, topPaths)
	if err != nil {
		return nil, fmt.Errorf("beam search: %w", err)
	}
	if sp.DenseShape[0] == 0 && a.Batch > 0 {
		sp.DenseShape[0] = a.Batch
	}
	dense, err := ToDense(sp)
	if err != nil {
		return nil, fmt.Errorf("decoded paths: %w", err)
	}
	return &Decoded{Sparse: sp, Dense: dense, LogProbabilities: logProbs}, nil
}
