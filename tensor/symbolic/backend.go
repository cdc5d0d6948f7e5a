// Package symbolic is a shape-only tensor.Backend. It performs no arithmetic:
// every primitive checks its input shape, computes the output shape and records
// the call. It is used to dry-run an architecture before any data flows.
package symbolic

import (
	"fmt"

	"github.com/tsawler/go-htr/optimizer"
	"github.com/tsawler/go-htr/tensor"
)

// Value is the tensor type produced by the symbolic backend.
type Value struct {
	shape []int
}

// Shape returns a copy of the value's shape.
func (v *Value) Shape() []int {
	out := make([]int, len(v.shape))
	copy(out, v.shape)
	return out
}

// Placeholder creates a value of the given shape without data.
func Placeholder(shape ...int) *Value {
	return &Value{shape: append([]int(nil), shape...)}
}

// Call records one primitive invocation.
type Call struct {
	Op   string
	Name string
	In   []int
	Out  []int
}

// Backend records every primitive call it receives.
type Backend struct {
	calls        []Call
	appliedSteps int

	// Decoded, when set, is returned by CTCBeamSearchDecoder instead of an empty result.
	Decoded *tensor.SparseTensor
}

// New creates an empty symbolic backend.
func New() *Backend {
	return &Backend{}
}

// Calls returns the recorded calls in order.
func (b *Backend) Calls() []Call {
	return append([]Call(nil), b.calls...)
}

// AppliedSteps returns how many TrainStep handles were applied.
func (b *Backend) AppliedSteps() int {
	return b.appliedSteps
}

// Reset clears the call log and the applied step count.
func (b *Backend) Reset() {
	b.calls = nil
	b.appliedSteps = 0
}

func (b *Backend) record(op, name string, in, out []int) *Value {
	b.calls = append(b.calls, Call{Op: op, Name: name, In: in, Out: out})
	return &Value{shape: out}
}

func shapeOf(x tensor.Tensor) ([]int, error) {
	if x == nil {
		return nil, fmt.Errorf("nil tensor")
	}
	return x.Shape(), nil
}

func shapeOfRank(x tensor.Tensor, rank int, op string) ([]int, error) {
	shape, err := shapeOf(x)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	if len(shape) != rank {
		return nil, fmt.Errorf("%s requires rank %d input, got shape %v", op, rank, shape)
	}
	return shape, nil
}

// Constant checks that data matches shape. A nil data slice is accepted as a placeholder.
func (b *Backend) Constant(data []float32, shape []int) (tensor.Tensor, error) {
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("constant: invalid shape %v", shape)
		}
	}
	if data != nil && len(data) != tensor.NumElements(shape) {
		return nil, fmt.Errorf("constant: %d values do not fill shape %v", len(data), shape)
	}
	out := append([]int(nil), shape...)
	return b.record("Constant", "", nil, out), nil
}

// Reshape supports a single -1 dimension.
func (b *Backend) Reshape(x tensor.Tensor, shape []int) (tensor.Tensor, error) {
	in, err := shapeOf(x)
	if err != nil {
		return nil, fmt.Errorf("reshape: %v", err)
	}
	total := tensor.NumElements(in)
	out := append([]int(nil), shape...)
	inferred := -1
	known := 1
	for i, d := range out {
		switch {
		case d == -1 && inferred == -1:
			inferred = i
		case d == -1:
			return nil, fmt.Errorf("reshape: more than one -1 in %v", shape)
		case d <= 0:
			return nil, fmt.Errorf("reshape: invalid dimension %d in %v", d, shape)
		default:
			known *= d
		}
	}
	if inferred >= 0 {
		if known == 0 || total%known != 0 {
			return nil, fmt.Errorf("reshape: cannot reshape %v into %v", in, shape)
		}
		out[inferred] = total / known
	}
	if tensor.NumElements(out) != total {
		return nil, fmt.Errorf("reshape: cannot reshape %v into %v", in, shape)
	}
	return b.record("Reshape", "", in, out), nil
}

// Transpose permutes the axes of x.
func (b *Backend) Transpose(x tensor.Tensor, perm []int) (tensor.Tensor, error) {
	in, err := shapeOf(x)
	if err != nil {
		return nil, fmt.Errorf("transpose: %v", err)
	}
	if len(perm) != len(in) {
		return nil, fmt.Errorf("transpose: permutation %v does not match rank %d", perm, len(in))
	}
	seen := make([]bool, len(in))
	out := make([]int, len(in))
	for i, p := range perm {
		if p < 0 || p >= len(in) || seen[p] {
			return nil, fmt.Errorf("transpose: invalid permutation %v", perm)
		}
		seen[p] = true
		out[i] = in[p]
	}
	return b.record("Transpose", "", in, out), nil
}

// spatial computes one output dimension for a windowed primitive.
func spatial(in, window, stride int, padding tensor.Padding) (int, error) {
	if window <= 0 || stride <= 0 {
		return 0, fmt.Errorf("window %d and stride %d must be positive", window, stride)
	}
	switch padding {
	case tensor.PaddingSame:
		return (in + stride - 1) / stride, nil
	case tensor.PaddingValid:
		if in < window {
			return 0, fmt.Errorf("input extent %d smaller than window %d", in, window)
		}
		return (in-window)/stride + 1, nil
	default:
		return 0, fmt.Errorf("unsupported padding %q", padding)
	}
}

// Conv2D maps [b, w, h, c] to [b, w', h', filters].
func (b *Backend) Conv2D(x tensor.Tensor, p tensor.Conv2DParams) (tensor.Tensor, error) {
	in, err := shapeOfRank(x, 4, "conv2d")
	if err != nil {
		return nil, err
	}
	if p.Filters <= 0 {
		return nil, fmt.Errorf("conv2d %s: filters must be positive, got %d", p.Name, p.Filters)
	}
	w, err := spatial(in[1], p.KernelSize, p.Stride, p.Padding)
	if err != nil {
		return nil, fmt.Errorf("conv2d %s: %v", p.Name, err)
	}
	h, err := spatial(in[2], p.KernelSize, p.Stride, p.Padding)
	if err != nil {
		return nil, fmt.Errorf("conv2d %s: %v", p.Name, err)
	}
	return b.record("Conv2D", p.Name, in, []int{in[0], w, h, p.Filters}), nil
}

// MaxPool2D maps [b, w, h, c] to [b, w', h', c].
func (b *Backend) MaxPool2D(x tensor.Tensor, p tensor.Pool2DParams) (tensor.Tensor, error) {
	in, err := shapeOfRank(x, 4, "max_pool2d")
	if err != nil {
		return nil, err
	}
	w, err := spatial(in[1], p.PoolSize, p.Stride, p.Padding)
	if err != nil {
		return nil, fmt.Errorf("max_pool2d %s: %v", p.Name, err)
	}
	h, err := spatial(in[2], p.PoolSize, p.Stride, p.Padding)
	if err != nil {
		return nil, fmt.Errorf("max_pool2d %s: %v", p.Name, err)
	}
	return b.record("MaxPool2D", p.Name, in, []int{in[0], w, h, in[3]}), nil
}

// MDLSTM maps [b, w, h, c] to [b, w, h, units].
func (b *Backend) MDLSTM(x tensor.Tensor, p tensor.MDLSTMParams) (tensor.Tensor, error) {
	in, err := shapeOfRank(x, 4, "mdlstm")
	if err != nil {
		return nil, err
	}
	if p.Units <= 0 {
		return nil, fmt.Errorf("mdlstm %s: units must be positive, got %d", p.Name, p.Units)
	}
	return b.record("MDLSTM", p.Name, in, []int{in[0], in[1], in[2], p.Units}), nil
}

// Dropout preserves the shape.
func (b *Backend) Dropout(x tensor.Tensor, rate float64) (tensor.Tensor, error) {
	in, err := shapeOf(x)
	if err != nil {
		return nil, fmt.Errorf("dropout: %v", err)
	}
	if rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("dropout: rate must be in [0, 1), got %g", rate)
	}
	return b.record("Dropout", "", in, in), nil
}

// BatchNorm preserves the shape.
func (b *Backend) BatchNorm(x tensor.Tensor, p tensor.BatchNormParams, training bool) (tensor.Tensor, error) {
	in, err := shapeOf(x)
	if err != nil {
		return nil, fmt.Errorf("batch_norm: %v", err)
	}
	op := "BatchNorm"
	if training {
		op = "BatchNormTraining"
	}
	return b.record(op, p.Name, in, in), nil
}

// Dense replaces the last axis with p.Units.
func (b *Backend) Dense(x tensor.Tensor, p tensor.DenseParams) (tensor.Tensor, error) {
	in, err := shapeOf(x)
	if err != nil {
		return nil, fmt.Errorf("dense: %v", err)
	}
	if len(in) < 2 {
		return nil, fmt.Errorf("dense %s: requires at least 2D input, got %v", p.Name, in)
	}
	if p.Units <= 0 {
		return nil, fmt.Errorf("dense %s: units must be positive, got %d", p.Name, p.Units)
	}
	out := append([]int(nil), in...)
	out[len(out)-1] = p.Units
	return b.record("Dense", p.Name, in, out), nil
}

func checkTimeMajor(logits tensor.Tensor, seqLens []int32, op string) ([]int, error) {
	in, err := shapeOfRank(logits, 3, op)
	if err != nil {
		return nil, err
	}
	if len(seqLens) != in[1] {
		return nil, fmt.Errorf("%s: %d sequence lengths for batch of %d", op, len(seqLens), in[1])
	}
	for i, l := range seqLens {
		if l < 0 || int(l) > in[0] {
			return nil, fmt.Errorf("%s: sequence length %d of example %d exceeds %d steps", op, l, i, in[0])
		}
	}
	return in, nil
}

// CTCLoss checks the time-major layout and returns a scalar.
func (b *Backend) CTCLoss(logits tensor.Tensor, labels tensor.SparseTensor, seqLens []int32) (tensor.Tensor, error) {
	in, err := checkTimeMajor(logits, seqLens, "ctc_loss")
	if err != nil {
		return nil, err
	}
	if err := labels.Validate(); err != nil {
		return nil, fmt.Errorf("ctc_loss: %v", err)
	}
	if labels.DenseShape[0] != in[1] {
		return nil, fmt.Errorf("ctc_loss: labels batch %d does not match logits batch %d", labels.DenseShape[0], in[1])
	}
	return b.record("CTCLoss", "", in, []int{}), nil
}

// CTCBeamSearchDecoder returns b.Decoded when set, otherwise an empty decoding.
func (b *Backend) CTCBeamSearchDecoder(logits tensor.Tensor, seqLens []int32, beamWidth, topPaths int) (tensor.SparseTensor, tensor.Tensor, error) {
	in, err := checkTimeMajor(logits, seqLens, "ctc_beam_search_decoder")
	if err != nil {
		return tensor.SparseTensor{}, nil, err
	}
	if beamWidth <= 0 || topPaths <= 0 || topPaths > beamWidth {
		return tensor.SparseTensor{}, nil, fmt.Errorf("ctc_beam_search_decoder: invalid beam width %d / top paths %d", beamWidth, topPaths)
	}
	decoded := tensor.SparseTensor{DenseShape: [2]int{in[1], 0}}
	if b.Decoded != nil {
		decoded = *b.Decoded
	}
	logProbs := b.record("CTCBeamSearchDecoder", "", in, []int{in[1], topPaths})
	return decoded, logProbs, nil
}

// Minimize returns a step handle that counts its applications.
func (b *Backend) Minimize(loss tensor.Tensor, opt optimizer.Config) (tensor.TrainStep, error) {
	in, err := shapeOf(loss)
	if err != nil {
		return nil, fmt.Errorf("minimize: %v", err)
	}
	if len(in) != 0 {
		return nil, fmt.Errorf("minimize: loss must be a scalar, got shape %v", in)
	}
	b.record("Minimize", opt.Kind.String(), in, nil)
	return &step{backend: b}, nil
}

// Scalar returns zero for any scalar value.
func (b *Backend) Scalar(x tensor.Tensor) (float64, error) {
	in, err := shapeOf(x)
	if err != nil {
		return 0, fmt.Errorf("scalar: %v", err)
	}
	if len(in) != 0 {
		return 0, fmt.Errorf("scalar: expected a scalar, got shape %v", in)
	}
	return 0, nil
}

type step struct {
	backend *Backend
}

func (s *step) Apply() error {
	s.backend.appliedSteps++
	return nil
}
