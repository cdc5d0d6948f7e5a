// Package tensor defines the contract between the network engine and the host
// tensor runtime. The runtime owns numerics, automatic differentiation and
// device placement; this package only names the primitives the engine calls.
package tensor

import (
	"fmt"

	"github.com/tsawler/go-htr/optimizer"
)

// Tensor is an opaque value produced and consumed by a Backend.
type Tensor interface {
	Shape() []int
}

// Padding is the spatial padding policy of a convolution or pooling primitive.
type Padding string

const (
	PaddingSame  Padding = "same"
	PaddingValid Padding = "valid"
)

// ParsePadding validates a padding name.
func ParsePadding(s string) (Padding, error) {
	switch Padding(s) {
	case PaddingSame, PaddingValid:
		return Padding(s), nil
	default:
		return "", fmt.Errorf("unsupported padding %q", s)
	}
}

// Activation names a pointwise activation fused into a primitive.
type Activation string

const (
	Linear  Activation = "linear"
	ReLU    Activation = "relu"
	Tanh    Activation = "tanh"
	Sigmoid Activation = "sigmoid"
)

// ParseActivation validates an activation name.
func ParseActivation(s string) (Activation, error) {
	switch Activation(s) {
	case Linear, ReLU, Tanh, Sigmoid:
		return Activation(s), nil
	default:
		return "", fmt.Errorf("unsupported activation %q", s)
	}
}

// Conv2DParams configures a 2D convolution over [batch, width, height, channels].
type Conv2DParams struct {
	Name       string
	Filters    int
	KernelSize int
	Stride     int
	Padding    Padding
	Activation Activation
}

// Pool2DParams configures 2D max pooling over [batch, width, height, channels].
type Pool2DParams struct {
	Name     string
	PoolSize int
	Stride   int
	Padding  Padding
}

// MDLSTMParams configures a multidimensional recurrent block.
type MDLSTMParams struct {
	Name     string
	Units    int
	CellType string
}

// BatchNormParams configures batch normalization.
type BatchNormParams struct {
	Name     string
	Momentum float64
	Epsilon  float64
}

// DenseParams configures a projection over the last axis.
type DenseParams struct {
	Name       string
	Units      int
	Activation Activation
}

// SparseTensor is the (indices, values, dense shape) label representation used at
// the CTC boundary. Indices are (example, position) pairs in row-major order.
type SparseTensor struct {
	Indices    [][2]int
	Values     []int32
	DenseShape [2]int
}

// Validate checks that indices and values line up and stay inside the dense shape.
func (st SparseTensor) Validate() error {
	if len(st.Indices) != len(st.Values) {
		return fmt.Errorf("sparse tensor has %d indices but %d values", len(st.Indices), len(st.Values))
	}
	for i, idx := range st.Indices {
		if idx[0] < 0 || idx[0] >= st.DenseShape[0] || idx[1] < 0 || idx[1] >= st.DenseShape[1] {
			return fmt.Errorf("sparse index %d %v outside dense shape %v", i, idx, st.DenseShape)
		}
	}
	return nil
}

// TrainStep is the opaque handle of one optimizer update produced by Minimize.
type TrainStep interface {
	Apply() error
}

// Backend is the host tensor runtime.
//
// Images are laid out as [batch, width, height, channels]; the width axis is time.
type Backend interface {
	Constant(data []float32, shape []int) (Tensor, error)
	Reshape(x Tensor, shape []int) (Tensor, error)
	Transpose(x Tensor, perm []int) (Tensor, error)

	Conv2D(x Tensor, p Conv2DParams) (Tensor, error)
	MaxPool2D(x Tensor, p Pool2DParams) (Tensor, error)
	MDLSTM(x Tensor, p MDLSTMParams) (Tensor, error)
	Dropout(x Tensor, rate float64) (Tensor, error)
	BatchNorm(x Tensor, p BatchNormParams, training bool) (Tensor, error)
	Dense(x Tensor, p DenseParams) (Tensor, error)

	// CTCLoss expects time-major logits [steps, batch, classes] and returns a scalar.
	CTCLoss(logits Tensor, labels SparseTensor, seqLens []int32) (Tensor, error)
	// CTCBeamSearchDecoder returns the best path per example and its log probability [batch, topPaths].
	CTCBeamSearchDecoder(logits Tensor, seqLens []int32, beamWidth, topPaths int) (SparseTensor, Tensor, error)

	Minimize(loss Tensor, opt optimizer.Config) (TrainStep, error)

	// Scalar reads back a scalar value.
	Scalar(x Tensor) (float64, error)
}

// NumElements returns the product of the dimensions of shape.
func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
