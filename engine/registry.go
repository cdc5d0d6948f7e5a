package engine

import (
	"fmt"

	"github.com/tsawler/go-htr/layers"
	"github.com/tsawler/go-htr/tensor"
)

// State is the pair threaded through the network: the feature tensor and the
// per-example count of valid time steps at the tensor's current resolution.
type State struct {
	Features tensor.Tensor
	Lengths  []int32
}

// Layer is one bound step of a compiled network.
type Layer interface {
	Spec() layers.LayerSpec
	// Downsampling reports whether Apply transforms the sequence lengths.
	Downsampling() bool
	Apply(b tensor.Backend, s State, mode ExecutionMode, tr *Tracker) (State, error)
}

type binder func(spec layers.LayerSpec) (Layer, error)

// registry is the closed set of layer implementations keyed by layer type.
var registry = map[layers.LayerType]binder{
	layers.Conv2D:             bindConv2D,
	layers.MaxPool2D:          bindMaxPool2D,
	layers.MDLSTM:             bindMDLSTM,
	layers.Dropout:            bindDropout,
	layers.BatchNorm:          bindBatchNorm,
	layers.CollapseToSequence: bindCollapse,
	layers.Dense:              bindDense,
}

// Registered reports whether lt has an implementation.
func Registered(lt layers.LayerType) bool {
	_, ok := registry[lt]
	return ok
}

// Bind resolves a layer spec to its implementation and checks its parameters.
func Bind(spec layers.LayerSpec) (Layer, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	bind, ok := registry[spec.Type]
	if !ok {
		return nil, &layers.UnsupportedLayerError{Tag: spec.Type.Tag()}
	}
	return bind(spec.Clone())
}

// featureLayer transforms only the feature tensor. Lengths pass through untouched.
type featureLayer struct {
	spec    layers.LayerSpec
	forward func(b tensor.Backend, x tensor.Tensor, mode ExecutionMode) (tensor.Tensor, error)
}

func (l *featureLayer) Spec() layers.LayerSpec { return l.spec.Clone() }
func (l *featureLayer) Downsampling() bool     { return false }

func (l *featureLayer) Apply(b tensor.Backend, s State, mode ExecutionMode, _ *Tracker) (State, error) {
	out, err := l.forward(b, s.Features, mode)
	if err != nil {
		return State{}, err
	}
	return State{Features: out, Lengths: s.Lengths}, nil
}

// poolLayer is max pooling. With a stride above one it also downsamples the lengths.
type poolLayer struct {
	spec     layers.LayerSpec
	params   tensor.Pool2DParams
	rounding layers.Rounding
}

func (l *poolLayer) Spec() layers.LayerSpec { return l.spec.Clone() }
func (l *poolLayer) Downsampling() bool     { return l.params.Stride > 1 }

func (l *poolLayer) Apply(b tensor.Backend, s State, _ ExecutionMode, tr *Tracker) (State, error) {
	out, err := b.MaxPool2D(s.Features, l.params)
	if err != nil {
		return State{}, err
	}
	if !l.Downsampling() {
		return State{Features: out, Lengths: s.Lengths}, nil
	}
	lengths, err := tr.Downsample(s.Lengths, l.params.Stride, l.rounding)
	if err != nil {
		return State{}, err
	}
	return State{Features: out, Lengths: lengths}, nil
}

func paddingParam(spec layers.LayerSpec) (tensor.Padding, error) {
	name, err := spec.StringParam(layers.ParamPadding, string(tensor.PaddingSame))
	if err != nil {
		return "", err
	}
	return tensor.ParsePadding(name)
}

func activationParam(spec layers.LayerSpec, def tensor.Activation) (tensor.Activation, error) {
	name, err := spec.StringParam(layers.ParamActivation, string(def))
	if err != nil {
		return "", err
	}
	return tensor.ParseActivation(name)
}

func bindConv2D(spec layers.LayerSpec) (Layer, error) {
	p := tensor.Conv2DParams{Name: spec.Name}
	var err error
	if p.Filters, err = spec.RequireIntParam(layers.ParamFilters); err != nil {
		return nil, err
	}
	if p.KernelSize, err = spec.RequireIntParam(layers.ParamKernelSize); err != nil {
		return nil, err
	}
	if p.Stride, err = spec.IntParam(layers.ParamStride, 1); err != nil {
		return nil, err
	}
	if p.Padding, err = paddingParam(spec); err != nil {
		return nil, err
	}
	if p.Activation, err = activationParam(spec, tensor.ReLU); err != nil {
		return nil, err
	}
	if p.Filters <= 0 || p.KernelSize <= 0 || p.Stride <= 0 {
		return nil, fmt.Errorf("conv2d filters, kernel_size and stride must be positive")
	}
	if p.Stride > 1 {
		return nil, fmt.Errorf("strided conv2d is not supported; downsample with max_pool2d so sequence lengths are tracked")
	}
	return &featureLayer{spec: spec, forward: func(b tensor.Backend, x tensor.Tensor, _ ExecutionMode) (tensor.Tensor, error) {
		return b.Conv2D(x, p)
	}}, nil
}

func bindMaxPool2D(spec layers.LayerSpec) (Layer, error) {
	p := tensor.Pool2DParams{Name: spec.Name}
	var err error
	if p.PoolSize, err = spec.RequireIntParam(layers.ParamPoolSize); err != nil {
		return nil, err
	}
	if p.Stride, err = spec.PoolStride(); err != nil {
		return nil, err
	}
	if p.Padding, err = paddingParam(spec); err != nil {
		return nil, err
	}
	if p.PoolSize <= 0 || p.Stride <= 0 {
		return nil, fmt.Errorf("max_pool2d pool_size and stride must be positive")
	}
	name, err := spec.StringParam(layers.ParamSeqLenRounding, layers.RoundFloor.String())
	if err != nil {
		return nil, err
	}
	rounding, err := layers.ParseRounding(name)
	if err != nil {
		return nil, err
	}
	return &poolLayer{spec: spec, params: p, rounding: rounding}, nil
}

func bindMDLSTM(spec layers.LayerSpec) (Layer, error) {
	p := tensor.MDLSTMParams{Name: spec.Name}
	var err error
	if p.Units, err = spec.RequireIntParam(layers.ParamUnits); err != nil {
		return nil, err
	}
	if p.CellType, err = spec.StringParam(layers.ParamCellType, "lstm"); err != nil {
		return nil, err
	}
	if p.Units <= 0 {
		return nil, fmt.Errorf("mdlstm units must be positive, got %d", p.Units)
	}
	return &featureLayer{spec: spec, forward: func(b tensor.Backend, x tensor.Tensor, _ ExecutionMode) (tensor.Tensor, error) {
		return b.MDLSTM(x, p)
	}}, nil
}

func bindDropout(spec layers.LayerSpec) (Layer, error) {
	rate, err := spec.RequireFloatParam(layers.ParamRate)
	if err != nil {
		return nil, err
	}
	if rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("dropout rate must be in [0, 1), got %g", rate)
	}
	return &featureLayer{spec: spec, forward: func(b tensor.Backend, x tensor.Tensor, mode ExecutionMode) (tensor.Tensor, error) {
		if !mode.IsTraining() || rate == 0 {
			return x, nil
		}
		return b.Dropout(x, rate)
	}}, nil
}

func bindBatchNorm(spec layers.LayerSpec) (Layer, error) {
	p := tensor.BatchNormParams{Name: spec.Name}
	var err error
	if p.Momentum, err = spec.FloatParam(layers.ParamMomentum, 0.99); err != nil {
		return nil, err
	}
	if p.Epsilon, err = spec.FloatParam(layers.ParamEpsilon, 1e-3); err != nil {
		return nil, err
	}
	if p.Epsilon <= 0 {
		return nil, fmt.Errorf("batch_norm epsilon must be positive, got %g", p.Epsilon)
	}
	return &featureLayer{spec: spec, forward: func(b tensor.Backend, x tensor.Tensor, mode ExecutionMode) (tensor.Tensor, error) {
		return b.BatchNorm(x, p, mode.IsTraining())
	}}, nil
}

// bindCollapse folds height and channels of [batch, width, height, channels]
// into one axis, giving the [batch, time, features] sequence layout.
func bindCollapse(spec layers.LayerSpec) (Layer, error) {
	return &featureLayer{spec: spec, forward: func(b tensor.Backend, x tensor.Tensor, _ ExecutionMode) (tensor.Tensor, error) {
		shape := x.Shape()
		if len(shape) != 4 {
			return nil, fmt.Errorf("collapse_to_sequence requires rank 4 input, got shape %v", shape)
		}
		return b.Reshape(x, []int{shape[0], shape[1], shape[2] * shape[3]})
	}}, nil
}

func bindDense(spec layers.LayerSpec) (Layer, error) {
	p := tensor.DenseParams{Name: spec.Name}
	var err error
	if p.Units, err = spec.RequireIntParam(layers.ParamUnits); err != nil {
		return nil, err
	}
	if p.Activation, err = activationParam(spec, tensor.Linear); err != nil {
		return nil, err
	}
	if p.Units <= 0 {
		return nil, fmt.Errorf("dense units must be positive, got %d", p.Units)
	}
	return &featureLayer{spec: spec, forward: func(b tensor.Backend, x tensor.Tensor, _ ExecutionMode) (tensor.Tensor, error) {
		return b.Dense(x, p)
	}}, nil
}
