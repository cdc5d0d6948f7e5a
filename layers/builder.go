package layers

import "fmt"

// ModelBuilder helps construct architectures layer by layer
type ModelBuilder struct {
	layers []LayerSpec
}

// NewModelBuilder creates a new model builder
func NewModelBuilder() *ModelBuilder {
	return &ModelBuilder{layers: make([]LayerSpec, 0)}
}

// AddLayer adds a layer to the model.
// An empty name is replaced with "<tag>_<index>".
func (mb *ModelBuilder) AddLayer(layer LayerSpec) *ModelBuilder {
	layer = layer.Clone()
	if layer.Name == "" {
		layer.Name = fmt.Sprintf("%s_%d", layer.Type.Tag(), len(mb.layers))
	}
	mb.layers = append(mb.layers, layer)
	return mb
}

// AddConv2D adds a "same"-padded, ReLU-activated convolution with unit stride
func (mb *ModelBuilder) AddConv2D(filters, kernelSize int, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Conv2D,
		Name: name,
		Parameters: map[string]interface{}{
			ParamFilters:    filters,
			ParamKernelSize: kernelSize,
			ParamStride:     1,
			ParamPadding:    "same",
			ParamActivation: "relu",
		},
	})
}

// AddMaxPool2D adds a "same"-padded max-pooling layer.
// rounding decides how sequence lengths shrink when stride > 1; it is never inferred.
func (mb *ModelBuilder) AddMaxPool2D(poolSize, stride int, rounding Rounding, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: MaxPool2D,
		Name: name,
		Parameters: map[string]interface{}{
			ParamPoolSize:       poolSize,
			ParamStride:         stride,
			ParamPadding:        "same",
			ParamSeqLenRounding: rounding.String(),
		},
	})
}

// AddMDLSTM adds a multidimensional LSTM block.
// cellType is "lstm" or "glstm".
func (mb *ModelBuilder) AddMDLSTM(units int, cellType string, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: MDLSTM,
		Name: name,
		Parameters: map[string]interface{}{
			ParamUnits:    units,
			ParamCellType: cellType,
		},
	})
}

// AddDropout adds a Dropout layer to the model
// rate: dropout probability (0.0 = no dropout); only applied while training
func (mb *ModelBuilder) AddDropout(rate float64, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Dropout,
		Name: name,
		Parameters: map[string]interface{}{
			ParamRate: rate,
		},
	})
}

// AddBatchNorm adds a Batch Normalization layer to the model
func (mb *ModelBuilder) AddBatchNorm(momentum, epsilon float64, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: BatchNorm,
		Name: name,
		Parameters: map[string]interface{}{
			ParamMomentum: momentum,
			ParamEpsilon:  epsilon,
		},
	})
}

// AddCollapseToSequence folds [batch, width, height, channels] into
// [batch, width, height*channels] so the width axis becomes time.
func (mb *ModelBuilder) AddCollapseToSequence(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type:       CollapseToSequence,
		Name:       name,
		Parameters: map[string]interface{}{},
	})
}

// AddDense adds a projection over the last axis
func (mb *ModelBuilder) AddDense(units int, activation string, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Dense,
		Name: name,
		Parameters: map[string]interface{}{
			ParamUnits:      units,
			ParamActivation: activation,
		},
	})
}

// Build validates the layers and returns an independent Architecture.
func (mb *ModelBuilder) Build() (Architecture, error) {
	arch := Architecture(mb.layers).Clone()
	if err := arch.Validate(); err != nil {
		return nil, fmt.Errorf("cannot build architecture: %w", err)
	}
	return arch, nil
}
