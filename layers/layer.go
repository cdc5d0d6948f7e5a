package layers

import (
	"fmt"
	"strings"
)

// LayerType represents the type of network layer
type LayerType int

const (
	Conv2D LayerType = iota
	MaxPool2D
	MDLSTM
	Dropout
	BatchNorm
	CollapseToSequence
	Dense
)

// layerTags is the closed set of persisted layer tags, indexed by LayerType.
var layerTags = [...]string{
	Conv2D:             "conv2d",
	MaxPool2D:          "max_pool2d",
	MDLSTM:             "mdlstm",
	Dropout:            "dropout",
	BatchNorm:          "batch_norm",
	CollapseToSequence: "collapse_to_sequence",
	Dense:              "dense",
}

func (lt LayerType) String() string {
	switch lt {
	case Conv2D:
		return "Conv2D"
	case MaxPool2D:
		return "MaxPool2D"
	case MDLSTM:
		return "MDLSTM"
	case Dropout:
		return "Dropout"
	case BatchNorm:
		return "BatchNorm"
	case CollapseToSequence:
		return "CollapseToSequence"
	case Dense:
		return "Dense"
	default:
		return "Unknown"
	}
}

// Tag returns the persisted tag for the layer type, or "" for an unknown type.
func (lt LayerType) Tag() string {
	if lt < 0 || int(lt) >= len(layerTags) {
		return ""
	}
	return layerTags[lt]
}

// Valid reports whether lt is one of the registered layer types.
func (lt LayerType) Valid() bool {
	return lt.Tag() != ""
}

// AllLayerTypes returns every supported layer type in declaration order.
func AllLayerTypes() []LayerType {
	types := make([]LayerType, len(layerTags))
	for i := range layerTags {
		types[i] = LayerType(i)
	}
	return types
}

// ParseLayerType maps a persisted tag to its LayerType.
// Matching is exact; an unknown tag yields an *UnsupportedLayerError.
func ParseLayerType(tag string) (LayerType, error) {
	for i, t := range layerTags {
		if t == tag {
			return LayerType(i), nil
		}
	}
	return 0, &UnsupportedLayerError{Tag: tag}
}

// MarshalText encodes the layer type as its tag.
func (lt LayerType) MarshalText() ([]byte, error) {
	if !lt.Valid() {
		return nil, &UnsupportedLayerError{Tag: fmt.Sprintf("LayerType(%d)", int(lt))}
	}
	return []byte(lt.Tag()), nil
}

// UnmarshalText decodes a tag into a layer type.
func (lt *LayerType) UnmarshalText(text []byte) error {
	parsed, err := ParseLayerType(string(text))
	if err != nil {
		return err
	}
	*lt = parsed
	return nil
}

// Rounding selects how a downsampling layer rounds the per-example sequence length.
type Rounding int

const (
	RoundFloor Rounding = iota
	RoundCeil
)

func (r Rounding) String() string {
	switch r {
	case RoundFloor:
		return "floor"
	case RoundCeil:
		return "ceil"
	default:
		return "unknown"
	}
}

// ParseRounding parses "floor" or "ceil".
func ParseRounding(s string) (Rounding, error) {
	switch strings.ToLower(s) {
	case "floor":
		return RoundFloor, nil
	case "ceil":
		return RoundCeil, nil
	default:
		return 0, fmt.Errorf("unsupported sequence length rounding %q", s)
	}
}

// Parameter keys understood by the built-in layer types.
const (
	ParamFilters        = "filters"
	ParamKernelSize     = "kernel_size"
	ParamStride         = "stride"
	ParamPadding        = "padding"
	ParamActivation     = "activation"
	ParamPoolSize       = "pool_size"
	ParamSeqLenRounding = "seq_len_rounding"
	ParamUnits          = "units"
	ParamCellType       = "cell_type"
	ParamRate           = "rate"
	ParamMomentum       = "momentum"
	ParamEpsilon        = "epsilon"
)

// requiredParams lists the parameters each layer type cannot default.
var requiredParams = map[LayerType][]string{
	Conv2D:             {ParamFilters, ParamKernelSize},
	MaxPool2D:          {ParamPoolSize},
	MDLSTM:             {ParamUnits},
	Dropout:            {ParamRate},
	BatchNorm:          {},
	CollapseToSequence: {},
	Dense:              {ParamUnits},
}

// LayerSpec defines one layer of an architecture.
// This is pure configuration - no execution logic
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name,omitempty"`
	Parameters map[string]interface{} `json:"params"`
}

// Clone returns a deep copy of the spec so callers cannot mutate shared parameters.
func (ls LayerSpec) Clone() LayerSpec {
	params := make(map[string]interface{}, len(ls.Parameters))
	for k, v := range ls.Parameters {
		params[k] = v
	}
	return LayerSpec{Type: ls.Type, Name: ls.Name, Parameters: params}
}

// Validate checks that the layer type is known and all required parameters are present.
func (ls LayerSpec) Validate() error {
	if !ls.Type.Valid() {
		return &UnsupportedLayerError{Tag: fmt.Sprintf("LayerType(%d)", int(ls.Type))}
	}
	for _, key := range requiredParams[ls.Type] {
		if _, ok := ls.Parameters[key]; !ok {
			return fmt.Errorf("missing %s parameter", key)
		}
	}
	return nil
}

// IsDownsampling reports whether the layer shrinks the time axis.
// Only max pooling with a stride greater than one does.
func (ls LayerSpec) IsDownsampling() (bool, error) {
	if ls.Type != MaxPool2D {
		return false, nil
	}
	stride, err := ls.PoolStride()
	if err != nil {
		return false, err
	}
	return stride > 1, nil
}

// PoolStride returns the pooling stride, defaulting to the pool size.
func (ls LayerSpec) PoolStride() (int, error) {
	size, err := ls.RequireIntParam(ParamPoolSize)
	if err != nil {
		return 0, err
	}
	return ls.IntParam(ParamStride, size)
}

// Architecture is an ordered, strictly linear list of layers.
// Execution order is list order.
type Architecture []LayerSpec

// Clone returns a deep copy of the architecture.
func (a Architecture) Clone() Architecture {
	out := make(Architecture, len(a))
	for i, ls := range a {
		out[i] = ls.Clone()
	}
	return out
}

// Validate checks every layer in order and reports the first failure with its position.
func (a Architecture) Validate() error {
	if len(a) == 0 {
		return fmt.Errorf("architecture has no layers")
	}
	for i, ls := range a {
		if err := ls.Validate(); err != nil {
			return fmt.Errorf("layer %d (%s): %w", i, ls.Name, err)
		}
	}
	return nil
}

// DownsamplingCount returns the number of stride>1 pooling layers.
func (a Architecture) DownsamplingCount() (int, error) {
	count := 0
	for i, ls := range a {
		down, err := ls.IsDownsampling()
		if err != nil {
			return 0, fmt.Errorf("layer %d (%s): %w", i, ls.Name, err)
		}
		if down {
			count++
		}
	}
	return count, nil
}

// Summary returns a human-readable architecture summary
func (a Architecture) Summary() string {
	var b strings.Builder
	b.WriteString("Architecture Summary:\n")
	b.WriteString("=====================\n")
	for i, ls := range a {
		fmt.Fprintf(&b, "Layer %d: %s (%s)\n", i+1, ls.Name, ls.Type.String())
		fmt.Fprintf(&b, "  Params: %s\n", FormatParams(ls.Parameters))
	}
	down, err := a.DownsamplingCount()
	if err == nil {
		fmt.Fprintf(&b, "Downsampling layers: %d\n", down)
	}
	return b.String()
}
