package engine

import (
	"fmt"
	"strings"

	"github.com/tsawler/go-htr/layers"
	"github.com/tsawler/go-htr/tensor"
)

// Network is a compiled architecture: an ordered chain of bound layers.
// A Network holds no tensors and can be executed any number of times.
type Network struct {
	layers       []Layer
	downsampling int
}

// Compile binds every layer of arch. Unknown layer types and bad parameters fail
// here, before any data flows.
func Compile(arch layers.Architecture) (*Network, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}

	net := &Network{layers: make([]Layer, 0, len(arch))}
	for i, spec := range arch {
		layer, err := Bind(spec)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, spec.Name, err)
		}
		if layer.Downsampling() {
			net.downsampling++
		}
		net.layers = append(net.layers, layer)
	}

	expected, err := CountDownsampling(arch)
	if err != nil {
		return nil, err
	}
	if expected != net.downsampling {
		return nil, &SequenceAlignmentMismatchError{Expected: expected, Applied: net.downsampling}
	}
	return net, nil
}

// CountDownsampling returns how many layers of arch shrink the time axis.
func CountDownsampling(arch layers.Architecture) (int, error) {
	return arch.DownsamplingCount()
}

// Len returns the number of layers.
func (n *Network) Len() int {
	return len(n.layers)
}

// DownsamplingLayers returns the number of layers that downsample sequence lengths.
func (n *Network) DownsamplingLayers() int {
	return n.downsampling
}

// TraceEntry records the state after one layer.
type TraceEntry struct {
	Index   int
	Name    string
	Type    layers.LayerType
	Shape   []int
	Lengths []int32
}

// Result is the output of one execution.
type Result struct {
	Features tensor.Tensor
	Lengths  []int32
	Trace    []TraceEntry
}

// Execute folds the input state through every layer in order.
// Lengths may be nil when the caller has none, as in prediction.
func (n *Network) Execute(b tensor.Backend, in State, mode ExecutionMode) (*Result, error) {
	if b == nil {
		return nil, fmt.Errorf("no tensor backend")
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid execution mode %d", int(mode))
	}
	if in.Features == nil {
		return nil, fmt.Errorf("no input features")
	}
	shape := in.Features.Shape()
	if len(shape) == 0 {
		return nil, fmt.Errorf("input features must have a batch axis")
	}
	if in.Lengths != nil && len(in.Lengths) != shape[0] {
		return nil, fmt.Errorf("%d sequence lengths for batch of %d", len(in.Lengths), shape[0])
	}

	tr := &Tracker{}
	state := State{Features: in.Features, Lengths: append([]int32(nil), in.Lengths...)}
	if in.Lengths == nil {
		state.Lengths = nil
	}
	trace := make([]TraceEntry, 0, len(n.layers))

	for i, layer := range n.layers {
		spec := layer.Spec()
		next, err := layer.Apply(b, state, mode, tr)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, spec.Name, err)
		}
		state = next
		trace = append(trace, TraceEntry{
			Index:   i,
			Name:    spec.Name,
			Type:    spec.Type,
			Shape:   state.Features.Shape(),
			Lengths: append([]int32(nil), state.Lengths...),
		})
	}

	if tr.Applied() != n.downsampling {
		return nil, &SequenceAlignmentMismatchError{Expected: n.downsampling, Applied: tr.Applied()}
	}
	return &Result{Features: state.Features, Lengths: state.Lengths, Trace: trace}, nil
}

// LayerDescription is the comparable summary of one bound layer.
type LayerDescription struct {
	Name         string
	Type         layers.LayerType
	Params       string
	Downsampling bool
}

// Describe returns one description per layer in execution order.
func (n *Network) Describe() []LayerDescription {
	out := make([]LayerDescription, len(n.layers))
	for i, layer := range n.layers {
		spec := layer.Spec()
		out[i] = LayerDescription{
			Name:         spec.Name,
			Type:         spec.Type,
			Params:       layers.FormatParams(spec.Parameters),
			Downsampling: layer.Downsampling(),
		}
	}
	return out
}

// FormatTrace renders a trace as one line per layer.
func FormatTrace(trace []TraceEntry) string {
	var b strings.Builder
	for _, e := range trace {
		fmt.Fprintf(&b, "%2d %-20s %-18s shape=%v", e.Index, e.Name, e.Type, e.Shape)
		if e.Lengths != nil {
			fmt.Fprintf(&b, " lengths=%v", e.Lengths)
		}
		b.WriteString("\n")
	}
	return b.String()
}
