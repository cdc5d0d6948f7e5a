package training

import (
	"fmt"
	"log"

	"github.com/tsawler/go-htr/ctc"
	"github.com/tsawler/go-htr/engine"
	"github.com/tsawler/go-htr/layers"
	"github.com/tsawler/go-htr/tensor"
)

// Features is the input of one model function call.
type Features struct {
	// Images has shape [batch, width, height, channels].
	Images tensor.Tensor
	// SeqLens is the valid width of each image. When nil every example is
	// treated as using the full output length.
	SeqLens []int32
}

// Predictions is the decoded output of one call.
type Predictions struct {
	Decoded          [][]int32
	LogProbabilities tensor.Tensor
}

// ModelOutput is the bundle returned for one mode.
//
//	train:   Predictions, Loss, TrainStep, Hooks
//	eval:    Predictions, Loss, EvalMetrics
//	predict: Predictions
type ModelOutput struct {
	Mode        engine.ExecutionMode
	Predictions Predictions
	Loss        tensor.Tensor
	TrainStep   tensor.TrainStep
	EvalMetrics map[string]float64
	Hooks       []Hook

	// SequenceLengths are the lengths at the network output resolution.
	SequenceLengths []int32
	Trace           []engine.TraceEntry
}

// ModelFn builds the per-mode output bundle from a compiled network and
// resolved run parameters. Construction resolves every name and compiles the
// architecture, so a bad configuration fails before any data flows.
type ModelFn struct {
	params   RunParams
	arch     layers.Architecture
	net      *engine.Network
	r        *resolved
	logSteps int
	logger   *log.Logger
}

// NewModelFn validates params, compiles arch and returns a ready model function.
func NewModelFn(params RunParams, arch layers.Architecture) (*ModelFn, error) {
	r, err := params.resolve()
	if err != nil {
		return nil, fmt.Errorf("invalid run params: %w", err)
	}
	net, err := engine.Compile(arch)
	if err != nil {
		return nil, fmt.Errorf("failed to compile architecture: %w", err)
	}
	params.Metrics = append([]string(nil), params.Metrics...)
	return &ModelFn{
		params:   params,
		arch:     arch.Clone(),
		net:      net,
		r:        r,
		logSteps: params.LogStepCountSteps,
		logger:   log.Default(),
	}, nil
}

// SetLogger sets the logger handed to training hooks.
func (m *ModelFn) SetLogger(logger *log.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// WithLogStepCount returns a copy whose training hooks log every n steps.
func (m *ModelFn) WithLogStepCount(n int) *ModelFn {
	cp := *m
	if n > 0 {
		cp.logSteps = n
	}
	return &cp
}

// Params returns a copy of the run params.
func (m *ModelFn) Params() RunParams {
	p := m.params
	p.Metrics = append([]string(nil), m.params.Metrics...)
	return p
}

// Architecture returns a copy of the compiled architecture.
func (m *ModelFn) Architecture() layers.Architecture {
	return m.arch.Clone()
}

// Network returns the compiled network.
func (m *ModelFn) Network() *engine.Network {
	return m.net
}

// Mode returns the mode named in the run params.
func (m *ModelFn) Mode() engine.ExecutionMode {
	return m.r.mode
}

// Invoke runs Call in the mode named in the run params. Labels are not read
// in predict mode.
func (m *ModelFn) Invoke(b tensor.Backend, features Features, labels [][]int32) (*ModelOutput, error) {
	if m.r.mode == engine.ModePredict {
		labels = nil
	}
	return m.Call(b, features, labels, m.r.mode)
}

// Call runs one invocation in the given mode. Labels are padded dense rows
// terminated by the ignore token; they may be nil only in predict mode.
// On any error no bundle is returned.
func (m *ModelFn) Call(b tensor.Backend, features Features, labels [][]int32, mode engine.ExecutionMode) (*ModelOutput, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid execution mode %d", int(mode))
	}
	if mode != engine.ModePredict && labels == nil {
		return nil, ErrMissingLabels
	}

	res, err := m.net.Execute(b, engine.State{Features: features.Images, Lengths: features.SeqLens}, mode)
	if err != nil {
		return nil, fmt.Errorf("network: %w", err)
	}
	aligned, err := ctc.ToAlignmentLayout(b, res.Features, m.params.NumClasses)
	if err != nil {
		return nil, err
	}
	seqLens := res.Lengths
	if seqLens == nil {
		seqLens = aligned.FullSequenceLengths()
	}

	decoded, err := m.r.decoder.Decode(b, aligned, seqLens, m.params.BeamWidth, m.params.TopPaths)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.r.decoder.Type, err)
	}
	out := &ModelOutput{
		Mode: mode,
		Predictions: Predictions{
			Decoded:          decoded.Dense,
			LogProbabilities: decoded.LogProbabilities,
		},
		SequenceLengths: seqLens,
		Trace:           res.Trace,
	}
	if mode == engine.ModePredict {
		return out, nil
	}

	if len(labels) != aligned.Batch {
		return nil, fmt.Errorf("%d label rows for batch of %d", len(labels), aligned.Batch)
	}
	sparse, err := ctc.ToSparse(labels, m.params.IgnoreToken)
	if err != nil {
		return nil, fmt.Errorf("labels: %w", err)
	}
	loss, err := m.r.loss.Compute(b, aligned, sparse, seqLens)
	if err != nil {
		return nil, fmt.Errorf("%s loss: %w", m.r.loss.Type, err)
	}
	out.Loss = loss

	values := make(map[string]float64, len(m.r.metrics))
	for _, metric := range m.r.metrics {
		v, err := metric.Compute(decoded.Sparse, sparse)
		if err != nil {
			return nil, fmt.Errorf("%s metric: %w", metric.Name(), err)
		}
		values[metric.Name()] = v
	}

	if mode == engine.ModeEval {
		out.EvalMetrics = values
		return out, nil
	}

	step, err := b.Minimize(loss, m.r.optimizer)
	if err != nil {
		return nil, fmt.Errorf("%s optimizer: %w", m.r.optimizer.Kind, err)
	}
	out.TrainStep = step
	for _, metric := range m.r.metrics {
		out.Hooks = append(out.Hooks, NewMetricLoggingHook(metric.Name(), values[metric.Name()], m.logSteps, m.logger))
	}
	return out, nil
}
