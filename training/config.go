package training

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tsawler/go-htr/ctc"
	"github.com/tsawler/go-htr/engine"
	"github.com/tsawler/go-htr/optimizer"
)

// RunParams holds the configuration of one job. It is read-only once built.
type RunParams struct {
	NumClasses             int      `json:"num_classes"`
	LearningRate           float64  `json:"learning_rate"`
	Optimizer              string   `json:"optimizer"`
	Loss                   string   `json:"loss"`
	Metrics                []string `json:"metrics"`
	OutputDecoder          string   `json:"output_decoder"`
	BeamWidth              int      `json:"beam_width"`
	TopPaths               int      `json:"top_paths"`
	IgnoreToken            int32    `json:"ignore_token"`
	LogStepCountSteps      int      `json:"log_step_count_steps"`
	DesiredImageHeight     int      `json:"desired_image_height"`
	DesiredImageWidth      int      `json:"desired_image_width"`
	BatchSize              int      `json:"batch_size"`
	NumEpochs              int      `json:"num_epochs"`
	CheckpointEveryNEpochs int      `json:"checkpoint_every_n_epochs"`
	Mode                   string   `json:"mode"`
}

// DefaultRunParams returns the defaults for every field except NumClasses,
// which depends on the charset and must be set by the caller.
func DefaultRunParams() RunParams {
	return RunParams{
		LearningRate:           0.001,
		Optimizer:              optimizer.Momentum.String(),
		Loss:                   CTCLoss.String(),
		Metrics:                []string{LabelErrorRate.String()},
		OutputDecoder:          CTCBeamSearchDecoder.String(),
		BeamWidth:              100,
		TopPaths:               1,
		IgnoreToken:            ctc.DefaultIgnoreToken,
		LogStepCountSteps:      100,
		DesiredImageHeight:     70,
		DesiredImageWidth:      155,
		BatchSize:              1,
		NumEpochs:              1,
		CheckpointEveryNEpochs: 1,
		Mode:                   engine.ModeTrain.String(),
	}
}

// LoadRunParams reads a JSON file over the defaults and validates the result.
func LoadRunParams(path string) (RunParams, error) {
	f, err := os.Open(path)
	if err != nil {
		return RunParams{}, fmt.Errorf("failed to open run params: %v", err)
	}
	defer f.Close()

	params := DefaultRunParams()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&params); err != nil {
		return RunParams{}, fmt.Errorf("failed to decode run params %s: %v", path, err)
	}
	if err := params.Validate(); err != nil {
		return RunParams{}, err
	}
	return params, nil
}

// Save writes the params as indented JSON.
func (p RunParams) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run params: %v", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// resolved is RunParams with every symbolic name bound.
type resolved struct {
	mode      engine.ExecutionMode
	loss      Loss
	optimizer optimizer.Config
	metrics   []Metric
	decoder   Decoder
}

// Validate checks numeric ranges and resolves every symbolic name, so that a
// bad configuration fails before any data is read.
func (p RunParams) Validate() error {
	_, err := p.resolve()
	return err
}

func (p RunParams) resolve() (*resolved, error) {
	if p.NumClasses < 2 {
		return nil, fmt.Errorf("num_classes must be at least 2, got %d", p.NumClasses)
	}
	if p.LearningRate <= 0 {
		return nil, fmt.Errorf("learning_rate must be positive, got %g", p.LearningRate)
	}
	if p.BatchSize < 1 {
		return nil, fmt.Errorf("batch_size must be at least 1, got %d", p.BatchSize)
	}
	if p.NumEpochs < 1 {
		return nil, fmt.Errorf("num_epochs must be at least 1, got %d", p.NumEpochs)
	}
	if p.CheckpointEveryNEpochs < 1 {
		return nil, fmt.Errorf("checkpoint_every_n_epochs must be at least 1, got %d", p.CheckpointEveryNEpochs)
	}
	if p.LogStepCountSteps < 1 {
		return nil, fmt.Errorf("log_step_count_steps must be at least 1, got %d", p.LogStepCountSteps)
	}
	if p.BeamWidth < 1 || p.TopPaths < 1 || p.TopPaths > p.BeamWidth {
		return nil, fmt.Errorf("need 1 <= top_paths <= beam_width, got top_paths=%d beam_width=%d", p.TopPaths, p.BeamWidth)
	}
	if p.DesiredImageHeight < 0 || p.DesiredImageWidth < 0 {
		return nil, fmt.Errorf("desired image size must not be negative, got %dx%d", p.DesiredImageWidth, p.DesiredImageHeight)
	}

	r := &resolved{}
	var err error
	if r.mode, err = engine.ParseExecutionMode(p.Mode); err != nil {
		return nil, err
	}
	if r.loss, err = ResolveLoss(p.Loss); err != nil {
		return nil, err
	}
	if r.optimizer, err = optimizer.Resolve(p.Optimizer, p.LearningRate); err != nil {
		return nil, err
	}
	if r.metrics, err = ResolveMetrics(p.Metrics); err != nil {
		return nil, err
	}
	if r.decoder, err = ResolveDecoder(p.OutputDecoder); err != nil {
		return nil, err
	}
	return r, nil
}
