package training

import (
	"context"
	"fmt"
	"log"

	"github.com/tsawler/go-htr/engine"
	"github.com/tsawler/go-htr/layers"
	"github.com/tsawler/go-htr/tensor"
)

// TrainSpec tells an Estimator how many steps to run and when to checkpoint.
// Steps are counted globally: a run resumed at StartStep executes steps
// StartStep+1 through StartStep+Steps.
type TrainSpec struct {
	Steps                int
	StartStep            int
	CheckpointEverySteps int
	LogStepCountSteps    int
}

// LastStep is the global step the run ends on.
func (s TrainSpec) LastStep() int {
	return s.StartStep + s.Steps
}

func (s TrainSpec) isCheckpointStep(step int) bool {
	if step == s.LastStep() {
		return true
	}
	return s.CheckpointEverySteps > 0 && step%s.CheckpointEverySteps == 0
}

// TrainResult summarizes a completed training call.
type TrainResult struct {
	// Steps is the number of steps run by this call; GlobalStep is the last step reached.
	Steps           int
	GlobalStep      int
	FinalLoss       float64
	CheckpointSteps []int
}

// EvalResult holds the mean loss and metrics of an evaluation pass.
type EvalResult struct {
	Batches int
	Loss    float64
	Metrics map[string]float64
}

// PredictResult holds the decoded rows of a prediction pass, one per example in input order.
type PredictResult struct {
	Batches int
	Decoded [][]int32
}

// Estimator is the runtime that executes training steps, evaluation and
// prediction passes. Every call blocks until it completes or fails.
type Estimator interface {
	Train(ctx context.Context, input *DataLoader, spec TrainSpec) (*TrainResult, error)
	Evaluate(ctx context.Context, input *DataLoader) (*EvalResult, error)
	Predict(ctx context.Context, input *DataLoader) (*PredictResult, error)
}

// CheckpointRecorder persists a checkpoint marker after a step.
type CheckpointRecorder interface {
	RecordCheckpoint(step int, loss float64) error
}

// ArchitectureSaver keeps a copy of the architecture next to the checkpoints.
type ArchitectureSaver interface {
	SaveArchitecture(arch layers.Architecture) error
}

// StepReader is implemented by stores that know the last checkpointed step.
// A Driver whose store implements it resumes training after that step.
type StepReader interface {
	LatestStep() (int, error)
}

// LocalEstimator runs steps in process through a ModelFn on a Backend.
// Cancellation is only observed between steps.
type LocalEstimator struct {
	ModelFn     *ModelFn
	Backend     tensor.Backend
	Checkpoints CheckpointRecorder
	Logger      *log.Logger
	Verbose     bool
}

func (e *LocalEstimator) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// Train runs exactly spec.Steps steps, cycling through input as needed.
func (e *LocalEstimator) Train(ctx context.Context, input *DataLoader, spec TrainSpec) (*TrainResult, error) {
	if e.ModelFn == nil || e.Backend == nil {
		return nil, fmt.Errorf("estimator needs a model function and a backend")
	}
	if mode := e.ModelFn.Mode(); mode != engine.ModeTrain {
		return nil, fmt.Errorf("model function is configured for %s mode, not train", mode)
	}
	if spec.Steps < 1 {
		return nil, fmt.Errorf("steps must be at least 1, got %d", spec.Steps)
	}
	if spec.StartStep < 0 {
		return nil, fmt.Errorf("start step must not be negative, got %d", spec.StartStep)
	}
	if input.Len() == 0 {
		return nil, fmt.Errorf("training input yields no batches")
	}

	fn := e.ModelFn.WithLogStepCount(spec.LogStepCountSteps)
	fn.SetLogger(e.logger())
	logEvery := spec.LogStepCountSteps
	if logEvery < 1 {
		logEvery = fn.logSteps
	}

	var progress *ProgressBar
	if e.Verbose {
		progress = NewProgressBar("Training", spec.Steps)
	}

	result := &TrainResult{GlobalStep: spec.StartStep}
	input.Reset()
	for step := spec.StartStep + 1; step <= spec.LastStep(); step++ {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("training stopped before step %d: %w", step, err)
		}

		batch, err := nextCycling(input)
		if err != nil {
			return result, fmt.Errorf("step %d: %w", step, err)
		}
		features, err := batch.Features(e.Backend)
		if err != nil {
			return result, fmt.Errorf("step %d: %w", step, err)
		}
		out, err := fn.Call(e.Backend, features, batch.Labels, engine.ModeTrain)
		if err != nil {
			return result, fmt.Errorf("step %d: %w", step, err)
		}
		if err := out.TrainStep.Apply(); err != nil {
			return result, fmt.Errorf("step %d: optimizer update failed: %w", step, err)
		}
		loss, err := e.Backend.Scalar(out.Loss)
		if err != nil {
			return result, fmt.Errorf("step %d: failed to read loss: %w", step, err)
		}
		result.Steps++
		result.GlobalStep = step
		result.FinalLoss = loss

		for _, hook := range out.Hooks {
			if err := hook.AfterStep(step); err != nil {
				return result, fmt.Errorf("step %d: hook failed: %w", step, err)
			}
		}
		if progress != nil {
			progress.Update(result.Steps, map[string]float64{"loss": loss})
		} else if step%logEvery == 0 {
			e.logger().Printf("step %d: loss = %.4f", step, loss)
		}

		if spec.isCheckpointStep(step) {
			if e.Checkpoints != nil {
				if err := e.Checkpoints.RecordCheckpoint(step, loss); err != nil {
					return result, fmt.Errorf("step %d: checkpoint failed: %w", step, err)
				}
			}
			result.CheckpointSteps = append(result.CheckpointSteps, step)
		}
	}
	if progress != nil {
		progress.Finish()
	}
	return result, nil
}

// nextCycling returns the next batch, starting a new epoch when the current one is exhausted.
func nextCycling(input *DataLoader) (*Batch, error) {
	batch, err := input.Next()
	if err != nil || batch != nil {
		return batch, err
	}
	input.Reset()
	batch, err = input.Next()
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, fmt.Errorf("training input yields no batches")
	}
	return batch, nil
}

// Evaluate makes one pass over input and averages loss and metrics over batches.
func (e *LocalEstimator) Evaluate(ctx context.Context, input *DataLoader) (*EvalResult, error) {
	if e.ModelFn == nil || e.Backend == nil {
		return nil, fmt.Errorf("estimator needs a model function and a backend")
	}

	acc := NewMetricAccumulator()
	losses := NewMetricAccumulator()
	batches := 0
	input.Reset()
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("evaluation stopped after %d batches: %w", batches, err)
		}
		batch, err := input.Next()
		if err != nil {
			return nil, err
		}
		if batch == nil {
			break
		}
		features, err := batch.Features(e.Backend)
		if err != nil {
			return nil, err
		}
		out, err := e.ModelFn.Call(e.Backend, features, batch.Labels, engine.ModeEval)
		if err != nil {
			return nil, fmt.Errorf("eval batch %d: %w", batches+1, err)
		}
		loss, err := e.Backend.Scalar(out.Loss)
		if err != nil {
			return nil, fmt.Errorf("eval batch %d: failed to read loss: %w", batches+1, err)
		}
		losses.Add(map[string]float64{"loss": loss})
		acc.Add(out.EvalMetrics)
		batches++
	}
	if batches == 0 {
		return nil, fmt.Errorf("evaluation input yields no batches")
	}

	return &EvalResult{
		Batches: batches,
		Loss:    losses.Means()["loss"],
		Metrics: acc.Means(),
	}, nil
}

// Predict makes one pass over input in predict mode. Labels in the input are never read.
func (e *LocalEstimator) Predict(ctx context.Context, input *DataLoader) (*PredictResult, error) {
	if e.ModelFn == nil || e.Backend == nil {
		return nil, fmt.Errorf("estimator needs a model function and a backend")
	}

	result := &PredictResult{}
	input.Reset()
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("prediction stopped after %d batches: %w", result.Batches, err)
		}
		batch, err := input.Next()
		if err != nil {
			return nil, err
		}
		if batch == nil {
			break
		}
		features, err := batch.Features(e.Backend)
		if err != nil {
			return nil, err
		}
		out, err := e.ModelFn.Call(e.Backend, features, nil, engine.ModePredict)
		if err != nil {
			return nil, fmt.Errorf("predict batch %d: %w", result.Batches+1, err)
		}
		result.Decoded = append(result.Decoded, out.Predictions.Decoded...)
		result.Batches++
	}
	return result, nil
}

// DriverConfig configures a Driver.
type DriverConfig struct {
	// Seed drives shuffling of the training split.
	Seed   int64
	Logger *log.Logger
}

// RunResult is the outcome of a Driver run. Only the parts the mode produces are set.
type RunResult struct {
	Mode     engine.ExecutionMode
	Schedule Schedule
	Train    *TrainResult
	Eval     *EvalResult
	Predict  *PredictResult
}

// Driver turns epoch and batch counts into step counts and issues the blocking
// train, evaluate and predict calls. It does not retry.
type Driver struct {
	params    RunParams
	mode      engine.ExecutionMode
	arch      layers.Architecture
	estimator Estimator
	store     ArchitectureSaver
	cfg       DriverConfig
	logger    *log.Logger
}

// NewDriver validates params and arch before returning. store may be nil.
func NewDriver(params RunParams, arch layers.Architecture, estimator Estimator, store ArchitectureSaver, cfg DriverConfig) (*Driver, error) {
	if estimator == nil {
		return nil, fmt.Errorf("driver needs an estimator")
	}
	r, err := params.resolve()
	if err != nil {
		return nil, fmt.Errorf("invalid run params: %w", err)
	}
	if _, err := engine.Compile(arch); err != nil {
		return nil, fmt.Errorf("invalid architecture: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Driver{
		params:    params,
		mode:      r.mode,
		arch:      arch.Clone(),
		estimator: estimator,
		store:     store,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Mode returns the execution mode named in the run params.
func (d *Driver) Mode() engine.ExecutionMode {
	return d.mode
}

// Schedule computes the step schedule for a training split of datasetSize examples.
func (d *Driver) Schedule(datasetSize int) (Schedule, error) {
	return NewSchedule(datasetSize, d.params.BatchSize, d.params.NumEpochs, d.params.CheckpointEveryNEpochs)
}

// Run does what the configured mode asks for:
//
//	train:   Train over train, then Evaluate over eval when it is not nil
//	eval:    Evaluate over eval
//	predict: Predict over eval
func (d *Driver) Run(ctx context.Context, train, eval Dataset) (*RunResult, error) {
	switch d.mode {
	case engine.ModeTrain:
		return d.Train(ctx, train, eval)
	case engine.ModeEval:
		res, err := d.Evaluate(ctx, eval)
		if err != nil {
			return nil, err
		}
		return &RunResult{Mode: d.mode, Eval: res}, nil
	default:
		res, err := d.Predict(ctx, eval)
		if err != nil {
			return nil, err
		}
		return &RunResult{Mode: d.mode, Predict: res}, nil
	}
}

// resumeStep returns the last checkpointed step of the store, or 0 without one.
func (d *Driver) resumeStep() (int, error) {
	reader, ok := d.store.(StepReader)
	if !ok {
		return 0, nil
	}
	step, err := reader.LatestStep()
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoint state: %w", err)
	}
	return step, nil
}

// Train runs numEpochs over train, then one evaluation pass over eval when it is not nil.
// Metrics are logged once per epoch. When the store already holds checkpoints
// the run continues after the last one. If evaluation fails the training
// result is returned together with the error.
func (d *Driver) Train(ctx context.Context, train, eval Dataset) (*RunResult, error) {
	if d.mode != engine.ModeTrain {
		return nil, fmt.Errorf("run params select %s mode, not train", d.mode)
	}
	if train == nil {
		return nil, fmt.Errorf("no training dataset")
	}
	schedule, err := d.Schedule(train.Len())
	if err != nil {
		return nil, err
	}
	start, err := d.resumeStep()
	if err != nil {
		return nil, err
	}
	d.logger.Printf("training schedule: %s", schedule)
	if start > 0 {
		d.logger.Printf("resuming after checkpoint at step %d", start)
	}

	if d.store != nil {
		if err := d.store.SaveArchitecture(d.arch); err != nil {
			return nil, fmt.Errorf("failed to save architecture: %w", err)
		}
	}

	loader, err := NewDataLoader(train, LoaderConfig{
		BatchSize:   d.params.BatchSize,
		Shuffle:     true,
		DropLast:    true,
		IgnoreToken: d.params.IgnoreToken,
		Seed:        d.cfg.Seed,
	})
	if err != nil {
		return nil, err
	}

	trained, err := d.estimator.Train(ctx, loader, TrainSpec{
		Steps:                schedule.TotalSteps,
		StartStep:            start,
		CheckpointEverySteps: schedule.CheckpointIntervalSteps,
		LogStepCountSteps:    schedule.StepsPerEpoch,
	})
	if err != nil {
		return nil, fmt.Errorf("training failed: %w", err)
	}
	d.logger.Printf("training finished at step %d after %d steps, checkpoints at %v",
		trained.GlobalStep, trained.Steps, trained.CheckpointSteps)

	result := &RunResult{Mode: d.mode, Schedule: schedule, Train: trained}
	if eval != nil {
		if result.Eval, err = d.Evaluate(ctx, eval); err != nil {
			return result, err
		}
	}
	return result, nil
}

// Evaluate makes a single unshuffled pass over eval. Predict mode does not evaluate.
func (d *Driver) Evaluate(ctx context.Context, eval Dataset) (*EvalResult, error) {
	if d.mode == engine.ModePredict {
		return nil, fmt.Errorf("run params select predict mode, not eval")
	}
	if eval == nil {
		return nil, fmt.Errorf("no evaluation dataset")
	}
	loader, err := NewDataLoader(eval, LoaderConfig{
		BatchSize:   d.params.BatchSize,
		Shuffle:     false,
		IgnoreToken: d.params.IgnoreToken,
	})
	if err != nil {
		return nil, err
	}
	res, err := d.estimator.Evaluate(ctx, loader)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	d.logger.Printf("evaluation over %d batches: loss=%.4f %s", res.Batches, res.Loss, FormatMetrics(res.Metrics))
	return res, nil
}

// Predict makes a single unshuffled pass over data in predict mode.
func (d *Driver) Predict(ctx context.Context, data Dataset) (*PredictResult, error) {
	if d.mode != engine.ModePredict {
		return nil, fmt.Errorf("run params select %s mode, not predict", d.mode)
	}
	if data == nil {
		return nil, fmt.Errorf("no prediction dataset")
	}
	loader, err := NewDataLoader(data, LoaderConfig{
		BatchSize:   d.params.BatchSize,
		Shuffle:     false,
		IgnoreToken: d.params.IgnoreToken,
	})
	if err != nil {
		return nil, err
	}
	res, err := d.estimator.Predict(ctx, loader)
	if err != nil {
		return nil, fmt.Errorf("prediction failed: %w", err)
	}
	d.logger.Printf("predicted %d examples over %d batches", len(res.Decoded), res.Batches)
	return res, nil
}
