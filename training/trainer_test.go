package training

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/tsawler/go-htr/checkpoints"
	"github.com/tsawler/go-htr/engine"
	"github.com/tsawler/go-htr/layers"
	"github.com/tsawler/go-htr/tensor/symbolic"
)

func TestNewSchedule(t *testing.T) {
	tests := []struct {
		name                       string
		size, batch, epochs, every int
		perEpoch, total, interval  int
	}{
		{"three examples batch one", 3, 1, 1, 1, 3, 3, 3},
		{"remainder is dropped", 10, 3, 2, 1, 3, 6, 3},
		{"checkpoint every two epochs", 100, 10, 5, 2, 10, 50, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSchedule(tt.size, tt.batch, tt.epochs, tt.every)
			if err != nil {
				t.Fatalf("NewSchedule failed: %v", err)
			}
			if s.StepsPerEpoch != tt.perEpoch || s.TotalSteps != tt.total || s.CheckpointIntervalSteps != tt.interval {
				t.Errorf("expected %d/%d/%d, got %d/%d/%d", tt.perEpoch, tt.total, tt.interval,
					s.StepsPerEpoch, s.TotalSteps, s.CheckpointIntervalSteps)
			}
		})
	}

	t.Run("checkpoint steps include the final step", func(t *testing.T) {
		s, _ := NewSchedule(100, 10, 5, 2)
		if !reflect.DeepEqual(s.CheckpointSteps(), []int{20, 40, 50}) {
			t.Errorf("unexpected checkpoint steps %v", s.CheckpointSteps())
		}
	})

	t.Run("dataset smaller than batch", func(t *testing.T) {
		if _, err := NewSchedule(2, 4, 1, 1); err == nil {
			t.Error("expected error when no full batch exists")
		}
	})
}

type recordingStore struct {
	arch        layers.Architecture
	checkpoints []int
	fail        error
}

func (s *recordingStore) SaveArchitecture(arch layers.Architecture) error {
	s.arch = arch.Clone()
	return nil
}

func (s *recordingStore) RecordCheckpoint(step int, loss float64) error {
	if s.fail != nil {
		return s.fail
	}
	s.checkpoints = append(s.checkpoints, step)
	return nil
}

func newTestDriver(t *testing.T, params RunParams, est Estimator, store *recordingStore) *Driver {
	t.Helper()
	logger, _ := bufferLogger()
	var saver ArchitectureSaver
	if store != nil {
		saver = store
	}
	d, err := NewDriver(params, testArchitecture(t), est, saver, DriverConfig{Seed: 7, Logger: logger})
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}
	return d
}

func TestDriverEndToEnd(t *testing.T) {
	params := testParams()
	params.BatchSize = 1
	params.NumEpochs = 1
	params.CheckpointEveryNEpochs = 1

	b := symbolic.New()
	fn, err := NewModelFn(params, testArchitecture(t))
	if err != nil {
		t.Fatalf("NewModelFn failed: %v", err)
	}
	logger, _ := bufferLogger()
	store := &recordingStore{}
	est := &LocalEstimator{ModelFn: fn, Backend: b, Checkpoints: store, Logger: logger}
	d := newTestDriver(t, params, est, store)

	res, err := d.Train(context.Background(), newMemDataset(3), newMemDataset(2))
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	if res.Schedule.StepsPerEpoch != 3 || res.Schedule.TotalSteps != 3 || res.Schedule.CheckpointIntervalSteps != 3 {
		t.Errorf("unexpected schedule %+v", res.Schedule)
	}
	if res.Train.Steps != 3 || b.AppliedSteps() != 3 {
		t.Errorf("expected 3 applied steps, got %d (backend %d)", res.Train.Steps, b.AppliedSteps())
	}
	if !reflect.DeepEqual(store.checkpoints, []int{3}) {
		t.Errorf("expected one checkpoint after step 3, got %v", store.checkpoints)
	}
	if len(store.arch) != len(testArchitecture(t)) {
		t.Errorf("architecture copy not saved: %v", store.arch)
	}
	if res.Eval == nil || res.Eval.Batches != 2 {
		t.Fatalf("expected evaluation over 2 batches, got %+v", res.Eval)
	}
	if _, ok := res.Eval.Metrics["label_error_rate"]; !ok {
		t.Errorf("evaluation missing label_error_rate: %v", res.Eval.Metrics)
	}
}

func TestLocalEstimatorCyclesEpochs(t *testing.T) {
	params := testParams()
	params.BatchSize = 2
	params.NumEpochs = 3

	b := symbolic.New()
	fn, _ := NewModelFn(params, testArchitecture(t))
	logger, _ := bufferLogger()
	store := &recordingStore{}
	est := &LocalEstimator{ModelFn: fn, Backend: b, Checkpoints: store, Logger: logger}

	loader, err := NewDataLoader(newMemDataset(5), LoaderConfig{BatchSize: 2, Shuffle: true, DropLast: true, IgnoreToken: -1, Seed: 1})
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}
	res, err := est.Train(context.Background(), loader, TrainSpec{Steps: 6, CheckpointEverySteps: 4, LogStepCountSteps: 2})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if res.Steps != 6 || b.AppliedSteps() != 6 {
		t.Errorf("expected 6 steps, got %d", res.Steps)
	}
	if !reflect.DeepEqual(res.CheckpointSteps, []int{4, 6}) {
		t.Errorf("expected checkpoints at [4 6], got %v", res.CheckpointSteps)
	}
}

func TestLocalEstimatorStopsBetweenSteps(t *testing.T) {
	fn, _ := NewModelFn(testParams(), testArchitecture(t))
	b := symbolic.New()
	logger, _ := bufferLogger()
	est := &LocalEstimator{ModelFn: fn, Backend: b, Logger: logger}
	loader, _ := NewDataLoader(newMemDataset(4), LoaderConfig{BatchSize: 1, IgnoreToken: -1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := est.Train(ctx, loader, TrainSpec{Steps: 4})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.Steps != 0 || b.AppliedSteps() != 0 {
		t.Errorf("no step should run after cancellation, got %d", res.Steps)
	}
}

func TestLocalEstimatorCheckpointFailureAborts(t *testing.T) {
	fn, _ := NewModelFn(testParams(), testArchitecture(t))
	b := symbolic.New()
	logger, _ := bufferLogger()
	store := &recordingStore{fail: errors.New("disk full")}
	est := &LocalEstimator{ModelFn: fn, Backend: b, Checkpoints: store, Logger: logger}
	loader, _ := NewDataLoader(newMemDataset(4), LoaderConfig{BatchSize: 1, IgnoreToken: -1})

	res, err := est.Train(context.Background(), loader, TrainSpec{Steps: 4, CheckpointEverySteps: 2})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected checkpoint failure, got %v", err)
	}
	// The update for step 2 is applied before its checkpoint is written.
	if res.Steps != 2 || b.AppliedSteps() != 2 {
		t.Errorf("expected to stop after step 2, got %d", res.Steps)
	}
}

func TestNewDriverFailsBeforeData(t *testing.T) {
	params := testParams()
	params.Loss = "mse"
	_, err := NewDriver(params, testArchitecture(t), &LocalEstimator{}, nil, DriverConfig{})
	if !errors.Is(err, ErrUnsupportedLoss) {
		t.Errorf("expected unsupported loss error, got %v", err)
	}
}

func TestDriverRunFollowsMode(t *testing.T) {
	t.Run("train", func(t *testing.T) {
		params := testParams()
		b := symbolic.New()
		fn, _ := NewModelFn(params, testArchitecture(t))
		logger, _ := bufferLogger()
		est := &LocalEstimator{ModelFn: fn, Backend: b, Logger: logger}
		d := newTestDriver(t, params, est, nil)

		res, err := d.Run(context.Background(), newMemDataset(3), nil)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if res.Mode != engine.ModeTrain || res.Train == nil || res.Eval != nil || res.Predict != nil {
			t.Errorf("unexpected train result %+v", res)
		}
		if b.AppliedSteps() != 3 {
			t.Errorf("expected 3 applied steps, got %d", b.AppliedSteps())
		}
	})

	t.Run("eval", func(t *testing.T) {
		params := testParams()
		params.Mode = engine.ModeEval.String()
		b := symbolic.New()
		fn, _ := NewModelFn(params, testArchitecture(t))
		logger, _ := bufferLogger()
		store := &recordingStore{}
		est := &LocalEstimator{ModelFn: fn, Backend: b, Checkpoints: store, Logger: logger}
		d := newTestDriver(t, params, est, store)

		res, err := d.Run(context.Background(), newMemDataset(3), newMemDataset(2))
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if res.Mode != engine.ModeEval || res.Train != nil || res.Predict != nil {
			t.Errorf("eval mode produced %+v", res)
		}
		if res.Eval == nil || res.Eval.Batches != 2 {
			t.Fatalf("expected evaluation over 2 batches, got %+v", res.Eval)
		}
		if b.AppliedSteps() != 0 || store.checkpoints != nil || store.arch != nil {
			t.Errorf("eval mode trained: %d steps, checkpoints %v", b.AppliedSteps(), store.checkpoints)
		}
	})

	t.Run("predict", func(t *testing.T) {
		params := testParams()
		params.Mode = engine.ModePredict.String()
		params.BatchSize = 2
		b := symbolic.New()
		fn, _ := NewModelFn(params, testArchitecture(t))
		logger, _ := bufferLogger()
		store := &recordingStore{}
		est := &LocalEstimator{ModelFn: fn, Backend: b, Checkpoints: store, Logger: logger}
		d := newTestDriver(t, params, est, store)
		if d.Mode() != engine.ModePredict {
			t.Fatalf("expected predict mode, got %s", d.Mode())
		}

		res, err := d.Run(context.Background(), newMemDataset(4), newMemDataset(3))
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if res.Train != nil || res.Eval != nil {
			t.Errorf("predict mode produced %+v", res)
		}
		if res.Predict == nil || res.Predict.Batches != 2 || len(res.Predict.Decoded) != 3 {
			t.Fatalf("expected 3 decoded rows over 2 batches, got %+v", res.Predict)
		}
		if b.AppliedSteps() != 0 || store.checkpoints != nil || store.arch != nil {
			t.Errorf("predict mode trained: %d steps, checkpoints %v", b.AppliedSteps(), store.checkpoints)
		}
		for _, c := range b.Calls() {
			if c.Op == "CTCLoss" || c.Op == "Minimize" {
				t.Errorf("predict issued %s", c.Op)
			}
		}
	})
}

func TestDriverRejectsCallsOutsideItsMode(t *testing.T) {
	params := testParams()
	params.Mode = engine.ModePredict.String()
	b := symbolic.New()
	fn, _ := NewModelFn(params, testArchitecture(t))
	logger, _ := bufferLogger()
	store := &recordingStore{}
	est := &LocalEstimator{ModelFn: fn, Backend: b, Checkpoints: store, Logger: logger}
	d := newTestDriver(t, params, est, store)

	if _, err := d.Train(context.Background(), newMemDataset(3), nil); err == nil {
		t.Error("expected Train to refuse predict mode")
	}
	if _, err := d.Evaluate(context.Background(), newMemDataset(3)); err == nil {
		t.Error("expected Evaluate to refuse predict mode")
	}
	if b.AppliedSteps() != 0 || len(b.Calls()) != 0 || store.arch != nil {
		t.Errorf("refused calls touched the backend or the store")
	}

	train := testParams()
	trainDriver := newTestDriver(t, train, est, nil)
	if _, err := trainDriver.Predict(context.Background(), newMemDataset(3)); err == nil {
		t.Error("expected Predict to refuse train mode")
	}
}

func TestLocalEstimatorTrainsOnlyInTrainMode(t *testing.T) {
	params := testParams()
	params.Mode = engine.ModeEval.String()
	fn, _ := NewModelFn(params, testArchitecture(t))
	b := symbolic.New()
	logger, _ := bufferLogger()
	est := &LocalEstimator{ModelFn: fn, Backend: b, Logger: logger}
	loader, _ := NewDataLoader(newMemDataset(2), LoaderConfig{BatchSize: 1, IgnoreToken: -1})

	if _, err := est.Train(context.Background(), loader, TrainSpec{Steps: 2}); err == nil {
		t.Fatal("expected error for an eval-mode model function")
	}
	if b.AppliedSteps() != 0 {
		t.Errorf("expected no applied steps, got %d", b.AppliedSteps())
	}
}

func TestDriverResumesFromCheckpointStore(t *testing.T) {
	params := testParams()
	params.BatchSize = 1
	params.NumEpochs = 1
	params.CheckpointEveryNEpochs = 1

	store, err := checkpoints.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	b := symbolic.New()
	fn, _ := NewModelFn(params, testArchitecture(t))
	logger, buf := bufferLogger()
	est := &LocalEstimator{ModelFn: fn, Backend: b, Checkpoints: store, Logger: logger}
	d, err := NewDriver(params, testArchitecture(t), est, store, DriverConfig{Seed: 7, Logger: logger})
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}

	first, err := d.Train(context.Background(), newMemDataset(3), nil)
	if err != nil {
		t.Fatalf("first Train failed: %v", err)
	}
	if first.Train.GlobalStep != 3 || !reflect.DeepEqual(first.Train.CheckpointSteps, []int{3}) {
		t.Errorf("unexpected first run %+v", first.Train)
	}

	second, err := d.Train(context.Background(), newMemDataset(3), nil)
	if err != nil {
		t.Fatalf("second Train into the same directory failed: %v", err)
	}
	if second.Train.Steps != 3 || second.Train.GlobalStep != 6 {
		t.Errorf("expected steps 4 through 6, got %+v", second.Train)
	}
	if !reflect.DeepEqual(second.Train.CheckpointSteps, []int{6}) {
		t.Errorf("expected a checkpoint at step 6, got %v", second.Train.CheckpointSteps)
	}
	if !strings.Contains(buf.String(), "resuming after checkpoint at step 3") {
		t.Errorf("resume not logged: %q", buf.String())
	}

	entries, err := store.Checkpoints()
	if err != nil {
		t.Fatalf("Checkpoints failed: %v", err)
	}
	var steps []int
	for _, e := range entries {
		steps = append(steps, e.Step)
	}
	if !reflect.DeepEqual(steps, []int{3, 6}) {
		t.Errorf("expected recorded steps [3 6], got %v", steps)
	}
	if b.AppliedSteps() != 6 {
		t.Errorf("expected 6 applied steps over both runs, got %d", b.AppliedSteps())
	}
}

type unreadableStore struct {
	recordingStore
}

func (s *unreadableStore) LatestStep() (int, error) {
	return 0, errors.New("index unreadable")
}

func TestDriverFailsBeforeDataOnUnreadableStore(t *testing.T) {
	params := testParams()
	b := symbolic.New()
	fn, _ := NewModelFn(params, testArchitecture(t))
	logger, _ := bufferLogger()
	store := &unreadableStore{}
	est := &LocalEstimator{ModelFn: fn, Backend: b, Checkpoints: store, Logger: logger}
	d, err := NewDriver(params, testArchitecture(t), est, store, DriverConfig{Logger: logger})
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}

	_, err = d.Train(context.Background(), newMemDataset(3), nil)
	if err == nil || !strings.Contains(err.Error(), "index unreadable") {
		t.Fatalf("expected checkpoint state error, got %v", err)
	}
	if b.AppliedSteps() != 0 || len(b.Calls()) != 0 || store.arch != nil {
		t.Error("training started before the checkpoint state was read")
	}
}

func TestDriverTrainKeepsResultWhenEvaluationFails(t *testing.T) {
	params := testParams()
	b := symbolic.New()
	fn, _ := NewModelFn(params, testArchitecture(t))
	logger, _ := bufferLogger()
	store := &recordingStore{}
	est := &LocalEstimator{ModelFn: fn, Backend: b, Checkpoints: store, Logger: logger}
	d := newTestDriver(t, params, est, store)

	bad := &memDataset{examples: []*Example{{Image: make([]float32, 4), Shape: []int{2, 2}}}}
	res, err := d.Train(context.Background(), newMemDataset(3), bad)
	if err == nil || !strings.Contains(err.Error(), "evaluation failed") {
		t.Fatalf("expected evaluation error, got %v", err)
	}
	if res == nil || res.Train == nil {
		t.Fatal("training result lost after evaluation failed")
	}
	if res.Train.Steps != 3 || !reflect.DeepEqual(store.checkpoints, []int{3}) {
		t.Errorf("unexpected training result %+v, checkpoints %v", res.Train, store.checkpoints)
	}
	if res.Eval != nil {
		t.Errorf("unexpected eval result %+v", res.Eval)
	}
}
