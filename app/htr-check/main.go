// Command htr-check loads a run configuration and an architecture, compiles
// the network and dry-runs it in the configured execution mode on the
// symbolic backend. It prints the architecture, the per-layer trace and the
// training schedule, and can optionally run a short synthetic job into a
// checkpoint directory or store the architecture in a sqlite registry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/tsawler/go-htr/archstore"
	"github.com/tsawler/go-htr/checkpoints"
	"github.com/tsawler/go-htr/engine"
	"github.com/tsawler/go-htr/layers"
	"github.com/tsawler/go-htr/tensor/symbolic"
	"github.com/tsawler/go-htr/training"
)

var (
	paramsPath  = flag.String("params", "", "run params JSON file (defaults when empty)")
	numClasses  = flag.Int("num-classes", 80, "number of output classes including blank, when -params is empty")
	archPath    = flag.String("arch", "", "architecture JSON file")
	archName    = flag.String("arch-name", "", "load the architecture with this name from -archdb")
	archDB      = flag.String("archdb", "", "sqlite architecture registry")
	saveAs      = flag.String("save-as", "", "store the architecture in -archdb under this name")
	writeArch   = flag.String("write-arch", "", "write the compiled architecture to this JSON file")
	filters     = flag.Int("filters", 16, "starting filters of the CNN-MDLSTM preset")
	datasetSize = flag.Int("dataset-size", 8, "number of training examples used for the schedule")
	ckptDir     = flag.String("checkpoint-dir", "", "run a synthetic job in the configured mode against this checkpoint directory")
	seed        = flag.Int64("seed", 1, "shuffle and synthetic data seed")
	verbose     = flag.Bool("v", false, "log every training step")
)

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "htr-check: ", log.LstdFlags)
	if err := run(logger); err != nil {
		logger.Fatal(err)
	}
}

func run(logger *log.Logger) error {
	params, err := loadParams()
	if err != nil {
		return err
	}

	var registry *archstore.Store
	if *archDB != "" {
		registry, err = archstore.Open(*archDB)
		if err != nil {
			return err
		}
		defer registry.Close()
	}

	arch, err := loadArchitecture(registry)
	if err != nil {
		return err
	}
	if *saveAs != "" {
		if registry == nil {
			return errors.New("-save-as needs -archdb")
		}
		if err := registry.Save(*saveAs, arch); err != nil {
			return err
		}
		logger.Printf("stored architecture as %q", *saveAs)
	}

	training.PrintArchitecture(os.Stdout, "CNNMDLSTM", arch)

	fn, err := training.NewModelFn(params, arch)
	if err != nil {
		return err
	}
	fn.SetLogger(logger)

	net := fn.Network()
	fmt.Printf("\nNetwork: %d layers, %d downsampling\n", net.Len(), net.DownsamplingLayers())
	if *writeArch != "" {
		if err := layers.WriteArchitectureFile(*writeArch, fn.Architecture()); err != nil {
			return err
		}
		logger.Printf("wrote architecture to %s", *writeArch)
	}

	if err := dryRun(fn, params); err != nil {
		return err
	}

	if fn.Mode() == engine.ModeTrain {
		schedule, err := training.NewSchedule(*datasetSize, params.BatchSize, params.NumEpochs, params.CheckpointEveryNEpochs)
		if err != nil {
			return err
		}
		fmt.Printf("\nSchedule: %s\n", schedule)
		fmt.Printf("Checkpoint steps: %v\n", schedule.CheckpointSteps())
	}

	if *ckptDir != "" {
		return runSynthetic(params, arch, fn, logger)
	}
	return nil
}

func loadParams() (training.RunParams, error) {
	if *paramsPath != "" {
		return training.LoadRunParams(*paramsPath)
	}
	params := training.DefaultRunParams()
	params.NumClasses = *numClasses
	return params, params.Validate()
}

func loadArchitecture(registry *archstore.Store) (layers.Architecture, error) {
	switch {
	case *archPath != "":
		return layers.ReadArchitectureFile(*archPath)
	case *archName != "":
		if registry == nil {
			return nil, fmt.Errorf("-arch-name needs -archdb")
		}
		rec, err := registry.Get(*archName)
		if err != nil {
			return nil, err
		}
		return rec.Architecture, nil
	default:
		return layers.CNNMDLSTM(*filters)
	}
}

// dryRun invokes the model function once in its configured mode on symbolic inputs.
func dryRun(fn *training.ModelFn, params training.RunParams) error {
	b := symbolic.New()
	batch := params.BatchSize
	images := symbolic.Placeholder(batch, params.DesiredImageWidth, params.DesiredImageHeight, 1)

	seqLens := make([]int32, batch)
	labels := make([][]int32, batch)
	for i := range seqLens {
		seqLens[i] = int32(params.DesiredImageWidth - i)
		if seqLens[i] < 1 {
			seqLens[i] = 1
		}
		labels[i] = []int32{0}
	}

	mode := fn.Mode()
	out, err := fn.Invoke(b, training.Features{Images: images, SeqLens: seqLens}, labels)
	if err != nil {
		return fmt.Errorf("%s: %w", mode, err)
	}
	fmt.Printf("\n[%s] %d backend calls, output lengths %v\n", mode, len(b.Calls()), out.SequenceLengths)
	fmt.Print(engine.FormatTrace(out.Trace))
	if out.EvalMetrics != nil {
		fmt.Printf("metrics: %s\n", training.FormatMetrics(out.EvalMetrics))
	}
	return nil
}

// syntheticDataset yields random images with short random labels.
type syntheticDataset struct {
	examples []*training.Example
}

func newSyntheticDataset(n int, params training.RunParams, rng *rand.Rand) *syntheticDataset {
	shape := []int{params.DesiredImageWidth, params.DesiredImageHeight, 1}
	ds := &syntheticDataset{}
	for i := 0; i < n; i++ {
		image := make([]float32, params.DesiredImageWidth*params.DesiredImageHeight)
		for j := range image {
			image[j] = rng.Float32()
		}
		label := make([]int32, 1+rng.Intn(3))
		for j := range label {
			label[j] = int32(rng.Intn(params.NumClasses - 1))
		}
		ds.examples = append(ds.examples, &training.Example{Image: image, Shape: shape, Label: label})
	}
	return ds
}

func (d *syntheticDataset) Len() int {
	return len(d.examples)
}

func (d *syntheticDataset) Get(idx int) (*training.Example, error) {
	if idx < 0 || idx >= len(d.examples) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.examples))
	}
	return d.examples[idx], nil
}

// runSynthetic runs the configured mode on synthetic data against the
// checkpoint directory. Training continues after any checkpoint already there.
func runSynthetic(params training.RunParams, arch layers.Architecture, fn *training.ModelFn, logger *log.Logger) error {
	store, err := checkpoints.Open(*ckptDir)
	if err != nil {
		return err
	}
	manifest, err := store.LoadManifest()
	if errors.Is(err, os.ErrNotExist) && fn.Mode() == engine.ModeTrain {
		if manifest, err = checkpoints.NewManifest(params); err == nil {
			err = store.SaveManifest(manifest)
		}
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	estimator := &training.LocalEstimator{
		ModelFn:     fn,
		Backend:     symbolic.New(),
		Checkpoints: store,
		Logger:      logger,
		Verbose:     *verbose,
	}
	driver, err := training.NewDriver(params, arch, estimator, store, training.DriverConfig{Seed: *seed, Logger: logger})
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(*seed))
	train := newSyntheticDataset(*datasetSize, params, rng)
	eval := newSyntheticDataset(params.BatchSize, params, rng)
	result, err := driver.Run(context.Background(), train, eval)
	if err != nil {
		return err
	}

	switch result.Mode {
	case engine.ModeEval:
		fmt.Printf("\nEvaluation over %d batches: loss=%.4f %s\n",
			result.Eval.Batches, result.Eval.Loss, training.FormatMetrics(result.Eval.Metrics))
		return nil
	case engine.ModePredict:
		for i, row := range result.Predict.Decoded {
			fmt.Printf("example %d: %v\n", i, row)
		}
		return nil
	}

	snapshot, err := store.Snapshot(result.Train.GlobalStep)
	if err != nil {
		return err
	}
	path := filepath.Join(store.Dir(), "snapshot.pb")
	if err := checkpoints.NewCheckpointSaver(checkpoints.FormatProto).Save(snapshot, path); err != nil {
		return err
	}
	fmt.Printf("\nRun %s: %d steps to global step %d, checkpoints at %v, snapshot %s\n",
		manifest.RunID, result.Train.Steps, result.Train.GlobalStep, result.Train.CheckpointSteps, path)
	return nil
}
