package training

import "fmt"

// Schedule converts epoch and batch counts into step counts.
type Schedule struct {
	DatasetSize             int
	BatchSize               int
	NumEpochs               int
	CheckpointEveryNEpochs  int
	StepsPerEpoch           int
	TotalSteps              int
	CheckpointIntervalSteps int
}

// NewSchedule computes
//
//	stepsPerEpoch           = floor(datasetSize / batchSize)
//	totalSteps              = numEpochs * stepsPerEpoch
//	checkpointIntervalSteps = checkpointEveryNEpochs * stepsPerEpoch
func NewSchedule(datasetSize, batchSize, numEpochs, checkpointEveryNEpochs int) (Schedule, error) {
	if batchSize < 1 {
		return Schedule{}, fmt.Errorf("batch size must be at least 1, got %d", batchSize)
	}
	if numEpochs < 1 {
		return Schedule{}, fmt.Errorf("num epochs must be at least 1, got %d", numEpochs)
	}
	if checkpointEveryNEpochs < 1 {
		return Schedule{}, fmt.Errorf("checkpoint interval must be at least 1 epoch, got %d", checkpointEveryNEpochs)
	}
	stepsPerEpoch := datasetSize / batchSize
	if stepsPerEpoch < 1 {
		return Schedule{}, fmt.Errorf("dataset of %d examples is smaller than batch size %d", datasetSize, batchSize)
	}
	return Schedule{
		DatasetSize:             datasetSize,
		BatchSize:               batchSize,
		NumEpochs:               numEpochs,
		CheckpointEveryNEpochs:  checkpointEveryNEpochs,
		StepsPerEpoch:           stepsPerEpoch,
		TotalSteps:              numEpochs * stepsPerEpoch,
		CheckpointIntervalSteps: checkpointEveryNEpochs * stepsPerEpoch,
	}, nil
}

// CheckpointSteps lists the steps after which a checkpoint is recorded.
// The final step is always included.
func (s Schedule) CheckpointSteps() []int {
	var steps []int
	for step := s.CheckpointIntervalSteps; step <= s.TotalSteps; step += s.CheckpointIntervalSteps {
		steps = append(steps, step)
	}
	if len(steps) == 0 || steps[len(steps)-1] != s.TotalSteps {
		steps = append(steps, s.TotalSteps)
	}
	return steps
}

func (s Schedule) String() string {
	return fmt.Sprintf("%d examples, batch %d: %d steps/epoch x %d epochs = %d steps, checkpoint every %d steps",
		s.DatasetSize, s.BatchSize, s.StepsPerEpoch, s.NumEpochs, s.TotalSteps, s.CheckpointIntervalSteps)
}
