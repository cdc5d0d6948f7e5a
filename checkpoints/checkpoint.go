package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tsawler/go-htr/layers"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatProto
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatProto:
		return "Proto"
	default:
		return "Unknown"
	}
}

// Snapshot is everything needed to rebuild a model's structure and resume its
// bookkeeping. Weights belong to the tensor runtime and are not stored here.
type Snapshot struct {
	Architecture  layers.Architecture `json:"architecture"`
	TrainingState TrainingState       `json:"training_state"`
	Metadata      SnapshotMetadata    `json:"metadata"`
}

// TrainingState captures the current training progress
type TrainingState struct {
	Step       int     `json:"step"`
	TotalSteps int     `json:"total_steps"`
	Loss       float64 `json:"loss"`
}

// SnapshotMetadata contains snapshot metadata
type SnapshotMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	RunID       string    `json:"run_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

const (
	frameworkName    = "go-htr"
	frameworkVersion = "1.0.0"
)

// CheckpointSaver handles saving snapshots in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{format: format}
}

// Save writes a snapshot to path
func (cs *CheckpointSaver) Save(snapshot *Snapshot, path string) error {
	if snapshot.Metadata.Framework == "" {
		snapshot.Metadata.Framework = frameworkName
		snapshot.Metadata.Version = frameworkVersion
		snapshot.Metadata.CreatedAt = time.Now().UTC()
	}
	switch cs.format {
	case FormatJSON:
		return cs.saveJSON(snapshot, path)
	case FormatProto:
		return cs.saveProto(snapshot, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// Load reads a snapshot from path
func (cs *CheckpointSaver) Load(path string) (*Snapshot, error) {
	switch cs.format {
	case FormatJSON:
		return cs.loadJSON(path)
	case FormatProto:
		return cs.loadProto(path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

func (cs *CheckpointSaver) saveJSON(snapshot *Snapshot, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshot); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}
	return nil
}

func (cs *CheckpointSaver) loadJSON(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var snapshot Snapshot
	decoder := json.NewDecoder(file)
	decoder.UseNumber()
	if err := decoder.Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}
	if err := snapshot.Architecture.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint architecture: %w", err)
	}
	return &snapshot, nil
}

func (cs *CheckpointSaver) saveProto(snapshot *Snapshot, path string) error {
	data, err := MarshalSnapshotProto(snapshot)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %v", err)
	}
	return nil
}

func (cs *CheckpointSaver) loadProto(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %v", err)
	}
	return UnmarshalSnapshotProto(data)
}
