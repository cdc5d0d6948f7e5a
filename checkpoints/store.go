package checkpoints

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tsawler/go-htr/layers"
)

// File names inside a checkpoint directory.
const (
	ArchitectureFile      = "architecture.json"
	ArchitectureProtoFile = "architecture.pb"
	ManifestFile          = "run.json"
	IndexFile             = "checkpoints.json"
)

// ErrNoCheckpoint is returned by Latest when nothing has been recorded.
var ErrNoCheckpoint = errors.New("no checkpoint recorded")

// Store manages the bookkeeping files of one checkpoint directory. The tensor
// runtime writes its own weight files to the same directory.
type Store struct {
	dir string
	now func() time.Time
}

// Open creates dir if needed and returns its store.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("checkpoint directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %v", err)
	}
	return &Store{dir: dir, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Dir returns the checkpoint directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// writeFile replaces name atomically.
func (s *Store) writeFile(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %v", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %v", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %v", name, err)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace %s: %v", name, err)
	}
	return nil
}

// SaveArchitecture writes the canonical JSON and the protobuf form of arch.
func (s *Store) SaveArchitecture(arch layers.Architecture) error {
	data, err := arch.MarshalCanonical()
	if err != nil {
		return err
	}
	pb, err := MarshalArchitectureProto(arch)
	if err != nil {
		return err
	}
	if err := s.writeFile(ArchitectureFile, data); err != nil {
		return err
	}
	return s.writeFile(ArchitectureProtoFile, pb)
}

// LoadArchitecture reads the JSON copy, falling back to the protobuf copy.
func (s *Store) LoadArchitecture() (layers.Architecture, error) {
	data, err := os.ReadFile(s.path(ArchitectureFile))
	if err == nil {
		return layers.LoadArchitecture(bytes.NewReader(data))
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read architecture: %v", err)
	}
	pb, err := os.ReadFile(s.path(ArchitectureProtoFile))
	if err != nil {
		return nil, fmt.Errorf("no architecture in %s: %w", s.dir, err)
	}
	return UnmarshalArchitectureProto(pb)
}

// Manifest identifies one run and the parameters it was started with.
type Manifest struct {
	RunID     string          `json:"run_id"`
	CreatedAt time.Time       `json:"created_at"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// NewManifest assigns a fresh run id and records params as JSON.
func NewManifest(params interface{}) (*Manifest, error) {
	m := &Manifest{RunID: uuid.New().String(), CreatedAt: time.Now().UTC()}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode run params: %v", err)
		}
		m.Params = data
	}
	return m, nil
}

// SaveManifest writes the run manifest.
func (s *Store) SaveManifest(m *Manifest) error {
	if _, err := uuid.Parse(m.RunID); err != nil {
		return fmt.Errorf("invalid run id %q: %v", m.RunID, err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %v", err)
	}
	return s.writeFile(ManifestFile, append(data, '\n'))
}

// LoadManifest reads the run manifest.
func (s *Store) LoadManifest() (*Manifest, error) {
	data, err := os.ReadFile(s.path(ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %v", err)
	}
	return &m, nil
}

// Entry is one recorded checkpoint.
type Entry struct {
	Step       int       `json:"step"`
	Loss       float64   `json:"loss"`
	RecordedAt time.Time `json:"recorded_at"`
}

type index struct {
	Entries []Entry `json:"entries"`
}

func (s *Store) loadIndex() (*index, error) {
	data, err := os.ReadFile(s.path(IndexFile))
	if errors.Is(err, os.ErrNotExist) {
		return &index{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint index: %v", err)
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint index: %v", err)
	}
	return &idx, nil
}

// RecordCheckpoint appends a checkpoint marker. Steps must increase.
func (s *Store) RecordCheckpoint(step int, loss float64) error {
	idx, err := s.loadIndex()
	if err != nil {
		return err
	}
	if n := len(idx.Entries); n > 0 && idx.Entries[n-1].Step >= step {
		return fmt.Errorf("checkpoint step %d does not follow step %d", step, idx.Entries[n-1].Step)
	}
	idx.Entries = append(idx.Entries, Entry{Step: step, Loss: loss, RecordedAt: s.now()})

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint index: %v", err)
	}
	return s.writeFile(IndexFile, append(data, '\n'))
}

// Checkpoints returns every recorded checkpoint in step order.
func (s *Store) Checkpoints() ([]Entry, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	return idx.Entries, nil
}

// Latest returns the most recent checkpoint or ErrNoCheckpoint.
func (s *Store) Latest() (Entry, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return Entry{}, err
	}
	if len(idx.Entries) == 0 {
		return Entry{}, ErrNoCheckpoint
	}
	return idx.Entries[len(idx.Entries)-1], nil
}

// LatestStep returns the step of the most recent checkpoint, or 0 when none
// has been recorded. Training resumes after this step.
func (s *Store) LatestStep() (int, error) {
	latest, err := s.Latest()
	if errors.Is(err, ErrNoCheckpoint) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return latest.Step, nil
}

// Snapshot assembles a snapshot of the stored architecture and the latest checkpoint.
func (s *Store) Snapshot(totalSteps int) (*Snapshot, error) {
	arch, err := s.LoadArchitecture()
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Architecture: arch, TrainingState: TrainingState{TotalSteps: totalSteps}}
	if latest, err := s.Latest(); err == nil {
		snap.TrainingState.Step = latest.Step
		snap.TrainingState.Loss = latest.Loss
	} else if !errors.Is(err, ErrNoCheckpoint) {
		return nil, err
	}
	m, err := s.LoadManifest()
	switch {
	case err == nil:
		snap.Metadata.RunID = m.RunID
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}
	return snap, nil
}
