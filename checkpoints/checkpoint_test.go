package checkpoints

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/tsawler/go-htr/layers"
)

func testArchitecture(t *testing.T) layers.Architecture {
	t.Helper()
	arch, err := layers.NewModelBuilder().
		AddConv2D(8, 3, "conv1").
		AddMaxPool2D(2, 2, layers.RoundCeil, "pool1").
		AddDropout(0.25, "drop").
		AddCollapseToSequence("collapse").
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return arch
}

func canonical(t *testing.T, arch layers.Architecture) string {
	t.Helper()
	data, err := arch.MarshalCanonical()
	if err != nil {
		t.Fatalf("MarshalCanonical failed: %v", err)
	}
	return string(data)
}

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "model"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return store
}

func TestCheckpointSaverRoundTrip(t *testing.T) {
	for _, format := range []CheckpointFormat{FormatJSON, FormatProto} {
		t.Run(format.String(), func(t *testing.T) {
			arch := testArchitecture(t)
			path := filepath.Join(t.TempDir(), "snapshot")
			saver := NewCheckpointSaver(format)

			snapshot := &Snapshot{
				Architecture:  arch,
				TrainingState: TrainingState{Step: 30, TotalSteps: 90, Loss: 1.5},
				Metadata:      SnapshotMetadata{RunID: "run", Description: "test"},
			}
			if err := saver.Save(snapshot, path); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			loaded, err := saver.Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.TrainingState != snapshot.TrainingState {
				t.Errorf("expected training state %+v, got %+v", snapshot.TrainingState, loaded.TrainingState)
			}
			if loaded.Metadata.RunID != "run" || loaded.Metadata.Framework != frameworkName {
				t.Errorf("unexpected metadata %+v", loaded.Metadata)
			}
			if canonical(t, arch) != canonical(t, loaded.Architecture) {
				t.Errorf("architecture changed in round trip:\n%s", canonical(t, loaded.Architecture))
			}
		})
	}

	t.Run("unknown format", func(t *testing.T) {
		saver := NewCheckpointSaver(CheckpointFormat(7))
		err := saver.Save(&Snapshot{}, filepath.Join(t.TempDir(), "x"))
		if err == nil || !strings.Contains(err.Error(), "Unknown") {
			t.Errorf("expected unsupported format error, got %v", err)
		}
	})
}

func TestArchitectureProtoIsDeterministic(t *testing.T) {
	arch, err := layers.CNNMDLSTM(4)
	if err != nil {
		t.Fatalf("CNNMDLSTM failed: %v", err)
	}

	first, err := MarshalArchitectureProto(arch)
	if err != nil {
		t.Fatalf("MarshalArchitectureProto failed: %v", err)
	}
	second, err := MarshalArchitectureProto(arch.Clone())
	if err != nil {
		t.Fatalf("MarshalArchitectureProto failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("equal architectures encoded to different bytes")
	}

	decoded, err := UnmarshalArchitectureProto(first)
	if err != nil {
		t.Fatalf("UnmarshalArchitectureProto failed: %v", err)
	}
	if canonical(t, arch) != canonical(t, decoded) {
		t.Error("architecture changed in proto round trip")
	}

	if _, err := UnmarshalArchitectureProto([]byte{0xff, 0x01}); err == nil {
		t.Error("expected error for malformed proto")
	}
}

func TestStoreArchitecture(t *testing.T) {
	t.Run("persisted in both encodings", func(t *testing.T) {
		store := openStore(t)
		arch := testArchitecture(t)
		if err := store.SaveArchitecture(arch); err != nil {
			t.Fatalf("SaveArchitecture failed: %v", err)
		}
		for _, name := range []string{ArchitectureFile, ArchitectureProtoFile} {
			if _, err := os.Stat(filepath.Join(store.Dir(), name)); err != nil {
				t.Errorf("expected %s: %v", name, err)
			}
		}

		loaded, err := store.LoadArchitecture()
		if err != nil {
			t.Fatalf("LoadArchitecture failed: %v", err)
		}
		if canonical(t, arch) != canonical(t, loaded) {
			t.Error("architecture changed on disk")
		}
	})

	t.Run("falls back to the proto copy", func(t *testing.T) {
		store := openStore(t)
		arch := testArchitecture(t)
		if err := store.SaveArchitecture(arch); err != nil {
			t.Fatalf("SaveArchitecture failed: %v", err)
		}
		if err := os.Remove(filepath.Join(store.Dir(), ArchitectureFile)); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		loaded, err := store.LoadArchitecture()
		if err != nil {
			t.Fatalf("LoadArchitecture failed: %v", err)
		}
		if canonical(t, arch) != canonical(t, loaded) {
			t.Error("proto copy decoded to a different architecture")
		}
	})

	t.Run("missing", func(t *testing.T) {
		if _, err := openStore(t).LoadArchitecture(); err == nil {
			t.Error("expected error for an empty directory")
		}
	})

	t.Run("empty directory name", func(t *testing.T) {
		if _, err := Open(""); err == nil {
			t.Error("expected error for empty directory name")
		}
	})
}

func TestStoreCheckpoints(t *testing.T) {
	store := openStore(t)

	if _, err := store.Latest(); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint, got %v", err)
	}
	step, err := store.LatestStep()
	if err != nil || step != 0 {
		t.Fatalf("expected step 0 without checkpoints, got %d (%v)", step, err)
	}

	if err := store.RecordCheckpoint(3, 2.5); err != nil {
		t.Fatalf("RecordCheckpoint failed: %v", err)
	}
	if err := store.RecordCheckpoint(6, 1.25); err != nil {
		t.Fatalf("RecordCheckpoint failed: %v", err)
	}
	if err := store.RecordCheckpoint(6, 1.0); err == nil {
		t.Error("expected error for a step that does not advance")
	}

	latest, err := store.Latest()
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.Step != 6 || latest.Loss != 1.25 {
		t.Errorf("unexpected latest checkpoint %+v", latest)
	}
	if step, _ := store.LatestStep(); step != 6 {
		t.Errorf("expected latest step 6, got %d", step)
	}

	entries, err := store.Checkpoints()
	if err != nil {
		t.Fatalf("Checkpoints failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Step != 3 {
		t.Errorf("unexpected entries %+v", entries)
	}

	t.Run("corrupt index", func(t *testing.T) {
		store := openStore(t)
		if err := os.WriteFile(filepath.Join(store.Dir(), IndexFile), []byte("{"), 0644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		if _, err := store.LatestStep(); err == nil {
			t.Error("expected error for a corrupt index")
		}
	})
}

func TestStoreManifestAndSnapshot(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		store := openStore(t)
		if err := store.SaveArchitecture(testArchitecture(t)); err != nil {
			t.Fatalf("SaveArchitecture failed: %v", err)
		}
		manifest, err := NewManifest(map[string]int{"batch_size": 2})
		if err != nil {
			t.Fatalf("NewManifest failed: %v", err)
		}
		if err := store.SaveManifest(manifest); err != nil {
			t.Fatalf("SaveManifest failed: %v", err)
		}

		loaded, err := store.LoadManifest()
		if err != nil {
			t.Fatalf("LoadManifest failed: %v", err)
		}
		if loaded.RunID != manifest.RunID {
			t.Errorf("expected run id %s, got %s", manifest.RunID, loaded.RunID)
		}
		var params map[string]int
		if err := json.Unmarshal(loaded.Params, &params); err != nil || params["batch_size"] != 2 {
			t.Errorf("unexpected params %s (%v)", loaded.Params, err)
		}

		if err := store.RecordCheckpoint(4, 0.5); err != nil {
			t.Fatalf("RecordCheckpoint failed: %v", err)
		}
		snap, err := store.Snapshot(8)
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if snap.TrainingState != (TrainingState{Step: 4, TotalSteps: 8, Loss: 0.5}) {
			t.Errorf("unexpected training state %+v", snap.TrainingState)
		}
		if snap.Metadata.RunID != manifest.RunID {
			t.Errorf("snapshot missing run id")
		}
	})

	t.Run("snapshot without manifest", func(t *testing.T) {
		store := openStore(t)
		if err := store.SaveArchitecture(testArchitecture(t)); err != nil {
			t.Fatalf("SaveArchitecture failed: %v", err)
		}
		snap, err := store.Snapshot(1)
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if snap.Metadata.RunID != "" || snap.TrainingState.Step != 0 {
			t.Errorf("unexpected snapshot %+v", snap)
		}
	})

	t.Run("snapshot reports a corrupt manifest", func(t *testing.T) {
		store := openStore(t)
		if err := store.SaveArchitecture(testArchitecture(t)); err != nil {
			t.Fatalf("SaveArchitecture failed: %v", err)
		}
		if err := os.WriteFile(filepath.Join(store.Dir(), ManifestFile), []byte("not json"), 0644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		if _, err := store.Snapshot(1); err == nil || !strings.Contains(err.Error(), "manifest") {
			t.Errorf("expected manifest decode error, got %v", err)
		}
	})

	t.Run("invalid run id", func(t *testing.T) {
		if err := openStore(t).SaveManifest(&Manifest{RunID: "nope"}); err == nil {
			t.Error("expected error for a malformed run id")
		}
	})
}
