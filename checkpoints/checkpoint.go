// Package checkpoints persists per-model training snapshots and maintains the
// "latest" pointer that always references the most recent main-model
// checkpoint.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// latestName is the pointer file kept at the save-directory root.
const latestName = "latest.json"

// OptimizerState is the serializable state of an optimizer.
type OptimizerState struct {
	Type       string             `json:"type"`
	LR         float64            `json:"lr"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
	Buffers    []StateTensor      `json:"buffers,omitempty"`
}

// SchedulerState is the serializable state of a learning-rate scheduler.
type SchedulerState struct {
	Type   string             `json:"type"`
	Values map[string]float64 `json:"values,omitempty"`
}

// StateTensor is a named flat buffer (momentum, variance, ...).
type StateTensor struct {
	Name string    `json:"name"`
	Data []float32 `json:"data"`
}

// Metadata identifies the writer of a checkpoint.
type Metadata struct {
	Framework string    `json:"framework"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// Checkpoint is one model's snapshot at an epoch boundary. Epoch is stored
// one-based: the value is the last fully completed epoch plus one, which is
// the epoch training resumes from.
type Checkpoint struct {
	Weights        map[string][]float32 `json:"state_dict"`
	Epoch          int                  `json:"epoch"`
	OptimizerState *OptimizerState      `json:"optimizer,omitempty"`
	SchedulerState *SchedulerState      `json:"scheduler,omitempty"`
	NumClasses     int                  `json:"num_classes"`
	ClassMap       map[string]int       `json:"classes_map,omitempty"`
	RunInfo        map[string]string    `json:"run_info,omitempty"`
	InitialLR      float64              `json:"initial_lr,omitempty"`
	Metadata       Metadata             `json:"metadata"`
}

// Manager writes checkpoints under a save directory, one subdirectory per
// model name, and keeps the latest pointer for the main model.
type Manager struct {
	dir string
}

// NewManager creates a Manager rooted at dir. The directory is created on the
// first save.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

// Dir returns the save-directory root.
func (m *Manager) Dir() string { return m.dir }

// Save writes one model's checkpoint. isBest additionally copies it to a
// stable best path; isMain replaces the latest pointer. Returns the
// checkpoint path. A failed save must abort the run, so every error here is
// fatal to the caller.
func (m *Manager) Save(name string, ckpt *Checkpoint, isBest, isMain bool) (string, error) {
	if ckpt.Metadata.Framework == "" {
		ckpt.Metadata = Metadata{
			Framework: "deep-object-reid",
			Version:   "1.0.0",
			CreatedAt: time.Now(),
		}
	}

	modelDir := filepath.Join(m.dir, name)
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return "", fmt.Errorf("create checkpoint directory: %w", err)
	}

	path := filepath.Join(modelDir, fmt.Sprintf("checkpoint-%d.json", ckpt.Epoch))
	if err := writeJSON(path, ckpt); err != nil {
		return "", err
	}

	if isBest {
		if err := writeJSON(filepath.Join(modelDir, "best.json"), ckpt); err != nil {
			return "", err
		}
	}

	if isMain {
		if err := m.replaceLatest(path); err != nil {
			return "", err
		}
	}
	return path, nil
}

// replaceLatest points the latest file at target by removing any existing
// pointer and recreating it. The two steps are not atomic; a crash in between
// leaves no pointer until the next save, which is accepted.
func (m *Manager) replaceLatest(target string) error {
	latest := filepath.Join(m.dir, latestName)
	if _, err := os.Lstat(latest); err == nil {
		if err := os.Remove(latest); err != nil {
			return fmt.Errorf("remove latest pointer: %w", err)
		}
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("resolve checkpoint path: %w", err)
	}
	if err := os.Symlink(abs, latest); err != nil {
		return fmt.Errorf("create latest pointer: %w", err)
	}
	return nil
}

// Latest resolves the latest pointer to a checkpoint path.
func (m *Manager) Latest() (string, error) {
	target, err := os.Readlink(filepath.Join(m.dir, latestName))
	if err != nil {
		return "", fmt.Errorf("read latest pointer: %w", err)
	}
	return target, nil
}

// Load reads a checkpoint from path.
func Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer file.Close()

	var ckpt Checkpoint
	if err := json.NewDecoder(file).Decode(&ckpt); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &ckpt, nil
}

// InitialLR reads the initial learning rate recorded in a checkpoint. An
// empty path yields zero without error, so callers can pass an optional
// resume path straight through.
func InitialLR(path string) (float64, error) {
	if path == "" {
		return 0, nil
	}
	ckpt, err := Load(path)
	if err != nil {
		return 0, err
	}
	return ckpt.InitialLR, nil
}

func writeJSON(path string, ckpt *Checkpoint) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint file: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ckpt); err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return nil
}
