package scheduler

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/pulsecoach/pulse-coach-app/internal/plan"
)

// PersistenceError reports a failed checkpoint read or write. It degrades
// crash recovery but never fails the live session; callers log it and
// carry on.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("checkpoint: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Checkpoint is the minimal record needed to resume a mid-flight session
// after a process restart. The full plan is embedded so resumption does
// not depend on the plan store still containing it.
type Checkpoint struct {
	Plan             plan.TrainingPlan `json:"plan"`
	PhaseIndex       int               `json:"phase_index"`
	PhaseElapsedSecs uint32            `json:"phase_elapsed_secs"`
	TotalElapsedSecs uint32            `json:"total_elapsed_secs"`
	Paused           bool              `json:"paused"`
	SavedAt          time.Time         `json:"saved_at"`
}

// CheckpointStore persists checkpoints at a fixed path. Writes go through
// a temp file and an atomic rename so a crash can never leave a
// half-written checkpoint behind. Writers are already serialized by the
// tick loop.
type CheckpointStore struct {
	path   string
	logger *log.Logger
}

func NewCheckpointStore(logger *log.Logger, path string) *CheckpointStore {
	if logger == nil {
		panic("scheduler.CheckpointStore: logger cannot be nil")
	}
	if path == "" {
		panic("scheduler.CheckpointStore: path cannot be empty")
	}
	return &CheckpointStore{path: path, logger: logger}
}

// Save writes the checkpoint atomically.
func (s *CheckpointStore) Save(cp Checkpoint) error {
	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "marshal", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return &PersistenceError{Op: "mkdir", Err: err}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return &PersistenceError{Op: "write", Err: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return &PersistenceError{Op: "rename", Err: err}
	}
	return nil
}

// Load reads the checkpoint, returning nil when none exists. A corrupt
// checkpoint is reported but also removed so it cannot wedge every
// subsequent start.
func (s *CheckpointStore) Load() (*Checkpoint, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &PersistenceError{Op: "read", Err: err}
	}

	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		s.logger.Printf("Checkpoint: discarding corrupt file %s: %v", s.path, err)
		_ = os.Remove(s.path)
		return nil, &PersistenceError{Op: "unmarshal", Err: err}
	}
	if err := cp.Plan.Validate(); err != nil {
		s.logger.Printf("Checkpoint: discarding file with invalid plan: %v", err)
		_ = os.Remove(s.path)
		return nil, &PersistenceError{Op: "validate", Err: err}
	}
	return &cp, nil
}

// Clear removes any existing checkpoint. Missing files are fine.
func (s *CheckpointStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return &PersistenceError{Op: "remove", Err: err}
	}
	return nil
}
