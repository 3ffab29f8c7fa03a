// Package state persists runtime and executor state files for a run
// directory. Every write is atomic (temp file then rename), so a crash
// between steps loses at most the in-flight step.
package state

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"go.trai.ch/zerr"

	"github.com/loomworks/loom/internal/core/domain"
)

const (
	// RuntimeStateFile is owned exclusively by the execution runtime.
	RuntimeStateFile = "runtime_state.json"
	// ExecutorStateFile is owned exclusively by the executor.
	ExecutorStateFile = "executor_state.json"
	// StatusFile is the terminal status summary written on every stop.
	StatusFile = "status.json"
)

// SaveRuntimeState atomically rewrites the runtime state file.
func SaveRuntimeState(runDir string, st *domain.RuntimeState) error {
	return save(filepath.Join(runDir, RuntimeStateFile), st)
}

// LoadRuntimeState loads the runtime state file. Returns nil, nil when the
// file does not exist.
func LoadRuntimeState(runDir string) (*domain.RuntimeState, error) {
	var st domain.RuntimeState
	ok, err := load(filepath.Join(runDir, RuntimeStateFile), &st)
	if err != nil || !ok {
		return nil, err
	}
	return &st, nil
}

// SaveExecutorState atomically rewrites the executor state file.
func SaveExecutorState(runDir string, st *domain.ExecutorState) error {
	return save(filepath.Join(runDir, ExecutorStateFile), st)
}

// LoadExecutorState loads the executor state file. Returns nil, nil when the
// file does not exist.
func LoadExecutorState(runDir string) (*domain.ExecutorState, error) {
	var st domain.ExecutorState
	ok, err := load(filepath.Join(runDir, ExecutorStateFile), &st)
	if err != nil || !ok {
		return nil, err
	}
	return &st, nil
}

// SaveStatus writes the status summary file.
func SaveStatus(runDir string, v any) error {
	return save(filepath.Join(runDir, StatusFile), v)
}

func save(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return zerr.Wrap(err, "failed to marshal state")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return domain.Annotate(domain.ErrStateWriteFailed, "path", path)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil { //nolint:gosec
		return domain.Annotate(domain.ErrStateWriteFailed, "path", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return domain.Annotate(domain.ErrStateWriteFailed, "path", path)
	}
	return nil
}

func load(path string, v any) (bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path is derived from the run directory
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, domain.Annotate(domain.ErrStateReadFailed, "path", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, zerr.With(zerr.Wrap(err, "failed to unmarshal state"), "path", path)
	}
	return true, nil
}
