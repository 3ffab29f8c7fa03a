package app_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/adapters/logger"
	"github.com/loomworks/loom/internal/app"
	"github.com/loomworks/loom/internal/core/domain"
)

const baselineTask = `id: demo
query: what do the sources say
mode: baseline
sources:
  - type: dir
    path: src
bundle:
  strategy: line_window
  max_chars: 200
limits:
  max_root_iters: 10
  max_stdout_chars: 2000
outputs:
  final_path: final.txt
steps:
  - mem set seen "$(chunk c000000)"
  - finalize done
trace:
  path: trace.jsonl
  redaction: none
`

const subcallsTask = `id: demo
query: summarize
mode: subcalls
sources:
  - type: dir
    path: src
bundle:
  strategy: line_window
  max_chars: 200
policy:
  primary: alpha
  allowed:
    - alpha
limits:
  max_root_iters: 10
  max_stdout_chars: 2000
  max_subcalls_per_iter: 2
  max_subcalls_total: 5
  subcall_retries: 1
outputs:
  final_path: final.txt
steps:
  - call describe c000000
  - finalize done
trace:
  path: trace.jsonl
  redaction: none
`

func newApp(t *testing.T) *app.App {
	t.Helper()
	log := logger.New()
	log.SetOutput(io.Discard)
	return app.New(log)
}

func writeWorkspace(t *testing.T, taskDoc string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	taskPath := filepath.Join(dir, "task.yaml")
	require.NoError(t, os.WriteFile(taskPath, []byte(taskDoc), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "a.txt"), []byte("alpha\nbeta\n"), 0o644))
	return dir, taskPath
}

func TestRun_BaselineEndToEnd(t *testing.T) {
	dir, taskPath := writeWorkspace(t, baselineTask)
	runDir := filepath.Join(dir, "run")

	summary, err := newApp(t).Run(context.Background(), app.RunOptions{
		TaskPath: taskPath,
		RunDir:   runDir,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, summary.Status)
	assert.Equal(t, domain.ReasonFinalized, summary.StopReason)
	assert.Equal(t, 2, summary.Iterations)

	final, err := os.ReadFile(filepath.Join(runDir, "final.txt"))
	require.NoError(t, err)
	assert.Equal(t, "done\n", string(final))
}

func TestRun_SubcallsRequiresCacheMode(t *testing.T) {
	_, taskPath := writeWorkspace(t, subcallsTask)

	_, err := newApp(t).Run(context.Background(), app.RunOptions{TaskPath: taskPath})
	assert.ErrorIs(t, err, domain.ErrCacheModeRequired)
}

func TestRun_SubcallsWithProviderRegistry(t *testing.T) {
	dir, taskPath := writeWorkspace(t, subcallsTask)
	registry := "providers:\n  alpha:\n    kind: echo\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "providers.yaml"), []byte(registry), 0o644))
	runDir := filepath.Join(dir, "run")

	summary, err := newApp(t).Run(context.Background(), app.RunOptions{
		TaskPath:     taskPath,
		RunDir:       runDir,
		CacheMode:    "readwrite",
		CacheModeSet: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, summary.Status)
	assert.Equal(t, 1, summary.SubcallsTotal)

	_, err = os.Stat(filepath.Join(runDir, "cache.jsonl"))
	assert.NoError(t, err)
}

func TestRun_SecondStartNeedsFresh(t *testing.T) {
	dir, taskPath := writeWorkspace(t, baselineTask)
	runDir := filepath.Join(dir, "run")
	a := newApp(t)

	_, err := a.Run(context.Background(), app.RunOptions{TaskPath: taskPath, RunDir: runDir})
	require.NoError(t, err)

	_, err = a.Run(context.Background(), app.RunOptions{TaskPath: taskPath, RunDir: runDir})
	assert.ErrorIs(t, err, domain.ErrRunExists)

	summary, err := a.Run(context.Background(), app.RunOptions{TaskPath: taskPath, RunDir: runDir, Fresh: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, summary.Status)
}

func TestStep_RunStateContract(t *testing.T) {
	dir, taskPath := writeWorkspace(t, baselineTask)
	runDir := filepath.Join(dir, "run")
	a := newApp(t)

	_, err := a.Step(context.Background(), app.AttachOptions{RunDir: runDir})
	assert.ErrorIs(t, err, domain.ErrNoRunState)

	_, err = a.Run(context.Background(), app.RunOptions{TaskPath: taskPath, RunDir: runDir})
	require.NoError(t, err)

	// A completed run cannot be stepped further.
	_, err = a.Step(context.Background(), app.AttachOptions{RunDir: runDir})
	assert.ErrorIs(t, err, domain.ErrRunNotResumable)
}

func TestReplay_TwoIdenticalRunsMatch(t *testing.T) {
	dir, taskPath := writeWorkspace(t, baselineTask)
	a := newApp(t)

	runA := filepath.Join(dir, "run-a")
	runB := filepath.Join(dir, "run-b")
	_, err := a.Run(context.Background(), app.RunOptions{TaskPath: taskPath, RunDir: runA})
	require.NoError(t, err)
	_, err = a.Run(context.Background(), app.RunOptions{TaskPath: taskPath, RunDir: runB})
	require.NoError(t, err)

	report, err := a.Replay(runA, runB)
	require.NoError(t, err)
	assert.True(t, report.Match)
}

func TestBuildBundle_Standalone(t *testing.T) {
	dir, taskPath := writeWorkspace(t, baselineTask)

	summary, err := newApp(t).BuildBundle(taskPath, filepath.Join(dir, "bundles"))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Chunks)
	assert.NotEmpty(t, summary.Fingerprint)
	assert.DirExists(t, summary.Dir)
}

func TestRun_InvalidTask(t *testing.T) {
	dir := t.TempDir()
	taskPath := filepath.Join(dir, "task.yaml")
	require.NoError(t, os.WriteFile(taskPath, []byte("id: x\n"), 0o644))

	_, err := newApp(t).Run(context.Background(), app.RunOptions{TaskPath: taskPath})
	assert.ErrorIs(t, err, domain.ErrTaskInvalid)
}
