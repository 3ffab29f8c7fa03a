package trace_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/adapters/state"
	"github.com/loomworks/loom/internal/adapters/trace"
	"github.com/loomworks/loom/internal/core/domain"
)

// fakeRun lays out a finished run directory: executor state, trace log and
// final artifact.
func fakeRun(t *testing.T, hashes []string, artifact string) string {
	t.Helper()
	dir := t.TempDir()

	log := trace.NewLog(filepath.Join(dir, "trace.jsonl"), domain.RedactNone)
	for i, h := range hashes {
		require.NoError(t, log.Append(domain.TraceEvent{
			Kind:         domain.TraceSubcall,
			Iteration:    i + 1,
			ResponseHash: h,
		}))
	}
	require.NoError(t, log.Append(domain.TraceEvent{Kind: domain.TraceStop, Status: domain.StatusCompleted}))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "final.txt"), []byte(artifact), 0o644))
	require.NoError(t, state.SaveExecutorState(dir, &domain.ExecutorState{
		RunID:             "run",
		TracePath:         "trace.jsonl",
		Status:            domain.StatusCompleted,
		FinalArtifactPath: "final.txt",
	}))
	return dir
}

func TestCompare_IdenticalRuns(t *testing.T) {
	a := fakeRun(t, []string{"h1", "h2"}, "done\n")
	b := fakeRun(t, []string{"h1", "h2"}, "done\n")

	report, err := trace.Compare(a, b)
	require.NoError(t, err)
	assert.True(t, report.Match)
	assert.Empty(t, report.Mismatches)
	assert.Equal(t, 2, report.SubcallsA)
	assert.Equal(t, 2, report.SubcallsB)
}

func TestCompare_SubcallDivergence(t *testing.T) {
	a := fakeRun(t, []string{"h1", "h2"}, "done\n")
	b := fakeRun(t, []string{"h1", "zz"}, "done\n")

	report, err := trace.Compare(a, b)
	require.NoError(t, err)
	assert.False(t, report.Match)
	require.Len(t, report.Mismatches, 1)
	assert.Contains(t, report.Mismatches[0], "subcall[1]")
}

func TestCompare_ArtifactDivergence(t *testing.T) {
	a := fakeRun(t, []string{"h1"}, "done\n")
	b := fakeRun(t, []string{"h1"}, "different\n")

	report, err := trace.Compare(a, b)
	require.NoError(t, err)
	assert.False(t, report.Match)
	require.Len(t, report.Mismatches, 1)
	assert.Contains(t, report.Mismatches[0], "final artifact hash")
}

func TestCompare_SubcallCountDivergence(t *testing.T) {
	a := fakeRun(t, []string{"h1", "h2"}, "done\n")
	b := fakeRun(t, []string{"h1"}, "done\n")

	report, err := trace.Compare(a, b)
	require.NoError(t, err)
	assert.False(t, report.Match)
	assert.Contains(t, report.Mismatches[0], "subcall count")
}

func TestCompare_MissingRunState(t *testing.T) {
	a := fakeRun(t, nil, "done\n")
	_, err := trace.Compare(a, t.TempDir())
	assert.ErrorIs(t, err, domain.ErrNoRunState)
}
