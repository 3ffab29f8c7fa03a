package runtime_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/adapters/bundle"
	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/engine/runtime"
)

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func buildBundle(t *testing.T, root string, out string, files map[string]string) string {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, writeFile(path, content))
	}
	task := &domain.Task{
		ID:      "t",
		Sources: []domain.ContextSource{{Type: domain.SourceDir, Path: "src"}},
		Bundle:  domain.BundleSpec{Strategy: bundle.StrategyLineWindow, MaxChars: 200},
	}
	dir, err := bundle.NewBuilder(nil).Build(task, root, out)
	require.NoError(t, err)
	return dir
}

func newTestRuntime(t *testing.T, maxStdout int) (*runtime.Runtime, string, string) {
	t.Helper()
	root := t.TempDir()
	bundleDir := buildBundle(t, root, filepath.Join(root, "bundle"), map[string]string{
		"src/a.txt": "alpha\nbeta\n",
		"src/b.txt": "gamma\n",
	})
	runDir := filepath.Join(root, "run")
	rt, err := runtime.New(bundleDir, runDir, maxStdout, nil)
	require.NoError(t, err)
	return rt, bundleDir, runDir
}

func step(t *testing.T, rt *runtime.Runtime, code string) domain.StepResult {
	t.Helper()
	res, err := rt.Step(context.Background(), code, nil)
	require.NoError(t, err)
	return res
}

func TestStep_EchoCapturesStdout(t *testing.T) {
	rt, _, _ := newTestRuntime(t, 2000)

	res := step(t, rt, "echo hello")
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, 1, res.Iteration)
	assert.Nil(t, res.Err)
	assert.False(t, res.Finalized)
	assert.False(t, res.StdoutTruncated)
}

func TestStep_ChunkCapabilities(t *testing.T) {
	rt, _, _ := newTestRuntime(t, 2000)

	res := step(t, rt, "chunks")
	lines := strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "c000000\tsrc/a.txt\t1-1\t"))

	res = step(t, rt, "chunk c000001")
	assert.Equal(t, "beta\n", res.Stdout)

	res = step(t, rt, "peek c000000 1")
	assert.Equal(t, "alpha\n", res.Stdout)

	res = step(t, rt, "find -s src/a.txt a")
	assert.Equal(t, "c000000:1:alpha\nc000001:2:beta\n", res.Stdout)

	res = step(t, rt, "find -n 1 gamma")
	assert.Equal(t, "c000002:1:gamma\n", res.Stdout)
}

func TestStep_CommandSubstitution(t *testing.T) {
	rt, _, _ := newTestRuntime(t, 2000)

	res := step(t, rt, `x=$(chunk c000000); echo "got $x"`)
	assert.Equal(t, "got alpha\n", res.Stdout)
}

func TestStep_MemoryPersistsAcrossStepsAndReloads(t *testing.T) {
	rt, bundleDir, runDir := newTestRuntime(t, 2000)

	step(t, rt, "mem set key value")
	res := step(t, rt, "mem get key")
	assert.Equal(t, "value\n", res.Stdout)

	reloaded, err := runtime.New(bundleDir, runDir, 2000, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Iteration())
	assert.Equal(t, map[string]string{"key": "value"}, reloaded.Memory())

	res, err = reloaded.Step(context.Background(), "mem keys", nil)
	require.NoError(t, err)
	assert.Equal(t, "key\n", res.Stdout)
}

func TestStep_MemGetMissingKeyFailsStatus(t *testing.T) {
	rt, _, _ := newTestRuntime(t, 2000)

	res := step(t, rt, "mem get ghost || echo absent")
	assert.Nil(t, res.Err)
	assert.Equal(t, "absent\n", res.Stdout)
}

func TestStep_FinalizeStopsScriptAndRun(t *testing.T) {
	rt, _, _ := newTestRuntime(t, 2000)

	res := step(t, rt, `finalize done; echo never`)
	assert.True(t, res.Finalized)
	assert.Equal(t, "done", res.FinalPayload)
	assert.Nil(t, res.Err)
	assert.Empty(t, res.Stdout)

	_, err := rt.Step(context.Background(), "echo again", nil)
	assert.ErrorIs(t, err, domain.ErrAlreadyFinalized)
	assert.Equal(t, 1, rt.Iteration())
}

func TestStep_FinalizeStructuredPayload(t *testing.T) {
	rt, _, _ := newTestRuntime(t, 2000)

	res := step(t, rt, `finalize '{"answer":42}'`)
	require.True(t, res.Finalized)
	payload, ok := res.FinalPayload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(42), payload["answer"])
}

func TestStep_ErrorIsCapturedNotReturned(t *testing.T) {
	rt, _, _ := newTestRuntime(t, 2000)

	res := step(t, rt, "frobnicate")
	require.NotNil(t, res.Err)
	assert.Equal(t, "UnknownCommand", res.Err.Kind)
	assert.Equal(t, 1, res.Iteration)
}

func TestStep_ScratchMutationsSurviveFailure(t *testing.T) {
	rt, _, _ := newTestRuntime(t, 2000)

	res := step(t, rt, "mem set a 1; frobnicate")
	require.NotNil(t, res.Err)
	assert.Equal(t, map[string]string{"a": "1"}, rt.Memory())
}

func TestStep_ExitStatusAndSyntaxErrors(t *testing.T) {
	rt, _, _ := newTestRuntime(t, 2000)

	res := step(t, rt, "false")
	require.NotNil(t, res.Err)
	assert.Equal(t, "ExitStatus", res.Err.Kind)

	res = step(t, rt, "if then fi")
	require.NotNil(t, res.Err)
	assert.Equal(t, "SyntaxError", res.Err.Kind)
}

func TestStep_FileAccessDenied(t *testing.T) {
	rt, _, _ := newTestRuntime(t, 2000)

	res := step(t, rt, "echo leak > out.txt")
	require.NotNil(t, res.Err)
	assert.Equal(t, "FilesystemDenied", res.Err.Kind)

	res = step(t, rt, "echo quiet > /dev/null")
	assert.Nil(t, res.Err)
	assert.Empty(t, res.Stdout)
}

func TestStep_StdoutTruncatedAtCap(t *testing.T) {
	rt, _, _ := newTestRuntime(t, 20)

	res := step(t, rt, "echo "+strings.Repeat("a", 100))
	assert.True(t, res.StdoutTruncated)
	assert.Equal(t, 20, utf8.RuneCountInString(res.Stdout))
	assert.Equal(t, "aaaaa\n...[truncated]", res.Stdout)

	ev := rt.Events()[0]
	assert.True(t, ev.Truncated)
	assert.Equal(t, 20, ev.StdoutChars)
}

func TestStep_CallInBaselineModeFails(t *testing.T) {
	rt, _, _ := newTestRuntime(t, 2000)

	res := step(t, rt, "call summarize the sources")
	require.NotNil(t, res.Err)
	assert.Equal(t, "SubcallUnavailable", res.Err.Kind)
}

func TestStep_CallRoutesThroughHook(t *testing.T) {
	rt, _, _ := newTestRuntime(t, 2000)

	var gotPrompt, gotProvider string
	hook := func(_ context.Context, prompt, provider string) (domain.SubcallResult, error) {
		gotPrompt, gotProvider = prompt, provider
		return domain.SubcallResult{Provider: provider, Text: "the answer"}, nil
	}

	res, err := rt.Step(context.Background(), "call -p alpha what is this", hook)
	require.NoError(t, err)
	assert.Nil(t, res.Err)
	assert.Equal(t, "the answer\n", res.Stdout)
	assert.Equal(t, "what is this", gotPrompt)
	assert.Equal(t, "alpha", gotProvider)
}

func TestStep_CallFailureBecomesStepError(t *testing.T) {
	rt, _, _ := newTestRuntime(t, 2000)

	hook := func(_ context.Context, _, _ string) (domain.SubcallResult, error) {
		return domain.SubcallResult{}, fmt.Errorf("budget gone")
	}
	res, err := rt.Step(context.Background(), "call anything", hook)
	require.NoError(t, err)
	require.NotNil(t, res.Err)
	assert.Equal(t, "SubcallFailed", res.Err.Kind)
	assert.Contains(t, res.Err.Message, "budget gone")
}

func TestNew_ResumeMismatches(t *testing.T) {
	rt, bundleDir, runDir := newTestRuntime(t, 2000)
	step(t, rt, "echo hi")

	// Different stdout cap than the persisted state.
	_, err := runtime.New(bundleDir, runDir, 999, nil)
	assert.ErrorIs(t, err, domain.ErrResumeMismatch)

	// Different bundle content, same run dir.
	otherRoot := t.TempDir()
	otherBundle := buildBundle(t, otherRoot, filepath.Join(otherRoot, "bundle"), map[string]string{
		"src/a.txt": "entirely different\n",
	})
	_, err = runtime.New(otherBundle, runDir, 2000, nil)
	assert.ErrorIs(t, err, domain.ErrResumeMismatch)
}

func TestStep_EventLogRecordsEveryStep(t *testing.T) {
	rt, _, _ := newTestRuntime(t, 2000)

	step(t, rt, "echo one")
	step(t, rt, "frobnicate")

	events := rt.Events()
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Iteration)
	assert.Empty(t, events[0].Error)
	assert.Equal(t, 2, events[1].Iteration)
	assert.Contains(t, events[1].Error, "UnknownCommand")
}
