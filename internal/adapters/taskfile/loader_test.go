package taskfile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/adapters/taskfile"
	"github.com/loomworks/loom/internal/core/domain"
)

const validDoc = `id: demo
query: what does the parser do
mode: baseline
sources:
  - type: file
    path: main.go
bundle:
  strategy: line_window
  max_chars: 800
limits:
  max_root_iters: 4
  max_stdout_chars: 2000
outputs:
  final_path: final.txt
  aux:
    - kind: memory
      path: memory.json
steps:
  - echo hi
trace:
  path: trace.jsonl
  redaction: none
`

func TestParse_ValidDocument(t *testing.T) {
	task, diags, err := taskfile.Parse([]byte(validDoc))
	require.NoError(t, err)
	require.Empty(t, diags)

	assert.Equal(t, "demo", task.ID)
	assert.Equal(t, domain.ModeBaseline, task.Mode)
	assert.Equal(t, "line_window", task.Bundle.Strategy)
	assert.Equal(t, 800, task.Bundle.MaxChars)
	assert.Equal(t, 4, task.Limits.MaxRootIters)
	assert.Equal(t, []string{"echo hi"}, task.Steps)
	assert.Equal(t, domain.AuxMemory, task.Outputs.Aux[0].Kind)
	assert.Equal(t, domain.RedactNone, task.Trace.Redaction)
	assert.NotEmpty(t, task.ContentHash)
}

func TestParse_CollectsEveryViolation(t *testing.T) {
	doc := `query: q
mode: wizard
sources: []
bundle:
  strategy: line_window
  max_chars: 0
limits:
  max_root_iters: 0
  max_stdout_chars: 10
outputs:
  final_path: out.txt
trace:
  path: t.jsonl
  redaction: none
`
	task, diags, err := taskfile.Parse([]byte(doc))
	require.ErrorIs(t, err, domain.ErrTaskInvalid)
	assert.Nil(t, task)

	fields := make(map[string]int)
	for _, d := range diags {
		fields[d.Field] = d.Line
	}
	assert.Len(t, diags, 5)
	assert.Contains(t, fields, "id")
	assert.Equal(t, 2, fields["mode"])
	assert.Equal(t, 3, fields["sources"])
	assert.Equal(t, 6, fields["bundle.max_chars"])
	assert.Equal(t, 8, fields["limits.max_root_iters"])
}

func TestParse_SubcallsPolicyChecks(t *testing.T) {
	doc := `id: demo
query: q
mode: subcalls
sources:
  - type: file
    path: main.go
bundle:
  strategy: line_window
  max_chars: 800
policy:
  primary: ghost
  allowed:
    - alpha
  fallback:
    - beta
limits:
  max_root_iters: 4
  max_stdout_chars: 2000
  max_subcalls_per_iter: 2
  max_subcalls_total: 5
outputs:
  final_path: final.txt
trace:
  path: trace.jsonl
  redaction: hashes
`
	_, diags, err := taskfile.Parse([]byte(doc))
	require.ErrorIs(t, err, domain.ErrTaskInvalid)

	var fields []string
	for _, d := range diags {
		fields = append(fields, d.Field)
	}
	assert.ElementsMatch(t, []string{
		"policy.primary",
		"policy.fallback[0]",
		"limits.subcall_retries",
	}, fields)
}

func TestParse_MissingFieldFallsBackToAncestorLine(t *testing.T) {
	doc := `id: demo
query: q
mode: baseline
sources:
  - type: file
    path: main.go
bundle:
  strategy: line_window
  max_chars: 800
limits:
  max_stdout_chars: 10
outputs:
  final_path: out.txt
trace:
  path: t.jsonl
  redaction: none
`
	_, diags, err := taskfile.Parse([]byte(doc))
	require.ErrorIs(t, err, domain.ErrTaskInvalid)
	require.Len(t, diags, 1)

	// max_root_iters is absent; the diagnostic points at the limits block.
	assert.Equal(t, "limits.max_root_iters", diags[0].Field)
	assert.Equal(t, 11, diags[0].Line)
}

func TestLoad_FromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validDoc), 0o644))

	task, diags, err := taskfile.Load(path)
	require.NoError(t, err)
	require.Empty(t, diags)
	assert.Equal(t, "demo", task.ID)
}

func TestLoad_MissingFile(t *testing.T) {
	_, _, err := taskfile.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestParse_Garbage(t *testing.T) {
	_, _, err := taskfile.Parse([]byte("{{{not yaml"))
	assert.Error(t, err)
}
