package trace_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/adapters/trace"
	"github.com/loomworks/loom/internal/core/domain"
)

func TestLog_AppendAndReadInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	log := trace.NewLog(path, domain.RedactNone)

	require.NoError(t, log.Append(domain.TraceEvent{Kind: domain.TraceIteration, Iteration: 1}))
	require.NoError(t, log.Append(domain.TraceEvent{
		Kind:         domain.TraceSubcall,
		Provider:     "alpha",
		Prompt:       "summarize",
		ResponseHash: "rh",
	}))
	require.NoError(t, log.Append(domain.TraceEvent{Kind: domain.TraceStop, Status: domain.StatusCompleted}))

	events, err := trace.Read(path)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.TraceIteration, events[0].Kind)
	assert.Equal(t, "summarize", events[1].Prompt)
	assert.Equal(t, domain.StatusCompleted, events[2].Status)
}

func TestLog_RedactionStripsPromptOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	log := trace.NewLog(path, domain.RedactHashes)

	require.NoError(t, log.Append(domain.TraceEvent{
		Kind:        domain.TraceSubcall,
		Prompt:      "secret material",
		RequestHash: "qh",
	}))

	events, err := trace.Read(path)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Prompt)
	assert.Equal(t, "qh", events[0].RequestHash)
}

func TestRead_MissingFile(t *testing.T) {
	_, err := trace.Read(filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.ErrorIs(t, err, domain.ErrTraceReadFailed)
}
