// Package runtime executes agent-authored step code against one context
// bundle. Steps run inside an embedded shell interpreter whose only
// capabilities are the fixed command surface defined in capabilities.go;
// no filesystem, network, process or import capability is reachable.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.trai.ch/zerr"
	"mvdan.cc/sh/v3/interp"

	"github.com/loomworks/loom/internal/adapters/bundle"
	"github.com/loomworks/loom/internal/adapters/state"
	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
)

// SubcallFunc is the external-call hook wired in by the executor for
// subcalls-mode runs. It is nil in baseline mode.
type SubcallFunc func(ctx context.Context, prompt, provider string) (domain.SubcallResult, error)

// truncationMarker terminates persisted stdout that was cut at the cap.
const truncationMarker = "\n...[truncated]"

// Runtime is bound to one bundle and one run directory for its lifetime.
type Runtime struct {
	runDir string
	chunks []domain.Chunk
	byID   map[string]int
	logger ports.Logger
	st     domain.RuntimeState
}

// New loads the bundle chunks into memory and either initializes fresh
// state or resumes from the persisted state file. Resumption is rejected
// when the bundle fingerprint, the stdout cap or the schema version differ
// from the persisted values: an ambiguous resume is a hard error.
func New(bundleDir, runDir string, maxStdoutChars int, logger ports.Logger) (*Runtime, error) {
	chunks, err := bundle.LoadChunks(bundleDir)
	if err != nil {
		return nil, err
	}
	fingerprint, err := bundle.Fingerprint(bundleDir)
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		runDir: runDir,
		chunks: chunks,
		byID:   make(map[string]int, len(chunks)),
		logger: logger,
	}
	for i, c := range chunks {
		r.byID[c.ID] = i
	}

	persisted, err := state.LoadRuntimeState(runDir)
	if err != nil {
		return nil, err
	}
	if persisted == nil {
		r.st = domain.RuntimeState{
			SchemaVersion:  domain.RuntimeSchemaVersion,
			Fingerprint:    fingerprint,
			MaxStdoutChars: maxStdoutChars,
			Memory:         make(map[string]string),
		}
		return r, nil
	}

	if persisted.SchemaVersion != domain.RuntimeSchemaVersion {
		return nil, zerr.With(domain.Annotate(domain.ErrResumeMismatch,
			"field", "schema_version"), "persisted", persisted.SchemaVersion)
	}
	if persisted.Fingerprint != fingerprint {
		return nil, zerr.With(domain.Annotate(domain.ErrResumeMismatch,
			"field", "bundle_fingerprint"), "persisted", persisted.Fingerprint)
	}
	if persisted.MaxStdoutChars != maxStdoutChars {
		return nil, zerr.With(domain.Annotate(domain.ErrResumeMismatch,
			"field", "max_stdout_chars"), "persisted", persisted.MaxStdoutChars)
	}
	if persisted.Memory == nil {
		persisted.Memory = make(map[string]string)
	}
	r.st = *persisted
	return r, nil
}

// Step executes one piece of step code. Errors raised by the code itself
// are captured in the tagged result, never returned as Go errors; the
// returned error is reserved for infrastructure failures (state persistence).
// Once the run is finalized, further calls fail immediately without
// executing the code and without incrementing the iteration counter.
func (r *Runtime) Step(ctx context.Context, code string, subcall SubcallFunc) (domain.StepResult, error) {
	if r.st.Finalized {
		return domain.StepResult{}, domain.ErrAlreadyFinalized
	}

	sess := newSession(r, subcall)
	stepErr := sess.run(ctx, code)

	stdout, truncated := truncate(sess.out.String(), r.st.MaxStdoutChars)

	r.st.Iteration++
	if sess.finalized {
		r.st.Finalized = true
		r.st.FinalPayload = sess.payload
	}

	ev := domain.StepEvent{
		Iteration:   r.st.Iteration,
		CodeHash:    domain.HashString(code),
		Finalized:   r.st.Finalized,
		StdoutChars: utf8.RuneCountInString(stdout),
		StdoutHash:  domain.HashString(stdout),
		Truncated:   truncated,
	}
	if stepErr != nil {
		ev.Error = stepErr.String()
	}
	r.st.Events = append(r.st.Events, ev)

	if err := state.SaveRuntimeState(r.runDir, &r.st); err != nil {
		return domain.StepResult{}, err
	}

	return domain.StepResult{
		Iteration:       r.st.Iteration,
		Stdout:          stdout,
		StdoutTruncated: truncated,
		Err:             stepErr,
		Finalized:       r.st.Finalized,
		FinalPayload:    r.st.FinalPayload,
	}, nil
}

// Iteration returns the number of executed steps.
func (r *Runtime) Iteration() int { return r.st.Iteration }

// Finalized reports whether a step has called finalize.
func (r *Runtime) Finalized() bool { return r.st.Finalized }

// FinalPayload returns the payload recorded by finalize.
func (r *Runtime) FinalPayload() any { return r.st.FinalPayload }

// Fingerprint returns the bundle fingerprint this runtime is bound to.
func (r *Runtime) Fingerprint() string { return r.st.Fingerprint }

// Memory returns a copy of the scratch memory.
func (r *Runtime) Memory() map[string]string {
	out := make(map[string]string, len(r.st.Memory))
	for k, v := range r.st.Memory {
		out[k] = v
	}
	return out
}

// Events returns the persisted per-step event list.
func (r *Runtime) Events() []domain.StepEvent {
	out := make([]domain.StepEvent, len(r.st.Events))
	copy(out, r.st.Events)
	return out
}

// truncate cuts s to at most maxChars characters, appending the truncation
// marker when anything was cut. The reported flag is always accurate.
func truncate(s string, maxChars int) (string, bool) {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s, false
	}
	marker := []rune(truncationMarker)
	if maxChars <= len(marker) {
		return string(marker[len(marker)-maxChars:]), true
	}
	return string(runes[:maxChars-len(marker)]) + truncationMarker, true
}

// classify maps an interpreter error to the tagged step error form.
func classify(err error) *domain.StepError {
	if err == nil {
		return nil
	}
	var cerr *capError
	if errors.As(err, &cerr) {
		return &domain.StepError{Kind: cerr.kind, Message: cerr.msg}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.StepError{Kind: "Timeout", Message: err.Error()}
	}
	if errors.Is(err, context.Canceled) {
		return &domain.StepError{Kind: "Canceled", Message: err.Error()}
	}
	if status, ok := interp.IsExitStatus(err); ok {
		return &domain.StepError{Kind: "ExitStatus", Message: fmt.Sprintf("exit status %d", status)}
	}
	return &domain.StepError{Kind: "RuntimeError", Message: err.Error()}
}
