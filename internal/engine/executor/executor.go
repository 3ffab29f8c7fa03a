// Package executor drives one run through its state machine: RUNNING until
// a budget, the step program, an error or a finalize call stops it. All
// run-level state lives in executor_state.json and is rewritten atomically
// after every step, so a killed process can always resume.
package executor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.trai.ch/zerr"

	"github.com/loomworks/loom/internal/adapters/state"
	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
	"github.com/loomworks/loom/internal/engine/runtime"
	"github.com/loomworks/loom/internal/engine/subcall"
)

// Deps are the collaborators the executor is wired with. Cache and
// Providers are only consulted for subcalls-mode tasks.
type Deps struct {
	Runtime   *runtime.Runtime
	Cache     ports.SubcallCache
	Providers map[string]ports.Provider
	Sink      ports.TraceSink
	Logger    ports.Logger
}

// Summary is the run status written to status.json and printed by the CLI.
type Summary struct {
	RunID         string            `json:"run_id"`
	TaskID        string            `json:"task_id"`
	Status        domain.Status     `json:"status"`
	StopReason    domain.StopReason `json:"stop_reason,omitempty"`
	Iterations    int               `json:"iterations"`
	SubcallsTotal int               `json:"subcalls_total"`
	FinalArtifact string            `json:"final_artifact,omitempty"`
}

// Executor owns one run directory. It is single-goroutine by contract.
type Executor struct {
	task   *domain.Task
	runDir string
	deps   Deps
	broker *subcall.Broker
	st     domain.ExecutorState
}

// New initializes a fresh run. It refuses to touch a run directory that
// already holds executor state; callers clear the directory first when a
// fresh start over an old run is wanted.
func New(task *domain.Task, taskPath, runDir, bundleDir string, mode domain.CacheMode, deps Deps) (*Executor, error) {
	existing, err := state.LoadExecutorState(runDir)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.Annotate(domain.ErrRunExists, "run_dir", runDir)
	}

	e := &Executor{
		task:   task,
		runDir: runDir,
		deps:   deps,
		st: domain.ExecutorState{
			RunID:     uuid.NewString(),
			TaskPath:  taskPath,
			TaskHash:  task.ContentHash,
			BundleDir: bundleDir,
			Limits:    task.Limits,
			TracePath: task.Trace.Path,
			Status:    domain.StatusRunning,
		},
	}
	if task.Mode == domain.ModeSubcalls {
		e.st.CachePath = "cache.jsonl"
		e.st.CacheMode = mode
		e.broker = subcall.New(task.Policy, task.Limits, mode,
			deps.Cache, deps.Providers, deps.Sink, deps.Logger, e.st.RunID)
	}
	if err := state.SaveExecutorState(runDir, &e.st); err != nil {
		return nil, err
	}
	return e, nil
}

// Resume reattaches to an existing run directory. The task document must
// be byte-identical to the one the run started with, and an explicit cache
// mode, when given, must match the persisted one.
func Resume(task *domain.Task, runDir string, mode domain.CacheMode, modeSet bool, deps Deps) (*Executor, error) {
	es, err := state.LoadExecutorState(runDir)
	if err != nil {
		return nil, err
	}
	if es == nil {
		return nil, domain.Annotate(domain.ErrNoRunState, "run_dir", runDir)
	}
	if es.Status == domain.StatusCompleted {
		return nil, domain.Annotate(domain.ErrRunNotResumable, "status", string(es.Status))
	}
	if task.ContentHash != es.TaskHash {
		return nil, zerr.With(domain.Annotate(domain.ErrTaskChanged,
			"persisted", es.TaskHash), "loaded", task.ContentHash)
	}
	if modeSet && mode != es.CacheMode {
		return nil, zerr.With(domain.Annotate(domain.ErrCacheModeMismatch,
			"persisted", string(es.CacheMode)), "requested", string(mode))
	}

	e := &Executor{task: task, runDir: runDir, deps: deps, st: *es}
	e.st.Status = domain.StatusRunning
	e.st.StopReason = ""
	if task.Mode == domain.ModeSubcalls {
		e.broker = subcall.New(task.Policy, task.Limits, es.CacheMode,
			deps.Cache, deps.Providers, deps.Sink, deps.Logger, es.RunID)
		e.broker.RestoreTotals(es.SubcallsTotal, es.SubcallHashes)
	}
	if err := state.SaveExecutorState(runDir, &e.st); err != nil {
		return nil, err
	}
	return e, nil
}

// State returns a copy of the current executor state.
func (e *Executor) State() domain.ExecutorState { return e.st }

// Summary builds the CLI-facing status summary.
func (e *Executor) Summary() Summary {
	return Summary{
		RunID:         e.st.RunID,
		TaskID:        e.task.ID,
		Status:        e.st.Status,
		StopReason:    e.st.StopReason,
		Iterations:    e.deps.Runtime.Iteration(),
		SubcallsTotal: e.st.SubcallsTotal,
		FinalArtifact: e.st.FinalArtifactPath,
	}
}

// Run drives StepOnce until the run leaves RUNNING.
func (e *Executor) Run(ctx context.Context) (domain.Status, error) {
	for {
		status, err := e.StepOnce(ctx)
		if err != nil || status != domain.StatusRunning {
			return status, err
		}
	}
}

// StepOnce advances the run by at most one step. Budget and program
// exhaustion are checked before the step executes, so a stopped run never
// burns an iteration on the stop decision.
func (e *Executor) StepOnce(ctx context.Context) (domain.Status, error) {
	if e.st.Status == domain.StatusCompleted {
		return e.st.Status, domain.Annotate(domain.ErrRunNotResumable, "status", string(e.st.Status))
	}
	if e.deps.Runtime.Iteration() >= e.task.Limits.MaxRootIters {
		return e.stop(domain.StatusLimitReached, domain.ReasonMaxRootIters)
	}
	if e.st.Cursor >= len(e.task.Steps) {
		return e.stop(domain.StatusLimitReached, domain.ReasonProgramExhausted)
	}

	code := e.task.Steps[e.st.Cursor]
	var hook runtime.SubcallFunc
	if e.broker != nil {
		e.broker.BeginIteration()
		hook = func(ctx context.Context, prompt, provider string) (domain.SubcallResult, error) {
			return e.broker.Query(ctx, prompt, provider)
		}
	}

	res, err := e.deps.Runtime.Step(ctx, code, hook)
	if err != nil {
		return e.st.Status, err
	}
	e.st.Cursor++
	if e.broker != nil {
		e.st.SubcallsTotal, e.st.SubcallHashes = e.broker.Totals()
	}

	ev := domain.TraceEvent{
		Kind:        domain.TraceIteration,
		RunID:       e.st.RunID,
		Iteration:   res.Iteration,
		CodeHash:    domain.HashString(code),
		Finalized:   res.Finalized,
		StdoutChars: utf8.RuneCountInString(res.Stdout),
		StdoutHash:  domain.HashString(res.Stdout),
		Truncated:   res.StdoutTruncated,
	}
	if res.Err != nil {
		ev.Error = res.Err.String()
	}
	if err := e.deps.Sink.Append(ev); err != nil {
		return e.st.Status, err
	}

	if res.Err != nil {
		e.deps.Logger.Warn("step failed: " + res.Err.String())
		return e.stop(domain.StatusBlocked, domain.ReasonStepError)
	}
	if res.Finalized {
		if err := e.writeArtifacts(res.FinalPayload); err != nil {
			return e.st.Status, err
		}
		return e.stop(domain.StatusCompleted, domain.ReasonFinalized)
	}

	if err := state.SaveExecutorState(e.runDir, &e.st); err != nil {
		return e.st.Status, err
	}
	return domain.StatusRunning, nil
}

// stop records the terminal transition: executor state, status.json and
// the stop trace event.
func (e *Executor) stop(status domain.Status, reason domain.StopReason) (domain.Status, error) {
	e.st.Status = status
	e.st.StopReason = reason
	if err := state.SaveExecutorState(e.runDir, &e.st); err != nil {
		return status, err
	}
	if err := state.SaveStatus(e.runDir, e.Summary()); err != nil {
		return status, err
	}
	ev := domain.TraceEvent{
		Kind:   domain.TraceStop,
		RunID:  e.st.RunID,
		Status: status,
		Reason: reason,
	}
	if err := e.deps.Sink.Append(ev); err != nil {
		return status, err
	}
	return status, nil
}

// writeArtifacts renders the final payload and the configured auxiliary
// artifacts. String payloads are written verbatim; structured payloads as
// indented JSON with stable key order.
func (e *Executor) writeArtifacts(payload any) error {
	data, err := renderPayload(payload)
	if err != nil {
		return err
	}
	if err := e.writeArtifact(e.task.Outputs.FinalPath, data); err != nil {
		return err
	}
	e.st.FinalArtifactPath = e.task.Outputs.FinalPath

	for _, aux := range e.task.Outputs.Aux {
		var content any
		switch aux.Kind {
		case domain.AuxMemory:
			content = e.deps.Runtime.Memory()
		case domain.AuxEvents:
			content = e.deps.Runtime.Events()
		default:
			return domain.Annotate(domain.ErrArtifactWriteFailed, "kind", string(aux.Kind))
		}
		data, err := json.MarshalIndent(content, "", "  ")
		if err != nil {
			return zerr.Wrap(err, domain.ErrArtifactWriteFailed.Error())
		}
		if err := e.writeArtifact(aux.Path, append(data, '\n')); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) writeArtifact(rel string, data []byte) error {
	path := filepath.Join(e.runDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrArtifactWriteFailed.Error()), "path", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrArtifactWriteFailed.Error()), "path", path)
	}
	return nil
}

func renderPayload(payload any) ([]byte, error) {
	if s, ok := payload.(string); ok {
		return []byte(s + "\n"), nil
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, zerr.Wrap(err, domain.ErrArtifactWriteFailed.Error())
	}
	return append(data, '\n'), nil
}
