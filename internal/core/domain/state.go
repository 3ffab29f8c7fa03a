package domain

import "time"

// RuntimeSchemaVersion is the persisted runtime state format version.
// Bumping it invalidates resumption of older state files.
const RuntimeSchemaVersion = 1

// StepEvent records one executed step in the runtime's event log.
type StepEvent struct {
	Iteration   int    `json:"iteration"`
	CodeHash    string `json:"code_hash"`
	Error       string `json:"error,omitempty"`
	Finalized   bool   `json:"finalized"`
	StdoutChars int    `json:"stdout_chars"`
	StdoutHash  string `json:"stdout_hash"`
	Truncated   bool   `json:"truncated"`
}

// RuntimeState is the persisted state owned exclusively by the execution
// runtime. SchemaVersion, Fingerprint and MaxStdoutChars are immutable for
// the lifetime of a run and are checked on every resume.
type RuntimeState struct {
	SchemaVersion  int               `json:"schema_version"`
	Fingerprint    string            `json:"bundle_fingerprint"`
	MaxStdoutChars int               `json:"max_stdout_chars"`
	Iteration      int               `json:"iteration"`
	Finalized      bool              `json:"finalized"`
	FinalPayload   any               `json:"final_payload,omitempty"`
	Memory         map[string]string `json:"memory"`
	Events         []StepEvent       `json:"events"`
}

// Status is the executor's run status.
type Status string

const (
	// StatusRunning is the initial, non-terminal status.
	StatusRunning Status = "RUNNING"
	// StatusBlocked means a step reported an error; resumable.
	StatusBlocked Status = "BLOCKED"
	// StatusCompleted means a step finalized the run; terminal.
	StatusCompleted Status = "COMPLETED"
	// StatusLimitReached means a budget or the program was exhausted; resumable.
	StatusLimitReached Status = "LIMIT_REACHED"
)

// StopReason explains a terminal transition.
type StopReason string

const (
	// ReasonMaxRootIters means the iteration budget was exhausted.
	ReasonMaxRootIters StopReason = "MAX_ROOT_ITERS"
	// ReasonProgramExhausted means the step program ran out before finalize.
	ReasonProgramExhausted StopReason = "PROGRAM_EXHAUSTED"
	// ReasonStepError means a step reported an error.
	ReasonStepError StopReason = "STEP_ERROR"
	// ReasonFinalized means a step called finalize.
	ReasonFinalized StopReason = "FINALIZED"
)

// ExecutorState is the persisted run-level state owned exclusively by the
// executor. It is rewritten atomically after every step.
type ExecutorState struct {
	RunID             string     `json:"run_id"`
	TaskPath          string     `json:"task_path"`
	TaskHash          string     `json:"task_hash"`
	BundleDir         string     `json:"bundle_dir"`
	CachePath         string     `json:"cache_path,omitempty"`
	CacheMode         CacheMode  `json:"cache_mode,omitempty"`
	Limits            Limits     `json:"limits"`
	TracePath         string     `json:"trace_path"`
	Cursor            int        `json:"cursor"`
	Status            Status     `json:"status"`
	StopReason        StopReason `json:"stop_reason,omitempty"`
	FinalArtifactPath string     `json:"final_artifact_path,omitempty"`
	SubcallsTotal     int        `json:"subcalls_total"`
	SubcallHashes     []string   `json:"subcall_hashes,omitempty"`
}

// StepError is the tagged error carried inside a step result. Step failures
// are relayed as data, never propagated as Go errors out of the runtime.
type StepError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e StepError) String() string {
	return e.Kind + ": " + e.Message
}

// StepResult is the outcome of executing one step.
type StepResult struct {
	Iteration       int        `json:"iteration"`
	Stdout          string     `json:"stdout"`
	StdoutTruncated bool       `json:"stdout_truncated"`
	Err             *StepError `json:"error,omitempty"`
	Finalized       bool       `json:"finalized"`
	FinalPayload    any        `json:"final_payload,omitempty"`
}

// SubcallResult is the outcome of one subcall query.
type SubcallResult struct {
	Provider     string `json:"provider"`
	Text         string `json:"text"`
	RequestHash  string `json:"request_hash"`
	ResponseHash string `json:"response_hash"`
	CacheHit     bool   `json:"cache_hit"`
	Attempts     int    `json:"attempts"`
}

// CacheEntry is one record of the append-only subcall cache log. Once
// written an entry is never mutated; a later write with the same key
// supersedes it when the index is rebuilt (last write wins).
type CacheEntry struct {
	RequestHash  string    `json:"request_hash"`
	Provider     string    `json:"provider"`
	Prompt       string    `json:"prompt"`
	ResponseHash string    `json:"response_hash"`
	Response     string    `json:"response"`
	CachedAt     time.Time `json:"cached_at"`
}
