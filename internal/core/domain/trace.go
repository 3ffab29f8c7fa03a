package domain

// TraceEventKind discriminates trace log records.
type TraceEventKind string

const (
	// TraceIteration records one executed step.
	TraceIteration TraceEventKind = "iteration"
	// TraceSubcall records one subcall query, hit or miss.
	TraceSubcall TraceEventKind = "subcall"
	// TraceStop records a terminal transition.
	TraceStop TraceEventKind = "stop"
)

// TraceEvent is one record of the append-only trace log. The unused fields
// of a kind are omitted from the serialized form. The log contains no
// timestamps so that two identical runs produce identical trace bytes.
type TraceEvent struct {
	Kind  TraceEventKind `json:"kind"`
	RunID string         `json:"run_id,omitempty"`

	// iteration fields
	Iteration   int    `json:"iteration,omitempty"`
	CodeHash    string `json:"code_hash,omitempty"`
	Error       string `json:"error,omitempty"`
	Finalized   bool   `json:"finalized,omitempty"`
	StdoutChars int    `json:"stdout_chars,omitempty"`
	StdoutHash  string `json:"stdout_hash,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`

	// subcall fields
	Provider     string   `json:"provider,omitempty"`
	Candidates   []string `json:"candidates,omitempty"`
	CacheStatus  string   `json:"cache_status,omitempty"`
	RequestHash  string   `json:"request_hash,omitempty"`
	ResponseHash string   `json:"response_hash,omitempty"`
	Attempts     int      `json:"attempts,omitempty"`
	Prompt       string   `json:"prompt,omitempty"`

	// stop fields
	Status Status     `json:"status,omitempty"`
	Reason StopReason `json:"reason,omitempty"`
}
