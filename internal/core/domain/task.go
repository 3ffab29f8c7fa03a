// Package domain contains the core types of the execution engine.
package domain

// Mode selects whether steps may issue external subcalls.
type Mode string

const (
	// ModeBaseline forbids external calls entirely.
	ModeBaseline Mode = "baseline"
	// ModeSubcalls allows budgeted external calls through the subcall broker.
	ModeSubcalls Mode = "subcalls"
)

// CacheMode controls how the subcall cache is used during a run.
type CacheMode string

const (
	// CacheOff never reads or writes the cache.
	CacheOff CacheMode = "off"
	// CacheReadonly reads the cache; a miss is a hard failure.
	CacheReadonly CacheMode = "readonly"
	// CacheReadWrite reads the cache and persists live responses on miss.
	CacheReadWrite CacheMode = "readwrite"
)

// SourceType classifies a context source entry.
type SourceType string

const (
	// SourceFile resolves to exactly one regular file.
	SourceFile SourceType = "file"
	// SourceDir resolves to every regular file under a directory.
	SourceDir SourceType = "dir"
	// SourceSnapshot behaves like a directory source; the path is expected
	// to be an immutable snapshot of material captured ahead of the run.
	SourceSnapshot SourceType = "snapshot"
)

// ContextSource names one piece of source material for the bundle.
type ContextSource struct {
	Type    SourceType `json:"type" yaml:"type"`
	Path    string     `json:"path" yaml:"path"`
	Include []string   `json:"include,omitempty" yaml:"include"`
	Exclude []string   `json:"exclude,omitempty" yaml:"exclude"`
}

// BundleSpec configures how source material is chunked.
type BundleSpec struct {
	Strategy string `json:"strategy" yaml:"strategy"`
	MaxChars int    `json:"max_chars" yaml:"max_chars"`
}

// ProviderPolicy describes the deterministic provider selection for subcalls.
// Primary and every Fallback entry must be members of Allowed.
type ProviderPolicy struct {
	Primary  string   `json:"primary" yaml:"primary"`
	Allowed  []string `json:"allowed" yaml:"allowed"`
	Fallback []string `json:"fallback,omitempty" yaml:"fallback"`
}

// IsAllowed reports whether name is a member of the allowed set.
func (p ProviderPolicy) IsAllowed(name string) bool {
	for _, a := range p.Allowed {
		if a == name {
			return true
		}
	}
	return false
}

// Candidates returns the deterministic provider candidate order: the primary,
// then the fallback list, then any remaining allowed providers. Duplicates
// are removed, first occurrence wins.
func (p ProviderPolicy) Candidates() []string {
	seen := make(map[string]bool, len(p.Allowed)+1)
	out := make([]string, 0, len(p.Allowed)+1)
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	add(p.Primary)
	for _, f := range p.Fallback {
		add(f)
	}
	for _, a := range p.Allowed {
		add(a)
	}
	return out
}

// Limits holds the hard resource budgets for one run.
type Limits struct {
	MaxRootIters         int `json:"max_root_iters" yaml:"max_root_iters"`
	MaxSubcallsPerIter   int `json:"max_subcalls_per_iter" yaml:"max_subcalls_per_iter"`
	MaxSubcallsTotal     int `json:"max_subcalls_total" yaml:"max_subcalls_total"`
	MaxStdoutChars       int `json:"max_stdout_chars" yaml:"max_stdout_chars"`
	SubcallRetries       int `json:"subcall_retries" yaml:"subcall_retries"`
	SubcallTimeoutMillis int `json:"subcall_timeout_ms" yaml:"subcall_timeout_ms"`
}

// AuxArtifactKind selects the content written to an auxiliary artifact.
type AuxArtifactKind string

const (
	// AuxMemory dumps the runtime scratch memory as sorted JSON.
	AuxMemory AuxArtifactKind = "memory"
	// AuxEvents dumps the ordered per-step event list.
	AuxEvents AuxArtifactKind = "events"
)

// AuxArtifact configures one auxiliary output artifact.
type AuxArtifact struct {
	Kind AuxArtifactKind `json:"kind" yaml:"kind"`
	Path string          `json:"path" yaml:"path"`
}

// Outputs configures the artifacts written when a run finalizes.
type Outputs struct {
	FinalPath string        `json:"final_path" yaml:"final_path"`
	Aux       []AuxArtifact `json:"aux,omitempty" yaml:"aux"`
}

// RedactionMode controls how much request material the trace log retains.
type RedactionMode string

const (
	// RedactNone records prompt text alongside hashes in subcall events.
	RedactNone RedactionMode = "none"
	// RedactHashes records only hashes.
	RedactHashes RedactionMode = "hashes"
)

// TraceConfig configures the append-only trace log.
type TraceConfig struct {
	Path      string        `json:"path" yaml:"path"`
	Redaction RedactionMode `json:"redaction" yaml:"redaction"`
}

// Task is the immutable input of a run. ContentHash is the hash of the raw
// task document bytes, computed by the loader; any edit to the document
// invalidates resumption.
type Task struct {
	ID      string          `json:"id"`
	Query   string          `json:"query"`
	Sources []ContextSource `json:"sources"`
	Bundle  BundleSpec      `json:"bundle"`
	Mode    Mode            `json:"mode"`
	Policy  ProviderPolicy  `json:"policy"`
	Limits  Limits          `json:"limits"`
	Outputs Outputs         `json:"outputs"`
	Steps   []string        `json:"steps"`
	Trace   TraceConfig     `json:"trace"`

	ContentHash string `json:"-"`
}
