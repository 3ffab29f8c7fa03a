package taskfile

// The document DTOs mirror the task document shape one to one. The document
// is a JSON-equivalent object; it is parsed with yaml.v3, which accepts both
// JSON and YAML and carries the line numbers used for diagnostics.

type taskDoc struct {
	ID      string      `yaml:"id"`
	Query   string      `yaml:"query"`
	Mode    string      `yaml:"mode"`
	Sources []sourceDoc `yaml:"sources"`
	Bundle  bundleDoc   `yaml:"bundle"`
	Policy  policyDoc   `yaml:"policy"`
	Limits  limitsDoc   `yaml:"limits"`
	Outputs outputsDoc  `yaml:"outputs"`
	Steps   []string    `yaml:"steps"`
	Trace   traceDoc    `yaml:"trace"`
}

type sourceDoc struct {
	Type    string   `yaml:"type"`
	Path    string   `yaml:"path"`
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

type bundleDoc struct {
	Strategy string `yaml:"strategy"`
	MaxChars int    `yaml:"max_chars"`
}

type policyDoc struct {
	Primary  string   `yaml:"primary"`
	Allowed  []string `yaml:"allowed"`
	Fallback []string `yaml:"fallback"`
}

type limitsDoc struct {
	MaxRootIters         int `yaml:"max_root_iters"`
	MaxSubcallsPerIter   int `yaml:"max_subcalls_per_iter"`
	MaxSubcallsTotal     int `yaml:"max_subcalls_total"`
	MaxStdoutChars       int `yaml:"max_stdout_chars"`
	SubcallRetries       int `yaml:"subcall_retries"`
	SubcallTimeoutMillis int `yaml:"subcall_timeout_ms"`
}

type outputsDoc struct {
	FinalPath string   `yaml:"final_path"`
	Aux       []auxDoc `yaml:"aux"`
}

type auxDoc struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

type traceDoc struct {
	Path      string `yaml:"path"`
	Redaction string `yaml:"redaction"`
}
