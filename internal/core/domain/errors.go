package domain

import "go.trai.ch/zerr"

var (
	// ErrTaskInvalid is returned when the task document fails schema validation.
	ErrTaskInvalid = zerr.New("task document is invalid")

	// ErrTaskReadFailed is returned when the task document cannot be read.
	ErrTaskReadFailed = zerr.New("failed to read task document")

	// ErrTaskParseFailed is returned when the task document cannot be parsed.
	ErrTaskParseFailed = zerr.New("failed to parse task document")

	// ErrUnknownChunkStrategy is returned when the bundle spec names a chunking
	// strategy the builder does not implement.
	ErrUnknownChunkStrategy = zerr.New("unknown chunking strategy")

	// ErrNoSourcesResolved is returned when source resolution and filtering
	// leave zero files; an empty bundle is never produced silently.
	ErrNoSourcesResolved = zerr.New("no source files resolved")

	// ErrSourceNotFound is returned when a context source path does not exist.
	ErrSourceNotFound = zerr.New("context source not found")

	// ErrSourceNotRegularFile is returned when a file source resolves to
	// something other than a regular file.
	ErrSourceNotRegularFile = zerr.New("file source is not a regular file")

	// ErrBundleReadFailed is returned when a built bundle cannot be read back.
	ErrBundleReadFailed = zerr.New("failed to read bundle")

	// ErrBundleWriteFailed is returned when a bundle file cannot be written.
	ErrBundleWriteFailed = zerr.New("failed to write bundle")

	// ErrResumeMismatch is returned when persisted runtime state was created
	// under different immutable parameters than the current invocation.
	ErrResumeMismatch = zerr.New("persisted state does not match this invocation")

	// ErrAlreadyFinalized is returned when a step is attempted after finalize.
	ErrAlreadyFinalized = zerr.New("run is already finalized")

	// ErrStateReadFailed is returned when a persisted state file cannot be read.
	ErrStateReadFailed = zerr.New("failed to read state file")

	// ErrStateWriteFailed is returned when a persisted state file cannot be written.
	ErrStateWriteFailed = zerr.New("failed to write state file")

	// ErrSubcallBudgetExceeded is returned when a subcall would exceed the
	// per-iteration or per-run budget. Enforced before any cache lookup.
	ErrSubcallBudgetExceeded = zerr.New("subcall budget exceeded")

	// ErrProviderNotAllowed is returned when a step names a provider outside
	// the task's allowed set. No fallback is attempted.
	ErrProviderNotAllowed = zerr.New("provider is not in the allowed set")

	// ErrProviderNotConfigured is returned when a policy candidate has no
	// registered transport.
	ErrProviderNotConfigured = zerr.New("provider is not configured")

	// ErrAllProvidersFailed is returned when every candidate provider failed.
	ErrAllProvidersFailed = zerr.New("all provider candidates failed")

	// ErrCacheMissReadonly is returned on a cache miss in readonly mode,
	// where no live call is permitted.
	ErrCacheMissReadonly = zerr.New("cache miss in readonly mode")

	// ErrCacheReadFailed is returned when the cache log cannot be read.
	ErrCacheReadFailed = zerr.New("failed to read subcall cache")

	// ErrCacheWriteFailed is returned when the cache log cannot be appended.
	ErrCacheWriteFailed = zerr.New("failed to write subcall cache")

	// ErrTraceWriteFailed is returned when the trace log cannot be appended.
	ErrTraceWriteFailed = zerr.New("failed to write trace log")

	// ErrTraceReadFailed is returned when a trace log cannot be read.
	ErrTraceReadFailed = zerr.New("failed to read trace log")

	// ErrRunExists is returned when run is invoked against an already
	// initialized run directory without the fresh flag.
	ErrRunExists = zerr.New("run directory already initialized")

	// ErrNoRunState is returned when step or resume finds no executor state.
	ErrNoRunState = zerr.New("no executor state in run directory")

	// ErrRunNotResumable is returned when stepping a run whose status is COMPLETED.
	ErrRunNotResumable = zerr.New("run is not resumable")

	// ErrTaskChanged is returned on resume when the task document's content
	// hash differs from the hash recorded at run start.
	ErrTaskChanged = zerr.New("task document changed since run start")

	// ErrCacheModeMismatch is returned when an explicit cache-mode override
	// differs from the mode recorded in persisted state.
	ErrCacheModeMismatch = zerr.New("cache mode override does not match persisted state")

	// ErrCacheModeRequired is returned when a subcalls-mode task is run
	// without an explicit cache mode.
	ErrCacheModeRequired = zerr.New("cache mode is required for subcalls mode")

	// ErrArtifactWriteFailed is returned when a final or auxiliary artifact
	// cannot be written.
	ErrArtifactWriteFailed = zerr.New("failed to write artifact")
)

// Annotate attaches key/value metadata to err while keeping err in the
// unwrap chain. zerr.With on a bare sentinel returns a detached clone, so
// the metadata always goes on a wrapper with err as its cause.
func Annotate(err error, key string, value any) error {
	return zerr.With(zerr.Wrap(err, ""), key, value)
}
