// Package app implements the application layer for loom. It wires the
// adapters into the engine for each CLI operation; all policy lives in the
// engine packages, all I/O concerns in the adapters.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.trai.ch/zerr"

	"github.com/loomworks/loom/internal/adapters/bundle"
	"github.com/loomworks/loom/internal/adapters/cache"
	"github.com/loomworks/loom/internal/adapters/provider"
	"github.com/loomworks/loom/internal/adapters/state"
	"github.com/loomworks/loom/internal/adapters/taskfile"
	"github.com/loomworks/loom/internal/adapters/trace"
	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
	"github.com/loomworks/loom/internal/engine/executor"
	"github.com/loomworks/loom/internal/engine/runtime"
)

// App represents the main application logic.
type App struct {
	logger  ports.Logger
	builder *bundle.Builder
}

// New creates a new App instance.
func New(log ports.Logger) *App {
	return &App{logger: log, builder: bundle.NewBuilder(log)}
}

// RunOptions configures a fresh run.
type RunOptions struct {
	TaskPath      string
	RunDir        string
	Fresh         bool
	CacheMode     string
	CacheModeSet  bool
	ProvidersPath string
}

// AttachOptions configures step and resume against an existing run dir.
type AttachOptions struct {
	RunDir        string
	CacheMode     string
	CacheModeSet  bool
	ProvidersPath string
}

// BundleSummary is the result of a bundle-only build.
type BundleSummary struct {
	Dir         string `json:"dir"`
	Fingerprint string `json:"fingerprint"`
	Chunks      int    `json:"chunks"`
}

// Run validates the task, builds the bundle, initializes a fresh run
// directory and drives the run to a stop.
func (a *App) Run(ctx context.Context, opts RunOptions) (*executor.Summary, error) {
	task, err := a.loadTask(opts.TaskPath)
	if err != nil {
		return nil, err
	}
	mode, err := resolveCacheMode(task, opts.CacheMode, opts.CacheModeSet)
	if err != nil {
		return nil, err
	}

	runDir := opts.RunDir
	if runDir == "" {
		runDir = filepath.Join("runs", task.ID)
	}
	if opts.Fresh {
		if err := os.RemoveAll(runDir); err != nil {
			return nil, zerr.Wrap(err, "failed to clear run directory")
		}
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, zerr.Wrap(err, "failed to create run directory")
	}

	bundleDir, err := a.builder.Build(task, filepath.Dir(opts.TaskPath), filepath.Join(runDir, "bundle"))
	if err != nil {
		return nil, err
	}
	relBundle, err := filepath.Rel(runDir, bundleDir)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to resolve bundle path")
	}

	deps, err := a.buildDeps(task, runDir, relBundle, "cache.jsonl", providersPath(opts.ProvidersPath, opts.TaskPath))
	if err != nil {
		return nil, err
	}
	ex, err := executor.New(task, opts.TaskPath, runDir, relBundle, mode, deps)
	if err != nil {
		return nil, err
	}
	_, err = ex.Run(ctx)
	summary := ex.Summary()
	return &summary, err
}

// Step advances an existing run by exactly one step.
func (a *App) Step(ctx context.Context, opts AttachOptions) (*executor.Summary, error) {
	ex, err := a.attach(opts)
	if err != nil {
		return nil, err
	}
	_, err = ex.StepOnce(ctx)
	summary := ex.Summary()
	return &summary, err
}

// Resume continues an existing run until it stops again.
func (a *App) Resume(ctx context.Context, opts AttachOptions) (*executor.Summary, error) {
	ex, err := a.attach(opts)
	if err != nil {
		return nil, err
	}
	_, err = ex.Run(ctx)
	summary := ex.Summary()
	return &summary, err
}

// BuildBundle builds the context bundle without starting a run.
func (a *App) BuildBundle(taskPath, outDir string) (*BundleSummary, error) {
	task, err := a.loadTask(taskPath)
	if err != nil {
		return nil, err
	}
	if outDir == "" {
		outDir = "bundles"
	}
	dir, err := a.builder.Build(task, filepath.Dir(taskPath), outDir)
	if err != nil {
		return nil, err
	}
	fingerprint, err := bundle.Fingerprint(dir)
	if err != nil {
		return nil, err
	}
	chunks, err := bundle.LoadChunks(dir)
	if err != nil {
		return nil, err
	}
	return &BundleSummary{Dir: dir, Fingerprint: fingerprint, Chunks: len(chunks)}, nil
}

// Replay compares two finished run directories.
func (a *App) Replay(runDirA, runDirB string) (*trace.Report, error) {
	return trace.Compare(runDirA, runDirB)
}

// attach reconstructs the executor for an existing run directory from its
// persisted state and the task document it was started with.
func (a *App) attach(opts AttachOptions) (*executor.Executor, error) {
	es, err := state.LoadExecutorState(opts.RunDir)
	if err != nil {
		return nil, err
	}
	if es == nil {
		return nil, domain.Annotate(domain.ErrNoRunState, "run_dir", opts.RunDir)
	}
	task, err := a.loadTask(es.TaskPath)
	if err != nil {
		return nil, err
	}
	deps, err := a.buildDeps(task, opts.RunDir, es.BundleDir, es.CachePath, providersPath(opts.ProvidersPath, es.TaskPath))
	if err != nil {
		return nil, err
	}
	return executor.Resume(task, opts.RunDir, domain.CacheMode(opts.CacheMode), opts.CacheModeSet, deps)
}

// buildDeps assembles the runtime, trace sink and, for subcalls-mode
// tasks, the cache store and provider registry.
func (a *App) buildDeps(task *domain.Task, runDir, bundleDir, cachePath, provPath string) (executor.Deps, error) {
	rt, err := runtime.New(filepath.Join(runDir, bundleDir), runDir, task.Limits.MaxStdoutChars, a.logger)
	if err != nil {
		return executor.Deps{}, err
	}
	deps := executor.Deps{
		Runtime: rt,
		Sink:    trace.NewLog(filepath.Join(runDir, task.Trace.Path), task.Trace.Redaction),
		Logger:  a.logger,
	}
	if task.Mode == domain.ModeSubcalls {
		if cachePath == "" {
			cachePath = "cache.jsonl"
		}
		store, err := cache.NewStore(filepath.Join(runDir, cachePath))
		if err != nil {
			return executor.Deps{}, err
		}
		providers, err := provider.LoadRegistry(provPath)
		if err != nil {
			return executor.Deps{}, err
		}
		deps.Cache = store
		deps.Providers = providers
	}
	return deps, nil
}

func (a *App) loadTask(path string) (*domain.Task, error) {
	task, diags, err := taskfile.Load(path)
	for _, d := range diags {
		a.logger.Warn(fmt.Sprintf("task %s line %d: %s", d.Field, d.Line, d.Message))
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// resolveCacheMode enforces the cache-mode contract: subcalls-mode tasks
// must be started with an explicit mode, baseline tasks ignore it.
func resolveCacheMode(task *domain.Task, mode string, set bool) (domain.CacheMode, error) {
	if task.Mode != domain.ModeSubcalls {
		return "", nil
	}
	if !set {
		return "", domain.Annotate(domain.ErrCacheModeRequired, "task", task.ID)
	}
	switch m := domain.CacheMode(mode); m {
	case domain.CacheOff, domain.CacheReadonly, domain.CacheReadWrite:
		return m, nil
	default:
		return "", domain.Annotate(domain.ErrCacheModeRequired, "value", mode)
	}
}

func providersPath(explicit, taskPath string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(filepath.Dir(taskPath), "providers.yaml")
}
