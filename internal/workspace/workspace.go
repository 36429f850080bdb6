// Package workspace owns configuration, site selection, the concurrent
// scheduler, and the end-to-end run that produces one aggregate result.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/croplab/fieldrun/internal/config"
	"github.com/croplab/fieldrun/internal/events"
	"github.com/croplab/fieldrun/internal/log"
	"github.com/croplab/fieldrun/internal/logstore"
	"github.com/croplab/fieldrun/internal/registry"
	"github.com/croplab/fieldrun/internal/selection"
	"github.com/croplab/fieldrun/internal/simulator"
	"github.com/croplab/fieldrun/internal/site"
)

//go:generate mockgen -destination=mocks/mock_executor.go -package=mocks github.com/croplab/fieldrun/internal/workspace Executor

// Executor runs the external program for one site. Satisfied by
// simulator.Runner; tests substitute fakes.
type Executor interface {
	Execute(ctx context.Context, runID string, s *site.Site) (simulator.Status, error)
}

// Workspace coordinates one batch of simulation tasks per Run call.
// Repeated Run calls are strictly sequential; two batches never overlap.
type Workspace struct {
	cfg      *config.Config
	store    *logstore.Store
	registry *registry.Registry
	runner   Executor
	rule     *selection.Rule
	sites    []*site.Site
	hub      *events.Hub
	logger   *slog.Logger

	mu       sync.Mutex
	progress Progress
}

// Progress is an atomic snapshot of the current (or last) run.
type Progress struct {
	RunID     string    `json:"run_id"`
	Running   bool      `json:"running"`
	Selected  int       `json:"selected"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	TimedOut  int       `json:"timed_out"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

// Result is the outcome of one run.
type Result struct {
	RunID       string
	Fitness     []float64 // nil when no objective is registered
	Summary     Progress
	Fingerprint string
	Elapsed     time.Duration
}

// New validates the configuration, loads the sites-info table, and wires the
// orchestrator. Configuration errors are fatal here, before any task runs.
func New(cfg *config.Config, store *logstore.Store, reg *registry.Registry) (*Workspace, error) {
	info, err := os.Stat(cfg.Model.Executable)
	if err != nil {
		return nil, fmt.Errorf("simulation executable not found: %s", cfg.Model.Executable)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return nil, fmt.Errorf("simulation executable is not executable: %s", cfg.Model.Executable)
	}

	rule, err := selection.Parse(cfg.Sites.Select)
	if err != nil {
		return nil, err
	}

	sites, err := site.LoadTable(cfg.Sites.Info, site.Dirs{
		Schedule: cfg.Sites.ScheduleDir,
		Weather:  cfg.Sites.WeatherDir,
		Soil:     cfg.Sites.SoilDir,
		Site:     cfg.Sites.SiteDir,
	})
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{cfg.OutputDir, cfg.LogDir, cfg.CacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace directory %s: %w", dir, err)
		}
	}

	logger := log.WithComponent("workspace")
	if rule.IsRandom() && cfg.Sites.Seed == nil {
		logger.Warn("random selection rule without an explicit seed: repeated runs use the fixed default seed",
			"rule", rule.String(), "default_seed", selection.DefaultSeed)
	}

	return &Workspace{
		cfg:      cfg,
		store:    store,
		registry: reg,
		runner:   simulator.New(cfg),
		rule:     rule,
		sites:    sites,
		hub:      events.NewHub(256),
		logger:   logger,
	}, nil
}

// SetExecutor replaces the execution adapter; intended for tests.
func (w *Workspace) SetExecutor(e Executor) { w.runner = e }

// Hub exposes the progress event stream.
func (w *Workspace) Hub() *events.Hub { return w.hub }

// Store exposes the log store for read-only surfaces.
func (w *Workspace) Store() *logstore.Store { return w.store }

// Sites returns the full (unselected) site list.
func (w *Workspace) Sites() []*site.Site { return w.sites }

// Progress returns a snapshot of the current run's counters.
func (w *Workspace) Progress() Progress {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.progress
}

func (w *Workspace) seed() int64 {
	if w.cfg.Sites.Seed != nil {
		return *w.cfg.Sites.Seed
	}
	return selection.DefaultSeed
}

func (w *Workspace) workers(taskCount int) int {
	n := w.cfg.Workspace.Workers
	if n <= 0 {
		n = 2 * runtime.GOMAXPROCS(0)
	}
	if n > taskCount {
		n = taskCount
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Run executes one full batch: select sites, dispatch each onto the bounded
// worker pool, post-process completions, then aggregate. Individual task
// failures never escape; only configuration and objective errors do.
func (w *Workspace) Run(ctx context.Context) (*Result, error) {
	runID := uuid.NewString()
	runLogger := w.logger.With("run_id", runID)
	start := time.Now()

	selected, err := w.rule.Apply(w.sites, w.seed())
	if err != nil {
		return nil, err
	}

	fingerprint, err := config.Fingerprint(w.cfg.Sites.Info, w.cfg.Model.Executable)
	if err != nil {
		return nil, fmt.Errorf("compute run fingerprint: %w", err)
	}

	if w.cfg.Workspace.ClearLogs {
		if err := w.ClearLogs(ctx); err != nil {
			return nil, err
		}
	}
	if w.cfg.Workspace.ClearOutputs {
		if err := w.ClearOutputs(); err != nil {
			return nil, err
		}
	}

	w.mu.Lock()
	w.progress = Progress{
		RunID:     runID,
		Running:   true,
		Selected:  len(selected),
		StartedAt: start.UTC(),
	}
	w.mu.Unlock()

	runLogger.Info("run started",
		"sites", len(selected), "rule", w.rule.String(),
		"workers", w.workers(len(selected)), "fingerprint", fingerprint)
	w.hub.Publish(events.TypeRunStarted, events.RunEvent{
		RunID: runID, Selected: len(selected), Rule: w.rule.String(),
	})

	w.dispatch(ctx, runID, selected)

	summary := w.Progress()
	summary.Running = false

	fitness, err := w.aggregate(ctx, runLogger)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.progress.Running = false
	w.mu.Unlock()

	elapsed := time.Since(start)
	runLogger.Info("run finished",
		"completed", summary.Completed, "failed", summary.Failed,
		"timed_out", summary.TimedOut, "elapsed", elapsed)
	w.hub.Publish(events.TypeRunFinished, events.RunEvent{RunID: runID, Selected: len(selected)})

	return &Result{
		RunID:       runID,
		Fitness:     fitness,
		Summary:     summary,
		Fingerprint: fingerprint,
		Elapsed:     elapsed,
	}, nil
}

// dispatch feeds every selected site through the bounded worker pool and
// blocks until all tasks are terminal. Task ordering is unspecified.
func (w *Workspace) dispatch(ctx context.Context, runID string, selected []*site.Site) {
	tasks := make(chan *site.Site)
	var wg sync.WaitGroup

	for i := 0; i < w.workers(len(selected)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range tasks {
				w.runTask(ctx, runID, s)
			}
		}()
	}

	for _, s := range selected {
		tasks <- s
	}
	close(tasks)
	wg.Wait()
}

// runTask executes one site and, on completion, synchronously invokes every
// registered routine before the worker is released back to the pool.
func (w *Workspace) runTask(ctx context.Context, runID string, s *site.Site) {
	taskLogger := w.logger.With("run_id", runID, "site_id", s.ID)
	w.hub.Publish(events.TypeTaskStarted, events.TaskEvent{RunID: runID, SiteID: s.ID})

	status, err := w.runner.Execute(ctx, runID, s)

	switch status {
	case simulator.StatusCompleted:
		w.runRoutines(ctx, taskLogger, s)
		w.bump(func(p *Progress) { p.Completed++ })
		w.hub.Publish(events.TypeTaskCompleted, events.TaskEvent{RunID: runID, SiteID: s.ID, Status: string(status)})

	case simulator.StatusTimedOut:
		taskLogger.Warn("task timed out", "error", err)
		w.bump(func(p *Progress) { p.TimedOut++ })
		w.hub.Publish(events.TypeTaskTimedOut, events.TaskEvent{RunID: runID, SiteID: s.ID, Status: string(status)})

	default:
		taskLogger.Warn("task failed", "error", err)
		w.bump(func(p *Progress) { p.Failed++ })
		w.hub.Publish(events.TypeTaskFailed, events.TaskEvent{RunID: runID, SiteID: s.ID, Status: string(status)})
	}
}

// runRoutines invokes every registered routine against a completed site. A
// routine that errors or panics yields an all-missing log entry for its
// (routine, site) pair; it never aborts the batch.
func (w *Workspace) runRoutines(ctx context.Context, taskLogger *slog.Logger, s *site.Site) {
	for _, rt := range w.registry.Routines() {
		metrics := w.invokeRoutine(taskLogger, rt, s)
		if err := w.store.Put(ctx, rt.Name, s.ID, metrics); err != nil {
			taskLogger.Error("failed to record metrics", "routine", rt.Name, "error", err)
		}
	}
}

func (w *Workspace) invokeRoutine(taskLogger *slog.Logger, rt registry.Routine, s *site.Site) (metrics logstore.Metrics) {
	defer func() {
		if r := recover(); r != nil {
			taskLogger.Warn("routine panicked", "routine", rt.Name, "panic", r)
			metrics = logstore.Metrics{}
		}
	}()

	m, err := rt.Fn(s)
	if err != nil {
		taskLogger.Warn("routine failed", "routine", rt.Name, "error", err)
		return logstore.Metrics{}
	}
	if m == nil {
		return logstore.Metrics{}
	}
	return m
}

// aggregate invokes objectives in registration order and concatenates their
// components. An objective error breaks the optimizer contract and is fatal.
func (w *Workspace) aggregate(ctx context.Context, runLogger *slog.Logger) ([]float64, error) {
	if !w.registry.HasObjective() {
		return nil, nil
	}

	var fitness []float64
	for _, obj := range w.registry.Objectives() {
		components, err := obj.Fn(ctx)
		if err != nil {
			return nil, fmt.Errorf("objective %q: %w", obj.Name, err)
		}
		runLogger.Debug("objective evaluated", "objective", obj.Name, "components", components)
		fitness = append(fitness, components...)
	}
	return fitness, nil
}

func (w *Workspace) bump(f func(*Progress)) {
	w.mu.Lock()
	f(&w.progress)
	w.mu.Unlock()
}

// ClearLogs empties the metric store and resets the run-log directory.
func (w *Workspace) ClearLogs(ctx context.Context) error {
	if err := w.store.Clear(ctx); err != nil {
		return err
	}
	return resetDir(w.cfg.LogDir)
}

// ClearOutputs removes previously collected output files.
func (w *Workspace) ClearOutputs() error {
	return resetDir(w.cfg.OutputDir)
}

func resetDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("recreate directory %s: %w", dir, err)
	}
	return nil
}
