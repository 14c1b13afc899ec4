package calibd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/GoSim-25-26J-441/calibration-core/internal/calibration"
	"github.com/GoSim-25-26J-441/calibration-core/internal/episode"
	"github.com/GoSim-25-26J-441/calibration-core/internal/metrics"
	"github.com/GoSim-25-26J-441/calibration-core/internal/store"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/logger"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrRunTerminal  = errors.New("run is terminal")
	ErrRunIDMissing = errors.New("run_id is required")
)

// ExecutorOptions configures a RunExecutor
type ExecutorOptions struct {
	// WorkDir roots the per-run working directories: a run writes to
	// <WorkDir>/<run id>. Empty keeps the directory named by each config.
	WorkDir string
	// Loader reads recorded pairs; store.Loader by default
	Loader        episode.TrajectoryLoader
	Logger        *slog.Logger
	Metrics       *metrics.Registry
	SkipArtifacts bool
	// Notifier reports terminal states to run callbacks; nil disables them
	Notifier *Notifier
}

// RunExecutor manages asynchronous calibrations and per-run cancellation.
type RunExecutor struct {
	store *RunStore
	opts  ExecutorOptions

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewRunExecutor(runs *RunStore, opts ExecutorOptions) *RunExecutor {
	if opts.Loader == nil {
		opts.Loader = store.Loader{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default
	}
	return &RunExecutor{
		store:   runs,
		opts:    opts,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Metrics returns the registry the executor reports to
func (e *RunExecutor) Metrics() *metrics.Registry {
	return e.opts.Metrics
}

// Start begins executing a run asynchronously.
// Returns the updated run state (RUNNING) or an error.
func (e *RunExecutor) Start(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, ErrRunIDMissing
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.store.Get(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	switch {
	case rec.Run.Status == StatusRunning:
		return rec, nil
	case rec.Run.Status.Terminal():
		return nil, fmt.Errorf("%w: %s", ErrRunTerminal, runID)
	}

	updated, err := e.store.SetStatus(runID, StatusRunning, "")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancels[runID] = cancel

	e.wg.Add(1)
	go e.runCalibration(ctx, updated)
	return updated, nil
}

// Stop cancels a run. Pending runs are cancelled without ever starting;
// finished runs are returned unchanged.
func (e *RunExecutor) Stop(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, ErrRunIDMissing
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.store.Get(runID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if cancel, ok := e.cancels[runID]; ok {
		cancel()
		delete(e.cancels, runID)
	}
	rec, err := e.store.SetStatus(runID, StatusCancelled, "")
	if err != nil {
		return nil, err
	}
	e.notify(runID)
	return rec, nil
}

// Wait blocks until every started run has returned
func (e *RunExecutor) Wait() {
	e.wg.Wait()
}

// Shutdown cancels all active runs and waits for them
func (e *RunExecutor) Shutdown() {
	e.mu.Lock()
	for id, cancel := range e.cancels {
		cancel()
		delete(e.cancels, id)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// WorkDir is the directory a run writes its artifacts to
func (e *RunExecutor) WorkDir(rec *RunRecord) string {
	if e.opts.WorkDir != "" {
		return filepath.Join(e.opts.WorkDir, rec.Run.ID)
	}
	return rec.Config.Metadata.Cwd
}

func (e *RunExecutor) runCalibration(ctx context.Context, rec *RunRecord) {
	defer e.wg.Done()
	defer e.cleanup(rec.Run.ID)
	defer e.notify(rec.Run.ID)

	cfg := rec.Config.Clone()
	cfg.Metadata.Cwd = e.WorkDir(rec)

	out := calibration.Run(ctx, calibration.Options{
		Config:        cfg,
		Loader:        e.opts.Loader,
		Logger:        e.opts.Logger.With("run_id", rec.Run.ID),
		Metrics:       e.opts.Metrics,
		Collector:     rec.Collector,
		SkipArtifacts: e.opts.SkipArtifacts,
	})

	if out.Err != nil {
		status := StatusFailed
		if ctx.Err() != nil {
			status = StatusCancelled
		}
		if _, err := e.store.SetStatus(rec.Run.ID, status, out.Err.Error()); err != nil {
			e.opts.Logger.Error("failed to record run failure", "run_id", rec.Run.ID, "error", err)
		}
		return
	}
	if _, err := e.store.Complete(rec.Run.ID, out.Result); err != nil {
		e.opts.Logger.Error("failed to record run result", "run_id", rec.Run.ID, "error", err)
	}
}

func (e *RunExecutor) notify(runID string) {
	if e.opts.Notifier == nil {
		return
	}
	if rec, ok := e.store.claimNotification(runID); ok {
		e.opts.Notifier.Notify(rec)
	}
}

func (e *RunExecutor) cleanup(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.cancels[runID]; ok {
		cancel()
		delete(e.cancels, runID)
	}
}
