package batch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/calibration-core/internal/calibration"
	"github.com/GoSim-25-26J-441/calibration-core/internal/episode"
	"github.com/GoSim-25-26J-441/calibration-core/internal/metrics"
	"github.com/GoSim-25-26J-441/calibration-core/internal/store"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/logger"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/models"
)

// Options configures a batch
type Options struct {
	// Workers bounds the calibrations running at once. Values below one
	// mean one.
	Workers int
	// Loader reads each pair's trajectory; store.Loader by default
	Loader    episode.TrajectoryLoader
	Logger    *slog.Logger
	Metrics   *metrics.Registry
	Collector *metrics.Collector
	// SkipArtifacts disables per-run best trajectory files
	SkipArtifacts bool
}

// Summary is the outcome of a batch
type Summary struct {
	Outcomes  []calibration.Outcome
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Results returns the results of the successful runs in input order
func (s *Summary) Results() []models.Result {
	out := make([]models.Result, 0, s.Succeeded)
	for _, o := range s.Outcomes {
		if o.Succeeded() {
			out = append(out, *o.Result)
		}
	}
	return out
}

// Run calibrates every configuration. A failed run never stops the
// others; outcomes keep the order of configs.
func Run(ctx context.Context, configs []*config.Config, opts Options) *Summary {
	started := time.Now()
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default
	}
	loader := opts.Loader
	if loader == nil {
		loader = store.Loader{}
	}

	semaphore := make(chan struct{}, workers)
	var wg sync.WaitGroup
	outcomes := make([]calibration.Outcome, len(configs))

	for i, cfg := range configs {
		wg.Add(1)
		go func(idx int, cfg *config.Config) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if err := ctx.Err(); err != nil {
				outcomes[idx] = calibration.Outcome{RunID: cfg.Metadata.RunID, Err: err}
				return
			}
			outcomes[idx] = calibration.Run(ctx, calibration.Options{
				Config:        cfg,
				Loader:        loader,
				Logger:        log,
				Metrics:       opts.Metrics,
				Collector:     opts.Collector,
				SkipArtifacts: opts.SkipArtifacts,
			})
		}(i, cfg)
	}
	wg.Wait()

	summary := &Summary{Outcomes: outcomes, Duration: time.Since(started)}
	for _, o := range outcomes {
		if o.Succeeded() {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	log.Info("batch finished",
		"runs", len(outcomes),
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duration", summary.Duration)
	return summary
}

// Dump appends the successful results to the results database at path and
// returns how many were written
func Dump(ctx context.Context, path string, summary *Summary) (int, error) {
	results := summary.Results()
	if len(results) == 0 {
		return 0, nil
	}
	s, err := store.Open(ctx, path)
	if err != nil {
		return 0, err
	}
	defer s.Close()
	if err := s.SaveResults(ctx, results); err != nil {
		return 0, fmt.Errorf("failed to save results: %w", err)
	}
	return len(results), nil
}

// ResultsPath is where a batch built from template stores its results
func ResultsPath(template *config.Config) string {
	if template.Batch != nil && template.Batch.ResultsDB != "" {
		return template.Batch.ResultsDB
	}
	return filepath.Join(template.Metadata.Output, store.ResultsFile)
}

// Execute expands template over its pairs, calibrates them and dumps the
// successful results. opts.Workers is taken from the template when unset.
func Execute(ctx context.Context, template *config.Config, opts Options) (*Summary, error) {
	configs, err := Pairs(ctx, template)
	if err != nil {
		return nil, err
	}
	if opts.Workers == 0 && template.Batch != nil {
		opts.Workers = template.Batch.Workers
	}

	summary := Run(ctx, configs, opts)
	path := ResultsPath(template)
	n, err := Dump(ctx, path, summary)
	if err != nil {
		return summary, err
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default
	}
	log.Info("results saved", "path", path, "rows", n)
	return summary, nil
}
