// Package calibration searches car-following parameters that make a
// simulated follower reproduce its recorded trajectory.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/GoSim-25-26J-441/calibration-core/internal/episode"
	"github.com/GoSim-25-26J-441/calibration-core/internal/metrics"
	"github.com/GoSim-25-26J-441/calibration-core/internal/optimizer"
	"github.com/GoSim-25-26J-441/calibration-core/internal/paramspace"
	"github.com/GoSim-25-26J-441/calibration-core/internal/report"
	"github.com/GoSim-25-26J-441/calibration-core/internal/simconn"
	"github.com/GoSim-25-26J-441/calibration-core/internal/store"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/logger"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/models"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/utils"
)

// Options configures a Calibrator
type Options struct {
	Config *config.Config
	// Trajectory is the recorded pair. When nil it is read through Loader.
	Trajectory *models.Trajectory
	Loader     episode.TrajectoryLoader
	// Connection overrides the backend selected by the configuration
	Connection simconn.Connection
	Logger     *slog.Logger
	Metrics    *metrics.Registry
	// Collector receives the per-evaluation fitness and per-episode duration
	// series when set
	Collector *metrics.Collector
	// SkipArtifacts disables the best-trajectory database and plot
	SkipArtifacts bool
}

// Calibrator runs one calibration of one leader/follower pair
type Calibrator struct {
	cfg       *config.Config
	space     *paramspace.Space
	opt       optimizer.Optimizer
	runner    *episode.Runner
	log       *slog.Logger
	metrics   *metrics.Registry
	collector *metrics.Collector
	skip      bool
}

// New validates the configuration and resolves the search space and, in
// optimize mode, the optimizer. Nothing is simulated.
func New(opts Options) (*Calibrator, error) {
	if opts.Config == nil {
		return nil, errors.New("calibration requires a config")
	}
	cfg := opts.Config.Clone()
	if cfg.Metadata.RunID == "" {
		cfg.Metadata.RunID = utils.GenerateRunID()
	}

	space, err := paramspace.NewSpace(cfg.CFModel)
	if err != nil {
		return nil, err
	}

	var opt optimizer.Optimizer
	switch cfg.Optimization.Mode {
	case config.ModeOptimize, "":
		opt, err = optimizer.New(cfg.Optimization.Algorithm)
		if err != nil {
			return nil, err
		}
	case config.ModeFixed:
	default:
		return nil, fmt.Errorf("unknown optimization mode: %q", cfg.Optimization.Mode)
	}

	log := opts.Logger
	if log == nil {
		log = logger.Default
	}
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.Default
	}

	runner, err := episode.NewRunner(episode.Options{
		Config:     cfg,
		Trajectory: opts.Trajectory,
		Loader:     opts.Loader,
		Connection: opts.Connection,
		Logger:     log,
		Metrics:    reg,
		Collector:  opts.Collector,
	})
	if err != nil {
		return nil, err
	}

	return &Calibrator{
		cfg:       cfg,
		space:     space,
		opt:       opt,
		runner:    runner,
		log:       log.With("run_id", cfg.Metadata.RunID),
		metrics:   reg,
		collector: opts.Collector,
		skip:      opts.SkipArtifacts,
	}, nil
}

// Config returns the calibrator's configuration snapshot
func (c *Calibrator) Config() *config.Config { return c.cfg }

// RunID returns the run identifier
func (c *Calibrator) RunID() string { return c.cfg.Metadata.RunID }

// Calibrate runs the mode selected by the configuration
func (c *Calibrator) Calibrate(ctx context.Context) (*models.Result, error) {
	if c.opt == nil {
		return c.Fixed(ctx)
	}
	return c.Optimize(ctx)
}

func (c *Calibrator) setup(ctx context.Context) error {
	if err := os.MkdirAll(c.cfg.Metadata.Cwd, 0o755); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}
	return c.runner.Setup(ctx)
}

// Optimize searches the parameter space under the configured budget, then
// reruns the best candidate to collect its metrics and trajectory
func (c *Calibrator) Optimize(ctx context.Context) (*models.Result, error) {
	if c.opt == nil {
		return nil, errors.New("calibrator is in fixed mode")
	}
	started := time.Now()
	timeout, err := c.cfg.Optimization.GetTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid optimization timeout: %w", err)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := c.setup(ctx); err != nil {
		return nil, err
	}
	defer c.runner.Close()

	optLog, err := createOptimizationLog(filepath.Join(c.cfg.Metadata.Cwd, OptimizationLogFile))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := optLog.close(); err != nil {
			c.log.Warn("failed to close optimization log", "error", err)
		}
	}()

	runID := c.RunID()
	best := math.Inf(1)
	problem := optimizer.Problem{
		Dim:     c.space.Dim(),
		Initial: c.space.Initial(),
		Budget:  c.cfg.Optimization.Budget,
		Seed:    c.cfg.Optimization.Seed,
		Objective: func(ctx context.Context, x []float64) (float64, error) {
			return c.runner.Evaluate(ctx, c.space.Decode(x))
		},
		Observe: func(s optimizer.Step) {
			if err := optLog.write(s.Index, c.space.Decode(s.X), s.F); err != nil {
				c.log.Warn("failed to write optimization log", "error", err)
			}
			if s.F < best {
				best = s.F
			}
			c.metrics.Evaluations.Inc(1)
			if c.collector != nil {
				metrics.RecordEvaluation(c.collector, runID, s.F, best, time.Now())
			}
			c.log.Debug("evaluated candidate", "tell", s.Index, "loss", s.F, "best", best)
		},
	}
	if c.space.HasConstraint() {
		problem.Feasible = func(x []float64) bool {
			return c.space.Feasible(c.space.Decode(x))
		}
	}
	if c.cfg.Optimization.EarlyStoppingEnabled() {
		problem.EarlyStopping = c.cfg.Optimization.EarlyStoppingTolerance
	}

	c.log.Info("starting optimization",
		"algorithm", c.opt.Name(),
		"budget", problem.Budget,
		"dimensions", problem.Dim,
		"constrained", problem.Feasible != nil)

	res, err := c.opt.Minimize(ctx, problem)
	if err != nil {
		return nil, fmt.Errorf("optimization failed: %w", err)
	}
	c.metrics.InfeasibleSkipped.Inc(int64(res.Infeasible))
	c.log.Info("optimization finished",
		"evaluations", res.Evaluations,
		"infeasible", res.Infeasible,
		"restarts", res.Restarts,
		"reason", res.Reason,
		"loss", res.F)

	values := c.space.Decode(res.X)
	result, err := c.finish(ctx, values, res.F)
	if err != nil {
		return nil, err
	}
	result.Algorithm = c.opt.Name()
	result.Evaluations = res.Evaluations
	result.OptTime = time.Since(started).Seconds()
	return result, nil
}

// Fixed evaluates the configured parameter values once
func (c *Calibrator) Fixed(ctx context.Context) (*models.Result, error) {
	started := time.Now()
	if err := c.setup(ctx); err != nil {
		return nil, err
	}
	defer c.runner.Close()

	result, err := c.finish(ctx, c.space.Fixed(), math.NaN())
	if err != nil {
		return nil, err
	}
	result.Evaluations = 1
	result.OptTime = time.Since(started).Seconds()
	return result, nil
}

// finish simulates values once more, persists the best trajectory and
// builds the result. A NaN loss takes the rerun's fitness.
func (c *Calibrator) finish(ctx context.Context, values paramspace.Values, loss float64) (*models.Result, error) {
	rerun, err := c.runner.Evaluate(ctx, values)
	if err != nil {
		return nil, fmt.Errorf("failed to rerun best candidate: %w", err)
	}
	if math.IsNaN(loss) {
		loss = rerun
	}
	bundle, err := c.runner.Metrics()
	if err != nil {
		return nil, err
	}

	if !c.skip {
		c.saveArtifacts(ctx, c.runner.BestTrajectory())
	}

	var leaderID int64
	if c.cfg.Trajectory.LeaderID != nil {
		leaderID = *c.cfg.Trajectory.LeaderID
	}
	return &models.Result{
		RunID:      c.RunID(),
		LeaderID:   leaderID,
		FollowerID: c.cfg.Trajectory.Follower.VehicleID,
		CFModel:    c.cfg.CFModel.Model,
		Mode:       c.mode(),
		Params:     values.Clone(),
		Errors:     bundle.Values,
		Fitness:    loss,
		Collision:  loss > models.CollisionThreshold,
	}, nil
}

func (c *Calibrator) mode() string {
	if c.opt == nil {
		return config.ModeFixed
	}
	return config.ModeOptimize
}

// saveArtifacts writes the best trajectory database and its spacing plot.
// Failures are logged; they never fail the calibration.
func (c *Calibrator) saveArtifacts(ctx context.Context, rows []models.BestTrajectoryRow) {
	if len(rows) == 0 {
		c.log.Warn("best trajectory is empty")
		return
	}
	dbPath := filepath.Join(c.cfg.Metadata.Cwd, store.BestTrajectoryFile)
	if err := store.WriteBestTrajectory(ctx, dbPath, rows); err != nil {
		c.log.Warn("failed to save best trajectory", "path", dbPath, "error", err)
	}
	plotPath := filepath.Join(c.cfg.Metadata.Cwd, report.SpacingPlotFile)
	if err := report.WriteSpacingPlot(plotPath, rows); err != nil {
		c.log.Warn("failed to save spacing plot", "path", plotPath, "error", err)
	}
}
