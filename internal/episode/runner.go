// Package episode replays a recorded leader inside the simulator and
// scores the simulated follower against its recording.
package episode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/GoSim-25-26J-441/calibration-core/internal/metrics"
	"github.com/GoSim-25-26J-441/calibration-core/internal/paramspace"
	"github.com/GoSim-25-26J-441/calibration-core/internal/scoring"
	"github.com/GoSim-25-26J-441/calibration-core/internal/simconn"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/logger"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/models"
)

// VTypeFile is the per-run additional file holding the follower's vType
const VTypeFile = "cf_params.add.xml"

// TrajectoryLoader provides the recorded pair named by a configuration
type TrajectoryLoader interface {
	LoadTrajectory(ctx context.Context, cfg *config.Config) (*models.Trajectory, error)
}

// Options configures a Runner
type Options struct {
	Config *config.Config
	// Trajectory is the recorded pair. When nil it is read through Loader.
	Trajectory *models.Trajectory
	Loader     TrajectoryLoader
	// Connection overrides the backend selected by the configuration
	Connection simconn.Connection
	Logger     *slog.Logger
	Metrics    *metrics.Registry
	// Collector receives per-episode durations when set
	Collector *metrics.Collector
}

// Runner owns one simulator connection and evaluates parameter sets
// against one recorded pair. It is not safe for concurrent use.
type Runner struct {
	cfg       *config.Config
	errCfg    scoring.ErrorConfig
	conn      simconn.Connection
	loader    TrajectoryLoader
	log       *slog.Logger
	metrics   *metrics.Registry
	collector *metrics.Collector

	recorded  *models.Trajectory
	realTable *models.Table
	workDir   string

	state     State
	episodes  int
	simulated *models.Trajectory
}

// NewRunner validates the error configuration and prepares the backend.
// The configuration is deep-copied.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Config == nil {
		return nil, errors.New("episode runner requires a config")
	}
	cfg := opts.Config.Clone()

	errCfg, err := scoring.ParseErrorConfig(cfg.Error)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logger.Default
	}
	conn := opts.Connection
	if conn == nil {
		conn, err = NewConnection(cfg.Simulation, log)
		if err != nil {
			return nil, err
		}
	}
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.Default
	}

	return &Runner{
		cfg:       cfg,
		errCfg:    errCfg,
		conn:      conn,
		loader:    opts.Loader,
		log:       log.With("run_id", cfg.Metadata.RunID, "label", conn.Label()),
		metrics:   reg,
		collector: opts.Collector,
		recorded:  opts.Trajectory,
		workDir:   cfg.Metadata.Cwd,
	}, nil
}

// Setup loads and validates the recorded pair and creates the working
// directory
func (r *Runner) Setup(ctx context.Context) error {
	if r.recorded == nil {
		if r.loader == nil {
			return errors.New("no trajectory or trajectory loader configured")
		}
		traj, err := r.loader.LoadTrajectory(ctx, r.cfg)
		if err != nil {
			return fmt.Errorf("failed to load trajectory: %w", err)
		}
		r.recorded = traj
	}
	if err := r.recorded.Validate(); err != nil {
		return fmt.Errorf("invalid trajectory: %w", err)
	}
	if err := os.MkdirAll(r.workDir, 0o755); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}
	r.realTable = r.recorded.Table()
	r.state = StateReady
	return nil
}

// State returns the state of the current or last episode
func (r *Runner) State() State { return r.state }

// Label returns the connection label
func (r *Runner) Label() string { return r.conn.Label() }

// Config returns the runner's configuration snapshot
func (r *Runner) Config() *config.Config { return r.cfg }

// ErrorConfig returns the resolved error configuration
func (r *Runner) ErrorConfig() scoring.ErrorConfig { return r.errCfg }

// Recorded returns the recorded pair
func (r *Runner) Recorded() *models.Trajectory { return r.recorded }

// Simulated returns the trajectory of the last episode
func (r *Runner) Simulated() *models.Trajectory { return r.simulated }

// VTypePath is where the follower's vType is written for each episode
func (r *Runner) VTypePath() string {
	return filepath.Join(r.workDir, VTypeFile)
}

// Evaluate runs one episode with the given parameter values and returns
// its fitness. A collided episode scores models.CollisionPenalty.
func (r *Runner) Evaluate(ctx context.Context, values paramspace.Values) (float64, error) {
	if r.state == StateUninitialized || r.state == StateRunning {
		return 0, fmt.Errorf("runner cannot evaluate in state %s", r.state)
	}

	path := r.VTypePath()
	if err := paramspace.WriteVTypeFile(path, r.cfg.CFModel.Model, values); err != nil {
		return 0, err
	}
	defer r.teardown(path)

	if err := r.conn.Open(ctx, []string{path}); err != nil {
		r.state = StateReady
		return 0, fmt.Errorf("failed to open simulation: %w", err)
	}

	started := time.Now()
	r.state = StateRunning
	sim, collided, err := r.run(ctx)
	r.simulated = sim
	if err != nil {
		r.state = StateReady
		return 0, err
	}
	elapsed := time.Since(started)
	r.metrics.ObserveEpisode(elapsed, collided)
	if r.collector != nil {
		metrics.RecordEpisode(r.collector, r.cfg.Metadata.RunID, elapsed)
	}

	if collided {
		r.state = StateCollided
		return models.CollisionPenalty, nil
	}
	r.state = StateCompleted
	return scoring.Score(r.realTable, sim.Table(), r.errCfg), nil
}

// teardown removes the vType file and ends the session. Safe to repeat.
func (r *Runner) teardown(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.log.Warn("failed to remove vType file", "path", path, "error", err)
	}
	if r.cfg.Simulation.ReuseProcess {
		return
	}
	if err := r.conn.Close(); err != nil {
		r.log.Warn("failed to close simulation", "error", err)
	}
}

// Close releases the connection for good
func (r *Runner) Close() error {
	return r.conn.Close()
}

// Metrics computes the full diagnostic bundle of the last episode
func (r *Runner) Metrics() (scoring.ErrorBundle, error) {
	if r.simulated == nil {
		return scoring.ErrorBundle{}, errors.New("no episode has been run")
	}
	return scoring.Metrics(r.realTable, r.simulated.Table(), r.errCfg), nil
}

// BestTrajectory returns the joined rows of the last episode annotated
// with the pair identifiers
func (r *Runner) BestTrajectory() []models.BestTrajectoryRow {
	if r.simulated == nil {
		return nil
	}
	var leaderID int64
	if r.cfg.Trajectory.LeaderID != nil {
		leaderID = *r.cfg.Trajectory.LeaderID
	}
	rows := models.Join(r.realTable, r.simulated.Table())
	return models.Annotate(rows, r.cfg.Metadata.RunID, leaderID, r.cfg.Trajectory.Follower.VehicleID)
}
