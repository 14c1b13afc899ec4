package calibd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/calibration-core/internal/episode"
	"github.com/GoSim-25-26J-441/calibration-core/internal/metrics"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/models"
)

const testConfigYAML = `
log_level: info
simulation:
  backend: kinematic
  step_length: 0.1
  lane_length: 5000
error:
  metric: rmse
  method: spacing
cf_model:
  model: IDM
  parameters:
    tau:
      value: 1.2
      search_space: uniform
      args: [0.5, 2.5]
    accel:
      value: 1.5
      search_space: uniform
      args: [0.5, 3.0]
optimization:
  mode: optimize
  algorithm: NelderMead
  budget: 1
  early_stopping: false
  seed: 7
trajectory:
  step_length: 0.1
`

// staticLoader serves a follower driving 30 m behind a steady leader
type staticLoader struct{}

func (staticLoader) LoadTrajectory(context.Context, *config.Config) (*models.Trajectory, error) {
	traj := &models.Trajectory{}
	for i := 0; i <= 40; i++ {
		tm := float64(i) / 10
		traj.Lead = append(traj.Lead, models.TimeStep{Time: tm, Velocity: models.Float(10), Position: 100 + 10*tm, Length: 5})
		traj.Follow = append(traj.Follow, models.TimeStep{Time: tm, Velocity: models.Float(10), Position: 70 + 10*tm, Length: 5})
	}
	return traj, nil
}

// blockingLoader holds the run until it is cancelled
type blockingLoader struct {
	entered chan struct{}
}

func (l blockingLoader) LoadTrajectory(ctx context.Context, _ *config.Config) (*models.Trajectory, error) {
	close(l.entered)
	<-ctx.Done()
	return nil, ctx.Err()
}

type failingLoader struct{}

func (failingLoader) LoadTrajectory(context.Context, *config.Config) (*models.Trajectory, error) {
	return nil, errors.New("pair not recorded")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.ParseConfigYAMLString(testConfigYAML)
	require.NoError(t, err)
	return cfg
}

func newTestExecutor(t *testing.T, loader episode.TrajectoryLoader) (*RunStore, *RunExecutor) {
	t.Helper()
	store := NewRunStore()
	executor := NewRunExecutor(store, ExecutorOptions{
		WorkDir: t.TempDir(),
		Loader:  loader,
		Metrics: metrics.NewRegistry(),
	})
	t.Cleanup(executor.Shutdown)
	return store, executor
}

func waitForStatus(t *testing.T, store *RunStore, runID string, want Status) *RunRecord {
	t.Helper()
	var rec *RunRecord
	require.Eventually(t, func() bool {
		var ok bool
		rec, ok = store.Get(runID)
		return ok && rec.Run.Status == want
	}, 30*time.Second, 10*time.Millisecond, "run %s never reached %s", runID, want)
	return rec
}
