package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/calibration-core/internal/calibration"
	"github.com/GoSim-25-26J-441/calibration-core/internal/metrics"
	"github.com/GoSim-25-26J-441/calibration-core/internal/store"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/models"
)

func f(v float64) *float64 { return &v }

func template(t *testing.T, dbPath string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Metadata: config.Metadata{Cwd: filepath.Join(dir, "runs"), Output: filepath.Join(dir, "out")},
		Simulation: config.Simulation{
			Backend:    config.BackendKinematic,
			StepLength: 0.1,
			RouteName:  "r_0",
			TargetLane: "E2_0",
			LaneLength: 5000,
		},
		Error: config.Error{Metric: "nrmse_s_v", Method: "spacing"},
		CFModel: config.CFModel{
			Model: "IDM",
			Parameters: map[string]config.Parameter{
				"tau":   {Value: f(1.2)},
				"accel": {Value: f(1.5)},
			},
		},
		Optimization: config.Optimization{Mode: config.ModeFixed},
		Trajectory:   config.Trajectory{DBPath: dbPath, StepLength: 0.1},
		Batch:        &config.Batch{Workers: 2},
	}
}

// pairRows records a follower 30 m behind its leader, both at 10 m/s
func pairRows(leader int64, follower config.FollowerKey, seconds int) []store.TrajectoryRow {
	var rows []store.TrajectoryRow
	for i := 0; i <= seconds*10; i++ {
		tm := float64(i) / 10
		rows = append(rows, store.TrajectoryRow{
			VehicleID:      follower.VehicleID,
			Lane:           follower.Lane,
			LaneIndex:      follower.LaneIndex,
			LeaderID:       leader,
			OtherLeader:    follower.OtherLeader,
			EpochMs:        1_700_000_000_000 + int64(i)*100,
			Position:       70 + 10*tm,
			Velocity:       10,
			Length:         5,
			LeaderPosition: models.Float(100 + 10*tm),
			LeaderVelocity: models.Float(10),
			LeaderLength:   5,
		})
	}
	return rows
}

var (
	followerA = config.FollowerKey{VehicleID: 10, Lane: "EB", LaneIndex: 1}
	followerB = config.FollowerKey{VehicleID: 20, Lane: "EB", LaneIndex: 2}
	followerC = config.FollowerKey{VehicleID: 30, Lane: "WB", LaneIndex: 1}
)

// seed writes two pairs with data and one pair without
func seed(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trajectories.db")
	s, err := store.Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.InsertTrajectoryRows(ctx, pairRows(1, followerA, 4)))
	require.NoError(t, s.InsertTrajectoryRows(ctx, pairRows(2, followerB, 4)))
	require.NoError(t, s.InsertPairs(ctx, []store.Pair{
		{LeaderID: 1, Follower: followerA},
		{LeaderID: 2, Follower: followerB},
		{LeaderID: 3, Follower: followerC},
	}))
	return path
}

func TestPairConfigs(t *testing.T) {
	tmpl := template(t, "unused.db")
	pairs := []store.Pair{{LeaderID: 1, Follower: followerA}, {LeaderID: 2, Follower: followerB}}

	configs := PairConfigs(tmpl, pairs)
	require.Len(t, configs, 2)
	for i, cfg := range configs {
		require.NotNil(t, cfg.Trajectory.LeaderID)
		assert.Equal(t, pairs[i].LeaderID, *cfg.Trajectory.LeaderID)
		assert.Equal(t, pairs[i].Follower, cfg.Trajectory.Follower)
	}
	assert.Equal(t, "0", configs[0].Metadata.RunID)
	assert.Equal(t, "1", configs[1].Metadata.RunID)
	assert.Equal(t, filepath.Join(tmpl.Metadata.Cwd, "1"), configs[1].Metadata.Cwd)

	configs[0].CFModel.Parameters["tau"] = config.Parameter{Value: f(9)}
	assert.Equal(t, 1.2, *tmpl.CFModel.Parameters["tau"].Value, "copies never alias the template")
	assert.Nil(t, tmpl.Trajectory.LeaderID)
}

func TestPairConfigsWithPresetLeader(t *testing.T) {
	tmpl := template(t, "unused.db")
	leader := int64(42)
	tmpl.Trajectory.LeaderID = &leader
	tmpl.Metadata.RunID = "solo"

	configs := PairConfigs(tmpl, []store.Pair{{LeaderID: 1}, {LeaderID: 2}})
	require.Len(t, configs, 1)
	assert.Equal(t, "solo", configs[0].Metadata.RunID)
	assert.Equal(t, tmpl.Metadata.Cwd, configs[0].Metadata.Cwd)
	assert.Equal(t, int64(42), *configs[0].Trajectory.LeaderID)
}

func TestPairsHonoursLimit(t *testing.T) {
	tmpl := template(t, seed(t))
	tmpl.Batch.PairsLimit = 2

	configs, err := Pairs(context.Background(), tmpl)
	require.NoError(t, err)
	assert.Len(t, configs, 2)

	tmpl.Trajectory.DBPath = filepath.Join(t.TempDir(), "missing.db")
	_, err = Pairs(context.Background(), tmpl)
	assert.Error(t, err)
}

type failingLister struct{}

func (failingLister) Pairs(context.Context, int) ([]store.Pair, error) {
	return nil, errors.New("table missing")
}

func TestPairsListerError(t *testing.T) {
	_, err := pairsFrom(context.Background(), template(t, "x.db"), failingLister{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table missing")
}

func TestExecute(t *testing.T) {
	tmpl := template(t, seed(t))
	reg := metrics.NewRegistry()

	summary, err := Execute(context.Background(), tmpl, Options{Metrics: reg, SkipArtifacts: true})
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 3)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	assert.True(t, summary.Outcomes[0].Succeeded())
	assert.True(t, summary.Outcomes[1].Succeeded())
	assert.False(t, summary.Outcomes[2].Succeeded(), "the pair without data fails")
	assert.Equal(t, "2", summary.Outcomes[2].RunID)
	assert.Equal(t, int64(2), reg.RunsSucceeded.Count())
	assert.Equal(t, int64(1), reg.RunsFailed.Count())

	for _, id := range []string{"0", "1"} {
		_, err := os.Stat(filepath.Join(tmpl.Metadata.Cwd, id))
		assert.NoError(t, err, "run %s has its own working directory", id)
	}

	s, err := store.Open(context.Background(), ResultsPath(tmpl))
	require.NoError(t, err)
	defer s.Close()
	results, err := s.Results(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "0", results[0].RunID)
	assert.Equal(t, int64(1), results[0].LeaderID)
	assert.Equal(t, int64(10), results[0].FollowerID)
	assert.Equal(t, "1", results[1].RunID)
	assert.Equal(t, config.ModeFixed, results[1].Mode)
	assert.Less(t, results[1].Fitness, models.CollisionThreshold)
}

func TestRunCancelledContext(t *testing.T) {
	tmpl := template(t, seed(t))
	configs, err := Pairs(context.Background(), tmpl)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary := Run(ctx, configs, Options{Workers: 1, Metrics: metrics.NewRegistry(), SkipArtifacts: true})
	assert.Equal(t, 0, summary.Succeeded)
	assert.Equal(t, 3, summary.Failed)
	for _, o := range summary.Outcomes {
		assert.ErrorIs(t, o.Err, context.Canceled)
	}
}

func TestDumpWithoutResultsWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	n, err := Dump(context.Background(), path, &Summary{Outcomes: []calibration.Outcome{{RunID: "0", Err: errors.New("x")}}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestResultsPath(t *testing.T) {
	tmpl := template(t, "x.db")
	assert.Equal(t, filepath.Join(tmpl.Metadata.Output, "results.db"), ResultsPath(tmpl))
	tmpl.Batch.ResultsDB = "/tmp/custom.db"
	assert.Equal(t, "/tmp/custom.db", ResultsPath(tmpl))
}
