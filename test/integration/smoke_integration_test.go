//go:build integration
// +build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/calibration-core/internal/calibd"
	"github.com/GoSim-25-26J-441/calibration-core/internal/metrics"
	"github.com/GoSim-25-26J-441/calibration-core/internal/store"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/models"
)

func TestIntegration_ConfigLoadSmoke(t *testing.T) {
	for _, name := range []string{"calibration.yaml", "kinematic.yaml"} {
		path := filepath.Join("..", "..", "config", name)
		cfg, err := config.LoadConfig(path)
		require.NoError(t, err, "LoadConfig(%s)", path)
		assert.NotEmpty(t, cfg.CFModel.Parameters, "%s defines parameters", name)
	}
}

// seedPair records a follower trailing its leader by 30 m at 10 m/s
func seedPair(t *testing.T, path string, follower config.FollowerKey) {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	var rows []store.TrajectoryRow
	for i := 0; i <= 60; i++ {
		tm := float64(i) / 10
		rows = append(rows, store.TrajectoryRow{
			VehicleID:      follower.VehicleID,
			Lane:           follower.Lane,
			LaneIndex:      follower.LaneIndex,
			LeaderID:       3,
			EpochMs:        1_700_000_000_000 + int64(i)*100,
			Position:       70 + 10*tm,
			Velocity:       10,
			Length:         5,
			LeaderPosition: models.Float(100 + 10*tm),
			LeaderVelocity: models.Float(10),
			LeaderLength:   5,
		})
	}
	require.NoError(t, s.InsertTrajectoryRows(ctx, rows))
	require.NoError(t, s.InsertPairs(ctx, []store.Pair{{LeaderID: 3, Follower: follower}}))
}

func TestIntegration_CalibdHTTPFullLifecycle(t *testing.T) {
	dir := t.TempDir()
	follower := config.FollowerKey{VehicleID: 11, Lane: "E2", LaneIndex: 0}
	dbPath := filepath.Join(dir, "trajectories.db")
	seedPair(t, dbPath, follower)

	cfg, err := config.LoadConfig(filepath.Join("..", "..", "config", "kinematic.yaml"))
	require.NoError(t, err)
	leader := int64(3)
	cfg.LogLevel = "warn"
	cfg.Trajectory.DBPath = dbPath
	cfg.Trajectory.LeaderID = &leader
	cfg.Trajectory.Follower = follower
	cfg.Optimization.Budget = 3
	yamlText, err := config.MarshalYAML(cfg)
	require.NoError(t, err)

	runs := calibd.NewRunStore()
	executor := calibd.NewRunExecutor(runs, calibd.ExecutorOptions{
		WorkDir: filepath.Join(dir, "runs"),
		Metrics: metrics.NewRegistry(),
	})
	defer executor.Shutdown()
	srv := httptest.NewServer(calibd.NewHTTPServer(runs, executor).Handler())
	defer srv.Close()

	body, err := json.Marshal(map[string]any{"run_id": "it", "config_yaml": string(yamlText), "start": true})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/v1/runs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.Eventually(t, func() bool {
		rec, ok := runs.Get("it")
		return ok && rec.Run.Status.Terminal()
	}, time.Minute, 20*time.Millisecond)
	rec, _ := runs.Get("it")
	require.Equal(t, calibd.StatusCompleted, rec.Run.Status, rec.Run.Error)
	assert.Positive(t, rec.Result.Evaluations)
	assert.LessOrEqual(t, rec.Result.Evaluations, 3)

	for _, path := range []string{"/v1/runs/it/result", "/v1/runs/it/fitness", "/v1/runs/it/chart", "/v1/runs/it/plot"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
