package calibd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/calibration-core/internal/calibration"
	"github.com/GoSim-25-26J-441/calibration-core/internal/metrics"
	"github.com/GoSim-25-26J-441/calibration-core/internal/store"
)

func TestExecutorCompletesRun(t *testing.T) {
	runs, executor := newTestExecutor(t, staticLoader{})
	_, err := runs.Create("ok", testConfig(t))
	require.NoError(t, err)

	started, err := executor.Start("ok")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, started.Run.Status)

	rec := waitForStatus(t, runs, "ok", StatusCompleted)
	require.NotNil(t, rec.Result)
	assert.Equal(t, "ok", rec.Result.RunID)
	assert.Equal(t, 1, rec.Result.Evaluations)
	assert.Contains(t, rec.Result.Params, "tau")
	assert.NotZero(t, rec.Run.EndedAtUnixMs)

	dir := executor.WorkDir(rec)
	for _, name := range []string{calibration.OptimizationLogFile, store.BestTrajectoryFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, "%s is written to the run directory", name)
	}

	assert.Len(t, metrics.FitnessHistory(rec.Collector, "ok"), 1)
	assert.Equal(t, int64(1), executor.Metrics().RunsSucceeded.Count())

	_, err = executor.Start("ok")
	assert.True(t, errors.Is(err, ErrRunTerminal))
}

func TestExecutorRecordsFailure(t *testing.T) {
	runs, executor := newTestExecutor(t, failingLoader{})
	_, err := runs.Create("bad", testConfig(t))
	require.NoError(t, err)
	_, err = executor.Start("bad")
	require.NoError(t, err)

	rec := waitForStatus(t, runs, "bad", StatusFailed)
	assert.Contains(t, rec.Run.Error, "pair not recorded")
	assert.Nil(t, rec.Result)
	assert.Equal(t, int64(1), executor.Metrics().RunsFailed.Count())
}

func TestExecutorStopCancelsRunningRun(t *testing.T) {
	loader := blockingLoader{entered: make(chan struct{})}
	runs, executor := newTestExecutor(t, loader)
	_, err := runs.Create("slow", testConfig(t))
	require.NoError(t, err)
	_, err = executor.Start("slow")
	require.NoError(t, err)
	<-loader.entered

	stopped, err := executor.Stop("slow")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stopped.Run.Status)

	executor.Wait()
	rec, ok := runs.Get("slow")
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, rec.Run.Status)
	assert.Nil(t, rec.Result)
}

func TestExecutorStopPendingRun(t *testing.T) {
	runs, executor := newTestExecutor(t, staticLoader{})
	_, err := runs.Create("p", testConfig(t))
	require.NoError(t, err)

	stopped, err := executor.Stop("p")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stopped.Run.Status)

	_, err = executor.Start("p")
	assert.True(t, errors.Is(err, ErrRunTerminal))
}

func TestExecutorUnknownRun(t *testing.T) {
	_, executor := newTestExecutor(t, staticLoader{})

	_, err := executor.Start("nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))
	_, err = executor.Stop("nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))
	_, err = executor.Start("")
	assert.True(t, errors.Is(err, ErrRunIDMissing))
}
