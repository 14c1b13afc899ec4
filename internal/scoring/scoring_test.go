package scoring

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/models"
)

func pair(lead, follow []float64, velocity float64, real bool) *models.Trajectory {
	traj := &models.Trajectory{RealWorld: real}
	for i := range lead {
		t := float64(i)
		traj.Lead = append(traj.Lead, models.TimeStep{Time: t, Position: lead[i], Velocity: models.Float(velocity)})
		traj.Follow = append(traj.Follow, models.TimeStep{Time: t, Position: follow[i], Velocity: models.Float(velocity)})
	}
	return traj
}

func mustParse(t *testing.T, metric, method string, accel bool) ErrorConfig {
	t.Helper()
	ec, err := ParseErrorConfig(config.Error{Metric: metric, Method: method, IncludeAccel: accel})
	require.NoError(t, err)
	return ec
}

func TestExampleScenarioIsZero(t *testing.T) {
	for _, realWorld := range []bool{false, true} {
		real := pair([]float64{0, 5, 10, 15}, []float64{-5, 0, 5, 10}, 5, realWorld)
		sim := pair([]float64{0, 5, 10, 15}, []float64{-5, 0, 5, 10}, 5, false)

		bundle := Metrics(real.Table(), sim.Table(), mustParse(t, "rmse", "spacing", false))
		assert.Equal(t, 0.0, bundle.Values["rmse_s"], "real_world=%v", realWorld)
		assert.Equal(t, 0.0, bundle.Values["nrmse_s"], "real_world=%v", realWorld)
		assert.Equal(t, 0.0, bundle.Values["mpe_s"], "real_world=%v", realWorld)
		assert.Equal(t, "rmse_s", bundle.Selected)
		assert.Equal(t, 0.0, bundle.Fitness())
	}
}

func TestRMSEZeroForIdenticalSeries(t *testing.T) {
	real := []float64{1.5, 2.25, -3, 8}
	assert.Equal(t, 0.0, RMSE(real, append([]float64(nil), real...)))
}

func TestMetricFunctions(t *testing.T) {
	real := []float64{2, 4}
	sim := []float64{3, 2}

	// differences 1 and -2
	assert.InDelta(t, math.Sqrt(2.5), RMSE(real, sim), 1e-12)
	assert.InDelta(t, math.Sqrt(2*2.5)/6, RMSN(real, sim), 1e-12)
	assert.InDelta(t, math.Sqrt((0.25+0.25)/2), RMSPE(real, sim), 1e-12)
	assert.InDelta(t, (0.5-0.5)/2, MPE(real, sim), 1e-12)
	assert.InDelta(t, math.Sqrt(2.5)/math.Sqrt(10), NRMSE(real, sim), 1e-12)
}

func TestMetricsPropagateNaN(t *testing.T) {
	assert.True(t, math.IsNaN(RMSE(nil, nil)))
	assert.True(t, math.IsInf(MPE([]float64{0}, []float64{1}), 1))
}

func TestNRMSESpacingVelocityIsAdditive(t *testing.T) {
	real := pair([]float64{0, 6, 13, 21}, []float64{-8, -3, 3, 10}, 6, false)
	sim := pair([]float64{0, 6, 13, 21}, []float64{-7, -1, 4, 9}, 5.5, false)

	ec := mustParse(t, MetricNRMSESpacingVelocity, "velocity", false)
	bundle := Metrics(real.Table(), sim.Table(), ec)

	assert.Equal(t, bundle.Values["nrmse_s"]+bundle.Values["nrmse_velocity"], bundle.Values["nrmse_s_v"])
	assert.Equal(t, bundle.Values["nrmse_s_v"], Score(real.Table(), sim.Table(), ec))
	assert.Equal(t, "nrmse_s_v", bundle.Selected)
}

func TestScoreUsesMethodColumn(t *testing.T) {
	real := pair([]float64{0, 5, 10}, []float64{-5, 0, 5}, 5, false)
	sim := pair([]float64{0, 5, 10}, []float64{-6, -1, 4}, 4, false)

	spacing := Score(real.Table(), sim.Table(), mustParse(t, "rmse", "spacing", false))
	velocity := Score(real.Table(), sim.Table(), mustParse(t, "rmse", "velocity", false))

	assert.InDelta(t, 1.0, spacing, 1e-12)
	assert.InDelta(t, 1.0, velocity, 1e-12)

	bundle := Metrics(real.Table(), sim.Table(), mustParse(t, "rmse", "velocity", false))
	assert.Equal(t, "rmse_velocity", bundle.Selected)
	assert.InDelta(t, 1.0, bundle.Fitness(), 1e-12)
}

func TestMetricsBundleKeys(t *testing.T) {
	real := pair([]float64{0, 5, 10}, []float64{-5, 0, 5}, 5, false)
	sim := pair([]float64{0, 5, 10}, []float64{-5, 0, 5}, 5, false)
	for i := range real.Follow {
		real.Follow[i].Accel = models.Float(0.5)
		sim.Follow[i].Accel = models.Float(0.5)
	}

	without := Metrics(real.Table(), sim.Table(), mustParse(t, "nrmse_s_v", "spacing", false))
	assert.Len(t, without.Values, 11)
	assert.NotContains(t, without.Values, "nrmse_s_v_a")
	assert.NotContains(t, without.Values, "rmse_accel")

	with := Metrics(real.Table(), sim.Table(), mustParse(t, "nrmse_s_v_a", "spacing", true))
	assert.Len(t, with.Values, 17)
	assert.Contains(t, with.Values, "rmspe_accel")
	assert.Equal(t, 0.0, with.Fitness())
}

func TestParseErrorConfigRejectsUnknownMetric(t *testing.T) {
	_, err := ParseErrorConfig(config.Error{Metric: "mae", Method: "spacing"})
	require.Error(t, err)

	var unknown *UnknownMetricError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "mae", unknown.Metric)
	assert.Contains(t, err.Error(), "unknown metric")
}

func TestParseErrorConfigRejectsUnknownMethod(t *testing.T) {
	_, err := ParseErrorConfig(config.Error{Metric: "rmse", Method: "headway"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid method")
}

func TestNamesAreAllResolvable(t *testing.T) {
	for _, name := range Names() {
		_, err := ParseErrorConfig(config.Error{Metric: name, Method: "spacing"})
		assert.NoError(t, err, name)
	}
}
