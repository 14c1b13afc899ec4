package scoring

import (
	"fmt"

	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/models"
)

// Quantity is the per-row column a metric is computed over
type Quantity string

const (
	QuantitySpacing  Quantity = "spacing"
	QuantityVelocity Quantity = "velocity"
	QuantityAccel    Quantity = "accel"
)

// suffix is the key suffix used in ErrorBundle
func (q Quantity) suffix() string {
	if q == QuantitySpacing {
		return "s"
	}
	return string(q)
}

// Composite metric names. They ignore the configured method.
const (
	MetricNRMSESpacingVelocity      = "nrmse_s_v"
	MetricNRMSESpacingVelocityAccel = "nrmse_s_v_a"
)

// metricOrder fixes the order in which the full bundle is computed
var metricOrder = []string{"rmsn", "rmspe", "mpe", "nrmse", "rmse"}

var metricFuncs = map[string]MetricFunc{
	"rmse":  RMSE,
	"rmsn":  RMSN,
	"rmspe": RMSPE,
	"mpe":   MPE,
	"nrmse": NRMSE,
}

// Names lists every metric name ParseErrorConfig accepts
func Names() []string {
	names := append([]string(nil), metricOrder...)
	return append(names, MetricNRMSESpacingVelocity, MetricNRMSESpacingVelocityAccel)
}

// ErrorConfig is a resolved error section. It is built once and never mutated.
type ErrorConfig struct {
	Metric       string
	Method       Quantity
	IncludeAccel bool

	eval func(rows []models.Row) float64
}

// ParseErrorConfig resolves the configured metric name into a function
func ParseErrorConfig(cfg config.Error) (ErrorConfig, error) {
	ec := ErrorConfig{
		Metric:       cfg.Metric,
		Method:       Quantity(cfg.Method),
		IncludeAccel: cfg.IncludeAccel,
	}
	switch ec.Method {
	case QuantitySpacing, QuantityVelocity:
	case "":
		ec.Method = QuantitySpacing
	default:
		return ErrorConfig{}, fmt.Errorf("invalid method: %s", cfg.Method)
	}

	switch cfg.Metric {
	case MetricNRMSESpacingVelocity:
		ec.eval = nrmseSpacingVelocity
	case MetricNRMSESpacingVelocityAccel:
		ec.eval = nrmseSpacingVelocityAccel
	default:
		fn, ok := metricFuncs[cfg.Metric]
		if !ok {
			return ErrorConfig{}, &UnknownMetricError{Metric: cfg.Metric}
		}
		method := ec.Method
		ec.eval = func(rows []models.Row) float64 {
			real, sim := Columns(rows, method)
			return fn(real, sim)
		}
	}
	return ec, nil
}

// Evaluate computes the configured metric over already joined rows
func (ec ErrorConfig) Evaluate(rows []models.Row) float64 {
	if ec.eval == nil {
		return nrmseSpacingVelocity(rows)
	}
	return ec.eval(rows)
}

// Score joins the recorded and simulated tables and computes the single
// configured metric
func Score(real, sim *models.Table, ec ErrorConfig) float64 {
	return ec.Evaluate(models.Join(real, sim))
}

// ErrorBundle holds every diagnostic metric of one comparison
type ErrorBundle struct {
	Values   map[string]float64 `json:"values"`
	Selected string             `json:"selected"`
}

// Fitness returns the value of the configured metric
func (b ErrorBundle) Fitness() float64 {
	return b.Values[b.Selected]
}

// Metrics computes the full diagnostic bundle
func Metrics(real, sim *models.Table, ec ErrorConfig) ErrorBundle {
	return MetricsForRows(models.Join(real, sim), ec)
}

// MetricsForRows computes the full diagnostic bundle over joined rows
func MetricsForRows(rows []models.Row, ec ErrorConfig) ErrorBundle {
	quantities := []Quantity{QuantitySpacing, QuantityVelocity}
	if ec.IncludeAccel {
		quantities = append(quantities, QuantityAccel)
	}

	values := make(map[string]float64, len(metricOrder)*len(quantities)+2)
	for _, name := range metricOrder {
		fn := metricFuncs[name]
		for _, q := range quantities {
			real, sim := Columns(rows, q)
			values[name+"_"+q.suffix()] = fn(real, sim)
		}
	}
	values[MetricNRMSESpacingVelocity] = nrmseSpacingVelocity(rows)
	if ec.IncludeAccel || ec.Metric == MetricNRMSESpacingVelocityAccel {
		values[MetricNRMSESpacingVelocityAccel] = nrmseSpacingVelocityAccel(rows)
	}

	selected := ec.Metric
	if _, single := metricFuncs[selected]; single {
		selected = selected + "_" + ec.Method.suffix()
	}
	if selected == "" {
		selected = MetricNRMSESpacingVelocity
	}
	return ErrorBundle{Values: values, Selected: selected}
}

// Columns extracts the follower's recorded and simulated column for q.
// Acceleration only uses rows that carry it on both legs.
func Columns(rows []models.Row, q Quantity) (real, sim []float64) {
	real = make([]float64, 0, len(rows))
	sim = make([]float64, 0, len(rows))
	for _, r := range rows {
		switch q {
		case QuantitySpacing:
			real = append(real, r.Spacing)
			sim = append(sim, r.SpacingSim)
		case QuantityVelocity:
			real = append(real, r.FollowV)
			sim = append(sim, r.FollowSimV)
		case QuantityAccel:
			if !r.HasAccel {
				continue
			}
			real = append(real, r.FollowA)
			sim = append(sim, r.FollowSimA)
		}
	}
	return real, sim
}

func nrmseOf(rows []models.Row, q Quantity) float64 {
	real, sim := Columns(rows, q)
	return NRMSE(real, sim)
}

func nrmseSpacingVelocity(rows []models.Row) float64 {
	return nrmseOf(rows, QuantitySpacing) + nrmseOf(rows, QuantityVelocity)
}

func nrmseSpacingVelocityAccel(rows []models.Row) float64 {
	return (nrmseOf(rows, QuantitySpacing) + nrmseOf(rows, QuantityVelocity) + nrmseOf(rows, QuantityAccel)) / 3
}

// UnknownMetricError indicates a metric name outside the registry
type UnknownMetricError struct {
	Metric string
}

func (e *UnknownMetricError) Error() string {
	return "unknown metric: " + e.Metric
}
