package scoring

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// MetricFunc compares a recorded column with its simulated counterpart.
// Lower is better. No zero-division guards are applied.
type MetricFunc func(real, sim []float64) float64

func diff(real, sim []float64) []float64 {
	d := make([]float64, len(sim))
	floats.SubTo(d, sim, real)
	return d
}

func meanSquare(x []float64) float64 {
	return floats.Dot(x, x) / float64(len(x))
}

// RMSE is the root mean square error
func RMSE(real, sim []float64) float64 {
	return math.Sqrt(meanSquare(diff(real, sim)))
}

// RMSN is the root mean square error normalized by the recorded sum
func RMSN(real, sim []float64) float64 {
	n := float64(len(real))
	return math.Sqrt(n*meanSquare(diff(real, sim))) / floats.Sum(real)
}

// RMSPE is the root mean square percentage error
func RMSPE(real, sim []float64) float64 {
	d := diff(real, sim)
	floats.Div(d, real)
	return math.Sqrt(meanSquare(d))
}

// MPE is the signed mean percentage error
func MPE(real, sim []float64) float64 {
	d := diff(real, sim)
	floats.Div(d, real)
	return stat.Mean(d, nil)
}

// NRMSE is RMSE normalized by the recorded root mean square
func NRMSE(real, sim []float64) float64 {
	return RMSE(real, sim) / math.Sqrt(meanSquare(real))
}
