package metrics

import "time"

// Series names recorded by the calibration loop
const (
	SeriesFitness     = "fitness"
	SeriesBestFitness = "best_fitness"
	SeriesEpisodeMs   = "episode_ms"
)

// RunLabels returns the label set of one calibration run
func RunLabels(runID string) map[string]string {
	return map[string]string{"run_id": runID}
}

// RecordEvaluation records an evaluation's fitness and the best so far
func RecordEvaluation(c *Collector, runID string, fitness, best float64, at time.Time) {
	labels := RunLabels(runID)
	c.Record(SeriesFitness, fitness, at, labels)
	c.Record(SeriesBestFitness, best, at, labels)
}

// RecordEpisode records the wall-clock duration of one episode
func RecordEpisode(c *Collector, runID string, d time.Duration) {
	c.RecordNow(SeriesEpisodeMs, float64(d)/float64(time.Millisecond), RunLabels(runID))
}

// FitnessHistory returns the fitness values of a run in evaluation order
func FitnessHistory(c *Collector, runID string) []float64 {
	points := c.Series(SeriesFitness, RunLabels(runID))
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}
