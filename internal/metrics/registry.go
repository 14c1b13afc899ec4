package metrics

import (
	"sync/atomic"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// Registered metric names
const (
	NameEpisodes          = "calibration.episodes"
	NameEpisodesCollided  = "calibration.episodes.collided"
	NameEpisodeTime       = "calibration.episode.time"
	NameEvaluations       = "calibration.evaluations"
	NameInfeasibleSkipped = "calibration.evaluations.infeasible"
	NameRunsSucceeded     = "calibration.runs.succeeded"
	NameRunsFailed        = "calibration.runs.failed"
	NameRunsActive        = "calibration.runs.active"
)

// Registry holds the process counters of the calibration pipeline
type Registry struct {
	reg gometrics.Registry

	Episodes          gometrics.Counter
	EpisodesCollided  gometrics.Counter
	EpisodeTime       gometrics.Timer
	Evaluations       gometrics.Counter
	InfeasibleSkipped gometrics.Counter
	RunsSucceeded     gometrics.Counter
	RunsFailed        gometrics.Counter
	RunsActive        gometrics.Gauge

	active atomic.Int64
}

// Default is shared by components that are not given a registry
var Default = NewRegistry()

// NewRegistry creates an isolated registry
func NewRegistry() *Registry {
	r := gometrics.NewRegistry()
	return &Registry{
		reg:               r,
		Episodes:          gometrics.NewRegisteredCounter(NameEpisodes, r),
		EpisodesCollided:  gometrics.NewRegisteredCounter(NameEpisodesCollided, r),
		EpisodeTime:       gometrics.NewRegisteredTimer(NameEpisodeTime, r),
		Evaluations:       gometrics.NewRegisteredCounter(NameEvaluations, r),
		InfeasibleSkipped: gometrics.NewRegisteredCounter(NameInfeasibleSkipped, r),
		RunsSucceeded:     gometrics.NewRegisteredCounter(NameRunsSucceeded, r),
		RunsFailed:        gometrics.NewRegisteredCounter(NameRunsFailed, r),
		RunsActive:        gometrics.NewRegisteredGauge(NameRunsActive, r),
	}
}

// ObserveEpisode records one finished episode
func (r *Registry) ObserveEpisode(d time.Duration, collided bool) {
	r.Episodes.Inc(1)
	r.EpisodeTime.Update(d)
	if collided {
		r.EpisodesCollided.Inc(1)
	}
}

// RunStarted marks one calibration run as active
func (r *Registry) RunStarted() {
	r.RunsActive.Update(r.active.Add(1))
}

// RunFinished counts a finished run and updates the active gauge
func (r *Registry) RunFinished(err error) {
	r.RunsActive.Update(r.active.Add(-1))
	if err != nil {
		r.RunsFailed.Inc(1)
		return
	}
	r.RunsSucceeded.Inc(1)
}

// Snapshot returns the current values keyed by metric name
func (r *Registry) Snapshot() map[string]any {
	out := map[string]any{}
	r.reg.Each(func(name string, m interface{}) {
		switch v := m.(type) {
		case gometrics.Counter:
			out[name] = v.Count()
		case gometrics.Gauge:
			out[name] = v.Value()
		case gometrics.Timer:
			s := v.Snapshot()
			out[name] = map[string]any{
				"count":   s.Count(),
				"mean_ms": s.Mean() / float64(time.Millisecond),
				"p95_ms":  s.Percentile(0.95) / float64(time.Millisecond),
				"max_ms":  float64(s.Max()) / float64(time.Millisecond),
			}
		}
	})
	return out
}
