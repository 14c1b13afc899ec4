package optimizer

import (
	"fmt"
	"math"
)

// NoImprovement signals convergence once Window evaluations have passed
// since the best value was seen
type NoImprovement struct {
	Window int

	best   float64
	bestAt int
	seen   int
}

// NewNoImprovement creates a stopper with the given window
func NewNoImprovement(window int) *NoImprovement {
	return &NoImprovement{Window: window}
}

// Observe records one evaluation and reports whether the search should stop.
// NaN counts as the worst possible value.
func (s *NoImprovement) Observe(f float64) bool {
	if math.IsNaN(f) {
		f = math.Inf(1)
	}
	s.seen++
	if s.seen == 1 || f < s.best {
		s.best = f
		s.bestAt = s.seen
		return false
	}
	return s.Window > 0 && s.seen-s.bestAt > s.Window
}

// Best returns the lowest value observed and the evaluation it came from
func (s *NoImprovement) Best() (float64, int) {
	return s.best, s.bestAt
}

func (s *NoImprovement) String() string {
	return fmt.Sprintf("no improvement for %d evaluations (best at evaluation %d)", s.seen-s.bestAt, s.bestAt)
}
