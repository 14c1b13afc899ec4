package optimizer

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/GoSim-25-26J-441/calibration-core/pkg/utils"
)

// HillClimb is a coordinate hill-climbing optimizer. Each iteration
// evaluates the two neighbours of the current point along every dimension
// and moves to the best one. When no neighbour improves, the step is
// halved; below MinStep the search restarts from a random point.
type HillClimb struct {
	StepSize float64
	MinStep  float64
}

// NewHillClimb creates a hill-climbing optimizer
func NewHillClimb(stepSize float64) *HillClimb {
	if stepSize <= 0 {
		stepSize = 0.1
	}
	return &HillClimb{StepSize: stepSize, MinStep: stepSize / 64}
}

func (h *HillClimb) Name() string { return AlgorithmHillClimb }

func (h *HillClimb) Minimize(ctx context.Context, p Problem) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.Dim == 0 {
		return evaluateOnce(ctx, p)
	}

	t := newTracker(ctx, p)
	rng := rand.New(utils.NewSource(p.Seed))

	current := t.feasibleStart(p.start(), rng)
	currentScore := t.eval(current)
	step := h.StepSize

	for !t.done() {
		neighbors := h.neighbors(current, step)
		if len(neighbors) == 0 {
			break
		}

		best := current
		bestScore := math.Inf(1)
		for _, n := range neighbors {
			score := t.eval(n)
			if t.done() && t.err != nil {
				return t.result(), t.err
			}
			if score < bestScore {
				best, bestScore = n, score
			}
			if t.done() {
				break
			}
		}

		if bestScore < currentScore {
			current, currentScore = best, bestScore
			continue
		}

		step /= 2
		if step < h.MinStep {
			t.restarts++
			current = randomPoint(rng, p.Dim)
			currentScore = t.eval(current)
			step = h.StepSize
		}
	}
	if t.err != nil {
		return t.result(), t.err
	}
	return t.result(), nil
}

// neighbors moves one coordinate at a time by ±step, staying in the cube
func (h *HillClimb) neighbors(x []float64, step float64) [][]float64 {
	out := make([][]float64, 0, 2*len(x))
	for i := range x {
		for _, delta := range []float64{step, -step} {
			v := x[i] + delta
			if v < 0 || v > 1 {
				continue
			}
			n := append([]float64(nil), x...)
			n[i] = v
			out = append(out, n)
		}
	}
	return out
}
