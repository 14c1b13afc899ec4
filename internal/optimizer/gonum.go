package optimizer

import (
	"context"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/GoSim-25-26J-441/calibration-core/pkg/utils"
)

// methodFactory builds a fresh gonum method for every (re)start
type methodFactory func(dim int, src rand.Source) optimize.Method

// gonumOptimizer drives a gonum/optimize method through the tracker and
// restarts it from a random point whenever the method converges before the
// budget is spent
type gonumOptimizer struct {
	name    string
	restart bool
	method  methodFactory
}

func (g *gonumOptimizer) Name() string { return g.name }

func (g *gonumOptimizer) Minimize(ctx context.Context, p Problem) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.Dim == 0 {
		return evaluateOnce(ctx, p)
	}

	t := newTracker(ctx, p)
	src := utils.NewSource(p.Seed)
	rng := rand.New(src)
	x0 := t.feasibleStart(p.start(), rng)

	for !t.done() {
		before := t.calls
		prob := optimize.Problem{
			Func:   t.gonumFunc,
			Status: t.status,
		}
		settings := &optimize.Settings{
			Converger:       optimize.NeverTerminate{},
			FuncEvaluations: (p.Budget + 1) * MaxConsecutiveInfeasible,
		}
		_, err := optimize.Minimize(prob, x0, settings, g.method(p.Dim, src))
		if t.err != nil {
			return t.result(), t.err
		}
		if err != nil {
			return t.result(), err
		}
		if t.done() || !g.restart || t.calls == before {
			break
		}
		t.restarts++
		x0 = t.feasibleStart(randomPoint(rng, p.Dim), rng)
	}
	return t.result(), nil
}

// unevaluatedPenalty stands in for +Inf. Local gonum methods refuse to
// start from an infinite value.
const unevaluatedPenalty = math.MaxFloat64

func (t *tracker) gonumFunc(x []float64) float64 {
	f := t.eval(x)
	if math.IsInf(f, 1) {
		return unevaluatedPenalty
	}
	return f
}

// status lets gonum stop as soon as the tracker is finished
func (t *tracker) status() (optimize.Status, error) {
	switch {
	case t.err != nil:
		return optimize.Failure, t.err
	case t.reason == ReasonBudget:
		return optimize.FunctionEvaluationLimit, nil
	case t.reason == ReasonEarlyStopping:
		return optimize.FunctionConvergence, nil
	}
	return optimize.NotTerminated, nil
}

func unitBounds(dim int) []r1.Interval {
	b := make([]r1.Interval, dim)
	for i := range b {
		b[i] = r1.Interval{Min: 0, Max: 1}
	}
	return b
}

func randomPoint(rng *rand.Rand, dim int) []float64 {
	x := make([]float64, dim)
	for i := range x {
		x[i] = rng.Float64()
	}
	return x
}

func newRandomSearch(dim int, src rand.Source) optimize.Method {
	return &optimize.GuessAndCheck{Rander: distmv.NewUniform(unitBounds(dim), src)}
}

func newNelderMead(int, rand.Source) optimize.Method {
	return &optimize.NelderMead{SimplexSize: 0.25}
}

func newCMA(_ int, src rand.Source) optimize.Method {
	return &optimize.CmaEsChol{InitStepSize: 0.3, Src: src}
}
