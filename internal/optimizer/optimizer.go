// Package optimizer runs derivative-free minimisation over the unit cube
// under a fixed evaluation budget.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/GoSim-25-26J-441/calibration-core/pkg/utils"
)

// Objective evaluates one candidate given in unit-cube coordinates
type Objective func(ctx context.Context, x []float64) (float64, error)

// Problem describes one minimisation
type Problem struct {
	Dim int
	// Initial is the starting point. The cube centre is used when nil.
	Initial []float64
	// Budget is the number of objective evaluations. Infeasible
	// candidates do not count against it.
	Budget int
	// Feasible rejects candidates before evaluation. Nil accepts all.
	Feasible  func(x []float64) bool
	Objective Objective
	// EarlyStopping stops the search after this many evaluations without
	// improvement. Zero disables it.
	EarlyStopping int
	Seed          int64
	// Observe is called after every evaluation
	Observe func(Step)
}

func (p *Problem) validate() error {
	if p.Objective == nil {
		return errors.New("objective function is required")
	}
	if p.Budget < 1 {
		return fmt.Errorf("budget must be positive, got %d", p.Budget)
	}
	if p.Dim < 0 {
		return fmt.Errorf("invalid dimension %d", p.Dim)
	}
	if p.Initial != nil && len(p.Initial) != p.Dim {
		return fmt.Errorf("initial point has %d coordinates, want %d", len(p.Initial), p.Dim)
	}
	return nil
}

func (p *Problem) start() []float64 {
	if p.Initial != nil {
		return clampUnit(p.Initial)
	}
	x := make([]float64, p.Dim)
	for i := range x {
		x[i] = 0.5
	}
	return x
}

// Step is one evaluated candidate
type Step struct {
	Index    int       `json:"index"`
	X        []float64 `json:"x"`
	F        float64   `json:"f"`
	Feasible bool      `json:"feasible"`
}

// Stop reasons
const (
	ReasonBudget        = "budget exhausted"
	ReasonEarlyStopping = "no improvement"
	ReasonExhausted     = "search exhausted"
)

// Result is the outcome of a minimisation
type Result struct {
	X           []float64
	F           float64
	Evaluations int
	Infeasible  int
	Restarts    int
	Reason      string
	History     []Step
}

// Converged reports whether the search ended before the budget
func (r *Result) Converged() bool {
	return r.Reason != ReasonBudget
}

// Optimizer minimises a Problem
type Optimizer interface {
	Name() string
	Minimize(ctx context.Context, p Problem) (*Result, error)
}

// MaxConsecutiveInfeasible bounds the rejections in a row before the
// search gives up
const MaxConsecutiveInfeasible = 1000

// ErrNoFeasibleCandidate is returned when the constraint rejects every
// proposal
var ErrNoFeasibleCandidate = errors.New("no feasible candidate found")

// tracker wraps the objective with budget, constraint and early stopping
// bookkeeping shared by every method
type tracker struct {
	ctx     context.Context
	p       Problem
	stopper *NoImprovement

	calls      int
	evals      int
	infeasible int
	rejected   int
	restarts   int

	best    Step
	bestF   float64
	hasBest bool
	history []Step
	reason  string
	err     error
}

func newTracker(ctx context.Context, p Problem) *tracker {
	t := &tracker{ctx: ctx, p: p}
	if p.EarlyStopping > 0 {
		t.stopper = NewNoImprovement(p.EarlyStopping)
	}
	return t
}

func (t *tracker) done() bool { return t.reason != "" || t.err != nil }

// worst maps NaN to +Inf so an undefined score never ranks as best
func worst(f float64) float64 {
	if math.IsNaN(f) {
		return math.Inf(1)
	}
	return f
}

// eval returns +Inf for every candidate that is not evaluated so the
// underlying method never prefers it
func (t *tracker) eval(x []float64) float64 {
	t.calls++
	if t.done() {
		return math.Inf(1)
	}
	if err := t.ctx.Err(); err != nil {
		t.err = err
		return math.Inf(1)
	}

	x = clampUnit(x)
	if t.p.Feasible != nil && !t.p.Feasible(x) {
		t.infeasible++
		t.rejected++
		if t.rejected >= MaxConsecutiveInfeasible {
			t.err = ErrNoFeasibleCandidate
		}
		return math.Inf(1)
	}
	t.rejected = 0

	f, err := t.call(x)
	if err != nil {
		t.err = err
		return math.Inf(1)
	}
	t.evals++
	step := Step{Index: t.evals, X: x, F: f, Feasible: true}
	t.history = append(t.history, step)
	score := worst(f)
	if !t.hasBest || score < t.bestF {
		t.best, t.bestF = step, score
		t.hasBest = true
	}
	if t.p.Observe != nil {
		t.p.Observe(step)
	}

	if t.stopper != nil && t.stopper.Observe(score) {
		t.reason = ReasonEarlyStopping
	}
	if t.evals >= t.p.Budget {
		t.reason = ReasonBudget
	}
	return score
}

// feasibleStart replaces an infeasible starting point with a random
// feasible one. Rejected draws count as infeasible proposals.
func (t *tracker) feasibleStart(x []float64, rng *rand.Rand) []float64 {
	if t.p.Feasible == nil {
		return x
	}
	for i := 0; i < MaxConsecutiveInfeasible; i++ {
		if t.p.Feasible(x) {
			return x
		}
		t.infeasible++
		x = randomPoint(rng, t.p.Dim)
	}
	return x
}

// call runs the objective. gonum evaluates on its own worker goroutines,
// so a panic is turned into an error here or nobody could recover it.
func (t *tracker) call(x []float64) (f float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("objective panicked: %v", r)
		}
	}()
	return t.p.Objective(t.ctx, x)
}

func (t *tracker) result() *Result {
	res := &Result{
		Evaluations: t.evals,
		Infeasible:  t.infeasible,
		Restarts:    t.restarts,
		Reason:      t.reason,
		History:     t.history,
		F:           math.Inf(1),
	}
	switch {
	case t.hasBest:
		res.X, res.F = t.best.X, t.best.F
	case len(t.history) > 0:
		res.X, res.F = t.history[0].X, t.history[0].F
	}
	if res.Reason == "" && t.err == nil {
		res.Reason = ReasonExhausted
	}
	return res
}

// evaluateOnce handles problems without searched dimensions
func evaluateOnce(ctx context.Context, p Problem) (*Result, error) {
	t := newTracker(ctx, p)
	t.eval([]float64{})
	if t.err == nil && t.evals == 0 {
		t.err = ErrNoFeasibleCandidate
	}
	if t.err != nil {
		return t.result(), t.err
	}
	return t.result(), nil
}

func clampUnit(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = utils.ClampFloat64(v, 0, 1)
	}
	return out
}
