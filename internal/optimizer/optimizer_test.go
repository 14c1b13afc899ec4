package optimizer

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sphere(center float64) Objective {
	return func(_ context.Context, x []float64) (float64, error) {
		var sum float64
		for _, v := range x {
			sum += (v - center) * (v - center)
		}
		return sum, nil
	}
}

func TestNewPrimaryAndFallback(t *testing.T) {
	for _, name := range Names() {
		opt, err := New(name)
		require.NoError(t, err)
		assert.Equal(t, name, opt.Name())
	}

	opt, err := New("cma-es")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmCMA, opt.Name())

	opt, err = New("OnePlusOne")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmHillClimb, opt.Name())
}

func TestNewUnknown(t *testing.T) {
	_, err := New("TwoPointsDE")
	var unknown *UnknownOptimizerError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "unknown optimizer: TwoPointsDE", err.Error())
}

func TestEveryAlgorithmSpendsTheBudget(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			opt, err := New(name)
			require.NoError(t, err)

			observed := 0
			res, err := opt.Minimize(context.Background(), Problem{
				Dim:       2,
				Budget:    60,
				Objective: sphere(0.3),
				Seed:      3,
				Observe:   func(Step) { observed++ },
			})
			require.NoError(t, err)
			assert.Equal(t, 60, res.Evaluations)
			assert.Equal(t, 60, observed)
			assert.Len(t, res.History, 60)
			assert.Equal(t, ReasonBudget, res.Reason)
			assert.False(t, res.Converged())

			for _, step := range res.History {
				assert.GreaterOrEqual(t, step.F, res.F)
				for _, v := range step.X {
					assert.True(t, v >= 0 && v <= 1, "candidate outside the unit cube: %v", step.X)
				}
			}
		})
	}
}

func TestBudgetOfOne(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			opt, err := New(name)
			require.NoError(t, err)

			var seen []Step
			res, err := opt.Minimize(context.Background(), Problem{
				Dim:       3,
				Budget:    1,
				Objective: sphere(0.1),
				Seed:      11,
				Observe:   func(s Step) { seen = append(seen, s) },
			})
			require.NoError(t, err)
			require.Len(t, seen, 1)
			assert.Equal(t, 1, res.Evaluations)
			assert.Equal(t, seen[0].X, res.X)
			assert.Equal(t, seen[0].F, res.F)
		})
	}
}

func TestInfeasibleCandidatesAreNeverEvaluated(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			opt, err := New(name)
			require.NoError(t, err)

			violations := 0
			res, err := opt.Minimize(context.Background(), Problem{
				Dim:      2,
				Budget:   40,
				Feasible: func(x []float64) bool { return x[0] <= 0.5 },
				Objective: func(ctx context.Context, x []float64) (float64, error) {
					if x[0] > 0.5 {
						violations++
					}
					return sphere(0.9)(ctx, x)
				},
				Seed: 5,
			})
			require.NoError(t, err)
			assert.Equal(t, 0, violations)
			assert.Equal(t, 40, res.Evaluations)
			assert.LessOrEqual(t, res.X[0], 0.5)
		})
	}
}

func TestRandomSearchCountsInfeasible(t *testing.T) {
	opt, err := New(AlgorithmRandomSearch)
	require.NoError(t, err)

	res, err := opt.Minimize(context.Background(), Problem{
		Dim:       1,
		Budget:    40,
		Feasible:  func(x []float64) bool { return x[0] <= 0.5 },
		Objective: sphere(0.2),
		Seed:      9,
	})
	require.NoError(t, err)
	assert.Greater(t, res.Infeasible, 0)
	assert.Equal(t, 40, res.Evaluations)
}

func TestNoFeasibleCandidate(t *testing.T) {
	opt, err := New(AlgorithmRandomSearch)
	require.NoError(t, err)

	calls := 0
	_, err = opt.Minimize(context.Background(), Problem{
		Dim:      1,
		Budget:   5,
		Feasible: func([]float64) bool { return false },
		Objective: func(context.Context, []float64) (float64, error) {
			calls++
			return 0, nil
		},
	})
	assert.ErrorIs(t, err, ErrNoFeasibleCandidate)
	assert.Equal(t, 0, calls)
}

func TestEarlyStopping(t *testing.T) {
	opt, err := New(AlgorithmRandomSearch)
	require.NoError(t, err)

	res, err := opt.Minimize(context.Background(), Problem{
		Dim:    2,
		Budget: 100,
		Objective: func(context.Context, []float64) (float64, error) {
			return 1, nil
		},
		EarlyStopping: 5,
		Seed:          1,
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonEarlyStopping, res.Reason)
	assert.Equal(t, 7, res.Evaluations)
	assert.True(t, res.Converged())
}

func TestObjectiveErrorStopsSearch(t *testing.T) {
	boom := errors.New("simulator crashed")
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			opt, err := New(name)
			require.NoError(t, err)

			calls := 0
			_, err = opt.Minimize(context.Background(), Problem{
				Dim:    2,
				Budget: 10,
				Objective: func(context.Context, []float64) (float64, error) {
					calls++
					if calls == 3 {
						return 0, boom
					}
					return float64(calls), nil
				},
			})
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, 3, calls)
		})
	}
}

func TestObjectivePanicBecomesError(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			opt, err := New(name)
			require.NoError(t, err)

			_, err = opt.Minimize(context.Background(), Problem{
				Dim:    2,
				Budget: 5,
				Objective: func(context.Context, []float64) (float64, error) {
					panic("vehicle table corrupted")
				},
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "objective panicked: vehicle table corrupted")
		})
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opt, err := New(AlgorithmNelderMead)
	require.NoError(t, err)
	_, err = opt.Minimize(ctx, Problem{Dim: 2, Budget: 10, Objective: sphere(0.5)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestZeroDimensionEvaluatesOnce(t *testing.T) {
	opt, err := New(AlgorithmCMA)
	require.NoError(t, err)

	calls := 0
	res, err := opt.Minimize(context.Background(), Problem{
		Budget: 10,
		Objective: func(context.Context, []float64) (float64, error) {
			calls++
			return 2.5, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2.5, res.F)
}

func TestRandomSearchIsDeterministic(t *testing.T) {
	run := func() []Step {
		opt, err := New(AlgorithmRandomSearch)
		require.NoError(t, err)
		res, err := opt.Minimize(context.Background(), Problem{Dim: 3, Budget: 10, Objective: sphere(0.4), Seed: 42})
		require.NoError(t, err)
		return res.History
	}
	assert.Equal(t, run(), run())
}

func TestHillClimbFindsMinimum(t *testing.T) {
	res, err := NewHillClimb(0.1).Minimize(context.Background(), Problem{
		Dim:       2,
		Budget:    200,
		Objective: sphere(0.3),
		Seed:      2,
	})
	require.NoError(t, err)
	assert.Less(t, res.F, 1e-3)
	assert.InDelta(t, 0.3, res.X[0], 0.05)
}

func TestInvalidProblem(t *testing.T) {
	opt := NewHillClimb(0)
	_, err := opt.Minimize(context.Background(), Problem{Dim: 1, Budget: 0, Objective: sphere(0)})
	assert.Error(t, err)

	_, err = opt.Minimize(context.Background(), Problem{Dim: 1, Budget: 1})
	assert.Error(t, err)

	_, err = opt.Minimize(context.Background(), Problem{Dim: 2, Budget: 1, Initial: []float64{0.1}, Objective: sphere(0)})
	assert.Error(t, err)
}

func TestNoImprovement(t *testing.T) {
	s := NewNoImprovement(2)
	assert.False(t, s.Observe(5))
	assert.False(t, s.Observe(4))
	assert.False(t, s.Observe(6))
	assert.False(t, s.Observe(4))
	assert.True(t, s.Observe(7))

	best, at := s.Best()
	assert.Equal(t, 4.0, best)
	assert.Equal(t, 2, at)
}

func TestNoImprovementTreatsNaNAsWorst(t *testing.T) {
	s := NewNoImprovement(3)
	for _, f := range []float64{math.NaN(), 5, 4, 3, 2} {
		assert.False(t, s.Observe(f), "stopped while %v was still improving", f)
	}
	best, at := s.Best()
	assert.Equal(t, 2.0, best)
	assert.Equal(t, 5, at)
}

func TestNaNFirstEvaluationIsNeverBest(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			opt, err := New(name)
			require.NoError(t, err)

			calls := 0
			res, err := opt.Minimize(context.Background(), Problem{
				Dim:    2,
				Budget: 20,
				Objective: func(context.Context, []float64) (float64, error) {
					calls++
					if calls == 1 {
						return math.NaN(), nil
					}
					return 0.5, nil
				},
				EarlyStopping: 10,
				Seed:          3,
			})
			require.NoError(t, err)
			assert.Equal(t, 0.5, res.F)
			assert.True(t, math.IsNaN(res.History[0].F), "the first step keeps its raw score")
			assert.Equal(t, ReasonEarlyStopping, res.Reason)
			assert.Equal(t, 13, res.Evaluations, "the window restarts at the first finite score")
		})
	}
}

func TestInfeasibleStartingPoint(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			opt, err := New(name)
			require.NoError(t, err)

			violations := 0
			res, err := opt.Minimize(context.Background(), Problem{
				Dim:      2,
				Budget:   20,
				Feasible: func(x []float64) bool { return x[0] <= 0.3 },
				Objective: func(ctx context.Context, x []float64) (float64, error) {
					if x[0] > 0.3 {
						violations++
					}
					return sphere(0.1)(ctx, x)
				},
				Seed: 11,
			})
			require.NoError(t, err)
			assert.Equal(t, 0, violations)
			assert.Equal(t, 20, res.Evaluations)
			assert.Greater(t, res.Infeasible, 0)
			assert.LessOrEqual(t, res.X[0], 0.3)
		})
	}
}
