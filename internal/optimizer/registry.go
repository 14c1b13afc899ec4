package optimizer

import (
	"fmt"
	"sort"
	"strings"
)

// Algorithm names of the primary registry
const (
	AlgorithmRandomSearch = "RandomSearch"
	AlgorithmNelderMead   = "NelderMead"
	AlgorithmCMA          = "CMA"
	AlgorithmHillClimb    = "HillClimb"
)

// Factory creates a fresh optimizer
type Factory func() Optimizer

var registry = map[string]Factory{
	AlgorithmRandomSearch: func() Optimizer {
		return &gonumOptimizer{name: AlgorithmRandomSearch, method: newRandomSearch}
	},
	AlgorithmNelderMead: func() Optimizer {
		return &gonumOptimizer{name: AlgorithmNelderMead, restart: true, method: newNelderMead}
	},
	AlgorithmCMA: func() Optimizer {
		return &gonumOptimizer{name: AlgorithmCMA, restart: true, method: newCMA}
	},
	AlgorithmHillClimb: func() Optimizer { return NewHillClimb(0.1) },
}

// fallback maps lower-case method and family names onto the primary
// registry
var fallback = map[string]string{
	"random":        AlgorithmRandomSearch,
	"randomsearch":  AlgorithmRandomSearch,
	"guessandcheck": AlgorithmRandomSearch,
	"neldermead":    AlgorithmNelderMead,
	"nelder-mead":   AlgorithmNelderMead,
	"cma":           AlgorithmCMA,
	"cmaes":         AlgorithmCMA,
	"cma-es":        AlgorithmCMA,
	"cmaeschol":     AlgorithmCMA,
	"hillclimb":     AlgorithmHillClimb,
	"hill-climbing": AlgorithmHillClimb,
	"oneplusone":    AlgorithmHillClimb,
}

// UnknownOptimizerError is returned for names found in neither registry
type UnknownOptimizerError struct {
	Name string
}

func (e *UnknownOptimizerError) Error() string {
	return fmt.Sprintf("unknown optimizer: %s", e.Name)
}

// New looks the name up in the primary registry, then in the fallback
// registry
func New(name string) (Optimizer, error) {
	if f, ok := registry[name]; ok {
		return f(), nil
	}
	if canonical, ok := fallback[strings.ToLower(name)]; ok {
		return registry[canonical](), nil
	}
	return nil, &UnknownOptimizerError{Name: name}
}

// Names returns the primary registry names, sorted
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
