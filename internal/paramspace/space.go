// Package paramspace maps car-following parameter declarations onto a unit
// hypercube searched by the optimizers.
package paramspace

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/models"
)

// Kind is how a parameter is searched
type Kind int

const (
	KindFixed Kind = iota
	KindContinuous
	KindCategorical
)

func (k Kind) String() string {
	switch k {
	case KindContinuous:
		return "continuous"
	case KindCategorical:
		return "categorical"
	default:
		return "fixed"
	}
}

// Dimension is one declared parameter
type Dimension struct {
	Name    string
	Kind    Kind
	Low     float64
	High    float64
	Choices []float64
	// Value is the configured value; nil means the parameter is omitted
	// from the vType unless searched
	Value *float64
}

// Values maps parameter names to concrete values
type Values map[string]float64

// Clone returns a copy of v
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, x := range v {
		out[k] = x
	}
	return out
}

// Flat returns the flat record used by the optimization log and results
func (v Values) Flat(model string) map[string]any {
	out := make(map[string]any, len(v)+1)
	for k, x := range v {
		out[k] = x
	}
	out["model"] = model
	return out
}

// Space is the search space of one calibration run
type Space struct {
	model    string
	dims     []Dimension
	searched []int
}

// NewSpace builds the space from the model declaration. Dimensions are
// ordered by parameter name.
func NewSpace(m config.CFModel) (*Space, error) {
	names := models.SortedKeys(m.Parameters)
	s := &Space{model: m.Model}
	for _, name := range names {
		p := m.Parameters[name]
		d := Dimension{Name: name, Value: p.Value}
		switch p.SearchSpace {
		case "":
			d.Kind = KindFixed
		case config.SearchUniform:
			if len(p.Args) != 2 {
				return nil, fmt.Errorf("parameter %s: uniform needs 2 args, got %d", name, len(p.Args))
			}
			d.Kind = KindContinuous
			d.Low, d.High = p.Args[0], p.Args[1]
		case config.SearchChoice:
			if len(p.Args) == 0 {
				return nil, fmt.Errorf("parameter %s: choice needs at least one arg", name)
			}
			d.Kind = KindCategorical
			d.Choices = append([]float64(nil), p.Args...)
		default:
			return nil, &InvalidSearchSpaceError{Parameter: name, Kind: p.SearchSpace}
		}
		if d.Kind != KindFixed {
			s.searched = append(s.searched, len(s.dims))
		}
		s.dims = append(s.dims, d)
	}
	return s, nil
}

// Model returns the car-following model name
func (s *Space) Model() string { return s.model }

// Dim returns the number of searched dimensions
func (s *Space) Dim() int { return len(s.searched) }

// Dimensions returns every declared parameter
func (s *Space) Dimensions() []Dimension {
	return append([]Dimension(nil), s.dims...)
}

// SearchedNames returns the names of the searched dimensions in order
func (s *Space) SearchedNames() []string {
	out := make([]string, len(s.searched))
	for i, idx := range s.searched {
		out[i] = s.dims[idx].Name
	}
	return out
}

// Fixed returns the configured values of every parameter that has one
func (s *Space) Fixed() Values {
	out := Values{}
	for _, d := range s.dims {
		if d.Value != nil {
			out[d.Name] = *d.Value
		}
	}
	return out
}

// Decode maps a unit-cube point to parameter values. Coordinates outside
// [0, 1] are clamped; fixed parameters keep their configured value.
func (s *Space) Decode(x []float64) Values {
	out := Values{}
	for _, d := range s.dims {
		if d.Kind == KindFixed && d.Value != nil {
			out[d.Name] = *d.Value
		}
	}
	for i, idx := range s.searched {
		d := s.dims[idx]
		u := 0.5
		if i < len(x) && !math.IsNaN(x[i]) {
			u = math.Min(1, math.Max(0, x[i]))
		}
		switch d.Kind {
		case KindContinuous:
			out[d.Name] = d.Low + u*(d.High-d.Low)
		case KindCategorical:
			n := len(d.Choices)
			j := int(u * float64(n))
			if j >= n {
				j = n - 1
			}
			out[d.Name] = d.Choices[j]
		}
	}
	return out
}

// Encode maps values back to the unit cube. Categorical values land in the
// middle of their nearest choice's cell.
func (s *Space) Encode(v Values) []float64 {
	x := make([]float64, len(s.searched))
	for i, idx := range s.searched {
		d := s.dims[idx]
		val, ok := v[d.Name]
		if !ok {
			x[i] = 0.5
			continue
		}
		switch d.Kind {
		case KindContinuous:
			if d.High == d.Low {
				x[i] = 0.5
			} else {
				x[i] = math.Min(1, math.Max(0, (val-d.Low)/(d.High-d.Low)))
			}
		case KindCategorical:
			best := 0
			for j, c := range d.Choices {
				if math.Abs(c-val) < math.Abs(d.Choices[best]-val) {
					best = j
				}
			}
			x[i] = (float64(best) + 0.5) / float64(len(d.Choices))
		}
	}
	return x
}

// Initial returns the starting point: configured values where present,
// otherwise the centre of the cube
func (s *Space) Initial() []float64 {
	return s.Encode(s.Fixed())
}

// HasConstraint reports whether the headway constraint applies
func (s *Space) HasConstraint() bool {
	var tau, ast bool
	for _, d := range s.dims {
		switch d.Name {
		case "tau":
			tau = d.Kind != KindFixed || d.Value != nil
		case "actionStepLength":
			ast = d.Kind != KindFixed || d.Value != nil
		}
	}
	return tau && ast
}

// Feasible rejects candidates whose reaction time exceeds the headway
func (s *Space) Feasible(v Values) bool {
	tau, okTau := v["tau"]
	ast, okAst := v["actionStepLength"]
	if !okTau || !okAst {
		return true
	}
	return tau-ast >= 0
}

// VehType is the vType id used for the follower
func VehType(model string) string {
	return strings.ToUpper(model) + "_car"
}

// Names returns the value names in sorted order
func (v Values) Names() []string {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// InvalidSearchSpaceError indicates an unsupported search space kind
type InvalidSearchSpaceError struct {
	Parameter string
	Kind      string
}

func (e *InvalidSearchSpaceError) Error() string {
	return fmt.Sprintf("invalid search space %q for parameter %s", e.Kind, e.Parameter)
}
