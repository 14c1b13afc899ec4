package paramspace

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/calibration-core/internal/simconn/kinematic"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
)

func f(v float64) *float64 { return &v }

func idmModel() config.CFModel {
	return config.CFModel{
		Model: "IDM",
		Parameters: map[string]config.Parameter{
			"tau":              {Value: f(1.0), SearchSpace: config.SearchUniform, Args: []float64{0.5, 2.5}},
			"actionStepLength": {SearchSpace: config.SearchChoice, Args: []float64{0.1, 0.5, 1.0, 3.0}},
			"delta":            {Value: f(4)},
			"sigma":            {},
		},
	}
}

func TestNewSpaceKinds(t *testing.T) {
	s, err := NewSpace(idmModel())
	require.NoError(t, err)

	assert.Equal(t, 2, s.Dim())
	assert.Equal(t, []string{"actionStepLength", "tau"}, s.SearchedNames())

	dims := s.Dimensions()
	require.Len(t, dims, 4)
	assert.Equal(t, KindCategorical, dims[0].Kind)
	assert.Equal(t, KindFixed, dims[1].Kind)
	assert.Equal(t, "delta", dims[1].Name)
}

func TestNewSpaceRejectsUnknownKind(t *testing.T) {
	_, err := NewSpace(config.CFModel{
		Model:      "IDM",
		Parameters: map[string]config.Parameter{"tau": {SearchSpace: "loguniform", Args: []float64{1, 2}}},
	})
	require.Error(t, err)

	var invalid *InvalidSearchSpaceError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "loguniform", invalid.Kind)
	assert.Contains(t, err.Error(), `invalid search space "loguniform"`)
}

func TestDecodeEncode(t *testing.T) {
	s, err := NewSpace(idmModel())
	require.NoError(t, err)

	v := s.Decode([]float64{0.3, 0.25})
	assert.Equal(t, 0.5, v["actionStepLength"])
	assert.InDelta(t, 1.0, v["tau"], 1e-12)
	assert.Equal(t, 4.0, v["delta"])
	assert.NotContains(t, v, "sigma", "parameters without a value are omitted")

	x := s.Encode(v)
	assert.InDelta(t, 0.375, x[0], 1e-12)
	assert.InDelta(t, 0.25, x[1], 1e-12)
	assert.Equal(t, v, s.Decode(x))
}

func TestDecodeClamps(t *testing.T) {
	s, err := NewSpace(idmModel())
	require.NoError(t, err)

	v := s.Decode([]float64{1.7, -3})
	assert.Equal(t, 3.0, v["actionStepLength"])
	assert.Equal(t, 0.5, v["tau"])
}

func TestInitialUsesConfiguredValues(t *testing.T) {
	s, err := NewSpace(idmModel())
	require.NoError(t, err)

	x := s.Initial()
	assert.Equal(t, 0.5, x[0], "no configured actionStepLength")
	assert.InDelta(t, 0.25, x[1], 1e-12)
}

func TestFeasible(t *testing.T) {
	s, err := NewSpace(idmModel())
	require.NoError(t, err)

	assert.True(t, s.HasConstraint())
	assert.True(t, s.Feasible(Values{"tau": 1.0, "actionStepLength": 1.0}))
	assert.False(t, s.Feasible(Values{"tau": 1.0, "actionStepLength": 3.0}))
	assert.True(t, s.Feasible(Values{"tau": 0.5}))

	other, err := NewSpace(config.CFModel{Model: "Krauss", Parameters: map[string]config.Parameter{
		"tau": {SearchSpace: config.SearchUniform, Args: []float64{0.5, 2}},
	}})
	require.NoError(t, err)
	assert.False(t, other.HasConstraint())
}

func TestWriteVType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteVType(&buf, "IDM", Values{"tau": 1.25, "accel": 2}))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "<additional>"))
	assert.Contains(t, out, `<vType id="IDM_car" carFollowModel="IDM" accel="2" tau="1.25">`)

	types, err := kinematic.ReadVTypes(strings.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 1.25, types["IDM_car"].Params["tau"])
}

func TestVehTypeAndFlat(t *testing.T) {
	assert.Equal(t, "KRAUSS_car", VehType("Krauss"))

	flat := Values{"tau": 1.5}.Flat("IDM")
	assert.Equal(t, map[string]any{"tau": 1.5, "model": "IDM"}, flat)
}
