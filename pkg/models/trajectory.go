package models

import (
	"fmt"
	"math"
	"sort"
)

// TimeStep is one recorded or simulated sample of a vehicle.
// A nil Velocity marks a data gap.
type TimeStep struct {
	Time     float64  `json:"time"`
	Velocity *float64 `json:"velocity,omitempty"`
	Position float64  `json:"s"`
	Length   float64  `json:"length,omitempty"`
	Accel    *float64 `json:"accel,omitempty"`
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}

// IsGap reports whether the sample carries no velocity
func (ts TimeStep) IsGap() bool {
	return ts.Velocity == nil
}

// Trajectory is a leader/follower pair of time-ordered samples
type Trajectory struct {
	Lead      []TimeStep `json:"lead"`
	Follow    []TimeStep `json:"follow"`
	RealWorld bool       `json:"real_world"`
}

// MaxTime returns the later of the two final timestamps
func (t *Trajectory) MaxTime() float64 {
	var max float64
	if n := len(t.Lead); n > 0 {
		max = t.Lead[n-1].Time
	}
	if n := len(t.Follow); n > 0 && t.Follow[n-1].Time > max {
		max = t.Follow[n-1].Time
	}
	return max
}

// Validate checks that both series exist and are time ordered
func (t *Trajectory) Validate() error {
	if len(t.Lead) == 0 {
		return fmt.Errorf("lead trajectory is empty")
	}
	if len(t.Follow) == 0 {
		return fmt.Errorf("follow trajectory is empty")
	}
	if err := validateSeries("lead", t.Lead); err != nil {
		return err
	}
	return validateSeries("follow", t.Follow)
}

func validateSeries(name string, series []TimeStep) error {
	for i := 1; i < len(series); i++ {
		if series[i].Time < series[i-1].Time {
			return fmt.Errorf("%s trajectory is not time ordered at index %d (%.3f < %.3f)",
				name, i, series[i].Time, series[i-1].Time)
		}
	}
	if series[0].Velocity == nil {
		return fmt.Errorf("%s trajectory starts with a data gap", name)
	}
	return nil
}

// TimeKey converts seconds to the millisecond key used for joins
func TimeKey(seconds float64) int64 {
	return int64(math.Round(seconds * 1000))
}

// Sample is one per-vehicle cell of a Table
type Sample struct {
	TimeMs   int64
	Velocity *float64
	Position float64
	Length   float64
	Accel    *float64
}

// Table is the time-aligned tabular form of a Trajectory
type Table struct {
	Lead      []Sample
	Follow    []Sample
	RealWorld bool
	Shifted   bool
}

// RawTable converts the trajectory without any alignment
func (t *Trajectory) RawTable() *Table {
	return &Table{
		Lead:      toSamples(t.Lead),
		Follow:    toSamples(t.Follow),
		RealWorld: t.RealWorld,
	}
}

// Table returns the aligned table used for scoring
func (t *Trajectory) Table() *Table {
	return t.RawTable().Align()
}

func toSamples(series []TimeStep) []Sample {
	out := make([]Sample, len(series))
	for i, ts := range series {
		out[i] = Sample{
			TimeMs:   TimeKey(ts.Time),
			Velocity: ts.Velocity,
			Position: ts.Position,
			Length:   ts.Length,
			Accel:    ts.Accel,
		}
	}
	return out
}

// Align corrects the one-sample position lag of recorded data. Each series
// takes the next sample's position and loses its final sample. Simulated
// tables and tables that were already shifted come back unchanged.
func (tb *Table) Align() *Table {
	if !tb.RealWorld || tb.Shifted {
		return tb
	}
	return &Table{
		Lead:      shiftPositions(tb.Lead),
		Follow:    shiftPositions(tb.Follow),
		RealWorld: true,
		Shifted:   true,
	}
}

func shiftPositions(in []Sample) []Sample {
	if len(in) < 2 {
		return nil
	}
	out := make([]Sample, len(in)-1)
	for i := range out {
		out[i] = in[i]
		out[i].Position = in[i+1].Position
	}
	return out
}

// MergedRow is one outer-merged timestamp of a Table
type MergedRow struct {
	TimeMs int64
	Lead   *Sample
	Follow *Sample
}

// Merge outer-joins the lead and follow series on their time keys
func (tb *Table) Merge() []MergedRow {
	index := make(map[int64]*MergedRow, len(tb.Lead)+len(tb.Follow))
	keys := make([]int64, 0, len(tb.Lead)+len(tb.Follow))
	row := func(ms int64) *MergedRow {
		r, ok := index[ms]
		if !ok {
			r = &MergedRow{TimeMs: ms}
			index[ms] = r
			keys = append(keys, ms)
		}
		return r
	}
	for i := range tb.Lead {
		row(tb.Lead[i].TimeMs).Lead = &tb.Lead[i]
	}
	for i := range tb.Follow {
		row(tb.Follow[i].TimeMs).Follow = &tb.Follow[i]
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]MergedRow, len(keys))
	for i, k := range keys {
		out[i] = *index[k]
	}
	return out
}

// Row is one timestamp present in both the recorded and simulated tables
type Row struct {
	TimeMs int64   `json:"time_ms"`
	Time   float64 `json:"time"`

	LeadS      float64 `json:"s_lead"`
	LeadV      float64 `json:"v_lead"`
	LeadLength float64 `json:"length_lead"`
	FollowS    float64 `json:"s_follow"`
	FollowV    float64 `json:"v_follow"`
	LeadSimS   float64 `json:"s_lead_sim"`
	LeadSimV   float64 `json:"v_lead_sim"`
	FollowSimS float64 `json:"s_follow_sim"`
	FollowSimV float64 `json:"v_follow_sim"`
	Spacing    float64 `json:"spacing_follow"`
	SpacingSim float64 `json:"spacing_follow_sim"`
	FollowA    float64 `json:"accel_follow"`
	FollowSimA float64 `json:"accel_follow_sim"`
	HasAccel   bool    `json:"has_accel"`
}

// Join aligns both tables and keeps the timestamps where every leg has a
// position and velocity. The recorded leader length is used for both
// spacing columns.
func Join(real, sim *Table) []Row {
	realRows := real.Align().Merge()
	simByTime := make(map[int64]MergedRow, len(sim.Lead))
	for _, r := range sim.Align().Merge() {
		simByTime[r.TimeMs] = r
	}

	rows := make([]Row, 0, len(realRows))
	for _, rr := range realRows {
		sr, ok := simByTime[rr.TimeMs]
		if !ok || !complete(rr.Lead) || !complete(rr.Follow) || !complete(sr.Lead) || !complete(sr.Follow) {
			continue
		}
		length := rr.Lead.Length
		row := Row{
			TimeMs:     rr.TimeMs,
			Time:       float64(rr.TimeMs) / 1000,
			LeadS:      rr.Lead.Position,
			LeadV:      *rr.Lead.Velocity,
			LeadLength: length,
			FollowS:    rr.Follow.Position,
			FollowV:    *rr.Follow.Velocity,
			LeadSimS:   sr.Lead.Position,
			LeadSimV:   *sr.Lead.Velocity,
			FollowSimS: sr.Follow.Position,
			FollowSimV: *sr.Follow.Velocity,
			Spacing:    rr.Lead.Position - length - rr.Follow.Position,
			SpacingSim: sr.Lead.Position - length - sr.Follow.Position,
		}
		if rr.Follow.Accel != nil && sr.Follow.Accel != nil {
			row.FollowA = *rr.Follow.Accel
			row.FollowSimA = *sr.Follow.Accel
			row.HasAccel = true
		}
		rows = append(rows, row)
	}
	return rows
}

func complete(s *Sample) bool {
	return s != nil && s.Velocity != nil
}
