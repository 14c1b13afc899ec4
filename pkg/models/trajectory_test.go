package models

import (
	"strings"
	"testing"
)

func series(times, positions []float64, velocity float64) []TimeStep {
	out := make([]TimeStep, len(times))
	for i := range times {
		out[i] = TimeStep{Time: times[i], Position: positions[i], Velocity: Float(velocity)}
	}
	return out
}

func exampleTrajectory(real bool) *Trajectory {
	times := []float64{0, 1, 2, 3}
	lead := series(times, []float64{0, 5, 10, 15}, 5)
	for i := range lead {
		lead[i].Length = 0
	}
	return &Trajectory{
		Lead:      lead,
		Follow:    series(times, []float64{-5, 0, 5, 10}, 5),
		RealWorld: real,
	}
}

func TestTrajectoryMaxTime(t *testing.T) {
	traj := exampleTrajectory(false)
	traj.Follow = append(traj.Follow, TimeStep{Time: 3.5, Position: 12, Velocity: Float(5)})

	if got := traj.MaxTime(); got != 3.5 {
		t.Errorf("Expected max time 3.5, got %f", got)
	}
}

func TestTrajectoryValidate(t *testing.T) {
	if err := exampleTrajectory(true).Validate(); err != nil {
		t.Fatalf("Expected valid trajectory, got %v", err)
	}

	empty := &Trajectory{Follow: exampleTrajectory(false).Follow}
	if err := empty.Validate(); err == nil || !strings.Contains(err.Error(), "lead trajectory is empty") {
		t.Errorf("Expected empty lead error, got %v", err)
	}

	unordered := exampleTrajectory(false)
	unordered.Follow[2].Time = 0.5
	if err := unordered.Validate(); err == nil || !strings.Contains(err.Error(), "not time ordered") {
		t.Errorf("Expected ordering error, got %v", err)
	}

	gapFirst := exampleTrajectory(false)
	gapFirst.Lead[0].Velocity = nil
	if err := gapFirst.Validate(); err == nil {
		t.Error("Expected error for a leading data gap")
	}
}

func TestAlignShiftsRecordedPositions(t *testing.T) {
	tb := exampleTrajectory(true).Table()

	if !tb.Shifted {
		t.Fatal("Expected recorded table to be marked shifted")
	}
	if len(tb.Lead) != 3 || len(tb.Follow) != 3 {
		t.Fatalf("Expected final sample dropped, got %d/%d", len(tb.Lead), len(tb.Follow))
	}
	if tb.Lead[0].Position != 5 || tb.Lead[0].TimeMs != 0 {
		t.Errorf("Expected lead position 5 at t=0 after shift, got %f at %d", tb.Lead[0].Position, tb.Lead[0].TimeMs)
	}
	if tb.Follow[2].Position != 10 {
		t.Errorf("Expected follow position 10 at t=2 after shift, got %f", tb.Follow[2].Position)
	}
}

func TestAlignIsIdempotent(t *testing.T) {
	once := exampleTrajectory(true).Table()
	twice := once.Align().Align()

	if len(twice.Lead) != len(once.Lead) {
		t.Fatalf("Expected %d lead samples, got %d", len(once.Lead), len(twice.Lead))
	}
	for i := range once.Lead {
		if once.Lead[i] != twice.Lead[i] {
			t.Errorf("Lead sample %d changed on re-alignment: %+v vs %+v", i, once.Lead[i], twice.Lead[i])
		}
	}
}

func TestSimulatedTableIsNotShifted(t *testing.T) {
	tb := exampleTrajectory(false).Table()

	if tb.Shifted {
		t.Error("Expected simulated table to stay unshifted")
	}
	if len(tb.Lead) != 4 || tb.Lead[1].Position != 5 {
		t.Errorf("Expected untouched simulated lead series, got %+v", tb.Lead)
	}
}

func TestMergeOuterJoinsOnTime(t *testing.T) {
	traj := exampleTrajectory(false)
	traj.Lead = traj.Lead[:2]

	rows := traj.Table().Merge()
	if len(rows) != 4 {
		t.Fatalf("Expected 4 merged rows, got %d", len(rows))
	}
	if rows[3].Lead != nil || rows[3].Follow == nil {
		t.Errorf("Expected follow-only row at t=3, got %+v", rows[3])
	}
	if rows[0].TimeMs != 0 || rows[3].TimeMs != 3000 {
		t.Errorf("Expected ordered millisecond keys, got %d..%d", rows[0].TimeMs, rows[3].TimeMs)
	}
}

func TestJoinComputesSpacing(t *testing.T) {
	real := exampleTrajectory(false)
	for i := range real.Lead {
		real.Lead[i].Length = 2
	}
	sim := exampleTrajectory(false)
	sim.Follow[1].Position = 1

	rows := Join(real.Table(), sim.Table())
	if len(rows) != 4 {
		t.Fatalf("Expected 4 joined rows, got %d", len(rows))
	}
	if rows[0].Spacing != 3 {
		t.Errorf("Expected recorded spacing 3, got %f", rows[0].Spacing)
	}
	if rows[1].SpacingSim != 2 {
		t.Errorf("Expected simulated spacing 2 using recorded length, got %f", rows[1].SpacingSim)
	}
	if rows[0].HasAccel {
		t.Error("Expected no acceleration without accel samples")
	}
}

func TestJoinDropsGapsAndMissingSimRows(t *testing.T) {
	real := exampleTrajectory(false)
	real.Lead[1].Velocity = nil
	sim := exampleTrajectory(false)
	sim.Lead = sim.Lead[:3]

	rows := Join(real.Table(), sim.Table())
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows after dropping gap and missing leader, got %d", len(rows))
	}
	if rows[0].TimeMs != 0 || rows[1].TimeMs != 2000 {
		t.Errorf("Expected rows at 0ms and 2000ms, got %d and %d", rows[0].TimeMs, rows[1].TimeMs)
	}
}

func TestJoinKeepsAccelerationWhenPresent(t *testing.T) {
	real := exampleTrajectory(false)
	sim := exampleTrajectory(false)
	for i := range real.Follow {
		real.Follow[i].Accel = Float(0.5)
		sim.Follow[i].Accel = Float(0.25)
	}
	sim.Follow[2].Accel = nil

	rows := Join(real.Table(), sim.Table())
	if !rows[0].HasAccel || rows[0].FollowA != 0.5 || rows[0].FollowSimA != 0.25 {
		t.Errorf("Expected acceleration on row 0, got %+v", rows[0])
	}
	if rows[2].HasAccel {
		t.Error("Expected row 2 without acceleration")
	}
}

func TestResultFlat(t *testing.T) {
	r := &Result{
		RunID:     "7",
		LeaderID:  11,
		CFModel:   "IDM",
		Params:    map[string]float64{"tau": 1.2},
		Errors:    map[string]float64{"rmse_s": 0.4},
		Collision: true,
	}
	flat := r.Flat()
	if flat["tau"] != 1.2 || flat["rmse_s"] != 0.4 {
		t.Errorf("Expected params and errors flattened, got %v", flat)
	}
	if flat["cf_model"] != "IDM" || flat["collision"] != true || flat["leader_id"] != int64(11) {
		t.Errorf("Expected identifying fields, got %v", flat)
	}
}

func TestAnnotate(t *testing.T) {
	rows := Join(exampleTrajectory(false).Table(), exampleTrajectory(false).Table())
	annotated := Annotate(rows, "3", 1, 2)
	if len(annotated) != len(rows) {
		t.Fatalf("Expected %d rows, got %d", len(rows), len(annotated))
	}
	if annotated[0].LeaderID != 1 || annotated[0].FollowerID != 2 || annotated[0].RunID != "3" {
		t.Errorf("Unexpected annotation: %+v", annotated[0])
	}
}
