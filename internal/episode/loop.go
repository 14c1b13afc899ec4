package episode

import (
	"context"
	"fmt"

	"github.com/GoSim-25-26J-441/calibration-core/internal/paramspace"
	"github.com/GoSim-25-26J-441/calibration-core/internal/simconn"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/models"
)

// vehicleNames returns unique ids for the next episode's pair
func (r *Runner) vehicleNames() (leader, follower string) {
	n := r.episodes
	r.episodes++
	return fmt.Sprintf("leader_%d", n), fmt.Sprintf("follower_%d", n)
}

// insertLeader adds the replayed leader at the sample's position with
// every speed check except maximum deceleration disabled
func (r *Runner) insertLeader(id string, ts models.TimeStep) error {
	sim := r.cfg.Simulation
	if err := r.conn.AddVehicle(id, sim.RouteName, *ts.Velocity, 0); err != nil {
		return err
	}
	if err := r.conn.SetLength(id, ts.Length); err != nil {
		return err
	}
	if err := r.conn.SetSpeedMode(id, simconn.SpeedModeIgnoreLimits); err != nil {
		return err
	}
	if err := r.conn.MoveTo(id, sim.TargetLane, ts.Position); err != nil {
		return err
	}
	return r.conn.Subscribe(id)
}

func (r *Runner) insertFollower(id string, ts models.TimeStep) error {
	sim := r.cfg.Simulation
	if err := r.conn.AddVehicle(id, sim.RouteName, *ts.Velocity, 0); err != nil {
		return err
	}
	if err := r.conn.SetType(id, paramspace.VehType(r.cfg.CFModel.Model)); err != nil {
		return err
	}
	if err := r.conn.MoveTo(id, sim.TargetLane, ts.Position); err != nil {
		return err
	}
	return r.conn.Subscribe(id)
}

// run replays the recorded leader and collects both simulated series.
// Errors are returned only for failures outside the replay itself; a
// rejected leader override is reported as a collision.
func (r *Runner) run(ctx context.Context) (*models.Trajectory, bool, error) {
	leaderID, followerID := r.vehicleNames()
	sim := &models.Trajectory{}

	if err := r.insertLeader(leaderID, r.recorded.Lead[0]); err != nil {
		return sim, false, fmt.Errorf("failed to insert leader: %w", err)
	}
	if err := r.insertFollower(followerID, r.recorded.Follow[0]); err != nil {
		return sim, false, fmt.Errorf("failed to insert follower: %w", err)
	}
	lane, err := r.conn.LaneID(leaderID)
	if err != nil {
		return sim, false, fmt.Errorf("failed to read leader lane: %w", err)
	}

	step := r.cfg.Simulation.StepMillis()
	maxMs := models.TimeKey(r.recorded.MaxTime())
	queue := r.recorded.Lead

	var (
		elapsed int64
		removed bool
		nulled  bool
	)

	for elapsed < maxMs {
		if err := ctx.Err(); err != nil {
			return sim, false, err
		}

		done := len(queue) == 0
		switch {
		case done && !removed:
			if err := r.conn.Unsubscribe(leaderID); err != nil {
				return sim, false, err
			}
			if err := r.conn.Remove(leaderID); err != nil {
				return sim, false, err
			}
			removed = true

		case !removed && due(models.TimeKey(queue[0].Time), elapsed, step):
			sample := queue[0]
			queue = queue[1:]

			if sample.IsGap() {
				if !nulled {
					if err := r.conn.Remove(leaderID); err != nil {
						return sim, false, err
					}
					if err := r.conn.Unsubscribe(leaderID); err != nil {
						return sim, false, err
					}
					nulled = true
				}
				break
			}

			if nulled {
				if err := r.insertLeader(leaderID, sample); err != nil {
					return sim, false, fmt.Errorf("failed to reinsert leader: %w", err)
				}
				nulled = false
			}
			if err := r.replay(leaderID, lane, sample); err != nil {
				if !simconn.IsCommandError(err) {
					return sim, false, err
				}
				r.log.Debug("leader override rejected", "elapsed_ms", elapsed, "position", sample.Position, "error", err)
				return sim, true, nil
			}
		}

		if err := r.conn.Step(); err != nil {
			return sim, false, fmt.Errorf("simulation step failed: %w", err)
		}
		elapsed += step

		t := float64(elapsed) / 1000
		results := r.conn.SubscriptionResults()
		if st, ok := results[leaderID]; ok {
			sim.Lead = append(sim.Lead, timeStep(t, st))
		}
		if st, ok := results[followerID]; ok {
			sim.Follow = append(sim.Follow, timeStep(t, st))
		}

		n, err := r.conn.Collisions()
		if err != nil {
			return sim, false, err
		}
		if n > 0 {
			r.log.Debug("collision reported", "elapsed_ms", elapsed, "vehicles", n)
			return sim, true, nil
		}

		if !done && !removed && !nulled && len(sim.Lead) > 0 && len(sim.Follow) > 0 &&
			sim.Lead[len(sim.Lead)-1].Position < sim.Follow[len(sim.Follow)-1].Position {
			r.log.Debug("leader behind follower", "elapsed_ms", elapsed)
			return sim, true, nil
		}
	}
	return sim, false, nil
}

// replay forces the leader to the recorded speed and position
func (r *Runner) replay(id, lane string, ts models.TimeStep) error {
	v := *ts.Velocity
	if err := r.conn.SetSpeed(id, v); err != nil {
		return err
	}
	if err := r.conn.SetPreviousSpeed(id, v); err != nil {
		return err
	}
	return r.conn.MoveTo(id, lane, ts.Position)
}

// due reports whether a sample keyed at key belongs to the step at elapsed
func due(key, elapsed, step int64) bool {
	return elapsed-step <= key && key < elapsed+step
}

func timeStep(t float64, st simconn.VehicleState) models.TimeStep {
	return models.TimeStep{
		Time:     t,
		Velocity: models.Float(st.Speed),
		Position: st.Position,
		Accel:    models.Float(st.Accel),
	}
}
