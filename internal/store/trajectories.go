package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"

	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/models"
)

// TrajectoryRow is one observation of a follower and its leader
type TrajectoryRow struct {
	VehicleID      int64
	Lane           string
	LaneIndex      int
	LeaderID       int64
	OtherLeader    bool
	EpochMs        int64
	Position       float64
	Velocity       float64
	Accel          *float64
	Length         float64
	LeaderPosition *float64
	LeaderVelocity *float64
	LeaderAccel    *float64
	LeaderLength   float64
}

// InsertTrajectoryRows appends observations in one transaction
func (s *Store) InsertTrajectoryRows(ctx context.Context, rows []TrajectoryRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trajectories (
			vehicle_id, lane, lane_index, vehicle_id_leader, other_leader, epoch_time_ms,
			front_s_smooth, s_velocity_smooth_filtered, s_velocity_smooth_filtered_diff, length_s,
			front_s_smooth_leader, s_velocity_smooth_leader_filtered,
			s_velocity_smooth_leader_filtered_diff, length_s_leader
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare trajectory insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.VehicleID, r.Lane, r.LaneIndex, r.LeaderID, r.OtherLeader, r.EpochMs,
			r.Position, r.Velocity, r.Accel, r.Length,
			r.LeaderPosition, r.LeaderVelocity, r.LeaderAccel, r.LeaderLength,
		); err != nil {
			return fmt.Errorf("failed to insert trajectory row: %w", err)
		}
	}
	return tx.Commit()
}

// LoadTrajectory reads the observations of one pair and converts them to a
// recorded trajectory on the given step grid. Velocities are clipped at
// zero and positions are shifted one sample later, the first one filled
// with a back-projection from the first velocity.
func (s *Store) LoadTrajectory(ctx context.Context, leaderID int64, follower config.FollowerKey, step float64) (*models.Trajectory, error) {
	if step <= 0 {
		return nil, fmt.Errorf("invalid step length %v", step)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT epoch_time_ms, front_s_smooth, s_velocity_smooth_filtered, s_velocity_smooth_filtered_diff,
		       length_s, front_s_smooth_leader, s_velocity_smooth_leader_filtered,
		       s_velocity_smooth_leader_filtered_diff, length_s_leader
		FROM trajectories
		WHERE vehicle_id = ? AND lane = ? AND lane_index = ? AND vehicle_id_leader = ? AND other_leader = ?
		ORDER BY epoch_time_ms, front_s_smooth`,
		follower.VehicleID, follower.Lane, follower.LaneIndex, leaderID, follower.OtherLeader)
	if err != nil {
		return nil, fmt.Errorf("failed to query trajectories: %w", err)
	}
	defer rows.Close()

	stepMs := int64(math.Round(step * 1000))
	traj := &models.Trajectory{RealWorld: true}
	var first int64
	n := 0
	for rows.Next() {
		var (
			epoch                   int64
			pos, vel, length        float64
			leadLength              float64
			accel, leadPos, leadVel sql.NullFloat64
			leadAccel               sql.NullFloat64
		)
		if err := rows.Scan(&epoch, &pos, &vel, &accel, &length, &leadPos, &leadVel, &leadAccel, &leadLength); err != nil {
			return nil, fmt.Errorf("failed to scan trajectory row: %w", err)
		}
		if n == 0 {
			first = epoch
		}
		n++
		offset := epoch - first
		if offset%stepMs != 0 {
			continue
		}
		t := float64(offset) / 1000

		traj.Follow = append(traj.Follow, models.TimeStep{
			Time:     t,
			Velocity: models.Float(math.Max(vel, 0)),
			Position: pos,
			Length:   length,
			Accel:    nullable(accel),
		})
		lead := models.TimeStep{
			Time:     t,
			Position: leadPos.Float64,
			Length:   leadLength,
			Accel:    nullable(leadAccel),
		}
		if leadVel.Valid {
			lead.Velocity = models.Float(math.Max(leadVel.Float64, 0))
		}
		traj.Lead = append(traj.Lead, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(traj.Follow) == 0 {
		return nil, fmt.Errorf("no trajectory for follower %d behind leader %d in lane %s/%d",
			follower.VehicleID, leaderID, follower.Lane, follower.LaneIndex)
	}

	shiftAndFill(traj.Follow, step)
	shiftAndFill(traj.Lead, step)
	return traj, nil
}

// shiftAndFill moves every position one sample later and fills the first
// with first_pos - first_vel*step
func shiftAndFill(series []models.TimeStep, step float64) {
	firstPos := series[0].Position
	var firstVel float64
	if series[0].Velocity != nil {
		firstVel = *series[0].Velocity
	}
	for i := len(series) - 1; i > 0; i-- {
		series[i].Position = series[i-1].Position
	}
	series[0].Position = firstPos - firstVel*step
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return models.Float(v.Float64)
}

// Loader reads the pair named by a configuration from its trajectory
// database
type Loader struct{}

func (Loader) LoadTrajectory(ctx context.Context, cfg *config.Config) (*models.Trajectory, error) {
	if cfg.Trajectory.LeaderID == nil {
		return nil, fmt.Errorf("trajectory.leader_id is not set")
	}
	if _, err := os.Stat(cfg.Trajectory.DBPath); err != nil {
		return nil, fmt.Errorf("trajectory database: %w", err)
	}
	s, err := Open(ctx, cfg.Trajectory.DBPath)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	step := cfg.Trajectory.StepLength
	if step <= 0 {
		step = cfg.Simulation.StepLength
	}
	return s.LoadTrajectory(ctx, *cfg.Trajectory.LeaderID, cfg.Trajectory.Follower, step)
}
