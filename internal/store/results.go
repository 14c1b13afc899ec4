package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"github.com/GoSim-25-26J-441/calibration-core/pkg/models"
)

// BestTrajectoryFile is the per-run database holding the best trajectory
const BestTrajectoryFile = "best_trajectory.db"

// ResultsFile is the batch database holding one result row per run
const ResultsFile = "results.db"

// SaveResults appends results in one transaction
func (s *Store) SaveResults(ctx context.Context, results []models.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range results {
		params, err := encodeValues(r.Params)
		if err != nil {
			return err
		}
		errs, err := encodeValues(r.Errors)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO results (run_id, leader_id, follower_id, cf_model, mode, algorithm,
				fitness, collision, evaluations, opt_time, params, errors)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, r.LeaderID, r.FollowerID, r.CFModel, r.Mode, r.Algorithm,
			finite(r.Fitness), r.Collision, r.Evaluations, r.OptTime, params, errs,
		); err != nil {
			return fmt.Errorf("failed to insert result %s: %w", r.RunID, err)
		}
	}
	return tx.Commit()
}

// Results returns every stored result in insertion order
func (s *Store) Results(ctx context.Context) ([]models.Result, error) {
	return s.queryResults(ctx, "")
}

// Result returns the latest result of a run
func (s *Store) Result(ctx context.Context, runID string) (*models.Result, error) {
	results, err := s.queryResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no result for run %s: %w", runID, sql.ErrNoRows)
	}
	return &results[len(results)-1], nil
}

func (s *Store) queryResults(ctx context.Context, runID string) ([]models.Result, error) {
	query := `SELECT run_id, leader_id, follower_id, cf_model, mode, algorithm, fitness,
		collision, evaluations, opt_time, params, errors FROM results`
	var args []any
	if runID != "" {
		query += " WHERE run_id = ?"
		args = append(args, runID)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []models.Result
	for rows.Next() {
		var (
			r              models.Result
			algorithm      sql.NullString
			fitness        sql.NullFloat64
			params, errors string
		)
		if err := rows.Scan(&r.RunID, &r.LeaderID, &r.FollowerID, &r.CFModel, &r.Mode, &algorithm,
			&fitness, &r.Collision, &r.Evaluations, &r.OptTime, &params, &errors); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Algorithm = algorithm.String
		r.Fitness = math.NaN()
		if fitness.Valid {
			r.Fitness = fitness.Float64
		}
		if r.Params, err = decodeValues(params); err != nil {
			return nil, err
		}
		if r.Errors, err = decodeValues(errors); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveBestTrajectory replaces the stored best trajectory of the rows' run
func (s *Store) SaveBestTrajectory(ctx context.Context, rows []models.BestTrajectoryRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM best_trajectory WHERE run_id = ?", rows[0].RunID); err != nil {
		return fmt.Errorf("failed to clear best trajectory: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO best_trajectory (run_id, leader_id, follower_id, time_ms, lead_s, lead_v, lead_length,
			follow_s, follow_v, lead_sim_s, lead_sim_v, follow_sim_s, follow_sim_v, spacing, spacing_sim,
			follow_a, follow_sim_a)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare best trajectory insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		var accel, accelSim any
		if r.HasAccel {
			accel, accelSim = r.FollowA, r.FollowSimA
		}
		if _, err := stmt.ExecContext(ctx,
			r.RunID, r.LeaderID, r.FollowerID, r.TimeMs, r.LeadS, r.LeadV, r.LeadLength,
			r.FollowS, r.FollowV, r.LeadSimS, r.LeadSimV, r.FollowSimS, r.FollowSimV, r.Spacing, r.SpacingSim,
			accel, accelSim,
		); err != nil {
			return fmt.Errorf("failed to insert best trajectory row: %w", err)
		}
	}
	return tx.Commit()
}

// BestTrajectory returns the stored best trajectory of a run ordered by time
func (s *Store) BestTrajectory(ctx context.Context, runID string) ([]models.BestTrajectoryRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, leader_id, follower_id, time_ms, lead_s, lead_v, lead_length, follow_s, follow_v,
			lead_sim_s, lead_sim_v, follow_sim_s, follow_sim_v, spacing, spacing_sim, follow_a, follow_sim_a
		FROM best_trajectory WHERE run_id = ? ORDER BY time_ms`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query best trajectory: %w", err)
	}
	defer rows.Close()

	var out []models.BestTrajectoryRow
	for rows.Next() {
		var (
			r               models.BestTrajectoryRow
			accel, accelSim sql.NullFloat64
		)
		if err := rows.Scan(&r.RunID, &r.LeaderID, &r.FollowerID, &r.TimeMs, &r.LeadS, &r.LeadV, &r.LeadLength,
			&r.FollowS, &r.FollowV, &r.LeadSimS, &r.LeadSimV, &r.FollowSimS, &r.FollowSimV, &r.Spacing, &r.SpacingSim,
			&accel, &accelSim); err != nil {
			return nil, fmt.Errorf("failed to scan best trajectory row: %w", err)
		}
		r.Time = float64(r.TimeMs) / 1000
		if accel.Valid && accelSim.Valid {
			r.FollowA, r.FollowSimA, r.HasAccel = accel.Float64, accelSim.Float64, true
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// WriteBestTrajectory stores rows in the database file at path
func WriteBestTrajectory(ctx context.Context, path string, rows []models.BestTrajectoryRow) error {
	s, err := Open(ctx, path)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.SaveBestTrajectory(ctx, rows)
}

// encodeValues stores non-finite values as JSON null
func encodeValues(m map[string]float64) (string, error) {
	out := make(map[string]*float64, len(m))
	for k, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[k] = nil
			continue
		}
		out[k] = models.Float(v)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to encode values: %w", err)
	}
	return string(b), nil
}

func decodeValues(s string) (map[string]float64, error) {
	var raw map[string]*float64
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode values: %w", err)
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		if v == nil {
			out[k] = math.NaN()
			continue
		}
		out[k] = *v
	}
	return out, nil
}

func finite(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
