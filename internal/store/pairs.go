package store

import (
	"context"
	"fmt"

	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
)

// Pair is one leader/follower combination to calibrate
type Pair struct {
	LeaderID int64
	Follower config.FollowerKey
}

// InsertPairs appends pairs in one transaction
func (s *Store) InsertPairs(ctx context.Context, pairs []Pair) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range pairs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trajectory_pairs (vehicle_id, lane, lane_index, vehicle_id_leader, other_leader)
			VALUES (?, ?, ?, ?, ?)`,
			p.Follower.VehicleID, p.Follower.Lane, p.Follower.LaneIndex, p.LeaderID, p.Follower.OtherLeader,
		); err != nil {
			return fmt.Errorf("failed to insert pair: %w", err)
		}
	}
	return tx.Commit()
}

// Pairs returns the stored pairs in insertion order. A positive limit caps
// the number returned.
func (s *Store) Pairs(ctx context.Context, limit int) ([]Pair, error) {
	query := `SELECT vehicle_id, lane, lane_index, vehicle_id_leader, other_leader
		FROM trajectory_pairs ORDER BY rowid`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pairs: %w", err)
	}
	defer rows.Close()

	var out []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.Follower.VehicleID, &p.Follower.Lane, &p.Follower.LaneIndex, &p.LeaderID, &p.Follower.OtherLeader); err != nil {
			return nil, fmt.Errorf("failed to scan pair: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
