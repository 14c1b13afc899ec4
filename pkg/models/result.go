package models

import "sort"

// CollisionThreshold separates legitimate scores from the collision penalty
const CollisionThreshold = 1e3

// CollisionPenalty is the fitness assigned to a collided episode
const CollisionPenalty = 1e6

// Result is the flat record produced by one calibration run
type Result struct {
	RunID       string             `json:"run_id"`
	LeaderID    int64              `json:"leader_id"`
	FollowerID  int64              `json:"follower_id"`
	CFModel     string             `json:"cf_model"`
	Mode        string             `json:"mode"`
	Algorithm   string             `json:"algorithm,omitempty"`
	Params      map[string]float64 `json:"params"`
	Errors      map[string]float64 `json:"errors"`
	Fitness     float64            `json:"fitness"`
	Collision   bool               `json:"collision"`
	Evaluations int                `json:"evaluations"`
	OptTime     float64            `json:"opt_time"`
}

// Flat merges parameters, metrics and identifying fields into one record
func (r *Result) Flat() map[string]any {
	out := make(map[string]any, len(r.Params)+len(r.Errors)+8)
	for k, v := range r.Params {
		out[k] = v
	}
	for k, v := range r.Errors {
		out[k] = v
	}
	out["cf_model"] = r.CFModel
	out["leader_id"] = r.LeaderID
	out["follower_id"] = r.FollowerID
	out["run_id"] = r.RunID
	out["collision"] = r.Collision
	out["opt_time"] = r.OptTime
	out["fitness"] = r.Fitness
	out["evaluations"] = r.Evaluations
	return out
}

// SortedKeys returns the keys of m in lexical order
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BestTrajectoryRow is one row of the persisted best trajectory
type BestTrajectoryRow struct {
	Row
	LeaderID   int64  `json:"leader_id"`
	FollowerID int64  `json:"follower_id"`
	RunID      string `json:"run_id"`
}

// Annotate attaches pair identifiers to joined rows
func Annotate(rows []Row, runID string, leaderID, followerID int64) []BestTrajectoryRow {
	out := make([]BestTrajectoryRow, len(rows))
	for i, r := range rows {
		out[i] = BestTrajectoryRow{Row: r, LeaderID: leaderID, FollowerID: followerID, RunID: runID}
	}
	return out
}
