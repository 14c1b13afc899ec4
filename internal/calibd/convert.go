package calibd

import (
	"math"

	"github.com/GoSim-25-26J-441/calibration-core/pkg/models"
)

// The converters below only produce values structpb.NewStruct accepts, so
// the HTTP and gRPC surfaces share them.

func convertRunToJSON(run Run) map[string]any {
	return map[string]any{
		"id":                 run.ID,
		"status":             string(run.Status),
		"created_at_unix_ms": run.CreatedAtUnixMs,
		"started_at_unix_ms": run.StartedAtUnixMs,
		"ended_at_unix_ms":   run.EndedAtUnixMs,
		"error":              run.Error,
	}
}

func convertRunsToJSON(recs []*RunRecord) []any {
	out := make([]any, 0, len(recs))
	for _, rec := range recs {
		out = append(out, convertRunToJSON(rec.Run))
	}
	return out
}

func convertResultToJSON(res *models.Result) map[string]any {
	return map[string]any{
		"run_id":      res.RunID,
		"leader_id":   res.LeaderID,
		"follower_id": res.FollowerID,
		"cf_model":    res.CFModel,
		"mode":        res.Mode,
		"algorithm":   res.Algorithm,
		"params":      convertValues(res.Params),
		"errors":      convertValues(res.Errors),
		"fitness":     finiteOrNil(res.Fitness),
		"collision":   res.Collision,
		"evaluations": int64(res.Evaluations),
		"opt_time":    res.OptTime,
	}
}

func convertValues(m map[string]float64) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = finiteOrNil(v)
	}
	return out
}

// finiteOrNil maps NaN and infinities to null; JSON has no spelling for them
func finiteOrNil(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
