package calibration

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/GoSim-25-26J-441/calibration-core/internal/metrics"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/logger"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/models"
)

// Outcome is the tagged result of one calibration run: either a Result or
// the error that ended the run
type Outcome struct {
	RunID  string
	Result *models.Result
	Err    error
}

// Succeeded reports whether the run produced a result
func (o Outcome) Succeeded() bool {
	return o.Err == nil && o.Result != nil
}

// Run calibrates one pair. Errors and panics are logged and returned in
// the Outcome so callers running many pairs can carry on.
func Run(ctx context.Context, opts Options) (out Outcome) {
	log := opts.Logger
	if log == nil {
		log = logger.Default
	}
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.Default
	}
	if opts.Config != nil {
		out.RunID = opts.Config.Metadata.RunID
	}

	reg.RunStarted()
	defer func() {
		if r := recover(); r != nil {
			out.Result = nil
			out.Err = fmt.Errorf("calibration panicked: %v", r)
			log.Error("calibration panicked", "run_id", out.RunID, "panic", r, "stack", string(debug.Stack()))
		}
		reg.RunFinished(out.Err)
	}()

	c, err := New(opts)
	if err != nil {
		out.Err = err
		log.Error("calibration setup failed", "run_id", out.RunID, "error", err)
		return out
	}
	out.RunID = c.RunID()

	res, err := c.Calibrate(ctx)
	if err != nil {
		out.Err = err
		log.Error("calibration failed", "run_id", out.RunID, "error", err)
		return out
	}
	out.Result = res
	log.Info("calibration finished",
		"run_id", out.RunID,
		"mode", res.Mode,
		"fitness", res.Fitness,
		"collision", res.Collision,
		"opt_time", res.OptTime)
	return out
}
