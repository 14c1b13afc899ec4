package episode

import (
	"fmt"
	"log/slog"

	"github.com/GoSim-25-26J-441/calibration-core/internal/simconn"
	"github.com/GoSim-25-26J-441/calibration-core/internal/simconn/kinematic"
	"github.com/GoSim-25-26J-441/calibration-core/internal/simconn/traci"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
)

// NewConnection builds the simulation backend named by sim.Backend
func NewConnection(sim config.Simulation, log *slog.Logger) (simconn.Connection, error) {
	switch sim.Backend {
	case config.BackendTraCI:
		return traci.New(traci.Options{Simulation: sim, Logger: log}), nil
	case config.BackendKinematic:
		return kinematic.New(sim, log), nil
	default:
		return nil, fmt.Errorf("unknown simulation backend: %q", sim.Backend)
	}
}
