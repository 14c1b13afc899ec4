package config

import (
	"fmt"
	"os"
	"strings"
)

// Defaults applied before validation
const (
	DefaultMetric                 = "nrmse_s_v"
	DefaultMethod                 = "spacing"
	DefaultAlgorithm              = "NelderMead"
	DefaultBudget                 = 100
	DefaultEarlyStoppingTolerance = 20
	DefaultSeed                   = 42
	DefaultRecycleAfterS          = 1000.0
	DefaultStepLength             = 0.1
	DefaultRouteName              = "r_0"
	DefaultTargetLane             = "E2_0"
	DefaultBinary                 = "sumo"
)

// LoadConfig loads and parses a configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills unset fields
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Metadata.Cwd == "" {
		cfg.Metadata.Cwd = "."
	}
	if cfg.Metadata.Output == "" {
		cfg.Metadata.Output = cfg.Metadata.Cwd
	}

	sim := &cfg.Simulation
	if sim.Backend == "" {
		sim.Backend = BackendTraCI
	}
	if sim.Binary == "" {
		sim.Binary = DefaultBinary
		if sim.GUI {
			sim.Binary = "sumo-gui"
		}
	}
	if sim.StepLength == 0 {
		sim.StepLength = DefaultStepLength
	}
	if sim.RouteName == "" {
		sim.RouteName = DefaultRouteName
	}
	if sim.TargetLane == "" {
		sim.TargetLane = DefaultTargetLane
	}
	if sim.Seed == 0 {
		sim.Seed = DefaultSeed
	}
	if sim.RecycleAfterS == 0 {
		sim.RecycleAfterS = DefaultRecycleAfterS
	}
	if sim.ConnectRetries == 0 {
		sim.ConnectRetries = 20
	}

	if cfg.Error.Metric == "" {
		cfg.Error.Metric = DefaultMetric
	}
	if cfg.Error.Method == "" {
		cfg.Error.Method = DefaultMethod
	}

	opt := &cfg.Optimization
	if opt.Mode == "" {
		opt.Mode = ModeOptimize
	}
	if opt.Algorithm == "" {
		opt.Algorithm = DefaultAlgorithm
	}
	if opt.Budget == 0 {
		opt.Budget = DefaultBudget
	}
	if opt.EarlyStoppingTolerance == 0 {
		opt.EarlyStoppingTolerance = DefaultEarlyStoppingTolerance
	}
	if opt.Seed == 0 {
		opt.Seed = DefaultSeed
	}

	if cfg.Trajectory.StepLength == 0 {
		cfg.Trajectory.StepLength = sim.StepLength
	}
}

// validateConfig performs validation on the configuration
func validateConfig(cfg *Config) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}

	if err := validateSimulation(&cfg.Simulation); err != nil {
		return fmt.Errorf("simulation validation failed: %w", err)
	}
	if err := validateError(&cfg.Error); err != nil {
		return fmt.Errorf("error validation failed: %w", err)
	}
	if err := validateCFModel(&cfg.CFModel); err != nil {
		return fmt.Errorf("cf_model validation failed: %w", err)
	}
	if err := validateOptimization(&cfg.Optimization); err != nil {
		return fmt.Errorf("optimization validation failed: %w", err)
	}
	if err := validateTrajectory(&cfg.Trajectory); err != nil {
		return fmt.Errorf("trajectory validation failed: %w", err)
	}
	if cfg.Batch != nil {
		if cfg.Batch.Workers < 0 {
			return fmt.Errorf("batch validation failed: workers cannot be negative")
		}
		if cfg.Batch.PairsLimit < 0 {
			return fmt.Errorf("batch validation failed: pairs_limit cannot be negative")
		}
	}
	if cfg.Logging != nil && cfg.Logging.File == "" {
		return fmt.Errorf("logging validation failed: file is required")
	}

	return nil
}

// validateSimulation validates the simulator section
func validateSimulation(sim *Simulation) error {
	switch sim.Backend {
	case BackendTraCI:
		if sim.NetFile == "" && sim.ConfigFile == "" {
			return fmt.Errorf("traci backend requires net_file or config_file")
		}
	case BackendKinematic:
	default:
		return fmt.Errorf("invalid backend: %s (must be %s or %s)", sim.Backend, BackendTraCI, BackendKinematic)
	}
	if sim.StepLength <= 0 {
		return fmt.Errorf("step_length must be positive")
	}
	if sim.StepMillis() == 0 {
		return fmt.Errorf("step_length must be at least 1ms")
	}
	if sim.RecycleAfterS < 0 {
		return fmt.Errorf("recycle_after_s cannot be negative")
	}
	if sim.Port < 0 || sim.Port > 65535 {
		return fmt.Errorf("invalid port: %d", sim.Port)
	}
	if sim.LaneLength < 0 {
		return fmt.Errorf("lane_length cannot be negative")
	}
	return nil
}

// validateError checks the error section shape. Metric names are resolved
// against the scorer's registry when the calibrator is built.
func validateError(e *Error) error {
	if strings.TrimSpace(e.Metric) == "" {
		return fmt.Errorf("metric cannot be empty")
	}
	switch e.Method {
	case "spacing", "velocity":
	default:
		return fmt.Errorf("invalid method: %s (must be spacing or velocity)", e.Method)
	}
	return nil
}

// validateCFModel validates the model and parameter declarations
func validateCFModel(m *CFModel) error {
	if m.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	for name, p := range m.Parameters {
		if name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		switch p.SearchSpace {
		case "":
		case SearchUniform:
			if len(p.Args) != 2 {
				return fmt.Errorf("parameter %s: uniform search space needs exactly 2 args, got %d", name, len(p.Args))
			}
			if p.Args[0] > p.Args[1] {
				return fmt.Errorf("parameter %s: lower bound %g exceeds upper bound %g", name, p.Args[0], p.Args[1])
			}
		case SearchChoice:
			if len(p.Args) == 0 {
				return fmt.Errorf("parameter %s: choice search space needs at least one arg", name)
			}
		default:
			// Unknown kinds are rejected by the parameter space with a typed error.
		}
	}
	return nil
}

// validateOptimization validates the search settings
func validateOptimization(o *Optimization) error {
	switch o.Mode {
	case ModeOptimize, ModeFixed:
	default:
		return fmt.Errorf("invalid mode: %s (must be %s or %s)", o.Mode, ModeOptimize, ModeFixed)
	}
	if o.Budget <= 0 {
		return fmt.Errorf("budget must be positive")
	}
	if o.EarlyStoppingTolerance <= 0 {
		return fmt.Errorf("early_stopping_tolerance must be positive")
	}
	if _, err := o.GetTimeout(); err != nil {
		return fmt.Errorf("invalid timeout format: %w", err)
	}
	return nil
}

// validateTrajectory validates the recorded pair selection
func validateTrajectory(t *Trajectory) error {
	if t.StepLength <= 0 {
		return fmt.Errorf("step_length must be positive")
	}
	if t.LeaderID != nil && t.DBPath == "" {
		return fmt.Errorf("leader_id set without db_path")
	}
	return nil
}
