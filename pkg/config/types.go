package config

import "time"

// Config represents one calibration run (or the template for a batch)
type Config struct {
	LogLevel     string       `yaml:"log_level"`
	Logging      *Logging     `yaml:"logging,omitempty"`
	Metadata     Metadata     `yaml:"metadata"`
	Simulation   Simulation   `yaml:"simulation"`
	Error        Error        `yaml:"error"`
	CFModel      CFModel      `yaml:"cf_model"`
	Optimization Optimization `yaml:"optimization"`
	Trajectory   Trajectory   `yaml:"trajectory"`
	Batch        *Batch       `yaml:"batch,omitempty"`
}

// Logging configures an optional rotated log file
type Logging struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Metadata identifies the run and where it writes
type Metadata struct {
	RunID  string `yaml:"run_id"`
	Cwd    string `yaml:"cwd"`    // per-run working directory
	Output string `yaml:"output"` // batch output directory (results.db)
}

// Backend names for Simulation.Backend
const (
	BackendTraCI     = "traci"
	BackendKinematic = "kinematic"
)

// Simulation describes how to launch and drive the simulator
type Simulation struct {
	Backend         string   `yaml:"backend"` // traci or kinematic
	Binary          string   `yaml:"binary"`
	NetFile         string   `yaml:"net_file,omitempty"`
	ConfigFile      string   `yaml:"config_file,omitempty"`
	RouteFiles      []string `yaml:"route_files,omitempty"`
	StepLength      float64  `yaml:"step_length"`
	RouteName       string   `yaml:"route_name"`
	TargetLane      string   `yaml:"target_lane"`
	Seed            int      `yaml:"seed"`
	GUI             bool     `yaml:"gui"`
	AdditionalFiles []string `yaml:"additional_files,omitempty"`
	ExtraArgs       []string `yaml:"extra_args,omitempty"`
	CollisionAction string   `yaml:"collision_action,omitempty"`
	RecycleAfterS   float64  `yaml:"recycle_after_s"`
	ReuseProcess    bool     `yaml:"reuse_process"`
	Port            int      `yaml:"port,omitempty"`
	ConnectRetries  int      `yaml:"connect_retries,omitempty"`

	// Kinematic backend only
	LaneLength float64 `yaml:"lane_length,omitempty"`
}

// StepMillis returns the step length in whole milliseconds
func (s *Simulation) StepMillis() int64 {
	return int64(s.StepLength*1000 + 0.5)
}

// Error selects the fitness metric
type Error struct {
	Metric       string `yaml:"metric"` // e.g. nrmse_s_v, rmse
	Method       string `yaml:"method"` // spacing or velocity
	IncludeAccel bool   `yaml:"include_accel"`
}

// Search space kinds
const (
	SearchUniform = "uniform"
	SearchChoice  = "choice"
)

// CFModel names the car-following model and its parameters
type CFModel struct {
	Model      string               `yaml:"model"`
	Parameters map[string]Parameter `yaml:"parameters"`
}

// Parameter is a single model parameter and its search space
type Parameter struct {
	Value       *float64  `yaml:"value,omitempty"`
	SearchSpace string    `yaml:"search_space,omitempty"`
	Args        []float64 `yaml:"args,omitempty"`
}

// Optimization modes
const (
	ModeOptimize = "optimize"
	ModeFixed    = "fixed"
)

// Optimization configures the black-box search
type Optimization struct {
	Mode                   string `yaml:"mode"`
	Algorithm              string `yaml:"algorithm"`
	Budget                 int    `yaml:"budget"`
	EarlyStopping          *bool  `yaml:"early_stopping,omitempty"`
	EarlyStoppingTolerance int    `yaml:"early_stopping_tolerance"`
	Seed                   int64  `yaml:"seed"`
	Timeout                string `yaml:"timeout,omitempty"` // e.g. "30m"
}

// EarlyStoppingEnabled reports whether the no-improvement stopper is active
func (o *Optimization) EarlyStoppingEnabled() bool {
	return o.EarlyStopping == nil || *o.EarlyStopping
}

// GetTimeout parses the optional wall-clock timeout
func (o *Optimization) GetTimeout() (time.Duration, error) {
	if o.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(o.Timeout)
}

// Trajectory selects the recorded pair
type Trajectory struct {
	DBPath     string      `yaml:"db_path"`
	LeaderID   *int64      `yaml:"leader_id,omitempty"`
	Follower   FollowerKey `yaml:"follower"`
	StepLength float64     `yaml:"step_length"`
}

// FollowerKey identifies a follower observation set
type FollowerKey struct {
	VehicleID   int64  `yaml:"vehicle_id"`
	Lane        string `yaml:"lane"`
	LaneIndex   int    `yaml:"lane_index"`
	OtherLeader bool   `yaml:"other_leader"`
}

// Batch configures multi-pair runs
type Batch struct {
	Workers    int    `yaml:"workers"`
	PairsLimit int    `yaml:"pairs_limit"`
	ResultsDB  string `yaml:"results_db,omitempty"`
}
