// Package kinematic is an in-process single-lane simulator implementing
// simconn.Connection. It replays speed and position overrides and moves
// every other vehicle with its vType's car-following law.
package kinematic

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/GoSim-25-26J-441/calibration-core/internal/simconn"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/logger"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/utils"
)

type vehicle struct {
	id        string
	vType     VType
	lane      string
	pos       float64
	speed     float64
	accel     float64
	length    float64
	speedMode int
	forced    *float64
	// time of the last car-following decision, in ms
	lastAction int64
	decided    float64
}

// Connection is the in-process backend
type Connection struct {
	label string
	sim   config.Simulation
	log   *slog.Logger

	open         bool
	sessions     int
	stepMs       int64
	timeMs       int64
	totalSimTime float64
	vtypes       map[string]VType
	vehicles     map[string]*vehicle
	subscribed   map[string]bool
	results      map[string]simconn.VehicleState
	collisions   int
}

var _ simconn.Connection = (*Connection)(nil)

// New creates an unopened kinematic connection
func New(sim config.Simulation, log *slog.Logger) *Connection {
	if log == nil {
		log = logger.Default
	}
	label := utils.NewConnectionLabel()
	return &Connection{
		label:  label,
		sim:    sim,
		log:    log.With("component", "kinematic", "label", label),
		stepMs: sim.StepMillis(),
	}
}

func (c *Connection) Label() string { return c.label }

// Sessions returns how many times the backend was opened
func (c *Connection) Sessions() int { return c.sessions }

func (c *Connection) SimTime() float64 { return float64(c.timeMs) / 1000 }

// Open resets the network and loads vTypes from the additional files
func (c *Connection) Open(_ context.Context, additionalFiles []string) error {
	vtypes := map[string]VType{
		DefaultVType: {ID: DefaultVType, Model: "Krauss", Params: map[string]float64{}},
	}
	files := append(append([]string(nil), c.sim.AdditionalFiles...), additionalFiles...)
	for _, f := range files {
		parsed, err := readVTypeFile(f)
		if err != nil {
			return fmt.Errorf("failed to load additional file: %w", err)
		}
		for id, vt := range parsed {
			vtypes[id] = vt
		}
	}

	if c.open && c.sim.RecycleAfterS > 0 && c.totalSimTime > c.sim.RecycleAfterS {
		c.log.Info("recycling kinematic session", "sim_time_s", c.totalSimTime)
		c.totalSimTime = 0
		c.sessions++
	} else if !c.open {
		c.totalSimTime = 0
		c.sessions++
	}

	c.vtypes = vtypes
	c.vehicles = map[string]*vehicle{}
	c.subscribed = map[string]bool{}
	c.results = map[string]simconn.VehicleState{}
	c.timeMs = 0
	c.collisions = 0
	c.open = true
	return nil
}

// Close drops the network state
func (c *Connection) Close() error {
	c.open = false
	c.vehicles = nil
	c.subscribed = nil
	c.results = nil
	return nil
}

func (c *Connection) vehicle(cmd, id string) (*vehicle, error) {
	if !c.open {
		return nil, simconn.ErrNotOpen
	}
	v, ok := c.vehicles[id]
	if !ok {
		return nil, &simconn.CommandError{Command: cmd, Vehicle: id, Message: fmt.Sprintf("Vehicle '%s' is not known", id)}
	}
	return v, nil
}

// AddVehicle inserts the vehicle immediately on the target lane
func (c *Connection) AddVehicle(id, route string, departSpeed, departPos float64) error {
	if !c.open {
		return simconn.ErrNotOpen
	}
	if _, exists := c.vehicles[id]; exists {
		return &simconn.CommandError{Command: "vehicle.add", Vehicle: id, Message: "vehicle already exists"}
	}
	vt := c.vtypes[DefaultVType]
	c.vehicles[id] = &vehicle{
		id:         id,
		vType:      vt,
		lane:       c.sim.TargetLane,
		pos:        departPos,
		speed:      departSpeed,
		length:     vt.Param("length", defaultLength),
		speedMode:  simconn.SpeedModeDefault,
		lastAction: c.timeMs,
		decided:    departSpeed,
	}
	return nil
}

func (c *Connection) SetType(id, vehType string) error {
	v, err := c.vehicle("vehicle.setType", id)
	if err != nil {
		return err
	}
	vt, ok := c.vtypes[vehType]
	if !ok {
		return &simconn.CommandError{Command: "vehicle.setType", Vehicle: id, Message: fmt.Sprintf("Vehicle type '%s' is not known", vehType)}
	}
	v.vType = vt
	v.length = vt.Param("length", defaultLength)
	return nil
}

func (c *Connection) SetLength(id string, length float64) error {
	v, err := c.vehicle("vehicle.setLength", id)
	if err != nil {
		return err
	}
	v.length = length
	return nil
}

func (c *Connection) SetSpeedMode(id string, mode int) error {
	v, err := c.vehicle("vehicle.setSpeedMode", id)
	if err != nil {
		return err
	}
	v.speedMode = mode
	return nil
}

// SetSpeed fixes the vehicle speed until a negative value releases it
func (c *Connection) SetSpeed(id string, speed float64) error {
	v, err := c.vehicle("vehicle.setSpeed", id)
	if err != nil {
		return err
	}
	if speed < 0 {
		v.forced = nil
		return nil
	}
	v.forced = &speed
	return nil
}

func (c *Connection) SetPreviousSpeed(id string, speed float64) error {
	v, err := c.vehicle("vehicle.setPreviousSpeed", id)
	if err != nil {
		return err
	}
	v.speed = speed
	return nil
}

func (c *Connection) MoveTo(id, lane string, pos float64) error {
	v, err := c.vehicle("vehicle.moveTo", id)
	if err != nil {
		return err
	}
	if c.sim.LaneLength > 0 && (pos < 0 || pos > c.sim.LaneLength) {
		return &simconn.CommandError{Command: "vehicle.moveTo", Vehicle: id, Message: fmt.Sprintf("position %.2f outside lane %s", pos, lane)}
	}
	v.lane = lane
	v.pos = pos
	return nil
}

func (c *Connection) LaneID(id string) (string, error) {
	v, err := c.vehicle("vehicle.getLaneID", id)
	if err != nil {
		return "", err
	}
	return v.lane, nil
}

func (c *Connection) Remove(id string) error {
	if _, err := c.vehicle("vehicle.remove", id); err != nil {
		return err
	}
	delete(c.vehicles, id)
	delete(c.subscribed, id)
	return nil
}

func (c *Connection) Subscribe(id string) error {
	v, err := c.vehicle("vehicle.subscribe", id)
	if err != nil {
		return err
	}
	c.subscribed[id] = true
	c.results[id] = stateOf(v)
	return nil
}

// Unsubscribe tolerates vehicles that already left the network
func (c *Connection) Unsubscribe(id string) error {
	if !c.open {
		return simconn.ErrNotOpen
	}
	delete(c.subscribed, id)
	delete(c.results, id)
	return nil
}

func stateOf(v *vehicle) simconn.VehicleState {
	return simconn.VehicleState{Speed: v.speed, Position: v.pos, Accel: v.accel}
}

// Step moves every vehicle by one step. Speeds are chosen from the states
// at the start of the step and applied together.
func (c *Connection) Step() error {
	if !c.open {
		return simconn.ErrNotOpen
	}
	dt := float64(c.stepMs) / 1000
	byLane := c.lanes()

	next := make(map[string]float64, len(c.vehicles))
	for _, lane := range byLane {
		for i, v := range lane {
			var leader *leaderInfo
			if i > 0 {
				ahead := lane[i-1]
				leader = &leaderInfo{gap: ahead.pos - ahead.length - v.pos, speed: ahead.speed}
			}
			next[v.id] = c.nextSpeed(v, leader, dt)
		}
	}

	c.timeMs += c.stepMs
	for id, speed := range next {
		v := c.vehicles[id]
		v.accel = (speed - v.speed) / dt
		v.speed = speed
		v.pos += speed * dt
		if c.sim.LaneLength > 0 && v.pos > c.sim.LaneLength {
			delete(c.vehicles, id)
			delete(c.subscribed, id)
		}
	}
	c.totalSimTime += dt

	c.collisions = 0
	for _, lane := range c.lanes() {
		for i := 1; i < len(lane); i++ {
			ahead, v := lane[i-1], lane[i]
			if ahead.pos-ahead.length < v.pos {
				c.collisions += 2
			}
		}
	}

	c.results = make(map[string]simconn.VehicleState, len(c.subscribed))
	for id := range c.subscribed {
		c.results[id] = stateOf(c.vehicles[id])
	}
	return nil
}

func (c *Connection) nextSpeed(v *vehicle, leader *leaderInfo, dt float64) float64 {
	if v.forced != nil {
		speed := *v.forced
		// bit 1 bounds acceleration, bit 2 bounds deceleration
		if v.speedMode&2 != 0 {
			speed = math.Min(speed, v.speed+v.vType.Param("accel", defaultAccel)*dt)
		}
		if v.speedMode&4 != 0 {
			speed = math.Max(speed, v.speed-v.vType.Param("decel", defaultDecel)*dt)
		}
		return speed
	}

	step := utils.SecondsToMillis(v.vType.Param("actionStepLength", 0))
	if step > c.stepMs && c.timeMs-v.lastAction < step {
		return v.decided
	}
	l, _ := lookupLaw(v.vType.Model)
	v.decided = l(v.vType, v.speed, leader, dt)
	v.lastAction = c.timeMs
	return v.decided
}

// lanes groups vehicles per lane, front vehicle first
func (c *Connection) lanes() map[string][]*vehicle {
	out := make(map[string][]*vehicle)
	for _, v := range c.vehicles {
		out[v.lane] = append(out[v.lane], v)
	}
	for _, vs := range out {
		sort.Slice(vs, func(i, j int) bool {
			if vs[i].pos == vs[j].pos {
				return vs[i].id < vs[j].id
			}
			return vs[i].pos > vs[j].pos
		})
	}
	return out
}

func (c *Connection) SubscriptionResults() map[string]simconn.VehicleState {
	out := make(map[string]simconn.VehicleState, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}

func (c *Connection) Collisions() (int, error) {
	if !c.open {
		return 0, simconn.ErrNotOpen
	}
	return c.collisions, nil
}
