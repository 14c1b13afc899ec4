// Package simconn defines the boundary between the episode runner and a
// microscopic traffic simulator.
package simconn

import (
	"context"
	"errors"
	"fmt"
)

// Speed modes understood by SetSpeedMode
const (
	// SpeedModeDefault keeps every safety check enabled
	SpeedModeDefault = 31
	// SpeedModeIgnoreLimits disables every check except the maximum
	// deceleration. Used for the replayed leader.
	SpeedModeIgnoreLimits = 32
)

// VehicleState is one subscription result for a vehicle
type VehicleState struct {
	Speed    float64
	Position float64
	Accel    float64
}

// Connection is a single simulator session. Implementations are not safe
// for concurrent use; one episode drives one connection at a time.
type Connection interface {
	// Label identifies this connection; unique per adapter instance
	Label() string
	// Open starts (or reloads) the simulator with the given additional files
	Open(ctx context.Context, additionalFiles []string) error
	// Close ends the current session. Closing a closed connection is a no-op.
	Close() error
	// Step advances the simulation by one step length
	Step() error
	// SimTime returns the current simulation time in seconds
	SimTime() float64

	AddVehicle(id, route string, departSpeed, departPos float64) error
	SetType(id, vehType string) error
	SetLength(id string, length float64) error
	SetSpeedMode(id string, mode int) error
	SetSpeed(id string, speed float64) error
	SetPreviousSpeed(id string, speed float64) error
	MoveTo(id, lane string, pos float64) error
	LaneID(id string) (string, error)
	Remove(id string) error
	Subscribe(id string) error
	Unsubscribe(id string) error

	// SubscriptionResults returns the latest state of every subscribed
	// vehicle still present in the network
	SubscriptionResults() map[string]VehicleState
	// Collisions returns the number of colliding vehicles in the last step
	Collisions() (int, error)
}

// ErrNotOpen is returned for commands on a closed connection
var ErrNotOpen = errors.New("simulation connection is not open")

// CommandError indicates the simulator rejected a command
type CommandError struct {
	Command string
	Vehicle string
	Message string
}

func (e *CommandError) Error() string {
	if e.Vehicle != "" {
		return fmt.Sprintf("%s %s: %s", e.Command, e.Vehicle, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}

// IsCommandError reports whether err wraps a *CommandError
func IsCommandError(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce)
}
