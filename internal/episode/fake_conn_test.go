package episode

import (
	"context"
	"fmt"
	"strings"

	"github.com/GoSim-25-26J-441/calibration-core/internal/simconn"
)

// scriptedConn records commands and moves vehicles at their set speed.
// When overtake is set the follower is reported one metre ahead of the
// leader after every step.
type scriptedConn struct {
	calls      []string
	opened     int
	closed     int
	open       bool
	overtake   bool
	collisions int

	speeds     map[string]float64
	positions  map[string]float64
	subscribed map[string]bool
}

var _ simconn.Connection = (*scriptedConn)(nil)

func newScriptedConn() *scriptedConn {
	return &scriptedConn{}
}

func (c *scriptedConn) record(format string, args ...any) {
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
}

// after returns the calls following the nth (1-based) call with prefix
func (c *scriptedConn) after(prefix string, nth int) []string {
	for i, call := range c.calls {
		if strings.HasPrefix(call, prefix) {
			if nth--; nth == 0 {
				return c.calls[i+1:]
			}
		}
	}
	return nil
}

func (c *scriptedConn) count(prefix string) int {
	n := 0
	for _, call := range c.calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

func (c *scriptedConn) Label() string { return "scripted" }

func (c *scriptedConn) Open(_ context.Context, files []string) error {
	c.opened++
	c.open = true
	c.speeds = map[string]float64{}
	c.positions = map[string]float64{}
	c.subscribed = map[string]bool{}
	c.record("open %d", len(files))
	return nil
}

func (c *scriptedConn) Close() error {
	if c.open {
		c.closed++
	}
	c.open = false
	return nil
}

func (c *scriptedConn) Step() error {
	if !c.open {
		return simconn.ErrNotOpen
	}
	var leader string
	for id := range c.positions {
		c.positions[id] += c.speeds[id] * 0.1
		if strings.HasPrefix(id, "leader") {
			leader = id
		}
	}
	if c.overtake && leader != "" {
		for id := range c.positions {
			if strings.HasPrefix(id, "follower") {
				c.positions[id] = c.positions[leader] + 1
			}
		}
	}
	return nil
}

func (c *scriptedConn) SimTime() float64 { return 0 }

func (c *scriptedConn) known(cmd, id string) error {
	if _, ok := c.positions[id]; !ok {
		return &simconn.CommandError{Command: cmd, Vehicle: id, Message: "not known"}
	}
	return nil
}

func (c *scriptedConn) AddVehicle(id, _ string, speed, pos float64) error {
	c.record("add %s", id)
	c.speeds[id] = speed
	c.positions[id] = pos
	return nil
}

func (c *scriptedConn) SetType(id, vehType string) error {
	c.record("setType %s %s", id, vehType)
	return c.known("vehicle.setType", id)
}

func (c *scriptedConn) SetLength(id string, _ float64) error {
	return c.known("vehicle.setLength", id)
}

func (c *scriptedConn) SetSpeedMode(id string, mode int) error {
	c.record("setSpeedMode %s %d", id, mode)
	return c.known("vehicle.setSpeedMode", id)
}

func (c *scriptedConn) SetSpeed(id string, speed float64) error {
	if err := c.known("vehicle.setSpeed", id); err != nil {
		return err
	}
	c.speeds[id] = speed
	return nil
}

func (c *scriptedConn) SetPreviousSpeed(id string, _ float64) error {
	return c.known("vehicle.setPreviousSpeed", id)
}

func (c *scriptedConn) MoveTo(id, _ string, pos float64) error {
	c.record("moveTo %s %.2f", id, pos)
	if err := c.known("vehicle.moveTo", id); err != nil {
		return err
	}
	c.positions[id] = pos
	return nil
}

func (c *scriptedConn) LaneID(id string) (string, error) {
	return "E2_0", c.known("vehicle.getLaneID", id)
}

func (c *scriptedConn) Remove(id string) error {
	c.record("remove %s", id)
	if err := c.known("vehicle.remove", id); err != nil {
		return err
	}
	delete(c.positions, id)
	delete(c.speeds, id)
	delete(c.subscribed, id)
	return nil
}

func (c *scriptedConn) Subscribe(id string) error {
	c.record("subscribe %s", id)
	c.subscribed[id] = true
	return nil
}

func (c *scriptedConn) Unsubscribe(id string) error {
	c.record("unsubscribe %s", id)
	delete(c.subscribed, id)
	return nil
}

func (c *scriptedConn) SubscriptionResults() map[string]simconn.VehicleState {
	out := map[string]simconn.VehicleState{}
	for id := range c.subscribed {
		if pos, ok := c.positions[id]; ok {
			out[id] = simconn.VehicleState{Speed: c.speeds[id], Position: pos}
		}
	}
	return out
}

func (c *scriptedConn) Collisions() (int, error) { return c.collisions, nil }
