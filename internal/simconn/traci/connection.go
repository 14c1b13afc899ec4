// Package traci drives an external SUMO process over the TraCI protocol.
package traci

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/GoSim-25-26J-441/calibration-core/internal/simconn"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/logger"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/utils"
)

// Options configures a TraCI connection
type Options struct {
	Simulation config.Simulation
	Logger     *slog.Logger
	// CommandTimeout bounds a single request/response exchange
	CommandTimeout time.Duration
	// Attach connects to an already listening server instead of launching
	// the simulator binary
	Attach string
}

// Connection implements simconn.Connection against a SUMO process
type Connection struct {
	label  string
	sim    config.Simulation
	log    *slog.Logger
	attach string

	timeout time.Duration
	client  *client
	proc    *exec.Cmd
	version string

	simTime      float64
	totalSimTime float64
	results      map[string]simconn.VehicleState
	sessions     int
}

var _ simconn.Connection = (*Connection)(nil)

// New creates an unopened connection with a fresh label
func New(opts Options) *Connection {
	log := opts.Logger
	if log == nil {
		log = logger.Default
	}
	label := utils.NewConnectionLabel()
	timeout := opts.CommandTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Connection{
		label:   label,
		sim:     opts.Simulation,
		log:     log.With("component", "traci", "label", label),
		attach:  opts.Attach,
		timeout: timeout,
		results: map[string]simconn.VehicleState{},
	}
}

// Label returns the connection label
func (c *Connection) Label() string { return c.label }

// Version returns the server identification reported on connect
func (c *Connection) Version() string { return c.version }

// Sessions returns how many times a process was started or attached
func (c *Connection) Sessions() int { return c.sessions }

// SimTime returns the simulation time of the current session
func (c *Connection) SimTime() float64 { return c.simTime }

// CommandLine builds the simulator arguments for one session. The binary
// is the first element; the remote port is not included.
func CommandLine(sim config.Simulation, additionalFiles []string) []string {
	args := []string{sim.Binary}
	if sim.ConfigFile != "" {
		args = append(args, "-c", sim.ConfigFile)
	}
	if sim.NetFile != "" {
		args = append(args, "-n", sim.NetFile)
	}
	if len(sim.RouteFiles) > 0 {
		args = append(args, "-r", strings.Join(sim.RouteFiles, ","))
	}
	args = append(args,
		"--step-length", strconv.FormatFloat(sim.StepLength, 'f', -1, 64),
		"--seed", strconv.Itoa(sim.Seed),
	)
	files := append(append([]string(nil), sim.AdditionalFiles...), additionalFiles...)
	if len(files) > 0 {
		args = append(args, "--additional-files", strings.Join(files, ","))
	}
	if sim.CollisionAction != "" {
		args = append(args, "--collision.action", sim.CollisionAction)
	}
	if sim.GUI {
		args = append(args, "--start", "--quit-on-end")
	}
	args = append(args, "--no-step-log", "true")
	return append(args, sim.ExtraArgs...)
}

// Open starts a session. With reuse_process a running simulator is
// reloaded in place unless its cumulative simulated time exceeded the
// recycle threshold, in which case it is restarted.
func (c *Connection) Open(ctx context.Context, additionalFiles []string) error {
	if c.client != nil {
		if c.sim.ReuseProcess && !c.needsRecycle() {
			return c.reload(additionalFiles)
		}
		c.log.Info("recycling simulator process", "sim_time_s", c.totalSimTime)
		if err := c.Close(); err != nil {
			c.log.Warn("close before recycle failed", "error", err)
		}
	}
	return c.start(ctx, additionalFiles)
}

func (c *Connection) needsRecycle() bool {
	return c.sim.RecycleAfterS > 0 && c.totalSimTime > c.sim.RecycleAfterS
}

func (c *Connection) start(ctx context.Context, additionalFiles []string) error {
	addr := c.attach
	if addr == "" {
		port := c.sim.Port
		if port == 0 {
			p, err := freePort()
			if err != nil {
				return fmt.Errorf("failed to find a free port: %w", err)
			}
			port = p
		}
		args := CommandLine(c.sim, additionalFiles)
		args = append(args, "--remote-port", strconv.Itoa(port))
		cmd := exec.Command(args[0], args[1:]...)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("failed to start %s: %w", args[0], err)
		}
		c.proc = cmd
		addr = net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
		c.log.Debug("simulator started", "pid", cmd.Process.Pid, "args", strings.Join(args, " "))
	}

	var conn net.Conn
	backoff := utils.NewExponentialBackoff(50*time.Millisecond, time.Second, 2, false)
	err := utils.Retry(ctx, c.sim.ConnectRetries, backoff, func() error {
		var dialErr error
		conn, dialErr = net.DialTimeout("tcp", addr, time.Second)
		return dialErr
	})
	if err != nil {
		c.killProcess()
		return fmt.Errorf("failed to connect to simulator at %s: %w", addr, err)
	}

	c.client = newClient(conn, c.timeout)
	if err := c.handshake(); err != nil {
		c.client.close()
		c.client = nil
		c.killProcess()
		return err
	}
	c.sessions++
	c.totalSimTime = 0
	c.resetSession()
	return nil
}

func (c *Connection) handshake() error {
	resp, err := c.client.send(cmdGetVersion, nil)
	if err != nil {
		return fmt.Errorf("traci handshake failed: %w", err)
	}
	if _, err := resp.length(); err != nil {
		return err
	}
	if _, err := resp.ubyte(); err != nil {
		return err
	}
	api, err := resp.int32()
	if err != nil {
		return err
	}
	ident, err := resp.str()
	if err != nil {
		return err
	}
	c.version = ident
	c.log.Info("connected to simulator", "api", api, "version", ident)
	return nil
}

func (c *Connection) reload(additionalFiles []string) error {
	args := CommandLine(c.sim, additionalFiles)[1:]
	var w writer
	w.typedStringList(args)
	if _, err := c.client.send(cmdLoad, w.bytes()); err != nil {
		return fmt.Errorf("failed to reload simulation: %w", err)
	}
	c.resetSession()
	return nil
}

func (c *Connection) resetSession() {
	c.simTime = 0
	c.results = map[string]simconn.VehicleState{}
}

// Close ends the session and the simulator process
func (c *Connection) Close() error {
	if c.client == nil {
		return nil
	}
	_, sendErr := c.client.send(cmdClose, nil)
	closeErr := c.client.close()
	c.client = nil
	c.waitProcess()
	c.resetSession()
	if sendErr != nil && !errors.Is(sendErr, net.ErrClosed) {
		return fmt.Errorf("close failed: %w", sendErr)
	}
	return closeErr
}

func (c *Connection) waitProcess() {
	if c.proc == nil {
		return
	}
	done := make(chan error, 1)
	go func() { done <- c.proc.Wait() }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.log.Warn("simulator did not exit, killing")
		_ = c.proc.Process.Kill()
		<-done
	}
	c.proc = nil
}

func (c *Connection) killProcess() {
	if c.proc == nil {
		return
	}
	_ = c.proc.Process.Kill()
	_ = c.proc.Wait()
	c.proc = nil
}

// Step advances the simulation by one step and refreshes subscriptions
func (c *Connection) Step() error {
	if c.client == nil {
		return simconn.ErrNotOpen
	}
	var w writer
	w.double(0)
	resp, err := c.client.send(cmdSimStep, w.bytes())
	if err != nil {
		return err
	}
	n, err := resp.int32()
	if err != nil {
		return err
	}
	results := make(map[string]simconn.VehicleState, n)
	for i := int32(0); i < n; i++ {
		if err := readSubscription(resp, results); err != nil {
			return err
		}
	}
	c.results = results
	c.simTime += c.sim.StepLength
	c.totalSimTime += c.sim.StepLength
	return nil
}

// readSubscription decodes one vehicle variable subscription response
func readSubscription(r *reader, into map[string]simconn.VehicleState) error {
	if _, err := r.length(); err != nil {
		return err
	}
	id, err := r.ubyte()
	if err != nil {
		return err
	}
	if id != respSubscribeVehVar {
		return fmt.Errorf("traci: unexpected subscription response 0x%02x", id)
	}
	obj, err := r.str()
	if err != nil {
		return err
	}
	count, err := r.ubyte()
	if err != nil {
		return err
	}
	state := into[obj]
	for i := 0; i < int(count); i++ {
		varID, err := r.ubyte()
		if err != nil {
			return err
		}
		status, err := r.ubyte()
		if err != nil {
			return err
		}
		if status != rtypeOK {
			if _, err := r.typed(); err != nil {
				return err
			}
			continue
		}
		v, err := r.typedDouble()
		if err != nil {
			return err
		}
		switch varID {
		case varSpeed:
			state.Speed = v
		case varLanePosition:
			state.Position = v
		case varAcceleration:
			state.Accel = v
		}
	}
	into[obj] = state
	return nil
}

// SubscriptionResults returns the states delivered with the last step
func (c *Connection) SubscriptionResults() map[string]simconn.VehicleState {
	out := make(map[string]simconn.VehicleState, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}

func (c *Connection) setVehicle(name, id string, varID byte, value *writer) error {
	if c.client == nil {
		return simconn.ErrNotOpen
	}
	var w writer
	w.ubyte(varID).str(id)
	w.buf.Write(value.bytes())
	_, err := c.client.send(cmdSetVehVariable, w.bytes())
	return annotate(err, name, id)
}

func annotate(err error, name, id string) error {
	var ce *simconn.CommandError
	if errors.As(err, &ce) {
		return &simconn.CommandError{Command: name, Vehicle: id, Message: ce.Message}
	}
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// AddVehicle inserts a vehicle on the given route with the default type
func (c *Connection) AddVehicle(id, route string, departSpeed, departPos float64) error {
	w := new(writer).compound(14).
		typedString(route).
		typedString("DEFAULT_VEHTYPE").
		typedString("now").
		typedString("first").
		typedString(formatFloat(departPos)).
		typedString(formatFloat(departSpeed)).
		typedString("current").
		typedString("max").
		typedString("current").
		typedString("").
		typedString("").
		typedString("").
		typedInt(0).
		typedInt(0)
	return c.setVehicle("vehicle.add", id, varAddFull, w)
}

func (c *Connection) SetType(id, vehType string) error {
	return c.setVehicle("vehicle.setType", id, varType, new(writer).typedString(vehType))
}

func (c *Connection) SetLength(id string, length float64) error {
	return c.setVehicle("vehicle.setLength", id, varLength, new(writer).typedDouble(length))
}

func (c *Connection) SetSpeedMode(id string, mode int) error {
	return c.setVehicle("vehicle.setSpeedMode", id, varSpeedSetMode, new(writer).typedInt(int32(mode)))
}

func (c *Connection) SetSpeed(id string, speed float64) error {
	return c.setVehicle("vehicle.setSpeed", id, varSpeed, new(writer).typedDouble(speed))
}

// SetPreviousSpeed overrides the speed of the last step; acceleration is
// left for the simulator to derive
func (c *Connection) SetPreviousSpeed(id string, speed float64) error {
	w := new(writer).compound(2).typedDouble(speed).typedDouble(invalidDouble)
	return c.setVehicle("vehicle.setPreviousSpeed", id, varPrevSpeed, w)
}

func (c *Connection) MoveTo(id, lane string, pos float64) error {
	w := new(writer).compound(3).typedString(lane).typedDouble(pos).typedInt(moveAutomatic)
	return c.setVehicle("vehicle.moveTo", id, varMoveTo, w)
}

func (c *Connection) Remove(id string) error {
	return c.setVehicle("vehicle.remove", id, varRemove, new(writer).typedByte(removeVaporized))
}

// LaneID returns the lane the vehicle currently drives on
func (c *Connection) LaneID(id string) (string, error) {
	if c.client == nil {
		return "", simconn.ErrNotOpen
	}
	var w writer
	w.ubyte(varLaneID).str(id)
	resp, err := c.client.send(cmdGetVehVariable, w.bytes())
	if err != nil {
		return "", annotate(err, "vehicle.getLaneID", id)
	}
	if err := skipGetHeader(resp, respGetVehVariable); err != nil {
		return "", err
	}
	return resp.typedString()
}

// Collisions returns the number of vehicles involved in collisions during
// the last step
func (c *Connection) Collisions() (int, error) {
	if c.client == nil {
		return 0, simconn.ErrNotOpen
	}
	var w writer
	w.ubyte(varCollidingVehNum).str("")
	resp, err := c.client.send(cmdGetSimVariable, w.bytes())
	if err != nil {
		return 0, err
	}
	if err := skipGetHeader(resp, respGetSimVariable); err != nil {
		return 0, err
	}
	return resp.typedInt()
}

func skipGetHeader(r *reader, want byte) error {
	if _, err := r.length(); err != nil {
		return err
	}
	id, err := r.ubyte()
	if err != nil {
		return err
	}
	if id != want {
		return fmt.Errorf("traci: unexpected response 0x%02x, expected 0x%02x", id, want)
	}
	if _, err := r.ubyte(); err != nil {
		return err
	}
	_, err = r.str()
	return err
}

// Subscribe requests speed, lane position and acceleration after each step
func (c *Connection) Subscribe(id string) error {
	return c.subscribe(id, subscribedVars)
}

// Unsubscribe cancels the vehicle's subscription
func (c *Connection) Unsubscribe(id string) error {
	return c.subscribe(id, nil)
}

func (c *Connection) subscribe(id string, vars []byte) error {
	if c.client == nil {
		return simconn.ErrNotOpen
	}
	var w writer
	w.double(invalidDouble).double(invalidDouble).str(id).ubyte(byte(len(vars)))
	for _, v := range vars {
		w.ubyte(v)
	}
	resp, err := c.client.send(cmdSubscribeVehVar, w.bytes())
	if err != nil {
		return annotate(err, "vehicle.subscribe", id)
	}
	if len(vars) == 0 {
		delete(c.results, id)
		return nil
	}
	if resp.remaining() > 0 {
		return readSubscription(resp, c.results)
	}
	return nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
