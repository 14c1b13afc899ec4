package traci

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/GoSim-25-26J-441/calibration-core/internal/simconn"
)

// client speaks the TraCI message framing over one TCP connection
type client struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
}

func newClient(conn net.Conn, timeout time.Duration) *client {
	return &client{conn: conn, r: bufio.NewReader(conn), timeout: timeout}
}

// send writes a single command and returns the response payload that
// follows its status block
func (c *client) send(id byte, payload []byte) (*reader, error) {
	cmd := frameCommand(id, payload)
	msg := make([]byte, 4, 4+len(cmd))
	binary.BigEndian.PutUint32(msg, uint32(4+len(cmd)))
	msg = append(msg, cmd...)

	if c.timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, err
		}
	}
	if _, err := c.conn.Write(msg); err != nil {
		return nil, fmt.Errorf("traci: write command 0x%02x: %w", id, err)
	}

	resp, err := c.receive()
	if err != nil {
		return nil, fmt.Errorf("traci: read response to 0x%02x: %w", id, err)
	}
	if err := readStatus(resp, id); err != nil {
		return nil, err
	}
	return resp, nil
}

// receive reads one length-prefixed message
func (c *client) receive() (*reader, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint32(hdr[:])) - 4
	if n < 0 {
		return nil, fmt.Errorf("traci: invalid message length %d", n+4)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(c.r, data); err != nil {
		return nil, err
	}
	return newReader(data), nil
}

func readStatus(r *reader, id byte) error {
	if _, err := r.length(); err != nil {
		return err
	}
	got, err := r.ubyte()
	if err != nil {
		return err
	}
	result, err := r.ubyte()
	if err != nil {
		return err
	}
	desc, err := r.str()
	if err != nil {
		return err
	}
	if got != id {
		return fmt.Errorf("traci: status for command 0x%02x, expected 0x%02x", got, id)
	}
	switch result {
	case rtypeOK:
		return nil
	case rtypeNotImp:
		return &simconn.CommandError{Command: commandName(id), Message: "not implemented: " + desc}
	default:
		return &simconn.CommandError{Command: commandName(id), Message: desc}
	}
}

func (c *client) close() error {
	return c.conn.Close()
}

func commandName(id byte) string {
	switch id {
	case cmdGetVersion:
		return "getVersion"
	case cmdLoad:
		return "load"
	case cmdSimStep:
		return "simulationStep"
	case cmdClose:
		return "close"
	case cmdGetSimVariable:
		return "simulation.get"
	case cmdGetVehVariable:
		return "vehicle.get"
	case cmdSetVehVariable:
		return "vehicle.set"
	case cmdSubscribeVehVar:
		return "vehicle.subscribe"
	default:
		return fmt.Sprintf("command 0x%02x", id)
	}
}
