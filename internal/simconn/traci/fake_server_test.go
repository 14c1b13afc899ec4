package traci

import (
	"encoding/binary"
	"net"
	"strconv"
	"sync"
	"testing"
)

type fakeVehicle struct {
	pos   float64
	speed float64
	lane  string
}

// fakeServer answers the subset of TraCI the connection uses. Vehicles move
// at constant speed.
type fakeServer struct {
	ln         net.Listener
	step       float64
	mu         sync.Mutex
	vehicles   map[string]*fakeVehicle
	subscribed map[string]bool
	loads      [][]string
	accepted   int
	collisions int
}

func startFakeServer(t *testing.T, step float64) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{
		ln:         ln,
		step:       step,
		vehicles:   map[string]*fakeVehicle{},
		subscribed: map[string]bool{},
	}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeServer) addr() string {
	return s.ln.Addr().String()
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.accepted++
		s.mu.Unlock()
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	cl := newClient(conn, 0)
	for {
		msg, err := cl.receive()
		if err != nil {
			return
		}
		if _, err := msg.length(); err != nil {
			return
		}
		id, err := msg.ubyte()
		if err != nil {
			return
		}

		s.mu.Lock()
		body := s.dispatch(id, msg)
		s.mu.Unlock()

		out := make([]byte, 4, 4+len(body))
		binary.BigEndian.PutUint32(out, uint32(4+len(body)))
		if _, err := conn.Write(append(out, body...)); err != nil {
			return
		}
		if id == cmdClose {
			return
		}
	}
}

func status(id byte, code byte, desc string) []byte {
	return frameCommand(id, new(writer).ubyte(code).str(desc).bytes())
}

func (s *fakeServer) subscription(id string) []byte {
	v := s.vehicles[id]
	w := new(writer).str(id).ubyte(3)
	w.ubyte(varSpeed).ubyte(rtypeOK).typedDouble(v.speed)
	w.ubyte(varLanePosition).ubyte(rtypeOK).typedDouble(v.pos)
	w.ubyte(varAcceleration).ubyte(rtypeOK).typedDouble(0)
	return frameCommand(respSubscribeVehVar, w.bytes())
}

func (s *fakeServer) dispatch(id byte, r *reader) []byte {
	switch id {
	case cmdGetVersion:
		body := status(id, rtypeOK, "")
		return append(body, frameCommand(cmdGetVersion, new(writer).int32(21).str("SUMO fake").bytes())...)

	case cmdLoad:
		v, _ := r.typed()
		s.loads = append(s.loads, v.([]string))
		s.vehicles = map[string]*fakeVehicle{}
		s.subscribed = map[string]bool{}
		return status(id, rtypeOK, "")

	case cmdClose:
		return status(id, rtypeOK, "")

	case cmdSimStep:
		for _, v := range s.vehicles {
			v.pos += v.speed * s.step
		}
		var w writer
		w.int32(int32(len(s.subscribed)))
		for vid := range s.subscribed {
			w.buf.Write(s.subscription(vid))
		}
		return append(status(id, rtypeOK, ""), w.bytes()...)

	case cmdSetVehVariable:
		varID, _ := r.ubyte()
		vid, _ := r.str()
		if varID == varAddFull {
			r.ubyte()
			n, _ := r.int32()
			fields := make([]any, n)
			for i := range fields {
				fields[i], _ = r.typed()
			}
			speed, _ := strconv.ParseFloat(fields[5].(string), 64)
			pos, _ := strconv.ParseFloat(fields[4].(string), 64)
			s.vehicles[vid] = &fakeVehicle{pos: pos, speed: speed, lane: "E0_0"}
			return status(id, rtypeOK, "")
		}
		v, ok := s.vehicles[vid]
		if !ok {
			return status(id, rtypeErr, "Vehicle '"+vid+"' is not known")
		}
		switch varID {
		case varSpeed:
			v.speed, _ = r.typedDouble()
		case varMoveTo:
			r.ubyte()
			r.int32()
			v.lane, _ = r.typedString()
			v.pos, _ = r.typedDouble()
		case varRemove:
			delete(s.vehicles, vid)
			delete(s.subscribed, vid)
		}
		return status(id, rtypeOK, "")

	case cmdGetVehVariable:
		varID, _ := r.ubyte()
		vid, _ := r.str()
		v, ok := s.vehicles[vid]
		if !ok {
			return status(id, rtypeErr, "Vehicle '"+vid+"' is not known")
		}
		resp := new(writer).ubyte(varID).str(vid).typedString(v.lane)
		return append(status(id, rtypeOK, ""), frameCommand(respGetVehVariable, resp.bytes())...)

	case cmdGetSimVariable:
		varID, _ := r.ubyte()
		resp := new(writer).ubyte(varID).str("").typedInt(int32(s.collisions))
		return append(status(id, rtypeOK, ""), frameCommand(respGetSimVariable, resp.bytes())...)

	case cmdSubscribeVehVar:
		r.double()
		r.double()
		vid, _ := r.str()
		count, _ := r.ubyte()
		if count == 0 {
			delete(s.subscribed, vid)
			return status(id, rtypeOK, "")
		}
		if _, ok := s.vehicles[vid]; !ok {
			return status(id, rtypeErr, "Vehicle '"+vid+"' is not known")
		}
		s.subscribed[vid] = true
		return append(status(id, rtypeOK, ""), s.subscription(vid)...)
	}
	return status(id, rtypeNotImp, "unsupported")
}
