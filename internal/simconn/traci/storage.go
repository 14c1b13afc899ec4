package traci

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// writer builds the payload of one command
type writer struct {
	buf bytes.Buffer
}

func (w *writer) ubyte(v byte) *writer {
	w.buf.WriteByte(v)
	return w
}

func (w *writer) int32(v int32) *writer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
	return w
}

func (w *writer) double(v float64) *writer {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	w.buf.Write(b[:])
	return w
}

func (w *writer) str(s string) *writer {
	w.int32(int32(len(s)))
	w.buf.WriteString(s)
	return w
}

func (w *writer) typedString(s string) *writer {
	return w.ubyte(typeString).str(s)
}

func (w *writer) typedDouble(v float64) *writer {
	return w.ubyte(typeDouble).double(v)
}

func (w *writer) typedInt(v int32) *writer {
	return w.ubyte(typeInteger).int32(v)
}

func (w *writer) typedByte(v int8) *writer {
	return w.ubyte(typeByte).ubyte(byte(v))
}

func (w *writer) typedStringList(list []string) *writer {
	w.ubyte(typeStringList).int32(int32(len(list)))
	for _, s := range list {
		w.str(s)
	}
	return w
}

func (w *writer) compound(n int32) *writer {
	return w.ubyte(typeCompound).int32(n)
}

func (w *writer) bytes() []byte {
	return w.buf.Bytes()
}

// frameCommand prefixes a command id and payload with its length field
func frameCommand(id byte, payload []byte) []byte {
	var w writer
	if n := len(payload) + 2; n <= 255 {
		w.ubyte(byte(n))
	} else {
		w.ubyte(0).int32(int32(len(payload) + 6))
	}
	w.ubyte(id)
	w.buf.Write(payload)
	return w.bytes()
}

// reader decodes a received message
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) need(n int) error {
	if r.remaining() < n {
		return fmt.Errorf("traci: short message, need %d bytes at offset %d: %w", n, r.pos, io.ErrUnexpectedEOF)
	}
	return nil
}

func (r *reader) ubyte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) int32() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	return v, nil
}

func (r *reader) double() (float64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := math.Float64frombits(binary.BigEndian.Uint64(r.data[r.pos:]))
	r.pos += 8
	return v, nil
}

func (r *reader) str() (string, error) {
	n, err := r.int32()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("traci: negative string length %d", n)
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.data[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// length reads a command length field in its short or extended form
func (r *reader) length() (int, error) {
	b, err := r.ubyte()
	if err != nil {
		return 0, err
	}
	if b > 0 {
		return int(b), nil
	}
	n, err := r.int32()
	return int(n), err
}

// typed reads a type tag and its value
func (r *reader) typed() (any, error) {
	t, err := r.ubyte()
	if err != nil {
		return nil, err
	}
	switch t {
	case typeUByte:
		b, err := r.ubyte()
		return int(b), err
	case typeByte:
		b, err := r.ubyte()
		return int(int8(b)), err
	case typeInteger:
		v, err := r.int32()
		return int(v), err
	case typeDouble:
		return r.double()
	case typeString:
		return r.str()
	case typeStringList:
		n, err := r.int32()
		if err != nil {
			return nil, err
		}
		list := make([]string, 0, n)
		for i := int32(0); i < n; i++ {
			s, err := r.str()
			if err != nil {
				return nil, err
			}
			list = append(list, s)
		}
		return list, nil
	default:
		return nil, fmt.Errorf("traci: unsupported value type 0x%02x", t)
	}
}

func (r *reader) typedDouble() (float64, error) {
	v, err := r.typed()
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("traci: expected double, got %T", v)
	}
}

func (r *reader) typedInt() (int, error) {
	v, err := r.typed()
	if err != nil {
		return 0, err
	}
	i, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("traci: expected integer, got %T", v)
	}
	return i, nil
}

func (r *reader) typedString() (string, error) {
	v, err := r.typed()
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("traci: expected string, got %T", v)
	}
	return s, nil
}
