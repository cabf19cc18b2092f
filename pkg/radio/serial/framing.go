package serial

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/robotalks/radiogw/pkg/radio"
)

// Op is the record type exchanged with the dongle.
type Op byte

// Record types.
const (
	// OpReceive carries src(6) | payload, dongle to host.
	OpReceive Op = iota + 1
	// OpSend carries dst(6) | payload, host to dongle.
	OpSend
	// OpSendStatus carries dst(6) | status(1), dongle to host.
	OpSendStatus
	// OpAddPeer carries addr(6) | channel(1) | interface(1).
	OpAddPeer
	// OpDelPeer carries addr(6).
	OpDelPeer
	// OpSetChannel carries channel(1).
	OpSetChannel
)

// MaxRecordSize bounds a record read from the wire.
const MaxRecordSize = 1 + radio.AddrLen + radio.MaxFrameSize

// ErrRecordTooLarge indicates a corrupted length prefix.
var ErrRecordTooLarge = errors.New("serial record too large")

// ErrShortRecord indicates a record shorter than its op requires.
var ErrShortRecord = errors.New("serial record too short")

// Record is a single framed message.
type Record struct {
	Op   Op
	Addr radio.Addr
	Body []byte
}

// Codec frames records on a byte stream.
// Each record is prefixed by 4-byte (little-endian) length.
type Codec struct {
	io.ReadWriter
}

// NewCodec creates a Codec.
func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{rw}
}

// ReadRecord reads the next record.
func (c *Codec) ReadRecord() (*Record, error) {
	var size uint32
	if err := binary.Read(c, binary.LittleEndian, &size); err != nil {
		return nil, err
	}
	if size > MaxRecordSize {
		return nil, ErrRecordTooLarge
	}
	raw := make([]byte, size)
	if _, err := io.ReadFull(c, raw); err != nil {
		return nil, err
	}
	return decodeRecord(raw)
}

// WriteRecord writes a record.
func (c *Codec) WriteRecord(r *Record) error {
	raw := encodeRecord(r)
	out := make([]byte, 4+len(raw))
	binary.LittleEndian.PutUint32(out, uint32(len(raw)))
	copy(out[4:], raw)
	_, err := c.Write(out)
	return err
}

func hasAddr(op Op) bool {
	return op != OpSetChannel
}

func encodeRecord(r *Record) []byte {
	raw := []byte{byte(r.Op)}
	if hasAddr(r.Op) {
		raw = append(raw, r.Addr[:]...)
	}
	return append(raw, r.Body...)
}

func decodeRecord(raw []byte) (*Record, error) {
	if len(raw) < 1 {
		return nil, ErrShortRecord
	}
	r := &Record{Op: Op(raw[0])}
	raw = raw[1:]
	if hasAddr(r.Op) {
		if len(raw) < radio.AddrLen {
			return nil, ErrShortRecord
		}
		copy(r.Addr[:], raw)
		raw = raw[radio.AddrLen:]
	}
	switch r.Op {
	case OpSendStatus, OpSetChannel:
		if len(raw) != 1 {
			return nil, ErrShortRecord
		}
	case OpAddPeer:
		if len(raw) != 2 {
			return nil, ErrShortRecord
		}
	case OpReceive, OpSend, OpDelPeer:
	default:
		return nil, fmt.Errorf("unknown serial record op %d", r.Op)
	}
	r.Body = raw
	return r, nil
}
