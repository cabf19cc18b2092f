// Package protocol encodes the packets exchanged between nodes and the gateway.
//
// A packet is a 2-byte header followed by the payload. The first header byte
// carries the type in the high nibble and a type specific code in the low
// nibble, the second one the payload length.
package protocol

import (
	"fmt"
	"io"

	"github.com/robotalks/radiogw/pkg/radio"
)

// HeaderSize is the encoded size of the header.
const HeaderSize = 2

// MaxPayload is the largest payload fitting in one radio frame.
const MaxPayload = radio.MaxFrameSize - HeaderSize

// Type is the packet type.
type Type byte

// Packet types.
const (
	TypeInvalid Type = iota
	TypeConnect
	TypeConnAck
	TypePublish
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case TypeInvalid:
		return "INVALID"
	case TypeConnect:
		return "CONNECT"
	case TypeConnAck:
		return "CONNACK"
	case TypePublish:
		return "PUBLISH"
	default:
		return fmt.Sprintf("TYPE(%d)", byte(t))
	}
}

// CONNACK codes.
const (
	ConnAckInvalid byte = iota
	ConnAckSuccess
	ConnAckFailure
)

// Packet is a decoded packet.
type Packet struct {
	Type Type
	Code byte
	Data []byte
}

// EncodeHeader packs type and code into the first header byte.
func EncodeHeader(t Type, code byte) byte {
	return (byte(t)&0x0f)<<4 | code&0x0f
}

// Bytes returns encoded bytes for sending.
func (p *Packet) Bytes() []byte {
	b := make([]byte, HeaderSize+len(p.Data))
	b[0], b[1] = EncodeHeader(p.Type, p.Code), byte(len(p.Data))
	copy(b[HeaderSize:], p.Data)
	return b
}

// Encode validates and encodes the packet.
func (p *Packet) Encode() ([]byte, error) {
	if len(p.Data) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	if p.Code > 0x0f || p.Type > 0x0f {
		return nil, ErrInvalidHeader
	}
	return p.Bytes(), nil
}

// WriteTo writes encoded bytes.
func (p *Packet) WriteTo(w io.Writer) (int64, error) {
	b, err := p.Encode()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// Decode parses a packet. Data aliases b.
func Decode(b []byte) (*Packet, error) {
	if len(b) < HeaderSize {
		return nil, ErrShortPacket
	}
	p := &Packet{Type: Type(b[0] >> 4), Code: b[0] & 0x0f}
	if p.Type == TypeInvalid {
		return nil, ErrInvalidHeader
	}
	l := int(b[1])
	if l > len(b)-HeaderSize {
		return nil, &LengthError{Declared: l, Actual: len(b) - HeaderSize}
	}
	p.Data = b[HeaderSize : HeaderSize+l]
	return p, nil
}

// Connect creates a CONNECT packet.
func Connect() *Packet {
	return &Packet{Type: TypeConnect}
}

// ConnAck creates a CONNACK packet with code.
func ConnAck(code byte) *Packet {
	return &Packet{Type: TypeConnAck, Code: code}
}

// Publish creates a PUBLISH packet.
func Publish(data []byte) *Packet {
	return &Packet{Type: TypePublish, Data: data}
}
