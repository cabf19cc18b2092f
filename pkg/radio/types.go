// Package radio defines the contract of the low-level radio datagram driver.
//
// Drivers deliver received frames and send completions through callbacks
// which run in the driver's own context. Callbacks must return quickly and
// must never block indefinitely.
package radio

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// MaxFrameSize is the maximum payload of a single radio frame.
const MaxFrameSize = 250

// AddrLen is the length of a hardware address.
const AddrLen = 6

// Addr is a hardware address.
type Addr [AddrLen]byte

// Broadcast is the all-ones broadcast destination.
var Broadcast = Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseAddr parses "aa:bb:cc:dd:ee:ff", "aa-bb-..." or "aabbccddeeff".
func ParseAddr(s string) (Addr, error) {
	var a Addr
	clean := strings.NewReplacer(":", "", "-", "").Replace(s)
	if len(clean) != AddrLen*2 {
		return a, fmt.Errorf("invalid hardware address %q", s)
	}
	if _, err := hex.Decode(a[:], []byte(clean)); err != nil {
		return a, fmt.Errorf("invalid hardware address %q: %v", s, err)
	}
	return a, nil
}

// MustParseAddr is ParseAddr which panics on error.
func MustParseAddr(s string) Addr {
	a, err := ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String formats the address as aa:bb:cc:dd:ee:ff.
func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// Compact formats the address without separators, suitable for topics.
func (a Addr) Compact() string {
	return hex.EncodeToString(a[:])
}

// IsBroadcast indicates the broadcast address.
func (a Addr) IsBroadcast() bool {
	return a == Broadcast
}

// IsZero indicates an unset address.
func (a Addr) IsZero() bool {
	return a == Addr{}
}

// Frame is a received radio datagram.
type Frame struct {
	Src  Addr
	Data []byte
}

// Interface selects the network interface a peer is reached through.
type Interface uint8

// Interfaces.
const (
	InterfaceSTA Interface = iota
	InterfaceAP
)

// Peer is an entry of the driver's peer table.
type Peer struct {
	Addr      Addr
	Channel   uint8
	Interface Interface
}

// SendStatus is the result reported by the send-completion callback.
type SendStatus uint8

// Send statuses.
const (
	SendSuccess SendStatus = iota
	SendFailure
)

// String implements fmt.Stringer.
func (s SendStatus) String() string {
	switch s {
	case SendSuccess:
		return "success"
	case SendFailure:
		return "failure"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ReceiveFunc is invoked by the driver for every received frame.
// data is only valid for the duration of the call.
type ReceiveFunc func(src Addr, data []byte)

// SendCompleteFunc is invoked by the driver once a send finished on air.
type SendCompleteFunc func(dst Addr, status SendStatus)

// Driver is the radio transport collaborator.
type Driver interface {
	// Init brings the radio up.
	Init() error
	// Deinit releases the radio and drops registered callbacks.
	Deinit() error
	// RegisterReceive installs the receive callback.
	RegisterReceive(ReceiveFunc) error
	// RegisterSendComplete installs the send-completion callback.
	RegisterSendComplete(SendCompleteFunc) error
	// AddPeer adds a peer table entry.
	AddPeer(Peer) error
	// DelPeer removes a peer table entry.
	DelPeer(Addr) error
	// Send queues data for dst and returns immediately.
	// Completion is reported through the send-completion callback.
	Send(dst Addr, data []byte) error
}

// ChannelSetter is implemented by drivers which can retune at runtime.
type ChannelSetter interface {
	SetChannel(uint8) error
}
