// Package udp emulates the radio over an IPv4 multicast group.
//
// Every datagram carries dst(6) | src(6) | payload. All members of the group
// hear every datagram and keep those addressed to them or to broadcast.
package udp

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/ipv4"

	"github.com/robotalks/radiogw/pkg/radio"
)

// DefaultGroup is the default multicast group.
const DefaultGroup = "239.255.42.1:4210"

const headerLen = 2 * radio.AddrLen

const readRetryDelay = 10 * time.Millisecond

// Config configures a Driver.
type Config struct {
	// Addr is the hardware address of this station.
	Addr radio.Addr
	// Group is the multicast group address, DefaultGroup if empty.
	Group string
	// Interface is the name of the network interface, system default if empty.
	Interface string
}

// Driver implements radio.Driver.
type Driver struct {
	config Config

	lock  sync.Mutex
	conn  *net.UDPConn
	group *net.UDPAddr
	recv  radio.ReceiveFunc
	sent  radio.SendCompleteFunc
	peers map[radio.Addr]radio.Peer
	done  chan struct{}
}

// New creates a Driver.
func New(config Config) *Driver {
	if config.Group == "" {
		config.Group = DefaultGroup
	}
	return &Driver{config: config}
}

// Addr returns the hardware address of the station.
func (d *Driver) Addr() radio.Addr {
	return d.config.Addr
}

// Init implements radio.Driver.
func (d *Driver) Init() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.conn != nil {
		return radio.ErrAlreadyInitialized
	}
	group, err := net.ResolveUDPAddr("udp4", d.config.Group)
	if err != nil {
		return err
	}
	var ifi *net.Interface
	if d.config.Interface != "" {
		if ifi, err = net.InterfaceByName(d.config.Interface); err != nil {
			return err
		}
	}
	conn, err := net.ListenMulticastUDP("udp4", ifi, group)
	if err != nil {
		return err
	}
	pc := ipv4.NewPacketConn(conn)
	if err = pc.SetMulticastLoopback(true); err == nil {
		err = pc.SetMulticastTTL(1)
	}
	if err == nil && ifi != nil {
		err = pc.SetMulticastInterface(ifi)
	}
	if err != nil {
		conn.Close()
		return err
	}
	d.conn, d.group = conn, group
	d.peers = make(map[radio.Addr]radio.Peer)
	d.done = make(chan struct{})
	go d.readLoop(conn, d.done)
	glog.Infof("udp radio %s joined %s", d.config.Addr, group)
	return nil
}

// Deinit implements radio.Driver.
func (d *Driver) Deinit() error {
	d.lock.Lock()
	conn, done := d.conn, d.done
	d.conn, d.recv, d.sent, d.peers = nil, nil, nil, nil
	d.lock.Unlock()
	if conn == nil {
		return radio.ErrNotInitialized
	}
	err := conn.Close()
	<-done
	return err
}

// RegisterReceive implements radio.Driver.
func (d *Driver) RegisterReceive(fn radio.ReceiveFunc) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.conn == nil {
		return radio.ErrNotInitialized
	}
	d.recv = fn
	return nil
}

// RegisterSendComplete implements radio.Driver.
func (d *Driver) RegisterSendComplete(fn radio.SendCompleteFunc) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.conn == nil {
		return radio.ErrNotInitialized
	}
	d.sent = fn
	return nil
}

// AddPeer implements radio.Driver.
func (d *Driver) AddPeer(p radio.Peer) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.conn == nil {
		return radio.ErrNotInitialized
	}
	if _, exists := d.peers[p.Addr]; exists {
		return radio.ErrPeerExists
	}
	d.peers[p.Addr] = p
	return nil
}

// DelPeer implements radio.Driver.
func (d *Driver) DelPeer(addr radio.Addr) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if _, exists := d.peers[addr]; !exists {
		return radio.ErrPeerNotFound
	}
	delete(d.peers, addr)
	return nil
}

// Send implements radio.Driver. Completion reports whether the datagram
// left the host; there is no acknowledgement from the receiver.
func (d *Driver) Send(dst radio.Addr, data []byte) error {
	if err := radio.CheckPayload(data); err != nil {
		return err
	}
	d.lock.Lock()
	conn, group, sent := d.conn, d.group, d.sent
	_, known := d.peers[dst]
	d.lock.Unlock()
	if conn == nil {
		return radio.ErrNotInitialized
	}
	if !known {
		return radio.ErrPeerNotFound
	}
	datagram := encodeDatagram(dst, d.config.Addr, data)
	go func() {
		status := radio.SendSuccess
		if _, err := conn.WriteToUDP(datagram, group); err != nil {
			glog.Warningf("udp radio send to %s: %v", dst, err)
			status = radio.SendFailure
		}
		if sent != nil {
			sent(dst, status)
		}
	}()
	return nil
}

// datagramReader is the receive side of the group socket.
type datagramReader interface {
	ReadFrom(b []byte) (int, net.Addr, error)
}

// readLoop runs until the socket is closed. Other read errors are logged
// and reading resumes after readRetryDelay.
func (d *Driver) readLoop(conn datagramReader, done chan struct{}) {
	defer close(done)
	buf := make([]byte, headerLen+radio.MaxFrameSize+1)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			glog.Warningf("udp radio read: %v", err)
			time.Sleep(readRetryDelay)
			continue
		}
		src, data, ok := accept(d.config.Addr, buf[:n])
		if !ok {
			continue
		}
		d.lock.Lock()
		recv := d.recv
		d.lock.Unlock()
		if recv != nil {
			recv(src, data)
		}
	}
}

func encodeDatagram(dst, src radio.Addr, data []byte) []byte {
	datagram := make([]byte, headerLen+len(data))
	copy(datagram, dst[:])
	copy(datagram[radio.AddrLen:], src[:])
	copy(datagram[headerLen:], data)
	return datagram
}

// accept decodes a datagram heard by self. Its own datagrams and those
// for other stations are not accepted.
func accept(self radio.Addr, datagram []byte) (radio.Addr, []byte, bool) {
	var dst, src radio.Addr
	if len(datagram) < headerLen {
		return src, nil, false
	}
	copy(dst[:], datagram)
	copy(src[:], datagram[radio.AddrLen:])
	if src == self || (dst != self && !dst.IsBroadcast()) {
		return src, nil, false
	}
	return src, datagram[headerLen:], true
}
