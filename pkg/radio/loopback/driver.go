// Package loopback provides an in-memory radio medium.
//
// Every attached Driver hears broadcasts and frames addressed to it, as long
// as both sides are on the same channel. Callbacks run on a per-driver
// goroutine, like a radio stack task.
package loopback

import (
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/radiogw/pkg/radio"
)

// EventQueueSize is the depth of a driver's callback queue.
// Frames arriving on a full queue are lost, as on air.
const EventQueueSize = 32

// Medium connects Drivers.
type Medium struct {
	lock  sync.RWMutex
	nodes map[radio.Addr]*Driver
}

// NewMedium creates a Medium.
func NewMedium() *Medium {
	return &Medium{nodes: make(map[radio.Addr]*Driver)}
}

// Attach creates a Driver with addr on the medium.
func (m *Medium) Attach(addr radio.Addr) *Driver {
	d := &Driver{medium: m, addr: addr, peers: make(map[radio.Addr]radio.Peer)}
	m.lock.Lock()
	m.nodes[addr] = d
	m.lock.Unlock()
	return d
}

// Detach removes the Driver from the medium.
func (m *Medium) Detach(d *Driver) {
	m.lock.Lock()
	if m.nodes[d.addr] == d {
		delete(m.nodes, d.addr)
	}
	m.lock.Unlock()
}

func (m *Medium) transmit(src radio.Addr, channel uint8, dst radio.Addr, data []byte) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	delivered := false
	for addr, node := range m.nodes {
		if addr == src || (!dst.IsBroadcast() && dst != addr) {
			continue
		}
		if node.post(event{src: src, channel: channel, data: data, rx: true}) {
			delivered = true
		}
	}
	return delivered
}

type event struct {
	rx      bool
	src     radio.Addr
	dst     radio.Addr
	channel uint8
	data    []byte
	status  radio.SendStatus
}

// Driver implements radio.Driver on a Medium.
type Driver struct {
	// DropCompletion suppresses send-completion callbacks.
	DropCompletion bool
	// SendError is returned by Send when set.
	SendError error

	medium *Medium
	addr   radio.Addr

	lock    sync.Mutex
	channel uint8
	running bool
	recv    radio.ReceiveFunc
	sent    radio.SendCompleteFunc
	peers   map[radio.Addr]radio.Peer
	events  chan event
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Addr returns the hardware address of the driver.
func (d *Driver) Addr() radio.Addr {
	return d.addr
}

// Init implements radio.Driver.
func (d *Driver) Init() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.running {
		return radio.ErrAlreadyInitialized
	}
	d.running = true
	d.events = make(chan event, EventQueueSize)
	d.stopCh, d.doneCh = make(chan struct{}), make(chan struct{})
	go d.dispatch(d.events, d.stopCh, d.doneCh)
	return nil
}

// Deinit implements radio.Driver.
func (d *Driver) Deinit() error {
	d.lock.Lock()
	if !d.running {
		d.lock.Unlock()
		return radio.ErrNotInitialized
	}
	d.running = false
	d.recv, d.sent = nil, nil
	d.peers = make(map[radio.Addr]radio.Peer)
	stopCh, doneCh := d.stopCh, d.doneCh
	d.lock.Unlock()
	close(stopCh)
	<-doneCh
	return nil
}

// RegisterReceive implements radio.Driver.
func (d *Driver) RegisterReceive(fn radio.ReceiveFunc) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.running {
		return radio.ErrNotInitialized
	}
	d.recv = fn
	return nil
}

// RegisterSendComplete implements radio.Driver.
func (d *Driver) RegisterSendComplete(fn radio.SendCompleteFunc) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.running {
		return radio.ErrNotInitialized
	}
	d.sent = fn
	return nil
}

// AddPeer implements radio.Driver.
func (d *Driver) AddPeer(p radio.Peer) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.running {
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

// HasPeer reports whether addr is in the peer table.
func (d *Driver) HasPeer(addr radio.Addr) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	_, ok := d.peers[addr]
	return ok
}

// SetChannel implements radio.ChannelSetter.
func (d *Driver) SetChannel(ch uint8) error {
	d.lock.Lock()
	d.channel = ch
	d.lock.Unlock()
	return nil
}

// Send implements radio.Driver.
func (d *Driver) Send(dst radio.Addr, data []byte) error {
	if err := radio.CheckPayload(data); err != nil {
		return err
	}
	d.lock.Lock()
	if !d.running {
		d.lock.Unlock()
		return radio.ErrNotInitialized
	}
	if d.SendError != nil {
		err := d.SendError
		d.lock.Unlock()
		return err
	}
	if _, ok := d.peers[dst]; !ok {
		d.lock.Unlock()
		return radio.ErrPeerNotFound
	}
	channel := d.channel
	d.lock.Unlock()

	payload := make([]byte, len(data))
	copy(payload, data)
	status := radio.SendFailure
	if d.medium.transmit(d.addr, channel, dst, payload) || dst.IsBroadcast() {
		status = radio.SendSuccess
	}
	if !d.DropCompletion {
		d.post(event{dst: dst, status: status})
	}
	return nil
}

// post queues an event for the dispatch goroutine without blocking.
func (d *Driver) post(ev event) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.running {
		return false
	}
	if ev.rx && d.channel != 0 && ev.channel != 0 && d.channel != ev.channel {
		return false
	}
	select {
	case d.events <- ev:
		return true
	default:
		glog.Warningf("loopback %s: event queue full, frame lost", d.addr)
		return false
	}
}

func (d *Driver) dispatch(events <-chan event, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-stopCh:
			return
		case ev := <-events:
			d.lock.Lock()
			recv, sent := d.recv, d.sent
			d.lock.Unlock()
			if ev.rx {
				if recv != nil {
					recv(ev.src, ev.data)
				}
			} else if sent != nil {
				sent(ev.dst, ev.status)
			}
		}
	}
}
