// Package serial drives a radio dongle attached over a serial line.
//
// The dongle forwards received frames and send completions as framed
// records and executes send and peer records from the host.
package serial

import (
	"io"
	"sync"
	"time"

	"github.com/goburrow/serial"
	"github.com/golang/glog"

	"github.com/robotalks/radiogw/pkg/radio"
)

// Config configures a Driver.
type Config struct {
	Device   string        `yaml:"device"`
	BaudRate int           `yaml:"baud_rate"`
	Timeout  time.Duration `yaml:"timeout"`
	// Open overrides how the port is opened.
	Open func() (io.ReadWriteCloser, error) `yaml:"-"`
}

// DefaultConfig returns the default serial settings.
func DefaultConfig() Config {
	return Config{
		Device:   "/dev/ttyUSB0",
		BaudRate: 115200,
		Timeout:  100 * time.Millisecond,
	}
}

func (c Config) open() (io.ReadWriteCloser, error) {
	if c.Open != nil {
		return c.Open()
	}
	return serial.Open(&serial.Config{
		Address:  c.Device,
		BaudRate: c.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  c.Timeout,
	})
}

// Driver implements radio.Driver.
type Driver struct {
	config Config

	lock  sync.Mutex
	port  io.ReadWriteCloser
	codec *Codec
	recv  radio.ReceiveFunc
	sent  radio.SendCompleteFunc
	peers map[radio.Addr]radio.Peer
	stop  chan struct{}
	done  chan struct{}

	writeLock sync.Mutex
}

// New creates a Driver.
func New(config Config) *Driver {
	return &Driver{config: config}
}

// Init implements radio.Driver.
func (d *Driver) Init() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.port != nil {
		return radio.ErrAlreadyInitialized
	}
	port, err := d.config.open()
	if err != nil {
		return err
	}
	d.port = port
	d.stop, d.done = make(chan struct{}), make(chan struct{})
	d.codec = NewCodec(&portReader{port: port, stop: d.stop})
	d.peers = make(map[radio.Addr]radio.Peer)
	go d.readLoop(d.codec, d.done)
	glog.Infof("serial radio on %s", d.config.Device)
	return nil
}

// Deinit implements radio.Driver.
func (d *Driver) Deinit() error {
	d.lock.Lock()
	port, stop, done := d.port, d.stop, d.done
	d.port, d.recv, d.sent, d.peers = nil, nil, nil, nil
	d.lock.Unlock()
	if port == nil {
		return radio.ErrNotInitialized
	}
	close(stop)
	err := port.Close()
	<-done
	return err
}

// RegisterReceive implements radio.Driver.
func (d *Driver) RegisterReceive(fn radio.ReceiveFunc) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.port == nil {
		return radio.ErrNotInitialized
	}
	d.recv = fn
	return nil
}

// RegisterSendComplete implements radio.Driver.
func (d *Driver) RegisterSendComplete(fn radio.SendCompleteFunc) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.port == nil {
		return radio.ErrNotInitialized
	}
	d.sent = fn
	return nil
}

// AddPeer implements radio.Driver.
func (d *Driver) AddPeer(p radio.Peer) error {
	d.lock.Lock()
	if d.port == nil {
		d.lock.Unlock()
		return radio.ErrNotInitialized
	}
	if _, exists := d.peers[p.Addr]; exists {
		d.lock.Unlock()
		return radio.ErrPeerExists
	}
	d.peers[p.Addr] = p
	d.lock.Unlock()
	return d.write(&Record{Op: OpAddPeer, Addr: p.Addr, Body: []byte{p.Channel, byte(p.Interface)}})
}

// DelPeer implements radio.Driver.
func (d *Driver) DelPeer(addr radio.Addr) error {
	d.lock.Lock()
	if _, exists := d.peers[addr]; !exists {
		d.lock.Unlock()
		return radio.ErrPeerNotFound
	}
	delete(d.peers, addr)
	d.lock.Unlock()
	return d.write(&Record{Op: OpDelPeer, Addr: addr})
}

// SetChannel implements radio.ChannelSetter.
func (d *Driver) SetChannel(ch uint8) error {
	return d.write(&Record{Op: OpSetChannel, Body: []byte{ch}})
}

// Send implements radio.Driver.
func (d *Driver) Send(dst radio.Addr, data []byte) error {
	if err := radio.CheckPayload(data); err != nil {
		return err
	}
	d.lock.Lock()
	_, known := d.peers[dst]
	d.lock.Unlock()
	if !known {
		return radio.ErrPeerNotFound
	}
	return d.write(&Record{Op: OpSend, Addr: dst, Body: data})
}

func (d *Driver) write(r *Record) error {
	d.lock.Lock()
	codec := d.codec
	running := d.port != nil
	d.lock.Unlock()
	if !running {
		return radio.ErrNotInitialized
	}
	d.writeLock.Lock()
	defer d.writeLock.Unlock()
	return codec.WriteRecord(r)
}

func (d *Driver) readLoop(codec *Codec, done chan struct{}) {
	defer close(done)
	for {
		r, err := codec.ReadRecord()
		if err == io.EOF {
			return
		}
		if err != nil {
			glog.Errorf("serial radio read: %v", err)
			if err == ErrRecordTooLarge || err == io.ErrUnexpectedEOF {
				return
			}
			continue
		}
		d.lock.Lock()
		recv, sent := d.recv, d.sent
		d.lock.Unlock()
		switch r.Op {
		case OpReceive:
			if recv != nil {
				recv(r.Addr, r.Body)
			}
		case OpSendStatus:
			if sent != nil {
				sent(r.Addr, radio.SendStatus(r.Body[0]))
			}
		default:
			glog.Warningf("serial radio: unexpected record op %d", r.Op)
		}
	}
}

// portReader turns read timeouts of the port into retries until stopped.
type portReader struct {
	port io.ReadWriteCloser
	stop <-chan struct{}
}

func (r *portReader) Read(p []byte) (int, error) {
	for {
		n, err := r.port.Read(p)
		if n > 0 {
			return n, nil
		}
		select {
		case <-r.stop:
			return 0, io.EOF
		default:
		}
		if err == io.EOF {
			return 0, err
		}
		if err != nil {
			glog.V(4).Infof("serial port read: %v", err)
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func (r *portReader) Write(p []byte) (int, error) {
	return r.port.Write(p)
}
