// Package node simulates a sensor node: it connects to a gateway over the
// radio and then publishes readings periodically.
package node

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/radiogw/pkg/protocol"
	"github.com/robotalks/radiogw/pkg/radio"
	"github.com/robotalks/radiogw/pkg/transport"
)

var (
	// ErrRejected indicates a CONNACK with a failure code.
	ErrRejected = errors.New("connection rejected")
	// ErrAckTimeout indicates no CONNACK arrived in time.
	ErrAckTimeout = errors.New("connack timeout")
)

// Config configures a Node.
type Config struct {
	// Interval between readings and between connect attempts.
	Interval time.Duration
	// AckTimeout bounds the wait for CONNACK.
	AckTimeout time.Duration
	// SendTimeout bounds each radio send.
	SendTimeout time.Duration
	// Count stops the node after that many readings, 0 runs until canceled.
	Count uint64
}

// Defaults.
const (
	DefaultInterval    = time.Second
	DefaultAckTimeout  = 512 * time.Millisecond
	DefaultSendTimeout = 512 * time.Millisecond
)

var defaultConfig = Config{
	Interval:    DefaultInterval,
	AckTimeout:  DefaultAckTimeout,
	SendTimeout: DefaultSendTimeout,
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.DurationVar(&defaultConfig.Interval, "interval", defaultConfig.Interval, "Interval between readings.")
	flag.DurationVar(&defaultConfig.AckTimeout, "ack-timeout", defaultConfig.AckTimeout, "Wait for CONNACK.")
	flag.DurationVar(&defaultConfig.SendTimeout, "send-timeout", defaultConfig.SendTimeout, "Wait for send completion.")
	flag.Uint64Var(&defaultConfig.Count, "count", defaultConfig.Count, "Stop after that many readings, 0 for no limit.")
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Reading produces the payload of the seq-th reading.
type Reading func(seq uint64) []byte

// Counter is the default Reading: "seq=N".
func Counter(seq uint64) []byte {
	return []byte("seq=" + strconv.FormatUint(seq, 10))
}

// Node is a simulated sensor node.
type Node struct {
	Reading Reading
	// OnCommand receives PUBLISH payloads from the gateway.
	OnCommand func(data []byte)

	config   Config
	pipeline *transport.Pipeline
	acks     chan byte
	gateway  atomic.Pointer[radio.Addr]

	published atomic.Uint64
	commands  atomic.Uint64
}

// NewNode creates a Node on driver.
func (c *Config) NewNode(driver radio.Driver) *Node {
	n := &Node{
		Reading: Counter,
		config:  *c,
		acks:    make(chan byte, 1),
	}
	tc := transport.DefaultConfig()
	tc.SendTimeout = c.SendTimeout
	n.pipeline = transport.New(driver, transport.HandleFrameFunc(n.handleFrame), tc)
	return n
}

// Pipeline returns the radio pipeline of the node.
func (n *Node) Pipeline() *transport.Pipeline {
	return n.pipeline
}

// Gateway returns the address of the gateway which accepted the node.
func (n *Node) Gateway() (radio.Addr, bool) {
	if a := n.gateway.Load(); a != nil {
		return *a, true
	}
	return radio.Addr{}, false
}

// Published returns the number of readings sent.
func (n *Node) Published() uint64 { return n.published.Load() }

// Commands returns the number of commands received.
func (n *Node) Commands() uint64 { return n.commands.Load() }

func (n *Node) handleFrame(_ context.Context, f *radio.Frame) error {
	pkt, err := protocol.Decode(f.Data)
	if err != nil {
		return fmt.Errorf("from %s: %w", f.Src, err)
	}
	switch pkt.Type {
	case protocol.TypeConnAck:
		if pkt.Code == protocol.ConnAckSuccess {
			src := f.Src
			n.gateway.Store(&src)
		}
		select {
		case n.acks <- pkt.Code:
		default:
		}
		return nil
	case protocol.TypePublish:
		n.commands.Add(1)
		glog.Infof("command from %s: %q", f.Src, pkt.Data)
		if fn := n.OnCommand; fn != nil {
			fn(append([]byte(nil), pkt.Data...))
		}
		return nil
	default:
		return fmt.Errorf("unexpected %s from %s", pkt.Type, f.Src)
	}
}

// connect broadcasts CONNECT until a gateway acknowledges.
func (n *Node) connect(ctx context.Context) error {
	for {
		err := n.pipeline.Send(ctx, radio.Broadcast, protocol.Connect().Bytes(), 0)
		if err == nil {
			err = n.waitAck(ctx)
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrRejected), ctx.Err() != nil:
			return err
		}
		glog.Warningf("connect: %v, retrying", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.config.Interval):
		}
	}
}

func (n *Node) waitAck(ctx context.Context) error {
	timer := time.NewTimer(n.config.AckTimeout)
	defer timer.Stop()
	select {
	case code := <-n.acks:
		if code != protocol.ConnAckSuccess {
			return fmt.Errorf("%w: code %d", ErrRejected, code)
		}
		return nil
	case <-timer.C:
		return ErrAckTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run connects and publishes readings until ctx is done or Count is reached.
func (n *Node) Run(ctx context.Context) error {
	if err := n.pipeline.Start(); err != nil {
		return err
	}
	defer n.pipeline.Stop()

	if err := n.connect(ctx); err != nil {
		return err
	}
	gw, _ := n.Gateway()
	glog.Infof("connected to gateway %s", gw)

	ticker := time.NewTicker(n.config.Interval)
	defer ticker.Stop()
	for seq := uint64(1); ; seq++ {
		data := n.Reading(seq)
		err := n.pipeline.Send(ctx, radio.Broadcast, protocol.Publish(data).Bytes(), 0)
		switch {
		case err == nil:
			n.published.Add(1)
			glog.V(2).Infof("published %q", data)
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			glog.Warningf("publish %d: %v", seq, err)
		}
		if n.config.Count > 0 && seq >= n.config.Count {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
