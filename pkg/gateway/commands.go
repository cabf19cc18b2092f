package gateway

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
)

// DefaultCommandQueue is the default number of commands waiting for the radio.
const DefaultCommandQueue = 16

type command struct {
	topic   string
	payload []byte
}

// Commander hands MQTT commands to the bridge from a single goroutine.
// Commands arriving while the queue is full are dropped.
type Commander struct {
	bridge *Bridge
	ch     chan command

	lock    sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	dropped atomic.Uint64
}

// NewCommander creates a Commander queueing up to size commands.
func NewCommander(bridge *Bridge, size int) *Commander {
	if size <= 0 {
		size = DefaultCommandQueue
	}
	return &Commander{bridge: bridge, ch: make(chan command, size)}
}

// Start starts the worker.
func (c *Commander) Start() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.cancel != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel, c.done = cancel, make(chan struct{})
	go c.run(ctx, c.done)
	return nil
}

// Stop aborts the command in flight and stops the worker. Queued commands
// are discarded.
func (c *Commander) Stop() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.cancel == nil {
		return ErrNotRunning
	}
	c.cancel()
	<-c.done
	c.cancel, c.done = nil, nil
	for {
		select {
		case <-c.ch:
		default:
			return nil
		}
	}
}

// Submit queues a command without blocking. It is an mqtt.Handler.
func (c *Commander) Submit(topic string, payload []byte) {
	cmd := command{topic: topic, payload: append([]byte(nil), payload...)}
	select {
	case c.ch <- cmd:
	default:
		c.dropped.Add(1)
		glog.Warningf("command queue full, %s dropped", topic)
	}
}

// Dropped counts commands lost on a full queue.
func (c *Commander) Dropped() uint64 {
	return c.dropped.Load()
}

func (c *Commander) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.ch:
			if err := c.bridge.HandleCommand(ctx, cmd.topic, cmd.payload); err != nil {
				glog.Errorf("command %s: %v", cmd.topic, err)
			}
		}
	}
}
