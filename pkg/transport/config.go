package transport

import (
	"time"

	"github.com/robotalks/radiogw/pkg/radio"
)

// Config configures a Pipeline.
type Config struct {
	// QueueSize is the capacity of the receive queue.
	QueueSize int `yaml:"queue_size"`
	// EnqueueTimeout bounds how long the receive callback waits on a full queue.
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`
	// SendTimeout is used by Send when the caller passes zero.
	SendTimeout time.Duration `yaml:"send_timeout"`
	// Peer is registered with the driver on Start. A zero address means broadcast.
	Peer radio.Peer `yaml:"-"`
	// PoolSize selects pooled receive buffers when positive. Pooled buffers
	// are reused after PoolSize further frames, so a handler lagging that far
	// behind reads overwritten data. Zero copies frames into queue elements.
	PoolSize int `yaml:"pool_size"`
}

// Defaults.
const (
	DefaultQueueSize      = 6
	DefaultEnqueueTimeout = 512 * time.Millisecond
	DefaultSendTimeout    = 1 * time.Second
)

// DefaultConfig returns the default Config.
func DefaultConfig() Config {
	return Config{
		QueueSize:      DefaultQueueSize,
		EnqueueTimeout: DefaultEnqueueTimeout,
		SendTimeout:    DefaultSendTimeout,
		Peer:           radio.Peer{Addr: radio.Broadcast},
	}
}

func (c Config) normalize() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.EnqueueTimeout < 0 {
		c.EnqueueTimeout = 0
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.Peer.Addr.IsZero() {
		c.Peer.Addr = radio.Broadcast
	}
	return c
}
