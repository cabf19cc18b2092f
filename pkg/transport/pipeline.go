// Package transport moves received radio frames from the driver callback
// context to a single consumer goroutine, and provides a blocking send path
// which waits for the driver's completion notification.
package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/radiogw/pkg/closer"
	"github.com/robotalks/radiogw/pkg/framework"
	"github.com/robotalks/radiogw/pkg/pool"
	"github.com/robotalks/radiogw/pkg/radio"
)

// Handler processes received frames on the consumer goroutine.
// f.Data is only valid until HandleFrame returns.
type Handler interface {
	HandleFrame(ctx context.Context, f *radio.Frame) error
}

// HandleFrameFunc is the func form of Handler.
type HandleFrameFunc func(context.Context, *radio.Frame) error

// HandleFrame implements Handler.
func (f HandleFrameFunc) HandleFrame(ctx context.Context, frame *radio.Frame) error {
	return f(ctx, frame)
}

type element struct {
	sentinel bool
	src      radio.Addr
	n        int
	buf      []byte
	inline   [radio.MaxFrameSize]byte
}

func (e *element) data() []byte {
	if e.buf != nil {
		return e.buf
	}
	return e.inline[:e.n]
}

type queue struct {
	ch   chan element
	pool *pool.Pool
}

// put enqueues without blocking longer than timeout.
func (q *queue) put(el *element, timeout time.Duration) bool {
	select {
	case q.ch <- *el:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case q.ch <- *el:
		return true
	case <-timer.C:
		return false
	}
}

type pendingSend struct {
	dst radio.Addr
	ch  chan radio.SendStatus
}

// staleSend marks a completion still owed by a send which gave up waiting.
type staleSend struct {
	dst   radio.Addr
	until time.Time
}

// Pipeline is the receive queue plus send path over a radio.Driver.
type Pipeline struct {
	driver  radio.Driver
	handler Handler
	config  Config

	lock  sync.Mutex
	stack *closer.Stack
	queue atomic.Pointer[queue]

	sendLock sync.Mutex
	pending  atomic.Pointer[pendingSend]
	stale    atomic.Pointer[staleSend]

	stats counters
}

// New creates a Pipeline. Nothing is started until Start.
func New(driver radio.Driver, handler Handler, config Config) *Pipeline {
	return &Pipeline{driver: driver, handler: handler, config: config.normalize()}
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return p.config
}

// Running tells whether the receive queue is up. It turns false once the
// consumer has handled the last frame during Stop.
func (p *Pipeline) Running() bool {
	return p.queue.Load() != nil
}

// Start brings the pipeline up: driver init, callback registration, peer,
// queue and consumer. On failure everything done so far is undone.
func (p *Pipeline) Start() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.stack != nil {
		return ErrRunning
	}
	return closer.With(func(s *closer.Stack) error {
		if err := s.Defer("radio init", func() error {
			return driverErr("init", p.driver.Init())
		}, func() error {
			return driverErr("deinit", p.driver.Deinit())
		}); err != nil {
			return err
		}
		if err := driverErr("register send", p.driver.RegisterSendComplete(p.onSendComplete)); err != nil {
			return err
		}
		if err := driverErr("register receive", p.driver.RegisterReceive(p.onReceive)); err != nil {
			return err
		}
		peer := p.config.Peer
		if err := s.Defer("add peer", func() error {
			return driverErr("add peer", p.driver.AddPeer(peer))
		}, func() error {
			return driverErr("del peer", p.driver.DelPeer(peer.Addr))
		}); err != nil {
			return err
		}

		q := &queue{ch: make(chan element, p.config.QueueSize)}
		if p.config.PoolSize > 0 {
			q.pool = pool.New(p.config.PoolSize, radio.MaxFrameSize)
		}
		p.queue.Store(q)
		if err := s.Push(func() error {
			p.queue.Store(nil)
			return nil
		}, "queue"); err != nil {
			p.queue.Store(nil)
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go p.consume(ctx, q, done)
		if err := s.Push(func() error {
			q.ch <- element{sentinel: true}
			<-done
			cancel()
			return nil
		}, "consumer"); err != nil {
			q.ch <- element{sentinel: true}
			<-done
			cancel()
			return err
		}

		p.stack = s.Release()
		glog.Infof("pipeline started: queue=%d peer=%s pool=%d",
			p.config.QueueSize, peer.Addr, p.config.PoolSize)
		return nil
	})
}

// Stop stops the consumer after it handled every queued frame, then removes
// the queue and the peer and releases the driver.
func (p *Pipeline) Stop() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.stack == nil {
		return ErrNotRunning
	}
	err := p.stack.Drain()
	p.stack = nil
	glog.Info("pipeline stopped")
	return err
}

// Run implements framework.Runnable.
func (p *Pipeline) Run(ctx context.Context) error {
	return framework.RunService(ctx, p)
}

// SetChannel retunes the driver if it supports it.
func (p *Pipeline) SetChannel(ch uint8) error {
	setter, ok := p.driver.(radio.ChannelSetter)
	if !ok {
		return nil
	}
	return driverErr("set channel", setter.SetChannel(ch))
}

// onReceive runs in the driver context and never blocks longer than
// Config.EnqueueTimeout.
func (p *Pipeline) onReceive(src radio.Addr, data []byte) {
	q := p.queue.Load()
	if q == nil {
		p.stats.rejected.Add(1)
		glog.Warningf("frame from %s before queue ready, dropped", src)
		return
	}
	if src.IsZero() || len(data) == 0 || len(data) > radio.MaxFrameSize {
		p.stats.rejected.Add(1)
		glog.Warningf("invalid frame from %s len=%d, dropped", src, len(data))
		return
	}
	el := element{src: src, n: len(data)}
	if q.pool != nil {
		el.buf = q.pool.Acquire(len(data))
		copy(el.buf, data)
	} else {
		copy(el.inline[:], data)
	}
	p.stats.received.Add(1)
	if !q.put(&el, p.config.EnqueueTimeout) {
		p.stats.dropped.Add(1)
		glog.Warningf("receive queue full, frame from %s dropped", src)
	}
}

func (p *Pipeline) consume(ctx context.Context, q *queue, done chan struct{}) {
	defer close(done)
	glog.V(4).Info("consumer started")
	for {
		el := <-q.ch
		if el.sentinel {
			glog.V(4).Info("consumer stopped")
			return
		}
		frame := radio.Frame{Src: el.src, Data: el.data()}
		p.dispatch(ctx, &frame)
	}
}

func (p *Pipeline) dispatch(ctx context.Context, f *radio.Frame) {
	defer func() {
		if r := recover(); r != nil {
			p.stats.failed.Add(1)
			glog.Errorf("frame handler panic on frame from %s: %v", f.Src, r)
		}
	}()
	glog.V(2).Infof("frame from %s len=%d", f.Src, len(f.Data))
	if err := p.handler.HandleFrame(ctx, f); err != nil {
		p.stats.failed.Add(1)
		glog.Errorf("frame handler error on frame from %s: %v", f.Src, err)
		return
	}
	p.stats.handled.Add(1)
}
