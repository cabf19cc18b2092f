package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/radiogw/pkg/radio"
)

// Send transmits data to dst and waits for the driver's completion
// notification. A timeout <= 0 uses Config.SendTimeout.
//
// It returns ErrTimeout if no completion arrives in time, ErrSendFailed if
// the driver reports a failed transmission and a *DriverError if the driver
// rejects the request. Sends are serialized: only one completion can be
// awaited at a time.
//
// When a send gives up waiting, the next completion for the same dst is
// taken as the late one and discarded, so it is not reported to a following
// send. The marker expires after Config.SendTimeout; a completion later than
// that is assumed lost.
func (p *Pipeline) Send(ctx context.Context, dst radio.Addr, data []byte, timeout time.Duration) error {
	if dst.IsZero() || len(data) == 0 {
		return ErrInvalidArgument
	}
	if len(data) > radio.MaxFrameSize {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, radio.ErrFrameTooLarge)
	}
	if !p.Running() {
		return ErrNotRunning
	}
	if timeout <= 0 {
		timeout = p.config.SendTimeout
	}

	p.sendLock.Lock()
	defer p.sendLock.Unlock()

	ps := &pendingSend{dst: dst, ch: make(chan radio.SendStatus, 1)}
	p.pending.Store(ps)
	defer p.pending.CompareAndSwap(ps, nil)

	if err := p.driver.Send(dst, data); err != nil {
		p.stats.sendFailed.Add(1)
		return driverErr("send", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case status := <-ps.ch:
		if status != radio.SendSuccess {
			p.stats.sendFailed.Add(1)
			return ErrSendFailed
		}
		p.stats.sent.Add(1)
		return nil
	case <-timer.C:
		p.markStale(ps)
		p.stats.sendTimeouts.Add(1)
		return ErrTimeout
	case <-ctx.Done():
		p.markStale(ps)
		return ctx.Err()
	}
}

// markStale records that ps still owes a completion, unless it arrived
// after all.
func (p *Pipeline) markStale(ps *pendingSend) {
	if !p.pending.CompareAndSwap(ps, nil) {
		return
	}
	select {
	case <-ps.ch:
		return
	default:
	}
	p.stale.Store(&staleSend{dst: ps.dst, until: time.Now().Add(p.config.SendTimeout)})
}

// dropStale consumes the stale marker if the completion belongs to it.
func (p *Pipeline) dropStale(dst radio.Addr) bool {
	st := p.stale.Load()
	if st == nil || st.dst != dst {
		return false
	}
	if !p.stale.CompareAndSwap(st, nil) {
		return false
	}
	return time.Now().Before(st.until)
}

// onSendComplete runs in the driver context. It never blocks.
func (p *Pipeline) onSendComplete(dst radio.Addr, status radio.SendStatus) {
	if p.dropStale(dst) {
		glog.V(2).Infof("late send completion to %s: %s", dst, status)
		return
	}
	ps := p.pending.Load()
	if ps == nil || ps.dst != dst {
		glog.V(2).Infof("unexpected send completion to %s: %s", dst, status)
		return
	}
	select {
	case ps.ch <- status:
	default:
	}
}
