package transport

import "sync/atomic"

type counters struct {
	received     atomic.Uint64
	dropped      atomic.Uint64
	rejected     atomic.Uint64
	handled      atomic.Uint64
	failed       atomic.Uint64
	sent         atomic.Uint64
	sendFailed   atomic.Uint64
	sendTimeouts atomic.Uint64
}

// Stats are the pipeline counters.
type Stats struct {
	// Received counts frames accepted from the driver, including dropped ones.
	Received uint64 `json:"received"`
	// Dropped counts frames lost on a full queue.
	Dropped uint64 `json:"dropped"`
	// Rejected counts invalid frames and frames arriving without a queue.
	Rejected     uint64 `json:"rejected"`
	Handled      uint64 `json:"handled"`
	Failed       uint64 `json:"failed"`
	Sent         uint64 `json:"sent"`
	SendFailed   uint64 `json:"send_failed"`
	SendTimeouts uint64 `json:"send_timeouts"`
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	c := &p.stats
	return Stats{
		Received:     c.received.Load(),
		Dropped:      c.dropped.Load(),
		Rejected:     c.rejected.Load(),
		Handled:      c.handled.Load(),
		Failed:       c.failed.Load(),
		Sent:         c.sent.Load(),
		SendFailed:   c.sendFailed.Load(),
		SendTimeouts: c.sendTimeouts.Load(),
	}
}
