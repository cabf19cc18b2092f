package httpd

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/radiogw/pkg/radio"
)

// DefaultSubscriberQueue is the per-subscriber backlog of frame events.
const DefaultSubscriberQueue = 16

// FrameEvent is the JSON form of a received frame.
type FrameEvent struct {
	Time time.Time `json:"time"`
	Src  string    `json:"src"`
	Data string    `json:"data"`
	Len  int       `json:"len"`
}

// NewFrameEvent builds an event from a frame, copying nothing but the hex text.
func NewFrameEvent(f *radio.Frame) FrameEvent {
	return FrameEvent{
		Time: time.Now().UTC(),
		Src:  f.Src.String(),
		Data: hex.EncodeToString(f.Data),
		Len:  len(f.Data),
	}
}

// Hub fans frame events out to websocket subscribers.
// A subscriber which does not keep up loses new events.
type Hub struct {
	QueueSize int

	lock    sync.Mutex
	subs    map[*Subscriber]struct{}
	dropped uint64
}

// Subscriber receives events on C until closed.
type Subscriber struct {
	C   <-chan FrameEvent
	ch  chan FrameEvent
	hub *Hub
}

// NewHub creates a Hub.
func NewHub() *Hub {
	return &Hub{QueueSize: DefaultSubscriberQueue, subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() *Subscriber {
	size := h.QueueSize
	if size <= 0 {
		size = DefaultSubscriberQueue
	}
	ch := make(chan FrameEvent, size)
	s := &Subscriber{C: ch, ch: ch, hub: h}
	h.lock.Lock()
	h.subs[s] = struct{}{}
	h.lock.Unlock()
	return s
}

// Close unregisters the subscriber and closes C. It is safe to call twice.
func (s *Subscriber) Close() {
	h := s.hub
	h.lock.Lock()
	defer h.lock.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// Publish delivers ev to every subscriber without blocking.
func (h *Hub) Publish(ev FrameEvent) {
	h.lock.Lock()
	defer h.lock.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			h.dropped++
			glog.V(2).Infof("httpd: subscriber backlog full, event from %s dropped", ev.Src)
		}
	}
}

// PublishFrame is Publish for a radio frame.
func (h *Hub) PublishFrame(f *radio.Frame) {
	h.Publish(NewFrameEvent(f))
}

// Subscribers returns the number of subscribers.
func (h *Hub) Subscribers() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.subs)
}

// Dropped returns the number of events dropped on full backlogs.
func (h *Hub) Dropped() uint64 {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.dropped
}
