package kernel

import (
	"sync"
	"time"
)

// Event kinds published on the bus.
const (
	EventSpawn   = "spawn"
	EventExit    = "exit"
	EventFault   = "fault"
	EventMessage = "message"
	EventReply   = "reply"
	EventNotify  = "notify"
)

// Event is one observable kernel occurrence, shaped for JSON encoding on
// the inspection stream.
type Event struct {
	Kind   string    `json:"kind"`
	Time   time.Time `json:"time"`
	Task   string    `json:"task,omitempty"`
	Name   string    `json:"name,omitempty"`
	From   string    `json:"from,omitempty"`
	Op     uint16    `json:"op,omitempty"`
	Code   uint32    `json:"code,omitempty"`
	Bits   uint32    `json:"bits,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// DefaultEventBuffer is the per-subscriber queue depth.
const DefaultEventBuffer = 256

// EventBus fans kernel events out to subscribers. Publishing never blocks
// the kernel: a subscriber that falls behind loses events.
type EventBus struct {
	mu     sync.Mutex
	buffer int
	subs   map[chan Event]struct{}
}

func newEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &EventBus{buffer: buffer, subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new listener. The cancel function must be called
// when done; it closes the channel.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (b *EventBus) publish(e Event) {
	e.Time = time.Now()
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Slow subscriber; drop rather than stall the kernel.
		}
	}
	b.mu.Unlock()
}
