package events

import (
	"sync"
	"sync/atomic"
)

// Bus is an in-process fan-out of events to buffered subscribers. Publish
// never blocks: an event that does not fit a subscriber's buffer is dropped
// for that subscriber and counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
	sent    atomic.Uint64
}

// Subscription receives events from a Bus until closed
type Subscription struct {
	C   <-chan Event
	id  uint64
	bus *Bus
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan Event)}
}

// Publish delivers e to every subscriber with room in its buffer
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- e:
			b.sent.Add(1)
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber with the given buffer size
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return &Subscription{C: ch, bus: b}
	}
	b.nextID++
	b.subs[b.nextID] = ch
	return &Subscription{C: ch, id: b.nextID, bus: b}
}

// Close unregisters the subscription and closes its channel
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if ch, ok := s.bus.subs[s.id]; ok {
		delete(s.bus.subs, s.id)
		close(ch)
	}
}

// Close closes every subscription; later publishes are discarded
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

// Dropped returns how many deliveries were dropped on full buffers
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Delivered returns how many deliveries succeeded
func (b *Bus) Delivered() uint64 {
	return b.sent.Load()
}
