// Package bus fans out core lifecycle events to in-process subscribers.
// It buffers the most recent events so late-joining consumers (the
// audit store, debug diagnostics) receive catchup before live delivery.
package bus

import (
	"sync"
	"time"
)

const defaultBufferCap = 1000

// Event is one diagnostic occurrence inside the core.
type Event struct {
	Time      time.Time `json:"time"`
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Bus is a bounded fan-out of events. Publish never blocks: slow
// subscribers drop events rather than stalling the core.
type Bus struct {
	mu      sync.Mutex
	buf     []Event // circular buffer
	pos     int     // next write position
	count   int     // total events published (may exceed cap)
	clients map[chan Event]struct{}
}

// New creates a Bus ready for use.
func New() *Bus {
	return &Bus{
		buf:     make([]Event, 0, defaultBufferCap),
		clients: make(map[chan Event]struct{}),
	}
}

// recent returns the buffered events in order from oldest to newest.
// Caller must hold b.mu.
func (b *Bus) recent() []Event {
	n := len(b.buf)
	if n == 0 || b.pos == 0 {
		// When pos is 0 the buffer is empty, partially filled, or just
		// wrapped; either way buf[:n] is already in order.
		out := make([]Event, n)
		copy(out, b.buf)
		return out
	}
	// Buffer has wrapped: pos points to the oldest entry.
	out := make([]Event, n)
	copy(out, b.buf[b.pos:])
	copy(out[n-b.pos:], b.buf[:b.pos])
	return out
}

// Publish appends ev to the buffer and delivers it to all current
// subscribers. O(1) regardless of buffer size.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buf) < cap(b.buf) {
		b.buf = append(b.buf, ev)
	} else {
		b.buf[b.pos] = ev
	}
	b.pos = (b.pos + 1) % cap(b.buf)
	b.count++

	for ch := range b.clients {
		select {
		case ch <- ev:
		default: // subscriber is behind; drop rather than block
		}
	}
}

// Subscribe returns a channel of future events preloaded with the
// buffered backlog, plus an unsubscribe function.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	backlog := b.recent()
	ch := make(chan Event, defaultBufferCap+64)
	for _, ev := range backlog {
		ch <- ev
	}
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		if _, ok := b.clients[ch]; ok {
			delete(b.clients, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsub
}

// Recent returns a copy of the buffered events.
func (b *Bus) Recent() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recent()
}

// Count reports the total number of events ever published.
func (b *Bus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
