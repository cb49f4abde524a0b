package replication

import (
	"context"
	"sync"
)

// Hub is an in-process transport. Each subscriber holds at most the latest
// snapshot; a slow reader skips intermediate states instead of blocking the
// publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*hubSub]struct{}
	last   Snapshot
	have   bool
	closed bool
}

type hubSub struct {
	ch chan Snapshot
}

// Compile-time check that Hub implements Transport.
var _ Transport = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*hubSub]struct{})}
}

// PublishState implements Transport.
func (h *Hub) PublishState(_ context.Context, s Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.last = s
	h.have = true
	for sub := range h.subs {
		offerLatest(sub.ch, s)
	}
	return nil
}

// Subscribe returns a channel of snapshots, primed with the latest one.
// The channel is closed by cancel or Close.
func (h *Hub) Subscribe() (<-chan Snapshot, func()) {
	sub := &hubSub{ch: make(chan Snapshot, 1)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	h.subs[sub] = struct{}{}
	if h.have {
		sub.ch <- h.last
	}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.ch)
			}
		})
	}
}

// Close closes every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
	}
	h.subs = nil
}

// offerLatest replaces whatever is buffered in ch with s.
func offerLatest(ch chan Snapshot, s Snapshot) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
