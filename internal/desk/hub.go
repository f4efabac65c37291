package desk

import (
	"context"
	"sync"

	"github.com/wolfman30/physio-voice-intake/internal/intake"
)

// Subscription delivers snapshots of one session. C is closed when the
// subscription or the session ends.
type Subscription struct {
	C <-chan intake.Snapshot

	ch        chan intake.Snapshot
	sessionID string
	hub       *Hub
	once      sync.Once
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub fans session snapshots out to operator streams. Slow subscribers lose
// intermediate snapshots but always get the newest one.
type Hub struct {
	buffer int

	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{buffer: buffer, subs: make(map[string]map[*Subscription]struct{})}
}

func (h *Hub) Subscribe(sessionID string) *Subscription {
	ch := make(chan intake.Snapshot, h.buffer)
	sub := &Subscription{C: ch, ch: ch, sessionID: sessionID, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// SessionChanged implements intake.Observer. It never blocks.
func (h *Hub) SessionChanged(_ context.Context, snap intake.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[snap.SessionID] {
		deliver(sub.ch, snap)
	}
}

func deliver(ch chan intake.Snapshot, snap intake.Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// CloseSession ends every subscription of sessionID.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[sessionID] {
		sub.once.Do(func() { close(sub.ch) })
	}
	delete(h.subs, sessionID)
}

// Subscribers returns the number of open subscriptions for sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sub.sessionID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.sessionID)
		}
	}
	sub.once.Do(func() { close(sub.ch) })
}
