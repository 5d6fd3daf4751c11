// Package events announces handoff session changes to live subscribers.
//
// Hub keeps subscribers in process memory, so a publish on one server
// instance never reaches a subscriber connected to another. Deployments
// running more than one instance need a Bridge backed by a shared broker.
package events

import (
	"log/slog"
	"sync"
)

// Bridge fans out change notifications per session id. Handlers receive no
// payload and are expected to re-read the session.
type Bridge interface {
	// Publish notifies every current subscriber of sessionID.
	Publish(sessionID string)
	// Subscribe registers handler for sessionID. The returned function
	// removes it and may be called any number of times.
	Subscribe(sessionID string, handler func()) (unsubscribe func())
}

// Hub is the in-process Bridge.
type Hub struct {
	mu          sync.Mutex
	nextID      uint64
	subscribers map[string]map[uint64]func()
	closed      bool
}

var _ Bridge = (*Hub)(nil)

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]map[uint64]func())}
}

// Publish calls every handler subscribed to sessionID. Handlers run on the
// caller's goroutine outside the hub lock; a panicking handler is logged
// and does not stop delivery to the rest.
func (h *Hub) Publish(sessionID string) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	handlers := make([]func(), 0, len(h.subscribers[sessionID]))
	for _, fn := range h.subscribers[sessionID] {
		handlers = append(handlers, fn)
	}
	h.mu.Unlock()

	for _, fn := range handlers {
		deliver(sessionID, fn)
	}
}

func deliver(sessionID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "session", sessionID, "panic", r)
		}
	}()
	fn()
}

// Subscribe registers handler for sessionID. Subscribing to a closed hub
// registers nothing and returns a no-op unsubscribe.
func (h *Hub) Subscribe(sessionID string, handler func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return func() {}
	}

	h.nextID++
	id := h.nextID
	if h.subscribers[sessionID] == nil {
		h.subscribers[sessionID] = make(map[uint64]func())
	}
	h.subscribers[sessionID][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(sessionID, id) })
	}
}

func (h *Hub) remove(sessionID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[sessionID]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(h.subscribers, sessionID)
	}
}

// Subscribers returns the number of handlers registered for sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[sessionID])
}

// Close drops every subscriber. Later publishes are ignored and outstanding
// unsubscribe functions stay safe to call.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.subscribers = make(map[string]map[uint64]func())
}
