package console

import (
	"sync"

	"consolebot-go/internal/upstream/types"
)

// Handler receives routed frames. The connection is passed explicitly so
// handlers need not capture it. Handlers run on the read goroutine; one that
// waits on Send, Subscribe or Unsubscribe inline blocks until its context ends.
type Handler func(c *Connection, msg *Message)

// frameKind is the classification of an inbound frame
type frameKind int

const (
	frameEvent frameKind = iota
	frameResponse
	frameHandshake
)

// classify decides how an inbound frame is dispatched. The handshake signal
// is only recognized while the connection is still connecting.
func classify(msg *Message, state types.ConnectionState) frameKind {
	if msg.CommandID > 0 {
		return frameResponse
	}
	if state == types.StateConnecting && msg.isHandshake() {
		return frameHandshake
	}
	return frameEvent
}

type handlerEntry struct {
	token   int
	handler Handler
}

// router maps routing keys to handlers invoked in registration order
type router struct {
	mu        sync.RWMutex
	handlers  map[string][]handlerEntry
	nextToken int
}

func newRouter() *router {
	return &router{
		handlers: make(map[string][]handlerEntry),
	}
}

// add registers h under key and returns a token for remove
func (r *router) add(key string, h Handler) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextToken++
	r.handlers[key] = append(r.handlers[key], handlerEntry{token: r.nextToken, handler: h})
	return r.nextToken
}

// remove unregisters the handler with token from key
func (r *router) remove(key string, token int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.handlers[key]
	for i, e := range entries {
		if e.token == token {
			r.handlers[key] = append(entries[:i:i], entries[i+1:]...)
			if len(r.handlers[key]) == 0 {
				delete(r.handlers, key)
			}
			return true
		}
	}
	return false
}

// clear drops every handler
func (r *router) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string][]handlerEntry)
}

// count returns the number of handlers registered under key
func (r *router) count(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[key])
}

// total returns the number of registered handlers across all keys
func (r *router) total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, entries := range r.handlers {
		n += len(entries)
	}
	return n
}

// dispatch invokes the handlers for msg.Type, then those for type/eventType.
// It returns the number of handlers called.
func (r *router) dispatch(c *Connection, msg *Message) int {
	keys := []string{msg.Type}
	if msg.EventType != "" {
		keys = append(keys, msg.Key())
	}

	var targets []Handler
	r.mu.RLock()
	for _, key := range keys {
		for _, e := range r.handlers[key] {
			targets = append(targets, e.handler)
		}
	}
	r.mu.RUnlock()

	for _, h := range targets {
		h(c, msg)
	}
	return len(targets)
}
