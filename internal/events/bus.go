// Package events is the in-process notification bus. Managers subscribe to
// (kind, key) pairs with a handler; pollers and the metadata layer publish.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"consolebot-go/internal/config"
	"consolebot-go/internal/upstream/types"
)

// Kind identifies a notification kind
type Kind string

const (
	// KindGroupUpdate carries a *types.GroupInfo
	KindGroupUpdate Kind = "group_update"
	// KindMemberUpdate carries a *types.MemberInfo
	KindMemberUpdate Kind = "member_update"
	// KindServerStatus carries a *types.ServerInfo
	KindServerStatus Kind = "server_status"
	// KindServerCreate carries the new server id
	KindServerCreate Kind = "server_create"
	// KindServerDelete carries the deleted server id
	KindServerDelete Kind = "server_delete"

	// KindConnectionState carries a ConnectionStateData
	KindConnectionState Kind = "connection_state"
)

// Event is a single notification. Key is the group id the event belongs to.
type Event struct {
	Kind      Kind        `json:"kind"`
	Key       int         `json:"key"`
	Content   interface{} `json:"content,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ConnectionStateData describes a console connection state change
type ConnectionStateData struct {
	GroupID  int                   `json:"group_id"`
	ServerID int                   `json:"server_id"`
	OldState types.ConnectionState `json:"old_state"`
	NewState types.ConnectionState `json:"new_state"`
}

// NewConnectionStateEvent builds a KindConnectionState event
func NewConnectionStateEvent(groupID, serverID int, oldState, newState types.ConnectionState) Event {
	return Event{
		Kind: KindConnectionState,
		Key:  groupID,
		Content: ConnectionStateData{
			GroupID:  groupID,
			ServerID: serverID,
			OldState: oldState,
			NewState: newState,
		},
	}
}

// Handler receives events of one subscription, one at a time
type Handler func(event Event)

type subKey struct {
	kind Kind
	key  int
}

func (k subKey) String() string {
	return fmt.Sprintf("%s/%d", k.kind, k.key)
}

type subscription struct {
	ch   chan Event
	quit chan struct{}
}

// Bus is a thread-safe keyed pub/sub bus. Every subscription has its own
// buffered channel and delivery goroutine, so a slow handler never blocks
// publishers or other subscriptions. When a buffer is full the event is
// dropped with a warning.
type Bus struct {
	mu       sync.RWMutex
	subs     map[subKey]*subscription
	watchers map[Kind][]chan Event
	closed   bool
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewBus creates a new event bus
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:     make(map[subKey]*subscription),
		watchers: make(map[Kind][]chan Event),
		logger:   logger.Named("events"),
	}
}

// Subscribe registers handler for events of kind published under key. A
// second subscription to the same pair is refused.
func (b *Bus) Subscribe(ctx context.Context, kind Kind, key int, handler Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	k := subKey{kind: kind, key: key}
	if _, exists := b.subs[k]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSubscription, k)
	}

	sub := &subscription{
		ch:   make(chan Event, config.EventChannelBufferSize),
		quit: make(chan struct{}),
	}
	b.subs[k] = sub

	b.wg.Add(1)
	go b.deliver(sub, handler)

	b.logger.Debug("Subscribed", zap.String("subscription", k.String()))
	return nil
}

// Unsubscribe removes the subscription for (kind, key). Events still queued
// for it are discarded.
func (b *Bus) Unsubscribe(ctx context.Context, kind Kind, key int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	k := subKey{kind: kind, key: key}
	sub, exists := b.subs[k]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNoSubscription, k)
	}
	delete(b.subs, k)
	close(sub.quit)

	b.logger.Debug("Unsubscribed", zap.String("subscription", k.String()))
	return nil
}

func (b *Bus) deliver(sub *subscription, handler Handler) {
	defer b.wg.Done()

	for {
		// Prefer quit so nothing is delivered after Unsubscribe returns
		select {
		case <-sub.quit:
			return
		default:
		}

		select {
		case <-sub.quit:
			return
		case event := <-sub.ch:
			handler(event)
		}
	}
}

// Watch returns a channel receiving every event of kind regardless of key.
// The channel is closed by Unwatch or Close.
func (b *Bus) Watch(kind Kind) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, config.EventChannelBufferSize)
	b.watchers[kind] = append(b.watchers[kind], ch)
	return ch
}

// Unwatch removes and closes a channel returned by Watch
func (b *Bus) Unwatch(kind Kind, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	watchers := b.watchers[kind]
	for i, w := range watchers {
		if w == ch {
			b.watchers[kind] = append(watchers[:i:i], watchers[i+1:]...)
			close(w)
			break
		}
	}
	if len(b.watchers[kind]) == 0 {
		delete(b.watchers, kind)
	}
}

// Publish delivers event to the subscription for (event.Kind, event.Key) and
// to every watcher of event.Kind. It never blocks.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	k := subKey{kind: event.Kind, key: event.Key}
	if sub, ok := b.subs[k]; ok {
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("Subscription buffer full, dropping event",
				zap.String("subscription", k.String()))
		}
	}

	for _, ch := range b.watchers[event.Kind] {
		select {
		case ch <- event:
		default:
			b.logger.Warn("Watcher buffer full, dropping event",
				zap.String("kind", string(event.Kind)))
		}
	}
}

// Close stops every subscription, closes every watcher channel and waits for
// in-flight handlers to return
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true

	for k, sub := range b.subs {
		close(sub.quit)
		delete(b.subs, k)
	}
	for kind, watchers := range b.watchers {
		for _, ch := range watchers {
			close(ch)
		}
		delete(b.watchers, kind)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

// SubscriptionCount returns the number of active (kind, key) subscriptions
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// HasSubscription reports whether (kind, key) has a subscription
func (b *Bus) HasSubscription(kind Kind, key int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subs[subKey{kind: kind, key: key}]
	return ok
}

// IsClosed returns whether the bus has been closed
func (b *Bus) IsClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}
