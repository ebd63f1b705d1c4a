package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"consolebot-go/internal/config"
	metatypes "consolebot-go/internal/types"
	"consolebot-go/internal/upstream/types"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	received := make(chan Event, 1)
	require.NoError(t, bus.Subscribe(context.Background(), KindServerStatus, 7, func(e Event) {
		received <- e
	}))

	bus.Publish(Event{Kind: KindServerStatus, Key: 7, Content: &metatypes.ServerInfo{ID: 3}})

	select {
	case e := <-received:
		assert.Equal(t, KindServerStatus, e.Kind)
		assert.Equal(t, 3, e.Content.(*metatypes.ServerInfo).ID)
		assert.False(t, e.Timestamp.IsZero(), "timestamp should be set automatically")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPublish_OnlyMatchingKey(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	var keys []int
	for _, key := range []int{1, 2} {
		require.NoError(t, bus.Subscribe(context.Background(), KindGroupUpdate, key, func(e Event) {
			mu.Lock()
			keys = append(keys, e.Key)
			mu.Unlock()
		}))
	}

	bus.Publish(Event{Kind: KindGroupUpdate, Key: 2})
	bus.Publish(Event{Kind: KindMemberUpdate, Key: 1})
	bus.Publish(Event{Kind: KindGroupUpdate, Key: 3})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(keys) == 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, []int{2}, keys)
	mu.Unlock()
}

func TestSubscribe_Duplicate(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	noop := func(Event) {}
	require.NoError(t, bus.Subscribe(context.Background(), KindServerCreate, 1, noop))

	err := bus.Subscribe(context.Background(), KindServerCreate, 1, noop)
	assert.ErrorIs(t, err, ErrDuplicateSubscription)
	assert.Equal(t, 1, bus.SubscriptionCount())
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	called := make(chan struct{}, 1)
	require.NoError(t, bus.Subscribe(context.Background(), KindServerDelete, 1, func(Event) {
		called <- struct{}{}
	}))
	require.NoError(t, bus.Unsubscribe(context.Background(), KindServerDelete, 1))
	assert.False(t, bus.HasSubscription(KindServerDelete, 1))

	bus.Publish(Event{Kind: KindServerDelete, Key: 1, Content: 9})
	select {
	case <-called:
		t.Fatal("handler called after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}

	err := bus.Unsubscribe(context.Background(), KindServerDelete, 1)
	assert.ErrorIs(t, err, ErrNoSubscription)
}

func TestSubscribe_CancelledContext(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, bus.Subscribe(ctx, KindGroupUpdate, 1, func(Event) {}), context.Canceled)
	assert.Zero(t, bus.SubscriptionCount())
}

func TestHandlerOrderPerSubscription(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	var got []int
	require.NoError(t, bus.Subscribe(context.Background(), KindServerCreate, 1, func(e Event) {
		mu.Lock()
		got = append(got, e.Content.(int))
		mu.Unlock()
	}))

	for i := 0; i < 20; i++ {
		bus.Publish(Event{Kind: KindServerCreate, Key: 1, Content: i})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 20
	}, time.Second, 10*time.Millisecond)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPublish_FullBufferDrops(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	bus := NewBus(zap.New(core))

	block := make(chan struct{})
	require.NoError(t, bus.Subscribe(context.Background(), KindServerStatus, 1, func(Event) {
		<-block
	}))

	// One event is held by the handler, the rest fill the buffer
	for i := 0; i < config.EventChannelBufferSize+5; i++ {
		bus.Publish(Event{Kind: KindServerStatus, Key: 1})
	}

	assert.GreaterOrEqual(t, logs.FilterMessage("Subscription buffer full, dropping event").Len(), 4)
	close(block)
	bus.Close()
}

func TestWatch(t *testing.T) {
	bus := NewBus(nil)

	ch := bus.Watch(KindConnectionState)
	bus.Publish(NewConnectionStateEvent(4, 12, types.StateConnecting, types.StateConnected))

	select {
	case e := <-ch:
		data := e.Content.(ConnectionStateData)
		assert.Equal(t, 12, data.ServerID)
		assert.Equal(t, types.StateConnected, data.NewState)

		encoded, err := json.Marshal(data)
		require.NoError(t, err)
		assert.JSONEq(t, `{"group_id":4,"server_id":12,"old_state":"Connecting","new_state":"Connected"}`, string(encoded))
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for watched event")
	}

	bus.Unwatch(KindConnectionState, ch)
	_, open := <-ch
	assert.False(t, open, "unwatched channel should be closed")
	bus.Close()
}

func TestClose(t *testing.T) {
	bus := NewBus(nil)

	require.NoError(t, bus.Subscribe(context.Background(), KindGroupUpdate, 1, func(Event) {}))
	ch := bus.Watch(KindGroupUpdate)

	bus.Close()
	bus.Close()

	assert.True(t, bus.IsClosed())
	assert.Zero(t, bus.SubscriptionCount())
	_, open := <-ch
	assert.False(t, open)

	assert.ErrorIs(t, bus.Subscribe(context.Background(), KindGroupUpdate, 2, func(Event) {}), ErrBusClosed)
	closedCh := bus.Watch(KindGroupUpdate)
	_, open = <-closedCh
	assert.False(t, open)

	// Publishing to a closed bus is a no-op
	bus.Publish(Event{Kind: KindGroupUpdate, Key: 1})
}
