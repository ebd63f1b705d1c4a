package console

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"consolebot-go/internal/upstream/types"
)

func handshakeMessage(text string) *Message {
	data, _ := json.Marshal(text)
	return &Message{Type: TypeSystemMessage, EventType: EventInfoLog, Data: data}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		msg   *Message
		state types.ConnectionState
		want  frameKind
	}{
		{"response", &Message{CommandID: 7, Type: TypeCommandResult}, types.StateConnected, frameResponse},
		{"response while connecting", &Message{CommandID: 1}, types.StateConnecting, frameResponse},
		{"handshake", handshakeMessage("Connection Succeeded, Authenticated as: bot"), types.StateConnecting, frameHandshake},
		{"handshake text once connected", handshakeMessage("Connection Succeeded"), types.StateConnected, frameEvent},
		{"other info log while connecting", handshakeMessage("Server starting"), types.StateConnecting, frameEvent},
		{"marker not at start", handshakeMessage("Re: Connection Succeeded"), types.StateConnecting, frameEvent},
		{"non-string data", &Message{Type: TypeSystemMessage, EventType: EventInfoLog, Data: json.RawMessage(`{"a":1}`)}, types.StateConnecting, frameEvent},
		{"subscription event", &Message{Type: TypeSubscription, EventType: "PlayerJoined"}, types.StateConnected, frameEvent},
		{"zero command id is an event", &Message{CommandID: 0, Type: "TraceLog"}, types.StateConnected, frameEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.msg, tt.state))
		})
	}
}

func TestRouter_DispatchOrder(t *testing.T) {
	r := newRouter()
	var calls []string

	r.add("Subscription/PlayerJoined", func(*Connection, *Message) { calls = append(calls, "specific-1") })
	r.add("Subscription", func(*Connection, *Message) { calls = append(calls, "type") })
	r.add("Subscription/PlayerJoined", func(*Connection, *Message) { calls = append(calls, "specific-2") })
	r.add("Subscription/PlayerLeft", func(*Connection, *Message) { calls = append(calls, "other") })

	n := r.dispatch(nil, &Message{Type: TypeSubscription, EventType: "PlayerJoined"})

	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"type", "specific-1", "specific-2"}, calls)
}

func TestRouter_NoHandlers(t *testing.T) {
	r := newRouter()
	assert.Zero(t, r.dispatch(nil, &Message{Type: "TraceLog"}))
}

func TestRouter_Remove(t *testing.T) {
	r := newRouter()
	called := 0

	first := r.add("TraceLog", func(*Connection, *Message) { called++ })
	r.add("TraceLog", func(*Connection, *Message) { called += 10 })

	assert.True(t, r.remove("TraceLog", first))
	assert.False(t, r.remove("TraceLog", first))
	assert.False(t, r.remove("Unknown", first))

	r.dispatch(nil, &Message{Type: "TraceLog"})
	assert.Equal(t, 10, called)
	assert.Equal(t, 1, r.count("TraceLog"))

	r.clear()
	assert.Zero(t, r.total())
}

func TestRouter_HandlerMayRegister(t *testing.T) {
	r := newRouter()
	r.add("TraceLog", func(*Connection, *Message) {
		r.add("TraceLog", func(*Connection, *Message) {})
	})

	assert.Equal(t, 1, r.dispatch(nil, &Message{Type: "TraceLog"}))
	assert.Equal(t, 2, r.count("TraceLog"))
}

func TestIsReservedCommand(t *testing.T) {
	assert.True(t, IsReservedCommand("websocket subscribe PlayerJoined"))
	assert.True(t, IsReservedCommand("WEBSOCKET UNSUBSCRIBE PlayerJoined"))
	assert.True(t, IsReservedCommand("  websocket   subscribe x"))
	assert.False(t, IsReservedCommand("player list"))
	assert.False(t, IsReservedCommand("websocket subscriber"))
	assert.False(t, IsReservedCommand("say websocket subscribe"))
}
