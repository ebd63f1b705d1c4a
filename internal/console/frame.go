package console

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Frame types and markers of the console protocol
const (
	TypeSystemMessage = "SystemMessage"
	TypeSubscription  = "Subscription"
	TypeCommandResult = "CommandResult"

	EventInfoLog = "InfoLog"

	// HandshakeMarker prefixes the InfoLog text the server sends once the
	// token has been accepted
	HandshakeMarker = "Connection Succeeded"
)

// reservedCommand matches subscription directives that bypass Subscribe/Unsubscribe
var reservedCommand = regexp.MustCompile(`(?i)^\s*websocket\s+(un)?subscribe\b`)

// command is an outbound frame
type command struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
}

// Message is an inbound frame. CommandID is set on command responses, Type
// and EventType on everything else.
type Message struct {
	CommandID int             `json:"commandId,omitempty"`
	Type      string          `json:"type,omitempty"`
	EventType string          `json:"eventType,omitempty"`
	TimeStamp string          `json:"timeStamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Key returns the routing key of an event frame: type, or type/eventType
func (m *Message) Key() string {
	if m.EventType == "" {
		return m.Type
	}
	return m.Type + "/" + m.EventType
}

// Text returns Data decoded as a JSON string, or false when Data is not a string
func (m *Message) Text() (string, bool) {
	if len(m.Data) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(m.Data, &s); err != nil {
		return "", false
	}
	return s, true
}

// Decode unmarshals Data into v
func (m *Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Data, v)
}

// isHandshake reports whether m is the connection-succeeded log line
func (m *Message) isHandshake() bool {
	if m.Type != TypeSystemMessage || m.EventType != EventInfoLog {
		return false
	}
	text, ok := m.Text()
	return ok && strings.HasPrefix(text, HandshakeMarker)
}

// subscriptionKey is the router key subscription events for eventName arrive on
func subscriptionKey(eventName string) string {
	return TypeSubscription + "/" + eventName
}

// IsReservedCommand reports whether text is a websocket subscribe/unsubscribe directive
func IsReservedCommand(text string) bool {
	return reservedCommand.MatchString(text)
}
