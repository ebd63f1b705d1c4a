// Package types provides the connection state shared by the console client,
// the connection policy and the lifecycle manager.
package types

import "fmt"

// ConnectionState represents the runtime state of a server's console
// connection (in-memory only)
type ConnectionState int

const (
	// StateDisconnected indicates no console connection exists
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates the socket is open or opening but the server
	// has not yet confirmed the handshake
	StateConnecting
	// StateConnected indicates the server sent its connection-succeeded signal
	StateConnected
)

// String returns the string representation of the connection state
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the state by name
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// validTransitions lists the forward edges of the connection state machine.
// Self transitions are no-ops and handled separately.
var validTransitions = map[ConnectionState][]ConnectionState{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateDisconnected},
	StateConnected:    {StateDisconnected},
}

// ValidateTransition validates if a state transition is allowed
func ValidateTransition(from, to ConnectionState) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid source state: %s", from)
	}

	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}

	return fmt.Errorf("invalid transition from %s to %s", from, to)
}
