// Package policy decides whether a server's console connection should exist.
package policy

import (
	"time"

	"consolebot-go/internal/upstream/types"
)

// Action is the outcome of a policy evaluation
type Action int

const (
	// ActionNone leaves the connection as it is
	ActionNone Action = iota
	// ActionConnect opens a console connection
	ActionConnect
	// ActionDisconnect tears the console connection down
	ActionDisconnect
)

// String returns the string representation of the action
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionConnect:
		return "connect"
	case ActionDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Decide maps the current connection state, console permission and heartbeat
// freshness to an action. Permission and freshness are independent necessary
// conditions for a connection to exist.
func Decide(state types.ConnectionState, hasConsolePermission, heartbeatFresh bool) Action {
	allowed := hasConsolePermission && heartbeatFresh

	if state == types.StateDisconnected {
		if allowed {
			return ActionConnect
		}
		return ActionNone
	}

	if !allowed {
		return ActionDisconnect
	}
	return ActionNone
}

// HeartbeatFresh reports whether lastHeartbeat lies within timeout of now.
// A zero lastHeartbeat means no heartbeat was ever recorded and is stale.
func HeartbeatFresh(now, lastHeartbeat time.Time, timeout time.Duration) bool {
	if lastHeartbeat.IsZero() {
		return false
	}
	return now.Sub(lastHeartbeat) < timeout
}
