package upstream

import (
	"context"

	"consolebot-go/internal/events"
	"consolebot-go/internal/types"
)

// Metadata fetches group, member and server records. Any error means the
// service is unavailable for that call.
type Metadata interface {
	GetGroupInfo(ctx context.Context, groupID int) (*types.GroupInfo, error)
	GetGroupMember(ctx context.Context, groupID, userID int) (*types.MemberInfo, error)
	GetServerInfo(ctx context.Context, serverID int) (*types.ServerInfo, error)
	GetConsoleDetails(ctx context.Context, serverID int) (*types.ConsoleDetails, error)
}

// NotificationBus delivers push notifications keyed by group id
type NotificationBus interface {
	Subscribe(ctx context.Context, kind events.Kind, key int, handler events.Handler) error
	Unsubscribe(ctx context.Context, kind events.Kind, key int) error
}

// Publisher accepts local events such as connection state changes
type Publisher interface {
	Publish(event events.Event)
}

// Conn is a live console connection owned by a managed server
type Conn interface {
	Dispose()
}

// Signals are the lifecycle callbacks a Dialer wires into the connection it
// opens. Nil fields are skipped.
type Signals struct {
	Open  func()
	Close func(code int, reason string)
	Error func(err error)
}

// Dialer opens console connections
type Dialer interface {
	Dial(ctx context.Context, serverID int, details *types.ConsoleDetails, signals Signals) (Conn, error)
}
