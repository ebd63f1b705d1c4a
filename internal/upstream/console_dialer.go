package upstream

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"consolebot-go/internal/console"
	"consolebot-go/internal/types"
)

// ConsoleDialer opens game console connections with console.Dial
type ConsoleDialer struct {
	Options console.Options

	// OnOpen runs on its own goroutine once a console confirms the
	// handshake. Its context is cancelled when the connection closes.
	OnOpen func(ctx context.Context, conn *console.Connection)
}

// Dial implements Dialer
func (d *ConsoleDialer) Dial(ctx context.Context, serverID int, details *types.ConsoleDetails, signals Signals) (Conn, error) {
	if details == nil {
		return nil, errors.New("missing console details")
	}

	opts := d.Options
	opts.ServerID = serverID

	endpoint := console.Endpoint{
		Address: details.Connection.Address,
		Port:    details.Connection.WebsocketPort,
		Token:   details.Token,
	}

	listener := console.ListenerFuncs{
		Open: func(c *console.Connection) {
			if signals.Open != nil {
				signals.Open()
			}
			if d.OnOpen != nil {
				go d.runOnOpen(c)
			}
		},
		Close: func(c *console.Connection, code int, reason string) {
			if signals.Close != nil {
				signals.Close(code, reason)
			}
		},
		Error: func(c *console.Connection, err error) {
			if signals.Error != nil {
				signals.Error(err)
			}
		},
	}

	conn, err := console.Dial(ctx, endpoint, listener, opts)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (d *ConsoleDialer) runOnOpen(c *console.Connection) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-c.Closed():
			cancel()
		case <-ctx.Done():
		}
	}()

	d.OnOpen(ctx, c)
}

// SubscribeAndLog returns an OnOpen hook that subscribes to each named
// console event and logs every event received
func SubscribeAndLog(eventNames []string, logger *zap.Logger) func(ctx context.Context, conn *console.Connection) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, conn *console.Connection) {
		logger := logger.With(zap.Int("server_id", conn.ServerID()))

		for _, name := range eventNames {
			_, err := conn.Subscribe(ctx, name, func(c *console.Connection, msg *console.Message) {
				logger.Info("Console event",
					zap.String("event", msg.EventType),
					zap.String("time_stamp", msg.TimeStamp),
					zap.ByteString("data", msg.Data))
			})
			if err != nil {
				logger.Warn("Failed to subscribe to console event",
					zap.String("event", name),
					zap.Error(err))
				continue
			}
			logger.Debug("Subscribed to console event", zap.String("event", name))
		}
	}
}
