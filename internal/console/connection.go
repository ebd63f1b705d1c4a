// Package console implements the game server console protocol client: one
// websocket per server, correlated commands and multiplexed event
// subscriptions.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"consolebot-go/internal/config"
	"consolebot-go/internal/logs"
	"consolebot-go/internal/upstream/types"
)

// Endpoint is where and how to reach a server console
type Endpoint struct {
	Address string
	Port    int
	Token   string
}

// URL returns the websocket URL of the endpoint
func (e Endpoint) URL() string {
	return "ws://" + net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// Listener receives lifecycle signals of a connection. Calls are made from
// the connection's read goroutine, so a listener must not wait on Send,
// Subscribe or Unsubscribe inline; run them on another goroutine.
type Listener interface {
	OnOpen(c *Connection)
	OnClose(c *Connection, code int, reason string)
	OnError(c *Connection, err error)
}

// ListenerFuncs adapts functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Open  func(c *Connection)
	Close func(c *Connection, code int, reason string)
	Error func(c *Connection, err error)
}

// OnOpen implements Listener
func (f ListenerFuncs) OnOpen(c *Connection) {
	if f.Open != nil {
		f.Open(c)
	}
}

// OnClose implements Listener
func (f ListenerFuncs) OnClose(c *Connection, code int, reason string) {
	if f.Close != nil {
		f.Close(c, code, reason)
	}
}

// OnError implements Listener
func (f ListenerFuncs) OnError(c *Connection, err error) {
	if f.Error != nil {
		f.Error(c, err)
	}
}

// FrameRecorder receives every frame sent or received
type FrameRecorder interface {
	RecordFrame(serverID int, direction string, payload []byte)
}

// Options configure a connection
type Options struct {
	ServerID         int
	Logger           *zap.Logger
	Traffic          FrameRecorder
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration // 0 disables client pings and read deadlines
	MaxMessageSize   int64
}

// OptionsFromConfig builds connection options from the console configuration
func OptionsFromConfig(cfg *config.ConsoleConfig) Options {
	if cfg == nil {
		cfg = config.DefaultConsoleConfig()
	}
	return Options{
		HandshakeTimeout: cfg.HandshakeTimeout.Duration(),
		WriteWait:        cfg.WriteWait.Duration(),
		PongWait:         cfg.PongWait.Duration(),
		PingPeriod:       cfg.PingPeriod.Duration(),
		MaxMessageSize:   cfg.MaxMessageSize,
	}
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = config.ConsoleHandshakeTimeout
	}
	if o.WriteWait <= 0 {
		o.WriteWait = config.ConsoleWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = config.ConsolePongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = config.ConsoleMaxMessageSize
	}
}

// Connection is a live console session with one server
type Connection struct {
	ws     *websocket.Conn
	opts   Options
	logger *zap.Logger

	correlator *Correlator[*Message]
	router     *router

	writeMu sync.Mutex

	mu            sync.Mutex
	state         types.ConnectionState
	listener      Listener
	subscriptions map[string]int // event name -> router token
	disposed      bool

	closed chan struct{}
}

// Dial opens a console socket, authenticates with the endpoint token and
// starts the read loop. The returned connection is Connecting until the
// server confirms the handshake, which is reported through listener.OnOpen.
func Dial(ctx context.Context, endpoint Endpoint, listener Listener, opts Options) (*Connection, error) {
	opts.setDefaults()

	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: opts.HandshakeTimeout,
	}

	ws, resp, err := dialer.DialContext(ctx, endpoint.URL(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial console %s: %w", endpoint.URL(), err)
	}

	c := newConnection(ws, listener, opts)

	// The token is the first frame; it is never recorded.
	if err := c.write([]byte(endpoint.Token), false); err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to send console token: %w", err)
	}

	c.logger.Debug("Console socket opened, awaiting handshake",
		zap.String("url", endpoint.URL()))

	go c.readLoop()
	if opts.PingPeriod > 0 {
		go c.keepalive()
	}

	return c, nil
}

func newConnection(ws *websocket.Conn, listener Listener, opts Options) *Connection {
	c := &Connection{
		ws:            ws,
		opts:          opts,
		logger:        opts.Logger.With(zap.Int("server_id", opts.ServerID)),
		correlator:    NewCorrelator[*Message](),
		router:        newRouter(),
		state:         types.StateConnecting,
		listener:      listener,
		subscriptions: make(map[string]int),
		closed:        make(chan struct{}),
	}

	ws.SetReadLimit(opts.MaxMessageSize)
	if opts.PingPeriod > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(opts.PongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(opts.PongWait))
		})
	}
	ws.SetPingHandler(func(appData string) error {
		if opts.PingPeriod > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(opts.PongWait))
		}
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(opts.WriteWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	})

	return c
}

// ServerID returns the id of the server this console belongs to
func (c *Connection) ServerID() int {
	return c.opts.ServerID
}

// State returns the connection state
func (c *Connection) State() types.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Closed returns a channel closed once the socket is gone. Pending commands
// are not failed on close; callers that need that can select on this channel.
func (c *Connection) Closed() <-chan struct{} {
	return c.closed
}

// doneLocked reports whether the connection was disposed or its socket is gone
func (c *Connection) doneLocked() bool {
	if c.disposed {
		return true
	}
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Subscriptions returns the currently subscribed event names
func (c *Connection) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.subscriptions))
	for name := range c.subscriptions {
		names = append(names, name)
	}
	return names
}

// IsSubscribed reports whether eventName has a subscription on this connection
func (c *Connection) IsSubscribed(eventName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[eventName]
	return ok
}

// On registers a handler for raw frames routed under key (type or
// type/eventType). The returned function removes it. On a closed connection
// nothing is registered.
func (c *Connection) On(key string, h Handler) func() {
	c.mu.Lock()
	if c.doneLocked() {
		c.mu.Unlock()
		return func() {}
	}
	token := c.router.add(key, h)
	c.mu.Unlock()
	return func() {
		c.router.remove(key, token)
	}
}

// Send runs a console command and waits for its response. Subscription
// directives are refused; use Subscribe and Unsubscribe. There is no built-in
// timeout: the wait ends on the response or when ctx is done.
func (c *Connection) Send(ctx context.Context, text string) (*Message, error) {
	if IsReservedCommand(text) {
		c.logger.Error("Refusing subscription directive sent as plain command",
			zap.String("command", text))
		return nil, fmt.Errorf("%w: %q", ErrReservedCommand, text)
	}
	return c.command(ctx, text)
}

// Subscribe registers h for eventName and asks the server to start sending it
func (c *Connection) Subscribe(ctx context.Context, eventName string, h Handler) (*Message, error) {
	key := subscriptionKey(eventName)

	c.mu.Lock()
	if c.doneLocked() {
		c.mu.Unlock()
		return nil, fmt.Errorf("subscribe %s: %w", eventName, ErrConnectionClosed)
	}
	if _, exists := c.subscriptions[eventName]; exists {
		c.mu.Unlock()
		c.logger.Error("Already subscribed to console event",
			zap.String("event", eventName))
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, eventName)
	}
	token := c.router.add(key, h)
	c.subscriptions[eventName] = token
	c.mu.Unlock()

	msg, err := c.command(ctx, "websocket subscribe "+eventName)
	if err != nil {
		// A connection that went away meanwhile must not keep the handler
		c.mu.Lock()
		if errors.Is(err, ErrConnectionClosed) || c.doneLocked() {
			if current, ok := c.subscriptions[eventName]; ok && current == token {
				delete(c.subscriptions, eventName)
				c.router.remove(key, token)
			}
		}
		c.mu.Unlock()
	}
	return msg, err
}

// Unsubscribe removes the subscription for eventName and asks the server to
// stop sending it
func (c *Connection) Unsubscribe(ctx context.Context, eventName string) (*Message, error) {
	c.mu.Lock()
	token, exists := c.subscriptions[eventName]
	if !exists {
		c.mu.Unlock()
		c.logger.Error("Not subscribed to console event",
			zap.String("event", eventName))
		return nil, fmt.Errorf("%w: %s", ErrNotSubscribed, eventName)
	}
	delete(c.subscriptions, eventName)
	c.router.remove(subscriptionKey(eventName), token)
	c.mu.Unlock()

	return c.command(ctx, "websocket unsubscribe "+eventName)
}

// command writes a correlated command frame and waits for its response
func (c *Connection) command(ctx context.Context, content string) (*Message, error) {
	id, ch, err := c.correlator.Register()
	if err != nil {
		c.logger.Error("Command id collision", zap.Error(err))
		return nil, err
	}

	payload, err := json.Marshal(command{ID: id, Content: content})
	if err != nil {
		c.correlator.Abandon(id)
		return nil, fmt.Errorf("failed to encode command %d: %w", id, err)
	}

	if err := c.write(payload, true); err != nil {
		c.correlator.Abandon(id)
		c.logger.Warn("Failed to write console command",
			zap.Int("command_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to write command %d: %w", id, err)
	}

	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		c.correlator.Abandon(id)
		return nil, ctx.Err()
	}
}

// write sends one text frame. Gorilla allows a single concurrent writer.
func (c *Connection) write(payload []byte, record bool) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}

	if record && c.opts.Traffic != nil {
		c.opts.Traffic.RecordFrame(c.opts.ServerID, logs.DirectionOutgoing, payload)
	}
	return nil
}

// keepalive pings the server until the connection closes
func (c *Connection) keepalive() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				c.logger.Debug("Console ping failed", zap.Error(err))
				return
			}
		case <-c.closed:
			return
		}
	}
}

// readLoop is the connection's single dispatch loop
func (c *Connection) readLoop() {
	code, reason := websocket.CloseAbnormalClosure, ""

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code, reason = closeErr.Code, closeErr.Text
			} else {
				c.emitError(err)
			}
			break
		}

		if messageType != websocket.TextMessage {
			c.logger.Warn("Dropping non-text console frame",
				zap.Int("message_type", messageType),
				zap.Int("size", len(data)))
			continue
		}

		if c.opts.PingPeriod > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		}
		c.handleFrame(data)
	}

	c.teardown(code, reason)
}

// handleFrame classifies one text frame and dispatches it
func (c *Connection) handleFrame(data []byte) {
	if c.opts.Traffic != nil {
		c.opts.Traffic.RecordFrame(c.opts.ServerID, logs.DirectionIncoming, data)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("Dropping malformed console frame", zap.Error(err))
		return
	}

	switch classify(&msg, c.State()) {
	case frameHandshake:
		c.markOpen()
	case frameResponse:
		if !c.correlator.Resolve(msg.CommandID, &msg) {
			c.logger.Warn("Response for unknown command id",
				zap.Int("command_id", msg.CommandID))
		}
	case frameEvent:
		c.router.dispatch(c, &msg)
	}
}

// markOpen performs the Connecting -> Connected transition once
func (c *Connection) markOpen() {
	c.mu.Lock()
	if c.state != types.StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = types.StateConnected
	listener := c.listener
	c.mu.Unlock()

	c.logger.Info("Console connection established")
	if listener != nil {
		listener.OnOpen(c)
	}
}

func (c *Connection) emitError(err error) {
	c.mu.Lock()
	listener := c.listener
	c.mu.Unlock()

	if listener == nil {
		return
	}
	c.logger.Warn("Console transport error", zap.Error(err))
	listener.OnError(c, err)
}

// teardown runs once when the socket is gone. Pending commands are abandoned
// without being failed.
func (c *Connection) teardown(code int, reason string) {
	c.mu.Lock()
	c.state = types.StateDisconnected
	listener := c.listener
	c.listener = nil
	c.subscriptions = make(map[string]int)
	c.router.clear()
	c.mu.Unlock()

	close(c.closed)
	c.ws.Close()

	if abandoned := c.correlator.AbandonAll(); abandoned > 0 {
		c.logger.Debug("Abandoned pending console commands",
			zap.Int("count", abandoned))
	}

	c.logger.Info("Console connection closed",
		zap.Int("code", code),
		zap.String("reason", reason))
	if listener != nil {
		listener.OnClose(c, code, reason)
	}
}

// Dispose removes every handler and closes the socket. No listener signals
// are delivered afterwards. It is safe to call more than once.
func (c *Connection) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.listener = nil
	c.subscriptions = make(map[string]int)
	c.router.clear()
	c.mu.Unlock()

	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.opts.WriteWait))
	c.ws.Close()
}
