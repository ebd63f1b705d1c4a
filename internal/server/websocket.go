package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"consolebot-go/internal/events"
)

const (
	// WebSocket settings
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The feed is read-only and served on a local address
		return true
	},
}

// WebSocketManager fans connection state events out to websocket clients
type WebSocketManager struct {
	bus         *events.Bus
	logger      *zap.Logger
	connections map[*websocket.Conn]*wsClient
	mu          sync.RWMutex
	register    chan *wsClient
	unregister  chan *wsClient
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// wsClient represents a WebSocket client connection
type wsClient struct {
	conn        *websocket.Conn
	send        chan []byte
	manager     *WebSocketManager
	events      <-chan events.Event
	filterGroup int // If set, only send events for this group
	stopChan    chan struct{}
}

// NewWebSocketManager creates a new WebSocket manager
func NewWebSocketManager(bus *events.Bus, logger *zap.Logger) *WebSocketManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	manager := &WebSocketManager{
		bus:         bus,
		logger:      logger,
		connections: make(map[*websocket.Conn]*wsClient),
		register:    make(chan *wsClient),
		unregister:  make(chan *wsClient),
		stopChan:    make(chan struct{}),
	}

	go manager.run()

	return manager
}

// run manages client registration
func (m *WebSocketManager) run() {
	for {
		select {
		case client := <-m.register:
			m.mu.Lock()
			m.connections[client.conn] = client
			total := len(m.connections)
			m.mu.Unlock()
			m.logger.Info("WebSocket client registered",
				zap.Int("total_clients", total))

		case client := <-m.unregister:
			m.mu.Lock()
			if _, ok := m.connections[client.conn]; ok {
				delete(m.connections, client.conn)
				close(client.send)
			}
			total := len(m.connections)
			m.mu.Unlock()
			m.bus.Unwatch(events.KindConnectionState, client.events)
			m.logger.Info("WebSocket client unregistered",
				zap.Int("total_clients", total))

		case <-m.stopChan:
			m.mu.Lock()
			for conn, client := range m.connections {
				close(client.send)
				conn.Close()
			}
			m.connections = make(map[*websocket.Conn]*wsClient)
			m.mu.Unlock()
			return
		}
	}
}

// Stop stops the WebSocket manager and closes all connections
func (m *WebSocketManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
}

// HandleWebSocket upgrades the request and streams connection state events.
// The optional group query parameter restricts the stream to one group.
func (m *WebSocketManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	filterGroup := 0
	if g := r.URL.Query().Get("group"); g != "" {
		id, err := strconv.Atoi(g)
		if err != nil {
			http.Error(w, "invalid group", http.StatusBadRequest)
			return
		}
		filterGroup = id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &wsClient{
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		manager:     m,
		events:      m.bus.Watch(events.KindConnectionState),
		filterGroup: filterGroup,
		stopChan:    make(chan struct{}),
	}

	select {
	case m.register <- client:
	case <-m.stopChan:
		m.bus.Unwatch(events.KindConnectionState, client.events)
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
	go client.eventPump()
}

// GetActiveConnections returns the number of active WebSocket connections
func (m *WebSocketManager) GetActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// readPump handles pongs and detects disconnects
func (c *wsClient) readPump() {
	defer func() {
		close(c.stopChan)
		select {
		case c.manager.unregister <- c:
		case <-c.manager.stopChan:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.manager.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}
	}
}

// writePump pumps messages from the send channel to the WebSocket connection
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.manager.logger.Error("WebSocket write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// eventPump forwards watched events to the client
func (c *wsClient) eventPump() {
	defer c.manager.logger.Debug("Event pump stopped for WebSocket client")

	for {
		select {
		case <-c.stopChan:
			return
		case event, ok := <-c.events:
			if !ok {
				return
			}
			if c.filterGroup != 0 && event.Key != c.filterGroup {
				continue
			}

			data, err := json.Marshal(event)
			if err != nil {
				c.manager.logger.Error("Failed to marshal event", zap.Error(err))
				continue
			}

			c.manager.mu.RLock()
			_, registered := c.manager.connections[c.conn]
			if registered {
				select {
				case c.send <- data:
				default:
					c.manager.logger.Warn("WebSocket send buffer full, dropping event",
						zap.String("kind", string(event.Kind)))
				}
			}
			c.manager.mu.RUnlock()
		}
	}
}
