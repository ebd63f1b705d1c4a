// Package server serves the local status feed: a websocket stream of console
// connection state changes, a health probe and a snapshot of managed servers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"consolebot-go/internal/events"
	"consolebot-go/internal/upstream"
)

// GroupView is a group whose servers are listed by the feed
type GroupView interface {
	GroupID() int
	Servers() []upstream.ServerSnapshot
}

// GroupStatus is the /servers entry of one group
type GroupStatus struct {
	GroupID int                       `json:"group_id"`
	Servers []upstream.ServerSnapshot `json:"servers"`
}

// StatusFeed is the HTTP side of the status feed
type StatusFeed struct {
	ws      *WebSocketManager
	logger  *zap.Logger
	started time.Time

	mu       sync.RWMutex
	groups   []GroupView
	srv      *http.Server
	listener net.Listener
}

// NewStatusFeed creates a feed streaming connection state events from bus
func NewStatusFeed(bus *events.Bus, logger *zap.Logger) *StatusFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("statusfeed")
	return &StatusFeed{
		ws:      NewWebSocketManager(bus, logger),
		logger:  logger,
		started: time.Now(),
	}
}

// AddGroup lists a group under /servers
func (f *StatusFeed) AddGroup(g GroupView) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, g)
}

// Handler returns the feed's routes
func (f *StatusFeed) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", f.ws.HandleWebSocket)
	mux.HandleFunc("/healthz", f.handleHealth)
	mux.HandleFunc("/servers", f.handleServers)
	return mux
}

func (f *StatusFeed) handleHealth(w http.ResponseWriter, r *http.Request) {
	f.writeJSON(w, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(f.started).Seconds()),
		"feed_clients":   f.ws.GetActiveConnections(),
	})
}

func (f *StatusFeed) handleServers(w http.ResponseWriter, r *http.Request) {
	f.mu.RLock()
	groups := append([]GroupView(nil), f.groups...)
	f.mu.RUnlock()

	statuses := make([]GroupStatus, 0, len(groups))
	for _, g := range groups {
		statuses = append(statuses, GroupStatus{GroupID: g.GroupID(), Servers: g.Servers()})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].GroupID < statuses[j].GroupID })

	f.writeJSON(w, statuses)
}

func (f *StatusFeed) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		f.logger.Warn("Failed to write response", zap.Error(err))
	}
}

// Start listens on addr and serves in the background. It returns once the
// listener is bound.
func (f *StatusFeed) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           f.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	f.mu.Lock()
	f.srv = srv
	f.listener = ln
	f.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.Error("Status feed server failed", zap.Error(err))
		}
	}()

	f.logger.Info("Status feed listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start
func (f *StatusFeed) Addr() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.listener == nil {
		return ""
	}
	return f.listener.Addr().String()
}

// Shutdown closes every feed client and stops the HTTP server
func (f *StatusFeed) Shutdown(ctx context.Context) error {
	f.ws.Stop()

	f.mu.RLock()
	srv := f.srv
	f.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
