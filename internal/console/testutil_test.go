package console

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeConsole is a game server console stand-in built on httptest
type fakeConsole struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
}

func newFakeConsole(t *testing.T) *fakeConsole {
	t.Helper()

	f := &fakeConsole{
		t:     t,
		conns: make(chan *websocket.Conn, 4),
	}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- conn
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeConsole) endpoint(token string) Endpoint {
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(f.server.URL, "http://"))
	require.NoError(f.t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(f.t, err)
	return Endpoint{Address: host, Port: port, Token: token}
}

// accept waits for the next client and consumes its token frame
func (f *fakeConsole) accept() (*serverConn, string) {
	f.t.Helper()

	select {
	case conn := <-f.conns:
		sc := &serverConn{t: f.t, ws: conn}
		f.t.Cleanup(func() { conn.Close() })
		_, token := sc.read()
		return sc, string(token)
	case <-time.After(2 * time.Second):
		f.t.Fatal("timeout waiting for console client")
		return nil, ""
	}
}

type serverConn struct {
	t  *testing.T
	ws *websocket.Conn
	mu sync.Mutex
}

func (s *serverConn) read() (int, []byte) {
	s.t.Helper()
	_ = s.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := s.ws.ReadMessage()
	require.NoError(s.t, err)
	return mt, data
}

func (s *serverConn) readCommand() command {
	s.t.Helper()
	_, data := s.read()
	var cmd command
	require.NoError(s.t, json.Unmarshal(data, &cmd))
	return cmd
}

func (s *serverConn) send(v interface{}) {
	s.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(s.t, err)
	s.sendRaw(websocket.TextMessage, data)
}

func (s *serverConn) sendRaw(messageType int, data []byte) {
	s.t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NoError(s.t, s.ws.WriteMessage(messageType, data))
}

func (s *serverConn) handshake() {
	s.send(map[string]interface{}{
		"type":      TypeSystemMessage,
		"eventType": EventInfoLog,
		"data":      HandshakeMarker + ", Authenticated as: tester",
	})
}

func (s *serverConn) respond(id int, data interface{}) {
	s.send(map[string]interface{}{
		"type":      TypeCommandResult,
		"commandId": id,
		"data":      data,
	})
}

func (s *serverConn) event(eventType string, data interface{}) {
	s.send(map[string]interface{}{
		"type":      TypeSubscription,
		"eventType": eventType,
		"data":      data,
	})
}

// recordingListener counts lifecycle signals
type recordingListener struct {
	mu     sync.Mutex
	opens  int
	closes []int
	errs   []error
	opened chan struct{}
	closed chan struct{}
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		opened: make(chan struct{}, 8),
		closed: make(chan struct{}, 8),
	}
}

func (l *recordingListener) OnOpen(c *Connection) {
	l.mu.Lock()
	l.opens++
	l.mu.Unlock()
	l.opened <- struct{}{}
}

func (l *recordingListener) OnClose(c *Connection, code int, reason string) {
	l.mu.Lock()
	l.closes = append(l.closes, code)
	l.mu.Unlock()
	l.closed <- struct{}{}
}

func (l *recordingListener) OnError(c *Connection, err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func (l *recordingListener) openCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opens
}

func (l *recordingListener) closeCodes() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.closes...)
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s", what)
	}
}
