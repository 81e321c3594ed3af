package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// MockServer is an in-process websocket endpoint standing in for an
// exchange in tests. A scripted OnMessage callback plays the exchange's
// side of the protocol: acking subscribes, streaming data frames, or
// misbehaving on purpose.
type MockServer struct {
	server *httptest.Server
	url    string

	mu            sync.RWMutex
	connections   map[*websocket.Conn]bool
	totalAccepted int
	received      [][]byte

	onMessage func(*websocket.Conn, []byte)

	rejectConnections bool
}

// NewMockServer starts a mock exchange server.
func NewMockServer() *MockServer {
	m := &MockServer{connections: make(map[*websocket.Conn]bool)}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	m.url = "ws" + strings.TrimPrefix(m.server.URL, "http")
	return m
}

// URL returns the ws:// endpoint of the mock server.
func (m *MockServer) URL() string { return m.url }

// Close shuts the server down.
func (m *MockServer) Close() { m.server.Close() }

// OnMessage installs the scripted responder for inbound client frames.
func (m *MockServer) OnMessage(fn func(*websocket.Conn, []byte)) {
	m.mu.Lock()
	m.onMessage = fn
	m.mu.Unlock()
}

// SetRejectConnections makes the server refuse upgrades.
func (m *MockServer) SetRejectConnections(reject bool) {
	m.mu.Lock()
	m.rejectConnections = reject
	m.mu.Unlock()
}

// Broadcast writes a text frame to every connected client.
func (m *MockServer) Broadcast(message []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for conn := range m.connections {
		_ = conn.WriteMessage(websocket.TextMessage, message)
	}
}

// ConnectionCount returns the number of currently open connections.
func (m *MockServer) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// TotalAccepted returns how many connections the server has ever accepted.
func (m *MockServer) TotalAccepted() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalAccepted
}

// Received returns a copy of every frame received from clients.
func (m *MockServer) Received() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.received))
	copy(out, m.received)
	return out
}

func (m *MockServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	reject := m.rejectConnections
	m.mu.RUnlock()
	if reject {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.connections[conn] = true
	m.totalAccepted++
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.connections, conn)
		m.mu.Unlock()
		conn.Close()
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		m.mu.Lock()
		m.received = append(m.received, message)
		handler := m.onMessage
		m.mu.Unlock()

		if handler != nil {
			handler(conn, message)
		}
	}
}

// setupMockServer creates a mock server torn down with the test.
func setupMockServer(t *testing.T) *MockServer {
	t.Helper()
	m := NewMockServer()
	t.Cleanup(m.Close)
	return m
}
