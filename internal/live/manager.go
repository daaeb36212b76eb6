// Package live pushes session state to connected clients over WebSocket.
package live

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnManager tracks the active WebSocket connections per session.
type ConnManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewConnManager creates an empty connection manager.
func NewConnManager() *ConnManager {
	return &ConnManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Register adds a connection under a session.
func (m *ConnManager) Register(sessionID, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[sessionID]; !exists {
		m.active[sessionID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[sessionID][connID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}

	m.active[sessionID][connID] = conn
	slog.Info("Live connection registered", "session_id", sessionID, "conn_id", connID)
}

// Unregister removes a connection from a session.
func (m *ConnManager) Unregister(sessionID, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conns, ok := m.active[sessionID]; ok {
		if current, exists := conns[connID]; exists && current == conn {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(m.active, sessionID)
			}
			slog.Info("Live connection unregistered", "session_id", sessionID, "conn_id", connID)
		}
	}
}

// Broadcast sends a payload to every connection of a session. Write failures
// are logged; the closing read loop cleans the connection up.
func (m *ConnManager) Broadcast(ctx context.Context, sessionID string, payload []byte) {
	m.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(m.active[sessionID]))
	for _, conn := range m.active[sessionID] {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			slog.Debug("Live broadcast write failed", "session_id", sessionID, "error", err)
		}
	}
}

// CloseSession forcefully terminates all connections for a session.
func (m *ConnManager) CloseSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.active[sessionID]
	if !ok {
		return
	}

	for id, conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		slog.Info("Live connection closed", "session_id", sessionID, "conn_id", id)
	}
	delete(m.active, sessionID)
}

// CloseAll terminates every tracked connection. Used during shutdown.
func (m *ConnManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sessionID, conns := range m.active {
		for _, conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(m.active, sessionID)
	}
}
