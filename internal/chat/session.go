// Package chat provides the websocket chat transport: it turns chat
// messages and button presses into progress actions and renders the
// outcomes back as chat replies.
package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SessionManager tracks the open chat connections of each user so replies
// reach every tab the user has open.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// lookup returns the active connection for a user and session.
func (m *SessionManager) lookup(userID, sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[userID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register adds a connection for a user/session, closing any connection it
// replaces.
func (m *SessionManager) Register(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[userID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[userID][sessionID] = conn
	slog.Info("Chat session registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes a connection if it is still the current one.
func (m *SessionManager) Unregister(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, userID)
			}
			slog.Info("Chat session unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// Count returns the number of open sessions of a user.
func (m *SessionManager) Count(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[userID])
}

// Broadcast sends v as a JSON text frame to every session of the user and
// returns how many writes succeeded.
func (m *SessionManager) Broadcast(ctx context.Context, userID string, v interface{}) int {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to encode chat broadcast", "error", err)
		return 0
	}

	m.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(m.active[userID]))
	for _, conn := range m.active[userID] {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	sent := 0
	for _, conn := range conns {
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("Chat broadcast write failed", "user_id", userID, "error", err)
			continue
		}
		sent++
	}
	return sent
}
