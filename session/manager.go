package session

import (
	"github.com/viant/mcp-bridge/internal/collection"
	"github.com/viant/mcp-bridge/internal/metrics"
)

// Manager is the registry of live sessions shared by all server endpoints.
type Manager struct {
	sessions *collection.SyncMap[string, *Session]
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{sessions: collection.NewSyncMap[string, *Session]()}
}

// Add registers s; an existing session with the same id is kept.
func (m *Manager) Add(s *Session) bool {
	if !m.sessions.PutIfAbsent(s.ID(), s) {
		return false
	}
	metrics.SessionAdded()
	return true
}

// Remove deregisters the session with id.
func (m *Manager) Remove(id string) (*Session, bool) {
	s, ok := m.sessions.LoadAndDelete(id)
	if ok {
		metrics.SessionRemoved()
	}
	return s, ok
}

func (m *Manager) Get(id string) (*Session, bool) {
	return m.sessions.Get(id)
}

// Sessions returns a snapshot of the registered sessions.
func (m *Manager) Sessions() []*Session {
	return m.sessions.Values()
}

func (m *Manager) Len() int {
	return m.sessions.Len()
}
