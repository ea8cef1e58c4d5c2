package session

import (
	"sync"

	"go.uber.org/zap"

	"papernav/internal/metrics"
)

// Manager keeps one independent Session per external key, such as a chat
// ID. Each session still allows only one in-flight request.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	newConfig func(key string) Config
	onCreate  func(key string, s *Session)
	logger    *zap.Logger
}

// NewManager creates a manager. newConfig builds the Config for a new
// session; onCreate, if set, runs once for each session it starts.
func NewManager(newConfig func(key string) Config, onCreate func(key string, s *Session), logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		newConfig: newConfig,
		onCreate:  onCreate,
		logger:    logger,
	}
}

// Get returns the session for key, if any.
func (m *Manager) Get(key string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	return s, ok
}

// GetOrCreate returns the session for key, starting one when none exists.
func (m *Manager) GetOrCreate(key string) *Session {
	// Fast path
	m.mu.RLock()
	s, ok := m.sessions[key]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s
	}
	s = New(m.newConfig(key))
	m.sessions[key] = s
	metrics.ActiveSessions.Inc()
	m.logger.Info("session started", zap.String("key", key), zap.String("session", s.ID()))
	if m.onCreate != nil {
		m.onCreate(key, s)
	}
	return s
}

// Reset ends the session for key. The next GetOrCreate starts a fresh one.
// An in-flight request of the old session still resolves against it.
func (m *Manager) Reset(key string) bool {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	if ok {
		metrics.ActiveSessions.Dec()
		m.logger.Info("session ended", zap.String("key", key), zap.String("session", s.ID()))
	}
	return ok
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
