// Package store keeps live assistant sessions in process memory.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"freespace-backend/internal/session"
)

type key struct {
	persona string
	id      string
}

// MemoryStore is the session registry. Sessions are keyed by persona and
// id, so the same id used against two personas never shares state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[key]*session.Session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[key]*session.Session),
		now:      time.Now,
	}
}

// NewID returns a fresh session id.
func NewID() string {
	return uuid.NewString()
}

func (m *MemoryStore) Get(persona, id string) (*session.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key{persona, id}]
	return s, ok
}

// Create always starts a new session, replacing any existing one under the
// same id. An empty id is assigned a new one.
func (m *MemoryStore) Create(persona, id string, defaults session.Defaults, opts session.StartOptions) *session.Session {
	if id == "" {
		id = NewID()
	}
	s := session.NewSession(id, persona, defaults, opts, m.now())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[key{persona, id}] = s
	return s
}

// GetOrCreate returns the existing session or creates one with the persona
// defaults. The bool reports whether a new session was created.
func (m *MemoryStore) GetOrCreate(persona, id string, defaults session.Defaults) (*session.Session, bool) {
	if id != "" {
		if s, ok := m.Get(persona, id); ok {
			return s, false
		}
	} else {
		id = NewID()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{persona, id}
	if s, ok := m.sessions[k]; ok {
		return s, false
	}
	s := session.NewSession(id, persona, defaults, session.StartOptions{}, m.now())
	m.sessions[k] = s
	return s, true
}

// Reset rebuilds the session in place. It reports false when the session
// does not exist.
func (m *MemoryStore) Reset(persona, id string) (session.Context, bool) {
	s, ok := m.Get(persona, id)
	if !ok {
		return session.Context{}, false
	}
	return s.Reset(m.now()), true
}

func (m *MemoryStore) Delete(persona, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key{persona, id})
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CountByPersona returns the number of live sessions per persona key.
func (m *MemoryStore) CountByPersona() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int)
	for k := range m.sessions {
		out[k.persona]++
	}
	return out
}

// EvictIdle removes sessions whose last activity is older than ttl and
// returns how many were removed.
func (m *MemoryStore) EvictIdle(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := m.now().Add(-ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			delete(m.sessions, k)
			n++
		}
	}
	return n
}
