// Package session tracks per-browser chat state keyed by an opaque token.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/RichardoC/visionpad/internal/models"
)

// Store persists SessionState. Each call is atomic on its own; callers get
// no ordering guarantee across calls for the same session.
type Store interface {
	GetOrCreate(ctx context.Context, id string) (*models.SessionState, error)
	AppendMessage(ctx context.Context, id string, msg models.ChatMessage) error
	SetCurrentImage(ctx context.Context, id string, path string) error
	Clear(ctx context.Context, id string) error
	// PruneExpired removes sessions not touched within ttl and returns how
	// many were dropped.
	PruneExpired(ctx context.Context, ttl time.Duration) (int, error)
}

type memoryEntry struct {
	state     *models.SessionState
	touchedAt time.Time
}

// MemoryStore keeps sessions in a process-local map.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memoryEntry
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		now:      time.Now,
	}
}

// entry returns the session for id, creating it when absent. Caller holds mu.
func (m *MemoryStore) entry(id string) *memoryEntry {
	e, ok := m.sessions[id]
	if !ok {
		e = &memoryEntry{state: &models.SessionState{ID: id, Messages: []models.ChatMessage{}}}
		m.sessions[id] = e
	}
	e.touchedAt = m.now()
	return e
}

func (m *MemoryStore) GetOrCreate(_ context.Context, id string) (*models.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entry(id).state.Clone(), nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, id string, msg models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(id)
	e.state.Messages = append(e.state.Messages, msg)
	return nil
}

func (m *MemoryStore) SetCurrentImage(_ context.Context, id string, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(id).state.CurrentImage = path
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(id)
	e.state.Messages = []models.ChatMessage{}
	e.state.CurrentImage = ""
	return nil
}

func (m *MemoryStore) PruneExpired(_ context.Context, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-ttl)
	pruned := 0
	for id, e := range m.sessions {
		if e.touchedAt.Before(cutoff) {
			delete(m.sessions, id)
			pruned++
		}
	}
	return pruned, nil
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
