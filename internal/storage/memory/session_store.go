package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

// SessionStore хранит сессии диалогов в памяти процесса.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
}

// NewSessionStore создаёт пустое in-memory хранилище сессий.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]domain.Session)}
}

func (s *SessionStore) Get(_ context.Context, id string) (domain.Session, error) {
	if id == "" {
		return domain.Session{}, domain.ErrSessionIDRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	session.Partial = session.Partial.Clone()
	return session, nil
}

func (s *SessionStore) Save(_ context.Context, session domain.Session) error {
	if session.ID == "" {
		return domain.ErrSessionIDRequired
	}
	session.Partial = session.Partial.Clone()

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	return nil
}

func (s *SessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// ListIdle возвращает сессии, последняя активность которых не позже before, старые первыми.
func (s *SessionStore) ListIdle(_ context.Context, before time.Time, limit int) ([]domain.Session, error) {
	s.mu.RLock()
	result := make([]domain.Session, 0)
	for _, session := range s.sessions {
		if session.LastActivity.After(before) {
			continue
		}
		result = append(result, session)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastActivity.Equal(result[j].LastActivity) {
			return result[i].LastActivity.Before(result[j].LastActivity)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Len возвращает число активных сессий.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

var _ domain.SessionStore = (*SessionStore)(nil)
