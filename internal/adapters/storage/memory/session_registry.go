package memory

import (
	"sync"
	"time"

	"github.com/hjwen/counsel-agent/internal/domain"
)

// SessionRegistry keeps the ephemeral sessions and their preference flags.
// Sessions are never persisted beyond process lifetime.
type SessionRegistry struct {
	mu           sync.RWMutex
	sessions     map[domain.SessionID]*domain.Session
	defaultModel domain.ModelID
}

func NewSessionRegistry(defaultModel domain.ModelID) *SessionRegistry {
	return &SessionRegistry{
		sessions:     make(map[domain.SessionID]*domain.Session),
		defaultModel: defaultModel,
	}
}

func (r *SessionRegistry) GetOrCreate(id domain.SessionID) *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		cp := *s
		return &cp
	}
	s := &domain.Session{
		ID:               id,
		Model:            r.defaultModel,
		RetrievalEnabled: true,
		CreatedAt:        time.Now(),
	}
	r.sessions[id] = s
	cp := *s
	return &cp
}

func (r *SessionRegistry) Save(session *domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *session
	r.sessions[session.ID] = &cp
}
