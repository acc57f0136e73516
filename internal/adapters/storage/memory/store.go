package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hjwen/counsel-agent/internal/domain"
)

// Store is the transient ConversationRepository: a map keyed by session id,
// guarded by one RWMutex. Every read returns clones so callers cannot reach
// into stored state.
type Store struct {
	mu    sync.RWMutex
	convs map[domain.SessionID][]*domain.Conversation
}

func NewStore() *Store {
	return &Store{
		convs: make(map[domain.SessionID][]*domain.Conversation),
	}
}

func (s *Store) Create(_ context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.IsCurrent {
		for _, c := range s.convs[conv.SessionID] {
			c.IsCurrent = false
		}
	}
	s.convs[conv.SessionID] = append(s.convs[conv.SessionID], conv.Clone())
	return nil
}

func (s *Store) Get(_ context.Context, sessionID domain.SessionID, id domain.ConversationID) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.find(sessionID, id)
	if c == nil {
		return nil, domain.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *Store) GetCurrent(_ context.Context, sessionID domain.SessionID) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.convs[sessionID] {
		if c.IsCurrent {
			return c.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) List(_ context.Context, sessionID domain.SessionID) ([]*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Conversation, 0, len(s.convs[sessionID]))
	for _, c := range s.convs[sessionID] {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (s *Store) SetCurrent(_ context.Context, sessionID domain.SessionID, id domain.ConversationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.find(sessionID, id)
	if target == nil {
		return domain.ErrNotFound
	}
	for _, c := range s.convs[sessionID] {
		c.IsCurrent = c.ID == id
	}
	return nil
}

func (s *Store) Delete(_ context.Context, sessionID domain.SessionID, id domain.ConversationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.convs[sessionID]
	for i, c := range list {
		if c.ID == id {
			s.convs[sessionID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *Store) Append(_ context.Context, sessionID domain.SessionID, id domain.ConversationID, msgs []domain.Message, cases []domain.CaseSummary, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.find(sessionID, id)
	if c == nil {
		return domain.ErrNotFound
	}
	c.Messages = append(c.Messages, msgs...)
	c.CaseHistory = append(c.CaseHistory, cases...)
	if n := len(c.CaseHistory); n > domain.MaxCaseHistory {
		c.CaseHistory = append([]domain.CaseSummary(nil), c.CaseHistory[n-domain.MaxCaseHistory:]...)
	}
	c.UpdatedAt = at
	return nil
}

func (s *Store) Rename(_ context.Context, sessionID domain.SessionID, id domain.ConversationID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.find(sessionID, id)
	if c == nil {
		return domain.ErrNotFound
	}
	c.Title = title
	return nil
}

// find assumes the caller holds the lock.
func (s *Store) find(sessionID domain.SessionID, id domain.ConversationID) *domain.Conversation {
	for _, c := range s.convs[sessionID] {
		if c.ID == id {
			return c
		}
	}
	return nil
}
