package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hjwen/counsel-agent/internal/domain"
	"github.com/hjwen/counsel-agent/internal/observability"
)

// maxTitleRunes bounds titles derived from the first user message.
const maxTitleRunes = 20

// Service owns every mutation of conversations. Other components (relay,
// judge) request appends through it instead of touching the repository.
type Service struct {
	repo domain.ConversationRepository
	now  func() time.Time
}

func NewService(repo domain.ConversationRepository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// GetOrCreateCurrent returns the session's current conversation, creating one
// with the default title if the session has none. It never fails with
// not-found and never bumps an existing conversation's UpdatedAt.
func (s *Service) GetOrCreateCurrent(ctx context.Context, sessionID domain.SessionID) (*domain.Conversation, error) {
	conv, err := s.repo.GetCurrent(ctx, sessionID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return s.CreateNew(ctx, sessionID, "")
}

// CreateNew inserts a fresh current conversation. The repository demotes the
// session's other conversations in the same atomic step, so the last of two
// racing creations establishes the single current one.
func (s *Service) CreateNew(ctx context.Context, sessionID domain.SessionID, title string) (*domain.Conversation, error) {
	if title == "" {
		title = domain.DefaultConversationTitle
	}

	now := s.now()
	conv := &domain.Conversation{
		ID:        domain.ConversationID(uuid.NewString()),
		SessionID: sessionID,
		Title:     title,
		IsCurrent: true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, conv); err != nil {
		return nil, err
	}

	observability.LoggerFromContext(ctx).Info("conversation created",
		"session_id", sessionID,
		"conversation_id", conv.ID,
	)
	return conv.Clone(), nil
}

// Switch makes the given conversation current. It is a view operation: the
// target's UpdatedAt is preserved so ordering keeps reflecting real activity,
// not navigation.
func (s *Service) Switch(ctx context.Context, sessionID domain.SessionID, id domain.ConversationID) error {
	return s.repo.SetCurrent(ctx, sessionID, id)
}

// Delete removes the conversation. When the current one is deleted and
// others remain, the most recently active of them (greatest UpdatedAt) is
// promoted; otherwise the session has no current conversation until the next
// GetOrCreateCurrent.
func (s *Service) Delete(ctx context.Context, sessionID domain.SessionID, id domain.ConversationID) error {
	conv, err := s.repo.Get(ctx, sessionID, id)
	if err != nil {
		return err
	}
	wasCurrent := conv.IsCurrent

	if err := s.repo.Delete(ctx, sessionID, id); err != nil {
		return err
	}

	if !wasCurrent {
		return nil
	}

	rest, err := s.repo.List(ctx, sessionID)
	if err != nil {
		return err
	}
	var latest *domain.Conversation
	for _, c := range rest {
		if latest == nil || c.UpdatedAt.After(latest.UpdatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil
	}
	return s.repo.SetCurrent(ctx, sessionID, latest.ID)
}

// AppendAndPersist appends the turn's messages and retrieval summaries,
// stamps UpdatedAt, and lets the repository trim the retrieval history to
// its bound.
func (s *Service) AppendAndPersist(ctx context.Context, sessionID domain.SessionID, id domain.ConversationID, msgs []domain.Message, cases []domain.CaseSummary) error {
	return s.repo.Append(ctx, sessionID, id, msgs, cases, s.now())
}

// RenameIfDefault derives a title from the first user message, but only while
// the conversation still carries the placeholder. No-op otherwise.
func (s *Service) RenameIfDefault(ctx context.Context, sessionID domain.SessionID, id domain.ConversationID, candidate string) error {
	conv, err := s.repo.Get(ctx, sessionID, id)
	if err != nil {
		return err
	}
	if conv.Title != domain.DefaultConversationTitle || candidate == "" {
		return nil
	}
	return s.repo.Rename(ctx, sessionID, id, truncateRunes(candidate, maxTitleRunes))
}

func (s *Service) Get(ctx context.Context, sessionID domain.SessionID, id domain.ConversationID) (*domain.Conversation, error) {
	return s.repo.Get(ctx, sessionID, id)
}

func (s *Service) List(ctx context.Context, sessionID domain.SessionID) ([]*domain.Conversation, error) {
	return s.repo.List(ctx, sessionID)
}

// NewMessage builds a message with a fresh id and timestamp.
func (s *Service) NewMessage(role domain.Role, content string) domain.Message {
	return domain.Message{
		ID:        domain.MessageID(uuid.NewString()),
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
	}
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
