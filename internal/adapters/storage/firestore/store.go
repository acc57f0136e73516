// Package firestore is the durable ConversationRepository for GCP
// deployments. Conversations are documents under sessions/{id}/conversations;
// the current-flag flips run inside Firestore transactions so the one-current
// invariant survives concurrent writers.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hjwen/counsel-agent/internal/domain"
)

type Store struct {
	client *firestore.Client
}

var _ domain.ConversationRepository = (*Store)(nil)

// NewStore creates a Firestore-backed repository for the given GCP project.
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) conversationsCol(sessionID domain.SessionID) *firestore.CollectionRef {
	return s.client.Collection("sessions").Doc(string(sessionID)).Collection("conversations")
}

func (s *Store) conversationDoc(sessionID domain.SessionID, id domain.ConversationID) *firestore.DocumentRef {
	return s.conversationsCol(sessionID).Doc(string(id))
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type attachmentDoc struct {
	Filename string `firestore:"filename"`
	Kind     string `firestore:"kind"`
	Text     string `firestore:"text"`
}

type judgeDoc struct {
	ModelUsed string            `firestore:"model_used"`
	Reasoning string            `firestore:"reasoning"`
	Answers   map[string]string `firestore:"answers"`
}

type messageDoc struct {
	ID          string          `firestore:"id"`
	Role        string          `firestore:"role"`
	Content     string          `firestore:"content"`
	Attachments []attachmentDoc `firestore:"attachments"`
	Judge       *judgeDoc       `firestore:"judge"`
	CreatedAt   time.Time       `firestore:"created_at"`
}

type caseSummaryDoc struct {
	Fact               string    `firestore:"fact"`
	Accusations        []string  `firestore:"accusations"`
	Articles           []int     `firestore:"articles"`
	ImprisonmentMonths int       `firestore:"imprisonment_months"`
	Fine               int       `firestore:"fine"`
	CapturedAt         time.Time `firestore:"captured_at"`
	Query              string    `firestore:"query"`
}

type conversationDoc struct {
	Title       string           `firestore:"title"`
	Messages    []messageDoc     `firestore:"messages"`
	CaseHistory []caseSummaryDoc `firestore:"case_history"`
	IsCurrent   bool             `firestore:"is_current"`
	CreatedAt   time.Time        `firestore:"created_at"`
	UpdatedAt   time.Time        `firestore:"updated_at"`
}

func toDoc(conv *domain.Conversation) conversationDoc {
	doc := conversationDoc{
		Title:     conv.Title,
		IsCurrent: conv.IsCurrent,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
	doc.Messages = toMessageDocs(conv.Messages)
	for _, c := range conv.CaseHistory {
		doc.CaseHistory = append(doc.CaseHistory, caseSummaryDoc(c))
	}
	return doc
}

func toMessageDocs(msgs []domain.Message) []messageDoc {
	out := make([]messageDoc, 0, len(msgs))
	for _, m := range msgs {
		md := messageDoc{
			ID:        string(m.ID),
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
		for _, a := range m.Attachments {
			md.Attachments = append(md.Attachments, attachmentDoc{
				Filename: a.Filename,
				Kind:     string(a.Kind),
				Text:     a.Text,
			})
		}
		if m.Judge != nil {
			md.Judge = &judgeDoc{
				ModelUsed: m.Judge.ModelUsed,
				Reasoning: m.Judge.Reasoning,
				Answers:   m.Judge.Answers,
			}
		}
		out = append(out, md)
	}
	return out
}

func fromDoc(sessionID domain.SessionID, id domain.ConversationID, doc conversationDoc) *domain.Conversation {
	conv := &domain.Conversation{
		ID:        id,
		SessionID: sessionID,
		Title:     doc.Title,
		IsCurrent: doc.IsCurrent,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for _, md := range doc.Messages {
		m := domain.Message{
			ID:        domain.MessageID(md.ID),
			Role:      domain.Role(md.Role),
			Content:   md.Content,
			CreatedAt: md.CreatedAt,
		}
		for _, a := range md.Attachments {
			m.Attachments = append(m.Attachments, domain.Attachment{
				Filename: a.Filename,
				Kind:     domain.AttachmentKind(a.Kind),
				Text:     a.Text,
			})
		}
		if md.Judge != nil {
			m.Judge = &domain.JudgeData{
				ModelUsed: md.Judge.ModelUsed,
				Reasoning: md.Judge.Reasoning,
				Answers:   md.Judge.Answers,
			}
		}
		conv.Messages = append(conv.Messages, m)
	}
	for _, c := range doc.CaseHistory {
		conv.CaseHistory = append(conv.CaseHistory, domain.CaseSummary(c))
	}
	return conv
}

// ─────────────────────────────────────────
// ConversationRepository implementation
// ─────────────────────────────────────────

func (s *Store) Create(ctx context.Context, conv *domain.Conversation) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if conv.IsCurrent {
			if err := s.demoteAllTx(ctx, tx, conv.SessionID, ""); err != nil {
				return err
			}
		}
		return tx.Create(s.conversationDoc(conv.SessionID, conv.ID), toDoc(conv))
	})
	if err != nil {
		return fmt.Errorf("firestore Create: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, sessionID domain.SessionID, id domain.ConversationID) (*domain.Conversation, error) {
	snap, err := s.conversationDoc(sessionID, id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("firestore Get: %w", err)
	}

	var doc conversationDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore Get decode: %w", err)
	}
	return fromDoc(sessionID, id, doc), nil
}

func (s *Store) GetCurrent(ctx context.Context, sessionID domain.SessionID) (*domain.Conversation, error) {
	iter := s.conversationsCol(sessionID).Where("is_current", "==", true).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore GetCurrent: %w", err)
	}

	var doc conversationDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore GetCurrent decode: %w", err)
	}
	return fromDoc(sessionID, domain.ConversationID(snap.Ref.ID), doc), nil
}

func (s *Store) List(ctx context.Context, sessionID domain.SessionID) ([]*domain.Conversation, error) {
	iter := s.conversationsCol(sessionID).OrderBy("created_at", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []*domain.Conversation
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore List: %w", err)
		}

		var doc conversationDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("firestore List decode: %w", err)
		}
		out = append(out, fromDoc(sessionID, domain.ConversationID(snap.Ref.ID), doc))
	}
	return out, nil
}

func (s *Store) SetCurrent(ctx context.Context, sessionID domain.SessionID, id domain.ConversationID) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		target := s.conversationDoc(sessionID, id)
		if _, err := tx.Get(target); err != nil {
			if status.Code(err) == codes.NotFound {
				return domain.ErrNotFound
			}
			return err
		}
		if err := s.demoteAllTx(ctx, tx, sessionID, id); err != nil {
			return err
		}
		// UpdatedAt stays untouched: switching is navigation, not activity.
		return tx.Update(target, []firestore.Update{{Path: "is_current", Value: true}})
	})
	if err == domain.ErrNotFound {
		return err
	}
	if err != nil {
		return fmt.Errorf("firestore SetCurrent: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, sessionID domain.SessionID, id domain.ConversationID) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc := s.conversationDoc(sessionID, id)
		if _, err := tx.Get(doc); err != nil {
			if status.Code(err) == codes.NotFound {
				return domain.ErrNotFound
			}
			return err
		}
		return tx.Delete(doc)
	})
	if err == domain.ErrNotFound {
		return err
	}
	if err != nil {
		return fmt.Errorf("firestore Delete: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, sessionID domain.SessionID, id domain.ConversationID, msgs []domain.Message, cases []domain.CaseSummary, at time.Time) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.conversationDoc(sessionID, id)
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return domain.ErrNotFound
			}
			return err
		}

		var doc conversationDoc
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode conversation: %w", err)
		}

		doc.Messages = append(doc.Messages, toMessageDocs(msgs)...)
		for _, c := range cases {
			doc.CaseHistory = append(doc.CaseHistory, caseSummaryDoc(c))
		}
		if n := len(doc.CaseHistory); n > domain.MaxCaseHistory {
			doc.CaseHistory = doc.CaseHistory[n-domain.MaxCaseHistory:]
		}
		doc.UpdatedAt = at

		return tx.Set(ref, doc)
	})
	if err == domain.ErrNotFound {
		return err
	}
	if err != nil {
		return fmt.Errorf("firestore Append: %w", err)
	}
	return nil
}

func (s *Store) Rename(ctx context.Context, sessionID domain.SessionID, id domain.ConversationID, title string) error {
	_, err := s.conversationDoc(sessionID, id).Update(ctx, []firestore.Update{{Path: "title", Value: title}})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.ErrNotFound
		}
		return fmt.Errorf("firestore Rename: %w", err)
	}
	return nil
}

// demoteAllTx clears is_current on every conversation of the session except
// keep. Reads must precede writes in a Firestore transaction, so the query
// runs through the transaction itself.
func (s *Store) demoteAllTx(ctx context.Context, tx *firestore.Transaction, sessionID domain.SessionID, keep domain.ConversationID) error {
	iter := tx.Documents(s.conversationsCol(sessionID).Where("is_current", "==", true))
	defer iter.Stop()

	// Reads must all happen before writes, so collect refs first.
	var refs []*firestore.DocumentRef
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("querying current conversations: %w", err)
		}
		if domain.ConversationID(snap.Ref.ID) == keep {
			continue
		}
		refs = append(refs, snap.Ref)
	}

	for _, ref := range refs {
		if err := tx.Update(ref, []firestore.Update{{Path: "is_current", Value: false}}); err != nil {
			return err
		}
	}
	return nil
}
