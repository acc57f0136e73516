package domain

import (
	"context"
	"time"
)

// ConversationRepository persists conversations. Implementations must keep
// the per-session invariant: at most one conversation with IsCurrent set.
type ConversationRepository interface {
	// Create inserts a conversation. When conv.IsCurrent is set, every other
	// conversation of the session is demoted in the same atomic step.
	Create(ctx context.Context, conv *Conversation) error

	Get(ctx context.Context, sessionID SessionID, id ConversationID) (*Conversation, error)
	GetCurrent(ctx context.Context, sessionID SessionID) (*Conversation, error)
	List(ctx context.Context, sessionID SessionID) ([]*Conversation, error)

	// SetCurrent flips the current flag across the session's conversations.
	// It must not touch the target's UpdatedAt: switching is navigation, not
	// activity.
	SetCurrent(ctx context.Context, sessionID SessionID, id ConversationID) error

	Delete(ctx context.Context, sessionID SessionID, id ConversationID) error

	// Append adds messages and retrieval summaries, sets UpdatedAt to at, and
	// trims the retrieval history to MaxCaseHistory (oldest dropped first).
	Append(ctx context.Context, sessionID SessionID, id ConversationID, msgs []Message, cases []CaseSummary, at time.Time) error

	Rename(ctx context.Context, sessionID SessionID, id ConversationID, title string) error
}

// SessionRegistry tracks ephemeral sessions and their preference flags.
type SessionRegistry interface {
	GetOrCreate(id SessionID) *Session
	Save(session *Session)
}

// ChatMessage is one prior turn entry sent to a model provider.
type ChatMessage struct {
	Role    Role
	Content string
}

// ChatRequest is the provider-neutral shape of one completion call.
type ChatRequest struct {
	System  string
	History []ChatMessage
	User    string
}

// ChatStream is one in-flight streamed completion. Model is known as soon as
// the stream is opened. Tokens closes on end-of-stream; Err holds at most one
// error and is closed with the stream.
type ChatStream struct {
	Model  string
	Tokens <-chan string
	Err    <-chan error
}

// ModelGateway is the chat-completion provider boundary, addressed by the
// short model id.
type ModelGateway interface {
	// ResolveModel maps a short id to the provider model name.
	ResolveModel(id ModelID) (string, error)
	Complete(ctx context.Context, id ModelID, req ChatRequest) (string, error)
	CompleteStream(ctx context.Context, id ModelID, req ChatRequest) (*ChatStream, error)
}

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// CaseIndex is the nearest-neighbor boundary over the precedent corpus.
type CaseIndex interface {
	// Query returns up to limit candidates ranked by similarity, best first.
	Query(ctx context.Context, vector []float32, limit int) ([]ScoredCase, error)
	Count(ctx context.Context) (int, error)
}

// Recognizer converts an uploaded file into text. Recoverable recognition
// problems come back as readable text in the result slot, matching the
// upstream services' behavior; only transport-level failures are errors.
type Recognizer interface {
	Recognize(ctx context.Context, data []byte, filename string, kind AttachmentKind) (string, error)
}
