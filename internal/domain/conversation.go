package domain

import "time"

// MaxCaseHistory bounds the retrieval-history log attached to a conversation.
// Appending past the bound evicts the oldest entries first.
const MaxCaseHistory = 20

// Attachment is a pre-recognized upload: the recognizer has already turned
// the file into text by the time it reaches a message.
type Attachment struct {
	Filename string         `json:"filename"`
	Kind     AttachmentKind `json:"kind"`
	Text     string         `json:"text"`
}

// JudgeData records how a judge-mode assistant message was arbitrated.
type JudgeData struct {
	ModelUsed string            `json:"model_used"`
	Reasoning string            `json:"reasoning"`
	Answers   map[string]string `json:"answers"`
}

// Message is one entry in a conversation's history. Attachments appear only
// on user messages; Judge only on assistant messages produced by judge mode.
type Message struct {
	ID          MessageID    `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Judge       *JudgeData   `json:"judge,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// CaseSummary is the simplified form of a retrieved case kept in a
// conversation's retrieval history. Fact is capped at 200 runes, Query at
// 100; neither is ever mutated after capture.
type CaseSummary struct {
	Fact               string    `json:"fact"`
	Accusations        []string  `json:"accusations"`
	Articles           []int     `json:"articles"`
	ImprisonmentMonths int       `json:"imprisonment_months"`
	Fine               int       `json:"fine"`
	CapturedAt         time.Time `json:"captured_at"`
	Query              string    `json:"query"`
}

// Conversation is the aggregate owned by the conversation store. Messages are
// append-only and chronological; CaseHistory is the bounded retrieval log.
type Conversation struct {
	ID          ConversationID
	SessionID   SessionID
	Title       string
	Messages    []Message
	CaseHistory []CaseSummary
	IsCurrent   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Clone returns a deep copy so repository callers can never mutate stored
// state through a returned pointer.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Messages = make([]Message, len(c.Messages))
	copy(cp.Messages, c.Messages)
	cp.CaseHistory = make([]CaseSummary, len(c.CaseHistory))
	copy(cp.CaseHistory, c.CaseHistory)
	return &cp
}

// Session is the ephemeral per-client identity: an opaque id plus the small
// preference flags a turn request consults.
type Session struct {
	ID                 SessionID
	Model              ModelID
	RetrievalEnabled   bool
	DisclaimerAccepted bool
	CreatedAt          time.Time
}
