package domain

type SessionID string
type ConversationID string
type MessageID string

// ModelID is the short, client-facing model identifier ("deepseek", "gpt4o", ...).
// The gateway resolves it to a concrete provider model name.
type ModelID string

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentAudio AttachmentKind = "audio"
)

// DefaultConversationTitle is the placeholder a conversation carries until the
// first user message names it.
const DefaultConversationTitle = "新对话"
