package model

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one flattened conversation turn.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Segment is an ordered, contiguous sub-sequence of conversation turns.
// Segments are a structural view used before summarization; they are never
// persisted.
type Segment []Message
