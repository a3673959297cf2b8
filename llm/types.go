package llm

// MessageRole represents the role of a message in a conversation.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Valid reports whether r is one of the known roles.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Message represents a single message in a conversation.
// Messages are values: callers own them and requests copy them.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// NewTextMessage creates a new message with text content.
func NewTextMessage(role MessageRole, text string) Message {
	return Message{Role: role, Content: text}
}

// SystemMessage is shorthand for NewTextMessage(RoleSystem, text).
func SystemMessage(text string) Message {
	return NewTextMessage(RoleSystem, text)
}

// UserMessage is shorthand for NewTextMessage(RoleUser, text).
func UserMessage(text string) Message {
	return NewTextMessage(RoleUser, text)
}

// CloneMessages returns a copy of msgs so a request never aliases caller memory.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Usage represents token usage information from an LLM response.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// Total returns the sum of input and output tokens.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}
