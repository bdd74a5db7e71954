package statecore

// MessageRole mirrors the role on the wire; a single role still carries one
// of four more specific MessageType values.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// MessageType distinguishes the four shapes a Message can take.
type MessageType string

const (
	MessageUser       MessageType = "user"
	MessageAssistant  MessageType = "assistant"
	MessageToolCall   MessageType = "tool_call"
	MessageToolResult MessageType = "tool_result"
)

// MessageStatus tracks a message's lifecycle independent of its position in
// the log: history itself is append-only, but a message can be marked
// Deleted/Detached/Summarized without rewriting anything before or after it.
type MessageStatus string

const (
	StatusActive     MessageStatus = "active"
	StatusDeleted    MessageStatus = "deleted"
	StatusDetached   MessageStatus = "detached"
	StatusSummarized MessageStatus = "summarized"
)

// ToolUse is a single tool invocation emitted by the assistant.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResultBlock is a single tool result, referencing the ToolUse.ID it answers.
type ToolResultBlock struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// Message is one entry in the append-only conversation log.
type Message struct {
	ID          string // "{U|A|T|R}{n}"
	UID         string
	Role        MessageRole
	Type        MessageType
	Text        string
	ToolUses    []ToolUse
	ToolResults []ToolResultBlock
	Status      MessageStatus
	TLDR        string
	TokenCount     int
	TLDRTokenCount int
}

// HasMatchingResult reports whether a tool_result for toolUseID appears in
// any message after index fromIndex. Used by the
// prompt assembler to suppress orphaned tool_use blocks (spec.md §4.5.3).
func HasMatchingResult(msgs []*Message, fromIndex int, toolUseID string) bool {
	for i := fromIndex + 1; i < len(msgs); i++ {
		for _, r := range msgs[i].ToolResults {
			if r.ToolUseID == toolUseID {
				return true
			}
		}
	}
	return false
}

// IsVisible reports whether a message participates in outbound prompts.
func (m *Message) IsVisible() bool {
	return m.Status != StatusDeleted && m.Status != StatusDetached
}

// EffectiveText returns TLDR when the message has been summarized, else Text.
func (m *Message) EffectiveText() string {
	if m.Status == StatusSummarized && m.TLDR != "" {
		return m.TLDR
	}
	return m.Text
}
