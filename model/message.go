package model

import "time"

// Message roles. Tool-result messages use RoleTool and exist only in the
// transient history handed to providers; the conversation log stores user,
// assistant and system messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message is the canonical chat message. Every stored shape is normalized
// into this form before any other component touches it.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId,omitempty"`
	Role           string    `json:"role"`
	Parts          []Part    `json:"parts"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
}

// PartType discriminates the members of the Part union.
type PartType string

const (
	PartText           PartType = "text"
	PartReasoning      PartType = "reasoning"
	PartToolInvocation PartType = "tool-invocation"
	PartSource         PartType = "source"
)

// Part is one segment of a message body. Exactly the fields matching its
// Type are populated; the rest stay at their zero value and are omitted
// from JSON.
type Part struct {
	Type PartType `json:"type"`

	// PartText / PartReasoning
	Text string `json:"text,omitempty"`

	// PartToolInvocation
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	State      ToolState      `json:"state,omitempty"`
	Output     any            `json:"output,omitempty"`
	ErrorText  string         `json:"errorText,omitempty"`
	Approval   *ToolApproval  `json:"approval,omitempty"`

	// PartSource
	SourceID string `json:"sourceId,omitempty"`
	Title    string `json:"title,omitempty"`
}

// ToolState is the lifecycle state of a tool invocation. Transitions move
// strictly forward; output-available, output-error and output-denied are
// terminal.
type ToolState string

const (
	ToolInputStreaming    ToolState = "input-streaming"
	ToolInputAvailable    ToolState = "input-available"
	ToolApprovalRequested ToolState = "approval-requested"
	ToolApprovalResponded ToolState = "approval-responded"
	ToolOutputAvailable   ToolState = "output-available"
	ToolOutputError       ToolState = "output-error"
	ToolOutputDenied      ToolState = "output-denied"
)

// Terminal reports whether s is a terminal tool state.
func (s ToolState) Terminal() bool {
	return s == ToolOutputAvailable || s == ToolOutputError || s == ToolOutputDenied
}

// Decision is the resolution of an approval request.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ToolApproval records the human decision for a gated tool call. ID always
// equals the tool call ID it belongs to.
type ToolApproval struct {
	ID       string   `json:"id"`
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason,omitempty"`
}

// ToolCall is a provider-agnostic tool call emitted by a model turn.
// Providers that do not assign call IDs get one minted during conversion.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// FlattenText concatenates the text parts of a message in order. Reasoning
// parts are excluded: they are never treated as transcript content.
func (m Message) FlattenText() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// ToolInvocations returns the tool invocation parts of a message in order.
func (m Message) ToolInvocations() []Part {
	var out []Part
	for _, p := range m.Parts {
		if p.Type == PartToolInvocation {
			out = append(out, p)
		}
	}
	return out
}

// TextMessage builds a single-part text message.
func TextMessage(role, text string) Message {
	return Message{
		Role:  role,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}
