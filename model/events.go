package model

// EventType identifies a stream event kind.
type EventType string

const (
	EventTextDelta      EventType = "text-delta"
	EventReasoningDelta EventType = "reasoning-delta"
	EventToolState      EventType = "tool-state"
	EventSource         EventType = "source"
	EventError          EventType = "error"
	EventDone           EventType = "done"
)

// StreamEvent is one element of the ordered event sequence a chat request
// produces. The same sequence feeds every subscriber: the client stream and
// the persistence reconciler see identical events in identical order.
//
// Ordering guarantees, per sequence:
//   - events for one toolCallId appear in tool state-machine order
//   - text deltas are never reordered relative to the tool events that
//     precede them
//   - exactly one terminal event (done or error) closes the sequence
type StreamEvent struct {
	Type EventType `json:"type"`

	// EventTextDelta / EventReasoningDelta
	Delta string `json:"delta,omitempty"`

	// EventToolState
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	State      ToolState      `json:"state,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Output     any            `json:"output,omitempty"`
	Approval   *ToolApproval  `json:"approval,omitempty"`

	// EventSource
	SourceID string `json:"sourceId,omitempty"`
	Title    string `json:"title,omitempty"`

	// EventError, or the failure detail on a denied/errored tool state
	ErrorText string `json:"errorText,omitempty"`
}
