package chat

import (
	"bytes"
	"encoding/json"
	"time"
)

// Role identifies the author of a message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType discriminates the Part variant
type PartType string

const (
	PartTypeText           PartType = "text"
	PartTypeToolInvocation PartType = "tool-invocation"
)

// ToolState is the lifecycle of a tool invocation inside a message
type ToolState string

const (
	ToolStatePartialCall ToolState = "partial-call"
	ToolStateCall        ToolState = "call"
	ToolStateResult      ToolState = "result"
)

// ToolInvocation is a model-requested tool call, optionally carrying its result
type ToolInvocation struct {
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
	State      ToolState       `json:"state,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// HasResult reports whether the invocation carries a non-null result
func (t *ToolInvocation) HasResult() bool {
	if t == nil {
		return false
	}
	trimmed := bytes.TrimSpace(t.Result)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// Part is one element of a message body. Exactly one of Text or ToolInvocation
// is meaningful, selected by Type.
type Part struct {
	Type           PartType        `json:"type"`
	Text           string          `json:"text,omitempty"`
	ToolInvocation *ToolInvocation `json:"toolInvocation,omitempty"`
}

// TextPart builds a text part
func TextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

// ToolPart builds a tool-invocation part
func ToolPart(inv ToolInvocation) Part {
	return Part{Type: PartTypeToolInvocation, ToolInvocation: &inv}
}

// IsText reports whether the part is a well-formed text part
func (p Part) IsText() bool {
	return p.Type == PartTypeText
}

// IsToolInvocation reports whether the part is a well-formed tool-invocation part
func (p Part) IsToolInvocation() bool {
	return p.Type == PartTypeToolInvocation && p.ToolInvocation != nil
}

// Clone returns a copy that shares no mutable state with p
func (p Part) Clone() Part {
	if p.ToolInvocation == nil {
		return p
	}
	inv := *p.ToolInvocation
	inv.Args = cloneRaw(inv.Args)
	inv.Result = cloneRaw(inv.Result)
	p.ToolInvocation = &inv
	return p
}

// Message is one chat message as exchanged with the model
type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Parts     []Part    `json:"parts,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// IsSystem reports whether the message has the system role
func (m Message) IsSystem() bool {
	return m.Role == RoleSystem
}

// Clone deep-copies the message parts
func (m Message) Clone() Message {
	if m.Parts == nil {
		return m
	}
	parts := make([]Part, len(m.Parts))
	for i, p := range m.Parts {
		parts[i] = p.Clone()
	}
	m.Parts = parts
	return m
}

// CloneMessages deep-copies a message list
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	for i, m := range messages {
		out[i] = m.Clone()
	}
	return out
}

// NewSystemMessage builds a system message with the given content
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
