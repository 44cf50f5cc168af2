package types

import (
	"encoding/json"
	"strings"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn unit of a conversation.
type Message struct {
	ID         string        `json:"id"`
	Role       Role          `json:"role"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	// Tokens is computed once when the message enters a session and cached.
	Tokens    int   `json:"tokens"`
	Timestamp int64 `json:"timestamp"`
}

// Text joins all text parts of the message.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// HasToolCalls reports whether the message requests tool execution.
func (m *Message) HasToolCalls() bool {
	return m != nil && len(m.ToolCalls) > 0
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Parts != nil {
		c.Parts = append([]ContentPart(nil), m.Parts...)
	}
	if m.ToolCalls != nil {
		c.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			c.ToolCalls[i] = tc.Clone()
		}
	}
	return &c
}

// NewTextMessage creates a message with a single text part.
func NewTextMessage(role Role, text string) *Message {
	return &Message{
		Role:  role,
		Parts: []ContentPart{{Type: PartText, Text: text}},
	}
}

// NewToolMessage creates the tool message answering a tool call.
func NewToolMessage(result ToolResult) *Message {
	text := result.Content
	if !result.Success {
		text = "Error: " + result.Error
	}
	return &Message{
		Role:       RoleTool,
		ToolCallID: result.CallID,
		Parts:      []ContentPart{{Type: PartText, Text: text}},
	}
}

// PartType identifies the kind of a content part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ContentPart is a piece of message content.
type ContentPart struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
	// Image reference, either a URL or a data URI.
	ImageURL  string `json:"image_url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// ToolCall is a model-initiated request to execute a tool.
type ToolCall struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
	// Server is filled in by the router when the call is resolved.
	Server string `json:"server,omitempty"`
}

// Clone returns a copy of the call with its own parameter map.
func (tc ToolCall) Clone() ToolCall {
	if tc.Parameters != nil {
		params := make(map[string]any, len(tc.Parameters))
		for k, v := range tc.Parameters {
			params[k] = v
		}
		tc.Parameters = params
	}
	return tc
}

// Arguments returns the parameters encoded as a JSON object.
func (tc ToolCall) Arguments() string {
	if len(tc.Parameters) == 0 {
		return "{}"
	}
	data, err := json.Marshal(tc.Parameters)
	if err != nil {
		return "{}"
	}
	return string(data)
}
