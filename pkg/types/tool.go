package types

import "time"

// ToolStatus is the outcome class of a tool execution.
type ToolStatus string

const (
	ToolStatusOK        ToolStatus = "ok"
	ToolStatusError     ToolStatus = "error"
	ToolStatusTimeout   ToolStatus = "timeout"
	ToolStatusCancelled ToolStatus = "cancelled"
)

// ToolResult is the outcome of one dispatched tool call.
type ToolResult struct {
	CallID   string        `json:"call_id"`
	Success  bool          `json:"success"`
	Content  string        `json:"content,omitempty"`
	Error    string        `json:"error,omitempty"`
	Status   ToolStatus    `json:"status"`
	Server   string        `json:"server,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Answered reports whether the result completed before cancellation and
// therefore belongs in the conversation.
func (r ToolResult) Answered() bool {
	return r.Status != ToolStatusCancelled
}

// CallEnvelope is the wire request sent to external tool servers.
type CallEnvelope struct {
	ToolName   string         `json:"tool_name"`
	CallID     string         `json:"call_id"`
	Parameters map[string]any `json:"parameters"`
}

// ResultEnvelope is the wire response returned by external tool servers.
type ResultEnvelope struct {
	CallID  string `json:"call_id"`
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ListToolsName is the reserved tool name used for tool discovery.
const ListToolsName = "tools/list"

// ToolDescriptor describes one tool exposed by a server.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Usage accumulates token usage and cost.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CachedTokens int     `json:"cached_tokens,omitempty"`
	Cost         float64 `json:"cost"`
	Requests     int     `json:"requests"`
}

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		CachedTokens: u.CachedTokens + o.CachedTokens,
		Cost:         u.Cost + o.Cost,
		Requests:     u.Requests + o.Requests,
	}
}
