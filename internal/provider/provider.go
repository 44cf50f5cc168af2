// Package provider translates the canonical conversation model to and from
// AI vendor APIs.
package provider

import (
	"context"
	"encoding/json"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

// Adapter is one vendor:model pair able to complete a conversation.
type Adapter interface {
	// Vendor returns the vendor prefix that selected this adapter.
	Vendor() string
	// Model returns the model name exactly as given in the identifier.
	Model() string
	// Info returns context window, output limit and pricing for the model.
	Info() ModelInfo
	// Complete sends the request and returns the assistant message.
	// Failures are returned as *Error and never carry a partial message.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Encode returns the serialized vendor request for req.
	Encode(req *Request) ([]byte, error)
}

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"` // JSON Schema
}

// Request is a completion request in canonical form.
type Request struct {
	System      string           `json:"system,omitempty"`
	Messages    []*types.Message `json:"messages"`
	Tools       []ToolSpec       `json:"tools,omitempty"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	// Checkpoints are message indices after which the vendor may cache the
	// request prefix. Ignored by vendors without prompt caching.
	Checkpoints []int `json:"checkpoints,omitempty"`
}

// Response is the outcome of a completion.
type Response struct {
	Message      *types.Message  `json:"message"`
	Usage        types.Usage     `json:"usage"`
	Cost         float64         `json:"cost"`
	FinishReason string          `json:"finish_reason,omitempty"`
	RawToolCalls json.RawMessage `json:"raw_tool_calls,omitempty"`
}

// maxTokens resolves the output limit for a request.
func maxTokens(req *Request, info ModelInfo) int {
	if req.MaxTokens > 0 {
		if info.MaxOutput > 0 && req.MaxTokens > info.MaxOutput {
			return info.MaxOutput
		}
		return req.MaxTokens
	}
	if info.MaxOutput > 0 && info.MaxOutput < defaultMaxTokens {
		return info.MaxOutput
	}
	return defaultMaxTokens
}

const defaultMaxTokens = 8192

// isCheckpoint reports whether message index i carries a cache marker.
func isCheckpoint(req *Request, i int) bool {
	for _, c := range req.Checkpoints {
		if c == i {
			return true
		}
	}
	return false
}
