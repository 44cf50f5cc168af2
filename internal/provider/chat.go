package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// chatAdapter is an Adapter backed by an eino chat model. Vendor specifics
// are supplied through the prepare and options hooks.
type chatAdapter struct {
	vendor string
	model  string
	info   ModelInfo
	chat   model.ToolCallingChatModel

	// prepare adjusts converted messages before sending (cache markers).
	prepare func(req *Request, msgs []*schema.Message) []*schema.Message
	// options returns per-request model options.
	options func(req *Request, info ModelInfo) []model.Option
}

func (a *chatAdapter) Vendor() string  { return a.vendor }
func (a *chatAdapter) Model() string   { return a.model }
func (a *chatAdapter) Info() ModelInfo { return a.info }

func (a *chatAdapter) messages(req *Request) []*schema.Message {
	msgs := toEinoMessages(req)
	if a.prepare != nil {
		msgs = a.prepare(req, msgs)
	}
	return msgs
}

// chatPayload is the deterministic encoding of an eino request.
type chatPayload struct {
	Model       string            `json:"model"`
	Messages    []*schema.Message `json:"messages"`
	Tools       []ToolSpec        `json:"tools,omitempty"`
	Temperature float64           `json:"temperature"`
	MaxTokens   int               `json:"max_tokens"`
}

func (a *chatAdapter) Encode(req *Request) ([]byte, error) {
	return json.Marshal(chatPayload{
		Model:       a.model,
		Messages:    a.messages(req),
		Tools:       req.Tools,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens(req, a.info),
	})
}

func (a *chatAdapter) Complete(ctx context.Context, req *Request) (*Response, error) {
	chat := a.chat
	if len(req.Tools) > 0 {
		bound, err := chat.WithTools(toEinoTools(req.Tools))
		if err != nil {
			return nil, &Error{Kind: KindBadResponse, Vendor: a.vendor, Model: a.model, Err: fmt.Errorf("failed to bind tools: %w", err)}
		}
		chat = bound
	}

	opts := []model.Option{model.WithTemperature(float32(req.Temperature))}
	if a.options != nil {
		opts = append(opts, a.options(req, a.info)...)
	}

	out, err := chat.Generate(ctx, a.messages(req), opts...)
	if err != nil {
		return nil, classify(ctx, a.vendor, a.model, err)
	}
	if ctx.Err() != nil {
		return nil, classify(ctx, a.vendor, a.model, ctx.Err())
	}
	if out == nil {
		return nil, &Error{Kind: KindBadResponse, Vendor: a.vendor, Model: a.model, Err: fmt.Errorf("empty response")}
	}

	msg := fromEinoMessage(out)
	usage := usageFromEino(out)
	usage.Cost = a.info.Cost(usage.InputTokens, usage.OutputTokens)

	resp := &Response{
		Message: msg,
		Usage:   usage,
		Cost:    usage.Cost,
	}
	if out.ResponseMeta != nil {
		resp.FinishReason = out.ResponseMeta.FinishReason
	}
	if len(out.ToolCalls) > 0 {
		resp.RawToolCalls, _ = json.Marshal(out.ToolCalls)
	}
	return resp, nil
}

// NewChatAdapter wraps an existing eino chat model. Cost is computed from info.
func NewChatAdapter(vendor, modelName string, info ModelInfo, chat model.ToolCallingChatModel) Adapter {
	return &chatAdapter{
		vendor: vendor,
		model:  modelName,
		info:   info,
		chat:   chat,
		options: func(req *Request, info ModelInfo) []model.Option {
			return []model.Option{model.WithMaxTokens(maxTokens(req, info))}
		},
	}
}
