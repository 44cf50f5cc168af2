package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

// NewAnthropic creates an adapter for Anthropic Claude models.
func NewAnthropic(ctx context.Context, modelName string, info ModelInfo, cfg types.ProviderConfig) (Adapter, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, &Error{Kind: KindAuth, Vendor: "anthropic", Model: modelName, Err: fmt.Errorf("ANTHROPIC_API_KEY not set")}
	}

	claudeCfg := &claude.Config{
		APIKey:    apiKey,
		Model:     modelName,
		MaxTokens: info.MaxOutput,
	}
	if cfg.BaseURL != "" {
		baseURL := cfg.BaseURL
		claudeCfg.BaseURL = &baseURL
	}

	chat, err := claude.NewChatModel(ctx, claudeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Claude model: %w", err)
	}
	return newAnthropicAdapter(modelName, info, chat), nil
}

func newAnthropicAdapter(modelName string, info ModelInfo, chat model.ToolCallingChatModel) *chatAdapter {
	return &chatAdapter{
		vendor:  "anthropic",
		model:   modelName,
		info:    info,
		chat:    chat,
		prepare: anthropicBreakpoints,
		options: func(req *Request, info ModelInfo) []model.Option {
			return []model.Option{model.WithMaxTokens(maxTokens(req, info))}
		},
	}
}

// anthropicBreakpoints marks cache checkpoints on the converted messages.
// Index 0 of msgs is the system prompt when one is present.
func anthropicBreakpoints(req *Request, msgs []*schema.Message) []*schema.Message {
	if len(req.Checkpoints) == 0 {
		return msgs
	}
	offset := 0
	if req.System != "" {
		offset = 1
	}
	for i := range req.Messages {
		if isCheckpoint(req, i) && i+offset < len(msgs) {
			msgs[i+offset] = claude.SetMessageBreakpoint(msgs[i+offset])
		}
	}
	return msgs
}
