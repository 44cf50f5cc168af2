package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

// NewOpenAI creates an adapter for OpenAI models.
func NewOpenAI(ctx context.Context, modelName string, info ModelInfo, cfg types.ProviderConfig) (Adapter, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, &Error{Kind: KindAuth, Vendor: "openai", Model: modelName, Err: fmt.Errorf("OPENAI_API_KEY not set")}
	}

	maxOut := info.MaxOutput
	openaiCfg := &openai.ChatModelConfig{
		APIKey: apiKey,
		Model:  modelName,
		// MaxCompletionTokens keeps reasoning models compatible.
		MaxCompletionTokens: &maxOut,
	}
	if cfg.BaseURL != "" {
		openaiCfg.BaseURL = cfg.BaseURL
	}

	chat, err := openai.NewChatModel(ctx, openaiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
	}
	return newOpenAIAdapter(modelName, info, chat), nil
}

func newOpenAIAdapter(modelName string, info ModelInfo, chat model.ToolCallingChatModel) *chatAdapter {
	return &chatAdapter{
		vendor: "openai",
		model:  modelName,
		info:   info,
		chat:   chat,
		options: func(req *Request, info ModelInfo) []model.Option {
			return []model.Option{openai.WithMaxCompletionTokens(maxTokens(req, info))}
		},
	}
}
