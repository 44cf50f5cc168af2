package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/ark"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

// NewArk creates an adapter for Volcengine ARK models. The model name is
// the ARK model or endpoint ID; it must have a price table entry.
func NewArk(ctx context.Context, modelName string, info ModelInfo, cfg types.ProviderConfig) (Adapter, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ARK_API_KEY")
	}
	if apiKey == "" {
		return nil, &Error{Kind: KindAuth, Vendor: "ark", Model: modelName, Err: fmt.Errorf("ARK_API_KEY not set")}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("ARK_BASE_URL")
	}

	maxOut := info.MaxOutput
	arkCfg := &ark.ChatModelConfig{
		APIKey:    apiKey,
		Model:     modelName,
		MaxTokens: &maxOut,
	}
	if baseURL != "" {
		arkCfg.BaseURL = baseURL
	}

	chat, err := ark.NewChatModel(ctx, arkCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create ARK model: %w", err)
	}
	a := NewChatAdapter("ark", modelName, info, chat)
	return a, nil
}
