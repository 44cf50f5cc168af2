package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

const openRouterURL = "https://openrouter.ai/api/v1"

// OpenRouter reports authoritative cost per request, so it needs no
// price table entry.
type openRouterAdapter struct {
	model   string
	info    ModelInfo
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOpenRouter creates an adapter for OpenRouter-hosted models.
func NewOpenRouter(ctx context.Context, modelName string, info ModelInfo, cfg types.ProviderConfig) (Adapter, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if apiKey == "" {
		return nil, &Error{Kind: KindAuth, Vendor: "openrouter", Model: modelName, Err: fmt.Errorf("OPENROUTER_API_KEY not set")}
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = openRouterURL
	}
	return &openRouterAdapter{
		model:   modelName,
		info:    info,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

func (a *openRouterAdapter) Vendor() string  { return "openrouter" }
func (a *openRouterAdapter) Model() string   { return a.model }
func (a *openRouterAdapter) Info() ModelInfo { return a.info }

type orCacheControl struct {
	Type string `json:"type"`
}

type orContentPart struct {
	Type         string          `json:"type"`
	Text         string          `json:"text,omitempty"`
	ImageURL     *orImageURL     `json:"image_url,omitempty"`
	CacheControl *orCacheControl `json:"cache_control,omitempty"`
}

type orImageURL struct {
	URL string `json:"url"`
}

type orFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type orToolCall struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function orFunctionCall `json:"function"`
}

type orMessage struct {
	Role       string        `json:"role"`
	Content    any           `json:"content"`
	ToolCalls  []orToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type orFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type orTool struct {
	Type     string     `json:"type"`
	Function orFunction `json:"function"`
}

type orUsageOption struct {
	Include bool `json:"include"`
}

type orRequest struct {
	Model       string        `json:"model"`
	Messages    []orMessage   `json:"messages"`
	Tools       []orTool      `json:"tools,omitempty"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Usage       orUsageOption `json:"usage"`
}

type orResponse struct {
	Choices []struct {
		Message struct {
			Content   string       `json:"content"`
			ToolCalls []orToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens        int     `json:"prompt_tokens"`
		CompletionTokens    int     `json:"completion_tokens"`
		Cost                float64 `json:"cost"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// supportsCacheControl reports whether the routed model honours explicit
// cache_control markers.
func (a *openRouterAdapter) supportsCacheControl() bool {
	return strings.HasPrefix(a.model, "anthropic/") || strings.HasPrefix(a.model, "google/")
}

func (a *openRouterAdapter) buildRequest(req *Request) orRequest {
	out := orRequest{
		Model:       a.model,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens(req, a.info),
		Usage:       orUsageOption{Include: true},
	}
	if req.System != "" {
		out.Messages = append(out.Messages, orMessage{Role: "system", Content: req.System})
	}
	for i, msg := range req.Messages {
		om := orMessage{Role: string(msg.Role), ToolCallID: msg.ToolCallID}
		marked := a.supportsCacheControl() && isCheckpoint(req, i)
		if hasImages(msg) || marked {
			parts := make([]orContentPart, 0, len(msg.Parts))
			for _, p := range msg.Parts {
				switch p.Type {
				case types.PartText:
					parts = append(parts, orContentPart{Type: "text", Text: p.Text})
				case types.PartImage:
					parts = append(parts, orContentPart{Type: "image_url", ImageURL: &orImageURL{URL: p.ImageURL}})
				}
			}
			if marked && len(parts) > 0 {
				parts[len(parts)-1].CacheControl = &orCacheControl{Type: "ephemeral"}
			}
			om.Content = parts
		} else {
			om.Content = msg.Text()
		}
		for _, tc := range msg.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, orToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: orFunctionCall{Name: tc.Name, Arguments: tc.Arguments()},
			})
		}
		out.Messages = append(out.Messages, om)
	}
	for _, t := range req.Tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out.Tools = append(out.Tools, orTool{
			Type:     "function",
			Function: orFunction{Name: t.Name, Description: t.Description, Parameters: params},
		})
	}
	return out
}

func (a *openRouterAdapter) Encode(req *Request) ([]byte, error) {
	return json.Marshal(a.buildRequest(req))
}

func (a *openRouterAdapter) Complete(ctx context.Context, req *Request) (*Response, error) {
	body, err := a.Encode(req)
	if err != nil {
		return nil, &Error{Kind: KindBadResponse, Vendor: a.Vendor(), Model: a.model, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Vendor: a.Vendor(), Model: a.model, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("X-Title", "octomind")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, a.Vendor(), a.model, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, a.Vendor(), a.model, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:   kindForStatus(resp.StatusCode),
			Vendor: a.Vendor(),
			Model:  a.model,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", strings.TrimSpace(string(data))),
		}
	}

	var parsed orResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, &Error{Kind: KindBadResponse, Vendor: a.Vendor(), Model: a.model, Err: err}
	}
	if parsed.Error != nil {
		return nil, &Error{Kind: KindBadResponse, Vendor: a.Vendor(), Model: a.model, Err: fmt.Errorf("%s", parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &Error{Kind: KindBadResponse, Vendor: a.Vendor(), Model: a.model, Err: fmt.Errorf("no choices in response")}
	}

	choice := parsed.Choices[0]
	msg := &types.Message{
		ID:        ulid.Make().String(),
		Role:      types.RoleAssistant,
		Timestamp: time.Now().UnixMilli(),
	}
	if choice.Message.Content != "" {
		msg.Parts = []types.ContentPart{{Type: types.PartText, Text: choice.Message.Content}}
	}
	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "call_" + ulid.Make().String()
		}
		msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{
			ID:         id,
			Name:       tc.Function.Name,
			Parameters: parseArguments(tc.Function.Arguments),
		})
	}

	usage := types.Usage{
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		CachedTokens: parsed.Usage.PromptTokensDetails.CachedTokens,
		Cost:         parsed.Usage.Cost,
		Requests:     1,
	}
	out := &Response{
		Message:      msg,
		Usage:        usage,
		Cost:         usage.Cost,
		FinishReason: choice.FinishReason,
	}
	if len(choice.Message.ToolCalls) > 0 {
		out.RawToolCalls, _ = json.Marshal(choice.Message.ToolCalls)
	}
	return out, nil
}
