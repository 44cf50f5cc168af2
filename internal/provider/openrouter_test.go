package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

func newOpenRouterServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		data, _ := io.ReadAll(r.Body)
		if seen != nil {
			_ = json.Unmarshal(data, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestOpenRouter(t *testing.T, url, modelName string) Adapter {
	t.Helper()
	a, err := NewOpenRouter(context.Background(), modelName, ModelInfo{Vendor: "openrouter", ID: modelName, MaxOutput: 8192}, types.ProviderConfig{APIKey: "test-key", BaseURL: url})
	require.NoError(t, err)
	return a
}

func TestOpenRouter_CostIsVerbatim(t *testing.T) {
	var seen map[string]any
	srv := newOpenRouterServer(t, http.StatusOK, `{
		"choices": [{
			"message": {
				"content": "",
				"tool_calls": [{"id": "call_a", "type": "function", "function": {"name": "list_files", "arguments": "{\"path\":\"src\"}"}}]
			},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 120, "completion_tokens": 30, "cost": 0.0042, "prompt_tokens_details": {"cached_tokens": 100}}
	}`, &seen)

	a := newTestOpenRouter(t, srv.URL, "anthropic/claude-sonnet-4")
	req := sampleRequest()
	req.Checkpoints = []int{0}
	resp, err := a.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.InDelta(t, 0.0042, resp.Cost, 1e-12)
	assert.Equal(t, 100, resp.Usage.CachedTokens)
	assert.Equal(t, "tool_calls", resp.FinishReason)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "call_a", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, "src", resp.Message.ToolCalls[0].Parameters["path"])

	// The model name, including its slash, goes to the vendor untouched.
	assert.Equal(t, "anthropic/claude-sonnet-4", seen["model"])
	assert.Equal(t, map[string]any{"include": true}, seen["usage"])

	msgs := seen["messages"].([]any)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "tool", msgs[3].(map[string]any)["role"])
	assert.Equal(t, "call_1", msgs[3].(map[string]any)["tool_call_id"])

	// Checkpoint on message 0 becomes a cache_control content part.
	parts := msgs[1].(map[string]any)["content"].([]any)
	assert.Equal(t, map[string]any{"type": "ephemeral"}, parts[0].(map[string]any)["cache_control"])
}

func TestOpenRouter_StatusErrors(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusTooManyRequests, KindRateLimit},
		{http.StatusBadGateway, KindNetwork},
		{http.StatusNotFound, KindUnsupportedModel},
		{http.StatusBadRequest, KindBadResponse},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := newOpenRouterServer(t, tt.status, `{"error":{"message":"nope"}}`, nil)
			a := newTestOpenRouter(t, srv.URL, "openai/gpt-4o")

			resp, err := a.Complete(context.Background(), sampleRequest())
			assert.Nil(t, resp)
			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.want, perr.Kind)
			assert.Equal(t, tt.status, perr.Status)
		})
	}
}

func TestOpenRouter_EmptyChoicesIsError(t *testing.T) {
	srv := newOpenRouterServer(t, http.StatusOK, `{"choices": []}`, nil)
	a := newTestOpenRouter(t, srv.URL, "openai/gpt-4o")

	_, err := a.Complete(context.Background(), sampleRequest())
	assert.True(t, IsKind(err, KindBadResponse))
}

func TestOpenRouter_MissingKey(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	_, err := NewOpenRouter(context.Background(), "x/y", ModelInfo{}, types.ProviderConfig{})
	assert.True(t, IsKind(err, KindAuth))
}
