package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muvon/octomind-sub000/internal/event"
	"github.com/Muvon/octomind-sub000/internal/layer"
	"github.com/Muvon/octomind-sub000/internal/memory"
	"github.com/Muvon/octomind-sub000/internal/provider"
	"github.com/Muvon/octomind-sub000/internal/provider/providertest"
	"github.com/Muvon/octomind-sub000/internal/session"
	"github.com/Muvon/octomind-sub000/internal/storage"
	"github.com/Muvon/octomind-sub000/internal/tool"
	"github.com/Muvon/octomind-sub000/internal/toolserver"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

const testModel = "test:model"

type testServer struct {
	*httptest.Server
	srv     *Server
	manager *session.Manager
	adapter *providertest.Adapter
	bus     *event.Bus
}

func setupTestServer(t *testing.T, steps ...providertest.Step) *testServer {
	t.Helper()
	ts := &testServer{
		adapter: providertest.New(testModel, steps...),
		bus:     event.NewBus(),
	}
	t.Cleanup(func() { ts.bus.Close() })

	reg := toolserver.NewRegistry(toolserver.Options{
		Environment: tool.Environment{WorkDir: t.TempDir()},
		Sink:        ts.bus,
	})
	t.Cleanup(func() { reg.Close() })
	_, err := reg.Register(context.Background(), types.ServerDefinition{Name: "fs", Kind: types.ServerFilesystem})
	require.NoError(t, err)

	st := storage.New(t.TempDir())
	ts.manager = session.NewManager(session.Options{
		Config: &types.Config{
			Model: testModel,
			Role:  "developer",
			Roles: map[string]types.RoleConfig{
				"developer": {Servers: []string{"fs"}},
				"reviewer":  {},
			},
		},
		Providers: providertest.Resolver{testModel: ts.adapter},
		Tools:     toolserver.NewRouter(reg, 0),
		Store:     session.NewStore(st),
		Memory:    memory.NewStore(st),
		Sink:      ts.bus,
	})
	t.Cleanup(ts.manager.Close)

	prices := provider.NewPriceTable()
	ts.srv = New(&Config{}, Options{Manager: ts.manager, Tools: reg, Models: prices, Bus: ts.bus})
	ts.Server = httptest.NewServer(ts.srv.Router())
	t.Cleanup(ts.Server.Close)
	t.Cleanup(func() { ts.srv.Shutdown(context.Background()) })
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	ts := setupTestServer(t)
	resp := ts.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])
}

func TestListSessions_Empty(t *testing.T) {
	ts := setupTestServer(t)
	resp := ts.do(t, "GET", "/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]SessionSummary](t, resp))
}

func TestSendMessage(t *testing.T) {
	ts := setupTestServer(t, providertest.Reply("hello there"))

	resp := ts.do(t, "POST", "/session/demo/message", SendMessageRequest{Content: "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[TurnResponse](t, resp)
	assert.Equal(t, "hello there", out.Output)
	assert.Equal(t, 1, out.Usage.Requests)
	require.Len(t, out.Layers, 1)
	assert.Equal(t, layer.DefaultLayerName, out.Layers[0].Name)
	assert.Equal(t, "demo", out.Session.Name)
	assert.Equal(t, 2, out.Session.Messages)

	msgs := decode[[]*types.Message](t, ts.do(t, "GET", "/session/demo/message", nil))
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello there", msgs[1].Text())

	ctxResp := decode[ContextResponse](t, ts.do(t, "GET", "/session/demo/context", nil))
	require.Len(t, ctxResp.MessageTokens, 2)
	assert.Equal(t, ctxResp.Tokens, ctxResp.MessageTokens[0]+ctxResp.MessageTokens[1])

	list := decode[[]SessionSummary](t, ts.do(t, "GET", "/session", nil))
	require.Len(t, list, 1)
	assert.Equal(t, testModel, list[0].Model)
	assert.False(t, list[0].Busy)
}

func TestSendMessage_BadRequests(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.do(t, "POST", "/session/demo/message", SendMessageRequest{Content: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, "POST", "/session/..bad/message", SendMessageRequest{Content: "hi"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrCodeInvalidRequest, decode[ErrorResponse](t, resp).Error.Code)

	req, err := http.NewRequest("POST", ts.URL+"/session/demo/message", strings.NewReader("{"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestGetSession_NotFound(t *testing.T) {
	ts := setupTestServer(t)
	resp := ts.do(t, "GET", "/session/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, ErrCodeNotFound, decode[ErrorResponse](t, resp).Error.Code)
}

func TestSendMessage_ProviderErrors(t *testing.T) {
	ts := setupTestServer(t,
		providertest.Fail(&provider.Error{Kind: provider.KindAuth, Vendor: "test", Model: "model", Status: 401}),
		providertest.Fail(&provider.Error{Kind: provider.KindRateLimit, Vendor: "test", Model: "model", Status: 429}),
	)

	resp := ts.do(t, "POST", "/session/demo/message", SendMessageRequest{Content: "hi"})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decode[ErrorResponse](t, resp)
	assert.Equal(t, ErrCodeProviderError, body.Error.Code)
	assert.Equal(t, true, body.Error.Details["rolled_back"])

	resp = ts.do(t, "POST", "/session/demo/message", SendMessageRequest{Content: "hi"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	msgs := decode[[]*types.Message](t, ts.do(t, "GET", "/session/demo/message", nil))
	assert.Empty(t, msgs)
}

func TestAsyncTurnBusyAndAbort(t *testing.T) {
	ts := setupTestServer(t, providertest.Block())

	resp := ts.do(t, "POST", "/session/demo/message", SendMessageRequest{Content: "hi", Async: true})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, ts.manager.Busy("demo"), "an accepted turn holds the session before the response")

	resp = ts.do(t, "POST", "/session/demo/message", SendMessageRequest{Content: "second", Async: true})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, ErrCodeBusy, decode[ErrorResponse](t, resp).Error.Code)

	resp = ts.do(t, "POST", "/session/demo/message", SendMessageRequest{Content: "again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, ErrCodeBusy, decode[ErrorResponse](t, resp).Error.Code)

	resp = ts.do(t, "DELETE", "/session/demo", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ts.do(t, "POST", "/session/demo/abort", nil)
	assert.True(t, decode[map[string]bool](t, resp)["aborted"])
	require.Eventually(t, func() bool { return !ts.manager.Busy("demo") }, 2*time.Second, 10*time.Millisecond)

	msgs := decode[[]*types.Message](t, ts.do(t, "GET", "/session/demo/message", nil))
	assert.Empty(t, msgs, "an interrupted turn without tool pairs leaves no trace")

	resp = ts.do(t, "POST", "/session/demo/abort", nil)
	assert.False(t, decode[map[string]bool](t, resp)["aborted"])
}

func TestReduceAndDone(t *testing.T) {
	ts := setupTestServer(t,
		providertest.Reply("first answer"),
		providertest.Reply("short summary"),
		providertest.Reply("second answer"),
		providertest.Reply("SUMMARY:\nAll done.\n\nFACTS:\n- the project uses Go\n"),
	)

	resp := ts.do(t, "POST", "/session/demo/reduce", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "empty session cannot be reduced")

	require.Equal(t, http.StatusOK, ts.do(t, "POST", "/session/demo/message", SendMessageRequest{Content: "hi"}).StatusCode)

	resp = ts.do(t, "POST", "/session/demo/reduce", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reduced := decode[TurnResponse](t, resp)
	assert.Equal(t, 1, reduced.Session.Messages)
	assert.NotEmpty(t, reduced.Archive)

	require.Equal(t, http.StatusOK, ts.do(t, "POST", "/session/demo/message", SendMessageRequest{Content: "more"}).StatusCode)

	resp = ts.do(t, "POST", "/session/demo/done", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	done := decode[FinalizeResponse](t, resp)
	assert.Equal(t, "All done.", done.Summary)
	require.Len(t, done.Facts, 1)
	assert.Equal(t, "the project uses Go", done.Facts[0].Text)
	assert.Equal(t, 1, done.Session.Messages)
}

func TestUpdateSession(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.do(t, "PATCH", "/session/demo", UpdateSessionRequest{Role: "reviewer"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "reviewer", decode[SessionSummary](t, resp).Role)

	resp = ts.do(t, "PATCH", "/session/demo", UpdateSessionRequest{Role: "ghost"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, "PATCH", "/session/demo", UpdateSessionRequest{Model: "gpt-4o"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, "PATCH", "/session/demo", UpdateSessionRequest{Model: "other:model"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, "PATCH", "/session/demo", UpdateSessionRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteSession(t *testing.T) {
	ts := setupTestServer(t, providertest.Reply("ok"))
	require.Equal(t, http.StatusOK, ts.do(t, "POST", "/session/demo/message", SendMessageRequest{Content: "hi"}).StatusCode)

	resp := ts.do(t, "DELETE", "/session/demo", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[map[string]bool](t, resp)["success"])

	assert.Equal(t, http.StatusNotFound, ts.do(t, "GET", "/session/demo", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, ts.do(t, "DELETE", "/session/demo", nil).StatusCode)
}

func TestServersAndModels(t *testing.T) {
	ts := setupTestServer(t)

	health := decode[[]toolserver.Health](t, ts.do(t, "GET", "/server", nil))
	require.Len(t, health, 1)
	assert.Equal(t, "fs", health[0].Server)
	assert.Equal(t, toolserver.StateRunning, health[0].State)

	assert.Equal(t, http.StatusNotFound, ts.do(t, "POST", "/server/ghost/restart", nil).StatusCode)

	models := decode[[]provider.ModelInfo](t, ts.do(t, "GET", "/model", nil))
	assert.NotEmpty(t, models)
}

func TestEventStream(t *testing.T) {
	ts := setupTestServer(t, providertest.Reply("streamed"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/event?session=demo", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan StreamEvent, 32)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev StreamEvent
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev) == nil {
				events <- ev
			}
		}
	}()

	first := <-events
	require.Equal(t, event.EventType("server.connected"), first.Type)

	// Events of other sessions are filtered out.
	ts.bus.Publish(event.Event{Type: event.TurnStarted, Data: event.TurnData{Session: "other"}})
	require.Equal(t, http.StatusOK, ts.do(t, "POST", "/session/demo/message", SendMessageRequest{Content: "hi"}).StatusCode)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed early")
			if ev.Type == event.TurnStarted {
				var data event.TurnData
				require.NoError(t, json.Unmarshal(ev.Properties, &data))
				assert.Equal(t, "demo", data.Session)
			}
			if ev.Type == event.TurnFinished {
				var data event.TurnData
				require.NoError(t, json.Unmarshal(ev.Properties, &data))
				assert.Equal(t, "streamed", data.Output)
				return
			}
		case <-deadline:
			t.Fatal("turn.finished not streamed")
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("x: %w", session.ErrNotFound), http.StatusNotFound, ErrCodeNotFound},
		{fmt.Errorf("x: %w", toolserver.ErrServerNotFound), http.StatusNotFound, ErrCodeNotFound},
		{fmt.Errorf("x: %w", session.ErrBusy), http.StatusConflict, ErrCodeBusy},
		{fmt.Errorf("%w after 5s", session.ErrTurnTimeout), http.StatusGatewayTimeout, ErrCodeTimeout},
		{fmt.Errorf("layer a: %w", layer.ErrMaxToolRounds), http.StatusUnprocessableEntity, ErrCodeMaxToolRounds},
		{fmt.Errorf("turn interrupted: %w", context.Canceled), http.StatusConflict, ErrCodeInterrupted},
		{&provider.Error{Kind: provider.KindNetwork}, http.StatusBadGateway, ErrCodeProviderError},
		{&provider.Error{Kind: provider.KindRateLimit}, http.StatusTooManyRequests, ErrCodeRateLimited},
		{&provider.ConfigError{Value: "x", Reason: "bad"}, http.StatusBadRequest, ErrCodeInvalidRequest},
		{session.ValidateName("../x"), http.StatusBadRequest, ErrCodeInvalidRequest},
		{errors.New("boom"), http.StatusInternalServerError, ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, code := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestBelongsTo(t *testing.T) {
	env := func(data any) event.Envelope {
		b, _ := json.Marshal(data)
		return event.Envelope{Data: b}
	}
	assert.True(t, belongsTo(env(event.TurnData{Session: "a"}), "a"))
	assert.False(t, belongsTo(env(event.TurnData{Session: "b"}), "a"))
	assert.True(t, belongsTo(env(event.SessionData{Name: "a"}), "a"))
	assert.False(t, belongsTo(env(event.SessionData{Name: "b"}), "a"))
	assert.True(t, belongsTo(env(event.ServerHealthData{Server: "fs", State: "running"}), "a"))
}
