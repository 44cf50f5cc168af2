package layer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muvon/octomind-sub000/internal/event"
	"github.com/Muvon/octomind-sub000/internal/provider"
	"github.com/Muvon/octomind-sub000/internal/provider/providertest"
	"github.com/Muvon/octomind-sub000/internal/toolserver"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

type memTranscript struct {
	prior       []*types.Message
	checkpoints []int
	appended    []*types.Message
	replaced    *types.Message
}

func (m *memTranscript) Prior() []*types.Message { return m.prior }
func (m *memTranscript) Checkpoints() []int      { return m.checkpoints }
func (m *memTranscript) Append(msgs ...*types.Message) {
	m.appended = append(m.appended, msgs...)
}
func (m *memTranscript) Replace(msg *types.Message) { m.replaced = msg }

type fakeTools struct {
	mu       sync.Mutex
	bindings []toolserver.Binding
	run      func(ctx context.Context, call types.ToolCall) types.ToolResult
	calls    []types.ToolCall
}

func (f *fakeTools) Tools(allowed []string) []toolserver.Binding {
	return f.bindings
}

func (f *fakeTools) DispatchAll(ctx context.Context, calls []types.ToolCall, allowed []string) []types.ToolResult {
	f.mu.Lock()
	f.calls = append(f.calls, calls...)
	f.mu.Unlock()
	out := make([]types.ToolResult, len(calls))
	for i, c := range calls {
		out[i] = f.run(ctx, c)
	}
	return out
}

func okResult(call types.ToolCall, content string) types.ToolResult {
	return types.ToolResult{CallID: call.ID, Server: "fs", Status: types.ToolStatusOK, Success: true, Content: content}
}

func newFakeTools(names ...string) *fakeTools {
	f := &fakeTools{run: func(_ context.Context, c types.ToolCall) types.ToolResult {
		return okResult(c, "result of "+c.Name)
	}}
	for _, n := range names {
		f.bindings = append(f.bindings, toolserver.Binding{Server: "fs", Tool: types.ToolDescriptor{Name: n, Description: n}})
	}
	return f
}

const model = "test:model"

func baseSpec(layers ...types.Layer) Spec {
	return Spec{
		Session: "s1",
		Role:    "developer",
		Config:  types.RoleConfig{Model: model, SystemPrompt: "You are {{.role}}."},
		Layers:  layers,
	}
}

func TestRunDefaultLayerAppendsReply(t *testing.T) {
	adapter := providertest.New(model, providertest.Reply("hi there"))
	p := New(providertest.Resolver{model: adapter}, nil, nil)
	tr := &memTranscript{}

	spec := baseSpec(DefaultLayer(types.RoleConfig{}))
	res, err := p.Run(context.Background(), spec, "hello", tr)
	require.NoError(t, err)

	assert.Equal(t, "hi there", res.Output)
	require.Len(t, tr.appended, 1)
	assert.Equal(t, types.RoleAssistant, tr.appended[0].Role)
	assert.Equal(t, 1, res.Usage.Requests)

	reqs := adapter.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "You are developer.", reqs[0].System)
	require.Len(t, reqs[0].Messages, 1)
	assert.Equal(t, "hello", reqs[0].Messages[0].Text())
	assert.Empty(t, reqs[0].Tools)
}

func TestRunToolRoundCommitsPairs(t *testing.T) {
	call := types.ToolCall{ID: "c1", Name: "list_files", Parameters: map[string]any{"path": "."}}
	adapter := providertest.New(model, providertest.Call(call), providertest.Reply("two files"))
	tools := newFakeTools("list_files")
	sink := &recorder{}
	p := New(providertest.Resolver{model: adapter}, tools, sink)
	tr := &memTranscript{}

	spec := baseSpec(types.Layer{Name: "main", Servers: []string{"fs"}})
	res, err := p.Run(context.Background(), spec, "list then summarize", tr)
	require.NoError(t, err)

	assert.Equal(t, "two files", res.Output)
	assert.Equal(t, 1, res.Pairs)
	require.Len(t, tr.appended, 3)
	assert.Equal(t, "fs", tr.appended[0].ToolCalls[0].Server)
	assert.Equal(t, types.RoleTool, tr.appended[1].Role)
	assert.Equal(t, "c1", tr.appended[1].ToolCallID)
	assert.Equal(t, "result of list_files", tr.appended[1].Text())
	assert.Equal(t, "two files", tr.appended[2].Text())

	reqs := adapter.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "list_files", reqs[0].Tools[0].Name)
	require.Len(t, reqs[1].Messages, 3)
	assert.Equal(t, types.RoleTool, reqs[1].Messages[2].Role)

	assert.Equal(t, []event.EventType{
		event.LayerStarted, event.ToolStarted, event.ToolFinished,
		event.MessageAppended, event.MessageAppended, event.MessageAppended, event.LayerFinished,
	}, sink.types())
}

func TestRunRejectsToolsOutsideAllowlist(t *testing.T) {
	call := types.ToolCall{ID: "c1", Name: "write_file"}
	adapter := providertest.New(model, providertest.Call(call), providertest.Reply("ok"))
	tools := newFakeTools("read_file", "write_file")
	p := New(providertest.Resolver{model: adapter}, tools, nil)
	tr := &memTranscript{}

	spec := baseSpec(types.Layer{Name: "main", Servers: []string{"fs"}, AllowedTools: []string{"read_*"}})
	_, err := p.Run(context.Background(), spec, "go", tr)
	require.NoError(t, err)

	reqs := adapter.Requests()
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "read_file", reqs[0].Tools[0].Name)
	assert.Empty(t, tools.calls)

	require.Len(t, tr.appended, 3)
	assert.Equal(t, "Error: tool write_file is not available in this context", tr.appended[1].Text())
}

func TestRunMaxToolRounds(t *testing.T) {
	c1 := types.ToolCall{ID: "c1", Name: "list_files"}
	c2 := types.ToolCall{ID: "c2", Name: "list_files"}
	adapter := providertest.New(model, providertest.Call(c1), providertest.Call(c2))
	p := New(providertest.Resolver{model: adapter}, newFakeTools("list_files"), nil)
	tr := &memTranscript{}

	spec := baseSpec(types.Layer{Name: "main", Servers: []string{"fs"}})
	spec.Config.MaxToolRounds = 1
	res, err := p.Run(context.Background(), spec, "loop", tr)
	require.ErrorIs(t, err, ErrMaxToolRounds)
	assert.Equal(t, 1, res.Pairs)
	require.Len(t, tr.appended, 2)
	assert.Equal(t, "c1", tr.appended[1].ToolCallID)
}

func TestRunCancelKeepsAnsweredPairs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fast := types.ToolCall{ID: "fast", Name: "list_files"}
	slow := types.ToolCall{ID: "slow", Name: "shell"}
	adapter := providertest.New(model, providertest.Call(fast, slow))
	tools := newFakeTools("list_files", "shell")
	tools.run = func(_ context.Context, c types.ToolCall) types.ToolResult {
		if c.ID == "slow" {
			cancel()
			return types.ToolResult{CallID: c.ID, Status: types.ToolStatusCancelled, Error: "cancelled"}
		}
		return okResult(c, "listed")
	}
	p := New(providertest.Resolver{model: adapter}, tools, nil)
	tr := &memTranscript{}

	spec := baseSpec(types.Layer{Name: "main", Servers: []string{"fs"}})
	res, err := p.Run(ctx, spec, "go", tr)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Pairs)

	require.Len(t, tr.appended, 2)
	require.Len(t, tr.appended[0].ToolCalls, 1)
	assert.Equal(t, "fast", tr.appended[0].ToolCalls[0].ID)
	assert.Equal(t, "fast", tr.appended[1].ToolCallID)
}

func TestRunCancelWithNoAnsweredCallsCommitsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	call := types.ToolCall{ID: "c1", Name: "shell"}
	adapter := providertest.New(model, providertest.Call(call))
	tools := newFakeTools("shell")
	tools.run = func(_ context.Context, c types.ToolCall) types.ToolResult {
		cancel()
		return types.ToolResult{CallID: c.ID, Status: types.ToolStatusCancelled, Error: "cancelled"}
	}
	p := New(providertest.Resolver{model: adapter}, tools, nil)
	tr := &memTranscript{}

	spec := baseSpec(types.Layer{Name: "main", Servers: []string{"fs"}})
	res, err := p.Run(ctx, spec, "go", tr)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Pairs)
	assert.Empty(t, tr.appended)
}

func TestRunProviderErrorCommitsNothing(t *testing.T) {
	perr := &provider.Error{Kind: provider.KindAuth, Vendor: "test", Model: "model", Status: 401}
	adapter := providertest.New(model, providertest.Fail(perr))
	p := New(providertest.Resolver{model: adapter}, nil, nil)
	tr := &memTranscript{}

	_, err := p.Run(context.Background(), baseSpec(DefaultLayer(types.RoleConfig{})), "hi", tr)
	require.Error(t, err)
	assert.True(t, provider.IsKind(err, provider.KindAuth))
	assert.Contains(t, err.Error(), "layer responder")
	assert.Empty(t, tr.appended)
}

func TestRunOutputModes(t *testing.T) {
	refiner := providertest.New("test:cheap", providertest.Reply("refined question"))
	answerer := providertest.New(model, providertest.Reply("answer"))
	compactor := providertest.New("test:compact", providertest.Reply("short history"))
	p := New(providertest.Resolver{model: answerer, "test:cheap": refiner, "test:compact": compactor}, nil, nil)
	tr := &memTranscript{prior: []*types.Message{types.NewTextMessage(types.RoleUser, "earlier")}}

	disabled := false
	spec := baseSpec(
		types.Layer{Name: "refine", Model: "test:cheap", InputMode: types.InputLast, OutputMode: types.OutputNone},
		types.Layer{Name: "skipped", Model: "test:missing", Enabled: &disabled},
		types.Layer{Name: "answer", InputMode: types.InputAll, OutputMode: types.OutputAppend},
		types.Layer{Name: "compact", Model: "test:compact", InputMode: types.InputSummary, OutputMode: types.OutputReplace},
	)
	res, err := p.Run(context.Background(), spec, "raw question", tr)
	require.NoError(t, err)

	require.Len(t, res.Layers, 3)
	assert.Equal(t, "test:cheap", res.Layers[0].Model)
	assert.Equal(t, model, res.Layers[1].Model)
	assert.Equal(t, "short history", res.Output)
	assert.True(t, res.Replaced)

	refineReq := refiner.Requests()[0]
	require.Len(t, refineReq.Messages, 1)
	assert.Equal(t, "raw question", refineReq.Messages[0].Text())

	mainReq := answerer.Requests()[0]
	require.Len(t, mainReq.Messages, 2)
	assert.Equal(t, "earlier", mainReq.Messages[0].Text())
	assert.Equal(t, "refined question", mainReq.Messages[1].Text())

	compactReq := compactor.Requests()[0]
	require.Len(t, compactReq.Messages, 1)
	assert.Contains(t, compactReq.Messages[0].Text(), "Conversation so far:\nuser: earlier")
	assert.Contains(t, compactReq.Messages[0].Text(), "Current input:\nanswer")

	require.Len(t, tr.appended, 1)
	assert.Equal(t, "answer", tr.appended[0].Text())
	require.NotNil(t, tr.replaced)
	assert.Equal(t, types.RoleUser, tr.replaced.Role)
	assert.Equal(t, "short history", tr.replaced.Text())
}

func TestRunPassesCheckpointsInsidePrior(t *testing.T) {
	adapter := providertest.New(model, providertest.Reply("ok"))
	p := New(providertest.Resolver{model: adapter}, nil, nil)
	tr := &memTranscript{
		prior: []*types.Message{
			types.NewTextMessage(types.RoleUser, "a"),
			types.NewTextMessage(types.RoleAssistant, "b"),
		},
		checkpoints: []int{1, 5},
	}
	_, err := p.Run(context.Background(), baseSpec(DefaultLayer(types.RoleConfig{})), "c", tr)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, adapter.Requests()[0].Checkpoints)
}

func TestRunModelPrecedence(t *testing.T) {
	active := providertest.New("test:active", providertest.Reply("from active"))
	p := New(providertest.Resolver{"test:active": active}, nil, nil)

	spec := baseSpec(DefaultLayer(types.RoleConfig{}))
	spec.Model = "test:active"
	res, err := p.Run(context.Background(), spec, "hi", &memTranscript{})
	require.NoError(t, err)
	assert.Equal(t, "from active", res.Output)

	spec.Layers[0].Model = "test:unknown"
	_, err = p.Run(context.Background(), spec, "hi", &memTranscript{})
	var cerr *provider.ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestRunRendersTemplateVars(t *testing.T) {
	adapter := providertest.New(model, providertest.Reply("ok"))
	p := New(providertest.Resolver{model: adapter}, nil, nil)

	spec := baseSpec(types.Layer{Name: "main", SystemPrompt: "{{.layer}} on {{.model}}. Known: {{.memory}}"})
	spec.Vars = Vars{"memory": "- uses Go"}
	_, err := p.Run(context.Background(), spec, "hi", &memTranscript{})
	require.NoError(t, err)
	assert.Equal(t, "main on test:model. Known: - uses Go", adapter.Requests()[0].System)
}

func TestRunTemplateError(t *testing.T) {
	adapter := providertest.New(model, providertest.Reply("ok"))
	p := New(providertest.Resolver{model: adapter}, nil, nil)

	spec := baseSpec(types.Layer{Name: "main", SystemPrompt: "{{.role"})
	_, err := p.Run(context.Background(), spec, "hi", &memTranscript{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "render system prompt")
	assert.Equal(t, 1, adapter.Remaining())
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(e event.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []event.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
