// Package providertest provides a scripted adapter for exercising code that
// talks to models without a network.
package providertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Muvon/octomind-sub000/internal/provider"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

// ErrExhausted is returned once every scripted step has been consumed.
var ErrExhausted = errors.New("script exhausted")

// Step produces one completion.
type Step func(ctx context.Context, req *provider.Request) (*provider.Response, error)

// Reply answers with an assistant text message.
func Reply(text string) Step {
	return func(context.Context, *provider.Request) (*provider.Response, error) {
		return respond(types.NewTextMessage(types.RoleAssistant, text)), nil
	}
}

// Call answers with an assistant message requesting the given tools.
func Call(calls ...types.ToolCall) Step {
	return func(context.Context, *provider.Request) (*provider.Response, error) {
		msg := &types.Message{Role: types.RoleAssistant}
		for _, c := range calls {
			msg.ToolCalls = append(msg.ToolCalls, c.Clone())
		}
		return respond(msg), nil
	}
}

// Fail answers with err.
func Fail(err error) Step {
	return func(context.Context, *provider.Request) (*provider.Response, error) {
		return nil, err
	}
}

// Block waits for the request context to end.
func Block() Step {
	return func(ctx context.Context, _ *provider.Request) (*provider.Response, error) {
		<-ctx.Done()
		return nil, &provider.Error{Kind: provider.KindCancelled, Vendor: "test", Err: ctx.Err()}
	}
}

func respond(msg *types.Message) *provider.Response {
	return &provider.Response{
		Message: msg,
		Usage:   types.Usage{InputTokens: 10, OutputTokens: 5, Requests: 1},
	}
}

// Adapter replays steps in order and records every request it receives.
type Adapter struct {
	ModelName string
	ModelInfo provider.ModelInfo

	mu       sync.Mutex
	steps    []Step
	requests []*provider.Request
}

// New creates an adapter for model that replays steps.
func New(model string, steps ...Step) *Adapter {
	return &Adapter{
		ModelName: model,
		ModelInfo: provider.ModelInfo{Vendor: "test", ID: model, ContextWindow: 100000, MaxOutput: 4096},
		steps:     steps,
	}
}

// Push appends steps to the script.
func (a *Adapter) Push(steps ...Step) {
	a.mu.Lock()
	a.steps = append(a.steps, steps...)
	a.mu.Unlock()
}

// Requests returns copies of the requests received so far.
func (a *Adapter) Requests() []*provider.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*provider.Request(nil), a.requests...)
}

// Remaining returns the number of unconsumed steps.
func (a *Adapter) Remaining() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.steps)
}

func (a *Adapter) Vendor() string           { return "test" }
func (a *Adapter) Model() string            { return a.ModelName }
func (a *Adapter) Info() provider.ModelInfo { return a.ModelInfo }

func (a *Adapter) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	a.mu.Lock()
	snapshot := *req
	snapshot.Messages = make([]*types.Message, len(req.Messages))
	for i, m := range req.Messages {
		snapshot.Messages[i] = m.Clone()
	}
	snapshot.Checkpoints = append([]int(nil), req.Checkpoints...)
	a.requests = append(a.requests, &snapshot)
	if len(a.steps) == 0 {
		a.mu.Unlock()
		return nil, &provider.Error{Kind: provider.KindBadResponse, Vendor: "test", Model: a.ModelName, Err: ErrExhausted}
	}
	step := a.steps[0]
	a.steps = a.steps[1:]
	a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &provider.Error{Kind: provider.KindCancelled, Vendor: "test", Model: a.ModelName, Err: err}
	}
	return step(ctx, req)
}

func (a *Adapter) Encode(req *provider.Request) ([]byte, error) {
	return json.Marshal(req)
}

// Resolver maps identifiers to scripted adapters.
type Resolver map[string]*Adapter

func (r Resolver) Resolve(_ context.Context, id string) (provider.Adapter, error) {
	a, ok := r[id]
	if !ok {
		return nil, &provider.ConfigError{Value: id, Reason: "no scripted adapter"}
	}
	return a, nil
}

// Factory returns a provider.Factory that hands out adapters from r, for
// tests that go through a provider.Registry.
func (r Resolver) Factory(vendor string) provider.Factory {
	return func(_ context.Context, modelName string, _ provider.ModelInfo, _ types.ProviderConfig) (provider.Adapter, error) {
		a, ok := r[vendor+":"+modelName]
		if !ok {
			return nil, fmt.Errorf("no scripted adapter for %s:%s", vendor, modelName)
		}
		return a, nil
	}
}
