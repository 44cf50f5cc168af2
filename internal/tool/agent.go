package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Muvon/octomind-sub000/internal/provider"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

// AgentPrefix starts the name of every agent tool.
const AgentPrefix = "agent_"

// Completer runs a single completion for an agent.
type Completer interface {
	Complete(ctx context.Context, model, system, prompt string, temperature float64) (string, error)
}

// AgentOptions configures the agent server.
type AgentOptions struct {
	Agents    []types.AgentDefinition
	Completer Completer
	// DefaultModel is used by agents that do not name a model.
	DefaultModel string
}

// NewAgent creates the agent server with one agent_<name> tool per definition.
func NewAgent(opts AgentOptions) *Server {
	s := NewServer("agent")
	for _, def := range opts.Agents {
		a := &agent{def: def, completer: opts.Completer, model: def.Model}
		if a.model == "" {
			a.model = opts.DefaultModel
		}
		desc := def.Description
		if desc == "" {
			desc = fmt.Sprintf("Delegates a self-contained task to the %s agent and returns its answer.", def.Name)
		}
		s.AddTool(mcp.NewTool(AgentPrefix+def.Name,
			mcp.WithDescription(desc),
			mcp.WithString("task",
				mcp.Required(),
				mcp.Description("The task for the agent, including all context it needs"),
			),
		), a.handle)
	}
	return s
}

type agent struct {
	def       types.AgentDefinition
	completer Completer
	model     string
}

func (a *agent) handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params struct {
		Task string `json:"task"`
	}
	if err := bind(req, &params); err != nil {
		return failure(err)
	}
	if strings.TrimSpace(params.Task) == "" {
		return failure(errors.New("task is required"))
	}
	if a.completer == nil {
		return failure(errors.New("no completer configured for agents"))
	}
	out, err := a.completer.Complete(ctx, a.model, a.def.SystemPrompt, params.Task, a.def.Temperature)
	if err != nil {
		// Cancellation must reach the router as an error, not a tool result.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return failure(fmt.Errorf("agent %s failed: %w", a.def.Name, err))
	}
	return mcp.NewToolResultText(out), nil
}

// ProviderCompleter completes agent tasks through a provider registry.
type ProviderCompleter struct {
	Registry *provider.Registry
}

// Complete resolves the model and returns the assistant text.
func (p ProviderCompleter) Complete(ctx context.Context, model, system, prompt string, temperature float64) (string, error) {
	if p.Registry == nil {
		return "", errors.New("provider registry not set")
	}
	adapter, err := p.Registry.Resolve(ctx, model)
	if err != nil {
		return "", err
	}
	resp, err := adapter.Complete(ctx, &provider.Request{
		System:      system,
		Messages:    []*types.Message{types.NewTextMessage(types.RoleUser, prompt)},
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Message.Text(), nil
}
