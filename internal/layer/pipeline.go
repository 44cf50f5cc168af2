// Package layer runs the configurable processing pipeline of a turn. Each
// layer assembles its input, talks to its model with an allowlisted tool set,
// runs tool rounds and composes its output into the session.
package layer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Muvon/octomind-sub000/internal/event"
	"github.com/Muvon/octomind-sub000/internal/logging"
	"github.com/Muvon/octomind-sub000/internal/provider"
	"github.com/Muvon/octomind-sub000/internal/toolserver"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

// DefaultMaxToolRounds bounds tool rounds when the role does not.
const DefaultMaxToolRounds = 25

// ErrMaxToolRounds is returned when the model keeps calling tools past the
// round limit. Pairs completed before the limit stay in the session.
var ErrMaxToolRounds = errors.New("maximum tool rounds reached")

// Resolver resolves "vendor:model" identifiers.
type Resolver interface {
	Resolve(ctx context.Context, id string) (provider.Adapter, error)
}

// Dispatcher lists and runs tools.
type Dispatcher interface {
	Tools(allowed []string) []toolserver.Binding
	DispatchAll(ctx context.Context, calls []types.ToolCall, allowed []string) []types.ToolResult
}

// Transcript is the session as seen by a running turn.
type Transcript interface {
	// Prior returns the history the turn builds on, excluding the turn's
	// own messages.
	Prior() []*types.Message
	// Checkpoints returns cache marker indices into Prior.
	Checkpoints() []int
	// Append commits messages to the session.
	Append(msgs ...*types.Message)
	// Replace substitutes the whole session with msg.
	Replace(msg *types.Message)
}

// Spec selects what a run executes.
type Spec struct {
	Session string
	Role    string
	Config  types.RoleConfig
	// Model is the session's active model, used by layers without an override.
	Model  string
	Layers []types.Layer
	Vars   Vars
}

// LayerResult describes one executed layer.
type LayerResult struct {
	Name   string
	Model  string
	Output string
	Rounds int
	Usage  types.Usage
}

// Result is the outcome of a run. It is returned with partial contents
// alongside an error.
type Result struct {
	Output string
	Usage  types.Usage
	// Pairs counts tool call and result pairs committed to the session.
	Pairs int
	// Replaced is set when a layer replaced the session.
	Replaced bool
	Layers   []LayerResult
}

// Pipeline executes layers.
type Pipeline struct {
	resolver Resolver
	tools    Dispatcher
	sink     event.Sink
	log      zerolog.Logger
}

// New creates a pipeline. A nil sink discards events.
func New(resolver Resolver, tools Dispatcher, sink event.Sink) *Pipeline {
	if sink == nil {
		sink = event.Discard
	}
	return &Pipeline{resolver: resolver, tools: tools, sink: sink, log: logging.Component("layer")}
}

// Run executes the enabled layers in order, carrying each layer's output into
// the next as input.
func (p *Pipeline) Run(ctx context.Context, spec Spec, input string, tr Transcript) (*Result, error) {
	res := &Result{}
	carry := input
	for _, l := range spec.Layers {
		if !l.IsEnabled() {
			p.log.Debug().Str("layer", l.Name).Msg("Skipping disabled layer")
			continue
		}
		lr, err := p.runLayer(ctx, spec, l, carry, tr, res)
		if lr != nil {
			res.Layers = append(res.Layers, *lr)
			res.Usage = res.Usage.Add(lr.Usage)
		}
		if err != nil {
			return res, fmt.Errorf("layer %s: %w", l.Name, err)
		}
		carry = lr.Output
	}
	res.Output = carry
	return res, nil
}

func (p *Pipeline) runLayer(ctx context.Context, spec Spec, l types.Layer, carry string, tr Transcript, res *Result) (*LayerResult, error) {
	model := l.Model
	if model == "" {
		model = spec.Model
	}
	if model == "" {
		model = spec.Config.Model
	}
	lr := &LayerResult{Name: l.Name, Model: model}
	mode := outputMode(l)

	p.sink.Publish(event.Event{Type: event.LayerStarted, Data: event.LayerData{Session: spec.Session, Layer: l.Name, Model: model, Mode: mode}})
	start := time.Now()

	adapter, err := p.resolver.Resolve(ctx, model)
	if err != nil {
		return lr, err
	}

	tpl := l.SystemPrompt
	if tpl == "" {
		tpl = spec.Config.SystemPrompt
	}
	system, err := renderSystem(ctx, tpl, baseVars(spec.Role, l.Name, model, spec.Vars))
	if err != nil {
		return lr, err
	}

	temperature := l.Temperature
	if temperature == 0 {
		temperature = spec.Config.Temperature
	}

	prior := tr.Prior()
	req := &provider.Request{
		System:      system,
		Messages:    assemble(inputMode(l), prior, carry),
		Tools:       p.toolSpecs(l),
		Temperature: temperature,
		MaxTokens:   l.MaxTokens,
	}
	if inputMode(l) == types.InputAll {
		for _, c := range tr.Checkpoints() {
			if c >= 0 && c < len(prior) {
				req.Checkpoints = append(req.Checkpoints, c)
			}
		}
	}

	maxRounds := spec.Config.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}

	commit := func(msgs ...*types.Message) {
		if mode != types.OutputAppend {
			return
		}
		tr.Append(msgs...)
		for _, m := range msgs {
			p.sink.Publish(event.Event{Type: event.MessageAppended, Data: event.MessageData{Session: spec.Session, Layer: l.Name, Message: m}})
		}
	}

	var final *types.Message
	for {
		if err := ctx.Err(); err != nil {
			return lr, err
		}
		resp, err := adapter.Complete(ctx, req)
		if err != nil {
			return lr, err
		}
		lr.Usage = lr.Usage.Add(resp.Usage)

		msg := resp.Message
		if !msg.HasToolCalls() {
			final = msg
			break
		}
		if lr.Rounds >= maxRounds {
			return lr, ErrMaxToolRounds
		}
		lr.Rounds++

		results := p.dispatch(ctx, spec.Session, l, msg.ToolCalls)
		answeredMsg, toolMsgs := pair(msg, results)

		if ctx.Err() != nil {
			// Keep only calls that completed before the interrupt.
			if len(toolMsgs) > 0 {
				commit(append([]*types.Message{answeredMsg}, toolMsgs...)...)
				if mode == types.OutputAppend {
					res.Pairs += len(toolMsgs)
				}
			}
			return lr, ctx.Err()
		}

		commit(append([]*types.Message{answeredMsg}, toolMsgs...)...)
		if mode == types.OutputAppend {
			res.Pairs += len(toolMsgs)
		}
		req.Messages = append(req.Messages, answeredMsg)
		req.Messages = append(req.Messages, toolMsgs...)
	}

	lr.Output = final.Text()
	switch mode {
	case types.OutputAppend:
		commit(final)
	case types.OutputReplace:
		tr.Replace(types.NewTextMessage(types.RoleUser, lr.Output))
		res.Replaced = true
	}

	p.log.Debug().Str("layer", l.Name).Str("model", model).Int("rounds", lr.Rounds).Dur("took", time.Since(start)).Msg("Layer finished")
	p.sink.Publish(event.Event{Type: event.LayerFinished, Data: event.LayerData{
		Session: spec.Session, Layer: l.Name, Model: model, Output: lr.Output, Mode: mode, Usage: lr.Usage,
	}})
	return lr, nil
}

// toolSpecs lists the tools the layer may call.
func (p *Pipeline) toolSpecs(l types.Layer) []provider.ToolSpec {
	if len(l.Servers) == 0 || p.tools == nil {
		return nil
	}
	var specs []provider.ToolSpec
	for _, b := range p.tools.Tools(l.Servers) {
		if !toolAllowed(l.AllowedTools, b.Tool.Name) {
			continue
		}
		specs = append(specs, provider.ToolSpec{Name: b.Tool.Name, Description: b.Tool.Description, Parameters: b.Tool.Parameters})
	}
	return specs
}

// dispatch runs the calls the layer may make concurrently and rejects the
// rest. Results follow call order.
func (p *Pipeline) dispatch(ctx context.Context, session string, l types.Layer, calls []types.ToolCall) []types.ToolResult {
	allowed := make(map[string]bool)
	for _, s := range p.toolSpecs(l) {
		allowed[s.Name] = true
	}

	results := make([]types.ToolResult, len(calls))
	var (
		runnable []types.ToolCall
		index    []int
	)
	for i, c := range calls {
		p.sink.Publish(event.Event{Type: event.ToolStarted, Data: event.ToolData{Session: session, Layer: l.Name, Call: c}})
		if !allowed[c.Name] {
			results[i] = types.ToolResult{
				CallID: c.ID,
				Status: types.ToolStatusError,
				Error:  fmt.Sprintf("tool %s is not available in this context", c.Name),
			}
			continue
		}
		runnable = append(runnable, c)
		index = append(index, i)
	}
	if len(runnable) > 0 {
		for j, r := range p.tools.DispatchAll(ctx, runnable, l.Servers) {
			results[index[j]] = r
		}
	}
	for i, c := range calls {
		r := results[i]
		p.sink.Publish(event.Event{Type: event.ToolFinished, Data: event.ToolData{Session: session, Layer: l.Name, Call: c, Result: &r}})
	}
	return results
}

// pair builds the assistant message restricted to answered calls and the
// tool messages answering them, in call order.
func pair(msg *types.Message, results []types.ToolResult) (*types.Message, []*types.Message) {
	out := msg.Clone()
	out.ToolCalls = out.ToolCalls[:0]
	var toolMsgs []*types.Message
	for i, r := range results {
		if !r.Answered() {
			continue
		}
		tc := msg.ToolCalls[i].Clone()
		tc.Server = r.Server
		out.ToolCalls = append(out.ToolCalls, tc)
		toolMsgs = append(toolMsgs, types.NewToolMessage(r))
	}
	return out, toolMsgs
}
