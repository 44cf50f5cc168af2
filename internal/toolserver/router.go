package toolserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

// DefaultToolTimeout applies when neither the server nor the router sets one.
const DefaultToolTimeout = 2 * time.Minute

// Router dispatches tool calls to registered servers.
type Router struct {
	reg     *Registry
	timeout time.Duration
}

// NewRouter creates a router over reg. A zero timeout uses DefaultToolTimeout.
func NewRouter(reg *Registry, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	return &Router{reg: reg, timeout: timeout}
}

// WithTimeout returns a router sharing the registry with a different
// fallback timeout. A zero timeout returns rt unchanged.
func (rt *Router) WithTimeout(timeout time.Duration) *Router {
	if timeout <= 0 {
		return rt
	}
	return &Router{reg: rt.reg, timeout: timeout}
}

// Registry returns the underlying registry.
func (rt *Router) Registry() *Registry { return rt.reg }

// Resolve is Registry.Resolve.
func (rt *Router) Resolve(toolName string, allowed []string) (*Handle, error) {
	return rt.reg.Resolve(toolName, allowed)
}

// Tools is Registry.Tools.
func (rt *Router) Tools(allowed []string) []Binding {
	return rt.reg.Tools(allowed)
}

// Dispatch runs one call on h. It never fails: transport problems, tool
// errors, timeouts and cancellation all come back as a ToolResult.
func (rt *Router) Dispatch(ctx context.Context, call types.ToolCall, h *Handle) types.ToolResult {
	timeout := h.def.CallTimeout()
	if timeout <= 0 {
		timeout = rt.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := call.Parameters
	if params == nil {
		params = map[string]any{}
	}
	start := time.Now()
	env, err := h.backend.Call(callCtx, types.CallEnvelope{
		ToolName:   call.Name,
		CallID:     call.ID,
		Parameters: params,
	})

	res := types.ToolResult{CallID: call.ID, Server: h.def.Name, Duration: time.Since(start)}
	switch {
	case ctx.Err() != nil:
		res.Status = types.ToolStatusCancelled
		res.Error = "cancelled"
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		res.Status = types.ToolStatusTimeout
		res.Error = fmt.Sprintf("tool %s timed out after %v", call.Name, timeout)
	case err != nil:
		res.Status = types.ToolStatusError
		res.Error = err.Error()
	case !env.Success:
		res.Status = types.ToolStatusError
		res.Error = env.Error
		if res.Error == "" {
			res.Error = "tool failed"
		}
	default:
		res.Status = types.ToolStatusOK
		res.Success = true
		res.Content = env.Content
	}
	return res
}

// DispatchAll resolves and runs calls concurrently. Results are returned in
// the order of calls regardless of completion order.
func (rt *Router) DispatchAll(ctx context.Context, calls []types.ToolCall, allowed []string) []types.ToolResult {
	results := make([]types.ToolResult, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			results[i] = rt.dispatchOne(ctx, call, allowed)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (rt *Router) dispatchOne(ctx context.Context, call types.ToolCall, allowed []string) types.ToolResult {
	h, err := rt.reg.Resolve(call.Name, allowed)
	if err != nil {
		status := types.ToolStatusError
		if ctx.Err() != nil {
			status = types.ToolStatusCancelled
		}
		return types.ToolResult{CallID: call.ID, Status: status, Error: err.Error()}
	}
	return rt.Dispatch(ctx, call, h)
}
