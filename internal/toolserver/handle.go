package toolserver

import (
	"context"
	"sync"
	"time"

	"github.com/Muvon/octomind-sub000/internal/tool"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

// backend executes envelopes for one server.
type backend interface {
	Call(ctx context.Context, env types.CallEnvelope) (types.ResultEnvelope, error)
	Health() Health
	Close() error
}

// Handle is a registered server. Handles are immutable once published;
// only the backend's health changes.
type Handle struct {
	def     types.ServerDefinition
	backend backend
	tools   map[string]types.ToolDescriptor
	order   []string
}

// Name returns the server name.
func (h *Handle) Name() string { return h.def.Name }

// Definition returns the server definition.
func (h *Handle) Definition() types.ServerDefinition { return h.def }

// Has reports whether the server exposes the tool.
func (h *Handle) Has(name string) bool {
	_, ok := h.tools[name]
	return ok
}

// Tools lists the exposed tools in server order.
func (h *Handle) Tools() []types.ToolDescriptor {
	out := make([]types.ToolDescriptor, 0, len(h.order))
	for _, name := range h.order {
		out = append(out, h.tools[name])
	}
	return out
}

// Health returns the current health of the server.
func (h *Handle) Health() Health {
	hl := h.backend.Health()
	hl.Server = h.def.Name
	hl.Kind = string(h.def.Kind)
	hl.Tools = len(h.order)
	return hl
}

// setTools installs descriptors, restricted to the declared names when the
// definition lists any. Declared names missing from descs get a permissive schema.
func (h *Handle) setTools(descs []types.ToolDescriptor) {
	h.tools = make(map[string]types.ToolDescriptor)
	h.order = nil
	byName := make(map[string]types.ToolDescriptor, len(descs))
	for _, d := range descs {
		byName[d.Name] = d
	}
	if len(h.def.Tools) == 0 {
		for _, d := range descs {
			if _, dup := h.tools[d.Name]; dup {
				continue
			}
			h.tools[d.Name] = d
			h.order = append(h.order, d.Name)
		}
		return
	}
	for _, name := range h.def.Tools {
		if _, dup := h.tools[name]; dup {
			continue
		}
		d, ok := byName[name]
		if !ok {
			d = permissiveDescriptor(name)
		}
		h.tools[name] = d
		h.order = append(h.order, name)
	}
}

func permissiveDescriptor(name string) types.ToolDescriptor {
	return types.ToolDescriptor{
		Name:       name,
		Parameters: map[string]any{"type": "object", "additionalProperties": true},
	}
}

// builtinBackend runs a tool.Server in-process.
type builtinBackend struct {
	srv   *tool.Server
	since time.Time
}

func newBuiltinBackend(srv *tool.Server) *builtinBackend {
	return &builtinBackend{srv: srv, since: time.Now()}
}

func (b *builtinBackend) Call(ctx context.Context, env types.CallEnvelope) (types.ResultEnvelope, error) {
	out, err := b.srv.Call(ctx, env.ToolName, env.Parameters)
	if err != nil {
		if ctx.Err() != nil {
			return types.ResultEnvelope{}, ctx.Err()
		}
		return types.ResultEnvelope{CallID: env.CallID, Error: err.Error()}, nil
	}
	return types.ResultEnvelope{CallID: env.CallID, Success: true, Content: out}, nil
}

func (b *builtinBackend) Health() Health {
	return Health{State: StateRunning, Since: b.since}
}

func (b *builtinBackend) Close() error { return nil }

// healthTracker records state transitions for remote backends.
type healthTracker struct {
	mu       sync.Mutex
	state    State
	err      string
	since    time.Time
	restarts int
	onChange func(Health)
}

func newHealthTracker(initial State, onChange func(Health)) *healthTracker {
	return &healthTracker{state: initial, since: time.Now(), onChange: onChange}
}

func (t *healthTracker) set(state State, err error) {
	t.mu.Lock()
	changed := t.state != state
	t.state = state
	if err != nil {
		t.err = err.Error()
	} else if state == StateRunning {
		t.err = ""
	}
	if changed {
		t.since = time.Now()
	}
	h := t.snapshotLocked()
	t.mu.Unlock()
	if changed && t.onChange != nil {
		t.onChange(h)
	}
}

func (t *healthTracker) restarted() {
	t.mu.Lock()
	t.restarts++
	t.mu.Unlock()
}

func (t *healthTracker) get() Health {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *healthTracker) snapshotLocked() Health {
	return Health{State: t.state, Error: t.err, Since: t.since, Restarts: t.restarts}
}
