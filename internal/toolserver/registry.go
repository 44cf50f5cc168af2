// Package toolserver owns the tool server registry and routes tool calls to
// builtin, HTTP and stdin-pipe servers.
package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/Muvon/octomind-sub000/internal/event"
	"github.com/Muvon/octomind-sub000/internal/logging"
	"github.com/Muvon/octomind-sub000/internal/tool"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

// DefaultDiscoveryTimeout bounds a tools/list request at registration.
const DefaultDiscoveryTimeout = 10 * time.Second

// Options configures a Registry.
type Options struct {
	// Environment is passed to builtin servers.
	Environment tool.Environment
	// HTTPClient is used by http transports.
	HTTPClient *http.Client
	// Process tunes stdin-pipe supervision.
	Process ProcessOptions
	// DiscoveryTimeout bounds tool discovery; defaults to DefaultDiscoveryTimeout.
	DiscoveryTimeout time.Duration
	// Sink receives server.health events.
	Sink event.Sink
}

// Registry holds the registered servers. Registration is serialized by one
// lock; readers use the atomically published snapshot.
type Registry struct {
	mu   sync.Mutex
	opts Options
	snap atomic.Pointer[snapshot]
	log  zerolog.Logger
}

type snapshot struct {
	handles map[string]*Handle
	order   []string
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.DiscoveryTimeout <= 0 {
		opts.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if opts.Sink == nil {
		opts.Sink = event.Discard
	}
	r := &Registry{opts: opts, log: logging.Component("toolserver")}
	r.snap.Store(&snapshot{handles: map[string]*Handle{}})
	return r
}

// Validate checks a definition without registering it.
func Validate(def types.ServerDefinition) error {
	if def.Name == "" {
		return &DefinitionError{Field: "name", Reason: "must not be empty"}
	}
	if def.Timeout < 0 {
		return &DefinitionError{Server: def.Name, Field: "timeout", Value: fmt.Sprint(def.Timeout), Reason: "must not be negative"}
	}
	switch def.Kind {
	case types.ServerDeveloper, types.ServerFilesystem, types.ServerAgent:
		return nil
	case types.ServerExternal:
	default:
		return &DefinitionError{Server: def.Name, Field: "kind", Value: string(def.Kind), Reason: "expected developer, filesystem, agent or external"}
	}
	switch def.Transport {
	case types.TransportHTTP:
		if def.URL == "" {
			return &DefinitionError{Server: def.Name, Field: "url", Reason: "required for http transport"}
		}
	case types.TransportStdin:
		if def.Command == "" {
			return &DefinitionError{Server: def.Name, Field: "command", Reason: "required for stdin transport"}
		}
		if def.Framing != "" && def.Framing != types.FramingNewline && def.Framing != types.FramingLength {
			return &DefinitionError{Server: def.Name, Field: "framing", Value: string(def.Framing), Reason: "expected newline or length"}
		}
	case types.TransportMCP:
		if (def.Command == "") == (def.URL == "") {
			return &DefinitionError{Server: def.Name, Field: "transport", Value: string(def.Transport), Reason: "set exactly one of command or url"}
		}
	default:
		return &DefinitionError{Server: def.Name, Field: "transport", Value: string(def.Transport), Reason: "expected http, stdin or mcp"}
	}
	return nil
}

// Register validates def and adds the server. External servers that do not
// declare their tools are asked for them with a tools/list call.
func (r *Registry) Register(ctx context.Context, def types.ServerDefinition) (*Handle, error) {
	if err := Validate(def); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkNew(def.Name); err != nil {
		return nil, err
	}

	h := &Handle{def: def}
	onHealth := r.healthNotifier(def.Name)

	switch {
	case def.Kind.Builtin():
		srv, err := tool.NewBuiltin(def.Kind, def.Name, r.opts.Environment)
		if err != nil {
			return nil, err
		}
		if err := checkDeclared(def, srv.Descriptors()); err != nil {
			return nil, err
		}
		h.backend = newBuiltinBackend(srv)
		h.setTools(srv.Descriptors())
	case def.Transport == types.TransportHTTP:
		h.backend = newHTTPBackend(def, r.opts.HTTPClient, onHealth)
		r.discover(ctx, h)
	case def.Transport == types.TransportMCP:
		h.backend = newMCPBackend(def, r.opts.HTTPClient, onHealth)
		r.discover(ctx, h)
	default:
		opts := r.opts.Process
		opts.OnHealth = onHealth
		h.backend = NewProcess(def, opts)
		r.discover(ctx, h)
	}

	r.publish(h)
	r.log.Info().Str("server", def.Name).Str("kind", string(def.Kind)).Int("tools", len(h.order)).Msg("Registered tool server")
	return h, nil
}

// RegisterServer adds an in-process server under def.Name.
func (r *Registry) RegisterServer(def types.ServerDefinition, srv *tool.Server) (*Handle, error) {
	if def.Name == "" {
		def.Name = srv.Name()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkNew(def.Name); err != nil {
		return nil, err
	}
	if err := checkDeclared(def, srv.Descriptors()); err != nil {
		return nil, err
	}
	h := &Handle{def: def, backend: newBuiltinBackend(srv)}
	h.setTools(srv.Descriptors())
	r.publish(h)
	return h, nil
}

// checkDeclared rejects declared tool names an in-process server does not
// implement.
func checkDeclared(def types.ServerDefinition, descs []types.ToolDescriptor) error {
	known := make(map[string]bool, len(descs))
	for _, d := range descs {
		known[d.Name] = true
	}
	var missing []string
	for _, name := range def.Tools {
		if !known[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &DefinitionError{
		Server: def.Name,
		Field:  "tools",
		Value:  strings.Join(missing, ", "),
		Reason: fmt.Sprintf("not implemented by %s server", def.Kind),
	}
}

func (r *Registry) checkNew(name string) error {
	s := r.snap.Load()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.handles[name]; ok {
		return &DefinitionError{Server: name, Field: "name", Value: name, Reason: "already registered"}
	}
	return nil
}

// publish installs a new snapshot containing h. Callers hold r.mu.
func (r *Registry) publish(h *Handle) {
	old := r.snap.Load()
	next := &snapshot{handles: make(map[string]*Handle, len(old.handles)+1)}
	for k, v := range old.handles {
		next.handles[k] = v
	}
	next.handles[h.def.Name] = h
	next.order = append(append([]string{}, old.order...), h.def.Name)
	r.snap.Store(next)
}

// discover asks an external server for its tools when none are declared.
func (r *Registry) discover(ctx context.Context, h *Handle) {
	if len(h.def.Tools) > 0 {
		h.setTools(nil)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.DiscoveryTimeout)
	defer cancel()

	res, err := h.backend.Call(ctx, types.CallEnvelope{
		ToolName:   types.ListToolsName,
		CallID:     "discover_" + ulid.Make().String(),
		Parameters: map[string]any{},
	})
	if err == nil && !res.Success {
		err = errors.New(res.Error)
	}
	var descs []types.ToolDescriptor
	if err == nil {
		err = json.Unmarshal([]byte(res.Content), &descs)
	}
	if err != nil {
		r.log.Warn().Err(err).Str("server", h.def.Name).Msg("Tool discovery failed; server exposes no tools")
	}
	h.setTools(descs)
}

func (r *Registry) healthNotifier(name string) func(Health) {
	return func(h Health) {
		r.opts.Sink.Publish(event.Event{
			Type: event.ServerHealth,
			Data: event.ServerHealthData{Server: name, State: string(h.State), Error: h.Error},
		})
	}
}

// Get returns the named server.
func (r *Registry) Get(name string) (*Handle, bool) {
	h, ok := r.snap.Load().handles[name]
	return h, ok
}

// Handles lists servers in registration order.
func (r *Registry) Handles() []*Handle {
	s := r.snap.Load()
	out := make([]*Handle, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.handles[name])
	}
	return out
}

// scope returns the handles for allowed in order, or every server in
// registration order when allowed is empty. Unknown names are skipped.
func (r *Registry) scope(allowed []string) []*Handle {
	if len(allowed) == 0 {
		return r.Handles()
	}
	s := r.snap.Load()
	out := make([]*Handle, 0, len(allowed))
	seen := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		if h, ok := s.handles[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, h)
		}
	}
	return out
}

// Resolve finds the server for a tool. Servers are searched in the order of
// allowed and the first one exposing the tool wins.
func (r *Registry) Resolve(toolName string, allowed []string) (*Handle, error) {
	scope := r.scope(allowed)
	for _, h := range scope {
		if h.Has(toolName) {
			return h, nil
		}
	}
	return nil, &NotFoundError{Tool: toolName, Suggestion: suggest(toolName, scope)}
}

// Binding is a tool together with the server that will run it.
type Binding struct {
	Server string
	Tool   types.ToolDescriptor
}

// Tools lists the tools reachable through allowed. A name exposed by more
// than one server is listed once, bound to the first server.
func (r *Registry) Tools(allowed []string) []Binding {
	var out []Binding
	seen := make(map[string]bool)
	for _, h := range r.scope(allowed) {
		for _, d := range h.Tools() {
			if seen[d.Name] {
				continue
			}
			seen[d.Name] = true
			out = append(out, Binding{Server: h.def.Name, Tool: d})
		}
	}
	return out
}

// Health returns the state of every server in registration order.
func (r *Registry) Health() []Health {
	handles := r.Handles()
	out := make([]Health, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Health())
	}
	return out
}

// Restart restarts a stdin-pipe server.
func (r *Registry) Restart(ctx context.Context, name string) error {
	h, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}
	p, ok := h.backend.(*Process)
	if !ok {
		return fmt.Errorf("server %s is not a process", name)
	}
	return p.Restart(ctx)
}

// Close tears down every server. The registry accepts no registrations afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.snap.Load()
	if old.closed {
		return nil
	}
	r.snap.Store(&snapshot{handles: old.handles, order: old.order, closed: true})

	var errs []error
	for _, name := range old.order {
		if err := old.handles[name].backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func suggest(name string, scope []*Handle) string {
	best, bestDist := "", -1
	for _, h := range scope {
		for _, candidate := range h.order {
			d := levenshtein.ComputeDistance(name, candidate)
			if bestDist < 0 || d < bestDist {
				best, bestDist = candidate, d
			}
		}
	}
	limit := len(name) / 3
	if limit < 2 {
		limit = 2
	}
	if bestDist < 0 || bestDist > limit {
		return ""
	}
	return best
}
