package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Muvon/octomind-sub000/internal/event"
	"github.com/Muvon/octomind-sub000/internal/layer"
	"github.com/Muvon/octomind-sub000/internal/logging"
	"github.com/Muvon/octomind-sub000/internal/memory"
	"github.com/Muvon/octomind-sub000/internal/provider"
	"github.com/Muvon/octomind-sub000/internal/toolserver"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

// recentFacts is how many memory facts are exposed to prompt templates.
const recentFacts = 20

// Options wires a Manager to its collaborators.
type Options struct {
	Config    *types.Config
	Providers layer.Resolver
	// Tools may be nil, in which case no layer gets tools.
	Tools *toolserver.Router
	Store *Store
	// Memory receives facts from Finalize and feeds the "memory" prompt
	// variable. Optional.
	Memory *memory.Store
	Sink   event.Sink
}

// Manager owns sessions by name.
type Manager struct {
	opts Options
	cfg  atomic.Pointer[types.Config]
	sink event.Sink
	log  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		opts:     opts,
		sink:     opts.Sink,
		log:      logging.Component("session"),
		sessions: make(map[string]*Session),
	}
	if m.sink == nil {
		m.sink = event.Discard
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = &types.Config{}
	}
	m.cfg.Store(cfg)
	return m
}

// Config returns the configuration in effect.
func (m *Manager) Config() *types.Config { return m.cfg.Load() }

// SetConfig swaps the configuration used by subsequent turns. Turns in
// flight keep the configuration they started with.
func (m *Manager) SetConfig(cfg *types.Config) {
	if cfg != nil {
		m.cfg.Store(cfg)
	}
}

// Open returns the named session, loading it from the store or creating it
// on first use.
func (m *Manager) Open(ctx context.Context, name string) (*Session, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[name]; ok {
		return s, nil
	}

	v, err := m.opts.Store.Load(ctx, name)
	switch {
	case err == nil:
		m.log.Debug().Str("session", name).Int("messages", len(v.Messages)).Msg("Loaded session")
		if v.torn {
			m.log.Warn().Str("session", name).Msg("Session log had an interrupted tail; it will be rewritten on the next commit")
		}
	case errors.Is(err, ErrNotFound):
		cfg := m.Config()
		v = &View{Name: name, Role: cfg.Role, Created: time.Now().UnixMilli()}
		v.Model = cfg.Model
		if role, ok := cfg.Roles[cfg.Role]; ok && role.Model != "" {
			v.Model = role.Model
		}
		v.Updated = v.Created
		m.sink.Publish(event.Event{Type: event.SessionCreated, Data: sessionData(v)})
	default:
		return nil, err
	}
	s := newSession(v)
	s.dirty = v.torn
	m.sessions[name] = s
	return s, nil
}

// Snapshot returns a point-in-time view of the named session.
func (m *Manager) Snapshot(ctx context.Context, name string) (*View, error) {
	m.mu.Lock()
	s, ok := m.sessions[name]
	m.mu.Unlock()
	if ok {
		return s.Snapshot(), nil
	}
	return m.opts.Store.Load(ctx, name)
}

// List returns the names of open and persisted sessions, sorted.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	names, err := m.opts.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	m.mu.Lock()
	for n := range m.sessions {
		if !seen[n] {
			names = append(names, n)
		}
	}
	m.mu.Unlock()
	sort.Strings(names)
	return names, nil
}

// Turn runs one human turn on the named session.
func (m *Manager) Turn(ctx context.Context, name, input string) (*TurnResult, error) {
	s, err := m.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	ctx, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return m.execute(ctx, s, runSpec{input: input, stageInput: true})
}

// Start takes the named session and runs a turn in the background. It fails
// with ErrBusy before returning when a turn is already in flight. done, when
// set, receives the outcome after the session is released.
func (m *Manager) Start(ctx context.Context, name, input string, done func(*TurnResult, error)) error {
	s, err := m.Open(ctx, name)
	if err != nil {
		return err
	}
	ctx, release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	go func() {
		res, err := m.execute(ctx, s, runSpec{input: input, stageInput: true})
		release()
		if done != nil {
			done(res, err)
		}
	}()
	return nil
}

// Abort cancels the turn in flight on the named session. It reports whether
// a turn was running.
func (m *Manager) Abort(name string) bool {
	m.mu.Lock()
	s, ok := m.sessions[name]
	m.mu.Unlock()
	return ok && s.abort()
}

// Busy reports whether the named session has a turn in flight.
func (m *Manager) Busy(name string) bool {
	m.mu.Lock()
	s, ok := m.sessions[name]
	m.mu.Unlock()
	return ok && s.Busy()
}

// Delete removes a session and its log. A session with a turn in flight
// cannot be deleted.
func (m *Manager) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	s, open := m.sessions[name]
	if open && s.Busy() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBusy, name)
	}
	delete(m.sessions, name)
	m.mu.Unlock()

	if !open && !m.opts.Store.Exists(ctx, name) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := m.opts.Store.Delete(ctx, name); err != nil {
		return err
	}
	m.sink.Publish(event.Event{Type: event.SessionDeleted, Data: event.SessionData{Name: name}})
	return nil
}

// SetModel switches the session to another "vendor:model".
func (m *Manager) SetModel(ctx context.Context, name, model string) error {
	if _, _, err := provider.ParseIdentifier(model); err != nil {
		return err
	}
	if _, err := m.opts.Providers.Resolve(ctx, model); err != nil {
		return err
	}
	return m.update(ctx, name, func(v *View) { v.Model = model })
}

// SetRole switches the session to another configured role.
func (m *Manager) SetRole(ctx context.Context, name, role string) error {
	if _, err := roleConfig(m.Config(), role); err != nil {
		return err
	}
	return m.update(ctx, name, func(v *View) { v.Role = role })
}

func (m *Manager) update(ctx context.Context, name string, fn func(v *View)) error {
	s, err := m.Open(ctx, name)
	if err != nil {
		return err
	}
	ctx, release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	base := s.Snapshot()
	next := base.with(base.Messages, base.Checkpoints)
	fn(next)
	s.publish(next)
	m.sink.Publish(event.Event{Type: event.SessionUpdated, Data: sessionData(next)})
	if !m.opts.Store.Exists(ctx, name) {
		return nil
	}
	return m.persistState(ctx, s, next)
}

// dispatcher returns the tool router for a role, honouring its tool timeout.
func (m *Manager) dispatcher(role types.RoleConfig) layer.Dispatcher {
	if m.opts.Tools == nil {
		return nil
	}
	return m.opts.Tools.WithTimeout(time.Duration(role.ToolTimeout) * time.Second)
}

// policy builds the context policy for a role on a model.
func (m *Manager) policy(ctx context.Context, role types.RoleConfig, model string) ContextPolicy {
	p := ContextPolicy{
		MaxRequestTokens: role.MaxRequestTokensThreshold,
		CachePct:         role.CacheTokensPctThreshold,
	}
	if a, err := m.opts.Providers.Resolve(ctx, model); err == nil {
		info := a.Info()
		p.ContextWindow = info.ContextWindow
		p.Caching = info.PromptCaching
	}
	return p
}

// vars are the prompt template variables shared by every layer of a turn.
func (m *Manager) vars(ctx context.Context, name string) layer.Vars {
	v := layer.Vars{"session": name}
	if m.opts.Memory != nil {
		recent, err := m.opts.Memory.Recent(ctx, recentFacts)
		if err != nil {
			m.log.Warn().Err(err).Msg("Failed to read memory")
		}
		v["memory"] = recent
	}
	return v
}

// Close aborts every turn in flight.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		s.abort()
	}
}

// roleConfig looks up a role. Without configured roles the empty role is
// used.
func roleConfig(cfg *types.Config, name string) (types.RoleConfig, error) {
	if r, ok := cfg.Roles[name]; ok {
		return r, nil
	}
	if len(cfg.Roles) == 0 || name == "" {
		return types.RoleConfig{}, nil
	}
	return types.RoleConfig{}, fmt.Errorf("unknown role %q", name)
}
