package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Muvon/octomind-sub000/internal/event"
	"github.com/Muvon/octomind-sub000/internal/layer"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

// TurnResult describes a finished turn or compaction.
type TurnResult struct {
	Output string
	Usage  types.Usage
	// Pairs counts tool call and result pairs committed.
	Pairs  int
	Layers []layer.LayerResult
	// Dropped counts messages removed by truncation.
	Dropped int
	// RolledBack is set when the turn left no trace in the history.
	RolledBack bool
	// Archive is the path of the log archived before a history rewrite.
	Archive string
	View    *View
}

// runSpec is one pipeline execution against a session.
type runSpec struct {
	input  string
	layers []types.Layer
	// stageInput adds input to the history as a user message.
	stageInput bool
	// finish may rewrite the draft after a successful run.
	finish func(ctx context.Context, d *draft, res *layer.Result) error
}

// execute runs spec on s, which the caller has acquired, and commits or rolls
// back the outcome.
func (m *Manager) execute(ctx context.Context, s *Session, spec runSpec) (*TurnResult, error) {
	cfg := m.Config()
	base := s.Snapshot()
	role, err := roleConfig(cfg, base.Role)
	if err != nil {
		return nil, err
	}
	if base.Model == "" {
		return nil, fmt.Errorf("session %s: no model configured", s.name)
	}
	if spec.layers == nil {
		if spec.layers, err = layer.ForRole(cfg, role); err != nil {
			return nil, err
		}
	}

	turnCtx := ctx
	if role.TurnTimeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeoutCause(ctx, time.Duration(role.TurnTimeout)*time.Second, ErrTurnTimeout)
		defer cancel()
	}

	var user *types.Message
	if spec.stageInput {
		user = types.NewTextMessage(types.RoleUser, spec.input)
	}
	d := newDraft(base, user)

	start := time.Now()
	m.sink.Publish(event.Event{Type: event.TurnStarted, Data: event.TurnData{Session: s.name, Input: spec.input}})

	pipeline := layer.New(m.opts.Providers, m.dispatcher(role), m.sink)
	res, err := pipeline.Run(turnCtx, layer.Spec{
		Session: s.name,
		Role:    base.Role,
		Config:  role,
		Model:   base.Model,
		Layers:  spec.layers,
		Vars:    m.vars(ctx, s.name),
	}, spec.input, d)
	if err == nil && spec.finish != nil {
		err = spec.finish(ctx, d, res)
	}

	keep := true
	switch {
	case err == nil:
	case turnCtx.Err() != nil:
		d.pairsOnly()
		keep = d.replaced == nil && d.hasPairs()
		if errors.Is(context.Cause(turnCtx), ErrTurnTimeout) {
			err = fmt.Errorf("%w after %ds", ErrTurnTimeout, role.TurnTimeout)
		} else {
			err = fmt.Errorf("turn interrupted: %w", context.Cause(turnCtx))
		}
	case errors.Is(err, layer.ErrMaxToolRounds):
	default:
		keep = false
	}

	out := &TurnResult{RolledBack: !keep}
	if res != nil {
		out.Output = res.Output
		out.Usage = res.Usage
		out.Layers = res.Layers
		if keep {
			out.Pairs = res.Pairs
		}
	}
	if err != nil {
		// A failed turn has no final output.
		out.Output = ""
	}

	// Commit must survive the cancellation that ended the turn.
	commitCtx := context.WithoutCancel(ctx)
	var commitErr error
	if keep {
		commitErr = m.commit(commitCtx, s, d, role, out)
	} else {
		commitErr = m.commitUsage(commitCtx, s, out)
	}
	out.View = s.Snapshot()

	data := event.TurnData{Session: s.name, Input: spec.input, Output: out.Output, Duration: time.Since(start)}
	if err != nil {
		data.Error = err.Error()
		m.sink.Publish(event.Event{Type: event.TurnFailed, Data: data})
		m.log.Warn().Err(err).Str("session", s.name).Bool("rolled_back", out.RolledBack).Int("pairs", out.Pairs).Msg("Turn failed")
	} else {
		m.sink.Publish(event.Event{Type: event.TurnFinished, Data: data})
	}
	if err == nil {
		err = commitErr
	} else if commitErr != nil {
		err = errors.Join(err, commitErr)
	}
	return out, err
}

// commit applies the context policy to the draft, publishes the new view and
// persists it.
func (m *Manager) commit(ctx context.Context, s *Session, d *draft, role types.RoleConfig, out *TurnResult) error {
	base := d.base
	checkpoints := base.Checkpoints
	if d.replaced != nil {
		checkpoints = nil
	}
	msgs, checkpoints, change := m.policy(ctx, role, base.Model).Apply(d.messages(), checkpoints)
	out.Dropped = change.Dropped

	next := base.with(msgs, checkpoints)
	next.Usage = base.Usage.Add(out.Usage)
	s.publish(next)

	if change.Dropped > 0 {
		m.log.Info().Str("session", s.name).Int("dropped", change.Dropped).Int("tokens", next.Tokens).Msg("Truncated history")
	}

	var err error
	switch {
	case d.replaced != nil:
		out.Archive, err = m.rewrite(ctx, s, next, true)
		m.sink.Publish(event.Event{Type: event.SessionCompacted, Data: sessionData(next)})
	case change.Dropped > 0 || s.dirty || !m.opts.Store.Exists(ctx, s.name):
		_, err = m.rewrite(ctx, s, next, false)
	default:
		err = m.opts.Store.Append(ctx, next, msgs[len(base.Messages):])
	}
	if err != nil {
		s.dirty = true
		err = fmt.Errorf("persist session %s: %w", s.name, err)
	} else {
		s.dirty = false
	}
	m.sink.Publish(event.Event{Type: event.SessionUpdated, Data: sessionData(next)})
	return err
}

// commitUsage records spent usage after a rolled back turn; the history is
// left as it was.
func (m *Manager) commitUsage(ctx context.Context, s *Session, out *TurnResult) error {
	if out.Usage == (types.Usage{}) {
		return nil
	}
	base := s.Snapshot()
	next := base.with(base.Messages, base.Checkpoints)
	next.Usage = base.Usage.Add(out.Usage)
	s.publish(next)
	if !m.opts.Store.Exists(ctx, s.name) {
		return nil
	}
	return m.persistState(ctx, s, next)
}

// persistState appends a state record, or rewrites the log when it lags.
func (m *Manager) persistState(ctx context.Context, s *Session, v *View) error {
	var err error
	if s.dirty {
		_, err = m.rewrite(ctx, s, v, false)
	} else {
		err = m.opts.Store.Append(ctx, v, nil)
	}
	if err != nil {
		s.dirty = true
		return fmt.Errorf("persist session %s: %w", s.name, err)
	}
	s.dirty = false
	return nil
}

// rewrite replaces the log with v, archiving the previous log first when
// asked to.
func (m *Manager) rewrite(ctx context.Context, s *Session, v *View, archive bool) (string, error) {
	var path string
	if archive && m.opts.Store.Exists(ctx, s.name) {
		p, err := m.opts.Store.Archive(ctx, s.name)
		if err != nil {
			return "", fmt.Errorf("archive: %w", err)
		}
		path = p
	}
	return path, m.opts.Store.Rewrite(ctx, v)
}

func sessionData(v *View) event.SessionData {
	return event.SessionData{
		Name:     v.Name,
		Model:    v.Model,
		Role:     v.Role,
		Messages: len(v.Messages),
		Tokens:   v.Tokens,
		Usage:    v.Usage,
	}
}
