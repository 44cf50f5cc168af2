package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Muvon/octomind-sub000/internal/layer"
	"github.com/Muvon/octomind-sub000/internal/memory"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

// ErrEmptySession is returned when compacting a session without history.
var ErrEmptySession = errors.New("session has no history")

const (
	reduceLayer   = "reduce"
	finalizeLayer = "finalize"

	summaryPrefix = "Summary of the conversation so far:\n\n"

	reducePrompt = `You compress conversations between a developer and an AI assistant.
Write a concise summary that keeps every decision, open task, file path and
identifier needed to continue the work. Omit pleasantries and tool output
that no longer matters. Reply with the summary only.`

	reduceInstruction = "Summarize the conversation above."

	finalizePrompt = `You close out a finished task for a developer working with an AI assistant.
Reply in exactly this format:

SUMMARY:
<what was done, the final state and anything left open>

FACTS:
- <one durable fact about the project or the developer's preferences per line>

List only facts that will still matter in future sessions. Write "FACTS:"
followed by nothing if there are none.`

	finalizeInstruction = "The task is complete. Summarize it and extract durable facts."
)

// FinalizeResult is the outcome of Finalize.
type FinalizeResult struct {
	*TurnResult
	Summary string
	Facts   []memory.Fact
}

// Reduce replaces the history with a summary written by the role's cheap
// model, falling back to the session model.
func (m *Manager) Reduce(ctx context.Context, name string) (*TurnResult, error) {
	s, role, release, ctx, err := m.acquireForCompaction(ctx, name)
	if err != nil {
		return nil, err
	}
	defer release()

	l := types.Layer{
		Name:         reduceLayer,
		Model:        role.ReduceModel,
		SystemPrompt: reducePrompt,
		InputMode:    types.InputHistory,
		OutputMode:   types.OutputReplace,
	}
	return m.execute(ctx, s, runSpec{
		input:  reduceInstruction,
		layers: []types.Layer{l},
		finish: func(_ context.Context, d *draft, res *layer.Result) error {
			text := strings.TrimSpace(res.Output)
			if text == "" || d.replaced == nil {
				return errors.New("reduce produced an empty summary")
			}
			d.Replace(types.NewTextMessage(types.RoleUser, summaryPrefix+text))
			return nil
		},
	})
}

// Finalize closes a task: the session model summarizes the history and
// extracts durable facts, the facts go to long-term memory and the summary
// replaces the history.
func (m *Manager) Finalize(ctx context.Context, name string) (*FinalizeResult, error) {
	s, _, release, ctx, err := m.acquireForCompaction(ctx, name)
	if err != nil {
		return nil, err
	}
	defer release()

	out := &FinalizeResult{}
	l := types.Layer{
		Name:         finalizeLayer,
		SystemPrompt: finalizePrompt,
		InputMode:    types.InputHistory,
		OutputMode:   types.OutputNone,
	}
	res, err := m.execute(ctx, s, runSpec{
		input:  finalizeInstruction,
		layers: []types.Layer{l},
		finish: func(ctx context.Context, d *draft, res *layer.Result) error {
			summary, facts := parseFinal(res.Output)
			if summary == "" {
				return errors.New("finalize produced an empty summary")
			}
			if m.opts.Memory != nil && len(facts) > 0 {
				saved, err := m.opts.Memory.Add(ctx, s.name, facts)
				if err != nil {
					return fmt.Errorf("save facts: %w", err)
				}
				out.Facts = saved
			}
			out.Summary = summary
			d.Replace(types.NewTextMessage(types.RoleUser, summaryPrefix+summary))
			return nil
		},
	})
	out.TurnResult = res
	return out, err
}

func (m *Manager) acquireForCompaction(ctx context.Context, name string) (*Session, types.RoleConfig, func(), context.Context, error) {
	s, err := m.Open(ctx, name)
	if err != nil {
		return nil, types.RoleConfig{}, nil, nil, err
	}
	role, err := roleConfig(m.Config(), s.Snapshot().Role)
	if err != nil {
		return nil, types.RoleConfig{}, nil, nil, err
	}
	ctx, release, err := s.acquire(ctx)
	if err != nil {
		return nil, types.RoleConfig{}, nil, nil, err
	}
	if len(s.Snapshot().Messages) == 0 {
		release()
		return nil, types.RoleConfig{}, nil, nil, fmt.Errorf("%w: %s", ErrEmptySession, name)
	}
	return s, role, release, ctx, nil
}

// parseFinal splits a finalize reply into its summary and fact list. A reply
// without the SUMMARY/FACTS layout is taken as a summary without facts.
func parseFinal(text string) (string, []string) {
	text = strings.TrimSpace(text)
	body := text
	var factBlock string
	if i := strings.Index(body, "FACTS:"); i >= 0 {
		factBlock = body[i+len("FACTS:"):]
		body = body[:i]
	}
	body = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(body), "SUMMARY:"))

	var facts []string
	for _, line := range strings.Split(factBlock, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimLeft(line, "-*•"))
		if line != "" {
			facts = append(facts, line)
		}
	}
	return body, facts
}
