package layer

import (
	"fmt"
	"strings"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

const (
	summaryMaxMessages = 40
	summaryMaxChars    = 400
)

// assemble builds the request messages for a layer. prior is the history
// before the current turn; carry is the running input of the pipeline.
func assemble(mode types.InputMode, prior []*types.Message, carry string) []*types.Message {
	user := types.NewTextMessage(types.RoleUser, carry)
	switch mode {
	case types.InputLast:
		return []*types.Message{user}
	case types.InputSummary, types.InputHistory:
		summary := Condense(prior)
		if mode == types.InputHistory {
			summary = Transcript(prior)
		}
		if summary == "" {
			return []*types.Message{user}
		}
		text := "Conversation so far:\n" + summary + "\n\nCurrent input:\n" + carry
		return []*types.Message{types.NewTextMessage(types.RoleUser, text)}
	default:
		out := make([]*types.Message, 0, len(prior)+1)
		out = append(out, prior...)
		return append(out, user)
	}
}

// Condense renders history as a compact deterministic transcript: one line
// per message, long text clipped, tool traffic reduced to names and outcomes.
// Only the most recent messages are kept.
func Condense(msgs []*types.Message) string {
	return render(msgs, summaryMaxMessages, summaryMaxChars)
}

// Transcript renders every message in full, in the layout of Condense.
func Transcript(msgs []*types.Message) string {
	return render(msgs, 0, 0)
}

// render writes one entry per message. Zero limits keep every message and
// all of its text.
func render(msgs []*types.Message, maxMessages, maxChars int) string {
	start := 0
	if maxMessages > 0 && len(msgs) > maxMessages {
		start = len(msgs) - maxMessages
	}
	text := func(m *types.Message) string {
		if maxChars == 0 {
			return strings.TrimSpace(m.Text())
		}
		return clip(m.Text(), maxChars)
	}
	var sb strings.Builder
	if start > 0 {
		fmt.Fprintf(&sb, "(%d earlier messages omitted)\n", start)
	}
	for _, m := range msgs[start:] {
		switch {
		case m.Role == types.RoleTool:
			fmt.Fprintf(&sb, "tool[%s]: %s\n", m.ToolCallID, text(m))
		case m.HasToolCalls():
			names := make([]string, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				names = append(names, tc.Name)
			}
			line := fmt.Sprintf("%s: (called %s)", m.Role, strings.Join(names, ", "))
			if t := text(m); t != "" {
				line += " " + t
			}
			sb.WriteString(line + "\n")
		default:
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, text(m))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
