package session

import (
	"fmt"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

// SequenceError reports a message sequence that a provider would reject.
type SequenceError struct {
	Index  int
	Reason string
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("invalid message sequence at %d: %s", e.Index, e.Reason)
}

// Validate checks that every tool message answers exactly one call of the
// assistant message directly before its group, and that every call is
// answered before the next non-tool message.
func Validate(msgs []*types.Message) error {
	var (
		open  map[string]bool
		owner int
	)
	closeGroup := func() error {
		if len(open) > 0 {
			for _, tc := range msgs[owner].ToolCalls {
				if open[tc.ID] {
					return &SequenceError{Index: owner, Reason: fmt.Sprintf("tool call %s is not answered", tc.ID)}
				}
			}
		}
		open = nil
		return nil
	}
	for i, m := range msgs {
		switch {
		case m.Role == types.RoleTool:
			if m.ToolCallID == "" {
				return &SequenceError{Index: i, Reason: "tool message without tool_call_id"}
			}
			if !open[m.ToolCallID] {
				return &SequenceError{Index: i, Reason: fmt.Sprintf("tool message answers unknown or already answered call %s", m.ToolCallID)}
			}
			delete(open, m.ToolCallID)
		default:
			if err := closeGroup(); err != nil {
				return err
			}
			if m.HasToolCalls() {
				open = make(map[string]bool, len(m.ToolCalls))
				owner = i
				for _, tc := range m.ToolCalls {
					if tc.ID == "" {
						return &SequenceError{Index: i, Reason: "tool call without id"}
					}
					if open[tc.ID] {
						return &SequenceError{Index: i, Reason: fmt.Sprintf("duplicate tool call id %s", tc.ID)}
					}
					open[tc.ID] = true
				}
			}
		}
	}
	return closeGroup()
}
