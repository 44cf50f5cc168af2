package session

import "github.com/Muvon/octomind-sub000/pkg/types"

// draft stages the messages of one turn. It implements layer.Transcript;
// nothing reaches the session until the turn commits it.
type draft struct {
	base *View
	// user is the turn's input message; nil for compaction runs.
	user     *types.Message
	appended []*types.Message
	replaced *types.Message
}

func newDraft(base *View, user *types.Message) *draft {
	if user != nil {
		stamp(user)
	}
	return &draft{base: base, user: user}
}

func (d *draft) Prior() []*types.Message { return d.base.Messages }

func (d *draft) Checkpoints() []int { return d.base.Checkpoints }

func (d *draft) Append(msgs ...*types.Message) {
	for _, m := range msgs {
		d.appended = append(d.appended, stamp(m))
	}
}

// Replace discards the staged turn and the prior history in favour of msg.
// Later appends follow the replacement.
func (d *draft) Replace(msg *types.Message) {
	d.replaced = stamp(msg)
	d.appended = nil
}

// messages returns the history the draft commits to.
func (d *draft) messages() []*types.Message {
	if d.replaced != nil {
		return append([]*types.Message{d.replaced}, d.appended...)
	}
	n := len(d.base.Messages)
	out := make([]*types.Message, 0, n+1+len(d.appended))
	out = append(out, d.base.Messages...)
	if d.user != nil {
		out = append(out, d.user)
	}
	return append(out, d.appended...)
}

// pairsOnly drops staged messages that are not part of a complete tool call
// and result group. It is applied when a turn is interrupted.
func (d *draft) pairsOnly() {
	var kept []*types.Message
	starts := groupStarts(d.appended)
	for g, start := range starts {
		end := len(d.appended)
		if g+1 < len(starts) {
			end = starts[g+1]
		}
		head := d.appended[start]
		if head.HasToolCalls() && end-start-1 == len(head.ToolCalls) {
			kept = append(kept, d.appended[start:end]...)
		}
	}
	d.appended = kept
}

// hasPairs reports whether any staged tool result survives.
func (d *draft) hasPairs() bool {
	for _, m := range d.appended {
		if m.Role == types.RoleTool {
			return true
		}
	}
	return false
}
