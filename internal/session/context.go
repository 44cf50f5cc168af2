package session

import "github.com/Muvon/octomind-sub000/pkg/types"

// MaxCheckpoints is the number of cache markers kept per session.
const MaxCheckpoints = 4

// ContextPolicy holds the thresholds the context manager enforces after a
// turn.
type ContextPolicy struct {
	// MaxRequestTokens triggers truncation when the history exceeds it.
	// Zero disables truncation.
	MaxRequestTokens int
	// CachePct is the share of ContextWindow, in percent, that must
	// accumulate after the last marker before a new one is placed.
	CachePct      float64
	ContextWindow int
	// Caching is set when the active vendor supports prompt caching.
	Caching bool
}

// ContextChange describes what Apply did.
type ContextChange struct {
	Dropped int
	Placed  bool
}

// Apply truncates history and then places cache checkpoints. Markers that
// fall inside the dropped prefix are discarded and the remaining ones are
// shifted before placement runs, so a marker never points at a message that
// is no longer present.
func (p ContextPolicy) Apply(msgs []*types.Message, checkpoints []int) ([]*types.Message, []int, ContextChange) {
	var change ContextChange
	msgs, checkpoints, change.Dropped = Truncate(msgs, checkpoints, p.MaxRequestTokens)
	if p.Caching {
		checkpoints, change.Placed = PlaceCheckpoint(msgs, checkpoints, p.ContextWindow, p.CachePct)
	}
	return msgs, checkpoints, change
}

// groupStarts returns the index of the first message of every group. An
// assistant message with tool calls and the tool messages answering it form
// one group; every other message is a group of its own.
func groupStarts(msgs []*types.Message) []int {
	var starts []int
	for i := 0; i < len(msgs); {
		starts = append(starts, i)
		m := msgs[i]
		i++
		if !m.HasToolCalls() {
			continue
		}
		ids := make(map[string]bool, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			ids[tc.ID] = true
		}
		for i < len(msgs) && msgs[i].Role == types.RoleTool && ids[msgs[i].ToolCallID] {
			i++
		}
	}
	return starts
}

// Truncate drops whole groups from the oldest end until the history fits in
// maxTokens. The final group is never dropped. When the cut lands on a non
// user message and a later group before the final one starts with a user
// message, the cut moves forward to it so history keeps a user message at
// its head. Checkpoints are shifted to the new indices.
func Truncate(msgs []*types.Message, checkpoints []int, maxTokens int) ([]*types.Message, []int, int) {
	total := TotalTokens(msgs)
	if maxTokens <= 0 || total <= maxTokens || len(msgs) == 0 {
		return msgs, checkpoints, 0
	}
	starts := groupStarts(msgs)
	last := len(starts) - 1
	g := 0
	for ; g < last && total > maxTokens; g++ {
		total -= TotalTokens(msgs[starts[g]:starts[g+1]])
	}
	if g == 0 {
		return msgs, checkpoints, 0
	}
	if msgs[starts[g]].Role != types.RoleUser {
		for k := g + 1; k < last; k++ {
			if msgs[starts[k]].Role == types.RoleUser {
				g = k
				break
			}
		}
	}
	cut := starts[g]
	kept := append([]*types.Message(nil), msgs[cut:]...)
	var shifted []int
	for _, c := range checkpoints {
		if c >= cut {
			shifted = append(shifted, c-cut)
		}
	}
	return kept, shifted, cut
}

// PlaceCheckpoint adds a marker at the last message once the tokens after the
// previous marker reach pct percent of the context window. At most
// MaxCheckpoints markers are kept; the oldest is dropped first.
func PlaceCheckpoint(msgs []*types.Message, checkpoints []int, window int, pct float64) ([]int, bool) {
	if window <= 0 || pct <= 0 || len(msgs) == 0 {
		return checkpoints, false
	}
	from := 0
	if n := len(checkpoints); n > 0 {
		from = checkpoints[n-1] + 1
	}
	if from >= len(msgs) {
		return checkpoints, false
	}
	if float64(TotalTokens(msgs[from:])) < float64(window)*pct/100 {
		return checkpoints, false
	}
	out := append(append([]int(nil), checkpoints...), len(msgs)-1)
	if len(out) > MaxCheckpoints {
		out = out[len(out)-MaxCheckpoints:]
	}
	return out, true
}
