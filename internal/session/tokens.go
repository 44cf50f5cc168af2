package session

import "github.com/Muvon/octomind-sub000/pkg/types"

const (
	charsPerToken   = 4
	messageOverhead = 4
	imageTokens     = 256
)

// EstimateTokens approximates the token count of a message at about four
// characters per token plus a small per-message overhead.
func EstimateTokens(m *types.Message) int {
	if m == nil {
		return 0
	}
	chars := len(m.ToolCallID)
	images := 0
	for _, p := range m.Parts {
		switch p.Type {
		case types.PartImage:
			images++
		default:
			chars += len(p.Text)
		}
	}
	for _, tc := range m.ToolCalls {
		chars += len(tc.ID) + len(tc.Name) + len(tc.Arguments())
	}
	return (chars+charsPerToken-1)/charsPerToken + messageOverhead + images*imageTokens
}

// TotalTokens sums the cached token counts of msgs.
func TotalTokens(msgs []*types.Message) int {
	n := 0
	for _, m := range msgs {
		n += m.Tokens
	}
	return n
}
