package layer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

func TestCondense(t *testing.T) {
	msgs := []*types.Message{
		types.NewTextMessage(types.RoleUser, "list the   files\nplease"),
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "c1", Name: "list_files"}, {ID: "c2", Name: "read_file"}}},
		types.NewToolMessage(types.ToolResult{CallID: "c1", Success: true, Content: "[file] a.go"}),
		types.NewToolMessage(types.ToolResult{CallID: "c2", Error: "denied"}),
		types.NewTextMessage(types.RoleAssistant, "done"),
	}
	assert.Equal(t, strings.Join([]string{
		"user: list the files please",
		"assistant: (called list_files, read_file)",
		"tool[c1]: [file] a.go",
		"tool[c2]: Error: denied",
		"assistant: done",
	}, "\n"), Condense(msgs))
}

func TestCondenseKeepsRecentAndClips(t *testing.T) {
	var msgs []*types.Message
	for i := 0; i < summaryMaxMessages+5; i++ {
		msgs = append(msgs, types.NewTextMessage(types.RoleUser, strings.Repeat("é", summaryMaxChars+10)))
	}
	out := Condense(msgs)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, summaryMaxMessages+1)
	assert.Equal(t, "(5 earlier messages omitted)", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "..."))
	assert.Equal(t, len("user: ")+summaryMaxChars+3, len([]rune(lines[1])))
}

func TestTranscriptKeepsEverything(t *testing.T) {
	var msgs []*types.Message
	msgs = append(msgs, types.NewTextMessage(types.RoleUser, "first"))
	for i := 0; i < summaryMaxMessages+5; i++ {
		msgs = append(msgs, types.NewTextMessage(types.RoleAssistant, strings.Repeat("x", summaryMaxChars+10)))
	}
	out := Transcript(msgs)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, len(msgs))
	assert.Equal(t, "user: first", lines[0])
	assert.Equal(t, "assistant: "+strings.Repeat("x", summaryMaxChars+10), lines[1])

	req := assemble(types.InputHistory, msgs, "summarize")
	require.Len(t, req, 1)
	assert.True(t, strings.HasPrefix(req[0].Text(), "Conversation so far:\nuser: first\n"))
	assert.True(t, strings.HasSuffix(req[0].Text(), "Current input:\nsummarize"))
}

func TestAssembleSummaryWithoutHistory(t *testing.T) {
	msgs := assemble(types.InputSummary, nil, "just this")
	require.Len(t, msgs, 1)
	assert.Equal(t, "just this", msgs[0].Text())
}

func TestToolAllowed(t *testing.T) {
	assert.True(t, toolAllowed(nil, "anything"))
	assert.True(t, toolAllowed([]string{"read_*", "shell"}, "read_file"))
	assert.True(t, toolAllowed([]string{"read_*", "shell"}, "shell"))
	assert.False(t, toolAllowed([]string{"read_*"}, "text_editor"))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(types.Layer{Name: "a"}))
	require.NoError(t, Validate(types.Layer{Name: "a", InputMode: types.InputSummary, OutputMode: types.OutputReplace}))
	require.NoError(t, Validate(types.Layer{Name: "a", InputMode: types.InputHistory}))

	assert.ErrorContains(t, Validate(types.Layer{}), "name must not be empty")
	assert.ErrorContains(t, Validate(types.Layer{Name: "a", InputMode: "everything"}), "invalid input_mode")
	assert.ErrorContains(t, Validate(types.Layer{Name: "a", OutputMode: "print"}), "invalid output_mode")
	assert.ErrorContains(t, Validate(types.Layer{Name: "a", AllowedTools: []string{"[a-"}}), "invalid allowed_tools")
}

func TestForRole(t *testing.T) {
	cfg := &types.Config{Layers: []types.Layer{{Name: "query"}, {Name: "answer"}}}

	layers, err := ForRole(cfg, types.RoleConfig{SystemPrompt: "sys", Servers: []string{"dev"}})
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, DefaultLayerName, layers[0].Name)
	assert.Equal(t, "sys", layers[0].SystemPrompt)
	assert.Equal(t, []string{"dev"}, layers[0].Servers)

	layers, err = ForRole(cfg, types.RoleConfig{Layers: []string{"answer", "query"}})
	require.NoError(t, err)
	assert.Equal(t, "answer", layers[0].Name)
	assert.Equal(t, "query", layers[1].Name)

	_, err = ForRole(cfg, types.RoleConfig{Layers: []string{"missing"}})
	assert.ErrorContains(t, err, `unknown layer "missing"`)
}
