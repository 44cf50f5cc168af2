package tool

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

func TestServer_DescriptorsKeepRegistrationOrder(t *testing.T) {
	s := NewServer("test")
	noop := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("ok"), nil
	}
	s.AddTool(mcp.NewTool("zeta", mcp.WithDescription("z")), noop)
	s.AddTool(mcp.NewTool("alpha", mcp.WithDescription("a"),
		mcp.WithString("x", mcp.Required(), mcp.Description("x value"))), noop)
	s.AddTool(mcp.NewTool("zeta", mcp.WithDescription("z again")), noop)

	descs := s.Descriptors()
	require.Len(t, descs, 2)
	assert.Equal(t, "zeta", descs[0].Name)
	assert.Equal(t, "z again", descs[0].Description)
	assert.Equal(t, "alpha", descs[1].Name)
	assert.Equal(t, "object", descs[1].Parameters["type"])
	assert.Contains(t, descs[1].Parameters["properties"], "x")
	assert.Equal(t, []any{"x"}, descs[1].Parameters["required"])
}

func TestServer_Call(t *testing.T) {
	s := NewServer("test")
	s.AddTool(mcp.NewTool("echo"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		v, _ := req.GetArguments()["v"].(string)
		return mcp.NewToolResultText(v), nil
	})
	s.AddTool(mcp.NewTool("fails"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("bad thing"), nil
	})
	s.AddTool(mcp.NewTool("broken"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return nil, context.Canceled
	})

	out, err := s.Call(context.Background(), "echo", map[string]any{"v": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	_, err = s.Call(context.Background(), "fails", nil)
	require.Error(t, err)
	assert.Equal(t, "bad thing", err.Error())

	_, err = s.Call(context.Background(), "broken", nil)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.Call(context.Background(), "missing", nil)
	assert.True(t, errors.Is(err, ErrUnknownTool))
	assert.False(t, s.Has("missing"))
	assert.True(t, s.Has("echo"))
}

func TestTruncateOutput(t *testing.T) {
	short := "abc"
	assert.Equal(t, short, truncateOutput(short))

	long := make([]byte, maxOutputLength+10)
	for i := range long {
		long[i] = 'a'
	}
	out := truncateOutput(string(long))
	assert.Contains(t, out, "Output truncated")
	assert.Less(t, len(out), len(long)+100)
}

func TestTruncateOutputKeepsRunesWhole(t *testing.T) {
	in := strings.Repeat("a", maxOutputLength-1) + strings.Repeat("é", 10)
	out := truncateOutput(in)
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasPrefix(out, strings.Repeat("a", maxOutputLength-1)+"\n\n"))
}

func TestNewBuiltin(t *testing.T) {
	tests := []struct {
		kind  types.ServerKind
		tools []string
		err   bool
	}{
		{kind: types.ServerDeveloper, tools: []string{"shell"}},
		{kind: types.ServerFilesystem, tools: []string{"list_files", "read_file", "text_editor", "html2md"}},
		{kind: types.ServerAgent, tools: []string{"agent_reviewer"}},
		{kind: types.ServerExternal, err: true},
	}
	env := Environment{
		WorkDir: t.TempDir(),
		Agents:  []types.AgentDefinition{{Name: "reviewer"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			s, err := NewBuiltin(tt.kind, "custom", env)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "custom", s.Name())
			var names []string
			for _, d := range s.Descriptors() {
				names = append(names, d.Name)
			}
			assert.Equal(t, tt.tools, names)
		})
	}
}
