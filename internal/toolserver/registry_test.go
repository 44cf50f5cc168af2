package toolserver

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muvon/octomind-sub000/internal/tool"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

func constServer(name, reply string, tools ...string) *tool.Server {
	s := tool.NewServer(name)
	for _, tn := range tools {
		s.AddTool(mcp.NewTool(tn, mcp.WithDescription(tn+" from "+name)),
			func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return mcp.NewToolResultText(reply), nil
			})
	}
	return s
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		def   types.ServerDefinition
		field string
	}{
		{name: "builtin ok", def: types.ServerDefinition{Name: "fs", Kind: types.ServerFilesystem}},
		{name: "http ok", def: types.ServerDefinition{Name: "web", Kind: types.ServerExternal, Transport: types.TransportHTTP, URL: "http://localhost"}},
		{name: "stdin ok", def: types.ServerDefinition{Name: "py", Kind: types.ServerExternal, Transport: types.TransportStdin, Command: "python3", Framing: types.FramingLength}},
		{name: "no name", def: types.ServerDefinition{Kind: types.ServerFilesystem}, field: "name"},
		{name: "unknown kind", def: types.ServerDefinition{Name: "x", Kind: "magic"}, field: "kind"},
		{name: "no transport", def: types.ServerDefinition{Name: "x", Kind: types.ServerExternal}, field: "transport"},
		{name: "http without url", def: types.ServerDefinition{Name: "x", Kind: types.ServerExternal, Transport: types.TransportHTTP}, field: "url"},
		{name: "stdin without command", def: types.ServerDefinition{Name: "x", Kind: types.ServerExternal, Transport: types.TransportStdin}, field: "command"},
		{name: "mcp command ok", def: types.ServerDefinition{Name: "m", Kind: types.ServerExternal, Transport: types.TransportMCP, Command: "mcp-server"}},
		{name: "mcp needs one endpoint", def: types.ServerDefinition{Name: "m", Kind: types.ServerExternal, Transport: types.TransportMCP}, field: "transport"},
		{name: "bad framing", def: types.ServerDefinition{Name: "x", Kind: types.ServerExternal, Transport: types.TransportStdin, Command: "c", Framing: "xml"}, field: "framing"},
		{name: "negative timeout", def: types.ServerDefinition{Name: "x", Kind: types.ServerFilesystem, Timeout: -1}, field: "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.def)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var defErr *DefinitionError
			require.True(t, errors.As(err, &defErr), "got %v", err)
			assert.Equal(t, tt.field, defErr.Field)
		})
	}
}

func TestRegistry_RegisterBuiltin(t *testing.T) {
	reg := NewRegistry(Options{Environment: tool.Environment{WorkDir: t.TempDir()}})
	defer reg.Close()

	h, err := reg.Register(context.Background(), types.ServerDefinition{Name: "fs", Kind: types.ServerFilesystem, Tools: []string{"list_files", "read_file"}})
	require.NoError(t, err)
	assert.True(t, h.Has("list_files"))
	assert.False(t, h.Has("text_editor"), "declared tools restrict the builtin set")
	assert.NotEmpty(t, h.Tools()[0].Parameters["properties"])

	_, err = reg.Register(context.Background(), types.ServerDefinition{Name: "fs", Kind: types.ServerDeveloper})
	var defErr *DefinitionError
	require.ErrorAs(t, err, &defErr)
	assert.Equal(t, "name", defErr.Field)

	health := reg.Health()
	require.Len(t, health, 1)
	assert.Equal(t, StateRunning, health[0].State)
	assert.Equal(t, 2, health[0].Tools)
}

func TestRegistry_BuiltinRejectsUnknownDeclaredTools(t *testing.T) {
	reg := NewRegistry(Options{Environment: tool.Environment{WorkDir: t.TempDir()}})
	defer reg.Close()

	_, err := reg.Register(context.Background(), types.ServerDefinition{Name: "fs", Kind: types.ServerFilesystem, Tools: []string{"list_file", "read_file"}})
	var defErr *DefinitionError
	require.ErrorAs(t, err, &defErr)
	assert.Equal(t, "tools", defErr.Field)
	assert.Equal(t, "list_file", defErr.Value)
	_, ok := reg.Get("fs")
	assert.False(t, ok, "a rejected server is not registered")

	_, err = reg.RegisterServer(types.ServerDefinition{Name: "mem", Tools: []string{"t", "missing"}}, constServer("mem", "", "t"))
	require.ErrorAs(t, err, &defErr)
	assert.Equal(t, "missing", defErr.Value)
}

func TestRegistry_FirstListedServerWins(t *testing.T) {
	reg := NewRegistry(Options{})
	_, err := reg.RegisterServer(types.ServerDefinition{Name: "A"}, constServer("A", "from A", "X", "onlyA"))
	require.NoError(t, err)
	_, err = reg.RegisterServer(types.ServerDefinition{Name: "B"}, constServer("B", "from B", "X", "onlyB"))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		h, err := reg.Resolve("X", []string{"A", "B"})
		require.NoError(t, err)
		assert.Equal(t, "A", h.Name())
	}
	h, err := reg.Resolve("X", []string{"B", "A"})
	require.NoError(t, err)
	assert.Equal(t, "B", h.Name())

	h, err = reg.Resolve("onlyB", []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, "B", h.Name())

	_, err = reg.Resolve("onlyB", []string{"A"})
	assert.ErrorIs(t, err, ErrToolNotFound)

	bindings := reg.Tools([]string{"A", "B"})
	var names []string
	for _, b := range bindings {
		names = append(names, b.Server+"/"+b.Tool.Name)
	}
	assert.Equal(t, []string{"A/X", "A/onlyA", "B/onlyB"}, names)

	res := NewRouter(reg, 0).DispatchAll(context.Background(), []types.ToolCall{{ID: "1", Name: "X"}}, []string{"A", "B"})
	assert.Equal(t, "from A", res[0].Content)
	assert.Equal(t, "A", res[0].Server)
}

func TestRegistry_ResolveSuggestion(t *testing.T) {
	reg := NewRegistry(Options{})
	_, err := reg.RegisterServer(types.ServerDefinition{Name: "fs"}, constServer("fs", "", "list_files", "read_file"))
	require.NoError(t, err)

	_, err = reg.Resolve("list_file", nil)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "list_files", nf.Suggestion)
	assert.Contains(t, err.Error(), `did you mean "list_files"`)

	_, err = reg.Resolve("completely_unrelated_name", nil)
	require.ErrorAs(t, err, &nf)
	assert.Empty(t, nf.Suggestion)
}

func TestRegistry_DiscoversStdinTools(t *testing.T) {
	reg := NewRegistry(Options{Process: testProcessOptions()})
	defer reg.Close()

	h, err := reg.Register(context.Background(), helperDefinition("helper", "serve", types.FramingLength))
	require.NoError(t, err)
	assert.True(t, h.Has("echo"))
	assert.True(t, h.Has("sleep"))
	echo := h.Tools()[0]
	assert.Equal(t, "echo", echo.Name)
	assert.Equal(t, "Echoes text", echo.Description)
	assert.Equal(t, []any{"text"}, echo.Parameters["required"])
	assert.Equal(t, StateRunning, h.Health().State)
}

func TestRegistry_DeclaredToolsSkipDiscovery(t *testing.T) {
	reg := NewRegistry(Options{Process: testProcessOptions()})
	defer reg.Close()

	h, err := reg.Register(context.Background(), helperDefinition("helper", "serve", types.FramingNewline, "echo", "custom"))
	require.NoError(t, err)
	assert.Equal(t, StateExited, h.Health().State, "process starts lazily")
	tools := h.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, true, tools[1].Parameters["additionalProperties"])
}

func TestRegistry_Close(t *testing.T) {
	reg := NewRegistry(Options{Process: testProcessOptions()})
	h, err := reg.Register(context.Background(), helperDefinition("helper", "serve", types.FramingNewline))
	require.NoError(t, err)
	require.Equal(t, StateRunning, h.Health().State)

	require.NoError(t, reg.Close())
	assert.Equal(t, StateExited, h.Health().State)
	_, err = reg.Register(context.Background(), types.ServerDefinition{Name: "fs", Kind: types.ServerFilesystem})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, reg.Close())
}

func TestRegistry_Restart(t *testing.T) {
	reg := NewRegistry(Options{Process: testProcessOptions()})
	defer reg.Close()
	_, err := reg.Register(context.Background(), helperDefinition("helper", "serve", types.FramingNewline))
	require.NoError(t, err)
	_, err = reg.RegisterServer(types.ServerDefinition{Name: "mem"}, constServer("mem", "", "t"))
	require.NoError(t, err)

	require.NoError(t, reg.Restart(context.Background(), "helper"))
	h, _ := reg.Get("helper")
	assert.Equal(t, 1, h.Health().Restarts)
	assert.Error(t, reg.Restart(context.Background(), "mem"))
	assert.ErrorIs(t, reg.Restart(context.Background(), "nope"), ErrServerNotFound)
}
