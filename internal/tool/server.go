// Package tool provides the builtin in-process tool servers: developer,
// filesystem and agent.
//
// Each builtin is an mcp-go server whose tools are described with mcp.NewTool
// schemas. The toolserver package dispatches into them by name.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

// ErrUnknownTool is returned when a server is asked to run a tool it does not offer.
var ErrUnknownTool = errors.New("unknown tool")

// maxOutputLength caps the text a single tool call returns to the model.
const maxOutputLength = 30000

// Server is a builtin tool server.
type Server struct {
	name  string
	mcp   *server.MCPServer
	order []string
}

// NewServer creates an empty builtin server.
func NewServer(name string) *Server {
	return &Server{
		name: name,
		mcp:  server.NewMCPServer(name, "1.0.0", server.WithToolCapabilities(false)),
	}
}

// Name returns the server name.
func (s *Server) Name() string { return s.name }

// MCP exposes the underlying server so it can be served to MCP clients.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// AddTool registers a tool and its handler. Re-adding a name replaces the handler.
func (s *Server) AddTool(t mcp.Tool, handler server.ToolHandlerFunc) {
	if s.mcp.GetTool(t.Name) == nil {
		s.order = append(s.order, t.Name)
	}
	s.mcp.AddTool(t, handler)
}

// Has reports whether the server offers the named tool.
func (s *Server) Has(name string) bool {
	return s.mcp.GetTool(name) != nil
}

// Descriptors lists the tools in registration order.
func (s *Server) Descriptors() []types.ToolDescriptor {
	out := make([]types.ToolDescriptor, 0, len(s.order))
	for _, name := range s.order {
		st := s.mcp.GetTool(name)
		if st == nil {
			continue
		}
		out = append(out, Describe(st.Tool))
	}
	return out
}

// Call runs a tool and returns its text output. A tool reporting an error
// result is returned as a Go error carrying the tool's message.
func (s *Server) Call(ctx context.Context, name string, params map[string]any) (string, error) {
	st := s.mcp.GetTool(name)
	if st == nil {
		return "", fmt.Errorf("%w: %s on server %s", ErrUnknownTool, name, s.name)
	}
	if params == nil {
		params = map[string]any{}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = params

	res, err := st.Handler(ctx, req)
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", nil
	}
	text := ResultText(res)
	if res.IsError {
		if text == "" {
			text = "tool failed"
		}
		return "", errors.New(text)
	}
	return truncateOutput(text), nil
}

// ResultText joins the text parts of a tool result.
func ResultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		switch tc := c.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Describe converts an MCP tool definition into a descriptor.
func Describe(t mcp.Tool) types.ToolDescriptor {
	return types.ToolDescriptor{Name: t.Name, Description: t.Description, Parameters: schemaOf(t)}
}

func schemaOf(t mcp.Tool) map[string]any {
	if len(t.RawInputSchema) > 0 {
		var out map[string]any
		if err := json.Unmarshal(t.RawInputSchema, &out); err == nil && out != nil {
			return out
		}
	}
	raw, err := json.Marshal(t.InputSchema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{"type": "object"}
	}
	return out
}

// bind decodes the call arguments into v.
func bind(req mcp.CallToolRequest, v any) error {
	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}

func truncateOutput(s string) string {
	if len(s) <= maxOutputLength {
		return s
	}
	cut := maxOutputLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("\n\n(Output truncated: %d of %d bytes shown)", cut, len(s))
}

// failure converts err into an error result.
func failure(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}
