package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

// mcpBackend talks to an MCP server, launched as a command or reached over
// streamable HTTP. The session is opened on first use and reopened after a
// failed call.
type mcpBackend struct {
	def    types.ServerDefinition
	client *sdkmcp.Client
	http   *http.Client
	health *healthTracker

	mu      sync.Mutex
	session *sdkmcp.ClientSession
}

func newMCPBackend(def types.ServerDefinition, httpClient *http.Client, onChange func(Health)) *mcpBackend {
	return &mcpBackend{
		def:    def,
		client: sdkmcp.NewClient(&sdkmcp.Implementation{Name: "octomind", Version: "1.0.0"}, nil),
		http:   httpClientWithHeaders(httpClient, def.Headers),
		health: newHealthTracker(StateRunning, onChange),
	}
}

func (b *mcpBackend) transport() sdkmcp.Transport {
	if b.def.URL != "" {
		return &sdkmcp.StreamableClientTransport{Endpoint: b.def.URL, HTTPClient: b.http}
	}
	cmd := exec.Command(b.def.Command, b.def.Args...)
	cmd.Dir = b.def.Dir
	cmd.Env = os.Environ()
	for k, v := range b.def.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	return &sdkmcp.CommandTransport{Command: cmd}
}

func (b *mcpBackend) connect(ctx context.Context) (*sdkmcp.ClientSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		return b.session, nil
	}
	s, err := b.client.Connect(ctx, b.transport(), nil)
	if err != nil {
		b.health.set(StateUnhealthy, err)
		return nil, fmt.Errorf("connect: %w", err)
	}
	b.session = s
	b.health.set(StateRunning, nil)
	return s, nil
}

// drop forgets a broken session so the next call reconnects.
func (b *mcpBackend) drop(s *sdkmcp.ClientSession, err error) {
	b.mu.Lock()
	if b.session == s {
		b.session = nil
	}
	b.mu.Unlock()
	_ = s.Close()
	b.health.set(StateUnhealthy, err)
}

func (b *mcpBackend) Call(ctx context.Context, env types.CallEnvelope) (types.ResultEnvelope, error) {
	s, err := b.connect(ctx)
	if err != nil {
		return types.ResultEnvelope{}, err
	}
	if env.ToolName == types.ListToolsName {
		return b.listTools(ctx, s, env.CallID)
	}

	res, err := s.CallTool(ctx, &sdkmcp.CallToolParams{Name: env.ToolName, Arguments: env.Parameters})
	if err != nil {
		if ctx.Err() != nil {
			return types.ResultEnvelope{}, ctx.Err()
		}
		b.drop(s, err)
		return types.ResultEnvelope{}, err
	}
	text := contentText(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool failed"
		}
		return types.ResultEnvelope{CallID: env.CallID, Error: text}, nil
	}
	return types.ResultEnvelope{CallID: env.CallID, Success: true, Content: text}, nil
}

// listTools answers the discovery call with the server's tool descriptors.
func (b *mcpBackend) listTools(ctx context.Context, s *sdkmcp.ClientSession, callID string) (types.ResultEnvelope, error) {
	res, err := s.ListTools(ctx, nil)
	if err != nil {
		if ctx.Err() == nil {
			b.drop(s, err)
		}
		return types.ResultEnvelope{}, err
	}
	descs := make([]types.ToolDescriptor, 0, len(res.Tools))
	for _, t := range res.Tools {
		descs = append(descs, types.ToolDescriptor{Name: t.Name, Description: t.Description, Parameters: schemaMap(t.InputSchema)})
	}
	raw, err := json.Marshal(descs)
	if err != nil {
		return types.ResultEnvelope{}, err
	}
	return types.ResultEnvelope{CallID: callID, Success: true, Content: string(raw)}, nil
}

func (b *mcpBackend) Health() Health { return b.health.get() }

func (b *mcpBackend) Close() error {
	b.mu.Lock()
	s := b.session
	b.session = nil
	b.mu.Unlock()
	b.health.set(StateExited, nil)
	if s == nil {
		return nil
	}
	if err := s.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func contentText(content []sdkmcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// schemaMap normalizes whatever schema representation the SDK returns.
func schemaMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{"type": "object"}
	}
	return out
}

func httpClientWithHeaders(base *http.Client, headers map[string]string) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	client.Timeout = 0
	if len(headers) == 0 {
		return &client
	}
	next := client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	client.Transport = &headerRoundTripper{headers: headers, next: next}
	return &client
}

type headerRoundTripper struct {
	headers map[string]string
	next    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range h.headers {
		cloned.Header.Set(k, v)
	}
	return h.next.RoundTrip(cloned)
}
