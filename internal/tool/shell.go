package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

const (
	DefaultShellTimeout = 2 * time.Minute
	MaxShellTimeout     = 10 * time.Minute
)

const shellDescription = `Executes a shell command in the project directory and returns its combined output.

Usage notes:
- The command is parsed as bash before it runs; syntax errors are reported without running anything
- Optional timeout in milliseconds (max 600000)
- Output longer than 30000 characters is truncated
- A non-zero exit status is appended to the output`

// ShellInput is the input of the shell tool.
type ShellInput struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"` // milliseconds
}

// DeveloperOptions configures the developer server.
type DeveloperOptions struct {
	WorkDir string
	// Env is appended to the process environment of every command.
	Env []string
}

// NewDeveloper creates the developer server offering the shell tool.
func NewDeveloper(opts DeveloperOptions) *Server {
	s := NewServer("developer")
	sh := &shell{workDir: opts.WorkDir, env: opts.Env}
	s.AddTool(mcp.NewTool("shell",
		mcp.WithDescription(shellDescription),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The command to execute"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Optional timeout in milliseconds (max 600000)"),
		),
	), sh.handle)
	return s
}

type shell struct {
	workDir string
	env     []string
}

func (t *shell) handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params ShellInput
	if err := bind(req, &params); err != nil {
		return failure(err)
	}
	if strings.TrimSpace(params.Command) == "" {
		return failure(errors.New("command is required"))
	}
	out, err := t.run(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return failure(err)
	}
	return mcp.NewToolResultText(out), nil
}

func (t *shell) run(ctx context.Context, params ShellInput) (string, error) {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(false))
	file, err := parser.Parse(strings.NewReader(params.Command), "")
	if err != nil {
		return "", fmt.Errorf("failed to parse command: %w", err)
	}

	timeout := DefaultShellTimeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
		if timeout > MaxShellTimeout {
			timeout = MaxShellTimeout
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var buf bytes.Buffer
	env := append(os.Environ(), t.env...)
	opts := []interp.RunnerOption{
		interp.StdIO(nil, &buf, &buf),
		interp.Env(expand.ListEnviron(env...)),
	}
	if t.workDir != "" {
		opts = append(opts, interp.Dir(t.workDir))
	}
	runner, err := interp.New(opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create shell: %w", err)
	}

	runErr := runner.Run(runCtx, file)
	output := buf.String()

	// Cancellation by the caller is not a command failure; report it as such.
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return output + fmt.Sprintf("\n\n(Command timed out after %v)", timeout), nil
	}

	var status interp.ExitStatus
	switch {
	case runErr == nil:
	case errors.As(runErr, &status):
		output += fmt.Sprintf("\n\nExit code: %d", status)
	default:
		return "", runErr
	}

	if output == "" {
		output = "(no output)"
	}
	return output, nil
}
