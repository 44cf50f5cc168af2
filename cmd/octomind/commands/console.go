package commands

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Muvon/octomind-sub000/internal/event"
	"github.com/Muvon/octomind-sub000/internal/layer"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

// console renders engine events for a terminal.
type console struct {
	mu  sync.Mutex
	out io.Writer

	tool      lipgloss.Style
	ok        lipgloss.Style
	failed    lipgloss.Style
	muted     lipgloss.Style
	assistant lipgloss.Style
	prompt    lipgloss.Style
	errorText lipgloss.Style
}

func newConsole(out io.Writer) *console {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	muted := lipgloss.Color("#9ca3d8")
	return &console{
		out:       out,
		tool:      lipgloss.NewStyle().Foreground(blue).Bold(true),
		ok:        lipgloss.NewStyle().Foreground(mint),
		failed:    lipgloss.NewStyle().Foreground(pink),
		muted:     lipgloss.NewStyle().Foreground(muted),
		assistant: lipgloss.NewStyle().PaddingLeft(2),
		prompt:    lipgloss.NewStyle().Foreground(blue).Bold(true),
		errorText: lipgloss.NewStyle().Foreground(pink).Bold(true),
	}
}

// attach subscribes the console to bus. The returned func unsubscribes.
func (c *console) attach(bus *event.Bus) func() {
	return bus.SubscribeAll(c.Publish)
}

// Publish implements event.Sink.
func (c *console) Publish(e event.Event) {
	switch d := e.Data.(type) {
	case event.ToolData:
		if e.Type == event.ToolStarted {
			c.printf("%s %s\n", c.tool.Render("⏺ "+d.Call.Name), c.muted.Render(clipLine(d.Call.Arguments(), 80)))
			return
		}
		if d.Result != nil {
			c.printf("  %s\n", c.toolResult(d.Call, *d.Result))
		}
	case event.LayerData:
		if e.Type == event.LayerStarted && d.Layer != layer.DefaultLayerName {
			c.printf("%s\n", c.muted.Render(fmt.Sprintf("[%s · %s]", d.Layer, d.Model)))
		}
	case event.SessionData:
		if e.Type == event.SessionCompacted {
			c.printf("%s\n", c.muted.Render(fmt.Sprintf("history compacted to %d messages, %d tokens", d.Messages, d.Tokens)))
		}
	case event.ServerHealthData:
		if d.State != "running" {
			msg := fmt.Sprintf("tool server %s is %s", d.Server, d.State)
			if d.Error != "" {
				msg += ": " + d.Error
			}
			c.printf("%s\n", c.failed.Render(msg))
		}
	case event.ConfigData:
		if d.Error != "" {
			c.printf("%s\n", c.failed.Render("config reload failed: "+d.Error))
		} else {
			c.printf("%s\n", c.muted.Render("config reloaded"))
		}
	}
}

func (c *console) toolResult(call types.ToolCall, r types.ToolResult) string {
	took := r.Duration.Round(time.Millisecond)
	if r.Status == types.ToolStatusOK {
		return c.ok.Render(fmt.Sprintf("⎿ ok (%v)", took)) + " " + c.muted.Render(clipLine(r.Content, 100))
	}
	return c.failed.Render(fmt.Sprintf("⎿ %s (%v): %s", r.Status, took, clipLine(r.Error, 100)))
}

// reply prints the assistant's final output.
func (c *console) reply(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	c.printf("\n%s\n\n", c.assistant.Render(text))
}

// usage prints a one-line usage summary.
func (c *console) usage(u types.Usage, tokens int) {
	line := fmt.Sprintf("%d in · %d out · %d requests · $%.4f · %d tokens in context",
		u.InputTokens, u.OutputTokens, u.Requests, u.Cost, tokens)
	c.printf("%s\n", c.muted.Render(line))
}

func (c *console) fail(err error) {
	c.printf("%s\n", c.errorText.Render("error: "+err.Error()))
}

func (c *console) info(format string, args ...any) {
	c.printf("%s\n", c.muted.Render(fmt.Sprintf(format, args...)))
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// clipLine returns the first line of s, shortened to max runes.
func clipLine(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " …"
	}
	r := []rune(s)
	if len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return s
}
