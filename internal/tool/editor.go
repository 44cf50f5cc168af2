package tool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/mark3labs/mcp-go/mcp"
)

const editorDescription = `Views, creates and edits text files.

Commands:
- view: show the file with line numbers
- create: write file_text to a new or existing file
- str_replace: replace the single exact occurrence of old_str with new_str
- insert: insert new_str after line insert_line (0 inserts at the top)

Edits return a diff of the change.`

// EditorInput is the input of text_editor.
type EditorInput struct {
	Command    string `json:"command"`
	Path       string `json:"path"`
	FileText   string `json:"file_text,omitempty"`
	OldStr     string `json:"old_str,omitempty"`
	NewStr     string `json:"new_str,omitempty"`
	InsertLine int    `json:"insert_line,omitempty"`
}

func (f *filesystem) edit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params EditorInput
	if err := bind(req, &params); err != nil {
		return failure(err)
	}
	if params.Path == "" {
		return failure(errors.New("path is required"))
	}
	path := f.resolve(params.Path)

	var (
		out string
		err error
	)
	switch params.Command {
	case "view":
		out, err = readLines(path, 0, 0)
	case "create":
		out, err = f.create(path, params.FileText)
	case "str_replace":
		out, err = f.replace(path, params.OldStr, params.NewStr)
	case "insert":
		out, err = f.insert(path, params.InsertLine, params.NewStr)
	default:
		err = fmt.Errorf("unknown command %q: expected view, create, str_replace or insert", params.Command)
	}
	if err != nil {
		return failure(err)
	}
	return mcp.NewToolResultText(out), nil
}

func (f *filesystem) create(path, content string) (string, error) {
	before := ""
	if data, err := os.ReadFile(path); err == nil {
		before = string(data)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	d := lineDiff(path, before, content, f.workDir)
	return fmt.Sprintf("Wrote %s\n%s", relativePath(path, f.workDir), d), nil
}

func (f *filesystem) replace(path, oldStr, newStr string) (string, error) {
	if oldStr == "" {
		return "", errors.New("old_str is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("file not found: %s", path)
	}
	before := string(data)

	switch n := strings.Count(before, oldStr); {
	case n == 0:
		msg := "old_str not found in file"
		if hint := closestLine(before, oldStr); hint != "" {
			msg += fmt.Sprintf("; closest line: %q", hint)
		}
		return "", errors.New(msg)
	case n > 1:
		return "", fmt.Errorf("old_str occurs %d times; include more context to make it unique", n)
	}

	after := strings.Replace(before, oldStr, newStr, 1)
	if err := os.WriteFile(path, []byte(after), 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return lineDiff(path, before, after, f.workDir).String(), nil
}

func (f *filesystem) insert(path string, line int, text string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("file not found: %s", path)
	}
	before := string(data)
	lines := strings.SplitAfter(before, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if line < 0 || line > len(lines) {
		return "", fmt.Errorf("insert_line %d out of range [0, %d]", line, len(lines))
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if line > 0 && !strings.HasSuffix(lines[line-1], "\n") {
		lines[line-1] += "\n"
	}

	var sb strings.Builder
	for _, l := range lines[:line] {
		sb.WriteString(l)
	}
	sb.WriteString(text)
	for _, l := range lines[line:] {
		sb.WriteString(l)
	}
	after := sb.String()
	if err := os.WriteFile(path, []byte(after), 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return lineDiff(path, before, after, f.workDir).String(), nil
}

// closestLine finds the file line nearest to the first line of needle.
func closestLine(content, needle string) string {
	target := strings.TrimSpace(strings.SplitN(needle, "\n", 2)[0])
	if target == "" {
		return ""
	}
	best, bestDist := "", -1
	for _, l := range strings.Split(content, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		d := levenshtein.ComputeDistance(target, l)
		if bestDist < 0 || d < bestDist {
			best, bestDist = l, d
		}
	}
	if bestDist < 0 || bestDist > len(target)/2 {
		return ""
	}
	return best
}
