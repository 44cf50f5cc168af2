package tool

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const readDescription = `Reads a text file from the local filesystem.

Usage:
- Relative paths are resolved against the project directory
- By default, reads up to 2000 lines from the beginning
- You can optionally specify offset and limit for pagination
- Returns file contents with line numbers`

// ReadInput is the input of read_file.
type ReadInput struct {
	Path   string `json:"path"`
	Offset int    `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

const (
	defaultReadLimit = 2000
	maxLineLength    = 2000
)

func (f *filesystem) read(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params ReadInput
	if err := bind(req, &params); err != nil {
		return failure(err)
	}
	if params.Path == "" {
		return failure(fmt.Errorf("path is required"))
	}
	out, err := readLines(f.resolve(params.Path), params.Offset, params.Limit)
	if err != nil {
		return failure(err)
	}
	return mcp.NewToolResultText(out), nil
}

func readLines(path string, offset, limit int) (string, error) {
	if limit <= 0 {
		limit = defaultReadLimit
	}
	if shouldBlockEnvFile(path) {
		return "", fmt.Errorf("reading %s is not allowed", filepath.Base(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("file not found: %s", path)
	}
	if info.IsDir() {
		return "", fmt.Errorf("path is a directory, not a file: %s", path)
	}
	if isBinaryFile(path) {
		return "", fmt.Errorf("file appears to be binary")
	}

	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if offset > 0 && lineNum < offset {
			continue
		}
		if len(lines) >= limit {
			continue
		}
		line := scanner.Text()
		if len(line) > maxLineLength {
			line = line[:maxLineLength] + "..."
		}
		lines = append(lines, fmt.Sprintf("%05d| %s", lineNum, line))
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("<file>\n")
	sb.WriteString(strings.Join(lines, "\n"))
	first := offset
	if first < 1 {
		first = 1
	}
	lastRead := first - 1 + len(lines)
	if lineNum > lastRead {
		sb.WriteString(fmt.Sprintf("\n\n(File has more lines. Use 'offset' parameter to read beyond line %d)", lastRead))
	} else {
		sb.WriteString(fmt.Sprintf("\n\n(End of file - total %d lines)", lineNum))
	}
	sb.WriteString("\n</file>")
	return sb.String(), nil
}

func isBinaryFile(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	buf := make([]byte, 8000)
	n, _ := file.Read(buf)
	if n == 0 {
		return false
	}
	nonPrintable := 0
	for i := 0; i < n; i++ {
		if buf[i] == 0 {
			return true
		}
		if buf[i] < 32 && buf[i] != '\n' && buf[i] != '\r' && buf[i] != '\t' {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(n) > 0.3
}

// shouldBlockEnvFile blocks dotenv files; .env.sample and *.example are allowed.
func shouldBlockEnvFile(filePath string) bool {
	base := filepath.Base(filePath)
	for _, w := range []string{".env.sample", ".example"} {
		if strings.HasSuffix(base, w) {
			return false
		}
	}
	return base == ".env" || strings.HasPrefix(base, ".env.")
}
