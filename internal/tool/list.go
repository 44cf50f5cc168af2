package tool

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mark3labs/mcp-go/mcp"
)

const listDescription = `Lists files and directories in a specified path.

Usage:
- Returns file names, types (file/directory), and sizes
- Without a pattern only the immediate entries are listed
- With a glob pattern (for example **/*.go) matching files are listed recursively
- Common build, cache and dependency directories are skipped`

// ListInput is the input of list_files.
type ListInput struct {
	Path    string   `json:"path,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	Ignore  []string `json:"ignore,omitempty"`
}

// FileEntry is one listed file or directory.
type FileEntry struct {
	Name        string
	IsDirectory bool
	Size        int64
}

var defaultIgnorePatterns = []string{
	"node_modules/",
	"__pycache__/",
	".git/",
	"dist/",
	"build/",
	"target/",
	"vendor/",
	"bin/",
	"obj/",
	".idea/",
	".vscode/",
	".zig-cache/",
	"zig-out",
	".coverage",
	"coverage/",
	"tmp/",
	"temp/",
	".cache/",
	"cache/",
	"logs/",
	".venv/",
	"venv/",
	"env/",
}

// maxListEntries bounds a recursive listing.
const maxListEntries = 1000

func (f *filesystem) list(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params ListInput
	if err := bind(req, &params); err != nil {
		return failure(err)
	}
	root := f.resolve(params.Path)
	ignore := append(append([]string{}, defaultIgnorePatterns...), params.Ignore...)

	var (
		entries []FileEntry
		err     error
	)
	if params.Pattern == "" {
		entries, err = listDir(root, ignore)
	} else {
		entries, err = listGlob(ctx, root, params.Pattern, ignore)
	}
	if err != nil {
		return failure(err)
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("(no entries)"), nil
	}
	return mcp.NewToolResultText(formatEntries(entries)), nil
}

func listDir(root string, ignore []string) ([]FileEntry, error) {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	var out []FileEntry
	for _, entry := range dirEntries {
		if shouldIgnore(entry.Name(), entry.IsDir(), ignore) {
			continue
		}
		var size int64
		if info, err := entry.Info(); err == nil {
			size = info.Size()
		}
		out = append(out, FileEntry{Name: entry.Name(), IsDirectory: entry.IsDir(), Size: size})
	}
	sortEntries(out)
	return out, nil
}

func listGlob(ctx context.Context, root, pattern string, ignore []string) ([]FileEntry, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern: %s", pattern)
	}
	fsys := os.DirFS(root)
	var out []FileEntry
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p == "." {
			return nil
		}
		if shouldIgnore(d.Name(), d.IsDir(), ignore) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := doublestar.Match(pattern, p); !ok {
			return nil
		}
		var size int64
		if info, err := d.Info(); err == nil {
			size = info.Size()
		}
		out = append(out, FileEntry{Name: p, Size: size})
		if len(out) >= maxListEntries {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEntries(out)
	return out, nil
}

func sortEntries(entries []FileEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDirectory != entries[j].IsDirectory {
			return entries[i].IsDirectory
		}
		return entries[i].Name < entries[j].Name
	})
}

func formatEntries(entries []FileEntry) string {
	var sb strings.Builder
	for _, e := range entries {
		typeStr := "file"
		if e.IsDirectory {
			typeStr = "dir "
		}
		sb.WriteString(fmt.Sprintf("[%s] %s", typeStr, e.Name))
		if !e.IsDirectory {
			sb.WriteString(fmt.Sprintf(" (%d bytes)", e.Size))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// shouldIgnore checks a single path element against the ignore patterns.
// Patterns ending in "/" only match directories.
func shouldIgnore(name string, isDir bool, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.HasSuffix(pattern, "/") {
			if isDir && name == strings.TrimSuffix(pattern, "/") {
				return true
			}
			continue
		}
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
