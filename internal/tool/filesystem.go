package tool

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// FilesystemOptions configures the filesystem server.
type FilesystemOptions struct {
	WorkDir string
	// HTTPClient fetches html2md URLs. Defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// NewFilesystem creates the filesystem server offering list_files, read_file,
// text_editor and html2md.
func NewFilesystem(opts FilesystemOptions) *Server {
	fs := &filesystem{workDir: opts.WorkDir, client: opts.HTTPClient}
	if fs.client == nil {
		fs.client = &http.Client{Timeout: 30 * time.Second}
	}

	s := NewServer("filesystem")
	s.AddTool(mcp.NewTool("list_files",
		mcp.WithDescription(listDescription),
		mcp.WithString("path",
			mcp.Description("Directory to list, relative to the project directory or absolute"),
		),
		mcp.WithString("pattern",
			mcp.Description("Glob pattern such as **/*.go; when set the listing is recursive"),
		),
		mcp.WithArray("ignore",
			mcp.Description("List of glob patterns to ignore"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	), fs.list)
	s.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription(readDescription),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("The path of the file to read"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Line number to start reading from"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of lines to read (default: 2000)"),
		),
	), fs.read)
	s.AddTool(mcp.NewTool("text_editor",
		mcp.WithDescription(editorDescription),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The edit to perform"),
			mcp.Enum("view", "create", "str_replace", "insert"),
		),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("The file to operate on"),
		),
		mcp.WithString("file_text", mcp.Description("Content of the new file (create)")),
		mcp.WithString("old_str", mcp.Description("Exact text to replace (str_replace)")),
		mcp.WithString("new_str", mcp.Description("Replacement or inserted text (str_replace, insert)")),
		mcp.WithNumber("insert_line", mcp.Description("Line after which new_str is inserted, 0 for the top (insert)")),
	), fs.edit)
	s.AddTool(mcp.NewTool("html2md",
		mcp.WithDescription(html2mdDescription),
		mcp.WithString("source",
			mcp.Required(),
			mcp.Description("An http(s) URL or a path to a local HTML file"),
		),
	), fs.html2md)
	return s
}

type filesystem struct {
	workDir string
	client  *http.Client
}

// resolve makes p absolute against the working directory.
func (f *filesystem) resolve(p string) string {
	if p == "" {
		return f.workDir
	}
	if filepath.IsAbs(p) || f.workDir == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(f.workDir, p)
}
