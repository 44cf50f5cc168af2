package tool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFilesystem(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"main.go":              "package main\n\nfunc main() {}\n",
		"README.md":            "# readme\n",
		"pkg/util/util.go":     "package util\n",
		"node_modules/x/a.js":  "ignored",
		"docs/guide/intro.txt": "intro",
	}
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return NewFilesystem(FilesystemOptions{WorkDir: dir}), dir
}

func TestListFiles(t *testing.T) {
	s, _ := newTestFilesystem(t)
	ctx := context.Background()

	t.Run("top level", func(t *testing.T) {
		out, err := s.Call(ctx, "list_files", nil)
		require.NoError(t, err)
		assert.Contains(t, out, "[dir ] pkg")
		assert.Contains(t, out, "[file] main.go (29 bytes)")
		assert.NotContains(t, out, "node_modules")
		// directories before files
		assert.Less(t, strings.Index(out, "[dir ]"), strings.Index(out, "[file]"))
	})

	t.Run("recursive pattern", func(t *testing.T) {
		out, err := s.Call(ctx, "list_files", map[string]any{"pattern": "**/*.go"})
		require.NoError(t, err)
		assert.Contains(t, out, "[file] main.go")
		assert.Contains(t, out, "[file] pkg/util/util.go")
		assert.NotContains(t, out, "README.md")
	})

	t.Run("ignore patterns skip subtrees", func(t *testing.T) {
		out, err := s.Call(ctx, "list_files", map[string]any{"pattern": "**/*", "ignore": []string{"docs/"}})
		require.NoError(t, err)
		assert.NotContains(t, out, "intro.txt")
		assert.NotContains(t, out, "a.js")
		assert.Contains(t, out, "README.md")
	})

	t.Run("sub directory", func(t *testing.T) {
		out, err := s.Call(ctx, "list_files", map[string]any{"path": "pkg"})
		require.NoError(t, err)
		assert.Equal(t, "[dir ] util\n", out)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := s.Call(ctx, "list_files", map[string]any{"path": "nope"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read directory")
	})

	t.Run("invalid pattern", func(t *testing.T) {
		_, err := s.Call(ctx, "list_files", map[string]any{"pattern": "[a"})
		require.Error(t, err)
	})
}

func TestReadFile(t *testing.T) {
	s, dir := newTestFilesystem(t)
	ctx := context.Background()

	out, err := s.Call(ctx, "read_file", map[string]any{"path": "main.go"})
	require.NoError(t, err)
	assert.Contains(t, out, "00001| package main")
	assert.Contains(t, out, "(End of file - total 3 lines)")

	out, err = s.Call(ctx, "read_file", map[string]any{"path": "main.go", "offset": 3, "limit": 1})
	require.NoError(t, err)
	assert.Contains(t, out, "00003| func main() {}")
	assert.NotContains(t, out, "00001|")

	out, err = s.Call(ctx, "read_file", map[string]any{"path": filepath.Join(dir, "main.go"), "limit": 1})
	require.NoError(t, err)
	assert.Contains(t, out, "beyond line 1")

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SECRET=1"), 0o644))
	_, err = s.Call(ctx, "read_file", map[string]any{"path": ".env"})
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin.dat"), []byte{0, 1, 2, 3}, 0o644))
	_, err = s.Call(ctx, "read_file", map[string]any{"path": "bin.dat"})
	assert.ErrorContains(t, err, "binary")

	_, err = s.Call(ctx, "read_file", map[string]any{"path": "pkg"})
	assert.ErrorContains(t, err, "directory")
}

func TestTextEditor(t *testing.T) {
	s, dir := newTestFilesystem(t)
	ctx := context.Background()
	target := filepath.Join(dir, "notes", "todo.txt")

	out, err := s.Call(ctx, "text_editor", map[string]any{
		"command": "create", "path": "notes/todo.txt", "file_text": "one\ntwo\nthree\n",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote notes/todo.txt")
	assert.Contains(t, out, "+3 -0")

	out, err = s.Call(ctx, "text_editor", map[string]any{
		"command": "str_replace", "path": "notes/todo.txt", "old_str": "two", "new_str": "2",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "--- notes/todo.txt")
	assert.Contains(t, out, "+1 -1")
	data, _ := os.ReadFile(target)
	assert.Equal(t, "one\n2\nthree\n", string(data))

	_, err = s.Call(ctx, "text_editor", map[string]any{
		"command": "str_replace", "path": "notes/todo.txt", "old_str": "thre", "new_str": "x",
	})
	require.NoError(t, err)

	_, err = s.Call(ctx, "text_editor", map[string]any{
		"command": "str_replace", "path": "notes/todo.txt", "old_str": "onf", "new_str": "x",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `closest line: "one"`)

	_, err = s.Call(ctx, "text_editor", map[string]any{
		"command": "insert", "path": "notes/todo.txt", "insert_line": 0, "new_str": "zero",
	})
	require.NoError(t, err)
	data, _ = os.ReadFile(target)
	assert.Equal(t, "zero\none\n2\nxe\n", string(data))

	_, err = s.Call(ctx, "text_editor", map[string]any{
		"command": "insert", "path": "notes/todo.txt", "insert_line": 99, "new_str": "x",
	})
	assert.ErrorContains(t, err, "out of range")

	out, err = s.Call(ctx, "text_editor", map[string]any{"command": "view", "path": "notes/todo.txt"})
	require.NoError(t, err)
	assert.Contains(t, out, "00001| zero")

	_, err = s.Call(ctx, "text_editor", map[string]any{"command": "undo", "path": "notes/todo.txt"})
	assert.ErrorContains(t, err, "unknown command")
}

func TestTextEditor_AmbiguousReplace(t *testing.T) {
	s, dir := newTestFilesystem(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dup.txt"), []byte("a\na\n"), 0o644))
	_, err := s.Call(context.Background(), "text_editor", map[string]any{
		"command": "str_replace", "path": "dup.txt", "old_str": "a", "new_str": "b",
	})
	assert.ErrorContains(t, err, "occurs 2 times")
}

func TestHTML2MD(t *testing.T) {
	const page = `<html><head><title>Docs</title><script>alert(1)</script></head>
<body><h2>Install</h2><p>Run <code>make</code> to <strong>build</strong>.</p><ul><li>fast</li></ul></body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	s, dir := newTestFilesystem(t)
	ctx := context.Background()

	out, err := s.Call(ctx, "html2md", map[string]any{"source": srv.URL})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "# Docs"), out)
	assert.Contains(t, out, "## Install")
	assert.Contains(t, out, "**build**")
	assert.Contains(t, out, "- fast")
	assert.NotContains(t, out, "alert")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "page.html"), []byte(page), 0o644))
	local, err := s.Call(ctx, "html2md", map[string]any{"source": "page.html"})
	require.NoError(t, err)
	assert.Equal(t, out, local)

	_, err = s.Call(ctx, "html2md", map[string]any{"source": srv.URL + "/missing"})
	assert.ErrorContains(t, err, "status code: 404")
}
