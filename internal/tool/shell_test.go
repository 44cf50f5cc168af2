package tool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShell(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0o644))
	s := NewDeveloper(DeveloperOptions{WorkDir: dir, Env: []string{"OCTOMIND_TEST_VAR=present"}})

	tests := []struct {
		name     string
		params   map[string]any
		contains []string
		wantErr  string
	}{
		{
			name:     "echo",
			params:   map[string]any{"command": "echo hello world"},
			contains: []string{"hello world"},
		},
		{
			name:     "runs in work dir",
			params:   map[string]any{"command": "ls"},
			contains: []string{"marker.txt"},
		},
		{
			name:     "extra env",
			params:   map[string]any{"command": "echo $OCTOMIND_TEST_VAR"},
			contains: []string{"present"},
		},
		{
			name:     "non-zero exit",
			params:   map[string]any{"command": "echo oops; exit 3"},
			contains: []string{"oops", "Exit code: 3"},
		},
		{
			name:     "stderr captured",
			params:   map[string]any{"command": "echo problem >&2"},
			contains: []string{"problem"},
		},
		{
			name:     "no output",
			params:   map[string]any{"command": "true"},
			contains: []string{"(no output)"},
		},
		{
			name:    "syntax error",
			params:  map[string]any{"command": "if then fi ("},
			wantErr: "failed to parse command",
		},
		{
			name:    "empty command",
			params:  map[string]any{"command": "  "},
			wantErr: "command is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := s.Call(context.Background(), "shell", tt.params)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			for _, c := range tt.contains {
				assert.Contains(t, out, c)
			}
		})
	}
}

func TestShell_Timeout(t *testing.T) {
	s := NewDeveloper(DeveloperOptions{WorkDir: t.TempDir()})
	start := time.Now()
	out, err := s.Call(context.Background(), "shell", map[string]any{"command": "sleep 5", "timeout": 100})
	require.NoError(t, err)
	assert.Contains(t, out, "timed out")
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestShell_Cancelled(t *testing.T) {
	s := NewDeveloper(DeveloperOptions{WorkDir: t.TempDir()})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := s.Call(ctx, "shell", map[string]any{"command": "sleep 5"})
	assert.ErrorIs(t, err, context.Canceled)
}
