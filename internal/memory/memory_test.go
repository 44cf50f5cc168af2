package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muvon/octomind-sub000/internal/storage"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	m := NewStore(storage.New(t.TempDir()))

	facts, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, facts)

	added, err := m.Add(ctx, "s1", []string{"Project uses Go 1.24", "  ", "Tests use testify"})
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, "s1", added[0].Session)
	assert.NotEmpty(t, added[0].ID)

	added, err = m.Add(ctx, "s2", []string{"project uses  go 1.24", "Deploys with make"})
	require.NoError(t, err)
	require.Len(t, added, 1, "duplicates are skipped case-insensitively")
	assert.Equal(t, "Deploys with make", added[0].Text)

	facts, err = m.List(ctx)
	require.NoError(t, err)
	require.Len(t, facts, 3)
	assert.Equal(t, "Project uses Go 1.24", facts[0].Text)

	recent, err := m.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "- Tests use testify\n- Deploys with make", recent)

	added, err = m.Add(ctx, "s3", nil)
	require.NoError(t, err)
	assert.Empty(t, added)
}
