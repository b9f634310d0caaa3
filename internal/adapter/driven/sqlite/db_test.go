package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesDirectoryAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "prinsights.sqlite")

	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.Equal(t, path, db.Path())

	counts, err := NewStore(db).Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.PullRequests)
}

func TestOpen_IsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prinsights.sqlite")

	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}
