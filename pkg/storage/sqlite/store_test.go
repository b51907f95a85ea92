package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/guildclaw/pkg/storage"
	"github.com/tinyland-inc/guildclaw/pkg/storage/storagetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := OpenAndMigrate(context.Background(), filepath.Join(t.TempDir(), "guildclaw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return openTemp(t) })
}

func TestDropRemovesTables(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.Drop(ctx))
	_, _, err := s.LoadSettings(ctx, "moderation", 1)
	assert.Error(t, err, "settings table should be gone")

	require.NoError(t, s.Migrate(ctx))
	_, ok, err := s.LoadSettings(ctx, "moderation", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}
