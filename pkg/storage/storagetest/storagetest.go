// Package storagetest holds the behavioural checks every storage backend must pass.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/guildclaw/pkg/storage"
)

// Run exercises a fresh, migrated store returned by open.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Run("SettingsMissing", func(t *testing.T) {
		s := open(t)
		_, ok, err := s.LoadSettings(context.Background(), "moderation", 1)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("SettingsUpdateThenInsert", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		updated, err := s.UpdateSettings(ctx, "moderation", 1, []byte(`{"a":1}`))
		require.NoError(t, err)
		assert.False(t, updated, "update of a missing row")

		require.NoError(t, s.InsertSettings(ctx, "moderation", 1, []byte(`{"a":1}`)))
		err = s.InsertSettings(ctx, "moderation", 1, []byte(`{"a":2}`))
		assert.True(t, errors.Is(err, storage.ErrConflict), "second insert: %v", err)

		updated, err = s.UpdateSettings(ctx, "moderation", 1, []byte(`{"a":3}`))
		require.NoError(t, err)
		assert.True(t, updated)

		data, ok, err := s.LoadSettings(ctx, "moderation", 1)
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"a":3}`, string(data))

		_, ok, err = s.LoadSettings(ctx, "log", 1)
		require.NoError(t, err)
		assert.False(t, ok, "documents are scoped by application")
	})

	t.Run("SettingsConcurrentInsert", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			inserted  int
			conflicts int
		)
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.InsertSettings(ctx, "race", 9, []byte(`{}`))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					inserted++
				case errors.Is(err, storage.ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected insert error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, inserted)
		assert.Equal(t, writers-1, conflicts)
	})

	t.Run("Permissions", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		id1, err := s.InsertPermission(ctx, storage.PermissionRow{TenantID: 1, Group: "moderation", RoleID: 100})
		require.NoError(t, err)
		id2, err := s.InsertPermission(ctx, storage.PermissionRow{
			TenantID: 1,
			Group:    "moderation",
			RoleID:   101,
			Channels: []int64{7, 8},
			Settings: []byte(`{"reply_class":"direct"}`),
		})
		require.NoError(t, err)
		_, err = s.InsertPermission(ctx, storage.PermissionRow{TenantID: 2, Group: "moderation", RoleID: 100})
		require.NoError(t, err)
		assert.NotEqual(t, id1, id2)

		rows, err := s.ListPermissions(ctx, 1)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "moderation", rows[0].Group)
		assert.Empty(t, rows[0].Channels)
		assert.Equal(t, []int64{7, 8}, rows[1].Channels)
		assert.JSONEq(t, `{"reply_class":"direct"}`, string(rows[1].Settings))

		n, err := s.DeletePermissions(ctx, 1, "moderation", 101)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = s.DeletePermissions(ctx, 1, "moderation", 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		rows, err = s.ListPermissions(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, rows, 1, "other tenants are untouched")
	})

	t.Run("MigrateIsIdempotent", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Migrate(context.Background()))
		require.NoError(t, s.InsertSettings(context.Background(), "x", 1, []byte(`{}`)))
	})
}
