// Package memory is an in-process storage backend. Nothing survives a restart.
package memory

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/tinyland-inc/guildclaw/pkg/storage"
)

type settingsKey struct {
	app      string
	tenantID int64
}

type Store struct {
	mu          sync.Mutex
	settings    map[settingsKey][]byte
	permissions []storage.PermissionRow
	nextID      int64
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{settings: make(map[settingsKey][]byte)}
}

func (s *Store) LoadSettings(ctx context.Context, app string, tenantID int64) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.settings[settingsKey{app, tenantID}]
	return bytes.Clone(data), ok, nil
}

func (s *Store) UpdateSettings(ctx context.Context, app string, tenantID int64, data []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := settingsKey{app, tenantID}
	if _, ok := s.settings[key]; !ok {
		return false, nil
	}
	s.settings[key] = bytes.Clone(data)
	return true, nil
}

func (s *Store) InsertSettings(ctx context.Context, app string, tenantID int64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := settingsKey{app, tenantID}
	if _, ok := s.settings[key]; ok {
		return storage.ErrConflict
	}
	s.settings[key] = bytes.Clone(data)
	return nil
}

func (s *Store) ListPermissions(ctx context.Context, tenantID int64) ([]storage.PermissionRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.PermissionRow
	for _, row := range s.permissions {
		if row.TenantID == tenantID {
			out = append(out, cloneRow(row))
		}
	}
	return out, nil
}

func (s *Store) InsertPermission(ctx context.Context, row storage.PermissionRow) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	row = cloneRow(row)
	row.ID = s.nextID
	s.permissions = append(s.permissions, row)
	return row.ID, nil
}

func (s *Store) DeletePermissions(ctx context.Context, tenantID int64, group string, roleID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.permissions)
	s.permissions = slices.DeleteFunc(s.permissions, func(row storage.PermissionRow) bool {
		return row.TenantID == tenantID && row.Group == group && (roleID == 0 || row.RoleID == roleID)
	})
	return int64(before - len(s.permissions)), nil
}

func (s *Store) Migrate(context.Context) error { return nil }

func (s *Store) Drop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.settings)
	s.permissions = nil
	return nil
}

func (s *Store) Close() error { return nil }

func cloneRow(row storage.PermissionRow) storage.PermissionRow {
	row.Channels = slices.Clone(row.Channels)
	row.Settings = bytes.Clone(row.Settings)
	return row
}
