// Package storage defines the persistence boundary: per-tenant settings
// documents with optimistic upserts, and command permission rows.
package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrConflict is returned when an insert races with another writer for the
	// same key.
	ErrConflict = errors.New("storage: conflict")
	// ErrNotFound is returned when a targeted row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

// SettingsRepository persists settings documents keyed by (application, tenant).
type SettingsRepository interface {
	// LoadSettings returns the stored document and whether it exists.
	LoadSettings(ctx context.Context, app string, tenantID int64) ([]byte, bool, error)
	// UpdateSettings overwrites an existing document and reports whether a row
	// was updated.
	UpdateSettings(ctx context.Context, app string, tenantID int64, data []byte) (bool, error)
	// InsertSettings creates the document, returning ErrConflict if it exists.
	InsertSettings(ctx context.Context, app string, tenantID int64, data []byte) error
}

// PermissionRow grants a role access to a command group. RoleID zero is the
// tenant administrator marker; Channels empty means every channel.
type PermissionRow struct {
	ID       int64
	TenantID int64
	Group    string
	RoleID   int64
	Channels []int64
	Settings []byte
}

type PermissionRepository interface {
	ListPermissions(ctx context.Context, tenantID int64) ([]PermissionRow, error)
	InsertPermission(ctx context.Context, row PermissionRow) (int64, error)
	// DeletePermissions removes rows for group; roleID zero matches any role.
	DeletePermissions(ctx context.Context, tenantID int64, group string, roleID int64) (int64, error)
}

type Migrator interface {
	Migrate(ctx context.Context) error
	Drop(ctx context.Context) error
}

// Store is the full persistence surface a backend provides.
type Store interface {
	SettingsRepository
	PermissionRepository
	Migrator
	io.Closer
}
