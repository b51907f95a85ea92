// Package sqlite provides the SQLite-backed storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/tinyland-inc/guildclaw/pkg/storage"
	"github.com/tinyland-inc/guildclaw/pkg/storage/sqlite/migrations"
)

// Store persists settings and permissions in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens a SQLite store at path. Migrations are not applied; call Migrate.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// OpenAndMigrate opens the store and applies embedded migrations.
func OpenAndMigrate(ctx context.Context, path string) (*Store, error) {
	s, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Migrate applies embedded migrations at most once per file.
func (s *Store) Migrate(ctx context.Context) error {
	list, err := storage.ReadMigrations(migrations.FS)
	if err != nil {
		return err
	}

	createSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`, storage.MigrationTable)
	if _, err := s.sqlDB.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, m := range list {
		applied, err := s.isApplied(ctx, m.Name)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", m.Name, err)
		}
		if applied || strings.TrimSpace(m.Up) == "" {
			continue
		}

		tx, err := s.sqlDB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration transaction %s: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, m.Up); err != nil && !storage.IsAlreadyExistsError(err) {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT OR IGNORE INTO %s (name, applied_at) VALUES (?, ?)", storage.MigrationTable),
			m.Name,
			time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.Name, err)
		}
	}
	return nil
}

// Drop runs every Down section in reverse order and forgets applied migrations.
func (s *Store) Drop(ctx context.Context) error {
	list, err := storage.ReadMigrations(migrations.FS)
	if err != nil {
		return err
	}
	for _, m := range slices.Backward(list) {
		if strings.TrimSpace(m.Down) == "" {
			continue
		}
		if _, err := s.sqlDB.ExecContext(ctx, m.Down); err != nil {
			return fmt.Errorf("drop migration %s: %w", m.Name, err)
		}
	}
	if _, err := s.sqlDB.ExecContext(ctx, "DROP TABLE IF EXISTS "+storage.MigrationTable); err != nil {
		return fmt.Errorf("drop migration table: %w", err)
	}
	return nil
}

func (s *Store) isApplied(ctx context.Context, name string) (bool, error) {
	var found int
	err := s.sqlDB.QueryRowContext(ctx, "SELECT 1 FROM "+storage.MigrationTable+" WHERE name = ?", name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) LoadSettings(ctx context.Context, app string, tenantID int64) ([]byte, bool, error) {
	var data string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT data FROM settings WHERE guild_id = ? AND app = ?`,
		tenantID, app,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load settings %s/%d: %w", app, tenantID, err)
	}
	return []byte(data), true, nil
}

func (s *Store) UpdateSettings(ctx context.Context, app string, tenantID int64, data []byte) (bool, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE settings SET data = ? WHERE guild_id = ? AND app = ?`,
		string(data), tenantID, app,
	)
	if err != nil {
		return false, fmt.Errorf("update settings %s/%d: %w", app, tenantID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update settings %s/%d: %w", app, tenantID, err)
	}
	return n > 0, nil
}

func (s *Store) InsertSettings(ctx context.Context, app string, tenantID int64, data []byte) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO settings (guild_id, app, data) VALUES (?, ?, ?)`,
		tenantID, app, string(data),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("insert settings %s/%d: %w", app, tenantID, err)
	}
	return nil
}

func (s *Store) ListPermissions(ctx context.Context, tenantID int64) ([]storage.PermissionRow, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT permission_id, group_name, role_id, channels, settings
		   FROM command_permission
		  WHERE guild_id = ?
		  ORDER BY permission_id`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list permissions %d: %w", tenantID, err)
	}
	defer rows.Close()

	var out []storage.PermissionRow
	for rows.Next() {
		row := storage.PermissionRow{TenantID: tenantID}
		var channels, settings string
		if err := rows.Scan(&row.ID, &row.Group, &row.RoleID, &channels, &settings); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		if row.Channels, err = storage.DecodeChannels(channels); err != nil {
			return nil, err
		}
		row.Settings = []byte(settings)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permissions: %w", err)
	}
	return out, nil
}

func (s *Store) InsertPermission(ctx context.Context, row storage.PermissionRow) (int64, error) {
	settings := string(row.Settings)
	if settings == "" {
		settings = "{}"
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO command_permission (guild_id, group_name, role_id, channels, settings)
		 VALUES (?, ?, ?, ?, ?)`,
		row.TenantID, row.Group, row.RoleID, storage.EncodeChannels(row.Channels), settings,
	)
	if err != nil {
		return 0, fmt.Errorf("insert permission: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert permission: %w", err)
	}
	return id, nil
}

func (s *Store) DeletePermissions(ctx context.Context, tenantID int64, group string, roleID int64) (int64, error) {
	query := `DELETE FROM command_permission WHERE guild_id = ? AND group_name = ?`
	args := []any{tenantID, group}
	if roleID != 0 {
		query += ` AND role_id = ?`
		args = append(args, roleID)
	}
	res, err := s.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete permissions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete permissions: %w", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
