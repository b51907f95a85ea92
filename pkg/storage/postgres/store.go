// Package postgres provides the PostgreSQL-backed storage implementation.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tinyland-inc/guildclaw/pkg/storage"
	"github.com/tinyland-inc/guildclaw/pkg/storage/postgres/migrations"
)

const uniqueViolation = "23505"

// Store persists settings and permissions in PostgreSQL through a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Migrate(ctx context.Context) error {
	list, err := storage.ReadMigrations(migrations.FS)
	if err != nil {
		return err
	}

	createSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at BIGINT NOT NULL
);
`, storage.MigrationTable)
	if _, err := s.pool.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, m := range list {
		if strings.TrimSpace(m.Up) == "" {
			continue
		}
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			var found int
			err := tx.QueryRow(ctx, "SELECT 1 FROM "+storage.MigrationTable+" WHERE name = $1", m.Name).Scan(&found)
			if err == nil {
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("check migration: %w", err)
			}
			if _, err := tx.Exec(ctx, m.Up); err != nil {
				return fmt.Errorf("exec migration: %w", err)
			}
			_, err = tx.Exec(ctx,
				"INSERT INTO "+storage.MigrationTable+" (name, applied_at) VALUES ($1, $2) ON CONFLICT DO NOTHING",
				m.Name, time.Now().UTC().UnixMilli(),
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
	}
	return nil
}

func (s *Store) Drop(ctx context.Context) error {
	list, err := storage.ReadMigrations(migrations.FS)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, m := range slices.Backward(list) {
			if strings.TrimSpace(m.Down) == "" {
				continue
			}
			if _, err := tx.Exec(ctx, m.Down); err != nil {
				return fmt.Errorf("drop migration %s: %w", m.Name, err)
			}
		}
		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+storage.MigrationTable); err != nil {
			return fmt.Errorf("drop migration table: %w", err)
		}
		return nil
	})
}

func (s *Store) LoadSettings(ctx context.Context, app string, tenantID int64) ([]byte, bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM settings WHERE guild_id = $1 AND app = $2`,
		tenantID, app,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load settings %s/%d: %w", app, tenantID, err)
	}
	return data, true, nil
}

func (s *Store) UpdateSettings(ctx context.Context, app string, tenantID int64, data []byte) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE settings SET data = $1 WHERE guild_id = $2 AND app = $3`,
		data, tenantID, app,
	)
	if err != nil {
		return false, fmt.Errorf("update settings %s/%d: %w", app, tenantID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) InsertSettings(ctx context.Context, app string, tenantID int64, data []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (guild_id, app, data) VALUES ($1, $2, $3)`,
		tenantID, app, data,
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
	rows, err := s.pool.Query(ctx,
		`SELECT permission_id, group_name, role_id, channels, settings
		   FROM command_permission
		  WHERE guild_id = $1
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
		if err := rows.Scan(&row.ID, &row.Group, &row.RoleID, &row.Channels, &row.Settings); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		if len(row.Channels) == 0 {
			row.Channels = nil
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permissions: %w", err)
	}
	return out, nil
}

func (s *Store) InsertPermission(ctx context.Context, row storage.PermissionRow) (int64, error) {
	settings := row.Settings
	if len(settings) == 0 {
		settings = []byte("{}")
	}
	channels := row.Channels
	if channels == nil {
		channels = []int64{}
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO command_permission (guild_id, group_name, role_id, channels, settings)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING permission_id`,
		row.TenantID, row.Group, row.RoleID, channels, settings,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert permission: %w", err)
	}
	return id, nil
}

func (s *Store) DeletePermissions(ctx context.Context, tenantID int64, group string, roleID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM command_permission
		  WHERE guild_id = $1 AND group_name = $2 AND ($3::bigint = 0 OR role_id = $3::bigint)`,
		tenantID, group, roleID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete permissions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
