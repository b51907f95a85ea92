package storage

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// MigrationTable records which migration files have been applied.
const MigrationTable = "schema_migrations"

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// Migration is one embedded SQL file split into its Up and Down sections.
type Migration struct {
	Name string
	Up   string
	Down string
}

// ReadMigrations loads every .sql file at the root of fsys in name order.
func ReadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		up, down := SplitMigration(string(content))
		out = append(out, Migration{Name: name, Up: up, Down: down})
	}
	return out, nil
}

// SplitMigration returns the Up and Down sections. A file without markers is
// all Up.
func SplitMigration(content string) (up, down string) {
	upIdx := strings.Index(content, upMarker)
	downIdx := strings.Index(content, downMarker)
	switch {
	case upIdx == -1 && downIdx == -1:
		return content, ""
	case downIdx == -1:
		return content[upIdx+len(upMarker):], ""
	case upIdx == -1:
		return content[:downIdx], content[downIdx+len(downMarker):]
	default:
		return content[upIdx+len(upMarker) : downIdx], content[downIdx+len(downMarker):]
	}
}

// IsAlreadyExistsError reports whether an error indicates idempotent DDL success.
func IsAlreadyExistsError(err error) bool {
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "already exists") || strings.Contains(value, "duplicate column name")
}
