package migrations

import "embed"

// FS contains embedded SQLite migrations for the settings and permission tables.
//
//go:embed *.sql
var FS embed.FS
