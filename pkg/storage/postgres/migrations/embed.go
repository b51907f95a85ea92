package migrations

import "embed"

// FS contains embedded PostgreSQL migrations for the settings and permission tables.
//
//go:embed *.sql
var FS embed.FS
