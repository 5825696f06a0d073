// Package migrations embeds the goose SQL migrations of the local database.
package migrations

import "embed"

// FS holds the migration files at its root.
//
//go:embed *.sql
var FS embed.FS
