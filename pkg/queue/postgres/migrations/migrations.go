// Package migrations embeds the goose migrations for the Postgres queue store.
package migrations

import "embed"

// Files holds the SQL migrations.
//
//go:embed *.sql
var Files embed.FS
