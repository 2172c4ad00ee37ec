// Package migrations embeds the SQL migration files internal/migrate
// discovers and applies.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
