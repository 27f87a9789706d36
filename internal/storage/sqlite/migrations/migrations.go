// Package migrations embeds the SQLite saga store schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
