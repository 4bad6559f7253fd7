// Package migrations holds the goose migrations for the SQLite write-cache
// backend.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
