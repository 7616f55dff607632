// Package migrations embeds the SQL schema files for both storage backends.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

// SQLite returns the local cache migrations.
func SQLite() (fs.FS, error) {
	return fs.Sub(FS, "sqlite")
}

// Postgres returns the remote document store migrations.
func Postgres() (fs.FS, error) {
	return fs.Sub(FS, "postgres")
}
