// Package migrations embeds the versioned SQL schema files.
package migrations

import (
	"embed"
	"io/fs"
)

// Postgres holds the PostgreSQL migrations under postgres/.
//
//go:embed postgres/*.sql
var Postgres embed.FS

// PostgresDir returns the PostgreSQL migrations rooted at their directory.
func PostgresDir() fs.FS {
	sub, err := fs.Sub(Postgres, "postgres")
	if err != nil {
		panic(err)
	}
	return sub
}
