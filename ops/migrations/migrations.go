// Package migrations embeds the relay's PostgreSQL schema and seed data.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql seeds/*.sql
var files embed.FS

// SQL holds the versioned *.up.sql / *.down.sql migrations.
func SQL() fs.FS { return sub("sql") }

// Seeds holds idempotent seed scripts applied after the schema.
func Seeds() fs.FS { return sub("seeds") }

func sub(dir string) fs.FS {
	f, err := fs.Sub(files, dir)
	if err != nil {
		panic(err)
	}
	return f
}
