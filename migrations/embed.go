// Package migrations embeds the schema and seed SQL files.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql seeds/*.sql
var files embed.FS

// SQL holds NNNN_name.up.sql / .down.sql pairs.
func SQL() fs.FS { return sub("sql") }

// Seeds holds idempotent seed files.
func Seeds() fs.FS { return sub("seeds") }

func sub(dir string) fs.FS {
	f, err := fs.Sub(files, dir)
	if err != nil {
		panic(err)
	}
	return f
}
