// Package migrations compiles the schema migration files into the binary
// so a deployed Verdant node never depends on loose SQL files. Importing
// the package (blank import from the entrypoint) wires the embedded
// filesystem into the database layer.
package migrations

import (
	"embed"

	"github.com/verdantlab/verdant-core/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.MigrationsFS = files
	database.MigrationsDir = "." // embedded paths are relative to this package
}
