// Package migrations embeds SQL migration files into the binary.
package migrations

import (
	"embed"

	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
