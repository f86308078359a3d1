// Package migrations embeds the SQL schema of the bridge into the binary.
//
// Files follow the YYYYMMDD_HHMMSS_description.{up,down}.sql naming used by
// database.LoadMigrations.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/database"
)

//go:embed *.sql
var FS embed.FS

// All returns the embedded migrations, oldest first.
func All() ([]database.Migration, error) {
	return database.LoadMigrations(FS)
}
