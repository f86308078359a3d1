package device

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-lifx/migrations"
)

// setupTestDB opens a temporary SQLite database with the embedded
// migrations applied.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "device.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close() //nolint:errcheck // test cleanup
	})

	all, err := migrations.All()
	if err != nil {
		t.Fatalf("failed to load migrations: %v", err)
	}
	if err := db.Migrate(context.Background(), all); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db.DB
}

// testDevice creates a discovered device for testing.
func testDevice(serial, host string) *Device {
	return &Device{
		Serial: serial,
		Host:   host,
	}
}

// mustUpsert stores d or fails the test.
func mustUpsert(t *testing.T, repo *SQLiteRepository, d *Device) {
	t.Helper()
	if err := repo.Upsert(context.Background(), d); err != nil {
		t.Fatalf("Upsert(%s) error = %v", d.Serial, err)
	}
}
