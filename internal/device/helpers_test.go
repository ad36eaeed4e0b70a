package device

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/database"
	_ "github.com/Kenox00/door-lock-sub001/migrations"
)

// setupTestDB opens a migrated database in a temp directory.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "devices.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// testDevice creates a device for testing.
func testDevice(id, owner string) *Device {
	return &Device{
		ID:      id,
		Name:    "Lock " + id,
		OwnerID: owner,
	}
}

func intPtr(v int) *int { return &v }
