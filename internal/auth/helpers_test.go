package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/Kenox00/door-lock-sub001/internal/infrastructure/database"
	_ "github.com/Kenox00/door-lock-sub001/migrations"
)

// testDB opens a migrated database in a temp directory.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "auth.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db.DB
}

// createTestUser inserts an active account with the given password.
func createTestUser(t *testing.T, repo UserRepository, username, password string, role Role) *User {
	t.Helper()

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	u := &User{
		Username:     username,
		DisplayName:  username,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("Create(%s) error = %v", username, err)
	}
	return u
}
