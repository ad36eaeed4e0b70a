package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestSeedAdmin(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	password, err := SeedAdmin(ctx, repo, logger)
	if err != nil {
		t.Fatalf("SeedAdmin() error = %v", err)
	}
	if password == "" {
		t.Fatal("SeedAdmin() should return the generated password")
	}

	admin, err := Authenticate(ctx, repo, "admin", password)
	if err != nil {
		t.Fatalf("Authenticate(admin) error = %v", err)
	}
	if admin.Role != RoleAdmin {
		t.Errorf("Role = %q, want admin", admin.Role)
	}

	again, err := SeedAdmin(ctx, repo, logger)
	if err != nil || again != "" {
		t.Errorf("second SeedAdmin() = %q, %v; want skip", again, err)
	}
}
