package auth

import (
	"context"
	"errors"
	"testing"
)

func TestUserRepository_CreateAndGet(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := context.Background()

	u := createTestUser(t, repo, "alice", "pw-alice", RoleUser)
	if u.ID == "" {
		t.Fatal("Create() did not assign an ID")
	}

	byID, err := repo.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if byID.Username != "alice" || byID.Role != RoleUser || !byID.IsActive {
		t.Errorf("GetByID() = %+v", byID)
	}

	byName, err := repo.GetByUsername(ctx, "alice")
	if err != nil || byName.ID != u.ID {
		t.Errorf("GetByUsername() = %+v, %v", byName, err)
	}

	if _, err := repo.GetByID(ctx, "usr-missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByID(missing) error = %v", err)
	}
}

func TestUserRepository_DuplicateUsername(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	createTestUser(t, repo, "alice", "pw", RoleUser)

	err := repo.Create(context.Background(), &User{Username: "alice", PasswordHash: "x", Role: RoleUser})
	if !errors.Is(err, ErrUsernameExists) {
		t.Errorf("Create(duplicate) error = %v, want ErrUsernameExists", err)
	}
}

func TestUserRepository_ListAndCount(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := context.Background()

	users, err := repo.List(ctx)
	if err != nil || len(users) != 0 {
		t.Fatalf("List(empty) = %v, %v", users, err)
	}

	createTestUser(t, repo, "alice", "pw", RoleUser)
	createTestUser(t, repo, "bob", "pw", RoleOperator)

	n, err := repo.Count(ctx)
	if err != nil || n != 2 {
		t.Errorf("Count() = %d, %v; want 2", n, err)
	}
	users, err = repo.List(ctx)
	if err != nil || len(users) != 2 {
		t.Errorf("List() = %d, %v; want 2", len(users), err)
	}
}

func TestAuthenticate(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := context.Background()
	u := createTestUser(t, repo, "alice", "s3cret", RoleUser)

	got, err := Authenticate(ctx, repo, "alice", "s3cret")
	if err != nil || got.ID != u.ID {
		t.Fatalf("Authenticate() = %+v, %v", got, err)
	}

	if _, err := Authenticate(ctx, repo, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v", err)
	}
	if _, err := Authenticate(ctx, repo, "mallory", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user error = %v", err)
	}

	if err := repo.SetActive(ctx, u.ID, false); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}
	if _, err := Authenticate(ctx, repo, "alice", "s3cret"); !errors.Is(err, ErrUserInactive) {
		t.Errorf("inactive user error = %v, want ErrUserInactive", err)
	}
}

func TestUserRepository_UpdatePassword(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := context.Background()
	u := createTestUser(t, repo, "alice", "old", RoleUser)

	hash, err := HashPassword("new")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if err := repo.UpdatePassword(ctx, u.ID, hash); err != nil {
		t.Fatalf("UpdatePassword() error = %v", err)
	}
	if _, err := Authenticate(ctx, repo, "alice", "new"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
	if err := repo.UpdatePassword(ctx, "usr-missing", hash); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("UpdatePassword(missing) error = %v", err)
	}
}
