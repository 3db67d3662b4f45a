package repository

import (
	"context"
	"testing"

	"crmsync-backend/internal/auth/domain"
	"crmsync-backend/pkg/database"
)

func TestDeviceTokenRepository(t *testing.T) {
	db, err := database.Open("sqlite::memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(&domain.DeviceToken{}); err != nil {
		t.Fatal(err)
	}
	repo := NewDeviceTokenRepository(db)
	ctx := context.Background()

	if err := repo.Save(ctx, "u1", "tok-a", "web", "firefox"); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := repo.Save(ctx, "u1", "tok-b", "android", ""); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	// The same device signs in as another user.
	if err := repo.Save(ctx, "u2", "tok-a", "web", "firefox"); err != nil {
		t.Fatalf("Save() re-register error: %v", err)
	}

	u1, err := repo.TokensByUserID(ctx, "u1")
	if err != nil || len(u1) != 1 || u1[0] != "tok-b" {
		t.Errorf("TokensByUserID(u1) = %v, %v; want [tok-b]", u1, err)
	}
	u2, _ := repo.TokensByUserID(ctx, "u2")
	if len(u2) != 1 || u2[0] != "tok-a" {
		t.Errorf("TokensByUserID(u2) = %v, want [tok-a]", u2)
	}

	if deleted, err := repo.DeleteForUser(ctx, "u1", "tok-a"); err != nil || deleted {
		t.Errorf("DeleteForUser(other user's token) = %v, %v; want false", deleted, err)
	}
	if err := repo.Delete(ctx, "tok-b"); err != nil {
		t.Fatal(err)
	}
	if u1, _ := repo.TokensByUserID(ctx, "u1"); len(u1) != 0 {
		t.Errorf("tokens after delete = %v", u1)
	}
}
