package repository

import (
	"context"
	"testing"
	"time"

	"crmsync-backend/internal/mailbox/domain"
	"crmsync-backend/pkg/database"

	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open("sqlite::memory:")
	if err != nil {
		t.Fatalf("database.Open() error: %v", err)
	}
	if err := db.AutoMigrate(&domain.EmailAccount{}, &domain.Email{}, &domain.IndexHistory{}); err != nil {
		t.Fatalf("AutoMigrate() error: %v", err)
	}
	return db
}

func TestEmailCreateIsIdempotent(t *testing.T) {
	repo := NewEmailRepository(newTestDB(t))
	ctx := context.Background()

	first := &domain.Email{AccountID: "acc", UserID: "u", MessageID: "m1", From: "a@b.com", To: domain.StringArray{"c@d.com"}}
	inserted, err := repo.Create(ctx, first)
	if err != nil || !inserted {
		t.Fatalf("first Create() = %v, %v; want inserted", inserted, err)
	}

	dup := &domain.Email{AccountID: "acc", UserID: "u", MessageID: "m1", From: "a@b.com"}
	inserted, err = repo.Create(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate Create() error: %v", err)
	}
	if inserted {
		t.Error("duplicate Create() reported an insert")
	}

	// Same message id on another account is a different email.
	other := &domain.Email{AccountID: "acc-2", UserID: "u", MessageID: "m1", From: "a@b.com"}
	if inserted, err := repo.Create(ctx, other); err != nil || !inserted {
		t.Errorf("other account Create() = %v, %v; want inserted", inserted, err)
	}

	exists, err := repo.ExistsByMessageID(ctx, "acc", "m1")
	if err != nil || !exists {
		t.Errorf("ExistsByMessageID() = %v, %v", exists, err)
	}
}

func TestEmailFindByThreadID(t *testing.T) {
	repo := NewEmailRepository(newTestDB(t))
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"late", "early"} {
		e := &domain.Email{AccountID: "acc", UserID: "u", MessageID: id, ThreadID: "t1", From: "a@b.com",
			SentAt: base.Add(time.Duration(1-i) * time.Hour), ContactIDs: domain.StringArray{"c-" + id}}
		if _, err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	emails, err := repo.FindByThreadID(ctx, "acc", "t1")
	if err != nil {
		t.Fatalf("FindByThreadID() error: %v", err)
	}
	if len(emails) != 2 || emails[0].MessageID != "early" {
		t.Fatalf("FindByThreadID() order wrong: %+v", emails)
	}
	if len(emails[0].ContactIDs) != 1 || emails[0].ContactIDs[0] != "c-early" {
		t.Errorf("ContactIDs round trip = %v", emails[0].ContactIDs)
	}
}

func TestAccountFindDueForSync(t *testing.T) {
	repo := NewAccountRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now()
	recent := now.Add(-time.Minute)
	stale := now.Add(-time.Hour)

	accounts := []*domain.EmailAccount{
		{ID: "never", UserID: "u", Provider: domain.ProviderGmail, EmailAddress: "a@x.com", IsActive: true},
		{ID: "stale", UserID: "u", Provider: domain.ProviderGmail, EmailAddress: "b@x.com", IsActive: true, LastSyncAt: &stale},
		{ID: "recent", UserID: "u", Provider: domain.ProviderGmail, EmailAddress: "c@x.com", IsActive: true, LastSyncAt: &recent},
		{ID: "inactive", UserID: "u", Provider: domain.ProviderGmail, EmailAddress: "d@x.com", IsActive: false},
	}
	for _, a := range accounts {
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	due, err := repo.FindDueForSync(ctx, now.Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("FindDueForSync() error: %v", err)
	}
	if len(due) != 2 || due[0].ID != "never" || due[1].ID != "stale" {
		ids := make([]string, len(due))
		for i, a := range due {
			ids[i] = a.ID
		}
		t.Errorf("FindDueForSync() = %v, want [never stale]", ids)
	}
}

func TestAccountFindByEmailAddress(t *testing.T) {
	repo := NewAccountRepository(newTestDB(t))
	ctx := context.Background()

	accounts := []*domain.EmailAccount{
		{ID: "gmail", UserID: "u", Provider: domain.ProviderGmail, EmailAddress: "Owner@Example.com", IsActive: true},
		{ID: "outlook", UserID: "u", Provider: domain.ProviderOutlook, EmailAddress: "owner@example.com", IsActive: true},
		{ID: "off", UserID: "u2", Provider: domain.ProviderGmail, EmailAddress: "owner@example.com", IsActive: false},
	}
	for _, a := range accounts {
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	found, err := repo.FindByEmailAddress(ctx, domain.ProviderGmail, "owner@example.com")
	if err != nil {
		t.Fatalf("FindByEmailAddress() error: %v", err)
	}
	if len(found) != 1 || found[0].ID != "gmail" {
		t.Errorf("FindByEmailAddress() = %v, want only the active gmail account", found)
	}
}

func TestAccountUpdates(t *testing.T) {
	repo := NewAccountRepository(newTestDB(t))
	ctx := context.Background()

	account := &domain.EmailAccount{ID: "a1", UserID: "u", Provider: domain.ProviderOutlook, EmailAddress: "a@x.com", IsActive: true,
		AccessToken: "old", RefreshToken: "refresh", IMAP: domain.ServerConfig{Host: "imap.x.com", Port: 993, UseTLS: true}}
	if err := repo.Create(ctx, account); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	at := time.Now().Truncate(time.Second)
	if err := repo.UpdateLastSyncAt(ctx, "a1", at); err != nil {
		t.Fatalf("UpdateLastSyncAt() error: %v", err)
	}
	if err := repo.UpdateTokens(ctx, "a1", &oauth2.Token{AccessToken: "new", Expiry: at.Add(time.Hour)}); err != nil {
		t.Fatalf("UpdateTokens() error: %v", err)
	}

	got, err := repo.FindByID(ctx, "a1")
	if err != nil || got == nil {
		t.Fatalf("FindByID() = %v, %v", got, err)
	}
	if got.LastSyncAt == nil || !got.LastSyncAt.Equal(at) {
		t.Errorf("LastSyncAt = %v, want %v", got.LastSyncAt, at)
	}
	if got.AccessToken != "new" || got.RefreshToken != "refresh" {
		t.Errorf("tokens = %q/%q", got.AccessToken, got.RefreshToken)
	}
	if !got.IMAP.Configured() || got.IMAP.Port != 993 || !got.IMAP.UseTLS {
		t.Errorf("embedded imap config lost: %+v", got.IMAP)
	}

	missing, err := repo.FindByID(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("FindByID(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestIndexHistoryEnsureIndexed(t *testing.T) {
	repo := NewIndexHistoryRepository(newTestDB(t))
	ctx := context.Background()

	already, err := repo.EnsureIndexed(ctx, "acc", "e1")
	if err != nil || already {
		t.Fatalf("first EnsureIndexed() = %v, %v; want false", already, err)
	}
	already, err = repo.EnsureIndexed(ctx, "acc", "e1")
	if err != nil || !already {
		t.Fatalf("second EnsureIndexed() = %v, %v; want true", already, err)
	}
	if err := repo.Delete(ctx, "acc", "e1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if already, _ := repo.EnsureIndexed(ctx, "acc", "e1"); already {
		t.Error("EnsureIndexed() after Delete() reported already indexed")
	}
}
