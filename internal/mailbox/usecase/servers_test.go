package usecase

import (
	"context"
	"errors"
	"testing"

	"crmsync-backend/internal/mailbox/domain"
	"crmsync-backend/pkg/utils/crypto"
)

func TestConfigureServersSealsPasswords(t *testing.T) {
	f := newFixture(t)
	svc := NewServerConfigService(f.accounts, "test-key", discard)
	ctx := context.Background()

	imapCfg := domain.ServerConfig{Host: "imap.x.com", Port: 993, Username: "owner", Password: "imap-secret", UseTLS: true}
	smtpCfg := domain.ServerConfig{Host: "smtp.x.com", Username: "owner", Password: "smtp-secret", UseTLS: true}
	if err := svc.ConfigureServers(ctx, f.account.ID, imapCfg, smtpCfg); err != nil {
		t.Fatalf("ConfigureServers() error: %v", err)
	}

	got, err := f.accounts.FindByID(ctx, f.account.ID)
	if err != nil || got == nil {
		t.Fatalf("FindByID() = %v, %v", got, err)
	}
	if got.IMAP.Host != "imap.x.com" || got.IMAP.Port != 993 || !got.IMAP.UseTLS || got.SMTP.Host != "smtp.x.com" {
		t.Errorf("stored config = %+v / %+v", got.IMAP, got.SMTP)
	}
	if got.IMAP.Password == "imap-secret" || got.SMTP.Password == "smtp-secret" {
		t.Fatal("passwords stored in plaintext")
	}
	for stored, want := range map[string]string{got.IMAP.Password: "imap-secret", got.SMTP.Password: "smtp-secret"} {
		plain, err := crypto.Decrypt(stored, "test-key")
		if err != nil || plain != want {
			t.Errorf("Decrypt() = %q, %v; want %q", plain, err, want)
		}
	}

	// An empty password leaves the sealed one in place.
	sealed := got.IMAP.Password
	imapCfg.Password = ""
	imapCfg.Host = "imap2.x.com"
	smtpCfg.Password = ""
	if err := svc.ConfigureServers(ctx, f.account.ID, imapCfg, smtpCfg); err != nil {
		t.Fatalf("second ConfigureServers() error: %v", err)
	}
	got, _ = f.accounts.FindByID(ctx, f.account.ID)
	if got.IMAP.Host != "imap2.x.com" || got.IMAP.Password != sealed || got.SMTP.Password == "" {
		t.Errorf("after update = %+v / %+v", got.IMAP, got.SMTP)
	}
}

func TestConfigureServersUnknownAccount(t *testing.T) {
	f := newFixture(t)
	svc := NewServerConfigService(f.accounts, "test-key", discard)

	err := svc.ConfigureServers(context.Background(), "missing", domain.ServerConfig{Host: "h"}, domain.ServerConfig{})
	if !errors.Is(err, domain.ErrUnknownAccount) {
		t.Errorf("ConfigureServers() error = %v, want ErrUnknownAccount", err)
	}
}
