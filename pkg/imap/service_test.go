package imap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"crmsync-backend/internal/mailbox/domain"
	"crmsync-backend/pkg/utils/crypto"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
)

const testKey = "test-key"

func startServer(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := server.New(memory.New())
	s.AllowInsecureAuth = true
	go s.Serve(ln)
	t.Cleanup(func() { s.Close() })

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	p, _ := strconv.Atoi(port)
	return host, p
}

func imapAccount(t *testing.T, host string, port int, password string) *domain.EmailAccount {
	t.Helper()
	enc, err := crypto.Encrypt(password, testKey)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	return &domain.EmailAccount{
		ID:           "acc-imap",
		Provider:     domain.ProviderIMAP,
		EmailAddress: "username@example.org",
		IMAP:         domain.ServerConfig{Host: host, Port: port, Username: "username", Password: enc},
	}
}

func TestFetchFromServer(t *testing.T) {
	host, port := startServer(t)
	s := NewService(testKey, 0)

	msgs, err := s.Fetch(context.Background(), imapAccount(t, host, port, "password"), nil, 10)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Fetch() returned %d messages, want 1", len(msgs))
	}
	m := msgs[0].IMAP
	if msgs[0].Provider != domain.ProviderIMAP || m.Mailbox != "INBOX" || m.SentMailbox {
		t.Errorf("unexpected message metadata: %+v", m)
	}
	if m.Message.Envelope == nil || m.Message.Envelope.Subject == "" {
		t.Error("envelope not fetched")
	}
	if len(m.Body) == 0 {
		t.Error("body not fetched")
	}
}

func TestFetchBadPasswordIsPermanent(t *testing.T) {
	host, port := startServer(t)
	_, err := NewService(testKey, 0).Fetch(context.Background(), imapAccount(t, host, port, "wrong"), nil, 10)
	if !errors.Is(err, domain.ErrAuthPermanent) {
		t.Errorf("Fetch() error = %v, want ErrAuthPermanent", err)
	}
}

func TestConfigMissing(t *testing.T) {
	s := NewService(testKey, 0)
	account := &domain.EmailAccount{ID: "bare", Provider: domain.ProviderIMAP, EmailAddress: "a@b.com"}

	if _, err := s.Fetch(context.Background(), account, nil, 10); !errors.Is(err, domain.ErrConfigMissing) {
		t.Errorf("Fetch() error = %v, want ErrConfigMissing", err)
	}
	if _, err := s.Send(context.Background(), account, &domain.OutboundMessage{To: []string{"x@y.com"}}); !errors.Is(err, domain.ErrConfigMissing) {
		t.Errorf("Send() error = %v, want ErrConfigMissing", err)
	}
	if res := s.TestConnection(context.Background(), account); res.OK {
		t.Error("TestConnection() without config reported OK")
	}
}

func TestUnreadablePasswordIsConfigMissing(t *testing.T) {
	account := &domain.EmailAccount{ID: "enc", IMAP: domain.ServerConfig{Host: "127.0.0.1", Password: "not-base64!"}}
	_, err := NewService(testKey, 0).Fetch(context.Background(), account, nil, 10)
	if !errors.Is(err, domain.ErrConfigMissing) {
		t.Errorf("Fetch() error = %v, want ErrConfigMissing", err)
	}
}

func TestFetchSinceWatermark(t *testing.T) {
	host, port := startServer(t)
	s := NewService(testKey, 0)
	account := imapAccount(t, host, port, "password")

	before := time.Now().Add(-48 * time.Hour)
	msgs, err := s.Fetch(context.Background(), account, &before, 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Fetch(since two days ago) = %d messages, %v; want 1", len(msgs), err)
	}

	after := time.Now().Add(time.Hour)
	msgs, err = s.Fetch(context.Background(), account, &after, 10)
	if err != nil || len(msgs) != 0 {
		t.Errorf("Fetch(since an hour ahead) = %d messages, %v; want 0", len(msgs), err)
	}
}

func TestOldestSince(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []*goimap.Message{
		{Uid: 1, InternalDate: since.Add(-time.Minute)},
		{Uid: 2, InternalDate: since.Add(3 * time.Minute)},
		{Uid: 3, InternalDate: since},
		{Uid: 4, InternalDate: since.Add(time.Minute)},
		{Uid: 5, InternalDate: since.Add(2 * time.Minute)},
	}

	got := oldestSince(msgs, since, 3)
	want := []uint32{3, 4, 5}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("oldestSince() = %v, want %v", got, want)
	}
}

func TestSMTPAddrDefaults(t *testing.T) {
	tests := []struct {
		cfg  domain.ServerConfig
		want string
	}{
		{domain.ServerConfig{Host: "smtp.example.org"}, "smtp.example.org:587"},
		{domain.ServerConfig{Host: "smtp.example.org", UseTLS: true}, "smtp.example.org:465"},
		{domain.ServerConfig{Host: "smtp.example.org", Port: 2525, UseTLS: true}, "smtp.example.org:2525"},
	}
	for _, tt := range tests {
		if got := smtpAddr(tt.cfg); got != tt.want {
			t.Errorf("smtpAddr(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}
