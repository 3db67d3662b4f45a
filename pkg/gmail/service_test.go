package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crmsync-backend/internal/mailbox/domain"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

func newTestService(t *testing.T, handler http.Handler) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s := NewService("client", "secret", nil)
	s.newService = func(ctx context.Context, opts ...option.ClientOption) (*gmail.Service, error) {
		return gmail.NewService(ctx, append(opts, option.WithEndpoint(srv.URL+"/"))...)
	}
	return s
}

func testAccount() *domain.EmailAccount {
	return &domain.EmailAccount{ID: "acc", Provider: domain.ProviderGmail, EmailAddress: "owner@example.com", AccessToken: "token"}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestFetch(t *testing.T) {
	since := time.Unix(1700000000, 0)
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "after:1699999999" {
			t.Errorf("q = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("Authorization = %q", got)
		}
		// Newest first, over two pages.
		if r.URL.Query().Get("pageToken") == "" {
			writeJSON(w, 200, map[string]interface{}{
				"messages":      []map[string]string{{"id": "m4"}, {"id": "m3"}},
				"nextPageToken": "p2",
			})
			return
		}
		writeJSON(w, 200, map[string]interface{}{
			"messages": []map[string]string{{"id": "m2"}, {"id": "gone"}, {"id": "m1"}},
		})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/messages/")
		if id == "gone" {
			writeJSON(w, 404, map[string]interface{}{"error": map[string]interface{}{"code": 404, "message": "Not Found"}})
			return
		}
		if id == "m3" || id == "m4" {
			t.Errorf("loaded %s outside the oldest window", id)
		}
		received := map[string]string{"m1": "1700000100000", "m2": "1700000200000"}[id]
		writeJSON(w, 200, map[string]interface{}{"id": id, "threadId": "t-" + id, "internalDate": received})
	})

	msgs, err := newTestService(t, mux).Fetch(context.Background(), testAccount(), &since, 3)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Fetch() returned %d messages, want 2", len(msgs))
	}
	if msgs[0].Provider != domain.ProviderGmail || msgs[0].Gmail.Id != "m1" || msgs[1].Gmail.ThreadId != "t-m2" {
		t.Errorf("unexpected messages: %+v %+v", msgs[0].Gmail, msgs[1].Gmail)
	}
}

func TestOldestIDs(t *testing.T) {
	since := time.Unix(1700000000, 0)
	newestFirst := []string{"m5", "m4", "m3", "m2", "m1"}

	if got := strings.Join(oldestIDs(newestFirst, &since, 2), ","); got != "m1,m2" {
		t.Errorf("oldestIDs(since) = %s, want m1,m2", got)
	}
	if got := strings.Join(oldestIDs(newestFirst, nil, 2), ","); got != "m4,m5" {
		t.Errorf("oldestIDs(nil) = %s, want m4,m5", got)
	}
}

func TestFetchErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		reason string
		want   error
	}{
		{"unauthorized", 401, "authError", domain.ErrAuth},
		{"too many requests", 429, "rateLimitExceeded", domain.ErrRateLimited},
		{"quota as 403", 403, "userRateLimitExceeded", domain.ErrRateLimited},
		{"forbidden", 403, "insufficientPermissions", domain.ErrAuthPermanent},
		{"backend", 503, "backendError", domain.ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.code, map[string]interface{}{"error": map[string]interface{}{
					"code":    tt.code,
					"message": "failure",
					"errors":  []map[string]string{{"reason": tt.reason, "message": "failure"}},
				}})
			})
			_, err := newTestService(t, h).Fetch(context.Background(), testAccount(), nil, 5)
			if !errors.Is(err, tt.want) {
				t.Errorf("Fetch() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSend(t *testing.T) {
	var raw string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/messages/send") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body gmail.Message
		_ = json.NewDecoder(r.Body).Decode(&body)
		raw = body.Raw
		if body.ThreadId != "thread-9" {
			t.Errorf("threadId = %q", body.ThreadId)
		}
		writeJSON(w, 200, map[string]string{"id": "sent-1"})
	})

	id, err := newTestService(t, h).Send(context.Background(), testAccount(), &domain.OutboundMessage{
		To:       []string{"client@example.org"},
		Subject:  "Hello",
		Body:     "hi",
		ThreadID: "thread-9",
	})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if id != "sent-1" {
		t.Errorf("Send() id = %q", id)
	}
	decoded, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		t.Fatalf("raw is not base64url: %v", err)
	}
	if !strings.Contains(string(decoded), "Subject: Hello") {
		t.Errorf("raw message missing subject:\n%s", decoded)
	}
}

func TestTestConnection(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]string{"emailAddress": "owner@example.com"})
	})
	res := newTestService(t, h).TestConnection(context.Background(), testAccount())
	if !res.OK || !strings.Contains(res.Message, "owner@example.com") {
		t.Errorf("TestConnection() = %+v", res)
	}

	res = NewService("c", "s", nil).TestConnection(context.Background(), &domain.EmailAccount{ID: "empty"})
	if res.OK {
		t.Error("TestConnection() without token reported OK")
	}
}
