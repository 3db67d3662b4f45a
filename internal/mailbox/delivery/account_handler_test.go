package delivery

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"crmsync-backend/internal/mailbox/domain"
	"crmsync-backend/internal/mailbox/queue"

	"github.com/gin-gonic/gin"
)

type fakeAccounts map[string]*domain.EmailAccount

func (f fakeAccounts) FindByID(ctx context.Context, id string) (*domain.EmailAccount, error) {
	return f[id], nil
}

type fakeTester struct{}

func (fakeTester) TestConnection(ctx context.Context, accountID string) (domain.ConnectionResult, error) {
	return domain.ConnectionResult{OK: true, Message: "connected"}, nil
}

type fakeServers struct {
	calls map[string][2]domain.ServerConfig
}

func (f *fakeServers) ConfigureServers(ctx context.Context, accountID string, imap, smtp domain.ServerConfig) error {
	f.calls[accountID] = [2]domain.ServerConfig{imap, smtp}
	return nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *queue.Service) {
	r, q, _ := newTestRouterWithServers(t)
	return r, q
}

func newTestRouterWithServers(t *testing.T) (*gin.Engine, *queue.Service, *fakeServers) {
	t.Helper()
	servers := &fakeServers{calls: map[string][2]domain.ServerConfig{}}
	gin.SetMode(gin.TestMode)
	q := queue.NewService(nil, nil, nil, queue.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	accounts := fakeAccounts{
		"acc-1": {ID: "acc-1", UserID: "u1"},
		"acc-2": {ID: "acc-2", UserID: "someone-else"},
		"acc-3": {ID: "acc-3", UserID: "u1", Provider: domain.ProviderIMAP},
	}
	h := NewAccountHandler(accounts, q, fakeTester{}, servers)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "u1")
		c.Next()
	})
	r.POST("/accounts/:id/sync", h.Sync)
	r.POST("/accounts/:id/send", h.Send)
	r.POST("/accounts/:id/test", h.Test)
	r.PUT("/accounts/:id/servers", h.Servers)
	r.GET("/queue/stats", h.QueueStats)
	return r, q, servers
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSyncEnqueues(t *testing.T) {
	r, q := newTestRouter(t)

	rec := do(r, http.MethodPost, "/accounts/acc-1/sync", `{"priority":"high"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp struct {
		Priority string `json:"priority"`
		Queued   bool   `json:"queued"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Priority != "high" || !resp.Queued {
		t.Errorf("response = %+v", resp)
	}

	// Same account again without a body: already queued, normal does not downgrade.
	rec = do(r, http.MethodPost, "/accounts/acc-1/sync", "")
	if rec.Code != http.StatusAccepted || !strings.Contains(rec.Body.String(), `"queued":false`) {
		t.Errorf("second sync = %d %s", rec.Code, rec.Body)
	}
	if st := q.Stats(); st.Sync["high"] != 1 || st.Sync["normal"] != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSyncRejectsBadPriority(t *testing.T) {
	r, _ := newTestRouter(t)
	if rec := do(r, http.MethodPost, "/accounts/acc-1/sync", `{"priority":"urgent"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestOtherUsersAccountIsNotFound(t *testing.T) {
	r, _ := newTestRouter(t)
	for _, path := range []string{"/accounts/acc-2/sync", "/accounts/missing/test"} {
		if rec := do(r, http.MethodPost, path, ""); rec.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, rec.Code)
		}
	}
}

func TestSendEnqueues(t *testing.T) {
	r, q := newTestRouter(t)

	rec := do(r, http.MethodPost, "/accounts/acc-1/send", `{"to":["client@example.org"],"subject":"Quote"}`)
	if rec.Code != http.StatusAccepted || !strings.Contains(rec.Body.String(), "job_id") {
		t.Fatalf("send = %d %s", rec.Code, rec.Body)
	}
	if q.Stats().Send != 1 {
		t.Errorf("send queue = %d, want 1", q.Stats().Send)
	}

	if rec := do(r, http.MethodPost, "/accounts/acc-1/send", `{"subject":"no recipients"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing recipients status = %d, want 400", rec.Code)
	}
}

func TestConnectionTest(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := do(r, http.MethodPost, "/accounts/acc-1/test", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Errorf("test = %d %s", rec.Code, rec.Body)
	}
}

func TestServersStoresSettings(t *testing.T) {
	r, _, servers := newTestRouterWithServers(t)

	body := `{"imap":{"host":"imap.x.com","port":993,"username":"me","password":"pw","use_tls":true},"smtp":{"host":"smtp.x.com","password":"pw2"}}`
	rec := do(r, http.MethodPut, "/accounts/acc-3/servers", body)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	got, ok := servers.calls["acc-3"]
	if !ok {
		t.Fatal("ConfigureServers not called")
	}
	if got[0].Host != "imap.x.com" || got[0].Port != 993 || got[0].Password != "pw" || !got[0].UseTLS || got[1].Password != "pw2" {
		t.Errorf("settings = %+v", got)
	}
}

func TestServersRejects(t *testing.T) {
	r, _, servers := newTestRouterWithServers(t)

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"oauth account", "/accounts/acc-1/servers", `{"imap":{"host":"h"},"smtp":{"host":"h"}}`, http.StatusBadRequest},
		{"missing smtp host", "/accounts/acc-3/servers", `{"imap":{"host":"h"}}`, http.StatusBadRequest},
		{"bad port", "/accounts/acc-3/servers", `{"imap":{"host":"h","port":70000},"smtp":{"host":"h"}}`, http.StatusBadRequest},
		{"other user", "/accounts/acc-2/servers", `{"imap":{"host":"h"},"smtp":{"host":"h"}}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := do(r, http.MethodPut, tc.path, tc.body); rec.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body)
			}
		})
	}
	if len(servers.calls) != 0 {
		t.Errorf("ConfigureServers called for rejected requests: %v", servers.calls)
	}
}
