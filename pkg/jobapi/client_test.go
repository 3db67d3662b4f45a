package jobapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	mailboxdomain "crmsync-backend/internal/mailbox/domain"
	"crmsync-backend/internal/summary/domain"
)

func TestRunPostsEmailContent(t *testing.T) {
	var gotAuth, gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/summarizer/run" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			Input struct {
				EmailContent string `json:"email_content"`
			} `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		gotContent = body.Input.EmailContent
		w.Write([]byte(`{"id":"job-123","status":"IN_QUEUE"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/v2/summarizer/", "secret")
	id, err := c.Run(context.Background(), "From: a@example.com\n\nhello")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if id != "job-123" {
		t.Errorf("id = %q, want job-123", id)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotContent != "From: a@example.com\n\nhello" {
		t.Errorf("email_content = %q", gotContent)
	}
}

func TestStatusDecodesOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status/job-9" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":"job-9","status":"COMPLETED","output":{"summary":"ok","sentiment":"neutral"}}`))
	}))
	defer srv.Close()

	st, err := NewClient(srv.URL, "").Status(context.Background(), "job-9")
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if st.Status != "COMPLETED" {
		t.Errorf("Status = %q", st.Status)
	}
	res, err := domain.ParseOutput(st.Output)
	if err != nil || res.Summary != "ok" {
		t.Errorf("ParseOutput() = %+v, %v", res, err)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, domain.ErrJobAPIUnauthorized},
		{http.StatusTooManyRequests, mailboxdomain.ErrRateLimited},
		{http.StatusBadGateway, mailboxdomain.ErrNetwork},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.code)
		}))
		_, err := NewClient(srv.URL, "k").Status(context.Background(), "job-1")
		srv.Close()
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: error %v, want %v", tt.code, err, tt.want)
		}
	}
}

func TestBadRequestHasNoTaxonomyClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing input", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k").Run(context.Background(), "x")
	if err == nil {
		t.Fatal("Run() succeeded on 400")
	}
	if mailboxdomain.Classify(err) != mailboxdomain.KindUnknown {
		t.Errorf("Classify() = %s, want unknown", mailboxdomain.Classify(err))
	}
}
