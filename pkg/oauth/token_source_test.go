package oauth

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"crmsync-backend/internal/mailbox/domain"

	"golang.org/x/oauth2"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"invalid grant", &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, domain.ErrAuthPermanent},
		{"server error", &oauth2.RetrieveError{Response: &http.Response{StatusCode: 503}}, domain.ErrNetwork},
		{"other oauth error", &oauth2.RetrieveError{ErrorCode: "invalid_request", Response: &http.Response{StatusCode: 400}}, domain.ErrAuth},
		{"transport", errors.New("connection reset"), domain.ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("ClassifyError() = %v, want %v", got, tt.want)
			}
		})
	}
}

type staticSource struct {
	token *oauth2.Token
}

func (s staticSource) Token() (*oauth2.Token, error) { return s.token, nil }

func TestNotifyTokenSourceReportsRefresh(t *testing.T) {
	var got []string
	src := &notifyTokenSource{
		src:     staticSource{token: &oauth2.Token{AccessToken: "new"}},
		current: &oauth2.Token{AccessToken: "old"},
		callback: func(tok *oauth2.Token) error {
			got = append(got, tok.AccessToken)
			return nil
		},
	}

	for i := 0; i < 2; i++ {
		if _, err := src.Token(); err != nil {
			t.Fatalf("Token() error: %v", err)
		}
	}
	if len(got) != 1 || got[0] != "new" {
		t.Errorf("callback calls = %v, want [new]", got)
	}
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient(context.Background(), &oauth2.Config{}, &domain.EmailAccount{ID: "a"}, nil)
	if !errors.Is(err, domain.ErrConfigMissing) {
		t.Errorf("NewClient() error = %v, want ErrConfigMissing", err)
	}
}
