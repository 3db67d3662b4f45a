// Package oauth wraps oauth2 token sources for stored mailbox credentials.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"crmsync-backend/internal/mailbox/domain"

	"golang.org/x/oauth2"
)

type notifyTokenSource struct {
	mu       sync.Mutex
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback domain.TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, ClassifyError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t); err != nil {
			slog.Warn("failed to persist refreshed token", "error", err)
		}
	}
	return t, nil
}

// NewClient returns an HTTP client that authenticates with the account's
// stored token, refreshing it through config and reporting refreshes to onRefresh.
func NewClient(ctx context.Context, config *oauth2.Config, account *domain.EmailAccount, onRefresh domain.TokenUpdateFunc) (*http.Client, error) {
	if account.AccessToken == "" && account.RefreshToken == "" {
		return nil, fmt.Errorf("%w: account %s has no oauth token", domain.ErrConfigMissing, account.ID)
	}

	token := account.OAuthToken()
	// Without a known expiry the stored access token may be stale; force a refresh when possible.
	if token.Expiry.IsZero() && token.RefreshToken != "" {
		token.Expiry = time.Now()
	}

	src := &notifyTokenSource{
		src:      config.TokenSource(ctx, token),
		current:  token,
		callback: onRefresh,
	}
	return oauth2.NewClient(ctx, src), nil
}

// ClassifyError maps token refresh failures onto the mailbox taxonomy.
// invalid_grant means the refresh token was revoked or expired.
func ClassifyError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	}
	if re.ErrorCode == "invalid_grant" || re.ErrorCode == "unauthorized_client" {
		return fmt.Errorf("%w: %w", domain.ErrAuthPermanent, err)
	}
	if re.Response != nil {
		if sentinel := domain.StatusError(re.Response.StatusCode); sentinel != nil {
			return fmt.Errorf("%w: %w", sentinel, err)
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrAuth, err)
}
