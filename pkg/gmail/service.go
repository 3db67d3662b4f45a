package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"crmsync-backend/internal/mailbox/domain"
	"crmsync-backend/pkg/compose"
	"crmsync-backend/pkg/oauth"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	user         = "me"
	listPageSize = 500
)

// Service is the Gmail mailbox connector.
type Service struct {
	config     *oauth2.Config
	saveToken  domain.TokenSaver
	newService func(ctx context.Context, opts ...option.ClientOption) (*gmail.Service, error)
}

func NewService(clientID, clientSecret string, saveToken domain.TokenSaver) *Service {
	return &Service{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gmail.GmailModifyScope, gmail.GmailSendScope},
		},
		saveToken:  saveToken,
		newService: gmail.NewService,
	}
}

// gmailService creates a Gmail client with the account's token, persisting refreshes.
func (s *Service) gmailService(ctx context.Context, account *domain.EmailAccount) (*gmail.Service, error) {
	onRefresh := func(t *oauth2.Token) error {
		account.AccessToken = t.AccessToken
		if t.RefreshToken != "" {
			account.RefreshToken = t.RefreshToken
		}
		expiry := t.Expiry
		account.TokenExpiry = &expiry
		if s.saveToken == nil {
			return nil
		}
		return s.saveToken(ctx, account, t)
	}

	client, err := oauth.NewClient(ctx, s.config, account, onRefresh)
	if err != nil {
		return nil, err
	}

	srv, err := s.newService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return srv, nil
}

// Fetch lists messages at or after since (inbox and sent, no spam/trash) and
// loads each in full format. The list API is newest first, so with a
// watermark every page is read and the oldest max ids are kept.
func (s *Service) Fetch(ctx context.Context, account *domain.EmailAccount, since *time.Time, max int) ([]domain.RawMessage, error) {
	srv, err := s.gmailService(ctx, account)
	if err != nil {
		return nil, err
	}

	q := ""
	if since != nil {
		// after: is exclusive with second granularity.
		q = fmt.Sprintf("after:%d", since.Unix()-1)
	}

	var ids []string
	pageToken := ""
	for since != nil || len(ids) < max {
		pageSize := int64(listPageSize)
		if since == nil {
			pageSize = int64(max - len(ids))
		}
		call := srv.Users.Messages.List(user).Context(ctx).MaxResults(pageSize)
		if q != "" {
			call = call.Q(q)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, wrapError(err, "unable to list messages")
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		pageToken = resp.NextPageToken
		if pageToken == "" || len(resp.Messages) == 0 {
			break
		}
	}
	ids = oldestIDs(ids, since, max)

	messages := make([]domain.RawMessage, 0, len(ids))
	for _, id := range ids {
		msg, err := srv.Users.Messages.Get(user, id).Context(ctx).Format("full").Do()
		if err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == 404 {
				// Deleted between list and get.
				continue
			}
			return nil, wrapError(err, "unable to get message "+id)
		}
		messages = append(messages, domain.RawMessage{Provider: domain.ProviderGmail, Gmail: msg})
	}
	return domain.SelectWindow(messages, since, max), nil
}

// oldestIDs takes a newest-first id list and returns the window to load, oldest
// first: the oldest max after a watermark, the newest max otherwise.
func oldestIDs(ids []string, since *time.Time, max int) []string {
	if len(ids) > max {
		if since != nil {
			ids = ids[len(ids)-max:]
		} else {
			ids = ids[:max]
		}
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out
}

// Send submits msg through the Gmail API and returns the new message id.
func (s *Service) Send(ctx context.Context, account *domain.EmailAccount, msg *domain.OutboundMessage) (string, error) {
	srv, err := s.gmailService(ctx, account)
	if err != nil {
		return "", err
	}

	built, err := compose.Build(msg, compose.Options{
		FromName:    account.DisplayName,
		FromAddress: account.EmailAddress,
		IncludeBcc:  true,
	})
	if err != nil {
		return "", err
	}

	out := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(built.Raw),
		ThreadId: msg.ThreadID,
	}
	sent, err := srv.Users.Messages.Send(user, out).Context(ctx).Do()
	if err != nil {
		return "", wrapError(err, "unable to send message")
	}
	return sent.Id, nil
}

// TestConnection validates the stored token by reading the mailbox profile.
func (s *Service) TestConnection(ctx context.Context, account *domain.EmailAccount) domain.ConnectionResult {
	srv, err := s.gmailService(ctx, account)
	if err != nil {
		return domain.ConnectionResult{Message: err.Error()}
	}
	profile, err := srv.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return domain.ConnectionResult{Message: wrapError(err, "unable to read profile").Error()}
	}
	return domain.ConnectionResult{OK: true, Message: "connected as " + profile.EmailAddress}
}

// wrapError attaches the taxonomy sentinel matching a Gmail API failure.
func wrapError(err error, msg string) error {
	if domain.Classify(err) != domain.KindUnknown {
		return fmt.Errorf("%s: %w", msg, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 403 && isRateLimit(apiErr):
			return fmt.Errorf("%s: %w: %w", msg, domain.ErrRateLimited, err)
		case apiErr.Code == 400 && strings.Contains(apiErr.Message, "failedPrecondition"):
			return fmt.Errorf("%s: %w: %w", msg, domain.ErrConfigMissing, err)
		}
		if sentinel := domain.StatusError(apiErr.Code); sentinel != nil {
			return fmt.Errorf("%s: %w: %w", msg, sentinel, err)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isRateLimit(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		if strings.Contains(item.Reason, "RateLimitExceeded") || item.Reason == "rateLimitExceeded" {
			return true
		}
	}
	return strings.Contains(apiErr.Message, "Rate Limit")
}
