// Package outlook implements the mailbox connector over Microsoft Graph.
package outlook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crmsync-backend/internal/mailbox/domain"
	"crmsync-backend/pkg/oauth"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const (
	defaultBaseURL = "https://graph.microsoft.com/v1.0"
	messageFields  = "id,internetMessageId,conversationId,subject,body,bodyPreview,from,sender," +
		"toRecipients,ccRecipients,bccRecipients,sentDateTime,receivedDateTime,isRead,isDraft,parentFolderId"
)

type Service struct {
	config    *oauth2.Config
	saveToken domain.TokenSaver
	baseURL   string
}

func NewService(clientID, clientSecret, tenant string, saveToken domain.TokenSaver) *Service {
	if tenant == "" {
		tenant = "common"
	}
	return &Service{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     microsoft.AzureADEndpoint(tenant),
			Scopes:       []string{"offline_access", "Mail.ReadWrite", "Mail.Send", "User.Read"},
		},
		saveToken: saveToken,
		baseURL:   defaultBaseURL,
	}
}

func (s *Service) client(ctx context.Context, account *domain.EmailAccount) (*http.Client, error) {
	return oauth.NewClient(ctx, s.config, account, func(t *oauth2.Token) error {
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
	})
}

type messagePage struct {
	Value    []domain.OutlookMessage `json:"value"`
	NextLink string                  `json:"@odata.nextLink"`
}

// Fetch reads the inbox and the Sent Items folder, up to max messages from
// each, and returns the merged window oldest first.
func (s *Service) Fetch(ctx context.Context, account *domain.EmailAccount, since *time.Time, max int) ([]domain.RawMessage, error) {
	client, err := s.client(ctx, account)
	if err != nil {
		return nil, err
	}

	var out []domain.RawMessage
	for _, folder := range []struct {
		name      string
		dateField string
		sent      bool
	}{
		{"inbox", "receivedDateTime", false},
		{"sentitems", "sentDateTime", true},
	} {
		msgs, err := s.listFolder(ctx, client, folder.name, folder.dateField, since, max)
		if err != nil {
			return nil, err
		}
		for i := range msgs {
			msg := msgs[i]
			msg.InSentItems = folder.sent
			out = append(out, domain.RawMessage{Provider: domain.ProviderOutlook, Outlook: &msg})
		}
	}
	return domain.SelectWindow(out, since, max), nil
}

// listFolder returns the oldest max messages at or after since, or the newest
// max when since is nil.
func (s *Service) listFolder(ctx context.Context, client *http.Client, folder, dateField string, since *time.Time, max int) ([]domain.OutlookMessage, error) {
	q := url.Values{}
	q.Set("$top", fmt.Sprint(max))
	q.Set("$select", messageFields)
	if since != nil {
		q.Set("$orderby", dateField+" asc")
		q.Set("$filter", fmt.Sprintf("%s ge %s", dateField, since.UTC().Format(time.RFC3339)))
	} else {
		q.Set("$orderby", dateField+" desc")
	}
	next := fmt.Sprintf("%s/me/mailFolders/%s/messages?%s", s.baseURL, folder, q.Encode())

	var msgs []domain.OutlookMessage
	for next != "" && len(msgs) < max {
		var page messagePage
		if err := s.do(ctx, client, http.MethodGet, next, nil, &page); err != nil {
			return nil, fmt.Errorf("unable to list %s: %w", folder, err)
		}
		msgs = append(msgs, page.Value...)
		next = page.NextLink
	}
	if len(msgs) > max {
		msgs = msgs[:max]
	}
	return msgs, nil
}

type graphMessage struct {
	Subject       string                    `json:"subject"`
	Body          domain.OutlookItemBody    `json:"body"`
	ToRecipients  []domain.OutlookRecipient `json:"toRecipients"`
	CcRecipients  []domain.OutlookRecipient `json:"ccRecipients,omitempty"`
	BccRecipients []domain.OutlookRecipient `json:"bccRecipients,omitempty"`
}

// Send creates a draft and sends it, so the provider message id is known.
func (s *Service) Send(ctx context.Context, account *domain.EmailAccount, msg *domain.OutboundMessage) (string, error) {
	if len(msg.To) == 0 {
		return "", fmt.Errorf("%w: message has no recipients", domain.ErrParse)
	}
	client, err := s.client(ctx, account)
	if err != nil {
		return "", err
	}

	draft := graphMessage{
		Subject:       msg.Subject,
		Body:          domain.OutlookItemBody{ContentType: "text", Content: msg.Body},
		ToRecipients:  recipients(msg.To),
		CcRecipients:  recipients(msg.Cc),
		BccRecipients: recipients(msg.Bcc),
	}
	if msg.HTMLBody != "" {
		draft.Body = domain.OutlookItemBody{ContentType: "html", Content: msg.HTMLBody}
	}

	var created domain.OutlookMessage
	if err := s.do(ctx, client, http.MethodPost, s.baseURL+"/me/messages", draft, &created); err != nil {
		return "", fmt.Errorf("unable to create draft: %w", err)
	}
	sendURL := fmt.Sprintf("%s/me/messages/%s/send", s.baseURL, url.PathEscape(created.ID))
	if err := s.do(ctx, client, http.MethodPost, sendURL, nil, nil); err != nil {
		return "", fmt.Errorf("unable to send message: %w", err)
	}

	if created.InternetMessageID != "" {
		return created.InternetMessageID, nil
	}
	return created.ID, nil
}

// TestConnection reads the signed-in user's profile.
func (s *Service) TestConnection(ctx context.Context, account *domain.EmailAccount) domain.ConnectionResult {
	client, err := s.client(ctx, account)
	if err != nil {
		return domain.ConnectionResult{Message: err.Error()}
	}
	var me struct {
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := s.do(ctx, client, http.MethodGet, s.baseURL+"/me", nil, &me); err != nil {
		return domain.ConnectionResult{Message: err.Error()}
	}
	addr := me.Mail
	if addr == "" {
		addr = me.UserPrincipalName
	}
	return domain.ConnectionResult{OK: true, Message: "connected as " + addr}
}

type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Service) do(ctx context.Context, client *http.Client, method, endpoint string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if domain.Classify(err) != domain.KindUnknown {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var ge graphError
		_ = json.Unmarshal(data, &ge)
		detail := strings.TrimSpace(ge.Error.Code + " " + ge.Error.Message)
		if detail == "" {
			detail = resp.Status
		}
		if sentinel := domain.StatusError(resp.StatusCode); sentinel != nil {
			return fmt.Errorf("%w: graph %d: %s", sentinel, resp.StatusCode, detail)
		}
		return fmt.Errorf("graph %d: %s", resp.StatusCode, detail)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("%w: decode graph response: %w", domain.ErrParse, err)
	}
	return nil
}

func recipients(addrs []string) []domain.OutlookRecipient {
	out := make([]domain.OutlookRecipient, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, domain.OutlookRecipient{EmailAddress: domain.OutlookEmailAddress{Address: a}})
	}
	return out
}
