// Package imap implements the mailbox connector for generic IMAP/SMTP accounts.
package imap

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"time"

	"crmsync-backend/internal/mailbox/domain"
	"crmsync-backend/pkg/compose"
	"crmsync-backend/pkg/utils/crypto"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

var sentMailboxNames = []string{"Sent", "Sent Items", "Sent Messages", "[Gmail]/Sent Mail", "INBOX.Sent"}

type Service struct {
	encryptionKey string
	dialTimeout   time.Duration
}

func NewService(encryptionKey string, dialTimeout time.Duration) *Service {
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}
	return &Service{encryptionKey: encryptionKey, dialTimeout: dialTimeout}
}

func (s *Service) password(cfg domain.ServerConfig) (string, error) {
	if cfg.Password == "" {
		return "", nil
	}
	pw, err := crypto.Decrypt(cfg.Password, s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: stored password unreadable: %w", domain.ErrConfigMissing, err)
	}
	return pw, nil
}

func (s *Service) connect(account *domain.EmailAccount) (*client.Client, error) {
	cfg := account.IMAP
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: account %s has no imap config", domain.ErrConfigMissing, account.ID)
	}
	password, err := s.password(cfg)
	if err != nil {
		return nil, err
	}

	port := cfg.Port
	if port == 0 {
		port = 993
		if !cfg.UseTLS {
			port = 143
		}
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: s.dialTimeout}

	var c *client.Client
	if cfg.UseTLS {
		c, err = client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: cfg.Host})
	} else {
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %w", domain.ErrNetwork, addr, err)
	}
	c.Timeout = s.dialTimeout

	username := cfg.Username
	if username == "" {
		username = account.EmailAddress
	}
	if err := c.Login(username, password); err != nil {
		_ = c.Logout()
		var netErr net.Error
		if errors.As(err, &netErr) {
			return nil, fmt.Errorf("%w: imap login: %w", domain.ErrNetwork, err)
		}
		return nil, fmt.Errorf("%w: imap login: %w", domain.ErrAuthPermanent, err)
	}
	return c, nil
}

// Fetch reads INBOX and, when one can be found, the sent mailbox, up to max
// messages from each, and returns the merged window oldest first.
func (s *Service) Fetch(ctx context.Context, account *domain.EmailAccount, since *time.Time, max int) ([]domain.RawMessage, error) {
	c, err := s.connect(account)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	mailboxes := []string{"INBOX"}
	sent, err := findSentMailbox(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	}
	if sent != "" {
		mailboxes = append(mailboxes, sent)
	}

	var out []domain.RawMessage
	for _, name := range mailboxes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgs, err := fetchMailbox(c, name, since, max)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrNetwork, name, err)
		}
		for _, m := range msgs {
			m.SentMailbox = name == sent
			out = append(out, domain.RawMessage{Provider: domain.ProviderIMAP, IMAP: m})
		}
	}
	return domain.SelectWindow(out, since, max), nil
}

func findSentMailbox(c *client.Client) (string, error) {
	ch := make(chan *imap.MailboxInfo, 32)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", ch)
	}()

	found := ""
	byName := map[string]bool{}
	for info := range ch {
		byName[info.Name] = true
		for _, attr := range info.Attributes {
			if attr == imap.SentAttr && found == "" {
				found = info.Name
			}
		}
	}
	if err := <-done; err != nil {
		return "", fmt.Errorf("failed to list mailboxes: %w", err)
	}
	if found != "" {
		return found, nil
	}
	for _, name := range sentMailboxNames {
		if byName[name] {
			return name, nil
		}
	}
	return "", nil
}

// fetchMailbox returns up to max messages from the mailbox. SEARCH SINCE has
// day granularity, so with a watermark the internal dates are read first and
// the oldest max messages at or after since are loaded in full.
func fetchMailbox(c *client.Client, name string, since *time.Time, max int) ([]*domain.IMAPMessage, error) {
	if _, err := c.Select(name, true); err != nil {
		return nil, fmt.Errorf("failed to select: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	if since != nil {
		criteria.Since = *since
	}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	if since == nil {
		// Newest by UID.
		sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
		if len(uids) > max {
			uids = uids[:max]
		}
	} else {
		uids, err = uidsSince(c, uids, *since, max)
		if err != nil {
			return nil, err
		}
		if len(uids) == 0 {
			return nil, nil
		}
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var out []*domain.IMAPMessage
	for msg := range messages {
		var body []byte
		if r := msg.GetBody(section); r != nil {
			body, _ = io.ReadAll(r)
		}
		out = append(out, &domain.IMAPMessage{Mailbox: name, Message: msg, Body: body})
	}
	if err := <-done; err != nil {
		return out, fmt.Errorf("failed to fetch: %w", err)
	}
	return out, nil
}

// uidsSince keeps the max oldest uids whose internal date is at or after since.
func uidsSince(c *client.Client, uids []uint32, since time.Time, max int) ([]uint32, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	messages := make(chan *imap.Message, 64)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate}, messages)
	}()

	var dated []*imap.Message
	for msg := range messages {
		dated = append(dated, msg)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch dates: %w", err)
	}
	return oldestSince(dated, since, max), nil
}

func oldestSince(msgs []*imap.Message, since time.Time, max int) []uint32 {
	kept := msgs[:0]
	for _, m := range msgs {
		if m.InternalDate.IsZero() || !m.InternalDate.Before(since) {
			kept = append(kept, m)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].InternalDate.Equal(kept[j].InternalDate) {
			return kept[i].Uid < kept[j].Uid
		}
		return kept[i].InternalDate.Before(kept[j].InternalDate)
	})
	if len(kept) > max {
		kept = kept[:max]
	}
	out := make([]uint32, len(kept))
	for i, m := range kept {
		out[i] = m.Uid
	}
	return out
}

// Send submits msg over SMTP and returns its Message-ID.
func (s *Service) Send(ctx context.Context, account *domain.EmailAccount, msg *domain.OutboundMessage) (string, error) {
	cfg := account.SMTP
	if !cfg.Configured() {
		return "", fmt.Errorf("%w: account %s has no smtp config", domain.ErrConfigMissing, account.ID)
	}
	password, err := s.password(cfg)
	if err != nil {
		return "", err
	}

	built, err := compose.Build(msg, compose.Options{
		FromName:    account.DisplayName,
		FromAddress: account.EmailAddress,
	})
	if err != nil {
		return "", err
	}

	addr := smtpAddr(cfg)

	var c *smtp.Client
	if cfg.UseTLS {
		c, err = smtp.DialTLS(addr, &tls.Config{ServerName: cfg.Host})
	} else {
		c, err = smtp.Dial(addr)
	}
	if err != nil {
		return "", fmt.Errorf("%w: failed to connect to %s: %w", domain.ErrNetwork, addr, err)
	}
	defer c.Close()

	if !cfg.UseTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
				return "", fmt.Errorf("%w: starttls: %w", domain.ErrNetwork, err)
			}
		}
	}

	username := cfg.Username
	if username == "" {
		username = account.EmailAddress
	}
	if ok, _ := c.Extension("AUTH"); ok && password != "" {
		if err := c.Auth(sasl.NewPlainClient("", username, password)); err != nil {
			return "", smtpError("smtp auth", err)
		}
	}

	if err := c.SendMail(account.EmailAddress, compose.Recipients(msg), bytes.NewReader(built.Raw)); err != nil {
		return "", smtpError("smtp send", err)
	}
	if err := c.Quit(); err != nil {
		return "", smtpError("smtp quit", err)
	}
	return built.MessageID, nil
}

// smtpAddr is host:port, defaulting to 465 for implicit TLS and 587 otherwise.
func smtpAddr(cfg domain.ServerConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 587
		if cfg.UseTLS {
			port = 465
		}
	}
	return net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}

func smtpError(op string, err error) error {
	var se *smtp.SMTPError
	if errors.As(err, &se) {
		switch {
		case se.Code == 535 || se.Code == 534:
			return fmt.Errorf("%w: %s: %w", domain.ErrAuthPermanent, op, err)
		case se.Code == 421 || se.Code == 450 || se.Code == 451 || se.Code == 452:
			return fmt.Errorf("%w: %s: %w", domain.ErrRateLimited, op, err)
		case se.Code >= 500:
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrNetwork, op, err)
}

// TestConnection logs in to IMAP and, when configured, checks SMTP reachability.
func (s *Service) TestConnection(ctx context.Context, account *domain.EmailAccount) domain.ConnectionResult {
	c, err := s.connect(account)
	if err != nil {
		return domain.ConnectionResult{Message: err.Error()}
	}
	_ = c.Logout()

	if account.SMTP.Configured() {
		addr := smtpAddr(account.SMTP)
		conn, err := (&net.Dialer{Timeout: s.dialTimeout}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return domain.ConnectionResult{Message: fmt.Sprintf("imap ok, smtp unreachable: %v", err)}
		}
		conn.Close()
	}
	return domain.ConnectionResult{OK: true, Message: "imap login ok"}
}
