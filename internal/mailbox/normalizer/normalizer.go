// Package normalizer converts provider-native messages into canonical emails.
package normalizer

import (
	"fmt"
	"strings"
	"time"

	"crmsync-backend/internal/mailbox/domain"

	"github.com/emersion/go-message/mail"
)

// Evidence is a provider-native hint about message direction.
type Evidence int

const (
	EvidenceNone Evidence = iota
	EvidenceSent
)

// Normalize maps raw onto a canonical Email owned by account and infers its direction.
func Normalize(raw domain.RawMessage, account *domain.EmailAccount) (*domain.Email, error) {
	var (
		email    *domain.Email
		evidence Evidence
		err      error
	)

	switch raw.Provider {
	case domain.ProviderGmail:
		email, evidence, err = fromGmail(raw)
	case domain.ProviderOutlook:
		email, evidence, err = fromOutlook(raw)
	case domain.ProviderIMAP:
		email, evidence, err = fromIMAP(raw)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrParse, raw.Provider)
	}
	if err != nil {
		return nil, err
	}

	if email.MessageID == "" {
		return nil, fmt.Errorf("%w: missing message id", domain.ErrParse)
	}
	if email.From == "" {
		return nil, fmt.Errorf("%w: message %s has no sender", domain.ErrParse, email.MessageID)
	}

	if email.Body == "" && email.HTMLBody != "" {
		email.Body = HTMLToText(email.HTMLBody)
	}
	if email.SentAt.IsZero() {
		email.SentAt = email.ReceivedAt
	}
	if email.ReceivedAt.IsZero() {
		email.ReceivedAt = email.SentAt
	}

	email.AccountID = account.ID
	email.UserID = account.UserID
	email.CompanyID = account.CompanyID
	email.IsIncoming = IsIncoming(evidence, email, account.EmailAddress)
	return email, nil
}

// IsIncoming applies direction rules in order: provider evidence, sender match,
// recipient match, then incoming by default.
func IsIncoming(evidence Evidence, email *domain.Email, own string) bool {
	if evidence == EvidenceSent {
		return false
	}

	own = normalizeAddress(own)
	if own == "" {
		return true
	}
	if normalizeAddress(email.From) == own {
		return false
	}
	for _, list := range [][]string{email.To, email.Cc, email.Bcc} {
		for _, addr := range list {
			if normalizeAddress(addr) == own {
				return true
			}
		}
	}
	return true
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// parseAddressList parses an RFC 5322 address header. Unparsable lists fall
// back to comma splitting so a single malformed entry does not drop the rest.
func parseAddressList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return []string{}
	}

	addrs, err := mail.ParseAddressList(value)
	if err == nil {
		out := make([]string, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, normalizeAddress(a.Address))
		}
		return out
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if i := strings.LastIndex(part, "<"); i >= 0 {
			part = strings.TrimSuffix(part[i+1:], ">")
		}
		if strings.Contains(part, "@") {
			out = append(out, normalizeAddress(part))
		}
	}
	return out
}

// parseSender returns the first address of a From header and its display name.
func parseSender(value string) (string, string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ""
	}
	if addr, err := mail.ParseAddress(value); err == nil {
		return normalizeAddress(addr.Address), addr.Name
	}
	list := parseAddressList(value)
	if len(list) == 0 {
		return "", ""
	}
	return list[0], ""
}

func firstNonZero(times ...time.Time) time.Time {
	for _, t := range times {
		if !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}
