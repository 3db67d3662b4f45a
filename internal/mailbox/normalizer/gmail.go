package normalizer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"crmsync-backend/internal/mailbox/domain"

	"github.com/emersion/go-message/mail"
	"google.golang.org/api/gmail/v1"
)

func fromGmail(raw domain.RawMessage) (*domain.Email, Evidence, error) {
	msg := raw.Gmail
	if msg == nil {
		return nil, EvidenceNone, fmt.Errorf("%w: empty gmail message", domain.ErrParse)
	}

	// Messages fetched with format=raw carry the full RFC 5322 source instead of a payload.
	if msg.Payload == nil && msg.Raw != "" {
		email, err := fromGmailRaw(msg)
		if err != nil {
			return nil, EvidenceNone, err
		}
		return email, gmailEvidence(msg.LabelIds), nil
	}
	if msg.Payload == nil {
		return nil, EvidenceNone, fmt.Errorf("%w: gmail message %s has no payload", domain.ErrParse, msg.Id)
	}

	h := gmailHeader(msg.Payload.Headers)
	from, fromName := parseSender(h.Get("From"))
	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}
	sentAt, _ := h.Date()

	email := &domain.Email{
		MessageID:  msg.Id,
		ThreadID:   msg.ThreadId,
		From:       from,
		FromName:   fromName,
		To:         parseAddressList(h.Get("To")),
		Cc:         parseAddressList(h.Get("Cc")),
		Bcc:        parseAddressList(h.Get("Bcc")),
		Subject:    subject,
		SentAt:     sentAt,
		ReceivedAt: gmailInternalDate(msg.InternalDate),
		IsRead:     !hasLabel(msg.LabelIds, "UNREAD"),
	}
	email.Body, email.HTMLBody = gmailBodies(msg.Payload)

	return email, gmailEvidence(msg.LabelIds), nil
}

func fromGmailRaw(msg *gmail.Message) (*domain.Email, error) {
	data, err := decodeBase64URL(msg.Raw)
	if err != nil {
		return nil, fmt.Errorf("%w: gmail raw message %s: %w", domain.ErrParse, msg.Id, err)
	}
	email, err := parseRFC822(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	email.MessageID = msg.Id
	email.ThreadID = msg.ThreadId
	email.ReceivedAt = gmailInternalDate(msg.InternalDate)
	email.IsRead = !hasLabel(msg.LabelIds, "UNREAD")
	return email, nil
}

func gmailEvidence(labels []string) Evidence {
	if hasLabel(labels, "SENT") {
		return EvidenceSent
	}
	return EvidenceNone
}

func gmailHeader(headers []*gmail.MessagePartHeader) mail.Header {
	m := make(map[string][]string, len(headers))
	for _, header := range headers {
		if header == nil {
			continue
		}
		m[header.Name] = append(m[header.Name], header.Value)
	}
	return mail.HeaderFromMap(m)
}

func gmailInternalDate(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// gmailBodies returns the first text/plain and the first text/html body found
// in a depth-first walk of the MIME tree.
func gmailBodies(payload *gmail.MessagePart) (plain, html string) {
	var walk func(part *gmail.MessagePart)
	walk = func(part *gmail.MessagePart) {
		if part == nil || (plain != "" && html != "") {
			return
		}
		if part.Body != nil && part.Body.Data != "" && part.Filename == "" {
			mimeType := strings.ToLower(part.MimeType)
			switch {
			case plain == "" && strings.HasPrefix(mimeType, "text/plain"):
				if data, err := decodeBase64URL(part.Body.Data); err == nil {
					plain = string(data)
				}
			case html == "" && strings.HasPrefix(mimeType, "text/html"):
				if data, err := decodeBase64URL(part.Body.Data); err == nil {
					html = string(data)
				}
			}
		}
		for _, child := range part.Parts {
			walk(child)
		}
	}
	walk(payload)
	return plain, html
}

// decodeBase64URL accepts both padded and unpadded URL-safe base64.
func decodeBase64URL(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func hasLabel(labels []string, labelID string) bool {
	for _, l := range labels {
		if l == labelID {
			return true
		}
	}
	return false
}
