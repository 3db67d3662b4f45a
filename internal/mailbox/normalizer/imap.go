package normalizer

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"crmsync-backend/internal/mailbox/domain"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

func fromIMAP(raw domain.RawMessage) (*domain.Email, Evidence, error) {
	msg := raw.IMAP
	if msg == nil || (msg.Message == nil && len(msg.Body) == 0) {
		return nil, EvidenceNone, fmt.Errorf("%w: empty imap message", domain.ErrParse)
	}

	email := &domain.Email{}
	if len(msg.Body) > 0 {
		parsed, err := parseRFC822(bytes.NewReader(msg.Body))
		if err != nil {
			return nil, EvidenceNone, err
		}
		email = parsed
	}

	if m := msg.Message; m != nil {
		if env := m.Envelope; env != nil {
			if id := trimMsgID(env.MessageId); id != "" {
				email.MessageID = id
			}
			if env.Subject != "" {
				email.Subject = env.Subject
			}
			email.SentAt = firstNonZero(env.Date, email.SentAt)
			if len(env.From) > 0 && env.From[0] != nil {
				email.From = normalizeAddress(env.From[0].Address())
				email.FromName = env.From[0].PersonalName
			}
			if len(env.To) > 0 {
				email.To = imapAddresses(env.To)
			}
			if len(env.Cc) > 0 {
				email.Cc = imapAddresses(env.Cc)
			}
			if len(env.Bcc) > 0 {
				email.Bcc = imapAddresses(env.Bcc)
			}
			if email.ThreadID == "" {
				email.ThreadID = trimMsgID(env.InReplyTo)
			}
		}
		email.ReceivedAt = firstNonZero(m.InternalDate, email.ReceivedAt)
		email.IsRead = hasFlag(m.Flags, imap.SeenFlag)
	}

	if email.ThreadID == "" {
		email.ThreadID = email.MessageID
	}

	evidence := EvidenceNone
	if msg.SentMailbox {
		evidence = EvidenceSent
	}
	return email, evidence, nil
}

// parseRFC822 reads headers and the first plain and html parts of a MIME message.
func parseRFC822(r io.Reader) (*domain.Email, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("%w: %w", domain.ErrParse, err)
	}

	h := mr.Header
	from, fromName := parseSender(h.Get("From"))
	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}
	sentAt, _ := h.Date()
	messageID, _ := h.MessageID()

	email := &domain.Email{
		MessageID: messageID,
		From:      from,
		FromName:  fromName,
		To:        parseAddressList(h.Get("To")),
		Cc:        parseAddressList(h.Get("Cc")),
		Bcc:       parseAddressList(h.Get("Bcc")),
		Subject:   subject,
		SentAt:    sentAt,
	}

	if refs, err := h.MsgIDList("References"); err == nil && len(refs) > 0 {
		email.ThreadID = refs[0]
	} else if parents, err := h.MsgIDList("In-Reply-To"); err == nil && len(parents) > 0 {
		email.ThreadID = parents[0]
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				continue
			}
			break
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := inline.ContentType()
		switch {
		case email.Body == "" && strings.HasPrefix(ct, "text/plain"):
			if body, err := io.ReadAll(part.Body); err == nil {
				email.Body = string(body)
			}
		case email.HTMLBody == "" && strings.HasPrefix(ct, "text/html"):
			if body, err := io.ReadAll(part.Body); err == nil {
				email.HTMLBody = string(body)
			}
		}
	}

	return email, nil
}

func imapAddresses(addrs []*imap.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		if addr := normalizeAddress(a.Address()); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

func trimMsgID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}
