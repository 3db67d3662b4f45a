package normalizer

import (
	"fmt"
	"strings"
	"time"

	"crmsync-backend/internal/mailbox/domain"
)

func fromOutlook(raw domain.RawMessage) (*domain.Email, Evidence, error) {
	msg := raw.Outlook
	if msg == nil {
		return nil, EvidenceNone, fmt.Errorf("%w: empty outlook message", domain.ErrParse)
	}

	messageID := msg.InternetMessageID
	if messageID == "" {
		messageID = msg.ID
	}

	sender := msg.From
	if sender == nil {
		sender = msg.Sender
	}
	var from, fromName string
	if sender != nil {
		from = normalizeAddress(sender.EmailAddress.Address)
		fromName = sender.EmailAddress.Name
	}

	email := &domain.Email{
		MessageID:  messageID,
		ThreadID:   msg.ConversationID,
		From:       from,
		FromName:   fromName,
		To:         outlookAddresses(msg.ToRecipients),
		Cc:         outlookAddresses(msg.CcRecipients),
		Bcc:        outlookAddresses(msg.BccRecipients),
		Subject:    msg.Subject,
		SentAt:     derefTime(msg.SentDateTime),
		ReceivedAt: derefTime(msg.ReceivedDateTime),
		IsRead:     msg.IsRead,
	}

	if strings.EqualFold(msg.Body.ContentType, "html") {
		email.HTMLBody = msg.Body.Content
	} else {
		email.Body = msg.Body.Content
	}
	if email.Body == "" && email.HTMLBody == "" {
		email.Body = msg.BodyPreview
	}

	evidence := EvidenceNone
	if msg.InSentItems {
		evidence = EvidenceSent
	}
	return email, evidence, nil
}

func outlookAddresses(recipients []domain.OutlookRecipient) []string {
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if addr := normalizeAddress(r.EmailAddress.Address); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
