package domain

import (
	"sort"
	"time"

	"github.com/emersion/go-imap"
	"google.golang.org/api/gmail/v1"
)

// RawMessage is a provider-native message as returned by a Connector.
// Exactly one of Gmail, Outlook or IMAP is set, matching Provider.
type RawMessage struct {
	Provider Provider
	Gmail    *gmail.Message
	Outlook  *OutlookMessage
	IMAP     *IMAPMessage
}

// Timestamp is the provider's receipt time for the message, zero when unknown.
func (r RawMessage) Timestamp() time.Time {
	switch {
	case r.Gmail != nil:
		if r.Gmail.InternalDate > 0 {
			return time.UnixMilli(r.Gmail.InternalDate).UTC()
		}
	case r.Outlook != nil:
		if r.Outlook.ReceivedDateTime != nil {
			return *r.Outlook.ReceivedDateTime
		}
		if r.Outlook.SentDateTime != nil {
			return *r.Outlook.SentDateTime
		}
	case r.IMAP != nil && r.IMAP.Message != nil:
		return r.IMAP.Message.InternalDate
	}
	return time.Time{}
}

// SelectWindow orders msgs oldest first and keeps at most max of them: the
// oldest when resuming from a watermark, the newest on a first sync. When
// resuming, nothing dropped is older than the last message kept.
func SelectWindow(msgs []RawMessage, since *time.Time, max int) []RawMessage {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp().Before(msgs[j].Timestamp())
	})
	if max <= 0 || len(msgs) <= max {
		return msgs
	}
	if since == nil {
		return msgs[len(msgs)-max:]
	}
	return msgs[:max]
}

// OutlookMessage mirrors the Microsoft Graph message resource fields we read.
type OutlookMessage struct {
	ID                string             `json:"id"`
	InternetMessageID string             `json:"internetMessageId"`
	ConversationID    string             `json:"conversationId"`
	Subject           string             `json:"subject"`
	Body              OutlookItemBody    `json:"body"`
	BodyPreview       string             `json:"bodyPreview"`
	From              *OutlookRecipient  `json:"from"`
	Sender            *OutlookRecipient  `json:"sender"`
	ToRecipients      []OutlookRecipient `json:"toRecipients"`
	CcRecipients      []OutlookRecipient `json:"ccRecipients"`
	BccRecipients     []OutlookRecipient `json:"bccRecipients"`
	SentDateTime      *time.Time         `json:"sentDateTime"`
	ReceivedDateTime  *time.Time         `json:"receivedDateTime"`
	IsRead            bool               `json:"isRead"`
	IsDraft           bool               `json:"isDraft"`
	ParentFolderID    string             `json:"parentFolderId"`

	// InSentItems is set by the connector when the message was listed from the Sent Items folder.
	InSentItems bool `json:"-"`
}

type OutlookItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type OutlookRecipient struct {
	EmailAddress OutlookEmailAddress `json:"emailAddress"`
}

type OutlookEmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// IMAPMessage is a fetched IMAP message plus its full RFC 5322 body.
type IMAPMessage struct {
	Mailbox string
	// SentMailbox marks messages fetched from the account's sent folder.
	SentMailbox bool
	Message     *imap.Message
	Body        []byte
}
