// Package compose renders outbound messages as RFC 5322 bytes.
package compose

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"crmsync-backend/internal/mailbox/domain"

	"github.com/emersion/go-message/mail"
)

// Options controls header rendering.
type Options struct {
	FromName    string
	FromAddress string
	// IncludeBcc writes the Bcc header; SMTP submission must leave it out.
	IncludeBcc bool
	Date       time.Time
}

// Message is a rendered outbound message.
type Message struct {
	MessageID string
	Raw       []byte
}

// Build renders msg. A message with both plain and html bodies becomes multipart/alternative.
func Build(msg *domain.OutboundMessage, opts Options) (*Message, error) {
	if len(msg.To) == 0 {
		return nil, fmt.Errorf("%w: message has no recipients", domain.ErrParse)
	}
	if opts.Date.IsZero() {
		opts.Date = time.Now()
	}

	var h mail.Header
	h.SetDate(opts.Date)
	h.SetAddressList("From", []*mail.Address{{Name: opts.FromName, Address: opts.FromAddress}})
	h.SetAddressList("To", addresses(msg.To))
	if len(msg.Cc) > 0 {
		h.SetAddressList("Cc", addresses(msg.Cc))
	}
	if opts.IncludeBcc && len(msg.Bcc) > 0 {
		h.SetAddressList("Bcc", addresses(msg.Bcc))
	}
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	if parent := strings.Trim(msg.InReplyTo, "<> "); parent != "" {
		h.SetMsgIDList("In-Reply-To", []string{parent})
		h.SetMsgIDList("References", []string{parent})
	}
	messageID, _ := h.MessageID()

	var buf bytes.Buffer
	var err error
	switch {
	case msg.Body != "" && msg.HTMLBody != "":
		err = writeAlternative(&buf, h, msg.Body, msg.HTMLBody)
	case msg.HTMLBody != "":
		err = writeSingle(&buf, h, "text/html", msg.HTMLBody)
	default:
		err = writeSingle(&buf, h, "text/plain", msg.Body)
	}
	if err != nil {
		return nil, err
	}

	return &Message{MessageID: messageID, Raw: buf.Bytes()}, nil
}

// Recipients returns every envelope recipient, Bcc included.
func Recipients(msg *domain.OutboundMessage) []string {
	out := make([]string, 0, len(msg.To)+len(msg.Cc)+len(msg.Bcc))
	out = append(out, msg.To...)
	out = append(out, msg.Cc...)
	out = append(out, msg.Bcc...)
	return out
}

func writeSingle(w io.Writer, h mail.Header, contentType, body string) error {
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	bw, err := mail.CreateSingleInlineWriter(w, h)
	if err != nil {
		return fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(bw, body); err != nil {
		return err
	}
	return bw.Close()
}

func writeAlternative(w io.Writer, h mail.Header, plain, html string) error {
	h.SetContentType("multipart/alternative", nil)
	mw, err := mail.CreateInlineWriter(w, h)
	if err != nil {
		return fmt.Errorf("failed to create message writer: %w", err)
	}

	for _, part := range []struct{ contentType, body string }{
		{"text/plain", plain},
		{"text/html", html},
	} {
		var ph mail.InlineHeader
		ph.SetContentType(part.contentType, map[string]string{"charset": "utf-8"})
		pw, err := mw.CreatePart(ph)
		if err != nil {
			return fmt.Errorf("failed to create %s part: %w", part.contentType, err)
		}
		if _, err := io.WriteString(pw, part.body); err != nil {
			return err
		}
		if err := pw.Close(); err != nil {
			return err
		}
	}
	return mw.Close()
}

func addresses(list []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(list))
	for _, s := range list {
		if addr, err := mail.ParseAddress(s); err == nil {
			out = append(out, addr)
			continue
		}
		out = append(out, &mail.Address{Address: strings.TrimSpace(s)})
	}
	return out
}
