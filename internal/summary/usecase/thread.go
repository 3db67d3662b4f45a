package usecase

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	mailboxdomain "crmsync-backend/internal/mailbox/domain"
	"crmsync-backend/internal/summary/domain"

	"github.com/google/uuid"
)

const maxThreadContent = 20000

// FormatThread renders a thread as plain text for a summarization model.
func FormatThread(emails []*mailboxdomain.Email) string {
	var b strings.Builder
	for i, e := range emails {
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		from := e.From
		if e.FromName != "" {
			from = fmt.Sprintf("%s <%s>", e.FromName, e.From)
		}
		fmt.Fprintf(&b, "Subject: %s\nFrom: %s\n", e.Subject, from)
		if len(e.To) > 0 {
			fmt.Fprintf(&b, "To: %s\n", strings.Join(e.To, ", "))
		}
		if len(e.Cc) > 0 {
			fmt.Fprintf(&b, "Cc: %s\n", strings.Join(e.Cc, ", "))
		}
		if !e.SentAt.IsZero() {
			fmt.Fprintf(&b, "Date: %s\n", e.SentAt.UTC().Format(time.RFC1123Z))
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(e.Body))
		b.WriteString("\n")
	}
	return truncate(b.String(), maxThreadContent)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

func threadParticipants(emails []*mailboxdomain.Email) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range emails {
		for _, p := range e.Participants() {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// newSubmission builds the queued row for a freshly submitted thread.
func newSubmission(key domain.ThreadKey, externalJobID string, emails []*mailboxdomain.Email, previous *domain.ThreadSummary, now time.Time) *domain.ThreadSummary {
	attempts := 1
	if previous != nil {
		attempts = previous.Attempts + 1
	}
	job := &domain.ThreadSummary{
		ID:            uuid.New().String(),
		AccountID:     key.AccountID,
		ThreadID:      key.ThreadID,
		ExternalJobID: externalJobID,
		Status:        domain.StatusQueued,
		Attempts:      attempts,
		SubmittedAt:   &now,
		Participants:  threadParticipants(emails),
	}
	if len(emails) > 0 {
		job.UserID = emails[0].UserID
		job.CompanyID = emails[0].CompanyID
	}
	return job
}

// completionFields are the columns written when a job completes.
func completionFields(res *domain.Result, at time.Time) map[string]interface{} {
	fields := map[string]interface{}{
		"summary":      res.Summary,
		"key_points":   mailboxdomain.StringArray(res.KeyPoints),
		"action_items": mailboxdomain.StringArray(res.ActionItems),
		"sentiment":    res.Sentiment,
		"error":        "",
		"completed_at": at,
	}
	if len(res.Participants) > 0 {
		fields["participants"] = mailboxdomain.StringArray(res.Participants)
	}
	return fields
}

func failureFields(reason string, at time.Time) map[string]interface{} {
	if reason == "" {
		reason = "summarization job failed"
	}
	return map[string]interface{}{
		"error":        reason,
		"completed_at": at,
	}
}
