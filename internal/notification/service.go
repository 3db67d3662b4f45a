package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mailboxdomain "crmsync-backend/internal/mailbox/domain"
	summarydomain "crmsync-backend/internal/summary/domain"
	"crmsync-backend/pkg/fcm"
)

const (
	EventNewEmail      = "new_email"
	EventSummaryUpdate = "summary_update"

	deliveryTimeout = 30 * time.Second
	maxSubjectLen   = 100
)

// EventSink delivers realtime events to a user's open streams.
type EventSink interface {
	SendToUser(userID, event string, data interface{})
}

// Pusher sends mobile/web push notifications and returns rejected tokens.
type Pusher interface {
	SendToDevices(ctx context.Context, tokens []string, n fcm.NotificationData) ([]string, error)
}

// TokenStore lists and prunes push registrations.
type TokenStore interface {
	TokensByUserID(ctx context.Context, userID string) ([]string, error)
	Delete(ctx context.Context, token string) error
}

// Publisher forwards events to downstream CRM services.
type Publisher interface {
	Publish(ctx context.Context, event *EmailEvent) error
}

// EmailEvent describes a newly stored email.
type EmailEvent struct {
	Type       string    `json:"type"`
	EmailID    string    `json:"email_id"`
	AccountID  string    `json:"account_id"`
	UserID     string    `json:"user_id"`
	CompanyID  string    `json:"company_id"`
	ThreadID   string    `json:"thread_id"`
	From       string    `json:"from"`
	FromName   string    `json:"from_name,omitempty"`
	Subject    string    `json:"subject"`
	IsIncoming bool      `json:"is_incoming"`
	ContactIDs []string  `json:"contact_ids"`
	DealIDs    []string  `json:"deal_ids"`
	ReceivedAt time.Time `json:"received_at"`
}

// SummaryEvent reports a thread summary that reached a terminal state.
type SummaryEvent struct {
	AccountID string                     `json:"account_id"`
	ThreadID  string                     `json:"thread_id"`
	Status    summarydomain.PublicStatus `json:"status"`
	Summary   string                     `json:"summary,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

// Service fans new-email and summary events out to SSE, FCM and Pub/Sub.
// Any of the outputs may be nil.
type Service struct {
	sink      EventSink
	pusher    Pusher
	tokens    TokenStore
	publisher Publisher
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewService(sink EventSink, pusher Pusher, tokens TokenStore, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		sink:      sink,
		pusher:    pusher,
		tokens:    tokens,
		publisher: publisher,
		logger:    logger.With("component", "notification"),
	}
}

// NotifyNewEmail emits the SSE event inline; push and publish run in the background.
func (s *Service) NotifyNewEmail(ctx context.Context, account *mailboxdomain.EmailAccount, email *mailboxdomain.Email) {
	event := newEmailEvent(email)

	if s.sink != nil {
		s.sink.SendToUser(email.UserID, EventNewEmail, event)
	}

	pushWanted := email.IsIncoming && s.pusher != nil && s.tokens != nil
	if !pushWanted && s.publisher == nil {
		return
	}

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		if pushWanted {
			s.push(bg, email)
		}
		if s.publisher != nil {
			if err := s.publisher.Publish(bg, event); err != nil {
				s.logger.Warn("failed to publish email event", "email_id", email.ID, "error", err)
			}
		}
	}()
}

// NotifySummary sends the finished summary to the thread owner's streams.
func (s *Service) NotifySummary(ctx context.Context, job *summarydomain.ThreadSummary) {
	if s.sink == nil || job.UserID == "" {
		return
	}
	s.sink.SendToUser(job.UserID, EventSummaryUpdate, SummaryEvent{
		AccountID: job.AccountID,
		ThreadID:  job.ThreadID,
		Status:    job.Status.Public(),
		Summary:   job.Summary,
		Error:     job.Error,
	})
}

// Wait blocks until background deliveries finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) push(ctx context.Context, email *mailboxdomain.Email) {
	tokens, err := s.tokens.TokensByUserID(ctx, email.UserID)
	if err != nil {
		s.logger.Warn("failed to load push tokens", "user_id", email.UserID, "error", err)
		return
	}
	if len(tokens) == 0 {
		return
	}

	failed, err := s.pusher.SendToDevices(ctx, tokens, pushContent(email))
	if err != nil {
		s.logger.Warn("push failed", "user_id", email.UserID, "error", err)
		return
	}
	for _, token := range failed {
		if err := s.tokens.Delete(ctx, token); err != nil {
			s.logger.Warn("failed to delete stale push token", "error", err)
		}
	}
}

func newEmailEvent(email *mailboxdomain.Email) *EmailEvent {
	return &EmailEvent{
		Type:       EventNewEmail,
		EmailID:    email.ID,
		AccountID:  email.AccountID,
		UserID:     email.UserID,
		CompanyID:  email.CompanyID,
		ThreadID:   email.ThreadID,
		From:       email.From,
		FromName:   email.FromName,
		Subject:    email.Subject,
		IsIncoming: email.IsIncoming,
		ContactIDs: nonNil(email.ContactIDs),
		DealIDs:    nonNil(email.DealIDs),
		ReceivedAt: email.ReceivedAt,
	}
}

func pushContent(email *mailboxdomain.Email) fcm.NotificationData {
	sender := email.FromName
	if sender == "" {
		sender = email.From
	}
	body := email.Subject
	if len(body) > maxSubjectLen {
		body = body[:maxSubjectLen-3] + "..."
	}
	if body == "" {
		body = "(no subject)"
	}
	return fcm.NotificationData{
		Title: fmt.Sprintf("New email from %s", sender),
		Body:  body,
		Data: map[string]string{
			"type":         EventNewEmail,
			"email_id":     email.ID,
			"thread_id":    email.ThreadID,
			"click_action": "/inbox/" + email.ID,
		},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
