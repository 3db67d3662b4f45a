package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"crmsync-backend/internal/mailbox/domain"
	"crmsync-backend/internal/mailbox/repository"
)

// SendService delivers outbound mail and records it as a canonical email.
type SendService struct {
	accounts  repository.AccountRepository
	emails    repository.EmailRepository
	connector domain.Connector
	matcher   Matcher
	logger    *slog.Logger
	now       func() time.Time
}

func NewSendService(
	accounts repository.AccountRepository,
	emails repository.EmailRepository,
	connector domain.Connector,
	matcher Matcher,
	logger *slog.Logger,
) *SendService {
	return &SendService{
		accounts:  accounts,
		emails:    emails,
		connector: connector,
		matcher:   matcher,
		logger:    logger.With("component", "send"),
		now:       time.Now,
	}
}

// SendMessage sends msg from accountID and returns the provider message id.
// The message is delivered even if recording it afterwards fails.
func (s *SendService) SendMessage(ctx context.Context, accountID string, msg *domain.OutboundMessage) (string, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownAccount, accountID)
	}

	messageID, err := s.connector.Send(ctx, account, msg)
	if err != nil {
		return "", err
	}

	now := s.now()
	threadID := msg.ThreadID
	if threadID == "" {
		threadID = messageID
	}
	email := &domain.Email{
		AccountID:  account.ID,
		UserID:     account.UserID,
		CompanyID:  account.CompanyID,
		MessageID:  messageID,
		ThreadID:   threadID,
		From:       account.EmailAddress,
		FromName:   account.DisplayName,
		To:         msg.To,
		Cc:         msg.Cc,
		Bcc:        msg.Bcc,
		Subject:    msg.Subject,
		Body:       msg.Body,
		HTMLBody:   msg.HTMLBody,
		IsIncoming: false,
		IsRead:     true,
		SentAt:     now,
		ReceivedAt: now,
		ContactIDs: domain.StringArray{},
		DealIDs:    domain.StringArray{},
	}
	if s.matcher != nil {
		if match, err := s.matcher.Match(ctx, account.CompanyID, email.Participants()); err == nil {
			email.ContactIDs = match.ContactIDs
			email.DealIDs = match.DealIDs
		} else {
			s.logger.Warn("crm match failed", "account_id", account.ID, "error", err)
		}
	}

	if _, err := s.emails.Create(ctx, email); err != nil {
		s.logger.Error("failed to record sent email", "account_id", account.ID, "message_id", messageID, "error", err)
	}
	return messageID, nil
}

// TestConnection checks the stored credentials of accountID.
func (s *SendService) TestConnection(ctx context.Context, accountID string) (domain.ConnectionResult, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return domain.ConnectionResult{}, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return domain.ConnectionResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownAccount, accountID)
	}
	return s.connector.TestConnection(ctx, account), nil
}
