package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"crmsync-backend/internal/mailbox/domain"
	"crmsync-backend/internal/mailbox/repository"
	"crmsync-backend/pkg/utils/crypto"
)

// ServerConfigService stores the IMAP/SMTP settings of an account with passwords sealed.
type ServerConfigService struct {
	accounts      repository.AccountRepository
	encryptionKey string
	logger        *slog.Logger
}

func NewServerConfigService(accounts repository.AccountRepository, encryptionKey string, logger *slog.Logger) *ServerConfigService {
	return &ServerConfigService{
		accounts:      accounts,
		encryptionKey: encryptionKey,
		logger:        logger.With("component", "servers"),
	}
}

// ConfigureServers replaces the server settings of accountID. Passwords arrive in
// plaintext; an empty password keeps the one already stored.
func (s *ServerConfigService) ConfigureServers(ctx context.Context, accountID string, imap, smtp domain.ServerConfig) error {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return fmt.Errorf("%w: %s", domain.ErrUnknownAccount, accountID)
	}

	if imap.Password, err = s.seal(imap.Password, account.IMAP.Password); err != nil {
		return err
	}
	if smtp.Password, err = s.seal(smtp.Password, account.SMTP.Password); err != nil {
		return err
	}
	if err := s.accounts.UpdateServers(ctx, accountID, imap, smtp); err != nil {
		return fmt.Errorf("failed to save server config: %w", err)
	}
	s.logger.Info("server config updated", "account_id", accountID, "imap_host", imap.Host, "smtp_host", smtp.Host)
	return nil
}

func (s *ServerConfigService) seal(plaintext, stored string) (string, error) {
	if plaintext == "" {
		return stored, nil
	}
	sealed, err := crypto.Encrypt(plaintext, s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt password: %w", err)
	}
	return sealed, nil
}
