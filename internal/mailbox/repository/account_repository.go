package repository

import (
	"context"
	"time"

	"crmsync-backend/internal/mailbox/domain"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// AccountRepository defines the interface for email account data access
type AccountRepository interface {
	Create(ctx context.Context, account *domain.EmailAccount) error
	// FindByID returns nil, nil when the account does not exist
	FindByID(ctx context.Context, id string) (*domain.EmailAccount, error)
	// FindByEmailAddress returns active accounts of provider connected to address
	FindByEmailAddress(ctx context.Context, provider domain.Provider, address string) ([]*domain.EmailAccount, error)
	// FindDueForSync returns active accounts never synced or last synced before the cutoff
	FindDueForSync(ctx context.Context, before time.Time) ([]*domain.EmailAccount, error)
	UpdateLastSyncAt(ctx context.Context, id string, at time.Time) error
	UpdateTokens(ctx context.Context, id string, token *oauth2.Token) error
	// UpdateServers replaces the IMAP and SMTP settings, passwords included
	UpdateServers(ctx context.Context, id string, imap, smtp domain.ServerConfig) error
}

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *domain.EmailAccount) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *accountRepository) FindByID(ctx context.Context, id string) (*domain.EmailAccount, error) {
	var account domain.EmailAccount
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) FindByEmailAddress(ctx context.Context, provider domain.Provider, address string) ([]*domain.EmailAccount, error) {
	var accounts []*domain.EmailAccount
	err := r.db.WithContext(ctx).
		Where("provider = ? AND LOWER(email_address) = LOWER(?) AND is_active = ?", provider, address, true).
		Find(&accounts).Error
	return accounts, err
}

func (r *accountRepository) FindDueForSync(ctx context.Context, before time.Time) ([]*domain.EmailAccount, error) {
	var accounts []*domain.EmailAccount
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND (last_sync_at IS NULL OR last_sync_at < ?)", true, before).
		Order("CASE WHEN last_sync_at IS NULL THEN 0 ELSE 1 END, last_sync_at ASC").
		Find(&accounts).Error
	return accounts, err
}

func (r *accountRepository) UpdateLastSyncAt(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.EmailAccount{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_sync_at": at,
			"updated_at":   time.Now(),
		}).Error
}

func (r *accountRepository) UpdateTokens(ctx context.Context, id string, token *oauth2.Token) error {
	updates := map[string]interface{}{
		"access_token": token.AccessToken,
		"updated_at":   time.Now(),
	}
	if token.RefreshToken != "" {
		updates["refresh_token"] = token.RefreshToken
	}
	if !token.Expiry.IsZero() {
		updates["token_expiry"] = token.Expiry
	}
	return r.db.WithContext(ctx).Model(&domain.EmailAccount{}).Where("id = ?", id).Updates(updates).Error
}

func (r *accountRepository) UpdateServers(ctx context.Context, id string, imap, smtp domain.ServerConfig) error {
	return r.db.WithContext(ctx).Model(&domain.EmailAccount{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"imap_host":     imap.Host,
			"imap_port":     imap.Port,
			"imap_username": imap.Username,
			"imap_password": imap.Password,
			"imap_tls":      imap.UseTLS,
			"smtp_host":     smtp.Host,
			"smtp_port":     smtp.Port,
			"smtp_username": smtp.Username,
			"smtp_password": smtp.Password,
			"smtp_tls":      smtp.UseTLS,
			"updated_at":    time.Now(),
		}).Error
}
