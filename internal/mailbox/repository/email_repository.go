package repository

import (
	"context"

	"crmsync-backend/internal/mailbox/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EmailRepository defines the interface for canonical email storage
type EmailRepository interface {
	// Create inserts email unless (account_id, message_id) already exists.
	// It reports whether a row was inserted.
	Create(ctx context.Context, email *domain.Email) (bool, error)
	ExistsByMessageID(ctx context.Context, accountID, messageID string) (bool, error)
	// FindByThreadID returns the account's emails in the thread, oldest first
	FindByThreadID(ctx context.Context, accountID, threadID string) ([]*domain.Email, error)
}

type emailRepository struct {
	db *gorm.DB
}

func NewEmailRepository(db *gorm.DB) EmailRepository {
	return &emailRepository{db: db}
}

func (r *emailRepository) Create(ctx context.Context, email *domain.Email) (bool, error) {
	if email.ID == "" {
		email.ID = uuid.New().String()
	}
	// Atomic insert: INSERT ... ON CONFLICT (account_id, message_id) DO NOTHING
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "message_id"}},
		DoNothing: true,
	}).Create(email)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *emailRepository) ExistsByMessageID(ctx context.Context, accountID, messageID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Email{}).
		Where("account_id = ? AND message_id = ?", accountID, messageID).
		Count(&count).Error
	return count > 0, err
}

func (r *emailRepository) FindByThreadID(ctx context.Context, accountID, threadID string) ([]*domain.Email, error) {
	var emails []*domain.Email
	err := r.db.WithContext(ctx).Where("account_id = ? AND thread_id = ?", accountID, threadID).
		Order("sent_at ASC, created_at ASC").
		Find(&emails).Error
	return emails, err
}
