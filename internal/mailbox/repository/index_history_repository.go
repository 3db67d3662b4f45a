package repository

import (
	"context"
	"time"

	"crmsync-backend/internal/mailbox/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IndexHistoryRepository tracks which emails were embedded into the vector index
type IndexHistoryRepository interface {
	// EnsureIndexed records emailID as indexed and reports whether it already was
	EnsureIndexed(ctx context.Context, accountID, emailID string) (bool, error)
	Delete(ctx context.Context, accountID, emailID string) error
}

type indexHistoryRepository struct {
	db *gorm.DB
}

func NewIndexHistoryRepository(db *gorm.DB) IndexHistoryRepository {
	return &indexHistoryRepository{db: db}
}

func (r *indexHistoryRepository) EnsureIndexed(ctx context.Context, accountID, emailID string) (bool, error) {
	var history domain.IndexHistory

	// Use FirstOrCreate to check and create in one query
	now := time.Now()
	result := r.db.WithContext(ctx).Where("account_id = ? AND email_id = ?", accountID, emailID).
		FirstOrCreate(&history, domain.IndexHistory{
			ID:        uuid.New().String(),
			AccountID: accountID,
			EmailID:   emailID,
			IndexedAt: now,
			CreatedAt: now,
		})
	if result.Error != nil {
		return false, result.Error
	}

	// A created row means the email had not been indexed before
	return result.RowsAffected == 0, nil
}

func (r *indexHistoryRepository) Delete(ctx context.Context, accountID, emailID string) error {
	return r.db.WithContext(ctx).Where("account_id = ? AND email_id = ?", accountID, emailID).
		Delete(&domain.IndexHistory{}).Error
}
