package repository

import (
	"context"
	"time"

	"crmsync-backend/internal/auth/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeviceTokenRepository stores FCM registrations.
type DeviceTokenRepository interface {
	// Save registers token for userID, moving it if another user held it.
	Save(ctx context.Context, userID, token, platform, deviceInfo string) error
	TokensByUserID(ctx context.Context, userID string) ([]string, error)
	Delete(ctx context.Context, token string) error
	DeleteForUser(ctx context.Context, userID, token string) (bool, error)
}

type deviceTokenRepository struct {
	db *gorm.DB
}

func NewDeviceTokenRepository(db *gorm.DB) DeviceTokenRepository {
	return &deviceTokenRepository{db: db}
}

func (r *deviceTokenRepository) Save(ctx context.Context, userID, token, platform, deviceInfo string) error {
	now := time.Now()
	row := &domain.DeviceToken{
		ID:         uuid.New().String(),
		UserID:     userID,
		Token:      token,
		Platform:   platform,
		DeviceInfo: deviceInfo,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	// INSERT ... ON CONFLICT (token) DO UPDATE
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "platform", "device_info", "updated_at"}),
	}).Create(row).Error
}

func (r *deviceTokenRepository) TokensByUserID(ctx context.Context, userID string) ([]string, error) {
	var tokens []string
	err := r.db.WithContext(ctx).Model(&domain.DeviceToken{}).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Pluck("token", &tokens).Error
	return tokens, err
}

func (r *deviceTokenRepository) Delete(ctx context.Context, token string) error {
	return r.db.WithContext(ctx).Where("token = ?", token).Delete(&domain.DeviceToken{}).Error
}

func (r *deviceTokenRepository) DeleteForUser(ctx context.Context, userID, token string) (bool, error) {
	result := r.db.WithContext(ctx).Where("user_id = ? AND token = ?", userID, token).Delete(&domain.DeviceToken{})
	return result.RowsAffected > 0, result.Error
}
