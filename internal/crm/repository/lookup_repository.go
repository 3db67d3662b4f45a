package repository

import (
	"context"
	"strings"

	"crmsync-backend/internal/crm/domain"

	"gorm.io/gorm"
)

// LookupRepository resolves addresses to CRM entities within a company
type LookupRepository interface {
	FindContactsByEmails(ctx context.Context, companyID string, emails []string) ([]domain.Contact, error)
	FindDealIDsByContactIDs(ctx context.Context, companyID string, contactIDs []string) ([]string, error)
}

type lookupRepository struct {
	db *gorm.DB
}

func NewLookupRepository(db *gorm.DB) LookupRepository {
	return &lookupRepository{db: db}
}

func (r *lookupRepository) FindContactsByEmails(ctx context.Context, companyID string, emails []string) ([]domain.Contact, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	lowered := make([]string, len(emails))
	for i, e := range emails {
		lowered[i] = strings.ToLower(e)
	}

	var contacts []domain.Contact
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND LOWER(email) IN ?", companyID, lowered).
		Order("id").
		Find(&contacts).Error
	return contacts, err
}

func (r *lookupRepository) FindDealIDsByContactIDs(ctx context.Context, companyID string, contactIDs []string) ([]string, error) {
	if len(contactIDs) == 0 {
		return nil, nil
	}
	var ids []string
	err := r.db.WithContext(ctx).Model(&domain.DealContact{}).
		Distinct("deal_contacts.deal_id").
		Joins("JOIN deals ON deals.id = deal_contacts.deal_id").
		Where("deals.company_id = ? AND deal_contacts.contact_id IN ?", companyID, contactIDs).
		Order("deal_contacts.deal_id").
		Pluck("deal_contacts.deal_id", &ids).Error
	return ids, err
}
