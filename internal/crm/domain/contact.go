package domain

import "time"

// Contact is a CRM person identified by email address.
type Contact struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	CompanyID string    `json:"company_id" gorm:"index:idx_company_email;not null"`
	Email     string    `json:"email" gorm:"index:idx_company_email;not null"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Deal is a CRM opportunity.
type Deal struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	CompanyID string    `json:"company_id" gorm:"index;not null"`
	Name      string    `json:"name"`
	Stage     string    `json:"stage"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DealContact links a contact to a deal.
type DealContact struct {
	DealID    string `json:"deal_id" gorm:"primaryKey"`
	ContactID string `json:"contact_id" gorm:"primaryKey;index"`
}

// Match is the set of CRM entities a message relates to.
type Match struct {
	ContactIDs []string
	DealIDs    []string
}
