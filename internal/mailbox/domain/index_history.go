package domain

import "time"

// IndexHistory tracks which emails have been embedded into the vector database
type IndexHistory struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	AccountID string    `json:"account_id" gorm:"uniqueIndex:idx_account_email_unique;not null"`
	EmailID   string    `json:"email_id" gorm:"uniqueIndex:idx_account_email_unique;not null"`
	IndexedAt time.Time `json:"indexed_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM
func (IndexHistory) TableName() string {
	return "email_index_history"
}
