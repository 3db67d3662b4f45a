package usecase

import (
	"context"

	crmdomain "crmsync-backend/internal/crm/domain"
	"crmsync-backend/internal/mailbox/domain"
)

// Matcher resolves participant addresses to CRM entities
type Matcher interface {
	Match(ctx context.Context, companyID string, addresses []string) (crmdomain.Match, error)
}

// Notifier receives every newly stored email
type Notifier interface {
	NotifyNewEmail(ctx context.Context, account *domain.EmailAccount, email *domain.Email)
}

// Indexer adds stored emails to the semantic index
type Indexer interface {
	IndexEmail(ctx context.Context, email *domain.Email) error
}

// IngestResult counts the outcome of one account sync
type IngestResult struct {
	Fetched   int `json:"fetched"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
	// Backlog is set when the fetch was cut at the limit and more mail remains.
	Backlog bool `json:"backlog"`
}
