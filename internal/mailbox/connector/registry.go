// Package connector selects the mailbox connector for an account's provider.
package connector

import (
	"context"
	"fmt"
	"time"

	"crmsync-backend/internal/mailbox/domain"
)

// Registry dispatches Connector calls by account provider.
type Registry struct {
	connectors map[domain.Provider]domain.Connector
}

func NewRegistry() *Registry {
	return &Registry{connectors: make(map[domain.Provider]domain.Connector)}
}

// Register binds c to provider, replacing any previous binding.
func (r *Registry) Register(provider domain.Provider, c domain.Connector) {
	r.connectors[provider] = c
}

// For returns the connector serving account.
func (r *Registry) For(account *domain.EmailAccount) (domain.Connector, error) {
	c, ok := r.connectors[account.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: no connector for provider %q", domain.ErrConfigMissing, account.Provider)
	}
	return c, nil
}

func (r *Registry) Fetch(ctx context.Context, account *domain.EmailAccount, since *time.Time, max int) ([]domain.RawMessage, error) {
	c, err := r.For(account)
	if err != nil {
		return nil, err
	}
	return c.Fetch(ctx, account, since, max)
}

func (r *Registry) Send(ctx context.Context, account *domain.EmailAccount, msg *domain.OutboundMessage) (string, error) {
	c, err := r.For(account)
	if err != nil {
		return "", err
	}
	return c.Send(ctx, account, msg)
}

func (r *Registry) TestConnection(ctx context.Context, account *domain.EmailAccount) domain.ConnectionResult {
	c, err := r.For(account)
	if err != nil {
		return domain.ConnectionResult{Message: err.Error()}
	}
	return c.TestConnection(ctx, account)
}
