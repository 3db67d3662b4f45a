package domain

import (
	"context"
	"time"
)

// Connector is the capability set every mailbox provider implements.
type Connector interface {
	// Fetch returns at most max messages, oldest first. With a watermark it
	// returns the oldest messages received at or after since, so a full batch
	// means more may remain; with since nil it returns the most recent ones.
	Fetch(ctx context.Context, account *EmailAccount, since *time.Time, max int) ([]RawMessage, error)
	// Send delivers msg from account and returns the provider message id.
	Send(ctx context.Context, account *EmailAccount, msg *OutboundMessage) (string, error)
	TestConnection(ctx context.Context, account *EmailAccount) ConnectionResult
}

// ConnectionResult is the outcome of Connector.TestConnection.
type ConnectionResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}
