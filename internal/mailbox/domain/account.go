package domain

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// Provider tags the mailbox backend of an account.
type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
	ProviderIMAP    Provider = "imap"
)

// ServerConfig holds host settings for IMAP or SMTP. Password is stored encrypted.
type ServerConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
	UseTLS   bool   `json:"use_tls" gorm:"column:tls"`
}

// Configured reports whether a host has been set.
func (c ServerConfig) Configured() bool {
	return c.Host != ""
}

// EmailAccount is a connected mailbox owned by a user.
type EmailAccount struct {
	ID           string       `json:"id" gorm:"primaryKey"`
	UserID       string       `json:"user_id" gorm:"index;not null"`
	CompanyID    string       `json:"company_id" gorm:"index"`
	Provider     Provider     `json:"provider" gorm:"type:varchar(16);not null"`
	EmailAddress string       `json:"email_address" gorm:"not null"`
	DisplayName  string       `json:"display_name"`
	AccessToken  string       `json:"-" gorm:"type:text"`
	RefreshToken string       `json:"-" gorm:"type:text"`
	TokenExpiry  *time.Time   `json:"-"`
	IMAP         ServerConfig `json:"imap" gorm:"embedded;embeddedPrefix:imap_"`
	SMTP         ServerConfig `json:"smtp" gorm:"embedded;embeddedPrefix:smtp_"`
	IsActive     bool         `json:"is_active" gorm:"index"`
	LastSyncAt   *time.Time   `json:"last_sync_at"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// OAuthToken returns the stored token pair in oauth2 form.
func (a *EmailAccount) OAuthToken() *oauth2.Token {
	t := &oauth2.Token{
		AccessToken:  a.AccessToken,
		RefreshToken: a.RefreshToken,
		TokenType:    "Bearer",
	}
	if a.TokenExpiry != nil {
		t.Expiry = *a.TokenExpiry
	}
	return t
}

// TokenUpdateFunc is called when a connector refreshes an account's OAuth token.
type TokenUpdateFunc func(token *oauth2.Token) error

// TokenSaver persists a refreshed token for account.
type TokenSaver func(ctx context.Context, account *EmailAccount, token *oauth2.Token) error
