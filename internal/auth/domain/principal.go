package domain

import "errors"

var ErrInvalidToken = errors.New("invalid or expired token")

// Principal is the caller identified by a bearer token.
type Principal struct {
	UserID    string `json:"user_id"`
	CompanyID string `json:"company_id"`
	Email     string `json:"email,omitempty"`
}
