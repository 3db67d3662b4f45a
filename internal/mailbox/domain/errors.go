package domain

import (
	"context"
	"errors"
	"net"
	"net/http"
)

var (
	ErrConfigMissing  = errors.New("mailbox configuration missing")
	ErrAuth           = errors.New("mailbox authentication failed")
	ErrAuthPermanent  = errors.New("mailbox credentials revoked")
	ErrRateLimited    = errors.New("mailbox provider rate limited")
	ErrNetwork        = errors.New("mailbox network error")
	ErrParse          = errors.New("message parse error")
	ErrUnknownAccount = errors.New("email account not found")
)

// ErrorKind is the failure class used by retry decisions and logs.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindConfigMissing ErrorKind = "config_missing"
	KindAuth          ErrorKind = "auth"
	KindAuthPermanent ErrorKind = "auth_permanent"
	KindRateLimited   ErrorKind = "rate_limited"
	KindNetwork       ErrorKind = "network"
	KindParse         ErrorKind = "parse"
	KindUnknown       ErrorKind = "unknown"
)

// Permanent reports whether retrying can never succeed without operator action.
func (k ErrorKind) Permanent() bool {
	return k == KindConfigMissing || k == KindAuthPermanent
}

// Classify maps err onto the failure taxonomy.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrConfigMissing), errors.Is(err, ErrUnknownAccount):
		return KindConfigMissing
	case errors.Is(err, ErrAuthPermanent):
		return KindAuthPermanent
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrParse):
		return KindParse
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	return KindUnknown
}

// StatusError returns the taxonomy sentinel for an HTTP status code, or nil
// when the status does not fall in any class.
func StatusError(code int) error {
	switch {
	case code == http.StatusUnauthorized:
		return ErrAuth
	case code == http.StatusForbidden:
		return ErrAuthPermanent
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code >= 500:
		return ErrNetwork
	}
	return nil
}
