package usecase

import (
	"errors"
	"testing"
	"time"

	"crmsync-backend/internal/auth/domain"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndValidate(t *testing.T) {
	u := NewTokenUsecase("test-secret")
	token, err := u.IssueAccessToken(domain.Principal{UserID: "u1", CompanyID: "co1", Email: "a@example.com"}, time.Hour)
	if err != nil {
		t.Fatalf("IssueAccessToken() error: %v", err)
	}

	p, err := u.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error: %v", err)
	}
	if p.UserID != "u1" || p.CompanyID != "co1" || p.Email != "a@example.com" {
		t.Errorf("principal = %+v", p)
	}
}

func TestValidateRejects(t *testing.T) {
	u := NewTokenUsecase("test-secret")

	expired, _ := u.IssueAccessToken(domain.Principal{UserID: "u1"}, -time.Minute)
	otherKey, _ := NewTokenUsecase("other").IssueAccessToken(domain.Principal{UserID: "u1"}, time.Hour)
	noUser, _ := u.IssueAccessToken(domain.Principal{}, time.Hour)
	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "u1"}).SignedString([]byte("test-secret"))

	tests := map[string]string{
		"expired":     expired,
		"wrong key":   otherKey,
		"no user":     noUser,
		"no expiry":   noExp,
		"not a token": "abc.def",
	}
	for name, token := range tests {
		if _, err := u.ValidateToken(token); !errors.Is(err, domain.ErrInvalidToken) {
			t.Errorf("%s: error = %v, want ErrInvalidToken", name, err)
		}
	}
}
