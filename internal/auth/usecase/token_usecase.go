package usecase

import (
	"fmt"
	"time"

	"crmsync-backend/internal/auth/domain"

	"github.com/golang-jwt/jwt/v5"
)

// TokenUsecase issues and validates HS256 access tokens.
type TokenUsecase interface {
	IssueAccessToken(p domain.Principal, ttl time.Duration) (string, error)
	ValidateToken(tokenString string) (*domain.Principal, error)
}

type tokenUsecase struct {
	secret []byte
	now    func() time.Time
}

func NewTokenUsecase(secret string) TokenUsecase {
	return &tokenUsecase{secret: []byte(secret), now: time.Now}
}

func (u *tokenUsecase) IssueAccessToken(p domain.Principal, ttl time.Duration) (string, error) {
	now := u.now()
	claims := jwt.MapClaims{
		"user_id":    p.UserID,
		"company_id": p.CompanyID,
		"email":      p.Email,
		"exp":        now.Add(ttl).Unix(),
		"iat":        now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(u.secret)
}

func (u *tokenUsecase) ValidateToken(tokenString string) (*domain.Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return u.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, domain.ErrInvalidToken
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return nil, domain.ErrInvalidToken
	}
	companyID, _ := claims["company_id"].(string)
	email, _ := claims["email"].(string)

	return &domain.Principal{UserID: userID, CompanyID: companyID, Email: email}, nil
}
