// Package auth signs and verifies the HS256 bearer tokens the API accepts.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/contentgen-be/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for malformed, expired or badly signed tokens
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingSubject is returned when a valid token carries no user id
	ErrMissingSubject = errors.New("missing sub")
)

// Claims carries the user identity inside a token
type Claims struct {
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type JWT struct {
	secret []byte
	ttl    time.Duration
}

func NewJWT(secret string, ttl time.Duration) *JWT {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWT{secret: []byte(secret), ttl: ttl}
}

func (j *JWT) Sign(user domain.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:  user.Role,
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(j.secret)
}

func (j *JWT) Verify(tokenStr string) (domain.User, error) {
	var claims Claims
	t, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return j.secret, nil
	})
	if err != nil || !t.Valid {
		return domain.User{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return domain.User{}, ErrMissingSubject
	}

	role := claims.Role
	if role == "" {
		role = domain.RoleUser
	}
	return domain.User{ID: claims.Subject, Role: role, Email: claims.Email}, nil
}
