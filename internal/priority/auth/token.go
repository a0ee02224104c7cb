package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errAuthorizationRequired = errors.New("authorization header required")

// DefaultTokenTTL is the lifetime of issued tokens.
const DefaultTokenTTL = 24 * time.Hour

func GenerateToken(userID string, secret string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
