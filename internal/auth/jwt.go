// Package auth provides password hashing and HS256 JWT access/refresh tokens
// for the API.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the authenticated subject (user email).
type Claims struct {
	jwt.RegisteredClaims
}

// TokenManager signs and validates JWT tokens.
type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenManager(secret string, accessTTL, refreshTTL time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	return &TokenManager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// RefreshTTL returns the refresh token lifetime, used for cookie expiry.
func (m *TokenManager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

// AccessToken issues a short-lived access token for the subject.
func (m *TokenManager) AccessToken(sub string) (string, error) {
	return m.sign(sub, m.accessTTL)
}

// RefreshToken issues a long-lived refresh token for the subject.
func (m *TokenManager) RefreshToken(sub string) (string, error) {
	return m.sign(sub, m.refreshTTL)
}

func (m *TokenManager) sign(sub string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses a token, verifies the HMAC signature and time claims, and
// returns the subject. Rejects tokens signed with any other method.
func (m *TokenManager) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid token claims")
	}
	return claims.Subject, nil
}
