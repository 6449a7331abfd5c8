// Package auth issues and checks login sessions and decides which role may
// perform which operation.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/telecrm/backend/internal/models"
)

var ErrInvalidToken = errors.New("invalid or expired session token")

type Claims struct {
	UserID   string      `json:"uid"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Session is the authenticated caller of one request.
type Session struct {
	UserID    string      `json:"id"`
	Username  string      `json:"username"`
	Role      models.Role `json:"userType"`
	TokenID   string      `json:"-"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// TokenManager signs and verifies HS256 session tokens.
type TokenManager struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

func NewTokenManager(secret string, lifetime time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), lifetime: lifetime, now: time.Now}
}

func (m *TokenManager) Issue(u models.User) (string, Session, error) {
	now := m.now()
	s := Session{
		UserID:    u.ID,
		Username:  u.Username,
		Role:      u.UserType,
		TokenID:   uuid.NewString(),
		ExpiresAt: now.Add(m.lifetime).Truncate(time.Second),
	}
	claims := &Claims{
		UserID:   s.UserID,
		Username: s.Username,
		Role:     s.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.TokenID,
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", Session{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, s, nil
}

func (m *TokenManager) Parse(token string) (Session, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return Session{}, ErrInvalidToken
	}
	if claims.ID == "" || claims.UserID == "" {
		return Session{}, ErrInvalidToken
	}
	return Session{
		UserID:    claims.UserID,
		Username:  claims.Username,
		Role:      claims.Role,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
