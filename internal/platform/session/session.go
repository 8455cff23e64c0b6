// Package session issues and verifies the signed session tokens returned by
// LOGIN. A token binds a user id and role for a bounded lifetime and can be
// revoked early by LOGOUT.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "telehealth"

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrRevoked      = errors.New("session token has been revoked")
)

// Claims is the token body.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// Manager signs tokens with an HMAC key.
type Manager struct {
	key     []byte
	ttl     time.Duration
	revoked *RevocationStore
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager. revoked may be nil, in which case tokens
// cannot be revoked before they expire.
func NewManager(key string, ttl time.Duration, revoked *RevocationStore, opts ...Option) (*Manager, error) {
	if key == "" {
		return nil, errors.New("session: signing key is required")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	m := &Manager{key: []byte(key), ttl: ttl, revoked: revoked, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue returns a signed token for userID with the given role.
func (m *Manager) Issue(userID, role string) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies the signature, lifetime and revocation status of token.
func (m *Manager) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return m.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if m.revoked != nil && m.revoked.IsRevoked(claims.ID) {
		return nil, ErrRevoked
	}
	return claims, nil
}

// VerifySubject returns the user id a valid token was issued to.
func (m *Manager) VerifySubject(_ context.Context, token string) (string, error) {
	claims, err := m.Parse(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Revoke ends token early. A token that is already revoked fails with
// ErrRevoked.
func (m *Manager) Revoke(token string) (*Claims, error) {
	claims, err := m.Parse(token)
	if err != nil {
		return nil, err
	}
	if m.revoked == nil {
		return nil, errors.New("session: revocation is not enabled")
	}
	m.revoked.Revoke(claims.ID, claims.Subject, claims.ExpiresAt.Time)
	return claims, nil
}
