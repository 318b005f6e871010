// Package auth issues and verifies the signed bearer tokens that identify
// platform users. Tokens are HS256 JWTs carrying the user ID, role set, and
// community memberships, and are presented both on HTTP requests and on the
// WebSocket upgrade query string.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the validity window for newly issued tokens.
const DefaultTokenTTL = 7 * 24 * time.Hour

// ErrInvalidToken is returned for any credential that fails verification:
// bad signature, expired, malformed, or missing a subject.
var ErrInvalidToken = errors.New("auth: invalid token")

// Identity is the authenticated subject resolved from a verified token.
type Identity struct {
	UserID       string
	Roles        []string
	CommunityIDs []string
}

// HasRole reports whether the identity carries any of the given roles.
func (id Identity) HasRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range id.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Claims is the JWT claim set used by the platform.
type Claims struct {
	Roles        []string `json:"roles"`
	CommunityIDs []string `json:"communityIds"`
	jwt.RegisteredClaims
}

// Manager signs and verifies tokens with a shared HMAC secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager creates a token manager. The secret must be non-empty; the
// server refuses to start without one rather than running unauthenticated.
func NewManager(secret string, ttl time.Duration) (*Manager, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: JWT secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Manager{secret: []byte(secret), ttl: ttl}, nil
}

// Sign issues a token for the given identity.
func (m *Manager) Sign(id Identity) (string, error) {
	now := time.Now()
	claims := &Claims{
		Roles:        id.Roles,
		CommunityIDs: id.CommunityIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of a token and returns the identity
// it carries. All failures map to ErrInvalidToken so callers don't have to
// distinguish jwt library error variants.
func (m *Manager) Verify(tokenString string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		UserID:       claims.Subject,
		Roles:        claims.Roles,
		CommunityIDs: claims.CommunityIDs,
	}, nil
}
