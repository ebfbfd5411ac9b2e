// Package auth verifies the tokens the agent accepts and turns them into the
// identity a session is created with.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Common auth errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoUser       = errors.New("token carries no user")
)

// Role distinguishes exam takers from staff watching the live monitor.
type Role string

const (
	RoleStudent Role = "student"
	RoleProctor Role = "proctor"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	Role   Role   `json:"role"`
	UserID int    `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// Identity is the current user, handed to a session at construction.
type Identity struct {
	UserID  int
	Name    string
	Role    Role
	TokenID string
}

// Verifier signs and validates HS256 tokens with a shared secret.
type Verifier struct {
	secret []byte
	ttl    time.Duration
}

// NewVerifier creates a Verifier. ttl bounds tokens produced by Issue.
func NewVerifier(secret string, ttl time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for id. The PHP backend issues production tokens; this
// is used by tooling and tests.
func (v *Verifier) Issue(id Identity) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strconv.Itoa(id.UserID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
		Role:   id.Role,
		UserID: id.UserID,
		Name:   id.Name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token and returns the identity it carries.
func (v *Verifier) Verify(tokenStr string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID <= 0 {
		return nil, ErrNoUser
	}

	role := claims.Role
	if role == "" {
		role = RoleStudent
	}
	return &Identity{
		UserID:  claims.UserID,
		Name:    claims.Name,
		Role:    role,
		TokenID: claims.ID,
	}, nil
}
