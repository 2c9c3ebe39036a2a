// Package auth resolves the caller of a request from a session token.
// Sessions are issued elsewhere; this package only verifies them.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/garagehq/garage/pkg/config"
)

// Caller is an authenticated identity
type Caller struct {
	ID   int64
	Role string
}

// Claims is the session token payload. Subject carries the user id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Resolver verifies HS256 session tokens from a bearer header or a cookie
type Resolver struct {
	secret     []byte
	cookieName string
}

// NewResolver creates a resolver. An empty secret resolves every request as anonymous.
func NewResolver(cfg config.AuthConfig) *Resolver {
	return &Resolver{secret: []byte(cfg.JWTSecret), cookieName: cfg.CookieName}
}

// Resolve returns the caller for the request headers, or nil for anonymous.
// Invalid and expired tokens are treated as anonymous.
func (r *Resolver) Resolve(headers http.Header) *Caller {
	if len(r.secret) == 0 {
		return nil
	}
	raw := r.tokenFrom(headers)
	if raw == "" {
		return nil
	}
	caller, err := r.parse(raw)
	if err != nil {
		return nil
	}
	return caller
}

func (r *Resolver) tokenFrom(headers http.Header) string {
	if h := headers.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if r.cookieName == "" {
		return ""
	}
	req := http.Request{Header: headers}
	if c, err := req.Cookie(r.cookieName); err == nil {
		return c.Value
	}
	return ""
}

func (r *Resolver) parse(raw string) (*Caller, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return nil, errors.New("invalid subject")
	}
	return &Caller{ID: id, Role: claims.Role}, nil
}

// Issue signs a session token for caller valid for ttl
func (r *Resolver) Issue(caller Caller, ttl time.Duration) (string, error) {
	if len(r.secret) == 0 {
		return "", errors.New("auth secret is not configured")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: caller.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(caller.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}
