// Package auth validates API keys for the gating API.
package auth

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrMissingAPIKey   = errors.New("missing authorization header")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrAuthUnavailable = errors.New("authentication backend unavailable")
)

// KeyPrefix is the required prefix of issued API keys.
const KeyPrefix = "msk_"

// ClientContext holds the authenticated caller's identity.
type ClientContext struct {
	ClientID string
	Role     string // "agent" or "admin"
}

// Authenticator validates a bearer token and returns the caller context.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*ClientContext, error)
}

// ExtractBearer pulls the token out of an Authorization header value.
// RFC 6750: the "Bearer" scheme is case-insensitive.
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAPIKey
	}
	token := header
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = token[7:]
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingAPIKey
	}
	return token, nil
}

// StaticAuthenticator validates keys against a fixed map loaded from
// configuration. Suited to local development and single-tenant installs.
type StaticAuthenticator struct {
	clients map[string]ClientContext // api key -> client
}

// NewStaticAuthenticator builds an authenticator over config-provided
// keys. Keys without the msk_ prefix are rejected at auth time, not here.
func NewStaticAuthenticator(clients map[string]ClientContext) *StaticAuthenticator {
	if clients == nil {
		clients = map[string]ClientContext{}
	}
	return &StaticAuthenticator{clients: clients}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, token string) (*ClientContext, error) {
	if !strings.HasPrefix(token, KeyPrefix) {
		return nil, ErrInvalidAPIKey
	}
	client, ok := a.clients[token]
	if !ok {
		return nil, ErrInvalidAPIKey
	}
	cp := client
	return &cp, nil
}
