package gateway

import (
	"crypto/subtle"

	"agora/internal/domain"
)

// Authenticator validates incoming gateway connections.
type Authenticator interface {
	Authenticate(token string) error
}

// OpenAuth admits every connection. The reference protocol carries no
// credentials; token auth is opt-in via configuration.
type OpenAuth struct{}

func (OpenAuth) Authenticate(string) error { return nil }

// StaticTokenAuth authenticates clients against a static token list using
// constant-time comparison to prevent timing attacks.
type StaticTokenAuth struct {
	tokens [][]byte
}

// NewStaticTokenAuth builds an authenticator from the configured tokens.
func NewStaticTokenAuth(tokens []string) *StaticTokenAuth {
	a := &StaticTokenAuth{tokens: make([][]byte, len(tokens))}
	for i, t := range tokens {
		a.tokens[i] = []byte(t)
	}
	return a
}

// Authenticate reports whether the token matches any configured entry.
func (a *StaticTokenAuth) Authenticate(token string) error {
	raw := []byte(token)
	for _, t := range a.tokens {
		if subtle.ConstantTimeCompare(raw, t) == 1 {
			return nil
		}
	}
	return domain.NewDomainError("gateway.Authenticate", domain.ErrAuthFailed, "unknown token")
}
