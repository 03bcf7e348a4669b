package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// APIKeyConfig configures the API key authenticator.
type APIKeyConfig struct {
	// HeaderName is the header containing the API key.
	// Default: "X-API-Key"
	HeaderName string
}

// APIKeyAuthenticator resolves API keys against a set of registered keys.
// Keys are held as SHA-256 digests only.
type APIKeyAuthenticator struct {
	header string

	mu   sync.RWMutex
	keys map[string]Identity
}

// NewAPIKeyAuthenticator creates an authenticator without registered keys.
func NewAPIKeyAuthenticator(config APIKeyConfig) *APIKeyAuthenticator {
	if config.HeaderName == "" {
		config.HeaderName = "X-API-Key"
	}
	return &APIKeyAuthenticator{
		header: config.HeaderName,
		keys:   make(map[string]Identity),
	}
}

// HashAPIKey returns the hex SHA-256 digest of key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Register associates key with id. Registering a key again replaces it.
func (a *APIKeyAuthenticator) Register(key string, id Identity) {
	a.RegisterHash(HashAPIKey(key), id)
}

// RegisterHash associates an already hashed key with id.
func (a *APIKeyAuthenticator) RegisterHash(hash string, id Identity) {
	id.Method = AuthMethodAPIKey
	a.mu.Lock()
	a.keys[strings.ToLower(hash)] = id
	a.mu.Unlock()
}

// Revoke removes key.
func (a *APIKeyAuthenticator) Revoke(key string) {
	a.mu.Lock()
	delete(a.keys, HashAPIKey(key))
	a.mu.Unlock()
}

// Name returns "api_key".
func (a *APIKeyAuthenticator) Name() string {
	return "api_key"
}

// Supports returns true if the request contains an API key header.
func (a *APIKeyAuthenticator) Supports(_ context.Context, req *AuthRequest) bool {
	return req.GetHeader(a.header) != ""
}

// Authenticate looks up the key digest.
func (a *APIKeyAuthenticator) Authenticate(_ context.Context, req *AuthRequest) (*AuthResult, error) {
	key := strings.TrimSpace(req.GetHeader(a.header))
	if key == "" {
		return AuthFailure(ErrMissingCredentials, a.Name()), nil
	}

	a.mu.RLock()
	id, ok := a.keys[HashAPIKey(key)]
	a.mu.RUnlock()
	if !ok {
		return AuthFailure(ErrUnknownKey, a.Name()), nil
	}

	id.Roles = append([]string(nil), id.Roles...)
	return AuthSuccess(&id), nil
}

var _ Authenticator = (*APIKeyAuthenticator)(nil)
