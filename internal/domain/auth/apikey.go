// Package auth authenticates API keys. Keys are stored as hex HMAC-SHA256
// digests under a server-side pepper, never in plain text.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain"
)

// ScopeOrdersAdmin allows changing the status of any order and reading
// orders of other users.
const ScopeOrdersAdmin = "orders:admin"

var (
	// ErrKeyNotFound is returned by Repository.FindByHash for unknown or
	// inactive keys.
	ErrKeyNotFound = domain.NewError(domain.KindUnauthenticated, "API_KEY_NOT_FOUND", "api key not found")
	// ErrUnauthenticated is returned for a missing or rejected key.
	ErrUnauthenticated = domain.NewError(domain.KindUnauthenticated, "UNAUTHENTICATED", "unauthorized")
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key grants scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Authenticator verifies raw API keys against the repository.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator returns an Authenticator hashing keys with pepper.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Hash returns the hex HMAC-SHA256 digest stored for key.
func Hash(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate returns the key's info, or ErrUnauthenticated. Lookup
// failures other than an unknown key are returned wrapped.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrUnauthenticated
	}
	hash := Hash(a.pepper, key)

	info, err := a.keys.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, errors.Wrap(err, "find api key")
	}

	// The stored digest must match what we computed, not merely be found.
	want, _ := hex.DecodeString(hash)
	got, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(want, got) != 1 {
		return nil, ErrUnauthenticated
	}
	return info, nil
}
