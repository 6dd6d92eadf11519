package gate

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is returned by a KeyStore when no key matches the secret.
	ErrKeyNotFound = errors.New("api key not found")
	// ErrKeyInactive is returned by a KeyStore, together with the key, when the key has been revoked.
	ErrKeyInactive = errors.New("api key inactive")
	// ErrStoreUnavailable marks a failure of the durable store behind the gate.
	ErrStoreUnavailable = errors.New("gate store unavailable")
)

// Key is the view of an API key the gate works with.
type Key struct {
	ID          string
	Name        string
	Permissions []string
	RateLimit   int
	Active      bool
}

// KeyStore resolves a presented secret to a key.
//
// Lookup returns ErrKeyNotFound for unknown secrets and ErrKeyInactive for revoked keys.
// Any other error is treated as the store being unavailable.
type KeyStore interface {
	Lookup(ctx context.Context, secret string) (*Key, error)
}
